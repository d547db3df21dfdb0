// Package plugin defines the adapter contract every AI backend implements and
// the shared request pipeline (admission, fingerprint, cache, backend call).
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Request is one invocation of an adapter.
type Request struct {
	Params       map[string]any
	UserID       string
	ForceRefresh bool
}

// Plugin is implemented by every backend adapter.
type Plugin interface {
	Name() string
	Process(ctx context.Context, req Request) Result
	HealthCheck(ctx context.Context) Health
	Describe() Description
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type Health struct {
	Status  string         `json:"status"`
	Model   string         `json:"model,omitempty"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func Healthy(model string, details map[string]any) Health {
	return Health{Status: StatusHealthy, Model: model, Details: details}
}

func Unhealthy(model string, err error) Health {
	return Health{Status: StatusUnhealthy, Model: model, Error: err.Error()}
}

// Storage says which cache store holds an adapter's artifacts.
type Storage string

const (
	StorageStructured Storage = "structured"
	StorageBlob       Storage = "blob"
)

type Description struct {
	Name      string   `json:"name"`
	Model     string   `json:"model"`
	Storage   Storage  `json:"storage"`
	RateLimit int      `json:"rate_limit_per_minute"`
	Features  []string `json:"features"`
}

// Registry maps adapter names to adapters. It is filled at start-up and
// only read afterwards.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.Name()]; exists {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	r.plugins[p.Name()] = p
	return nil
}

func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the registered adapters sorted by name.
func (r *Registry) List() []Plugin {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(names))
	for _, name := range names {
		out = append(out, r.plugins[name])
	}
	return out
}
