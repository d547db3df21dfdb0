// Package dispatch routes authenticated requests to adapters and owns the
// service-level operations around them: cache clearing, listings and health.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"simmgate-aigateway/internal/auth"
	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/plugin"
	"simmgate-aigateway/pkg/logging/logging"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultForceRefreshHeader = "X-Force-Refresh"

// Check probes a shared dependency such as the database.
type Check func(ctx context.Context) error

type Options struct {
	Registry           *plugin.Registry
	Cache              *cache.Manager
	ForceRefreshHeader string
	// HealthTimeout bounds every adapter probe. Default 10s.
	HealthTimeout time.Duration
	// Checks are reported by Health next to the adapters, keyed by name.
	Checks map[string]Check
}

// Dispatcher is the service context shared by every transport.
type Dispatcher struct {
	registry      *plugin.Registry
	cache         *cache.Manager
	header        string
	healthTimeout time.Duration
	checks        map[string]Check
}

func New(opts Options) *Dispatcher {
	if opts.Registry == nil {
		opts.Registry = plugin.NewRegistry()
	}
	if opts.ForceRefreshHeader == "" {
		opts.ForceRefreshHeader = DefaultForceRefreshHeader
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 10 * time.Second
	}
	return &Dispatcher{
		registry:      opts.Registry,
		cache:         opts.Cache,
		header:        opts.ForceRefreshHeader,
		healthTimeout: opts.HealthTimeout,
		checks:        opts.Checks,
	}
}

func (d *Dispatcher) Registry() *plugin.Registry { return d.registry }

// ForceRefresh reports whether the configured header carries a truthy value.
// Header names are matched case-insensitively; values "true", "1" and "yes"
// are truthy in any case.
func (d *Dispatcher) ForceRefresh(h http.Header) bool {
	switch strings.ToLower(strings.TrimSpace(h.Get(d.header))) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Handle runs one adapter invocation for id. A panic inside the adapter is
// logged and returned as an internal error.
func (d *Dispatcher) Handle(ctx context.Context, name string, params map[string]any, id auth.Identity, h http.Header) (res plugin.Result) {
	p, ok := d.registry.Get(name)
	if !ok {
		return plugin.Failure(plugin.NotFoundError("Plugin %s not found", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			logging.L(ctx).Error("plugin_panic",
				zap.String("adapter", name),
				zap.String("user_id", id.UserID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
			res = plugin.Failure(plugin.InternalError("Internal server error: %v", rec))
		}
	}()

	return p.Process(ctx, plugin.Request{
		Params:       params,
		UserID:       id.UserID,
		ForceRefresh: d.ForceRefresh(h),
	})
}

// ClearCache removes cached entries of one adapter. An empty targetUser
// clears the whole adapter and is reserved for admins; otherwise callers may
// clear only their own entries unless they are admins.
func (d *Dispatcher) ClearCache(ctx context.Context, name string, id auth.Identity, targetUser string) *plugin.Error {
	if _, ok := d.registry.Get(name); !ok {
		return plugin.NotFoundError("Plugin %s not found", name)
	}
	if targetUser == "" && !id.IsAdmin() {
		return plugin.ForbiddenError("Admin access required")
	}
	if targetUser != "" && targetUser != id.UserID && !id.IsAdmin() {
		return plugin.ForbiddenError("Access denied")
	}
	if d.cache == nil {
		return nil
	}

	if err := d.cache.Clear(ctx, name, targetUser); err != nil {
		return plugin.InternalError("Failed to clear cache: %v", err)
	}
	logging.L(ctx).Info("cache_cleared",
		zap.String("adapter", name),
		zap.String("target_user", targetUser),
		zap.String("requested_by", id.UserID),
	)
	return nil
}

// PluginStatus is one entry of the adapter listing.
type PluginStatus struct {
	plugin.Description
	Health plugin.Health `json:"health"`
}

// Plugins describes every adapter together with a fresh health probe.
func (d *Dispatcher) Plugins(ctx context.Context) []PluginStatus {
	health := d.probeAll(ctx)

	plugins := d.registry.List()
	out := make([]PluginStatus, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, PluginStatus{Description: p.Describe(), Health: health[p.Name()]})
	}
	return out
}

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

type HealthReport struct {
	Status       string                   `json:"status"`
	Timestamp    time.Time                `json:"timestamp"`
	CacheEnabled bool                     `json:"cache_enabled"`
	Plugins      map[string]plugin.Health `json:"plugins"`
	Checks       map[string]string        `json:"checks,omitempty"`
}

// Health probes adapters and shared dependencies concurrently. The report is
// degraded when anything is unhealthy.
func (d *Dispatcher) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		CacheEnabled: d.cache != nil && d.cache.Enabled(),
	}

	var checks map[string]string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		checks = d.runChecks(ctx)
	}()
	report.Plugins = d.probeAll(ctx)
	wg.Wait()

	if len(checks) > 0 {
		report.Checks = checks
	}
	for _, h := range report.Plugins {
		if h.Status != plugin.StatusHealthy {
			report.Status = StatusDegraded
		}
	}
	for _, s := range checks {
		if s != StatusHealthy {
			report.Status = StatusDegraded
		}
	}
	return report
}

func (d *Dispatcher) probeAll(ctx context.Context) map[string]plugin.Health {
	plugins := d.registry.List()
	results := make([]plugin.Health, len(plugins))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range plugins {
		i, p := i, p
		g.Go(func() error {
			results[i] = d.probe(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]plugin.Health, len(plugins))
	for i, p := range plugins {
		out[p.Name()] = results[i]
	}
	return out
}

func (d *Dispatcher) probe(ctx context.Context, p plugin.Plugin) (h plugin.Health) {
	ctx, cancel := context.WithTimeout(ctx, d.healthTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			logging.L(ctx).Error("health_check_panic", zap.String("adapter", p.Name()), zap.Any("panic", rec))
			h = plugin.Unhealthy(p.Describe().Model, fmt.Errorf("health check panicked: %v", rec))
		}
	}()
	return p.HealthCheck(ctx)
}

func (d *Dispatcher) runChecks(ctx context.Context) map[string]string {
	names := make([]string, 0, len(d.checks))
	for name := range d.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i := i
		check := d.checks[name]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, d.healthTimeout)
			defer cancel()
			if err := check(cctx); err != nil {
				results[i] = "unhealthy: " + err.Error()
				return nil
			}
			results[i] = StatusHealthy
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(names))
	for i, name := range names {
		out[name] = results[i]
	}
	return out
}
