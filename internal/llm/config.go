package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"simmgate-aigateway/internal/httpclient"
)

// DefaultUpstreamTimeout bounds one completion when Config leaves it unset.
const DefaultUpstreamTimeout = 30 * time.Second

type Config struct {
	BaseURL string
	APIKey  string

	// UpstreamTimeout bounds every call. Calls are never retried.
	UpstreamTimeout time.Duration

	Pool httpclient.Pool

	// HTTPClient replaces the pooled client, e.g. in tests.
	HTTPClient *http.Client
}

// normalize trims the base URL, fills the timeout and reports missing credentials.
func (c Config) normalize() (Config, error) {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}

	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("API key is required"))
	}
	return c, errors.Join(errs...)
}

type client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a chat completions client for an OpenAI-compatible API.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid llm config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpclient.New(cfg.Pool)
	}
	return &client{cfg: cfg, httpClient: hc, logger: logger.Named("llmclient")}, nil
}

// Close drops idle provider connections.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
