package plugin

import (
	"context"
	"time"

	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/metrics"
	"simmgate-aigateway/pkg/logging/logging"

	"go.uber.org/zap"
)

// Admitter decides whether a user may call an adapter right now.
type Admitter interface {
	Admit(adapter, userID string) bool
}

// Output is what a backend produced on a cache miss. Blob adapters fill
// Blob with the raw artifact; Payload is always the client-facing result.
type Output struct {
	Payload map[string]any
	Blob    cache.Blob
}

// Stages are the adapter-specific steps the pipeline calls in order.
type Stages interface {
	// Normalize fills declared defaults; the result is what gets fingerprinted.
	Normalize(params map[string]any) map[string]any
	// Cacheable reports whether this request may be read from or written to the cache.
	Cacheable(params map[string]any) bool
	Validate(params map[string]any) *Error
	// Call performs the backend round trip(s). ctx carries the adapter timeout.
	Call(ctx context.Context, params map[string]any) (Output, *Error)
	// FromBlob renders a client payload from a cached artifact.
	FromBlob(params map[string]any, blob cache.Blob) map[string]any
}

type PipelineConfig struct {
	Name    string
	Storage Storage
	Timeout time.Duration
}

// Pipeline runs the invocation sequence shared by every adapter:
// admission, fingerprint, cache probe, validation, backend call, write-through.
type Pipeline struct {
	cfg     PipelineConfig
	limiter Admitter
	cache   *cache.Manager
}

func NewPipeline(cfg PipelineConfig, limiter Admitter, manager *cache.Manager) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Storage == "" {
		cfg.Storage = StorageStructured
	}
	return &Pipeline{cfg: cfg, limiter: limiter, cache: manager}
}

// Run executes one request. Backend calls are detached from the caller's
// cancellation and bounded only by the adapter timeout.
func (p *Pipeline) Run(ctx context.Context, req Request, st Stages) Result {
	start := time.Now()
	name := p.cfg.Name
	logger := logging.L(ctx).With(
		zap.String("adapter", name),
		zap.String("user_id", req.UserID),
	)

	if !p.limiter.Admit(name, req.UserID) {
		metrics.RateLimitedTotal.WithLabelValues(name).Inc()
		logger.Warn("rate_limited")
		return Failure(NewError(KindRateLimited, TypeRateLimit, "Rate limit exceeded for %s", name))
	}

	params := st.Normalize(cloneParams(req.Params))

	fp, err := cache.BuildFingerprint(params, req.UserID)
	if err != nil {
		logger.Warn("fingerprint_error", zap.Error(err))
		return Failure(ValidationError(TypeInvalidInput, "request parameters are not serialisable: %v", err))
	}

	cacheable := st.Cacheable(params)
	if cacheable && !req.ForceRefresh {
		if data, ok := p.probe(ctx, fp, params, st); ok {
			logger.Info("cache_decision",
				zap.String("fingerprint", fp.Short()),
				zap.Bool("cache_hit", true),
				zap.Duration("total_latency_ms", time.Since(start)),
			)
			return Success(data, true)
		}
	}

	if verr := st.Validate(params); verr != nil {
		logger.Info("validation_failed", zap.String("error_type", verr.Type))
		return Failure(verr)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Timeout)
	defer cancel()

	backendStart := time.Now()
	out, cerr := st.Call(callCtx, params)
	backendLatency := time.Since(backendStart)
	metrics.BackendLatencySeconds.WithLabelValues(name).Observe(backendLatency.Seconds())

	if cerr != nil {
		metrics.BackendCallsTotal.WithLabelValues(name, string(cerr.Kind)).Inc()
		logger.Error("backend_call_failed",
			zap.String("error_type", cerr.Type),
			zap.String("error", cerr.Message),
			zap.Duration("backend_latency_ms", backendLatency),
		)
		return Failure(cerr)
	}
	metrics.BackendCallsTotal.WithLabelValues(name, "ok").Inc()

	if cacheable {
		p.writeThrough(context.WithoutCancel(ctx), fp, params, req.UserID, out)
	}

	logger.Info("cache_decision",
		zap.String("fingerprint", fp.Short()),
		zap.Bool("cache_hit", false),
		zap.Bool("force_refresh", req.ForceRefresh),
		zap.Bool("cacheable", cacheable),
		zap.Duration("backend_latency_ms", backendLatency),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	return Success(out.Payload, false)
}

func (p *Pipeline) probe(ctx context.Context, fp cache.Fingerprint, params map[string]any, st Stages) (map[string]any, bool) {
	switch p.cfg.Storage {
	case StorageBlob:
		blob, ok := p.cache.GetBlob(ctx, p.cfg.Name, fp)
		if !ok {
			return nil, false
		}
		return st.FromBlob(params, blob), true
	default:
		return p.cache.GetStructured(ctx, p.cfg.Name, fp)
	}
}

func (p *Pipeline) writeThrough(ctx context.Context, fp cache.Fingerprint, params map[string]any, userID string, out Output) {
	switch p.cfg.Storage {
	case StorageBlob:
		if len(out.Blob.Data) == 0 {
			return
		}
		p.cache.PutBlob(ctx, p.cfg.Name, fp, out.Blob)
	default:
		p.cache.PutStructured(ctx, p.cfg.Name, fp, params, out.Payload, userID)
	}
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
