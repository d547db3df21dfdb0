// Package flux is the image adapter for a self-hosted Flux 1 Schnell server.
// Generated PNGs are cached in the blob store.
package flux

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/plugin"
	"simmgate-aigateway/pkg/logging/logging"

	"go.uber.org/zap"
)

const (
	Name         = "flux"
	DefaultModel = "flux-1-schnell"

	contentType = "image/png"
)

type Config struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	RateLimit int
	// HTTPClient is optional; the pooled default is used when nil.
	HTTPClient *http.Client
}

type Plugin struct {
	cfg      Config
	backend  plugin.HTTPBackend
	pipeline *plugin.Pipeline
}

var _ plugin.Plugin = (*Plugin)(nil)

func New(cfg Config, limiter plugin.Admitter, manager *cache.Manager) (*Plugin, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("flux: base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}

	return &Plugin{
		cfg:     cfg,
		backend: plugin.NewHTTPBackend(cfg.BaseURL, cfg.HTTPClient),
		pipeline: plugin.NewPipeline(plugin.PipelineConfig{
			Name:    Name,
			Storage: plugin.StorageBlob,
			Timeout: cfg.Timeout,
		}, limiter, manager),
	}, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Process(ctx context.Context, req plugin.Request) plugin.Result {
	return p.pipeline.Run(ctx, req, p)
}

func (p *Plugin) Describe() plugin.Description {
	return plugin.Description{
		Name:      Name,
		Model:     p.cfg.Model,
		Storage:   plugin.StorageBlob,
		RateLimit: p.cfg.RateLimit,
		Features:  []string{"text_to_image", "custom_size", "seed"},
	}
}

type serverStatus struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	ExternalURL string `json:"external_url"`
}

func (p *Plugin) HealthCheck(ctx context.Context) plugin.Health {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var st serverStatus
	if err := p.backend.GetJSON(ctx, "/", &st); err != nil {
		return plugin.Unhealthy(p.cfg.Model, err)
	}
	if st.Status == "" {
		st.Status = "unknown"
	}
	return plugin.Healthy(p.cfg.Model, map[string]any{
		"server_status": st.Status,
		"model_loaded":  st.ModelLoaded,
		"external_url":  st.ExternalURL,
	})
}

func (p *Plugin) Normalize(params map[string]any) map[string]any {
	return plugin.WithDefaults(params, map[string]any{
		"context":        "generate",
		"width":          1024,
		"height":         1024,
		"steps":          4,
		"guidance_scale": 7.5,
		"seed":           -1,
	})
}

func (p *Plugin) Cacheable(map[string]any) bool { return true }

func (p *Plugin) Validate(params map[string]any) *plugin.Error {
	if plugin.String(params, "prompt") == "" {
		return plugin.ValidationError(plugin.TypeMissingPrompt, "Prompt is required for image generation")
	}
	return nil
}

type generateRequest struct {
	Prompt            string  `json:"prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Seed              int64   `json:"seed"`
}

type generateResponse struct {
	ImageID        string   `json:"image_id"`
	GenerationTime *float64 `json:"generation_time"`
	Seed           *int64   `json:"seed"`
}

func (p *Plugin) Call(ctx context.Context, params map[string]any) (plugin.Output, *plugin.Error) {
	body := generateRequest{
		Prompt:            plugin.String(params, "prompt"),
		Width:             plugin.Int(params, "width", 1024),
		Height:            plugin.Int(params, "height", 1024),
		NumInferenceSteps: plugin.Int(params, "steps", 4),
		GuidanceScale:     plugin.Float(params, "guidance_scale", 7.5),
		Seed:              int64(plugin.Int(params, "seed", -1)),
	}

	var gen generateResponse
	if err := p.backend.PostJSON(ctx, "/generate", body, &gen); err != nil {
		logging.L(ctx).Error("flux generate failed", zap.Error(err))
		return plugin.Output{}, classify(err)
	}
	if gen.ImageID == "" {
		return plugin.Output{}, plugin.BackendError(plugin.TypeGenerationFailed, "Image generation failed")
	}

	data, err := p.backend.GetBytes(ctx, "/image/"+url.PathEscape(gen.ImageID))
	if err != nil {
		logging.L(ctx).Error("flux image retrieval failed",
			zap.String("image_id", gen.ImageID),
			zap.Error(err),
		)
		if plugin.IsTimeout(err) {
			return plugin.Output{}, plugin.TimeoutError("Image generation timeout")
		}
		return plugin.Output{}, plugin.BackendError(plugin.TypeImageRetrievalFailed, "Failed to retrieve generated image")
	}

	seed := body.Seed
	if gen.Seed != nil {
		seed = *gen.Seed
	}

	var genTime any
	if gen.GenerationTime != nil {
		genTime = *gen.GenerationTime
	}

	payload := p.render(body.Prompt, data)
	payload["generation_time"] = genTime
	payload["parameters"] = map[string]any{
		"width":          body.Width,
		"height":         body.Height,
		"steps":          body.NumInferenceSteps,
		"guidance_scale": body.GuidanceScale,
		"seed":           seed,
	}

	return plugin.Output{
		Payload: payload,
		Blob:    cache.Blob{Data: data, ContentType: contentType},
	}, nil
}

func (p *Plugin) FromBlob(params map[string]any, blob cache.Blob) map[string]any {
	return p.render(plugin.String(params, "prompt"), blob.Data)
}

func (p *Plugin) render(prompt string, data []byte) map[string]any {
	return map[string]any{
		"image":  plugin.DataURL(contentType, data),
		"model":  p.cfg.Model,
		"prompt": prompt,
		"format": "png",
	}
}

func classify(err error) *plugin.Error {
	if plugin.IsTimeout(err) {
		return plugin.TimeoutError("Image generation timeout")
	}
	return plugin.ClassifyCallError("Flux API", err)
}
