// Package chatgpt is the text adapter. It sends a context-selected system
// prompt plus the user prompt (or an image) to an OpenAI-compatible API and
// caches answers in the structured store.
package chatgpt

import (
	"context"
	"errors"
	"time"

	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/llm"
	"simmgate-aigateway/internal/plugin"
)

const (
	Name         = "chatgpt"
	DefaultModel = "gpt-4o-mini"
)

type Config struct {
	Model     string
	Timeout   time.Duration
	RateLimit int
	// ContextsFile overrides the embedded context catalogue.
	ContextsFile string
}

type Plugin struct {
	cfg      Config
	client   llm.Client
	contexts Catalogue
	pipeline *plugin.Pipeline
}

var _ plugin.Plugin = (*Plugin)(nil)

func New(cfg Config, client llm.Client, limiter plugin.Admitter, manager *cache.Manager) (*Plugin, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if client == nil {
		return nil, errors.New("chatgpt: llm client is required")
	}

	contexts, err := LoadCatalogue(cfg.ContextsFile)
	if err != nil {
		return nil, err
	}

	return &Plugin{
		cfg:      cfg,
		client:   client,
		contexts: contexts,
		pipeline: plugin.NewPipeline(plugin.PipelineConfig{
			Name:    Name,
			Storage: plugin.StorageStructured,
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
		Storage:   plugin.StorageStructured,
		RateLimit: p.cfg.RateLimit,
		Features:  []string{"text", "translation", "image_analysis", "contexts"},
	}
}

func (p *Plugin) HealthCheck(ctx context.Context) plugin.Health {
	if _, err := p.client.ListModels(ctx); err != nil {
		return plugin.Unhealthy(p.cfg.Model, err)
	}
	return plugin.Healthy(p.cfg.Model, map[string]any{"contexts_loaded": len(p.contexts)})
}

func (p *Plugin) Normalize(params map[string]any) map[string]any {
	return plugin.WithDefaults(params, map[string]any{
		"context":     DefaultContext,
		"from_lang":   "English",
		"to_lang":     "Persian",
		"max_tokens":  2000,
		"temperature": 0.7,
	})
}

func (p *Plugin) Cacheable(params map[string]any) bool {
	_, c := p.contexts.Resolve(plugin.String(params, "context"))
	return c.Cacheable
}

func (p *Plugin) Validate(params map[string]any) *plugin.Error {
	name, c := p.contexts.Resolve(plugin.String(params, "context"))
	if c.RequiresImage {
		if plugin.String(params, "image_data") == "" {
			return plugin.ValidationError(plugin.TypeMissingImage, "Image data required for %s context", name)
		}
		return nil
	}
	if plugin.String(params, "prompt") == "" {
		return plugin.ValidationError(plugin.TypeMissingPrompt, "Prompt is required")
	}
	return nil
}

func (p *Plugin) Call(ctx context.Context, params map[string]any) (plugin.Output, *plugin.Error) {
	name, c := p.contexts.Resolve(plugin.String(params, "context"))
	system := c.SystemPrompt(
		plugin.StringOr(params, "from_lang", "English"),
		plugin.StringOr(params, "to_lang", "Persian"),
	)

	user := llm.ChatMessage{Role: llm.RoleUser, Content: plugin.String(params, "prompt")}
	if c.RequiresImage {
		user = llm.ChatMessage{
			Role: llm.RoleUser,
			Parts: []llm.ContentPart{
				llm.TextPart(plugin.StringOr(params, "prompt", "Analyze this image")),
				llm.ImagePart(plugin.String(params, "image_data")),
			},
		}
	}

	resp, err := p.client.ChatCompletion(ctx, &llm.ChatRequest{
		Model: p.cfg.Model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: system},
			user,
		},
		MaxTokens:   plugin.Int(params, "max_tokens", 2000),
		Temperature: float32(plugin.Float(params, "temperature", 0.7)),
	})
	if err != nil {
		return plugin.Output{}, classify(err)
	}

	usage := map[string]any{"prompt_tokens": 0, "completion_tokens": 0, "total_tokens": 0}
	if resp.Usage != nil {
		usage = map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}

	return plugin.Output{Payload: map[string]any{
		"response":     resp.Choices[0].Message.Content,
		"model":        p.cfg.Model,
		"usage":        usage,
		"context_used": name,
	}}, nil
}

// FromBlob is never reached: text answers live in the structured store.
func (p *Plugin) FromBlob(map[string]any, cache.Blob) map[string]any { return nil }

func classify(err error) *plugin.Error {
	var up *llm.UpstreamError
	if errors.As(err, &up) {
		return plugin.BackendError(plugin.TypeAPIError, "OpenAI API error: %s", up.Message).
			WithDetail("upstream_status", up.StatusCode)
	}
	return plugin.ClassifyCallError("OpenAI API", err)
}
