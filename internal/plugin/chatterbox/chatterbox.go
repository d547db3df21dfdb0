// Package chatterbox is the speech adapter for a self-hosted Chatterbox TTS
// server. Generated WAV files are cached in the blob store.
package chatterbox

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
	Name         = "chatterbox"
	DefaultModel = "chatterbox-tts"

	contentType = "audio/wav"
)

type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	RateLimit  int
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
		return nil, errors.New("chatterbox: base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
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
		Features:  []string{"text_to_speech", "multilingual", "emotions", "voice_cloning"},
	}
}

type serverStatus struct {
	Status       string `json:"status"`
	ModelsLoaded struct {
		English      bool `json:"english"`
		Multilingual bool `json:"multilingual"`
	} `json:"models_loaded"`
	SupportedLanguages []any  `json:"supported_languages"`
	EmotionPresets     []any  `json:"emotion_presets"`
	ExternalURL        string `json:"external_url"`
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
		"models_loaded": map[string]bool{
			"english":      st.ModelsLoaded.English,
			"multilingual": st.ModelsLoaded.Multilingual,
		},
		"supported_languages_count": len(st.SupportedLanguages),
		"emotion_presets_count":     len(st.EmotionPresets),
		"external_url":              st.ExternalURL,
	})
}

func (p *Plugin) Normalize(params map[string]any) map[string]any {
	return plugin.WithDefaults(params, map[string]any{
		"context":      "speak",
		"language":     "en",
		"emotion":      "neutral",
		"speed":        1.0,
		"exaggeration": 1.0,
		"seed":         -1,
	})
}

func (p *Plugin) Cacheable(map[string]any) bool { return true }

// Validate checks text, then language, then emotion.
func (p *Plugin) Validate(params map[string]any) *plugin.Error {
	if plugin.String(params, "text") == "" {
		return plugin.ValidationError(plugin.TypeMissingText, "Text is required for TTS generation")
	}
	if lang := plugin.String(params, "language"); !supportedLanguage(lang) {
		return plugin.ValidationError(plugin.TypeInvalidLanguage, "Unsupported language: %s", lang).
			WithDetail("supported_languages", LanguageCodes())
	}
	if emotion := plugin.String(params, "emotion"); !supportedEmotion(emotion) {
		return plugin.ValidationError(plugin.TypeInvalidEmotion, "Unsupported emotion: %s", emotion).
			WithDetail("supported_emotions", Emotions())
	}
	return nil
}

type generateRequest struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	Emotion         string  `json:"emotion"`
	Speed           float64 `json:"speed"`
	Exaggeration    float64 `json:"exaggeration"`
	Seed            int64   `json:"seed"`
	AudioPromptPath string  `json:"audio_prompt_path,omitempty"`
}

type generateResponse struct {
	AudioID        string   `json:"audio_id"`
	GenerationTime *float64 `json:"generation_time"`
	Seed           *int64   `json:"seed"`
}

func (p *Plugin) Call(ctx context.Context, params map[string]any) (plugin.Output, *plugin.Error) {
	body := generateRequest{
		Text:            plugin.String(params, "text"),
		Language:        plugin.String(params, "language"),
		Emotion:         plugin.String(params, "emotion"),
		Speed:           plugin.Float(params, "speed", 1.0),
		Exaggeration:    clamp(plugin.Float(params, "exaggeration", 1.0), 0, 2),
		Seed:            int64(plugin.Int(params, "seed", -1)),
		AudioPromptPath: plugin.String(params, "audio_prompt_path"),
	}

	endpoint := "/generate"
	if body.AudioPromptPath != "" {
		endpoint = "/generate-with-voice"
	}

	var gen generateResponse
	if err := p.backend.PostJSON(ctx, endpoint, body, &gen); err != nil {
		logging.L(ctx).Error("chatterbox generate failed", zap.String("endpoint", endpoint), zap.Error(err))
		return plugin.Output{}, classify(err)
	}
	if gen.AudioID == "" {
		return plugin.Output{}, plugin.BackendError(plugin.TypeGenerationFailed, "TTS generation failed")
	}

	data, err := p.backend.GetBytes(ctx, "/audio/"+url.PathEscape(gen.AudioID))
	if err != nil {
		logging.L(ctx).Error("chatterbox audio retrieval failed",
			zap.String("audio_id", gen.AudioID),
			zap.Error(err),
		)
		if plugin.IsTimeout(err) {
			return plugin.Output{}, plugin.TimeoutError("TTS generation timeout")
		}
		return plugin.Output{}, plugin.BackendError(plugin.TypeAudioRetrievalFailed, "Failed to retrieve generated audio")
	}

	seed := body.Seed
	if gen.Seed != nil {
		seed = *gen.Seed
	}
	var genTime any
	if gen.GenerationTime != nil {
		genTime = *gen.GenerationTime
	}

	payload := p.render(body.Text, body.Language, data)
	payload["emotion"] = body.Emotion
	payload["generation_time"] = genTime
	payload["parameters"] = map[string]any{
		"speed":        body.Speed,
		"exaggeration": body.Exaggeration,
		"seed":         seed,
	}
	if body.AudioPromptPath != "" {
		payload["voice_cloned"] = true
	}

	return plugin.Output{
		Payload: payload,
		Blob:    cache.Blob{Data: data, ContentType: contentType},
	}, nil
}

func (p *Plugin) FromBlob(params map[string]any, blob cache.Blob) map[string]any {
	return p.render(plugin.String(params, "text"), plugin.StringOr(params, "language", "en"), blob.Data)
}

func (p *Plugin) render(text, language string, data []byte) map[string]any {
	return map[string]any{
		"audio":    plugin.DataURL(contentType, data),
		"model":    p.cfg.Model,
		"text":     text,
		"language": language,
		"format":   "wav",
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func classify(err error) *plugin.Error {
	if plugin.IsTimeout(err) {
		return plugin.TimeoutError("TTS generation timeout")
	}
	return plugin.ClassifyCallError("Chatterbox API", err)
}
