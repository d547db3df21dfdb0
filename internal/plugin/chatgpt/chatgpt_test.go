package chatgpt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/llm"
	"simmgate-aigateway/internal/plugin"
	"simmgate-aigateway/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	mu       sync.Mutex
	requests []*llm.ChatRequest
	err      error
	modelErr error
}

func (f *fakeLLM) ChatCompletion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Choices: []llm.ChatChoice{{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: "salam"}}},
		Usage:   &llm.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}, nil
}

func (f *fakeLLM) ListModels(context.Context) ([]string, error) {
	if f.modelErr != nil {
		return nil, f.modelErr
	}
	return []string{DefaultModel}, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestPlugin(t *testing.T, client *fakeLLM) (*Plugin, *cache.MemoryStructuredStore) {
	t.Helper()
	structured := cache.NewMemoryStructuredStore()
	m := cache.NewManager(structured, cache.NewMemoryBlobStore(), true)
	require.NoError(t, m.EnsurePartitions(context.Background(), Name))

	p, err := New(Config{Timeout: time.Second}, client, ratelimit.NewSlidingWindow(20), m)
	require.NoError(t, err)
	return p, structured
}

func TestTwoIdenticalRequestsCallBackendOnce(t *testing.T) {
	client := &fakeLLM{}
	p, structured := newTestPlugin(t, client)
	ctx := context.Background()

	req := plugin.Request{
		Params: map[string]any{"prompt": "hello", "context": "translate", "to_lang": "Persian"},
		UserID: "u1",
	}

	first := p.Process(ctx, req)
	require.True(t, first.OK(), "%v", first.Err)
	assert.False(t, first.FromCache)
	assert.Equal(t, "salam", first.Data["response"])
	assert.Equal(t, "translate", first.Data["context_used"])
	assert.Equal(t, DefaultModel, first.Data["model"])

	second := p.Process(ctx, req)
	require.True(t, second.OK())
	assert.True(t, second.FromCache)
	assert.Equal(t, "salam", second.Data["response"])

	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, structured.Len(Name))
}

func TestDefaultsAndPlaceholdersReachTheBackend(t *testing.T) {
	client := &fakeLLM{}
	p, _ := newTestPlugin(t, client)

	res := p.Process(context.Background(), plugin.Request{
		Params: map[string]any{"prompt": "hello", "context": "translate"},
		UserID: "u1",
	})
	require.True(t, res.OK())

	req := client.requests[0]
	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, 2000, req.MaxTokens)
	assert.InDelta(t, 0.7, req.Temperature, 0.0001)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "from English to Persian")
	assert.NotContains(t, req.Messages[0].Content, "{")
	assert.Equal(t, "hello", req.Messages[1].Content)
}

func TestUnknownContextFallsBackToText(t *testing.T) {
	client := &fakeLLM{}
	p, _ := newTestPlugin(t, client)

	res := p.Process(context.Background(), plugin.Request{
		Params: map[string]any{"prompt": "hello", "context": "does-not-exist"},
		UserID: "u1",
	})
	require.True(t, res.OK())
	assert.Equal(t, DefaultContext, res.Data["context_used"])
}

func TestMissingPrompt(t *testing.T) {
	client := &fakeLLM{}
	p, _ := newTestPlugin(t, client)

	res := p.Process(context.Background(), plugin.Request{Params: map[string]any{"prompt": "  "}, UserID: "u1"})
	require.False(t, res.OK())
	assert.Equal(t, plugin.KindValidation, res.Err.Kind)
	assert.Equal(t, plugin.TypeMissingPrompt, res.Err.Type)
	assert.Zero(t, client.calls())
}

func TestImageContextRequiresImageAndIsNotCached(t *testing.T) {
	client := &fakeLLM{}
	p, structured := newTestPlugin(t, client)
	ctx := context.Background()

	res := p.Process(ctx, plugin.Request{Params: map[string]any{"context": "imagecsv"}, UserID: "u1"})
	require.False(t, res.OK())
	assert.Equal(t, plugin.TypeMissingImage, res.Err.Type)

	req := plugin.Request{
		Params: map[string]any{"context": "imagecsv", "image_data": "data:image/png;base64,AAAA"},
		UserID: "u1",
	}
	for i := 0; i < 2; i++ {
		res = p.Process(ctx, req)
		require.True(t, res.OK())
		assert.False(t, res.FromCache)
	}
	assert.Equal(t, 2, client.calls())
	assert.Zero(t, structured.Len(Name))

	user := client.requests[0].Messages[1]
	require.Len(t, user.Parts, 2)
	assert.Equal(t, "Analyze this image", user.Parts[0].Text)
	assert.Equal(t, "data:image/png;base64,AAAA", user.Parts[1].ImageURL.URL)
}

func TestUpstreamErrorIsBackendErrorAndNotCached(t *testing.T) {
	client := &fakeLLM{err: &llm.UpstreamError{StatusCode: 500, Message: "boom"}}
	p, structured := newTestPlugin(t, client)

	res := p.Process(context.Background(), plugin.Request{Params: map[string]any{"prompt": "hi"}, UserID: "u1"})
	require.False(t, res.OK())
	assert.Equal(t, plugin.KindBackend, res.Err.Kind)
	assert.Equal(t, plugin.TypeAPIError, res.Err.Type)
	assert.Equal(t, 500, res.Err.Details["upstream_status"])
	assert.Zero(t, structured.Len(Name))
}

func TestDeadlineIsTimeout(t *testing.T) {
	client := &fakeLLM{err: context.DeadlineExceeded}
	p, _ := newTestPlugin(t, client)

	res := p.Process(context.Background(), plugin.Request{Params: map[string]any{"prompt": "hi"}, UserID: "u1"})
	require.False(t, res.OK())
	assert.Equal(t, plugin.KindTimeout, res.Err.Kind)
	assert.Equal(t, plugin.TypeTimeout, res.Err.Type)
}

func TestHealthCheck(t *testing.T) {
	p, _ := newTestPlugin(t, &fakeLLM{})
	h := p.HealthCheck(context.Background())
	assert.Equal(t, plugin.StatusHealthy, h.Status)
	assert.Equal(t, 4, h.Details["contexts_loaded"])

	p, _ = newTestPlugin(t, &fakeLLM{modelErr: errors.New("401 unauthorized")})
	h = p.HealthCheck(context.Background())
	assert.Equal(t, plugin.StatusUnhealthy, h.Status)
	assert.Contains(t, h.Error, "401")
}

func TestLoadCatalogueFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contexts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
text:
  prompt: "Be brief."
  cacheable: true
poem:
  prompt: "Write a poem in {to_lang}."
`), 0o600))

	cat, err := LoadCatalogue(path)
	require.NoError(t, err)
	name, c := cat.Resolve("poem")
	assert.Equal(t, "poem", name)
	assert.False(t, c.Cacheable)
	assert.Equal(t, "Write a poem in French.", c.SystemPrompt("English", "French"))

	_, err = ParseCatalogue([]byte("poem:\n  prompt: x\n"))
	assert.Error(t, err)
}
