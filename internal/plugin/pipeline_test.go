package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/ratelimit"
)

type fakeStages struct {
	calls     atomic.Int32
	cacheable bool
	validate  func(map[string]any) *Error
	call      func(context.Context, map[string]any) (Output, *Error)
}

func (f *fakeStages) Normalize(p map[string]any) map[string]any {
	return WithDefaults(p, map[string]any{"temperature": 0.7})
}

func (f *fakeStages) Cacheable(map[string]any) bool { return f.cacheable }

func (f *fakeStages) Validate(p map[string]any) *Error {
	if f.validate != nil {
		return f.validate(p)
	}
	if String(p, "prompt") == "" {
		return ValidationError(TypeMissingPrompt, "Prompt is required")
	}
	return nil
}

func (f *fakeStages) Call(ctx context.Context, p map[string]any) (Output, *Error) {
	n := f.calls.Add(1)
	if f.call != nil {
		return f.call(ctx, p)
	}
	return Output{
		Payload: map[string]any{"response": "answer", "call": float64(n)},
		Blob:    cache.Blob{Data: []byte("bytes"), ContentType: "image/png"},
	}, nil
}

func (f *fakeStages) FromBlob(p map[string]any, b cache.Blob) map[string]any {
	return map[string]any{"image": DataURL(b.ContentType, b.Data), "prompt": p["prompt"]}
}

func newTestPipeline(t *testing.T, storage Storage, limit int) (*Pipeline, *cache.Manager) {
	t.Helper()
	m := cache.NewManager(cache.NewMemoryStructuredStore(), cache.NewMemoryBlobStore(), true)
	if err := m.EnsurePartitions(context.Background(), "fake"); err != nil {
		t.Fatalf("EnsurePartitions: %v", err)
	}
	p := NewPipeline(PipelineConfig{Name: "fake", Storage: storage, Timeout: time.Second},
		ratelimit.NewSlidingWindow(limit), m)
	return p, m
}

func TestPipelineSecondIdenticalRequestIsServedFromCache(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: true}
	req := Request{Params: map[string]any{"prompt": "hello"}, UserID: "u1"}

	first := p.Run(context.Background(), req, st)
	if !first.OK() || first.FromCache {
		t.Fatalf("first call should be a fresh success: %#v", first)
	}

	second := p.Run(context.Background(), req, st)
	if !second.OK() || !second.FromCache {
		t.Fatalf("second call should be served from cache: %#v", second)
	}
	if st.calls.Load() != 1 {
		t.Fatalf("expected one backend call, got %d", st.calls.Load())
	}
	if second.Data["response"] != first.Data["response"] {
		t.Fatalf("cached payload differs: %#v vs %#v", second.Data, first.Data)
	}
}

func TestPipelineDefaultsAreFingerprinted(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: true}

	p.Run(context.Background(), Request{Params: map[string]any{"prompt": "hi"}, UserID: "u1"}, st)
	res := p.Run(context.Background(), Request{Params: map[string]any{"prompt": "hi", "temperature": 0.7}, UserID: "u1"}, st)

	if !res.FromCache {
		t.Fatalf("explicit default should hit the entry created without it")
	}
}

func TestPipelineForceRefreshBypassesAndOverwrites(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: true}
	req := Request{Params: map[string]any{"prompt": "hello"}, UserID: "u1"}

	p.Run(context.Background(), req, st)

	req.ForceRefresh = true
	refreshed := p.Run(context.Background(), req, st)
	if refreshed.FromCache {
		t.Fatalf("force refresh must not be served from cache")
	}
	if st.calls.Load() != 2 {
		t.Fatalf("expected the backend to be called again, got %d calls", st.calls.Load())
	}

	req.ForceRefresh = false
	again := p.Run(context.Background(), req, st)
	if !again.FromCache || again.Data["call"] != float64(2) {
		t.Fatalf("cache should hold the refreshed payload: %#v", again.Data)
	}
}

func TestPipelineRateLimitedBeforeAnythingElse(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 1)
	st := &fakeStages{cacheable: true}
	req := Request{Params: map[string]any{"prompt": "hello"}, UserID: "u1"}

	p.Run(context.Background(), req, st)
	res := p.Run(context.Background(), req, st)

	if res.OK() || res.Err.Kind != KindRateLimited || res.Err.Type != TypeRateLimit {
		t.Fatalf("expected rate limited result, got %#v", res)
	}
	if st.calls.Load() != 1 {
		t.Fatalf("rejected call must not reach the backend")
	}
}

func TestPipelineValidationErrorSkipsBackend(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: true}

	res := p.Run(context.Background(), Request{Params: map[string]any{}, UserID: "u1"}, st)
	if res.OK() || res.Err.Kind != KindValidation || res.Err.Type != TypeMissingPrompt {
		t.Fatalf("expected missing_prompt, got %#v", res)
	}
	if st.calls.Load() != 0 {
		t.Fatalf("backend must not be called for invalid input")
	}
}

func TestPipelineInvalidInputFromFingerprint(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: true}

	res := p.Run(context.Background(), Request{Params: map[string]any{"prompt": make(chan int)}, UserID: "u1"}, st)
	if res.OK() || res.Err.Type != TypeInvalidInput {
		t.Fatalf("expected invalid_input, got %#v", res)
	}
}

func TestPipelineNonCacheableAlwaysCallsBackend(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: false}
	req := Request{Params: map[string]any{"prompt": "hello"}, UserID: "u1"}

	p.Run(context.Background(), req, st)
	res := p.Run(context.Background(), req, st)

	if res.FromCache || st.calls.Load() != 2 {
		t.Fatalf("non-cacheable requests must never hit the cache (calls=%d)", st.calls.Load())
	}
}

func TestPipelineBlobStorage(t *testing.T) {
	p, _ := newTestPipeline(t, StorageBlob, 10)
	st := &fakeStages{cacheable: true}
	req := Request{Params: map[string]any{"prompt": "a cat"}, UserID: "u1"}

	p.Run(context.Background(), req, st)
	res := p.Run(context.Background(), req, st)

	if !res.FromCache {
		t.Fatalf("expected blob cache hit")
	}
	if res.Data["image"] != "data:image/png;base64,Ynl0ZXM=" || res.Data["prompt"] != "a cat" {
		t.Fatalf("unexpected rendered payload: %#v", res.Data)
	}
}

func TestPipelineBackendErrorIsNotCached(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: true}
	st.call = func(context.Context, map[string]any) (Output, *Error) {
		return Output{}, ClassifyCallError("Fake API", &StatusError{StatusCode: 502})
	}
	req := Request{Params: map[string]any{"prompt": "hello"}, UserID: "u1"}

	res := p.Run(context.Background(), req, st)
	if res.OK() || res.Err.Kind != KindBackend || res.Err.Type != TypeAPIError {
		t.Fatalf("expected backend error, got %#v", res)
	}

	p.Run(context.Background(), req, st)
	if st.calls.Load() != 2 {
		t.Fatalf("failed calls must not be cached")
	}
}

func TestPipelineTimeout(t *testing.T) {
	m := cache.NewManager(cache.NewMemoryStructuredStore(), cache.NewMemoryBlobStore(), true)
	_ = m.EnsurePartitions(context.Background(), "fake")
	p := NewPipeline(PipelineConfig{Name: "fake", Timeout: 20 * time.Millisecond}, ratelimit.NewSlidingWindow(10), m)

	st := &fakeStages{cacheable: true}
	st.call = func(ctx context.Context, _ map[string]any) (Output, *Error) {
		<-ctx.Done()
		return Output{}, ClassifyCallError("Fake API", ctx.Err())
	}

	res := p.Run(context.Background(), Request{Params: map[string]any{"prompt": "slow"}, UserID: "u1"}, st)
	if res.OK() || res.Err.Kind != KindTimeout || res.Err.Type != TypeTimeout {
		t.Fatalf("expected timeout, got %#v", res)
	}
}

func TestPipelineCallerCancellationDoesNotAbortBackend(t *testing.T) {
	p, _ := newTestPipeline(t, StorageStructured, 10)
	st := &fakeStages{cacheable: true}
	st.call = func(ctx context.Context, _ map[string]any) (Output, *Error) {
		if ctx.Err() != nil {
			return Output{}, InternalError("call context was cancelled")
		}
		return Output{Payload: map[string]any{"response": "done"}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Run(ctx, Request{Params: map[string]any{"prompt": "x"}, UserID: "u1"}, st)
	if !res.OK() {
		t.Fatalf("backend call should ignore caller cancellation: %#v", res.Err)
	}
}

func TestResultJSON(t *testing.T) {
	ok, err := json.Marshal(Success(map[string]any{"response": "hi"}, true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	_ = json.Unmarshal(ok, &got)
	if got["response"] != "hi" || got["from_cache"] != true {
		t.Fatalf("unexpected success body: %s", ok)
	}

	verr := ValidationError(TypeInvalidLanguage, "Unsupported language: xx").
		WithDetail("supported_languages", []string{"en", "fr"})
	bad, _ := json.Marshal(Failure(verr))
	got = nil
	_ = json.Unmarshal(bad, &got)
	if got["error_type"] != "invalid_language" || got["from_cache"] != false || got["error"] != "Unsupported language: xx" {
		t.Fatalf("unexpected error body: %s", bad)
	}
	if langs, _ := got["supported_languages"].([]any); len(langs) != 2 {
		t.Fatalf("details not flattened: %s", bad)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded is a timeout")
	}
	if IsTimeout(errors.New("boom")) || IsTimeout(nil) {
		t.Fatalf("plain errors are not timeouts")
	}
}
