package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"simmgate-aigateway/internal/auth"
	"simmgate-aigateway/internal/cache"
	"simmgate-aigateway/internal/dispatch"
	"simmgate-aigateway/internal/handlers"
	"simmgate-aigateway/internal/plugin"
	"simmgate-aigateway/internal/plugin/chatterbox"
	"simmgate-aigateway/internal/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zaptest"
)

const secret = "handler-secret"

type echoPlugin struct {
	result  plugin.Result
	calls   int
	lastReq plugin.Request
}

func (e *echoPlugin) Name() string { return "echo" }

func (e *echoPlugin) Process(_ context.Context, req plugin.Request) plugin.Result {
	e.calls++
	e.lastReq = req
	return e.result
}

func (e *echoPlugin) HealthCheck(context.Context) plugin.Health {
	return plugin.Healthy("echo-1", nil)
}

func (e *echoPlugin) Describe() plugin.Description {
	return plugin.Description{Name: "echo", Model: "echo-1", Storage: plugin.StorageStructured, RateLimit: 1}
}

type testServer struct {
	srv   *httptest.Server
	echo  *echoPlugin
	store *cache.MemoryStructuredStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	structured := cache.NewMemoryStructuredStore()
	manager := cache.NewManager(structured, cache.NewMemoryBlobStore(), true)

	echo := &echoPlugin{result: plugin.Success(map[string]any{"response": "hi"}, false)}
	speech, err := chatterbox.New(chatterbox.Config{BaseURL: "http://127.0.0.1:1"}, ratelimit.NewSlidingWindow(10), manager)
	if err != nil {
		t.Fatalf("chatterbox.New: %v", err)
	}

	reg := plugin.NewRegistry()
	for _, p := range []plugin.Plugin{echo, speech} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := manager.EnsurePartitions(ctx, reg.Names()...); err != nil {
		t.Fatalf("EnsurePartitions: %v", err)
	}

	verifier, err := auth.NewVerifier(auth.Config{Algorithm: "HS256", Secret: secret})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	r := chi.NewRouter()
	h := handlers.NewPluginHandler(dispatch.New(dispatch.Options{Registry: reg, Cache: manager}))
	SetupRouter(r, zaptest.NewLogger(t), h, Options{Verifier: verifier, RequestTimeout: 5 * time.Second})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, echo: echo, store: structured}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"email":   userID + "@example.com",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (ts *testServer) do(t *testing.T, method, path, tok, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestInvokeSuccess(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/echo", token(t, "alice", ""), `{"prompt":"hello"}`, "X-Force-Refresh", "true")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%v", resp.StatusCode, body)
	}
	if body["response"] != "hi" || body["from_cache"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if ts.echo.lastReq.UserID != "alice" || !ts.echo.lastReq.ForceRefresh {
		t.Fatalf("request not forwarded correctly: %#v", ts.echo.lastReq)
	}
	if ts.echo.lastReq.Params["prompt"] != "hello" {
		t.Fatalf("params not forwarded: %#v", ts.echo.lastReq.Params)
	}
}

func TestInvokeRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/echo", "", `{}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status_code"] != float64(http.StatusUnauthorized) {
		t.Fatalf("unexpected body: %v", body)
	}
	if ts.echo.calls != 0 {
		t.Fatalf("plugin should not run without a token")
	}
}

func TestInvokeErrorKindsMapToStatus(t *testing.T) {
	ts := newTestServer(t)
	tok := token(t, "alice", "")

	cases := []struct {
		err  *plugin.Error
		want int
	}{
		{plugin.ValidationError(plugin.TypeMissingPrompt, "Prompt is required"), http.StatusBadRequest},
		{plugin.NewError(plugin.KindRateLimited, plugin.TypeRateLimit, "Rate limit exceeded"), http.StatusTooManyRequests},
		{plugin.TimeoutError("timeout"), http.StatusGatewayTimeout},
		{plugin.BackendError(plugin.TypeAPIError, "upstream 500"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		ts.echo.result = plugin.Failure(tc.err)
		resp, body := ts.do(t, http.MethodPost, "/echo", tok, `{}`)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.err.Type, resp.StatusCode, tc.want)
		}
		if body["error_type"] != tc.err.Type || body["from_cache"] != false {
			t.Fatalf("%s: unexpected body %v", tc.err.Type, body)
		}
	}
}

func TestInvokeUnknownPlugin(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/nope", token(t, "alice", ""), `{}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error"] != "Plugin nope not found" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestInvokeRejectsBadBodies(t *testing.T) {
	ts := newTestServer(t)
	tok := token(t, "alice", "")

	for _, raw := range []string{`{"prompt":`, `[1,2]`, `null`} {
		resp, _ := ts.do(t, http.MethodPost, "/echo", tok, raw)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", raw, resp.StatusCode)
		}
	}
}

func TestSpeechInvalidLanguage(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/chatterbox", token(t, "alice", ""), `{"text":"hi","language":"xx"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["error_type"] != plugin.TypeInvalidLanguage {
		t.Fatalf("unexpected body: %v", body)
	}
	if langs, ok := body["supported_languages"].([]any); !ok || len(langs) != 23 {
		t.Fatalf("supported_languages missing: %v", body["supported_languages"])
	}
}

func TestClearCacheRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	if err := ts.store.Put(ctx, "echo", cache.StructuredEntry{
		Fingerprint: "fp-alice", Request: []byte(`{}`), Response: []byte(`{}`), OwnerUserID: "alice",
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	resp, _ := ts.do(t, http.MethodDelete, "/cache/echo", token(t, "alice", ""), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin full clear: status = %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/cache/echo/user/bob", token(t, "alice", ""), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("clearing another user: status = %d", resp.StatusCode)
	}

	resp, body := ts.do(t, http.MethodDelete, "/cache/echo/user/alice", token(t, "alice", ""), "")
	if resp.StatusCode != http.StatusOK || body["user_id"] != "alice" {
		t.Fatalf("self clear: status = %d body=%v", resp.StatusCode, body)
	}
	if ts.store.Len("echo") != 0 {
		t.Fatalf("entries left after clear")
	}

	resp, _ = ts.do(t, http.MethodDelete, "/cache/echo", token(t, "root", auth.RoleAdmin), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin clear: status = %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/cache/nope", token(t, "root", auth.RoleAdmin), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown plugin clear: status = %d", resp.StatusCode)
	}
}

func TestCatalogueAndListingRoutes(t *testing.T) {
	ts := newTestServer(t)
	tok := token(t, "alice", "")

	_, body := ts.do(t, http.MethodGet, "/chatterbox/languages", tok, "")
	if body["total_count"] != float64(23) {
		t.Fatalf("languages: %v", body)
	}
	_, body = ts.do(t, http.MethodGet, "/chatterbox/emotions", tok, "")
	if body["total_count"] != float64(7) {
		t.Fatalf("emotions: %v", body)
	}

	resp, body := ts.do(t, http.MethodGet, "/plugins", tok, "")
	if resp.StatusCode != http.StatusOK || body["total_count"] != float64(2) {
		t.Fatalf("plugins: %d %v", resp.StatusCode, body)
	}
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// the speech backend points at a closed port
	if body["status"] != dispatch.StatusDegraded {
		t.Fatalf("unexpected health: %v", body)
	}
	plugins := body["plugins"].(map[string]any)
	if plugins["echo"].(map[string]any)["status"] != plugin.StatusHealthy {
		t.Fatalf("echo should be healthy: %v", plugins)
	}

	resp, _ = ts.do(t, http.MethodGet, "/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestStatusForKinds(t *testing.T) {
	if handlers.StatusFor(plugin.KindForbidden) != http.StatusForbidden || handlers.StatusFor(plugin.KindInternal) != http.StatusInternalServerError {
		t.Fatalf("unexpected mapping")
	}
}
