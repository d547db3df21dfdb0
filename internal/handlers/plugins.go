package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"simmgate-aigateway/internal/auth"
	"simmgate-aigateway/internal/dispatch"
	"simmgate-aigateway/internal/middleware"
	"simmgate-aigateway/internal/plugin"
	"simmgate-aigateway/internal/plugin/chatterbox"
	"simmgate-aigateway/pkg/logging/logging"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// PluginHandler exposes the dispatcher over HTTP.
type PluginHandler struct {
	Dispatcher *dispatch.Dispatcher
}

func NewPluginHandler(d *dispatch.Dispatcher) *PluginHandler {
	return &PluginHandler{Dispatcher: d}
}

// Invoke handles POST /{plugin}. The body is the adapter's JSON parameters.
func (h *PluginHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	name := chi.URLParam(r, "plugin")

	id, ok := auth.FromContext(ctx)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	params, status, err := decodeParams(r.Body)
	if err != nil {
		logger.Warn("invalid request", zap.String("adapter", name), zap.Error(err))
		middleware.WriteError(w, status, err.Error())
		return
	}

	start := time.Now()
	res := h.Dispatcher.Handle(ctx, name, params, id, r.Header)

	code := http.StatusOK
	if !res.OK() {
		code = StatusFor(res.Err.Kind)
	}
	logger.Info("plugin_request",
		zap.String("adapter", name),
		zap.Int("status", code),
		zap.Bool("from_cache", res.FromCache),
		zap.Duration("duration", time.Since(start)),
	)
	writeJSON(w, code, res)
}

// ClearPluginCache handles DELETE /cache/{plugin}. Admins only.
func (h *PluginHandler) ClearPluginCache(w http.ResponseWriter, r *http.Request) {
	h.clear(w, r, "")
}

// ClearUserCache handles DELETE /cache/{plugin}/user/{user_id}.
func (h *PluginHandler) ClearUserCache(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "user_id")
	if target == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	h.clear(w, r, target)
}

func (h *PluginHandler) clear(w http.ResponseWriter, r *http.Request, target string) {
	ctx := r.Context()
	name := chi.URLParam(r, "plugin")

	id, ok := auth.FromContext(ctx)
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if perr := h.Dispatcher.ClearCache(ctx, name, id, target); perr != nil {
		middleware.WriteError(w, StatusFor(perr.Kind), perr.Message)
		return
	}

	body := map[string]any{
		"message": "Cache cleared for plugin " + name,
		"plugin":  name,
	}
	if target != "" {
		body["user_id"] = target
		body["message"] = "Cache cleared for plugin " + name + " and user " + target
	}
	writeJSON(w, http.StatusOK, body)
}

// ListPlugins handles GET /plugins.
func (h *PluginHandler) ListPlugins(w http.ResponseWriter, r *http.Request) {
	plugins := h.Dispatcher.Plugins(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"plugins":     plugins,
		"total_count": len(plugins),
	})
}

// Health handles GET /health. Degraded adapters do not fail the probe; the
// report says which ones are down.
func (h *PluginHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Dispatcher.Health(r.Context()))
}

// Languages handles GET /chatterbox/languages.
func (h *PluginHandler) Languages(w http.ResponseWriter, r *http.Request) {
	langs := chatterbox.Languages()
	writeJSON(w, http.StatusOK, map[string]any{"languages": langs, "total_count": len(langs)})
}

// Emotions handles GET /chatterbox/emotions.
func (h *PluginHandler) Emotions(w http.ResponseWriter, r *http.Request) {
	emotions := chatterbox.Emotions()
	writeJSON(w, http.StatusOK, map[string]any{"emotions": emotions, "total_count": len(emotions)})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind plugin.Kind) int {
	switch kind {
	case plugin.KindValidation:
		return http.StatusBadRequest
	case plugin.KindForbidden:
		return http.StatusForbidden
	case plugin.KindNotFound:
		return http.StatusNotFound
	case plugin.KindRateLimited:
		return http.StatusTooManyRequests
	case plugin.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errNotObject = errors.New("request body must be a JSON object")

func decodeParams(body io.Reader) (map[string]any, int, error) {
	var params map[string]any
	err := json.NewDecoder(body).Decode(&params)

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
	case errors.Is(err, io.EOF):
		return map[string]any{}, http.StatusOK, nil
	case err != nil:
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, http.StatusBadRequest, errNotObject
		}
		return nil, http.StatusBadRequest, errors.New("invalid JSON body")
	case params == nil:
		return nil, http.StatusBadRequest, errNotObject
	}
	return params, http.StatusOK, nil
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
