package middleware

import (
	"errors"
	"net/http"
	"strings"

	"simmgate-aigateway/internal/auth"
	"simmgate-aigateway/pkg/logging/logging"

	"go.uber.org/zap"
)

// Authenticate requires a valid bearer token and stores the caller's
// identity in the request context.
func Authenticate(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, http.StatusUnauthorized, "Missing or malformed bearer token")
				return
			}

			id, err := v.Verify(token)
			if err != nil {
				logging.L(r.Context()).Info("auth_rejected", zap.Error(err))
				msg := "Invalid or expired token"
				if errors.Is(err, auth.ErrMissingClaims) {
					msg = "Token is missing required claims"
				}
				WriteError(w, http.StatusUnauthorized, msg)
				return
			}

			ctx := auth.WithIdentity(r.Context(), id)
			ctx = logging.WithFields(ctx, zap.String("user_id", id.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
