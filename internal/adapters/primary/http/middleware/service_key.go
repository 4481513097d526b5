package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/lorrc/notify-gateway/internal/auth"
)

// ServiceKeyHeader carries the publisher key of a backend service.
const ServiceKeyHeader = "X-Service-Key"

// ServiceKeyAuth guards the internal publish API. The key is read from
// X-Service-Key or an "Authorization: Bearer" header. A verifier with no
// configured keys lets every request through; config validation forbids
// that outside development.
func ServiceKeyAuth(verifier *auth.ServiceKeyVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !verifier.Enabled() {
			logger.Warn("publisher API is not protected by a service key")
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := verifier.Verify(serviceKey(r)); err != nil {
				logger.WarnContext(r.Context(), "publisher request rejected",
					"path", r.URL.Path,
					"client_ip", getClientIP(r),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Invalid service key","code":"INVALID_SERVICE_KEY"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func serviceKey(r *http.Request) string {
	if key := r.Header.Get(ServiceKeyHeader); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
