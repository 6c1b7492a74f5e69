package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/afirgen/fir-pipeline/infrastructure/httputil"
	sllogging "github.com/afirgen/fir-pipeline/infrastructure/logging"
)

var publicPaths = map[string]struct{}{
	"/health":        {},
	"/healthz/live":  {},
	"/healthz/ready": {},
	"/docs":          {},
	"/openapi.json":  {},
}

var authLogger = sllogging.NewFromEnv("auth")

func extractPresentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return r.Header.Get("X-API-Key")
}

// AuthMiddleware enforces a single shared API key (FIR_AUTH_KEY) on every
// request except the exempted public paths. The key is compared by its
// SHA-256 digest in constant time so neither timing nor length leak whether
// a guess was close.
func AuthMiddleware(sharedKey string) func(http.Handler) http.Handler {
	expectedHash := sha256.Sum256([]byte(sharedKey))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, exempt := publicPaths[r.URL.Path]; exempt {
				next.ServeHTTP(w, r)
				return
			}

			presented := extractPresentedKey(r)
			if presented == "" {
				authLogger.LogSecurityEvent(r.Context(), "auth_missing_key", map[string]interface{}{
					"client_ip": httputil.ClientIP(r),
					"path":      r.URL.Path,
					"method":    r.Method,
				})
				httputil.Unauthorized(w, "missing credentials")
				return
			}

			presentedHash := sha256.Sum256([]byte(presented))
			if subtle.ConstantTimeCompare(presentedHash[:], expectedHash[:]) != 1 {
				authLogger.LogSecurityEvent(r.Context(), "auth_invalid_key", map[string]interface{}{
					"client_ip": httputil.ClientIP(r),
					"path":      r.URL.Path,
					"method":    r.Method,
				})
				httputil.Unauthorized(w, "invalid credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
