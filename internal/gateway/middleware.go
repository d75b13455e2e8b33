package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// publicPaths never require the shared secret: the root banner, health
// probe, and metrics scrape are meant for unauthenticated infrastructure
// checks per §6.
var publicPaths = map[string]bool{
	"/":        true,
	"/health":  true,
	"/metrics": true,
}

// authMiddleware enforces the shared-secret bearer/x-api-key check
// described in §6. When no secret is configured the gateway trusts its
// bind address instead (intended for loopback-only deployment); a
// configured secret is required on every other route.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		secret := s.deps.Config.APIKey
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !checkSecret(r, secret) {
			writeError(w, http.StatusUnauthorized, "authentication_error", "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkSecret(r *http.Request, secret string) bool {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
			return true
		}
	}
	if key := r.Header.Get("x-api-key"); key != "" {
		if subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1 {
			return true
		}
	}
	return false
}

// loggingMiddleware wraps each request with a status-capturing response
// writer and logs method/path/status/duration, in the same shape as the established
// web.LoggingMiddleware.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
