package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/satsplit/satsplit/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// pubkeyKey is the context key for the session's pubkey.
const pubkeyKey contextKey = "pubkey"

// sessionPubkey extracts the unlocked pubkey from the context. Empty
// outside an authenticated request.
func sessionPubkey(ctx context.Context) string {
	pubkey, _ := ctx.Value(pubkeyKey).(string)
	return pubkey
}

// requireSession validates the Bearer session token and puts the unlocked
// pubkey on the request context.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, auth.ErrMissingToken)
			return
		}
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, auth.ErrInvalidToken)
			return
		}

		claims, err := s.sessions.Validate(parts[1])
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), pubkeyKey, claims.Pubkey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs every request with its duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
