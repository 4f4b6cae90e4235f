package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/passkeep/passkeep/internal/ratelimit"
	"github.com/passkeep/passkeep/internal/token"
	"github.com/rs/zerolog/log"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rr.statusCode).
			Dur("duration", time.Since(start)).
			Str("request_id", requestIDFromCtx(r.Context())).
			Msg("request")
	})
}

// bearerToken extracts the raw token from the Authorization header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(raw)
}

// authMiddleware validates the bearer token and attaches the session
// to the context. The failure code distinguishes idle timeout from
// generic invalidity for client-side UX.
func authMiddleware(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeAuthError(w, codeMalformed)
				return
			}
			sess, err := tokens.Verify(r.Context(), raw)
			if err != nil {
				switch {
				case errors.Is(err, token.ErrExpired):
					writeAuthError(w, codeExpired)
				case errors.Is(err, token.ErrRevoked):
					writeAuthError(w, codeRevoked)
				case errors.Is(err, token.ErrIdleTimeout):
					writeAuthError(w, codeIdleTimeout)
				case errors.Is(err, token.ErrMalformed):
					writeAuthError(w, codeMalformed)
				default:
					log.Error().Err(err).Msg("token verification failed")
					writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
		})
	}
}

// rateLimitMiddleware admits requests under the given policy. Identity
// is the authenticated subject when available, the connecting IP
// otherwise, and a constant bucket as a last resort.
func rateLimitMiddleware(limiter *ratelimit.Limiter, p ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := "unknown"
			if sess := sessionFromCtx(r.Context()); sess != nil {
				clientID = sess.UserID
			} else if ip := clientIP(r); ip != "" {
				clientID = ip
			}

			d, err := limiter.Admit(r.Context(), p, clientID)
			if err != nil {
				// Availability over strictness when the counter store
				// is unreachable.
				log.Warn().Err(err).Str("policy", p.Name).Msg("rate limiter unavailable, admitting")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprint(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprint(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprint(d.ResetSeconds))

			if !d.Allowed {
				rateLimitRejects.WithLabelValues(p.Name).Inc()
				w.Header().Set("Retry-After", fmt.Sprint(d.ResetSeconds))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"error":      codeRateLimited,
					"message":    "too many requests, slow down",
					"retryAfter": d.ResetSeconds,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
