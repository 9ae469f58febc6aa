/**
 * @description
 * HTTP middleware for poold: bearer-token authentication against the identity
 * provider and a per-client token-bucket rate limit.
 *
 * @dependencies
 * - github.com/rs/zerolog: Structured logging.
 */
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Pool-labs/Pool/internal/identity"
	"github.com/Pool-labs/Pool/internal/session"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// AuthContextKey is a custom type for the context key to avoid collisions.
type AuthContextKey string

const (
	// IdentityKey stores the verified *identity.Identity in the request context.
	IdentityKey AuthContextKey = "identity"
	// AuthTokenKey stores the raw bearer token in the request context.
	AuthTokenKey AuthContextKey = "authToken"
)

// ErrNoAuthHeader is returned when the Authorization header is missing.
var ErrNoAuthHeader = errors.New("authorization header is required")

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrNoAuthHeader
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	return parts[1], nil
}

// AuthMiddleware verifies the bearer token and attaches the caller's session.
func AuthMiddleware(provider identity.Provider, sessions *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error(), nil)
				return
			}

			ident, err := provider.Verify(r.Context(), token)
			if err != nil {
				respondWithError(w, r, err)
				return
			}
			sessions.Attach(r.Context(), ident)

			ctx := context.WithValue(r.Context(), IdentityKey, ident)
			ctx = context.WithValue(ctx, AuthTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentityFromContext returns the verified caller, or nil.
func GetIdentityFromContext(ctx context.Context) *identity.Identity {
	ident, _ := ctx.Value(IdentityKey).(*identity.Identity)
	return ident
}

// GetUserIDFromContext returns the caller's uid, or "".
func GetUserIDFromContext(ctx context.Context) string {
	if ident := GetIdentityFromContext(ctx); ident != nil {
		return ident.UID
	}
	return ""
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	capacity int
	refill   time.Duration
	now      func() time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter allows requestsPerMinute per key, with bursts up to the same
// number.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute < 1 {
		requestsPerMinute = 1
	}
	rl := &RateLimiter{
		buckets:     make(map[string]*tokenBucket),
		capacity:    requestsPerMinute,
		refill:      time.Minute / time.Duration(requestsPerMinute),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupExpiredBuckets()
	return rl
}

// Allow consumes a token for key and reports whether one was available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{tokens: rl.capacity, lastRefill: now}
		rl.buckets[key] = bucket
	}

	if added := int(now.Sub(bucket.lastRefill) / rl.refill); added > 0 {
		bucket.tokens = min(rl.capacity, bucket.tokens+added)
		bucket.lastRefill = bucket.lastRefill.Add(time.Duration(added) * rl.refill)
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Stop ends the background cleanup.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) cleanupExpiredBuckets() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, bucket := range rl.buckets {
				if now.Sub(bucket.lastRefill) > 10*time.Minute {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)
		if !rl.Allow(clientIP) {
			log.Warn().Str("component", "ratelimit").Str("client_ip", clientIP).Str("path", r.URL.Path).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.refill.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later", nil)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.capacity))
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP, preferring proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func logRequest(r *http.Request, status, bytes int, elapsed time.Duration) {
	if status == 0 {
		status = http.StatusOK
	}
	event := log.Info()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Str("component", "http").
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("bytes", bytes).
		Dur("elapsed", elapsed).
		Msg("request served")
}
