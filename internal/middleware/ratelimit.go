package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/scanara/internal/auth"
)

// Key types reported on rate limit metrics.
const (
	KeyTypeIP     = "ip"
	KeyTypeAPIKey = "api_key"
)

// Quota is a fixed window allowance.
type Quota struct {
	Limit  int
	Window time.Duration
}

// PerMinute admits n requests per minute.
func PerMinute(n int) Quota {
	return Quota{Limit: n, Window: time.Minute}
}

// Validate rejects non-positive limits and windows.
func (q Quota) Validate() error {
	var errs []error
	if q.Limit <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}
	if q.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	return errors.Join(errs...)
}

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is set only on refusal.
	RetryAfter time.Duration
}

func admit(q Quota, used int) Decision {
	return Decision{Allowed: true, Remaining: max(q.Limit-used, 0)}
}

func refuse(until time.Duration) Decision {
	return Decision{RetryAfter: max(until, time.Second)}
}

// RateLimitStore counts requests per key.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, q Quota) Decision
}

type window struct {
	used int
	ends time.Time
}

// InMemoryRateLimitStore keeps fixed windows in process memory. It is only
// correct for a single API instance.
type InMemoryRateLimitStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewInMemoryRateLimitStore() *InMemoryRateLimitStore {
	return &InMemoryRateLimitStore{windows: make(map[string]*window), now: time.Now}
}

func (s *InMemoryRateLimitStore) Allow(_ context.Context, key string, q Quota) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.ends) {
		w = &window{ends: now.Add(q.Window)}
		s.windows[key] = w
	}
	if w.used >= q.Limit {
		return refuse(w.ends.Sub(now))
	}
	w.used++
	return admit(q, w.used)
}

// Sweep drops windows that have ended.
func (s *InMemoryRateLimitStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.ends) {
			delete(s.windows, key)
		}
	}
}

// RunCleanup sweeps every interval until ctx is done.
func (s *InMemoryRateLimitStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// KeyFunc maps a request to a rate limit key and the key type used as a
// metric label.
type KeyFunc func(r *http.Request) (key, keyType string)

// ClientKey limits CLI callers by API key and everyone else by client IP.
// API keys are hashed so they never reach the limiter store in plaintext.
func ClientKey(r *http.Request) (string, string) {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok && strings.HasPrefix(token, auth.APIKeyPrefix) {
		sum := sha256.Sum256([]byte(token))
		return "key:" + hex.EncodeToString(sum[:12]), KeyTypeAPIKey
	}
	return "ip:" + clientIP(r), KeyTypeIP
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimiter refuses requests over q with 429 and the standard
// X-RateLimit headers. metrics may be nil.
func RateLimiter(store RateLimitStore, q Quota, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	limit := strconv.Itoa(q.Limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, keyType := keyFunc(r)
			route := normalizePath(r.URL.Path)
			metrics.IncRateLimitRequests(route, keyType)

			d := store.Allow(r.Context(), key, q)
			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			metrics.IncRateLimitBlocked(route, keyType)
			SetErrorCode(r.Context(), "rate_limited")

			secs := int((d.RetryAfter + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(secs))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(d.RetryAfter).Unix(), 10))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests, slow down and retry later",
			})
		})
	}
}
