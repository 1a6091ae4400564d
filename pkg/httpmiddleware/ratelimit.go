package httpmiddleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client rate limit.
type RateLimitConfig struct {
	Max    int           `default:"600" usage:"requests allowed per client and window; 0 disables the limit"`
	Window time.Duration `default:"1m" usage:"rate limit window"`
}

// window counts the requests of one client in the current and the previous
// fixed window. The previous count is weighted by its overlap with the
// sliding window ending now.
type window struct {
	start time.Time
	curr  float64
	prev  float64
}

// RateLimiter limits requests per client with a sliding window counter.
// Clients are told apart by ClientKey.
type RateLimiter struct {
	limit int
	size  time.Duration
	key   func(*http.Request) string
	now   func() time.Time
	mu    sync.Mutex
	byKey map[string]*window
}

// NewRateLimiter creates a limiter for cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		limit: cfg.Max,
		size:  cfg.Window,
		key:   ClientKey,
		now:   time.Now,
		byKey: make(map[string]*window),
	}
}

// take records a request of key. It reports whether the request fits, how
// many requests remain and when the current window ends.
func (l *RateLimiter) take(key string) (remaining int, reset time.Time, ok bool) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.byKey[key]
	start := now.Truncate(l.size)
	switch {
	case w == nil:
		w = &window{start: start}
		l.byKey[key] = w
	case start.Sub(w.start) >= 2*l.size:
		*w = window{start: start}
	case start.After(w.start):
		*w = window{start: start, prev: w.curr}
	}

	weight := 1 - float64(now.Sub(w.start))/float64(l.size)
	used := w.prev*weight + w.curr
	reset = w.start.Add(l.size)
	if used >= float64(l.limit) {
		return 0, reset, false
	}
	w.curr++
	return max(0, l.limit-int(math.Ceil(used+1))), reset, true
}

func (l *RateLimiter) enabled() bool { return l.limit > 0 && l.size > 0 }

// evict drops clients idle for two full windows.
func (l *RateLimiter) evict() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.byKey {
		if now.Sub(w.start) >= 2*l.size {
			delete(l.byKey, k)
		}
	}
}

// Run evicts idle clients until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) error {
	if !l.enabled() {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(2 * l.size)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			l.evict()
		}
	}
}

// Middleware rejects requests over the limit with 429. Every response carries
// the X-RateLimit-* headers.
func (l *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		if !l.enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.take(l.key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				wait := max(0, reset.Sub(l.now()))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientKey identifies the caller: authenticated callers by a fingerprint of
// their bearer token, anonymous ones by address.
func ClientKey(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "bearer") && token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
