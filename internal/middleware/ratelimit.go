package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter is the rate-limit capability injected into the middleware. A
// store-backed implementation can replace the in-memory one so correctness
// holds across multiple server instances.
type Limiter interface {
	Allow(key string) bool
	RetryAfter() time.Duration
}

// FixedWindow counts requests per key within a rolling window, in memory.
type FixedWindow struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

type bucket struct {
	count int
	until time.Time
}

// NewFixedWindow builds an in-memory fixed-window limiter.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (f *FixedWindow) Allow(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	b, ok := f.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{count: 0, until: now.Add(f.window)}
		f.buckets[key] = b
	}
	if b.count >= f.limit {
		return false
	}
	b.count++
	return true
}

func (f *FixedWindow) RetryAfter() time.Duration {
	return f.window
}

// RateLimit answers 429 with Retry-After when the limiter refuses the
// client's key.
func RateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIPForRateLimit(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.RetryAfter().Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
