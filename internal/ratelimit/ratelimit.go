// Package ratelimit throttles requests per client address.
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/repodrop/repodrop/internal/metrics"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client IP.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

// New creates a limiter allowing rps requests per second with the given
// burst. rps <= 0 disables limiting.
func New(rps float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request from ip may proceed.
func (l *Limiter) Allow(ip string) bool {
	if l.rate <= 0 {
		return true
	}
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.limiter.Allow()
}

// RetryAfter is the whole number of seconds until one token is available.
func (l *Limiter) RetryAfter() int {
	if l.rate <= 0 {
		return 0
	}
	return int(math.Ceil(1 / float64(l.rate)))
}

// Cleanup forgets clients not seen within maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
			n++
		}
	}
	return n
}

// Middleware rejects requests over the limit with 429.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.Allow(ip) {
			metrics.RecordRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter()))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error": "rate limit exceeded",
				"code":  http.StatusTooManyRequests,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
