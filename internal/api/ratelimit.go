package api

import (
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reviewgate/reviewgate/internal/telemetry"
)

// idleTTL is how long an IP's limiter survives without traffic.
const idleTTL = 5 * time.Minute

// ipLimiter holds a rate limiter and the last time it was seen.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-IP rate limiters for review submission.
type RateLimiter struct {
	mu    sync.Mutex
	ips   map[string]*ipLimiter
	rps   rate.Limit
	burst int
	now   func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing rps requests/second per IP
// with a burst of rps rounded up.
func NewRateLimiter(rps float64) *RateLimiter {
	return &RateLimiter{
		ips:   make(map[string]*ipLimiter),
		rps:   rate.Limit(rps),
		burst: max(1, int(math.Ceil(rps))),
		now:   time.Now,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	l, ok := rl.ips[ip]
	if !ok {
		rl.evictLocked(now)
		l = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.ips[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// evictLocked drops limiters idle for longer than idleTTL. It runs when a
// new IP shows up, so the map never outgrows the set of recent clients.
func (rl *RateLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-idleTTL)
	for ip, l := range rl.ips {
		if l.lastSeen.Before(cutoff) {
			delete(rl.ips, ip)
		}
	}
}

// RateLimit returns a Middleware that limits POST /reviews to rps req/s per IP.
// If rps is 0 the middleware is a no-op.
func RateLimit(rps float64) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := NewRateLimiter(rps)
	return rl.Middleware
}

// Middleware applies the limiter to submissions only.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/reviews" {
			if !rl.allow(clientIP(r)) {
				telemetry.RateLimitRejects.Inc()
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded, slow down")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the peer address without its port. Forwarding headers are
// ignored: the server binds loopback and has no trusted proxy in front.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
