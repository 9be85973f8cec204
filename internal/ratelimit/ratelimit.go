// Package ratelimit throttles API requests per client IP.
package ratelimit

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/star/tletrack/internal/httputil"
)

// Config holds rate limiting configuration.
type Config struct {
	// Rate is the sustained requests per second allowed per client. 0 disables limiting.
	Rate float64
	// Burst is the bucket size per client. Default: 2×Rate, at least 1.
	Burst int
	// TrustProxy reads the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// IdleTTL drops a client's bucket after this long without requests. Default: 10 minutes.
	IdleTTL time.Duration
}

func (c *Config) defaults() {
	if c.Burst <= 0 {
		c.Burst = max(1, int(2*c.Rate))
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 10 * time.Minute
	}
}

// exemptPaths are never throttled.
var exemptPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiter tracks one token bucket per client IP.
type limiter struct {
	mu        sync.Mutex
	clients   map[string]*client
	cfg       Config
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(cfg Config) *limiter {
	cfg.defaults()
	return &limiter{
		clients: make(map[string]*client),
		cfg:     cfg,
		now:     time.Now,
	}
}

// allow reports whether ip may make a request now.
func (l *limiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.cfg.IdleTTL {
		l.sweep(now)
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than IdleTTL. Caller holds mu.
func (l *limiter) sweep(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > l.cfg.IdleTTL {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects requests beyond the per-client rate with 429.
func Middleware(cfg Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.Rate <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ip := httputil.ClientIP(r, l.cfg.TrustProxy)
			if !l.allow(ip) {
				logger.Debug("rate limit exceeded",
					"component", "ratelimit",
					"remote_ip", ip,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				httputil.WriteMessage(w, http.StatusTooManyRequests, "Too many requests.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
