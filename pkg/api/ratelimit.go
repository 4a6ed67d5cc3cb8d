package api

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/params"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTimeout = 10 * time.Minute
	limiterPruneSize   = 1024
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps one token bucket per client IP
type clientLimiter struct {
	cfg config.RateLimit

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

func newClientLimiter(cfg config.RateLimit) *clientLimiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &clientLimiter{
		cfg:      cfg,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *clientLimiter) allow(client string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[client]
	if !ok {
		if len(l.limiters) >= limiterPruneSize {
			l.prune(now)
		}
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst),
		}
		l.limiters[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// prune drops the buckets of clients idle for limiterIdleTimeout; callers
// hold mu
func (l *clientLimiter) prune(now time.Time) {
	for client, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTimeout {
			delete(l.limiters, client)
		}
	}
}

// clientIP is the peer address of the request. Proxy headers are ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit rejects mutating requests of clients over their budget with 429.
// Requests forwarded by a follower were already counted there.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || readOnly(r) || r.Header.Get(forwardedHeader) != "" {
			next.ServeHTTP(w, r)
			return
		}

		client := clientIP(r)
		if !s.limiter.allow(client, time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, params.APIErrorResponse{
				Error:   "Too Many Requests",
				Details: fmt.Sprintf("rate limit of %g requests/s exceeded for %s", s.limiter.cfg.RequestsPerSecond, client),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
