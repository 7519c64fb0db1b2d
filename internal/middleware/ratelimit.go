// Package middleware provides HTTP middleware shared by the API server.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stackwatch/stackwatch-ai/internal/metrics"
)

const (
	staleAfter = 10 * time.Minute
	sweepEvery = 5 * time.Minute
)

// RateLimiter enforces a per-client request rate across the API.
// Clients are keyed by remote IP; entries idle past staleAfter are
// swept so the map stays bounded by the active client set.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientEntry

	stopCh chan struct{}
	doneCh chan struct{}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing rps requests per second
// with the given burst per client. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientEntry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Wrap enforces the limit on next. Refused requests receive 429 with
// a Retry-After hint.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rps > 0 && !rl.allow(clientKey(r)) {
			metrics.RateLimitedRequests.Inc()
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey strips the port so every connection from one address
// shares a bucket.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	e, ok := rl.clients[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[key] = e
	}
	e.lastSeen = time.Now()
	rl.mu.Unlock()
	return e.limiter.Allow()
}

func (rl *RateLimiter) sweep() {
	defer close(rl.doneCh)
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			rl.mu.Lock()
			for key, e := range rl.clients {
				if now.Sub(e.lastSeen) > staleAfter {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop halts the sweeper goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
	<-rl.doneCh
}
