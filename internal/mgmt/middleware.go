package mgmt

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a per-IP token bucket, adapted from the teacher's
// internal/node.RateLimiter — same refill-on-read shape, reused here to
// protect the management plane rather than the data plane, since
// /debug/network and /debug/events can be expensive to serve.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    int
	burst   int
	cleanup chan struct{}
	once    sync.Once
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter constructs a limiter allowing rate requests/sec per IP,
// bursting up to burst.
func NewRateLimiter(rate, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
		cleanup: make(chan struct{}),
	}
	go rl.sweepStale()
	return rl
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &tokenBucket{tokens: rl.burst, lastRefill: time.Now()}
		rl.buckets[ip] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if add := int(now.Sub(b.lastRefill).Seconds() * float64(rl.rate)); add > 0 {
		b.tokens += add
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) sweepStale() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				b.mu.Lock()
				stale := b.lastRefill.Before(cutoff)
				b.mu.Unlock()
				if stale {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		case <-rl.cleanup:
			return
		}
	}
}

func (rl *RateLimiter) Close() { rl.once.Do(func() { close(rl.cleanup) }) }

// RateLimitMiddleware rejects requests over the configured rate with 429,
// keyed by client IP.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.Allow(ip) {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
