package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupEvery = 3 * time.Minute
	staleAfter   = 5 * time.Minute
)

// Limiter is a per-IP token bucket rate limiter. Buckets for addresses not
// seen recently are dropped by a background sweeper.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a per-IP limiter allowing rps requests per second with
// the given burst size, and starts the sweeper goroutine.
func NewLimiter(rps float64, burst int) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go l.sweep()
	return l
}

// Allow reports whether a request from ip should be permitted, creating a
// fresh bucket for addresses not seen before.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.bucket.Allow()
}

func (l *Limiter) sweep() {
	for {
		time.Sleep(cleanupEvery)

		l.mu.Lock()
		for ip, c := range l.clients {
			if time.Since(c.lastSeen) >= staleAfter {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}
