// Package ratelimit provides a per-client token bucket limiter for the
// chat endpoints.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket tracks one client's allowance.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter applies a requests-per-minute cap per client key (normally
// the remote IP). Buckets start full, so a new client can burst up to
// the per-minute allowance. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	perMinute  float64
	refillRate float64 // tokens per second

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter allowing perMinute requests per key per minute.
func New(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		perMinute:  float64(perMinute),
		refillRate: float64(perMinute) / 60.0,
		now:        time.Now,
	}
}

// Allow consumes one token for key. Returns false when the key is over
// its allowance.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.perMinute, lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * l.refillRate
	if b.tokens > l.perMinute {
		b.tokens = l.perMinute
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Sweep removes buckets idle longer than maxIdle. Call periodically to
// keep memory bounded under churning client addresses.
func (l *Limiter) Sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	for key, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// SweepEvery runs Sweep(maxIdle) every interval until ctx is cancelled.
// Run it in its own goroutine alongside the server.
func (l *Limiter) SweepEvery(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(maxIdle)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
