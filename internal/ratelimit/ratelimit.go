// Package ratelimit provides a token-bucket rate limiter used to space
// requests against a single source. Each scraper owns one limiter; there
// is no shared limiter state across sources.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token-bucket rate limiter. Wait blocks until a permit is
// available, guaranteeing consecutive permits are spaced at least
// 1/requestsPerSecond apart.
type Limiter struct {
	mu                sync.Mutex
	requestsPerSecond float64
	burstSize         float64
	tokens            float64
	lastUpdate        time.Time
}

// New creates a limiter allowing requestsPerSecond sustained throughput.
// Capacity is a single token: consecutive permits are always spaced at
// least 1/requestsPerSecond apart, with no burst allowance.
func New(requestsPerSecond float64) *Limiter {
	return &Limiter{
		requestsPerSecond: requestsPerSecond,
		burstSize:         1,
		tokens:            1,
		lastUpdate:        time.Now(),
	}
}

// Wait blocks until a permit is available or the context is cancelled.
// It never fails on its own; the only error it returns is ctx.Err().
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		wait := l.tryAcquire()
		if wait == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire takes a token if one is available, otherwise returns how
// long to wait before retrying.
func (l *Limiter) tryAcquire() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.tokens = minFloat(l.burstSize, l.tokens+elapsed*l.requestsPerSecond)
	l.lastUpdate = now

	if l.tokens >= 1 {
		l.tokens--
		return 0
	}

	needed := 1 - l.tokens

	return time.Duration(needed / l.requestsPerSecond * float64(time.Second))
}

// Rate returns the current sustained rate in requests per second.
func (l *Limiter) Rate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.requestsPerSecond
}

// setRate updates the sustained rate. Burst capacity is left untouched so
// an adaptive slowdown takes effect on the very next permit.
func (l *Limiter) setRate(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.requestsPerSecond = rps
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}

	return b
}
