package ratelimit

import (
	"net/http"
	"sync"
)

// Tuning constants for the adaptive limiter.
const (
	successesBeforeSpeedup = 10
	errorsBeforeSlowdown   = 3
	speedupFactor          = 1.1
	slowdownFactor         = 0.8
	rateLimitedFactor      = 0.5
)

// AdaptiveLimiter wraps Limiter and adjusts the rate from observed
// responses: it halves the rate on 429, backs off after repeated errors,
// and creeps back up after a run of successes. Bounds keep the rate
// within [minRPS, maxRPS].
type AdaptiveLimiter struct {
	*Limiter

	mu           sync.Mutex
	minRPS       float64
	maxRPS       float64
	successCount int
	errorCount   int
}

// NewAdaptive creates an adaptive limiter starting at initialRPS.
func NewAdaptive(initialRPS, minRPS, maxRPS float64) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		Limiter: New(initialRPS),
		minRPS:  minRPS,
		maxRPS:  maxRPS,
	}
}

// ReportSuccess records a successful request. After a run of successes
// the rate increases by 10%, up to maxRPS.
func (a *AdaptiveLimiter) ReportSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	if a.successCount < successesBeforeSpeedup {
		return
	}

	a.successCount = 0
	a.setRate(a.clamp(a.Rate() * speedupFactor))
}

// ReportError records a failed request. A 429 halves the rate
// immediately; other errors back the rate off 20% after three in a row.
func (a *AdaptiveLimiter) ReportError(statusCode int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++

	switch {
	case statusCode == http.StatusTooManyRequests:
		a.errorCount = 0
		a.setRate(a.clamp(a.Rate() * rateLimitedFactor))
	case a.errorCount >= errorsBeforeSlowdown:
		a.errorCount = 0
		a.setRate(a.clamp(a.Rate() * slowdownFactor))
	}
}

func (a *AdaptiveLimiter) clamp(rps float64) float64 {
	if rps < a.minRPS {
		return a.minRPS
	}

	if rps > a.maxRPS {
		return a.maxRPS
	}

	return rps
}
