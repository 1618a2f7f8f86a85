package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether and when a failed job runs again.
type RetryPolicy struct {
	// Attempts is the total number of runs allowed, including the first.
	Attempts int
	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration
	// Multiplier grows the wait after each further failure. Zero means 2.
	Multiplier float64
	// MaxDelay caps the wait. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:   3,
		BaseDelay:  2 * time.Second,
		Multiplier: 2,
	}
}

// ShouldRetry reports whether a job that has run attemptsMade times may run again.
func (p RetryPolicy) ShouldRetry(attemptsMade int) bool {
	return attemptsMade < p.Attempts
}

// Delay returns the wait before the next run of a job that has failed
// failures times. Delay(1) is BaseDelay, Delay(2) is BaseDelay*Multiplier.
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}

	b := p.newBackOff()
	var d time.Duration
	for i := 0; i < failures; i++ {
		d = b.NextBackOff()
	}
	return d
}

// newBackOff builds a jitter-free exponential schedule that never gives up on
// its own; the attempt budget is enforced by ShouldRetry.
func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 24 * time.Hour
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
