package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// windowLimiter admits at most limit starts in any window of the given length.
// Starts are paced evenly by a one-token bucket; the log of the last limit
// admissions enforces the cap when a paced wakeup runs late.
type windowLimiter struct {
	pace   *rate.Limiter
	limit  int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	starts []time.Time // ring of the last limit admissions
	next   int
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &windowLimiter{
		pace:   rate.NewLimiter(rate.Every(window/time.Duration(limit)), 1),
		limit:  limit,
		window: window,
		now:    time.Now,
		starts: make([]time.Time, 0, limit),
	}
}

// Wait blocks until a start is allowed and returns the admission time.
// A nil limiter admits immediately.
func (l *windowLimiter) Wait(ctx context.Context) (time.Time, error) {
	if l == nil {
		return time.Now(), nil
	}
	if err := l.pace.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	for {
		at, wait := l.admit()
		if wait <= 0 {
			return at, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// admit records a start if the window has room, otherwise returns how long
// until the oldest start leaves the window.
func (l *windowLimiter) admit() (time.Time, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.starts) < l.limit {
		l.starts = append(l.starts, now)
		return now, 0
	}

	oldest := l.starts[l.next]
	if wait := oldest.Add(l.window).Sub(now); wait > 0 {
		return time.Time{}, wait
	}
	l.starts[l.next] = now
	l.next = (l.next + 1) % l.limit
	return now, 0
}
