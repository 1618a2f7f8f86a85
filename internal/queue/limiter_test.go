package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertWindowCap fails if any window of the given length holds more than
// limit of the sorted times.
func assertWindowCap(t *testing.T, times []time.Time, limit int, window time.Duration) {
	t.Helper()
	for i := 0; i+limit < len(times); i++ {
		gap := times[i+limit].Sub(times[i])
		assert.GreaterOrEqual(t, gap, window,
			"starts %d..%d fall inside one window (%v)", i, i+limit, gap)
	}
}

func TestWindowLimiter_CapsEveryWindow(t *testing.T) {
	const limit = 4
	window := 200 * time.Millisecond
	l := newWindowLimiter(limit, window)

	var admitted []time.Time
	for i := 0; i < 3*limit; i++ {
		at, err := l.Wait(context.Background())
		require.NoError(t, err)
		admitted = append(admitted, at)
	}

	assertWindowCap(t, admitted, limit, window)
	assert.GreaterOrEqual(t, admitted[len(admitted)-1].Sub(admitted[0]), 2*window)
}

func TestWindowLimiter_LateWakeupStillCapped(t *testing.T) {
	l := newWindowLimiter(2, time.Second)
	base := time.Unix(1700000000, 0)
	clock := base
	l.now = func() time.Time { return clock }

	at, wait := l.admit()
	assert.Zero(t, wait)
	assert.Equal(t, base, at)

	clock = base.Add(400 * time.Millisecond)
	_, wait = l.admit()
	assert.Zero(t, wait)

	// Third start before the first leaves the window.
	clock = base.Add(900 * time.Millisecond)
	_, wait = l.admit()
	assert.Equal(t, 100*time.Millisecond, wait)

	clock = base.Add(time.Second)
	at, wait = l.admit()
	assert.Zero(t, wait)
	assert.Equal(t, clock, at)

	// The ring now holds 400ms and 1000ms.
	clock = base.Add(1200 * time.Millisecond)
	_, wait = l.admit()
	assert.Equal(t, 200*time.Millisecond, wait)
}

func TestWindowLimiter_Disabled(t *testing.T) {
	assert.Nil(t, newWindowLimiter(0, time.Minute))
	assert.Nil(t, newWindowLimiter(10, 0))

	var l *windowLimiter
	for i := 0; i < 1000; i++ {
		_, err := l.Wait(context.Background())
		require.NoError(t, err)
	}
}

func TestWindowLimiter_WaitCancelled(t *testing.T) {
	l := newWindowLimiter(1, time.Hour)
	_, err := l.Wait(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Wait(ctx)
	assert.Error(t, err)
}
