package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Retry.BaseDelay = 10 * time.Millisecond
	return opts
}

func unlimited(concurrency int) PoolOptions {
	return PoolOptions{Concurrency: concurrency}
}

func shutdown(t *testing.T, p *WorkerPool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestWorkerPool_RunsEachJobOnce(t *testing.T) {
	q := New(fastOptions())
	var mu sync.Mutex
	runs := map[string]int{}

	p := NewWorkerPool(q, func(_ context.Context, job Job) error {
		mu.Lock()
		runs[job.ID]++
		mu.Unlock()
		return nil
	}, unlimited(4))
	p.Start(context.Background())
	defer shutdown(t, p)

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("order-%d", i%10)
		_, err := q.Enqueue(context.Background(), testOrder(id))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return q.Metrics().Completed == 10 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, runs, 10)
	for id, n := range runs {
		assert.Equal(t, 1, n, "job %s ran more than once", id)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	q := New(fastOptions())
	var active, peak atomic.Int32
	release := make(chan struct{})

	p := NewWorkerPool(q, func(_ context.Context, _ Job) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	}, unlimited(2))
	p.Start(context.Background())

	for i := 0; i < 6; i++ {
		_, err := q.Enqueue(context.Background(), testOrder(fmt.Sprintf("order-%d", i)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return q.Metrics().Active == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, 4, q.Metrics().Waiting)

	close(release)
	require.Eventually(t, func() bool { return q.Metrics().Completed == 6 }, 2*time.Second, 5*time.Millisecond)
	shutdown(t, p)
}

func TestWorkerPool_RetriesHandlerErrors(t *testing.T) {
	q := New(fastOptions())
	var calls atomic.Int32

	p := NewWorkerPool(q, func(_ context.Context, _ Job) error {
		if calls.Add(1) < 3 {
			return errors.New("store unavailable")
		}
		return nil
	}, unlimited(1))
	p.Start(context.Background())
	defer shutdown(t, p)

	_, err := q.Enqueue(context.Background(), testOrder("order-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Metrics().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())

	info, _ := q.Get("order-1")
	assert.Equal(t, 3, info.AttemptsMade)
}

func TestWorkerPool_ExhaustedRetriesFail(t *testing.T) {
	q := New(fastOptions())
	var calls atomic.Int32

	p := NewWorkerPool(q, func(_ context.Context, _ Job) error {
		calls.Add(1)
		panic("handler bug")
	}, unlimited(1))
	p.Start(context.Background())
	defer shutdown(t, p)

	_, err := q.Enqueue(context.Background(), testOrder("order-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Metrics().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())

	info, _ := q.Get("order-1")
	assert.Contains(t, info.LastError, "handler panic")
}

func TestWorkerPool_RateLimited(t *testing.T) {
	const (
		jobs  = 12
		limit = 4
	)
	window := 200 * time.Millisecond

	q := New(fastOptions())
	var mu sync.Mutex
	var starts []time.Time

	p := NewWorkerPool(q, func(_ context.Context, _ Job) error {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return nil
	}, PoolOptions{Concurrency: 10, LimiterMax: limit, LimiterWindow: window})

	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(context.Background(), testOrder(fmt.Sprintf("order-%d", i)))
		require.NoError(t, err)
	}
	p.Start(context.Background())
	defer shutdown(t, p)

	require.Eventually(t, func() bool { return q.Metrics().Completed == jobs }, 3*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, jobs)
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	// Handler start times trail admission by goroutine scheduling only.
	assertWindowCap(t, starts, limit, window-20*time.Millisecond)

	inFirstWindow := 0
	for _, s := range starts {
		if s.Sub(starts[0]) < window-20*time.Millisecond {
			inFirstWindow++
		}
	}
	assert.LessOrEqual(t, inFirstWindow, limit)
}

func TestWorkerPool_ShutdownWaitsForInFlight(t *testing.T) {
	q := New(fastOptions())
	var finished atomic.Bool

	p := NewWorkerPool(q, func(_ context.Context, _ Job) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}, unlimited(1))
	p.Start(context.Background())

	_, err := q.Enqueue(context.Background(), testOrder("order-1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Metrics().Active == 1 }, time.Second, time.Millisecond)

	shutdown(t, p)
	assert.True(t, finished.Load())
	assert.Equal(t, 1, q.Metrics().Completed)
}

func TestWorkerPool_ShutdownTimeoutAbandons(t *testing.T) {
	q := New(fastOptions())
	cancelled := make(chan struct{})

	p := NewWorkerPool(q, func(ctx context.Context, _ Job) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, unlimited(1))
	p.Start(context.Background())

	_, err := q.Enqueue(context.Background(), testOrder("order-1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return q.Metrics().Active == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight run was not cancelled")
	}

	info, ok := q.Get("order-1")
	require.True(t, ok)
	assert.Equal(t, JobStateDelayed, info.State)
	assert.Equal(t, 1, info.AttemptsMade)
	assert.Equal(t, ErrJobAbandoned.Error(), info.LastError)
}

func TestWorkerPool_ShutdownBeforeStart(t *testing.T) {
	p := NewWorkerPool(New(DefaultOptions()), func(context.Context, Job) error { return nil }, DefaultPoolOptions())
	assert.NoError(t, p.Shutdown(context.Background()))
}

// runnerFunc adapts a function to OrderRunner.
type runnerFunc func(ctx context.Context, orderID string) error

func (f runnerFunc) Execute(ctx context.Context, orderID string) error { return f(ctx, orderID) }

func TestExecutorHandler_PassesOrderID(t *testing.T) {
	var got string
	h := ExecutorHandler(runnerFunc(func(_ context.Context, orderID string) error {
		got = orderID
		return errors.New("load failed")
	}))

	err := h(context.Background(), Job{ID: "order-9"})
	assert.EqualError(t, err, "load failed")
	assert.Equal(t, "order-9", got)
}
