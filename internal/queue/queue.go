// Package queue admits orders as jobs and dispatches them to a bounded pool
// of workers with retry and retention.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/observability"
)

// Queue errors.
var (
	ErrQueueClosed  = errors.New("queue closed")
	ErrInvalidJob   = errors.New("invalid job")
	ErrJobNotActive = errors.New("job not active")
	ErrJobAbandoned = errors.New("job abandoned on shutdown")
)

// JobState is the position of a job in the queue.
type JobState string

// Job states.
const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is one dispatch of an order.
type Job struct {
	ID      string        // order id, the dedup key
	Order   *domain.Order // snapshot taken at enqueue
	Attempt int           // 1-based run number of this dispatch
}

// JobInfo describes a job for observability.
type JobInfo struct {
	ID           string
	State        JobState
	AttemptsMade int
	LastError    string
	EnqueuedAt   time.Time
	RunAt        time.Time // next eligible run for delayed jobs
	FinishedAt   time.Time
}

// QueueMetrics is the queue depth by state. Delayed jobs count as waiting.
type QueueMetrics struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Options configures a Queue.
type Options struct {
	Retry             RetryPolicy
	CompletedMaxCount int           // completed jobs kept, newest first
	CompletedMaxAge   time.Duration // completed jobs older than this are dropped
	FailedMaxAge      time.Duration // failed jobs older than this are dropped
	Logger            *zap.SugaredLogger
	Now               func() time.Time
}

// DefaultOptions returns the default retry and retention settings.
func DefaultOptions() Options {
	return Options{
		Retry:             DefaultRetryPolicy(),
		CompletedMaxCount: 1000,
		CompletedMaxAge:   time.Hour,
		FailedMaxAge:      24 * time.Hour,
	}
}

type jobEntry struct {
	order        domain.Order
	state        JobState
	attemptsMade int
	lastError    string
	enqueuedAt   time.Time
	runAt        time.Time
	finishedAt   time.Time
}

func (e *jobEntry) info() JobInfo {
	return JobInfo{
		ID:           e.order.OrderID,
		State:        e.state,
		AttemptsMade: e.attemptsMade,
		LastError:    e.lastError,
		EnqueuedAt:   e.enqueuedAt,
		RunAt:        e.runAt,
		FinishedAt:   e.finishedAt,
	}
}

// Queue is an in-process FIFO job queue keyed by order id. A job id is
// admitted once; it becomes admissible again only after retention drops it.
// Safe for concurrent use.
type Queue struct {
	opts   Options
	logger *zap.SugaredLogger

	mu        sync.Mutex
	jobs      map[string]*jobEntry
	waiting   []*jobEntry // FIFO
	delayed   []*jobEntry
	completed []*jobEntry // oldest first
	failed    []*jobEntry // oldest first
	active    int
	closed    bool

	notify chan struct{}
	done   chan struct{}
}

// New creates a Queue.
func New(opts Options) *Queue {
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Queue{
		opts:   opts,
		logger: logger,
		jobs:   make(map[string]*jobEntry),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue admits order as a job. It returns false without error when a job
// with the same id is already known in any state. It never waits for the job
// to run.
func (q *Queue) Enqueue(ctx context.Context, order *domain.Order) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if order == nil || order.OrderID == "" {
		return false, ErrInvalidJob
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	if e, ok := q.jobs[order.OrderID]; ok {
		q.logger.Infow("duplicate job ignored", "job_id", order.OrderID, "state", e.state)
		observability.RecordJobDeduplicated()
		return false, nil
	}

	e := &jobEntry{
		order:      *order,
		state:      JobStateWaiting,
		enqueuedAt: q.opts.Now(),
	}
	q.jobs[order.OrderID] = e
	q.waiting = append(q.waiting, e)
	q.signal()

	q.logger.Debugw("job enqueued", "job_id", order.OrderID, "waiting", len(q.waiting))
	return true, nil
}

// Next blocks until a job is ready, marks it active and returns it.
// Delayed jobs become ready once their backoff has elapsed.
func (q *Queue) Next(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrQueueClosed
		}

		now := q.opts.Now()
		q.promoteLocked(now)

		if len(q.waiting) > 0 {
			e := q.waiting[0]
			q.waiting[0] = nil
			q.waiting = q.waiting[1:]

			e.state = JobStateActive
			e.attemptsMade++
			q.active++
			order := e.order
			job := Job{ID: order.OrderID, Order: &order, Attempt: e.attemptsMade}
			q.mu.Unlock()
			return job, nil
		}

		wait, hasDelayed := q.nextRunLocked(now)
		q.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if hasDelayed {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return Job{}, ctx.Err()
		case <-q.done:
			if timer != nil {
				timer.Stop()
			}
			return Job{}, ErrQueueClosed
		case <-q.notify:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Complete marks an active job completed.
func (q *Queue) Complete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.activeLocked(id)
	if err != nil {
		return err
	}

	now := q.opts.Now()
	q.active--
	e.state = JobStateCompleted
	e.finishedAt = now
	e.lastError = ""
	q.completed = append(q.completed, e)
	q.pruneLocked(now)
	return nil
}

// Fail records a failed run. The job is delayed for another attempt if the
// retry policy allows one, otherwise it moves to failed. It reports whether
// the job will run again and after what delay.
func (q *Queue) Fail(id string, cause error) (retry bool, delay time.Duration, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, err := q.activeLocked(id)
	if err != nil {
		return false, 0, err
	}

	now := q.opts.Now()
	q.active--
	if cause != nil {
		e.lastError = cause.Error()
	}

	if q.opts.Retry.ShouldRetry(e.attemptsMade) {
		delay = q.opts.Retry.Delay(e.attemptsMade)
		e.state = JobStateDelayed
		e.runAt = now.Add(delay)
		q.delayed = append(q.delayed, e)
		q.signal()
		return true, delay, nil
	}

	e.state = JobStateFailed
	e.finishedAt = now
	q.failed = append(q.failed, e)
	q.pruneLocked(now)
	return false, 0, nil
}

// Abandon returns an active job whose run was cut short to the retry policy,
// as if the run had failed.
func (q *Queue) Abandon(id string) (retry bool, delay time.Duration, err error) {
	return q.Fail(id, ErrJobAbandoned)
}

// Get returns the job's current state.
func (q *Queue) Get(id string) (JobInfo, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return JobInfo{}, false
	}
	return e.info(), true
}

// Metrics returns the queue depth by state after applying retention.
func (q *Queue) Metrics() QueueMetrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked(q.opts.Now())
	return QueueMetrics{
		Waiting:   len(q.waiting) + len(q.delayed),
		Active:    q.active,
		Completed: len(q.completed),
		Failed:    len(q.failed),
	}
}

// Counts adapts Metrics to observability.QueueCounts.
func (q *Queue) Counts() (waiting, active, completed, failed int) {
	m := q.Metrics()
	return m.Waiting, m.Active, m.Completed, m.Failed
}

// Close stops admission and wakes any blocked Next.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) activeLocked(id string) (*jobEntry, error) {
	e, ok := q.jobs[id]
	if !ok || e.state != JobStateActive {
		return nil, fmt.Errorf("%w: %s", ErrJobNotActive, id)
	}
	return e, nil
}

// promoteLocked moves delayed jobs that are due to the back of the waiting
// list, earliest first.
func (q *Queue) promoteLocked(now time.Time) {
	if len(q.delayed) == 0 {
		return
	}

	var due []*jobEntry
	remaining := q.delayed[:0]
	for _, e := range q.delayed {
		if !e.runAt.After(now) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	for i := len(remaining); i < len(q.delayed); i++ {
		q.delayed[i] = nil
	}
	q.delayed = remaining

	sort.SliceStable(due, func(i, j int) bool { return due[i].runAt.Before(due[j].runAt) })
	for _, e := range due {
		e.state = JobStateWaiting
		e.runAt = time.Time{}
		q.waiting = append(q.waiting, e)
	}
}

// nextRunLocked returns the wait until the earliest delayed job is due.
func (q *Queue) nextRunLocked(now time.Time) (time.Duration, bool) {
	if len(q.delayed) == 0 {
		return 0, false
	}
	earliest := q.delayed[0].runAt
	for _, e := range q.delayed[1:] {
		if e.runAt.Before(earliest) {
			earliest = e.runAt
		}
	}
	return earliest.Sub(now), true
}

// pruneLocked applies the retention limits to finished jobs.
func (q *Queue) pruneLocked(now time.Time) {
	keep := q.completed[:0]
	excess := len(q.completed) - q.opts.CompletedMaxCount
	for i, e := range q.completed {
		expired := q.opts.CompletedMaxAge > 0 && now.Sub(e.finishedAt) > q.opts.CompletedMaxAge
		overCount := q.opts.CompletedMaxCount > 0 && i < excess
		if expired || overCount {
			delete(q.jobs, e.order.OrderID)
			continue
		}
		keep = append(keep, e)
	}
	for i := len(keep); i < len(q.completed); i++ {
		q.completed[i] = nil
	}
	q.completed = keep

	if q.opts.FailedMaxAge <= 0 {
		return
	}
	keepFailed := q.failed[:0]
	for _, e := range q.failed {
		if now.Sub(e.finishedAt) > q.opts.FailedMaxAge {
			delete(q.jobs, e.order.OrderID)
			continue
		}
		keepFailed = append(keepFailed, e)
	}
	for i := len(keepFailed); i < len(q.failed); i++ {
		q.failed[i] = nil
	}
	q.failed = keepFailed
}
