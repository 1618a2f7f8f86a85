package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-order-router/internal/observability"
)

// Handler runs one dispatched job. A returned error sends the job back to
// the retry policy.
type Handler func(ctx context.Context, job Job) error

// PoolOptions configures a WorkerPool.
type PoolOptions struct {
	// Concurrency is the number of jobs run at once.
	Concurrency int
	// At most LimiterMax jobs start in any LimiterWindow. Zero disables the
	// limiter.
	LimiterMax    int
	LimiterWindow time.Duration
	Logger        *zap.SugaredLogger
}

// DefaultPoolOptions returns 10 workers and at most 100 starts per minute.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		Concurrency:   10,
		LimiterMax:    100,
		LimiterWindow: time.Minute,
	}
}

// WorkerPool pulls jobs from a Queue and runs each on exactly one worker.
// It reports outcomes to the queue and never touches order state itself.
type WorkerPool struct {
	queue   *Queue
	handler Handler
	opts    PoolOptions
	limiter *windowLimiter
	logger  *zap.SugaredLogger

	slots chan struct{}
	wg    sync.WaitGroup

	mu           sync.Mutex
	started      bool
	inFlight     map[string]struct{}
	stopDispatch context.CancelFunc
	cancelRuns   context.CancelFunc
	dispatchDone chan struct{}
}

// NewWorkerPool creates a pool. Call Start to begin dispatching.
func NewWorkerPool(queue *Queue, handler Handler, opts PoolOptions) *WorkerPool {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &WorkerPool{
		queue:    queue,
		handler:  handler,
		opts:     opts,
		limiter:  newWindowLimiter(opts.LimiterMax, opts.LimiterWindow),
		logger:   logger,
		slots:    make(chan struct{}, opts.Concurrency),
		inFlight: make(map[string]struct{}),
	}
}

// Start launches the dispatcher. Job runs inherit ctx values but are only
// cancelled by Shutdown.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	p.stopDispatch = stopDispatch
	p.cancelRuns = cancelRuns
	p.dispatchDone = make(chan struct{})

	go p.dispatch(dispatchCtx, runCtx)

	p.logger.Infow("worker pool started",
		"concurrency", p.opts.Concurrency,
		"limiter_max", p.opts.LimiterMax,
		"limiter_window", p.opts.LimiterWindow,
	)
}

// Shutdown stops dispatching and waits for in-flight jobs. If ctx ends first,
// in-flight jobs are handed back to the queue's retry policy, their runs are
// cancelled, and ctx.Err() is returned.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	stopDispatch, cancelRuns, dispatchDone := p.stopDispatch, p.cancelRuns, p.dispatchDone
	p.mu.Unlock()

	stopDispatch()
	<-dispatchDone

	idle := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		cancelRuns()
		p.logger.Infow("worker pool stopped")
		return nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	ids := make([]string, 0, len(p.inFlight))
	for id := range p.inFlight {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		retry, delay, err := p.queue.Abandon(id)
		if err != nil {
			continue // finished while we were collecting ids
		}
		p.logger.Warnw("job abandoned on shutdown", "job_id", id, "retry", retry, "delay", delay)
	}
	cancelRuns()
	return ctx.Err()
}

func (p *WorkerPool) dispatch(ctx context.Context, runCtx context.Context) {
	defer close(p.dispatchDone)

	for {
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		if _, err := p.limiter.Wait(ctx); err != nil {
			<-p.slots
			return
		}

		job, err := p.queue.Next(ctx)
		if err != nil {
			<-p.slots
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrQueueClosed) {
				p.logger.Errorw("dispatch stopped", "error", err)
			}
			return
		}

		p.mu.Lock()
		p.inFlight[job.ID] = struct{}{}
		p.mu.Unlock()

		p.wg.Add(1)
		go p.work(runCtx, job)
	}
}

func (p *WorkerPool) work(ctx context.Context, job Job) {
	defer p.wg.Done()
	defer func() { <-p.slots }()
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, job.ID)
		p.mu.Unlock()
	}()

	log := p.logger.With("job_id", job.ID, "attempt", job.Attempt)
	log.Infow("processing job")
	start := time.Now()

	runErr := p.run(ctx, job)
	elapsed := time.Since(start)

	if runErr == nil {
		if err := p.queue.Complete(job.ID); err != nil {
			log.Debugw("completion not recorded", "error", err)
			return
		}
		log.Infow("job completed", "duration", elapsed)
		observability.RecordJobOutcome("completed")
		return
	}

	retry, delay, err := p.queue.Fail(job.ID, runErr)
	if err != nil {
		log.Debugw("failure not recorded", "error", err)
		return
	}
	if retry {
		log.Warnw("job failed, retry scheduled", "error", runErr, "delay", delay, "duration", elapsed)
		observability.RecordJobOutcome("retry")
		return
	}
	log.Errorw("job failed", "error", runErr, "duration", elapsed)
	observability.RecordJobOutcome("failed")
}

// run calls the handler, turning a panic into an error.
func (p *WorkerPool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}
