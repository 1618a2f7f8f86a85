package queue

import "context"

// OrderRunner runs a stored order by id.
type OrderRunner interface {
	Execute(ctx context.Context, orderID string) error
}

// ExecutorHandler adapts an OrderRunner to a Handler. The runner's error,
// if any, is what the retry policy sees.
func ExecutorHandler(r OrderRunner) Handler {
	return func(ctx context.Context, job Job) error {
		return r.Execute(ctx, job.ID)
	}
}
