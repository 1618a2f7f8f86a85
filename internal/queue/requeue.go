package queue

import (
	"context"
	"fmt"

	"solana-order-router/internal/domain"
)

// UnfinishedOrders lists stored orders that are neither confirmed nor failed.
type UnfinishedOrders interface {
	ListNonTerminal(ctx context.Context) ([]*domain.Order, error)
}

// Requeue admits every unfinished stored order as a job and returns how many
// were admitted. Jobs live only in process memory, so call it before the pool
// starts to resume orders admitted by a previous process. The runner decides
// per order whether to execute it or fail it as interrupted.
func (q *Queue) Requeue(ctx context.Context, orders UnfinishedOrders) (int, error) {
	pending, err := orders.ListNonTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished orders: %w", err)
	}

	admitted := 0
	for _, o := range pending {
		ok, err := q.Enqueue(ctx, o)
		if err != nil {
			return admitted, fmt.Errorf("requeue order %s: %w", o.OrderID, err)
		}
		if ok {
			admitted++
			q.logger.Infow("order requeued", "job_id", o.OrderID, "status", o.Status)
		}
	}
	return admitted, nil
}
