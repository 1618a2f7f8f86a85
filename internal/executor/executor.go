// Package executor drives an order through its status progression.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/idhash"
	"solana-order-router/internal/observability"
	"solana-order-router/internal/storage"
)

// Executor errors.
var (
	ErrNilOrder          = errors.New("nil order")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// interruptedMessage is recorded for orders found mid-run when a job starts.
const interruptedMessage = "execution interrupted before reaching a terminal status"

// Router quotes and settles swaps.
type Router interface {
	GetBestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (domain.BestQuote, error)
	ExecuteSwap(ctx context.Context, venue domain.Venue, tokenIn, tokenOut string, amountIn, expectedAmountOut float64) (domain.SwapResult, error)
}

// Publisher pushes best-effort updates to a live subscriber.
type Publisher interface {
	Push(orderID string, u domain.StatusUpdate) bool
}

// Executor owns the per-order state machine. One Executor serves every
// order; a single order must only be run by one goroutine at a time.
type Executor struct {
	router    Router
	publisher Publisher
	orders    storage.OrderStore
	decisions storage.RoutingDecisionStore
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithDecisionStore records every routing comparison to s.
func WithDecisionStore(s storage.RoutingDecisionStore) Option {
	return func(e *Executor) { e.decisions = s }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor.
func New(router Router, publisher Publisher, orders storage.OrderStore, opts ...Option) *Executor {
	e := &Executor{
		router:    router,
		publisher: publisher,
		orders:    orders,
		logger:    zap.NewNop().Sugar(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute loads the stored order and runs it from pending. It returns an
// error only when the order cannot be run at all: the store lookup failed or
// the run was abandoned because ctx ended.
//
// A terminal order is left alone. An order found past pending but not
// terminal belonged to an abandoned run and is marked failed.
func (e *Executor) Execute(ctx context.Context, orderID string) error {
	order, err := e.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}

	switch {
	case order.Status.IsTerminal():
		e.logger.Infow("order already terminal, skipping", "order_id", orderID, "status", order.Status)
		return nil
	case order.Status != domain.OrderStatusPending:
		e.logger.Warnw("order found mid-run, marking failed", "order_id", orderID, "status", order.Status)
		e.fail(ctx, order, interruptedMessage)
		observability.RecordOrderFinished(string(domain.OrderStatusFailed), 0)
		return nil
	}

	return e.Run(ctx, order)
}

// Run advances order from pending to confirmed, or to failed on any error.
// Execution errors end in the failed status and Run returns nil. Run
// returns an error only for a nil order or when ctx ends mid-run; the order
// is then left in its last status for the job's retry to settle.
func (e *Executor) Run(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return ErrNilOrder
	}

	start := e.now()
	log := e.logger.With("order_id", order.OrderID)
	log.Infow("order execution started",
		"token_in", order.TokenIn,
		"token_out", order.TokenOut,
		"amount_in", order.AmountIn,
	)

	if err := e.execute(ctx, order, log); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warnw("order execution abandoned", "status", order.Status, "error", err)
			return fmt.Errorf("order %s abandoned in %s: %w", order.OrderID, order.Status, ctxErr)
		}

		log.Errorw("order execution failed", "status", order.Status, "error", err)
		e.fail(ctx, order, err.Error())
		observability.RecordOrderFinished(string(domain.OrderStatusFailed), e.now().Sub(start).Seconds())
		return nil
	}

	log.Infow("order confirmed",
		"venue", order.VenueUsed,
		"tx_hash", order.TxHash,
		"executed_price", order.ExecutedPrice,
		"amount_out", order.AmountOut,
	)
	observability.RecordOrderFinished(string(domain.OrderStatusConfirmed), e.now().Sub(start).Seconds())
	return nil
}

func (e *Executor) execute(ctx context.Context, order *domain.Order, log *zap.SugaredLogger) error {
	if err := e.transition(ctx, order, domain.RoutingUpdate(), "comparing venue prices", log); err != nil {
		return err
	}

	best, err := e.router.GetBestQuote(ctx, order.TokenIn, order.TokenOut, order.AmountIn)
	if err != nil {
		return fmt.Errorf("get best quote: %w", err)
	}
	e.recordDecision(ctx, order, best, log)

	building := fmt.Sprintf("building transaction for %s", best.Venue)
	if err := e.transition(ctx, order, domain.BuildingUpdate(best.Venue, best.AmountOut), building, log); err != nil {
		return err
	}

	if err := e.transition(ctx, order, domain.SubmittedUpdate(best.Venue), "transaction submitted to network", log); err != nil {
		return err
	}

	result, err := e.router.ExecuteSwap(ctx, best.Venue, order.TokenIn, order.TokenOut, order.AmountIn, best.AmountOut)
	if err != nil {
		return fmt.Errorf("execute swap on %s: %w", best.Venue, err)
	}

	return e.transition(ctx, order, domain.ConfirmedUpdate(best.Venue, result), "transaction confirmed", log)
}

// transition pushes the update, applies it to order, then persists it.
// Persistence failures are logged and do not stop the run.
func (e *Executor) transition(ctx context.Context, order *domain.Order, u domain.OrderUpdate, message string, log *zap.SugaredLogger) error {
	if !order.Status.CanTransitionTo(u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, u.Status)
	}

	update := domain.StatusUpdate{
		OrderID:       order.OrderID,
		Status:        u.Status,
		Message:       message,
		VenueUsed:     u.VenueUsed,
		TxHash:        u.TxHash,
		ExecutedPrice: u.ExecutedPrice,
	}
	if u.ErrorMessage != nil {
		update.Error = *u.ErrorMessage
	}
	observability.RecordLiveUpdate(e.publisher.Push(order.OrderID, update))

	u.Apply(order, e.now())

	start := time.Now()
	err := e.orders.Update(ctx, order.OrderID, u)
	observability.RecordDBQuery("orders", "update", time.Since(start).Seconds(), err)
	if err != nil {
		log.Errorw("persist transition failed", "status", u.Status, "error", err)
	}
	return nil
}

// fail moves a non-terminal order to failed.
func (e *Executor) fail(ctx context.Context, order *domain.Order, message string) {
	log := e.logger.With("order_id", order.OrderID)
	if order.Status.IsTerminal() {
		log.Warnw("cannot fail terminal order", "status", order.Status, "error", message)
		return
	}
	_ = e.transition(ctx, order, domain.FailedUpdate(message), "", log)
}

// recordDecision logs the full venue comparison and stores the audit row.
func (e *Executor) recordDecision(ctx context.Context, order *domain.Order, best domain.BestQuote, log *zap.SugaredLogger) {
	decidedAt := e.now().UnixMilli()
	decision := domain.NewRoutingDecision(order, best, decidedAt)
	decision.DecisionID = idhash.ComputeDecisionID(order.OrderID, best.Venue, decidedAt)

	diff, pct := domain.QuoteDifference(decision.RaydiumAmountOut, decision.MeteoraAmountOut)

	fields := make([]any, 0, 6*len(best.Candidates)+12)
	for _, q := range best.Candidates {
		fields = append(fields,
			string(q.Venue)+"_price", q.Price,
			string(q.Venue)+"_fee", q.Fee,
			string(q.Venue)+"_amount_out", q.AmountOut,
		)
	}
	fields = append(fields,
		"price_difference", diff.StringFixed(4),
		"price_difference_percent", pct.StringFixed(2)+"%",
		"selected_venue", best.Venue,
		"selected_price", best.Price,
		"selected_amount_out", best.AmountOut,
		"reason", selectionReason(best.Venue, diff.StringFixed(4), pct.StringFixed(2), diff.IsZero()),
	)
	log.Infow("routing decision: price comparison completed", fields...)

	observability.RecordRoutingDecision(string(best.Venue), decision.DifferencePct)

	if e.decisions == nil {
		return
	}
	if err := e.decisions.Insert(ctx, decision); err != nil {
		log.Warnw("record routing decision failed", "decision_id", decision.DecisionID, "error", err)
	}
}

func selectionReason(venue domain.Venue, diff, pct string, tie bool) string {
	if tie {
		return fmt.Sprintf("quotes tied, %s listed first", venue)
	}
	return fmt.Sprintf("%s offers %s more tokens (%s%% better)", venue, diff, pct)
}
