package dex

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"solana-order-router/internal/domain"
)

// Router errors.
var (
	ErrUnknownVenue  = errors.New("unknown venue")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// venueProfile is the pricing behavior of one simulated venue.
type venueProfile struct {
	minVariance float64 // multiplier applied to the base price, lower bound
	maxVariance float64 // upper bound
	fee         float64
}

var profiles = map[domain.Venue]venueProfile{
	domain.VenueRaydium: {minVariance: 0.98, maxVariance: 1.02, fee: 0.003},
	domain.VenueMeteora: {minVariance: 0.97, maxVariance: 1.02, fee: 0.002},
}

// Simulated timings and ranges.
const (
	minBasePrice = 0.1
	maxBasePrice = 10.0

	quoteLatencyMin  = 200 * time.Millisecond
	quoteLatencyMax  = 300 * time.Millisecond
	executionTimeMin = 2000 * time.Millisecond
	executionTimeMax = 3000 * time.Millisecond
	buildDelayMin    = 1000 * time.Millisecond
	buildDelayMax    = 1500 * time.Millisecond
	confirmDelayMin  = 2000 * time.Millisecond
	confirmDelayMax  = 3000 * time.Millisecond
	minSlippage      = 0.001
	maxSlippage      = 0.005
	txHashBytes      = 32
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Router quotes and settles swaps against the simulated venues.
// Safe for concurrent use.
type Router struct {
	cache  *PriceCache
	sleep  SleepFunc
	logger *zap.SugaredLogger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Router.
type Option func(*Router)

// WithSleep replaces the latency simulation.
func WithSleep(fn SleepFunc) Option {
	return func(r *Router) { r.sleep = fn }
}

// WithoutLatency disables all simulated waits.
func WithoutLatency() Option {
	return WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
}

// WithRand sets the random source. The Router serializes access to it.
func WithRand(rng *rand.Rand) Option {
	return func(r *Router) { r.rng = rng }
}

// WithPriceCache shares a base price cache between routers.
func WithPriceCache(c *PriceCache) Option {
	return func(r *Router) { r.cache = c }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a Router with its own price cache.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		cache:  NewPriceCache(),
		sleep:  sleepContext,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r
}

// PriceCache returns the router's base price cache.
func (r *Router) PriceCache() *PriceCache {
	return r.cache
}

// GetQuote returns venue's quote for converting amountIn of tokenIn.
func (r *Router) GetQuote(ctx context.Context, venue domain.Venue, tokenIn, tokenOut string, amountIn float64) (domain.Quote, error) {
	profile, ok := profiles[venue]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: %q", ErrUnknownVenue, venue)
	}
	if !(amountIn > 0) {
		return domain.Quote{}, ErrInvalidAmount
	}

	if err := r.sleep(ctx, r.duration(quoteLatencyMin, quoteLatencyMax)); err != nil {
		return domain.Quote{}, fmt.Errorf("%s quote: %w", venue, err)
	}

	base := r.basePrice(tokenIn, tokenOut)
	price := base * r.uniform(profile.minVariance, profile.maxVariance)

	return domain.Quote{
		Venue:         venue,
		Price:         price,
		Fee:           profile.fee,
		AmountOut:     amountIn * price * (1 - profile.fee),
		ExecutionTime: r.duration(executionTimeMin, executionTimeMax),
	}, nil
}

// GetBestQuote queries every venue concurrently and returns the quote with the
// greatest AmountOut. Ties go to the venue listed first in domain.Venues.
func (r *Router) GetBestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (domain.BestQuote, error) {
	quotes := make([]domain.Quote, len(domain.Venues))

	g, gctx := errgroup.WithContext(ctx)
	for i, venue := range domain.Venues {
		i, venue := i, venue
		g.Go(func() error {
			q, err := r.GetQuote(gctx, venue, tokenIn, tokenOut, amountIn)
			if err != nil {
				return err
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.BestQuote{}, err
	}

	best := selectBest(quotes)

	r.logger.Debugw("best quote selected",
		"token_in", tokenIn,
		"token_out", tokenOut,
		"amount_in", amountIn,
		"venue", best.Venue,
		"amount_out", best.AmountOut,
	)

	return domain.BestQuote{Quote: best, Candidates: quotes}, nil
}

// selectBest returns the quote with the greatest AmountOut. On a tie the
// earlier quote wins. quotes must not be empty.
func selectBest(quotes []domain.Quote) domain.Quote {
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.AmountOut > best.AmountOut {
			best = q
		}
	}
	return best
}

// ExecuteSwap simulates building and confirming a swap on venue. The settled
// amount is always strictly below expectedAmountOut.
func (r *Router) ExecuteSwap(ctx context.Context, venue domain.Venue, tokenIn, tokenOut string, amountIn, expectedAmountOut float64) (domain.SwapResult, error) {
	if _, ok := profiles[venue]; !ok {
		return domain.SwapResult{}, fmt.Errorf("%w: %q", ErrUnknownVenue, venue)
	}
	if !(amountIn > 0) || !(expectedAmountOut > 0) {
		return domain.SwapResult{}, ErrInvalidAmount
	}

	if err := r.sleep(ctx, r.duration(buildDelayMin, buildDelayMax)); err != nil {
		return domain.SwapResult{}, fmt.Errorf("build %s transaction: %w", venue, err)
	}
	if err := r.sleep(ctx, r.duration(confirmDelayMin, confirmDelayMax)); err != nil {
		return domain.SwapResult{}, fmt.Errorf("confirm %s transaction: %w", venue, err)
	}

	slippage := r.uniform(minSlippage, maxSlippage)
	actual := expectedAmountOut * (1 - slippage)

	r.logger.Debugw("swap settled",
		"venue", venue,
		"token_in", tokenIn,
		"token_out", tokenOut,
		"expected_amount_out", expectedAmountOut,
		"actual_amount_out", actual,
		"slippage", slippage,
	)

	return domain.SwapResult{
		TxHash:          r.txHash(),
		ExecutedPrice:   actual / amountIn,
		ActualAmountOut: actual,
	}, nil
}

func (r *Router) basePrice(tokenIn, tokenOut string) float64 {
	return r.cache.GetOrCreate(tokenIn, tokenOut, func() float64 {
		return r.uniform(minBasePrice, maxBasePrice)
	})
}

// uniform returns a value in [lo, hi).
func (r *Router) uniform(lo, hi float64) float64 {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return lo + r.rng.Float64()*(hi-lo)
}

// duration returns a value in [lo, hi].
func (r *Router) duration(lo, hi time.Duration) time.Duration {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return lo + time.Duration(r.rng.Int63n(int64(hi-lo)+1))
}

func (r *Router) txHash() string {
	buf := make([]byte, txHashBytes)
	r.rngMu.Lock()
	r.rng.Read(buf)
	r.rngMu.Unlock()
	return "0x" + hex.EncodeToString(buf)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
