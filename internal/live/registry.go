package live

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"solana-order-router/internal/domain"
)

// ErrSenderClosed is returned by Send once the connection has gone away.
var ErrSenderClosed = errors.New("sender closed")

// Sender is the push capability of one subscriber connection.
type Sender interface {
	// Send delivers an update without blocking on the network.
	Send(u domain.StatusUpdate) error
	// Open reports whether the connection can still accept updates.
	Open() bool
	// Done is closed when the connection is gone.
	Done() <-chan struct{}
}

// Registry maps each order id to at most one Sender. Registering a sender
// for an id that already has one replaces it; the previous sender receives
// nothing further. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
	logger  *zap.SugaredLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		senders: make(map[string]Sender),
		logger:  logger,
	}
}

// Register makes s the subscriber for orderID. s is removed automatically
// when its Done channel closes, unless it was replaced before that.
func (r *Registry) Register(orderID string, s Sender) {
	r.mu.Lock()
	prev, replaced := r.senders[orderID]
	r.senders[orderID] = s
	r.mu.Unlock()

	if replaced && prev != s {
		r.logger.Infow("live subscriber replaced", "order_id", orderID)
	} else {
		r.logger.Infow("live subscriber registered", "order_id", orderID)
	}

	go func() {
		<-s.Done()
		if r.Deregister(orderID, s) {
			r.logger.Infow("live subscriber closed", "order_id", orderID)
		}
	}()
}

// Deregister removes s if it is still the subscriber for orderID.
// It reports whether anything was removed.
func (r *Registry) Deregister(orderID string, s Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.senders[orderID]; ok && cur == s {
		delete(r.senders, orderID)
		return true
	}
	return false
}

// Push hands u to the subscriber for orderID. Updates for ids with no open
// subscriber are dropped. It reports whether the sender accepted u.
func (r *Registry) Push(orderID string, u domain.StatusUpdate) bool {
	r.mu.RLock()
	s, ok := r.senders[orderID]
	r.mu.RUnlock()

	if !ok || !s.Open() {
		return false
	}
	if err := s.Send(u); err != nil {
		r.logger.Debugw("live update dropped", "order_id", orderID, "status", u.Status, "error", err)
		return false
	}
	return true
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders)
}
