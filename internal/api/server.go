package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/live"
	"solana-order-router/internal/observability"
	"solana-order-router/internal/queue"
	"solana-order-router/internal/storage"
)

// OrderQueue admits orders for execution and reports queue depth.
type OrderQueue interface {
	Enqueue(ctx context.Context, order *domain.Order) (bool, error)
	Metrics() queue.QueueMetrics
}

// Subscriptions attaches a live sender to an order.
type Subscriptions interface {
	Register(orderID string, s live.Sender)
}

// Server is the HTTP and websocket surface of the router.
type Server struct {
	orders   storage.OrderStore
	queue    OrderQueue
	subs     Subscriptions
	upgrader websocket.Upgrader
	wsConfig live.WSConfig
	logger   *zap.SugaredLogger
	newID    func() string
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWSConfig sets buffering and keepalive of websocket senders.
func WithWSConfig(cfg live.WSConfig) Option {
	return func(s *Server) { s.wsConfig = cfg }
}

// WithIDGenerator replaces uuid order ids.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) { s.newID = fn }
}

// WithClock sets the time source for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a Server.
func NewServer(orders storage.OrderStore, q OrderQueue, subs Subscriptions, opts ...Option) *Server {
	s := &Server{
		orders:   orders,
		queue:    q,
		subs:     subs,
		wsConfig: live.DefaultWSConfig(),
		logger:   zap.NewNop().Sugar(),
		newID:    uuid.NewString,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("api")
	return s
}

// Handler returns the gin engine with all routes registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	orders := r.Group("/api/orders")
	orders.POST("/execute", s.submitOrder)
	orders.GET("/execute", s.subscribe)
	orders.GET("/metrics/queue", s.queueMetrics)
	orders.GET("/:orderId", s.getOrder)

	return r
}

// requestLogger logs server errors and slow requests.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusInternalServerError && len(c.Errors) == 0 {
			return
		}
		s.logger.Errorw("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
			"errors", c.Errors.String(),
		)
	}
}
