package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"solana-order-router/internal/domain"
	"solana-order-router/internal/live"
	"solana-order-router/internal/observability"
	"solana-order-router/internal/storage"
)

const (
	upgradeInstructions  = "To receive live updates, connect to the websocketUrl via WebSocket"
	enqueueFailedMessage = "order could not be queued for execution"
)

// SubmitResponse is returned by POST /api/orders/execute.
type SubmitResponse struct {
	OrderID             string             `json:"orderId"`
	Status              domain.OrderStatus `json:"status"`
	Message             string             `json:"message"`
	WebsocketURL        string             `json:"websocketUrl"`
	UpgradeInstructions string             `json:"upgradeInstructions"`
}

// OrderResponse is the stored order as returned by GET /api/orders/:orderId.
type OrderResponse struct {
	OrderID       string             `json:"orderId"`
	UserID        *string            `json:"userId,omitempty"`
	TokenIn       string             `json:"tokenIn"`
	TokenOut      string             `json:"tokenOut"`
	AmountIn      float64            `json:"amountIn"`
	AmountOut     *float64           `json:"amountOut,omitempty"`
	ExecutedPrice *float64           `json:"executedPrice,omitempty"`
	Status        domain.OrderStatus `json:"status"`
	VenueUsed     *domain.Venue      `json:"venueUsed,omitempty"`
	TxHash        *string            `json:"txHash,omitempty"`
	ErrorMessage  *string            `json:"errorMessage,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func newOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		TokenIn:       o.TokenIn,
		TokenOut:      o.TokenOut,
		AmountIn:      o.AmountIn,
		AmountOut:     o.AmountOut,
		ExecutedPrice: o.ExecutedPrice,
		Status:        o.Status,
		VenueUsed:     o.VenueUsed,
		TxHash:        o.TxHash,
		ErrorMessage:  o.ErrorMessage,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// submitOrder validates the request, stores a pending order and enqueues it.
// It answers before execution starts.
func (s *Server) submitOrder(c *gin.Context) {
	var req domain.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		observability.RecordOrderRejected("validation")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "request body must be a JSON order"})
		return
	}
	if err := req.Validate(); err != nil {
		observability.RecordOrderRejected("validation")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	order := domain.NewOrder(s.newID(), req, s.now())
	ctx := c.Request.Context()

	if err := s.orders.Insert(ctx, order); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.rejectDuplicate(c, order.OrderID)
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Message: "Failed to create order"})
		return
	}

	admitted, err := s.queue.Enqueue(ctx, order)
	if err != nil {
		_ = c.Error(err)
		s.failUnqueued(c, order.OrderID)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Message: "Failed to enqueue order"})
		return
	}
	if !admitted {
		s.rejectDuplicate(c, order.OrderID)
		return
	}

	observability.RecordOrderSubmitted()
	s.logger.Infow("order submitted",
		"order_id", order.OrderID,
		"token_in", order.TokenIn,
		"token_out", order.TokenOut,
		"amount_in", order.AmountIn,
	)

	c.JSON(http.StatusCreated, SubmitResponse{
		OrderID:             order.OrderID,
		Status:              order.Status,
		Message:             "Order submitted successfully",
		WebsocketURL:        "/api/orders/execute?orderId=" + url.QueryEscape(order.OrderID),
		UpgradeInstructions: upgradeInstructions,
	})
}

// failUnqueued settles an order that was stored but never queued. If the
// store is unreachable too, the startup requeue picks the order up.
func (s *Server) failUnqueued(c *gin.Context, orderID string) {
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.orders.Update(ctx, orderID, domain.FailedUpdate(enqueueFailedMessage)); err != nil {
		_ = c.Error(err)
		s.logger.Warnw("unqueued order left pending", "order_id", orderID, "error", err)
		return
	}
	observability.RecordOrderFinished(string(domain.OrderStatusFailed), 0)
}

func (s *Server) rejectDuplicate(c *gin.Context, orderID string) {
	observability.RecordOrderRejected("duplicate")
	s.logger.Warnw("duplicate order submission", "order_id", orderID)
	c.JSON(http.StatusConflict, ErrorResponse{Error: "Duplicate order", Message: "Order with this ID already exists"})
}

// subscribe upgrades to a websocket that receives the order's status updates.
func (s *Server) subscribe(c *gin.Context) {
	orderID := c.Query("orderId")

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Debugw("websocket upgrade failed", "order_id", orderID, "error", err)
		return
	}

	if orderID == "" {
		s.logger.Warnw("websocket rejected: missing orderId")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Missing orderId")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	sender := live.NewWSSender(conn, &s.wsConfig, s.logger)
	s.subs.Register(orderID, sender)
}

// getOrder returns the stored order.
func (s *Server) getOrder(c *gin.Context) {
	orderID := c.Param("orderId")

	order, err := s.orders.GetByID(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Not found", Message: "Order not found"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Message: "Failed to retrieve order"})
		return
	}

	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (s *Server) queueMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.Metrics())
}
