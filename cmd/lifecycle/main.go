// Package main submits one order to a running router, follows its live
// updates over the websocket and polls the stored order until it is final.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-order-router/internal/api"
	"solana-order-router/internal/domain"
	"solana-order-router/internal/logging"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "Router base URL")
	tokenIn := flag.String("token-in", "SOL", "Input token")
	tokenOut := flag.String("token-out", "USDC", "Output token")
	amountIn := flag.Float64("amount", 100, "Input amount")
	userID := flag.String("user", "test-user", "User id sent with the order")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	pollInterval := flag.Duration("poll-interval", 500*time.Millisecond, "Order status poll interval")
	flag.Parse()

	logger, err := logging.New("info", logging.FormatConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := &client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}, logger: logger}

	order, err := c.lifecycle(ctx, domain.OrderRequest{
		TokenIn:  *tokenIn,
		TokenOut: *tokenOut,
		AmountIn: *amountIn,
		UserID:   userID,
	}, *pollInterval)
	if err != nil {
		logger.Fatalw("lifecycle check failed", "error", err)
	}
	logger.Infow("lifecycle check passed", "order_id", order.OrderID, "status", order.Status)
}

type client struct {
	base   string
	http   *http.Client
	logger *zap.SugaredLogger
}

func (c *client) lifecycle(ctx context.Context, req domain.OrderRequest, pollInterval time.Duration) (*api.OrderResponse, error) {
	start := time.Now()

	submitted, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Infow("order submitted",
		"order_id", submitted.OrderID,
		"status", submitted.Status,
		"websocket_url", submitted.WebsocketURL,
	)

	updates, err := c.follow(ctx, submitted.WebsocketURL, start)
	if err != nil {
		// Live updates are best effort; the store stays authoritative.
		c.logger.Warnw("live updates unavailable", "error", err)
	} else {
		c.logger.Infow("live updates finished", "progression", strings.Join(updates, " -> "))
	}

	order, err := c.poll(ctx, submitted.OrderID, pollInterval)
	if err != nil {
		return nil, err
	}
	if err := check(order); err != nil {
		return order, err
	}
	c.logger.Infow("order final",
		"order_id", order.OrderID,
		"status", order.Status,
		"venue", order.VenueUsed,
		"error", order.ErrorMessage,
		"total", time.Since(start).Round(10*time.Millisecond),
	)
	return order, nil
}

func (c *client) submit(ctx context.Context, req domain.OrderRequest) (*api.SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/orders/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var out api.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode submit response: %w", err)
	}
	if out.Status != domain.OrderStatusPending {
		return nil, fmt.Errorf("submit returned status %q, want pending", out.Status)
	}
	return &out, nil
}

// follow prints every pushed update until a terminal one arrives or the
// connection ends.
func (c *client) follow(ctx context.Context, path string, start time.Time) ([]string, error) {
	u, err := url.Parse(c.base + path)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var statuses []string
	for {
		var update domain.StatusUpdate
		if err := conn.ReadJSON(&update); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return statuses, nil
			}
			return statuses, fmt.Errorf("read update: %w", err)
		}

		statuses = append(statuses, string(update.Status))
		fields := []any{
			"elapsed", time.Since(start).Round(10 * time.Millisecond),
			"status", update.Status,
			"message", update.Message,
		}
		if update.VenueUsed != nil {
			fields = append(fields, "venue", *update.VenueUsed)
		}
		if update.TxHash != nil {
			fields = append(fields, "tx_hash", *update.TxHash)
		}
		if update.ExecutedPrice != nil {
			fields = append(fields, "executed_price", *update.ExecutedPrice)
		}
		if update.Error != "" {
			fields = append(fields, "error", update.Error)
		}
		c.logger.Infow("status update", fields...)

		if update.Status.IsTerminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return statuses, nil
		}
	}
}

func (c *client) poll(ctx context.Context, orderID string, interval time.Duration) (*api.OrderResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		order, err := c.get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status.IsTerminal() {
			return order, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("order %s still %s: %w", orderID, order.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *client) get(ctx context.Context, orderID string) (*api.OrderResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}

	var order api.OrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

// check validates the fields a confirmed order must carry. A failed order
// is a valid outcome and only needs its reason.
func check(o *api.OrderResponse) error {
	if o.Status == domain.OrderStatusFailed {
		if o.ErrorMessage == nil || *o.ErrorMessage == "" {
			return errors.New("failed order has no error message")
		}
		return nil
	}
	if o.VenueUsed == nil || !o.VenueUsed.Valid() {
		return errors.New("confirmed order has no valid venue")
	}
	if o.TxHash == nil {
		return errors.New("confirmed order has no txHash")
	}
	if !txHashPattern.MatchString(*o.TxHash) {
		return fmt.Errorf("confirmed order has malformed txHash %q", *o.TxHash)
	}
	if o.ExecutedPrice == nil || *o.ExecutedPrice <= 0 {
		return errors.New("confirmed order has no executed price")
	}
	return nil
}

func responseError(resp *http.Response) error {
	var body api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return fmt.Errorf("%s: %s (%s)", resp.Status, body.Error, body.Message)
	}
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}
