package live

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-order-router/internal/domain"
)

// ErrBufferFull is returned when a slow subscriber has not drained earlier updates.
var ErrBufferFull = errors.New("send buffer full")

// WSConfig configures a WSSender.
type WSConfig struct {
	// BufferSize is the number of updates queued ahead of the write loop.
	BufferSize int
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// PongWait is how long the peer may stay silent before it is dropped.
	PongWait time.Duration
}

// DefaultWSConfig returns default WebSocket sender configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		BufferSize:   16,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// WSSender implements Sender over a gorilla/websocket connection.
// Updates are written as JSON text frames by a single write loop.
type WSSender struct {
	conn   *websocket.Conn
	config WSConfig
	logger *zap.SugaredLogger

	out     chan domain.StatusUpdate
	writeMu sync.Mutex

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Compile-time interface check.
var _ Sender = (*WSSender)(nil)

// NewWSSender takes ownership of conn and starts its read and write loops.
func NewWSSender(conn *websocket.Conn, config *WSConfig, logger *zap.SugaredLogger) *WSSender {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &WSSender{
		conn:   conn,
		config: cfg,
		logger: logger,
		out:    make(chan domain.StatusUpdate, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()

	return s
}

// Send queues u for delivery. It never blocks.
func (s *WSSender) Send(u domain.StatusUpdate) error {
	if s.closed.Load() {
		return ErrSenderClosed
	}
	select {
	case s.out <- u:
		return nil
	default:
		return ErrBufferFull
	}
}

// Open reports whether the connection is still usable.
func (s *WSSender) Open() bool {
	return !s.closed.Load()
}

// Done is closed when the connection is gone.
func (s *WSSender) Done() <-chan struct{} {
	return s.done
}

// WriteJSON writes v immediately, bypassing the update buffer.
func (s *WSSender) WriteJSON(v any) error {
	if s.closed.Load() {
		return ErrSenderClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// Close sends a normal close frame and releases the connection.
func (s *WSSender) Close() error {
	s.shutdown(websocket.CloseNormalClosure, "")
	s.wg.Wait()
	return nil
}

func (s *WSSender) shutdown(code int, reason string) {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(s.config.WriteTimeout))
	s.writeMu.Unlock()
	s.conn.Close()
}

// readLoop discards client frames; it exists to process control frames and
// notice the peer going away.
func (s *WSSender) readLoop() {
	defer s.wg.Done()

	s.conn.SetReadLimit(4096)
	s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debugw("websocket read failed", "error", err)
			}
			s.shutdown(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (s *WSSender) writeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case u := <-s.out:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			err := s.conn.WriteJSON(u)
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debugw("websocket write failed", "status", u.Status, "error", err)
				s.shutdown(websocket.CloseGoingAway, "")
				return
			}

		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.shutdown(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}
