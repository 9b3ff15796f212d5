package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// callback executed when a message is received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
	// ReadLimit bounds a single inbound frame; route uploads are the
	// largest legitimate frame.
	ReadLimit int64
}

// Connection represents a single, thread-safe WebSocket connection.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	closeOnce sync.Once
	cancel    context.CancelFunc

	closeMu     sync.Mutex
	closeCode   websocket.StatusCode
	closeReason string

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, onMessage MessageHandler, onClose OnCloseHandler, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)
	connLogger := logger.With(slog.String("connID", id.String()))
	if conn != nil && config.ReadLimit > 0 {
		conn.SetReadLimit(config.ReadLimit)
	}

	return &Connection{
		id:        id,
		conn:      conn,
		logger:    connLogger,
		config:    config,
		onMessage: onMessage,
		send:      make(chan []byte, 256), // Buffered channel
		done:      make(chan struct{}),
		ctx:       connCtx,
		cancel:    cancel,
		onClose:   onClose,
		wg:        wg,

		closeCode: websocket.StatusNormalClosure,
	}
}

func (c *Connection) Run() {
	c.wg.Add(1)
	go c.readPump()
	go c.writePump()

	c.logger.Debug("connection established")
}

// readPump pumps messages from the WebSocket connection to the message handler.
func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			readErr = err
			cancelRead()
			return
		}
		// Only text frames carry protocol envelopes.
		if typ != websocket.MessageText {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		cancelRead()
		if err != nil {
			readErr = err
			return
		}
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

// writePump pumps messages from the send channel to the WebSocket connection.
func (c *Connection) writePump() {
	var writeErr error

	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for delivery and reports whether it was accepted.
// A false return means the connection is closed or its writer is
// saturated; there is no queueing beyond the send buffer and no retry.
func (c *Connection) Send(message []byte) bool {
	select {
	case c.send <- message:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.logger.Warn("Send buffer full, dropping frame")
		return false
	}
}

// Ping performs a protocol-level ping and waits for the pong or the
// context deadline. Used by the liveness probe.
func (c *Connection) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Open reports whether the connection is still usable for sends.
func (c *Connection) Open() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// CloseWith performs a protocol-level close with the given status code
// and reason, then tears the connection down.
func (c *Connection) CloseWith(code int, reason string) {
	c.closeMu.Lock()
	c.closeCode = websocket.StatusCode(code)
	c.closeReason = reason
	c.closeMu.Unlock()
	c.Close(nil)
}

// gracefully shuts down the connection and its resources.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		code, reason := c.closeCode, c.closeReason
		c.closeMu.Unlock()

		c.logger.Debug("Transport connection closing", slog.Any("reason", err))

		c.cancel() // Signal goroutines to stop.
		c.conn.Close(code, reason)
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// returns a channel that is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// ID returns the unique identifier of the connection.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}
func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
