package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gorilla/websocket"

	"bean-relay/internal/infrastructure/logger"
)

const (
	sendQueueSize  = 256
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 54 * time.Second
	sseKeepAlive   = 30 * time.Second
	maxClientFrame = 4096
)

// WebSocketConnection implements Connection over a gorilla websocket. A single
// writer goroutine drains the queue so frames go out in Send order.
type WebSocketConnection struct {
	id   string
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	closed    bool
	closedMu  sync.RWMutex
	closeOnce sync.Once
	drainOnce sync.Once

	logger logger.Logger

	send     chan *Message
	draining chan struct{}
	pumpDone chan struct{}
}

func NewWebSocketConnection(
	id string,
	conn *websocket.Conn,
	log logger.Logger,
) *WebSocketConnection {
	ctx, cancel := context.WithCancel(context.Background())

	wsConn := &WebSocketConnection{
		id:     id,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		logger:   log.WithField("connection_id", id),
		send:     make(chan *Message, sendQueueSize),
		draining: make(chan struct{}),
		pumpDone: make(chan struct{}),
	}

	wsConn.conn.SetReadLimit(maxClientFrame)
	wsConn.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	wsConn.conn.SetPongHandler(func(string) error {
		return wsConn.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	go wsConn.writePump()
	go wsConn.readPump()

	return wsConn
}

func (c *WebSocketConnection) ID() string   { return c.id }
func (c *WebSocketConnection) Type() string { return "websocket" }

// Send queues message; it fails if the queue stays full until ctx expires.
func (c *WebSocketConnection) Send(ctx context.Context, message *Message) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return ErrSendTimeout
	}
}

// Close sends a close frame and releases the socket. Safe to call repeatedly
// and concurrently with Send.
func (c *WebSocketConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()
		c.cancel()

		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
		c.logger.Debug("WebSocket connection closed")
	})
	return err
}

// Drain writes every queued message, then sends the close frame. Each write
// is bounded by writeTimeout.
func (c *WebSocketConnection) Drain(ctx context.Context) error {
	c.drainOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()
		close(c.draining)
	})

	select {
	case <-c.pumpDone:
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *WebSocketConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *WebSocketConnection) Context() context.Context {
	return c.ctx
}

func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
		close(c.pumpDone)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}

		case <-c.draining:
			for {
				select {
				case message := <-c.send:
					if err := c.write(message); err != nil {
						return
					}
				default:
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warnf("Failed to send ping: %v", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *WebSocketConnection) write(message *Message) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, message.Payload); err != nil {
		c.logger.Warnf("Failed to write message: %v", err)
		return err
	}
	return nil
}

// readPump discards client frames; reading is what surfaces pongs and closes.
func (c *WebSocketConnection) readPump() {
	defer c.Close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Warnf("WebSocket error: %v", err)
			}
			return
		}
	}
}

// SSEConnection implements Connection for Server-Sent Events. The request
// goroutine must call Serve, which owns the ResponseWriter until the
// connection ends.
type SSEConnection struct {
	id     string
	writer http.ResponseWriter

	ctx    context.Context
	cancel context.CancelFunc

	closed    bool
	closedMu  sync.RWMutex
	closeOnce sync.Once
	drainOnce sync.Once

	logger logger.Logger

	send     chan *Message
	draining chan struct{}
	served   chan struct{}
}

// NewSSEConnection ties the connection to ctx, normally the request context,
// so a client disconnect closes it.
func NewSSEConnection(
	ctx context.Context,
	id string,
	w http.ResponseWriter,
	log logger.Logger,
) *SSEConnection {
	rctx, cancel := context.WithCancel(ctx)

	conn := &SSEConnection{
		id:     id,
		writer: w,
		ctx:    rctx,
		cancel: cancel,
		logger:   log.WithField("connection_id", id),
		send:     make(chan *Message, sendQueueSize),
		draining: make(chan struct{}),
		served:   make(chan struct{}),
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Access-Control-Allow-Origin", "*")

	return conn
}

func (c *SSEConnection) ID() string   { return c.id }
func (c *SSEConnection) Type() string { return "sse" }

func (c *SSEConnection) Send(ctx context.Context, message *Message) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case c.send <- message:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-ctx.Done():
		return ErrSendTimeout
	}
}

func (c *SSEConnection) Close() error {
	c.closeOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()
		c.cancel()
		c.logger.Debug("SSE connection closed")
	})
	return nil
}

// Drain lets Serve write every queued event before it returns. Serve must be
// running or about to run, otherwise Drain waits for ctx.
func (c *SSEConnection) Drain(ctx context.Context) error {
	c.drainOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()
		close(c.draining)
	})

	select {
	case <-c.served:
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *SSEConnection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

func (c *SSEConnection) Context() context.Context {
	return c.ctx
}

// Serve writes queued messages and keep-alives until the connection closes.
func (c *SSEConnection) Serve() {
	defer close(c.served)
	defer c.Close()

	// Send the headers now so the client sees the stream open.
	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			if err := c.writeMessage(message); err != nil {
				return
			}

		case <-c.draining:
			for {
				select {
				case message := <-c.send:
					if err := c.writeMessage(message); err != nil {
						return
					}
				default:
					return
				}
			}

		case <-ticker.C:
			if err := c.write(sse.Event{Event: "keepalive", Data: time.Now().UTC().Format(time.RFC3339)}); err != nil {
				c.logger.Warnf("Failed to send keep-alive: %v", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *SSEConnection) writeMessage(message *Message) error {
	err := c.write(sse.Event{Id: message.ID, Event: message.Type, Data: string(message.Payload)})
	if err != nil {
		c.logger.Warnf("Failed to write message: %v", err)
	}
	return err
}

func (c *SSEConnection) write(event sse.Event) error {
	if err := sse.Encode(c.writer, event); err != nil {
		return err
	}
	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}
