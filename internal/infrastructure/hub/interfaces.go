package hub

import (
	"context"
	"errors"
)

var (
	ErrHubNotRunning    = errors.New("hub is not running")
	ErrConnectionClosed = errors.New("connection is closed")
	ErrSendTimeout      = errors.New("send timeout")
)

// Connection represents any type of overlay connection (WebSocket, SSE).
type Connection interface {
	ID() string
	Type() string
	// Send queues message for delivery. Messages sent to one connection are
	// written in the order Send was called.
	Send(ctx context.Context, message *Message) error
	// Close ends the connection at once, discarding anything still queued.
	Close() error
	// Drain stops accepting messages, writes what is already queued and then
	// closes. It gives up and closes when ctx ends.
	Drain(ctx context.Context) error
	IsClosed() bool
	// Context is cancelled once the connection is closed for any reason.
	Context() context.Context
}

// Recorder receives hub activity for metrics. All methods must be safe for
// concurrent use.
type Recorder interface {
	ConnectionOpened(transport string)
	ConnectionClosed(transport string)
	Broadcast(delivered, failed int)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened(string) {}
func (nopRecorder) ConnectionClosed(string) {}
func (nopRecorder) Broadcast(int, int)      {}
