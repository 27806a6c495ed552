package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bean-relay/internal/infrastructure/logger"
)

const (
	defaultSendTimeout   = 5 * time.Second
	defaultSweepInterval = 30 * time.Second
)

// Hub fans serialized events out to every registered connection.
type Hub struct {
	registry *Registry
	recorder Recorder
	logger   logger.Logger

	sendTimeout   time.Duration
	sweepInterval time.Duration

	// broadcastMu serializes Broadcast so every connection's queue receives
	// messages in call order.
	broadcastMu sync.Mutex

	running   bool
	runningMu sync.RWMutex

	cancel  context.CancelFunc
	done    chan struct{}
	stopped chan struct{}
}

type Option func(*Hub)

// WithSendTimeout bounds how long a single connection may take to accept a message.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.sweepInterval = d
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		if r != nil {
			h.recorder = r
		}
	}
}

// New creates a Hub over registry.
func New(registry *Registry, log logger.Logger, opts ...Option) *Hub {
	if log == nil {
		log = logger.Nop{}
	}
	h := &Hub{
		registry:      registry,
		recorder:      nopRecorder{},
		logger:        log.WithField("component", "hub"),
		sendTimeout:   defaultSendTimeout,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins the sweeper that drops connections which closed without being
// unregistered.
func (h *Hub) Start(ctx context.Context) error {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if h.running {
		return fmt.Errorf("hub is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	h.stopped = make(chan struct{})
	h.running = true

	go h.run(runCtx)

	h.logger.Debug("Hub started")
	return nil
}

// Stop drains and closes every registered connection and stops the sweeper.
// Concurrent callers all return once the first one has finished.
func (h *Hub) Stop(ctx context.Context) error {
	h.runningMu.Lock()
	if !h.running {
		stopped := h.stopped
		h.runningMu.Unlock()
		if stopped == nil {
			return nil
		}
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.running = false
	h.cancel()
	done, stopped := h.done, h.stopped
	h.runningMu.Unlock()
	defer close(stopped)

	// Wait for in-flight broadcasts, then let every queue empty before the
	// connections close.
	h.broadcastMu.Lock()
	connections := h.registry.Snapshot()
	var eg errgroup.Group
	for _, conn := range connections {
		eg.Go(func() error {
			if h.registry.Unregister(conn) {
				h.recorder.ConnectionClosed(conn.Type())
			}
			dctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			if err := conn.Drain(dctx); err != nil {
				h.logger.Warnf("Connection %s closed before its queue drained: %v", conn.ID(), err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	h.broadcastMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.logger.Infof("Hub stopped, closed %d connections", len(connections))
	return nil
}

func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}

// RegisterConnection adds conn to the registry.
func (h *Hub) RegisterConnection(conn Connection) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}
	if h.registry.Register(conn) {
		h.recorder.ConnectionOpened(conn.Type())
	}
	return nil
}

// UnregisterConnection removes conn; it is safe to call more than once.
func (h *Hub) UnregisterConnection(conn Connection) {
	if h.registry.Unregister(conn) {
		h.recorder.ConnectionClosed(conn.Type())
	}
}

func (h *Hub) GetConnections() []Connection {
	return h.registry.Snapshot()
}

func (h *Hub) ConnectionCount() int {
	return h.registry.Count()
}

// Broadcast delivers message to every registered connection and returns once
// each send has completed or failed. A connection whose send fails is
// unregistered and closed; the failure is not returned to the caller.
func (h *Hub) Broadcast(ctx context.Context, message *Message) error {
	if !h.IsRunning() {
		return ErrHubNotRunning
	}

	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	connections := h.registry.Snapshot()
	if len(connections) == 0 {
		return nil
	}

	// Sends are not cut short by the caller going away; each one is bounded by
	// sendTimeout instead.
	sendCtx := context.WithoutCancel(ctx)

	var delivered, failed atomic.Int64
	var eg errgroup.Group
	for _, conn := range connections {
		eg.Go(func() error {
			cctx, cancel := context.WithTimeout(sendCtx, h.sendTimeout)
			defer cancel()

			if err := conn.Send(cctx, message); err != nil {
				failed.Add(1)
				h.drop(conn, err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	h.recorder.Broadcast(int(delivered.Load()), int(failed.Load()))
	h.logger.Debugf(
		"Broadcasted %s message %s to %d connections (%d failed)",
		message.Type, message.ID, delivered.Load(), failed.Load(),
	)
	return nil
}

func (h *Hub) drop(conn Connection, cause error) {
	h.logger.Warnf("Failed to send to connection %s, dropping it: %v", conn.ID(), cause)
	h.UnregisterConnection(conn)
	if err := conn.Close(); err != nil {
		h.logger.Errorf("Failed to close connection %s: %v", conn.ID(), err)
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanupClosedConnections()
		case <-ctx.Done():
			h.logger.Debug("Hub run loop stopped")
			return
		}
	}
}

func (h *Hub) cleanupClosedConnections() {
	for _, conn := range h.registry.RemoveClosed() {
		h.recorder.ConnectionClosed(conn.Type())
		h.logger.Infof("Cleaned up closed connection %s", conn.ID())
	}
}
