package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"bean-relay/internal/infrastructure/logger"
)

const (
	defaultEventSubURL = "wss://eventsub.wss.twitch.tv/ws"

	welcomeTimeout   = 10 * time.Second
	defaultKeepalive = 10 * time.Second
	keepaliveGrace   = 5 * time.Second

	TypeRedemptionAdd = "channel.channel_points_custom_reward_redemption.add"
	TypeCheer         = "channel.cheer"

	messageWelcome      = "session_welcome"
	messageKeepalive    = "session_keepalive"
	messageNotification = "notification"
	messageReconnect    = "session_reconnect"
	messageRevocation   = "revocation"
)

type Metadata struct {
	MessageID           string `json:"message_id"`
	MessageType         string `json:"message_type"`
	MessageTimestamp    string `json:"message_timestamp"`
	SubscriptionType    string `json:"subscription_type,omitempty"`
	SubscriptionVersion string `json:"subscription_version,omitempty"`
}

type Message struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type Session struct {
	ID                      string `json:"id"`
	Status                  string `json:"status"`
	KeepaliveTimeoutSeconds int    `json:"keepalive_timeout_seconds"`
	ReconnectURL            string `json:"reconnect_url"`
}

type sessionPayload struct {
	Session Session `json:"session"`
}

type notificationPayload struct {
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
}

// Notification is one event delivered on a subscription.
type Notification struct {
	Type  string
	Event json.RawMessage
}

// EventSub keeps a Twitch EventSub websocket session alive. Notifications are
// dispatched one at a time in the order they are received.
type EventSub struct {
	url        string
	dialer     *websocket.Dialer
	onWelcome  func(ctx context.Context, sessionID string) error
	dispatch   func(ctx context.Context, n Notification)
	newBackOff func() backoff.BackOff
	logger     logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type EventSubOption func(*EventSub)

func WithBackOff(f func() backoff.BackOff) EventSubOption {
	return func(e *EventSub) {
		e.newBackOff = f
	}
}

// NewEventSub creates a client for url. onWelcome runs for every fresh session
// and must create the subscriptions; migrated sessions keep theirs.
func NewEventSub(
	url string,
	onWelcome func(ctx context.Context, sessionID string) error,
	dispatch func(ctx context.Context, n Notification),
	log logger.Logger,
	opts ...EventSubOption,
) *EventSub {
	if url == "" {
		url = defaultEventSubURL
	}
	e := &EventSub{
		url:        url,
		dialer:     websocket.DefaultDialer,
		onWelcome:  onWelcome,
		dispatch:   dispatch,
		newBackOff: defaultBackOff,
		logger:     log.WithField("component", "eventsub"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Connect opens the first session and subscribes. Errors here are returned
// as is; later connection losses are retried in the background.
func (e *EventSub) Connect(ctx context.Context) error {
	sess, conn, err := e.open(ctx, e.url)
	if err != nil {
		return err
	}
	if err := e.onWelcome(ctx, sess.ID); err != nil {
		conn.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	e.conn = conn
	e.ctx = runCtx
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()

	e.logger.Infof("EventSub session %s established", sess.ID)
	go e.run(runCtx, done, conn, sess)
	return nil
}

// Close ends the session and waits for the reader to exit.
func (e *EventSub) Close(ctx context.Context) error {
	e.mu.Lock()
	cancel, conn, done := e.cancel, e.conn, e.done
	if cancel != nil {
		cancel()
	}
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *EventSub) run(ctx context.Context, done chan struct{}, conn *websocket.Conn, sess *Session) {
	defer close(done)

	for {
		reconnectURL, err := e.read(ctx, conn, keepaliveOf(sess))
		if ctx.Err() != nil {
			conn.Close()
			return
		}

		if reconnectURL != "" {
			e.logger.Info("EventSub asked to reconnect, migrating session")
			newSess, newConn, rerr := e.open(ctx, reconnectURL)
			conn.Close()
			if rerr == nil {
				if !e.swap(newConn) {
					return
				}
				conn, sess = newConn, newSess
				e.logger.Infof("EventSub session migrated to %s", sess.ID)
				continue
			}
			e.logger.Warnf("EventSub session migration failed: %v", rerr)
		} else {
			conn.Close()
			e.logger.Warnf("EventSub connection lost: %v", err)
		}

		newSess, newConn, err := e.redial(ctx)
		if err != nil {
			return
		}
		if !e.swap(newConn) {
			return
		}
		conn, sess = newConn, newSess
		e.logger.Infof("EventSub session %s re-established", sess.ID)
	}
}

// swap installs conn as the current connection unless Close already ran.
func (e *EventSub) swap(conn *websocket.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx.Err() != nil {
		conn.Close()
		return false
	}
	e.conn = conn
	return true
}

// redial opens a fresh session and subscribes again, backing off between
// attempts until it succeeds or ctx ends.
func (e *EventSub) redial(ctx context.Context) (*Session, *websocket.Conn, error) {
	var (
		sess *Session
		conn *websocket.Conn
	)
	op := func() error {
		s, c, err := e.open(ctx, e.url)
		if err != nil {
			return err
		}
		if err := e.onWelcome(ctx, s.ID); err != nil {
			c.Close()
			return err
		}
		sess, conn = s, c
		return nil
	}
	notify := func(err error, next time.Duration) {
		e.logger.Warnf("EventSub reconnect failed: %v, retrying in %s", err, next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(e.newBackOff(), ctx), notify); err != nil {
		return nil, nil, err
	}
	return sess, conn, nil
}

// open dials url and waits for the welcome message.
func (e *EventSub) open(ctx context.Context, url string) (*Session, *websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, welcomeTimeout)
	defer cancel()

	conn, _, err := e.dialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial eventsub: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(welcomeTimeout))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("await welcome: %w", err)
	}
	if msg.Metadata.MessageType != messageWelcome {
		conn.Close()
		return nil, nil, fmt.Errorf("expected %s, got %s", messageWelcome, msg.Metadata.MessageType)
	}

	var p sessionPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("decode welcome: %w", err)
	}
	if p.Session.ID == "" {
		conn.Close()
		return nil, nil, errors.New("welcome without session id")
	}
	return &p.Session, conn, nil
}

// read handles messages until the connection fails or Twitch asks for a
// reconnect, in which case the reconnect URL is returned.
func (e *EventSub) read(ctx context.Context, conn *websocket.Conn, keepalive time.Duration) (string, error) {
	for {
		conn.SetReadDeadline(time.Now().Add(keepalive + keepaliveGrace))

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return "", err
		}

		switch msg.Metadata.MessageType {
		case messageKeepalive:

		case messageNotification:
			var p notificationPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				e.logger.Warnf("Skipping malformed notification %s: %v", msg.Metadata.MessageID, err)
				continue
			}
			e.dispatch(ctx, Notification{Type: p.Subscription.Type, Event: p.Event})

		case messageReconnect:
			var p sessionPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Session.ReconnectURL == "" {
				return "", fmt.Errorf("bad reconnect message: %v", err)
			}
			return p.Session.ReconnectURL, nil

		case messageRevocation:
			var p notificationPayload
			_ = json.Unmarshal(msg.Payload, &p)
			e.logger.Warnf("Subscription %s revoked: %s", p.Subscription.Type, p.Subscription.Status)

		default:
			e.logger.Debugf("Ignoring EventSub message type %q", msg.Metadata.MessageType)
		}
	}
}

func keepaliveOf(sess *Session) time.Duration {
	if sess.KeepaliveTimeoutSeconds > 0 {
		return time.Duration(sess.KeepaliveTimeoutSeconds) * time.Second
	}
	return defaultKeepalive
}
