// Package twitch subscribes to channel-point redemptions and cheers on a
// Twitch channel through EventSub websockets.
package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"

	"bean-relay/internal/application/ingress"
	"bean-relay/internal/infrastructure/logger"
)

type Config struct {
	ClientID      string
	ClientSecret  string
	TargetChannel string
	TokenFile     string
	RedirectURL   string

	// Endpoint overrides, empty means the public Twitch endpoints.
	AuthURL     string
	TokenURL    string
	ValidateURL string
	HelixURL    string
	EventSubURL string
}

// Subscriber authenticates, resolves the target channel and streams its
// events to an ingress.EventHandler.
type Subscriber struct {
	cfg        Config
	logger     logger.Logger
	authOpts   []AuthOption
	httpClient *http.Client
	newBackOff func() backoff.BackOff

	eventSub *EventSub
}

type SubscriberOption func(*Subscriber)

func WithAuthOptions(opts ...AuthOption) SubscriberOption {
	return func(s *Subscriber) {
		s.authOpts = append(s.authOpts, opts...)
	}
}

// WithBaseHTTPClient sets the client used for token and API requests.
func WithBaseHTTPClient(c *http.Client) SubscriberOption {
	return func(s *Subscriber) {
		s.httpClient = c
	}
}

func WithReconnectBackOff(f func() backoff.BackOff) SubscriberOption {
	return func(s *Subscriber) {
		s.newBackOff = f
	}
}

func NewSubscriber(cfg Config, log logger.Logger, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		cfg:        cfg,
		logger:     log.WithField("component", "twitch"),
		httpClient: http.DefaultClient,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start returns once both subscriptions exist. An unknown channel yields
// ErrUserNotFound.
func (s *Subscriber) Start(ctx context.Context, handler ingress.EventHandler) error {
	authOpts := append([]AuthOption{WithHTTPClient(s.httpClient)}, s.authOpts...)
	if s.cfg.AuthURL != "" || s.cfg.TokenURL != "" || s.cfg.ValidateURL != "" {
		authOpts = append(authOpts, WithEndpoints(
			orDefault(s.cfg.AuthURL, defaultAuthURL),
			orDefault(s.cfg.TokenURL, defaultTokenURL),
			orDefault(s.cfg.ValidateURL, defaultValidateURL),
		))
	}
	auth := NewAuthenticator(
		s.cfg.ClientID,
		s.cfg.ClientSecret,
		s.cfg.RedirectURL,
		NewTokenStore(s.cfg.TokenFile),
		s.logger,
		authOpts...,
	)

	ts, err := auth.TokenSource(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	octx := context.WithValue(context.Background(), oauth2.HTTPClient, s.httpClient)
	helix := NewHelix(s.cfg.HelixURL, s.cfg.ClientID, oauth2.NewClient(octx, ts))

	userID, err := helix.GetUserID(ctx, s.cfg.TargetChannel)
	if err != nil {
		return err
	}
	s.logger.Infof("Listening for events on channel: %s (ID: %s)", s.cfg.TargetChannel, userID)

	subscribe := func(ctx context.Context, sessionID string) error {
		for _, subType := range []string{TypeRedemptionAdd, TypeCheer} {
			_, err := helix.CreateSubscription(ctx, SubscriptionRequest{
				Type:      subType,
				Version:   "1",
				Condition: map[string]string{"broadcaster_user_id": userID},
				Transport: Transport{Method: "websocket", SessionID: sessionID},
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	s.eventSub = NewEventSub(
		s.cfg.EventSubURL,
		subscribe,
		func(ctx context.Context, n Notification) { s.dispatch(ctx, handler, n) },
		s.logger,
		WithBackOff(s.newBackOff),
	)
	if err := s.eventSub.Connect(ctx); err != nil {
		return fmt.Errorf("connect eventsub: %w", err)
	}
	s.logger.Info("EventSub connected! Waiting for beans (Points & Bits)...")
	return nil
}

func (s *Subscriber) Stop(ctx context.Context) error {
	if s.eventSub == nil {
		return nil
	}
	return s.eventSub.Close(ctx)
}

type redemptionEvent struct {
	UserName string `json:"user_name"`
	Reward   struct {
		Title string `json:"title"`
	} `json:"reward"`
}

type cheerEvent struct {
	IsAnonymous bool   `json:"is_anonymous"`
	UserName    string `json:"user_name"`
	Bits        int    `json:"bits"`
}

func (s *Subscriber) dispatch(ctx context.Context, handler ingress.EventHandler, n Notification) {
	switch n.Type {
	case TypeRedemptionAdd:
		var ev redemptionEvent
		if err := json.Unmarshal(n.Event, &ev); err != nil {
			s.logger.Warnf("Skipping malformed redemption: %v", err)
			return
		}
		handler.OnRedemption(ctx, ingress.RedemptionRecord{RewardTitle: ev.Reward.Title, UserName: ev.UserName})

	case TypeCheer:
		var ev cheerEvent
		if err := json.Unmarshal(n.Event, &ev); err != nil {
			s.logger.Warnf("Skipping malformed cheer: %v", err)
			return
		}
		handler.OnCheer(ctx, ingress.CheerRecord{Bits: ev.Bits, UserName: ev.UserName, IsAnonymous: ev.IsAnonymous})

	default:
		s.logger.Debugf("Ignoring notification for %s", n.Type)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
