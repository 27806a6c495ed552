// Package redisbridge feeds overlay events published on a Redis channel into
// the relay.
package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bean-relay/internal/application/ingress"
	"bean-relay/internal/infrastructure/logger"
)

const (
	KindCheer      = "cheer"
	KindRedemption = "redemption"
)

var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the JSON published on the channel.
type Envelope struct {
	Kind        string `json:"kind"`
	Bits        int    `json:"bits,omitempty"`
	RewardTitle string `json:"reward_title,omitempty"`
	UserName    string `json:"user_name,omitempty"`
}

type Bridge struct {
	client  *redis.Client
	channel string
	logger  logger.Logger
}

// New connects lazily; the URL is validated here.
func New(redisURL, channel string, log logger.Logger) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), channel, log), nil
}

func NewWithClient(client *redis.Client, channel string, log logger.Logger) *Bridge {
	return &Bridge{
		client:  client,
		channel: channel,
		logger:  log.WithField("component", "redis-bridge"),
	}
}

func (b *Bridge) Name() string { return "redis" }

// Run subscribes to the channel and forwards events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, handler ingress.EventHandler) error {
	defer b.client.Close()

	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	b.logger.Infof("Subscribed to redis channel %s", b.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := Dispatch(ctx, handler, []byte(msg.Payload)); err != nil {
				b.logger.Warnf("Skipping redis message: %v", err)
			}
		}
	}
}

// Publish sends env on the bridge channel.
func (b *Bridge) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Dispatch decodes one envelope and hands it to handler.
func Dispatch(ctx context.Context, handler ingress.EventHandler, payload []byte) error {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Kind {
	case KindCheer:
		if env.Bits < 0 {
			return fmt.Errorf("negative bits %d", env.Bits)
		}
		handler.OnCheer(ctx, ingress.CheerRecord{Bits: env.Bits, UserName: env.UserName})
	case KindRedemption:
		if env.RewardTitle == "" {
			return errors.New("redemption without reward_title")
		}
		handler.OnRedemption(ctx, ingress.RedemptionRecord{RewardTitle: env.RewardTitle, UserName: env.UserName})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return nil
}
