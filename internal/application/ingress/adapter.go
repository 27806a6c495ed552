// Package ingress turns upstream event records into overlay broadcasts.
package ingress

import (
	"context"

	"bean-relay/internal/domain/event"
	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
)

// RedemptionRecord is a channel-points redemption as reported upstream.
type RedemptionRecord struct {
	RewardTitle string
	UserName    string
}

// CheerRecord is a cheer as reported upstream. UserName is empty for
// anonymous cheers.
type CheerRecord struct {
	Bits        int
	UserName    string
	IsAnonymous bool
}

// EventHandler receives events from an upstream source. Implementations must
// not fail the source because of downstream problems.
type EventHandler interface {
	OnRedemption(ctx context.Context, rec RedemptionRecord)
	OnCheer(ctx context.Context, rec CheerRecord)
}

// HandlerFuncs adapts plain functions to EventHandler. Nil fields are ignored.
type HandlerFuncs struct {
	Redemption func(ctx context.Context, rec RedemptionRecord)
	Cheer      func(ctx context.Context, rec CheerRecord)
}

func (f HandlerFuncs) OnRedemption(ctx context.Context, rec RedemptionRecord) {
	if f.Redemption != nil {
		f.Redemption(ctx, rec)
	}
}

func (f HandlerFuncs) OnCheer(ctx context.Context, rec CheerRecord) {
	if f.Cheer != nil {
		f.Cheer(ctx, rec)
	}
}

type Broadcaster interface {
	Broadcast(ctx context.Context, message *hub.Message) error
	ConnectionCount() int
}

// Adapter normalizes records into events and broadcasts their payloads.
type Adapter struct {
	broadcaster Broadcaster
	logger      logger.Logger
}

var _ EventHandler = (*Adapter)(nil)

func NewAdapter(broadcaster Broadcaster, log logger.Logger) *Adapter {
	return &Adapter{
		broadcaster: broadcaster,
		logger:      log.WithField("component", "ingress"),
	}
}

func (a *Adapter) OnRedemption(ctx context.Context, rec RedemptionRecord) {
	a.logger.Infof("Redemption %q by %s", rec.RewardTitle, rec.UserName)
	a.Publish(ctx, event.NewRedemption(rec.RewardTitle, rec.UserName))
}

func (a *Adapter) OnCheer(ctx context.Context, rec CheerRecord) {
	userName := rec.UserName
	if rec.IsAnonymous {
		userName = ""
	}
	cheer := event.NewCheer(userName, rec.Bits)
	a.logger.Infof("Cheer of %d bits by %s", cheer.Bits(), cheer.UserName())
	a.Publish(ctx, cheer)
}

// Publish encodes ev once and hands it to the broadcaster. Nothing is encoded
// while no overlay is connected.
func (a *Adapter) Publish(ctx context.Context, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorf("Recovered from panic while publishing %s event: %v", ev.Kind(), r)
		}
	}()

	if a.broadcaster.ConnectionCount() == 0 {
		a.logger.Debugf("No overlay connected, skipping %s event", ev.Kind())
		return
	}

	payload, err := ev.Payload()
	if err != nil {
		a.logger.Errorf("Failed to encode %s event: %v", ev.Kind(), err)
		return
	}

	if err := a.broadcaster.Broadcast(ctx, hub.NewMessage(string(ev.Kind()), payload)); err != nil {
		a.logger.Warnf("Failed to broadcast %s event: %v", ev.Kind(), err)
	}
}
