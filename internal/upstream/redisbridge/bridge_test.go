package redisbridge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bean-relay/internal/application/ingress"
	"bean-relay/internal/infrastructure/logger"
)

func recorder() (*[]ingress.CheerRecord, *[]ingress.RedemptionRecord, ingress.HandlerFuncs) {
	var cheers []ingress.CheerRecord
	var redemptions []ingress.RedemptionRecord
	return &cheers, &redemptions, ingress.HandlerFuncs{
		Cheer:      func(_ context.Context, rec ingress.CheerRecord) { cheers = append(cheers, rec) },
		Redemption: func(_ context.Context, rec ingress.RedemptionRecord) { redemptions = append(redemptions, rec) },
	}
}

func TestDispatch(t *testing.T) {
	cheers, redemptions, h := recorder()
	ctx := context.Background()

	require.NoError(t, Dispatch(ctx, h, []byte(`{"kind":"cheer","bits":10}`)))
	require.NoError(t, Dispatch(ctx, h, []byte(`{"kind":"redemption","reward_title":"Free Hug","user_name":"alice"}`)))

	assert.Equal(t, []ingress.CheerRecord{{Bits: 10}}, *cheers)
	assert.Equal(t, []ingress.RedemptionRecord{{RewardTitle: "Free Hug", UserName: "alice"}}, *redemptions)
}

func TestDispatch_RejectsBadMessages(t *testing.T) {
	cheers, redemptions, h := recorder()
	ctx := context.Background()

	assert.Error(t, Dispatch(ctx, h, []byte(`not json`)))
	assert.ErrorIs(t, Dispatch(ctx, h, []byte(`{"kind":"follow"}`)), ErrUnknownKind)
	assert.Error(t, Dispatch(ctx, h, []byte(`{"kind":"cheer","bits":-3}`)))
	assert.Error(t, Dispatch(ctx, h, []byte(`{"kind":"redemption"}`)))

	assert.Empty(t, *cheers)
	assert.Empty(t, *redemptions)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("http://not-redis", "events", logger.Nop{})
	assert.Error(t, err)
}

func TestRun_FailsWhenRedisUnreachable(t *testing.T) {
	b, err := New("redis://127.0.0.1:1/0", "events", logger.Nop{})
	require.NoError(t, err)
	assert.Equal(t, "redis", b.Name())

	_, _, h := recorder()
	assert.Error(t, b.Run(context.Background(), h))
}

func startBridge(t *testing.T) (*miniredis.Miniredis, *Bridge) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := New("redis://"+mr.Addr()+"/0?protocol=2", "events", logger.Nop{})
	require.NoError(t, err)
	return mr, b
}

func TestRun_ForwardsPublishedEvents(t *testing.T) {
	mr, b := startBridge(t)
	publisher, err := New("redis://"+mr.Addr()+"/0?protocol=2", "events", logger.Nop{})
	require.NoError(t, err)
	t.Cleanup(func() { publisher.client.Close() })

	cheers := make(chan ingress.CheerRecord, 4)
	redemptions := make(chan ingress.RedemptionRecord, 4)
	h := ingress.HandlerFuncs{
		Cheer:      func(_ context.Context, rec ingress.CheerRecord) { cheers <- rec },
		Redemption: func(_ context.Context, rec ingress.RedemptionRecord) { redemptions <- rec },
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, h) }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub("events")["events"] == 1
	}, 3*time.Second, 10*time.Millisecond)

	mr.Publish("events", "not json")
	require.NoError(t, publisher.Publish(ctx, Envelope{Kind: KindCheer, Bits: 50, UserName: "bob"}))
	require.NoError(t, publisher.Publish(ctx, Envelope{Kind: KindRedemption, RewardTitle: "Free Hug", UserName: "alice"}))

	select {
	case rec := <-cheers:
		assert.Equal(t, ingress.CheerRecord{Bits: 50, UserName: "bob"}, rec)
	case <-time.After(3 * time.Second):
		t.Fatal("cheer never arrived")
	}
	select {
	case rec := <-redemptions:
		assert.Equal(t, ingress.RedemptionRecord{RewardTitle: "Free Hug", UserName: "alice"}, rec)
	case <-time.After(3 * time.Second):
		t.Fatal("redemption never arrived")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, cheers, "the malformed message must not produce an event")
}
