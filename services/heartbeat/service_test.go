package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-go/bus"
	"tracker-go/types"
)

func next(t *testing.T, sub *bus.Subscription) types.Heartbeat {
	t.Helper()
	select {
	case m := <-sub.Channel():
		hb, ok := m.Payload.(types.Heartbeat)
		require.True(t, ok, "payload %T", m.Payload)
		return hb
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
		return types.Heartbeat{}
	}
}

func TestHeartbeatCarriesTrackerState(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("heartbeat")
	ui := b.NewConnection("ui")

	ui.Publish(ui.NewMessage(bus.T("tracker", "state"), types.TrackerState{Level: "active", Joined: true}, true))
	ui.Publish(ui.NewMessage(bus.T("tracker", "counter"), types.CounterValue{Value: 42}, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &Service{Interval: 20 * time.Millisecond}
	require.NoError(t, s.Start(ctx, conn))

	sub := ui.Subscribe(bus.T("heartbeat"))
	hb := next(t, sub)
	hb = next(t, sub)
	assert.GreaterOrEqual(t, hb.Seq, uint32(2))
	assert.Equal(t, "active", hb.Level)
	assert.True(t, hb.Joined)
	assert.Equal(t, uint32(42), hb.Counter)
}

func TestHeartbeatIntervalFromConfig(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("heartbeat")
	ui := b.NewConnection("ui")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &Service{Interval: time.Hour}
	require.NoError(t, s.Start(ctx, conn))

	sub := ui.Subscribe(bus.T("heartbeat"))
	ui.Publish(ui.NewMessage(bus.T("config", "heartbeat"), map[string]any{"interval": 0.02}, true))
	assert.Equal(t, uint32(1), next(t, sub).Seq)
}
