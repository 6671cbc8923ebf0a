// config/config_test.go
package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-go/bus"
	"tracker-go/errcode"
	"tracker-go/types"
)

func TestConfig_PublishEmbedded_RetainedPerKey(t *testing.T) {
	// Override lookup for this test.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) {
		if device != "pico" {
			return nil, false
		}
		return []byte(`{
			"mode": "dev",
			"debug": true,
			"region": {"code": "eu868"}
		}`), true
	}
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	// Arrange bus and service.
	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	svc := NewConfigService()

	// Start publisher with device ID in context.
	ctx := context.WithValue(context.Background(), CtxDeviceKey, "pico")
	svc.Start(ctx, conn)

	// Subscribe; retained messages should arrive immediately.
	sub := conn.Subscribe(bus.Topic{configPrefix, "#"})

	type gotMsg struct {
		key string
		val any
	}

	wantCount := 3 // mode, debug, region
	got := map[string]gotMsg{}

	deadline := time.Now().Add(600 * time.Millisecond)
	for len(got) < wantCount && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if len(m.Topic) < 2 {
				t.Fatalf("unexpected topic length: %#v", m.Topic)
			}
			// Assert tokens to string
			prefix, ok := m.Topic[0].(string)
			if !ok {
				t.Fatalf("topic[0] type %T, want string", m.Topic[0])
			}
			if prefix != configPrefix {
				t.Fatalf("unexpected prefix: %q", prefix)
			}
			keyTok := m.Topic[1]
			key, ok := keyTok.(string)
			if !ok {
				t.Fatalf("topic[1] type %T, want string", keyTok)
			}
			got[key] = gotMsg{key: key, val: m.Payload}
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != wantCount {
		t.Fatalf("expected %d retained messages, got %d (%v)", wantCount, len(got), got)
	}

	// Assert payloads without reflect.
	// mode
	if v, ok := got["mode"]; !ok {
		t.Fatal("missing 'mode' message")
	} else if s, ok := v.val.(string); !ok || s != "dev" {
		t.Fatalf("mode payload = %#v, want \"dev\"", v.val)
	}
	// debug
	if v, ok := got["debug"]; !ok {
		t.Fatal("missing 'debug' message")
	} else if bval, ok := v.val.(bool); !ok || bval != true {
		t.Fatalf("debug payload = %#v, want true", v.val)
	}
	// region
	if v, ok := got["region"]; !ok {
		t.Fatal("missing 'region' message")
	} else if m, ok := v.val.(map[string]any); !ok {
		t.Fatalf("region payload type = %T, want map[string]any", v.val)
	} else if code, ok := m["code"].(string); !ok || code != "eu868" {
		t.Fatalf("region.code = %#v, want \"eu868\"", m["code"])
	}
}

func TestConfig_PublishConfig_MissingDevice(t *testing.T) {
	b := bus.NewBus(4)
	conn := b.NewConnection("test-missing-device")
	svc := NewConfigService()

	// No device ID in context
	if err := svc.publishConfig(context.Background(), conn); err == nil {
		t.Fatal("expected error for missing device ID, got nil")
	}
}

func TestConfig_PublishConfig_NoConfigFound(t *testing.T) {
	// Override lookup to simulate absence.
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(device string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	b := bus.NewBus(4)
	conn := b.NewConnection("test-no-config")
	svc := NewConfigService()

	ctx := context.WithValue(context.Background(), CtxDeviceKey, "unknown-device")
	if err := svc.publishConfig(ctx, conn); err == nil {
		t.Fatal("expected error for missing embedded config, got nil")
	}
}

func TestLookup_EmbeddedDevices(t *testing.T) {
	pico, err := Lookup("pico")
	require.NoError(t, err)
	assert.Equal(t, "otaa", pico.Mode)
	assert.Equal(t, uint32(300), pico.BaseIntervalS)
	assert.True(t, pico.AutoScale)
	assert.Equal(t, uint32(10), pico.ConfirmedEvery)

	sim, err := Lookup("sim")
	require.NoError(t, err)
	s, err := ABPSession(sim)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x26011BDA), s.DevAddr)
	assert.Equal(t, uint32(0x13), s.NetID)
	assert.Equal(t, byte(0x2B), s.NwkSKey[0])
	assert.Equal(t, byte(0x2B), s.AppSKey[15])

	assert.Equal(t, uint32(90), pico.FixTimeoutS)
	assert.Equal(t, uint32(20), sim.FixTimeoutS)

	_, err = Lookup("nope")
	assert.Equal(t, errcode.InvalidConfig, errcode.Of(err))
}

func TestLookup_MalformedEmbeddedConfig(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	for name, doc := range map[string]string{
		"truncated": `{"tracker": {"mode": "otaa"`,
		"trailing":  `{"tracker": {}} extra`,
		"array":     `[1, 2]`,
	} {
		t.Run(name, func(t *testing.T) {
			EmbeddedConfigLookup = func(string) ([]byte, bool) { return []byte(doc), true }

			_, err := Lookup("pico")
			assert.Equal(t, errcode.InvalidConfig, errcode.Of(err))

			conn := bus.NewBus(4).NewConnection("test-malformed")
			ctx := context.WithValue(context.Background(), CtxDeviceKey, "pico")
			assert.Error(t, NewConfigService().Publish(ctx, conn))
		})
	}

	// A document without a tracker section yields the defaults.
	EmbeddedConfigLookup = func(string) ([]byte, bool) { return []byte(`{"heartbeat": {"interval": 5}}`), true }
	cfg, err := Lookup("pico")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultTrackerConfig(), cfg)
}

func TestDecodeTracker_OverlaysDefaults(t *testing.T) {
	cfg, err := DecodeTracker(map[string]any{"base_interval_s": 120, "max_interval_s": 600})
	require.NoError(t, err)
	assert.Equal(t, uint32(120), cfg.BaseIntervalS)
	assert.Equal(t, types.DefaultTrackerConfig().Port, cfg.Port)
	assert.Equal(t, 50.0, cfg.MinDistanceM)

	_, err = DecodeTracker(`{"port": "ten"}`)
	assert.Equal(t, errcode.InvalidConfig, errcode.Of(err))
}

func TestValidate(t *testing.T) {
	good := types.DefaultTrackerConfig()
	require.NoError(t, Validate(good))

	cases := map[string]func(*types.TrackerConfig){
		"mode":     func(c *types.TrackerConfig) { c.Mode = "lorawan" },
		"port":     func(c *types.TrackerConfig) { c.Port = 0 },
		"base":     func(c *types.TrackerConfig) { c.BaseIntervalS = 0 },
		"max":      func(c *types.TrackerConfig) { c.MaxIntervalS = c.BaseIntervalS - 1 },
		"growth":   func(c *types.TrackerConfig) { c.GrowthFactor = 0.9 },
		"distance": func(c *types.TrackerConfig) { c.MinDistanceM = -1 },
		"press":    func(c *types.TrackerConfig) { c.LongPressMs = c.ShortPressMs },
		"abp_keys": func(c *types.TrackerConfig) { c.Mode = "abp" },
		"abp_short": func(c *types.TrackerConfig) {
			c.Mode = "abp"
			c.ABP = &types.ABPKeys{NetID: "13", DevAddr: "26011BDA", NwkSKey: "00", AppSKey: "00"}
		},
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			c := good
			mut(&c)
			assert.Equal(t, errcode.InvalidConfig, errcode.Of(Validate(c)))
		})
	}
}
