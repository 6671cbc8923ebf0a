package config

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/andreyvit/tinyjson"

	"tracker-go/bus"
	"tracker-go/errcode"
	"tracker-go/types"
	"tracker-go/x/conv"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	trackerKey   = "tracker"
)

type ctxKey string

// CtxDeviceKey is the context key carrying the device ID.
const CtxDeviceKey ctxKey = "device"

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// TopicTracker is where the tracker section is retained.
func TopicTracker() bus.Topic { return bus.T(configPrefix, trackerKey) }

// -----------------------------------------------------------------------------
// Decoding
// -----------------------------------------------------------------------------

// DecodeJSON accepts raw bytes, a string, or an already-decoded value (as
// carried on the bus) and decodes it into dst.
func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

// parseObject decodes an embedded document with tinyjson. tinyjson panics
// on malformed input; that is reported as an error here.
func parseObject(raw []byte) (m map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, errors.New("embedded config is not valid JSON")
		}
	}()
	r := tinyjson.Raw(raw)
	val := r.Value() // should be a map[string]any
	r.EnsureEOF()
	m, ok := val.(map[string]any)
	if !ok {
		return nil, errors.New("embedded config is not a JSON object")
	}
	return m, nil
}

// DecodeTracker overlays src on the defaults and validates the result.
func DecodeTracker(src any) (types.TrackerConfig, error) {
	cfg := types.DefaultTrackerConfig()
	if err := DecodeJSON(src, &cfg); err != nil {
		return types.TrackerConfig{}, errcode.Wrap(errcode.InvalidConfig, "config.decode", err)
	}
	if err := Validate(cfg); err != nil {
		return types.TrackerConfig{}, err
	}
	return cfg, nil
}

// Lookup resolves and decodes the tracker section of a device's embedded
// config.
func Lookup(device string) (types.TrackerConfig, error) {
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return types.TrackerConfig{}, &errcode.E{C: errcode.InvalidConfig, Op: "config.lookup", Msg: "no embedded config for device " + device}
	}
	doc, err := parseObject(raw)
	if err != nil {
		return types.TrackerConfig{}, errcode.Wrap(errcode.InvalidConfig, "config.lookup", err)
	}
	sec, ok := doc[trackerKey]
	if !ok {
		return types.DefaultTrackerConfig(), nil
	}
	return DecodeTracker(sec)
}

func invalid(msg string) error {
	return &errcode.E{C: errcode.InvalidConfig, Op: "config.validate", Msg: msg}
}

// Validate checks ranges and, for ABP, that credentials parse.
func Validate(c types.TrackerConfig) error {
	mode, ok := types.ParseActivationMode(c.Mode)
	if !ok {
		return invalid("mode must be otaa or abp")
	}
	if c.Port == 0 || c.Port > 223 {
		return invalid("port out of range 1..223")
	}
	if c.BaseIntervalS == 0 {
		return invalid("base_interval_s must be > 0")
	}
	if c.MaxIntervalS < c.BaseIntervalS {
		return invalid("max_interval_s below base_interval_s")
	}
	if c.GrowthFactor < 1 {
		return invalid("growth_factor must be >= 1")
	}
	if c.MinDistanceM < 0 {
		return invalid("min_distance_m must be >= 0")
	}
	if c.ShortPressMs == 0 || c.LongPressMs <= c.ShortPressMs {
		return invalid("press thresholds must satisfy 0 < short < long")
	}
	if mode == types.ABP {
		if _, err := ABPSession(c); err != nil {
			return err
		}
	}
	return nil
}

// ABPSession parses the provisioned ABP credentials.
func ABPSession(c types.TrackerConfig) (types.Session, error) {
	var s types.Session
	if c.ABP == nil {
		return s, invalid("abp credentials missing")
	}
	var ok bool
	if s.NetID, ok = conv.ParseU32Hex(c.ABP.NetID); !ok {
		return types.Session{}, invalid("abp.net_id is not hex")
	}
	if s.DevAddr, ok = conv.ParseU32Hex(c.ABP.DevAddr); !ok {
		return types.Session{}, invalid("abp.dev_addr is not hex")
	}
	if b, ok := conv.ParseHex(s.NwkSKey[:0], c.ABP.NwkSKey); !ok || len(b) != types.KeyLen {
		return types.Session{}, invalid("abp.nwk_skey must be 32 hex digits")
	}
	if b, ok := conv.ParseHex(s.AppSKey[:0], c.ABP.AppSKey); !ok || len(b) != types.KeyLen {
		return types.Session{}, invalid("abp.app_skey must be 32 hex digits")
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig reads the device config from embedded data and publishes it as retained messages.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return errors.New("missing device ID in context")
	}

	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for device: " + device)
	}

	m, err := parseObject(raw)
	if err != nil {
		return err
	}

	for k, v := range m {
		conn.Publish(&bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		})
	}
	return nil
}

// Start publishes the embedded config in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config]", err.Error())
		}
	}()
}

// Publish is the synchronous form of Start for single-threaded boot paths.
func (s *ConfigService) Publish(ctx context.Context, conn *bus.Connection) error {
	return s.publishConfig(ctx, conn)
}
