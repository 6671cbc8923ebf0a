package types

import "time"

// TrackerConfig is supplied on topic "config/tracker".
// Durations are carried as seconds/milliseconds so the JSON stays flat.
type TrackerConfig struct {
	Mode string   `json:"mode"` // "otaa" | "abp"
	ABP  *ABPKeys `json:"abp,omitempty"`

	Port uint8 `json:"port"`

	BaseIntervalS  uint32  `json:"base_interval_s"`
	MaxIntervalS   uint32  `json:"max_interval_s"`
	GrowthFactor   float64 `json:"growth_factor"`
	MinDistanceM   float64 `json:"min_distance_m"`
	ConfirmedEvery uint32  `json:"confirmed_every"`
	AutoScale      bool    `json:"auto_scale"`

	ShortPressMs uint32 `json:"short_press_ms"`
	LongPressMs  uint32 `json:"long_press_ms"`

	CounterSaveS       uint32 `json:"counter_save_s"`
	DisplayOnTimerWake bool   `json:"display_on_timer_wake"`

	// FixTimeoutS bounds how long a wake stays active waiting for the
	// receiver to produce a valid fix. 0 gives up on the first miss.
	FixTimeoutS uint32 `json:"fix_timeout_s"`
}

// ABPKeys are hex strings: 8 digits for ids, 32 digits for keys.
type ABPKeys struct {
	NetID   string `json:"net_id"`
	DevAddr string `json:"dev_addr"`
	NwkSKey string `json:"nwk_skey"`
	AppSKey string `json:"app_skey"`
}

// DefaultTrackerConfig mirrors the stock firmware build.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Mode:           "otaa",
		Port:           10,
		BaseIntervalS:  60,
		MaxIntervalS:   3600,
		GrowthFactor:   2,
		MinDistanceM:   50,
		ConfirmedEvery: 0,
		AutoScale:      false,
		ShortPressMs:   1000,
		LongPressMs:    5000,
		CounterSaveS:   300,
		FixTimeoutS:    30,
	}
}

func (c TrackerConfig) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalS) * time.Second
}
func (c TrackerConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalS) * time.Second
}
func (c TrackerConfig) ShortPress() time.Duration {
	return time.Duration(c.ShortPressMs) * time.Millisecond
}
func (c TrackerConfig) LongPress() time.Duration {
	return time.Duration(c.LongPressMs) * time.Millisecond
}
func (c TrackerConfig) CounterSaveInterval() time.Duration {
	return time.Duration(c.CounterSaveS) * time.Second
}
func (c TrackerConfig) FixTimeout() time.Duration {
	return time.Duration(c.FixTimeoutS) * time.Second
}
