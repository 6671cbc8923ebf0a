//go:build !tinygo

package main

import (
	"encoding/json"
	"time"

	"github.com/BurntSushi/toml"

	"tracker-go/services/config"
	"tracker-go/types"
)

// Profile is the simulator's TOML file. Every section is optional.
//
//	device = "sim"
//	db = "tracker-sim.db"
//
//	[start]
//	lat = 51.4545
//	lon = -2.5879
//	time = 2026-09-01T06:00:00Z
//
//	[tracker]          # overrides the embedded device config
//	base_interval_s = 30
//
//	[radio]
//	fail_joins = 1
//
//	[bridge]
//	listen = "127.0.0.1:7777"
type Profile struct {
	Device string `toml:"device"`
	DB     string `toml:"db"`

	Start struct {
		Lat  float64   `toml:"lat"`
		Lon  float64   `toml:"lon"`
		Time time.Time `toml:"time"`
	} `toml:"start"`

	Tracker map[string]any `toml:"tracker"`

	Radio struct {
		FailJoins int  `toml:"fail_joins"`
		NoAck     bool `toml:"no_ack"`
		Absent    bool `toml:"absent"`
	} `toml:"radio"`

	Bridge struct {
		Listen string `toml:"listen"`
	} `toml:"bridge"`

	HeartbeatS float64 `toml:"heartbeat_s"`
}

func defaultProfile() Profile {
	var p Profile
	p.Device = "sim"
	p.DB = "tracker-sim.db"
	p.Start.Lat, p.Start.Lon = 51.4545, -2.5879
	p.Start.Time = time.Date(2026, 9, 1, 6, 0, 0, 0, time.UTC)
	return p
}

// LoadProfile reads a TOML profile on top of the defaults. An empty path
// yields the defaults.
func LoadProfile(path string) (Profile, error) {
	p := defaultProfile()
	if path == "" {
		return p, nil
	}
	_, err := toml.DecodeFile(path, &p)
	return p, err
}

// ParseProfile is LoadProfile for in-memory text.
func ParseProfile(text string) (Profile, error) {
	p := defaultProfile()
	_, err := toml.Decode(text, &p)
	return p, err
}

// TrackerConfig resolves the embedded device config and applies the
// profile's [tracker] overrides key by key.
func (p Profile) TrackerConfig() (types.TrackerConfig, error) {
	cfg, err := config.Lookup(p.Device)
	if err != nil {
		return cfg, err
	}
	if len(p.Tracker) == 0 {
		return cfg, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return cfg, err
	}
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return cfg, err
	}
	for k, v := range p.Tracker {
		merged[k] = v
	}
	return config.DecodeTracker(merged)
}
