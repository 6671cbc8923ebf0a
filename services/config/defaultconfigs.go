package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that device
// -----------------------------------------------------------------------------

const cfgPico = `{
  "tracker": {
    "mode": "otaa",
    "port": 10,
    "base_interval_s": 300,
    "max_interval_s": 3600,
    "growth_factor": 2,
    "min_distance_m": 50,
    "confirmed_every": 10,
    "auto_scale": true,
    "short_press_ms": 1000,
    "long_press_ms": 5000,
    "counter_save_s": 300,
    "fix_timeout_s": 90
  },
  "heartbeat": {
    "interval": 30
  }
}`

const cfgSim = `{
  "tracker": {
    "mode": "abp",
    "abp": {
      "net_id": "00000013",
      "dev_addr": "26011BDA",
      "nwk_skey": "2B7E151628AED2A6ABF7158809CF4F3C",
      "app_skey": "3C4FCF098815F7ABA6D2AE2816157E2B"
    },
    "port": 10,
    "base_interval_s": 60,
    "max_interval_s": 960,
    "growth_factor": 2,
    "min_distance_m": 50,
    "confirmed_every": 10,
    "display_on_timer_wake": true,
    "fix_timeout_s": 20
  },
  "heartbeat": {
    "interval": 60
  }
}`

var embeddedConfigs = map[string][]byte{
	"pico": []byte(cfgPico),
	"sim":  []byte(cfgSim),
}
