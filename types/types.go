package types

// ---- Tracker state (retained on tracker/state) ----

type TrackerState struct {
	Level     string `json:"level"`  // "booting", "joining", "active", "sleeping", "error"
	Status    string `json:"status"` // freeform short code
	Joined    bool   `json:"joined"`
	Mode      string `json:"mode"`
	AutoScale bool   `json:"auto_scale"`
	TS        int64  `json:"ts_ms"`
}

// CounterValue is retained on tracker/counter.
type CounterValue struct {
	Value     uint32 `json:"value"`
	Persisted uint32 `json:"persisted"`
}

// UplinkInfo is published on tracker/uplink after an accepted send.
type UplinkInfo struct {
	Counter   uint32  `json:"counter"`
	Port      uint8   `json:"port"`
	Confirmed bool    `json:"confirmed"`
	Reason    string  `json:"reason"`
	DistanceM float64 `json:"distance_m"`
}

// ---- Controls (tracker/control/<verb>) ----

type AutoScaleSet struct {
	On bool `json:"on"`
}

// Generic replies
type OKReply struct {
	OK bool `json:"ok"`
}
type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Heartbeat is retained on heartbeat.
type Heartbeat struct {
	Seq       uint32 `json:"seq"`
	UptimeS   uint32 `json:"uptime_s"`
	Level     string `json:"level"`
	Joined    bool   `json:"joined"`
	Counter   uint32 `json:"counter"`
	HeapInuse uint32 `json:"heap_inuse"`
}
