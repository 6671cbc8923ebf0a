package types

// EventKind is the closed set of lifecycle events.
type EventKind uint8

const (
	EvJoined EventKind = iota + 1
	EvJoinFailed
	EvRejoined
	EvRejoinFailed
	EvReset
	EvLinkDead
	EvAcked
	EvMessageDiscarded
	EvMessageQueued
	EvTxComplete
	EvDownlinkReceived
)

var eventNames = [...]string{
	EvJoined:           "joined",
	EvJoinFailed:       "join_failed",
	EvRejoined:         "rejoined",
	EvRejoinFailed:     "rejoin_failed",
	EvReset:            "reset",
	EvLinkDead:         "link_dead",
	EvAcked:            "acked",
	EvMessageDiscarded: "message_discarded",
	EvMessageQueued:    "message_queued",
	EvTxComplete:       "tx_complete",
	EvDownlinkReceived: "downlink_received",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) && eventNames[k] != "" {
		return eventNames[k]
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Event is delivered synchronously to observers. Downlink is borrowed for
// the duration of the callback; observers must copy it to retain it.
type Event struct {
	Kind      EventKind `json:"kind"`
	Pending   bool      `json:"pending,omitempty"` // MessageDiscarded: a prior operation was outstanding
	Counter   uint32    `json:"counter,omitempty"`
	Port      uint8     `json:"port,omitempty"`
	Confirmed bool      `json:"confirmed,omitempty"`
	Downlink  []byte    `json:"downlink,omitempty"`
}
