// Package radio is the boundary to the LoRaWAN MAC collaborator. The MAC
// itself (join framing, channel plans, ADR) lives behind this interface.
package radio

import "tracker-go/types"

// SubmitResult is the outcome of handing an uplink to the MAC.
type SubmitResult uint8

const (
	Accepted SubmitResult = iota
	Busy                  // a transmit/receive operation is still outstanding
)

func (r SubmitResult) String() string {
	if r == Accepted {
		return "accepted"
	}
	return "busy"
}

// Kind tags inbound MAC events.
type Kind uint8

const (
	EvJoined Kind = iota + 1
	EvJoinFailed
	EvTxStarted
	EvTxComplete
	EvRxComplete
	EvLinkDead
	EvReset
)

// Event is delivered from StepRunLoop. Downlink is only valid during the
// callback.
type Event struct {
	Kind     Kind
	Session  types.Session // EvJoined
	Ack      bool          // EvTxComplete
	Downlink []byte        // EvTxComplete (optional), EvRxComplete
	Port     uint8
}

// MAC is consumed, never implemented, by the tracker core.
type MAC interface {
	// Initialize probes the modem. false means no radio was detected.
	Initialize() bool
	BeginStaticSession(s types.Session)
	BeginDynamicJoin()
	ResetMACState()
	SubmitUplink(port uint8, payload []byte, confirmed bool) SubmitResult
	CurrentUplinkCounter() uint32
	SetUplinkCounter(n uint32)
	// TxPending reports an outstanding transmit/receive operation.
	TxPending() bool
	// StepRunLoop is a bounded, non-blocking poll. Events are delivered
	// synchronously on the caller's goroutine.
	StepRunLoop(emit func(Event))
}
