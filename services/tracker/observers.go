package tracker

import (
	"tracker-go/types"
	"tracker-go/x/conv"
)

// LogObserver prints every lifecycle event on the console.
type LogObserver struct{}

func (LogObserver) OnEvent(ev types.Event) {
	switch ev.Kind {
	case types.EvMessageQueued, types.EvTxComplete, types.EvAcked:
		println("[event]", ev.Kind.String(), "fcnt", ev.Counter, "port", ev.Port, "confirmed", ev.Confirmed)
	case types.EvMessageDiscarded:
		println("[event]", ev.Kind.String(), "pending", ev.Pending)
	case types.EvDownlinkReceived:
		println("[event]", ev.Kind.String(), "port", ev.Port, string(conv.AppendHex(nil, ev.Downlink)))
	default:
		println("[event]", ev.Kind.String())
	}
}
