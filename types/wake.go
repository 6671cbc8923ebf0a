package types

// WakeCause classifies why the system is running.
type WakeCause uint8

const (
	WakePowerOn WakeCause = iota
	WakeTimer
	WakeExternalSignal
)

func (w WakeCause) String() string {
	switch w {
	case WakeTimer:
		return "timer"
	case WakeExternalSignal:
		return "external"
	default:
		return "power_on"
	}
}

// WakeContext is recomputed each boot; BootCount survives sleep (best effort).
type WakeContext struct {
	BootCount uint32
	Cause     WakeCause
}
