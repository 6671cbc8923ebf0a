// Package dutycycle owns the sleep/wake boundary: how long to sleep, why
// the system woke, and what must be flushed before power goes away.
package dutycycle

import (
	"context"
	"time"

	"tracker-go/errcode"
	"tracker-go/services/tracker/internal/store"
	"tracker-go/types"
	"tracker-go/x/timex"
)

// State of the cycle. There is no terminal state.
type State uint8

const (
	Active State = iota
	Sleeping
)

func (s State) String() string {
	if s == Sleeping {
		return "sleeping"
	}
	return "active"
}

// SleepFor aligns the next wake to an absolute grid of base intervals so
// per-cycle overhead does not accumulate as drift.
func SleepFor(now time.Time, base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	rem := time.Duration(now.UnixNano()) % base
	if rem < 0 {
		rem += base
	}
	return base - rem
}

// WakeSource is the raw wake reason reported by the platform.
type WakeSource struct {
	ColdBoot bool
	Timer    bool
	External bool
}

// Classify maps a raw wake reason onto a WakeCause. An external signal
// wins over a timer that expired at the same time.
func Classify(src WakeSource) types.WakeCause {
	switch {
	case src.ColdBoot:
		return types.WakePowerOn
	case src.External:
		return types.WakeExternalSignal
	case src.Timer:
		return types.WakeTimer
	default:
		return types.WakePowerOn
	}
}

// DisplayWanted reports whether optional peripherals are powered for a
// wake. Headless timer wakes keep them off unless overridden.
func DisplayWanted(cause types.WakeCause, onTimerWake bool) bool {
	return cause != types.WakeTimer || onTimerWake
}

// Platform is the board side of the sleep boundary.
type Platform interface {
	// DeepSleep powers peripherals down and suspends for at most d, or
	// until an external signal. It returns what ended the sleep.
	DeepSleep(ctx context.Context, d time.Duration) (WakeSource, error)
	SetDisplay(on bool)
}

type Config struct {
	Base               time.Duration
	DisplayOnTimerWake bool
}

// FlushFunc runs in the serialization step immediately before sleep.
type FlushFunc func(now time.Time) error

// Controller drives Active -> Sleeping -> Active.
type Controller struct {
	plat    Platform
	clock   timex.Clock
	boots   *store.BootStore
	cfg     Config
	flush   []FlushFunc
	pending func() bool

	state State
	wake  types.WakeContext
}

func New(plat Platform, clock timex.Clock, boots *store.BootStore, cfg Config) *Controller {
	if clock == nil {
		clock = timex.System
	}
	return &Controller{plat: plat, clock: clock, boots: boots, cfg: cfg}
}

// OnSleep registers a serialization step. Steps run in registration order.
func (c *Controller) OnSleep(fn FlushFunc) { c.flush = append(c.flush, fn) }

// SetPending installs the check that keeps the system awake while a
// transmit/receive operation is outstanding.
func (c *Controller) SetPending(fn func() bool) { c.pending = fn }

func (c *Controller) State() State             { return c.state }
func (c *Controller) Wake() types.WakeContext  { return c.wake }
func (c *Controller) SetBase(d time.Duration)  { c.cfg.Base = d }
func (c *Controller) NextSleep() time.Duration { return SleepFor(c.clock.Now(), c.cfg.Base) }

// Boot classifies a wake, advances the boot count and gates peripherals.
func (c *Controller) Boot(src WakeSource) types.WakeContext {
	cause := Classify(src)
	if c.boots != nil {
		c.wake = c.boots.Next(cause)
	} else {
		c.wake = types.WakeContext{BootCount: c.wake.BootCount + 1, Cause: cause}
	}
	c.state = Active
	c.plat.SetDisplay(DisplayWanted(cause, c.cfg.DisplayOnTimerWake))
	println("[dutycycle] wake", c.wake.Cause.String(), "boot", c.wake.BootCount)
	return c.wake
}

// Sleep flushes durable state, then suspends until the next grid boundary
// or an external signal. It refuses with errcode.Busy while radio work is
// outstanding. On ctx cancellation the controller stays Active.
func (c *Controller) Sleep(ctx context.Context) (types.WakeContext, error) {
	if c.pending != nil && c.pending() {
		return c.wake, errcode.Busy
	}
	now := c.clock.Now()
	d := SleepFor(now, c.cfg.Base)
	for _, fn := range c.flush {
		if err := fn(now); err != nil {
			println("[dutycycle] flush failed:", err.Error())
		}
	}

	c.state = Sleeping
	c.plat.SetDisplay(false)
	println("[dutycycle] sleeping", d.String())
	src, err := c.plat.DeepSleep(ctx, d)
	if err != nil {
		c.state = Active
		return c.wake, err
	}
	return c.Boot(src), nil
}

// -----------------------------------------------------------------------------
// Long press
// -----------------------------------------------------------------------------

// PressAction is what a long press asks for.
type PressAction uint8

const (
	PressNone PressAction = iota
	PressToggleAutoScale
	PressErase
)

func (a PressAction) String() string {
	switch a {
	case PressToggleAutoScale:
		return "toggle_auto_scale"
	case PressErase:
		return "erase"
	default:
		return "none"
	}
}

// PressTracker measures how long the user input stays asserted. Holding
// past the long threshold fires PressErase at once; releasing after the
// short threshold fires PressToggleAutoScale.
type PressTracker struct {
	short, long time.Duration

	down  bool
	fired bool
	since time.Time
}

func NewPressTracker(short, long time.Duration) *PressTracker {
	if short <= 0 {
		short = time.Second
	}
	if long <= short {
		long = 5 * short
	}
	return &PressTracker{short: short, long: long}
}

// Update samples the input. Call it every cycle while Active.
func (p *PressTracker) Update(pressed bool, now time.Time) PressAction {
	switch {
	case pressed && !p.down:
		p.down, p.fired, p.since = true, false, now
	case pressed && p.down:
		if !p.fired && now.Sub(p.since) >= p.long {
			p.fired = true
			return PressErase
		}
	case !pressed && p.down:
		p.down = false
		if p.fired {
			return PressNone
		}
		held := now.Sub(p.since)
		if held >= p.long {
			return PressErase
		}
		if held >= p.short {
			return PressToggleAutoScale
		}
	}
	return PressNone
}

// Held reports whether the input is currently asserted.
func (p *PressTracker) Held() bool { return p.down }
