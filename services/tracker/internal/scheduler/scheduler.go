// Package scheduler decides, once per wake cycle, whether a position sample
// is worth an uplink and how the reporting interval adapts.
package scheduler

import (
	"time"

	"tracker-go/types"
	"tracker-go/x/mathx"
)

// Reason explains a decision.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonNoFix
	ReasonForced
	ReasonFirstFix
	ReasonMoved
	ReasonStationaryTimeout
)

var reasonNames = [...]string{
	ReasonNone:              "none",
	ReasonNoFix:             "no_fix",
	ReasonForced:            "forced",
	ReasonFirstFix:          "first_fix",
	ReasonMoved:             "moved",
	ReasonStationaryTimeout: "stationary_timeout",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Policy is the static part of the send policy.
type Policy struct {
	MinDistanceM   float64
	Base           time.Duration
	Max            time.Duration
	Growth         float64
	ConfirmedEvery uint32
}

// PolicyFrom derives a policy from configuration, repairing bounds so that
// Base <= Max and Growth >= 1.
func PolicyFrom(cfg types.TrackerConfig) Policy {
	p := Policy{
		MinDistanceM:   cfg.MinDistanceM,
		Base:           cfg.BaseInterval(),
		Max:            cfg.MaxInterval(),
		Growth:         cfg.GrowthFactor,
		ConfirmedEvery: cfg.ConfirmedEvery,
	}
	if p.Base <= 0 {
		p.Base = time.Minute
	}
	p.Max = mathx.Max(p.Max, p.Base)
	p.Growth = mathx.Max(p.Growth, 1)
	return p
}

// State is the mutable part of the send policy.
type State struct {
	LastSent   types.Position
	Tracking   bool // a position has been sent since boot
	LastSendAt time.Time

	Adjusted        time.Duration // always >= Policy.Base
	AutoScale       bool
	ForceSend       bool // one-shot
	StationaryTicks uint32
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Send      bool
	Reason    Reason
	DistanceM float64
	Elapsed   time.Duration
}

// Decide is pure: identical inputs give identical decisions.
func Decide(p Policy, s State, sample types.Position, now time.Time) Decision {
	if !sample.Valid {
		return Decision{Reason: ReasonNoFix}
	}
	d := Decision{}
	if s.Tracking {
		d.DistanceM = mathx.Haversine(s.LastSent.Lat, s.LastSent.Lon, sample.Lat, sample.Lon)
		d.Elapsed = now.Sub(s.LastSendAt)
	}
	switch {
	case s.ForceSend:
		d.Reason = ReasonForced
	case !s.Tracking:
		d.Reason = ReasonFirstFix
	case d.DistanceM >= p.MinDistanceM:
		d.Reason = ReasonMoved
	case d.Elapsed > s.Adjusted:
		d.Reason = ReasonStationaryTimeout
	default:
		return d
	}
	d.Send = true
	return d
}

// Confirmed selects confirmed delivery for every nth uplink, judged on the
// number the uplink will carry. every == 0 disables confirmation.
func Confirmed(next, every uint32) bool {
	return every > 0 && next%every == 0
}

// Scheduler holds the send policy across wake cycles. It belongs to the
// control loop.
type Scheduler struct {
	p Policy
	s State
}

func New(p Policy, autoScale bool) *Scheduler {
	return &Scheduler{p: p, s: State{Adjusted: p.Base, AutoScale: autoScale}}
}

func (sc *Scheduler) Policy() Policy { return sc.p }
func (sc *Scheduler) State() State   { return sc.s }

// Evaluate decides for this cycle. A stationary sample that does not
// trigger a send counts as a stationary tick. Nothing else changes until
// Commit; a send that the radio refuses leaves the policy untouched, so the
// next cycle starts from scratch.
func (sc *Scheduler) Evaluate(sample types.Position, now time.Time) Decision {
	d := Decide(sc.p, sc.s, sample, now)
	if !d.Send && d.Reason == ReasonNone {
		sc.s.StationaryTicks++
	}
	return d
}

// Commit applies an accepted send. A stationary-timeout send grows the
// interval when auto-scale is on; any other send resets it to base.
func (sc *Scheduler) Commit(d Decision, sample types.Position, now time.Time) {
	if !d.Send {
		return
	}
	sc.s.LastSent = sample
	sc.s.Tracking = true
	sc.s.LastSendAt = now
	sc.s.ForceSend = false

	if d.Reason == ReasonStationaryTimeout {
		sc.s.StationaryTicks++
		if sc.s.AutoScale {
			grown := time.Duration(float64(sc.s.Adjusted) * sc.p.Growth)
			sc.s.Adjusted = mathx.Clamp(grown, sc.p.Base, sc.p.Max)
		}
		return
	}
	sc.s.StationaryTicks = 0
	sc.s.Adjusted = sc.p.Base
}

// SetPolicy swaps the static policy, keeping history. The adjusted
// interval is pulled back inside the new bounds.
func (sc *Scheduler) SetPolicy(p Policy) {
	sc.p = p
	if !sc.s.AutoScale {
		sc.s.Adjusted = p.Base
		return
	}
	sc.s.Adjusted = mathx.Clamp(sc.s.Adjusted, p.Base, p.Max)
}

// Force arms a one-shot send for the next evaluation with a valid fix.
func (sc *Scheduler) Force() { sc.s.ForceSend = true }

func (sc *Scheduler) SetAutoScale(on bool) {
	sc.s.AutoScale = on
	if !on {
		sc.s.Adjusted = sc.p.Base
	}
}

// ToggleAutoScale flips auto-scale and returns the new setting.
func (sc *Scheduler) ToggleAutoScale() bool {
	sc.SetAutoScale(!sc.s.AutoScale)
	return sc.s.AutoScale
}

// Flags encodes the decision for the uplink payload.
func (d Decision) Flags() uint8 {
	var f uint8
	switch d.Reason {
	case ReasonStationaryTimeout:
		f |= types.FlagStationary
	case ReasonForced:
		f |= types.FlagForced
	}
	return f
}
