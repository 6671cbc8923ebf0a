// Package tracker runs the position tracker: one cooperative loop that
// keeps the LoRaWAN session alive, decides when a fix is worth sending,
// and sleeps between reports.
package tracker

import (
	"context"
	"time"

	"tracker-go/bus"
	"tracker-go/errcode"
	"tracker-go/gnss"
	"tracker-go/nvs"
	"tracker-go/services/config"
	"tracker-go/services/tracker/internal/dutycycle"
	"tracker-go/services/tracker/internal/events"
	"tracker-go/services/tracker/internal/irqflag"
	"tracker-go/services/tracker/internal/scheduler"
	"tracker-go/services/tracker/internal/session"
	"tracker-go/services/tracker/internal/store"
	"tracker-go/services/tracker/radio"
	"tracker-go/types"
	"tracker-go/x/timex"
)

// Board-facing names for the duty-cycle and interrupt types.
type (
	Platform    = dutycycle.Platform
	WakeSource  = dutycycle.WakeSource
	PressAction = dutycycle.PressAction
	AlertFlag   = irqflag.Flag
)

const (
	PressNone            = dutycycle.PressNone
	PressToggleAutoScale = dutycycle.PressToggleAutoScale
	PressErase           = dutycycle.PressErase
)

const (
	settlePoll = 20 * time.Millisecond
	fixPoll    = time.Second
	maxSettle  = 2 * time.Minute
)

// Deps are the board-side collaborators. MAC, GNSS, NV and Platform are
// required.
type Deps struct {
	MAC      radio.MAC
	GNSS     gnss.Source
	NV       nvs.Store
	Platform dutycycle.Platform
	Clock    timex.Clock

	// Button samples the user input; nil when the board has none.
	Button func() bool
	// PowerAlert is set from the power-fail interrupt.
	PowerAlert *irqflag.Flag
	// Conn, when set, exposes state, events and controls on the bus.
	Conn *bus.Connection
}

// CycleResult summarises one active cycle.
type CycleResult struct {
	Decision scheduler.Decision
	Sent     bool
	Counter  uint32
	Press    dutycycle.PressAction
	Err      error
}

// Service owns every piece of tracker state. All methods must be called
// from the loop goroutine.
type Service struct {
	cfg  types.TrackerConfig
	mode types.ActivationMode
	d    Deps

	disp     *events.Dispatcher
	counter  *store.CounterStore
	sessions *store.SessionStore
	mgr      *session.Manager
	sched    *scheduler.Scheduler
	duty     *dutycycle.Controller
	press    *dutycycle.PressTracker
	surface  *surface

	payload [types.PositionPayloadLen]byte
	level   string

	// awake is when the current wake began; fixPending is set while the
	// wake is still waiting for a valid fix.
	awake      time.Time
	fixPending bool
}

// New wires the tracker. cfg must have passed config.Validate.
func New(d Deps, cfg types.TrackerConfig) (*Service, error) {
	if d.MAC == nil || d.GNSS == nil || d.NV == nil || d.Platform == nil {
		return nil, errcode.InvalidParams
	}
	if d.Clock == nil {
		d.Clock = timex.System
	}
	mode, ok := types.ParseActivationMode(cfg.Mode)
	if !ok {
		return nil, errcode.InvalidConfig
	}
	var abp types.Session
	if mode == types.ABP {
		s, err := config.ABPSession(cfg)
		if err != nil {
			return nil, err
		}
		abp = s
	}

	s := &Service{
		cfg:      cfg,
		mode:     mode,
		d:        d,
		disp:     events.NewDispatcher(),
		counter:  store.NewCounterStore(d.NV, cfg.CounterSaveInterval()),
		sessions: store.NewSessionStore(d.NV),
		press:    dutycycle.NewPressTracker(cfg.ShortPress(), cfg.LongPress()),
		level:    "booting",
	}
	s.mgr = session.New(session.Deps{
		MAC:      d.MAC,
		Sessions: s.sessions,
		Counter:  s.counter,
		Events:   s.disp,
		Clock:    d.Clock,
	}, abp)
	s.sched = scheduler.New(scheduler.PolicyFrom(cfg), cfg.AutoScale)
	s.duty = dutycycle.New(d.Platform, d.Clock, store.NewBootStore(d.NV), dutycycle.Config{
		Base:               s.sched.Policy().Base,
		DisplayOnTimerWake: cfg.DisplayOnTimerWake,
	})
	s.duty.OnSleep(s.flushCounter)
	s.duty.SetPending(d.MAC.TxPending)

	if d.Conn != nil {
		s.surface = newSurface(d.Conn, d.Clock)
		s.disp.Subscribe(s.surface)
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Application surface
// -----------------------------------------------------------------------------

// RegisterObserver adds an event observer. Observers run synchronously on
// the loop goroutine and must not block.
func (s *Service) RegisterObserver(o events.Observer) { s.disp.Subscribe(o) }

// TriggerSendNow forces a send on the next cycle with a valid fix.
func (s *Service) TriggerSendNow() { s.sched.Force() }

// CurrentCounter is the frame number of the last accepted uplink.
func (s *Service) CurrentCounter() uint32 { return s.mgr.Counter() }

// EraseCredentials forgets the session and starts a fresh join.
func (s *Service) EraseCredentials() error {
	err := s.mgr.EraseSession()
	s.restart()
	return err
}

// SaveCounterNow writes the frame counter regardless of the rate limit.
func (s *Service) SaveCounterNow() error {
	err := s.counter.SaveNow(s.d.Clock.Now())
	s.publishCounter()
	return errcode.Wrap(errcode.StoreIO, "tracker.save_counter", err)
}

// ToggleAutoScale flips the auto-scale policy and returns the new setting.
func (s *Service) ToggleAutoScale() bool {
	on := s.sched.ToggleAutoScale()
	println("[tracker] auto-scale", on)
	s.publishState(s.level, "auto_scale")
	return on
}

func (s *Service) SetAutoScale(on bool) {
	s.sched.SetAutoScale(on)
	s.publishState(s.level, "auto_scale")
}

func (s *Service) Joined() bool                     { return s.mgr.Joined() }
func (s *Service) Wake() types.WakeContext          { return s.duty.Wake() }
func (s *Service) SchedulerState() scheduler.State  { return s.sched.State() }
func (s *Service) Config() types.TrackerConfig      { return s.cfg }
func (s *Service) DutyState() dutycycle.State       { return s.duty.State() }
func (s *Service) PersistedCounter() uint32         { return s.counter.Persisted() }
func (s *Service) SessionState() types.SessionState { return s.mgr.State() }

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Boot classifies the wake, probes the radio, restores the frame counter
// and activates the session. A missing radio is returned as
// errcode.RadioAbsent; the caller decides whether to halt.
func (s *Service) Boot(src dutycycle.WakeSource) error {
	wake := s.duty.Boot(src)
	s.awake, s.fixPending = s.d.Clock.Now(), false
	s.publishState("booting", wake.Cause.String())

	if !s.d.MAC.Initialize() {
		s.publishState("error", string(errcode.RadioAbsent))
		return errcode.RadioAbsent
	}
	restored := s.counter.Restore(s.d.Clock.Now())
	println("[tracker] boot", wake.BootCount, "counter", restored)

	s.activate()
	s.publishCounter()
	return nil
}

// flushCounter runs before every sleep. An unchanged counter is not
// rewritten.
func (s *Service) flushCounter(now time.Time) error {
	if s.counter.Value() == s.counter.Persisted() {
		return nil
	}
	return s.counter.SaveNow(now)
}

func (s *Service) activate() {
	if err := s.mgr.Activate(s.mode); err != nil {
		println("[tracker] activate:", err.Error())
		s.publishState("error", string(errcode.Of(err)))
		return
	}
	if s.mgr.Joined() {
		s.publishState("active", "joined")
	} else {
		s.publishState("joining", s.mode.String())
	}
}

// restart returns the tracker to its just-booted state after an erase.
func (s *Service) restart() {
	s.sched = scheduler.New(s.sched.Policy(), s.sched.State().AutoScale)
	s.activate()
	s.publishCounter()
}

// poll is the per-iteration housekeeping shared by Cycle and the settle
// loop: power alert, radio run-loop, bus controls and the user input.
func (s *Service) poll(now time.Time) dutycycle.PressAction {
	if s.d.PowerAlert != nil && s.d.PowerAlert.Take() {
		println("[tracker] power alert")
		if err := s.SaveCounterNow(); err != nil {
			println("[tracker] counter save on power alert:", err.Error())
		}
	}

	s.d.MAC.StepRunLoop(s.mgr.HandleRadioEvent)

	if s.surface != nil {
		s.surface.pollControls(s)
		s.surface.pollConfig(s)
	}

	if s.d.Button == nil {
		return dutycycle.PressNone
	}
	act := s.press.Update(s.d.Button(), now)
	switch act {
	case dutycycle.PressToggleAutoScale:
		s.ToggleAutoScale()
	case dutycycle.PressErase:
		println("[tracker] long press: erasing session")
		if err := s.EraseCredentials(); err != nil {
			println("[tracker] erase:", err.Error())
		}
	}
	return act
}

// Cycle runs one active cycle: housekeeping, join upkeep, one position
// sample and at most one uplink.
func (s *Service) Cycle(ctx context.Context) CycleResult {
	now := s.d.Clock.Now()
	res := CycleResult{Press: s.poll(now)}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if !s.mgr.Joined() {
		if !s.mgr.Joining() {
			s.activate()
		}
		res.Counter = s.mgr.Counter()
		res.Err = errcode.NotJoined
		return res
	}
	s.publishState("active", "joined")

	dec, err := s.sample(now)
	res.Decision = dec
	if dec.Send {
		res.Err = err
		res.Sent = err == nil
	}
	res.Counter = s.mgr.Counter()
	return res
}

// sample takes one position, evaluates it and sends when the scheduler
// asks. A sample without a fix leaves the wake waiting for one.
func (s *Service) sample(now time.Time) (scheduler.Decision, error) {
	pos, ok := s.d.GNSS.Next()
	if !ok {
		pos = types.Position{}
	}
	dec := s.sched.Evaluate(pos, now)
	s.fixPending = dec.Reason == scheduler.ReasonNoFix
	if !dec.Send {
		return dec, nil
	}
	return dec, s.send(dec, pos, now)
}

func (s *Service) send(dec scheduler.Decision, sample types.Position, now time.Time) error {
	payload := types.EncodePosition(s.payload[:0], sample, dec.Flags())
	confirmed := scheduler.Confirmed(s.mgr.NextCounter(), s.sched.Policy().ConfirmedEvery)

	out, err := s.mgr.Send(s.cfg.Port, payload, confirmed)
	if err != nil {
		println("[tracker] send", dec.Reason.String(), "discarded:", err.Error())
		return err
	}
	s.sched.Commit(dec, sample, now)
	println("[tracker] sent", out.Counter, dec.Reason.String())

	if s.surface != nil {
		s.surface.uplink(types.UplinkInfo{
			Counter:   out.Counter,
			Port:      out.Port,
			Confirmed: out.Confirmed,
			Reason:    dec.Reason.String(),
			DistanceM: dec.DistanceM,
		})
	}
	s.publishCounter()
	return nil
}

// busy reports work that must finish before sleeping.
func (s *Service) busy() bool {
	return s.d.MAC.TxPending() || s.mgr.Joining() || s.press.Held()
}

// waitingFix reports whether the wake should keep sampling for a fix.
// The wait ends at the fix timeout, measured from the start of the wake.
func (s *Service) waitingFix(now time.Time) bool {
	if !s.fixPending {
		return false
	}
	if !s.mgr.Joined() || now.Sub(s.awake) >= s.cfg.FixTimeout() {
		println("[tracker] no fix after", now.Sub(s.awake).String())
		s.fixPending = false
	}
	return s.fixPending
}

// Settle keeps polling until outstanding radio work and any held press
// are resolved, bounded by maxSettle. While the cycle found no fix it also
// re-samples the receiver until a fix is evaluated or the fix timeout
// passes.
func (s *Service) Settle(ctx context.Context) error {
	deadline := s.d.Clock.Now().Add(maxSettle)
	for {
		now := s.d.Clock.Now()
		busy, fix := s.busy(), s.waitingFix(now)
		if !busy && !fix {
			return nil
		}
		if busy && now.After(deadline) {
			println("[tracker] settle deadline passed")
			return errcode.Timeout
		}
		wait := settlePoll
		if !busy {
			wait = fixPoll
		}
		if err := timex.Sleep(ctx, s.d.Clock, wait); err != nil {
			return err
		}
		now = s.d.Clock.Now()
		s.poll(now)
		if s.fixPending && s.mgr.Joined() && !s.d.MAC.TxPending() {
			if _, err := s.sample(now); err != nil {
				println("[tracker] settle send:", err.Error())
			}
		}
	}
}

// Sleep flushes and suspends until the next grid boundary or external
// signal.
func (s *Service) Sleep(ctx context.Context) (types.WakeContext, error) {
	s.publishState("sleeping", s.duty.NextSleep().String())
	wake, err := s.duty.Sleep(ctx)
	if err != nil {
		return wake, err
	}
	s.awake, s.fixPending = s.d.Clock.Now(), false
	s.publishState("active", wake.Cause.String())
	return wake, nil
}

// Run loops Cycle, Settle and Sleep until ctx ends. Boot must have
// succeeded.
func (s *Service) Run(ctx context.Context) error {
	for {
		res := s.Cycle(ctx)
		if res.Err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.Settle(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.Sleep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			println("[tracker] sleep:", err.Error())
		}
	}
}

// applyConfig takes runtime-adjustable settings from a config update.
// Activation mode and credentials need a reboot.
func (s *Service) applyConfig(cfg types.TrackerConfig) {
	if cfg.Mode != s.cfg.Mode {
		println("[tracker] config: mode change needs reboot")
		cfg.Mode, cfg.ABP = s.cfg.Mode, s.cfg.ABP
	}
	s.cfg = cfg
	p := scheduler.PolicyFrom(cfg)
	s.sched.SetPolicy(p)
	s.duty.SetBase(p.Base)
	println("[config] tracker base", p.Base.String())
}

func (s *Service) publishState(level, status string) {
	s.level = level
	if s.surface == nil {
		return
	}
	s.surface.state(types.TrackerState{
		Level:     level,
		Status:    status,
		Joined:    s.mgr.Joined(),
		Mode:      s.mode.String(),
		AutoScale: s.sched.State().AutoScale,
	})
}

func (s *Service) publishCounter() {
	if s.surface == nil {
		return
	}
	s.surface.counter(types.CounterValue{Value: s.counter.Value(), Persisted: s.counter.Persisted()})
}
