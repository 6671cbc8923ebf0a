// Package session brings the radio link into a joined state and keeps the
// stored credentials and frame counter consistent with what the network
// has actually seen.
package session

import (
	"tracker-go/errcode"
	"tracker-go/services/tracker/internal/events"
	"tracker-go/services/tracker/internal/store"
	"tracker-go/services/tracker/radio"
	"tracker-go/types"
	"tracker-go/x/timex"
)

// Deps are the collaborators a Manager drives. All are required.
type Deps struct {
	MAC      radio.MAC
	Sessions *store.SessionStore
	Counter  *store.CounterStore
	Events   *events.Dispatcher
	Clock    timex.Clock
}

// SendOutcome describes an uplink the radio accepted.
type SendOutcome struct {
	Counter   uint32
	Port      uint8
	Confirmed bool
}

// Manager owns the session state and the live frame counter. It is driven
// from the control loop only.
type Manager struct {
	d   Deps
	abp types.Session

	state   types.SessionState
	stored  types.Session // last session known to be in the store
	joining bool
	rejoin  bool // next join outcome follows an erase

	lastPort      uint8
	lastConfirmed bool
	lastCounter   uint32
}

// New returns a Manager. abp is the provisioned session used in ABP mode
// and may be zero for OTAA-only builds.
func New(d Deps, abp types.Session) *Manager {
	if d.Clock == nil {
		d.Clock = timex.System
	}
	return &Manager{d: d, abp: abp}
}

func (m *Manager) State() types.SessionState { return m.state }
func (m *Manager) Joined() bool              { return m.state.Joined }
func (m *Manager) Joining() bool             { return m.joining }
func (m *Manager) Session() types.Session    { return m.state.Session }

// Counter is the number of the last accepted uplink.
func (m *Manager) Counter() uint32 { return m.d.Counter.Value() }

// NextCounter is the number the next accepted uplink will carry.
func (m *Manager) NextCounter() uint32 { return m.d.Counter.Value() + 1 }

// Activate establishes a session in the given mode.
//
// ABP installs the provisioned session and synthesizes Joined. OTAA
// installs a stored session when one is intact (fast rejoin, no handshake)
// and otherwise starts a join whose outcome arrives via HandleRadioEvent.
func (m *Manager) Activate(mode types.ActivationMode) error {
	m.state.Mode = mode
	switch mode {
	case types.ABP:
		if m.abp.IsZero() {
			return errcode.Wrap(errcode.InvalidConfig, "session.activate", errcode.NoSession)
		}
		m.install(m.abp)
		return nil
	case types.OTAA:
		if s, ok := m.d.Sessions.Load(); ok {
			m.stored = s
			println("[session] restored session devaddr", s.DevAddr)
			m.install(s)
			return nil
		}
		m.state.Joined = false
		m.state.Session = types.Session{}
		m.joining = true
		println("[session] no stored session, joining")
		m.d.MAC.BeginDynamicJoin()
		return nil
	default:
		return errcode.Wrap(errcode.InvalidParams, "session.activate", errcode.Unsupported)
	}
}

// install hands a session the network already knows to the MAC, resuming
// the restored frame counter.
func (m *Manager) install(s types.Session) {
	m.joining = false
	m.d.MAC.BeginStaticSession(s)
	m.d.MAC.SetUplinkCounter(m.d.Counter.Value())
	m.OnJoined(s)
}

// OnJoined records a completed join, persists the session when it differs
// from the stored one, and raises Joined (Rejoined after an erase).
func (m *Manager) OnJoined(s types.Session) {
	m.state.Joined = true
	m.state.Session = s
	switch {
	case s == m.stored:
	case !s.HasKeys():
		println("[session] joined without keys; not saved")
	default:
		if err := m.d.Sessions.Save(s); err != nil {
			println("[session] save failed:", err.Error())
		} else {
			m.stored = s
		}
	}
	kind := types.EvJoined
	if m.rejoin {
		kind = types.EvRejoined
		m.rejoin = false
	}
	m.publish(types.Event{Kind: kind})
}

// EraseSession clears the stored credentials and frame counter and resets
// the MAC. Store failures are logged and otherwise ignored; the in-memory
// state is cleared regardless. The next Activate performs a full join.
func (m *Manager) EraseSession() error {
	err := m.d.Sessions.Erase()
	if err != nil {
		println("[session] erase failed:", err.Error())
	}
	m.state.Joined = false
	m.state.Session = types.Session{}
	m.stored = types.Session{}
	m.joining = false
	m.rejoin = true
	m.d.Counter.Reset(m.d.Clock.Now())
	m.d.MAC.ResetMACState()
	return err
}

// Send stamps the next frame counter on the radio and submits one uplink.
// The live counter advances only when the radio accepts. A busy radio
// discards the attempt; nothing is queued.
func (m *Manager) Send(port uint8, payload []byte, confirmed bool) (SendOutcome, error) {
	if !m.state.Joined {
		m.publish(types.Event{Kind: types.EvMessageDiscarded, Port: port})
		return SendOutcome{}, errcode.NotJoined
	}
	if m.d.MAC.TxPending() {
		m.publish(types.Event{Kind: types.EvMessageDiscarded, Pending: true, Port: port})
		return SendOutcome{}, errcode.Busy
	}

	cur := m.d.Counter.Value()
	next := cur + 1
	m.d.MAC.SetUplinkCounter(next)
	if m.d.MAC.SubmitUplink(port, payload, confirmed) == radio.Busy {
		m.d.MAC.SetUplinkCounter(cur)
		m.publish(types.Event{Kind: types.EvMessageDiscarded, Pending: true, Port: port})
		return SendOutcome{}, errcode.Busy
	}

	m.d.Counter.Observe(next, m.d.Clock.Now())
	m.lastPort, m.lastConfirmed, m.lastCounter = port, confirmed, next
	out := SendOutcome{Counter: next, Port: port, Confirmed: confirmed}
	m.publish(types.Event{Kind: types.EvMessageQueued, Counter: next, Port: port, Confirmed: confirmed})
	return out, nil
}

// HandleRadioEvent maps one MAC event onto the lifecycle vocabulary.
// Pass it as the emit callback to radio.MAC.StepRunLoop.
func (m *Manager) HandleRadioEvent(ev radio.Event) {
	switch ev.Kind {
	case radio.EvJoined:
		m.joining = false
		// A fresh session starts its frame count from zero.
		now := m.d.Clock.Now()
		m.d.Counter.Reset(now)
		if err := m.d.Counter.SaveNow(now); err != nil {
			println("[session] counter reset not persisted:", err.Error())
		}
		m.OnJoined(ev.Session)
	case radio.EvJoinFailed:
		m.joining = false
		kind := types.EvJoinFailed
		if m.rejoin {
			kind = types.EvRejoinFailed
		}
		m.publish(types.Event{Kind: kind})
	case radio.EvTxStarted:
	case radio.EvTxComplete:
		m.publish(types.Event{
			Kind:      types.EvTxComplete,
			Counter:   m.lastCounter,
			Port:      m.lastPort,
			Confirmed: m.lastConfirmed,
		})
		if ev.Ack {
			m.publish(types.Event{Kind: types.EvAcked, Counter: m.lastCounter, Port: m.lastPort})
		}
		if len(ev.Downlink) > 0 {
			m.publish(types.Event{Kind: types.EvDownlinkReceived, Port: ev.Port, Downlink: ev.Downlink})
		}
	case radio.EvRxComplete:
		m.publish(types.Event{Kind: types.EvDownlinkReceived, Port: ev.Port, Downlink: ev.Downlink})
	case radio.EvLinkDead:
		m.publish(types.Event{Kind: types.EvLinkDead})
	case radio.EvReset:
		m.publish(types.Event{Kind: types.EvReset})
	default:
		println("[session] unknown radio event", uint8(ev.Kind))
	}
}

func (m *Manager) publish(ev types.Event) {
	if m.d.Events != nil {
		m.d.Events.Publish(ev)
	}
}
