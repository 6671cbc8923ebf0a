// Package stub is a scripted radio.MAC for host tests and the simulator.
package stub

import (
	"sync"

	"tracker-go/services/tracker/radio"
	"tracker-go/types"
)

// Uplink records one accepted SubmitUplink.
type Uplink struct {
	Port      uint8
	Payload   []byte
	Confirmed bool
	Counter   uint32
}

// MAC completes joins and transmissions on the next StepRunLoop unless told
// otherwise.
type MAC struct {
	mu sync.Mutex

	Present   bool          // Initialize result
	JoinAs    types.Session // session handed out by a dynamic join
	FailJoins int           // number of upcoming joins that fail
	ForceBusy bool          // SubmitUplink always reports Busy
	HoldTx    bool          // keep transmissions pending across steps
	NoAck     bool          // confirmed uplinks complete without ack
	Downlink  []byte        // delivered with the next TxComplete

	counter uint32
	joining bool
	pending *Uplink
	queue   []radio.Event
	uplinks []Uplink
	static  []types.Session
	joins   int
	resets  int
}

var _ radio.MAC = (*MAC)(nil)

func New() *MAC { return &MAC{Present: true} }

func (m *MAC) Initialize() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Present
}

func (m *MAC) BeginStaticSession(s types.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.static = append(m.static, s)
}

func (m *MAC) BeginDynamicJoin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins++
	m.joining = true
}

func (m *MAC) ResetMACState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.joining = false
	m.pending = nil
	m.queue = append(m.queue, radio.Event{Kind: radio.EvReset})
}

func (m *MAC) SubmitUplink(port uint8, payload []byte, confirmed bool) radio.SubmitResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ForceBusy || m.pending != nil {
		return radio.Busy
	}
	u := Uplink{Port: port, Payload: append([]byte(nil), payload...), Confirmed: confirmed, Counter: m.counter}
	m.pending = &u
	m.uplinks = append(m.uplinks, u)
	m.queue = append(m.queue, radio.Event{Kind: radio.EvTxStarted})
	return radio.Accepted
}

func (m *MAC) CurrentUplinkCounter() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

func (m *MAC) SetUplinkCounter(n uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = n
}

func (m *MAC) TxPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ForceBusy || m.pending != nil
}

func (m *MAC) StepRunLoop(emit func(radio.Event)) {
	m.mu.Lock()
	if m.joining {
		m.joining = false
		if m.FailJoins > 0 {
			m.FailJoins--
			m.queue = append(m.queue, radio.Event{Kind: radio.EvJoinFailed})
		} else {
			m.queue = append(m.queue, radio.Event{Kind: radio.EvJoined, Session: m.JoinAs})
		}
	}
	if m.pending != nil && !m.HoldTx {
		ev := radio.Event{Kind: radio.EvTxComplete, Ack: m.pending.Confirmed && !m.NoAck, Port: m.pending.Port}
		if m.Downlink != nil {
			ev.Downlink = m.Downlink
			m.Downlink = nil
		}
		m.pending = nil
		m.queue = append(m.queue, ev)
	}
	q := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, ev := range q {
		emit(ev)
	}
}

// Inject queues an arbitrary event for the next step.
func (m *MAC) Inject(ev radio.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, ev)
}

// Uplinks returns a copy of all accepted uplinks.
func (m *MAC) Uplinks() []Uplink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Uplink(nil), m.uplinks...)
}

func (m *MAC) Joins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joins
}

func (m *MAC) StaticSessions() []types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Session(nil), m.static...)
}

func (m *MAC) Resets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}
