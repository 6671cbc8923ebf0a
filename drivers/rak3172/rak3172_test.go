package rak3172

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-go/services/tracker/radio"
	"tracker-go/types"
	"tracker-go/x/timex"
)

// fakeModem answers AT lines from a script and records what was sent.
type fakeModem struct {
	mu      sync.Mutex
	rx      []byte
	partial []byte
	cmds    []string
	reply   map[string][]string // exact command -> reply lines
	silent  bool
}

func newFakeModem() *fakeModem {
	return &fakeModem{reply: map[string][]string{}}
}

func (f *fakeModem) push(lines ...string) {
	f.mu.Lock()
	for _, l := range lines {
		f.rx = append(f.rx, l...)
		f.rx = append(f.rx, '\r', '\n')
	}
	f.mu.Unlock()
}

func (f *fakeModem) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.partial = append(f.partial, p...)
	var done []string
	for {
		i := strings.Index(string(f.partial), "\r\n")
		if i < 0 {
			break
		}
		done = append(done, string(f.partial[:i]))
		f.partial = f.partial[i+2:]
	}
	f.cmds = append(f.cmds, done...)
	silent := f.silent
	f.mu.Unlock()

	for _, c := range done {
		if silent {
			continue
		}
		if r, ok := f.reply[c]; ok {
			f.push(r...)
			continue
		}
		f.push("OK")
	}
	return len(p), nil
}

func (f *fakeModem) Buffered() int { f.mu.Lock(); n := len(f.rx); f.mu.Unlock(); return n }
func (f *fakeModem) Read(p []byte) (int, error) {
	f.mu.Lock()
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakeModem) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func (f *fakeModem) clear() {
	f.mu.Lock()
	f.cmds = nil
	f.mu.Unlock()
}

func newDevice(m *fakeModem, clock timex.Clock) *Device {
	d := New(m, clock, Config{CmdTimeout: 4 * time.Millisecond, Poll: time.Millisecond, LinkDeadAfter: 2})
	d.sleep = func(time.Duration) {}
	return d
}

func step(d *Device) []radio.Event {
	var out []radio.Event
	d.StepRunLoop(func(ev radio.Event) { out = append(out, ev) })
	return out
}

func kinds(evs []radio.Event) []radio.Kind {
	var k []radio.Kind
	for _, e := range evs {
		k = append(k, e.Kind)
	}
	return k
}

func TestInitialize(t *testing.T) {
	m := newFakeModem()
	assert.True(t, newDevice(m, nil).Initialize())

	m = newFakeModem()
	m.silent = true
	assert.False(t, newDevice(m, nil).Initialize())
	assert.Equal(t, []string{"AT", "AT", "AT"}, m.sent())
}

func TestStaticSessionCommands(t *testing.T) {
	m := newFakeModem()
	d := newDevice(m, nil)

	s := types.Session{DevAddr: 0x26011BDA}
	s.NwkSKey[0], s.AppSKey[15] = 0xAB, 0x01
	d.BeginStaticSession(s)

	assert.Equal(t, []string{
		"AT+NJM=0",
		"AT+DEVADDR=26011BDA",
		"AT+NWKSKEY=AB000000000000000000000000000000",
		"AT+APPSKEY=00000000000000000000000000000001",
	}, m.sent())
}

func TestJoinReadsNegotiatedSession(t *testing.T) {
	m := newFakeModem()
	m.reply["AT+NETID=?"] = []string{"AT+NETID=000013", "OK"}
	m.reply["AT+DEVADDR=?"] = []string{"AT+DEVADDR=260B1234", "OK"}
	m.reply["AT+NWKSKEY=?"] = []string{"AT+NWKSKEY=000102030405060708090A0B0C0D0E0F", "OK"}
	m.reply["AT+APPSKEY=?"] = []string{"AT+APPSKEY=F0F1F2F3F4F5F6F7F8F9FAFBFCFDFEFF", "OK"}
	d := newDevice(m, nil)

	d.BeginDynamicJoin()
	assert.Equal(t, []string{"AT+NJM=1", "AT+JOIN=1:0:10:8"}, m.sent())
	assert.Empty(t, step(d))

	m.push("+EVT:JOINED")
	evs := step(d)
	require.Equal(t, []radio.Kind{radio.EvJoined}, kinds(evs))
	s := evs[0].Session
	assert.Equal(t, uint32(0x13), s.NetID)
	assert.Equal(t, uint32(0x260B1234), s.DevAddr)
	assert.Equal(t, byte(0x0F), s.NwkSKey[15])
	assert.Equal(t, byte(0xF0), s.AppSKey[0])
}

func TestJoinWithUnreadableKeysFails(t *testing.T) {
	for name, replies := range map[string]map[string][]string{
		"nwk key refused": {
			"AT+NWKSKEY=?": {"AT_ERROR"},
			"AT+APPSKEY=?": {"AT+APPSKEY=F0F1F2F3F4F5F6F7F8F9FAFBFCFDFEFF", "OK"},
		},
		"app key refused": {
			"AT+NWKSKEY=?": {"AT+NWKSKEY=000102030405060708090A0B0C0D0E0F", "OK"},
			"AT+APPSKEY=?": {"AT_ERROR"},
		},
		"short key": {
			"AT+NWKSKEY=?": {"AT+NWKSKEY=00010203", "OK"},
			"AT+APPSKEY=?": {"AT+APPSKEY=F0F1F2F3F4F5F6F7F8F9FAFBFCFDFEFF", "OK"},
		},
		"garbled key": {
			"AT+NWKSKEY=?": {"AT+NWKSKEY=0001020304050607080ZZA0B0C0D0E0F", "OK"},
			"AT+APPSKEY=?": {"AT+APPSKEY=F0F1F2F3F4F5F6F7F8F9FAFBFCFDFEFF", "OK"},
		},
		"no device address": {
			"AT+DEVADDR=?": {"AT_ERROR"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			m := newFakeModem()
			m.reply["AT+DEVADDR=?"] = []string{"AT+DEVADDR=260B1234", "OK"}
			for cmd, r := range replies {
				m.reply[cmd] = r
			}
			d := newDevice(m, nil)
			d.BeginDynamicJoin()
			m.push("+EVT:JOINED")
			assert.Equal(t, []radio.Kind{radio.EvJoinFailed}, kinds(step(d)))
		})
	}
}

func TestJoinFailure(t *testing.T) {
	m := newFakeModem()
	d := newDevice(m, nil)
	d.BeginDynamicJoin()
	m.push("+EVT:JOIN_FAILED_RX_TIMEOUT")
	assert.Equal(t, []radio.Kind{radio.EvJoinFailed}, kinds(step(d)))

	m.reply["AT+JOIN=1:0:10:8"] = []string{"AT_BUSY_ERROR"}
	d.BeginDynamicJoin()
	assert.Equal(t, []radio.Kind{radio.EvJoinFailed}, kinds(step(d)))
}

func TestSubmitUplink(t *testing.T) {
	m := newFakeModem()
	d := newDevice(m, nil)

	require.Equal(t, radio.Accepted, d.SubmitUplink(10, []byte{0x01, 0xAB}, false))
	assert.Equal(t, []string{"AT+CFM=0", "AT+SEND=10:01AB"}, m.sent())
	assert.True(t, d.TxPending())
	assert.Equal(t, radio.Busy, d.SubmitUplink(10, []byte{2}, false), "one in flight")

	m.push("+EVT:TX_DONE")
	evs := step(d)
	require.Equal(t, []radio.Kind{radio.EvTxComplete}, kinds(evs))
	assert.False(t, evs[0].Ack)
	assert.False(t, d.TxPending())

	m.clear()
	require.Equal(t, radio.Accepted, d.SubmitUplink(10, []byte{3}, false))
	assert.Equal(t, []string{"AT+SEND=10:03"}, m.sent(), "CFM only sent on change")
}

func TestSubmitBusy(t *testing.T) {
	m := newFakeModem()
	m.reply["AT+SEND=10:01"] = []string{"AT_BUSY_ERROR"}
	d := newDevice(m, nil)

	assert.Equal(t, radio.Busy, d.SubmitUplink(10, []byte{1}, false))
	assert.False(t, d.TxPending())
}

func TestConfirmedWithDownlink(t *testing.T) {
	m := newFakeModem()
	d := newDevice(m, nil)

	require.Equal(t, radio.Accepted, d.SubmitUplink(10, []byte{1}, true))
	m.push("+EVT:RX_1:-70:8:UNICAST:3:CAFE", "+EVT:SEND_CONFIRMED_OK")
	evs := step(d)
	require.Equal(t, []radio.Kind{radio.EvTxComplete}, kinds(evs))
	assert.True(t, evs[0].Ack)
	assert.Equal(t, []byte{0xCA, 0xFE}, evs[0].Downlink)
	assert.Equal(t, uint8(3), evs[0].Port)

	m.push("+EVT:RX_C:-90:2:MULTICAST:5:01")
	evs = step(d)
	require.Equal(t, []radio.Kind{radio.EvRxComplete}, kinds(evs))
	assert.Equal(t, uint8(5), evs[0].Port)
}

func TestLinkDeadAfterMissedAcks(t *testing.T) {
	m := newFakeModem()
	d := newDevice(m, nil)

	var all []radio.Kind
	for i := 0; i < 3; i++ {
		require.Equal(t, radio.Accepted, d.SubmitUplink(10, []byte{1}, true))
		m.push("+EVT:SEND_CONFIRMED_FAILED(4)")
		all = append(all, kinds(step(d))...)
	}
	assert.Equal(t, []radio.Kind{
		radio.EvTxComplete,
		radio.EvTxComplete, radio.EvLinkDead,
		radio.EvTxComplete,
	}, all)
}

func TestTransmitTimeout(t *testing.T) {
	m := newFakeModem()
	clock := timex.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := newDevice(m, clock)

	require.Equal(t, radio.Accepted, d.SubmitUplink(10, []byte{1}, false))
	assert.Empty(t, step(d))
	clock.Advance(31 * time.Second)
	assert.Equal(t, []radio.Kind{radio.EvTxComplete}, kinds(step(d)))
	assert.False(t, d.TxPending())
}

func TestUplinkCounter(t *testing.T) {
	m := newFakeModem()
	m.reply["AT+UPCNT=?"] = []string{"AT+UPCNT=41", "OK"}
	d := newDevice(m, nil)

	d.SetUplinkCounter(42)
	assert.Equal(t, []string{"AT+UPCNT=42"}, m.sent())
	assert.Equal(t, uint32(41), d.CurrentUplinkCounter())
}

func TestResetDropsPending(t *testing.T) {
	m := newFakeModem()
	d := newDevice(m, nil)
	require.Equal(t, radio.Accepted, d.SubmitUplink(10, []byte{1}, false))

	d.ResetMACState()
	assert.False(t, d.TxPending())
	assert.Equal(t, []radio.Kind{radio.EvReset}, kinds(step(d)))
}

func TestEventDuringCommandIsKept(t *testing.T) {
	m := newFakeModem()
	m.reply["AT+CFM=1"] = []string{"+EVT:JOIN_FAILED_RX_TIMEOUT", "OK"}
	d := newDevice(m, nil)

	require.Equal(t, radio.Accepted, d.SubmitUplink(10, []byte{1}, true))
	assert.Equal(t, []radio.Kind{radio.EvJoinFailed}, kinds(step(d)))
}
