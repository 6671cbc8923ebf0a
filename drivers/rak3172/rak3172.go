// Package rak3172 drives a RAK3172 (RUI3 firmware) LoRaWAN modem over its
// AT command set and exposes it as a radio.MAC.
//
// Commands are short request/OK exchanges with a bounded wait. Join and
// transmit outcomes arrive later as unsolicited +EVT lines, which are
// collected by StepRunLoop without blocking.
package rak3172

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"tracker-go/services/tracker/radio"
	"tracker-go/types"
	"tracker-go/x/conv"
	"tracker-go/x/serialx"
	"tracker-go/x/timex"
)

var (
	ErrTimeout   = errors.New("rak3172: no reply")
	ErrBusy      = errors.New("rak3172: busy")
	ErrNotJoined = errors.New("rak3172: not joined")
	ErrRejected  = errors.New("rak3172: command rejected")
)

// Config holds timing; zero fields take defaults.
type Config struct {
	CmdTimeout    time.Duration // wait for OK/ERROR
	TxTimeout     time.Duration // give up on a transmit with no +EVT
	Poll          time.Duration // sleep between reads while waiting
	LinkDeadAfter int           // consecutive unacked confirmed sends
	JoinAttempts  int
}

func DefaultConfig() Config {
	return Config{
		CmdTimeout:    500 * time.Millisecond,
		TxTimeout:     30 * time.Second,
		Poll:          2 * time.Millisecond,
		LinkDeadAfter: 5,
		JoinAttempts:  8,
	}
}

// Device is not safe for concurrent use; it belongs to the control loop.
type Device struct {
	port  serialx.Port
	lines *serialx.Lines
	clock timex.Clock
	cfg   Config
	sleep func(time.Duration)

	counter   uint32
	cfm       int8 // -1 unknown, 0/1 last AT+CFM value
	joining   bool
	joined    bool // +EVT:JOINED seen, session not yet read
	txPending bool
	txSince   time.Time
	downlink  []byte
	dlPort    uint8
	missed    int

	events []radio.Event
	out    []byte
}

var _ radio.MAC = (*Device)(nil)

func New(port serialx.Port, clock timex.Clock, cfg Config) *Device {
	def := DefaultConfig()
	if cfg.CmdTimeout <= 0 {
		cfg.CmdTimeout = def.CmdTimeout
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = def.TxTimeout
	}
	if cfg.Poll <= 0 {
		cfg.Poll = def.Poll
	}
	if cfg.LinkDeadAfter <= 0 {
		cfg.LinkDeadAfter = def.LinkDeadAfter
	}
	if cfg.JoinAttempts <= 0 {
		cfg.JoinAttempts = def.JoinAttempts
	}
	if clock == nil {
		clock = timex.System
	}
	return &Device{
		port:  port,
		lines: serialx.NewLines(port, 128),
		clock: clock,
		cfg:   cfg,
		sleep: time.Sleep,
		cfm:   -1,
		out:   make([]byte, 0, 128),
	}
}

// -----------------------------------------------------------------------------
// Command exchange
// -----------------------------------------------------------------------------

// command writes one AT line and waits for its final status. Value lines
// seen before OK are returned; +EVT lines are queued as events.
func (d *Device) command(cmd string, args ...string) (string, error) {
	d.lines.Reset()
	d.out = append(d.out[:0], cmd...)
	for _, a := range args {
		d.out = append(d.out, a...)
	}
	d.out = append(d.out, '\r', '\n')
	if _, err := d.port.Write(d.out); err != nil {
		return "", err
	}

	name := strings.TrimSuffix(strings.TrimSuffix(cmd, "?"), "=")
	var (
		value string
		done  bool
		err   error
	)
	n := int(d.cfg.CmdTimeout / d.cfg.Poll)
	for i := 0; i <= n && !done; i++ {
		d.lines.Poll(func(line []byte) {
			if done {
				d.unsolicited(line)
				return
			}
			s := string(line)
			switch {
			case s == "OK":
				done = true
			case s == "AT_BUSY_ERROR":
				done, err = true, ErrBusy
			case s == "AT_NO_NETWORK_JOINED":
				done, err = true, ErrNotJoined
			case strings.HasPrefix(s, "AT_") && strings.HasSuffix(s, "ERROR"):
				done, err = true, ErrRejected
			case strings.HasPrefix(s, "+EVT:"):
				d.unsolicited(line)
			case strings.HasPrefix(s, name+"="):
				value = s[len(name)+1:]
			default:
				value = s
			}
		})
		if !done && i < n {
			d.sleep(d.cfg.Poll)
		}
	}
	if !done {
		return "", ErrTimeout
	}
	return value, err
}

// -----------------------------------------------------------------------------
// radio.MAC
// -----------------------------------------------------------------------------

// Initialize reports whether a modem answers.
func (d *Device) Initialize() bool {
	for i := 0; i < 3; i++ {
		if _, err := d.command("AT"); err == nil {
			return true
		}
	}
	println("[rak3172] modem not responding")
	return false
}

func (d *Device) BeginStaticSession(s types.Session) {
	var hx [8]byte
	steps := []struct{ cmd, arg string }{
		{"AT+NJM=", "0"},
		{"AT+DEVADDR=", string(conv.U32Hex(hx[:], s.DevAddr))},
		{"AT+NWKSKEY=", string(conv.AppendHex(nil, s.NwkSKey[:]))},
		{"AT+APPSKEY=", string(conv.AppendHex(nil, s.AppSKey[:]))},
	}
	for _, st := range steps {
		if _, err := d.command(st.cmd, st.arg); err != nil {
			println("[rak3172]", st.cmd, err.Error())
		}
	}
	d.joining = false
}

func (d *Device) BeginDynamicJoin() {
	if d.joining {
		return
	}
	if _, err := d.command("AT+NJM=", "1"); err != nil {
		println("[rak3172] AT+NJM", err.Error())
	}
	arg := "1:0:10:" + strconv.Itoa(d.cfg.JoinAttempts)
	if _, err := d.command("AT+JOIN=", arg); err != nil {
		println("[rak3172] AT+JOIN", err.Error())
		d.events = append(d.events, radio.Event{Kind: radio.EvJoinFailed})
		return
	}
	d.joining = true
}

// ResetMACState restarts the modem. Outstanding work is dropped.
func (d *Device) ResetMACState() {
	if _, err := d.command("ATZ"); err != nil && err != ErrTimeout {
		println("[rak3172] ATZ", err.Error())
	}
	d.joining = false
	d.joined = false
	d.txPending = false
	d.downlink = d.downlink[:0]
	d.missed = 0
	d.cfm = -1
	d.events = append(d.events, radio.Event{Kind: radio.EvReset})
}

func (d *Device) SubmitUplink(port uint8, payload []byte, confirmed bool) radio.SubmitResult {
	if d.txPending {
		return radio.Busy
	}
	want := int8(0)
	if confirmed {
		want = 1
	}
	if d.cfm != want {
		if _, err := d.command("AT+CFM=", strconv.Itoa(int(want))); err != nil {
			println("[rak3172] AT+CFM", err.Error())
			return radio.Busy
		}
		d.cfm = want
	}
	arg := strconv.Itoa(int(port)) + ":" + string(conv.AppendHex(nil, payload))
	if _, err := d.command("AT+SEND=", arg); err != nil {
		println("[rak3172] AT+SEND", err.Error())
		return radio.Busy
	}
	d.txPending = true
	d.txSince = d.clock.Now()
	d.downlink = d.downlink[:0]
	return radio.Accepted
}

func (d *Device) CurrentUplinkCounter() uint32 {
	v, err := d.command("AT+UPCNT=?")
	if err != nil {
		return d.counter
	}
	if n, err := strconv.ParseUint(v, 10, 32); err == nil {
		d.counter = uint32(n)
	}
	return d.counter
}

func (d *Device) SetUplinkCounter(n uint32) {
	d.counter = n
	if _, err := d.command("AT+UPCNT=", strconv.FormatUint(uint64(n), 10)); err != nil {
		println("[rak3172] AT+UPCNT", err.Error())
	}
}

func (d *Device) TxPending() bool { return d.txPending }

// StepRunLoop collects unsolicited lines, applies the transmit timeout and
// delivers queued events.
func (d *Device) StepRunLoop(emit func(radio.Event)) {
	d.lines.Poll(d.unsolicited)
	if d.joined {
		d.joined = false
		if s, ok := d.readSession(); ok {
			d.events = append(d.events, radio.Event{Kind: radio.EvJoined, Session: s})
		} else {
			println("[rak3172] joined but session unreadable")
			d.events = append(d.events, radio.Event{Kind: radio.EvJoinFailed})
		}
	}
	if d.txPending && d.clock.Now().Sub(d.txSince) > d.cfg.TxTimeout {
		println("[rak3172] transmit timed out")
		d.finishTx(false, d.cfm == 1)
	}
	ev := d.events
	d.events = nil
	for _, e := range ev {
		emit(e)
	}
}

// -----------------------------------------------------------------------------
// Unsolicited events
// -----------------------------------------------------------------------------

func (d *Device) unsolicited(line []byte) {
	s := string(line)
	if !strings.HasPrefix(s, "+EVT:") {
		return
	}
	evt := s[len("+EVT:"):]
	switch {
	case evt == "JOINED":
		d.joining = false
		d.joined = true
	case strings.HasPrefix(evt, "JOIN_FAILED"):
		d.joining = false
		d.events = append(d.events, radio.Event{Kind: radio.EvJoinFailed})
	case evt == "TX_DONE":
		d.finishTx(false, false)
	case evt == "SEND_CONFIRMED_OK":
		d.finishTx(true, true)
	case strings.HasPrefix(evt, "SEND_CONFIRMED_FAILED"):
		d.finishTx(false, true)
	case strings.HasPrefix(evt, "RX_"):
		d.receive(evt)
	}
}

// receive parses RX_n:rssi:snr:kind:port:hex.
func (d *Device) receive(evt string) {
	parts := strings.Split(evt, ":")
	if len(parts) < 6 {
		return
	}
	port, err := strconv.ParseUint(parts[4], 10, 8)
	if err != nil {
		return
	}
	data, ok := conv.ParseHex(nil, parts[5])
	if !ok {
		return
	}
	if d.txPending {
		d.downlink = append(d.downlink[:0], data...)
		d.dlPort = uint8(port)
		return
	}
	d.events = append(d.events, radio.Event{Kind: radio.EvRxComplete, Port: uint8(port), Downlink: data})
}

func (d *Device) finishTx(ack, confirmed bool) {
	if !d.txPending {
		return
	}
	d.txPending = false
	ev := radio.Event{Kind: radio.EvTxComplete, Ack: ack}
	if len(d.downlink) > 0 {
		ev.Downlink = append([]byte(nil), d.downlink...)
		ev.Port = d.dlPort
	}
	d.events = append(d.events, ev)

	if !confirmed {
		return
	}
	if ack {
		d.missed = 0
		return
	}
	d.missed++
	if d.missed == d.cfg.LinkDeadAfter {
		d.events = append(d.events, radio.Event{Kind: radio.EvLinkDead})
	}
}

// readSession queries the identifiers and keys negotiated by a join. The
// network id is best effort; the device address and both keys must read
// back in full.
func (d *Device) readSession() (types.Session, bool) {
	var s types.Session
	if v, err := d.command("AT+NETID=?"); err == nil {
		s.NetID, _ = conv.ParseU32Hex(v)
	}
	v, err := d.command("AT+DEVADDR=?")
	if err != nil {
		return s, false
	}
	var ok bool
	if s.DevAddr, ok = conv.ParseU32Hex(v); !ok {
		return s, false
	}
	if !d.readKey("AT+NWKSKEY=?", s.NwkSKey[:]) || !d.readKey("AT+APPSKEY=?", s.AppSKey[:]) {
		return s, false
	}
	return s, true
}

func (d *Device) readKey(cmd string, dst []byte) bool {
	v, err := d.command(cmd)
	if err != nil {
		return false
	}
	var buf [16]byte
	k, ok := conv.ParseHex(buf[:0], v)
	if !ok || len(k) != len(dst) {
		return false
	}
	copy(dst, k)
	return true
}
