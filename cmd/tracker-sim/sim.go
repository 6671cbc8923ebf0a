//go:build !tinygo

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"tracker-go/bus"
	"tracker-go/gnss"
	"tracker-go/nvs"
	"tracker-go/services/tracker"
	"tracker-go/services/tracker/radio/stub"
	"tracker-go/types"
	"tracker-go/x/conv"
	"tracker-go/x/timex"
)

var errQuit = errors.New("quit")

// platform stands in for the board: deep sleep just moves the clock.
type platform struct {
	clock   *timex.Manual
	display bool
}

func (p *platform) DeepSleep(ctx context.Context, d time.Duration) (tracker.WakeSource, error) {
	if err := ctx.Err(); err != nil {
		return tracker.WakeSource{}, err
	}
	p.clock.Advance(d)
	return tracker.WakeSource{Timer: true}, nil
}

func (p *platform) SetDisplay(on bool) { p.display = on }

// Sim owns one simulated tracker and executes console commands against it.
type Sim struct {
	cfg   types.TrackerConfig
	clock *timex.Manual
	plat  *platform
	gps   *gnss.Fixed
	nv    nvs.Store
	bus   *bus.Bus
	out   io.Writer

	joinAs  types.Session
	radio   radioOpts
	mac     *stub.MAC
	conn    *bus.Connection
	svc     *tracker.Service
	alert   tracker.AlertFlag
	pressed bool
}

type radioOpts struct {
	failJoins int
	noAck     bool
	absent    bool
}

// NewSim builds and boots a simulated tracker from a profile.
func NewSim(prof Profile, cfg types.TrackerConfig, nv nvs.Store, b *bus.Bus, out io.Writer) (*Sim, error) {
	clock := timex.NewManual(prof.Start.Time)
	s := &Sim{
		cfg:   cfg,
		clock: clock,
		plat:  &platform{clock: clock},
		gps:   &gnss.Fixed{Pos: types.Position{Lat: prof.Start.Lat, Lon: prof.Start.Lon, Valid: true}},
		nv:    nv,
		bus:   b,
		out:   out,
		radio: radioOpts{failJoins: prof.Radio.FailJoins, noAck: prof.Radio.NoAck, absent: prof.Radio.Absent},
	}
	s.joinAs = types.Session{NetID: 0x000013, DevAddr: 0x260B1234}
	copy(s.joinAs.NwkSKey[:], "sim-network-key!")
	copy(s.joinAs.AppSKey[:], "sim-app-key-0001")

	if err := s.power(); err != nil {
		return nil, err
	}
	return s, nil
}

// power builds a fresh tracker over the same storage, as after a power
// cycle, and boots it.
func (s *Sim) power() error {
	if s.conn != nil {
		s.conn.Disconnect()
	}
	s.mac = stub.New()
	s.mac.Present = !s.radio.absent
	s.mac.JoinAs = s.joinAs
	s.mac.FailJoins = s.radio.failJoins
	s.mac.NoAck = s.radio.noAck
	s.conn = s.bus.NewConnection("tracker")

	svc, err := tracker.New(tracker.Deps{
		MAC:        s.mac,
		GNSS:       s.gps,
		NV:         s.nv,
		Platform:   s.plat,
		Clock:      s.clock,
		Button:     func() bool { return s.pressed },
		PowerAlert: &s.alert,
		Conn:       s.conn,
	}, s.cfg)
	if err != nil {
		return err
	}
	svc.RegisterObserver(tracker.LogObserver{})
	s.svc = svc
	return svc.Boot(tracker.WakeSource{ColdBoot: true})
}

// Exec runs one console line. It returns errQuit for "quit".
func (s *Sim) Exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 || strings.HasPrefix(args[0], "#") {
		return nil
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "tick":
		n, err := optInt(rest, 1)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := s.tick(ctx); err != nil {
				return err
			}
		}
	case "move":
		if len(rest) != 2 {
			return errors.New("usage: move <north_m> <east_m>")
		}
		n, err1 := strconv.ParseFloat(rest[0], 64)
		e, err2 := strconv.ParseFloat(rest[1], 64)
		if err := errors.Join(err1, err2); err != nil {
			return err
		}
		s.gps.Move(n, e)
	case "fix":
		on, err := onOff(rest)
		if err != nil {
			return err
		}
		s.gps.Quiet = !on
	case "advance":
		d, err := optDuration(rest, time.Second)
		if err != nil {
			return err
		}
		s.clock.Advance(d)
	case "press":
		d, err := optDuration(rest, 1500*time.Millisecond)
		if err != nil {
			return err
		}
		s.press(ctx, d)
	case "send":
		s.svc.TriggerSendNow()
	case "erase":
		return s.svc.EraseCredentials()
	case "save":
		return s.svc.SaveCounterNow()
	case "alert":
		s.alert.Set()
	case "busy":
		on, err := onOff(rest)
		if err != nil {
			return err
		}
		s.mac.HoldTx = on
	case "downlink":
		if len(rest) != 1 {
			return errors.New("usage: downlink <hex>")
		}
		b, ok := conv.ParseHex(nil, rest[0])
		if !ok {
			return errors.New("downlink: bad hex")
		}
		s.mac.Downlink = b
	case "reboot":
		return s.power()
	case "status":
		s.status()
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// tick runs one wake period. A held transmission keeps the tracker awake
// for a second instead of sleeping.
func (s *Sim) tick(ctx context.Context) error {
	res := s.svc.Cycle(ctx)
	s.report(res)
	if s.mac.HoldTx {
		fmt.Fprintln(s.out, "radio busy: staying awake")
		s.clock.Advance(time.Second)
		return nil
	}
	before := s.svc.CurrentCounter()
	if err := s.svc.Settle(ctx); err != nil {
		return err
	}
	if after := s.svc.CurrentCounter(); after > before {
		fmt.Fprintf(s.out, "%s late fix sent fcnt=%d\n", s.clock.Now().Format(time.TimeOnly), after)
	}
	_, err := s.svc.Sleep(ctx)
	return err
}

// press holds the button for d across two cycles and releases it on a third.
func (s *Sim) press(ctx context.Context, d time.Duration) {
	s.pressed = true
	s.report(s.svc.Cycle(ctx))
	s.clock.Advance(d)
	s.report(s.svc.Cycle(ctx))
	s.pressed = false
	s.report(s.svc.Cycle(ctx))
}

func (s *Sim) report(res tracker.CycleResult) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.clock.Now().Format(time.TimeOnly), res.Decision.Reason)
	if res.Sent {
		fmt.Fprintf(&b, " sent fcnt=%d", res.Counter)
	}
	if res.Press != tracker.PressNone {
		fmt.Fprintf(&b, " press=%s", res.Press)
	}
	if res.Err != nil {
		fmt.Fprintf(&b, " err=%v", res.Err)
	}
	fmt.Fprintln(s.out, b.String())
}

func (s *Sim) status() {
	st := s.svc.SchedulerState()
	w := s.svc.Wake()
	fmt.Fprintf(s.out, "time=%s joined=%v fcnt=%d persisted=%d boot=%d wake=%s auto_scale=%v interval=%s uplinks=%d display=%v\n",
		s.clock.Now().Format(time.RFC3339), s.svc.Joined(), s.svc.CurrentCounter(), s.svc.PersistedCounter(),
		w.BootCount, w.Cause, st.AutoScale, st.Adjusted, len(s.mac.Uplinks()), s.plat.display)
}

// Check compares the run against a scenario's expectations.
func (s *Sim) Check(sc Scenario) error {
	var errs []error
	if want := sc.Expect.Uplinks; want != nil && len(s.mac.Uplinks()) != *want {
		errs = append(errs, fmt.Errorf("uplinks: got %d, want %d", len(s.mac.Uplinks()), *want))
	}
	if want := sc.Expect.Counter; want != nil && s.svc.CurrentCounter() != *want {
		errs = append(errs, fmt.Errorf("counter: got %d, want %d", s.svc.CurrentCounter(), *want))
	}
	if want := sc.Expect.Joined; want != nil && s.svc.Joined() != *want {
		errs = append(errs, fmt.Errorf("joined: got %v, want %v", s.svc.Joined(), *want))
	}
	return errors.Join(errs...)
}

// Run executes every step of a scenario and checks its expectations.
func (s *Sim) Run(ctx context.Context, sc Scenario) error {
	for i, step := range sc.Steps {
		fmt.Fprintf(s.out, "> %s\n", step)
		if err := s.Exec(ctx, step); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			return fmt.Errorf("step %d %q: %w", i+1, step, err)
		}
	}
	return s.Check(sc)
}

func optInt(args []string, def int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	return strconv.Atoi(args[0])
}

func optDuration(args []string, def time.Duration) (time.Duration, error) {
	if len(args) == 0 {
		return def, nil
	}
	return time.ParseDuration(args[0])
}

func onOff(args []string) (bool, error) {
	if len(args) == 1 {
		switch args[0] {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
	}
	return false, errors.New("expected on|off")
}
