package dutycycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker-go/errcode"
	"tracker-go/nvs"
	"tracker-go/services/tracker/internal/store"
	"tracker-go/types"
	"tracker-go/x/timex"
)

var t0 = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fakePlatform struct {
	clock   *timex.Manual
	display []bool
	slept   []time.Duration
	wakeBy  WakeSource
	err     error
	log     *[]string
}

func (p *fakePlatform) DeepSleep(ctx context.Context, d time.Duration) (WakeSource, error) {
	if p.log != nil {
		*p.log = append(*p.log, "sleep")
	}
	if p.err != nil {
		return WakeSource{}, p.err
	}
	p.slept = append(p.slept, d)
	p.clock.Advance(d)
	return p.wakeBy, nil
}

func (p *fakePlatform) SetDisplay(on bool) { p.display = append(p.display, on) }

func TestSleepForAlignsToGrid(t *testing.T) {
	base := time.Minute
	cases := []struct {
		now  time.Time
		want time.Duration
	}{
		{t0, base},
		{t0.Add(1 * time.Second), 59 * time.Second},
		{t0.Add(59*time.Second + 500*time.Millisecond), 500 * time.Millisecond},
		{t0.Add(10*base + 15*time.Second), 45 * time.Second},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, SleepFor(c.now, base), c.now.String())
	}
	assert.Equal(t, time.Duration(0), SleepFor(t0, 0))

	// Accumulated overhead does not drift the grid.
	now := t0.Add(3 * time.Second)
	for i := 0; i < 100; i++ {
		now = now.Add(SleepFor(now, base))
		assert.Equal(t, 0, now.Second())
		now = now.Add(1700 * time.Millisecond)
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, types.WakePowerOn, Classify(WakeSource{ColdBoot: true, Timer: true}))
	assert.Equal(t, types.WakeTimer, Classify(WakeSource{Timer: true}))
	assert.Equal(t, types.WakeExternalSignal, Classify(WakeSource{External: true}))
	assert.Equal(t, types.WakeExternalSignal, Classify(WakeSource{External: true, Timer: true}))
	assert.Equal(t, types.WakePowerOn, Classify(WakeSource{}))
}

func TestDisplayWanted(t *testing.T) {
	assert.False(t, DisplayWanted(types.WakeTimer, false))
	assert.True(t, DisplayWanted(types.WakeTimer, true))
	assert.True(t, DisplayWanted(types.WakeExternalSignal, false))
	assert.True(t, DisplayWanted(types.WakePowerOn, false))
}

func TestSleepFlushesThenSuspends(t *testing.T) {
	var log []string
	clock := timex.NewManual(t0.Add(20 * time.Second))
	plat := &fakePlatform{clock: clock, wakeBy: WakeSource{Timer: true}, log: &log}
	c := New(plat, clock, store.NewBootStore(nvs.NewMemory()), Config{Base: time.Minute})

	c.Boot(WakeSource{ColdBoot: true})
	c.OnSleep(func(time.Time) error { log = append(log, "counter"); return nil })
	c.OnSleep(func(time.Time) error { log = append(log, "broken"); return errors.New("nack") })

	wake, err := c.Sleep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"counter", "broken", "sleep"}, log)
	assert.Equal(t, []time.Duration{40 * time.Second}, plat.slept)
	assert.Equal(t, types.WakeContext{BootCount: 2, Cause: types.WakeTimer}, wake)
	assert.Equal(t, Active, c.State())
	// cold boot on, pre-sleep off, timer wake off
	assert.Equal(t, []bool{true, false, false}, plat.display)
}

func TestSleepRefusedWhilePending(t *testing.T) {
	clock := timex.NewManual(t0)
	plat := &fakePlatform{clock: clock}
	c := New(plat, clock, nil, Config{Base: time.Minute})
	flushed := false
	c.OnSleep(func(time.Time) error { flushed = true; return nil })
	c.SetPending(func() bool { return true })

	_, err := c.Sleep(context.Background())
	assert.Equal(t, errcode.Busy, errcode.Of(err))
	assert.False(t, flushed)
	assert.Empty(t, plat.slept)
}

func TestSleepCancelledStaysActive(t *testing.T) {
	clock := timex.NewManual(t0)
	plat := &fakePlatform{clock: clock, err: context.Canceled}
	c := New(plat, clock, nil, Config{Base: time.Minute})

	_, err := c.Sleep(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Active, c.State())
}

func TestExternalWakeEnablesDisplay(t *testing.T) {
	clock := timex.NewManual(t0)
	plat := &fakePlatform{clock: clock, wakeBy: WakeSource{External: true}}
	c := New(plat, clock, nil, Config{Base: time.Minute})

	wake, err := c.Sleep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.WakeExternalSignal, wake.Cause)
	assert.Equal(t, []bool{false, true}, plat.display)
}

func TestPressTracker(t *testing.T) {
	type step struct {
		at      time.Duration
		pressed bool
		want    PressAction
	}
	cases := []struct {
		name  string
		steps []step
	}{
		{"tap ignored", []step{{0, true, PressNone}, {300 * time.Millisecond, false, PressNone}}},
		{"short press toggles", []step{{0, true, PressNone}, {1500 * time.Millisecond, false, PressToggleAutoScale}}},
		{"exactly short threshold", []step{{0, true, PressNone}, {time.Second, false, PressToggleAutoScale}}},
		{"held past long fires once", []step{
			{0, true, PressNone},
			{4 * time.Second, true, PressNone},
			{5 * time.Second, true, PressErase},
			{6 * time.Second, true, PressNone},
			{7 * time.Second, false, PressNone},
		}},
		{"released past long", []step{{0, true, PressNone}, {5200 * time.Millisecond, false, PressErase}}},
		{"idle", []step{{0, false, PressNone}, {time.Minute, false, PressNone}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPressTracker(time.Second, 5*time.Second)
			for _, s := range tc.steps {
				assert.Equal(t, s.want, p.Update(s.pressed, t0.Add(s.at)), "at %v", s.at)
			}
			assert.False(t, p.Held())
		})
	}
}
