package timex

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall time so sleep/wake arithmetic is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the real clock.
var System Clock = systemClock{}

// Sleeper is a Clock that knows how to wait on its own time base.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Sleep waits d on c, or until ctx ends. Clocks that are not Sleepers wait
// on a real timer.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if sl, ok := c.(Sleeper); ok {
		return sl.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Manual is a settable clock for tests and the simulator.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

func NewManual(start time.Time) *Manual { return &Manual{t: start} }

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Advance moves the clock forward (or backward for negative d).
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

// Sleep advances the clock by d without blocking.
func (m *Manual) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Advance(d)
	return nil
}
