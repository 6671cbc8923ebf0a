// Package heartbeat reports liveness: every interval it logs and publishes
// a compact snapshot of the tracker state and runtime memory.
package heartbeat

import (
	"context"
	"runtime"
	"time"

	"tracker-go/bus"
	"tracker-go/services/config"
	"tracker-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("heartbeat")
	topicTrackerState    = bus.T("tracker", "state")
	topicTrackerCounter  = bus.T("tracker", "counter")
)

// Config is the payload of config/heartbeat.
type Config struct {
	IntervalS float64 `json:"interval"`
}

type Service struct {
	// Interval is the starting period; config/heartbeat overrides it.
	Interval time.Duration
	// Now is replaced in tests.
	Now func() time.Time

	seq     uint32
	started time.Time
	state   types.TrackerState
	counter types.CounterValue
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)
	stSub := conn.Subscribe(topicTrackerState)
	defer conn.Unsubscribe(stSub)
	ctrSub := conn.Subscribe(topicTrackerCounter)
	defer conn.Unsubscribe(ctrSub)

	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	// loop until context is cancelled, respond to tick and config changes
	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case <-tick.C:
			s.beat(conn)
		case msg := <-stSub.Channel():
			if st, ok := msg.Payload.(types.TrackerState); ok {
				s.state = st
			}
		case msg := <-ctrSub.Channel():
			if v, ok := msg.Payload.(types.CounterValue); ok {
				s.counter = v
			}
		case msg := <-cfgSub.Channel():
			var c Config
			if err := config.DecodeJSON(msg.Payload, &c); err != nil || c.IntervalS <= 0 {
				println("[heartbeat] ignoring config")
				continue
			}
			tick.Reset(time.Duration(c.IntervalS * float64(time.Second)))
			println("[heartbeat] interval set to", int(c.IntervalS), "s")
		}
	}
}

func (s *Service) beat(conn *bus.Connection) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.seq++
	hb := types.Heartbeat{
		Seq:       s.seq,
		UptimeS:   uint32(s.Now().Sub(s.started) / time.Second),
		Level:     s.state.Level,
		Joined:    s.state.Joined,
		Counter:   s.counter.Value,
		HeapInuse: uint32(ms.HeapInuse),
	}
	println("[heartbeat]", hb.Seq, "up", hb.UptimeS, "s", hb.Level, "joined", hb.Joined, "fcnt", hb.Counter, "heap", hb.HeapInuse)
	conn.Publish(conn.NewMessage(topicHeartbeat, hb, true))
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	if s.Interval <= 0 {
		s.Interval = 10 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	s.started = s.Now()
	go s.serviceLoop(ctx, conn)
	return nil
}
