package tracker

import (
	"tracker-go/bus"
	"tracker-go/errcode"
	"tracker-go/services/config"
	"tracker-go/types"
	"tracker-go/x/timex"
)

// Topic tokens.
const (
	TokTracker = "tracker"
	TokState   = "state"
	TokCounter = "counter"
	TokEvent   = "event"
	TokUplink  = "uplink"
	TokControl = "control"

	CtrlSendNow     = "send_now"
	CtrlErase       = "erase"
	CtrlSaveCounter = "save_counter"
	CtrlAutoScale   = "auto_scale"
)

// tracker/state, tracker/counter (retained)
func TopicState() bus.Topic   { return bus.T(TokTracker, TokState) }
func TopicCounter() bus.Topic { return bus.T(TokTracker, TokCounter) }

// tracker/uplink
func TopicUplink() bus.Topic { return bus.T(TokTracker, TokUplink) }

// tracker/event/<kind>
func TopicEvent(k types.EventKind) bus.Topic { return bus.T(TokTracker, TokEvent, k.String()) }

// tracker/control/<verb>
func TopicControl(verb string) bus.Topic { return bus.T(TokTracker, TokControl, verb) }

// surface mirrors tracker state onto the bus and takes control requests.
// Subscriptions are drained without blocking once per poll.
type surface struct {
	conn  *bus.Connection
	clock timex.Clock
	ctrl  *bus.Subscription
	cfg   *bus.Subscription
}

func newSurface(conn *bus.Connection, clock timex.Clock) *surface {
	return &surface{
		conn:  conn,
		clock: clock,
		ctrl:  conn.Subscribe(bus.T(TokTracker, TokControl, "+")),
		cfg:   conn.Subscribe(config.TopicTracker()),
	}
}

// OnEvent publishes lifecycle events. Downlink bytes are copied; the
// event only borrows them.
func (b *surface) OnEvent(ev types.Event) {
	if ev.Downlink != nil {
		ev.Downlink = append([]byte(nil), ev.Downlink...)
	}
	b.conn.Publish(b.conn.NewMessage(TopicEvent(ev.Kind), ev, false))
}

func (b *surface) state(st types.TrackerState) {
	st.TS = b.clock.Now().UnixMilli()
	b.conn.Publish(b.conn.NewMessage(TopicState(), st, true))
}

func (b *surface) counter(v types.CounterValue) {
	b.conn.Publish(b.conn.NewMessage(TopicCounter(), v, true))
}

func (b *surface) uplink(u types.UplinkInfo) {
	b.conn.Publish(b.conn.NewMessage(TopicUplink(), u, false))
}

func (b *surface) pollControls(s *Service) {
	for {
		msg, ok := b.ctrl.TryRecv()
		if !ok {
			return
		}
		if len(msg.Topic) < 3 {
			continue
		}
		verb, _ := msg.Topic[2].(string)
		switch verb {
		case CtrlSendNow:
			s.TriggerSendNow()
			b.replyOK(msg)
		case CtrlErase:
			if err := s.EraseCredentials(); err != nil {
				b.replyErr(msg, errcode.Of(err))
				continue
			}
			b.replyOK(msg)
		case CtrlSaveCounter:
			if err := s.SaveCounterNow(); err != nil {
				b.replyErr(msg, errcode.Of(err))
				continue
			}
			b.replyOK(msg)
		case CtrlAutoScale:
			switch p := msg.Payload.(type) {
			case types.AutoScaleSet:
				s.SetAutoScale(p.On)
			case nil:
				s.ToggleAutoScale()
			default:
				// Remote callers send the decoded JSON object.
				var set types.AutoScaleSet
				if err := config.DecodeJSON(p, &set); err != nil {
					b.replyErr(msg, errcode.InvalidParams)
					continue
				}
				s.SetAutoScale(set.On)
			}
			b.conn.Reply(msg, types.AutoScaleSet{On: s.SchedulerState().AutoScale}, false)
		default:
			b.replyErr(msg, errcode.Unsupported)
		}
	}
}

// pollConfig applies a retained config/tracker update.
func (b *surface) pollConfig(s *Service) {
	for {
		msg, ok := b.cfg.TryRecv()
		if !ok {
			return
		}
		cfg, err := config.DecodeTracker(msg.Payload)
		if err != nil {
			println("[tracker] config rejected:", err.Error())
			continue
		}
		if sameConfig(cfg, s.Config()) {
			continue
		}
		s.applyConfig(cfg)
	}
}

func sameConfig(a, b types.TrackerConfig) bool {
	ka, kb := a.ABP, b.ABP
	a.ABP, b.ABP = nil, nil
	if a != b {
		return false
	}
	if ka == nil || kb == nil {
		return ka == kb
	}
	return *ka == *kb
}

func (b *surface) replyOK(m *bus.Message) {
	if len(m.ReplyTo) == 0 {
		return
	}
	b.conn.Reply(m, types.OKReply{OK: true}, false)
}

func (b *surface) replyErr(m *bus.Message, code errcode.Code) {
	if len(m.ReplyTo) == 0 {
		return
	}
	if code == "" || code == errcode.OK {
		code = errcode.Error
	}
	b.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
}
