// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tracker-go/bus"
	"tracker-go/services/config"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for JSON config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection) {
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config is the JSON-encoded configuration expected on "config/bridge".
type Config struct {
	Transport TransportConfig `json:"transport"`

	// Export lists local topic patterns mirrored to the peer, eg "tracker/#".
	Export []string `json:"export,omitempty"`
	// Import lists topic patterns the peer may publish into the local bus.
	Import []string `json:"import,omitempty"`
	// ReplyTimeoutMS bounds how long a forwarded request waits for its reply.
	ReplyTimeoutMS int `json:"reply_timeout_ms,omitempty"`
}

var (
	defaultExport = []string{"tracker/#"}
	defaultImport = []string{"tracker/control/+"}
)

type TransportConfig struct {
	// "tcp" (host builds) or other names registered via RegisterTransport.
	Type string     `json:"type"`
	TCP  *TCPConfig `json:"tcp,omitempty"`
}

// TCPConfig makes the bridge accept a single peer on Listen.
type TCPConfig struct {
	Listen string `json:"listen"`
}

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic

	mu     sync.Mutex
	curRun context.CancelFunc
	curCfg atomic.Value // stores Config
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg Config) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.mu.Unlock()

	s.curCfg.Store(cfg)
	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and I/O
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg Config) {
	tr, err := newTransport(cfg.Transport)
	if err != nil {
		s.publishState("error", "transport_init_failed", err)
		return
	}

	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rwc, err := tr.Open(ctx)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		if err := s.handleLink(ctx, rwc, cfg); err != nil {
			_ = rwc.Close()
			delay := backoff()
			s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}
		_ = rwc.Close()
		// Clean close: restart only on new config.
		return
	}
}

// handleLink owns the active link lifetime: exported topics go out as pub
// frames, imported pub frames are published locally, and replies to
// forwarded requests travel back on _reply/<id>.
func (s *Service) handleLink(ctx context.Context, rwc io.ReadWriteCloser, cfg Config) error {
	rd := newFramedReader(rwc)
	wr := newFramedWriter(rwc)

	export := patterns(cfg.Export, defaultExport)
	imports := patterns(cfg.Import, defaultImport)
	replyWait := time.Duration(cfg.ReplyTimeoutMS) * time.Millisecond
	if replyWait <= 0 {
		replyWait = 2 * time.Second
	}

	out := make(chan Frame, 16)
	linkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each export pattern gets its own subscription and forwarder.
	for _, p := range export {
		sub := s.conn.Subscribe(p)
		defer s.conn.Unsubscribe(sub)
		go forward(linkCtx, sub, out)
	}
	s.publishState("up", "link_established", nil)

	// Reader
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			f, err := rd.ReadFrame()
			if err != nil {
				errCh <- err
				return
			}
			switch f.Type {
			case framePing:
				enqueue(linkCtx, out, Frame{Type: framePong})
			case framePong:
			case framePub:
				s.inbound(linkCtx, f.Payload, imports, replyWait, out)
			case frameClose:
				errCh <- nil
				return
			default:
				println("[bridge] unknown frame type", f.Type)
			}
		}
	}()

	tick := time.NewTicker(5 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort close.
			_ = wr.WriteFrame(Frame{Type: frameClose})
			return nil
		case err := <-errCh:
			return err
		case f := <-out:
			if err := wr.WriteFrame(f); err != nil {
				return err
			}
		case <-tick.C:
			if err := wr.WriteFrame(Frame{Type: framePing}); err != nil {
				return err
			}
		}
	}
}

// inbound publishes an imported message. Frames carrying an id are sent as
// requests; the first reply is returned to the peer.
func (s *Service) inbound(ctx context.Context, raw []byte, imports []bus.Topic, wait time.Duration, out chan<- Frame) {
	var w wireMsg
	if err := json.Unmarshal(raw, &w); err != nil {
		println("[bridge] bad pub frame:", err.Error())
		return
	}
	topic := make(bus.Topic, len(w.Topic))
	for i, t := range w.Topic {
		topic[i] = t
	}
	if !allowed(imports, topic) {
		println("[bridge] import refused:", strings.Join(w.Topic, "/"))
		return
	}
	var payload any
	if len(w.Payload) > 0 {
		if err := json.Unmarshal(w.Payload, &payload); err != nil {
			println("[bridge] bad payload:", err.Error())
			return
		}
	}
	msg := s.conn.NewMessage(topic, payload, w.Retained)
	if w.ID == "" {
		s.conn.Publish(msg)
		return
	}
	sub := s.conn.Request(msg)
	go func() {
		defer s.conn.Unsubscribe(sub)
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
			println("[bridge] no reply for", w.ID)
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			if f, err := encodePub(bus.T("_reply", w.ID), m.Payload, false); err == nil {
				enqueue(ctx, out, f)
			}
		}
	}()
}

func forward(ctx context.Context, sub *bus.Subscription, out chan<- Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Channel():
			if !ok {
				return
			}
			f, err := encodePub(m.Topic, m.Payload, m.Retained)
			if err != nil {
				println("[bridge] encode failed:", err.Error())
				continue
			}
			enqueue(ctx, out, f)
		}
	}
}

func enqueue(ctx context.Context, out chan<- Frame, f Frame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}

// -----------------------------------------------------------------------------
// Topic patterns
// -----------------------------------------------------------------------------

// patterns parses "a/b/+" style strings, falling back to def when empty.
func patterns(src, def []string) []bus.Topic {
	if len(src) == 0 {
		src = def
	}
	out := make([]bus.Topic, 0, len(src))
	for _, p := range src {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		t := make(bus.Topic, len(parts))
		for i, s := range parts {
			t[i] = s
		}
		out = append(out, t)
	}
	return out
}

func allowed(pats []bus.Topic, topic bus.Topic) bool {
	for _, p := range pats {
		if match(p, topic) {
			return true
		}
	}
	return false
}

func match(pattern, topic bus.Topic) bool {
	for i, tok := range pattern {
		if tok == "#" {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if tok != "+" && tok != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}

// -----------------------------------------------------------------------------
// Transport registry
// -----------------------------------------------------------------------------

// Transport is a pluggable link dialler/owner.
type Transport interface {
	Open(ctx context.Context) (io.ReadWriteCloser, error)
	String() string
}

type transportFactory func(TransportConfig) (Transport, error)

var (
	regMu    sync.RWMutex
	registry = map[string]transportFactory{}
)

// RegisterTransport allows external packages to add transports.
func RegisterTransport(name string, f transportFactory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func newTransport(cfg TransportConfig) (Transport, error) {
	regMu.RLock()
	f, ok := registry[cfg.Type]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
	return f(cfg)
}

// -----------------------------------------------------------------------------
// Framing
// -----------------------------------------------------------------------------

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameClose byte = 0x7f
)

// Frame is a length-prefixed frame: type, u16 big-endian length, payload.
type Frame struct {
	Type    byte
	Payload []byte
}

// wireMsg is the JSON body of a pub frame.
type wireMsg struct {
	Topic    []string        `json:"topic"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Retained bool            `json:"retained,omitempty"`
	ID       string          `json:"id,omitempty"`
}

func encodePub(topic bus.Topic, payload any, retained bool) (Frame, error) {
	w := wireMsg{Topic: make([]string, len(topic)), Retained: retained}
	for i, t := range topic {
		if s, ok := t.(string); ok {
			w.Topic[i] = s
		} else {
			w.Topic[i] = fmt.Sprint(t)
		}
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		w.Payload = b
	}
	b, err := json.Marshal(w)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: framePub, Payload: b}, nil
}

type framedReader struct{ r io.Reader }
type framedWriter struct{ w io.Writer }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }
func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	typ := hdr[0]
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: buf}, nil
}

func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmt.Errorf("frame too large: %d", len(f.Payload))
	}
	hdr := []byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload) & 0xFF)}
	if _, err := fw.w.Write(hdr); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := fw.w.Write(f.Payload)
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (Config, error) {
	var cfg Config
	if p == nil {
		return cfg, errors.New("empty bridge config")
	}
	if err := config.DecodeJSON(p, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	payload := map[string]any{
		"level":  level,  // "up", "degraded", "error", "idle"
		"status": status, // short machine string
		"ts_ms":  time.Now().UnixMilli(),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	msg := s.conn.NewMessage(s.stateTopic, payload, true)
	s.conn.Publish(msg)
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	if max < min {
		max = min
	}
	var cur = min
	return func() time.Duration {
		d := cur
		cur *= 2
		if cur > max {
			cur = max
		}
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
