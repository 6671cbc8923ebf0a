//go:build !rp2040

package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

func init() {
	RegisterTransport("tcp", newTCPTransport)
}

// tcpTransport listens once and hands out one accepted peer per Open.
type tcpTransport struct {
	addr string

	mu sync.Mutex
	ln net.Listener
}

func newTCPTransport(cfg TransportConfig) (Transport, error) {
	if cfg.TCP == nil || cfg.TCP.Listen == "" {
		return nil, errors.New("tcp transport requires tcp.listen")
	}
	return &tcpTransport{addr: cfg.TCP.Listen}, nil
}

func (t *tcpTransport) Open(ctx context.Context) (io.ReadWriteCloser, error) {
	t.mu.Lock()
	if t.ln == nil {
		ln, err := net.Listen("tcp", t.addr)
		if err != nil {
			t.mu.Unlock()
			return nil, err
		}
		t.ln = ln
		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
	}
	ln := t.ln
	t.mu.Unlock()
	return ln.Accept()
}

func (t *tcpTransport) String() string { return "tcp" }
