package serialx

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- minimal fake UART ---

type fakeUART struct {
	mu sync.Mutex
	rx []byte
	tx []byte
}

func (f *fakeUART) inject(s string) { f.mu.Lock(); f.rx = append(f.rx, s...); f.mu.Unlock() }

func (f *fakeUART) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.tx = append(f.tx, p...)
	f.mu.Unlock()
	return len(p), nil
}
func (f *fakeUART) Buffered() int { f.mu.Lock(); n := len(f.rx); f.mu.Unlock(); return n }
func (f *fakeUART) Read(p []byte) (int, error) {
	f.mu.Lock()
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	f.mu.Unlock()
	return n, nil
}

func collect(l *Lines) []string {
	var out []string
	l.Poll(func(b []byte) { out = append(out, string(b)) })
	return out
}

func TestLines_SplitsAcrossPolls(t *testing.T) {
	u := &fakeUART{}
	l := NewLines(u, 64)

	u.inject("OK\r\n+EVT:JOI")
	assert.Equal(t, []string{"OK"}, collect(l))

	u.inject("NED\r\n\r\nAT_BUSY_ERROR\r\n")
	assert.Equal(t, []string{"+EVT:JOINED", "AT_BUSY_ERROR"}, collect(l))
	assert.Empty(t, collect(l))
}

func TestLines_LongInputTruncated(t *testing.T) {
	u := &fakeUART{}
	l := NewLines(u, 16)

	long := "0123456789ABCDEFGHIJ"
	u.inject(long + "\n")
	assert.Equal(t, []string{long[:16]}, collect(l))
	assert.Equal(t, uint32(4), l.Dropped)
}

func TestLines_ResetDropsPartial(t *testing.T) {
	u := &fakeUART{}
	l := NewLines(u, 32)

	u.inject("garbage")
	collect(l)
	l.Reset()
	u.inject("$GPGGA\n")
	assert.Equal(t, []string{"$GPGGA"}, collect(l))
}

func TestFormat_Normalised(t *testing.T) {
	f := Format{Baud: 9600}.Normalised()
	assert.Equal(t, Format{Baud: 9600, DataBits: 8, StopBits: 1, Parity: ParityNone}, f)
	assert.Equal(t, "even", ParityEven.String())
}
