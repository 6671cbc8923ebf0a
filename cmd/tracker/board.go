//go:build rp2040

package main

import (
	"context"
	"machine"
	"sync/atomic"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"tracker-go/services/tracker"
	"tracker-go/x/serialx"
)

// board implements tracker.Platform on the Pico.
type board struct {
	alert tracker.AlertFlag
	woken atomic.Bool // external wake requested by the button
}

func newBoard() *board {
	b := &board{}

	pinButton.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	_ = pinButton.SetInterrupt(machine.PinFalling, func(machine.Pin) { b.woken.Store(true) })

	pinAlert.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	_ = pinAlert.SetInterrupt(machine.PinFalling, func(machine.Pin) { b.alert.Set() })

	pinDisplay.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinGNSSPwr.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinGNSSPwr.High()
	return b
}

func (b *board) pressed() bool { return !pinButton.Get() }

func (b *board) SetDisplay(on bool) { pinDisplay.Set(on) }

// DeepSleep powers the GNSS down and waits for the timer or the button.
// The RP2040 core idles in time.Sleep between checks.
func (b *board) DeepSleep(ctx context.Context, d time.Duration) (tracker.WakeSource, error) {
	pinGNSSPwr.Low()
	defer pinGNSSPwr.High()

	b.woken.Store(false)
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return tracker.WakeSource{}, err
		}
		if b.woken.Swap(false) {
			return tracker.WakeSource{External: true}, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return tracker.WakeSource{Timer: true}, nil
}

// uartPort adapts uartx to serialx.Port. Buffered performs a short bounded
// receive so callers can poll without blocking the loop.
type uartPort struct {
	u      *uartx.UART
	buf    [64]byte
	n, off int
}

func openUART(u *uartx.UART, tx, rx machine.Pin, f serialx.Format) *uartPort {
	f = f.Normalised()
	_ = u.Configure(uartx.UARTConfig{BaudRate: f.Baud, TX: tx, RX: rx})
	var par uartx.UARTParity
	switch f.Parity {
	case serialx.ParityEven:
		par = uartx.ParityEven
	case serialx.ParityOdd:
		par = uartx.ParityOdd
	default:
		par = uartx.ParityNone
	}
	_ = u.SetFormat(f.DataBits, f.StopBits, par)
	return &uartPort{u: u}
}

func (p *uartPort) Write(b []byte) (int, error) { return p.u.Write(b) }

func (p *uartPort) fill() {
	if p.off < p.n {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	n, _ := p.u.RecvSomeContext(ctx, p.buf[:])
	cancel()
	p.n, p.off = n, 0
}

func (p *uartPort) Buffered() int {
	p.fill()
	return p.n - p.off
}

func (p *uartPort) Read(b []byte) (int, error) {
	p.fill()
	n := copy(b, p.buf[p.off:p.n])
	p.off += n
	return n, nil
}
