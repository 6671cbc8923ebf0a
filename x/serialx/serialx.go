// Package serialx assembles text lines from a UART without blocking the
// control loop.
package serialx

// Port is the subset of a UART used by line-oriented peripherals.
// Read must not block when Buffered reports data.
type Port interface {
	Write(p []byte) (int, error)
	Buffered() int
	Read(p []byte) (int, error)
}

type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

func (p Parity) String() string {
	switch p {
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "none"
	}
}

// Format is a UART framing; zero fields mean 8N1.
type Format struct {
	Baud     uint32
	DataBits uint8
	StopBits uint8
	Parity   Parity
}

func (f Format) Normalised() Format {
	if f.DataBits == 0 {
		f.DataBits = 8
	}
	if f.StopBits == 0 {
		f.StopBits = 1
	}
	return f
}

// Lines accumulates bytes into LF-terminated lines. CR is dropped and
// lines longer than the limit are truncated.
type Lines struct {
	port Port
	max  int
	buf  []byte
	line []byte

	Dropped uint32 // bytes lost to truncation
}

func NewLines(p Port, maxLine int) *Lines {
	if maxLine < 16 {
		maxLine = 16
	}
	if maxLine > 256 {
		maxLine = 256
	}
	return &Lines{port: p, max: maxLine, buf: make([]byte, 64), line: make([]byte, 0, maxLine)}
}

// Poll drains what the port has buffered and calls fn for every complete
// line. The slice passed to fn is reused after fn returns. Poll never
// waits for more input.
func (l *Lines) Poll(fn func(line []byte)) {
	for l.port.Buffered() > 0 {
		n, err := l.port.Read(l.buf)
		if n <= 0 || err != nil {
			return
		}
		for _, b := range l.buf[:n] {
			switch b {
			case '\n':
				if len(l.line) > 0 {
					fn(l.line)
				}
				l.line = l.line[:0]
			case '\r':
			default:
				if len(l.line) < l.max {
					l.line = append(l.line, b)
				} else {
					l.Dropped++
				}
			}
		}
	}
}

// Reset discards a partial line.
func (l *Lines) Reset() { l.line = l.line[:0] }
