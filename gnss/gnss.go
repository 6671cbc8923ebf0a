// Package gnss supplies position samples to the tracker, one per wake
// cycle.
package gnss

import (
	"tinygo.org/x/drivers/gps"

	"tracker-go/types"
	"tracker-go/x/serialx"
)

// Source is polled once per cycle. ok=false means no new sample; a sample
// with Valid=false means the receiver is running without a fix. Neither is
// an error.
type Source interface {
	Next() (types.Position, bool)
}

// NMEASource parses GGA/GLL/RMC sentences from a receiver on a UART and
// keeps the most recent fix.
type NMEASource struct {
	lines  *serialx.Lines
	parser gps.Parser

	last  types.Position
	fresh bool

	Sentences uint32
	Errors    uint32
}

func NewNMEASource(port serialx.Port) *NMEASource {
	return &NMEASource{
		lines:  serialx.NewLines(port, 96),
		parser: gps.NewParser(),
	}
}

// Next drains buffered sentences and reports the latest sample seen since
// the previous call.
func (s *NMEASource) Next() (types.Position, bool) {
	s.lines.Poll(s.feed)
	if !s.fresh {
		return s.last, false
	}
	s.fresh = false
	return s.last, true
}

func (s *NMEASource) feed(line []byte) {
	if len(line) < 6 || line[0] != '$' {
		return
	}
	fix, err := s.parser.Parse(string(line))
	if err != nil {
		s.Errors++
		return
	}
	s.Sentences++
	s.fresh = true
	if !fix.Valid {
		s.last.Valid = false
		return
	}
	s.last = types.Position{
		Lat:   float64(fix.Latitude),
		Lon:   float64(fix.Longitude),
		Valid: true,
	}
}

// Fixed replays a scripted track; the simulator and tests move it by hand.
type Fixed struct {
	Pos   types.Position
	Quiet bool // report no sample at all
}

func (f *Fixed) Next() (types.Position, bool) {
	if f.Quiet {
		return types.Position{}, false
	}
	return f.Pos, true
}

// Move shifts the fix by a number of metres north and east.
func (f *Fixed) Move(northM, eastM float64) {
	f.Pos = Offset(f.Pos, northM, eastM)
}
