// Package irqflag carries a single bit from interrupt context to the main
// loop. The handler only sets the flag; all work happens when the loop
// takes it.
package irqflag

import "sync/atomic"

type Flag struct {
	v    atomic.Bool
	hits atomic.Uint32
}

// Set is safe to call from an ISR: no allocation, no blocking.
func (f *Flag) Set() {
	f.v.Store(true)
	f.hits.Add(1)
}

// Take reports and clears the flag.
func (f *Flag) Take() bool { return f.v.Swap(false) }

// Peek reports the flag without clearing it.
func (f *Flag) Peek() bool { return f.v.Load() }

// Hits counts Set calls since boot, coalesced or not.
func (f *Flag) Hits() uint32 { return f.hits.Load() }
