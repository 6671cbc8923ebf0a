package store

import (
	"encoding/binary"
	"time"

	"tracker-go/nvs"
)

const (
	nsLoRaWAN  = "lorawan"
	keyCounter = "count"

	// DefaultSaveInterval bounds durable counter writes.
	DefaultSaveInterval = 5 * time.Minute
)

// CounterStore keeps the durable uplink counter close to the live one while
// bounding the number of writes. The durable copy may lag the live value
// after a crash; it never leads it.
type CounterStore struct {
	nv       nvs.Store
	interval time.Duration

	value       uint32
	persisted   uint32
	lastPersist time.Time
}

func NewCounterStore(nv nvs.Store, interval time.Duration) *CounterStore {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	return &CounterStore{nv: nv, interval: interval}
}

// Restore loads the counter once at boot. Absent, short or unreadable
// records restore as 0. The rate-limit window starts at now.
func (c *CounterStore) Restore(now time.Time) uint32 {
	c.value, c.persisted = 0, 0
	c.lastPersist = now
	b, err := c.nv.Get(nsLoRaWAN, keyCounter)
	switch {
	case err == nvs.ErrNotFound:
	case err != nil:
		println("[store] counter read failed:", err.Error())
	case len(b) != 4:
		println("[store] counter record has bad length:", len(b))
	default:
		c.value = binary.LittleEndian.Uint32(b)
		c.persisted = c.value
	}
	return c.value
}

func (c *CounterStore) Value() uint32     { return c.value }
func (c *CounterStore) Persisted() uint32 { return c.persisted }

// Observe records a new live value and writes it through only when the
// clock rolled back or the save interval has elapsed. It reports whether a
// durable write happened.
func (c *CounterStore) Observe(v uint32, now time.Time) bool {
	c.value = v
	if !now.Before(c.lastPersist) && now.Sub(c.lastPersist) <= c.interval {
		return false
	}
	return c.write(now) == nil
}

// SaveNow writes regardless of the rate limit; used before a deliberate
// power-down.
func (c *CounterStore) SaveNow(now time.Time) error {
	return c.write(now)
}

// Reset zeroes the live counter for a fresh session. Nothing is written;
// the session erase already removed the durable copy.
func (c *CounterStore) Reset(now time.Time) {
	c.value, c.persisted = 0, 0
	c.lastPersist = now
}

func (c *CounterStore) write(now time.Time) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], c.value)
	if err := c.nv.Put(nsLoRaWAN, keyCounter, b[:]); err != nil {
		println("[store] counter write failed:", err.Error())
		return err
	}
	c.persisted = c.value
	c.lastPersist = now
	return nil
}
