package store

import (
	"encoding/binary"

	"tracker-go/nvs"
	"tracker-go/types"
)

const (
	nsRTC    = "rtc"
	keyBoots = "boots"
)

// BootStore keeps the boot counter across sleep cycles. RAM survives a
// timer or external wake, so the durable record is written only on a cold
// boot. Precision under crash is not required.
type BootStore struct {
	nv     nvs.Store
	n      uint32
	loaded bool
}

func NewBootStore(nv nvs.Store) *BootStore { return &BootStore{nv: nv} }

// Next increments and returns the wake context for this boot.
func (b *BootStore) Next(cause types.WakeCause) types.WakeContext {
	if !b.loaded {
		if v, err := b.nv.Get(nsRTC, keyBoots); err == nil && len(v) == 4 {
			b.n = binary.LittleEndian.Uint32(v)
		}
		b.loaded = true
	}
	b.n++
	if cause == types.WakePowerOn {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], b.n)
		if err := b.nv.Put(nsRTC, keyBoots, buf[:]); err != nil {
			println("[store] boot count write failed:", err.Error())
		}
	}
	return types.WakeContext{BootCount: b.n, Cause: cause}
}
