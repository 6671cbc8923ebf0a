// Package eeprom lays nvs records out as a fixed table of slots on a
// byte-addressable part (see drivers/at24).
//
// Slot layout:
//
//	+-------+-----+-------+--------+--------+----+-----+-----+-------+
//	| magic | seq | nsLen | keyLen | valLen | ns | key | val | CRC32 |
//	+-------+-----+-------+--------+--------+----+-----+-----+-------+
//	|   1   |  1  |   1   |   1    |   1    |    variable    |   4   |
//
// An update is written to a free slot before the previous slot is
// invalidated, so a torn write leaves the older record readable.
package eeprom

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"

	"tracker-go/nvs"
)

const (
	magicValid = 0xA5
	magicDead  = 0x00

	headerSize = 5
	crcSize    = 4

	DefaultSlotSize = 64
	DefaultSlots    = 32
)

// Device is satisfied by *at24.Device.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

type Config struct {
	Offset   int64 // first byte of the table
	Slots    int
	SlotSize int
}

type entry struct {
	slot int
	seq  uint8
}

// Store implements nvs.Store.
type Store struct {
	mu   sync.Mutex
	dev  Device
	cfg  Config
	idx  map[string]entry // ns+"\x00"+key -> live slot
	free []int
	buf  []byte
}

var _ nvs.Store = (*Store)(nil)

// Open scans the table and builds the slot index.
func Open(dev Device, cfg Config) (*Store, error) {
	if cfg.Slots <= 0 {
		cfg.Slots = DefaultSlots
	}
	if cfg.SlotSize <= headerSize+crcSize {
		cfg.SlotSize = DefaultSlotSize
	}
	s := &Store{
		dev: dev,
		cfg: cfg,
		idx: map[string]entry{},
		buf: make([]byte, cfg.SlotSize),
	}
	var stale []int
	for i := 0; i < cfg.Slots; i++ {
		ns, key, _, seq, ok, err := s.readSlot(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.free = append(s.free, i)
			continue
		}
		k := ns + "\x00" + key
		if prev, dup := s.idx[k]; dup {
			// Interrupted update: keep the newer sequence.
			if int8(seq-prev.seq) > 0 {
				stale = append(stale, prev.slot)
				s.idx[k] = entry{slot: i, seq: seq}
			} else {
				stale = append(stale, i)
			}
			continue
		}
		s.idx[k] = entry{slot: i, seq: seq}
	}
	for _, i := range stale {
		if err := s.kill(i); err != nil {
			println("[nvs] stale slot cleanup failed:", i, err.Error())
			continue
		}
		s.free = append(s.free, i)
	}
	return s, nil
}

func (s *Store) slotOff(i int) int64 { return s.cfg.Offset + int64(i*s.cfg.SlotSize) }

// readSlot returns ok=false for an empty, dead or torn slot.
func (s *Store) readSlot(i int) (ns, key string, val []byte, seq uint8, ok bool, err error) {
	b := s.buf
	if _, err = s.dev.ReadAt(b, s.slotOff(i)); err != nil {
		return
	}
	if b[0] != magicValid {
		return
	}
	nl, kl, vl := int(b[2]), int(b[3]), int(b[4])
	end := headerSize + nl + kl + vl
	if end+crcSize > len(b) {
		return
	}
	if crc32.ChecksumIEEE(b[:end]) != binary.LittleEndian.Uint32(b[end:]) {
		return
	}
	ns = string(b[headerSize : headerSize+nl])
	key = string(b[headerSize+nl : headerSize+nl+kl])
	val = append([]byte(nil), b[headerSize+nl+kl:end]...)
	return ns, key, val, b[1], true, nil
}

func (s *Store) kill(i int) error {
	_, err := s.dev.WriteAt([]byte{magicDead}, s.slotOff(i))
	return err
}

func (s *Store) Get(ns, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.idx[ns+"\x00"+key]
	if !ok {
		return nil, nvs.ErrNotFound
	}
	gotNS, gotKey, val, _, ok, err := s.readSlot(e.slot)
	if err != nil {
		return nil, err
	}
	if !ok || gotNS != ns || gotKey != key {
		// Damaged since Open.
		delete(s.idx, ns+"\x00"+key)
		return nil, nvs.ErrNotFound
	}
	return val, nil
}

func (s *Store) Put(ns, key string, val []byte) error {
	end := headerSize + len(ns) + len(key) + len(val)
	if len(ns) > 255 || len(key) > 255 || len(val) > 255 || end+crcSize > s.cfg.SlotSize {
		return nvs.ErrTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := ns + "\x00" + key
	prev, had := s.idx[k]

	target, fromFree := -1, false
	if len(s.free) > 0 {
		target, fromFree = s.free[0], true
	} else if had {
		// No spare slot: rewrite in place and accept the torn-write window.
		target = prev.slot
	} else {
		return nvs.ErrFull
	}

	b := s.buf
	for i := range b {
		b[i] = 0xFF
	}
	b[0] = magicValid
	b[1] = prev.seq + 1
	b[2], b[3], b[4] = byte(len(ns)), byte(len(key)), byte(len(val))
	n := copy(b[headerSize:], ns)
	n += copy(b[headerSize+n:], key)
	copy(b[headerSize+n:], val)
	binary.LittleEndian.PutUint32(b[end:], crc32.ChecksumIEEE(b[:end]))

	if _, err := s.dev.WriteAt(b[:end+crcSize], s.slotOff(target)); err != nil {
		return err
	}
	if fromFree {
		s.free = s.free[1:]
	}
	s.idx[k] = entry{slot: target, seq: b[1]}

	if had && prev.slot != target {
		if err := s.kill(prev.slot); err != nil {
			// Both slots valid; Open resolves by sequence.
			println("[nvs] invalidate old slot failed:", prev.slot, err.Error())
			return nil
		}
		s.free = append(s.free, prev.slot)
	}
	return nil
}

func (s *Store) EraseNamespace(ns string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := ns + "\x00"
	var firstErr error
	for k, e := range s.idx {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if err := s.kill(e.slot); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(s.idx, k)
		s.free = append(s.free, e.slot)
	}
	return firstErr
}
