// Package at24 drives AT24Cxx-style I²C EEPROMs with 16-bit word addressing.
package at24

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

const (
	AddressDefault = 0x50

	maxPageSize = 64
)

var (
	ErrOutOfRange = errors.New("at24: access beyond device size")
	ErrPageSize   = errors.New("at24: page size must be 1..64")
)

// Config describes the part. Defaults match a 32 KiB AT24C256.
type Config struct {
	Address    uint16
	Size       uint32        // bytes
	PageSize   uint16        // write page, bytes
	WriteCycle time.Duration // tWR after each page write
}

func DefaultConfig() Config {
	return Config{
		Address:    AddressDefault,
		Size:       32 * 1024,
		PageSize:   64,
		WriteCycle: 5 * time.Millisecond,
	}
}

// Device is one EEPROM on an I²C bus. It implements io.ReaderAt and io.WriterAt.
type Device struct {
	i2c  drivers.I2C
	addr uint16
	size uint32
	page uint16
	twr  time.Duration

	// sleep waits out the internal write cycle; replaced in tests.
	sleep func(time.Duration)

	// Fixed buffer: 2 address bytes + one page.
	w [2 + maxPageSize]byte
}

// New constructs a Device; zero config fields take defaults.
func New(i2c drivers.I2C, cfg Config) (*Device, error) {
	def := DefaultConfig()
	if cfg.Address == 0 {
		cfg.Address = def.Address
	}
	if cfg.Size == 0 {
		cfg.Size = def.Size
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PageSize > maxPageSize {
		return nil, ErrPageSize
	}
	if cfg.WriteCycle == 0 {
		cfg.WriteCycle = def.WriteCycle
	}
	return &Device{
		i2c:   i2c,
		addr:  cfg.Address,
		size:  cfg.Size,
		page:  cfg.PageSize,
		twr:   cfg.WriteCycle,
		sleep: time.Sleep,
	}, nil
}

func (d *Device) Size() int64 { return int64(d.size) }

func (d *Device) inRange(n int, off int64) bool {
	return off >= 0 && off+int64(n) <= int64(d.size)
}

// ReadAt performs one sequential read starting at off.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if !d.inRange(len(p), off) {
		return 0, ErrOutOfRange
	}
	if len(p) == 0 {
		return 0, nil
	}
	d.w[0] = byte(off >> 8)
	d.w[1] = byte(off)
	if err := d.i2c.Tx(d.addr, d.w[:2], p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteAt splits p on page boundaries; a write never wraps inside a page.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if !d.inRange(len(p), off) {
		return 0, ErrOutOfRange
	}
	n := 0
	for n < len(p) {
		addr := off + int64(n)
		room := int(d.page) - int(addr%int64(d.page))
		chunk := len(p) - n
		if chunk > room {
			chunk = room
		}
		d.w[0] = byte(addr >> 8)
		d.w[1] = byte(addr)
		copy(d.w[2:], p[n:n+chunk])
		if err := d.i2c.Tx(d.addr, d.w[:2+chunk], nil); err != nil {
			return n, err
		}
		d.sleep(d.twr)
		n += chunk
	}
	return n, nil
}
