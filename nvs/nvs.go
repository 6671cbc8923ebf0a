// Package nvs is the namespaced key-value view of non-volatile memory.
// It is the only path by which tracker state reaches durable storage.
package nvs

import (
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("nvs: not found")
	ErrTooLarge = errors.New("nvs: record too large")
	ErrFull     = errors.New("nvs: no free slot")
)

// Store is implemented by every backend.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ns, key string) ([]byte, error)
	Put(ns, key string, val []byte) error
	EraseNamespace(ns string) error
}

// -----------------------------------------------------------------------------
// Memory
// -----------------------------------------------------------------------------

// Memory is a map-backed Store with write accounting and fault injection.
type Memory struct {
	mu     sync.Mutex
	data   map[string]map[string][]byte
	writes map[string]int

	FailGet   error // returned by every Get when set
	FailPut   error // returned by every Put when set
	FailErase error
}

func NewMemory() *Memory {
	return &Memory{
		data:   map[string]map[string][]byte{},
		writes: map[string]int{},
	}
}

func (m *Memory) Get(ns, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	v, ok := m.data[ns][key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(ns, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	if m.data[ns] == nil {
		m.data[ns] = map[string][]byte{}
	}
	m.data[ns][key] = append([]byte(nil), val...)
	m.writes[ns+"/"+key]++
	return nil
}

func (m *Memory) EraseNamespace(ns string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailErase != nil {
		return m.FailErase
	}
	delete(m.data, ns)
	return nil
}

// Writes reports how many successful Puts hit ns/key.
func (m *Memory) Writes(ns, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[ns+"/"+key]
}

// Delete removes a single key; used to simulate partial records.
func (m *Memory) Delete(ns, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[ns], key)
}
