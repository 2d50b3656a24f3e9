package bounded

import (
	"hash/maphash"
	"iter"
	"reflect"
	"sync"

	"github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/memory"
)

type mapEntry[K comparable, V comparable] struct {
	key   K
	value V
	used  bool
}

type pair[K comparable, V comparable] struct {
	Key   K
	Value V
}

func pairHash[K comparable, V comparable](seed maphash.Seed, key K, value V) uint64 {
	return maphash.Comparable(seed, pair[K, V]{Key: key, Value: value})
}

// Map is a fixed-slot map of at most Cap entries over a provider. Lookup
// scans the slot array linearly, which bounds every operation by the
// fixed capacity regardless of key distribution.
type Map[K comparable, V comparable] struct {
	mu      sync.RWMutex
	prov    *memory.Provider
	entries []mapEntry[K, V]
	length  int
	sum     uint64
	pol     *policy
	closed  bool
}

// NewMap builds a map with capacity slots over prov. The provider must
// account for capacity entries; the map owns it and releases it on Close.
func NewMap[K comparable, V comparable](prov *memory.Provider, capacity int, opts ...Option) (*Map[K, V], error) {
	if capacity <= 0 {
		return nil, errors.Structural("capacity must be positive")
	}
	entry := uint64(reflect.TypeFor[K]().Size() + reflect.TypeFor[V]().Size())
	if need := uint64(capacity) * entry; need > prov.Size() {
		return nil, errors.New(errors.PhaseAllocate, errors.KindCapacityExceeded).
			Detail("provider holds %d bytes, %d entries need %d", prov.Size(), capacity, need).
			Build()
	}
	return &Map[K, V]{
		prov:    prov,
		entries: make([]mapEntry[K, V], capacity),
		pol:     newPolicy(opts),
	}, nil
}

// Len returns the current entry count.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.length
}

// Cap returns the fixed slot count.
func (m *Map[K, V]) Cap() int { return len(m.entries) }

// Put inserts or replaces the value for key. Inserting into a full map is
// a capacity error that leaves state unchanged.
func (m *Map[K, V]) Put(key K, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.UseAfterFree(m.prov.Subsystem().String())
	}

	free := -1
	for i := range m.entries {
		e := &m.entries[i]
		if e.used && e.key == key {
			if m.pol.trackChecksum() {
				m.sum ^= pairHash(m.pol.seed, e.key, e.value)
				m.sum ^= pairHash(m.pol.seed, key, value)
			}
			e.value = value
			if m.pol.autoValidate() {
				return m.validateLocked()
			}
			return nil
		}
		if !e.used && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return errors.CapacityExceeded(uint64(len(m.entries)))
	}

	m.entries[free] = mapEntry[K, V]{key: key, value: value, used: true}
	if m.pol.trackChecksum() {
		m.sum ^= pairHash(m.pol.seed, key, value)
	}
	m.length++

	if m.pol.autoValidate() {
		return m.validateLocked()
	}
	return nil
}

// Get returns the value for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero V
	if m.closed {
		return zero, false
	}
	for i := range m.entries {
		if m.entries[i].used && m.entries[i].key == key {
			return m.entries[i].value, true
		}
	}
	return zero, false
}

// Delete removes key and reports whether it was present.
func (m *Map[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	for i := range m.entries {
		e := &m.entries[i]
		if e.used && e.key == key {
			if m.pol.trackChecksum() {
				m.sum ^= pairHash(m.pol.seed, e.key, e.value)
			}
			*e = mapEntry[K, V]{}
			m.length--
			return true
		}
	}
	return false
}

// All iterates entries in slot order. The lock is held for the duration
// of the iteration.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for i := range m.entries {
			if !m.entries[i].used {
				continue
			}
			if !yield(m.entries[i].key, m.entries[i].value) {
				return
			}
		}
	}
}

// Validate re-checks the map's structural invariants: entry count within
// capacity, occupancy consistent with length, provider alive, and (at
// VerifyStandard and above) the entry checksum.
func (m *Map[K, V]) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validateLocked()
}

func (m *Map[K, V]) validateLocked() error {
	if m.closed {
		return errors.UseAfterFree(m.prov.Subsystem().String())
	}
	if m.prov.Released() {
		return errors.Structural("backing provider released while container live")
	}
	used := 0
	var want uint64
	for i := range m.entries {
		if !m.entries[i].used {
			continue
		}
		used++
		if m.pol.verifyChecksum() {
			want ^= pairHash(m.pol.seed, m.entries[i].key, m.entries[i].value)
		}
	}
	if used != m.length {
		return errors.Structural("occupied slot count disagrees with length")
	}
	if m.length > len(m.entries) {
		return errors.Structural("length exceeds capacity")
	}
	if m.pol.verifyChecksum() && want != m.sum {
		return errors.ChecksumMismatch(want, m.sum)
	}
	return nil
}

// Close releases the backing provider. The map is unusable afterwards.
func (m *Map[K, V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.DoubleRelease(m.prov.Subsystem().String())
	}
	m.closed = true
	return m.prov.Release()
}
