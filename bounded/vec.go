package bounded

import (
	"hash/maphash"
	"iter"
	"reflect"
	"sync"

	"github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/memory"
)

// slot pairs an index with its element so the running checksum covers
// element position as well as value.
type slot[T comparable] struct {
	Index int
	Value T
}

func slotHash[T comparable](seed maphash.Seed, index int, value T) uint64 {
	return maphash.Comparable(seed, slot[T]{Index: index, Value: value})
}

// Vec is a fixed-capacity vector of at most Cap elements, backed by one
// provider. Length never exceeds capacity and the vector never grows;
// pushing into a full vector is a reported error that leaves state
// unchanged.
type Vec[T comparable] struct {
	mu     sync.RWMutex
	prov   *memory.Provider
	data   []T
	length int
	sum    uint64
	pol    *policy
	closed bool
}

// NewVec builds a vector of up to capacity elements over prov. The
// provider must be large enough to account for capacity elements; the
// vector takes exclusive ownership of it and releases it on Close.
func NewVec[T comparable](prov *memory.Provider, capacity int, opts ...Option) (*Vec[T], error) {
	if capacity <= 0 {
		return nil, errors.Structural("capacity must be positive")
	}
	elem := uint64(reflect.TypeFor[T]().Size())
	if need := uint64(capacity) * elem; need > prov.Size() {
		return nil, errors.New(errors.PhaseAllocate, errors.KindCapacityExceeded).
			Detail("provider holds %d bytes, %d elements need %d", prov.Size(), capacity, need).
			Build()
	}
	return &Vec[T]{
		prov: prov,
		data: make([]T, capacity),
		pol:  newPolicy(opts),
	}, nil
}

// Len returns the current element count.
func (v *Vec[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.length
}

// Cap returns the fixed capacity.
func (v *Vec[T]) Cap() int { return len(v.data) }

// Push appends value. A full vector returns a capacity error without
// mutating state.
func (v *Vec[T]) Push(value T) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.UseAfterFree(v.prov.Subsystem().String())
	}
	if v.length == len(v.data) {
		return errors.CapacityExceeded(uint64(len(v.data)))
	}
	v.data[v.length] = value
	if v.pol.trackChecksum() {
		v.sum ^= slotHash(v.pol.seed, v.length, value)
	}
	v.length++

	if v.pol.autoValidate() {
		return v.validateLocked()
	}
	return nil
}

// Pop removes and returns the last element.
func (v *Vec[T]) Pop() (T, error) {
	var zero T
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return zero, errors.UseAfterFree(v.prov.Subsystem().String())
	}
	if v.length == 0 {
		return zero, errors.New(errors.PhaseAccess, errors.KindBoundsViolation).
			Detail("pop from empty vector").
			Build()
	}
	v.length--
	value := v.data[v.length]
	if v.pol.trackChecksum() {
		v.sum ^= slotHash(v.pol.seed, v.length, value)
	}
	v.data[v.length] = zero

	if v.pol.autoValidate() {
		if err := v.validateLocked(); err != nil {
			return zero, err
		}
	}
	return value, nil
}

// Get returns the element at index. Under VerifyNone the index is trusted
// and an out-of-range access is undefined behavior; that level is reserved
// for call sites proven correct by other means.
func (v *Vec[T]) Get(index int) (T, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var zero T
	if v.closed {
		return zero, errors.UseAfterFree(v.prov.Subsystem().String())
	}
	if v.pol.checkBounds() && (index < 0 || index >= v.length) {
		return zero, errors.BoundsViolation(uint64(index), uint64(v.length))
	}
	return v.data[index], nil
}

// Set replaces the element at index.
func (v *Vec[T]) Set(index int, value T) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.UseAfterFree(v.prov.Subsystem().String())
	}
	if v.pol.checkBounds() && (index < 0 || index >= v.length) {
		return errors.BoundsViolation(uint64(index), uint64(v.length))
	}
	if v.pol.trackChecksum() {
		v.sum ^= slotHash(v.pol.seed, index, v.data[index])
		v.sum ^= slotHash(v.pol.seed, index, value)
	}
	v.data[index] = value

	if v.pol.autoValidate() {
		return v.validateLocked()
	}
	return nil
}

// All iterates index/element pairs in order. The lock is held for the
// duration of the iteration; don't mutate the vector from the yield
// function.
func (v *Vec[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		v.mu.RLock()
		defer v.mu.RUnlock()
		for i := 0; i < v.length; i++ {
			if !yield(i, v.data[i]) {
				return
			}
		}
	}
}

// Validate re-checks the container's structural invariants: length within
// capacity, backing provider alive, and (at VerifyStandard and above) the
// element checksum.
func (v *Vec[T]) Validate() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.validateLocked()
}

func (v *Vec[T]) validateLocked() error {
	if v.closed {
		return errors.UseAfterFree(v.prov.Subsystem().String())
	}
	if v.prov.Released() {
		return errors.Structural("backing provider released while container live")
	}
	if v.length < 0 || v.length > len(v.data) {
		return errors.Structural("length exceeds capacity")
	}
	if v.pol.verifyChecksum() {
		var want uint64
		for i := 0; i < v.length; i++ {
			want ^= slotHash(v.pol.seed, i, v.data[i])
		}
		if want != v.sum {
			return errors.ChecksumMismatch(want, v.sum)
		}
	}
	return nil
}

// Close releases the backing provider. The vector is unusable afterwards.
func (v *Vec[T]) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errors.DoubleRelease(v.prov.Subsystem().String())
	}
	v.closed = true
	return v.prov.Release()
}
