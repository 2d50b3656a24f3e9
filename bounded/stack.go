package bounded

import (
	"github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/memory"
)

// Stack is a fixed-capacity LIFO over a provider. It shares the vector's
// storage discipline and verification policy.
type Stack[T comparable] struct {
	vec *Vec[T]
}

// NewStack builds a stack of up to capacity elements over prov.
func NewStack[T comparable](prov *memory.Provider, capacity int, opts ...Option) (*Stack[T], error) {
	vec, err := NewVec[T](prov, capacity, opts...)
	if err != nil {
		return nil, err
	}
	return &Stack[T]{vec: vec}, nil
}

// Len returns the current depth.
func (s *Stack[T]) Len() int { return s.vec.Len() }

// Cap returns the fixed capacity.
func (s *Stack[T]) Cap() int { return s.vec.Cap() }

// Push adds value to the top. A full stack is a capacity error.
func (s *Stack[T]) Push(value T) error { return s.vec.Push(value) }

// Pop removes and returns the top element.
func (s *Stack[T]) Pop() (T, error) { return s.vec.Pop() }

// Peek returns the top element without removing it.
func (s *Stack[T]) Peek() (T, error) {
	s.vec.mu.RLock()
	defer s.vec.mu.RUnlock()

	var zero T
	if s.vec.closed {
		return zero, errors.UseAfterFree(s.vec.prov.Subsystem().String())
	}
	if s.vec.length == 0 {
		return zero, errors.New(errors.PhaseAccess, errors.KindBoundsViolation).
			Detail("peek at empty stack").
			Build()
	}
	return s.vec.data[s.vec.length-1], nil
}

// Validate re-checks structural invariants.
func (s *Stack[T]) Validate() error { return s.vec.Validate() }

// Close releases the backing provider.
func (s *Stack[T]) Close() error { return s.vec.Close() }
