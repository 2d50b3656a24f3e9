package bounded

import (
	"errors"
	"testing"

	wasmguard "github.com/wippyai/wasm-guard"
	guarderr "github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/memory"
)

func TestStack_LIFO(t *testing.T) {
	s, err := NewStack[uint32](memory.Static(1024), 4, WithLevel(wasmguard.VerifyFull))
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range []uint32{1, 2, 3} {
		if err := s.Push(v); err != nil {
			t.Fatal(err)
		}
	}

	top, err := s.Peek()
	if err != nil || top != 3 {
		t.Fatalf("Peek = %d, %v, want 3", top, err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d after Peek, want 3", s.Len())
	}

	for want := uint32(3); want >= 1; want-- {
		got, err := s.Pop()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Pop = %d, want %d", got, want)
		}
	}

	_, err = s.Peek()
	if !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAccess, Kind: guarderr.KindBoundsViolation}) {
		t.Fatalf("Peek on empty = %v, want bounds_violation", err)
	}
}

func TestStack_CapacityInvariant(t *testing.T) {
	s, err := NewStack[uint8](memory.Static(16), 2)
	if err != nil {
		t.Fatal(err)
	}

	_ = s.Push(1)
	_ = s.Push(2)
	pushErr := s.Push(3)
	if !errors.Is(pushErr, &guarderr.Error{Phase: guarderr.PhaseAccess, Kind: guarderr.KindCapacityExceeded}) {
		t.Fatalf("Push into full stack = %v, want capacity_exceeded", pushErr)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate = %v", err)
	}
}
