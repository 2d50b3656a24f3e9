package bounded

import (
	"errors"
	"testing"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/budget"
	guarderr "github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/memory"
	"github.com/wippyai/wasm-guard/monitor"
)

func testBudgetContext(t *testing.T) *budget.Context {
	t.Helper()
	ctx := budget.NewContext(wasmguard.TierB, budget.WithMonitor(monitor.New()))
	if err := ctx.Register(wasmguard.SubsystemDecoder, 64*1024); err != nil {
		t.Fatal(err)
	}
	return ctx
}

func newMap(t *testing.T, capacity int, opts ...Option) *Map[string, uint32] {
	t.Helper()
	m, err := NewMap[string, uint32](memory.Static(4096), capacity, opts...)
	if err != nil {
		t.Fatalf("NewMap failed: %v", err)
	}
	return m
}

func TestMap_PutGet(t *testing.T) {
	m := newMap(t, 8, WithLevel(wasmguard.VerifyFull))

	if err := m.Put("a", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Put("b", 2); err != nil {
		t.Fatal(err)
	}

	got, ok := m.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get(a) = %d, %v, want 1, true", got, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("Get(missing) should report absent")
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
}

func TestMap_Replace(t *testing.T) {
	m := newMap(t, 4, WithLevel(wasmguard.VerifyFull))

	if err := m.Put("k", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Put("k", 2); err != nil {
		t.Fatal(err)
	}

	if m.Len() != 1 {
		t.Fatalf("Len = %d after replace, want 1", m.Len())
	}
	got, _ := m.Get("k")
	if got != 2 {
		t.Fatalf("Get(k) = %d, want 2", got)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate after replace = %v", err)
	}
}

func TestMap_CapacityInvariant(t *testing.T) {
	m := newMap(t, 2)

	if err := m.Put("a", 1); err != nil {
		t.Fatal(err)
	}
	if err := m.Put("b", 2); err != nil {
		t.Fatal(err)
	}

	err := m.Put("c", 3)
	if !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAccess, Kind: guarderr.KindCapacityExceeded}) {
		t.Fatalf("Put into full map = %v, want capacity_exceeded", err)
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d after failed put, want 2", m.Len())
	}

	// Replacing an existing key still works at capacity.
	if err := m.Put("a", 9); err != nil {
		t.Fatalf("replace at capacity = %v", err)
	}
}

func TestMap_DeleteFreesSlot(t *testing.T) {
	m := newMap(t, 2, WithLevel(wasmguard.VerifyFull))

	_ = m.Put("a", 1)
	_ = m.Put("b", 2)

	if !m.Delete("a") {
		t.Fatal("Delete(a) = false, want true")
	}
	if m.Delete("a") {
		t.Fatal("second Delete(a) = true, want false")
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d, want 1", m.Len())
	}

	// The freed slot is reusable.
	if err := m.Put("c", 3); err != nil {
		t.Fatalf("Put after delete = %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate = %v", err)
	}
}

func TestMap_ValidateDetectsCorruption(t *testing.T) {
	m := newMap(t, 4, WithLevel(wasmguard.VerifyStandard))
	_ = m.Put("a", 1)
	_ = m.Put("b", 2)

	m.entries[0].value = 0xffff

	err := m.Validate()
	if !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseValidate, Kind: guarderr.KindChecksumMismatch}) {
		t.Fatalf("Validate on corrupted map = %v, want checksum_mismatch", err)
	}
}

func TestMap_All(t *testing.T) {
	m := newMap(t, 4)
	_ = m.Put("x", 10)
	_ = m.Put("y", 20)

	seen := map[string]uint32{}
	for k, v := range m.All() {
		seen[k] = v
	}
	if len(seen) != 2 || seen["x"] != 10 || seen["y"] != 20 {
		t.Fatalf("All yielded %v", seen)
	}
}

func TestMap_Close(t *testing.T) {
	ctx := testBudgetContext(t)
	prov, err := memory.CapabilityBacked(ctx, wasmguard.SubsystemDecoder, 2048)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewMap[uint32, uint64](prov, 64)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if got := ctx.Consumed(wasmguard.SubsystemDecoder); got != 0 {
		t.Fatalf("Consumed after Close = %d, want 0", got)
	}
	if err := m.Put(1, 2); !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAccess, Kind: guarderr.KindUseAfterFree}) {
		t.Fatalf("Put after Close = %v, want use_after_free", err)
	}
}
