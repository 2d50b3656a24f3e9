package bounded

import (
	"errors"
	"testing"

	wasmguard "github.com/wippyai/wasm-guard"
	guarderr "github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/memory"
)

func newVec(t *testing.T, capacity int, opts ...Option) *Vec[uint32] {
	t.Helper()
	vec, err := NewVec[uint32](memory.Static(4096), capacity, opts...)
	if err != nil {
		t.Fatalf("NewVec failed: %v", err)
	}
	return vec
}

func TestVec_CapacityInvariant(t *testing.T) {
	vec := newVec(t, 3, WithLevel(wasmguard.VerifyStandard))

	// Pushing to capacity succeeds.
	for _, v := range []uint32{1, 2, 3} {
		if err := vec.Push(v); err != nil {
			t.Fatalf("Push(%d) = %v, want success", v, err)
		}
	}

	// The next push fails and leaves length unchanged.
	err := vec.Push(4)
	if !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAccess, Kind: guarderr.KindCapacityExceeded}) {
		t.Fatalf("Push(4) = %v, want capacity_exceeded", err)
	}
	if vec.Len() != 3 {
		t.Fatalf("Len = %d after failed push, want 3", vec.Len())
	}

	// Out-of-range access reports index and limit.
	_, err = vec.Get(5)
	var ge *guarderr.Error
	if !errors.As(err, &ge) || ge.Kind != guarderr.KindBoundsViolation {
		t.Fatalf("Get(5) = %v, want bounds_violation", err)
	}
	if ge.Index != 5 || ge.Limit != 3 {
		t.Fatalf("Index=%d Limit=%d, want 5/3", ge.Index, ge.Limit)
	}
}

func TestVec_PushPopRoundTrip(t *testing.T) {
	vec := newVec(t, 8, WithLevel(wasmguard.VerifyFull))

	for i := uint32(0); i < 8; i++ {
		if err := vec.Push(i * 10); err != nil {
			t.Fatal(err)
		}
	}
	for i := 7; i >= 0; i-- {
		got, err := vec.Pop()
		if err != nil {
			t.Fatalf("Pop = %v", err)
		}
		if got != uint32(i*10) {
			t.Fatalf("Pop = %d, want %d", got, i*10)
		}
	}

	_, err := vec.Pop()
	if !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAccess, Kind: guarderr.KindBoundsViolation}) {
		t.Fatalf("Pop on empty = %v, want bounds_violation", err)
	}
}

func TestVec_SetMaintainsChecksum(t *testing.T) {
	vec := newVec(t, 4, WithLevel(wasmguard.VerifyFull))

	for _, v := range []uint32{10, 20, 30} {
		if err := vec.Push(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := vec.Set(1, 99); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := vec.Validate(); err != nil {
		t.Fatalf("Validate after Set = %v", err)
	}

	got, err := vec.Get(1)
	if err != nil || got != 99 {
		t.Fatalf("Get(1) = %d, %v, want 99", got, err)
	}
}

func TestVec_ValidateDetectsCorruption(t *testing.T) {
	vec := newVec(t, 4, WithLevel(wasmguard.VerifyStandard))
	for _, v := range []uint32{1, 2, 3} {
		if err := vec.Push(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := vec.Validate(); err != nil {
		t.Fatalf("Validate on healthy vector = %v", err)
	}

	// Simulate a bit flip behind the container's back.
	vec.data[1] = 0xdead

	err := vec.Validate()
	if !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseValidate, Kind: guarderr.KindChecksumMismatch}) {
		t.Fatalf("Validate on corrupted vector = %v, want checksum_mismatch", err)
	}
}

func TestVec_NoneLevelSkipsChecks(t *testing.T) {
	vec := newVec(t, 4, WithLevel(wasmguard.VerifyNone))
	if err := vec.Push(7); err != nil {
		t.Fatal(err)
	}

	// Checksum is not maintained and Validate does not compare it.
	vec.data[0] = 0xbeef
	if err := vec.Validate(); err != nil {
		t.Fatalf("Validate at VerifyNone = %v, want nil", err)
	}
}

func TestVec_All(t *testing.T) {
	vec := newVec(t, 4)
	want := []uint32{5, 6, 7}
	for _, v := range want {
		if err := vec.Push(v); err != nil {
			t.Fatal(err)
		}
	}

	var got []uint32
	for i, v := range vec.All() {
		if v != want[i] {
			t.Fatalf("All()[%d] = %d, want %d", i, v, want[i])
		}
		got = append(got, v)
	}
	if len(got) != 3 {
		t.Fatalf("All yielded %d elements, want 3", len(got))
	}
}

func TestVec_Close(t *testing.T) {
	vec := newVec(t, 4)
	if err := vec.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}

	if err := vec.Push(1); !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAccess, Kind: guarderr.KindUseAfterFree}) {
		t.Fatalf("Push after Close = %v, want use_after_free", err)
	}
	if err := vec.Close(); !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAllocate, Kind: guarderr.KindDoubleRelease}) {
		t.Fatalf("second Close = %v, want double_release", err)
	}
}

func TestVec_ProviderTooSmall(t *testing.T) {
	// 4 bytes per uint32; 1024 elements need 4096.
	_, err := NewVec[uint32](memory.Static(64), 1024)
	if !errors.Is(err, &guarderr.Error{Phase: guarderr.PhaseAllocate, Kind: guarderr.KindCapacityExceeded}) {
		t.Fatalf("NewVec over small provider = %v, want capacity_exceeded", err)
	}
}

func TestVec_CapabilityBackedReleasesOnClose(t *testing.T) {
	ctx := testBudgetContext(t)
	prov, err := memory.CapabilityBacked(ctx, wasmguard.SubsystemDecoder, 1024)
	if err != nil {
		t.Fatal(err)
	}

	vec, err := NewVec[uint32](prov, 256)
	if err != nil {
		t.Fatal(err)
	}
	if got := ctx.Consumed(wasmguard.SubsystemDecoder); got != 1024 {
		t.Fatalf("Consumed = %d, want 1024", got)
	}

	if err := vec.Close(); err != nil {
		t.Fatal(err)
	}
	if got := ctx.Consumed(wasmguard.SubsystemDecoder); got != 0 {
		t.Fatalf("Consumed after Close = %d, want 0", got)
	}
}

func TestSamplingFairness(t *testing.T) {
	tests := []struct {
		importance uint8
		window     uint32
	}{
		{importance: 64, window: 256},
		{importance: 128, window: 256},
		{importance: ImportanceCritical, window: 256},
		{importance: 32, window: 128},
	}

	for _, tt := range tests {
		p := newPolicy([]Option{
			WithLevel(wasmguard.VerifySampling),
			WithWindow(tt.window),
			WithImportance(tt.importance),
		})

		const rounds = 100_000
		checked := 0
		for i := 0; i < rounds; i++ {
			if p.checkBounds() {
				checked++
			}
		}

		want := float64(tt.importance) / float64(tt.window)
		if tt.importance == ImportanceCritical {
			want = 1
		}
		got := float64(checked) / float64(rounds)
		// The counter walks the window deterministically, so the fraction
		// converges tightly over many full windows.
		if diff := got - want; diff > 0.01 || diff < -0.01 {
			t.Errorf("importance %d window %d: checked fraction %.4f, want %.4f",
				tt.importance, tt.window, got, want)
		}
	}
}

func TestWithTier_DefaultLevels(t *testing.T) {
	cases := []struct {
		tier wasmguard.IntegrityTier
		want wasmguard.VerificationLevel
	}{
		{wasmguard.TierQM, wasmguard.VerifyNone},
		{wasmguard.TierA, wasmguard.VerifySampling},
		{wasmguard.TierB, wasmguard.VerifyStandard},
		{wasmguard.TierC, wasmguard.VerifyStandard},
		{wasmguard.TierD, wasmguard.VerifyFull},
	}
	for _, tc := range cases {
		p := newPolicy([]Option{WithTier(tc.tier)})
		if p.level != tc.want {
			t.Errorf("tier %s: level %s, want %s", tc.tier, p.level, tc.want)
		}
	}
}

func TestSamplingCriticalAlwaysChecks(t *testing.T) {
	p := newPolicy([]Option{
		WithLevel(wasmguard.VerifySampling),
		WithImportance(ImportanceCritical),
	})

	// Critical importance admits no unchecked operation anywhere in the
	// window, including the final slot.
	for i := 0; i < 3*DefaultWindow; i++ {
		if !p.checkBounds() {
			t.Fatalf("operation %d skipped at critical importance", i)
		}
	}
}
