package fault

import (
	stderrors "errors"
	"testing"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/monitor"
	"github.com/wippyai/wasm-guard/telemetry"
)

func newTestDetector(mode Mode, opts ...Option) (*Detector, *monitor.Monitor, *telemetry.Ring) {
	mon := monitor.New()
	ring := telemetry.NewRing(16)
	opts = append([]Option{WithMonitor(mon), WithTelemetry(ring)}, opts...)
	return New(mode, opts...), mon, ring
}

func TestDetector_CheckBoundsPass(t *testing.T) {
	d, mon, ring := newTestDetector(LogOnly)
	if err := d.CheckBounds(3, 8, Context{Subsystem: wasmguard.SubsystemFoundation, Op: OpRead}); err != nil {
		t.Fatalf("in-bounds check failed: %v", err)
	}
	if mon.CriticalViolations() != 0 {
		t.Fatal("passing check must not record a violation")
	}
	if ring.Len() != 0 {
		t.Fatal("passing check must not emit telemetry")
	}
}

func TestDetector_CheckBoundsFault(t *testing.T) {
	d, mon, ring := newTestDetector(LogOnly)
	err := d.CheckBounds(8, 8, Context{Subsystem: wasmguard.SubsystemDecoder, Op: OpRead, Address: 0x40})
	if err == nil {
		t.Fatal("expected bounds violation")
	}
	var ge *errors.Error
	if !stderrors.As(err, &ge) || ge.Kind != errors.KindBoundsViolation {
		t.Fatalf("expected bounds violation error, got %v", err)
	}
	if ge.Index != 8 || ge.Limit != 8 {
		t.Fatalf("expected index=8 limit=8, got index=%d limit=%d", ge.Index, ge.Limit)
	}
	if mon.CriticalViolations() != 1 {
		t.Fatalf("expected 1 critical violation, got %d", mon.CriticalViolations())
	}
	if ring.Len() != 1 {
		t.Fatalf("expected 1 telemetry event, got %d", ring.Len())
	}
}

func TestDetector_CheckBudget(t *testing.T) {
	d, mon, _ := newTestDetector(LogOnly)
	if err := d.CheckBudget(512, 1024, Context{Subsystem: wasmguard.SubsystemRuntimeCore, Op: OpAllocate}); err != nil {
		t.Fatalf("within-budget check failed: %v", err)
	}

	err := d.CheckBudget(2048, 1024, Context{Subsystem: wasmguard.SubsystemRuntimeCore, Op: OpAllocate, Size: 2048})
	var ge *errors.Error
	if !stderrors.As(err, &ge) || ge.Kind != errors.KindBudgetExceeded {
		t.Fatalf("expected budget exceeded, got %v", err)
	}
	if ge.Requested != 2048 || ge.Available != 1024 {
		t.Fatalf("expected requested=2048 available=1024, got %d/%d", ge.Requested, ge.Available)
	}
	report := mon.Report()
	if report.BudgetViolations != 1 {
		t.Fatalf("expected 1 budget violation, got %d", report.BudgetViolations)
	}
}

func TestDetector_CheckAlignment(t *testing.T) {
	d, _, _ := newTestDetector(LogOnly)
	cases := []struct {
		address uint64
		align   uint64
		ok      bool
	}{
		{0x1000, 8, true},
		{0x1004, 8, false},
		{0x1004, 4, true},
		{0x1003, 1, true},
		{0x1003, 0, true},
	}
	for _, tc := range cases {
		err := d.CheckAlignment(tc.address, tc.align, Context{Subsystem: wasmguard.SubsystemPlatform, Op: OpWrite})
		if tc.ok && err != nil {
			t.Fatalf("address 0x%x align %d: unexpected fault %v", tc.address, tc.align, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("address 0x%x align %d: expected alignment fault", tc.address, tc.align)
		}
	}
}

func TestDetector_GracefulDegradationRunsHooks(t *testing.T) {
	d, _, _ := newTestDetector(GracefulDegradation)

	var gotType Type
	var gotCtx Context
	calls := 0
	d.RegisterRecovery(func(ft Type, fctx Context) {
		gotType = ft
		gotCtx = fctx
		calls++
	})

	err := d.CheckBounds(10, 4, Context{Subsystem: wasmguard.SubsystemComponentModel, Op: OpWrite, Address: 0x88})
	if err == nil {
		t.Fatal("expected bounds violation")
	}
	if calls != 1 {
		t.Fatalf("expected recovery hook to run once, ran %d times", calls)
	}
	if gotType != TypeBoundsViolation {
		t.Fatalf("hook saw fault %v, want bounds violation", gotType)
	}
	if gotCtx.Subsystem != wasmguard.SubsystemComponentModel || gotCtx.Address != 0x88 {
		t.Fatalf("hook saw wrong context: %+v", gotCtx)
	}
}

func TestDetector_LogOnlySkipsHooks(t *testing.T) {
	d, _, _ := newTestDetector(LogOnly)
	calls := 0
	d.RegisterRecovery(func(Type, Context) { calls++ })
	_ = d.CheckBounds(5, 5, Context{Subsystem: wasmguard.SubsystemFoundation})
	if calls != 0 {
		t.Fatal("log-only mode must not run recovery hooks")
	}
}

func TestDetector_HaltOnFault(t *testing.T) {
	halted := false
	code := -1
	d, mon, ring := newTestDetector(HaltOnFault, WithHalt(func(c int) {
		halted = true
		code = c
	}))

	err := d.CheckBudget(100, 10, Context{Subsystem: wasmguard.SubsystemHostInterface, Op: OpAllocate})
	if err == nil {
		t.Fatal("expected budget fault")
	}
	if !halted || code != 1 {
		t.Fatalf("expected halt(1), got halted=%v code=%d", halted, code)
	}
	// Recording happens before the halt path runs.
	if mon.Report().BudgetViolations != 1 {
		t.Fatal("fault must be recorded before halting")
	}
	if ring.Len() != 1 {
		t.Fatal("telemetry must be recorded before halting")
	}
}

func TestDetector_ReportFault(t *testing.T) {
	d, mon, ring := newTestDetector(LogOnly)

	err := d.ReportFault(TypeMemoryCorruption, Context{Subsystem: wasmguard.SubsystemDecoder, Op: OpRead, Address: 0xdead})
	var ge *errors.Error
	if !stderrors.As(err, &ge) || ge.Kind != errors.KindCorruption {
		t.Fatalf("expected corruption error, got %v", err)
	}
	if mon.Report().FatalErrors != 1 {
		t.Fatal("corruption must count as a fatal error")
	}
	if mon.HealthScore() > 50 {
		t.Fatalf("fatal error must clamp health to 50, got %d", mon.HealthScore())
	}

	var events []telemetry.Event
	for ev := range ring.Drain() {
		events = append(events, ev)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 telemetry event, got %d", len(events))
	}
	if events[0].Severity != telemetry.SeverityCritical {
		t.Fatalf("corruption should be critical severity, got %v", events[0].Severity)
	}
	if events[0].Category != telemetry.CategoryFault {
		t.Fatalf("expected fault category, got %v", events[0].Category)
	}
}

func TestDetector_UseAfterFreeRecordsCapabilityViolation(t *testing.T) {
	d, mon, _ := newTestDetector(LogOnly)
	_ = d.ReportFault(TypeUseAfterFree, Context{Subsystem: wasmguard.SubsystemLogging, Op: OpRead})
	if mon.Report().CapabilityViolations != 1 {
		t.Fatal("use-after-free must count as a capability violation")
	}
	if mon.Report().FatalErrors != 0 {
		t.Fatal("use-after-free is not a fatal error")
	}
}

func TestDetector_SetMode(t *testing.T) {
	d, _, _ := newTestDetector(LogOnly)
	if d.Mode() != LogOnly {
		t.Fatalf("expected log-only, got %v", d.Mode())
	}
	d.SetMode(GracefulDegradation)
	if d.Mode() != GracefulDegradation {
		t.Fatalf("expected graceful-degradation, got %v", d.Mode())
	}
}
