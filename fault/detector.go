package fault

import (
	stderrors "errors"
	"os"
	"sync"

	"go.uber.org/zap"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/monitor"
	"github.com/wippyai/wasm-guard/telemetry"
)

// Type identifies the class of a detected fault.
type Type uint8

const (
	TypeBudgetExceeded Type = iota
	TypeBoundsViolation
	TypeCapabilityViolation
	TypeMemoryCorruption
	TypeUseAfterFree
	TypeNullPointer
	TypeStackOverflow
	TypeAlignmentViolation
)

func (t Type) String() string {
	switch t {
	case TypeBudgetExceeded:
		return "budget exceeded"
	case TypeBoundsViolation:
		return "bounds violation"
	case TypeCapabilityViolation:
		return "capability violation"
	case TypeMemoryCorruption:
		return "memory corruption"
	case TypeUseAfterFree:
		return "use after free"
	case TypeNullPointer:
		return "null pointer"
	case TypeStackOverflow:
		return "stack overflow"
	case TypeAlignmentViolation:
		return "alignment violation"
	}
	return "unknown"
}

// Op identifies the memory operation in flight when a fault was detected.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpAllocate
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpAllocate:
		return "allocate"
	}
	return "unknown"
}

// Context describes where a potential fault was detected. It is a transient
// value constructed per operation and consumed by the Check call; detectors
// never retain it.
type Context struct {
	Subsystem wasmguard.SubsystemID
	Op        Op
	Address   uint64
	Size      uint64
}

// Mode selects how the detector reacts once a fault has been recorded.
type Mode uint8

const (
	// LogOnly records the fault and returns the error to the caller.
	LogOnly Mode = iota
	// GracefulDegradation additionally runs registered recovery hooks
	// before returning the error.
	GracefulDegradation
	// HaltOnFault transfers control to the configured halt function after
	// recording. The Check call does not return.
	HaltOnFault
)

func (m Mode) String() string {
	switch m {
	case LogOnly:
		return "log-only"
	case GracefulDegradation:
		return "graceful-degradation"
	case HaltOnFault:
		return "halt-on-fault"
	}
	return "unknown"
}

// RecoveryHook is invoked under GracefulDegradation after a fault has been
// recorded. Hooks must not allocate from governed budgets or fault
// themselves.
type RecoveryHook func(Type, Context)

// Detector evaluates safety conditions and routes violations through the
// monitor, the telemetry ring and the response policy.
type Detector struct {
	mode Mode
	mon  *monitor.Monitor
	ring *telemetry.Ring
	log  *zap.Logger
	halt func(int)

	mu    sync.Mutex
	hooks []RecoveryHook
}

// Option configures a Detector.
type Option func(*Detector)

// WithMonitor overrides the process-wide safety monitor.
func WithMonitor(m *monitor.Monitor) Option {
	return func(d *Detector) { d.mon = m }
}

// WithTelemetry sets the ring that receives fault events.
func WithTelemetry(r *telemetry.Ring) Option {
	return func(d *Detector) { d.ring = r }
}

// WithLogger sets the logger for fault reporting.
func WithLogger(log *zap.Logger) Option {
	return func(d *Detector) { d.log = log }
}

// WithHalt replaces the halt function used by HaltOnFault. Embedders
// install their safe-halt routine here; the default is os.Exit.
func WithHalt(halt func(int)) Option {
	return func(d *Detector) { d.halt = halt }
}

// New creates a detector with the given response mode. The mode is fixed
// for the detector's lifetime in certified deployments; SetMode exists for
// development tooling only.
func New(mode Mode, opts ...Option) *Detector {
	d := &Detector{
		mode: mode,
		log:  zap.NewNop(),
		halt: os.Exit,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.mon == nil {
		d.mon = monitor.Global()
	}
	if d.ring == nil {
		d.ring = telemetry.NewRing(telemetry.DefaultCapacity)
	}
	return d
}

// Mode returns the configured response mode.
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetMode changes the response mode. Development tooling only; certified
// deployments fix the mode at initialization.
func (d *Detector) SetMode(mode Mode) {
	d.mu.Lock()
	d.mode = mode
	d.mu.Unlock()
}

// RegisterRecovery adds a hook run under GracefulDegradation.
func (d *Detector) RegisterRecovery(hook RecoveryHook) {
	d.mu.Lock()
	d.hooks = append(d.hooks, hook)
	d.mu.Unlock()
}

// Telemetry returns the ring receiving fault events.
func (d *Detector) Telemetry() *telemetry.Ring { return d.ring }

// CheckBounds verifies index < limit. A violation is recorded and handled
// per the response mode.
func (d *Detector) CheckBounds(index, limit uint64, fctx Context) error {
	if index < limit {
		return nil
	}
	err := errors.BoundsViolation(index, limit)
	return d.react(TypeBoundsViolation, err, fctx)
}

// CheckBudget verifies requested <= available.
func (d *Detector) CheckBudget(requested, available uint64, fctx Context) error {
	if requested <= available {
		return nil
	}
	err := errors.BudgetExceeded(fctx.Subsystem.String(), requested, available)
	return d.react(TypeBudgetExceeded, err, fctx)
}

// CheckAlignment verifies address is a multiple of align. align of zero or
// one always passes.
func (d *Detector) CheckAlignment(address, align uint64, fctx Context) error {
	if align <= 1 || address%align == 0 {
		return nil
	}
	err := errors.AlignmentViolation(address, align)
	return d.react(TypeAlignmentViolation, err, fctx)
}

// ReportFault routes an externally detected fault (an engine trap, a
// provider integrity failure) through the same recording and response path
// as the Check methods.
func (d *Detector) ReportFault(ft Type, fctx Context) error {
	return d.react(ft, d.typedError(ft, fctx), fctx)
}

func (d *Detector) typedError(ft Type, fctx Context) error {
	sub := fctx.Subsystem.String()
	switch ft {
	case TypeBudgetExceeded:
		return errors.BudgetExceeded(sub, fctx.Size, 0)
	case TypeBoundsViolation:
		return errors.BoundsViolation(fctx.Address, fctx.Size)
	case TypeCapabilityViolation:
		return errors.CapabilityViolation(sub, "reported fault")
	case TypeMemoryCorruption:
		return errors.New(errors.PhaseValidate, errors.KindCorruption).
			Subsystem(sub).
			Detail("memory corruption at address 0x%x", fctx.Address).
			Build()
	case TypeUseAfterFree:
		return errors.UseAfterFree(sub)
	case TypeNullPointer:
		return errors.New(errors.PhaseAccess, errors.KindNullPointer).
			Subsystem(sub).
			Detail("null pointer during %s", fctx.Op).
			Build()
	case TypeStackOverflow:
		return errors.New(errors.PhaseRun, errors.KindStackOverflow).
			Subsystem(sub).
			Detail("stack overflow").
			Build()
	case TypeAlignmentViolation:
		return errors.AlignmentViolation(fctx.Address, fctx.Size)
	}
	return errors.Structural("unclassified fault")
}

// react records the fault and applies the response mode. It always records
// before reacting, so telemetry and monitor state are consistent even on
// the halt path.
func (d *Detector) react(ft Type, err error, fctx Context) error {
	d.record(ft, err, fctx)

	d.mu.Lock()
	mode := d.mode
	hooks := d.hooks
	d.mu.Unlock()

	switch mode {
	case GracefulDegradation:
		for _, hook := range hooks {
			hook(ft, fctx)
		}
	case HaltOnFault:
		d.log.Error("halting on fault",
			zap.Stringer("fault", ft),
			zap.Stringer("subsystem", fctx.Subsystem))
		d.halt(1)
	}
	return err
}

func (d *Detector) record(ft Type, err error, fctx Context) {
	switch ft {
	case TypeBudgetExceeded:
		var ge *errors.Error
		if stderrors.As(err, &ge) {
			d.mon.RecordBudgetViolation(fctx.Subsystem, ge.Requested, ge.Available)
		} else {
			d.mon.RecordBudgetViolation(fctx.Subsystem, fctx.Size, 0)
		}
	case TypeCapabilityViolation, TypeUseAfterFree, TypeBoundsViolation, TypeAlignmentViolation:
		d.mon.RecordCapabilityViolation(fctx.Subsystem)
	case TypeMemoryCorruption, TypeNullPointer, TypeStackOverflow:
		d.mon.RecordFatalError()
	}

	d.ring.Record(telemetry.Event{
		Category:  telemetry.CategoryFault,
		Severity:  severityOf(ft),
		Subsystem: fctx.Subsystem,
		Message:   err.Error(),
	})

	d.log.Warn("fault detected",
		zap.Stringer("fault", ft),
		zap.Stringer("subsystem", fctx.Subsystem),
		zap.Stringer("op", fctx.Op),
		zap.Uint64("address", fctx.Address),
		zap.Uint64("size", fctx.Size),
		zap.Error(err))
}

func severityOf(ft Type) telemetry.Severity {
	switch ft {
	case TypeMemoryCorruption, TypeStackOverflow, TypeNullPointer:
		return telemetry.SeverityCritical
	case TypeUseAfterFree, TypeCapabilityViolation:
		return telemetry.SeverityError
	}
	return telemetry.SeverityWarning
}
