package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the governance pipeline the error occurred
type Phase string

const (
	PhaseRegister Phase = "register" // budget registration
	PhaseAllocate Phase = "allocate" // capability verification / provider construction
	PhaseAccess   Phase = "access"   // container element access
	PhaseValidate Phase = "validate" // structural / checksum validation
	PhaseMonitor  Phase = "monitor"  // safety monitoring
	PhaseConfig   Phase = "config"   // budget table loading
	PhaseRun      Phase = "run"      // governed module execution
)

// Kind categorizes the error
type Kind string

const (
	KindDuplicateRegistration Kind = "duplicate_registration"
	KindUnknownSubsystem      Kind = "unknown_subsystem"
	KindContextSealed         Kind = "context_sealed"
	KindBudgetExceeded        Kind = "budget_exceeded"
	KindDoubleRelease         Kind = "double_release"
	KindCapabilityViolation   Kind = "capability_violation"
	KindCapacityExceeded      Kind = "capacity_exceeded"
	KindBoundsViolation       Kind = "bounds_violation"
	KindChecksumMismatch      Kind = "checksum_mismatch"
	KindStructural            Kind = "structural"
	KindAlignment             Kind = "alignment"
	KindCorruption            Kind = "corruption"
	KindUseAfterFree          Kind = "use_after_free"
	KindNullPointer           Kind = "null_pointer"
	KindStackOverflow         Kind = "stack_overflow"
	KindInvalidConfig         Kind = "invalid_config"
	KindTierViolation         Kind = "tier_violation"
)

// Error is the structured error type used throughout the governance core
type Error struct {
	Cause     error
	Phase     Phase
	Kind      Kind
	Subsystem string
	Detail    string

	// Numeric context for budget/bounds failures. Callers that need the
	// figures programmatically read these instead of parsing Detail.
	Requested uint64
	Available uint64
	Index     uint64
	Limit     uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Subsystem != "" {
		b.WriteString(" in ")
		b.WriteString(e.Subsystem)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Subsystem sets the subsystem name
func (b *Builder) Subsystem(name string) *Builder {
	b.err.Subsystem = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// BudgetExceeded creates a budget exhaustion error
func BudgetExceeded(subsystem string, requested, available uint64) *Error {
	return &Error{
		Phase:     PhaseAllocate,
		Kind:      KindBudgetExceeded,
		Subsystem: subsystem,
		Requested: requested,
		Available: available,
		Detail:    fmt.Sprintf("requested %d bytes, %d available", requested, available),
	}
}

// UnknownSubsystem creates an error for a subsystem with no registered budget
func UnknownSubsystem(phase Phase, subsystem string) *Error {
	return &Error{
		Phase:     phase,
		Kind:      KindUnknownSubsystem,
		Subsystem: subsystem,
		Detail:    "no budget registered",
	}
}

// DuplicateRegistration creates an error for repeated budget registration
func DuplicateRegistration(subsystem string) *Error {
	return &Error{
		Phase:     PhaseRegister,
		Kind:      KindDuplicateRegistration,
		Subsystem: subsystem,
		Detail:    "budget already registered",
	}
}

// ContextSealed creates an error for mutation attempts after seal
func ContextSealed(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindContextSealed,
		Detail: "context is sealed",
	}
}

// DoubleRelease creates an error for releasing a capability twice
func DoubleRelease(subsystem string) *Error {
	return &Error{
		Phase:     PhaseAllocate,
		Kind:      KindDoubleRelease,
		Subsystem: subsystem,
		Detail:    "capability already released",
	}
}

// CapabilityViolation creates an error for a forged or stale capability
func CapabilityViolation(subsystem, detail string) *Error {
	return &Error{
		Phase:     PhaseAllocate,
		Kind:      KindCapabilityViolation,
		Subsystem: subsystem,
		Detail:    detail,
	}
}

// CapacityExceeded creates a container-full error
func CapacityExceeded(capacity uint64) *Error {
	return &Error{
		Phase:  PhaseAccess,
		Kind:   KindCapacityExceeded,
		Limit:  capacity,
		Detail: fmt.Sprintf("container at capacity %d", capacity),
	}
}

// BoundsViolation creates an out-of-bounds access error
func BoundsViolation(index, limit uint64) *Error {
	return &Error{
		Phase:  PhaseAccess,
		Kind:   KindBoundsViolation,
		Index:  index,
		Limit:  limit,
		Detail: fmt.Sprintf("index %d out of bounds (limit %d)", index, limit),
	}
}

// ChecksumMismatch creates a checksum validation error
func ChecksumMismatch(want, got uint64) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindChecksumMismatch,
		Detail: fmt.Sprintf("checksum mismatch: want %016x, got %016x", want, got),
	}
}

// Structural creates a structural invariant error
func Structural(detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindStructural,
		Detail: detail,
	}
}

// AlignmentViolation creates an address alignment error
func AlignmentViolation(address uint64, align uint64) *Error {
	return &Error{
		Phase:  PhaseAccess,
		Kind:   KindAlignment,
		Detail: fmt.Sprintf("address %#x not aligned to %d", address, align),
	}
}

// UseAfterFree creates an error for access to a released provider
func UseAfterFree(subsystem string) *Error {
	return &Error{
		Phase:     PhaseAccess,
		Kind:      KindUseAfterFree,
		Subsystem: subsystem,
		Detail:    "provider released",
	}
}

// TierViolation creates an error for operations the integrity tier forbids
func TierViolation(phase Phase, tier, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTierViolation,
		Detail: fmt.Sprintf("%s: %s", tier, detail),
	}
}

// InvalidConfig creates a budget-table validation error
func InvalidConfig(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
