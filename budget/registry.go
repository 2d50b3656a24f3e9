package budget

import (
	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/errors"
)

// Documented per-subsystem budget range and global ceiling. Config loading
// and profile application both validate against these.
const (
	MinSubsystemBudget = 4 * 1024
	MaxSubsystemBudget = 256 * 1024 * 1024
	MaxTotalBudget     = 512 * 1024 * 1024
)

// Registry is a static budget table, normally generated by build tooling
// and applied once at startup.
type Registry []Budget

// Validate checks every entry against the documented per-subsystem range
// and the global ceiling.
func (r Registry) Validate() error {
	var total uint64
	seen := [wasmguard.NumSubsystems]bool{}
	for _, b := range r {
		if !b.Subsystem.Valid() {
			return errors.UnknownSubsystem(errors.PhaseConfig, b.Subsystem.String())
		}
		if seen[b.Subsystem] {
			return errors.DuplicateRegistration(b.Subsystem.String())
		}
		seen[b.Subsystem] = true
		if b.MaxBytes < MinSubsystemBudget || b.MaxBytes > MaxSubsystemBudget {
			return errors.New(errors.PhaseConfig, errors.KindInvalidConfig).
				Subsystem(b.Subsystem.String()).
				Detail("budget %d outside range [%d, %d]", b.MaxBytes, MinSubsystemBudget, MaxSubsystemBudget).
				Build()
		}
		total += b.MaxBytes
	}
	if total > MaxTotalBudget {
		return errors.New(errors.PhaseConfig, errors.KindInvalidConfig).
			Detail("total budget %d exceeds ceiling %d", total, MaxTotalBudget).
			Build()
	}
	return nil
}

// Apply validates the table and registers every budget on the context.
func (r Registry) Apply(ctx *Context) error {
	if err := r.Validate(); err != nil {
		return err
	}
	for _, b := range r {
		if err := ctx.Register(b.Subsystem, b.MaxBytes); err != nil {
			return err
		}
	}
	return nil
}

// EmbeddedProfile is the budget table for constrained targets, roughly 8MB
// in total. Values mirror the sizing of the reference deployment.
func EmbeddedProfile() Registry {
	return Registry{
		{Subsystem: wasmguard.SubsystemFoundation, MaxBytes: 512 * 1024},
		{Subsystem: wasmguard.SubsystemDecoder, MaxBytes: 512 * 1024},
		{Subsystem: wasmguard.SubsystemComponentModel, MaxBytes: 1024 * 1024},
		{Subsystem: wasmguard.SubsystemRuntimeCore, MaxBytes: 4 * 1024 * 1024},
		{Subsystem: wasmguard.SubsystemHostInterface, MaxBytes: 1024 * 1024},
		{Subsystem: wasmguard.SubsystemLogging, MaxBytes: 128 * 1024},
		{Subsystem: wasmguard.SubsystemTelemetry, MaxBytes: 64 * 1024},
		{Subsystem: wasmguard.SubsystemPlatform, MaxBytes: 256 * 1024},
	}
}

// DevelopmentProfile is a loose table for local development and tests.
func DevelopmentProfile() Registry {
	r := EmbeddedProfile()
	for i := range r {
		r[i].MaxBytes *= 8
		if r[i].MaxBytes > MaxSubsystemBudget {
			r[i].MaxBytes = MaxSubsystemBudget
		}
	}
	return r
}
