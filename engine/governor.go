package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/budget"
	"github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/fault"
	"github.com/wippyai/wasm-guard/telemetry"
)

// PageSize is the WebAssembly linear memory page size in bytes.
const PageSize = 65536

// DefaultMaxPages caps instance memory at 64 MiB when a module declares
// no maximum of its own.
const DefaultMaxPages = 1024

// Config holds governor tuning.
type Config struct {
	// MaxMemoryPages caps linear memory per instance. Modules without a
	// declared maximum are charged at this ceiling. 0 means
	// DefaultMaxPages.
	MaxMemoryPages uint32
}

// Governor runs wasm modules against a budget context. Every instance's
// declared memory maximum is charged to its subsystem before
// instantiation and credited back on close.
type Governor struct {
	runtime  wazero.Runtime
	budgets  *budget.Context
	det      *fault.Detector
	maxPages uint32
}

// Option configures a Governor.
type Option func(*Governor)

// WithConfig applies governor tuning.
func WithConfig(cfg Config) Option {
	return func(g *Governor) {
		if cfg.MaxMemoryPages > 0 {
			g.maxPages = cfg.MaxMemoryPages
		}
	}
}

// WithDetector routes engine faults through det instead of a default
// log-only detector.
func WithDetector(det *fault.Detector) Option {
	return func(g *Governor) { g.det = det }
}

// NewGovernor creates a governor over a fresh wazero runtime.
func NewGovernor(ctx context.Context, budgets *budget.Context, opts ...Option) (*Governor, error) {
	if budgets == nil {
		return nil, errors.InvalidConfig("governor requires a budget context", nil)
	}
	g := &Governor{
		budgets:  budgets,
		maxPages: DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.det == nil {
		g.det = fault.New(fault.LogOnly, fault.WithLogger(Logger()))
	}

	cfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(g.maxPages)
	g.runtime = wazero.NewRuntimeWithConfig(ctx, cfg)
	return g, nil
}

// Detector returns the fault detector engine traps are routed through.
func (g *Governor) Detector() *fault.Detector { return g.det }

// Close tears down the underlying runtime. Modules still open are closed
// by wazero; their budget reservations should be released first via
// Module.Close.
func (g *Governor) Close(ctx context.Context) error {
	return g.runtime.Close(ctx)
}

// reservation computes the bytes to charge for a module: each memory is
// charged at its declared maximum, clamped to the governor's page limit,
// or at the page limit when no maximum is declared.
func (g *Governor) reservation(limits []memoryLimits) uint64 {
	var total uint64
	for _, lim := range limits {
		pages := g.maxPages
		if lim.hasMax && lim.maxPages < pages {
			pages = lim.maxPages
		}
		total += uint64(pages) * PageSize
	}
	return total
}

// Load compiles and instantiates a wasm module on behalf of subsystem.
// The module's declared memory maxima are charged to the subsystem's
// budget first; if the budget cannot cover them the module is never
// instantiated.
func (g *Governor) Load(ctx context.Context, subsystem wasmguard.SubsystemID, wasmBytes []byte) (*Module, error) {
	limits, err := scanMemoryLimits(wasmBytes)
	if err != nil {
		return nil, err
	}
	reserved := g.reservation(limits)

	var token budget.Capability
	if reserved > 0 {
		token, err = g.budgets.VerifyAllocation(subsystem, reserved)
		if err != nil {
			g.det.Telemetry().Record(telemetry.Event{
				Category:  telemetry.CategoryBudget,
				Severity:  telemetry.SeverityError,
				Subsystem: subsystem,
				Message:   err.Error(),
			})
			return nil, err
		}
	}

	release := func() {
		if reserved > 0 {
			if rerr := g.budgets.Release(token); rerr != nil {
				Logger().Warn("release after failed load", zap.Error(rerr))
			}
		}
	}

	compiled, err := g.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		release()
		return nil, errors.Wrap(errors.PhaseRun, errors.KindStructural, err, "compile module")
	}

	// Anonymous module names avoid namespace collisions when one
	// subsystem instantiates more than once.
	instance, err := g.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = compiled.Close(ctx)
		release()
		return nil, errors.Wrap(errors.PhaseRun, errors.KindStructural, err, "instantiate module")
	}

	g.det.Telemetry().Record(telemetry.Event{
		Category:  telemetry.CategoryLifecycle,
		Severity:  telemetry.SeverityInfo,
		Subsystem: subsystem,
		Message:   "module instantiated",
	})
	Logger().Info("module instantiated",
		zap.Stringer("subsystem", subsystem),
		zap.Uint64("reserved_bytes", reserved))

	return &Module{
		gov:       g,
		compiled:  compiled,
		instance:  instance,
		subsystem: subsystem,
		token:     token,
		reserved:  reserved,
	}, nil
}

// Module is one governed wasm instance.
type Module struct {
	gov       *Governor
	compiled  wazero.CompiledModule
	instance  api.Module
	subsystem wasmguard.SubsystemID
	token     budget.Capability
	reserved  uint64
	closed    atomic.Bool
}

// Subsystem returns the budget owner of this instance.
func (m *Module) Subsystem() wasmguard.SubsystemID { return m.subsystem }

// Reserved returns the bytes charged for this instance's linear memory.
func (m *Module) Reserved() uint64 { return m.reserved }

// Call invokes an exported function. Traps are classified and routed
// through the governor's fault detector before the error is returned.
func (m *Module) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if m.closed.Load() {
		return nil, errors.UseAfterFree(m.subsystem.String())
	}
	fn := m.instance.ExportedFunction(name)
	if fn == nil {
		return nil, errors.Structural("no exported function %q", name)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, m.reportTrap(name, err)
	}
	return results, nil
}

// Memory returns the instance's exported linear memory, if any.
func (m *Module) Memory() api.Memory {
	return m.instance.Memory()
}

// Trap phrases as wazero's runtime emits them. Matching anything looser
// would misclassify guest-produced error text as a memory-safety fault.
const (
	trapOutOfBounds   = "wasm error: out of bounds memory access"
	trapStackOverflow = "wasm error: stack overflow"
	trapInvalidTable  = "wasm error: invalid table access"
)

// classifyTrap maps a wazero trap message to a fault type. An invalid
// table access is a null function reference in call_indirect, the closest
// wasm analogue of a null-pointer dereference. Traps that do not indicate
// a memory-safety fault report no type.
func classifyTrap(msg string) (fault.Type, bool) {
	switch {
	case strings.Contains(msg, trapOutOfBounds):
		return fault.TypeBoundsViolation, true
	case strings.Contains(msg, trapStackOverflow):
		return fault.TypeStackOverflow, true
	case strings.Contains(msg, trapInvalidTable):
		return fault.TypeNullPointer, true
	}
	return 0, false
}

// reportTrap routes a classified trap through the fault detector, so
// guest-level violations update the same health state as host-level ones.
func (m *Module) reportTrap(name string, err error) error {
	fctx := fault.Context{Subsystem: m.subsystem, Op: fault.OpRead}
	if ft, ok := classifyTrap(err.Error()); ok {
		_ = m.gov.det.ReportFault(ft, fctx)
	} else {
		m.gov.det.Telemetry().Record(telemetry.Event{
			Category:  telemetry.CategoryFault,
			Severity:  telemetry.SeverityError,
			Subsystem: m.subsystem,
			Message:   err.Error(),
		})
	}
	return errors.Wrap(errors.PhaseRun, errors.KindStructural, err, fmt.Sprintf("call %q", name))
}

// Close shuts the instance down and credits the reserved bytes back to
// the subsystem budget. Closing twice is a double release.
func (m *Module) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return errors.DoubleRelease(m.subsystem.String())
	}
	err := m.instance.Close(ctx)
	if cerr := m.compiled.Close(ctx); err == nil {
		err = cerr
	}
	if m.reserved > 0 {
		if rerr := m.gov.budgets.Release(m.token); err == nil {
			err = rerr
		}
	}
	return err
}
