package budget

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	wasmguard "github.com/wippyai/wasm-guard"
	"github.com/wippyai/wasm-guard/errors"
	"github.com/wippyai/wasm-guard/monitor"
)

// Budget pairs a subsystem with the maximum bytes it may hold allocated at
// once.
type Budget struct {
	Subsystem wasmguard.SubsystemID
	MaxBytes  uint64
}

// Capability is proof that an allocation was authorized against a budget.
// It is issued only by Context.VerifyAllocation and consumed exactly once
// by Context.Release. The zero value is invalid. Go has no move semantics,
// so unforgeability is enforced by the issuing context: the token is a
// handle plus generation counter that the context invalidates on release,
// and stale or copied tokens are rejected as capability violations.
type Capability struct {
	index      uint32
	generation uint32
	subsystem  wasmguard.SubsystemID
	size       uint64
}

// Subsystem returns the subsystem the capability was issued to.
func (c Capability) Subsystem() wasmguard.SubsystemID { return c.subsystem }

// Size returns the authorized allocation size in bytes.
func (c Capability) Size() uint64 { return c.size }

// Valid reports whether the capability was issued by a context. It does not
// check whether the capability has since been released.
func (c Capability) Valid() bool { return c.generation != 0 }

type budgetEntry struct {
	registered atomic.Bool
	max        atomic.Uint64
	consumed   atomic.Uint64
}

type capEntry struct {
	generation uint32
	subsystem  wasmguard.SubsystemID
	size       uint64
	active     bool
}

// Context owns the registered budgets and issues capabilities. It is safe
// for concurrent use: budget counters are updated with a compare-and-swap
// loop so verification and consumption are one atomic step, and the token
// table is guarded by a short mutex.
type Context struct {
	tier wasmguard.IntegrityTier
	mon  *monitor.Monitor
	log  *zap.Logger

	budgets [wasmguard.NumSubsystems]budgetEntry
	sealed  atomic.Bool

	capMu    sync.Mutex
	caps     []capEntry
	freeList []uint32
}

// Option configures a Context.
type Option func(*Context)

// WithMonitor routes the context's events to m instead of the process-wide
// monitor.
func WithMonitor(m *monitor.Monitor) Option {
	return func(c *Context) { c.mon = m }
}

// WithLogger attaches a logger for registration and violation events.
func WithLogger(log *zap.Logger) Option {
	return func(c *Context) { c.log = log }
}

// NewContext creates a capability context for the given integrity tier.
// The context is process-wide state; create it once at startup.
func NewContext(tier wasmguard.IntegrityTier, opts ...Option) *Context {
	c := &Context{
		tier: tier,
		log:  zap.NewNop(),
		caps: make([]capEntry, 0, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mon == nil {
		c.mon = monitor.Global()
	}
	return c
}

// Tier returns the integrity tier the context was created for.
func (c *Context) Tier() wasmguard.IntegrityTier { return c.tier }

// Register installs a budget for a subsystem. Each subsystem registers at
// most once; a second registration fails with a duplicate-registration
// error, and any registration after Seal fails.
func (c *Context) Register(subsystem wasmguard.SubsystemID, maxBytes uint64) error {
	if !subsystem.Valid() {
		return errors.UnknownSubsystem(errors.PhaseRegister, subsystem.String())
	}
	if c.sealed.Load() {
		return errors.ContextSealed(errors.PhaseRegister)
	}

	entry := &c.budgets[subsystem]
	if !entry.registered.CompareAndSwap(false, true) {
		return errors.DuplicateRegistration(subsystem.String())
	}
	entry.max.Store(maxBytes)

	c.log.Debug("budget registered",
		zap.Stringer("subsystem", subsystem),
		zap.Uint64("max_bytes", maxBytes))
	return nil
}

// Adjust replaces a registered budget limit. Permitted only before Seal and
// only at tiers whose policy allows adjustable budgets; the new limit must
// cover what the subsystem has already consumed.
func (c *Context) Adjust(subsystem wasmguard.SubsystemID, maxBytes uint64) error {
	if !subsystem.Valid() {
		return errors.UnknownSubsystem(errors.PhaseRegister, subsystem.String())
	}
	if !c.tier.Policy().AdjustableBudgets {
		return errors.TierViolation(errors.PhaseRegister, c.tier.String(), "budgets are immutable at this tier")
	}
	if c.sealed.Load() {
		return errors.ContextSealed(errors.PhaseRegister)
	}

	entry := &c.budgets[subsystem]
	if !entry.registered.Load() {
		return errors.UnknownSubsystem(errors.PhaseRegister, subsystem.String())
	}
	if consumed := entry.consumed.Load(); consumed > maxBytes {
		return errors.New(errors.PhaseRegister, errors.KindInvalidConfig).
			Subsystem(subsystem.String()).
			Detail("new limit %d below consumed %d", maxBytes, consumed).
			Build()
	}
	entry.max.Store(maxBytes)

	c.log.Info("budget adjusted",
		zap.Stringer("subsystem", subsystem),
		zap.Uint64("max_bytes", maxBytes))
	return nil
}

// Seal freezes registration. At tiers whose policy forbids dynamic
// allocation after initialization, Seal also ends capability-backed
// allocation. Sealing is irreversible.
func (c *Context) Seal() {
	c.sealed.Store(true)
	c.log.Info("capability context sealed", zap.Stringer("tier", c.tier))
}

// Sealed reports whether the context has been sealed.
func (c *Context) Sealed() bool { return c.sealed.Load() }

// VerifyAllocation checks that subsystem may allocate size bytes and, if
// so, atomically charges its budget and returns a capability bound to
// (subsystem, size). Verification and consumption are a single atomic
// step: two concurrent requests can never jointly overshoot a budget.
func (c *Context) VerifyAllocation(subsystem wasmguard.SubsystemID, size uint64) (Capability, error) {
	policy := c.tier.Policy()
	if !policy.DynamicAllocation {
		c.mon.RecordAllocationFailure(size)
		return Capability{}, errors.TierViolation(errors.PhaseAllocate, c.tier.String(), "dynamic allocation forbidden")
	}
	if c.sealed.Load() && !policy.DynamicAfterSeal {
		c.mon.RecordAllocationFailure(size)
		return Capability{}, errors.TierViolation(errors.PhaseAllocate, c.tier.String(), "allocation after seal forbidden")
	}
	if !subsystem.Valid() {
		c.mon.RecordAllocationFailure(size)
		return Capability{}, errors.UnknownSubsystem(errors.PhaseAllocate, subsystem.String())
	}

	entry := &c.budgets[subsystem]
	if !entry.registered.Load() {
		c.mon.RecordAllocationFailure(size)
		return Capability{}, errors.UnknownSubsystem(errors.PhaseAllocate, subsystem.String())
	}

	for {
		consumed := entry.consumed.Load()
		limit := entry.max.Load()
		// Overflow-safe: consumed+size may wrap for huge requests.
		if size > limit || consumed > limit-size {
			available := limit - consumed
			c.mon.RecordAllocationFailure(size)
			c.mon.RecordBudgetViolation(subsystem, size, available)
			c.log.Warn("budget exceeded",
				zap.Stringer("subsystem", subsystem),
				zap.Uint64("requested", size),
				zap.Uint64("available", available))
			return Capability{}, errors.BudgetExceeded(subsystem.String(), size, available)
		}
		if entry.consumed.CompareAndSwap(consumed, consumed+size) {
			break
		}
	}

	token := c.issue(subsystem, size)
	c.mon.RecordAllocation(size)
	return token, nil
}

// issue records the grant in the token table and mints the capability.
func (c *Context) issue(subsystem wasmguard.SubsystemID, size uint64) Capability {
	c.capMu.Lock()
	defer c.capMu.Unlock()

	var index uint32
	if n := len(c.freeList); n > 0 {
		index = c.freeList[n-1]
		c.freeList = c.freeList[:n-1]
		e := &c.caps[index]
		e.generation++
		e.subsystem = subsystem
		e.size = size
		e.active = true
		return Capability{index: index, generation: e.generation, subsystem: subsystem, size: size}
	}

	index = uint32(len(c.caps))
	c.caps = append(c.caps, capEntry{
		generation: 1,
		subsystem:  subsystem,
		size:       size,
		active:     true,
	})
	return Capability{index: index, generation: 1, subsystem: subsystem, size: size}
}

// Release consumes the capability and credits its size back to the
// subsystem budget. Releasing a capability twice is reported as a
// double-release and never credits the budget again; a token the context
// did not issue is rejected as a capability violation.
func (c *Context) Release(token Capability) error {
	if !token.Valid() {
		c.mon.RecordCapabilityViolation(token.subsystem)
		return errors.CapabilityViolation(token.subsystem.String(), "zero capability")
	}

	c.capMu.Lock()
	if int(token.index) >= len(c.caps) {
		c.capMu.Unlock()
		c.mon.RecordCapabilityViolation(token.subsystem)
		return errors.CapabilityViolation(token.subsystem.String(), "unknown capability handle")
	}
	e := &c.caps[token.index]
	if e.generation != token.generation {
		c.capMu.Unlock()
		c.mon.RecordCapabilityViolation(token.subsystem)
		return errors.CapabilityViolation(token.subsystem.String(), "stale capability generation")
	}
	if !e.active {
		c.capMu.Unlock()
		c.mon.RecordDoubleRelease()
		c.log.Warn("double release", zap.Stringer("subsystem", token.subsystem))
		return errors.DoubleRelease(token.subsystem.String())
	}
	e.active = false
	c.freeList = append(c.freeList, token.index)
	c.capMu.Unlock()

	entry := &c.budgets[token.subsystem]
	entry.consumed.Add(^(token.size - 1))
	c.mon.RecordDeallocation(token.size)
	return nil
}

// Consumed returns the bytes currently charged to the subsystem.
func (c *Context) Consumed(subsystem wasmguard.SubsystemID) uint64 {
	if !subsystem.Valid() {
		return 0
	}
	return c.budgets[subsystem].consumed.Load()
}

// Remaining returns the headroom left in the subsystem's budget.
func (c *Context) Remaining(subsystem wasmguard.SubsystemID) uint64 {
	if !subsystem.Valid() {
		return 0
	}
	entry := &c.budgets[subsystem]
	if !entry.registered.Load() {
		return 0
	}
	limit := entry.max.Load()
	consumed := entry.consumed.Load()
	if consumed > limit {
		return 0
	}
	return limit - consumed
}

// Registered reports whether the subsystem has a budget.
func (c *Context) Registered(subsystem wasmguard.SubsystemID) bool {
	return subsystem.Valid() && c.budgets[subsystem].registered.Load()
}

// Status describes one subsystem's budget at a point in time.
type Status struct {
	Subsystem wasmguard.SubsystemID
	MaxBytes  uint64
	Consumed  uint64
}

// Snapshot returns the status of every registered budget, ordered by
// subsystem ID.
func (c *Context) Snapshot() []Status {
	out := make([]Status, 0, wasmguard.NumSubsystems)
	for i := range c.budgets {
		entry := &c.budgets[i]
		if !entry.registered.Load() {
			continue
		}
		out = append(out, Status{
			Subsystem: wasmguard.SubsystemID(i),
			MaxBytes:  entry.max.Load(),
			Consumed:  entry.consumed.Load(),
		})
	}
	return out
}
