package monitor

import (
	"sync"

	wasmguard "github.com/wippyai/wasm-guard"
)

// DefaultHealthThreshold is the score below which Healthy() reports false.
// Integrity tiers may tighten it via SetHealthThreshold.
const DefaultHealthThreshold = 80

// errorRateWindow is the operation count after which the recent error
// counter resets.
const errorRateWindow = 1000

// Monitor tracks safety-critical metrics during runtime execution. All
// methods are safe for concurrent use; the critical section is a handful of
// counter updates and is never held across a call that could fault or
// allocate.
type Monitor struct {
	mu sync.Mutex

	totalAllocations     uint64
	failedAllocations    uint64
	budgetViolations     uint64
	capabilityViolations uint64
	doubleReleases       uint64
	fatalErrors          uint64

	currentBytes   uint64
	peakBytes      uint64
	peakAllocation uint64

	recentErrors   uint32
	operationCount uint64

	healthThreshold uint8
}

// New creates a monitor with the default health threshold. Most callers
// should use Global() instead; New exists for tests and for embedders that
// run multiple isolated runtimes in one process.
func New() *Monitor {
	return &Monitor{healthThreshold: DefaultHealthThreshold}
}

var (
	global     *Monitor
	globalOnce sync.Once
)

// Global returns the process-wide monitor, creating it on first use. This
// is the only supported way to reach shared monitoring state; no direct
// reference to the instance's fields leaves the package.
func Global() *Monitor {
	globalOnce.Do(func() {
		global = New()
	})
	return global
}

// RecordAllocation records a successful allocation of size bytes.
func (m *Monitor) RecordAllocation(size uint64) {
	m.mu.Lock()
	m.totalAllocations++
	m.currentBytes += size
	if size > m.peakAllocation {
		m.peakAllocation = size
	}
	if m.currentBytes > m.peakBytes {
		m.peakBytes = m.currentBytes
	}
	m.operationCount++
	m.mu.Unlock()
}

// RecordDeallocation records size bytes being returned.
func (m *Monitor) RecordDeallocation(size uint64) {
	m.mu.Lock()
	if size > m.currentBytes {
		m.currentBytes = 0
	} else {
		m.currentBytes -= size
	}
	m.operationCount++
	m.mu.Unlock()
}

// RecordAllocationFailure records an allocation that could not be satisfied.
func (m *Monitor) RecordAllocationFailure(size uint64) {
	m.mu.Lock()
	m.failedAllocations++
	m.noteError()
	m.mu.Unlock()
}

// RecordBudgetViolation records a request that would have overshot the
// subsystem's budget.
func (m *Monitor) RecordBudgetViolation(subsystem wasmguard.SubsystemID, requested, available uint64) {
	m.mu.Lock()
	m.budgetViolations++
	m.noteError()
	m.mu.Unlock()
}

// RecordCapabilityViolation records use of a forged, stale or foreign
// capability.
func (m *Monitor) RecordCapabilityViolation(subsystem wasmguard.SubsystemID) {
	m.mu.Lock()
	m.capabilityViolations++
	m.noteError()
	m.mu.Unlock()
}

// RecordDoubleRelease records an attempt to release a capability twice.
func (m *Monitor) RecordDoubleRelease() {
	m.mu.Lock()
	m.doubleReleases++
	m.capabilityViolations++
	m.noteError()
	m.mu.Unlock()
}

// RecordFatalError records an unrecoverable failure. Any fatal error caps
// the health score at 50.
func (m *Monitor) RecordFatalError() {
	m.mu.Lock()
	m.fatalErrors++
	m.noteError()
	m.mu.Unlock()
}

// noteError bumps the rolling error-rate window. Callers hold mu.
func (m *Monitor) noteError() {
	m.recentErrors++
	m.operationCount++
	if m.operationCount%errorRateWindow == 0 {
		m.recentErrors = 0
	}
}

// HealthScore computes the current 0-100 system health score:
// deductions of up to 40 points for allocation failures and up to 30 each
// for budget and capability violations, all as percentages of total
// allocations; any fatal error clamps the score to 50.
func (m *Monitor) HealthScore() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthScoreLocked()
}

func (m *Monitor) healthScoreLocked() uint8 {
	total := m.totalAllocations
	if total == 0 {
		total = 1
	}

	failureRate := min(m.failedAllocations*100/total, 40)
	violationRate := min(m.budgetViolations*100/total, 30)
	capabilityRate := min(m.capabilityViolations*100/total, 30)

	score := uint64(100)
	score -= failureRate
	score -= violationRate
	score -= capabilityRate

	if m.fatalErrors > 0 && score > 50 {
		score = 50
	}

	return uint8(score)
}

// Healthy reports whether the health score meets the configured threshold.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthScoreLocked() >= m.healthThreshold
}

// SetHealthThreshold overrides the score required for Healthy. Intended to
// be called once during initialization from tier configuration.
func (m *Monitor) SetHealthThreshold(threshold uint8) {
	m.mu.Lock()
	m.healthThreshold = threshold
	m.mu.Unlock()
}

// CriticalViolations returns the combined count of budget violations,
// capability violations and fatal errors.
func (m *Monitor) CriticalViolations() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.budgetViolations + m.capabilityViolations + m.fatalErrors
}

// Report returns a point-in-time snapshot of all counters.
func (m *Monitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Report{
		TotalAllocations:     m.totalAllocations,
		FailedAllocations:    m.failedAllocations,
		BudgetViolations:     m.budgetViolations,
		CapabilityViolations: m.capabilityViolations,
		DoubleReleases:       m.doubleReleases,
		FatalErrors:          m.fatalErrors,
		CurrentBytes:         m.currentBytes,
		PeakBytes:            m.peakBytes,
		PeakAllocation:       m.peakAllocation,
		ErrorRatePer1000:     m.recentErrors,
		HealthScore:          m.healthScoreLocked(),
	}
}

// Reset zeroes all counters. Test hook; production code never resets the
// monitor.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.totalAllocations = 0
	m.failedAllocations = 0
	m.budgetViolations = 0
	m.capabilityViolations = 0
	m.doubleReleases = 0
	m.fatalErrors = 0
	m.currentBytes = 0
	m.peakBytes = 0
	m.peakAllocation = 0
	m.recentErrors = 0
	m.operationCount = 0
	m.mu.Unlock()
}

// Report is a snapshot of the monitor's counters and derived health score.
type Report struct {
	TotalAllocations     uint64
	FailedAllocations    uint64
	BudgetViolations     uint64
	CapabilityViolations uint64
	DoubleReleases       uint64
	FatalErrors          uint64
	CurrentBytes         uint64
	PeakBytes            uint64
	PeakAllocation       uint64
	ErrorRatePer1000     uint32
	HealthScore          uint8
}
