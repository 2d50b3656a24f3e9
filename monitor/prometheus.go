package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// newDesc creates a metric descriptor in the wasmguard/safety namespace.
func newDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName("wasmguard", "safety", name),
		help, nil, nil,
	)
}

// collector adapts a Monitor into a prometheus.Collector. All metrics are
// produced from a single Report snapshot so scrapes are internally
// consistent.
type collector struct {
	mon *Monitor

	allocationsTotal     *prometheus.Desc
	allocationFailures   *prometheus.Desc
	budgetViolations     *prometheus.Desc
	capabilityViolations *prometheus.Desc
	doubleReleases       *prometheus.Desc
	fatalErrors          *prometheus.Desc
	currentBytes         *prometheus.Desc
	peakBytes            *prometheus.Desc
	healthScore          *prometheus.Desc
}

// Collector returns a prometheus.Collector view of the monitor. Register it
// with any prometheus.Registerer; collection reads a snapshot and never
// mutates monitor state.
func Collector(m *Monitor) prometheus.Collector {
	return &collector{
		mon:                  m,
		allocationsTotal:     newDesc("allocations_total", "Total memory allocations attempted."),
		allocationFailures:   newDesc("allocation_failures_total", "Allocations that could not be satisfied."),
		budgetViolations:     newDesc("budget_violations_total", "Requests that would have overshot a subsystem budget."),
		capabilityViolations: newDesc("capability_violations_total", "Forged, stale or foreign capability uses."),
		doubleReleases:       newDesc("double_releases_total", "Attempts to release a capability twice."),
		fatalErrors:          newDesc("fatal_errors_total", "Unrecoverable failures."),
		currentBytes:         newDesc("memory_bytes", "Currently allocated bytes across all subsystems."),
		peakBytes:            newDesc("memory_peak_bytes", "High watermark of allocated bytes."),
		healthScore:          newDesc("health_score", "Derived 0-100 system health score."),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocationsTotal
	ch <- c.allocationFailures
	ch <- c.budgetViolations
	ch <- c.capabilityViolations
	ch <- c.doubleReleases
	ch <- c.fatalErrors
	ch <- c.currentBytes
	ch <- c.peakBytes
	ch <- c.healthScore
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	r := c.mon.Report()

	ch <- prometheus.MustNewConstMetric(c.allocationsTotal, prometheus.CounterValue, float64(r.TotalAllocations))
	ch <- prometheus.MustNewConstMetric(c.allocationFailures, prometheus.CounterValue, float64(r.FailedAllocations))
	ch <- prometheus.MustNewConstMetric(c.budgetViolations, prometheus.CounterValue, float64(r.BudgetViolations))
	ch <- prometheus.MustNewConstMetric(c.capabilityViolations, prometheus.CounterValue, float64(r.CapabilityViolations))
	ch <- prometheus.MustNewConstMetric(c.doubleReleases, prometheus.CounterValue, float64(r.DoubleReleases))
	ch <- prometheus.MustNewConstMetric(c.fatalErrors, prometheus.CounterValue, float64(r.FatalErrors))
	ch <- prometheus.MustNewConstMetric(c.currentBytes, prometheus.GaugeValue, float64(r.CurrentBytes))
	ch <- prometheus.MustNewConstMetric(c.peakBytes, prometheus.GaugeValue, float64(r.PeakBytes))
	ch <- prometheus.MustNewConstMetric(c.healthScore, prometheus.GaugeValue, float64(r.HealthScore))
}
