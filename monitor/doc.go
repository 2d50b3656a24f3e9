// Package monitor provides the process-wide safety monitor: allocation and
// violation counters plus a derived 0-100 health score.
//
// The monitor is shared state created once at process start and accessed
// through Global(). Every record method runs under a short critical section
// and unconditionally succeeds; monitoring must never itself fail or block
// a safety-critical path. The health score is computed on read, never
// stored.
//
// Collector() adapts a Monitor into a prometheus.Collector so diagnostics
// tooling can scrape the same counters the health score is derived from.
package monitor
