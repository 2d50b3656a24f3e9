// Package telemetry provides an append-only, bounded log of
// safety-relevant events for external diagnostics.
//
// Events go into a fixed-capacity ring: recording never allocates beyond
// the event value and never blocks, and once the ring is full the oldest
// entry is overwritten. Losing old telemetry is preferable to blocking a
// safety-critical path.
//
// Drain produces a one-shot sequence of the buffered events in arrival
// order and clears them; an external collector is expected to call it
// periodically. Ordering across concurrent producers is best-effort:
// timestamps give relative order, a strict total order is not guaranteed.
package telemetry
