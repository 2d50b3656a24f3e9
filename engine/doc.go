// Package engine runs WebAssembly modules under memory governance.
//
// A Governor wraps a wazero runtime and a budget context. Loading a module
// scans its declared linear-memory limits, charges the owning subsystem's
// budget for the declared maximum before instantiation, and credits the
// budget back when the module is closed. Traps observed during calls are
// routed through the fault detector so engine-level violations land in the
// same monitor and telemetry state as container-level ones.
package engine
