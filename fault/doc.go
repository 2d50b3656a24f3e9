// Package fault classifies detected memory anomalies into typed faults and
// applies a configured response policy.
//
// A Detector is stateless per call. Each Check method evaluates one
// condition; on violation it records the fault in the safety monitor and
// the telemetry ring, then reacts according to the detector's Mode:
// LogOnly returns the error, GracefulDegradation additionally runs
// registered recovery hooks, HaltOnFault invokes the configured halt
// function and does not return. Detection is always recorded regardless of
// mode, so "detect" is decoupled from "react".
package fault
