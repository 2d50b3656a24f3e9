// Package wasmguard provides the memory-governance core of a safety-critical
// WebAssembly runtime: capability-gated allocation against per-subsystem
// budgets, bounded containers with tunable verification, a process-wide
// safety monitor, fault classification with configurable response, and a
// bounded telemetry log.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmguard/           Root package with subsystem, tier and verification enums
//	├── budget/          Subsystem budget registry, capability context and tokens
//	├── memory/          Fixed-size providers (static or capability-backed)
//	├── bounded/         Fixed-capacity vector, stack and map over a provider
//	├── monitor/         Process-wide safety counters and health scoring
//	├── fault/           Fault classification and response policy
//	├── telemetry/       Bounded ring of safety-relevant events
//	├── engine/          wazero governor charging guest memory to budgets
//	└── errors/          Structured error types for the safety taxonomy
//
// # Quick Start
//
// Register a budget, allocate against it, and build a bounded container:
//
//	ctx := budget.NewContext(wasmguard.TierB)
//	ctx.Register(wasmguard.SubsystemDecoder, 64*1024)
//
//	prov, err := memory.CapabilityBacked(ctx, wasmguard.SubsystemDecoder, 4096)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer prov.Release()
//
//	vec, _ := bounded.NewVec[uint32](prov, 256, bounded.WithLevel(wasmguard.VerifyStandard))
//	vec.Push(42)
//
// # Integrity Tiers
//
// Every deployment selects an integrity tier (QM, A, B, C, D). The tier
// fixes the default verification level and whether new capability-backed
// allocation is permitted after the context is sealed. Tier D forbids
// dynamic allocation entirely; only statically backed providers work there.
//
// # Failure Model
//
// All violations are returned as errors, never panics. Detection is always
// recorded in the safety monitor and telemetry ring regardless of the
// configured fault response mode; reaction (log, degrade, halt) is a
// separate policy decision.
package wasmguard
