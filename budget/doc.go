// Package budget enforces per-subsystem memory budgets through unforgeable
// capability tokens.
//
// A Context holds one budget per subsystem. VerifyAllocation charges the
// requested size against the subsystem's budget in a single atomic step and
// returns a Capability proving the allocation was authorized; Release
// credits the budget back exactly once. Capabilities are handle+generation
// tokens validated by the issuing context, so a stale, forged or
// double-released token is always rejected as a capability violation and
// never double-credits a budget.
//
// Budget tables can be registered programmatically, from a built-in profile,
// or loaded from a YAML file validated against per-subsystem ranges and a
// global ceiling. At integrity tiers C and D the context seals after
// initialization; tier QM additionally supports live reload of the budget
// table via Watch.
//
// Every allocation, failure and violation is recorded in the safety
// monitor; the context never blocks and never panics on violation.
package budget
