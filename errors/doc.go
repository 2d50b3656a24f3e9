// Package errors provides structured error types for the wasm-guard library.
//
// Errors are categorized by Phase (where in the governance pipeline the error
// occurred) and Kind (error category). The Error type carries the offending
// subsystem plus numeric context (requested/available bytes, index/limit) so
// callers never have to parse messages.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAllocate, errors.KindBudgetExceeded).
//		Subsystem("decoder").
//		Detail("requested %d bytes", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.BudgetExceeded("decoder", 4096, 128)
//	err := errors.BoundsViolation(5, 3)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when their Phase and Kind agree,
// which is how callers test for a category:
//
//	if errors.Is(err, errors.BudgetExceeded("", 0, 0)) { ... }
package errors
