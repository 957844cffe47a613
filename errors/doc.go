// Package errors provides structured error types for the expression engine.
//
// Errors are categorized by Phase (which evaluation step failed) and Kind
// (error category). The phase is what the user-facing diagnostic uses to say
// whether preparation, materialization, execution or finalization failed.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMaterialize, errors.KindInvalidData).
//		Path("counter").
//		Detail("variable holds %d bytes, field needs %d", 2, 4).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AllocationFailed(size, align, cause)
//	err := errors.StaleContext("target changed")
//
// All errors implement the standard error interface and support errors.Is/As.
// Is matches on phase and kind, so the exported sentinels work as targets:
//
//	if errors.Is(err, errors.ErrHandleConsumed) { ... }
package errors
