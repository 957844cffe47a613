// Package remotecall runs compiled expression code inside the target by
// resuming a thread at the code's entry point.
//
// Call validates the plan before touching the process: the entry must be
// a known function taking the given arguments, and the thread's stack
// pointer and register state must be readable. Nothing is run if any of
// that fails. The process's running-expression flag is held only while
// the thread runs and is restored to its previous value afterwards.
//
// When a call is interrupted or hits a breakpoint, Options decides what
// happens to the thread:
//
//	Interrupted   + UnwindOnError     -> thread restored
//	HitBreakpoint + IgnoreBreakpoints -> thread restored
//	HitBreakpoint otherwise           -> thread left stopped, DetachedCall returned
//	Interrupted   otherwise           -> thread left stopped
package remotecall
