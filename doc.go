// Package dbgexpr is the execution engine of a debugger's expression evaluator.
//
// Given an expression that an external compiler already lowered into an
// intermediate representation (and optionally into machine code loaded into
// the target), the engine decides how to run it, marshals the debugger
// variables it references into memory, runs it and reconciles the results.
//
// # Architecture Overview
//
//	dbgexpr/             Outcome taxonomy, Options, Memory and Allocator interfaces
//	├── expression/      Dispatcher: UserExpression state machine
//	├── remotecall/      Runs the JIT entry point inside the stopped target
//	├── interp/          Runs the IR on the host (wazero interpreter engine)
//	├── materializer/    Packs variables into the argument struct and back
//	├── memmap/          Host-only and mirrored scratch allocations
//	├── registry/        Arena of compiled-unit images owned by the target
//	├── target/          Process-control and variable collaborator interfaces
//	│   └── wasmproc/    wazero-backed target used by the CLI and tests
//	├── config/          Viper configuration and YAML binding fixtures
//	├── errors/          Structured error types
//	└── cmd/exprrun/     Command line front end
//
// # Execution Flow
//
//  1. expression.New binds the execution context snapshot.
//  2. UserExpression.Execute re-validates the snapshot, allocates the argument
//     struct (host-only when interpreting, mirrored otherwise) and materializes
//     the variable bindings into it.
//  3. The IR is interpreted on the host, or the entry point is called inside the
//     target through a call plan.
//  4. On Completed, the dematerializer writes mutations back and produces the
//     result variable.
//
// # Outcomes
//
//	Completed          result available
//	SetupError         nothing ran
//	Discarded          interpretation started and failed
//	Interrupted        remote call stopped early (signal, trap, timeout)
//	HitBreakpoint      remote call stopped at a breakpoint
//	StoppedForDebug    remote call halted at its first instruction on request
//	ResultUnavailable  call succeeded, writing side effects back failed
//
// # Thread Safety
//
// UserExpression serializes its own operations. memmap.Map,
// registry.Registry and the wasmproc target are safe for concurrent use
// because the rest of the debugger shares them.
package dbgexpr
