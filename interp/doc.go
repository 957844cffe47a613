// Package interp evaluates an expression's IR on the host.
//
// The IR is a wasm module exporting its memory. The Wazero interpreter
// copies the scratch allocations of a memmap.Map into a fresh instance,
// points __stack_pointer at the simulated stack, calls the function and
// copies memory back. Failures to start (missing module or function, bad
// arguments, memory that cannot cover the allocations) are reported
// without wrapping ErrInterpretation; use IsSetupError to tell them apart.
package interp
