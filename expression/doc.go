// Package expression runs a compiled debugger expression against a stopped
// target.
//
// A UserExpression is bound to the target and process it was created for.
// Each Execute validates the execution context, materializes the bindings
// into the argument struct, then either interprets the IR host-side or
// calls the JIT code through remotecall, and finally writes changed
// variables back and extracts the result variable.
//
// Outcomes other than Completed leave the expression Prepared or Aborted,
// and it can be executed again. Teardown is final.
package expression
