// Package materializer packs debugger variables into the argument struct
// an expression receives and unpacks the struct after the expression ran.
//
// A Layout places each binding at an offset: by-value bindings are copied
// into the struct, by-reference bindings and the result are stored as
// pointers. Materialize returns a Dematerializer handle that must be used
// exactly once:
//
//	d, err := m.Materialize(frame, mem, structAddr)
//	...run the expression...
//	res, err := d.Dematerialize(stackBottom, stackTop) // or d.Restore() / d.Discard()
//
// Using a handle twice fails with errors.ErrHandleConsumed.
package materializer
