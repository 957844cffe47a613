package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which step of an evaluation produced the error
type Phase string

const (
	PhasePrepare     Phase = "prepare"     // context validation, struct/stack setup
	PhaseAllocate    Phase = "allocate"    // scratch memory
	PhaseMaterialize Phase = "materialize" // packing bindings
	PhaseExecute     Phase = "execute"     // remote call inside the target
	PhaseInterpret   Phase = "interpret"   // host-side IR evaluation
	PhaseFinalize    Phase = "finalize"    // dematerialization
	PhaseRegistry    Phase = "registry"    // compiled-unit images
	PhaseTarget      Phase = "target"      // process-control backend
	PhaseConfig      Phase = "config"      // configuration and fixtures
)

// Kind categorizes the error
type Kind string

const (
	KindStaleContext    Kind = "stale_context"
	KindAllocation      Kind = "allocation"
	KindNoThread        Kind = "no_thread"
	KindInvalidPlan     Kind = "invalid_plan"
	KindMissingFunction Kind = "missing_function"
	KindHandleConsumed  Kind = "handle_consumed"
	KindHandleLive      Kind = "handle_live"
	KindInvalidState    Kind = "invalid_state"
	KindOutOfBounds     Kind = "out_of_bounds"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidData     Kind = "invalid_data"
	KindInterrupted     Kind = "interrupted"
	KindUnsupported     Kind = "unsupported"
	KindNotInitialized  Kind = "not_initialized"
)

// Sentinels for errors.Is checks. Matching is by phase and kind.
var (
	ErrStaleContext   = &Error{Phase: PhasePrepare, Kind: KindStaleContext}
	ErrHandleConsumed = &Error{Phase: PhaseFinalize, Kind: KindHandleConsumed}
	ErrHandleLive     = &Error{Phase: PhaseMaterialize, Kind: KindHandleLive}
	ErrNoThread       = &Error{Phase: PhaseExecute, Kind: KindNoThread}
)

// Error is the structured error type used throughout the engine
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the binding or field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// AllocationFailed creates an allocation failure error
func AllocationFailed(size, align uint64, cause error) *Error {
	return &Error{
		Phase:  PhaseAllocate,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// StaleContext creates an error for an execution context that changed since binding
func StaleContext(detail string) *Error {
	return &Error{
		Phase:  PhasePrepare,
		Kind:   KindStaleContext,
		Detail: detail,
	}
}

// HandleConsumed creates an error for reuse of a finalized dematerializer
func HandleConsumed(op string) *Error {
	return &Error{
		Phase:  PhaseFinalize,
		Kind:   KindHandleConsumed,
		Detail: fmt.Sprintf("%s on a dematerializer that was already consumed", op),
	}
}

// InvalidState creates an error for a transition the state machine rejects
func InvalidState(phase Phase, from, to string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(phase Phase, addr, size uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("access of %d bytes at 0x%x is out of bounds", size, addr),
		Value:  addr,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// NotInitialized creates a not-initialized error for a missing collaborator
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// PhaseOf returns the phase of the first *Error in err's chain.
func PhaseOf(err error) (Phase, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Phase, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
