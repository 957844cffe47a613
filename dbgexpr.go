package dbgexpr

import (
	"math"
	"time"
)

// InvalidAddress marks an address that has not been resolved or allocated.
const InvalidAddress uint64 = math.MaxUint64

// Memory is byte-addressable memory of a target or of a host-side mirror.
type Memory interface {
	ReadMemory(addr uint64, size uint64) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error
}

// Allocator reserves memory inside a live target process.
type Allocator interface {
	AllocateMemory(size uint64, perms Permissions) (uint64, error)
	DeallocateMemory(addr uint64) error
}

// Permissions describes access rights of an allocation.
type Permissions uint8

const (
	PermReadable Permissions = 1 << iota
	PermWritable
	PermExecutable
)

// PermReadWrite is the permission set used for data the engine writes.
const PermReadWrite = PermReadable | PermWritable

func (p Permissions) String() string {
	b := []byte("---")
	if p&PermReadable != 0 {
		b[0] = 'r'
	}
	if p&PermWritable != 0 {
		b[1] = 'w'
	}
	if p&PermExecutable != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// Outcome is the terminal state of one execution attempt.
type Outcome int

const (
	Completed Outcome = iota
	SetupError
	Interrupted
	HitBreakpoint
	StoppedForDebug
	Discarded
	ResultUnavailable
)

var outcomeNames = [...]string{
	Completed:         "completed",
	SetupError:        "setup-error",
	Interrupted:       "interrupted",
	HitBreakpoint:     "hit-breakpoint",
	StoppedForDebug:   "stopped-for-debug",
	Discarded:         "discarded",
	ResultUnavailable: "result-unavailable",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Options are the caller's recovery knobs for one evaluation.
type Options struct {
	// UnwindOnError restores the target to its pre-call state when the
	// call is interrupted.
	UnwindOnError bool

	// IgnoreBreakpoints restores the target to its pre-call state when the
	// call stops at a breakpoint, instead of leaving the thread there.
	IgnoreBreakpoints bool

	// Debug halts the call at the first instruction of the expression.
	Debug bool

	// Timeout bounds the remote call. 0 means wait until the call stops.
	Timeout time.Duration
}

// DefaultOptions returns the options used by interactive evaluation.
func DefaultOptions() Options {
	return Options{UnwindOnError: true}
}
