package interp

import (
	"context"

	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/memmap"
	"github.com/wippyai/dbgexpr/target"
)

// Module is the portable IR of a compiled expression: a wasm module that
// exports its memory as "memory".
type Module struct {
	Name   string
	Binary []byte
}

// Request is one host-side evaluation.
type Request struct {
	Module   *Module
	Memory   *memmap.Map
	Context  *target.Context
	Function string
	// Args are passed in order; the last one is the argument struct address.
	Args        []uint64
	StackBottom uint64
	StackTop    uint64
}

// Interpreter evaluates IR on the host against a memory map.
type Interpreter interface {
	Interpret(ctx context.Context, req *Request) error
}

// ErrInterpretation matches failures that happened while the IR ran, as
// opposed to failures to start it.
var ErrInterpretation = &errors.Error{Phase: errors.PhaseInterpret, Kind: errors.KindInterrupted}

// IsSetupError reports whether err means the IR never started running.
func IsSetupError(err error) bool {
	return err != nil && !errors.Is(err, ErrInterpretation)
}

func validate(req *Request) error {
	if req == nil || req.Module == nil || len(req.Module.Binary) == 0 {
		return errors.New(errors.PhaseInterpret, errors.KindMissingFunction).
			Detail("no IR module").
			Build()
	}
	if req.Function == "" {
		return errors.New(errors.PhaseInterpret, errors.KindMissingFunction).
			Path(req.Module.Name).
			Detail("no function name").
			Build()
	}
	if req.Memory == nil {
		return errors.NotInitialized(errors.PhaseInterpret, "memory map")
	}
	if req.StackTop < req.StackBottom {
		return errors.InvalidInput(errors.PhaseInterpret, "stack top below stack bottom")
	}
	return nil
}
