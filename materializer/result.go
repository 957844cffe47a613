package materializer

import (
	"fmt"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
)

// ResultVariable holds the value an expression produced.
type ResultVariable struct {
	Type wit.Type
	mem  Memory
	Name string
	Data []byte
	// Address is where the value lives, or dbgexpr.InvalidAddress when it
	// was copied out of a stack that no longer exists.
	Address     uint64
	LiveAddress bool
	owned       bool
}

// Value decodes Data according to Type.
func (r *ResultVariable) Value() (any, error) {
	return Decode(r.Type, r.Data)
}

// TransferAddress hands the result storage to the caller: it outlives the
// scratch memory it was allocated from. Calling it again returns the same
// address.
func (r *ResultVariable) TransferAddress() (uint64, error) {
	if !r.LiveAddress {
		return dbgexpr.InvalidAddress, errors.New(errors.PhaseFinalize, errors.KindInvalidState).
			Path(r.Name).
			Detail("result has no live address").
			Build()
	}
	if r.owned {
		if err := r.mem.Leak(r.Address); err != nil {
			return dbgexpr.InvalidAddress, errors.Wrap(errors.PhaseFinalize, errors.KindAllocation, err, "transfer result storage")
		}
		r.owned = false
	}
	return r.Address, nil
}

func (r *ResultVariable) String() string {
	v, err := r.Value()
	if err != nil {
		return fmt.Sprintf("%s = %x", r.Name, r.Data)
	}
	return fmt.Sprintf("%s = %v", r.Name, v)
}
