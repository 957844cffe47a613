package remotecall

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/target"
)

// DefaultRedZone is the space left below the thread's stack pointer
// before the call's frame.
const DefaultRedZone = 128

const stackAlign = 16

// Coordinator runs compiled code inside the target by resuming a thread.
type Coordinator struct {
	// RedZone overrides DefaultRedZone when non-zero.
	RedZone uint64
}

// New returns a coordinator with default settings.
func New() *Coordinator {
	return &Coordinator{}
}

// CallResult describes how a remote call ended.
type CallResult struct {
	Stop     *target.StopInfo
	Detached *DetachedCall
	// Err carries the user-facing diagnostic for every outcome but Completed.
	Err     error
	Outcome dbgexpr.Outcome
	// StackBottom and StackTop bound the stack the call ran on.
	StackBottom uint64
	StackTop    uint64
	// Restored is true only if the thread was put back to its state
	// before the call.
	Restored bool
}

// Call runs the code at entry with args on the context's thread.
func (c *Coordinator) Call(ctx context.Context, exe *target.Context, entry uint64, args []uint64, opts dbgexpr.Options) *CallResult {
	if exe == nil || exe.Thread == nil {
		return &CallResult{
			Outcome: dbgexpr.SetupError,
			Err: errors.New(errors.PhaseExecute, errors.KindNoThread).
				Detail("expression executed with no thread selected").
				Build(),
		}
	}
	if exe.Process == nil || !exe.Process.Alive() {
		return &CallResult{
			Outcome: dbgexpr.SetupError,
			Err:     errors.NotInitialized(errors.PhaseExecute, "live process"),
		}
	}

	plan, bottom, top, err := c.buildPlan(exe, entry, args, opts)
	if err != nil {
		return &CallResult{Outcome: dbgexpr.SetupError, Err: err}
	}

	res := &CallResult{StackBottom: bottom, StackTop: top}
	res.Outcome, res.Stop = run(ctx, exe.Process, plan)

	Logger().Debug("remote call returned",
		zap.Uint64("thread", exe.Thread.ID()),
		zap.String("entry", fmt.Sprintf("0x%x", entry)),
		zap.Stringer("outcome", res.Outcome))

	switch res.Outcome {
	case dbgexpr.Completed:
		return res

	case dbgexpr.Interrupted, dbgexpr.HitBreakpoint:
		restorable := (res.Outcome == dbgexpr.Interrupted && opts.UnwindOnError) ||
			(res.Outcome == dbgexpr.HitBreakpoint && opts.IgnoreBreakpoints)

		msg := "Execution was interrupted"
		if res.Stop != nil && res.Stop.Description != "" {
			msg += ", reason: " + res.Stop.Description
		}
		msg += "."

		if restorable {
			if err := exe.Thread.RestoreState(plan.Checkpoint); err != nil {
				res.Err = errors.Wrap(errors.PhaseExecute, errors.KindInterrupted, err,
					msg+"\nThe process could not be returned to the state before expression evaluation.")
				return res
			}
			res.Restored = true
			res.Err = errors.New(errors.PhaseExecute, errors.KindInterrupted).
				Detail("%s\nThe process has been returned to the state before expression evaluation.", msg).
				Build()
			return res
		}

		res.Err = errors.New(errors.PhaseExecute, errors.KindInterrupted).
			Detail("%s\nThe process has been left at the point where it was interrupted, "+
				"use \"thread return -x\" to return to the state before expression evaluation.", msg).
			Build()
		if res.Outcome == dbgexpr.HitBreakpoint {
			res.Detached = newDetachedCall(plan)
		}
		return res

	case dbgexpr.StoppedForDebug:
		res.Err = errors.New(errors.PhaseExecute, errors.KindInterrupted).
			Detail("Execution was halted at the first instruction of the expression function because \"debug\" was requested.\n" +
				"Use \"thread return -x\" to return to the state before expression evaluation.").
			Build()
		return res

	default:
		res.Err = errors.New(errors.PhaseExecute, errors.KindInterrupted).
			Detail("Couldn't execute function; result was %s", res.Outcome).
			Build()
		return res
	}
}

func (c *Coordinator) buildPlan(exe *target.Context, entry uint64, args []uint64, opts dbgexpr.Options) (*target.CallPlan, uint64, uint64, error) {
	proc, th := exe.Process, exe.Thread

	info, ok := proc.FunctionAt(entry)
	if !ok {
		return nil, 0, 0, errors.New(errors.PhaseExecute, errors.KindMissingFunction).
			Value(entry).
			Detail("no function at 0x%x", entry).
			Build()
	}
	if info.Params != len(args) {
		return nil, 0, 0, errors.New(errors.PhaseExecute, errors.KindInvalidPlan).
			Path(info.Name).
			Detail("function takes %d arguments, got %d", info.Params, len(args)).
			Build()
	}

	sp, err := th.StackPointer()
	if err != nil {
		return nil, 0, 0, errors.Wrap(errors.PhaseExecute, errors.KindInvalidPlan, err, "read stack pointer")
	}
	redZone := c.RedZone
	if redZone == 0 {
		redZone = DefaultRedZone
	}
	if sp < redZone+stackAlign {
		return nil, 0, 0, errors.New(errors.PhaseExecute, errors.KindInvalidPlan).
			Value(sp).
			Detail("stack pointer 0x%x leaves no room for a call", sp).
			Build()
	}

	checkpoint, err := th.SaveState()
	if err != nil {
		return nil, 0, 0, errors.Wrap(errors.PhaseExecute, errors.KindInvalidPlan, err, "save thread state")
	}

	var bottom uint64
	if page := proc.PageSize(); sp > page {
		bottom = sp - page
	}

	plan := &target.CallPlan{
		Thread:       th,
		Entry:        entry,
		Args:         append([]uint64(nil), args...),
		Checkpoint:   checkpoint,
		StackPointer: (sp - redZone) &^ (stackAlign - 1),
		Options:      opts,
	}
	return plan, bottom, sp, nil
}

// run resumes the plan with the running flag held for exactly the
// duration of the call.
func run(ctx context.Context, proc target.Process, plan *target.CallPlan) (dbgexpr.Outcome, *target.StopInfo) {
	guard := acquireRunning(proc)
	defer guard.release()
	return proc.RunThreadPlan(ctx, plan)
}

type runningGuard struct {
	proc target.Process
	prev bool
}

func acquireRunning(proc target.Process) *runningGuard {
	g := &runningGuard{proc: proc, prev: proc.RunningUserExpression()}
	proc.SetRunningUserExpression(true)
	return g
}

func (g *runningGuard) release() {
	g.proc.SetRunningUserExpression(g.prev)
}
