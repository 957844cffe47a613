package remotecall

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/target"
)

const testEntry = 0x7000_0000

type fakeProcess struct {
	outcome      dbgexpr.Outcome
	stop         *target.StopInfo
	plans        []*target.CallPlan
	runningSeen  []bool
	running      bool
	dead         bool
	setRunningNo int
}

func (p *fakeProcess) ReadMemory(addr, size uint64) ([]byte, error) { return make([]byte, size), nil }
func (p *fakeProcess) WriteMemory(uint64, []byte) error             { return nil }
func (p *fakeProcess) AllocateMemory(uint64, dbgexpr.Permissions) (uint64, error) {
	return 0, fmt.Errorf("not supported")
}
func (p *fakeProcess) DeallocateMemory(uint64) error      { return nil }
func (p *fakeProcess) ID() uint64                         { return 1 }
func (p *fakeProcess) Alive() bool                        { return !p.dead }
func (p *fakeProcess) PageSize() uint64                   { return 4096 }
func (p *fakeProcess) AddressByteSize() uint32            { return 4 }
func (p *fakeProcess) MappedRegion(uint64) (uint64, bool) { return dbgexpr.InvalidAddress, false }
func (p *fakeProcess) RunningUserExpression() bool        { return p.running }
func (p *fakeProcess) AdoptCall(target.AdoptedCall)       {}
func (p *fakeProcess) SetRunningUserExpression(running bool) {
	p.setRunningNo++
	p.running = running
}

func (p *fakeProcess) FunctionAt(addr uint64) (target.FunctionInfo, bool) {
	if addr != testEntry {
		return target.FunctionInfo{}, false
	}
	return target.FunctionInfo{Name: "expr", Params: 1}, true
}

func (p *fakeProcess) RunThreadPlan(ctx context.Context, plan *target.CallPlan) (dbgexpr.Outcome, *target.StopInfo) {
	p.plans = append(p.plans, plan)
	p.runningSeen = append(p.runningSeen, p.running)
	return p.outcome, p.stop
}

type fakeThread struct {
	restoreErr error
	restored   []target.ThreadState
	sp         uint64
}

func (t *fakeThread) ID() uint64                    { return 7 }
func (t *fakeThread) StackPointer() (uint64, error) { return t.sp, nil }
func (t *fakeThread) SaveState() (target.ThreadState, error) {
	return target.ThreadState{PC: 0x100, SP: t.sp}, nil
}
func (t *fakeThread) RestoreState(s target.ThreadState) error {
	if t.restoreErr != nil {
		return t.restoreErr
	}
	t.restored = append(t.restored, s)
	return nil
}

func setup(outcome dbgexpr.Outcome) (*fakeProcess, *fakeThread, *target.Context) {
	p := &fakeProcess{outcome: outcome, stop: &target.StopInfo{Description: "signal SIGSEGV"}}
	th := &fakeThread{sp: 0x10000}
	return p, th, &target.Context{Process: p, Thread: th}
}

func TestCall_NoThread(t *testing.T) {
	p, _, exe := setup(dbgexpr.Completed)
	exe.Thread = nil

	res := New().Call(context.Background(), exe, testEntry, []uint64{1}, dbgexpr.DefaultOptions())
	if res.Outcome != dbgexpr.SetupError {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	if !errors.Is(res.Err, errors.ErrNoThread) {
		t.Errorf("err = %v, want ErrNoThread", res.Err)
	}
	if len(p.plans) != 0 || p.setRunningNo != 0 {
		t.Error("process touched without a thread")
	}
}

func TestCall_InvalidPlan(t *testing.T) {
	tests := []struct {
		name  string
		entry uint64
		args  []uint64
		sp    uint64
		dead  bool
	}{
		{"unknown entry", testEntry + 1, []uint64{1}, 0x10000, false},
		{"argument count", testEntry, nil, 0x10000, false},
		{"no stack", testEntry, []uint64{1}, 64, false},
		{"dead process", testEntry, []uint64{1}, 0x10000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, th, exe := setup(dbgexpr.Completed)
			th.sp = tt.sp
			p.dead = tt.dead

			res := New().Call(context.Background(), exe, tt.entry, tt.args, dbgexpr.DefaultOptions())
			if res.Outcome != dbgexpr.SetupError || res.Err == nil {
				t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
			}
			if len(p.plans) != 0 {
				t.Error("invalid plan was run")
			}
			if p.running {
				t.Error("running flag left set")
			}
		})
	}
}

func TestCall_Completed(t *testing.T) {
	p, th, exe := setup(dbgexpr.Completed)

	res := New().Call(context.Background(), exe, testEntry, []uint64{0x2000}, dbgexpr.DefaultOptions())
	if res.Outcome != dbgexpr.Completed || res.Err != nil {
		t.Fatalf("outcome = %v, err = %v", res.Outcome, res.Err)
	}
	if len(p.plans) != 1 {
		t.Fatalf("RunThreadPlan called %d times", len(p.plans))
	}
	if !p.runningSeen[0] {
		t.Error("running flag not set during the call")
	}
	if p.running {
		t.Error("running flag not cleared")
	}

	plan := p.plans[0]
	if plan.StackPointer >= th.sp || plan.StackPointer%stackAlign != 0 {
		t.Errorf("plan sp = 0x%x", plan.StackPointer)
	}
	if plan.Checkpoint.SP != th.sp || plan.Args[0] != 0x2000 {
		t.Errorf("plan = %+v", plan)
	}
	if res.StackBottom != th.sp-4096 || res.StackTop != th.sp {
		t.Errorf("stack = [0x%x, 0x%x)", res.StackBottom, res.StackTop)
	}
	if len(th.restored) != 0 {
		t.Error("completed call restored the thread")
	}
}

func TestCall_NestedRunningFlag(t *testing.T) {
	p, _, exe := setup(dbgexpr.Interrupted)
	p.running = true

	New().Call(context.Background(), exe, testEntry, []uint64{1}, dbgexpr.DefaultOptions())
	if !p.running {
		t.Error("outer running flag was cleared")
	}
}

func TestCall_Outcomes(t *testing.T) {
	tests := []struct {
		name     string
		outcome  dbgexpr.Outcome
		opts     dbgexpr.Options
		restored bool
		detached bool
		message  string
	}{
		{"interrupted unwind", dbgexpr.Interrupted, dbgexpr.Options{UnwindOnError: true}, true, false, "returned to the state before"},
		{"interrupted stay", dbgexpr.Interrupted, dbgexpr.Options{}, false, false, "left at the point where it was interrupted"},
		{"breakpoint ignored", dbgexpr.HitBreakpoint, dbgexpr.Options{IgnoreBreakpoints: true}, true, false, "returned to the state before"},
		{"breakpoint stop", dbgexpr.HitBreakpoint, dbgexpr.Options{UnwindOnError: true}, false, true, "left at the point where it was interrupted"},
		{"debug", dbgexpr.StoppedForDebug, dbgexpr.Options{Debug: true}, false, false, "halted at the first instruction"},
		{"discarded", dbgexpr.Discarded, dbgexpr.DefaultOptions(), false, false, "result was discarded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, th, exe := setup(tt.outcome)

			res := New().Call(context.Background(), exe, testEntry, []uint64{1}, tt.opts)
			if res.Outcome != tt.outcome {
				t.Fatalf("outcome = %v, want %v", res.Outcome, tt.outcome)
			}
			if res.Restored != tt.restored {
				t.Errorf("restored = %v, want %v", res.Restored, tt.restored)
			}
			if tt.restored && (len(th.restored) != 1 || th.restored[0].SP != th.sp) {
				t.Errorf("thread restores = %+v", th.restored)
			}
			if !tt.restored && len(th.restored) != 0 {
				t.Error("thread restored unexpectedly")
			}
			if (res.Detached != nil) != tt.detached {
				t.Errorf("detached = %v, want %v", res.Detached != nil, tt.detached)
			}
			if res.Err == nil || !strings.Contains(res.Err.Error(), tt.message) {
				t.Errorf("err = %v, want it to mention %q", res.Err, tt.message)
			}
			if p.running {
				t.Error("running flag left set")
			}
		})
	}
}

func TestCall_InterruptReason(t *testing.T) {
	_, _, exe := setup(dbgexpr.Interrupted)

	res := New().Call(context.Background(), exe, testEntry, []uint64{1}, dbgexpr.DefaultOptions())
	if !strings.Contains(res.Err.Error(), "Execution was interrupted, reason: signal SIGSEGV.") {
		t.Errorf("err = %v", res.Err)
	}
}

func TestCall_RestoreFails(t *testing.T) {
	_, th, exe := setup(dbgexpr.Interrupted)
	th.restoreErr = fmt.Errorf("registers unavailable")

	res := New().Call(context.Background(), exe, testEntry, []uint64{1}, dbgexpr.Options{UnwindOnError: true})
	if res.Restored {
		t.Error("Restored reported although restore failed")
	}
	if res.Err == nil {
		t.Error("missing error")
	}
}

type countingHandle struct{ discards int }

func (h *countingHandle) Discard() error {
	h.discards++
	if h.discards > 1 {
		return errors.HandleConsumed("discard")
	}
	return nil
}

func TestDetachedCall_Release(t *testing.T) {
	d := newDetachedCall(&target.CallPlan{Entry: testEntry})
	h := &countingHandle{}
	freed := 0
	d.Attach(h, func(context.Context) error {
		freed++
		return nil
	})

	for i := 0; i < 2; i++ {
		if err := d.Release(context.Background()); err != nil {
			t.Fatalf("Release #%d: %v", i, err)
		}
	}
	if h.discards != 1 || freed != 1 {
		t.Errorf("discards = %d, frees = %d; want 1 each", h.discards, freed)
	}
	if !d.Released() {
		t.Error("Released() = false")
	}
}

func TestDetachedCall_ConsumedHandle(t *testing.T) {
	d := newDetachedCall(nil)
	h := &countingHandle{discards: 1}
	d.Attach(h, nil)
	if err := d.Release(context.Background()); err != nil {
		t.Errorf("consumed handle should not fail release: %v", err)
	}
}
