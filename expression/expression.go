package expression

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/interp"
	"github.com/wippyai/dbgexpr/materializer"
	"github.com/wippyai/dbgexpr/memmap"
	"github.com/wippyai/dbgexpr/registry"
	"github.com/wippyai/dbgexpr/remotecall"
	"github.com/wippyai/dbgexpr/target"
)

// DefaultStackFrameSize is the size of the stack host-side interpretation
// runs on.
const DefaultStackFrameSize = 512 * 1024

const stackAlign = 8

// CompiledUnit is what the compiler produced for one expression.
type CompiledUnit struct {
	// Module is the IR, used when the expression can be interpreted.
	Module *interp.Module
	// Function names the IR entry point.
	Function string
	// Entry is the JIT entry address, or dbgexpr.InvalidAddress.
	Entry uint64
	// Image is the registered JIT image, or 0.
	Image registry.ID
}

// InitialArgumentsFunc returns the arguments passed before the argument
// struct address, such as an object pointer.
type InitialArgumentsFunc func(exe *target.Context) ([]uint64, error)

// Config holds what the compiler decided about an expression.
type Config struct {
	Layout           *materializer.Layout
	Interpreter      interp.Interpreter
	Coordinator      *remotecall.Coordinator
	InitialArguments InitialArgumentsFunc
	// ResultName names the result variable. Empty means a name derived
	// from the evaluation id.
	ResultName string
	Unit       CompiledUnit
	// StackFrameSize is the simulated stack size. 0 means DefaultStackFrameSize.
	StackFrameSize uint64
	// CanInterpret selects host-side interpretation over running JIT code.
	CanInterpret bool
}

// Result is what one execution produced.
type Result struct {
	Value   *materializer.ResultVariable
	Err     error
	Outcome dbgexpr.Outcome
	// Restored is true only if the target was put back to its state
	// before the execution.
	Restored bool
}

// Diagnostic returns the user-facing text of Err.
func (r *Result) Diagnostic() string {
	if r == nil || r.Err == nil {
		return ""
	}
	var parts []string
	for err := r.Err; err != nil; {
		e, ok := err.(*errors.Error)
		if !ok {
			parts = append(parts, err.Error())
			break
		}
		if e.Detail != "" {
			parts = append(parts, e.Detail)
		}
		err = e.Cause
	}
	if len(parts) == 0 {
		return r.Err.Error()
	}
	return strings.Join(parts, ": ")
}

// UserExpression drives one compiled expression through preparation,
// execution and finalization against the context it was created for.
type UserExpression struct {
	cfg         Config
	images      *registry.Registry
	mem         *memmap.Map
	mat         *materializer.Materializer
	handle      *materializer.Dematerializer
	coordinator *remotecall.Coordinator
	snapshot    target.Snapshot
	resultName  string
	structAddr  uint64
	stackBottom uint64
	stackTop    uint64
	id          uuid.UUID
	state       State
	mu          sync.Mutex
	imageGone   bool
}

// New binds an expression to exe. Later executions must use a context
// with the same target and process.
func New(exe *target.Context, cfg Config) (*UserExpression, error) {
	if exe == nil || exe.Target == nil {
		return nil, errors.InvalidInput(errors.PhasePrepare, "expression needs a target")
	}
	if cfg.Layout == nil {
		return nil, errors.InvalidInput(errors.PhasePrepare, "expression needs a struct layout")
	}
	if cfg.StackFrameSize == 0 {
		cfg.StackFrameSize = DefaultStackFrameSize
	}

	policy := memmap.PolicyMirror
	if cfg.CanInterpret {
		policy = memmap.PolicyHostOnly
	}

	var proc memmap.Process
	if exe.Process != nil {
		proc = exe.Process
	}

	e := &UserExpression{
		cfg:         cfg,
		images:      exe.Target.Images(),
		mem:         memmap.New(proc),
		mat:         materializer.New(cfg.Layout, policy),
		coordinator: cfg.Coordinator,
		snapshot:    exe.Snapshot(),
		id:          uuid.New(),
		structAddr:  dbgexpr.InvalidAddress,
		stackBottom: dbgexpr.InvalidAddress,
		stackTop:    dbgexpr.InvalidAddress,
		state:       Unprepared,
	}
	if e.coordinator == nil {
		e.coordinator = remotecall.New()
	}
	e.resultName = cfg.ResultName
	if e.resultName == "" {
		e.resultName = "$R_" + e.id.String()[:8]
	}
	return e, nil
}

// ID returns the evaluation id.
func (e *UserExpression) ID() uuid.UUID {
	return e.id
}

// State returns the current lifecycle state.
func (e *UserExpression) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StructAddress returns the argument struct address, or
// dbgexpr.InvalidAddress when none is allocated.
func (e *UserExpression) StructAddress() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.structAddr
}

// StackBounds returns the simulated stack, or InvalidAddress twice when
// none is allocated.
func (e *UserExpression) StackBounds() (bottom, top uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stackBottom, e.stackTop
}

// Image returns the registered JIT image.
func (e *UserExpression) Image() (registry.Image, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.Unit.Image == 0 || e.imageGone {
		return nil, false
	}
	return e.images.Get(e.cfg.Unit.Image)
}

// Memory returns the expression's scratch memory map.
func (e *UserExpression) Memory() *memmap.Map {
	return e.mem
}

func (e *UserExpression) moveTo(to State) error {
	if !e.state.canMoveTo(to) {
		return errors.InvalidState(errors.PhasePrepare, e.state.String(), to.String())
	}
	e.state = to
	return nil
}

// Prepare checks exe against the bound context and materializes the
// bindings into the argument struct.
func (e *UserExpression) Prepare(ctx context.Context, exe *target.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prepare(exe)
}

func (e *UserExpression) prepare(exe *target.Context) error {
	if !e.state.canMoveTo(Prepared) {
		return errors.InvalidState(errors.PhasePrepare, e.state.String(), Prepared.String())
	}

	if err := e.snapshot.Validate(exe); err != nil {
		e.state = Aborted
		return errors.Wrap(errors.PhasePrepare, errors.KindStaleContext, err,
			"The context has changed before we could JIT the expression!")
	}

	l := e.cfg.Layout
	if e.structAddr == dbgexpr.InvalidAddress {
		policy := memmap.PolicyMirror
		if e.cfg.CanInterpret {
			policy = memmap.PolicyHostOnly
		}
		addr, err := e.mem.Malloc(uint64(l.Size), uint64(l.Align), dbgexpr.PermReadWrite, policy)
		if err != nil {
			e.state = Aborted
			return errors.Wrap(errors.PhasePrepare, errors.KindAllocation, err,
				"Couldn't allocate space for materialized struct")
		}
		e.structAddr = addr
	}

	if e.cfg.CanInterpret && e.stackBottom == dbgexpr.InvalidAddress {
		size := e.cfg.StackFrameSize
		bottom, err := e.mem.Malloc(size, stackAlign, dbgexpr.PermReadWrite, memmap.PolicyHostOnly)
		if err != nil {
			e.state = Aborted
			return errors.Wrap(errors.PhasePrepare, errors.KindAllocation, err,
				"Couldn't allocate space for the stack frame")
		}
		e.stackBottom, e.stackTop = bottom, bottom+size
	}

	e.discardHandle()

	h, err := e.mat.Materialize(exe.Frame, e.mem, e.structAddr)
	if err != nil {
		e.state = Aborted
		return errors.Wrap(errors.PhaseMaterialize, errors.KindInvalidData, err,
			"Couldn't materialize")
	}
	e.handle = h
	e.state = Prepared
	return nil
}

func (e *UserExpression) discardHandle() {
	if e.handle == nil {
		return
	}
	if !e.handle.Consumed() {
		if err := e.handle.Discard(); err != nil {
			Logger().Warn("discard dematerializer", zap.Stringer("id", e.id), zap.Error(err))
		}
	}
	e.handle = nil
}

// Execute prepares the expression and runs it once.
func (e *UserExpression) Execute(ctx context.Context, exe *target.Context, opts dbgexpr.Options) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	log := Logger().With(zap.Stringer("id", e.id))
	log.Debug("execution of expression begins",
		zap.Bool("interpret", e.cfg.CanInterpret),
		zap.Bool("unwind_on_error", opts.UnwindOnError),
		zap.Bool("ignore_breakpoints", opts.IgnoreBreakpoints))

	if e.state == Destroyed {
		return &Result{
			Outcome: dbgexpr.SetupError,
			Err:     errors.InvalidState(errors.PhaseExecute, Destroyed.String(), Running.String()),
		}
	}

	unit := e.cfg.Unit
	if !e.cfg.CanInterpret && unit.Entry == dbgexpr.InvalidAddress {
		return &Result{
			Outcome: dbgexpr.SetupError,
			Err: errors.New(errors.PhaseExecute, errors.KindMissingFunction).
				Detail("Expression can't be run, because there is no JIT compiled function").
				Build(),
		}
	}

	if err := e.prepare(exe); err != nil {
		return &Result{Outcome: dbgexpr.SetupError, Err: err}
	}

	args, err := e.arguments(exe)
	if err != nil {
		return &Result{Outcome: dbgexpr.SetupError, Err: err}
	}

	var res *Result
	if e.cfg.CanInterpret {
		res = e.interpret(ctx, exe, args, opts)
	} else {
		res = e.call(ctx, exe, args, opts)
	}

	log.Debug("execution of expression completed",
		zap.Stringer("outcome", res.Outcome),
		zap.Bool("restored", res.Restored),
		zap.Stringer("state", e.state))
	return res
}

func (e *UserExpression) arguments(exe *target.Context) ([]uint64, error) {
	var args []uint64
	if e.cfg.InitialArguments != nil {
		initial, err := e.cfg.InitialArguments(exe)
		if err != nil {
			return nil, errors.Wrap(errors.PhasePrepare, errors.KindInvalidPlan, err,
				"Couldn't add initial arguments")
		}
		args = append(args, initial...)
	}
	return append(args, e.structAddr), nil
}

func (e *UserExpression) interpret(ctx context.Context, exe *target.Context, args []uint64, opts dbgexpr.Options) *Result {
	unit := e.cfg.Unit
	if unit.Module == nil || unit.Function == "" {
		e.abort()
		return &Result{
			Outcome: dbgexpr.SetupError,
			Err: errors.New(errors.PhaseInterpret, errors.KindMissingFunction).
				Detail("Supposed to interpret, but nothing is there").
				Build(),
		}
	}
	if e.cfg.Interpreter == nil {
		e.abort()
		return &Result{Outcome: dbgexpr.SetupError, Err: errors.NotInitialized(errors.PhaseInterpret, "interpreter")}
	}

	if err := e.moveTo(Running); err != nil {
		return &Result{Outcome: dbgexpr.SetupError, Err: err}
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	err := e.cfg.Interpreter.Interpret(runCtx, &interp.Request{
		Module:      unit.Module,
		Function:    unit.Function,
		Args:        args,
		Memory:      e.mem,
		StackBottom: e.stackBottom,
		StackTop:    e.stackTop,
		Context:     exe,
	})
	if err != nil {
		e.abort()
		if interp.IsSetupError(err) {
			return &Result{Outcome: dbgexpr.SetupError, Err: err}
		}
		return &Result{
			Outcome: dbgexpr.Discarded,
			Err:     errors.Wrap(errors.PhaseInterpret, errors.KindInterrupted, err, "Supposed to interpret, but failed"),
		}
	}

	return e.finalize(e.stackBottom, e.stackTop)
}

func (e *UserExpression) call(ctx context.Context, exe *target.Context, args []uint64, opts dbgexpr.Options) *Result {
	if err := e.moveTo(Running); err != nil {
		return &Result{Outcome: dbgexpr.SetupError, Err: err}
	}

	cr := e.coordinator.Call(ctx, exe, e.cfg.Unit.Entry, args, opts)

	switch cr.Outcome {
	case dbgexpr.Completed:
		return e.finalize(cr.StackBottom, cr.StackTop)

	case dbgexpr.SetupError:
		// Nothing ran; the materialized struct stays valid.
		e.state = Prepared
		return &Result{Outcome: dbgexpr.SetupError, Err: cr.Err}

	case dbgexpr.Interrupted, dbgexpr.HitBreakpoint:
		res := &Result{Outcome: cr.Outcome, Restored: cr.Restored, Err: cr.Err}
		switch {
		case cr.Restored:
			if err := e.handle.Restore(); err != nil {
				Logger().Warn("restore bindings", zap.Stringer("id", e.id), zap.Error(err))
			}
			e.handle = nil
		case cr.Detached != nil:
			e.detach(exe, cr.Detached)
		}
		e.state = Aborted
		return res

	case dbgexpr.StoppedForDebug:
		e.state = Aborted
		return &Result{Outcome: cr.Outcome, Err: cr.Err}

	default:
		e.abort()
		return &Result{Outcome: cr.Outcome, Err: cr.Err}
	}
}

// detach hands the stopped call the handle, the argument struct and every
// allocation the struct points to. The next execution allocates a new
// struct.
func (e *UserExpression) detach(exe *target.Context, call *remotecall.DetachedCall) {
	addrs := append([]uint64{e.structAddr}, e.handle.TakeScratch()...)
	call.Attach(e.handle, nil)
	for _, addr := range addrs {
		free, err := e.mem.Detach(addr)
		if err != nil {
			Logger().Warn("detach call memory", zap.Stringer("id", e.id), zap.Uint64("addr", addr), zap.Error(err))
			continue
		}
		call.Attach(nil, func(context.Context) error { return free() })
	}
	exe.Process.AdoptCall(call)

	e.handle = nil
	e.structAddr = dbgexpr.InvalidAddress
}

func (e *UserExpression) finalize(stackBottom, stackTop uint64) *Result {
	h := e.handle
	e.handle = nil

	rv, err := h.Dematerialize(stackBottom, stackTop)
	if err != nil {
		e.state = Aborted
		return &Result{
			Outcome: dbgexpr.ResultUnavailable,
			Err:     errors.Wrap(errors.PhaseFinalize, errors.KindInvalidData, err, "Couldn't dematerialize a result variable"),
		}
	}

	if rv != nil {
		rv.Name = e.resultName
		if rv.LiveAddress {
			if _, err := rv.TransferAddress(); err != nil {
				e.state = Aborted
				return &Result{
					Outcome: dbgexpr.ResultUnavailable,
					Err:     errors.Wrap(errors.PhaseFinalize, errors.KindAllocation, err, "Couldn't keep the result variable"),
				}
			}
		}
	}

	e.state = Finalized
	return &Result{Outcome: dbgexpr.Completed, Value: rv}
}

func (e *UserExpression) abort() {
	e.discardHandle()
	e.state = Aborted
}

// Teardown releases everything the expression holds and removes its image
// from the registry. Calling it again does nothing.
func (e *UserExpression) Teardown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Destroyed {
		return nil
	}

	var first error
	if id := e.cfg.Unit.Image; id != 0 && !e.imageGone {
		e.imageGone = true
		if _, err := e.images.Remove(ctx, id); err != nil {
			first = err
		}
	}

	e.discardHandle()
	if err := e.mem.Close(); err != nil && first == nil {
		first = err
	}

	e.structAddr = dbgexpr.InvalidAddress
	e.stackBottom, e.stackTop = dbgexpr.InvalidAddress, dbgexpr.InvalidAddress
	e.state = Destroyed

	Logger().Debug("expression torn down", zap.Stringer("id", e.id), zap.Error(first))
	return first
}
