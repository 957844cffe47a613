package interp

import (
	"bytes"
	"context"
	"math"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/dbgexpr/errors"
)

const (
	memoryExport = "memory"
	stackGlobal  = "__stack_pointer"
	pageSize     = 65536
)

// Config holds options for the wazero interpreter.
type Config struct {
	// MemoryLimitPages caps IR memory in 64 KiB pages. 0 means 256 (16 MiB).
	MemoryLimitPages uint32
}

type cached struct {
	compiled wazero.CompiledModule
	binary   []byte
}

// Wazero interprets IR modules with wazero's interpreter engine. Each
// request runs in a fresh instance whose memory holds a copy of every
// memory-map allocation at its own address; the copy is written back
// through the map afterwards, so mirrored ranges reach the target.
type Wazero struct {
	runtime wazero.Runtime
	cache   map[string]cached
	mu      sync.Mutex
}

var _ Interpreter = (*Wazero)(nil)

// NewWazero creates an interpreter.
func NewWazero(ctx context.Context, cfg *Config) *Wazero {
	limit := uint32(256)
	if cfg != nil && cfg.MemoryLimitPages > 0 {
		limit = cfg.MemoryLimitPages
	}
	rc := wazero.NewRuntimeConfigInterpreter().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(limit)
	return &Wazero{
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		cache:   make(map[string]cached),
	}
}

func (w *Wazero) compile(ctx context.Context, m *Module) (wazero.CompiledModule, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if c, ok := w.cache[m.Name]; ok && m.Name != "" {
		if bytes.Equal(c.binary, m.Binary) {
			return c.compiled, nil
		}
		_ = c.compiled.Close(ctx)
		delete(w.cache, m.Name)
	}

	compiled, err := w.runtime.CompileModule(ctx, m.Binary)
	if err != nil {
		return nil, errors.New(errors.PhaseInterpret, errors.KindInvalidInput).
			Path(m.Name).
			Detail("compile IR").
			Cause(err).
			Build()
	}
	if m.Name != "" {
		w.cache[m.Name] = cached{compiled: compiled, binary: append([]byte(nil), m.Binary...)}
	}
	return compiled, nil
}

// Interpret runs req.Function. Errors that wrap ErrInterpretation happened
// while the IR ran; anything else means it never started.
func (w *Wazero) Interpret(ctx context.Context, req *Request) error {
	if err := validate(req); err != nil {
		return err
	}

	compiled, err := w.compile(ctx, req.Module)
	if err != nil {
		return err
	}
	def, ok := compiled.ExportedFunctions()[req.Function]
	if !ok {
		return errors.New(errors.PhaseInterpret, errors.KindMissingFunction).
			Path(req.Module.Name, req.Function).
			Detail("function not found in IR").
			Build()
	}
	if n := len(def.ParamTypes()); n != len(req.Args) {
		return errors.New(errors.PhaseInterpret, errors.KindInvalidPlan).
			Path(req.Module.Name, req.Function).
			Detail("function takes %d arguments, got %d", n, len(req.Args)).
			Build()
	}

	mod, err := w.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return errors.New(errors.PhaseInterpret, errors.KindNotInitialized).
			Path(req.Module.Name).
			Detail("instantiate IR").
			Cause(err).
			Build()
	}
	defer func() {
		if !mod.IsClosed() {
			_ = mod.Close(ctx)
		}
	}()

	mem := mod.ExportedMemory(memoryExport)
	if mem == nil {
		return errors.Unsupported(errors.PhaseInterpret, "IR module does not export memory")
	}
	if err := w.load(mem, req); err != nil {
		return err
	}
	if g, ok := mod.ExportedGlobal(stackGlobal).(api.MutableGlobal); ok {
		g.Set(req.StackTop)
	}

	Logger().Debug("interpreting",
		zap.String("module", req.Module.Name),
		zap.String("function", req.Function),
		zap.Uint64("stack_top", req.StackTop))

	if _, err := mod.ExportedFunction(req.Function).Call(ctx, req.Args...); err != nil {
		return errors.New(errors.PhaseInterpret, errors.KindInterrupted).
			Path(req.Module.Name, req.Function).
			Detail("interpretation failed").
			Cause(err).
			Build()
	}

	if err := w.store(mem, req); err != nil {
		return errors.New(errors.PhaseInterpret, errors.KindInterrupted).
			Path(req.Module.Name, req.Function).
			Detail("copy results out of IR memory").
			Cause(err).
			Build()
	}
	return nil
}

// load copies every allocation of the memory map into mem.
func (w *Wazero) load(mem api.Memory, req *Request) error {
	allocs := req.Memory.Allocations()
	var end uint64
	for _, a := range allocs {
		if a.End() > end {
			end = a.End()
		}
	}
	if end > math.MaxUint32 {
		return errors.OutOfBounds(errors.PhaseInterpret, end, 0)
	}
	if cur := uint64(mem.Size()); end > cur {
		pages := uint32((end - cur + pageSize - 1) / pageSize)
		if _, ok := mem.Grow(pages); !ok {
			return errors.New(errors.PhaseInterpret, errors.KindAllocation).
				Detail("IR memory cannot grow to %s", humanize.IBytes(end)).
				Build()
		}
	}

	for _, a := range allocs {
		data, err := req.Memory.ReadMemory(a.Addr, a.Size)
		if err != nil {
			return errors.Wrap(errors.PhaseInterpret, errors.KindOutOfBounds, err, "copy allocation into IR memory")
		}
		if !mem.Write(uint32(a.Addr), data) {
			return errors.OutOfBounds(errors.PhaseInterpret, a.Addr, a.Size)
		}
	}
	return nil
}

// store writes every allocation back through the memory map.
func (w *Wazero) store(mem api.Memory, req *Request) error {
	for _, a := range req.Memory.Allocations() {
		view, ok := mem.Read(uint32(a.Addr), uint32(a.Size))
		if !ok {
			return errors.OutOfBounds(errors.PhaseInterpret, a.Addr, a.Size)
		}
		if err := req.Memory.WriteMemory(a.Addr, append([]byte(nil), view...)); err != nil {
			return errors.Wrap(errors.PhaseInterpret, errors.KindOutOfBounds, err, "copy IR memory back")
		}
	}
	return nil
}

// Close releases the runtime and every cached module.
func (w *Wazero) Close(ctx context.Context) error {
	w.mu.Lock()
	w.cache = make(map[string]cached)
	w.mu.Unlock()
	return w.runtime.Close(ctx)
}
