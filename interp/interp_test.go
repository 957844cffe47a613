package interp

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"testing"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/internal/wasmgen"
	"github.com/wippyai/dbgexpr/memmap"
)

var i32 = []wasmgen.ValType{wasmgen.I32}

func irModule(maxPages uint32, body func(m *wasmgen.Module) *wasmgen.Code) []byte {
	m := wasmgen.New()
	m.Memory(wasmgen.Limits{Min: 1, Max: maxPages})
	m.Export(memoryExport, wasmgen.KindMemory, 0)
	fn := m.Func(wasmgen.FuncType{Params: i32}, nil, body(m))
	m.Export("expr", wasmgen.KindFunc, fn)
	return m.Encode()
}

// addOne stores struct.x + 1 through struct.result.
func addOne(m *wasmgen.Module) *wasmgen.Code {
	return wasmgen.NewCode().
		LocalGet(0).I32Load(4).
		LocalGet(0).I32Load(0).
		I32Const(1).I32Add().
		I32Store(0)
}

func newMap(t *testing.T, cfg *memmap.Config) (*memmap.Map, uint64, uint64) {
	t.Helper()
	mem := memmap.NewWithConfig(nil, cfg)
	st, err := mem.Malloc(8, 4, dbgexpr.PermReadWrite, memmap.PolicyHostOnly)
	if err != nil {
		t.Fatalf("Malloc struct: %v", err)
	}
	res, err := mem.Malloc(4, 4, dbgexpr.PermReadWrite, memmap.PolicyHostOnly)
	if err != nil {
		t.Fatalf("Malloc result: %v", err)
	}
	buf := binary.LittleEndian.AppendUint32(nil, 41)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(res))
	if err := mem.WriteMemory(st, buf); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	return mem, st, res
}

func newWazero(t *testing.T) *Wazero {
	t.Helper()
	w := NewWazero(context.Background(), nil)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

func TestWazero_Interpret(t *testing.T) {
	w := newWazero(t)
	mem, st, res := newMap(t, nil)
	mod := &Module{Name: "add", Binary: irModule(0, addOne)}

	for i := 0; i < 2; i++ {
		err := w.Interpret(context.Background(), &Request{
			Module:   mod,
			Function: "expr",
			Args:     []uint64{st},
			Memory:   mem,
		})
		if err != nil {
			t.Fatalf("Interpret #%d: %v", i, err)
		}
	}

	data, err := mem.ReadMemory(res, 4)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data); got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
	if len(w.cache) != 1 {
		t.Errorf("cache holds %d modules, want 1", len(w.cache))
	}
}

func TestWazero_StackPointer(t *testing.T) {
	w := newWazero(t)
	mem, st, res := newMap(t, nil)

	bin := irModule(0, func(m *wasmgen.Module) *wasmgen.Code {
		sp := m.Global(wasmgen.I32, true, 0)
		m.Export(stackGlobal, wasmgen.KindGlobal, sp)
		return wasmgen.NewCode().LocalGet(0).I32Load(4).GlobalGet(sp).I32Store(0)
	})
	err := w.Interpret(context.Background(), &Request{
		Module:      &Module{Name: "sp", Binary: bin},
		Function:    "expr",
		Args:        []uint64{st},
		Memory:      mem,
		StackBottom: 0x8000,
		StackTop:    0x9000,
	})
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	data, _ := mem.ReadMemory(res, 4)
	if got := binary.LittleEndian.Uint32(data); got != 0x9000 {
		t.Errorf("stack pointer = 0x%x, want 0x9000", got)
	}
}

func TestWazero_SetupErrors(t *testing.T) {
	w := newWazero(t)
	mem, st, _ := newMap(t, nil)
	good := &Module{Name: "add", Binary: irModule(0, addOne)}

	tests := []struct {
		name string
		req  *Request
		kind errors.Kind
	}{
		{"nil module", &Request{Function: "expr", Args: []uint64{st}, Memory: mem}, errors.KindMissingFunction},
		{"missing function", &Request{Module: good, Function: "nope", Args: []uint64{st}, Memory: mem}, errors.KindMissingFunction},
		{"argument count", &Request{Module: good, Function: "expr", Memory: mem}, errors.KindInvalidPlan},
		{"no memory map", &Request{Module: good, Function: "expr", Args: []uint64{st}}, errors.KindNotInitialized},
		{"bad binary", &Request{Module: &Module{Name: "bad", Binary: []byte{1, 2, 3}}, Function: "expr", Args: []uint64{st}, Memory: mem}, errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Interpret(context.Background(), tt.req)
			if !IsSetupError(err) {
				t.Fatalf("IsSetupError(%v) = false", err)
			}
			var e *errors.Error
			if !errors.As(err, &e) || e.Kind != tt.kind {
				t.Errorf("kind = %v, want %s", err, tt.kind)
			}
		})
	}
}

func TestWazero_MemoryTooSmall(t *testing.T) {
	w := newWazero(t)
	mem, st, _ := newMap(t, &memmap.Config{HostBase: 0x20000})

	err := w.Interpret(context.Background(), &Request{
		Module:   &Module{Name: "small", Binary: irModule(1, addOne)},
		Function: "expr",
		Args:     []uint64{st},
		Memory:   mem,
	})
	if !IsSetupError(err) {
		t.Fatalf("expected setup error, got %v", err)
	}
}

func TestWazero_Trap(t *testing.T) {
	w := newWazero(t)
	mem, st, _ := newMap(t, nil)

	bin := irModule(0, func(*wasmgen.Module) *wasmgen.Code {
		return wasmgen.NewCode().Unreachable()
	})
	err := w.Interpret(context.Background(), &Request{
		Module:   &Module{Name: "trap", Binary: bin},
		Function: "expr",
		Args:     []uint64{st},
		Memory:   mem,
	})
	if err == nil || IsSetupError(err) {
		t.Fatalf("expected interpretation failure, got %v", err)
	}
	if !errors.Is(err, ErrInterpretation) {
		t.Errorf("error does not match ErrInterpretation: %v", err)
	}
}

// flakyProcess maps [0, len(mem)) and fails writes once failWrites is set.
type flakyProcess struct {
	mem        []byte
	heap       uint64
	failWrites bool
}

func (p *flakyProcess) Alive() bool { return true }

func (p *flakyProcess) MappedRegion(addr uint64) (uint64, bool) {
	if addr < uint64(len(p.mem)) {
		return uint64(len(p.mem)), true
	}
	return dbgexpr.InvalidAddress, false
}

func (p *flakyProcess) ReadMemory(addr, size uint64) ([]byte, error) {
	if addr+size > uint64(len(p.mem)) {
		return nil, stderrors.New("unmapped")
	}
	return append([]byte(nil), p.mem[addr:addr+size]...), nil
}

func (p *flakyProcess) WriteMemory(addr uint64, data []byte) error {
	if p.failWrites {
		return stderrors.New("target memory is read-only")
	}
	copy(p.mem[addr:], data)
	return nil
}

func (p *flakyProcess) AllocateMemory(size uint64, _ dbgexpr.Permissions) (uint64, error) {
	addr := p.heap
	p.heap += size
	return addr, nil
}

func (p *flakyProcess) DeallocateMemory(uint64) error { return nil }

func TestWazero_CopyBackFailure(t *testing.T) {
	w := newWazero(t)
	proc := &flakyProcess{mem: make([]byte, 4096), heap: 0x100}
	mem := memmap.New(proc)
	st, err := mem.Malloc(8, 4, dbgexpr.PermReadWrite, memmap.PolicyMirror)
	if err != nil {
		t.Fatalf("Malloc struct: %v", err)
	}
	res, err := mem.Malloc(4, 4, dbgexpr.PermReadWrite, memmap.PolicyMirror)
	if err != nil {
		t.Fatalf("Malloc result: %v", err)
	}
	buf := binary.LittleEndian.AppendUint32(nil, 41)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(res))
	if err := mem.WriteMemory(st, buf); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	proc.failWrites = true

	err = w.Interpret(context.Background(), &Request{
		Module:   &Module{Name: "add", Binary: irModule(0, addOne)},
		Function: "expr",
		Args:     []uint64{st},
		Memory:   mem,
	})
	if err == nil {
		t.Fatal("expected copy-back failure")
	}
	if IsSetupError(err) {
		t.Errorf("copy-back failure reported as setup error: %v", err)
	}
	if !errors.Is(err, ErrInterpretation) {
		t.Errorf("error does not match ErrInterpretation: %v", err)
	}
}
