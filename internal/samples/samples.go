// Package samples builds the example expressions used by tests and by
// the exprrun demo. Every sample comes in two forms from the same code:
// a JIT image linked against a wasmproc process, and IR for the host
// interpreter.
//
// All samples take the argument struct of Layout:
//
//	offset 0  x       u32 by value
//	offset 4  *y      u32 by reference
//	offset 8  *result u32
package samples

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/dbgexpr/internal/wasmgen"
	"github.com/wippyai/dbgexpr/materializer"
)

// Function is the exported entry of every sample.
const Function = "run"

const (
	offX      = 0
	offY      = 4
	offResult = 8
)

// Bindings returns the bindings every sample expects.
func Bindings() []materializer.Binding {
	return []materializer.Binding{
		{Name: "x", Type: wit.U32{}, Mode: materializer.ByValue},
		{Name: "y", Type: wit.U32{}, Mode: materializer.ByReference},
	}
}

// Layout returns the argument struct layout for 32-bit targets.
func Layout() *materializer.Layout {
	l, err := materializer.NewLayout(Bindings(), wit.U32{}, 4)
	if err != nil {
		panic(err)
	}
	return l
}

// Kind selects the form a sample is built in.
type Kind int

const (
	JIT Kind = iota
	IR
)

var i32 = []wasmgen.ValType{wasmgen.I32}

func module(k Kind) *wasmgen.Module {
	m := wasmgen.New()
	if k == JIT {
		m.ImportMemory("process", "memory", wasmgen.Limits{Min: 1})
	} else {
		m.Memory(wasmgen.Limits{Min: 1})
		m.Export("memory", wasmgen.KindMemory, 0)
	}
	return m
}

func finish(m *wasmgen.Module, params int, code *wasmgen.Code) []byte {
	sig := wasmgen.FuncType{}
	for i := 0; i < params; i++ {
		sig.Params = append(sig.Params, wasmgen.I32)
	}
	fn := m.Func(sig, nil, code)
	m.Export(Function, wasmgen.KindFunc, fn)
	return m.Encode()
}

// sumAndBump emits: *result = base + x + *y; *y += 1; x *= 2.
// s is the local holding the struct address, base a local or -1.
func sumAndBump(c *wasmgen.Code, s uint32, base int) *wasmgen.Code {
	c.LocalGet(s).I32Load(offResult).
		LocalGet(s).I32Load(offX).
		LocalGet(s).I32Load(offY).I32Load(0).
		I32Add()
	if base >= 0 {
		c.LocalGet(uint32(base)).I32Add()
	}
	c.I32Store(0)

	c.LocalGet(s).I32Load(offY).
		LocalGet(s).I32Load(offY).I32Load(0).
		I32Const(1).I32Add().
		I32Store(0)

	return c.LocalGet(s).
		LocalGet(s).I32Load(offX).
		I32Const(2).I32Mul().
		I32Store(offX)
}

// AddAndBump returns x + *y, increments *y and doubles x.
func AddAndBump(k Kind) []byte {
	m := module(k)
	return finish(m, 1, sumAndBump(wasmgen.NewCode(), 0, -1))
}

// WithBase is AddAndBump plus a leading base argument.
func WithBase(k Kind) []byte {
	m := module(k)
	return finish(m, 2, sumAndBump(wasmgen.NewCode(), 1, 0))
}

// Breakpoint sets *y to 1000 and stops at env.breakpoint before returning.
func Breakpoint() []byte {
	m := module(JIT)
	bp := m.ImportFunc("env", "breakpoint", wasmgen.FuncType{})
	code := wasmgen.NewCode().
		LocalGet(0).I32Load(offY).I32Const(1000).I32Store(0).
		Call(bp)
	return finish(m, 1, code)
}

// Spin never returns.
func Spin(k Kind) []byte {
	m := module(k)
	return finish(m, 1, wasmgen.NewCode().Loop().Br(0).End())
}

// StoreThenSpin sets *y to 1000 and never returns.
func StoreThenSpin(k Kind) []byte {
	m := module(k)
	code := wasmgen.NewCode().
		LocalGet(0).I32Load(offY).I32Const(1000).I32Store(0).
		Loop().Br(0).End()
	return finish(m, 1, code)
}

// Trap executes unreachable.
func Trap(k Kind) []byte {
	m := module(k)
	return finish(m, 1, wasmgen.NewCode().Unreachable())
}

// StackResult stores 77 sixteen bytes below __stack_pointer and returns a
// pointer to it, so the result lives on the expression's stack.
func StackResult(k Kind) []byte {
	m := module(k)
	sp := m.Global(wasmgen.I32, true, 0)
	m.Export("__stack_pointer", wasmgen.KindGlobal, sp)
	code := wasmgen.NewCode().
		GlobalGet(sp).I32Const(16).I32Sub().I32Const(77).I32Store(0).
		LocalGet(0).
		GlobalGet(sp).I32Const(16).I32Sub().
		I32Store(offResult)
	return finish(m, 1, code)
}
