package wasmgen

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
)

func TestAppendULEB128(t *testing.T) {
	tests := []struct {
		in   uint64
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}
	for _, tt := range tests {
		if got := AppendULEB128(nil, tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("AppendULEB128(%d) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestAppendSLEB128(t *testing.T) {
	tests := []struct {
		in   int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-64, []byte{0x40}},
		{-123456, []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range tests {
		if got := AppendSLEB128(nil, tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("AppendSLEB128(%d) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestModule_EmptyHeader(t *testing.T) {
	want := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if got := New().Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestModule_RunsInWazero(t *testing.T) {
	ctx := context.Background()

	m := New()
	m.Memory(Limits{Min: 1})
	sp := m.Global(I32, true, 1024)
	m.Export("__stack_pointer", KindGlobal, sp)
	m.Export("memory", KindMemory, 0)

	// store(a, load(a) + b); return load(a)
	sig := FuncType{Params: []ValType{I32, I32}, Results: []ValType{I32}}
	code := NewCode().
		LocalGet(0).
		LocalGet(0).I32Load(0).
		LocalGet(1).
		I32Add().
		I32Store(0).
		LocalGet(0).I32Load(0)
	fn := m.Func(sig, nil, code)
	m.Export("add_at", KindFunc, fn)

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := r.Instantiate(ctx, m.Encode())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	mem := mod.Memory()
	if !mem.WriteUint32Le(64, 40) {
		t.Fatal("write failed")
	}
	res, err := mod.ExportedFunction("add_at").Call(ctx, 64, 2)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res[0] != 42 {
		t.Errorf("result = %d, want 42", res[0])
	}
	if v, _ := mem.ReadUint32Le(64); v != 42 {
		t.Errorf("memory = %d, want 42", v)
	}
	if g := mod.ExportedGlobal("__stack_pointer"); g == nil || g.Get() != 1024 {
		t.Error("__stack_pointer global missing or wrong")
	}
}

func TestModule_ImportsComeFirst(t *testing.T) {
	m := New()
	imp := m.ImportFunc("env", "breakpoint", FuncType{})
	fn := m.Func(FuncType{}, nil, NewCode().Call(imp))
	if imp != 0 || fn != 1 {
		t.Errorf("indices = %d, %d; want 0, 1", imp, fn)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for import after local function")
		}
	}()
	m.ImportFunc("env", "late", FuncType{})
}
