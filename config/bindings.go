package config

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"go.bytecodealliance.org/wit"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/materializer"
	"github.com/wippyai/dbgexpr/target/wasmproc"
)

// Bindings describes the variables an expression image expects and the
// values the reference process starts them with.
type Bindings struct {
	// Function is the exported entry point of the image.
	Function string `yaml:"function"`
	// Result is the type name of the result variable, or empty for none.
	Result string `yaml:"result,omitempty"`
	// PointerSize is the target's pointer size. 0 means 4.
	PointerSize uint32     `yaml:"pointer_size,omitempty"`
	Variables   []Variable `yaml:"variables"`
}

// Variable is one binding and its initial value.
type Variable struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	// Mode is "value" or "reference". Empty means value.
	Mode string `yaml:"mode,omitempty"`
	// Register keeps the variable out of process memory.
	Register bool      `yaml:"register,omitempty"`
	Value    yaml.Node `yaml:"value"`
}

// LoadBindings reads a binding file.
func LoadBindings(path string) (*Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindNotFound).
			Path(path).
			Detail("reading bindings").
			Cause(err).
			Build()
	}
	return ParseBindings(data, path)
}

// ParseBindings parses binding file content. path is used only in errors.
func ParseBindings(data []byte, path string) (*Bindings, error) {
	var b Bindings
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parsing "+path)
	}
	if b.Function == "" {
		b.Function = "run"
	}
	if b.PointerSize == 0 {
		b.PointerSize = 4
	}
	if _, err := b.Layout(); err != nil {
		return nil, err
	}
	for i := range b.Variables {
		if _, err := b.Variables[i].Bytes(); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

// ParseType maps a WIT primitive type name to its type.
func ParseType(name string) (wit.Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool":
		return wit.Bool{}, nil
	case "u8":
		return wit.U8{}, nil
	case "s8":
		return wit.S8{}, nil
	case "u16":
		return wit.U16{}, nil
	case "s16":
		return wit.S16{}, nil
	case "u32":
		return wit.U32{}, nil
	case "s32":
		return wit.S32{}, nil
	case "u64":
		return wit.U64{}, nil
	case "s64":
		return wit.S64{}, nil
	case "f32":
		return wit.F32{}, nil
	case "f64":
		return wit.F64{}, nil
	case "char":
		return wit.Char{}, nil
	}
	return nil, errors.New(errors.PhaseConfig, errors.KindUnsupported).
		Value(name).
		Detail("unknown type %q", name).
		Build()
}

func parseMode(s string) (materializer.Mode, error) {
	switch s {
	case "", "value":
		return materializer.ByValue, nil
	case "reference", "ref":
		return materializer.ByReference, nil
	}
	return 0, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Value(s).
		Detail("unknown binding mode %q", s).
		Build()
}

// Layout computes the argument struct layout of b.
func (b *Bindings) Layout() (*materializer.Layout, error) {
	bindings := make([]materializer.Binding, 0, len(b.Variables))
	for _, v := range b.Variables {
		t, err := ParseType(v.Type)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "variable "+v.Name)
		}
		mode, err := parseMode(v.Mode)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "variable "+v.Name)
		}
		bindings = append(bindings, materializer.Binding{Type: t, Name: v.Name, Mode: mode})
	}

	var result wit.Type
	if b.Result != "" {
		t, err := ParseType(b.Result)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "result")
		}
		result = t
	}

	size := b.PointerSize
	if size == 0 {
		size = 4
	}
	return materializer.NewLayout(bindings, result, size)
}

// Bytes encodes the variable's initial value.
func (v *Variable) Bytes() ([]byte, error) {
	t, err := ParseType(v.Type)
	if err != nil {
		return nil, err
	}
	val, err := v.decode(t)
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Path(v.Name).
			Detail("value for %s", v.Type).
			Cause(err).
			Build()
	}
	return materializer.Encode(t, val)
}

func (v *Variable) decode(t wit.Type) (any, error) {
	// A missing value starts the variable at zero.
	if v.Value.IsZero() {
		return zero(t), nil
	}
	switch t.(type) {
	case wit.Bool:
		var b bool
		err := v.Value.Decode(&b)
		return b, err
	case wit.F32, wit.F64:
		var f float64
		err := v.Value.Decode(&f)
		return f, err
	case wit.Char:
		var s string
		if err := v.Value.Decode(&s); err == nil && utf8.RuneCountInString(s) == 1 {
			r, _ := utf8.DecodeRuneInString(s)
			return int64(r), nil
		}
		var n int64
		err := v.Value.Decode(&n)
		return n, err
	case wit.U8, wit.U16, wit.U32, wit.U64:
		var n uint64
		err := v.Value.Decode(&n)
		return n, err
	default:
		var n int64
		err := v.Value.Decode(&n)
		return n, err
	}
}

func zero(t wit.Type) any {
	switch t.(type) {
	case wit.Bool:
		return false
	case wit.F32, wit.F64:
		return float64(0)
	default:
		return int64(0)
	}
}

// Define creates every variable in frame with its initial value.
func (b *Bindings) Define(frame *wasmproc.Frame) ([]*wasmproc.Variable, error) {
	vars := make([]*wasmproc.Variable, 0, len(b.Variables))
	for i := range b.Variables {
		v := &b.Variables[i]
		data, err := v.Bytes()
		if err != nil {
			return nil, err
		}
		if v.Register {
			vars = append(vars, frame.DefineRegister(v.Name, data))
			continue
		}
		pv, err := frame.Define(v.Name, data)
		if err != nil {
			return nil, fmt.Errorf("define %s: %w", v.Name, err)
		}
		vars = append(vars, pv)
	}
	return vars, nil
}
