package materializer

import (
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/materializer/internal/layout"
)

// Mode says how a binding is passed to the expression.
type Mode int

const (
	// ByValue copies the variable's bytes into the struct.
	ByValue Mode = iota
	// ByReference stores the address of the variable's storage in the struct.
	ByReference
)

func (m Mode) String() string {
	if m == ByReference {
		return "by-reference"
	}
	return "by-value"
}

// Binding names a variable the compiled expression references.
type Binding struct {
	Type wit.Type
	Name string
	Mode Mode
}

// Field is a binding placed in the argument struct.
type Field struct {
	Type wit.Type
	Name string
	Mode Mode
	// Offset and Size locate the slot inside the struct. For by-reference
	// fields and the result, the slot holds a pointer.
	Offset uint32
	Size   uint32
	// ValueSize and ValueAlign describe the variable's value.
	ValueSize  uint32
	ValueAlign uint32
}

// Layout is the struct layout descriptor the compiler produced.
type Layout struct {
	Result      *Field
	Fields      []Field
	Size        uint32
	Align       uint32
	PointerSize uint32
}

// ResultName is the name given to the result slot.
const ResultName = "$result"

// NewLayout lays out bindings in order followed by the result pointer, if
// result is not nil. pointerSize is the target's address size (4 or 8).
func NewLayout(bindings []Binding, result wit.Type, pointerSize uint32) (*Layout, error) {
	if pointerSize != 4 && pointerSize != 8 {
		return nil, errors.InvalidInput(errors.PhaseMaterialize, "pointer size must be 4 or 8")
	}

	l := &Layout{PointerSize: pointerSize}
	var st layout.Struct
	seen := make(map[string]bool, len(bindings))

	for _, b := range bindings {
		if b.Name == "" {
			return nil, errors.InvalidInput(errors.PhaseMaterialize, "binding without a name")
		}
		if seen[b.Name] {
			return nil, errors.New(errors.PhaseMaterialize, errors.KindInvalidInput).
				Path(b.Name).
				Detail("duplicate binding").
				Build()
		}
		seen[b.Name] = true

		size, align, ok := layout.Of(b.Type)
		if !ok {
			return nil, errors.New(errors.PhaseMaterialize, errors.KindUnsupported).
				Path(b.Name).
				Detail("type %T has no fixed size", b.Type).
				Build()
		}

		f := Field{Name: b.Name, Type: b.Type, Mode: b.Mode, ValueSize: size, ValueAlign: align}
		if b.Mode == ByReference {
			f.Offset, f.Size = st.Place(pointerSize, pointerSize), pointerSize
		} else {
			f.Offset, f.Size = st.Place(size, align), size
		}
		l.Fields = append(l.Fields, f)
	}

	if result != nil {
		size, align, ok := layout.Of(result)
		if !ok {
			return nil, errors.Unsupported(errors.PhaseMaterialize, "result type has no fixed size")
		}
		f := Field{Name: ResultName, Type: result, Mode: ByReference, ValueSize: size, ValueAlign: align}
		f.Offset, f.Size = st.Place(pointerSize, pointerSize), pointerSize
		l.Result = &f
	}

	l.Size, l.Align = st.Size(), st.Align()
	return l, nil
}

// Field returns the field named name.
func (l *Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	if l.Result != nil && l.Result.Name == name {
		return *l.Result, true
	}
	return Field{}, false
}
