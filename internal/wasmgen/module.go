package wasmgen

// Section IDs
const (
	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionGlobal   byte = 6
	sectionExport   byte = 7
	sectionCode     byte = 10
)

// External kinds
const (
	KindFunc   byte = 0x00
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
)

// ValType is a wasm value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) equal(o FuncType) bool {
	if len(ft.Params) != len(o.Params) || len(ft.Results) != len(o.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Limits are memory page limits. Max of 0 means unbounded.
type Limits struct {
	Min uint32
	Max uint32
}

type importEntry struct {
	module  string
	name    string
	kind    byte
	typeIdx uint32
	limits  Limits
}

type function struct {
	locals  []ValType
	body    []byte
	typeIdx uint32
}

type global struct {
	typ     ValType
	init    int64
	mutable bool
}

type export struct {
	name string
	kind byte
	idx  uint32
}

// Module builds a wasm binary. Function indices count imported functions
// first, as the binary format does.
type Module struct {
	memory        *Limits
	types         []FuncType
	imports       []importEntry
	funcs         []function
	globals       []global
	exports       []export
	importedFuncs uint32
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(ft FuncType) uint32 {
	for i, t := range m.types {
		if t.equal(ft) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

// ImportFunc imports a function and returns its index. Imports must be
// added before any Func.
func (m *Module) ImportFunc(module, name string, ft FuncType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmgen: function import after local function")
	}
	m.imports = append(m.imports, importEntry{
		module:  module,
		name:    name,
		kind:    KindFunc,
		typeIdx: m.typeIndex(ft),
	})
	m.importedFuncs++
	return m.importedFuncs - 1
}

// ImportMemory imports memory 0.
func (m *Module) ImportMemory(module, name string, limits Limits) {
	m.imports = append(m.imports, importEntry{
		module: module,
		name:   name,
		kind:   KindMemory,
		limits: limits,
	})
}

// Memory defines memory 0.
func (m *Module) Memory(limits Limits) {
	m.memory = &limits
}

// Func adds a function whose body is code followed by an implicit end.
func (m *Module) Func(ft FuncType, locals []ValType, code *Code) uint32 {
	m.funcs = append(m.funcs, function{
		typeIdx: m.typeIndex(ft),
		locals:  locals,
		body:    code.Bytes(),
	})
	return m.importedFuncs + uint32(len(m.funcs)-1)
}

// Global adds a global initialized to init and returns its index.
func (m *Module) Global(typ ValType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{typ: typ, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1)
}

// Export exports the entity of kind at idx under name.
func (m *Module) Export(name string, kind byte, idx uint32) {
	m.exports = append(m.exports, export{name: name, kind: kind, idx: idx})
}

// Encode returns the module in binary format.
func (m *Module) Encode() []byte {
	w := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.types)))
		for _, ft := range m.types {
			sec = append(sec, 0x60)
			sec = appendValTypes(sec, ft.Params)
			sec = appendValTypes(sec, ft.Results)
		}
		w = appendSection(w, sectionType, sec)
	}

	if len(m.imports) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.imports)))
		for _, imp := range m.imports {
			sec = appendName(sec, imp.module)
			sec = appendName(sec, imp.name)
			sec = append(sec, imp.kind)
			switch imp.kind {
			case KindFunc:
				sec = AppendULEB128(sec, uint64(imp.typeIdx))
			case KindMemory:
				sec = appendLimits(sec, imp.limits)
			}
		}
		w = appendSection(w, sectionImport, sec)
	}

	if len(m.funcs) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.funcs)))
		for _, f := range m.funcs {
			sec = AppendULEB128(sec, uint64(f.typeIdx))
		}
		w = appendSection(w, sectionFunction, sec)
	}

	if m.memory != nil {
		sec := AppendULEB128(nil, 1)
		sec = appendLimits(sec, *m.memory)
		w = appendSection(w, sectionMemory, sec)
	}

	if len(m.globals) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.globals)))
		for _, g := range m.globals {
			sec = append(sec, byte(g.typ))
			if g.mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			if g.typ == I64 {
				sec = append(sec, opI64Const)
			} else {
				sec = append(sec, opI32Const)
			}
			sec = AppendSLEB128(sec, g.init)
			sec = append(sec, opEnd)
		}
		w = appendSection(w, sectionGlobal, sec)
	}

	if len(m.exports) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.exports)))
		for _, e := range m.exports {
			sec = appendName(sec, e.name)
			sec = append(sec, e.kind)
			sec = AppendULEB128(sec, uint64(e.idx))
		}
		w = appendSection(w, sectionExport, sec)
	}

	if len(m.funcs) > 0 {
		sec := AppendULEB128(nil, uint64(len(m.funcs)))
		for _, f := range m.funcs {
			var body []byte
			body = AppendULEB128(body, uint64(len(f.locals)))
			for _, l := range f.locals {
				body = AppendULEB128(body, 1)
				body = append(body, byte(l))
			}
			body = append(body, f.body...)
			body = append(body, opEnd)
			sec = AppendULEB128(sec, uint64(len(body)))
			sec = append(sec, body...)
		}
		w = appendSection(w, sectionCode, sec)
	}

	return w
}

func appendSection(w []byte, id byte, data []byte) []byte {
	w = append(w, id)
	w = AppendULEB128(w, uint64(len(data)))
	return append(w, data...)
}

func appendName(w []byte, s string) []byte {
	w = AppendULEB128(w, uint64(len(s)))
	return append(w, s...)
}

func appendValTypes(w []byte, types []ValType) []byte {
	w = AppendULEB128(w, uint64(len(types)))
	for _, t := range types {
		w = append(w, byte(t))
	}
	return w
}

func appendLimits(w []byte, l Limits) []byte {
	if l.Max == 0 {
		w = append(w, 0x00)
		return AppendULEB128(w, uint64(l.Min))
	}
	w = append(w, 0x01)
	w = AppendULEB128(w, uint64(l.Min))
	return AppendULEB128(w, uint64(l.Max))
}
