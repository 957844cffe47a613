package layout

import "go.bytecodealliance.org/wit"

// Of returns the size and alignment of a fixed-size WIT type. ok is false
// for types whose values live out of line, such as strings and lists.
func Of(t wit.Type) (size, align uint32, ok bool) {
	switch t.(type) {
	case wit.U8, wit.S8, wit.Bool:
		return 1, 1, true
	case wit.U16, wit.S16:
		return 2, 2, true
	case wit.U32, wit.S32, wit.F32, wit.Char:
		return 4, 4, true
	case wit.U64, wit.S64, wit.F64:
		return 8, 8, true
	}
	return 0, 1, false
}

// Struct places slots one after another with natural padding.
type Struct struct {
	end   uint32
	align uint32
}

// Place reserves a slot and returns its offset.
func (s *Struct) Place(size, align uint32) uint32 {
	if align == 0 {
		align = 1
	}
	off := AlignTo(s.end, align)
	s.end = off + size
	if align > s.align {
		s.align = align
	}
	return off
}

// Align is the largest slot alignment, at least 1.
func (s *Struct) Align() uint32 {
	if s.align == 0 {
		return 1
	}
	return s.align
}

// Size is the struct size rounded up to its alignment. An empty struct
// still occupies one byte so that it has a distinct address.
func (s *Struct) Size() uint32 {
	if s.end == 0 {
		return 1
	}
	return AlignTo(s.end, s.Align())
}

// AlignTo rounds offset up to a multiple of align, a power of two.
func AlignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}
