package wasmgen

const (
	opUnreachable byte = 0x00
	opBlock       byte = 0x02
	opLoop        byte = 0x03
	opEnd         byte = 0x0b
	opBr          byte = 0x0c
	opBrIf        byte = 0x0d
	opReturn      byte = 0x0f
	opCall        byte = 0x10
	opDrop        byte = 0x1a
	opLocalGet    byte = 0x20
	opLocalSet    byte = 0x21
	opLocalTee    byte = 0x22
	opGlobalGet   byte = 0x23
	opGlobalSet   byte = 0x24
	opI32Load     byte = 0x28
	opI64Load     byte = 0x29
	opI32Store    byte = 0x36
	opI64Store    byte = 0x37
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opI32Eqz      byte = 0x45
	opI32Add      byte = 0x6a
	opI32Sub      byte = 0x6b
	opI32Mul      byte = 0x6c
	opI64Add      byte = 0x7c

	blockEmpty byte = 0x40
)

// Code accumulates a function body. Methods return the receiver so
// instructions chain.
type Code struct {
	buf []byte
}

// NewCode returns an empty body.
func NewCode() *Code {
	return &Code{}
}

// Bytes returns the encoded instructions without the final end.
func (c *Code) Bytes() []byte {
	return c.buf
}

func (c *Code) op(b byte) *Code {
	c.buf = append(c.buf, b)
	return c
}

func (c *Code) opU(b byte, v uint32) *Code {
	c.buf = append(c.buf, b)
	c.buf = AppendULEB128(c.buf, uint64(v))
	return c
}

func (c *Code) mem(b byte, align, offset uint32) *Code {
	c.buf = append(c.buf, b)
	c.buf = AppendULEB128(c.buf, uint64(align))
	c.buf = AppendULEB128(c.buf, uint64(offset))
	return c
}

func (c *Code) Unreachable() *Code       { return c.op(opUnreachable) }
func (c *Code) Block() *Code             { return c.op(opBlock).op(blockEmpty) }
func (c *Code) Loop() *Code              { return c.op(opLoop).op(blockEmpty) }
func (c *Code) End() *Code               { return c.op(opEnd) }
func (c *Code) Br(depth uint32) *Code    { return c.opU(opBr, depth) }
func (c *Code) BrIf(depth uint32) *Code  { return c.opU(opBrIf, depth) }
func (c *Code) Return() *Code            { return c.op(opReturn) }
func (c *Code) Call(idx uint32) *Code    { return c.opU(opCall, idx) }
func (c *Code) Drop() *Code              { return c.op(opDrop) }
func (c *Code) LocalGet(i uint32) *Code  { return c.opU(opLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.opU(opLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.opU(opLocalTee, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.opU(opGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.opU(opGlobalSet, i) }
func (c *Code) I32Eqz() *Code            { return c.op(opI32Eqz) }
func (c *Code) I32Add() *Code            { return c.op(opI32Add) }
func (c *Code) I32Sub() *Code            { return c.op(opI32Sub) }
func (c *Code) I32Mul() *Code            { return c.op(opI32Mul) }
func (c *Code) I64Add() *Code            { return c.op(opI64Add) }

// I32Load loads from the address on the stack plus offset.
func (c *Code) I32Load(offset uint32) *Code { return c.mem(opI32Load, 2, offset) }

// I64Load loads from the address on the stack plus offset.
func (c *Code) I64Load(offset uint32) *Code { return c.mem(opI64Load, 3, offset) }

// I32Store stores the top value at the address below it plus offset.
func (c *Code) I32Store(offset uint32) *Code { return c.mem(opI32Store, 2, offset) }

// I64Store stores the top value at the address below it plus offset.
func (c *Code) I64Store(offset uint32) *Code { return c.mem(opI64Store, 3, offset) }

func (c *Code) I32Const(v int32) *Code {
	c.buf = append(c.buf, opI32Const)
	c.buf = AppendSLEB128(c.buf, int64(v))
	return c
}

func (c *Code) I64Const(v int64) *Code {
	c.buf = append(c.buf, opI64Const)
	c.buf = AppendSLEB128(c.buf, v)
	return c
}
