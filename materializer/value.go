package materializer

import (
	"encoding/binary"
	"fmt"
	"math"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/dbgexpr/errors"
)

// Encode converts a Go value into the little-endian bytes of WIT type t.
func Encode(t wit.Type, v any) ([]byte, error) {
	switch t.(type) {
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch(t, v)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case wit.F32:
		f, ok := toFloat(v)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil
	case wit.F64:
		f, ok := toFloat(v)
		if !ok {
			return nil, mismatch(t, v)
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)), nil
	}

	n, ok := toInt(v)
	if !ok {
		return nil, mismatch(t, v)
	}
	switch t.(type) {
	case wit.U8, wit.S8:
		return []byte{byte(n)}, nil
	case wit.U16, wit.S16:
		return binary.LittleEndian.AppendUint16(nil, uint16(n)), nil
	case wit.U32, wit.S32, wit.Char:
		return binary.LittleEndian.AppendUint32(nil, uint32(n)), nil
	case wit.U64, wit.S64:
		return binary.LittleEndian.AppendUint64(nil, uint64(n)), nil
	}
	return nil, errors.Unsupported(errors.PhaseMaterialize, fmt.Sprintf("encode %T", t))
}

// Decode converts little-endian bytes of WIT type t into a Go value.
func Decode(t wit.Type, data []byte) (any, error) {
	switch t.(type) {
	case wit.Bool:
		if len(data) < 1 {
			return nil, short(t, data)
		}
		return data[0] != 0, nil
	case wit.U8:
		if len(data) < 1 {
			return nil, short(t, data)
		}
		return data[0], nil
	case wit.S8:
		if len(data) < 1 {
			return nil, short(t, data)
		}
		return int8(data[0]), nil
	case wit.U16:
		if len(data) < 2 {
			return nil, short(t, data)
		}
		return binary.LittleEndian.Uint16(data), nil
	case wit.S16:
		if len(data) < 2 {
			return nil, short(t, data)
		}
		return int16(binary.LittleEndian.Uint16(data)), nil
	case wit.U32:
		if len(data) < 4 {
			return nil, short(t, data)
		}
		return binary.LittleEndian.Uint32(data), nil
	case wit.S32:
		if len(data) < 4 {
			return nil, short(t, data)
		}
		return int32(binary.LittleEndian.Uint32(data)), nil
	case wit.Char:
		if len(data) < 4 {
			return nil, short(t, data)
		}
		return rune(binary.LittleEndian.Uint32(data)), nil
	case wit.U64:
		if len(data) < 8 {
			return nil, short(t, data)
		}
		return binary.LittleEndian.Uint64(data), nil
	case wit.S64:
		if len(data) < 8 {
			return nil, short(t, data)
		}
		return int64(binary.LittleEndian.Uint64(data)), nil
	case wit.F32:
		if len(data) < 4 {
			return nil, short(t, data)
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case wit.F64:
		if len(data) < 8 {
			return nil, short(t, data)
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	}
	return nil, errors.Unsupported(errors.PhaseFinalize, fmt.Sprintf("decode %T", t))
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	}
	if n, ok := toInt(v); ok {
		return float64(n), true
	}
	return 0, false
}

func mismatch(t wit.Type, v any) error {
	return errors.New(errors.PhaseMaterialize, errors.KindInvalidInput).
		Value(v).
		Detail("cannot encode %T as %T", v, t).
		Build()
}

func short(t wit.Type, data []byte) error {
	return errors.New(errors.PhaseFinalize, errors.KindInvalidData).
		Detail("%d bytes are too few for %T", len(data), t).
		Build()
}

func putPointer(dst []byte, size uint32, addr uint64) {
	if size == 4 {
		binary.LittleEndian.PutUint32(dst, uint32(addr))
		return
	}
	binary.LittleEndian.PutUint64(dst, addr)
}

func readPointer(src []byte, size uint32) uint64 {
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(src))
	}
	return binary.LittleEndian.Uint64(src)
}
