package materializer

import (
	"bytes"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/memmap"
	"github.com/wippyai/dbgexpr/target"
)

// Memory is the scratch memory the materializer packs into.
// *memmap.Map implements it.
type Memory interface {
	dbgexpr.Memory
	Malloc(size, align uint64, perms dbgexpr.Permissions, policy memmap.Policy) (uint64, error)
	Free(addr uint64) error
	Leak(addr uint64) error
}

// Materializer packs bindings into an argument struct following a layout.
// It tracks live handles so that one struct address never has two.
type Materializer struct {
	layout *Layout
	live   map[uint64]*Dematerializer
	policy memmap.Policy
	mu     sync.Mutex
}

// New creates a materializer for layout. Temporaries and result storage
// are allocated under policy.
func New(l *Layout, policy memmap.Policy) *Materializer {
	return &Materializer{
		layout: l,
		policy: policy,
		live:   make(map[uint64]*Dematerializer),
	}
}

// Layout returns the struct layout.
func (m *Materializer) Layout() *Layout {
	return m.layout
}

// Live reports whether addr has an unconsumed handle.
func (m *Materializer) Live(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[addr]
	return ok
}

type boundVar struct {
	variable target.Variable
	original []byte
	field    Field
	temp     uint64
}

// Materialize snapshots every binding, writes the argument struct at addr
// and returns the handle that undoes or finalizes the packing. On failure
// every allocation made here is released and no handle is registered.
func (m *Materializer) Materialize(frame target.Frame, mem Memory, addr uint64) (*Dematerializer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live[addr]; ok {
		return nil, errors.New(errors.PhaseMaterialize, errors.KindHandleLive).
			Value(addr).
			Detail("struct at 0x%x already has a live dematerializer", addr).
			Build()
	}
	if mem == nil {
		return nil, errors.NotInitialized(errors.PhaseMaterialize, "memory")
	}
	if frame == nil && len(m.layout.Fields) > 0 {
		return nil, errors.InvalidInput(errors.PhaseMaterialize, "bindings require a frame")
	}

	d := &Dematerializer{
		owner:  m,
		mem:    mem,
		addr:   addr,
		result: dbgexpr.InvalidAddress,
	}
	buf := make([]byte, m.layout.Size)
	ptrSize := m.layout.PointerSize

	for _, f := range m.layout.Fields {
		v, err := frame.FindVariable(f.Name)
		if err != nil {
			d.release()
			return nil, errors.New(errors.PhaseMaterialize, errors.KindNotFound).
				Path(f.Name).
				Detail("variable lookup failed").
				Cause(err).
				Build()
		}
		data, err := v.Value()
		if err != nil {
			d.release()
			return nil, errors.New(errors.PhaseMaterialize, errors.KindInvalidData).
				Path(f.Name).
				Detail("read variable").
				Cause(err).
				Build()
		}
		if uint32(len(data)) != f.ValueSize {
			d.release()
			return nil, errors.New(errors.PhaseMaterialize, errors.KindInvalidData).
				Path(f.Name).
				Detail("variable has %d bytes, layout expects %d", len(data), f.ValueSize).
				Build()
		}

		b := &boundVar{
			field:    f,
			variable: v,
			original: append([]byte(nil), data...),
			temp:     dbgexpr.InvalidAddress,
		}
		d.bindings = append(d.bindings, b)

		if f.Mode == ByValue {
			copy(buf[f.Offset:], data)
			continue
		}

		// Host-side interpretation only sees scratch memory, so host-only
		// packing always goes through a temporary.
		if a, ok := v.Address(); ok && m.policy == memmap.PolicyMirror {
			putPointer(buf[f.Offset:], ptrSize, a)
			continue
		}
		tmp, err := mem.Malloc(uint64(f.ValueSize), uint64(f.ValueAlign), dbgexpr.PermReadWrite, m.policy)
		if err != nil {
			d.release()
			return nil, errors.New(errors.PhaseMaterialize, errors.KindAllocation).
				Path(f.Name).
				Detail("temporary storage").
				Cause(err).
				Build()
		}
		b.temp = tmp
		if err := mem.WriteMemory(tmp, data); err != nil {
			d.release()
			return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindOutOfBounds, err, "write temporary for "+f.Name)
		}
		putPointer(buf[f.Offset:], ptrSize, tmp)
	}

	if r := m.layout.Result; r != nil {
		res, err := mem.Malloc(uint64(r.ValueSize), uint64(r.ValueAlign), dbgexpr.PermReadWrite, m.policy)
		if err != nil {
			d.release()
			return nil, errors.New(errors.PhaseMaterialize, errors.KindAllocation).
				Path(r.Name).
				Detail("result storage").
				Cause(err).
				Build()
		}
		d.result = res
		if err := mem.WriteMemory(res, make([]byte, r.ValueSize)); err != nil {
			d.release()
			return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindOutOfBounds, err, "clear result storage")
		}
		putPointer(buf[r.Offset:], ptrSize, res)
	}

	if err := mem.WriteMemory(addr, buf); err != nil {
		d.release()
		return nil, errors.Wrap(errors.PhaseMaterialize, errors.KindOutOfBounds, err, "write argument struct")
	}

	m.live[addr] = d
	Logger().Debug("materialized",
		zap.Uint64("struct", addr),
		zap.Int("bindings", len(d.bindings)),
		zap.Uint32("size", m.layout.Size))
	return d, nil
}

func (m *Materializer) unregister(d *Dematerializer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live[d.addr] == d {
		delete(m.live, d.addr)
	}
}

// Dematerializer is the single-use handle returned by Materialize.
// Exactly one of Dematerialize, Restore or Discard may be called.
type Dematerializer struct {
	owner    *Materializer
	mem      Memory
	bindings []*boundVar
	addr     uint64
	result   uint64
	mu       sync.Mutex
	consumed bool
}

// Address returns the argument struct address the handle belongs to.
func (d *Dematerializer) Address() uint64 {
	return d.addr
}

// Consumed reports whether the handle was used.
func (d *Dematerializer) Consumed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumed
}

func (d *Dematerializer) consume(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consumed {
		return errors.HandleConsumed(op)
	}
	d.consumed = true
	d.owner.unregister(d)
	return nil
}

// Dematerialize copies mutated values back into the bindings, frees the
// temporaries and builds the result variable. A result pointer inside
// [stackBottom, stackTop) points into a stack that is about to disappear,
// so its bytes are copied out and the variable has no live address.
// A layout without a result yields a nil variable.
func (d *Dematerializer) Dematerialize(stackBottom, stackTop uint64) (*ResultVariable, error) {
	if err := d.consume("dematerialize"); err != nil {
		return nil, err
	}

	l := d.owner.layout
	buf, err := d.mem.ReadMemory(d.addr, uint64(l.Size))
	if err != nil {
		d.release()
		return nil, errors.Wrap(errors.PhaseFinalize, errors.KindOutOfBounds, err, "read argument struct")
	}

	var firstErr error
	for _, b := range d.bindings {
		if err := d.writeBack(b, buf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		d.releaseResult()
		return nil, firstErr
	}

	if l.Result == nil {
		d.releaseResult()
		return nil, nil
	}

	r := l.Result
	ptr := readPointer(buf[r.Offset:], l.PointerSize)
	data, err := d.mem.ReadMemory(ptr, uint64(r.ValueSize))
	if err != nil {
		d.releaseResult()
		return nil, errors.New(errors.PhaseFinalize, errors.KindOutOfBounds).
			Path(r.Name).
			Value(ptr).
			Detail("result pointer 0x%x is unreadable", ptr).
			Cause(err).
			Build()
	}

	rv := &ResultVariable{
		Name:    r.Name,
		Type:    r.Type,
		Data:    data,
		Address: ptr,
		mem:     d.mem,
	}
	switch {
	case ptr >= stackBottom && ptr < stackTop:
		rv.Address = dbgexpr.InvalidAddress
		d.releaseResult()
	case ptr == d.result:
		rv.LiveAddress = true
		rv.owned = true
	default:
		rv.LiveAddress = true
		d.releaseResult()
	}

	Logger().Debug("dematerialized",
		zap.Uint64("struct", d.addr),
		zap.Uint64("result", ptr),
		zap.Bool("live_address", rv.LiveAddress))
	return rv, nil
}

func (d *Dematerializer) writeBack(b *boundVar, buf []byte) error {
	f := b.field
	var cur []byte
	switch {
	case f.Mode == ByValue:
		cur = buf[f.Offset : f.Offset+f.ValueSize]
	case b.temp != dbgexpr.InvalidAddress:
		data, err := d.mem.ReadMemory(b.temp, uint64(f.ValueSize))
		ferr := d.mem.Free(b.temp)
		b.temp = dbgexpr.InvalidAddress
		if err != nil {
			return errors.Wrap(errors.PhaseFinalize, errors.KindOutOfBounds, err, "read temporary for "+f.Name)
		}
		if ferr != nil {
			Logger().Warn("free temporary", zap.String("binding", f.Name), zap.Error(ferr))
		}
		cur = data
	default:
		// The expression wrote the variable's own storage.
		return nil
	}

	if bytes.Equal(cur, b.original) {
		return nil
	}
	if err := b.variable.SetValue(append([]byte(nil), cur...)); err != nil {
		return errors.New(errors.PhaseFinalize, errors.KindInvalidData).
			Path(f.Name).
			Detail("write back").
			Cause(err).
			Build()
	}
	return nil
}

// Restore writes the snapshot taken at materialization back into every
// binding and releases the handle's scratch memory.
func (d *Dematerializer) Restore() error {
	if err := d.consume("restore"); err != nil {
		return err
	}
	defer d.release()

	var firstErr error
	for _, b := range d.bindings {
		if err := b.variable.SetValue(append([]byte(nil), b.original...)); err != nil && firstErr == nil {
			firstErr = errors.New(errors.PhaseFinalize, errors.KindInvalidData).
				Path(b.field.Name).
				Detail("restore").
				Cause(err).
				Build()
		}
	}
	return firstErr
}

// TakeScratch returns the temporaries and result storage the handle
// allocated and stops the handle from freeing them. The caller owns the
// returned addresses.
func (d *Dematerializer) TakeScratch() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []uint64
	for _, b := range d.bindings {
		if b.temp != dbgexpr.InvalidAddress {
			out = append(out, b.temp)
			b.temp = dbgexpr.InvalidAddress
		}
	}
	if d.result != dbgexpr.InvalidAddress {
		out = append(out, d.result)
		d.result = dbgexpr.InvalidAddress
	}
	return out
}

// Discard drops the handle without writing anything back.
func (d *Dematerializer) Discard() error {
	if err := d.consume("discard"); err != nil {
		return err
	}
	d.release()
	return nil
}

func (d *Dematerializer) release() {
	for _, b := range d.bindings {
		if b.temp == dbgexpr.InvalidAddress {
			continue
		}
		if err := d.mem.Free(b.temp); err != nil {
			Logger().Warn("free temporary", zap.String("binding", b.field.Name), zap.Error(err))
		}
		b.temp = dbgexpr.InvalidAddress
	}
	d.releaseResult()
}

func (d *Dematerializer) releaseResult() {
	if d.result == dbgexpr.InvalidAddress {
		return
	}
	if err := d.mem.Free(d.result); err != nil {
		Logger().Warn("free result storage", zap.Uint64("addr", d.result), zap.Error(err))
	}
	d.result = dbgexpr.InvalidAddress
}
