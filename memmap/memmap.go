package memmap

import (
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/wippyai/dbgexpr"
	"github.com/wippyai/dbgexpr/errors"
)

// Policy selects where an allocation lives.
type Policy int

const (
	// PolicyHostOnly allocations exist only in the engine's address space.
	PolicyHostOnly Policy = iota
	// PolicyMirror allocations are reserved in the target and cached on the host.
	PolicyMirror
)

func (p Policy) String() string {
	switch p {
	case PolicyHostOnly:
		return "host-only"
	case PolicyMirror:
		return "mirror"
	default:
		return "unknown"
	}
}

// DefaultHostBase is the lowest address handed out for host-only memory.
const DefaultHostBase uint64 = 0x1000

// maxProbes bounds the search for free host-only space.
const maxProbes = 1024

// Process is the slice of process control the map needs.
type Process interface {
	dbgexpr.Memory
	dbgexpr.Allocator
	Alive() bool
	MappedRegion(addr uint64) (end uint64, mapped bool)
}

// Allocation describes one live allocation.
type Allocation struct {
	Addr   uint64
	Size   uint64
	Align  uint64
	Perms  dbgexpr.Permissions
	Policy Policy
}

// End returns the first address past the allocation.
func (a Allocation) End() uint64 {
	return a.Addr + a.Size
}

type allocation struct {
	data []byte
	Allocation
	base uint64
}

// Config holds Map options.
type Config struct {
	// HostBase is where the search for host-only space starts.
	// 0 means DefaultHostBase.
	HostBase uint64
}

// Map tracks scratch allocations made for one expression and routes memory
// accesses to the host cache or to the target.
type Map struct {
	proc     Process
	allocs   []*allocation
	hostBase uint64
	mu       sync.Mutex
	closed   bool
}

// New creates a map over proc. proc may be nil when no process is available,
// in which case only host-only allocations succeed.
func New(proc Process) *Map {
	return NewWithConfig(proc, nil)
}

// NewWithConfig creates a map with custom options.
func NewWithConfig(proc Process, cfg *Config) *Map {
	m := &Map{proc: proc, hostBase: DefaultHostBase}
	if cfg != nil && cfg.HostBase != 0 {
		m.hostBase = cfg.HostBase
	}
	return m
}

// Malloc allocates size bytes aligned to align under policy. The policy is
// never changed behind the caller's back: a mirrored request with no live
// process fails instead of falling back to host-only memory.
func (m *Map) Malloc(size, align uint64, perms dbgexpr.Permissions, policy Policy) (uint64, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return dbgexpr.InvalidAddress, errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Detail("alignment %d is not a power of two", align).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return dbgexpr.InvalidAddress, errors.AllocationFailed(size, align, errors.New(errors.PhaseAllocate, errors.KindInvalidState).Detail("memory map closed").Build())
	}

	a := &allocation{
		Allocation: Allocation{Size: size, Align: align, Perms: perms, Policy: policy},
		data:       make([]byte, size),
	}

	switch policy {
	case PolicyHostOnly:
		addr, err := m.findSpace(size, align)
		if err != nil {
			return dbgexpr.InvalidAddress, errors.AllocationFailed(size, align, err)
		}
		a.Addr = addr
		a.base = addr
	case PolicyMirror:
		if m.proc == nil || !m.proc.Alive() {
			return dbgexpr.InvalidAddress, errors.AllocationFailed(size, align,
				errors.NotInitialized(errors.PhaseAllocate, "live process for mirrored memory"))
		}
		base, err := m.proc.AllocateMemory(size+align-1, perms)
		if err != nil {
			return dbgexpr.InvalidAddress, errors.AllocationFailed(size, align, err)
		}
		a.base = base
		a.Addr = alignUp(base, align)
	default:
		return dbgexpr.InvalidAddress, errors.InvalidInput(errors.PhaseAllocate, "unknown allocation policy")
	}

	m.insert(a)

	Logger().Debug("allocated",
		zap.Stringer("policy", policy),
		zap.Uint64("addr", a.Addr),
		zap.String("size", humanize.IBytes(size)),
		zap.Stringer("perms", perms))

	return a.Addr, nil
}

// Free releases the allocation starting at addr.
func (m *Map) Free(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(addr)
	if idx < 0 {
		return errors.New(errors.PhaseAllocate, errors.KindNotFound).
			Detail("no allocation at 0x%x", addr).
			Build()
	}
	a := m.allocs[idx]
	m.allocs = append(m.allocs[:idx], m.allocs[idx+1:]...)
	return m.release(a)
}

// Leak stops tracking the allocation at addr without freeing it. The
// caller becomes responsible for the memory.
func (m *Map) Leak(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(addr)
	if idx < 0 {
		return errors.New(errors.PhaseAllocate, errors.KindNotFound).
			Detail("no allocation at 0x%x", addr).
			Build()
	}
	m.allocs = append(m.allocs[:idx], m.allocs[idx+1:]...)
	return nil
}

// Detach stops tracking the allocation at addr and returns a function
// that frees it. Close no longer frees a detached allocation.
func (m *Map) Detach(addr uint64) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(addr)
	if idx < 0 {
		return nil, errors.New(errors.PhaseAllocate, errors.KindNotFound).
			Detail("no allocation at 0x%x", addr).
			Build()
	}
	a := m.allocs[idx]
	m.allocs = append(m.allocs[:idx], m.allocs[idx+1:]...)

	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			err = m.release(a)
		})
		return err
	}, nil
}

// ReadMemory reads size bytes at addr. Host-only ranges come from the host
// cache, mirrored ranges from the live target (refreshing the cache), and
// any other address straight from the target.
func (m *Map) ReadMemory(addr, size uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.containing(addr, size)
	if err != nil {
		return nil, err
	}
	if a == nil {
		if m.proc == nil || !m.proc.Alive() {
			return nil, errors.OutOfBounds(errors.PhaseAllocate, addr, size)
		}
		return m.proc.ReadMemory(addr, size)
	}

	off := addr - a.Addr
	if a.Policy == PolicyMirror && m.proc != nil && m.proc.Alive() {
		data, err := m.proc.ReadMemory(addr, size)
		if err != nil {
			return nil, err
		}
		copy(a.data[off:off+size], data)
	}

	out := make([]byte, size)
	copy(out, a.data[off:off+size])
	return out, nil
}

// WriteMemory writes data at addr. Host-only ranges are never written to
// the target.
func (m *Map) WriteMemory(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := uint64(len(data))
	a, err := m.containing(addr, size)
	if err != nil {
		return err
	}
	if a == nil {
		if m.proc == nil || !m.proc.Alive() {
			return errors.OutOfBounds(errors.PhaseAllocate, addr, size)
		}
		return m.proc.WriteMemory(addr, data)
	}

	off := addr - a.Addr
	if a.Policy == PolicyMirror {
		if m.proc == nil || !m.proc.Alive() {
			return errors.NotInitialized(errors.PhaseAllocate, "live process for mirrored memory")
		}
		if err := m.proc.WriteMemory(addr, data); err != nil {
			return err
		}
	}
	copy(a.data[off:off+size], data)
	return nil
}

// IsHostOnly reports whether addr falls inside a host-only allocation.
func (m *Map) IsHostOnly(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.containing(addr, 1)
	return err == nil && a != nil && a.Policy == PolicyHostOnly
}

// Allocations returns the live allocations ordered by address.
func (m *Map) Allocations() []Allocation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Allocation, len(m.allocs))
	for i, a := range m.allocs {
		out[i] = a.Allocation
	}
	return out
}

// Close frees every tracked allocation. Calling Close again is a no-op.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var first error
	for _, a := range m.allocs {
		if err := m.release(a); err != nil && first == nil {
			first = err
		}
	}
	m.allocs = nil
	return first
}

func (m *Map) release(a *allocation) error {
	if a.Policy != PolicyMirror || m.proc == nil || !m.proc.Alive() {
		return nil
	}
	if err := m.proc.DeallocateMemory(a.base); err != nil {
		return errors.Wrap(errors.PhaseAllocate, errors.KindAllocation, err, "release mirrored memory")
	}
	return nil
}

// findSpace picks a host-only range that overlaps neither another
// allocation nor memory mapped in the target.
func (m *Map) findSpace(size, align uint64) (uint64, error) {
	candidate := alignUp(m.hostBase, align)
	checkTarget := m.proc != nil && m.proc.Alive()

	for range maxProbes {
		if candidate+size < candidate {
			break
		}
		if a := m.overlapping(candidate, size); a != nil {
			candidate = alignUp(a.End(), align)
			continue
		}
		if checkTarget {
			end, mapped := m.proc.MappedRegion(candidate)
			if mapped {
				if end == dbgexpr.InvalidAddress || end <= candidate {
					break
				}
				candidate = alignUp(end, align)
				continue
			}
			if end != dbgexpr.InvalidAddress && candidate+size > end {
				candidate = alignUp(end, align)
				continue
			}
		}
		return candidate, nil
	}

	return 0, errors.New(errors.PhaseAllocate, errors.KindAllocation).
		Detail("no free host-only range of %d bytes", size).
		Build()
}

func (m *Map) insert(a *allocation) {
	idx := sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].Addr >= a.Addr })
	m.allocs = append(m.allocs, nil)
	copy(m.allocs[idx+1:], m.allocs[idx:])
	m.allocs[idx] = a
}

func (m *Map) indexOf(addr uint64) int {
	for i, a := range m.allocs {
		if a.Addr == addr {
			return i
		}
	}
	return -1
}

func (m *Map) overlapping(addr, size uint64) *allocation {
	for _, a := range m.allocs {
		if addr < a.End() && a.Addr < addr+size {
			return a
		}
	}
	return nil
}

// containing returns the allocation holding [addr, addr+size), nil when the
// range touches no allocation, and an error when it straddles a boundary.
func (m *Map) containing(addr, size uint64) (*allocation, error) {
	if size == 0 {
		size = 1
	}
	a := m.overlapping(addr, size)
	if a == nil {
		return nil, nil
	}
	if addr < a.Addr || addr+size > a.End() {
		return nil, errors.OutOfBounds(errors.PhaseAllocate, addr, size)
	}
	return a, nil
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
