package remotecall

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/dbgexpr/errors"
	"github.com/wippyai/dbgexpr/target"
)

// Discarder is a dematerializer handle that can be dropped.
type Discarder interface {
	Discard() error
}

// DetachedCall is a call left stopped inside the target. Whoever holds it
// owns the call's argument struct and its unconsumed dematerializer
// handle until Release.
type DetachedCall struct {
	Plan     *target.CallPlan
	handle   Discarder
	cleanups []func(context.Context) error
	mu       sync.Mutex
	released bool
}

var _ target.AdoptedCall = (*DetachedCall)(nil)

func newDetachedCall(plan *target.CallPlan) *DetachedCall {
	return &DetachedCall{Plan: plan}
}

// Attach hands the call a dematerializer handle and a cleanup that frees
// memory the call still uses. Either may be nil.
func (d *DetachedCall) Attach(handle Discarder, cleanup func(context.Context) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if handle != nil {
		d.handle = handle
	}
	if cleanup != nil {
		d.cleanups = append(d.cleanups, cleanup)
	}
}

// Release abandons the call: the handle is discarded without writeback and
// every cleanup runs. Only the first call does anything.
func (d *DetachedCall) Release(ctx context.Context) error {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return nil
	}
	d.released = true
	handle, cleanups := d.handle, d.cleanups
	d.handle, d.cleanups = nil, nil
	d.mu.Unlock()

	var first error
	if handle != nil {
		if err := handle.Discard(); err != nil && !errors.Is(err, errors.ErrHandleConsumed) {
			first = err
		}
	}
	for _, fn := range cleanups {
		if err := fn(ctx); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		Logger().Warn("release detached call", zap.Error(first))
	}
	return first
}

// Released reports whether Release ran.
func (d *DetachedCall) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}
