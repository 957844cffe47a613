package registry

import (
	"context"
	"sync"

	"github.com/wippyai/dbgexpr/errors"
)

// ID identifies an image in a Registry. The zero ID is never issued.
type ID uint32

// Image is the backing image of a compiled unit loaded into a target.
type Image interface {
	Name() string
	Close(ctx context.Context) error
}

// Registry is an arena of images indexed by ID. Slots of removed images
// are recycled through a free list.
type Registry struct {
	entries  []entry
	freeList []ID
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	image Image
	valid bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries:  make([]entry, 0, 16),
		freeList: make([]ID, 0, 4),
	}
}

// Add stores img and returns its ID.
func (r *Registry) Add(img Image) (ID, error) {
	if img == nil {
		return 0, errors.InvalidInput(errors.PhaseRegistry, "nil image")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, errors.New(errors.PhaseRegistry, errors.KindInvalidState).
			Detail("registry closed").
			Build()
	}

	if len(r.freeList) > 0 {
		id := r.freeList[len(r.freeList)-1]
		r.freeList = r.freeList[:len(r.freeList)-1]
		e := &r.entries[id-1]
		e.image = img
		e.valid = true
		return id, nil
	}

	r.entries = append(r.entries, entry{image: img, valid: true})
	return ID(len(r.entries)), nil
}

// Get returns the image stored under id.
func (r *Registry) Get(id ID) (Image, bool) {
	if id == 0 {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := int(id) - 1
	if idx >= len(r.entries) || !r.entries[idx].valid {
		return nil, false
	}
	return r.entries[idx].image, true
}

// Remove detaches the image stored under id and closes it. It reports
// false when id does not name a live image, so removing twice is harmless.
func (r *Registry) Remove(ctx context.Context, id ID) (bool, error) {
	if id == 0 {
		return false, nil
	}

	r.mu.Lock()
	idx := int(id) - 1
	if idx >= len(r.entries) || !r.entries[idx].valid {
		r.mu.Unlock()
		return false, nil
	}
	img := r.entries[idx].image
	r.entries[idx].image = nil
	r.entries[idx].valid = false
	r.freeList = append(r.freeList, id)
	r.mu.Unlock()

	Logger().Debug("image removed", zapID(id), zapName(img.Name()))

	if err := img.Close(ctx); err != nil {
		return true, errors.Wrap(errors.PhaseRegistry, errors.KindInvalidState, err, "close image "+img.Name())
	}
	return true, nil
}

// Len returns the number of live images.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries) - len(r.freeList)
}

// Each calls fn for every live image until fn returns false.
func (r *Registry) Each(fn func(ID, Image) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, e := range r.entries {
		if e.valid && !fn(ID(i+1), e.image) {
			return
		}
	}
}

// Close closes every live image and rejects further additions.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var images []Image
	for i := range r.entries {
		if r.entries[i].valid {
			images = append(images, r.entries[i].image)
			r.entries[i].valid = false
			r.entries[i].image = nil
		}
	}
	r.entries = nil
	r.freeList = nil
	r.mu.Unlock()

	var first error
	for _, img := range images {
		if err := img.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
