package registry

import (
	"context"
	"errors"
	"testing"
)

type testImage struct {
	name   string
	closed int
	err    error
}

func (i *testImage) Name() string { return i.name }

func (i *testImage) Close(context.Context) error {
	i.closed++
	return i.err
}

func TestRegistry_Basic(t *testing.T) {
	ctx := context.Background()
	r := New()

	img := &testImage{name: "expr-1"}
	id, err := r.Add(img)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	got, ok := r.Get(id)
	if !ok || got != img {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	removed, err := r.Remove(ctx, id)
	if err != nil || !removed {
		t.Fatalf("Remove = %v, %v", removed, err)
	}
	if img.closed != 1 {
		t.Errorf("image closed %d times, want 1", img.closed)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_DoubleRemove(t *testing.T) {
	ctx := context.Background()
	r := New()
	img := &testImage{name: "expr"}
	id, _ := r.Add(img)

	if removed, _ := r.Remove(ctx, id); !removed {
		t.Fatal("first Remove should report removal")
	}
	removed, err := r.Remove(ctx, id)
	if removed || err != nil {
		t.Fatalf("second Remove = %v, %v; want false, nil", removed, err)
	}
	if img.closed != 1 {
		t.Errorf("image closed %d times, want 1", img.closed)
	}
}

func TestRegistry_ZeroAndUnknownIDs(t *testing.T) {
	r := New()
	if _, ok := r.Get(0); ok {
		t.Error("Get(0) should fail")
	}
	if _, ok := r.Get(42); ok {
		t.Error("Get(unknown) should fail")
	}
	if removed, _ := r.Remove(context.Background(), 42); removed {
		t.Error("Remove(unknown) should report false")
	}
}

func TestRegistry_SlotReuse(t *testing.T) {
	ctx := context.Background()
	r := New()

	a, _ := r.Add(&testImage{name: "a"})
	b, _ := r.Add(&testImage{name: "b"})
	_, _ = r.Remove(ctx, a)

	c, _ := r.Add(&testImage{name: "c"})
	if c != a {
		t.Errorf("expected freed slot %d to be reused, got %d", a, c)
	}
	img, _ := r.Get(c)
	if img.Name() != "c" {
		t.Errorf("slot holds %q, want c", img.Name())
	}
	if img, _ := r.Get(b); img.Name() != "b" {
		t.Errorf("slot %d holds %q, want b", b, img.Name())
	}
}

func TestRegistry_RemoveCloseError(t *testing.T) {
	boom := errors.New("boom")
	r := New()
	id, _ := r.Add(&testImage{name: "x", err: boom})

	removed, err := r.Remove(context.Background(), id)
	if !removed {
		t.Error("image should be detached even when Close fails")
	}
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}

func TestRegistry_Close(t *testing.T) {
	ctx := context.Background()
	r := New()
	imgs := []*testImage{{name: "a"}, {name: "b"}}
	for _, img := range imgs {
		if _, err := r.Add(img); err != nil {
			t.Fatal(err)
		}
	}

	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	for _, img := range imgs {
		if img.closed != 1 {
			t.Errorf("%s closed %d times", img.name, img.closed)
		}
	}
	if err := r.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := r.Add(&testImage{name: "late"}); err == nil {
		t.Error("Add after Close should fail")
	}
}

func TestRegistry_Each(t *testing.T) {
	r := New()
	_, _ = r.Add(&testImage{name: "a"})
	_, _ = r.Add(&testImage{name: "b"})

	var names []string
	r.Each(func(_ ID, img Image) bool {
		names = append(names, img.Name())
		return true
	})
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Each visited %v", names)
	}
}
