package heap_test

import (
	"testing"

	"github.com/mna/lumen/lang/heap"
	"github.com/stretchr/testify/require"
)

func TestInternStringCanonicalIdentity(t *testing.T) {
	h := heap.New(1<<20, 2)
	a := h.InternString("hello")
	b := h.InternString("hello")
	require.Equal(t, a, b)

	c := h.InternString("world")
	require.NotEqual(t, a, c)
}

func TestConcatReinterns(t *testing.T) {
	h := heap.New(1<<20, 2)
	a := h.InternString("foo")
	b := h.InternString("bar")
	cat := h.Concat(a, b)
	require.Equal(t, "foobar", h.GetString(cat))
	require.Equal(t, cat, h.InternString("foobar"))
}

func TestValueTruthiness(t *testing.T) {
	require.False(t, heap.Nil.Truthy())
	require.False(t, heap.Bool(false).Truthy())
	require.True(t, heap.Bool(true).Truthy())
	require.True(t, heap.Number(0).Truthy())
	require.True(t, heap.Number(-1).Truthy())
}

func TestValueEqual(t *testing.T) {
	require.True(t, heap.Equal(heap.Nil, heap.Nil))
	require.True(t, heap.Equal(heap.Number(1), heap.Number(1)))
	require.False(t, heap.Equal(heap.Number(1), heap.Bool(true)))
	require.False(t, heap.Equal(heap.Number(1), heap.Nil))
}

// noopRoots implements heap.RootsProvider with no roots, to test that
// objects with no surviving reference are swept.
type noopRoots struct{}

func (noopRoots) GCRoots(out *[]heap.Value) {}

func TestGCReclaimsUnreachableStrings(t *testing.T) {
	h := heap.New(1, 2) // tiny threshold forces a collection on next alloc
	h.SetRoots(noopRoots{})

	h.InternString("transient-one")
	before := h.Collections
	h.InternString("transient-two") // triggers another collection: the threshold is now only 8 bytes
	require.Greater(t, h.Collections, before)

	// transient-one had no root, so that collection swept it; interning the
	// same content again must still yield a string with that content.
	again := h.InternString("transient-one")
	require.Equal(t, "transient-one", h.GetString(again))
}

type stackRoots struct {
	stack []heap.Value
}

func (r *stackRoots) GCRoots(out *[]heap.Value) {
	*out = append(*out, r.stack...)
}

func TestGCKeepsRootedObjects(t *testing.T) {
	h := heap.New(1, 2)
	roots := &stackRoots{}
	h.SetRoots(roots)

	kept := h.InternString("kept-alive")
	roots.stack = append(roots.stack, heap.Object(kept))

	h.InternString("pressure-1")
	h.InternString("pressure-2")
	h.InternString("pressure-3")

	require.Equal(t, "kept-alive", h.GetString(kept))
}

func TestClassMethodTableCopyInherit(t *testing.T) {
	h := heap.New(1<<20, 2)
	super := h.NewClass(h.InternString("Base"))
	sub := h.NewClass(h.InternString("Derived"))

	greet := h.InternString("greet")
	fn, _ := h.NewFunction()
	closure := h.NewClosure(fn, 0)
	h.ClassMethods(super).Set(greet, heap.Object(closure))

	h.ClassMethods(super).CopyInto(h.ClassMethods(sub))

	v, ok := h.ClassMethods(sub).Get(greet)
	require.True(t, ok)
	require.Equal(t, closure, v.AsHandle())
}

func TestUpvalueOpenThenClosed(t *testing.T) {
	h := heap.New(1<<20, 2)
	up := h.NewOpenUpvalue(3)
	require.False(t, h.UpvalueIsClosed(up))
	require.Equal(t, 3, h.UpvalueLocation(up))

	h.CloseUpvalue(up, heap.Number(42))
	require.True(t, h.UpvalueIsClosed(up))
	require.Equal(t, float64(42), h.UpvalueClosedValue(up).AsNumber())
}
