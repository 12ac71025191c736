package heap

import (
	"fmt"

	"github.com/dolthub/swiss"
	"golang.org/x/exp/slices"
)

// approxObjSize is the flat per-object byte estimate used to drive the GC's
// trigger heuristic for non-string objects. Precise accounting of
// heterogeneous Go struct sizes is not a testable property of the VM (only
// monotonic growth toward nextGC is); a flat estimate keeps the trigger
// policy simple.
const approxObjSize = 64

// RootsProvider is implemented by the VM to expose its GC roots: every Value
// on the operand stack, every frame's closure, every open upvalue, and every
// entry of the globals table. The Heap calls it at the start of every
// collection.
type RootsProvider interface {
	GCRoots(out *[]Value)
}

// arena is a handle-indexed, pointer-stable object pool with free-list reuse
// of reclaimed slots. Storing *T (rather than T) means growing the backing
// slice never invalidates a previously returned pointer.
type arena[T any] struct {
	items []*T
	free  []uint32
}

// alloc reuses the lowest free index first, keeping live objects compacted
// toward the front of the backing slice as reclaimed slots churn.
func (a *arena[T]) alloc() (uint32, *T) {
	if n := len(a.free); n > 0 {
		idx := a.free[0]
		a.free = a.free[1:]
		if a.items[idx] == nil {
			a.items[idx] = new(T)
		}
		return idx, a.items[idx]
	}
	p := new(T)
	a.items = append(a.items, p)
	return uint32(len(a.items) - 1), p
}

func (a *arena[T]) get(idx uint32) *T { return a.items[idx] }

// release returns idx to the free list, kept sorted ascending so alloc's
// reuse order stays lowest-index-first.
func (a *arena[T]) release(idx uint32) {
	a.items[idx] = nil
	i, _ := slices.BinarySearch(a.free, idx)
	a.free = slices.Insert(a.free, i, idx)
}

// Heap owns every object the VM and compiler allocate: the string-intern
// table and the per-variant arenas for Function, Closure, Upvalue, Class,
// Instance, and BoundMethod. It is VM-private and not safe for concurrent
// use.
type Heap struct {
	strings      arena[stringObj]
	functions    arena[functionObj]
	closures     arena[closureObj]
	upvalues     arena[upvalueObj]
	classes      arena[classObj]
	instances    arena[instanceObj]
	boundMethods arena[boundMethodObj]

	intern *swiss.Map[string, Handle]

	bytesAllocated int
	nextGC         int
	growthFactor   float64

	vmRoots       RootsProvider
	compilerRoots []Value

	initString Handle

	Collections int // number of completed GC cycles, exposed for tests/metrics
}

// New returns a Heap that triggers its first collection once bytesAllocated
// reaches initialThreshold, growing the threshold by growthFactor after
// every collection.
func New(initialThreshold int, growthFactor float64) *Heap {
	h := &Heap{
		intern:       swiss.NewMap[string, Handle](64),
		nextGC:       initialThreshold,
		growthFactor: growthFactor,
	}
	h.initString = h.InternString("init")
	return h
}

// SetRoots registers the VM as the heap's root provider. Called once, after
// the VM and its Heap are both constructed.
func (h *Heap) SetRoots(p RootsProvider) { h.vmRoots = p }

// PushCompilerRoot marks v as reachable for the duration of compilation, so
// a collection triggered mid-compile cannot reclaim a function or constant
// the compiler is still building.
func (h *Heap) PushCompilerRoot(v Value) {
	h.compilerRoots = append(h.compilerRoots, v)
}

// PopCompilerRoot removes the most recently pushed compiler root.
func (h *Heap) PopCompilerRoot() {
	h.compilerRoots = h.compilerRoots[:len(h.compilerRoots)-1]
}

// InitString returns the interned handle for "init", used by the VM to
// recognize constructor methods.
func (h *Heap) InitString() Handle { return h.initString }

func (h *Heap) maybeCollect() {
	if h.bytesAllocated >= h.nextGC {
		h.collectGarbage()
	}
}

// InternString returns the canonical Handle for s, allocating a new String
// object only if s has not been seen before. Two equal strings always share
// one handle.
func (h *Heap) InternString(s string) Handle {
	if hnd, ok := h.intern.Get(s); ok {
		return hnd
	}
	h.maybeCollect()
	idx, obj := h.strings.alloc()
	obj.chars = s
	obj.marked = false
	hnd := Handle{Type: ObjString, Idx: idx}
	h.bytesAllocated += len(s)
	h.intern.Put(s, hnd)
	return hnd
}

// StringValue is a convenience wrapping InternString in a Value.
func (h *Heap) StringValue(s string) Value { return Object(h.InternString(s)) }

// Concat interns and returns the concatenation of two strings, per the ADD
// opcode's String+String case.
func (h *Heap) Concat(a, b Handle) Handle {
	as := h.GetString(a)
	bs := h.GetString(b)
	return h.InternString(as + bs)
}

// GetString returns the content of the string denoted by handle.
func (h *Heap) GetString(handle Handle) string {
	return h.strings.get(handle.Idx).chars
}

// NewFunction allocates a fresh, initially empty Function object and returns
// its handle together with a pointer the compiler fills in incrementally
// (chunk, arity, upvalues) as it compiles the function body. The object is
// never mutated again once compilation of that function completes.
func (h *Heap) NewFunction() (Handle, *FunctionBuilder) {
	h.maybeCollect()
	idx, obj := h.functions.alloc()
	*obj = functionObj{}
	h.bytesAllocated += approxObjSize
	return Handle{Type: ObjFunction, Idx: idx}, &FunctionBuilder{h: h, idx: idx}
}

// FunctionBuilder lets the compiler populate a Function object field by
// field while it is being compiled, without exposing the arena internals.
type FunctionBuilder struct {
	h   *Heap
	idx uint32
}

func (b *FunctionBuilder) SetName(name Handle) {
	obj := b.h.functions.get(b.idx)
	obj.name = name
	obj.hasName = true
}
func (b *FunctionBuilder) SetArity(n int) { b.h.functions.get(b.idx).arity = n }
func (b *FunctionBuilder) AddUpvalue(desc UpvalueDesc) {
	obj := b.h.functions.get(b.idx)
	obj.upvalues = append(obj.upvalues, desc)
}
func (b *FunctionBuilder) Chunk() *Chunk { return &b.h.functions.get(b.idx).chunk }
func (b *FunctionBuilder) NumUpvalues() int { return len(b.h.functions.get(b.idx).upvalues) }

// FunctionArity, FunctionChunk, FunctionUpvalues, FunctionName expose a
// compiled Function's fields to the VM.
func (h *Heap) FunctionArity(handle Handle) int    { return h.functions.get(handle.Idx).arity }
func (h *Heap) FunctionChunk(handle Handle) *Chunk { return &h.functions.get(handle.Idx).chunk }
func (h *Heap) FunctionUpvalues(handle Handle) []UpvalueDesc {
	return h.functions.get(handle.Idx).upvalues
}
func (h *Heap) FunctionName(handle Handle) (Handle, bool) {
	obj := h.functions.get(handle.Idx)
	return obj.name, obj.hasName
}

// NewClosure allocates a Closure pairing fn with nUpvalues empty upvalue
// slots, one per the function's upvalue descriptors. Each slot is filled in
// by the VM's CLOSURE opcode handling immediately after allocation.
func (h *Heap) NewClosure(fn Handle, nUpvalues int) Handle {
	h.maybeCollect()
	idx, obj := h.closures.alloc()
	obj.function = fn
	obj.upvalues = make([]Handle, nUpvalues)
	obj.marked = false
	h.bytesAllocated += approxObjSize + nUpvalues*8
	return Handle{Type: ObjClosure, Idx: idx}
}

func (h *Heap) ClosureFunction(handle Handle) Handle { return h.closures.get(handle.Idx).function }
func (h *Heap) ClosureUpvalues(handle Handle) []Handle {
	return h.closures.get(handle.Idx).upvalues
}
func (h *Heap) SetClosureUpvalue(handle Handle, slot int, up Handle) {
	h.closures.get(handle.Idx).upvalues[slot] = up
}

// NewOpenUpvalue allocates an upvalue that reads/writes through stack index
// location.
func (h *Heap) NewOpenUpvalue(location int) Handle {
	h.maybeCollect()
	idx, obj := h.upvalues.alloc()
	obj.location = location
	obj.isClosed = false
	obj.closed = Nil
	obj.marked = false
	h.bytesAllocated += approxObjSize
	return Handle{Type: ObjUpvalue, Idx: idx}
}

func (h *Heap) UpvalueLocation(handle Handle) int { return h.upvalues.get(handle.Idx).location }
func (h *Heap) UpvalueIsClosed(handle Handle) bool { return h.upvalues.get(handle.Idx).isClosed }
func (h *Heap) UpvalueClosedValue(handle Handle) Value { return h.upvalues.get(handle.Idx).closed }
func (h *Heap) CloseUpvalue(handle Handle, v Value) {
	obj := h.upvalues.get(handle.Idx)
	obj.closed = v
	obj.isClosed = true
}

// NewClass allocates a class named name with an empty method table.
func (h *Heap) NewClass(name Handle) Handle {
	h.maybeCollect()
	idx, obj := h.classes.alloc()
	obj.name = name
	obj.methods = NewStringMap(0)
	obj.marked = false
	h.bytesAllocated += approxObjSize
	return Handle{Type: ObjClass, Idx: idx}
}

func (h *Heap) ClassName(handle Handle) Handle       { return h.classes.get(handle.Idx).name }
func (h *Heap) ClassMethods(handle Handle) *StringMap { return h.classes.get(handle.Idx).methods }

// NewInstance allocates an instance of class with an empty field table.
func (h *Heap) NewInstance(class Handle) Handle {
	h.maybeCollect()
	idx, obj := h.instances.alloc()
	obj.class = class
	obj.fields = NewStringMap(0)
	obj.marked = false
	h.bytesAllocated += approxObjSize
	return Handle{Type: ObjInstance, Idx: idx}
}

func (h *Heap) InstanceClass(handle Handle) Handle        { return h.instances.get(handle.Idx).class }
func (h *Heap) InstanceFields(handle Handle) *StringMap    { return h.instances.get(handle.Idx).fields }

// NewBoundMethod allocates a bound method pairing receiver with method.
func (h *Heap) NewBoundMethod(receiver Value, method Handle) Handle {
	h.maybeCollect()
	idx, obj := h.boundMethods.alloc()
	obj.receiver = receiver
	obj.method = method
	obj.marked = false
	h.bytesAllocated += approxObjSize
	return Handle{Type: ObjBoundMethod, Idx: idx}
}

func (h *Heap) BoundMethodReceiver(handle Handle) Value { return h.boundMethods.get(handle.Idx).receiver }
func (h *Heap) BoundMethodMethod(handle Handle) Handle  { return h.boundMethods.get(handle.Idx).method }

// Stringify returns the language-level textual representation of v, the same
// text the PRINT opcode writes.
func (h *Heap) Stringify(v Value) string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return numberString(v.n)
	case KindNative:
		return fmt.Sprintf("<native fn %s>", v.native.Name)
	case KindObject:
		switch v.handle.Type {
		case ObjString:
			return h.GetString(v.handle)
		case ObjFunction:
			name, ok := h.FunctionName(v.handle)
			if !ok {
				return "<script>"
			}
			return fmt.Sprintf("<fn %s>", h.GetString(name))
		case ObjClosure:
			fn := h.ClosureFunction(v.handle)
			name, ok := h.FunctionName(fn)
			if !ok {
				return "<script>"
			}
			return fmt.Sprintf("<fn %s>", h.GetString(name))
		case ObjUpvalue:
			return "upvalue"
		case ObjClass:
			return h.GetString(h.ClassName(v.handle))
		case ObjInstance:
			return fmt.Sprintf("%s instance", h.GetString(h.ClassName(h.InstanceClass(v.handle))))
		case ObjBoundMethod:
			fn := h.ClosureFunction(h.BoundMethodMethod(v.handle))
			name, ok := h.FunctionName(fn)
			if !ok {
				return "<script>"
			}
			return fmt.Sprintf("<fn %s>", h.GetString(name))
		}
	}
	return "<unknown>"
}
