// Package natives implements the fixed set of native functions the VM
// exposes to running programs, registered as global bindings before a
// program's top-level frame begins.
package natives

import (
	"fmt"
	"time"

	"github.com/mna/lumen/lang/heap"
)

// Install interns every native's name and binds it in globals as a
// heap.NativeValue. Natives validate their own arity; the VM's CALL
// dispatch does not.
func Install(h *heap.Heap, globals *heap.StringMap) {
	for _, n := range all(h) {
		name := h.InternString(n.Name)
		globals.Set(name, heap.NativeValue(n))
	}
}

func all(h *heap.Heap) []*heap.Native {
	return []*heap.Native{
		{Name: "clock", Fn: clock},
		{Name: "type", Fn: typeOf(h)},
		{Name: "str", Fn: str(h)},
	}
}

// clock returns seconds since the Unix epoch, fractional.
func clock(args []heap.Value) (heap.Value, error) {
	if len(args) != 0 {
		return heap.Nil, fmt.Errorf("clock() takes no arguments")
	}
	return heap.Number(float64(time.Now().UnixNano()) / 1e9), nil
}

// typeOf returns a native bound to h that reports a value's runtime type
// name.
func typeOf(h *heap.Heap) heap.NativeFn {
	return func(args []heap.Value) (heap.Value, error) {
		if len(args) != 1 {
			return heap.Nil, fmt.Errorf("type() takes exactly 1 argument (%d given)", len(args))
		}
		return h.StringValue(args[0].TypeName()), nil
	}
}

// str returns a native bound to h that stringifies a value using the same
// formatting PRINT uses.
func str(h *heap.Heap) heap.NativeFn {
	return func(args []heap.Value) (heap.Value, error) {
		if len(args) != 1 {
			return heap.Nil, fmt.Errorf("str() takes exactly 1 argument (%d given)", len(args))
		}
		return h.StringValue(h.Stringify(args[0])), nil
	}
}
