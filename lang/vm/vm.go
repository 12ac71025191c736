// Package vm implements the stack-based, register-free interpreter: the
// call-frame stack, the value stack, the globals table, the open-upvalue
// list, and the bytecode dispatch loop.
package vm

import (
	"fmt"
	"io"

	"github.com/mna/lumen/lang/compiler"
	"github.com/mna/lumen/lang/heap"
	"github.com/mna/lumen/lang/natives"
	"github.com/mna/lumen/lang/runtime"
)

// frame is a call record: the executing closure, the instruction pointer
// (an index into the closure's function's chunk), and the stack index at
// which this frame's locals begin.
type frame struct {
	closure heap.Handle
	ip      int
	slot    int
}

// VM owns one Heap and runs one program to completion. It is not safe for
// concurrent use.
type VM struct {
	cfg runtime.Config
	h   *heap.Heap

	stack  []heap.Value
	frames []frame

	globals      *heap.StringMap
	openUpvalues []heap.Handle // descending by location, no duplicates

	Stdout io.Writer
	Stderr io.Writer
}

// New constructs a VM with its own Heap and installs the native function
// table into a fresh globals table.
func New(cfg runtime.Config, stdout, stderr io.Writer) *VM {
	h := heap.New(cfg.GCInitialThreshold, cfg.GCGrowthFactor)
	vm := &VM{
		cfg:     cfg,
		h:       h,
		globals: heap.NewStringMap(0),
		Stdout:  stdout,
		Stderr:  stderr,
	}
	vm.stack = make([]heap.Value, 0, cfg.StackSlotsPerFrame)
	h.SetRoots(vm)
	natives.Install(h, vm.globals)
	return vm
}

// Heap exposes the VM's heap, the one Interpret compiles into and allocates
// from.
func (vm *VM) Heap() *heap.Heap { return vm.h }

// GCRoots implements heap.RootsProvider: every Value on the operand stack,
// every frame's closure, every open upvalue, and every globals entry (spec
// §4.5 roots 1-4).
func (vm *VM) GCRoots(out *[]heap.Value) {
	*out = append(*out, vm.stack...)
	for _, f := range vm.frames {
		*out = append(*out, heap.Object(f.closure))
	}
	for _, up := range vm.openUpvalues {
		*out = append(*out, heap.Object(up))
	}
	vm.globals.Each(func(nameIdx uint32, v heap.Value) {
		*out = append(*out, heap.Object(heap.Handle{Type: heap.ObjString, Idx: nameIdx}))
		*out = append(*out, v)
	})
}

// Interpret compiles and runs src as one program. It reports compile and
// runtime diagnostics to vm.Stderr and returns the corresponding Status.
func (vm *VM) Interpret(src string) runtime.Status {
	fnHandle, ok := compiler.Compile(vm.h, src, vm.Stderr)
	if !ok {
		return runtime.StatusCompileError
	}

	// The function is no longer a compiler root; keep it on the stack while
	// NewClosure allocates.
	vm.push(heap.Object(fnHandle))
	closure := vm.h.NewClosure(fnHandle, len(vm.h.FunctionUpvalues(fnHandle)))
	vm.pop()
	vm.push(heap.Object(closure))
	if !vm.callClosure(closure, 0) {
		vm.resetAfterError()
		return runtime.StatusRuntimeError
	}

	if err := vm.run(); err != nil {
		vm.printBacktrace(err)
		vm.resetAfterError()
		return runtime.StatusRuntimeError
	}
	return runtime.StatusOK
}

func (vm *VM) resetAfterError() {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.openUpvalues = vm.openUpvalues[:0]
}

// --- stack helpers ---

func (vm *VM) push(v heap.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() heap.Value {
	n := len(vm.stack) - 1
	v := vm.stack[n]
	vm.stack = vm.stack[:n]
	return v
}

func (vm *VM) peek(distance int) heap.Value { return vm.stack[len(vm.stack)-1-distance] }

// runtimeError is a sentinel carrying the message and a copy of the frame
// stack at the point it was raised, so Interpret can print the backtrace
// before unwinding.
type runtimeError struct {
	msg    string
	frames []frame
}

func (e *runtimeError) Error() string { return e.msg }

func (vm *VM) newRuntimeError(format string, args ...any) *runtimeError {
	return &runtimeError{msg: fmt.Sprintf(format, args...), frames: append([]frame(nil), vm.frames...)}
}

func (vm *VM) printBacktrace(err error) {
	re, ok := err.(*runtimeError)
	if !ok {
		fmt.Fprintln(vm.Stderr, err.Error())
		return
	}
	fmt.Fprintln(vm.Stderr, re.msg)
	for i := len(re.frames) - 1; i >= 0; i-- {
		f := re.frames[i]
		fn := vm.h.ClosureFunction(f.closure)
		chunk := vm.h.FunctionChunk(fn)
		line := 0
		if f.ip-1 >= 0 && f.ip-1 < len(chunk.Lines) {
			line = chunk.Lines[f.ip-1]
		}
		name := "script"
		if nameHandle, ok := vm.h.FunctionName(fn); ok {
			name = vm.h.GetString(nameHandle)
		}
		fmt.Fprintf(vm.Stderr, "[line %d] in %s\n", line, name)
	}
}
