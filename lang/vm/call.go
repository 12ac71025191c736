package vm

import (
	"golang.org/x/exp/slices"

	"github.com/mna/lumen/lang/heap"
)

// callValue dispatches CALL n's callee by tag. argc is n; the callee sits
// argc+1 slots below the stack top.
func (vm *VM) callValue(callee heap.Value, argc int) *runtimeError {
	switch {
	case callee.IsNative():
		return vm.callNative(callee.AsNative(), argc)
	case callee.IsObjType(heap.ObjClosure):
		if !vm.callClosure(callee.AsHandle(), argc) {
			return vm.callClosureError(callee.AsHandle(), argc)
		}
		return nil
	case callee.IsObjType(heap.ObjClass):
		return vm.callClass(callee.AsHandle(), argc)
	case callee.IsObjType(heap.ObjBoundMethod):
		return vm.callBoundMethod(callee.AsHandle(), argc)
	default:
		return vm.newRuntimeError("Can only call functions and classes.")
	}
}

func (vm *VM) callNative(n *heap.Native, argc int) *runtimeError {
	base := len(vm.stack) - argc
	args := append([]heap.Value(nil), vm.stack[base:]...)
	result, err := n.Fn(args)
	if err != nil {
		return vm.newRuntimeError("%s", err.Error())
	}
	vm.stack = vm.stack[:base-1]
	vm.push(result)
	return nil
}

// callClosure pushes a new frame for closure, aliasing local 0 to the
// callee's own slot (used for `this` in methods). Returns false on arity
// mismatch or frame-stack overflow, both of which are reported by the
// caller as a RuntimeError.
func (vm *VM) callClosure(closure heap.Handle, argc int) bool {
	fn := vm.h.ClosureFunction(closure)
	arity := vm.h.FunctionArity(fn)
	if argc != arity {
		return false
	}
	if len(vm.frames) >= vm.cfg.FrameMax {
		return false
	}
	vm.frames = append(vm.frames, frame{
		closure: closure,
		ip:      0,
		slot:    len(vm.stack) - argc - 1,
	})
	return true
}

// callClosureError builds the RuntimeError for a failed callClosure: an
// arity mismatch if the argument count is wrong, a stack overflow otherwise.
func (vm *VM) callClosureError(closure heap.Handle, argc int) *runtimeError {
	if arity := vm.h.FunctionArity(vm.h.ClosureFunction(closure)); arity != argc {
		return vm.newRuntimeError("Expected %d arguments but got %d.", arity, argc)
	}
	return vm.newRuntimeError("Stack overflow.")
}

func (vm *VM) callClass(class heap.Handle, argc int) *runtimeError {
	instance := vm.h.NewInstance(class)
	vm.stack[len(vm.stack)-argc-1] = heap.Object(instance)

	if initVal, ok := vm.h.ClassMethods(class).Get(vm.h.InitString()); ok {
		if !vm.callClosure(initVal.AsHandle(), argc) {
			return vm.callClosureError(initVal.AsHandle(), argc)
		}
		return nil
	}
	if argc != 0 {
		return vm.newRuntimeError("Expected 0 arguments but got %d.", argc)
	}
	return nil
}

func (vm *VM) callBoundMethod(bound heap.Handle, argc int) *runtimeError {
	receiver := vm.h.BoundMethodReceiver(bound)
	method := vm.h.BoundMethodMethod(bound)
	vm.stack[len(vm.stack)-argc-1] = receiver
	if !vm.callClosure(method, argc) {
		return vm.callClosureError(method, argc)
	}
	return nil
}

// invoke implements INVOKE c n: a fused GET_PROPERTY+CALL that avoids
// allocating a BoundMethod when the property resolves directly to a method.
func (vm *VM) invoke(name heap.Handle, argc int) *runtimeError {
	receiver := vm.peek(argc)
	if !receiver.IsObjType(heap.ObjInstance) {
		return vm.newRuntimeError("Only instances have properties.")
	}
	inst := receiver.AsHandle()

	if field, ok := vm.h.InstanceFields(inst).Get(name); ok {
		vm.stack[len(vm.stack)-argc-1] = field
		return vm.callValue(field, argc)
	}
	return vm.invokeFromClass(vm.h.InstanceClass(inst), name, argc)
}

func (vm *VM) invokeFromClass(class heap.Handle, name heap.Handle, argc int) *runtimeError {
	method, ok := vm.h.ClassMethods(class).Get(name)
	if !ok {
		return vm.newRuntimeError("Undefined property '%s'.", vm.h.GetString(name))
	}
	if !vm.callClosure(method.AsHandle(), argc) {
		return vm.callClosureError(method.AsHandle(), argc)
	}
	return nil
}

// bindMethod looks up name on class and, if found, replaces the stack top
// (the instance) with a freshly allocated BoundMethod.
func (vm *VM) bindMethod(class heap.Handle, name heap.Handle) bool {
	method, ok := vm.h.ClassMethods(class).Get(name)
	if !ok {
		return false
	}
	bound := vm.h.NewBoundMethod(vm.peek(0), method.AsHandle())
	vm.pop()
	vm.push(heap.Object(bound))
	return true
}

// --- upvalues ---

// captureUpvalue returns the open upvalue at stack index location, creating
// one if none exists yet. The open list is kept sorted by descending
// location so closeUpvalues can stop at the first element below the
// watermark.
func (vm *VM) captureUpvalue(location int) heap.Handle {
	i, found := slices.BinarySearchFunc(vm.openUpvalues, location, func(h heap.Handle, loc int) int {
		// descending order: reverse the usual comparison
		return loc - vm.h.UpvalueLocation(h)
	})
	if found {
		return vm.openUpvalues[i]
	}
	up := vm.h.NewOpenUpvalue(location)
	vm.openUpvalues = slices.Insert(vm.openUpvalues, i, up)
	return up
}

// closeUpvalues closes every open upvalue at or above stack index last,
// copying its current stack value in and dropping it from the open list.
func (vm *VM) closeUpvalues(last int) {
	i := 0
	for ; i < len(vm.openUpvalues); i++ {
		loc := vm.h.UpvalueLocation(vm.openUpvalues[i])
		if loc < last {
			break
		}
		vm.h.CloseUpvalue(vm.openUpvalues[i], vm.stack[loc])
	}
	vm.openUpvalues = slices.Delete(vm.openUpvalues, 0, i)
}
