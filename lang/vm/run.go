package vm

import (
	"fmt"

	"github.com/mna/lumen/lang/compiler"
	"github.com/mna/lumen/lang/heap"
)

// run executes the dispatch loop until the outermost frame returns or a
// RuntimeError is raised. Every opcode is straight-line; there is no
// reentrancy.
func (vm *VM) run() error {
	steps := 0
	for {
		if vm.cfg.StepBudget > 0 {
			steps++
			if steps > vm.cfg.StepBudget {
				return vm.newRuntimeError("Step budget exceeded.")
			}
		}

		f := &vm.frames[len(vm.frames)-1]
		chunk := vm.h.FunctionChunk(vm.h.ClosureFunction(f.closure))
		op := compiler.Op(chunk.Code[f.ip])
		f.ip++

		switch op {
		case compiler.OpConstant:
			vm.push(chunk.Constants[vm.readByte(f, chunk)])

		case compiler.OpNil:
			vm.push(heap.Nil)
		case compiler.OpTrue:
			vm.push(heap.Bool(true))
		case compiler.OpFalse:
			vm.push(heap.Bool(false))
		case compiler.OpPop:
			vm.pop()

		case compiler.OpGetLocal:
			slot := vm.readByte(f, chunk)
			vm.push(vm.stack[f.slot+int(slot)])
		case compiler.OpSetLocal:
			slot := vm.readByte(f, chunk)
			vm.stack[f.slot+int(slot)] = vm.peek(0)

		case compiler.OpGetGlobal:
			name := vm.readName(f, chunk)
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.newRuntimeError("Undefined variable '%s'.", vm.h.GetString(name))
			}
			vm.push(v)
		case compiler.OpDefineGlobal:
			name := vm.readName(f, chunk)
			vm.globals.Set(name, vm.pop())
		case compiler.OpSetGlobal:
			name := vm.readName(f, chunk)
			if !vm.globals.Has(name) {
				return vm.newRuntimeError("Undefined variable '%s'.", vm.h.GetString(name))
			}
			vm.globals.Set(name, vm.peek(0))

		case compiler.OpGetUpvalue:
			slot := vm.readByte(f, chunk)
			up := vm.h.ClosureUpvalues(f.closure)[slot]
			vm.push(vm.upvalueValue(up))
		case compiler.OpSetUpvalue:
			slot := vm.readByte(f, chunk)
			up := vm.h.ClosureUpvalues(f.closure)[slot]
			vm.setUpvalueValue(up, vm.peek(0))

		case compiler.OpGetProperty:
			name := vm.readName(f, chunk)
			receiver := vm.peek(0)
			if !receiver.IsObjType(heap.ObjInstance) {
				return vm.newRuntimeError("Only instances have properties.")
			}
			inst := receiver.AsHandle()
			if field, ok := vm.h.InstanceFields(inst).Get(name); ok {
				vm.pop()
				vm.push(field)
				break
			}
			if !vm.bindMethod(vm.h.InstanceClass(inst), name) {
				return vm.newRuntimeError("Undefined property '%s'.", vm.h.GetString(name))
			}
		case compiler.OpSetProperty:
			name := vm.readName(f, chunk)
			value := vm.pop()
			receiver := vm.pop()
			if !receiver.IsObjType(heap.ObjInstance) {
				return vm.newRuntimeError("Only instances have fields.")
			}
			vm.h.InstanceFields(receiver.AsHandle()).Set(name, value)
			vm.push(value)
		case compiler.OpGetSuper:
			name := vm.readName(f, chunk)
			super := vm.pop()
			if !vm.bindMethod(super.AsHandle(), name) {
				return vm.newRuntimeError("Undefined property '%s'.", vm.h.GetString(name))
			}

		case compiler.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(heap.Bool(heap.Equal(a, b)))
		case compiler.OpGreater:
			if err := vm.numericCompare(func(a, b float64) bool { return a > b }); err != nil {
				return err
			}
		case compiler.OpLess:
			if err := vm.numericCompare(func(a, b float64) bool { return a < b }); err != nil {
				return err
			}

		case compiler.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}
		case compiler.OpSubtract:
			if err := vm.numericBinary(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
		case compiler.OpMultiply:
			if err := vm.numericBinary(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
		case compiler.OpDivide:
			if err := vm.numericBinary(func(a, b float64) float64 { return a / b }); err != nil {
				return err
			}

		case compiler.OpNot:
			vm.push(heap.Bool(!vm.pop().Truthy()))
		case compiler.OpNegate:
			v := vm.peek(0)
			if !v.IsNumber() {
				return vm.newRuntimeError("Operand must be a number.")
			}
			vm.pop()
			vm.push(heap.Number(-v.AsNumber()))

		case compiler.OpPrint:
			v := vm.pop()
			fmt.Fprintln(vm.Stdout, vm.h.Stringify(v))

		case compiler.OpJump:
			offset := vm.readShort(f, chunk)
			f.ip += int(offset)
		case compiler.OpJumpIfFalse:
			offset := vm.readShort(f, chunk)
			if !vm.peek(0).Truthy() {
				f.ip += int(offset)
			}
		case compiler.OpLoop:
			offset := vm.readShort(f, chunk)
			f.ip -= int(offset)

		case compiler.OpCall:
			argc := int(vm.readByte(f, chunk))
			callee := vm.peek(argc)
			if err := vm.callValue(callee, argc); err != nil {
				return err
			}
		case compiler.OpInvoke:
			name := vm.readName(f, chunk)
			argc := int(vm.readByte(f, chunk))
			if err := vm.invoke(name, argc); err != nil {
				return err
			}
		case compiler.OpSuperInvoke:
			name := vm.readName(f, chunk)
			argc := int(vm.readByte(f, chunk))
			super := vm.pop()
			if err := vm.invokeFromClass(super.AsHandle(), name, argc); err != nil {
				return err
			}

		case compiler.OpClosure:
			fnHandle := chunk.Constants[vm.readByte(f, chunk)].AsHandle()
			upvalueDescs := vm.h.FunctionUpvalues(fnHandle)
			closure := vm.h.NewClosure(fnHandle, len(upvalueDescs))
			// Pushed before capturing so it stays rooted while captureUpvalue allocates.
			vm.push(heap.Object(closure))
			for i := range upvalueDescs {
				isLocal := vm.readByte(f, chunk)
				index := vm.readByte(f, chunk)
				if isLocal == 1 {
					vm.h.SetClosureUpvalue(closure, i, vm.captureUpvalue(f.slot+int(index)))
				} else {
					vm.h.SetClosureUpvalue(closure, i, vm.h.ClosureUpvalues(f.closure)[index])
				}
			}
		case compiler.OpCloseUpvalue:
			vm.closeUpvalues(len(vm.stack) - 1)
			vm.pop()

		case compiler.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(f.slot)
			returningTop := f.slot
			vm.frames = vm.frames[:len(vm.frames)-1]
			vm.stack = vm.stack[:returningTop]
			if len(vm.frames) == 0 {
				return nil
			}
			vm.push(result)

		case compiler.OpClass:
			name := vm.readName(f, chunk)
			vm.push(heap.Object(vm.h.NewClass(name)))
		case compiler.OpInherit:
			sub := vm.peek(0)
			super := vm.peek(1)
			if !super.IsObjType(heap.ObjClass) {
				return vm.newRuntimeError("Superclass must be a class.")
			}
			vm.h.ClassMethods(super.AsHandle()).CopyInto(vm.h.ClassMethods(sub.AsHandle()))
			vm.pop() // sub
		case compiler.OpMethod:
			name := vm.readName(f, chunk)
			method := vm.pop()
			class := vm.peek(0)
			vm.h.ClassMethods(class.AsHandle()).Set(name, method)

		default:
			return vm.newRuntimeError("Unknown opcode %d.", op)
		}
	}
}

func (vm *VM) readByte(f *frame, chunk *heap.Chunk) byte {
	b := chunk.Code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readShort(f *frame, chunk *heap.Chunk) uint16 {
	hi := vm.readByte(f, chunk)
	lo := vm.readByte(f, chunk)
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readName(f *frame, chunk *heap.Chunk) heap.Handle {
	return chunk.Constants[vm.readByte(f, chunk)].AsHandle()
}

func (vm *VM) upvalueValue(up heap.Handle) heap.Value {
	if vm.h.UpvalueIsClosed(up) {
		return vm.h.UpvalueClosedValue(up)
	}
	return vm.stack[vm.h.UpvalueLocation(up)]
}

func (vm *VM) setUpvalueValue(up heap.Handle, v heap.Value) {
	if vm.h.UpvalueIsClosed(up) {
		vm.h.CloseUpvalue(up, v)
		return
	}
	vm.stack[vm.h.UpvalueLocation(up)] = v
}

func (vm *VM) numericBinary(op func(a, b float64) float64) *runtimeError {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.newRuntimeError("Operands must be numbers.")
	}
	b, a := vm.pop(), vm.pop()
	vm.push(heap.Number(op(a.AsNumber(), b.AsNumber())))
	return nil
}

func (vm *VM) numericCompare(op func(a, b float64) bool) *runtimeError {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.newRuntimeError("Operands must be numbers.")
	}
	b, a := vm.pop(), vm.pop()
	vm.push(heap.Bool(op(a.AsNumber(), b.AsNumber())))
	return nil
}

func (vm *VM) add() *runtimeError {
	b, a := vm.peek(0), vm.peek(1)
	switch {
	case a.IsNumber() && b.IsNumber():
		vm.pop()
		vm.pop()
		vm.push(heap.Number(a.AsNumber() + b.AsNumber()))
	case a.IsObjType(heap.ObjString) && b.IsObjType(heap.ObjString):
		vm.pop()
		vm.pop()
		vm.push(heap.Object(vm.h.Concat(a.AsHandle(), b.AsHandle())))
	default:
		return vm.newRuntimeError("Operands must be two numbers or two strings.")
	}
	return nil
}
