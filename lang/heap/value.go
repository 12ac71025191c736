// Package heap implements the VM's object model — the tagged Value union,
// the heap-object variants it can reference, the string interning table,
// and the mark-and-sweep garbage collector that reclaims them.
package heap

import (
	"fmt"
	"math"
)

// Kind tags the variant stored in a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObject
	KindNative
)

// NativeFn is the signature of a registered native function: given the
// argument slice, it returns a Value or an error. Natives validate their own
// arity; the VM's CALL dispatch does not.
type NativeFn func(args []Value) (Value, error)

// Native is an inline (not heap-allocated) native function value.
type Native struct {
	Name string
	Fn   NativeFn
}

// Value is a tagged union: Nil, Bool, Number (64-bit float), a heap Handle
// for String/Closure/Class/Instance/BoundMethod, or an inline Native
// function pointer. Values are fixed-size and cheap to copy and compare.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	handle Handle
	native *Native
}

// Nil is the singular Nil value.
var Nil = Value{kind: KindNil}

// Bool returns a Bool value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a Number value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Object returns a Value wrapping a heap handle.
func Object(h Handle) Value { return Value{kind: KindObject, handle: h} }

// NativeValue returns a Value wrapping an inline native function.
func NativeValue(n *Native) Value { return Value{kind: KindNative, native: n} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNil() bool { return v.kind == KindNil }
func (v Value) IsBool() bool { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObject() bool { return v.kind == KindObject }
func (v Value) IsNative() bool { return v.kind == KindNative }

// AsBool returns the wrapped bool. The caller must have checked IsBool.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the wrapped float64. The caller must have checked IsNumber.
func (v Value) AsNumber() float64 { return v.n }

// AsHandle returns the wrapped Handle. The caller must have checked IsObject.
func (v Value) AsHandle() Handle { return v.handle }

// AsNative returns the wrapped Native. The caller must have checked IsNative.
func (v Value) AsNative() *Native { return v.native }

// IsObjType reports whether v is an object handle of the given type.
func (v Value) IsObjType(t ObjType) bool { return v.kind == KindObject && v.handle.Type == t }

// Truthy implements the language's truthiness rule: only Nil and Bool(false)
// are falsey, every other value (including 0.0) is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	default:
		return true
	}
}

// TypeName returns a short string describing the value's type, used by
// runtime error messages and the type() native.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindNative:
		return "native function"
	case KindObject:
		switch v.handle.Type {
		case ObjString:
			return "string"
		case ObjFunction:
			return "function"
		case ObjClosure:
			return "function"
		case ObjUpvalue:
			return "upvalue"
		case ObjClass:
			return "class"
		case ObjInstance:
			return "instance"
		case ObjBoundMethod:
			return "function"
		}
	}
	return "unknown"
}

// Equal implements the language's equality rule: identical tags; Number by
// IEEE-754 ==; String by interned identity; other heap types by handle
// identity; Nil==Nil; Bool by value.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindNative:
		return a.native == b.native
	case KindObject:
		return a.handle == b.handle
	}
	return false
}

func numberString(n float64) string {
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	if math.IsNaN(n) {
		return "nan"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%.0f", n)
	}
	return fmt.Sprintf("%g", n)
}
