// Package vm implements the execution core: the bytecode dispatch loop,
// the value model, the closure/upvalue machinery, the class/instance/bound
// method protocol, and the identity-addressed heap they all share.
package vm

import (
	"fmt"
	"math"
	"strconv"

	"kestrel/internal/bytecode"
)

// Value is the tagged sum of every runtime value. Concretely it is one of:
// Nil, bool, float64, string, *Function, *Closure, *NativeFunction,
// ClassRef, InstanceRef, or BoundMethod. Heap-backed variants (ClassRef,
// InstanceRef, the upvalue refs embedded in closures) are plain integer
// identities resolved through a Heap.
type Value interface{}

// Nil is the singleton absent value. A bare Go nil is never used as a
// Value so that a forgotten return value fails loudly instead of silently
// behaving like the script-level nil.
type Nil struct{}

// UpvalueDesc describes how a closure captures one free variable: either
// the slot of a local in the immediately enclosing frame, or an index into
// that frame's own upvalue array.
type UpvalueDesc struct {
	Index   int
	IsLocal bool
}

// Function is immutable once the compiler hands it to the VM: an arity, a
// code+constant Chunk, and the upvalue descriptors closures over it must
// satisfy.
type Function struct {
	Name     string
	Arity    int
	Chunk    *bytecode.Chunk
	Upvalues []UpvalueDesc
}

// UpvalueCount reports how many cells a Closure over this function must
// carry; Closure.Upvalues is required to have exactly this length.
func (f *Function) UpvalueCount() int { return len(f.Upvalues) }

// Closure pairs a Function with the resolved upvalue cells it captured at
// creation time. Upvalues are heap identities (see UpvalueRef), not direct
// pointers, so capture and the open/closed transition stay uniform with
// the rest of the heap.
type Closure struct {
	Function *Function
	Upvalues []UpvalueRef
}

// NativeFn is the host calling contract: the argument vector in call
// order, plus the VM for error reporting and heap access.
type NativeFn func(args []Value, vm *VM) (Value, error)

// NativeFunction is a host-provided callable. Natives never push a
// CallFrame; they run to completion synchronously.
type NativeFunction struct {
	Name  string
	Arity int // -1 marks a variadic native, skipped by the arity check
	Fn    NativeFn
}

// ClassRef is a heap identity denoting a Class.
type ClassRef int

// InstanceRef is a heap identity denoting an Instance.
type InstanceRef int

// Class is a heap object: a name and a method table. Inherit copies the
// superclass's table into the subclass's table at the moment of
// inheritance; later Method definitions in the subclass body overwrite
// entries with the same name, which is what gives override semantics.
type Class struct {
	Name    string
	Methods map[string]Value
}

func NewClass(name string) *Class {
	return &Class{Name: name, Methods: make(map[string]Value)}
}

// Instance is a heap object: a reference to its class plus a mutable,
// string-keyed field map. Fields live separately from methods and shadow
// them both on GetProperty reads and on Invoke's fused fast path, where a
// field of the invoked name is called as a plain value.
type Instance struct {
	Class  ClassRef
	Fields map[string]Value
}

func NewInstance(class ClassRef) *Instance {
	return &Instance{Class: class, Fields: make(map[string]Value)}
}

// BoundMethod is a method value pre-associated with its receiver. It is
// inlined into the Value tag rather than heap-allocated: bound methods are
// ephemeral (created by GetProperty/GetSuper, consumed by the next Call)
// and cheap to copy. Exactly one of Function or Native is set, matching
// the two kinds of value a Class method table may hold.
type BoundMethod struct {
	Receiver InstanceRef
	Function *Function
	Upvalues []UpvalueRef
	Native   *NativeFunction
}

// IsFalsey reports the VM's truthiness rule: Nil and false are falsey,
// everything else (including 0 and "") is truthy.
func IsFalsey(v Value) bool {
	switch t := v.(type) {
	case Nil:
		return true
	case bool:
		return !t
	default:
		return false
	}
}

// Equal implements the spec's value equality: tags must match and payloads
// compare equal. Numbers follow IEEE-754 (NaN != NaN, even itself).
// Heap-backed values (classes, instances) compare by identity, i.e. by
// their heap id.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Nil:
		_, ok := b.(Nil)
		return ok
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case ClassRef:
		bv, ok := b.(ClassRef)
		return ok && av == bv
	case InstanceRef:
		bv, ok := b.(InstanceRef)
		return ok && av == bv
	case *Function:
		bv, ok := b.(*Function)
		return ok && av == bv
	case *Closure:
		bv, ok := b.(*Closure)
		return ok && av == bv
	case *NativeFunction:
		bv, ok := b.(*NativeFunction)
		return ok && av == bv
	case BoundMethod:
		bv, ok := b.(BoundMethod)
		return ok && av.Receiver == bv.Receiver && av.Function == bv.Function && av.Native == bv.Native
	default:
		return false
	}
}

// ToString renders a value the way Print writes it. Add does not use it:
// concatenation requires two strings and never coerces other values.
func ToString(v Value) string {
	switch t := v.(type) {
	case Nil:
		return "nil"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(t)
	case string:
		return t
	case *Function:
		return fmt.Sprintf("<fn %s>", t.Name)
	case *Closure:
		return fmt.Sprintf("<fn %s>", t.Function.Name)
	case *NativeFunction:
		return fmt.Sprintf("<native fn %s>", t.Name)
	case ClassRef:
		return fmt.Sprintf("<class #%d>", int(t))
	case InstanceRef:
		return fmt.Sprintf("<instance #%d>", int(t))
	case BoundMethod:
		if t.Native != nil {
			return fmt.Sprintf("<bound method %s>", t.Native.Name)
		}
		return fmt.Sprintf("<bound method %s>", t.Function.Name)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// TypeName names a value's dynamic variant, used in diagnostics.
func TypeName(v Value) string {
	switch v.(type) {
	case Nil:
		return "nil"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case *Function, *Closure:
		return "function"
	case *NativeFunction:
		return "native function"
	case ClassRef:
		return "class"
	case InstanceRef:
		return "instance"
	case BoundMethod:
		return "bound method"
	default:
		return "unknown"
	}
}
