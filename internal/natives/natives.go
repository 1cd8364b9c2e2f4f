// Package natives provides the built-in native functions the VM is seeded
// with: line input, number parsing, randomness, math, a script-callable
// panic, the Map built-in, and a handful of host-side conveniences (uuid,
// byte-size formatting) that have no bytecode-level representation of
// their own.
package natives

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"kestrel/internal/vm"
	"kestrel/internal/vmerrors"
)

// Register installs every native function into the VM's global
// namespace, including the Map built-in's class and its native methods.
// Call it once before Interpret.
func Register(m *vm.VM) {
	define(m, "readln", 0, readln)
	define(m, "random", 0, random)
	define(m, "number", 1, number)
	define(m, "int", 1, intParse)
	define(m, "floor", 1, floor)
	define(m, "panic", 1, scriptPanic)
	define(m, "uuid", 0, uuidNative)
	define(m, "byteSize", 1, byteSize)
	registerMap(m)
}

func define(m *vm.VM, name string, arity int, fn vm.NativeFn) {
	m.Globals()[name] = &vm.NativeFunction{Name: name, Arity: arity, Fn: fn}
}

// readln reads one line from the VM's configured stdin, trimming the
// trailing newline, and returns it as a string.
func readln(args []vm.Value, m *vm.VM) (vm.Value, error) {
	line, err := m.ReadLine()
	if err != nil {
		return vm.Nil{}, vmerrors.Wrap(err, vmerrors.IOError, "readln failed")
	}
	return line, nil
}

// random returns a uniform float in [0, 1).
func random(args []vm.Value, m *vm.VM) (vm.Value, error) {
	return rand.Float64(), nil
}

// number parses its string argument as a float64, returning Nil on a
// malformed string rather than erroring.
func number(args []vm.Value, m *vm.VM) (vm.Value, error) {
	s, ok := args[0].(string)
	if !ok {
		return vm.Nil{}, vmerrors.New(vmerrors.TypeError, "number expects a string")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return vm.Nil{}, nil
	}
	return f, nil
}

// intParse parses its string argument as an integer and widens it back to
// float64, the VM's only numeric representation. Nil on a malformed
// string.
func intParse(args []vm.Value, m *vm.VM) (vm.Value, error) {
	s, ok := args[0].(string)
	if !ok {
		return vm.Nil{}, vmerrors.New(vmerrors.TypeError, "int expects a string")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return vm.Nil{}, nil
	}
	return float64(n), nil
}

func floor(args []vm.Value, m *vm.VM) (vm.Value, error) {
	f, ok := args[0].(float64)
	if !ok {
		return vm.Nil{}, vmerrors.New(vmerrors.TypeError, "floor expects a number")
	}
	return math.Floor(f), nil
}

// scriptPanic aborts interpretation with a UserPanic carrying the
// script-supplied message, same as any other fatal error: nothing in the
// running script can catch it.
func scriptPanic(args []vm.Value, m *vm.VM) (vm.Value, error) {
	return vm.Nil{}, vmerrors.New(vmerrors.UserPanic, "%s", vm.ToString(args[0]))
}

func uuidNative(args []vm.Value, m *vm.VM) (vm.Value, error) {
	return uuid.NewString(), nil
}

// byteSize renders a number of bytes in human-readable form, e.g. for
// diagnostics natives that report heap or allocation sizes.
func byteSize(args []vm.Value, m *vm.VM) (vm.Value, error) {
	f, ok := args[0].(float64)
	if !ok {
		return vm.Nil{}, vmerrors.New(vmerrors.TypeError, "byteSize expects a number")
	}
	return humanize.Bytes(uint64(f)), nil
}

// registerMap defines the global Map class: an ordinary class, callable
// as Map() through the normal constructor path (it has no init, so it
// takes no arguments), whose instances use their Fields map as
// string-keyed storage. get/set/toString are native methods in its
// method table, reachable through the VM's regular Invoke/GetProperty
// dispatch exactly like a Closure-backed method would be.
func registerMap(m *vm.VM) {
	classRef := m.Heap().NewClass(vm.NewClass("Map"))
	class, _ := m.Heap().Class(classRef)
	class.Methods["get"] = &vm.NativeFunction{Name: "Map.get", Arity: 1, Fn: mapGet}
	class.Methods["set"] = &vm.NativeFunction{Name: "Map.set", Arity: 2, Fn: mapSet}
	class.Methods["toString"] = &vm.NativeFunction{Name: "Map.toString", Arity: 0, Fn: mapToString}
	m.Globals()["Map"] = classRef
}

// mapInstance validates that v is an instance of the Map class and
// returns its backing Instance. args[0] is always the receiver: native
// methods are called with the receiver prepended to the script-supplied
// arguments, the same convention the call protocol uses for bound
// Closure methods.
func mapInstance(m *vm.VM, v vm.Value) (*vm.Instance, error) {
	ref, ok := v.(vm.InstanceRef)
	if !ok {
		return nil, vmerrors.New(vmerrors.TypeError, "expected a Map instance")
	}
	classRef, _ := m.Globals()["Map"].(vm.ClassRef)
	inst, ok := m.Heap().Instance(ref)
	if !ok || inst.Class != classRef {
		return nil, vmerrors.New(vmerrors.TypeError, "expected a Map instance")
	}
	return inst, nil
}

func mapGet(args []vm.Value, m *vm.VM) (vm.Value, error) {
	inst, err := mapInstance(m, args[0])
	if err != nil {
		return vm.Nil{}, err
	}
	v, ok := inst.Fields[vm.ToString(args[1])]
	if !ok {
		return vm.Nil{}, nil
	}
	return v, nil
}

func mapSet(args []vm.Value, m *vm.VM) (vm.Value, error) {
	inst, err := mapInstance(m, args[0])
	if err != nil {
		return vm.Nil{}, err
	}
	inst.Fields[vm.ToString(args[1])] = args[2]
	return vm.Nil{}, nil
}

func mapToString(args []vm.Value, m *vm.VM) (vm.Value, error) {
	inst, err := mapInstance(m, args[0])
	if err != nil {
		return vm.Nil{}, err
	}
	var b strings.Builder
	b.WriteString("{")
	first := true
	for k, v := range inst.Fields {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(mapValueString(v))
	}
	b.WriteString("}")
	return b.String(), nil
}

// mapValueString renders a stored value the way toString's reference
// implementation does: string values are quoted, everything else uses
// the VM's ordinary textual form.
func mapValueString(v vm.Value) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("\"%s\"", s)
	}
	return vm.ToString(v)
}
