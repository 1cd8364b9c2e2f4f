package vm

import "kestrel/internal/vmerrors"

const maxFrames = 256

// callValue dispatches a call at stack slot calleeSlot (the callee sits at
// calleeSlot, its n arguments immediately above) to whichever kind of
// callable sits there: a bare Function, a Closure, a NativeFunction, a
// ClassRef (construction), or a BoundMethod.
func (vm *VM) callValue(calleeSlot int, argCount int) error {
	callee := vm.stack[calleeSlot]
	switch c := callee.(type) {
	case *Closure:
		return vm.call(c.Function, c.Upvalues, calleeSlot, argCount)
	case *Function:
		return vm.call(c, nil, calleeSlot, argCount)
	case *NativeFunction:
		return vm.callNative(c, calleeSlot, argCount)
	case ClassRef:
		return vm.instantiate(c, calleeSlot, argCount)
	case BoundMethod:
		if c.Native != nil {
			return vm.callNativeMethod(c.Native, c.Receiver, calleeSlot, argCount)
		}
		vm.stack[calleeSlot] = c.Receiver
		return vm.call(c.Function, c.Upvalues, calleeSlot, argCount)
	default:
		return vmerrors.New(vmerrors.TypeError, "%s is not callable", TypeName(callee))
	}
}

func (vm *VM) call(fn *Function, upvalues []UpvalueRef, calleeSlot int, argCount int) error {
	if argCount != fn.Arity {
		return vmerrors.New(vmerrors.ArityError, "%s expects %d argument(s) but got %d", fn.Name, fn.Arity, argCount)
	}
	if len(vm.frames) >= maxFrames {
		return vmerrors.New(vmerrors.TypeError, "stack overflow")
	}
	vm.frames = append(vm.frames, CallFrame{
		Function: fn,
		Upvalues: upvalues,
		Base:     calleeSlot,
	})
	return nil
}

func (vm *VM) callNative(native *NativeFunction, calleeSlot int, argCount int) error {
	if native.Arity >= 0 && argCount != native.Arity {
		return vmerrors.New(vmerrors.ArityError, "%s expects %d argument(s) but got %d", native.Name, native.Arity, argCount)
	}
	args := append([]Value(nil), vm.stack[calleeSlot+1:calleeSlot+1+argCount]...)
	result, err := native.Fn(args, vm)
	if err != nil {
		return err
	}
	vm.truncate(calleeSlot)
	vm.push(result)
	return nil
}

// callNativeMethod calls a native-backed method, prepending the receiver
// to the script-supplied arguments so the native sees the same (self,
// ...args) shape a Go method-style function expects; the instance never
// gets a real CallFrame the way a Closure method does.
func (vm *VM) callNativeMethod(native *NativeFunction, receiver InstanceRef, calleeSlot int, argCount int) error {
	if native.Arity >= 0 && argCount != native.Arity {
		return vmerrors.New(vmerrors.ArityError, "%s expects %d argument(s) but got %d", native.Name, native.Arity, argCount)
	}
	args := make([]Value, 0, argCount+1)
	args = append(args, receiver)
	args = append(args, vm.stack[calleeSlot+1:calleeSlot+1+argCount]...)
	result, err := native.Fn(args, vm)
	if err != nil {
		return err
	}
	vm.truncate(calleeSlot)
	vm.push(result)
	return nil
}

// instantiate handles calling a class as a constructor: a fresh Instance
// replaces the callee slot, then init (if the class defines one) runs as
// an ordinary bound-method call; classes without init reject arguments.
func (vm *VM) instantiate(classRef ClassRef, calleeSlot int, argCount int) error {
	class, ok := vm.heap.Class(classRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling class reference")
	}
	instRef := vm.heap.NewInstance(NewInstance(classRef))
	vm.stack[calleeSlot] = instRef
	vm.maybeCollect()
	if init, ok := class.Methods["init"]; ok {
		switch initFn := init.(type) {
		case *Closure:
			return vm.call(initFn.Function, initFn.Upvalues, calleeSlot, argCount)
		case *Function:
			return vm.call(initFn, nil, calleeSlot, argCount)
		default:
			return vmerrors.New(vmerrors.TypeError, "init is not callable")
		}
	}
	if argCount != 0 {
		return vmerrors.New(vmerrors.ArityError, "%s expects 0 arguments but got %d", class.Name, argCount)
	}
	return nil
}

// invoke is the fused OP_INVOKE fast path: it looks up name on the
// receiver without first materializing a BoundMethod. A field named
// `name` shadows a method of the same name, since a callable stored as a
// field should be invoked as a plain call.
func (vm *VM) invoke(name string, argCount int) error {
	receiverSlot := len(vm.stack) - argCount - 1
	receiver := vm.stack[receiverSlot]
	instRef, ok := receiver.(InstanceRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "only instances have methods")
	}
	inst, ok := vm.heap.Instance(instRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling instance reference")
	}
	if field, ok := inst.Fields[name]; ok {
		vm.stack[receiverSlot] = field
		return vm.callValue(receiverSlot, argCount)
	}
	return vm.invokeFromClass(inst.Class, name, receiverSlot, argCount)
}

// superInvoke is OP_SUPER_INVOKE: unlike GetSuper it pops only the
// superclass off the top of the stack, leaving the receiver where the
// compiler already placed it at the call's base slot.
func (vm *VM) superInvoke(name string, argCount int) error {
	superVal := vm.pop()
	classRef, ok := superVal.(ClassRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "superclass must be a class")
	}
	receiverSlot := len(vm.stack) - argCount - 1
	return vm.invokeFromClass(classRef, name, receiverSlot, argCount)
}

func (vm *VM) invokeFromClass(classRef ClassRef, name string, receiverSlot int, argCount int) error {
	class, ok := vm.heap.Class(classRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling class reference")
	}
	method, ok := class.Methods[name]
	if !ok {
		return vmerrors.New(vmerrors.NameError, "undefined property '%s'", name)
	}
	switch m := method.(type) {
	case *Closure:
		return vm.call(m.Function, m.Upvalues, receiverSlot, argCount)
	case *Function:
		return vm.call(m, nil, receiverSlot, argCount)
	case *NativeFunction:
		receiver, _ := vm.stack[receiverSlot].(InstanceRef)
		return vm.callNativeMethod(m, receiver, receiverSlot, argCount)
	default:
		return vmerrors.New(vmerrors.TypeError, "%s is not callable", name)
	}
}

// bindMethod looks up name on classRef and pushes a BoundMethod tying it
// to instRef, or reports a NameError if the class has no such method.
func (vm *VM) bindMethod(classRef ClassRef, instRef InstanceRef, name string) error {
	class, ok := vm.heap.Class(classRef)
	if !ok {
		return vmerrors.New(vmerrors.TypeError, "dangling class reference")
	}
	method, ok := class.Methods[name]
	if !ok {
		return vmerrors.New(vmerrors.NameError, "undefined property '%s'", name)
	}
	switch m := method.(type) {
	case *Closure:
		vm.push(BoundMethod{Receiver: instRef, Function: m.Function, Upvalues: m.Upvalues})
	case *Function:
		vm.push(BoundMethod{Receiver: instRef, Function: m})
	case *NativeFunction:
		vm.push(BoundMethod{Receiver: instRef, Native: m})
	default:
		return vmerrors.New(vmerrors.TypeError, "%s is not callable", name)
	}
	return nil
}
