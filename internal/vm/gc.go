package vm

// maybeCollect runs a collection when the heap has grown enough since the
// last sweep to make one worthwhile, then raises the threshold relative to
// the surviving set. Called after every allocation site (class, instance,
// closure) rather than on a timer, since the VM has no background thread.
func (vm *VM) maybeCollect() {
	if vm.heap.Len() < vm.gcThreshold {
		return
	}
	vm.CollectGarbage()
	vm.gcThreshold = vm.heap.Len()*2 + 64
}

// CollectGarbage runs one mark-sweep pass over the heap. Roots are the
// value stack, every call frame's resolved upvalues, the global namespace,
// and the VM's own open-upvalues list; everything reachable from those
// through classes, instances, closures, and bound methods survives.
func (vm *VM) CollectGarbage() {
	marked := make(map[int]bool)

	var markValue func(v Value)
	markValue = func(v Value) {
		switch t := v.(type) {
		case ClassRef:
			markClass(vm, marked, t, markValue)
		case InstanceRef:
			markInstance(vm, marked, t, markValue)
		case *Closure:
			for _, ref := range t.Upvalues {
				markUpvalue(vm, marked, ref, markValue)
			}
		case BoundMethod:
			markInstance(vm, marked, t.Receiver, markValue)
			for _, ref := range t.Upvalues {
				markUpvalue(vm, marked, ref, markValue)
			}
		}
	}

	for _, v := range vm.stack {
		markValue(v)
	}
	for _, v := range vm.globals {
		markValue(v)
	}
	for i := range vm.frames {
		for _, ref := range vm.frames[i].Upvalues {
			markUpvalue(vm, marked, ref, markValue)
		}
	}
	for _, ref := range vm.openUpvalues {
		marked[int(ref)] = true
	}

	for _, id := range vm.heap.ids() {
		if !marked[id] {
			vm.heap.delete(id)
		}
	}
}

func markClass(vm *VM, marked map[int]bool, ref ClassRef, markValue func(Value)) {
	if marked[int(ref)] {
		return
	}
	marked[int(ref)] = true
	class, ok := vm.heap.Class(ref)
	if !ok {
		return
	}
	for _, m := range class.Methods {
		markValue(m)
	}
}

func markInstance(vm *VM, marked map[int]bool, ref InstanceRef, markValue func(Value)) {
	if marked[int(ref)] {
		return
	}
	marked[int(ref)] = true
	inst, ok := vm.heap.Instance(ref)
	if !ok {
		return
	}
	markClass(vm, marked, inst.Class, markValue)
	for _, f := range inst.Fields {
		markValue(f)
	}
}

func markUpvalue(vm *VM, marked map[int]bool, ref UpvalueRef, markValue func(Value)) {
	if marked[int(ref)] {
		return
	}
	marked[int(ref)] = true
	cell, ok := vm.heap.Upvalue(ref)
	if !ok {
		return
	}
	if !cell.IsOpen() {
		markValue(cell.value)
	}
}
