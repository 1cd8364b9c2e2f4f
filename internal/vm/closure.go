package vm

// makeClosure walks fn.Upvalues, the upvalue descriptors carried on the
// Function itself (no descriptor bytes follow OpClosure in the instruction
// stream), and resolves each into a cell: a local descriptor
// captures (or reuses) an open cell over the enclosing frame's stack slot;
// a non-local descriptor copies the enclosing closure's own already-resolved
// cell, letting capture chain through nested functions unchanged.
func (vm *VM) makeClosure(fn *Function) error {
	enclosing := vm.currentFrame()
	upvalues := make([]UpvalueRef, len(fn.Upvalues))
	for i, desc := range fn.Upvalues {
		if desc.IsLocal {
			upvalues[i] = vm.captureUpvalue(enclosing.Base + desc.Index)
		} else {
			upvalues[i] = enclosing.Upvalues[desc.Index]
		}
	}
	vm.push(&Closure{Function: fn, Upvalues: upvalues})
	vm.maybeCollect()
	return nil
}

// captureUpvalue returns the existing open cell over slot if one of the
// VM's open upvalues already aliases it, so two closures capturing the same
// local share one cell and observe each other's writes; otherwise it
// allocates a fresh open cell and inserts it into the open list, which is
// kept in strictly descending order by slot.
func (vm *VM) captureUpvalue(slot int) UpvalueRef {
	for _, ref := range vm.openUpvalues {
		cell, _ := vm.heap.Upvalue(ref)
		if cell.slot == slot {
			return ref
		}
		if cell.slot < slot {
			break
		}
	}
	ref := vm.heap.NewUpvalue(newOpenUpvalue(slot))
	insertAt := len(vm.openUpvalues)
	for i, existing := range vm.openUpvalues {
		cell, _ := vm.heap.Upvalue(existing)
		if cell.slot < slot {
			insertAt = i
			break
		}
	}
	vm.openUpvalues = append(vm.openUpvalues, 0)
	copy(vm.openUpvalues[insertAt+1:], vm.openUpvalues[insertAt:])
	vm.openUpvalues[insertAt] = ref
	return ref
}

// closeUpvalues closes every open cell whose slot is >= limit, copying the
// live stack value into the cell and removing it from the open list. Called
// both when a frame returns (limit = frame.Base) and when the compiler
// emits an explicit CloseUpvalue for a block-scoped local going out of
// scope (limit = that local's slot).
func (vm *VM) closeUpvalues(limit int) {
	kept := vm.openUpvalues[:0]
	for _, ref := range vm.openUpvalues {
		cell, _ := vm.heap.Upvalue(ref)
		if cell.slot >= limit {
			cell.close(vm.stack[cell.slot])
		} else {
			kept = append(kept, ref)
		}
	}
	vm.openUpvalues = kept
}

func (vm *VM) getUpvalue(frame *CallFrame, idx int) Value {
	cell, _ := vm.heap.Upvalue(frame.Upvalues[idx])
	if cell.IsOpen() {
		return vm.stack[cell.slot]
	}
	return cell.value
}

func (vm *VM) setUpvalue(frame *CallFrame, idx int, v Value) {
	cell, _ := vm.heap.Upvalue(frame.Upvalues[idx])
	if cell.IsOpen() {
		vm.stack[cell.slot] = v
		return
	}
	cell.value = v
}
