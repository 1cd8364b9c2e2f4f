package vm

// Heap is the identity-indexed store of long-lived objects: classes,
// instances, and upvalue cells. IDs are drawn from a strictly increasing
// counter and never repeat for the life of the VM, so Value variants can
// hold a bare int and still compare by identity.
//
// The original source reached for a Collectable trait object and runtime
// downcasting; Go's generics let typed accessors fail closed instead, via
// a plain type assertion, with no trait machinery.
type Heap struct {
	objects map[int]interface{}
	nextID  int
}

func NewHeap() *Heap {
	return &Heap{objects: make(map[int]interface{})}
}

// heapNew allocates obj and returns its fresh id.
func heapNew[T any](h *Heap, obj *T) int {
	id := h.nextID
	h.nextID++
	h.objects[id] = obj
	return id
}

// heapGet returns the object at id if it exists and holds a *T; a mismatched
// runtime type or an absent id both report ok=false rather than erroring.
func heapGet[T any](h *Heap, id int) (*T, bool) {
	raw, ok := h.objects[id]
	if !ok {
		return nil, false
	}
	t, ok := raw.(*T)
	return t, ok
}

func (h *Heap) NewClass(c *Class) ClassRef       { return ClassRef(heapNew(h, c)) }
func (h *Heap) NewInstance(i *Instance) InstanceRef { return InstanceRef(heapNew(h, i)) }
func (h *Heap) NewUpvalue(u *UpvalueCell) UpvalueRef { return UpvalueRef(heapNew(h, u)) }

func (h *Heap) Class(id ClassRef) (*Class, bool)         { return heapGet[Class](h, int(id)) }
func (h *Heap) Instance(id InstanceRef) (*Instance, bool) { return heapGet[Instance](h, int(id)) }
func (h *Heap) Upvalue(id UpvalueRef) (*UpvalueCell, bool) {
	return heapGet[UpvalueCell](h, int(id))
}

// Len reports the number of live objects, counting ones sweep has not yet
// reclaimed.
func (h *Heap) Len() int { return len(h.objects) }

// delete removes an id unconditionally; used only by the sweep phase of
// CollectGarbage.
func (h *Heap) delete(id int) { delete(h.objects, id) }

// ids returns every currently-allocated id, for the sweep phase to walk.
func (h *Heap) ids() []int {
	ids := make([]int, 0, len(h.objects))
	for id := range h.objects {
		ids = append(ids, id)
	}
	return ids
}
