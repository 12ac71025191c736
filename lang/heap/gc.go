package heap

// collectGarbage runs one full mark-and-sweep cycle: mark every object
// reachable from the roots, trace outgoing references worklist-style until
// the grey set is empty, then sweep every arena, reclaiming unmarked objects
// and clearing the mark bit on survivors.
func (h *Heap) collectGarbage() {
	var gray []Handle

	mark := func(v Value) {
		if v.kind != KindObject {
			return
		}
		h.markOne(v.handle, &gray)
	}

	for _, v := range h.compilerRoots {
		mark(v)
	}
	if h.vmRoots != nil {
		var roots []Value
		h.vmRoots.GCRoots(&roots)
		for _, v := range roots {
			mark(v)
		}
	}
	mark(Object(h.initString))

	for len(gray) > 0 {
		n := len(gray) - 1
		hnd := gray[n]
		gray = gray[:n]
		h.traceChildren(hnd, mark)
	}

	h.sweep()
	h.nextGC = int(float64(h.bytesAllocated) * h.growthFactor)
	if h.nextGC == 0 {
		h.nextGC = 1
	}
	h.Collections++
}

// markOne marks handle reachable, queuing it for child tracing the first
// time it is marked (objects already marked are never re-queued).
func (h *Heap) markOne(handle Handle, gray *[]Handle) {
	var already bool
	switch handle.Type {
	case ObjString:
		obj := h.strings.get(handle.Idx)
		already = obj.marked
		obj.marked = true
		return // strings have no outgoing references
	case ObjFunction:
		obj := h.functions.get(handle.Idx)
		already = obj.marked
		obj.marked = true
	case ObjClosure:
		obj := h.closures.get(handle.Idx)
		already = obj.marked
		obj.marked = true
	case ObjUpvalue:
		obj := h.upvalues.get(handle.Idx)
		already = obj.marked
		obj.marked = true
	case ObjClass:
		obj := h.classes.get(handle.Idx)
		already = obj.marked
		obj.marked = true
	case ObjInstance:
		obj := h.instances.get(handle.Idx)
		already = obj.marked
		obj.marked = true
	case ObjBoundMethod:
		obj := h.boundMethods.get(handle.Idx)
		already = obj.marked
		obj.marked = true
	}
	if !already {
		*gray = append(*gray, handle)
	}
}

// traceChildren enqueues (via mark) every Value a live object of the given
// type directly references.
func (h *Heap) traceChildren(handle Handle, mark func(Value)) {
	switch handle.Type {
	case ObjFunction:
		obj := h.functions.get(handle.Idx)
		if obj.hasName {
			mark(Object(obj.name))
		}
		for _, c := range obj.chunk.Constants {
			mark(c)
		}
	case ObjClosure:
		obj := h.closures.get(handle.Idx)
		mark(Object(obj.function))
		for _, up := range obj.upvalues {
			mark(Object(up))
		}
	case ObjUpvalue:
		obj := h.upvalues.get(handle.Idx)
		if obj.isClosed {
			mark(obj.closed)
		}
	case ObjClass:
		obj := h.classes.get(handle.Idx)
		mark(Object(obj.name))
		obj.methods.Each(func(nameIdx uint32, v Value) {
			mark(Object(Handle{Type: ObjString, Idx: nameIdx}))
			mark(v)
		})
	case ObjInstance:
		obj := h.instances.get(handle.Idx)
		mark(Object(obj.class))
		obj.fields.Each(func(nameIdx uint32, v Value) {
			mark(Object(Handle{Type: ObjString, Idx: nameIdx}))
			mark(v)
		})
	case ObjBoundMethod:
		obj := h.boundMethods.get(handle.Idx)
		mark(obj.receiver)
		mark(Object(obj.method))
	}
}

func (h *Heap) sweep() {
	h.bytesAllocated = 0

	for idx, obj := range h.strings.items {
		if obj == nil {
			continue
		}
		if !obj.marked {
			h.intern.Delete(obj.chars)
			h.strings.release(uint32(idx))
			continue
		}
		obj.marked = false
		h.bytesAllocated += len(obj.chars)
	}

	for idx, obj := range h.functions.items {
		if obj == nil {
			continue
		}
		if !obj.marked {
			h.functions.release(uint32(idx))
			continue
		}
		obj.marked = false
		h.bytesAllocated += approxObjSize
	}

	for idx, obj := range h.closures.items {
		if obj == nil {
			continue
		}
		if !obj.marked {
			h.closures.release(uint32(idx))
			continue
		}
		obj.marked = false
		h.bytesAllocated += approxObjSize + len(obj.upvalues)*8
	}

	for idx, obj := range h.upvalues.items {
		if obj == nil {
			continue
		}
		if !obj.marked {
			h.upvalues.release(uint32(idx))
			continue
		}
		obj.marked = false
		h.bytesAllocated += approxObjSize
	}

	for idx, obj := range h.classes.items {
		if obj == nil {
			continue
		}
		if !obj.marked {
			h.classes.release(uint32(idx))
			continue
		}
		obj.marked = false
		h.bytesAllocated += approxObjSize
	}

	for idx, obj := range h.instances.items {
		if obj == nil {
			continue
		}
		if !obj.marked {
			h.instances.release(uint32(idx))
			continue
		}
		obj.marked = false
		h.bytesAllocated += approxObjSize
	}

	for idx, obj := range h.boundMethods.items {
		if obj == nil {
			continue
		}
		if !obj.marked {
			h.boundMethods.release(uint32(idx))
			continue
		}
		obj.marked = false
		h.bytesAllocated += approxObjSize
	}
}
