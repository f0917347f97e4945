package memory

// slot is one entry in the heap's transient handle table. The epoch tells a
// Temp whether the slot it was issued still belongs to it.
type slot struct {
	value Value
	epoch uint64
}

// ---------------------------------------------------------------------------
// Temp: scope-bounded handle for objects not yet in the object graph
// ---------------------------------------------------------------------------

// Temp is a transient handle to a heap object that is not yet reachable
// from any root, such as a record whose fields are still being filled in.
// The value lives in a slot of the heap's handle table, which the collector
// treats as a root and updates in place, so every copy of a Temp sees the
// object at its current address.
//
// A Temp is only valid while the scope it was created in is open. The zero
// Temp is a null handle.
type Temp struct {
	heap  *Heap
	index int
	epoch uint64
}

func (t Temp) slot() *slot {
	h := t.heap
	h.checkOpen()
	assert(t.index < len(h.slots) && h.slots[t.index].epoch == t.epoch,
		"temp used after its scope closed")
	return &h.slots[t.index]
}

// Get returns the handle's current referent as a rooted Value. Storing the
// result in a register or a rooted object is how a transient object joins
// the permanent graph. Get on a null handle returns Null.
func (t Temp) Get() Value {
	if t.heap == nil {
		return Null
	}
	return t.slot().value
}

// Set replaces the handle's referent.
func (t Temp) Set(v Value) {
	assert(t.heap != nil, "cannot set a null temp")
	t.slot().value = v
}

// IsNull reports whether the handle is null or refers to null.
func (t Temp) IsNull() bool { return t.Get().IsNull() }

// Same reports whether t and u refer to the same object.
func (t Temp) Same(u Temp) bool { return t.Get() == u.Get() }

// ---------------------------------------------------------------------------
// Scope: dynamic extent of transient handles
// ---------------------------------------------------------------------------

// Scope bounds the lifetime of the Temps created while it is the innermost
// open scope. Closing it truncates the handle table back to where it was
// when the scope opened, invalidating those Temps.
//
// Scopes nest and must close innermost first. A closed scope cannot be used
// again.
type Scope struct {
	heap   *Heap
	parent *Scope
	mark   int
	closed bool
}

// OpenScope opens a new innermost scope.
func (h *Heap) OpenScope() *Scope {
	h.checkOpen()
	s := &Scope{heap: h, parent: h.scope, mark: len(h.slots)}
	h.scope = s
	return s
}

// MakeTemp registers v in the innermost open scope.
func (h *Heap) MakeTemp(v Value) Temp {
	h.checkOpen()
	assert(h.scope != nil, "no open scope")
	return h.pushSlot(v)
}

func (h *Heap) pushSlot(v Value) Temp {
	h.epoch++
	h.slots = append(h.slots, slot{value: v, epoch: h.epoch})
	return Temp{heap: h, index: len(h.slots) - 1, epoch: h.epoch}
}

// Temp registers v in this scope, which must be the innermost one.
func (s *Scope) Temp(v Value) Temp {
	assert(!s.closed, "scope already closed")
	assert(s.heap.scope == s, "temps can only be made in the innermost scope")
	return s.heap.MakeTemp(v)
}

// Closed reports whether the scope has been closed.
func (s *Scope) Closed() bool { return s.closed }

// Close closes the scope, invalidating every Temp created in it.
func (s *Scope) Close() {
	s.pop()
}

// CloseWith closes the scope and re-registers t's referent in the parent
// scope, so a freshly built object can outlive the scope that built it. The
// returned Temp belongs to the parent.
func (s *Scope) CloseWith(t Temp) Temp {
	assert(!s.closed, "scope already closed")
	assert(s.parent != nil, "cannot promote out of the outermost scope")
	v := t.Get()
	s.pop()
	return s.heap.pushSlot(v)
}

func (s *Scope) pop() {
	assert(!s.closed, "scope already closed")
	h := s.heap
	h.checkOpen()
	assert(h.scope == s, "scopes must close innermost first")
	assert(len(h.slots) >= s.mark, "handle table has %d slots, below scope mark %d", len(h.slots), s.mark)

	clear(h.slots[s.mark:])
	h.slots = h.slots[:s.mark]
	h.scope = s.parent
	s.closed = true
}

// Temps returns the number of live transient handles.
func (h *Heap) Temps() int { return len(h.slots) }
