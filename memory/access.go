package memory

import "math"

// Dereferencing. Every accessor fails fast on a null reference, on an
// immediate, and on a reference of the wrong kind.

func (h *Heap) object(v Value) Addr {
	assert(!v.IsNull(), "cannot dereference a null reference")
	assert(v.IsRef(), "cannot dereference immediate %s", v)
	h.checkOpen()
	a := v.addr()
	assert(h.from.Contains(a), "stale reference %s", v)
	return a
}

func (h *Heap) objectOf(v Value, k Kind) (Addr, uint64) {
	a := h.object(v)
	hdr := h.words[a]
	assert(headerKind(hdr) == k, "expected %s, got %s", k, headerKind(hdr))
	return a, headerAux(hdr)
}

// Kind returns the kind of the object v refers to.
func (h *Heap) Kind(v Value) Kind {
	return headerKind(h.words[h.object(v)])
}

// IsKind reports whether v is a reference to an object of kind k. Unlike
// Kind it accepts any value.
func (h *Heap) IsKind(v Value, k Kind) bool {
	return v.IsRef() && h.Kind(v) == k
}

// Same reports whether a and b refer to the same object (or are the same
// immediate).
func Same(a, b Value) bool { return a == b }

// ---------------------------------------------------------------------------
// Floats
// ---------------------------------------------------------------------------

// NewFloat allocates a float object.
func (h *Heap) NewFloat(f float64) Value {
	v := h.Allocate(KindFloat, 0)
	if v.IsNull() {
		return v
	}
	h.words[v.addr()+1] = math.Float64bits(f)
	return v
}

// Float returns the value of a float object.
func (h *Heap) Float(v Value) float64 {
	a, _ := h.objectOf(v, KindFloat)
	return math.Float64frombits(h.words[a+1])
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// NewString allocates a string object holding a copy of s.
func (h *Heap) NewString(s string) Value {
	v := h.Allocate(KindString, uint64(len(s)))
	if v.IsNull() {
		return v
	}
	payload := h.words[v.addr()+1:]
	for i := 0; i < len(s); i++ {
		payload[i/WordSize] |= uint64(s[i]) << (8 * (i % WordSize))
	}
	return v
}

// Text returns the contents of a string object.
func (h *Heap) Text(v Value) string {
	a, n := h.objectOf(v, KindString)
	payload := h.words[a+1:]
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(payload[i/WordSize] >> (8 * (i % WordSize)))
	}
	return string(buf)
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// NewRecord allocates a record whose fields are initialized from fields.
// Since Allocate never collects, fields are still valid when copied in.
func (h *Heap) NewRecord(fields ...Value) Value {
	v := h.Allocate(KindRecord, uint64(len(fields)))
	if v.IsNull() {
		return v
	}
	a := v.addr()
	for i, f := range fields {
		h.words[a+1+Addr(i)] = uint64(f)
	}
	return v
}

// Field returns field i of a record.
func (h *Heap) Field(v Value, i int) Value {
	a, n := h.objectOf(v, KindRecord)
	assert(i >= 0 && uint64(i) < n, "field %d out of range [0, %d)", i, n)
	return Value(h.words[a+1+Addr(i)])
}

// SetField stores x into field i of a record.
func (h *Heap) SetField(v Value, i int, x Value) {
	a, n := h.objectOf(v, KindRecord)
	assert(i >= 0 && uint64(i) < n, "field %d out of range [0, %d)", i, n)
	h.words[a+1+Addr(i)] = uint64(x)
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// NewList allocates an empty list with room for capacity elements. Lists do
// not grow.
func (h *Heap) NewList(capacity int) Value {
	assert(capacity >= 0, "negative list capacity %d", capacity)
	return h.Allocate(KindList, uint64(capacity))
}

// Append adds x to the end of a list. It returns false if the list is full.
func (h *Heap) Append(list, x Value) bool {
	a, c := h.objectOf(list, KindList)
	count := h.words[a+1]
	if count >= c {
		return false
	}
	h.words[a+2+Addr(count)] = uint64(x)
	h.words[a+1] = count + 1
	return true
}

// At returns element i of a list.
func (h *Heap) At(list Value, i int) Value {
	a, _ := h.objectOf(list, KindList)
	count := h.words[a+1]
	assert(i >= 0 && uint64(i) < count, "index %d out of range [0, %d)", i, count)
	return Value(h.words[a+2+Addr(i)])
}

// Cap returns the capacity of a list.
func (h *Heap) Cap(list Value) int {
	_, c := h.objectOf(list, KindList)
	return int(c)
}

// Len returns the number of fields of a record, elements of a list, or
// bytes of a string.
func (h *Heap) Len(v Value) int {
	a := h.object(v)
	hdr := h.words[a]
	switch headerKind(hdr) {
	case KindRecord, KindString:
		return int(headerAux(hdr))
	case KindList:
		return int(h.words[a+1])
	}
	assert(false, "%s has no length", headerKind(hdr))
	return 0
}
