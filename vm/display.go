package vm

import (
	"strconv"
	"strings"

	"github.com/chazu/cheney/memory"
)

// displayDepth bounds how deeply Display descends into nested objects.
// Cyclic structures print as "..." past it.
const displayDepth = 8

// displayElements bounds how many record fields and list elements Display
// prints in total. The rest of the collection prints as "...".
const displayElements = 256

// Display formats v for PRINT and error messages. Top-level strings print
// without quotes.
func (rt *Runtime) Display(v memory.Value) string {
	if rt.heap.IsKind(v, memory.KindString) {
		return rt.heap.Text(v)
	}
	d := displayer{h: rt.heap, budget: displayElements}
	d.value(v, 0)
	return d.sb.String()
}

type displayer struct {
	h      *memory.Heap
	sb     strings.Builder
	budget int
}

func (d *displayer) value(v memory.Value, depth int) {
	if !v.IsRef() {
		d.sb.WriteString(v.String())
		return
	}
	if depth >= displayDepth {
		d.sb.WriteString("...")
		return
	}

	h := d.h
	switch h.Kind(v) {
	case memory.KindFloat:
		d.sb.WriteString(strconv.FormatFloat(h.Float(v), 'g', -1, 64))
	case memory.KindString:
		d.sb.WriteString(strconv.Quote(h.Text(v)))
	case memory.KindRecord:
		d.sb.WriteByte('{')
		d.elements(h.Len(v), depth, func(i int) memory.Value { return h.Field(v, i) })
		d.sb.WriteByte('}')
	case memory.KindList:
		d.sb.WriteByte('[')
		d.elements(h.Len(v), depth, func(i int) memory.Value { return h.At(v, i) })
		d.sb.WriteByte(']')
	default:
		d.sb.WriteString(v.String())
	}
}

func (d *displayer) elements(n, depth int, at func(int) memory.Value) {
	for i := 0; i < n; i++ {
		if i > 0 {
			d.sb.WriteString(", ")
		}
		if d.budget <= 0 {
			d.sb.WriteString("...")
			return
		}
		d.budget--
		d.value(at(i), depth+1)
	}
}

// TypeName names the type of v for error messages.
func (rt *Runtime) TypeName(v memory.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.IsInt():
		return "int"
	case v.IsAtom():
		return v.String()
	}
	return rt.heap.Kind(v).String()
}
