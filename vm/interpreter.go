package vm

import (
	"fmt"

	"github.com/chazu/cheney/memory"
)

// Run executes the fiber until it finishes, yields, fails, or a collection
// runs at a safe point. Safe points sit between instructions, after at least
// one instruction has executed, so every call makes progress.
//
// No heap reference is held in a Go variable across a safe point: all state
// is re-read from the fiber's frames and registers, which the collector
// updates in place.
func (f *Fiber) Run() Result {
	if f.done {
		if f.err != nil {
			return ResultError
		}
		return ResultDone
	}

	rt := f.rt
	h := rt.heap
	frame := &f.frames[len(f.frames)-1]
	code := frame.Method.Code

	for steps := 0; ; steps++ {
		if steps > 0 && rt.safePoint() {
			return ResultCollected
		}

		ins := code[frame.IP]
		frame.IP++

		switch ins.Op() {

		// --- Moves and constants ---

		case OpMove:
			f.store(frame, ins.B(), f.load(frame, ins.A()))

		case OpConstant:
			f.store(frame, ins.C(), frame.Method.Constants[ins.Ax()])

		case OpInt:
			f.store(frame, ins.C(), memory.Int(int64(ins.SignedAx())))

		case OpNothing:
			f.store(frame, ins.A(), memory.Nothing)

		case OpTrue:
			f.store(frame, ins.A(), memory.True)

		case OpFalse:
			f.store(frame, ins.A(), memory.False)

		// --- Arithmetic and comparison ---

		case OpAdd, OpSub, OpMul, OpDiv, OpLT, OpLTE:
			v, err := f.arith(ins.Op(), f.load(frame, ins.A()), f.load(frame, ins.B()))
			if err != nil {
				return f.fail(err)
			}
			f.store(frame, ins.C(), v)

		case OpEq:
			f.store(frame, ins.C(), memory.Bool(rt.equal(f.load(frame, ins.A()), f.load(frame, ins.B()))))

		case OpNot:
			f.store(frame, ins.C(), memory.Bool(!f.load(frame, ins.A()).Truthy()))

		// --- Heap objects ---

		case OpRecord:
			first := frame.StackStart + ins.A()
			v := h.NewRecord(f.stack[first : first+ins.B()]...)
			f.store(frame, ins.C(), v)

		case OpGetField:
			rec := f.load(frame, ins.A())
			if err := f.checkField(rec, ins.B()); err != nil {
				return f.fail(err)
			}
			f.store(frame, ins.C(), h.Field(rec, ins.B()))

		case OpSetField:
			rec := f.load(frame, ins.A())
			if err := f.checkField(rec, ins.B()); err != nil {
				return f.fail(err)
			}
			h.SetField(rec, ins.B(), f.load(frame, ins.C()))

		case OpList:
			n := f.load(frame, ins.A())
			if !n.IsInt() || n.Int() < 0 || n.Int() > MaxListCapacity {
				return f.fail(fmt.Errorf("%w: list capacity %s", ErrOutOfRange, rt.Display(n)))
			}
			f.store(frame, ins.C(), h.NewList(int(n.Int())))

		case OpAppend:
			list := f.load(frame, ins.A())
			if !h.IsKind(list, memory.KindList) {
				return f.fail(fmt.Errorf("%w: append to %s", ErrTypeMismatch, rt.TypeName(list)))
			}
			if !h.Append(list, f.load(frame, ins.B())) {
				return f.fail(fmt.Errorf("%w: capacity %d", ErrListFull, h.Cap(list)))
			}

		case OpAt:
			list, idx := f.load(frame, ins.A()), f.load(frame, ins.B())
			if !h.IsKind(list, memory.KindList) || !idx.IsInt() {
				return f.fail(fmt.Errorf("%w: %s at %s", ErrTypeMismatch, rt.TypeName(list), rt.TypeName(idx)))
			}
			if i := idx.Int(); i < 0 || i >= int64(h.Len(list)) {
				return f.fail(fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, h.Len(list)))
			}
			f.store(frame, ins.C(), h.At(list, int(idx.Int())))

		case OpLen:
			v := f.load(frame, ins.A())
			if !v.IsRef() || h.Kind(v) == memory.KindFloat {
				return f.fail(fmt.Errorf("%w: %s has no length", ErrTypeMismatch, rt.TypeName(v)))
			}
			f.store(frame, ins.C(), memory.Int(int64(h.Len(v))))

		// --- Control flow ---

		case OpJump:
			frame.IP += ins.SignedAx()

		case OpJumpIfFalse:
			if !f.load(frame, ins.A()).Truthy() {
				frame.IP += ins.SignedBx()
			}

		case OpCall:
			callee := rt.methods[ins.A()]
			first := frame.StackStart + ins.B()
			if err := f.call(callee, f.stack[first:first+callee.Params]); err != nil {
				return f.fail(err)
			}
			frame = &f.frames[len(f.frames)-1]
			code = frame.Method.Code

		case OpReturn:
			v := f.load(frame, ins.A())
			f.ret()
			if len(f.frames) == 0 {
				f.value = v
				f.done = true
				return ResultDone
			}
			frame = &f.frames[len(f.frames)-1]
			code = frame.Method.Code
			// The caller's CALL names the destination register.
			call := code[frame.IP-1]
			f.store(frame, call.C(), v)

		case OpYield:
			return ResultSuspend

		// --- Output and failure ---

		case OpPrint:
			fmt.Fprintln(rt.out, rt.Display(f.load(frame, ins.A())))

		case OpError:
			v := f.load(frame, ins.A())
			return f.fail(fmt.Errorf("%w: %s", ErrRaised, rt.Display(v)))

		default:
			return f.fail(fmt.Errorf("unknown opcode %s", ins.Op()))
		}
	}
}

// MaxListCapacity bounds the capacity a LIST instruction may request.
const MaxListCapacity = 1 << 16

func (f *Fiber) checkField(rec memory.Value, i int) error {
	h := f.rt.heap
	if !h.IsKind(rec, memory.KindRecord) {
		return fmt.Errorf("%w: field %d of %s", ErrTypeMismatch, i, f.rt.TypeName(rec))
	}
	if n := h.Len(rec); i >= n {
		return fmt.Errorf("%w: field %d of %d", ErrOutOfRange, i, n)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func (f *Fiber) arith(op Opcode, a, b memory.Value) (memory.Value, error) {
	rt := f.rt
	h := rt.heap

	if a.IsInt() && b.IsInt() {
		return intArith(op, a.Int(), b.Int())
	}

	if h.IsKind(a, memory.KindString) && h.IsKind(b, memory.KindString) {
		x, y := h.Text(a), h.Text(b)
		switch op {
		case OpAdd:
			return h.NewString(x + y), nil
		case OpLT:
			return memory.Bool(x < y), nil
		case OpLTE:
			return memory.Bool(x <= y), nil
		}
	}

	x, okA := rt.number(a)
	y, okB := rt.number(b)
	if !okA || !okB {
		return memory.Null, fmt.Errorf("%w: %s %s %s", ErrTypeMismatch, rt.TypeName(a), op, rt.TypeName(b))
	}
	switch op {
	case OpAdd:
		return h.NewFloat(x + y), nil
	case OpSub:
		return h.NewFloat(x - y), nil
	case OpMul:
		return h.NewFloat(x * y), nil
	case OpDiv:
		if y == 0 {
			return memory.Null, ErrDivideByZero
		}
		return h.NewFloat(x / y), nil
	case OpLT:
		return memory.Bool(x < y), nil
	case OpLTE:
		return memory.Bool(x <= y), nil
	}
	return memory.Null, fmt.Errorf("unknown arithmetic opcode %s", op)
}

func intArith(op Opcode, x, y int64) (memory.Value, error) {
	var r int64
	switch op {
	case OpAdd:
		r = x + y
	case OpSub:
		r = x - y
	case OpMul:
		if x != 0 && (y > memory.MaxInt/abs(x) || y < -memory.MaxInt/abs(x)) {
			return memory.Null, fmt.Errorf("%w: %d * %d", ErrOverflow, x, y)
		}
		r = x * y
	case OpDiv:
		if y == 0 {
			return memory.Null, ErrDivideByZero
		}
		r = x / y
	case OpLT:
		return memory.Bool(x < y), nil
	case OpLTE:
		return memory.Bool(x <= y), nil
	default:
		return memory.Null, fmt.Errorf("unknown arithmetic opcode %s", op)
	}
	if r > memory.MaxInt || r < memory.MinInt {
		return memory.Null, fmt.Errorf("%w: %s of %d and %d", ErrOverflow, op, x, y)
	}
	return memory.Int(r), nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// number converts a small integer or float object to float64.
func (rt *Runtime) number(v memory.Value) (float64, bool) {
	if v.IsInt() {
		return float64(v.Int()), true
	}
	if rt.heap.IsKind(v, memory.KindFloat) {
		return rt.heap.Float(v), true
	}
	return 0, false
}

// equal compares by value for numbers and strings and by identity for
// everything else.
func (rt *Runtime) equal(a, b memory.Value) bool {
	if a == b {
		return true
	}
	h := rt.heap
	if h.IsKind(a, memory.KindString) && h.IsKind(b, memory.KindString) {
		return h.Text(a) == h.Text(b)
	}
	if a.IsInt() && b.IsInt() {
		return false
	}
	x, okA := rt.number(a)
	y, okB := rt.number(b)
	return okA && okB && x == y
}
