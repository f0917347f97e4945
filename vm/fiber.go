package vm

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/chazu/cheney/memory"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrDivideByZero  = errors.New("division by zero")
	ErrOverflow      = errors.New("integer overflow")
	ErrOutOfRange    = errors.New("index out of range")
	ErrListFull      = errors.New("list is full")
	ErrStackOverflow = errors.New("stack overflow")
	ErrRaised        = errors.New("error raised")
)

// RuntimeError is a fiber failure with the location that caused it.
type RuntimeError struct {
	Fiber  uuid.UUID
	Method string
	IP     int
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s at %04d: %v", e.Method, e.IP, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// CallFrame: one activation in a fiber's register stack
// ---------------------------------------------------------------------------

// CallFrame is the execution state of a single method invocation. The frame
// owns registers [StackStart, StackStart+Method.Registers) of its fiber's
// stack.
type CallFrame struct {
	Method     *Method
	IP         int // next instruction
	StackStart int
}

// ---------------------------------------------------------------------------
// Fiber: a register stack and the frames that window it
// ---------------------------------------------------------------------------

// Result reports why Fiber.Run returned.
type Result int

const (
	// ResultDone: the outermost frame returned; Value holds the result.
	ResultDone Result = iota
	// ResultSuspend: the fiber yielded and can be resumed with Run.
	ResultSuspend
	// ResultCollected: a collection ran at a safe point. The fiber is intact
	// and should be resumed with Run.
	ResultCollected
	// ResultError: the fiber failed; Err holds the cause.
	ResultError
)

func (r Result) String() string {
	switch r {
	case ResultDone:
		return "done"
	case ResultSuspend:
		return "suspend"
	case ResultCollected:
		return "collected"
	case ResultError:
		return "error"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Fiber is a lightweight thread of execution. Its stack is one flat slice
// of registers; each active frame owns a contiguous window of it. The
// runtime reports every register of every live fiber to the collector.
type Fiber struct {
	ID uuid.UUID

	rt     *Runtime
	stack  []memory.Value
	frames []CallFrame

	value memory.Value
	err   error
	done  bool
}

func newFiber(rt *Runtime) *Fiber {
	return &Fiber{
		ID:     uuid.New(),
		rt:     rt,
		stack:  make([]memory.Value, 0, 64),
		frames: make([]CallFrame, 0, 8),
	}
}

// Done reports whether the fiber has finished, successfully or not.
func (f *Fiber) Done() bool { return f.done }

// Value returns the fiber's result once it is done.
func (f *Fiber) Value() memory.Value { return f.value }

// Err returns the error that stopped the fiber, if any.
func (f *Fiber) Err() error { return f.err }

// Depth returns the number of active frames.
func (f *Fiber) Depth() int { return len(f.frames) }

// call pushes a frame for m. Its register window is zeroed and the first
// m.Params registers receive args. args may alias the fiber's own stack.
func (f *Fiber) call(m *Method, args []memory.Value) error {
	if len(f.frames) >= f.rt.maxFrames {
		return fmt.Errorf("%w: %d frames calling %s", ErrStackOverflow, len(f.frames), m.Name)
	}
	start := len(f.stack)
	f.stack = slices.Grow(f.stack, m.Registers)[:start+m.Registers]
	clear(f.stack[start:])
	copy(f.stack[start:start+m.Params], args)
	f.frames = append(f.frames, CallFrame{Method: m, StackStart: start})
	return nil
}

// ret pops the top frame and releases its registers.
func (f *Fiber) ret() {
	top := f.frames[len(f.frames)-1]
	clear(f.stack[top.StackStart:])
	f.stack = f.stack[:top.StackStart]
	f.frames = f.frames[:len(f.frames)-1]
}

// load returns register i of frame.
func (f *Fiber) load(frame *CallFrame, i int) memory.Value {
	return f.stack[frame.StackStart+i]
}

// store sets register i of frame.
func (f *Fiber) store(frame *CallFrame, i int, v memory.Value) {
	f.stack[frame.StackStart+i] = v
}

// ReachRoots passes every register of every active frame, and the result
// of a finished fiber, to the collector.
func (f *Fiber) ReachRoots(h *memory.Heap) {
	for i := range f.stack {
		h.Reach(&f.stack[i])
	}
	h.Reach(&f.value)
}

// fail stops the fiber with err, attributing it to the instruction just
// executed.
func (f *Fiber) fail(err error) Result {
	re := &RuntimeError{Fiber: f.ID, Err: err}
	if n := len(f.frames); n > 0 {
		top := f.frames[n-1]
		re.Method, re.IP = top.Method.Name, top.IP-1
	}
	f.err = re
	f.done = true
	f.stack = nil
	f.frames = nil
	return ResultError
}

// kill abandons the fiber. Its registers stop being roots.
func (f *Fiber) kill() {
	f.done = true
	f.stack = nil
	f.frames = nil
	f.value = memory.Null
}
