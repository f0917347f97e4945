package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/cheney/image"
	"github.com/chazu/cheney/memory"
)

// DefaultMaxFrames bounds the call depth of a fiber.
const DefaultMaxFrames = 10000

// ErrNotLoaded is returned when a runtime is used before Load.
var ErrNotLoaded = errors.New("no program loaded")

// Option configures a Runtime.
type Option func(*Runtime)

// WithOutput sets where PRINT writes. It defaults to standard output.
func WithOutput(w io.Writer) Option {
	return func(rt *Runtime) { rt.out = w }
}

// WithGCStress makes every safe point run a full collection.
func WithGCStress(on bool) Option {
	return func(rt *Runtime) { rt.gcStress = on }
}

// WithMaxFrames bounds the call depth of each fiber.
func WithMaxFrames(n int) Option {
	return func(rt *Runtime) { rt.maxFrames = n }
}

// WithHeapOptions passes options through to the heap.
func WithHeapOptions(opts ...memory.Option) Option {
	return func(rt *Runtime) { rt.heapOpts = append(rt.heapOpts, opts...) }
}

// ---------------------------------------------------------------------------
// Runtime: heap owner and root source
// ---------------------------------------------------------------------------

// Runtime owns a heap, the methods loaded into it, and the fibers running
// them. It is the heap's root source: method constants and the registers
// of every live fiber are roots.
type Runtime struct {
	heap    *memory.Heap
	methods []*Method
	byName  map[string]*Method
	entry   string

	sched *Scheduler

	out       io.Writer
	gcStress  bool
	maxFrames int
	heapOpts  []memory.Option

	log commonlog.Logger
}

// New creates a runtime and its heap.
func New(opts ...Option) *Runtime {
	rt := &Runtime{
		byName:    make(map[string]*Method),
		out:       os.Stdout,
		maxFrames: DefaultMaxFrames,
		log:       commonlog.GetLogger("cheney.vm"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.sched = newScheduler(rt)
	rt.heap = memory.New(rt, rt.heapOpts...)
	return rt
}

// Heap returns the runtime's heap.
func (rt *Runtime) Heap() *memory.Heap { return rt.heap }

// Close releases the heap. The runtime cannot be used afterwards.
func (rt *Runtime) Close() {
	rt.sched.killAll()
	rt.methods = nil
	rt.heap.Close()
}

// safePoint is called by fibers between instructions. It reports whether a
// collection ran.
func (rt *Runtime) safePoint() bool {
	if rt.gcStress {
		rt.heap.Collect()
		return true
	}
	return rt.heap.CheckCollect()
}

// ReachRoots implements memory.RootSource.
func (rt *Runtime) ReachRoots(h *memory.Heap) {
	for _, m := range rt.methods {
		for i := range m.Constants {
			h.Reach(&m.Constants[i])
		}
	}
	rt.sched.reachRoots(h)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load verifies p and installs its methods. Constants are allocated in the
// heap as they are loaded; each is rooted before the next allocation.
func (rt *Runtime) Load(p *image.Program) error {
	if rt.methods != nil {
		return errors.New("load: a program is already loaded")
	}
	if err := Verify(p); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	rt.methods = make([]*Method, 0, len(p.Methods))
	for i, pm := range p.Methods {
		m := &Method{
			Name:      pm.Name,
			Index:     i,
			Registers: pm.Registers,
			Params:    pm.Params,
			Code:      make([]Instruction, len(pm.Code)),
			Constants: make([]memory.Value, len(pm.Constants)),
		}
		for j, word := range pm.Code {
			m.Code[j] = Instruction(word)
		}
		rt.methods = append(rt.methods, m)
		rt.byName[m.Name] = m

		for j, c := range pm.Constants {
			rt.heap.CheckCollect()
			m.Constants[j] = rt.constant(c)
		}
	}
	rt.entry = p.Entry
	rt.log.Debugf("loaded %d methods, entry %s", len(rt.methods), rt.entry)
	return nil
}

func (rt *Runtime) constant(c image.Constant) memory.Value {
	switch c.Kind {
	case image.ConstInt:
		return memory.Int(c.Int)
	case image.ConstFloat:
		return rt.heap.NewFloat(c.Float)
	case image.ConstString:
		return rt.heap.NewString(c.Str)
	case image.ConstTrue:
		return memory.True
	case image.ConstFalse:
		return memory.False
	}
	return memory.Nothing
}

// Method returns the loaded method with the given name.
func (rt *Runtime) Method(name string) (*Method, bool) {
	m, ok := rt.byName[name]
	return m, ok
}

// Methods returns the loaded methods in index order.
func (rt *Runtime) Methods() []*Method { return rt.methods }

// Entry returns the name of the loaded program's entry method.
func (rt *Runtime) Entry() string { return rt.entry }

// ---------------------------------------------------------------------------
// Fibers
// ---------------------------------------------------------------------------

// Spawn creates a fiber that calls the named method with args and queues
// it. The first fiber spawned is the main fiber: its result is the result
// of Run.
func (rt *Runtime) Spawn(name string, args ...memory.Value) (*Fiber, error) {
	if rt.methods == nil {
		return nil, ErrNotLoaded
	}
	m, ok := rt.byName[name]
	if !ok {
		return nil, fmt.Errorf("spawn: no method %q", name)
	}
	if len(args) != m.Params {
		return nil, fmt.Errorf("spawn: %s takes %d arguments, got %d", m.Name, m.Params, len(args))
	}
	f := newFiber(rt)
	if err := f.call(m, args); err != nil {
		return nil, fmt.Errorf("spawn: %w", err)
	}
	rt.sched.add(f)
	return f, nil
}

// Run drives the scheduler until the main fiber finishes, a fiber fails,
// or ctx is done. The returned value is valid until the next collection.
func (rt *Runtime) Run(ctx context.Context) (memory.Value, error) {
	if rt.methods == nil {
		return memory.Null, ErrNotLoaded
	}
	return rt.sched.Run(ctx)
}

// RunMain spawns the entry method and runs it to completion.
func (rt *Runtime) RunMain(ctx context.Context) (memory.Value, error) {
	if _, err := rt.Spawn(rt.entry); err != nil {
		return memory.Null, err
	}
	return rt.Run(ctx)
}

// Kill stops a fiber. Its registers are no longer roots, so anything only
// it referenced is reclaimed by the next collection.
func (rt *Runtime) Kill(id uuid.UUID) bool {
	return rt.sched.kill(id)
}

// Fibers returns the number of live fibers.
func (rt *Runtime) Fibers() int { return len(rt.sched.fibers) }
