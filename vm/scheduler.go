package vm

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/cheney/memory"
)

var (
	// ErrMainKilled is returned by Run when the main fiber was killed.
	ErrMainKilled = errors.New("main fiber killed")
	// ErrNoFibers is returned by Run when nothing was spawned.
	ErrNoFibers = errors.New("no fibers to run")
)

// Scheduler runs fibers cooperatively, one at a time, in FIFO order. A
// fiber runs until it finishes, yields, or fails; a fiber interrupted by a
// collection is resumed immediately.
type Scheduler struct {
	rt     *Runtime
	ready  []*Fiber
	fibers map[uuid.UUID]*Fiber
	main   *Fiber
	result memory.Value

	mainKilled bool

	// Steps counts Fiber.Run calls; Collections counts those that ended in
	// a collection.
	Steps       int
	Collections int

	log commonlog.Logger
}

func newScheduler(rt *Runtime) *Scheduler {
	return &Scheduler{
		rt:     rt,
		fibers: make(map[uuid.UUID]*Fiber),
		log:    commonlog.GetLogger("cheney.scheduler"),
	}
}

// Scheduler returns the runtime's scheduler.
func (rt *Runtime) Scheduler() *Scheduler { return rt.sched }

func (s *Scheduler) add(f *Fiber) {
	if s.main == nil {
		s.main = f
	}
	s.fibers[f.ID] = f
	s.ready = append(s.ready, f)
	s.log.Debugf("fiber %s spawned (%s)", f.ID, f.frames[0].Method.Name)
}

// Run steps ready fibers until the main fiber finishes. Remaining fibers
// are killed when it does. The first fiber error stops the run.
//
// Every run ends with no main fiber, so the first fiber spawned afterwards
// is the main fiber of the next run. The result stays rooted until then.
func (s *Scheduler) Run(ctx context.Context) (memory.Value, error) {
	s.result = memory.Null
	defer s.endRun()

	for len(s.ready) > 0 && !s.mainKilled {
		f := s.ready[0]
		s.ready = s.ready[1:]
		if f.done {
			// Killed while queued.
			continue
		}

		res, err := s.step(ctx, f)
		if err != nil {
			return memory.Null, err
		}

		switch res {
		case ResultSuspend:
			s.ready = append(s.ready, f)

		case ResultDone:
			delete(s.fibers, f.ID)
			s.log.Debugf("fiber %s done: %s", f.ID, s.rt.Display(f.value))
			if f == s.main {
				s.result = f.value
				s.killAll()
				return s.result, nil
			}

		case ResultError:
			delete(s.fibers, f.ID)
			s.log.Errorf("fiber %s failed: %s", f.ID, f.err)
			s.killAll()
			return memory.Null, f.err
		}
	}
	if s.mainKilled {
		s.killAll()
		return memory.Null, ErrMainKilled
	}
	return memory.Null, ErrNoFibers
}

// step runs f until it stops for a reason other than a collection.
func (s *Scheduler) step(ctx context.Context, f *Fiber) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			s.killAll()
			return ResultError, err
		}
		s.Steps++
		res := f.Run()
		if res != ResultCollected {
			return res, nil
		}
		s.Collections++
	}
}

// kill removes a fiber from the scheduler.
func (s *Scheduler) kill(id uuid.UUID) bool {
	f, ok := s.fibers[id]
	if !ok {
		return false
	}
	delete(s.fibers, id)
	f.kill()
	if f == s.main {
		s.mainKilled = true
	}
	s.log.Debugf("fiber %s killed", id)
	return true
}

func (s *Scheduler) endRun() {
	s.main = nil
	s.mainKilled = false
}

func (s *Scheduler) killAll() {
	for id := range s.fibers {
		s.kill(id)
	}
	s.ready = nil
}

func (s *Scheduler) reachRoots(h *memory.Heap) {
	for _, f := range s.fibers {
		f.ReachRoots(h)
	}
	h.Reach(&s.result)
}
