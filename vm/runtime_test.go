package vm_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/chazu/cheney/asm"
	"github.com/chazu/cheney/memory"
	"github.com/chazu/cheney/vm"
)

// newRuntime assembles src and loads it into a fresh runtime whose output
// goes to the returned buffer.
func newRuntime(t *testing.T, src string, opts ...vm.Option) (*vm.Runtime, *bytes.Buffer) {
	t.Helper()
	p, err := asm.Assemble(t.Name(), src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	var out bytes.Buffer
	rt := vm.New(append([]vm.Option{vm.WithOutput(&out)}, opts...)...)
	t.Cleanup(rt.Close)
	if err := rt.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return rt, &out
}

// run executes the entry method and returns the display form of its result.
func run(t *testing.T, src string, opts ...vm.Option) (string, error) {
	t.Helper()
	rt, _ := newRuntime(t, src, opts...)
	v, err := rt.RunMain(context.Background())
	if err != nil {
		return "", err
	}
	return rt.Display(v), nil
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

const fibSource = `
method main registers=2
    int r0 15
    call r1 fib r0
    return r1
end

method fib registers=5 params=1
    int r1 2
    lt r2 r0 r1
    jump_if_false r2 @recurse
    return r0
recurse:
    int r1 1
    sub r2 r0 r1
    call r3 fib r2
    sub r2 r2 r1
    call r4 fib r2
    add r3 r3 r4
    return r3
end
`

// listSource builds a 300-node chain of {i, next} records while allocating
// a garbage string per node, then sums the chain.
const listSource = `
method main registers=8
    int r0 300
    int r1 1
    int r2 0
    nothing r3
    const r5 "garbage-"
build:
    lt r4 r2 r0
    jump_if_false r4 @sum
    record r3 r2 2
    add r6 r5 r5
    add r2 r2 r1
    jump @build
sum:
    int r7 0
walk:
    jump_if_false r3 @done
    get_field r6 r3 0
    add r7 r7 r6
    get_field r3 r3 1
    jump @walk
done:
    return r7
end
`

func TestRunResults(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"arithmetic", `method main registers=3
    int r0 3
    int r1 4
    add r2 r0 r1
    int r1 5
    mul r2 r2 r1
    return r2
end`, "35"},
		{"integer division", `method main registers=2
    int r0 -7
    int r1 2
    div r0 r0 r1
    return r0
end`, "-3"},
		{"float promotion", `method main registers=3
    const r0 1.5
    int r1 2
    add r2 r0 r1
    return r2
end`, "3.5"},
		{"string concat", `method main registers=3
    const r0 "hello, "
    const r1 "world"
    add r2 r0 r1
    return r2
end`, "hello, world"},
		{"string equality", `method main registers=4
    const r0 "a"
    const r1 "b"
    add r2 r0 r1
    const r3 "ab"
    eq r2 r2 r3
    return r2
end`, "true"},
		{"comparison", `method main registers=3
    int r0 2
    int r1 2
    lte r2 r0 r1
    not r2 r2
    return r2
end`, "false"},
		{"fib", fibSource, "610"},
		{"records", `method main registers=4
    int r0 1
    int r1 2
    record r2 r0 2
    int r3 9
    set_field r2 1 r3
    get_field r3 r2 1
    return r2
end`, "{1, 9}"},
		{"lists", `method main registers=4
    int r0 3
    list r1 r0
    const r2 "s"
    append r1 r2
    nothing r3
    record r2 r3 1
    append r1 r2
    len r3 r1
    append r1 r3
    return r1
end`, `["s", {nothing}, 2]`},
		{"list index", `method main registers=4
    int r0 2
    list r1 r0
    int r2 10
    append r1 r2
    int r2 20
    append r1 r2
    int r3 1
    at r0 r1 r3
    return r0
end`, "20"},
		{"self reference", `method main registers=2
    nothing r1
    record r0 r1 1
    set_field r0 0 r0
    return r0
end`, "{{{{{{{{...}}}}}}}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.src)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunUnderCollection(t *testing.T) {
	rt, _ := newRuntime(t, listSource,
		vm.WithHeapOptions(memory.WithSize(16<<10)))

	v, err := rt.RunMain(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := v.Int(); got != 44850 {
		t.Errorf("sum = %d, want 44850", got)
	}
	if rt.Heap().Collections() == 0 {
		t.Error("expected the program to trigger a collection")
	}
	if rt.Scheduler().Collections != rt.Heap().Collections() {
		t.Errorf("scheduler saw %d collections, heap ran %d",
			rt.Scheduler().Collections, rt.Heap().Collections())
	}
}

func TestRunGCStress(t *testing.T) {
	for _, src := range []string{listSource, fibSource} {
		plain, err := run(t, src)
		if err != nil {
			t.Fatal(err)
		}
		// The chain grows between the collections stress mode forces.
		stressed, err := run(t, src, vm.WithGCStress(true),
			vm.WithHeapOptions(memory.WithSize(32<<10), memory.WithLiveSetGrowth(true)))
		if err != nil {
			t.Fatalf("gc stress: %v", err)
		}
		if plain != stressed {
			t.Errorf("gc stress changed the result: %s vs %s", stressed, plain)
		}
	}
}

func TestDisplayBoundsElements(t *testing.T) {
	rt := vm.New()
	defer rt.Close()
	h := rt.Heap()

	flat := h.NewList(300)
	for i := 0; i < 300; i++ {
		h.Append(flat, memory.Int(int64(i)))
	}
	parts := make([]string, 0, 257)
	for i := 0; i < 256; i++ {
		parts = append(parts, strconv.Itoa(i))
	}
	want := "[" + strings.Join(append(parts, "..."), ", ") + "]"
	if got := rt.Display(flat); got != want {
		t.Errorf("flat list displays as %q", got)
	}

	// Every level shares one child, so the tree fans out to 255^8 leaves.
	wide := h.NewList(255)
	for i := 0; i < 255; i++ {
		h.Append(wide, memory.Int(int64(i)))
	}
	for level := 0; level < 7; level++ {
		next := h.NewRecord(make([]memory.Value, 255)...)
		for i := 0; i < 255; i++ {
			h.SetField(next, i, wide)
		}
		wide = next
	}
	got := rt.Display(wide)
	if len(got) > 4096 {
		t.Errorf("wide structure displayed as %d bytes", len(got))
	}
	if !strings.HasSuffix(got, ", ...}") {
		t.Errorf("display does not end in an elision: ...%s", got[len(got)-20:])
	}
}

func TestPrint(t *testing.T) {
	rt, out := newRuntime(t, `method main registers=3
    const r0 "line"
    print r0
    const r1 2.25
    print r1
    record r2 r0 2
    print r2
    nothing r0
    return r0
end`)
	if _, err := rt.RunMain(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := "line\n2.25\n{\"line\", 2.25}\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		target error
		ip     int
	}{
		{"divide by zero", `method main registers=2
    int r0 1
    int r1 0
    div r0 r0 r1
    return r0
end`, vm.ErrDivideByZero, 2},
		{"type mismatch", `method main registers=2
    int r0 1
    const r1 "x"
    add r0 r0 r1
    return r0
end`, vm.ErrTypeMismatch, 2},
		{"field of int", `method main registers=1
    int r0 1
    get_field r0 r0 0
    return r0
end`, vm.ErrTypeMismatch, 1},
		{"list full", `method main registers=2
    int r0 0
    list r1 r0
    append r1 r0
    return r1
end`, vm.ErrListFull, 2},
		{"index out of range", `method main registers=3
    int r0 1
    list r1 r0
    at r2 r1 r0
    return r2
end`, vm.ErrOutOfRange, 2},
		{"raised", `method main registers=1
    const r0 "boom"
    error r0
end`, vm.ErrRaised, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.src)
			if !errors.Is(err, tt.target) {
				t.Fatalf("err = %v, want %v", err, tt.target)
			}
			var re *vm.RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("err = %T, want *vm.RuntimeError", err)
			}
			if re.Method != "main" || re.IP != tt.ip {
				t.Errorf("error at %s:%d, want main:%d", re.Method, re.IP, tt.ip)
			}
		})
	}
}

func TestErrorMessageCarriesValue(t *testing.T) {
	_, err := run(t, `method main registers=1
    const r0 "boom"
    error r0
end`)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v", err)
	}
}

func TestStackOverflow(t *testing.T) {
	_, err := run(t, `method main registers=1
    call r0 main
    return r0
end`, vm.WithMaxFrames(50))
	if !errors.Is(err, vm.ErrStackOverflow) {
		t.Errorf("err = %v, want stack overflow", err)
	}
}

func TestNotLoaded(t *testing.T) {
	rt := vm.New()
	defer rt.Close()
	if _, err := rt.Spawn("main"); !errors.Is(err, vm.ErrNotLoaded) {
		t.Errorf("Spawn err = %v", err)
	}
	if _, err := rt.Run(context.Background()); !errors.Is(err, vm.ErrNotLoaded) {
		t.Errorf("Run err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

const yieldSource = `
method main registers=2
    const r0 "main 1"
    print r0
    yield
    const r0 "main 2"
    print r0
    yield
    int r1 7
    return r1
end

method worker registers=1 params=1
    print r0
    yield
    print r0
    yield
    print r0
    return r0
end
`

func TestSchedulerInterleavesFibers(t *testing.T) {
	rt, out := newRuntime(t, yieldSource)

	if _, err := rt.Spawn("main"); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Spawn("worker", memory.Int(9)); err != nil {
		t.Fatal(err)
	}
	v, err := rt.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v.Int() != 7 {
		t.Errorf("result = %s, want 7", v)
	}
	if want := "main 1\n9\nmain 2\n9\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if rt.Fibers() != 0 {
		t.Errorf("%d fibers left after main finished", rt.Fibers())
	}
}

func TestRunAgainAfterCompletion(t *testing.T) {
	rt, out := newRuntime(t, yieldSource)

	for i := 0; i < 2; i++ {
		v, err := rt.RunMain(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if v.Int() != 7 {
			t.Errorf("run %d result = %s, want 7", i, v)
		}
	}
	if want := "main 1\nmain 2\nmain 1\nmain 2\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	// The first fiber spawned after a run is the next run's main fiber.
	if _, err := rt.Spawn("worker", memory.Int(3)); err != nil {
		t.Fatal(err)
	}
	v, err := rt.Run(context.Background())
	if err != nil || v.Int() != 3 {
		t.Errorf("Run = %s, %v, want 3", v, err)
	}
}

func TestRunAfterFailedRun(t *testing.T) {
	rt, _ := newRuntime(t, `
method main registers=1
    const r0 "boom"
    error r0
end

method worker registers=1 params=1
    yield
    return r0
end`)

	if _, err := rt.Spawn("main"); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Spawn("worker", memory.Int(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Run(context.Background()); err == nil {
		t.Fatal("failing main returned no error")
	}
	if rt.Fibers() != 0 {
		t.Errorf("%d fibers left after the failed run", rt.Fibers())
	}

	if _, err := rt.Spawn("worker", memory.Int(5)); err != nil {
		t.Fatal(err)
	}
	v, err := rt.Run(context.Background())
	if err != nil || v.Int() != 5 {
		t.Errorf("Run = %s, %v, want 5", v, err)
	}
}

func TestSpawnArgumentCount(t *testing.T) {
	rt, _ := newRuntime(t, yieldSource)
	if _, err := rt.Spawn("worker"); err == nil {
		t.Error("Spawn with too few arguments succeeded")
	}
	if _, err := rt.Spawn("missing"); err == nil {
		t.Error("Spawn of an unknown method succeeded")
	}
}

func TestKilledFiberIsNotARoot(t *testing.T) {
	rt, _ := newRuntime(t, `
method main registers=1
    int r0 1
    return r0
end

method hold registers=1 params=1
    yield
    return r0
end`)
	h := rt.Heap()

	if _, err := rt.Spawn("main"); err != nil {
		t.Fatal(err)
	}
	w, err := rt.Spawn("hold", h.NewRecord(memory.Int(1), memory.Int(2)))
	if err != nil {
		t.Fatal(err)
	}

	h.Collect()
	if n := h.Stats().Objects[memory.KindRecord]; n != 1 {
		t.Fatalf("%d records live while the fiber holds one", n)
	}

	if !rt.Kill(w.ID) {
		t.Fatal("Kill returned false")
	}
	if rt.Kill(w.ID) {
		t.Error("second Kill returned true")
	}
	h.Collect()
	if n := h.Stats().Objects[memory.KindRecord]; n != 0 {
		t.Errorf("%d records survived the fiber's death", n)
	}

	v, err := rt.Run(context.Background())
	if err != nil || v.Int() != 1 {
		t.Errorf("Run = %s, %v", v, err)
	}
}

func TestKillMain(t *testing.T) {
	rt, _ := newRuntime(t, yieldSource)
	f, err := rt.Spawn("main")
	if err != nil {
		t.Fatal(err)
	}
	rt.Kill(f.ID)
	if _, err := rt.Run(context.Background()); !errors.Is(err, vm.ErrMainKilled) {
		t.Errorf("err = %v, want ErrMainKilled", err)
	}
}

func TestRunHonorsContext(t *testing.T) {
	rt, _ := newRuntime(t, `method main registers=1
loop:
    yield
    jump @loop
end`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rt.RunMain(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
