package memory

import "testing"

func newSpace(t *testing.T, words int) *Semispace {
	t.Helper()
	s := &Semispace{}
	s.Init(make([]uint64, words), 0, words*WordSize)
	return s
}

func TestSemispaceAllocateWritesSizeHeader(t *testing.T) {
	s := newSpace(t, 16)

	a, ok := s.Allocate(3 * WordSize)
	if !ok {
		t.Fatal("Allocate failed on an empty space")
	}
	if a != 1 {
		t.Errorf("first address = %d, want 1", a)
	}
	if got := s.objectWords(a); got != 3 {
		t.Errorf("size header = %d words, want 3", got)
	}
	if got := s.Allocated(); got != 4*WordSize {
		t.Errorf("Allocated = %d, want %d", got, 4*WordSize)
	}
	if got := s.Free(); got != 12*WordSize {
		t.Errorf("Free = %d, want %d", got, 12*WordSize)
	}
}

func TestSemispaceMinimumObjectSize(t *testing.T) {
	s := newSpace(t, 16)

	a, _ := s.Allocate(1)
	if got := s.objectWords(a); got != minObjectWords {
		t.Errorf("tiny allocation reserved %d words, want %d", got, minObjectWords)
	}
}

func TestSemispaceNeverCrossesLimit(t *testing.T) {
	s := newSpace(t, 10)

	// 1 header + 4 words, twice, is exactly 10 words.
	for i := 0; i < 2; i++ {
		if !s.CanAllocate(4 * WordSize) {
			t.Fatalf("allocation %d: CanAllocate = false", i)
		}
		if _, ok := s.Allocate(4 * WordSize); !ok {
			t.Fatalf("allocation %d failed", i)
		}
	}
	if s.CanAllocate(MinObjectSize) {
		t.Error("CanAllocate = true on a full space")
	}
	if _, ok := s.Allocate(MinObjectSize); ok {
		t.Error("Allocate succeeded on a full space")
	}
	if s.Free() != 0 {
		t.Errorf("Free = %d, want 0", s.Free())
	}
}

func TestSemispaceOversizeRequests(t *testing.T) {
	tests := []struct {
		name string
		size int
		ok   bool
	}{
		{"exactly the free space", 15 * WordSize, true},
		{"one word over", 16 * WordSize, false},
		{"one byte over", 15*WordSize + 1, false},
		{"wraps a 32-bit word count", 1 << 35, false},
		{"wraps to one word", 1<<35 + WordSize, false},
		{"huge", 1 << 62, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSpace(t, 16)
			if got := s.CanAllocate(tt.size); got != tt.ok {
				t.Errorf("CanAllocate(%d) = %v, want %v", tt.size, got, tt.ok)
			}
			_, ok := s.Allocate(tt.size)
			if ok != tt.ok {
				t.Fatalf("Allocate(%d) ok = %v, want %v", tt.size, ok, tt.ok)
			}
			if !ok && s.Allocated() != 0 {
				t.Errorf("failed allocation moved the frontier to %d bytes", s.Allocated())
			}
		})
	}
}

func TestSemispaceAllocateZeroes(t *testing.T) {
	words := make([]uint64, 8)
	for i := range words {
		words[i] = 0xdeadbeef
	}
	s := &Semispace{}
	s.Init(words, 0, len(words)*WordSize)

	a, _ := s.Allocate(3 * WordSize)
	for i := Addr(0); i < 3; i++ {
		if words[a+i] != 0 {
			t.Errorf("word %d = %#x, want 0", i, words[a+i])
		}
	}
}

func TestSemispaceWalkAndReset(t *testing.T) {
	s := newSpace(t, 32)

	sizes := []int{2, 5, 3}
	var addrs []Addr
	for _, n := range sizes {
		a, _ := s.Allocate(n * WordSize)
		addrs = append(addrs, a)
	}

	var walked []Addr
	for a := s.First(); a != 0; a = s.Next(a) {
		walked = append(walked, a)
	}
	if len(walked) != len(addrs) {
		t.Fatalf("walked %d objects, want %d", len(walked), len(addrs))
	}
	for i := range addrs {
		if walked[i] != addrs[i] {
			t.Errorf("object %d at %d, want %d", i, walked[i], addrs[i])
		}
	}

	s.Reset()
	if s.First() != 0 {
		t.Error("First after Reset should be 0")
	}
	if s.Free() != s.Size() {
		t.Errorf("Free after Reset = %d, want %d", s.Free(), s.Size())
	}
}

func TestSemispaceNextSeesGrowth(t *testing.T) {
	s := newSpace(t, 32)
	first, _ := s.Allocate(MinObjectSize)

	if s.Next(first) != 0 {
		t.Fatal("Next on the only object should be 0")
	}
	second, _ := s.Allocate(MinObjectSize)
	if got := s.Next(first); got != second {
		t.Errorf("Next after growth = %d, want %d", got, second)
	}
}

func TestSemispaceContainsOwnRangeOnly(t *testing.T) {
	words := make([]uint64, 20)
	var a, b Semispace
	a.Init(words, 0, 10*WordSize)
	b.Init(words, 10, 10*WordSize)

	x, _ := a.Allocate(MinObjectSize)
	y, _ := b.Allocate(MinObjectSize)
	if !a.Contains(x) || a.Contains(y) {
		t.Errorf("a.Contains(%d)=%v a.Contains(%d)=%v", x, a.Contains(x), y, a.Contains(y))
	}
	if !b.Contains(y) || b.Contains(x) {
		t.Errorf("b.Contains(%d)=%v b.Contains(%d)=%v", y, b.Contains(y), x, b.Contains(x))
	}
}

func TestSemispaceLifecycle(t *testing.T) {
	s := newSpace(t, 8)

	expectPanic(t, "semispace already initialized", func() {
		s.Init(make([]uint64, 8), 0, 8*WordSize)
	})

	s.ShutDown()
	expectPanic(t, "semispace not initialized", func() {
		s.Allocate(MinObjectSize)
	})
	expectPanic(t, "semispace not initialized", func() {
		s.ShutDown()
	})
}
