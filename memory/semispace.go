package memory

// Addr is the word index of an object in the heap's backing store. Both
// semispaces are windows onto the same backing slice, so an address also
// identifies which space an object lives in. Address 0 is never handed out.
type Addr uint32

// WordSize is the size in bytes of one heap word.
const WordSize = 8

// MinObjectSize is the smallest allocation a semispace hands out, in bytes.
// A forwarded object is overwritten with a marker word and the destination
// address, so every object needs at least two words.
const MinObjectSize = 2 * WordSize

const minObjectWords = MinObjectSize / WordSize

// ---------------------------------------------------------------------------
// Semispace: bump-allocated region of heap words
// ---------------------------------------------------------------------------

// Semispace is a contiguous region of heap words. Each object is stored as a
// one-word size header followed by the object's words. Objects are allocated
// sequentially, so allocation is little more than advancing the frontier.
// Individual objects are never freed; Reset discards all of them at once.
type Semispace struct {
	words []uint64
	base  Addr // first word of the region
	free  Addr // first unallocated word
	limit Addr // one past the last word

	ready bool
}

// Init binds the semispace to words[base:base+size/WordSize]. Initializing
// a semispace twice is a usage error.
func (s *Semispace) Init(words []uint64, base Addr, size int) {
	assert(!s.ready, "semispace already initialized")
	n := Addr(size / WordSize)
	assert(int(base+n) <= len(words), "semispace [%d, %d) exceeds backing store of %d words", base, base+n, len(words))
	s.words = words
	s.base = base
	s.free = base
	s.limit = base + n
	s.ready = true
}

// ShutDown releases the region. It pairs with Init.
func (s *Semispace) ShutDown() {
	assert(s.ready, "semispace not initialized")
	*s = Semispace{}
}

// wordsFor returns the object words needed for size bytes. The arithmetic
// stays in int so oversized requests cannot wrap around Addr.
func wordsFor(size int) int {
	n := size / WordSize
	if size%WordSize != 0 {
		n++
	}
	if n < minObjectWords {
		n = minObjectWords
	}
	return n
}

// fits reports whether n object words plus their size header fit between
// the frontier and the limit.
func (s *Semispace) fits(n int) bool {
	return n <= int(s.limit-s.free)-1
}

// CanAllocate reports whether an object of size bytes fits.
func (s *Semispace) CanAllocate(size int) bool {
	assert(s.ready, "semispace not initialized")
	return size >= 0 && s.fits(wordsFor(size))
}

// Allocate reserves size bytes (at least MinObjectSize) and returns the
// address of the first word. The reserved words are zeroed. It returns
// false when the region does not have room.
func (s *Semispace) Allocate(size int) (Addr, bool) {
	assert(s.ready, "semispace not initialized")
	assert(size >= 0, "negative allocation size %d", size)
	n := wordsFor(size)
	if !s.fits(n) {
		return 0, false
	}
	s.words[s.free] = uint64(n)
	a := s.free + 1
	s.free = a + Addr(n)
	clear(s.words[a:s.free])
	return a, true
}

// Reset rewinds the region to empty. No cleanup runs for the discarded
// objects.
func (s *Semispace) Reset() {
	assert(s.ready, "semispace not initialized")
	s.free = s.base
}

// First returns the first object in the region, or 0 if it is empty.
func (s *Semispace) First() Addr {
	if s.free == s.base {
		return 0
	}
	return s.base + 1
}

// Next returns the object following cur, or 0 if cur is the last one. The
// frontier is re-read on every call, so objects allocated while a walk is in
// progress are visited too.
func (s *Semispace) Next(cur Addr) Addr {
	next := cur + s.objectWords(cur)
	if next >= s.free {
		return 0
	}
	return next + 1
}

// objectWords returns the word count recorded in a's size header.
func (s *Semispace) objectWords(a Addr) Addr {
	return Addr(s.words[a-1])
}

// Contains reports whether a is an object address inside this region.
func (s *Semispace) Contains(a Addr) bool {
	return a > s.base && a < s.limit
}

// Size returns the capacity of the region in bytes.
func (s *Semispace) Size() int { return int(s.limit-s.base) * WordSize }

// Allocated returns the number of bytes in use, headers included.
func (s *Semispace) Allocated() int { return int(s.free-s.base) * WordSize }

// Free returns the number of unallocated bytes.
func (s *Semispace) Free() int { return int(s.limit-s.free) * WordSize }
