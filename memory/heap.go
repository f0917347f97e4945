package memory

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
)

// RootSource enumerates the references the collector must treat as live
// that are not held in an open scope. It is implemented by the runtime that
// owns the heap and is called once per collection; it must pass every root
// to Heap.Reach.
type RootSource interface {
	ReachRoots(h *Heap)
}

// Defaults used when no option overrides them.
const (
	DefaultSize = 1 << 20 // bytes per semispace
)

// OutOfMemoryError reports that the heap could not satisfy a request, either
// an allocation or the free space a collection must leave behind.
type OutOfMemoryError struct {
	Requested int // bytes needed
	Available int // bytes free
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: requested %s (%d bytes), %s (%d bytes) available",
		humanize.IBytes(uint64(e.Requested)), e.Requested,
		humanize.IBytes(uint64(e.Available)), e.Available)
}

// Option configures a Heap.
type Option func(*Heap)

// WithSize sets the size in bytes of each of the two semispaces.
func WithSize(bytes int) Option {
	return func(h *Heap) { h.size = bytes }
}

// WithLowWaterMark sets the free-space threshold at or below which
// CheckCollect runs a collection. It defaults to one eighth of the size.
func WithLowWaterMark(bytes int) Option {
	return func(h *Heap) { h.lowWater = bytes }
}

// WithLiveSetGrowth controls what happens when a collection leaves less
// free space than the previous one did. By default that is out of memory;
// with allow set it is only logged as a warning, and a collection is fatal
// only once free space is at or below the low-water mark.
func WithLiveSetGrowth(allow bool) Option {
	return func(h *Heap) { h.allowGrowth = allow }
}

// WithLogger replaces the heap's logger.
func WithLogger(log commonlog.Logger) Option {
	return func(h *Heap) { h.log = log }
}

// WithOutOfMemory installs the handler called when the heap runs out of
// memory. The default handler panics with the error. A handler that
// returns lets the failing Allocate return Null.
func WithOutOfMemory(fn func(*OutOfMemoryError)) Option {
	return func(h *Heap) { h.onOOM = fn }
}

// ---------------------------------------------------------------------------
// Heap: Cheney-style semispace copying collector
// ---------------------------------------------------------------------------

// Heap is the dynamic memory manager. It allocates from one semispace and,
// on collection, copies every object reachable from the roots into the
// other, leaving forwarding markers behind, then swaps the two.
//
// The heap keeps two restrictions that make it simple and safe:
//
//   - Allocate never collects. Collection happens only in CheckCollect (or
//     Collect), which the interpreter calls between instructions. As long as
//     no more than the low-water mark is allocated between two calls,
//     allocation never fails for lack of a collection.
//
//   - The only roots are the ones the RootSource reports and the values in
//     open scopes. A Value held anywhere else (a Go local, say) across a
//     collection is stale afterwards.
//
// A Heap is not safe for concurrent use.
type Heap struct {
	words    []uint64
	a, b     Semispace
	from, to *Semispace // from is where allocation happens

	roots RootSource

	// Transient handle slots; see Scope.
	slots []slot
	epoch uint64
	scope *Scope

	size        int
	lowWater    int
	lastFree    int
	allowGrowth bool
	collections int
	copied      int
	collecting  bool
	closed      bool

	log   commonlog.Logger
	onOOM func(*OutOfMemoryError)
}

// New creates a heap whose roots are enumerated by roots.
func New(roots RootSource, opts ...Option) *Heap {
	assert(roots != nil, "heap needs a root source")
	h := &Heap{
		roots:    roots,
		size:     DefaultSize,
		lowWater: -1,
		lastFree: -1,
		log:      commonlog.GetLogger("cheney.memory"),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.onOOM == nil {
		h.onOOM = func(err *OutOfMemoryError) { panic(err) }
	}

	sizeWords := h.size / WordSize
	assert(sizeWords >= 1+minObjectWords, "heap size %d is smaller than one object", h.size)
	assert(2*sizeWords < math.MaxUint32, "heap size %d is too large", h.size)
	h.size = sizeWords * WordSize
	if h.lowWater < 0 {
		h.lowWater = h.size / 8
	}
	assert(h.lowWater < h.size, "low-water mark %d must be below the heap size %d", h.lowWater, h.size)

	h.words = make([]uint64, 2*sizeWords)
	h.a.Init(h.words, 0, h.size)
	h.b.Init(h.words, Addr(sizeWords), h.size)
	h.from, h.to = &h.a, &h.b

	h.log.Debugf("heap initialized: 2 x %s, low-water mark %s",
		humanize.IBytes(uint64(h.size)), humanize.IBytes(uint64(h.lowWater)))
	return h
}

// Close releases both semispaces. Any further use of the heap is a usage
// error.
func (h *Heap) Close() {
	h.checkOpen()
	h.a.ShutDown()
	h.b.ShutDown()
	h.words = nil
	h.slots = nil
	h.scope = nil
	h.closed = true
}

func (h *Heap) checkOpen() {
	assert(!h.closed, "heap used after Close")
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate reserves a zeroed object of kind k with the given aux count in
// the active semispace and returns a reference to it. It never collects. If
// there is not enough room the out-of-memory handler runs; if that returns,
// Allocate returns Null.
//
// The returned reference is not rooted. The caller must store it in a
// register, a rooted object, or a Temp before the next safe point.
func (h *Heap) Allocate(k Kind, aux uint64) Value {
	h.checkOpen()
	assert(!h.collecting, "cannot allocate during a collection")
	if aux > MaxAux {
		h.outOfMemory(math.MaxInt, h.from.Free())
		return Null
	}
	size := ObjectSize(k, aux)
	if size > h.from.Size() {
		// Could never fit, even in an empty semispace.
		h.outOfMemory(size+WordSize, h.from.Free())
		return Null
	}
	a, ok := h.from.Allocate(size)
	if !ok {
		h.outOfMemory(size+WordSize, h.from.Free())
		return Null
	}
	h.words[a] = header(k, aux)
	return refTo(a)
}

func (h *Heap) outOfMemory(requested, available int) {
	err := &OutOfMemoryError{Requested: requested, Available: available}
	h.log.Critical(err.Error())
	h.onOOM(err)
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// CheckCollect is the collector's safe point. If free space in the active
// semispace is above the low-water mark it does nothing and returns false.
// Otherwise it collects and returns true; every Value outside the roots and
// open scopes is stale afterwards.
func (h *Heap) CheckCollect() bool {
	h.checkOpen()
	if h.from.Free() > h.lowWater {
		return false
	}
	h.Collect()
	return true
}

// Collect runs a collection unconditionally. The same safe-point rules as
// CheckCollect apply.
//
// A collection that leaves less free space than the previous one, or that
// leaves no more than the low-water mark, runs the out-of-memory handler.
func (h *Heap) Collect() {
	h.checkOpen()
	assert(!h.collecting, "collection already in progress")

	freeBefore := h.from.Free()
	h.collecting = true
	h.copied = 0

	// Copy the roots, then everything held by open scopes.
	h.roots.ReachRoots(h)
	for i := range h.slots {
		h.Reach(&h.slots[i].value)
	}

	// Walk to-space in allocation order. Each object's references are copied
	// in behind the cursor, so the walk ends once nothing is left to scan.
	for a := h.to.First(); a != 0; a = h.to.Next(a) {
		hdr := h.words[a]
		if visit := kinds[headerKind(hdr)].visit; visit != nil {
			visit(h, a, headerAux(hdr))
		}
	}

	// Everything live has been copied out of from-space.
	h.from.Reset()
	h.from, h.to = h.to, h.from
	h.collecting = false
	h.collections++

	free := h.from.Free()
	h.log.Debugf("collection %d: copied %s, free %s -> %s",
		h.collections, humanize.IBytes(uint64(h.copied)),
		humanize.IBytes(uint64(freeBefore)), humanize.IBytes(uint64(free)))
	lastFree := h.lastFree
	h.lastFree = free
	if lastFree >= 0 && free < lastFree {
		if !h.allowGrowth {
			h.outOfMemory(lastFree, free)
			return
		}
		h.log.Warningf("live set grew: %s free after collection %d, %s after the previous one",
			humanize.IBytes(uint64(free)), h.collections, humanize.IBytes(uint64(lastFree)))
	}
	if free <= h.lowWater {
		h.outOfMemory(h.lowWater+1, free)
	}
}

// Reach marks the reference in *ref as live during a collection. If the
// referent has already been copied, *ref is updated to the copy; otherwise
// the referent is copied to to-space, a forwarding marker is left in its
// old location, and *ref is updated. Immediates and null are left alone.
//
// Reach may only be called from RootSource.ReachRoots.
func (h *Heap) Reach(ref *Value) {
	v := *ref
	if !v.IsRef() {
		return
	}
	assert(h.collecting, "Reach called outside a collection")
	a := v.addr()
	if h.to.Contains(a) {
		// Already relocated through this same slot.
		return
	}
	assert(h.from.Contains(a), "reference %s points outside the heap", v)
	*ref = refTo(h.copy(a))
}

// reachWord reaches the Value stored in heap word i.
func (h *Heap) reachWord(i Addr) {
	v := Value(h.words[i])
	h.Reach(&v)
	h.words[i] = uint64(v)
}

// copy moves the object at a into to-space, unless it has been moved
// already, and returns its new address.
func (h *Heap) copy(a Addr) Addr {
	if headerKind(h.words[a]) == KindForwarded {
		return Addr(h.words[a+1])
	}
	n := h.from.objectWords(a)
	dest, ok := h.to.Allocate(int(n) * WordSize)
	assert(ok, "to-space overflow copying %d words", n)
	copy(h.words[dest:dest+n], h.words[a:a+n])
	h.copied += int(n+1) * WordSize

	h.words[a] = header(KindForwarded, 0)
	h.words[a+1] = uint64(dest)
	return dest
}

// ---------------------------------------------------------------------------
// Statistics and walking
// ---------------------------------------------------------------------------

// Collections returns the number of collections run so far.
func (h *Heap) Collections() int { return h.collections }

// Free returns the free bytes in the active semispace.
func (h *Heap) Free() int { return h.from.Free() }

// Allocated returns the bytes in use in the active semispace.
func (h *Heap) Allocated() int { return h.from.Allocated() }

// Size returns the size in bytes of one semispace.
func (h *Heap) Size() int { return h.size }

// LowWaterMark returns the collection threshold in bytes.
func (h *Heap) LowWaterMark() int { return h.lowWater }

// HeapStats is a snapshot of heap usage.
type HeapStats struct {
	Size         int
	Allocated    int
	Free         int
	LowWaterMark int
	Collections  int
	LastCopied   int
	Temps        int
	Objects      map[Kind]int
}

func (s HeapStats) String() string {
	return fmt.Sprintf("heap %s, %s used, %s free, %d collections (last copied %s), %d temps",
		humanize.IBytes(uint64(s.Size)), humanize.IBytes(uint64(s.Allocated)),
		humanize.IBytes(uint64(s.Free)), s.Collections,
		humanize.IBytes(uint64(s.LastCopied)), s.Temps)
}

// Stats returns current usage, including a count of live-space objects by
// kind.
func (h *Heap) Stats() HeapStats {
	h.checkOpen()
	s := HeapStats{
		Size:         h.size,
		Allocated:    h.from.Allocated(),
		Free:         h.from.Free(),
		LowWaterMark: h.lowWater,
		Collections:  h.collections,
		LastCopied:   h.copied,
		Temps:        len(h.slots),
		Objects:      make(map[Kind]int),
	}
	h.Walk(func(_ Value, k Kind) bool {
		s.Objects[k]++
		return true
	})
	return s
}

// Walk calls fn for every object in the active semispace in allocation
// order, including unreachable ones that have not been collected yet. It
// stops early if fn returns false. fn must not allocate.
func (h *Heap) Walk(fn func(v Value, k Kind) bool) {
	h.checkOpen()
	for a := h.from.First(); a != 0; a = h.from.Next(a) {
		if !fn(refTo(a), headerKind(h.words[a])) {
			return
		}
	}
}
