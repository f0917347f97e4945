package memory

import "fmt"

// Kind identifies the layout of a heap object. The catalog is closed: every
// object in the heap is one of these, and the collector picks the size and
// reference-visiting function by tag.
type Kind uint8

const (
	// KindInvalid is the tag of a zeroed header word.
	KindInvalid Kind = iota
	// KindForwarded marks an object that has been copied to to-space. The
	// first payload word holds its new address.
	KindForwarded
	// KindFloat holds one float64.
	KindFloat
	// KindString holds aux bytes packed eight to a word.
	KindString
	// KindRecord holds aux Value fields.
	KindRecord
	// KindList holds a count word followed by aux Value slots.
	KindList

	kindCount
)

// Every object starts with a header word: the kind in the low byte and a
// kind-specific count ("aux") above it.
const (
	kindBits = 8
	kindMask = 1<<kindBits - 1
	// MaxAux is the largest aux count an object header can carry.
	MaxAux = 1<<(64-kindBits) - 1
)

func header(k Kind, aux uint64) uint64 { return uint64(k) | aux<<kindBits }

func headerKind(h uint64) Kind { return Kind(h & kindMask) }

func headerAux(h uint64) uint64 { return h >> kindBits }

type kindInfo struct {
	name string
	// payload returns the number of words after the header word.
	payload func(aux uint64) int
	// visit reaches every reference held by the object at a.
	visit func(h *Heap, a Addr, aux uint64)
}

var kinds = [kindCount]kindInfo{
	KindInvalid:   {name: "invalid"},
	KindForwarded: {name: "forwarded", payload: func(uint64) int { return 1 }},
	KindFloat: {
		name:    "float",
		payload: func(uint64) int { return 1 },
	},
	KindString: {
		name:    "string",
		payload: func(aux uint64) int { return int((aux + WordSize - 1) / WordSize) },
	},
	KindRecord: {
		name:    "record",
		payload: func(aux uint64) int { return int(aux) },
		visit: func(h *Heap, a Addr, aux uint64) {
			for i := Addr(0); i < Addr(aux); i++ {
				h.reachWord(a + 1 + i)
			}
		},
	},
	KindList: {
		name:    "list",
		payload: func(aux uint64) int { return 1 + int(aux) },
		visit: func(h *Heap, a Addr, aux uint64) {
			count := Addr(h.words[a+1])
			for i := Addr(0); i < count; i++ {
				h.reachWord(a + 2 + i)
			}
		},
	},
}

func (k Kind) String() string {
	if k < kindCount {
		return kinds[k].name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ObjectSize returns the number of bytes an object of kind k with the given
// aux count occupies, excluding the semispace size header.
func ObjectSize(k Kind, aux uint64) int {
	assert(k > KindForwarded && k < kindCount, "cannot size object of kind %s", k)
	assert(aux <= MaxAux, "aux count %d too large", aux)
	size := (1 + kinds[k].payload(aux)) * WordSize
	if size < MinObjectSize {
		size = MinObjectSize
	}
	return size
}
