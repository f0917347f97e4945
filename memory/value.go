package memory

import "fmt"

// Value is a single tagged machine word held in a register, a method's
// constant table, or a field of a heap object.
//
// Encoding (low bits):
//   - xx1: small integer, 63-bit signed payload in the upper bits
//   - 010: atom (nothing, true, false), atom ID in the upper bits
//   - 000: reference to a heap object, word address in the upper bits
//
// The all-zero word is the null reference, so freshly zeroed memory holds
// only nulls. A reference Value is a rooted reference: as long as it is
// stored somewhere the collector can reach, the collector rewrites it in
// place whenever its referent moves. Two references are equal exactly when
// they refer to the same object.
type Value uint64

const (
	tagIntBit  uint64 = 0x1
	tagMask    uint64 = 0x3
	tagAtom    uint64 = 0x2
	tagRef     uint64 = 0x0
	valueShift        = 2
)

// Null is the null reference.
const Null Value = 0

// Atoms.
const (
	Nothing Value = Value(0<<valueShift | tagAtom)
	True    Value = Value(1<<valueShift | tagAtom)
	False   Value = Value(2<<valueShift | tagAtom)
)

// Small integer range (63-bit signed).
const (
	MaxInt int64 = 1<<62 - 1
	MinInt int64 = -(1 << 62)
)

// Int returns the small integer n. Values outside [MinInt, MaxInt] wrap.
func Int(n int64) Value {
	return Value(uint64(n)<<1 | tagIntBit)
}

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

func refTo(a Addr) Value {
	return Value(uint64(a)<<valueShift | tagRef)
}

// IsNull reports whether v is the null reference.
func (v Value) IsNull() bool { return v == Null }

// IsInt reports whether v is a small integer.
func (v Value) IsInt() bool { return uint64(v)&tagIntBit != 0 }

// IsAtom reports whether v is nothing, true or false.
func (v Value) IsAtom() bool { return uint64(v)&tagMask == tagAtom }

// IsRef reports whether v refers to a heap object.
func (v Value) IsRef() bool { return v != Null && uint64(v)&tagMask == tagRef }

// Int returns the payload of a small integer. The result is meaningless for
// other values.
func (v Value) Int() int64 { return int64(v) >> 1 }

// Truthy reports whether v counts as true in a condition: everything except
// nothing, false and null.
func (v Value) Truthy() bool {
	return v != Nothing && v != False && v != Null
}

func (v Value) addr() Addr { return Addr(uint64(v) >> valueShift) }

// String describes the word itself, not the object it refers to.
func (v Value) String() string {
	switch {
	case v == Null:
		return "null"
	case v.IsInt():
		return fmt.Sprintf("%d", v.Int())
	case v == Nothing:
		return "nothing"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v.IsAtom():
		return fmt.Sprintf("atom(%d)", uint64(v)>>valueShift)
	default:
		return fmt.Sprintf("ref@%d", v.addr())
	}
}
