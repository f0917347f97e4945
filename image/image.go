// Package image defines the on-disk form of a loadable program: methods
// with their register counts, code and constants, encoded as canonical
// CBOR.
package image

import "fmt"

// Version is the image format version written by this package.
const Version = 1

// ConstantKind identifies the type of a constant-table entry.
type ConstantKind uint8

const (
	ConstInt     ConstantKind = 1
	ConstFloat   ConstantKind = 2
	ConstString  ConstantKind = 3
	ConstNothing ConstantKind = 4
	ConstTrue    ConstantKind = 5
	ConstFalse   ConstantKind = 6
)

func (k ConstantKind) String() string {
	switch k {
	case ConstInt:
		return "int"
	case ConstFloat:
		return "float"
	case ConstString:
		return "string"
	case ConstNothing:
		return "nothing"
	case ConstTrue:
		return "true"
	case ConstFalse:
		return "false"
	}
	return fmt.Sprintf("ConstantKind(%d)", uint8(k))
}

// Constant is one entry of a method's constant table. Only the field
// matching Kind is meaningful.
type Constant struct {
	Kind  ConstantKind `cbor:"1,keyasint"`
	Int   int64        `cbor:"2,keyasint,omitempty"`
	Float float64      `cbor:"3,keyasint,omitempty"`
	Str   string       `cbor:"4,keyasint,omitempty"`
}

// Int returns an integer constant.
func Int(n int64) Constant { return Constant{Kind: ConstInt, Int: n} }

// Float returns a float constant.
func Float(f float64) Constant { return Constant{Kind: ConstFloat, Float: f} }

// String returns a string constant.
func String(s string) Constant { return Constant{Kind: ConstString, Str: s} }

func (c Constant) GoString() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	}
	return c.Kind.String()
}

// Method is one compiled method. Code holds encoded register instructions.
type Method struct {
	Name      string     `cbor:"1,keyasint"`
	Registers int        `cbor:"2,keyasint"`
	Params    int        `cbor:"3,keyasint,omitempty"`
	Code      []uint32   `cbor:"4,keyasint"`
	Constants []Constant `cbor:"5,keyasint,omitempty"`
}

// Program is a loadable set of methods. Methods are referred to by index
// from CALL instructions, so their order is significant.
type Program struct {
	Version int      `cbor:"1,keyasint"`
	Entry   string   `cbor:"2,keyasint"`
	Methods []Method `cbor:"3,keyasint"`
}

// Method returns the method with the given name.
func (p *Program) Method(name string) (*Method, int, bool) {
	for i := range p.Methods {
		if p.Methods[i].Name == name {
			return &p.Methods[i], i, true
		}
	}
	return nil, -1, false
}

// Validate checks the structural properties a loader relies on: a known
// version, unique method names, and an entry method that exists and takes
// no parameters. Instruction operands are checked by the loader.
func (p *Program) Validate() error {
	if p.Version != Version {
		return fmt.Errorf("image: unsupported version %d (want %d)", p.Version, Version)
	}
	if len(p.Methods) == 0 {
		return fmt.Errorf("image: no methods")
	}
	seen := make(map[string]bool, len(p.Methods))
	for i, m := range p.Methods {
		if m.Name == "" {
			return fmt.Errorf("image: method %d has no name", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("image: duplicate method %q", m.Name)
		}
		seen[m.Name] = true
		if m.Params < 0 || m.Registers < m.Params {
			return fmt.Errorf("image: method %q: %d params do not fit in %d registers", m.Name, m.Params, m.Registers)
		}
		for j, c := range m.Constants {
			if c.Kind < ConstInt || c.Kind > ConstFalse {
				return fmt.Errorf("image: method %q: constant %d has unknown kind %d", m.Name, j, c.Kind)
			}
		}
	}
	entry, _, ok := p.Method(p.Entry)
	if !ok {
		return fmt.Errorf("image: entry method %q not found", p.Entry)
	}
	if entry.Params != 0 {
		return fmt.Errorf("image: entry method %q takes %d params, want 0", p.Entry, entry.Params)
	}
	return nil
}
