package vm

import (
	"fmt"

	"github.com/chazu/cheney/image"
	"github.com/chazu/cheney/memory"
)

// Method is a loaded, verified method. Its constants live in the heap and
// are rooted by the runtime that loaded it.
type Method struct {
	Name      string
	Index     int // position in the runtime's method table; CALL operand
	Registers int // size of the register window
	Params    int // arguments are copied into registers [0, Params)
	Code      []Instruction
	Constants []memory.Value
}

func (m *Method) String() string {
	return fmt.Sprintf("%s/%d", m.Name, m.Params)
}

// verify checks every instruction of m against the method table, so the
// interpreter can index registers, constants and methods without bounds
// errors.
func verify(m *image.Method, methods []image.Method) error {
	if m.Registers > MaxRegisters {
		return fmt.Errorf("method %s: %d registers exceeds %d", m.Name, m.Registers, MaxRegisters)
	}
	if len(m.Constants) > MaxConstants {
		return fmt.Errorf("method %s: %d constants exceeds %d", m.Name, len(m.Constants), MaxConstants)
	}
	if len(m.Code) == 0 {
		return fmt.Errorf("method %s: no code", m.Name)
	}

	for pc, word := range m.Code {
		ins := Instruction(word)
		op := ins.Op()
		fail := func(format string, args ...any) error {
			return fmt.Errorf("method %s: %04d %s: %s", m.Name, pc, op, fmt.Sprintf(format, args...))
		}
		reg := func(r int) error {
			if r >= m.Registers {
				return fail("register r%d out of range (%d registers)", r, m.Registers)
			}
			return nil
		}
		jump := func(target int) error {
			if target < 0 || target >= len(m.Code) {
				return fail("jump target %d outside [0, %d)", target, len(m.Code))
			}
			return nil
		}

		if !op.Valid() {
			return fail("unknown opcode")
		}

		var err error
		switch op.Info().Format {
		case FormatNone:
		case FormatA:
			err = reg(ins.A())
		case FormatAB:
			if err = reg(ins.A()); err == nil {
				err = reg(ins.B())
			}
		case FormatAC, FormatField:
			if err = reg(ins.A()); err == nil {
				err = reg(ins.C())
			}
		case FormatABC:
			if err = reg(ins.A()); err == nil {
				if err = reg(ins.B()); err == nil {
					err = reg(ins.C())
				}
			}
		case FormatRecord:
			if ins.B() > 0 {
				err = reg(ins.A() + ins.B() - 1)
			}
			if err == nil {
				err = reg(ins.C())
			}
		case FormatConst:
			if ins.Ax() >= len(m.Constants) {
				err = fail("constant %d out of range (%d constants)", ins.Ax(), len(m.Constants))
			} else {
				err = reg(ins.C())
			}
		case FormatImm:
			err = reg(ins.C())
		case FormatJump:
			err = jump(JumpTarget(ins, pc))
		case FormatCond:
			if err = reg(ins.A()); err == nil {
				err = jump(JumpTarget(ins, pc))
			}
		case FormatCall:
			if ins.A() >= len(methods) {
				err = fail("method %d out of range (%d methods)", ins.A(), len(methods))
				break
			}
			callee := &methods[ins.A()]
			if callee.Params > 0 {
				err = reg(ins.B() + callee.Params - 1)
			}
			if err == nil {
				err = reg(ins.C())
			}
		}
		if err != nil {
			return err
		}
	}

	if last := Instruction(m.Code[len(m.Code)-1]).Op(); !last.Terminal() {
		return fmt.Errorf("method %s: last instruction %s falls off the end", m.Name, last)
	}
	return nil
}

// Verify validates p and checks every instruction of every method.
func Verify(p *image.Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if len(p.Methods) > MaxMethods {
		return fmt.Errorf("%d methods exceeds %d", len(p.Methods), MaxMethods)
	}
	for i := range p.Methods {
		if err := verify(&p.Methods[i], p.Methods); err != nil {
			return err
		}
	}
	return nil
}
