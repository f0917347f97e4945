package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/cheney/image"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction formats the instruction at index pc of m. methods
// resolves CALL operands to names; it may be nil.
func DisassembleInstruction(m *image.Method, methods []image.Method, pc int) string {
	ins := Instruction(m.Code[pc])
	op := ins.Op()
	name := op.Info().Name

	switch op.Info().Format {
	case FormatNone:
		return fmt.Sprintf("%04d  %s", pc, name)
	case FormatA:
		return fmt.Sprintf("%04d  %-14s r%d", pc, name, ins.A())
	case FormatAB:
		return fmt.Sprintf("%04d  %-14s r%d r%d", pc, name, ins.A(), ins.B())
	case FormatAC:
		return fmt.Sprintf("%04d  %-14s r%d -> r%d", pc, name, ins.A(), ins.C())
	case FormatABC:
		return fmt.Sprintf("%04d  %-14s r%d r%d -> r%d", pc, name, ins.A(), ins.B(), ins.C())
	case FormatField:
		if op == OpSetField {
			return fmt.Sprintf("%04d  %-14s r%d.%d <- r%d", pc, name, ins.A(), ins.B(), ins.C())
		}
		return fmt.Sprintf("%04d  %-14s r%d.%d -> r%d", pc, name, ins.A(), ins.B(), ins.C())
	case FormatRecord:
		return fmt.Sprintf("%04d  %-14s r%d count=%d -> r%d", pc, name, ins.A(), ins.B(), ins.C())
	case FormatConst:
		k := ins.Ax()
		lit := "?"
		if k < len(m.Constants) {
			lit = m.Constants[k].GoString()
		}
		return fmt.Sprintf("%04d  %-14s k%d (%s) -> r%d", pc, name, k, lit, ins.C())
	case FormatImm:
		return fmt.Sprintf("%04d  %-14s %d -> r%d", pc, name, ins.SignedAx(), ins.C())
	case FormatJump:
		return fmt.Sprintf("%04d  %-14s %+d (-> %04d)", pc, name, ins.SignedAx(), JumpTarget(ins, pc))
	case FormatCond:
		return fmt.Sprintf("%04d  %-14s r%d %+d (-> %04d)", pc, name, ins.A(), ins.SignedBx(), JumpTarget(ins, pc))
	case FormatCall:
		callee := fmt.Sprintf("#%d", ins.A())
		if ins.A() < len(methods) {
			callee = methods[ins.A()].Name
		}
		return fmt.Sprintf("%04d  %-14s %s r%d -> r%d", pc, name, callee, ins.B(), ins.C())
	}
	return fmt.Sprintf("%04d  %s", pc, name)
}

// DisassembleMethod returns a listing of one method: a header line, its
// constant table, and one line per instruction.
func DisassembleMethod(m *image.Method, methods []image.Method) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "method %s registers=%d params=%d\n", m.Name, m.Registers, m.Params)
	for i, c := range m.Constants {
		fmt.Fprintf(&sb, "  k%-4d %-8s %s\n", i, c.Kind, c.GoString())
	}
	for pc := range m.Code {
		sb.WriteString("  ")
		sb.WriteString(DisassembleInstruction(m, methods, pc))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Disassemble returns a listing of every method in p.
func Disassemble(p *image.Program) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; entry %s\n", p.Entry)
	for i := range p.Methods {
		sb.WriteByte('\n')
		sb.WriteString(DisassembleMethod(&p.Methods[i], p.Methods))
	}
	return sb.String()
}
