package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Instruction encoding
// ---------------------------------------------------------------------------

// Instruction is a single 32-bit register instruction:
//
//	 31      24 23      16 15       8 7        0
//	+----------+----------+----------+----------+
//	|    A     |    B     |    C     |    OP    |
//	+----------+----------+----------+----------+
//
// Ax is the 16-bit A:B field and Bx the 16-bit B:C field. Both may be read
// as signed.
type Instruction uint32

func (i Instruction) Op() Opcode { return Opcode(i) }
func (i Instruction) A() int { return int(uint8(i >> 24)) }
func (i Instruction) B() int { return int(uint8(i >> 16)) }
func (i Instruction) C() int { return int(uint8(i >> 8)) }
func (i Instruction) Ax() int { return int(uint16(i >> 16)) }
func (i Instruction) Bx() int { return int(uint16(i >> 8)) }
func (i Instruction) SignedAx() int { return int(int16(uint16(i >> 16))) }
func (i Instruction) SignedBx() int { return int(int16(uint16(i >> 8))) }

// MakeABC encodes an instruction with three 8-bit operands.
func MakeABC(op Opcode, a, b, c int) Instruction {
	return Instruction(uint32(uint8(a))<<24 | uint32(uint8(b))<<16 | uint32(uint8(c))<<8 | uint32(op))
}

// MakeAxC encodes an instruction with a 16-bit A:B operand and an 8-bit C.
// ax may be negative.
func MakeAxC(op Opcode, ax, c int) Instruction {
	return Instruction(uint32(uint16(ax))<<16 | uint32(uint8(c))<<8 | uint32(op))
}

// MakeABx encodes an instruction with an 8-bit A and a 16-bit B:C operand.
// bx may be negative.
func MakeABx(op Opcode, a, bx int) Instruction {
	return Instruction(uint32(uint8(a))<<24 | uint32(uint16(bx))<<8 | uint32(op))
}

// Limits of the operand fields.
const (
	MaxRegisters = 256
	MaxConstants = 1 << 16
	MaxMethods   = 256
	MinImmediate = -1 << 15
	MaxImmediate = 1<<15 - 1
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies an instruction.
type Opcode uint8

// Moves and constants
const (
	OpMove     Opcode = 0x00 // r[B] = r[A]
	OpConstant Opcode = 0x01 // r[C] = constants[Ax]
	OpInt      Opcode = 0x02 // r[C] = signed Ax
	OpNothing  Opcode = 0x03 // r[A] = nothing
	OpTrue     Opcode = 0x04 // r[A] = true
	OpFalse    Opcode = 0x05 // r[A] = false
)

// Arithmetic and comparison
const (
	OpAdd Opcode = 0x10 // r[C] = r[A] + r[B]; strings concatenate
	OpSub Opcode = 0x11 // r[C] = r[A] - r[B]
	OpMul Opcode = 0x12 // r[C] = r[A] * r[B]
	OpDiv Opcode = 0x13 // r[C] = r[A] / r[B]
	OpLT  Opcode = 0x14 // r[C] = r[A] < r[B]
	OpLTE Opcode = 0x15 // r[C] = r[A] <= r[B]
	OpEq  Opcode = 0x16 // r[C] = r[A] == r[B]
	OpNot Opcode = 0x17 // r[C] = not r[A]
)

// Heap objects
const (
	OpRecord   Opcode = 0x20 // r[C] = record of r[A], ..., r[A+B-1]
	OpGetField Opcode = 0x21 // r[C] = r[A].field[B]
	OpSetField Opcode = 0x22 // r[A].field[B] = r[C]
	OpList     Opcode = 0x23 // r[C] = empty list with capacity r[A]
	OpAppend   Opcode = 0x24 // append r[B] to list r[A]
	OpAt       Opcode = 0x25 // r[C] = r[A][r[B]]
	OpLen      Opcode = 0x26 // r[C] = length of r[A]
)

// Control flow
const (
	OpJump        Opcode = 0x30 // ip += signed Ax
	OpJumpIfFalse Opcode = 0x31 // if not r[A]: ip += signed Bx
	OpCall        Opcode = 0x32 // r[C] = methods[A](r[B], ...)
	OpReturn      Opcode = 0x33 // return r[A] to the caller
	OpYield       Opcode = 0x34 // suspend the fiber
)

// Output and failure
const (
	OpPrint Opcode = 0x40 // write r[A]
	OpError Opcode = 0x41 // fail the fiber with r[A]
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Format describes how an opcode uses its operand fields.
type Format uint8

const (
	FormatNone   Format = iota // no operands
	FormatA                    // A register
	FormatAB                   // A, B registers
	FormatAC                   // A, C registers
	FormatABC                  // A, B, C registers
	FormatField                // A register, B field index, C register
	FormatRecord               // A first register, B count, C register
	FormatConst                // Ax constant index, C register
	FormatImm                  // signed Ax immediate, C register
	FormatJump                 // signed Ax offset
	FormatCond                 // A register, signed Bx offset
	FormatCall                 // A method index, B first argument, C register
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // upper-case listing name
	Mnemonic string // lower-case assembler name
	Format   Format
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpMove:     {"MOVE", "move", FormatAB},
	OpConstant: {"CONSTANT", "const", FormatConst},
	OpInt:      {"INT", "int", FormatImm},
	OpNothing:  {"NOTHING", "nothing", FormatA},
	OpTrue:     {"TRUE", "true", FormatA},
	OpFalse:    {"FALSE", "false", FormatA},

	OpAdd: {"ADD", "add", FormatABC},
	OpSub: {"SUB", "sub", FormatABC},
	OpMul: {"MUL", "mul", FormatABC},
	OpDiv: {"DIV", "div", FormatABC},
	OpLT:  {"LT", "lt", FormatABC},
	OpLTE: {"LTE", "lte", FormatABC},
	OpEq:  {"EQ", "eq", FormatABC},
	OpNot: {"NOT", "not", FormatAC},

	OpRecord:   {"RECORD", "record", FormatRecord},
	OpGetField: {"GET_FIELD", "get_field", FormatField},
	OpSetField: {"SET_FIELD", "set_field", FormatField},
	OpList:     {"LIST", "list", FormatAC},
	OpAppend:   {"APPEND", "append", FormatAB},
	OpAt:       {"AT", "at", FormatABC},
	OpLen:      {"LEN", "len", FormatAC},

	OpJump:        {"JUMP", "jump", FormatJump},
	OpJumpIfFalse: {"JUMP_IF_FALSE", "jump_if_false", FormatCond},
	OpCall:        {"CALL", "call", FormatCall},
	OpReturn:      {"RETURN", "return", FormatA},
	OpYield:       {"YIELD", "yield", FormatNone},

	OpPrint: {"PRINT", "print", FormatA},
	OpError: {"ERROR", "error", FormatA},
}

// mnemonics maps assembler names back to opcodes.
var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Mnemonic] = op
	}
	return m
}()

// LookupMnemonic returns the opcode with the given assembler name.
func LookupMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonics[name]
	return op, ok
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), Format: FormatNone}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Info().Name
}

// Terminal reports whether control never falls through op to the next
// instruction.
func (op Opcode) Terminal() bool {
	return op == OpReturn || op == OpJump || op == OpError
}

// ---------------------------------------------------------------------------
// Builder: helper for constructing code
// ---------------------------------------------------------------------------

// Builder helps construct instruction sequences.
type Builder struct {
	code []Instruction
}

// NewBuilder creates a new builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]Instruction, 0, 32)}
}

// Code returns the constructed instructions.
func (b *Builder) Code() []Instruction { return b.code }

// Len returns the number of instructions emitted so far.
func (b *Builder) Len() int { return len(b.code) }

// Emit appends a raw instruction and returns its index.
func (b *Builder) Emit(ins Instruction) int {
	b.code = append(b.code, ins)
	return len(b.code) - 1
}

// EmitABC appends an instruction with three 8-bit operands.
func (b *Builder) EmitABC(op Opcode, a, bb, c int) int {
	return b.Emit(MakeABC(op, a, bb, c))
}

// EmitAxC appends an instruction with a 16-bit A:B operand.
func (b *Builder) EmitAxC(op Opcode, ax, c int) int {
	return b.Emit(MakeAxC(op, ax, c))
}

// EmitJump appends an unconditional jump with a placeholder offset and
// returns its index for PatchJump.
func (b *Builder) EmitJump() int {
	return b.Emit(MakeAxC(OpJump, 0, 0))
}

// EmitJumpIfFalse appends a conditional jump with a placeholder offset and
// returns its index for PatchJump.
func (b *Builder) EmitJumpIfFalse(cond int) int {
	return b.Emit(MakeABx(OpJumpIfFalse, cond, 0))
}

// PatchJump points the jump at index pos to target.
func (b *Builder) PatchJump(pos, target int) {
	offset := target - (pos + 1)
	ins := b.code[pos]
	switch ins.Op() {
	case OpJump:
		b.code[pos] = MakeAxC(OpJump, offset, 0)
	case OpJumpIfFalse:
		b.code[pos] = MakeABx(OpJumpIfFalse, ins.A(), offset)
	default:
		panic(fmt.Sprintf("PatchJump: instruction %d is %s", pos, ins.Op()))
	}
}

// JumpTarget returns the destination of the jump at index pos.
func JumpTarget(ins Instruction, pos int) int {
	switch ins.Op() {
	case OpJump:
		return pos + 1 + ins.SignedAx()
	case OpJumpIfFalse:
		return pos + 1 + ins.SignedBx()
	}
	return -1
}
