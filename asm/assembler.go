// Package asm assembles the cheney text format into program images.
//
// A source file is a sequence of methods:
//
//	entry main                  ; optional; defaults to "main"
//
//	method main registers=3
//	    int r0 10
//	    call r1 double r0
//	loop:
//	    jump_if_false r1 @done
//	    ...
//	done:
//	    return r1
//	end
//
// Registers are written r0..r255, jump targets @label, and constants as
// integer, float or double-quoted string literals. Operands that the
// instruction writes come first.
package asm

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/cheney/image"
	"github.com/chazu/cheney/vm"
)

// SyntaxError reports a problem in assembler source.
type SyntaxError struct {
	File string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// AssembleFile reads and assembles the named file.
func AssembleFile(path string) (*image.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	return Assemble(path, string(src))
}

// Assemble translates source into a verified program. name is used in
// error messages.
func Assemble(name, source string) (*image.Program, error) {
	a := &assembler{file: name, methods: make(map[string]int)}
	if err := a.run(source); err != nil {
		return nil, err
	}
	p := &image.Program{Version: image.Version, Entry: a.entry, Methods: a.out}
	if err := vm.Verify(p); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

type line struct {
	num    int
	tokens []Token
}

type fixup struct {
	pc    int
	label string
	line  int
}

type assembler struct {
	file    string
	entry   string
	methods map[string]int // name -> index, collected in a first pass
	out     []image.Method

	// current method
	cur       *image.Method
	labels    map[string]int
	fixups    []fixup
	constants map[image.Constant]int
}

func (a *assembler) errorf(ln int, format string, args ...any) error {
	return &SyntaxError{File: a.file, Line: ln, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) run(source string) error {
	lines, err := a.split(source)
	if err != nil {
		return err
	}

	// Methods may be called before they are defined.
	for _, l := range lines {
		if t := l.tokens[0]; t.Type == TokenIdent && t.Literal == "method" {
			if len(l.tokens) < 2 || l.tokens[1].Type != TokenIdent {
				return a.errorf(l.num, "method needs a name")
			}
			name := l.tokens[1].Literal
			if _, dup := a.methods[name]; dup {
				return a.errorf(l.num, "duplicate method %q", name)
			}
			a.methods[name] = len(a.methods)
		}
	}

	for _, l := range lines {
		if err := a.line(l); err != nil {
			return err
		}
	}
	if a.cur != nil {
		return a.errorf(lines[len(lines)-1].num, "method %s has no end", a.cur.Name)
	}
	if len(a.out) == 0 {
		return a.errorf(1, "no methods")
	}
	if a.entry == "" {
		a.entry = "main"
	}
	return nil
}

// split tokenizes source into non-empty lines.
func (a *assembler) split(source string) ([]line, error) {
	lx := NewLexer(source)
	var lines []line
	var cur line
	for {
		t := lx.NextToken()
		switch t.Type {
		case TokenIllegal:
			return nil, a.errorf(t.Line, "%s", t.Literal)
		case TokenNewline, TokenEOF:
			if len(cur.tokens) > 0 {
				lines = append(lines, cur)
			}
			cur = line{}
			if t.Type == TokenEOF {
				return lines, nil
			}
		default:
			if len(cur.tokens) == 0 {
				cur.num = t.Line
			}
			cur.tokens = append(cur.tokens, t)
		}
	}
}

func (a *assembler) line(l line) error {
	toks := l.tokens
	head := toks[0]

	// A label may share a line with an instruction.
	if head.Type == TokenLabel {
		if a.cur == nil {
			return a.errorf(l.num, "label %s outside a method", head.Literal)
		}
		if _, dup := a.labels[head.Literal]; dup {
			return a.errorf(l.num, "duplicate label %s", head.Literal)
		}
		a.labels[head.Literal] = len(a.cur.Code)
		if len(toks) == 1 {
			return nil
		}
		toks = toks[1:]
		head = toks[0]
	}

	if head.Type != TokenIdent {
		return a.errorf(l.num, "expected instruction, got %s %q", head.Type, head.Literal)
	}

	switch head.Literal {
	case "entry":
		if len(toks) != 2 || toks[1].Type != TokenIdent {
			return a.errorf(l.num, "usage: entry <method>")
		}
		a.entry = toks[1].Literal
		return nil
	case "method":
		return a.begin(l.num, toks[1:])
	case "end":
		return a.end(l.num)
	}

	if a.cur == nil {
		return a.errorf(l.num, "instruction %s outside a method", head.Literal)
	}
	op, ok := vm.LookupMnemonic(head.Literal)
	if !ok {
		return a.errorf(l.num, "unknown instruction %q", head.Literal)
	}
	ins, err := a.instruction(l.num, op, toks[1:])
	if err != nil {
		return err
	}
	a.cur.Code = append(a.cur.Code, uint32(ins))
	return nil
}

func (a *assembler) begin(ln int, toks []Token) error {
	if a.cur != nil {
		return a.errorf(ln, "method %s has no end", a.cur.Name)
	}
	m := &image.Method{Name: toks[0].Literal}
	for _, t := range toks[1:] {
		if t.Type != TokenOption {
			return a.errorf(ln, "expected key=value, got %q", t.Literal)
		}
		key, value, _ := strings.Cut(t.Literal, "=")
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return a.errorf(ln, "%s: invalid count %q", key, value)
		}
		switch key {
		case "registers":
			m.Registers = n
		case "params":
			m.Params = n
		default:
			return a.errorf(ln, "unknown method option %q", key)
		}
	}
	if m.Registers < m.Params {
		m.Registers = m.Params
	}
	a.cur = m
	a.labels = make(map[string]int)
	a.fixups = nil
	a.constants = make(map[image.Constant]int)
	return nil
}

func (a *assembler) end(ln int) error {
	if a.cur == nil {
		return a.errorf(ln, "end outside a method")
	}
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return a.errorf(f.line, "undefined label %s", f.label)
		}
		offset := target - (f.pc + 1)
		if offset < vm.MinImmediate || offset > vm.MaxImmediate {
			return a.errorf(f.line, "jump to %s too far", f.label)
		}
		ins := vm.Instruction(a.cur.Code[f.pc])
		if ins.Op() == vm.OpJump {
			ins = vm.MakeAxC(vm.OpJump, offset, 0)
		} else {
			ins = vm.MakeABx(ins.Op(), ins.A(), offset)
		}
		a.cur.Code[f.pc] = uint32(ins)
	}
	a.out = append(a.out, *a.cur)
	a.cur = nil
	return nil
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

type operands struct {
	a    *assembler
	ln   int
	op   vm.Opcode
	toks []Token
	i    int
	err  error
}

// next consumes the next operand, which must be of type want. TokenEOF
// accepts any type.
func (o *operands) next(want TokenType) Token {
	if o.err != nil {
		return Token{}
	}
	if o.i >= len(o.toks) {
		what := want.String()
		if want == TokenEOF {
			what = "literal"
		}
		o.err = o.a.errorf(o.ln, "%s: missing %s operand", o.op.Info().Mnemonic, what)
		return Token{}
	}
	t := o.toks[o.i]
	o.i++
	if want != TokenEOF && t.Type != want {
		o.err = o.a.errorf(o.ln, "%s: expected %s, got %s %q", o.op.Info().Mnemonic, want, t.Type, t.Literal)
	}
	return t
}

func (o *operands) reg() int {
	t := o.next(TokenRegister)
	if o.err != nil {
		return 0
	}
	n, err := strconv.Atoi(t.Literal)
	if err != nil || n >= vm.MaxRegisters {
		o.err = o.a.errorf(o.ln, "invalid register r%s", t.Literal)
	}
	return n
}

func (o *operands) small(limit int) int {
	t := o.next(TokenInt)
	if o.err != nil {
		return 0
	}
	n, err := strconv.Atoi(t.Literal)
	if err != nil || n < 0 || n >= limit {
		o.err = o.a.errorf(o.ln, "%s: %q out of range [0, %d)", o.op.Info().Mnemonic, t.Literal, limit)
	}
	return n
}

func (o *operands) done() error {
	if o.err == nil && o.i < len(o.toks) {
		o.err = o.a.errorf(o.ln, "%s: unexpected %q", o.op.Info().Mnemonic, o.toks[o.i].Literal)
	}
	return o.err
}

func (a *assembler) instruction(ln int, op vm.Opcode, toks []Token) (vm.Instruction, error) {
	o := &operands{a: a, ln: ln, op: op, toks: toks}
	var ins vm.Instruction

	switch op.Info().Format {
	case vm.FormatNone:
		ins = vm.MakeABC(op, 0, 0, 0)

	case vm.FormatA:
		ins = vm.MakeABC(op, o.reg(), 0, 0)

	case vm.FormatAB:
		x := o.reg()
		ins = vm.MakeABC(op, x, o.reg(), 0)

	case vm.FormatAC:
		dest := o.reg()
		ins = vm.MakeABC(op, o.reg(), 0, dest)

	case vm.FormatABC:
		dest := o.reg()
		x := o.reg()
		ins = vm.MakeABC(op, x, o.reg(), dest)

	case vm.FormatField:
		if op == vm.OpSetField {
			rec := o.reg()
			idx := o.small(256)
			ins = vm.MakeABC(op, rec, idx, o.reg())
		} else {
			dest := o.reg()
			rec := o.reg()
			ins = vm.MakeABC(op, rec, o.small(256), dest)
		}

	case vm.FormatRecord:
		dest := o.reg()
		first := o.reg()
		ins = vm.MakeABC(op, first, o.small(256), dest)

	case vm.FormatConst:
		dest := o.reg()
		k := a.constant(o)
		if o.err == nil && k >= vm.MaxConstants {
			o.err = a.errorf(ln, "too many constants in %s", a.cur.Name)
		}
		ins = vm.MakeAxC(op, k, dest)

	case vm.FormatImm:
		dest := o.reg()
		t := o.next(TokenInt)
		n, err := strconv.Atoi(t.Literal)
		if o.err == nil && (err != nil || n < vm.MinImmediate || n > vm.MaxImmediate) {
			o.err = a.errorf(ln, "int: %q out of range [%d, %d]; use const", t.Literal, vm.MinImmediate, vm.MaxImmediate)
		}
		ins = vm.MakeAxC(op, n, dest)

	case vm.FormatJump:
		t := o.next(TokenLabelRef)
		a.fixups = append(a.fixups, fixup{pc: len(a.cur.Code), label: t.Literal, line: ln})
		ins = vm.MakeAxC(op, 0, 0)

	case vm.FormatCond:
		cond := o.reg()
		t := o.next(TokenLabelRef)
		a.fixups = append(a.fixups, fixup{pc: len(a.cur.Code), label: t.Literal, line: ln})
		ins = vm.MakeABx(op, cond, 0)

	case vm.FormatCall:
		dest := o.reg()
		t := o.next(TokenIdent)
		idx, ok := a.methods[t.Literal]
		if o.err == nil && !ok {
			o.err = a.errorf(ln, "call: unknown method %q", t.Literal)
		}
		first := 0
		if o.i < len(o.toks) {
			first = o.reg()
		}
		ins = vm.MakeABC(op, idx, first, dest)
	}

	return ins, o.done()
}

// constant reads a literal operand and returns its index in the current
// method's constant table, adding it if needed.
func (a *assembler) constant(o *operands) int {
	t := o.next(TokenEOF)
	if o.err != nil {
		return 0
	}
	var c image.Constant
	switch t.Type {
	case TokenInt:
		n, err := strconv.ParseInt(t.Literal, 0, 64)
		if err != nil || n > math.MaxInt64>>1 || n < math.MinInt64>>1 {
			o.err = a.errorf(o.ln, "const: integer %q out of range", t.Literal)
			return 0
		}
		c = image.Int(n)
	case TokenFloat:
		f, err := strconv.ParseFloat(t.Literal, 64)
		if err != nil {
			o.err = a.errorf(o.ln, "const: invalid float %q", t.Literal)
			return 0
		}
		c = image.Float(f)
	case TokenString:
		c = image.String(t.Literal)
	case TokenIdent:
		switch t.Literal {
		case "nothing":
			c = image.Constant{Kind: image.ConstNothing}
		case "true":
			c = image.Constant{Kind: image.ConstTrue}
		case "false":
			c = image.Constant{Kind: image.ConstFalse}
		default:
			o.err = a.errorf(o.ln, "const: unknown literal %q", t.Literal)
			return 0
		}
	default:
		o.err = a.errorf(o.ln, "const: expected literal, got %s", t.Type)
		return 0
	}

	if k, ok := a.constants[c]; ok {
		return k
	}
	k := len(a.cur.Constants)
	a.cur.Constants = append(a.cur.Constants, c)
	a.constants[c] = k
	return k
}
