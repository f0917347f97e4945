package vm

import (
	"io"
	"strings"
	"testing"

	"github.com/chazu/cheney/image"
	"github.com/chazu/cheney/memory"
)

func TestInstructionEncoding(t *testing.T) {
	ins := MakeABC(OpAdd, 1, 2, 255)
	if ins.Op() != OpAdd || ins.A() != 1 || ins.B() != 2 || ins.C() != 255 {
		t.Errorf("ABC decoded as %s A%d B%d C%d", ins.Op(), ins.A(), ins.B(), ins.C())
	}

	ins = MakeAxC(OpInt, -5, 3)
	if ins.SignedAx() != -5 || ins.C() != 3 {
		t.Errorf("AxC decoded as Ax%d C%d", ins.SignedAx(), ins.C())
	}
	if ins.Ax() != 0xFFFB {
		t.Errorf("unsigned Ax = %#x", ins.Ax())
	}

	ins = MakeABx(OpJumpIfFalse, 7, MinImmediate)
	if ins.A() != 7 || ins.SignedBx() != MinImmediate {
		t.Errorf("ABx decoded as A%d Bx%d", ins.A(), ins.SignedBx())
	}
}

func TestOpcodeInfo(t *testing.T) {
	for op, info := range opcodeTable {
		got, ok := LookupMnemonic(info.Mnemonic)
		if !ok || got != op {
			t.Errorf("mnemonic %q maps to %s", info.Mnemonic, got)
		}
		if op.String() != info.Name {
			t.Errorf("%#x String = %q, want %q", byte(op), op.String(), info.Name)
		}
	}

	bad := Opcode(0xEE)
	if bad.Valid() {
		t.Error("0xEE should not be valid")
	}
	if bad.String() != "UNKNOWN_EE" {
		t.Errorf("unknown opcode prints as %q", bad.String())
	}
	if _, ok := LookupMnemonic("frob"); ok {
		t.Error("LookupMnemonic accepted frob")
	}

	for _, op := range []Opcode{OpReturn, OpJump, OpError} {
		if !op.Terminal() {
			t.Errorf("%s should be terminal", op)
		}
	}
	if OpJumpIfFalse.Terminal() || OpYield.Terminal() {
		t.Error("conditional jump and yield fall through")
	}
}

func TestBuilderPatchJump(t *testing.T) {
	b := NewBuilder()
	b.EmitAxC(OpInt, 1, 0)
	loop := b.Len()
	skip := b.EmitJumpIfFalse(0)
	b.EmitABC(OpSub, 0, 0, 0)
	back := b.EmitJump()
	b.PatchJump(back, loop)
	b.PatchJump(skip, b.Len())
	b.EmitABC(OpReturn, 0, 0, 0)

	code := b.Code()
	if got := JumpTarget(code[skip], skip); got != 4 {
		t.Errorf("forward jump targets %d, want 4", got)
	}
	if got := JumpTarget(code[back], back); got != loop {
		t.Errorf("backward jump targets %d, want %d", got, loop)
	}
	if code[skip].A() != 0 {
		t.Error("PatchJump lost the condition register")
	}
	if JumpTarget(code[0], 0) != -1 {
		t.Error("non-jump has a target")
	}

	defer func() {
		if recover() == nil {
			t.Error("patching a non-jump did not panic")
		}
	}()
	b.PatchJump(0, 1)
}

// program builds a single-method program around code.
func program(registers int, code ...Instruction) *image.Program {
	words := make([]uint32, len(code))
	for i, ins := range code {
		words[i] = uint32(ins)
	}
	return &image.Program{
		Version: image.Version,
		Entry:   "main",
		Methods: []image.Method{{Name: "main", Registers: registers, Code: words}},
	}
}

func TestVerify(t *testing.T) {
	ret := MakeABC(OpReturn, 0, 0, 0)
	tests := []struct {
		name string
		p    *image.Program
		want string
	}{
		{"no code", program(1), "no code"},
		{"register", program(1, MakeABC(OpAdd, 0, 1, 0), ret), "register r1 out of range"},
		{"record window", program(2, MakeABC(OpRecord, 1, 2, 0), ret), "register r2 out of range"},
		{"constant", program(1, MakeAxC(OpConstant, 0, 0), ret), "constant 0 out of range"},
		{"jump", program(1, MakeAxC(OpJump, 5, 0)), "jump target 6"},
		{"backward jump", program(1, MakeAxC(OpJump, -2, 0)), "jump target -1"},
		{"call", program(1, MakeABC(OpCall, 3, 0, 0), ret), "method 3 out of range"},
		{"opcode", program(1, Instruction(0xEE), ret), "unknown opcode"},
		{"fall through", program(1, MakeABC(OpYield, 0, 0, 0)), "falls off the end"},
		{"too many registers", program(MaxRegisters+1, ret), "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.p)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Verify = %v, want %q", err, tt.want)
			}
		})
	}

	if err := Verify(program(1, MakeAxC(OpInt, 1, 0), ret)); err != nil {
		t.Errorf("valid program rejected: %v", err)
	}
}

func TestDisassemble(t *testing.T) {
	p := program(3,
		MakeAxC(OpConstant, 0, 1),
		MakeAxC(OpInt, -4, 2),
		MakeABC(OpAdd, 1, 2, 0),
		MakeABx(OpJumpIfFalse, 0, 1),
		MakeABC(OpSetField, 0, 1, 2),
		MakeABC(OpReturn, 0, 0, 0),
	)
	p.Methods[0].Constants = []image.Constant{image.String("hi")}

	out := Disassemble(p)
	for _, want := range []string{
		"; entry main",
		"method main registers=3 params=0",
		`k0 ("hi") -> r1`,
		"-4 -> r2",
		"r1 r2 -> r0",
		"r0 +1 (-> 0005)",
		"r0.1 <- r2",
		"RETURN",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}

func TestFiberRootsCoverEveryFrame(t *testing.T) {
	ret := uint32(MakeABC(OpReturn, 0, 0, 0))
	p := &image.Program{
		Version: image.Version,
		Entry:   "main",
		Methods: []image.Method{
			{Name: "main", Registers: 2, Code: []uint32{ret}},
			{Name: "leaf", Registers: 2, Params: 1, Code: []uint32{ret}},
		},
	}
	rt := New(WithOutput(io.Discard))
	defer rt.Close()
	if err := rt.Load(p); err != nil {
		t.Fatal(err)
	}
	h := rt.Heap()

	f, err := rt.Spawn("main")
	if err != nil {
		t.Fatal(err)
	}
	f.stack[1] = h.NewRecord(memory.Int(1))
	leaf, _ := rt.Method("leaf")
	if err := f.call(leaf, f.stack[1:2]); err != nil {
		t.Fatal(err)
	}
	f.stack[3] = h.NewRecord(memory.Int(2))

	h.Collect()
	if n := h.Stats().Objects[memory.KindRecord]; n != 2 {
		t.Fatalf("%d records survived, want 2", n)
	}
	if !memory.Same(f.stack[1], f.stack[2]) {
		t.Error("argument copy no longer aliases the caller's register")
	}
	if h.Field(f.stack[1], 0).Int() != 1 || h.Field(f.stack[3], 0).Int() != 2 {
		t.Error("record contents changed across collection")
	}

	// Popping the frame drops its registers from the root set.
	f.ret()
	h.Collect()
	if n := h.Stats().Objects[memory.KindRecord]; n != 1 {
		t.Errorf("%d records survived after return, want 1", n)
	}
}
