package vm

import (
	"strings"
	"testing"
)

func TestValidateCleanProgram(t *testing.T) {
	c := NewCodeBlock("demo", 0, false, false)
	x := c.AddBinding("x")
	c.EmitI8(OpPushInt8, 1)
	c.EmitU32(OpDefInitVar, x)
	c.EmitU8(OpGetName, uint8(x))
	c.EmitU16(OpGetNameU16, uint16(x))
	c.EmitOp(OpAdd)
	c.EmitF64(OpPushRational, 2.5)
	c.EmitU32(OpPushLiteral, c.AddLiteral(NewString("s")))
	c.EmitU32Pair(OpTryStart, 30, 0)
	c.EmitOp(OpTryEnd)
	c.EmitOp(OpReturn)
	if err := c.Validate(); err != nil {
		t.Fatalf("clean program should validate: %v", err)
	}
}

func TestValidateTruncatedOperand(t *testing.T) {
	c := NewCodeBlock("demo", 0, false, false)
	c.EmitU32(OpJump, 0)
	c.Code = c.Code[:len(c.Code)-1]
	if err := c.Validate(); err == nil {
		t.Fatal("truncated operands should fail validation")
	}
}

func TestValidateUnknownOpcode(t *testing.T) {
	c := NewCodeBlock("demo", 0, false, false)
	c.Code = append(c.Code, 0xFE)
	if err := c.Validate(); err == nil {
		t.Fatal("an unknown opcode should fail validation")
	}
}

func TestValidateIndexRanges(t *testing.T) {
	c := NewCodeBlock("demo", 0, false, false)
	c.EmitU32(OpPushLiteral, 0)
	if err := c.Validate(); err == nil {
		t.Fatal("a literal index past the pool should fail validation")
	}

	c = NewCodeBlock("demo", 0, false, false)
	c.EmitU8(OpGetName, 3)
	if err := c.Validate(); err == nil {
		t.Fatal("a binding index past the table should fail validation")
	}

	c = NewCodeBlock("demo", 0, false, false)
	c.EmitU32(OpGetFunction, 0)
	if err := c.Validate(); err == nil {
		t.Fatal("a function index past the table should fail validation")
	}
}

func TestAddLiteralDedup(t *testing.T) {
	c := NewCodeBlock("demo", 0, false, false)
	a := c.AddLiteral(NumberValue(1.5))
	b := c.AddLiteral(NumberValue(1.5))
	if a != b {
		t.Fatalf("equal primitives should share a pool entry: %d vs %d", a, b)
	}
	s1 := c.AddLiteral(NewString("k"))
	s2 := c.AddLiteral(NewString("k"))
	if s1 != s2 {
		t.Fatalf("equal strings should share a pool entry: %d vs %d", s1, s2)
	}
	if c.AddLiteral(NumberValue(2)) == a {
		t.Fatal("distinct values must not collapse")
	}
}

func TestAddBindingShared(t *testing.T) {
	c := NewCodeBlock("demo", 0, false, false)
	a := c.AddBinding("x")
	b := c.AddBinding("x")
	if a != b {
		t.Fatalf("repeated names should share a binding entry: %d vs %d", a, b)
	}
	if c.AddBinding("y") == a {
		t.Fatal("distinct names must not collapse")
	}
}

func TestDisassembleFormat(t *testing.T) {
	c := NewCodeBlock("demo", 0, false, false)
	c.EmitU32(OpPushLiteral, c.AddLiteral(NewString("hi")))
	c.EmitU32(OpDefInitVar, c.AddBinding("x"))
	c.EmitOp(OpReturn)

	out := c.Disassemble()
	for _, want := range []string{
		"Compiled Output: 'demo'",
		"Location  Count   Opcode",
		"000000    0000    PushLiteral",
		"DefInitVar",
		"0000: 'x'",
		"Literals:",
		"Names:",
		"Functions:",
		"<empty>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleNestedFunctions(t *testing.T) {
	inner := NewCodeBlock("inner", 2, false, false)
	inner.EmitOp(OpReturn)

	c := NewCodeBlock("outer", 0, false, false)
	c.EmitU32(OpGetFunction, c.AddFunction(inner))
	c.EmitOp(OpReturn)

	out := c.Disassemble()
	if !strings.Contains(out, "'inner' (length: 2)") {
		t.Errorf("nested function entry not rendered:\n%s", out)
	}
}

func TestOperandsRoundTheStreamExactly(t *testing.T) {
	// A decode pass over a program touching every operand width must
	// land exactly on the end of the buffer.
	c := NewCodeBlock("demo", 0, false, false)
	x := c.AddBinding("x")
	c.EmitOp(OpNop)
	c.EmitI8(OpPushInt8, -1)
	c.EmitI16(OpPushInt16, -2)
	c.EmitI32(OpPushInt32, -3)
	c.EmitF64(OpPushRational, 4)
	c.EmitU8(OpGetName, uint8(x))
	c.EmitU16(OpGetNameU16, uint16(x))
	c.EmitU32(OpGetNameU32, x)
	c.EmitU32Pair(OpTryStart, 1, 2)
	c.EmitOp(OpReturn)

	pc := 0
	for pc < len(c.Code) {
		c.instructionOperands(&pc)
	}
	if pc != len(c.Code) {
		t.Fatalf("decode consumed %d of %d bytes", pc, len(c.Code))
	}
}

func TestOpcodeStringsAreNamed(t *testing.T) {
	for op := OpPop; op <= OpNop; op++ {
		if op.String() == "Unknown" {
			t.Errorf("opcode %d has no name", op)
		}
	}
}
