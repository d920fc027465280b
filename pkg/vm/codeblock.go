package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ThisMode is the compile-time [[ThisMode]] of a function.
type ThisMode uint8

const (
	ThisModeGlobal  ThisMode = iota // sloppy mode: null/undefined this becomes the global this
	ThisModeLexical                 // arrow functions: this is inherited from the enclosing scope
	ThisModeStrict                  // strict mode: this is passed through verbatim
)

// String returns a human-readable name for the ThisMode.
func (m ThisMode) String() string {
	switch m {
	case ThisModeGlobal:
		return "global"
	case ThisModeLexical:
		return "lexical"
	case ThisModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// Param describes one formal parameter.
type Param struct {
	Name       string
	HasDefault bool // a default-value initializer expression exists
	IsRest     bool
	IsPattern  bool // destructuring pattern rather than a plain identifier
}

// Binding is one entry of the binding-name table. The locator is
// resolved lazily at runtime and cached here; see BindingLocator.
type Binding struct {
	Name    string
	Locator BindingLocator
}

// CodeBlock is the compiled representation of one function: bytecode,
// literal pool, binding-name table, nested function table and the
// per-function metadata. It is immutable once the upstream compiler has
// finished emitting into it and is shared by every closure created from
// the same function literal.
type CodeBlock struct {
	Name   string
	Length uint32 // declared arity advertised on the function object

	Strict        bool
	IsConstructor bool
	ThisMode      ThisMode

	Params []Param

	Code     []byte
	Literals []Value
	Bindings []Binding
	Functions []*CodeBlock

	// NumBindings is the local slot count to allocate in the function's
	// environment record.
	NumBindings int

	// LexicalNameArguments records a lexically declared `arguments`
	// name in the body, which suppresses arguments-object creation for
	// simple parameter lists.
	LexicalNameArguments bool
	// HasParameterExpressions records default-value initializers, which
	// force a separate environment for parameter evaluation.
	HasParameterExpressions bool

	// ArgumentsBinding is the function-environment slot the arguments
	// object is initialized into, or NoArgumentsBinding when the body
	// never materializes one. Scripts never bind arguments; function
	// bodies record the result of DeclareArguments here.
	ArgumentsBinding int
}

// NoArgumentsBinding marks a body with no arguments-object binding.
const NoArgumentsBinding = -1

// NewCodeBlock constructs an empty CodeBlock for the upstream compiler
// (or tests) to emit into.
func NewCodeBlock(name string, length uint32, strict, constructor bool) *CodeBlock {
	return &CodeBlock{
		Name:             name,
		Length:           length,
		Strict:           strict,
		IsConstructor:    constructor,
		ThisMode:         ThisModeGlobal,
		ArgumentsBinding: NoArgumentsBinding,
	}
}

// DeclareArguments records the arguments-object binding for a function
// body, once its this mode, parameter list and lexical-name flags are
// final. The binding is suppressed for arrow functions, for parameter
// lists that bind the name themselves, and for a lexical `arguments`
// declaration in a body without parameter expressions. The object is
// the first binding the activation creates, so the slot is always 0.
func (c *CodeBlock) DeclareArguments() {
	c.ArgumentsBinding = NoArgumentsBinding
	if c.ThisMode == ThisModeLexical {
		return
	}
	for _, p := range c.Params {
		if p.Name == "arguments" {
			return
		}
	}
	if c.LexicalNameArguments && !c.HasParameterExpressions {
		return
	}
	c.ArgumentsBinding = 0
}

// --- Typed operand reads ---
//
// Operands are packed without padding, so multi-byte reads are
// unaligned by construction. Reads are bounds-checked: running past the
// buffer is a compiler defect, not a script-reachable condition, and
// fails fast.

func (c *CodeBlock) checkRead(offset, size int) {
	if offset < 0 || offset+size > len(c.Code) {
		panic(fmt.Sprintf("bytecode read of %d bytes at %d past buffer end %d in '%s'",
			size, offset, len(c.Code), c.Name))
	}
}

func (c *CodeBlock) readU8(offset int) uint8 {
	c.checkRead(offset, 1)
	return c.Code[offset]
}

func (c *CodeBlock) readI8(offset int) int8 {
	return int8(c.readU8(offset))
}

func (c *CodeBlock) readU16(offset int) uint16 {
	c.checkRead(offset, 2)
	return binary.LittleEndian.Uint16(c.Code[offset:])
}

func (c *CodeBlock) readI16(offset int) int16 {
	return int16(c.readU16(offset))
}

func (c *CodeBlock) readU32(offset int) uint32 {
	c.checkRead(offset, 4)
	return binary.LittleEndian.Uint32(c.Code[offset:])
}

func (c *CodeBlock) readI32(offset int) int32 {
	return int32(c.readU32(offset))
}

func (c *CodeBlock) readF64(offset int) float64 {
	c.checkRead(offset, 8)
	return math.Float64frombits(binary.LittleEndian.Uint64(c.Code[offset:]))
}

// --- Emit helpers ---

// EmitOp appends an opcode with no operands.
func (c *CodeBlock) EmitOp(op Opcode) {
	c.Code = append(c.Code, byte(op))
}

// EmitI8 appends an opcode with one i8 operand.
func (c *CodeBlock) EmitI8(op Opcode, v int8) {
	c.Code = append(c.Code, byte(op), byte(v))
}

// EmitU8 appends an opcode with one u8 operand.
func (c *CodeBlock) EmitU8(op Opcode, v uint8) {
	c.Code = append(c.Code, byte(op), v)
}

// EmitI16 appends an opcode with one i16 operand.
func (c *CodeBlock) EmitI16(op Opcode, v int16) {
	c.Code = append(c.Code, byte(op))
	c.Code = binary.LittleEndian.AppendUint16(c.Code, uint16(v))
}

// EmitU16 appends an opcode with one u16 operand.
func (c *CodeBlock) EmitU16(op Opcode, v uint16) {
	c.Code = append(c.Code, byte(op))
	c.Code = binary.LittleEndian.AppendUint16(c.Code, v)
}

// EmitI32 appends an opcode with one i32 operand.
func (c *CodeBlock) EmitI32(op Opcode, v int32) {
	c.Code = append(c.Code, byte(op))
	c.Code = binary.LittleEndian.AppendUint32(c.Code, uint32(v))
}

// EmitU32 appends an opcode with one u32 operand.
func (c *CodeBlock) EmitU32(op Opcode, v uint32) {
	c.Code = append(c.Code, byte(op))
	c.Code = binary.LittleEndian.AppendUint32(c.Code, v)
}

// EmitU32Pair appends an opcode with two u32 operands (try targets).
func (c *CodeBlock) EmitU32Pair(op Opcode, a, b uint32) {
	c.Code = append(c.Code, byte(op))
	c.Code = binary.LittleEndian.AppendUint32(c.Code, a)
	c.Code = binary.LittleEndian.AppendUint32(c.Code, b)
}

// EmitF64 appends an opcode with one f64 operand.
func (c *CodeBlock) EmitF64(op Opcode, v float64) {
	c.Code = append(c.Code, byte(op))
	c.Code = binary.LittleEndian.AppendUint64(c.Code, math.Float64bits(v))
}

// AddLiteral adds a value to the literal pool and returns its index.
// Primitive duplicates are collapsed.
func (c *CodeBlock) AddLiteral(v Value) uint32 {
	if !v.IsObject() {
		for i, existing := range c.Literals {
			if existing.Is(v) {
				return uint32(i)
			}
		}
	}
	c.Literals = append(c.Literals, v)
	return uint32(len(c.Literals) - 1)
}

// AddBinding registers a name in the binding table and returns its
// index. Repeated names share one entry so the locator cache is shared.
func (c *CodeBlock) AddBinding(name string) uint32 {
	for i := range c.Bindings {
		if c.Bindings[i].Name == name {
			return uint32(i)
		}
	}
	c.Bindings = append(c.Bindings, Binding{Name: name, Locator: BindingLocator{Name: name}})
	return uint32(len(c.Bindings) - 1)
}

// AddFunction registers a nested CodeBlock and returns its index.
func (c *CodeBlock) AddFunction(fn *CodeBlock) uint32 {
	c.Functions = append(c.Functions, fn)
	return uint32(len(c.Functions) - 1)
}

// Validate walks the instruction stream once, checking that decoding
// from offset 0 consumes exactly len(Code) bytes with no overrun and
// that table-index operands are in range. Jump targets are trusted as a
// compiler contract and not verified instruction-by-instruction.
func (c *CodeBlock) Validate() error {
	pc := 0
	for pc < len(c.Code) {
		op := Opcode(c.Code[pc])
		if op.String() == "Unknown" {
			return fmt.Errorf("invalid opcode 0x%02x at %d in '%s'", c.Code[pc], pc, c.Name)
		}
		size := operandSize(op)
		if pc+1+size > len(c.Code) {
			return fmt.Errorf("truncated operands for %s at %d in '%s'", op, pc, c.Name)
		}
		switch op {
		case OpPushLiteral:
			if int(c.readU32(pc+1)) >= len(c.Literals) {
				return fmt.Errorf("literal index out of range for %s at %d in '%s'", op, pc, c.Name)
			}
		case OpGetFunction:
			if int(c.readU32(pc+1)) >= len(c.Functions) {
				return fmt.Errorf("function index out of range for %s at %d in '%s'", op, pc, c.Name)
			}
		case OpGetName, OpSetName:
			if int(c.readU8(pc+1)) >= len(c.Bindings) {
				return fmt.Errorf("binding index out of range for %s at %d in '%s'", op, pc, c.Name)
			}
		case OpGetNameU16, OpSetNameU16:
			if int(c.readU16(pc+1)) >= len(c.Bindings) {
				return fmt.Errorf("binding index out of range for %s at %d in '%s'", op, pc, c.Name)
			}
		case OpGetNameU32, OpGetNameOrUndefined, OpSetNameU32,
			OpGetPropertyByName, OpSetPropertyByName, OpDefineOwnPropertyByName,
			OpDefVar, OpDefInitVar, OpDefLet, OpDefInitLet, OpDefInitConst, OpDefInitArg:
			if int(c.readU32(pc+1)) >= len(c.Bindings) {
				return fmt.Errorf("binding index out of range for %s at %d in '%s'", op, pc, c.Name)
			}
		}
		pc += 1 + size
	}
	return nil
}

// bindingName resolves a binding-table index to its source name for
// diagnostics.
func (c *CodeBlock) bindingName(idx uint32) string {
	if int(idx) < len(c.Bindings) {
		return c.Bindings[idx].Name
	}
	return fmt.Sprintf("<invalid binding %d>", idx)
}

// --- Disassembly ---
//
// Diagnostic only; never mutates state. The format is not a stable
// machine interface.

// instructionOperands renders the operands of the instruction at *pc as
// a string, resolving table indexes to names, and advances *pc to the
// next instruction.
func (c *CodeBlock) instructionOperands(pc *int) string {
	op := Opcode(c.Code[*pc])
	*pc++
	switch operandShape(op) {
	case operandI8:
		v := c.readI8(*pc)
		*pc++
		return fmt.Sprintf("%d", v)
	case operandI16:
		v := c.readI16(*pc)
		*pc += 2
		return fmt.Sprintf("%d", v)
	case operandI32:
		v := c.readI32(*pc)
		*pc += 4
		return fmt.Sprintf("%d", v)
	case operandF64:
		v := c.readF64(*pc)
		*pc += 8
		return formatNumber(v)
	case operandU32Pair:
		a := c.readU32(*pc)
		b := c.readU32(*pc + 4)
		*pc += 8
		return fmt.Sprintf("%d, %d", a, b)
	case operandU8, operandU16, operandU32:
		var v uint32
		switch operandShape(op) {
		case operandU8:
			v = uint32(c.readU8(*pc))
			*pc++
		case operandU16:
			v = uint32(c.readU16(*pc))
			*pc += 2
		default:
			v = c.readU32(*pc)
			*pc += 4
		}
		switch op {
		case OpGetName, OpGetNameU16, OpGetNameU32, OpGetNameOrUndefined,
			OpSetName, OpSetNameU16, OpSetNameU32,
			OpGetPropertyByName, OpSetPropertyByName, OpDefineOwnPropertyByName,
			OpDefVar, OpDefInitVar, OpDefLet, OpDefInitLet, OpDefInitConst, OpDefInitArg:
			return fmt.Sprintf("%04d: '%s'", v, c.bindingName(v))
		case OpGetFunction:
			if int(v) < len(c.Functions) {
				fn := c.Functions[v]
				return fmt.Sprintf("%04d: '%s' (length: %d)", v, fn.Name, fn.Length)
			}
			return fmt.Sprintf("%04d: <invalid function>", v)
		default:
			return fmt.Sprintf("%d", v)
		}
	default:
		return ""
	}
}

// Disassemble returns a human-readable rendering of the CodeBlock:
// a header, one line per instruction, then the Literals, Names and
// Functions sections.
func (c *CodeBlock) Disassemble() string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s\n    Location  Count   Opcode                     Operands\n\n",
		center(fmt.Sprintf("Compiled Output: '%s'", c.Name), 70)))

	pc := 0
	count := 0
	for pc < len(c.Code) {
		location := pc
		op := Opcode(c.Code[pc])
		operands := c.instructionOperands(&pc)
		builder.WriteString(fmt.Sprintf("    %06d    %04d    %-27s%s\n", location, count, op.String(), operands))
		count++
	}

	builder.WriteString("\nLiterals:\n")
	if len(c.Literals) == 0 {
		builder.WriteString("    <empty>\n")
	} else {
		for i, value := range c.Literals {
			builder.WriteString(fmt.Sprintf("    %04d: <%s> %s\n", i, value.Type(), value.Inspect()))
		}
	}

	builder.WriteString("\nNames:\n")
	if len(c.Bindings) == 0 {
		builder.WriteString("    <empty>\n")
	} else {
		for i := range c.Bindings {
			builder.WriteString(fmt.Sprintf("    %04d: %s\n", i, c.Bindings[i].Name))
		}
	}

	builder.WriteString("\nFunctions:\n")
	if len(c.Functions) == 0 {
		builder.WriteString("    <empty>\n")
	} else {
		for i, fn := range c.Functions {
			builder.WriteString(fmt.Sprintf("    %04d: name: '%s' (length: %d)\n", i, fn.Name, fn.Length))
		}
	}

	return builder.String()
}

// center pads s with '-' on both sides to the given width.
func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat("-", left) + s + strings.Repeat("-", right)
}
