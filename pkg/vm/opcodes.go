package vm

// Opcode defines the type for bytecode instruction tags.
type Opcode uint8

// Enum for opcodes (stack machine).
//
// Instructions are variable width: one opcode byte followed by zero or
// more fixed-width operands packed without padding. The operand shape is
// a pure function of the opcode; see operandWidth.
const (
	// Stack manipulation
	OpPop Opcode = iota
	OpDup
	OpSwap

	// Literal pushes
	OpPushZero
	OpPushOne
	OpPushInt8     // i8: push small integer
	OpPushInt16    // i16
	OpPushInt32    // i32
	OpPushRational // f64
	OpPushNaN
	OpPushPositiveInfinity
	OpPushNegativeInfinity
	OpPushLiteral // u32 literal-pool index
	OpPushUndefined
	OpPushNull
	OpPushTrue
	OpPushFalse
	OpPushEmptyObject

	// Binary operators (pop rhs, pop lhs, push result)
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpShiftLeft
	OpShiftRight
	OpUnsignedShiftRight
	OpBitAnd
	OpBitOr
	OpBitXor
	OpEq
	OpNotEq
	OpStrictEq
	OpStrictNotEq
	OpGreaterThan
	OpGreaterThanOrEq
	OpLessThan
	OpLessThanOrEq
	OpIn
	OpInstanceOf

	// Unary operators (pop value, push result)
	OpTypeOf
	OpVoid
	OpLogicalNot
	OpPos
	OpNeg
	OpInc
	OpDec
	OpBitNot
	OpToBoolean

	// Property access
	OpGetPropertyByName        // u32 bindings-table index
	OpGetPropertyByValue       // pop key, pop object
	OpSetPropertyByName        // u32: pop value, pop object
	OpSetPropertyByValue       // pop value, pop key, pop object
	OpDefineOwnPropertyByName  // u32: pop value, pop object
	OpDefineOwnPropertyByValue // pop value, pop key, pop object

	// Binding declaration and initialization
	OpDefVar      // u32 bindings-table index
	OpDefInitVar  // u32: pop value
	OpDefLet      // u32
	OpDefInitLet  // u32: pop value
	OpDefInitConst
	OpDefInitArg // u32: pop argument value

	// Binding access. Widened index variants keep common-case bytecode
	// compact while supporting large functions.
	OpGetName            // u8 bindings-table index
	OpGetNameU16         // u16
	OpGetNameU32         // u32
	OpGetNameOrUndefined // u32
	OpSetName            // u8: pop value
	OpSetNameU16         // u16
	OpSetNameU32         // u32

	// Control flow. Jump targets are absolute byte offsets.
	OpJump               // u32
	OpJumpIfFalse        // u32: pop condition
	OpJumpIfNotUndefined // u32: pop value, push it back when jumping
	OpLogicalAnd         // u32 exit: pop lhs, short-circuit on falsy
	OpLogicalOr          // u32 exit: pop lhs, short-circuit on truthy
	OpCoalesce           // u32 exit: pop lhs, short-circuit on non-nullish

	// Exception handling
	OpTryStart // u32 next, u32 finally (0 = no finally)
	OpTryEnd
	OpCatchStart // u32 finally
	OpCatchEnd
	OpCatchEnd2
	OpFinallyStart
	OpFinallyEnd
	OpFinallySetJump // u32
	OpThrow          // pop exception value

	// Frames and environments
	OpThis
	OpReturn                     // pop return value
	OpPushDeclarativeEnvironment // u32 binding count
	OpPopEnvironment
	OpPopOnReturnAdd
	OpPopOnReturnSub

	// Functions
	OpGetFunction // u32 functions-table index: push closure
	OpCall        // u32 argc: pop args (last on top), pop function, pop this
	OpNew         // u32 argc: pop args (last on top), pop constructor
	OpRestParameterInit
	OpRestParameterPop

	// Checks
	OpRequireObjectCoercible
	OpValueNotNullOrUndefined

	OpNop
)

// String returns a human-readable name for the Opcode.
func (op Opcode) String() string {
	switch op {
	case OpPop:
		return "Pop"
	case OpDup:
		return "Dup"
	case OpSwap:
		return "Swap"
	case OpPushZero:
		return "PushZero"
	case OpPushOne:
		return "PushOne"
	case OpPushInt8:
		return "PushInt8"
	case OpPushInt16:
		return "PushInt16"
	case OpPushInt32:
		return "PushInt32"
	case OpPushRational:
		return "PushRational"
	case OpPushNaN:
		return "PushNaN"
	case OpPushPositiveInfinity:
		return "PushPositiveInfinity"
	case OpPushNegativeInfinity:
		return "PushNegativeInfinity"
	case OpPushLiteral:
		return "PushLiteral"
	case OpPushUndefined:
		return "PushUndefined"
	case OpPushNull:
		return "PushNull"
	case OpPushTrue:
		return "PushTrue"
	case OpPushFalse:
		return "PushFalse"
	case OpPushEmptyObject:
		return "PushEmptyObject"
	case OpAdd:
		return "Add"
	case OpSub:
		return "Sub"
	case OpMul:
		return "Mul"
	case OpDiv:
		return "Div"
	case OpMod:
		return "Mod"
	case OpPow:
		return "Pow"
	case OpShiftLeft:
		return "ShiftLeft"
	case OpShiftRight:
		return "ShiftRight"
	case OpUnsignedShiftRight:
		return "UnsignedShiftRight"
	case OpBitAnd:
		return "BitAnd"
	case OpBitOr:
		return "BitOr"
	case OpBitXor:
		return "BitXor"
	case OpEq:
		return "Eq"
	case OpNotEq:
		return "NotEq"
	case OpStrictEq:
		return "StrictEq"
	case OpStrictNotEq:
		return "StrictNotEq"
	case OpGreaterThan:
		return "GreaterThan"
	case OpGreaterThanOrEq:
		return "GreaterThanOrEq"
	case OpLessThan:
		return "LessThan"
	case OpLessThanOrEq:
		return "LessThanOrEq"
	case OpIn:
		return "In"
	case OpInstanceOf:
		return "InstanceOf"
	case OpTypeOf:
		return "TypeOf"
	case OpVoid:
		return "Void"
	case OpLogicalNot:
		return "LogicalNot"
	case OpPos:
		return "Pos"
	case OpNeg:
		return "Neg"
	case OpInc:
		return "Inc"
	case OpDec:
		return "Dec"
	case OpBitNot:
		return "BitNot"
	case OpToBoolean:
		return "ToBoolean"
	case OpGetPropertyByName:
		return "GetPropertyByName"
	case OpGetPropertyByValue:
		return "GetPropertyByValue"
	case OpSetPropertyByName:
		return "SetPropertyByName"
	case OpSetPropertyByValue:
		return "SetPropertyByValue"
	case OpDefineOwnPropertyByName:
		return "DefineOwnPropertyByName"
	case OpDefineOwnPropertyByValue:
		return "DefineOwnPropertyByValue"
	case OpDefVar:
		return "DefVar"
	case OpDefInitVar:
		return "DefInitVar"
	case OpDefLet:
		return "DefLet"
	case OpDefInitLet:
		return "DefInitLet"
	case OpDefInitConst:
		return "DefInitConst"
	case OpDefInitArg:
		return "DefInitArg"
	case OpGetName:
		return "GetName"
	case OpGetNameU16:
		return "GetNameU16"
	case OpGetNameU32:
		return "GetNameU32"
	case OpGetNameOrUndefined:
		return "GetNameOrUndefined"
	case OpSetName:
		return "SetName"
	case OpSetNameU16:
		return "SetNameU16"
	case OpSetNameU32:
		return "SetNameU32"
	case OpJump:
		return "Jump"
	case OpJumpIfFalse:
		return "JumpIfFalse"
	case OpJumpIfNotUndefined:
		return "JumpIfNotUndefined"
	case OpLogicalAnd:
		return "LogicalAnd"
	case OpLogicalOr:
		return "LogicalOr"
	case OpCoalesce:
		return "Coalesce"
	case OpTryStart:
		return "TryStart"
	case OpTryEnd:
		return "TryEnd"
	case OpCatchStart:
		return "CatchStart"
	case OpCatchEnd:
		return "CatchEnd"
	case OpCatchEnd2:
		return "CatchEnd2"
	case OpFinallyStart:
		return "FinallyStart"
	case OpFinallyEnd:
		return "FinallyEnd"
	case OpFinallySetJump:
		return "FinallySetJump"
	case OpThrow:
		return "Throw"
	case OpThis:
		return "This"
	case OpReturn:
		return "Return"
	case OpPushDeclarativeEnvironment:
		return "PushDeclarativeEnvironment"
	case OpPopEnvironment:
		return "PopEnvironment"
	case OpPopOnReturnAdd:
		return "PopOnReturnAdd"
	case OpPopOnReturnSub:
		return "PopOnReturnSub"
	case OpGetFunction:
		return "GetFunction"
	case OpCall:
		return "Call"
	case OpNew:
		return "New"
	case OpRestParameterInit:
		return "RestParameterInit"
	case OpRestParameterPop:
		return "RestParameterPop"
	case OpRequireObjectCoercible:
		return "RequireObjectCoercible"
	case OpValueNotNullOrUndefined:
		return "ValueNotNullOrUndefined"
	case OpNop:
		return "Nop"
	default:
		return "Unknown"
	}
}

// operandKind describes one fixed-width operand slot.
type operandKind uint8

const (
	operandNone operandKind = iota
	operandI8
	operandI16
	operandI32
	operandU8
	operandU16
	operandU32
	operandU32Pair // two u32 operands (try/catch target pairs)
	operandF64
)

// operandShape returns the operand layout for an opcode. Decoding is a
// pure function of this shape; there is no self-describing length
// prefix in the stream.
func operandShape(op Opcode) operandKind {
	switch op {
	case OpPushInt8:
		return operandI8
	case OpPushInt16:
		return operandI16
	case OpPushInt32:
		return operandI32
	case OpPushRational:
		return operandF64
	case OpGetName, OpSetName:
		return operandU8
	case OpGetNameU16, OpSetNameU16:
		return operandU16
	case OpPushLiteral,
		OpGetPropertyByName, OpSetPropertyByName, OpDefineOwnPropertyByName,
		OpDefVar, OpDefInitVar, OpDefLet, OpDefInitLet, OpDefInitConst, OpDefInitArg,
		OpGetNameU32, OpGetNameOrUndefined, OpSetNameU32,
		OpJump, OpJumpIfFalse, OpJumpIfNotUndefined,
		OpLogicalAnd, OpLogicalOr, OpCoalesce,
		OpCatchStart, OpFinallySetJump,
		OpPushDeclarativeEnvironment,
		OpGetFunction, OpCall, OpNew:
		return operandU32
	case OpTryStart:
		return operandU32Pair
	default:
		return operandNone
	}
}

// operandSize returns the total operand byte count for an opcode.
func operandSize(op Opcode) int {
	switch operandShape(op) {
	case operandI8, operandU8:
		return 1
	case operandI16, operandU16:
		return 2
	case operandI32, operandU32:
		return 4
	case operandU32Pair:
		return 8
	case operandF64:
		return 8
	default:
		return 0
	}
}
