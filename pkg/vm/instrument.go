package vm

import "fmt"

// EvaluationMode distinguishes normal script execution from execution
// inside a trap handler. While Meta, trap interception is suppressed so
// a handler's own operations are never re-trapped.
type EvaluationMode uint8

const (
	BaseEvaluation EvaluationMode = iota
	MetaEvaluation
)

// TrapKind identifies one interceptable primitive operation.
type TrapKind uint8

const (
	TrapApply TrapKind = iota
	TrapGet
	TrapSet
	TrapRead
	TrapWrite
	TrapUnary
	TrapBinary
	TrapPrimitive
	TrapToPrimitive
)

// String returns the advice-object property key for a trap kind.
func (k TrapKind) String() string {
	switch k {
	case TrapApply:
		return "apply"
	case TrapGet:
		return "get"
	case TrapSet:
		return "set"
	case TrapRead:
		return "read"
	case TrapWrite:
		return "write"
	case TrapUnary:
		return "unary"
	case TrapBinary:
		return "binary"
	case TrapPrimitive:
		return "primitive"
	case TrapToPrimitive:
		return "to_primitive"
	default:
		return "unknown"
	}
}

// Traps holds one optional callable handler per intercepted operation.
type Traps struct {
	Apply       Value
	Get         Value
	Set         Value
	Read        Value
	Write       Value
	Unary       Value
	Binary      Value
	Primitive   Value
	ToPrimitive Value
}

// handler returns the installed handler for a kind, or Undefined.
func (t *Traps) handler(kind TrapKind) Value {
	switch kind {
	case TrapApply:
		return t.Apply
	case TrapGet:
		return t.Get
	case TrapSet:
		return t.Set
	case TrapRead:
		return t.Read
	case TrapWrite:
		return t.Write
	case TrapUnary:
		return t.Unary
	case TrapBinary:
		return t.Binary
	case TrapPrimitive:
		return t.Primitive
	case TrapToPrimitive:
		return t.ToPrimitive
	default:
		return Undefined
	}
}

// TrapsFromAdvice extracts trap handlers from an advice object by
// property key. Keys that are absent or undefined leave the trap
// uninstalled. A non-object advice is an embedder defect.
func TrapsFromAdvice(advice Value) Traps {
	if !advice.IsObject() {
		panic("instrumentation advice must be an object")
	}
	obj := advice.AsObject()
	get := func(key string) Value {
		v, _ := obj.Get(key)
		return v
	}
	return Traps{
		Apply:       get("apply"),
		Get:         get("get"),
		Set:         get("set"),
		Read:        get("read"),
		Write:       get("write"),
		Unary:       get("unary"),
		Binary:      get("binary"),
		Primitive:   get("primitive"),
		ToPrimitive: get("to_primitive"),
	}
}

// Instrumentation is the per-context trap configuration: an optional
// trap table, the advice value passed as the receiver of every trap
// call, and the Base/Meta evaluation mode. The mode field follows a
// strict stack discipline: every transition into Meta is paired with a
// restore before control returns to the interpreter loop, on the error
// path too.
type Instrumentation struct {
	traps  *Traps
	advice Value
	mode   EvaluationMode
}

// Mode returns the current evaluation mode.
func (in *Instrumentation) Mode() EvaluationMode { return in.mode }

// SetMode overrides the evaluation mode. Callers pair this with a
// restoring SetMode of the previous value.
func (in *Instrumentation) SetMode(mode EvaluationMode) { in.mode = mode }

// InstallTraps installs the trap table.
func (in *Instrumentation) InstallTraps(traps Traps) { in.traps = &traps }

// InstallAdvice installs the advice value handed to every trap call.
func (in *Instrumentation) InstallAdvice(advice Value) { in.advice = advice }

// active reports whether the given trap should fire right now, and
// returns its handler. All four gates of the interception contract must
// hold: configuration present, Base mode, handler installed, advice
// configured.
func (in *Instrumentation) active(kind TrapKind) (Value, bool) {
	if in.traps == nil || in.mode != BaseEvaluation {
		return Undefined, false
	}
	handler := in.traps.handler(kind)
	if handler.IsUndefined() || in.advice.IsUndefined() {
		return Undefined, false
	}
	return handler, true
}

// callTrap invokes a trap handler with the advice as receiver, holding
// the mode at Meta for the whole handler call so none of the handler's
// own operations are re-trapped. Trap errors propagate as ordinary
// script errors; the mode is restored on that path as well.
func (vm *VM) callTrap(handler Value, args []Value) (Value, error) {
	in := &vm.instrumentation
	prev := in.mode
	in.SetMode(MetaEvaluation)
	result, err := vm.CallInternal(handler, in.advice, args)
	in.SetMode(prev)
	return result, err
}

// trapKindForOp maps an opcode to its interception kind and, for
// operator traps, the operator name handed to the handler. The second
// result is "" for non-operator traps; ok is false for opcodes that are
// not interceptable.
func trapKindForOp(op Opcode) (TrapKind, string, bool) {
	switch op {
	case OpAdd:
		return TrapBinary, "+", true
	case OpSub:
		return TrapBinary, "-", true
	case OpMul:
		return TrapBinary, "*", true
	case OpDiv:
		return TrapBinary, "/", true
	case OpMod:
		return TrapBinary, "%", true
	case OpPow:
		return TrapBinary, "**", true
	case OpShiftLeft:
		return TrapBinary, "<<", true
	case OpShiftRight:
		return TrapBinary, ">>", true
	case OpUnsignedShiftRight:
		return TrapBinary, ">>>", true
	case OpBitAnd:
		return TrapBinary, "&", true
	case OpBitOr:
		return TrapBinary, "|", true
	case OpBitXor:
		return TrapBinary, "^", true
	case OpEq:
		return TrapBinary, "==", true
	case OpNotEq:
		return TrapBinary, "!=", true
	case OpStrictEq:
		return TrapBinary, "===", true
	case OpStrictNotEq:
		return TrapBinary, "!==", true
	case OpGreaterThan:
		return TrapBinary, ">", true
	case OpGreaterThanOrEq:
		return TrapBinary, ">=", true
	case OpLessThan:
		return TrapBinary, "<", true
	case OpLessThanOrEq:
		return TrapBinary, "<=", true
	case OpIn:
		return TrapBinary, "in", true
	case OpInstanceOf:
		return TrapBinary, "instanceof", true
	case OpTypeOf:
		return TrapUnary, "typeof", true
	case OpVoid:
		return TrapUnary, "void", true
	case OpLogicalNot:
		return TrapUnary, "!", true
	case OpPos:
		return TrapUnary, "+", true
	case OpNeg:
		return TrapUnary, "-", true
	case OpBitNot:
		return TrapUnary, "~", true
	case OpGetPropertyByName, OpGetPropertyByValue:
		return TrapGet, "", true
	case OpSetPropertyByName, OpSetPropertyByValue:
		return TrapSet, "", true
	case OpGetName, OpGetNameU16, OpGetNameU32:
		return TrapRead, "", true
	case OpSetName, OpSetNameU16, OpSetNameU32:
		return TrapWrite, "", true
	case OpPushZero, OpPushOne, OpPushInt8, OpPushInt16, OpPushInt32,
		OpPushRational, OpPushNaN, OpPushPositiveInfinity,
		OpPushNegativeInfinity, OpPushLiteral, OpPushUndefined, OpPushNull,
		OpPushTrue, OpPushFalse:
		return TrapPrimitive, "", true
	default:
		return 0, "", false
	}
}

// intercept is the single interception point consulted by the dispatch
// loop before an instruction's real semantics run. When the matching
// trap is live it consumes the instruction (operands included), invokes
// the handler and pushes the substituted result; the real semantics are
// bypassed entirely. Returns handled=false when execution must fall
// through to the untrapped path.
func (vm *VM) intercept(op Opcode) (bool, error) {
	kind, opName, ok := trapKindForOp(op)
	if !ok {
		return false, nil
	}
	handler, live := vm.instrumentation.active(kind)
	if !live {
		return false, nil
	}
	frame := vm.frame()

	switch kind {
	case TrapBinary:
		frame.pc++ // consume opcode
		rhs := vm.pop()
		lhs := vm.pop()
		result, err := vm.callTrap(handler, []Value{NewString(opName), lhs, rhs})
		if err != nil {
			return true, err
		}
		vm.push(result)
		return true, nil

	case TrapUnary:
		frame.pc++
		value := vm.pop()
		result, err := vm.callTrap(handler, []Value{NewString(opName), value})
		if err != nil {
			return true, err
		}
		vm.push(result)
		return true, nil

	case TrapGet:
		frame.pc++
		var object, key Value
		if op == OpGetPropertyByName {
			idx := frame.code.readU32(frame.pc)
			frame.pc += 4
			key = NewString(frame.code.bindingName(idx))
			object = vm.pop()
		} else {
			key = vm.pop()
			object = vm.pop()
		}
		result, err := vm.callTrap(handler, []Value{object, key})
		if err != nil {
			return true, err
		}
		vm.push(result)
		return true, nil

	case TrapSet:
		frame.pc++
		var object, key, value Value
		if op == OpSetPropertyByName {
			idx := frame.code.readU32(frame.pc)
			frame.pc += 4
			key = NewString(frame.code.bindingName(idx))
			value = vm.pop()
			object = vm.pop()
		} else {
			value = vm.pop()
			key = vm.pop()
			object = vm.pop()
		}
		result, err := vm.callTrap(handler, []Value{object, key, value})
		if err != nil {
			return true, err
		}
		vm.push(result)
		return true, nil

	case TrapRead:
		frame.pc++
		idx := vm.readNameIndex(frame, op)
		result, err := vm.callTrap(handler, []Value{NewString(frame.code.bindingName(idx))})
		if err != nil {
			return true, err
		}
		vm.push(result)
		return true, nil

	case TrapWrite:
		frame.pc++
		idx := vm.readNameIndex(frame, op)
		value := vm.pop()
		result, err := vm.callTrap(handler, []Value{NewString(frame.code.bindingName(idx)), value})
		if err != nil {
			return true, err
		}
		vm.push(result)
		return true, nil

	case TrapPrimitive:
		// Run the real push in Meta mode, then hand its result to the
		// trap and substitute the trap's return value.
		frame.pc++
		in := &vm.instrumentation
		prev := in.mode
		in.SetMode(MetaEvaluation)
		err := vm.executeOp(op)
		in.SetMode(prev)
		if err != nil {
			return true, err
		}
		value := vm.pop()
		result, err := vm.callTrap(handler, []Value{value})
		if err != nil {
			return true, err
		}
		vm.push(result)
		return true, nil

	default:
		panic(fmt.Sprintf("unhandled trap kind %d", kind))
	}
}

// readNameIndex consumes the binding-index operand of a name
// read/write opcode, honoring its width variant.
func (vm *VM) readNameIndex(frame *CallFrame, op Opcode) uint32 {
	switch op {
	case OpGetName, OpSetName:
		idx := uint32(frame.code.readU8(frame.pc))
		frame.pc++
		return idx
	case OpGetNameU16, OpSetNameU16:
		idx := uint32(frame.code.readU16(frame.pc))
		frame.pc += 2
		return idx
	default:
		idx := frame.code.readU32(frame.pc)
		frame.pc += 4
		return idx
	}
}
