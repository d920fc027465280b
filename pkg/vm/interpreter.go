package vm

import (
	"fmt"
	"math"
)

// ThrownError carries a script-thrown value through the Go error
// channel. Catch handlers unwrap it back into the thrown Value.
type ThrownError struct {
	Value Value
}

func (e *ThrownError) Error() string {
	return fmt.Sprintf("uncaught exception: %s", e.Value.Inspect())
}

// thrownValue converts a propagating error into the value a catch
// block receives.
func thrownValue(err error) Value {
	if t, ok := err.(*ThrownError); ok {
		return t.Value
	}
	return NewString(err.Error())
}

// run executes the innermost frame to completion: a return, falling off
// the end of the code buffer, or an exception that no handler in this
// frame catches. The frame's unwind counters are applied on every exit
// path.
func (vm *VM) run() (Value, error) {
	frame := vm.frame()
	for {
		if frame.completed {
			vm.unwindFrame(frame)
			return frame.result, nil
		}
		if frame.pc >= len(frame.code.Code) {
			// Fell off the end: implicit undefined completion.
			vm.unwindFrame(frame)
			return Undefined, nil
		}

		op := Opcode(frame.code.Code[frame.pc])

		handled, err := vm.intercept(op)
		if !handled && err == nil {
			frame.pc++
			err = vm.executeOp(op)
		}
		if err != nil {
			if !vm.catchException(frame, err) {
				vm.unwindFrame(frame)
				return Undefined, err
			}
		}
	}
}

// unwindFrame discards the stack values and environments the frame's
// counters recorded, returning both stacks to their at-entry depth.
func (vm *VM) unwindFrame(frame *CallFrame) {
	for i := 0; i < frame.popOnReturn; i++ {
		vm.pop()
	}
	frame.popOnReturn = 0
	for i := 0; i < frame.popEnvOnReturn; i++ {
		vm.popEnv()
	}
	frame.popEnvOnReturn = 0
}

// catchException routes a propagating exception to the innermost
// pending handler of the frame, if any. A catch target receives the
// thrown value on the operand stack; a finally-only region records the
// exception for FinallyEnd to rethrow.
func (vm *VM) catchException(frame *CallFrame, err error) bool {
	for len(frame.catch) > 0 {
		entry := frame.catch[len(frame.catch)-1]
		frame.catch = frame.catch[:len(frame.catch)-1]
		if entry.hasCatch() {
			frame.pc = int(entry.next)
			frame.finReturn = finallyNone
			vm.push(thrownValue(err))
			return true
		}
		frame.pc = int(entry.finally)
		frame.finReturn = finallyErr
		frame.thrownErr = err
		return true
	}
	return false
}

// executeOp runs the real (untrapped) semantics of one instruction.
// The pc points just past the opcode byte on entry.
func (vm *VM) executeOp(op Opcode) error {
	frame := vm.frame()
	code := frame.code

	switch op {
	case OpPop:
		vm.pop()
	case OpDup:
		vm.push(vm.peek())
	case OpSwap:
		a := vm.pop()
		b := vm.pop()
		vm.push(a)
		vm.push(b)

	// --- Literal pushes ---
	case OpPushZero:
		vm.push(NumberValue(0))
	case OpPushOne:
		vm.push(NumberValue(1))
	case OpPushInt8:
		v := code.readI8(frame.pc)
		frame.pc++
		vm.push(NumberValue(float64(v)))
	case OpPushInt16:
		v := code.readI16(frame.pc)
		frame.pc += 2
		vm.push(NumberValue(float64(v)))
	case OpPushInt32:
		v := code.readI32(frame.pc)
		frame.pc += 4
		vm.push(NumberValue(float64(v)))
	case OpPushRational:
		v := code.readF64(frame.pc)
		frame.pc += 8
		vm.push(NumberValue(v))
	case OpPushNaN:
		vm.push(NumberValue(math.NaN()))
	case OpPushPositiveInfinity:
		vm.push(NumberValue(math.Inf(1)))
	case OpPushNegativeInfinity:
		vm.push(NumberValue(math.Inf(-1)))
	case OpPushLiteral:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		vm.push(code.Literals[idx])
	case OpPushUndefined:
		vm.push(Undefined)
	case OpPushNull:
		vm.push(Null)
	case OpPushTrue:
		vm.push(True)
	case OpPushFalse:
		vm.push(False)
	case OpPushEmptyObject:
		vm.push(ObjectValue(NewObject(vm.objectPrototype)))

	// --- Binary operators ---
	case OpAdd:
		rhs := vm.pop()
		lhs := vm.pop()
		result, err := vm.add(lhs, rhs)
		if err != nil {
			return err
		}
		vm.push(result)
	case OpSub, OpMul, OpDiv, OpMod, OpPow,
		OpShiftLeft, OpShiftRight, OpUnsignedShiftRight,
		OpBitAnd, OpBitOr, OpBitXor:
		rhs := vm.pop()
		lhs := vm.pop()
		result, err := vm.numericBinary(op, lhs, rhs)
		if err != nil {
			return err
		}
		vm.push(result)
	case OpEq:
		rhs := vm.pop()
		lhs := vm.pop()
		eq, err := vm.looseEquals(lhs, rhs)
		if err != nil {
			return err
		}
		vm.push(BooleanValue(eq))
	case OpNotEq:
		rhs := vm.pop()
		lhs := vm.pop()
		eq, err := vm.looseEquals(lhs, rhs)
		if err != nil {
			return err
		}
		vm.push(BooleanValue(!eq))
	case OpStrictEq:
		rhs := vm.pop()
		lhs := vm.pop()
		vm.push(BooleanValue(lhs.strictEquals(rhs)))
	case OpStrictNotEq:
		rhs := vm.pop()
		lhs := vm.pop()
		vm.push(BooleanValue(!lhs.strictEquals(rhs)))
	case OpGreaterThan, OpGreaterThanOrEq, OpLessThan, OpLessThanOrEq:
		rhs := vm.pop()
		lhs := vm.pop()
		result, err := vm.compare(op, lhs, rhs)
		if err != nil {
			return err
		}
		vm.push(result)
	case OpIn:
		rhs := vm.pop()
		lhs := vm.pop()
		if !rhs.IsObject() {
			return vm.typeError("right-hand side of 'in' should be an object")
		}
		key, err := vm.toPropertyKey(lhs)
		if err != nil {
			return err
		}
		vm.push(BooleanValue(rhs.AsObject().HasProperty(key)))
	case OpInstanceOf:
		rhs := vm.pop()
		lhs := vm.pop()
		result, err := vm.instanceOf(lhs, rhs)
		if err != nil {
			return err
		}
		vm.push(BooleanValue(result))

	// --- Unary operators ---
	case OpTypeOf:
		vm.push(NewString(vm.pop().TypeOf()))
	case OpVoid:
		vm.pop()
		vm.push(Undefined)
	case OpLogicalNot:
		vm.push(BooleanValue(!vm.pop().ToBoolean()))
	case OpPos:
		n, err := vm.toNumber(vm.pop())
		if err != nil {
			return err
		}
		vm.push(NumberValue(n))
	case OpNeg:
		n, err := vm.toNumber(vm.pop())
		if err != nil {
			return err
		}
		vm.push(NumberValue(-n))
	case OpInc:
		n, err := vm.toNumber(vm.pop())
		if err != nil {
			return err
		}
		vm.push(NumberValue(n + 1))
	case OpDec:
		n, err := vm.toNumber(vm.pop())
		if err != nil {
			return err
		}
		vm.push(NumberValue(n - 1))
	case OpBitNot:
		n, err := vm.toNumber(vm.pop())
		if err != nil {
			return err
		}
		vm.push(NumberValue(float64(^toInt32(n))))
	case OpToBoolean:
		vm.push(BooleanValue(vm.pop().ToBoolean()))

	// --- Property access ---
	case OpGetPropertyByName:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		object := vm.pop()
		result, err := vm.getProperty(object, code.bindingName(idx))
		if err != nil {
			return err
		}
		vm.push(result)
	case OpGetPropertyByValue:
		keyVal := vm.pop()
		object := vm.pop()
		key, err := vm.toPropertyKey(keyVal)
		if err != nil {
			return err
		}
		result, err := vm.getProperty(object, key)
		if err != nil {
			return err
		}
		vm.push(result)
	case OpSetPropertyByName:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		value := vm.pop()
		object := vm.pop()
		if err := vm.setProperty(object, code.bindingName(idx), value); err != nil {
			return err
		}
		vm.push(value)
	case OpSetPropertyByValue:
		value := vm.pop()
		keyVal := vm.pop()
		object := vm.pop()
		key, err := vm.toPropertyKey(keyVal)
		if err != nil {
			return err
		}
		if err := vm.setProperty(object, key, value); err != nil {
			return err
		}
		vm.push(value)
	case OpDefineOwnPropertyByName:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		value := vm.pop()
		object := vm.pop()
		if !object.IsObject() {
			return vm.typeError("cannot define property on a primitive value")
		}
		object.AsObject().DefineOwnProperty(code.bindingName(idx), value, true)
	case OpDefineOwnPropertyByValue:
		value := vm.pop()
		keyVal := vm.pop()
		object := vm.pop()
		if !object.IsObject() {
			return vm.typeError("cannot define property on a primitive value")
		}
		key, err := vm.toPropertyKey(keyVal)
		if err != nil {
			return err
		}
		object.AsObject().DefineOwnProperty(key, value, true)

	// --- Binding declaration ---
	case OpDefVar:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		env := vm.currentEnv()
		name := code.bindingName(idx)
		if _, exists := env.slotOf(name); !exists {
			slot := env.createBinding(name, true)
			env.initializeBinding(slot, Undefined)
		}
	case OpDefInitVar:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		value := vm.pop()
		env := vm.currentEnv()
		slot := env.createBinding(code.bindingName(idx), true)
		env.initializeBinding(slot, value)
	case OpDefLet:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		vm.currentEnv().createBinding(code.bindingName(idx), true)
	case OpDefInitLet:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		value := vm.pop()
		env := vm.currentEnv()
		slot := env.createBinding(code.bindingName(idx), true)
		env.initializeBinding(slot, value)
	case OpDefInitConst:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		value := vm.pop()
		env := vm.currentEnv()
		slot := env.createBinding(code.bindingName(idx), false)
		env.initializeBinding(slot, value)
	case OpDefInitArg:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		value := vm.pop()
		env := vm.currentEnv()
		slot := env.createBinding(code.bindingName(idx), true)
		env.initializeBinding(slot, value)

	// --- Binding access ---
	case OpGetName, OpGetNameU16, OpGetNameU32:
		idx := vm.readNameIndex(frame, op)
		value, err := vm.getName(&code.Bindings[idx], false)
		if err != nil {
			return err
		}
		vm.push(value)
	case OpGetNameOrUndefined:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		value, err := vm.getName(&code.Bindings[idx], true)
		if err != nil {
			return err
		}
		vm.push(value)
	case OpSetName, OpSetNameU16, OpSetNameU32:
		idx := vm.readNameIndex(frame, op)
		value := vm.pop()
		if err := vm.setName(&code.Bindings[idx], value); err != nil {
			return err
		}

	// --- Control flow ---
	case OpJump:
		frame.pc = int(code.readU32(frame.pc))
	case OpJumpIfFalse:
		target := code.readU32(frame.pc)
		frame.pc += 4
		if !vm.pop().ToBoolean() {
			frame.pc = int(target)
		}
	case OpJumpIfNotUndefined:
		target := code.readU32(frame.pc)
		frame.pc += 4
		value := vm.pop()
		if !value.IsUndefined() {
			vm.push(value)
			frame.pc = int(target)
		}
	case OpLogicalAnd:
		exit := code.readU32(frame.pc)
		frame.pc += 4
		lhs := vm.pop()
		if !lhs.ToBoolean() {
			frame.pc = int(exit)
			vm.push(lhs)
		}
	case OpLogicalOr:
		exit := code.readU32(frame.pc)
		frame.pc += 4
		lhs := vm.pop()
		if lhs.ToBoolean() {
			frame.pc = int(exit)
			vm.push(lhs)
		}
	case OpCoalesce:
		exit := code.readU32(frame.pc)
		frame.pc += 4
		lhs := vm.pop()
		if !lhs.IsNullish() {
			frame.pc = int(exit)
			vm.push(lhs)
		}

	// --- Exception handling ---
	case OpTryStart:
		next := code.readU32(frame.pc)
		finally := code.readU32(frame.pc + 4)
		frame.pc += 8
		frame.catch = append(frame.catch, catchAddress{next: next, finally: finally})
		if finally != 0 {
			frame.finallyJump = append(frame.finallyJump, 0)
		}
	case OpTryEnd:
		frame.catch = frame.catch[:len(frame.catch)-1]
		frame.finReturn = finallyNone
	case OpCatchStart:
		finally := code.readU32(frame.pc)
		frame.pc += 4
		frame.catch = append(frame.catch, catchAddress{next: finally, finally: finally})
		frame.finReturn = finallyNone
	case OpCatchEnd:
		frame.catch = frame.catch[:len(frame.catch)-1]
		frame.finReturn = finallyNone
	case OpCatchEnd2:
		frame.finReturn = finallyNone
	case OpFinallyStart:
		// Marker only; the pending-jump slot was pushed by TryStart.
	case OpFinallyEnd:
		target := uint32(0)
		if len(frame.finallyJump) > 0 {
			target = frame.finallyJump[len(frame.finallyJump)-1]
			frame.finallyJump = frame.finallyJump[:len(frame.finallyJump)-1]
		}
		switch frame.finReturn {
		case finallyNone:
			if target != 0 {
				frame.pc = int(target)
			}
		case finallyOk:
			frame.finReturn = finallyNone
			frame.completed = true
			frame.result = frame.returnValue
		case finallyErr:
			frame.finReturn = finallyNone
			err := frame.thrownErr
			frame.thrownErr = nil
			return err
		}
	case OpFinallySetJump:
		target := code.readU32(frame.pc)
		frame.pc += 4
		if len(frame.finallyJump) > 0 {
			frame.finallyJump[len(frame.finallyJump)-1] = target
		}
	case OpThrow:
		return &ThrownError{Value: vm.pop()}

	// --- Frames and environments ---
	case OpThis:
		vm.push(frame.this)
	case OpReturn:
		value := vm.pop()
		if idx := pendingFinally(frame); idx >= 0 {
			// Route the return through the finally block; FinallyEnd
			// resumes the transfer.
			entry := frame.catch[idx]
			frame.catch = frame.catch[:idx]
			frame.pc = int(entry.finally)
			frame.finReturn = finallyOk
			frame.returnValue = value
		} else {
			frame.completed = true
			frame.result = value
		}
	case OpPushDeclarativeEnvironment:
		numBindings := code.readU32(frame.pc)
		frame.pc += 4
		vm.pushEnv(NewEnvironment(int(numBindings)))
		frame.popEnvOnReturn++
	case OpPopEnvironment:
		vm.popEnv()
		frame.popEnvOnReturn--
	case OpPopOnReturnAdd:
		frame.popOnReturn++
	case OpPopOnReturnSub:
		frame.popOnReturn--

	// --- Functions ---
	case OpGetFunction:
		idx := code.readU32(frame.pc)
		frame.pc += 4
		snapshot := append([]*Environment(nil), vm.envStack...)
		vm.push(vm.NewBytecodeFunction(code.Functions[idx], snapshot))
	case OpCall:
		argc := int(code.readU32(frame.pc))
		frame.pc += 4
		args := make([]Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		fn := vm.pop()
		this := vm.pop()
		result, err := vm.CallInternal(fn, this, args)
		if err != nil {
			return err
		}
		vm.push(result)
	case OpNew:
		argc := int(code.readU32(frame.pc))
		frame.pc += 4
		args := make([]Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		constructor := vm.pop()
		result, err := vm.ConstructInternal(constructor, args, constructor)
		if err != nil {
			return err
		}
		vm.push(result)
	case OpRestParameterInit:
		rest := NewObject(vm.objectPrototype)
		extra := frame.argCount - (frame.paramCount - 1)
		count := 0
		for i := 0; i < extra; i++ {
			rest.setSlot(indexKey(count), vm.pop(), true, true)
			count++
		}
		rest.setSlot("length", IntegerValue(count), false, true)
		vm.push(ObjectValue(rest))
	case OpRestParameterPop:
		vm.pop()

	// --- Checks ---
	case OpRequireObjectCoercible:
		if vm.peek().IsNullish() {
			return vm.typeError("cannot convert null or undefined to object")
		}
	case OpValueNotNullOrUndefined:
		v := vm.peek()
		if v.IsNull() {
			return vm.typeError("cannot destructure 'null'")
		}
		if v.IsUndefined() {
			return vm.typeError("cannot destructure 'undefined'")
		}

	case OpNop:

	default:
		panic(fmt.Sprintf("invalid opcode 0x%02x at %d in '%s'", byte(op), frame.pc-1, code.Name))
	}
	return nil
}

// pendingFinally returns the index of the innermost catch entry whose
// finally block still lies ahead of the pc, or -1.
func pendingFinally(frame *CallFrame) int {
	for i := len(frame.catch) - 1; i >= 0; i-- {
		if frame.catch[i].hasFinally() && frame.pc <= int(frame.catch[i].finally) {
			return i
		}
	}
	return -1
}

// getProperty implements the property read path over the capability
// surface: objects go through [[Get]]; primitives support only the
// string length/index view at this layer (ToObject wrapping is a
// contract with the object model, not performed here).
func (vm *VM) getProperty(object Value, key string) (Value, error) {
	switch object.Type() {
	case TypeUndefined, TypeNull:
		return Undefined, vm.typeError(fmt.Sprintf("cannot read property '%s' of %s", key, object.Inspect()))
	case TypeObject:
		v, _ := object.AsObject().Get(key)
		return v, nil
	case TypeString:
		if key == "length" {
			return IntegerValue(len(object.AsString())), nil
		}
		if idx, err := parseIndex(key); err == nil && idx < len(object.AsString()) {
			return NewString(object.AsString()[idx : idx+1]), nil
		}
		return Undefined, nil
	default:
		return Undefined, nil
	}
}

// setProperty implements the property write path. Writes to primitives
// are silently dropped in sloppy mode, matching un-wrapped semantics.
func (vm *VM) setProperty(object Value, key string, value Value) error {
	switch object.Type() {
	case TypeUndefined, TypeNull:
		return vm.typeError(fmt.Sprintf("cannot set property '%s' of %s", key, object.Inspect()))
	case TypeObject:
		object.AsObject().Set(key, value)
		return nil
	default:
		return nil
	}
}

func parseIndex(key string) (int, error) {
	n := 0
	if key == "" {
		return 0, errBindingMissing
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return 0, errBindingMissing
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// getName reads a binding through its locator, resolving and caching it
// on first use.
func (vm *VM) getName(binding *Binding, orUndefined bool) (Value, error) {
	loc := &binding.Locator
	found := vm.resolveLocator(loc)
	if loc.Global {
		if v, ok := vm.globalEnv.lookupInitialized(binding.Name); ok {
			return v, nil
		}
		if _, exists := vm.globalEnv.slotOf(binding.Name); exists && found {
			return Undefined, vm.referenceError(fmt.Sprintf("cannot access '%s' before initialization", binding.Name))
		}
		if orUndefined {
			return Undefined, nil
		}
		return Undefined, vm.referenceError(fmt.Sprintf("%s is not defined", binding.Name))
	}
	env, _ := vm.envAt(loc.Depth)
	v, ok := env.getSlot(loc.Slot)
	if !ok {
		return Undefined, vm.referenceError(fmt.Sprintf("cannot access '%s' before initialization", binding.Name))
	}
	return v, nil
}

// setName writes a binding through its locator. Unresolvable names are
// created on the global object, sloppy-mode style.
func (vm *VM) setName(binding *Binding, value Value) error {
	loc := &binding.Locator
	found := vm.resolveLocator(loc)
	if loc.Global {
		if !found {
			idx := vm.globalEnv.createBinding(binding.Name, true)
			vm.globalEnv.initializeBinding(idx, value)
			return nil
		}
		idx, _ := vm.globalEnv.slotOf(binding.Name)
		initialized, mutable := vm.globalEnv.setSlot(idx, value)
		if !initialized {
			return vm.referenceError(fmt.Sprintf("cannot assign to '%s' before initialization", binding.Name))
		}
		if !mutable {
			return vm.typeError(fmt.Sprintf("assignment to constant variable '%s'", binding.Name))
		}
		return nil
	}
	env, _ := vm.envAt(loc.Depth)
	initialized, mutable := env.setSlot(loc.Slot, value)
	if !initialized {
		return vm.referenceError(fmt.Sprintf("cannot assign to '%s' before initialization", binding.Name))
	}
	if !mutable {
		return vm.typeError(fmt.Sprintf("assignment to constant variable '%s'", binding.Name))
	}
	return nil
}
