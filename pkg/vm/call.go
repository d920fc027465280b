package vm

import (
	"fmt"

	"vesper/pkg/errors"
)

// CallInternal invokes a callable value with the given this and
// arguments. This is the single entry point for every invocation in
// the system: Call instructions, host drivers, trap handlers and
// RunScript all route through here.
func (vm *VM) CallInternal(fn Value, this Value, args []Value) (Value, error) {
	if !fn.IsCallable() {
		return Undefined, vm.typeError(fmt.Sprintf("%s is not a function", fn.Inspect()))
	}
	data := fn.AsObject().fn

	// A live apply trap substitutes the whole invocation.
	if handler, live := vm.instrumentation.active(TrapApply); live {
		return vm.callTrap(handler, []Value{fn, this, vm.createUnmappedArguments(args)})
	}

	switch data.kind {
	case fnNative:
		if data.constructor {
			// Constructor-bodied natives ignore the receiver when
			// called without new.
			this = Undefined
		}
		return data.native(vm, this, args)
	case fnClosure:
		return data.closure(vm, this, args, data.captures)
	default:
		return vm.callBytecode(data, this, args, false)
	}
}

// ConstructInternal invokes a constructor with a freshly created this
// whose prototype derives from newTarget. A body that explicitly
// returns an object wins over the constructed this; any other return
// value is discarded in its favor.
func (vm *VM) ConstructInternal(fn Value, args []Value, newTarget Value) (Value, error) {
	if !fn.IsConstructor() {
		return Undefined, vm.typeError(fmt.Sprintf("%s is not a constructor", fn.Inspect()))
	}
	data := fn.AsObject().fn

	proto := vm.objectPrototype
	if newTarget.IsObject() {
		proto = vm.getPrototypeFromConstructor(newTarget.AsObject())
	}
	this := ObjectValue(NewObject(proto))

	var result Value
	var err error
	switch data.kind {
	case fnNative:
		result, err = data.native(vm, this, args)
	case fnClosure:
		result, err = data.closure(vm, this, args, data.captures)
	default:
		result, err = vm.callBytecode(data, this, args, true)
	}
	if err != nil {
		return Undefined, err
	}
	if result.IsObject() {
		return result, nil
	}
	return this, nil
}

// callBytecode runs a compiled function body in a fresh activation.
// The caller's environment chain is swapped for the closure's captured
// chain for the duration of the call, and both the operand stack and
// the environment stack are restored to their at-entry depth on every
// exit path.
func (vm *VM) callBytecode(data *functionData, this Value, args []Value, construct bool) (Value, error) {
	if len(vm.frames) >= MaxFrames {
		return Undefined, &errors.RangeError{
			Position: vm.currentPosition(),
			Msg:      "maximum call stack size exceeded",
		}
	}
	code := data.code

	savedEnvs := vm.envStack
	vm.envStack = append([]*Environment(nil), data.environment...)

	lexical := code.ThisMode == ThisModeLexical
	switch {
	case construct:
		// this is the constructed object, passed through as-is.
	case lexical:
		this = vm.thisBinding()
	case code.ThisMode == ThisModeGlobal:
		if this.IsNullish() {
			this = vm.globalThis
		}
	}

	funcEnv := NewFunctionEnvironment(code.NumBindings, this, !lexical)
	vm.pushEnv(funcEnv)

	simpleParams := true
	hasRest := false
	for _, p := range code.Params {
		if p.HasDefault || p.IsRest || p.IsPattern {
			simpleParams = false
		}
		if p.IsRest {
			hasRest = true
		}
	}

	// Whether the body binds arguments at all is the compiler's
	// decision, recorded on the CodeBlock; scripts never carry one.
	// Only the mapped/unmapped choice is made here.
	if code.ArgumentsBinding != NoArgumentsBinding {
		var argumentsObj Value
		if !code.Strict && simpleParams {
			argumentsObj = vm.createMappedArguments(code.Params, args, funcEnv)
		} else {
			argumentsObj = vm.createUnmappedArguments(args)
		}
		slot := funcEnv.createBinding("arguments", true)
		funcEnv.initializeBinding(slot, argumentsObj)
	}

	// Arguments go on the operand stack first-parameter-topmost so the
	// prologue's binding instructions pop them in declaration order.
	// Missing formals are padded with undefined; surplus values beyond
	// the formals stay below them for rest collection and are swept by
	// the exit truncation otherwise.
	stackBase := len(vm.stack)
	formals := len(code.Params)
	if hasRest {
		formals--
	}
	pushCount := len(args)
	if pushCount < formals {
		pushCount = formals
	}
	for i := pushCount - 1; i >= 0; i-- {
		if i < len(args) {
			vm.push(args[i])
		} else {
			vm.push(Undefined)
		}
	}

	vm.pushFrame(code, this, len(code.Params), len(args))

	in := &vm.instrumentation
	prevMode := in.Mode()
	// Meta covers the whole dynamic extent of a handler call; a callee
	// created at Base must not lower it and resurrect interception.
	if prevMode != MetaEvaluation {
		in.SetMode(data.evalMode)
	}

	result, err := vm.run()

	in.SetMode(prevMode)
	vm.popFrame()
	vm.stack = vm.stack[:stackBase]
	vm.envStack = savedEnvs

	if err != nil {
		return Undefined, err
	}
	return result, nil
}
