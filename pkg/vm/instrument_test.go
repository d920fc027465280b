package vm

import "testing"

// installAdvice wires an advice object built from handler functions
// into the VM's instrumentation.
func installAdvice(vm *VM, handlers map[string]NativeFn) Value {
	advice := NewObject(vm.ObjectPrototype())
	for key, fn := range handlers {
		advice.Set(key, NewNativeFunction(key, false, fn))
	}
	adviceValue := ObjectValue(advice)
	in := vm.Instrumentation()
	in.InstallTraps(TrapsFromAdvice(adviceValue))
	in.InstallAdvice(adviceValue)
	return adviceValue
}

func TestNoTrapsNoInterception(t *testing.T) {
	result := runScript(t, New(), func(c *CodeBlock) {
		c.EmitI8(OpPushInt8, 2)
		c.EmitI8(OpPushInt8, 3)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 5)
}

func TestBinaryTrap(t *testing.T) {
	vm := New()
	calls := 0
	var seen []Value
	var receiver Value
	adviceValue := installAdvice(vm, map[string]NativeFn{
		"binary": func(vm *VM, this Value, args []Value) (Value, error) {
			calls++
			seen = args
			receiver = this
			return IntegerValue(42), nil
		},
	})

	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitI8(OpPushInt8, 2)
		c.EmitI8(OpPushInt8, 3)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 42)
	if calls != 1 {
		t.Fatalf("trap should fire exactly once, fired %d times", calls)
	}
	if len(seen) != 3 {
		t.Fatalf("binary trap takes (op, lhs, rhs), got %d args", len(seen))
	}
	expectString(t, seen[0], "+")
	expectNumber(t, seen[1], 2)
	expectNumber(t, seen[2], 3)
	if !receiver.IsObject() || receiver.AsObject() != adviceValue.AsObject() {
		t.Fatal("trap receiver should be the advice object")
	}
}

func TestUnaryTrap(t *testing.T) {
	vm := New()
	var seen []Value
	installAdvice(vm, map[string]NativeFn{
		"unary": func(vm *VM, this Value, args []Value) (Value, error) {
			seen = args
			return IntegerValue(0), nil
		},
	})
	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitI8(OpPushInt8, 5)
		c.EmitOp(OpNeg)
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 0)
	if len(seen) != 2 {
		t.Fatalf("unary trap takes (op, value), got %d args", len(seen))
	}
	expectString(t, seen[0], "-")
	expectNumber(t, seen[1], 5)
}

func TestGetTrap(t *testing.T) {
	vm := New()
	var seen []Value
	installAdvice(vm, map[string]NativeFn{
		"get": func(vm *VM, this Value, args []Value) (Value, error) {
			seen = args
			return NewString("trapped"), nil
		},
	})
	target := NewObject(vm.ObjectPrototype())
	target.Set("x", IntegerValue(1))
	vm.SetGlobal("o", ObjectValue(target))

	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitU8(OpGetName, uint8(c.AddBinding("o")))
		c.EmitU32(OpGetPropertyByName, c.AddBinding("x"))
		c.EmitOp(OpReturn)
	})
	expectString(t, result, "trapped")
	if len(seen) != 2 {
		t.Fatalf("get trap takes (object, key), got %d args", len(seen))
	}
	if !seen[0].IsObject() || seen[0].AsObject() != target {
		t.Fatal("get trap should receive the target object")
	}
	expectString(t, seen[1], "x")
}

func TestSetTrapBypassesWrite(t *testing.T) {
	vm := New()
	var seen []Value
	installAdvice(vm, map[string]NativeFn{
		"set": func(vm *VM, this Value, args []Value) (Value, error) {
			seen = args
			return args[2], nil
		},
	})
	target := NewObject(vm.ObjectPrototype())
	vm.SetGlobal("o", ObjectValue(target))

	runScript(t, vm, func(c *CodeBlock) {
		c.EmitU8(OpGetName, uint8(c.AddBinding("o")))
		c.EmitI8(OpPushInt8, 9)
		c.EmitU32(OpSetPropertyByName, c.AddBinding("x"))
	})
	if len(seen) != 3 {
		t.Fatalf("set trap takes (object, key, value), got %d args", len(seen))
	}
	expectString(t, seen[1], "x")
	expectNumber(t, seen[2], 9)
	if _, ok := target.Get("x"); ok {
		t.Fatal("the trapped write must not reach the object")
	}
}

func TestReadWriteTraps(t *testing.T) {
	vm := New()
	vm.SetGlobal("x", IntegerValue(1))
	var readName, writeName Value
	installAdvice(vm, map[string]NativeFn{
		"read": func(vm *VM, this Value, args []Value) (Value, error) {
			readName = args[0]
			return IntegerValue(7), nil
		},
		"write": func(vm *VM, this Value, args []Value) (Value, error) {
			writeName = args[0]
			return args[1], nil
		},
	})

	result := runScript(t, vm, func(c *CodeBlock) {
		x := c.AddBinding("x")
		c.EmitI8(OpPushInt8, 3)
		c.EmitU8(OpSetName, uint8(x))
		c.EmitU8(OpGetName, uint8(x))
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 7)
	expectString(t, readName, "x")
	expectString(t, writeName, "x")
	// The intercepted assignment never reached the binding.
	v, _ := vm.GetGlobal("x")
	expectNumber(t, v, 1)
}

func TestPrimitiveTrap(t *testing.T) {
	vm := New()
	installAdvice(vm, map[string]NativeFn{
		"primitive": func(vm *VM, this Value, args []Value) (Value, error) {
			return NumberValue(args[0].AsNumber() + 1), nil
		},
	})
	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitI8(OpPushInt8, 2)
		c.EmitI8(OpPushInt8, 3)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})
	// Each literal push is substituted with value+1; the untrapped add
	// then sees 3 and 4.
	expectNumber(t, result, 7)
}

func TestApplyTrap(t *testing.T) {
	vm := New()
	var seen []Value
	installAdvice(vm, map[string]NativeFn{
		"apply": func(vm *VM, this Value, args []Value) (Value, error) {
			seen = args
			return NewString("substituted"), nil
		},
	})
	double := makeFunction("double", []Param{{Name: "n"}}, func(c *CodeBlock) {
		emitArgBindings(c, c.Params)
		c.EmitU8(OpGetName, uint8(c.AddBinding("n")))
		c.EmitOp(OpDup)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})

	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitOp(OpPushUndefined)
		c.EmitU32(OpGetFunction, c.AddFunction(double))
		c.EmitI8(OpPushInt8, 4)
		c.EmitU32(OpCall, 1)
		c.EmitOp(OpReturn)
	})
	expectString(t, result, "substituted")
	if len(seen) != 3 {
		t.Fatalf("apply trap takes (fn, this, args), got %d args", len(seen))
	}
	if !seen[0].IsCallable() {
		t.Fatal("apply trap should receive the callee")
	}
	argsObj := seen[2].AsObject()
	length, _ := argsObj.Get("length")
	expectNumber(t, length, 1)
	first, _ := argsObj.Get("0")
	expectNumber(t, first, 4)
}

func TestTrapHandlerNotReTrapped(t *testing.T) {
	// A handler's own operations run in Meta mode: the CallInternal it
	// performs and the bytecode that call executes must not trigger
	// apply or binary traps again.
	vm := New()
	addCode := makeFunction("add", []Param{{Name: "a"}, {Name: "b"}}, func(c *CodeBlock) {
		emitArgBindings(c, c.Params)
		c.EmitU8(OpGetName, uint8(c.AddBinding("a")))
		c.EmitU8(OpGetName, uint8(c.AddBinding("b")))
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})
	realAdd := vm.NewBytecodeFunction(addCode, []*Environment{vm.globalEnv})

	calls := 0
	installAdvice(vm, map[string]NativeFn{
		"binary": func(vm *VM, this Value, args []Value) (Value, error) {
			calls++
			return vm.CallInternal(realAdd, Undefined, args[1:])
		},
	})

	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitI8(OpPushInt8, 2)
		c.EmitI8(OpPushInt8, 3)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 5)
	if calls != 1 {
		t.Fatalf("handler re-entered %d times; Meta mode must suppress nested traps", calls)
	}
	if vm.Instrumentation().Mode() != BaseEvaluation {
		t.Fatal("evaluation mode not restored after trap")
	}
}

func TestTrapErrorPropagates(t *testing.T) {
	vm := New()
	installAdvice(vm, map[string]NativeFn{
		"binary": func(vm *VM, this Value, args []Value) (Value, error) {
			return Undefined, &ThrownError{Value: NewString("trap says no")}
		},
	})
	_, err := vm.RunScript(buildScript(func(c *CodeBlock) {
		c.EmitI8(OpPushInt8, 1)
		c.EmitI8(OpPushInt8, 2)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	}))
	thrown, ok := err.(*ThrownError)
	if !ok {
		t.Fatalf("trap errors should propagate like script throws, got %v", err)
	}
	expectString(t, thrown.Value, "trap says no")
	if vm.Instrumentation().Mode() != BaseEvaluation {
		t.Fatal("evaluation mode not restored on the error path")
	}
}

func TestTrapErrorCatchable(t *testing.T) {
	vm := New()
	installAdvice(vm, map[string]NativeFn{
		"binary": func(vm *VM, this Value, args []Value) (Value, error) {
			return Undefined, &ThrownError{Value: IntegerValue(31)}
		},
	})
	result := runScript(t, vm, func(c *CodeBlock) {
		tryAt := len(c.Code) + 1
		c.EmitU32Pair(OpTryStart, 0, 0)
		c.EmitI8(OpPushInt8, 1)
		c.EmitI8(OpPushInt8, 2)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
		patchU32(c, tryAt, uint32(len(c.Code)))
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 31)
}

func TestToPrimitiveTrap(t *testing.T) {
	vm := New()
	hints := []string{}
	installAdvice(vm, map[string]NativeFn{
		"to_primitive": func(vm *VM, this Value, args []Value) (Value, error) {
			hints = append(hints, args[1].AsString())
			if args[0].IsObject() {
				return IntegerValue(10), nil
			}
			return args[0], nil
		},
	})
	target := NewObject(vm.ObjectPrototype())
	vm.SetGlobal("o", ObjectValue(target))

	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitU8(OpGetName, uint8(c.AddBinding("o")))
		c.EmitOp(OpPushOne)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 11)
	if len(hints) == 0 || hints[0] != "default" {
		t.Fatalf("to_primitive trap should see the conversion hint, got %v", hints)
	}
}

func TestAdviceWithoutHandlerIsInert(t *testing.T) {
	vm := New()
	installAdvice(vm, map[string]NativeFn{
		"unary": func(vm *VM, this Value, args []Value) (Value, error) {
			t.Error("unary trap must not fire for a binary operation")
			return Undefined, nil
		},
	})
	result := runScript(t, vm, func(c *CodeBlock) {
		c.EmitI8(OpPushInt8, 2)
		c.EmitI8(OpPushInt8, 3)
		c.EmitOp(OpAdd)
		c.EmitOp(OpReturn)
	})
	expectNumber(t, result, 5)
}
