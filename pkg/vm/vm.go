package vm

import (
	"vesper/pkg/errors"
)

// MaxFrames bounds call-stack depth.
const MaxFrames = 1024

// VM is one execution context: the operand stack, the frame stack and
// the active environment chain. It is single-threaded; exactly one
// frame is executing at a time and suspension happens only at generator
// resume boundaries.
type VM struct {
	stack  []Value
	frames []CallFrame

	// envStack is the active environment chain, innermost record last.
	// Calls into a closure swap in the closure's captured chain and
	// restore the caller's on exit.
	envStack  []*Environment
	globalEnv *Environment

	globalThis        Value
	objectPrototype   *Object
	functionPrototype *Object

	instrumentation Instrumentation
}

// New creates a VM with a fresh global environment. The global this is
// a plain object; embedders can reach it through GlobalThis.
func New() *VM {
	// The frame stack is allocated at its hard bound up front: run loops
	// hold *CallFrame pointers across nested calls, so the backing array
	// must never move.
	vm := &VM{
		stack:  make([]Value, 0, 64),
		frames: make([]CallFrame, 0, MaxFrames),
	}
	vm.objectPrototype = NewObject(nil)
	vm.functionPrototype = NewObject(vm.objectPrototype)
	globalObj := NewObject(vm.objectPrototype)
	vm.globalThis = ObjectValue(globalObj)
	vm.globalEnv = NewGlobalEnvironment(vm.globalThis)
	vm.envStack = []*Environment{vm.globalEnv}
	return vm
}

// GlobalThis returns the global this value.
func (vm *VM) GlobalThis() Value { return vm.globalThis }

// ObjectPrototype returns the realm's default object prototype.
func (vm *VM) ObjectPrototype() *Object { return vm.objectPrototype }

// Instrumentation returns the VM's instrumentation configuration.
func (vm *VM) Instrumentation() *Instrumentation { return &vm.instrumentation }

// SetGlobal declares and initializes a mutable global binding.
func (vm *VM) SetGlobal(name string, v Value) {
	idx := vm.globalEnv.createBinding(name, true)
	vm.globalEnv.initializeBinding(idx, v)
}

// GetGlobal reads a global binding.
func (vm *VM) GetGlobal(name string) (Value, bool) {
	return vm.globalEnv.lookupInitialized(name)
}

// --- Operand stack ---

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() Value {
	return vm.stack[len(vm.stack)-1]
}

// StackDepth returns the operand-stack depth, for tests asserting the
// leak-freedom invariant.
func (vm *VM) StackDepth() int { return len(vm.stack) }

// EnvDepth returns the environment-chain depth, for the same purpose.
func (vm *VM) EnvDepth() int { return len(vm.envStack) }

func (vm *VM) pushEnv(env *Environment) {
	vm.envStack = append(vm.envStack, env)
}

func (vm *VM) popEnv() {
	vm.envStack = vm.envStack[:len(vm.envStack)-1]
}

// currentPosition reports the active function and instruction offset
// for error values.
func (vm *VM) currentPosition() errors.Position {
	if len(vm.frames) == 0 {
		return errors.Position{}
	}
	f := vm.frame()
	return errors.Position{Function: f.code.Name, Offset: f.pc}
}

// RunScript executes a top-level CodeBlock against the global
// environment and returns its completion value. The block is wrapped in
// a bytecode function with no captured chain beyond the global record.
// Script entry is not a function application, so it enters the bytecode
// path directly and never hits the apply trap.
func (vm *VM) RunScript(code *CodeBlock) (Value, error) {
	fn := vm.NewBytecodeFunction(code, []*Environment{vm.globalEnv})
	return vm.callBytecode(fn.AsObject().fn, Undefined, nil, false)
}
