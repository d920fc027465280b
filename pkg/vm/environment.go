package vm

// bindingState tracks the lifecycle of one environment slot.
type bindingState uint8

const (
	bindingUninitialized bindingState = iota
	bindingInitialized
)

// slot is one binding cell in an environment record.
type slot struct {
	name    string
	value   Value
	state   bindingState
	mutable bool
}

// Environment is a single record in the lexical environment chain:
// a fixed-capacity slot array for function/block scopes, or the global
// record. Function environments additionally carry the this binding for
// the activation.
type Environment struct {
	names []string
	index map[string]int
	slots []slot

	thisValue Value
	hasThis   bool

	global bool
}

// NewEnvironment creates a declarative environment with capacity for
// numBindings slots.
func NewEnvironment(numBindings int) *Environment {
	return &Environment{
		index: make(map[string]int, numBindings),
		slots: make([]slot, 0, numBindings),
	}
}

// NewFunctionEnvironment creates the per-call function scope with its
// this binding. Lexical-this (arrow) functions pass hasThis=false and
// inherit this from the enclosing chain.
func NewFunctionEnvironment(numBindings int, this Value, hasThis bool) *Environment {
	env := NewEnvironment(numBindings)
	env.thisValue = this
	env.hasThis = hasThis
	return env
}

// NewGlobalEnvironment creates the outermost record. Its bindings are
// name-keyed and always reachable through the global BindingLocator
// marker.
func NewGlobalEnvironment(globalThis Value) *Environment {
	env := NewEnvironment(8)
	env.thisValue = globalThis
	env.hasThis = true
	env.global = true
	return env
}

// createBinding declares a slot for name if not already present and
// returns its index.
func (e *Environment) createBinding(name string, mutable bool) int {
	if idx, ok := e.index[name]; ok {
		return idx
	}
	idx := len(e.slots)
	e.slots = append(e.slots, slot{name: name, mutable: mutable})
	e.names = append(e.names, name)
	e.index[name] = idx
	return idx
}

// initializeBinding gives the slot its first value.
func (e *Environment) initializeBinding(idx int, v Value) {
	e.slots[idx].value = v
	e.slots[idx].state = bindingInitialized
}

// slotOf returns the index for name, if declared here.
func (e *Environment) slotOf(name string) (int, bool) {
	idx, ok := e.index[name]
	return idx, ok
}

// getSlot reads a slot by index; ok is false while the binding is still
// in its temporal dead zone.
func (e *Environment) getSlot(idx int) (Value, bool) {
	s := &e.slots[idx]
	if s.state != bindingInitialized {
		return Undefined, false
	}
	return s.value, true
}

// setSlot assigns a slot by index. Assignment before initialization and
// assignment to an immutable binding both fail; the caller raises the
// script-visible error.
func (e *Environment) setSlot(idx int, v Value) (initialized bool, mutable bool) {
	s := &e.slots[idx]
	if s.state != bindingInitialized {
		return false, s.mutable
	}
	if !s.mutable {
		return true, false
	}
	s.value = v
	return true, true
}

// lookupInitialized reads a binding by name, reporting false when absent
// or uninitialized. Used by mapped arguments objects.
func (e *Environment) lookupInitialized(name string) (Value, bool) {
	idx, ok := e.index[name]
	if !ok {
		return Undefined, false
	}
	return e.getSlot(idx)
}

// assignByName writes a binding by name. Used by mapped arguments
// objects; absent bindings are ignored by the caller.
func (e *Environment) assignByName(name string, v Value) error {
	idx, ok := e.index[name]
	if !ok {
		return errBindingMissing
	}
	if initialized, mutable := e.setSlot(idx, v); !initialized || !mutable {
		return errBindingMissing
	}
	return nil
}

type bindingMissing struct{}

func (bindingMissing) Error() string { return "binding missing" }

var errBindingMissing = bindingMissing{}

// --- BindingLocator ---

// BindingLocator is the resolved address of a lexical binding: an
// environment depth (distance from the innermost record at resolution
// time) plus a slot index, or the global marker for dynamic name-keyed
// lookup. Locators start unresolved and are resolved against the live
// chain on first access, then cached on the CodeBlock's binding record.
type BindingLocator struct {
	Name     string
	Depth    int
	Slot     int
	Global   bool
	resolved bool
}

// Resolved reports whether the locator has been bound to an address.
func (l *BindingLocator) Resolved() bool { return l.resolved }

// resolveLocator walks the active environment chain from the innermost
// record outward. The result is cached; cached entries are revalidated
// cheaply against the live chain (the slot must still hold the same
// name) and re-resolved when stale, so sharing a CodeBlock across
// closures with different chain shapes stays correct.
func (vm *VM) resolveLocator(l *BindingLocator) bool {
	if l.resolved && !l.Global {
		if env, ok := vm.envAt(l.Depth); ok {
			if l.Slot < len(env.slots) && env.slots[l.Slot].name == l.Name {
				return true
			}
		}
		l.resolved = false
	}
	for depth := 0; depth < len(vm.envStack); depth++ {
		env := vm.envStack[len(vm.envStack)-1-depth]
		if idx, ok := env.slotOf(l.Name); ok {
			l.Depth = depth
			l.Slot = idx
			l.Global = env.global
			l.resolved = true
			return true
		}
	}
	// Unresolvable names fall back to the global record, where they may
	// be created by assignment in sloppy mode.
	l.Global = true
	l.resolved = true
	return false
}

// envAt returns the environment at the given depth from the innermost
// record.
func (vm *VM) envAt(depth int) (*Environment, bool) {
	if depth < 0 || depth >= len(vm.envStack) {
		return nil, false
	}
	return vm.envStack[len(vm.envStack)-1-depth], true
}

// currentEnv returns the innermost environment record.
func (vm *VM) currentEnv() *Environment {
	return vm.envStack[len(vm.envStack)-1]
}

// thisBinding walks the chain for the nearest record with a this
// binding, which is how lexical-this functions see their caller's this.
func (vm *VM) thisBinding() Value {
	for i := len(vm.envStack) - 1; i >= 0; i-- {
		if vm.envStack[i].hasThis {
			return vm.envStack[i].thisValue
		}
	}
	return vm.globalThis
}
