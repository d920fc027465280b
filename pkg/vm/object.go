package vm

import (
	"vesper/pkg/errors"
)

// NativeFn is the signature of a host function body. Constructors
// called on the ordinary call path receive Undefined as this.
type NativeFn func(vm *VM, this Value, args []Value) (Value, error)

// ClosureFn is the signature of a host-defined closure body with
// captured state.
type ClosureFn func(vm *VM, this Value, args []Value, captures []Value) (Value, error)

// functionKind classifies a function object's body.
type functionKind uint8

const (
	fnNative functionKind = iota
	fnClosure
	fnBytecode
)

// functionData is the callable payload of a function object. Exactly one
// of native / closure / code is populated depending on kind.
type functionData struct {
	kind        functionKind
	name        string
	constructor bool

	native NativeFn

	closure  ClosureFn
	captures []Value

	// Bytecode bodies reference their CodeBlock plus a snapshot of the
	// lexical environment chain taken at closure creation time.
	code        *CodeBlock
	environment []*Environment
	// Evaluation mode the closure was created under; restored around
	// every invocation so trap handlers stay suppressed inside their
	// own helper functions.
	evalMode EvaluationMode
}

// property is a single data property slot.
type property struct {
	value      Value
	enumerable bool
	writable   bool
}

// Object is the interpreter's object representation: a prototype link
// plus an insertion-ordered property map. Function objects additionally
// carry a functionData payload; arguments objects carry a parameterMap.
type Object struct {
	prototype *Object
	names     []string
	props     map[string]*property

	fn *functionData

	// Mapped arguments objects alias integer-indexed slots to parameter
	// bindings in the function environment.
	paramMap *parameterMap
}

// parameterMap links arguments-object indexes to parameter bindings by
// name, the way mapped arguments objects observe parameter mutation.
type parameterMap struct {
	env   *Environment
	names []string // index -> parameter name
}

// NewObject creates an empty object with the given prototype (may be nil).
func NewObject(prototype *Object) *Object {
	return &Object{
		prototype: prototype,
		props:     make(map[string]*property),
	}
}

// Prototype returns the object's prototype link (may be nil).
func (o *Object) Prototype() *Object { return o.prototype }

// SetPrototype replaces the object's prototype link.
func (o *Object) SetPrototype(p *Object) { o.prototype = p }

// setSlot writes a data property without any prototype interaction.
func (o *Object) setSlot(key string, v Value, enumerable, writable bool) {
	if p, ok := o.props[key]; ok {
		p.value = v
		p.enumerable = enumerable
		p.writable = writable
		return
	}
	o.names = append(o.names, key)
	o.props[key] = &property{value: v, enumerable: enumerable, writable: writable}
}

// Get implements [[Get]]: own property, parameter-map aliasing for
// mapped arguments objects, then the prototype chain.
func (o *Object) Get(key string) (Value, bool) {
	if o.paramMap != nil {
		if v, ok := o.paramMap.get(key); ok {
			return v, true
		}
	}
	for obj := o; obj != nil; obj = obj.prototype {
		if p, ok := obj.props[key]; ok {
			return p.value, true
		}
	}
	return Undefined, false
}

// Set implements [[Set]] for data properties. Mapped arguments indexes
// write through to the aliased parameter binding.
func (o *Object) Set(key string, v Value) {
	if o.paramMap != nil {
		if o.paramMap.set(key, v) {
			return
		}
	}
	if p, ok := o.props[key]; ok {
		if p.writable {
			p.value = v
		}
		return
	}
	o.setSlot(key, v, true, true)
}

// DefineOwnProperty creates or replaces an own data property.
func (o *Object) DefineOwnProperty(key string, v Value, enumerable bool) {
	o.setSlot(key, v, enumerable, true)
}

// HasProperty walks the prototype chain for the `in` operator.
func (o *Object) HasProperty(key string) bool {
	if o.paramMap != nil {
		if _, ok := o.paramMap.get(key); ok {
			return true
		}
	}
	for obj := o; obj != nil; obj = obj.prototype {
		if _, ok := obj.props[key]; ok {
			return true
		}
	}
	return false
}

// OwnKeys returns the own enumerable property names in insertion order.
func (o *Object) OwnKeys() []string {
	keys := make([]string, 0, len(o.names))
	for _, name := range o.names {
		if p, ok := o.props[name]; ok && p.enumerable {
			keys = append(keys, name)
		}
	}
	return keys
}

func (pm *parameterMap) indexOf(key string) int {
	for i, name := range pm.names {
		if name != "" && key == indexKey(i) {
			return i
		}
	}
	return -1
}

func (pm *parameterMap) get(key string) (Value, bool) {
	i := pm.indexOf(key)
	if i < 0 {
		return Undefined, false
	}
	v, ok := pm.env.lookupInitialized(pm.names[i])
	return v, ok
}

func (pm *parameterMap) set(key string, v Value) bool {
	i := pm.indexOf(key)
	if i < 0 {
		return false
	}
	return pm.env.assignByName(pm.names[i], v) == nil
}

// --- Function object constructors ---

// NewNativeFunction wraps a host function pointer in a function object.
func NewNativeFunction(name string, constructor bool, fn NativeFn) Value {
	obj := NewObject(nil)
	obj.fn = &functionData{kind: fnNative, name: name, constructor: constructor, native: fn}
	return ObjectValue(obj)
}

// NewClosureFunction wraps a host closure with captured state.
func NewClosureFunction(name string, fn ClosureFn, captures []Value) Value {
	obj := NewObject(nil)
	obj.fn = &functionData{kind: fnClosure, name: name, closure: fn, captures: captures}
	return ObjectValue(obj)
}

// NewBytecodeFunction creates a function object over a compiled
// CodeBlock, capturing the given environment chain snapshot. A fresh
// prototype object is attached the way function literals get one, with
// a back-referencing constructor property.
func (vm *VM) NewBytecodeFunction(code *CodeBlock, environment []*Environment) Value {
	obj := NewObject(vm.functionPrototype)
	obj.fn = &functionData{
		kind:        fnBytecode,
		name:        code.Name,
		constructor: code.IsConstructor,
		code:        code,
		environment: environment,
		evalMode:    vm.instrumentation.Mode(),
	}
	fnValue := ObjectValue(obj)

	prototype := NewObject(vm.objectPrototype)
	prototype.setSlot("constructor", fnValue, false, true)
	obj.setSlot("prototype", ObjectValue(prototype), false, true)
	obj.setSlot("name", NewString(code.Name), false, false)
	obj.setSlot("length", IntegerValue(int(code.Length)), false, false)
	return fnValue
}

// --- Arguments objects ---

// createUnmappedArguments builds a snapshot arguments object: index
// properties copied from the actual arguments, no parameter linkage.
func (vm *VM) createUnmappedArguments(args []Value) Value {
	obj := NewObject(vm.objectPrototype)
	obj.setSlot("length", IntegerValue(len(args)), false, true)
	for i, arg := range args {
		obj.setSlot(indexKey(i), arg, true, true)
	}
	return ObjectValue(obj)
}

// createMappedArguments builds a live-linked arguments object: index
// slots for formal parameters alias the parameter bindings in env, so
// mutation is visible in both directions. Only called for simple
// parameter lists in sloppy mode.
func (vm *VM) createMappedArguments(params []Param, args []Value, env *Environment) Value {
	obj := NewObject(vm.objectPrototype)
	obj.setSlot("length", IntegerValue(len(args)), false, true)

	names := make([]string, len(args))
	for i, arg := range args {
		if i < len(params) {
			names[i] = params[i].Name
		} else {
			// Extra arguments beyond the formals are plain snapshot slots.
			obj.setSlot(indexKey(i), arg, true, true)
		}
	}
	obj.paramMap = &parameterMap{env: env, names: names}
	return ObjectValue(obj)
}

func indexKey(i int) string {
	// Small non-negative integers only; arguments lists are short.
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i)
}

func itoa(i int) string {
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// getPrototypeFromConstructor derives the [[Prototype]] for a newly
// constructed object: the constructor's own `prototype` property when it
// is an object, otherwise the realm's default object prototype.
func (vm *VM) getPrototypeFromConstructor(constructor *Object) *Object {
	if proto, ok := constructor.Get("prototype"); ok && proto.IsObject() {
		return proto.AsObject()
	}
	return vm.objectPrototype
}

func (vm *VM) typeError(msg string) error {
	return &errors.TypeError{Position: vm.currentPosition(), Msg: msg}
}

func (vm *VM) referenceError(msg string) error {
	return &errors.ReferenceError{Position: vm.currentPosition(), Msg: msg}
}
