package vm

import (
	"math"
	"strconv"
	"strings"
)

// toPrimitiveHint is the preferred-type hint of the ToPrimitive
// abstract operation.
type toPrimitiveHint uint8

const (
	hintDefault toPrimitiveHint = iota
	hintNumber
	hintString
)

func (h toPrimitiveHint) String() string {
	switch h {
	case hintNumber:
		return "number"
	case hintString:
		return "string"
	default:
		return "default"
	}
}

// toPrimitive implements the ToPrimitive abstract operation. This is an
// interception point: a live to_primitive trap observes the conversion
// and substitutes its result.
func (vm *VM) toPrimitive(v Value, hint toPrimitiveHint) (Value, error) {
	if handler, live := vm.instrumentation.active(TrapToPrimitive); live {
		return vm.callTrap(handler, []Value{v, NewString(hint.String())})
	}
	if !v.IsObject() {
		return v, nil
	}
	methods := []string{"valueOf", "toString"}
	if hint == hintString {
		methods = []string{"toString", "valueOf"}
	}
	obj := v.AsObject()
	for _, name := range methods {
		method, ok := obj.Get(name)
		if !ok || !method.IsCallable() {
			continue
		}
		result, err := vm.CallInternal(method, v, nil)
		if err != nil {
			return Undefined, err
		}
		if !result.IsObject() {
			return result, nil
		}
	}
	return Undefined, vm.typeError("cannot convert object to primitive value")
}

// toNumber implements the ToNumber abstract operation.
func (vm *VM) toNumber(v Value) (float64, error) {
	switch v.Type() {
	case TypeUndefined:
		return math.NaN(), nil
	case TypeNull:
		return 0, nil
	case TypeBoolean:
		if v.AsBoolean() {
			return 1, nil
		}
		return 0, nil
	case TypeNumber:
		return v.AsNumber(), nil
	case TypeString:
		return stringToNumber(v.AsString()), nil
	default:
		prim, err := vm.toPrimitive(v, hintNumber)
		if err != nil {
			return 0, err
		}
		if prim.IsObject() {
			return 0, vm.typeError("Symbol.toPrimitive returned an object")
		}
		return vm.toNumber(prim)
	}
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if s == "Infinity" || s == "+Infinity" {
		return math.Inf(1)
	}
	if s == "-Infinity" {
		return math.Inf(-1)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return n
}

// toString implements the ToString abstract operation.
func (vm *VM) toString(v Value) (string, error) {
	switch v.Type() {
	case TypeString:
		return v.AsString(), nil
	case TypeObject:
		prim, err := vm.toPrimitive(v, hintString)
		if err != nil {
			return "", err
		}
		if prim.IsObject() {
			return "", vm.typeError("Symbol.toPrimitive returned an object")
		}
		return vm.toString(prim)
	default:
		return v.Inspect(), nil
	}
}

// toPropertyKey converts a value to a property key string.
func (vm *VM) toPropertyKey(v Value) (string, error) {
	prim, err := vm.toPrimitive(v, hintString)
	if err != nil {
		return "", err
	}
	if prim.IsObject() {
		return "", vm.typeError("Symbol.toPrimitive returned an object")
	}
	return vm.toString(prim)
}

// toInt32 truncates per the ToInt32 abstract operation.
func toInt32(n float64) int32 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int32(uint32(int64(math.Trunc(n))))
}

func toUint32(n float64) uint32 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return uint32(int64(math.Trunc(n)))
}

// add implements the binary + operator: string concatenation when
// either primitive side is a string, numeric addition otherwise.
func (vm *VM) add(lhs, rhs Value) (Value, error) {
	lp, err := vm.toPrimitive(lhs, hintDefault)
	if err != nil {
		return Undefined, err
	}
	rp, err := vm.toPrimitive(rhs, hintDefault)
	if err != nil {
		return Undefined, err
	}
	if lp.IsString() || rp.IsString() {
		ls, err := vm.toString(lp)
		if err != nil {
			return Undefined, err
		}
		rs, err := vm.toString(rp)
		if err != nil {
			return Undefined, err
		}
		return NewString(ls + rs), nil
	}
	ln, err := vm.toNumber(lp)
	if err != nil {
		return Undefined, err
	}
	rn, err := vm.toNumber(rp)
	if err != nil {
		return Undefined, err
	}
	return NumberValue(ln + rn), nil
}

// numericBinary evaluates the arithmetic operators that always coerce
// both sides to numbers.
func (vm *VM) numericBinary(op Opcode, lhs, rhs Value) (Value, error) {
	ln, err := vm.toNumber(lhs)
	if err != nil {
		return Undefined, err
	}
	rn, err := vm.toNumber(rhs)
	if err != nil {
		return Undefined, err
	}
	switch op {
	case OpSub:
		return NumberValue(ln - rn), nil
	case OpMul:
		return NumberValue(ln * rn), nil
	case OpDiv:
		return NumberValue(ln / rn), nil
	case OpMod:
		return NumberValue(math.Mod(ln, rn)), nil
	case OpPow:
		return NumberValue(math.Pow(ln, rn)), nil
	case OpShiftLeft:
		return NumberValue(float64(toInt32(ln) << (toUint32(rn) & 31))), nil
	case OpShiftRight:
		return NumberValue(float64(toInt32(ln) >> (toUint32(rn) & 31))), nil
	case OpUnsignedShiftRight:
		return NumberValue(float64(toUint32(ln) >> (toUint32(rn) & 31))), nil
	case OpBitAnd:
		return NumberValue(float64(toInt32(ln) & toInt32(rn))), nil
	case OpBitOr:
		return NumberValue(float64(toInt32(ln) | toInt32(rn))), nil
	case OpBitXor:
		return NumberValue(float64(toInt32(ln) ^ toInt32(rn))), nil
	default:
		panic("not a numeric binary opcode: " + op.String())
	}
}

// compare evaluates the relational operators via the abstract
// relational comparison (string/string compares lexically).
func (vm *VM) compare(op Opcode, lhs, rhs Value) (Value, error) {
	lp, err := vm.toPrimitive(lhs, hintNumber)
	if err != nil {
		return Undefined, err
	}
	rp, err := vm.toPrimitive(rhs, hintNumber)
	if err != nil {
		return Undefined, err
	}
	if lp.IsString() && rp.IsString() {
		ls, rs := lp.AsString(), rp.AsString()
		switch op {
		case OpGreaterThan:
			return BooleanValue(ls > rs), nil
		case OpGreaterThanOrEq:
			return BooleanValue(ls >= rs), nil
		case OpLessThan:
			return BooleanValue(ls < rs), nil
		default:
			return BooleanValue(ls <= rs), nil
		}
	}
	ln, err := vm.toNumber(lp)
	if err != nil {
		return Undefined, err
	}
	rn, err := vm.toNumber(rp)
	if err != nil {
		return Undefined, err
	}
	switch op {
	case OpGreaterThan:
		return BooleanValue(ln > rn), nil
	case OpGreaterThanOrEq:
		return BooleanValue(ln >= rn), nil
	case OpLessThan:
		return BooleanValue(ln < rn), nil
	default:
		return BooleanValue(ln <= rn), nil
	}
}

// looseEquals implements the == abstract equality comparison.
func (vm *VM) looseEquals(lhs, rhs Value) (bool, error) {
	if lhs.Type() == rhs.Type() {
		return lhs.strictEquals(rhs), nil
	}
	switch {
	case lhs.IsNullish() && rhs.IsNullish():
		return true, nil
	case lhs.IsNullish() || rhs.IsNullish():
		return false, nil
	case lhs.IsObject():
		prim, err := vm.toPrimitive(lhs, hintDefault)
		if err != nil {
			return false, err
		}
		return vm.looseEquals(prim, rhs)
	case rhs.IsObject():
		prim, err := vm.toPrimitive(rhs, hintDefault)
		if err != nil {
			return false, err
		}
		return vm.looseEquals(lhs, prim)
	default:
		// Mixed primitives compare numerically.
		ln, err := vm.toNumber(lhs)
		if err != nil {
			return false, err
		}
		rn, err := vm.toNumber(rhs)
		if err != nil {
			return false, err
		}
		return ln == rn, nil
	}
}

// strictEquals implements ===. Unlike Is, NaN is unequal to itself.
func (v Value) strictEquals(other Value) bool {
	if v.Type() != other.Type() {
		return false
	}
	if v.IsNumber() {
		return v.AsNumber() == other.AsNumber()
	}
	return v.Is(other)
}

// instanceOf implements the instanceof operator against the ordinary
// [[HasInstance]] semantics: walk lhs's prototype chain looking for
// rhs.prototype.
func (vm *VM) instanceOf(lhs, rhs Value) (bool, error) {
	if !rhs.IsCallable() {
		return false, vm.typeError("right-hand side of 'instanceof' is not callable")
	}
	proto, ok := rhs.AsObject().Get("prototype")
	if !ok || !proto.IsObject() {
		return false, vm.typeError("function has non-object prototype in 'instanceof' check")
	}
	if !lhs.IsObject() {
		return false, nil
	}
	target := proto.AsObject()
	for o := lhs.AsObject().Prototype(); o != nil; o = o.Prototype() {
		if o == target {
			return true, nil
		}
	}
	return false, nil
}
