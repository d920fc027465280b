package vm

import (
	"fmt"
	"math"
	"strconv"
)

// ValueType defines the runtime type tag of a Value.
type ValueType uint8

const (
	TypeUndefined ValueType = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
)

// String returns a human-readable name for the ValueType.
func (t ValueType) String() string {
	switch t {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the interpreter's tagged value representation. Values are
// small and copied by value; object identity lives behind the obj
// pointer.
type Value struct {
	typ ValueType
	num float64
	str string
	obj *Object
}

// Singleton values.
var (
	Undefined = Value{typ: TypeUndefined}
	Null      = Value{typ: TypeNull}
	True      = Value{typ: TypeBoolean, num: 1}
	False     = Value{typ: TypeBoolean}
)

// BooleanValue wraps a Go bool.
func BooleanValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NumberValue wraps a Go float64.
func NumberValue(n float64) Value {
	return Value{typ: TypeNumber, num: n}
}

// IntegerValue wraps a Go int as a number value.
func IntegerValue(n int) Value {
	return Value{typ: TypeNumber, num: float64(n)}
}

// NewString wraps a Go string.
func NewString(s string) Value {
	return Value{typ: TypeString, str: s}
}

// ObjectValue wraps an object reference.
func ObjectValue(o *Object) Value {
	return Value{typ: TypeObject, obj: o}
}

// Type returns the value's type tag.
func (v Value) Type() ValueType { return v.typ }

func (v Value) IsUndefined() bool { return v.typ == TypeUndefined }
func (v Value) IsNull() bool      { return v.typ == TypeNull }
func (v Value) IsNullish() bool   { return v.typ == TypeUndefined || v.typ == TypeNull }
func (v Value) IsBoolean() bool   { return v.typ == TypeBoolean }
func (v Value) IsNumber() bool    { return v.typ == TypeNumber }
func (v Value) IsString() bool    { return v.typ == TypeString }
func (v Value) IsObject() bool    { return v.typ == TypeObject }

// IsCallable reports whether the value is a function object.
func (v Value) IsCallable() bool {
	return v.typ == TypeObject && v.obj.fn != nil
}

// IsConstructor reports whether the value can be used with `new`.
func (v Value) IsConstructor() bool {
	return v.typ == TypeObject && v.obj.fn != nil && v.obj.fn.constructor
}

// AsBoolean returns the boolean payload. Only valid for TypeBoolean.
func (v Value) AsBoolean() bool { return v.num != 0 }

// AsNumber returns the number payload. Only valid for TypeNumber.
func (v Value) AsNumber() float64 { return v.num }

// AsString returns the string payload. Only valid for TypeString.
func (v Value) AsString() string { return v.str }

// AsObject returns the object payload. Only valid for TypeObject.
func (v Value) AsObject() *Object { return v.obj }

// Is reports strict (SameValueZero-style) identity between two values.
// Objects compare by reference.
func (v Value) Is(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeUndefined, TypeNull:
		return true
	case TypeBoolean:
		return v.AsBoolean() == other.AsBoolean()
	case TypeNumber:
		return v.num == other.num || (math.IsNaN(v.num) && math.IsNaN(other.num))
	case TypeString:
		return v.str == other.str
	case TypeObject:
		return v.obj == other.obj
	default:
		return false
	}
}

// TypeOf implements the `typeof` operator.
func (v Value) TypeOf() string {
	switch v.typ {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "object"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		if v.obj.fn != nil {
			return "function"
		}
		return "object"
	default:
		return "unknown"
	}
}

// ToBoolean implements the ToBoolean abstract operation. It never
// consults the object layer and cannot fail.
func (v Value) ToBoolean() bool {
	switch v.typ {
	case TypeUndefined, TypeNull:
		return false
	case TypeBoolean:
		return v.AsBoolean()
	case TypeNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case TypeString:
		return v.str != ""
	default:
		return true
	}
}

// Inspect renders the value for diagnostics (disassembly, test output).
func (v Value) Inspect() string {
	switch v.typ {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		if v.AsBoolean() {
			return "true"
		}
		return "false"
	case TypeNumber:
		return formatNumber(v.num)
	case TypeString:
		return v.str
	case TypeObject:
		if v.obj.fn != nil {
			return fmt.Sprintf("[function %s]", v.obj.fn.name)
		}
		return "[object]"
	default:
		return "<invalid>"
	}
}

// formatNumber renders a float64 the way JS Number-to-string does for
// the common cases (integer-valued doubles print without a fraction).
func formatNumber(n float64) string {
	if math.IsNaN(n) {
		return "NaN"
	}
	if math.IsInf(n, 1) {
		return "Infinity"
	}
	if math.IsInf(n, -1) {
		return "-Infinity"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e21 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}
