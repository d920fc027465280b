package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WireVersion is the current serialization format version. Decoding
// rejects payloads written by a different version.
const WireVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireModule is the top-level serialization envelope.
type wireModule struct {
	Version uint8          `cbor:"1,keyasint"`
	Root    *wireCodeBlock `cbor:"2,keyasint"`
}

// wireCodeBlock mirrors CodeBlock with only the compile-time state:
// binding locator caches are runtime-local and never cross the wire.
type wireCodeBlock struct {
	Name          string           `cbor:"1,keyasint,omitempty"`
	Length        uint32           `cbor:"2,keyasint,omitempty"`
	Strict        bool             `cbor:"3,keyasint,omitempty"`
	IsConstructor bool             `cbor:"4,keyasint,omitempty"`
	ThisMode      uint8            `cbor:"5,keyasint,omitempty"`
	Params        []wireParam      `cbor:"6,keyasint,omitempty"`
	Code          []byte           `cbor:"7,keyasint"`
	Literals      []wireValue      `cbor:"8,keyasint,omitempty"`
	Bindings      []string         `cbor:"9,keyasint,omitempty"`
	Functions     []*wireCodeBlock `cbor:"10,keyasint,omitempty"`
	NumBindings   int              `cbor:"11,keyasint,omitempty"`

	LexicalNameArguments    bool `cbor:"12,keyasint,omitempty"`
	HasParameterExpressions bool `cbor:"13,keyasint,omitempty"`

	// ArgumentsSlot is ArgumentsBinding shifted by one so that the zero
	// value (absent field) decodes to no binding.
	ArgumentsSlot uint32 `cbor:"14,keyasint,omitempty"`
}

type wireParam struct {
	Name       string `cbor:"1,keyasint,omitempty"`
	HasDefault bool   `cbor:"2,keyasint,omitempty"`
	IsRest     bool   `cbor:"3,keyasint,omitempty"`
	IsPattern  bool   `cbor:"4,keyasint,omitempty"`
}

// wireValue is the tagged union for literal-pool entries. Only
// primitives appear in a literal pool, so the object arm is absent.
type wireValue struct {
	Type uint8   `cbor:"1,keyasint"`
	Num  float64 `cbor:"2,keyasint,omitempty"`
	Str  string  `cbor:"3,keyasint,omitempty"`
}

// MarshalCodeBlock serializes a compiled function tree to CBOR bytes.
func MarshalCodeBlock(code *CodeBlock) ([]byte, error) {
	root, err := toWire(code)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&wireModule{Version: WireVersion, Root: root})
}

// UnmarshalCodeBlock deserializes a compiled function tree from CBOR
// bytes and validates every code buffer in it before returning.
func UnmarshalCodeBlock(data []byte) (*CodeBlock, error) {
	var m wireModule
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("vm: unmarshal code block: %w", err)
	}
	if m.Version != WireVersion {
		return nil, fmt.Errorf("vm: unsupported wire version %d (want %d)", m.Version, WireVersion)
	}
	if m.Root == nil {
		return nil, fmt.Errorf("vm: wire payload has no root code block")
	}
	code, err := fromWire(m.Root)
	if err != nil {
		return nil, err
	}
	if err := validateTree(code); err != nil {
		return nil, err
	}
	return code, nil
}

func toWire(code *CodeBlock) (*wireCodeBlock, error) {
	w := &wireCodeBlock{
		Name:          code.Name,
		Length:        code.Length,
		Strict:        code.Strict,
		IsConstructor: code.IsConstructor,
		ThisMode:      uint8(code.ThisMode),
		Code:          code.Code,
		NumBindings:   code.NumBindings,

		LexicalNameArguments:    code.LexicalNameArguments,
		HasParameterExpressions: code.HasParameterExpressions,
	}
	if code.ArgumentsBinding != NoArgumentsBinding {
		w.ArgumentsSlot = uint32(code.ArgumentsBinding) + 1
	}
	for _, p := range code.Params {
		w.Params = append(w.Params, wireParam(p))
	}
	for i, lit := range code.Literals {
		wv, err := toWireValue(lit)
		if err != nil {
			return nil, fmt.Errorf("vm: literal %d of '%s': %w", i, code.Name, err)
		}
		w.Literals = append(w.Literals, wv)
	}
	for _, b := range code.Bindings {
		w.Bindings = append(w.Bindings, b.Name)
	}
	for _, fn := range code.Functions {
		nested, err := toWire(fn)
		if err != nil {
			return nil, err
		}
		w.Functions = append(w.Functions, nested)
	}
	return w, nil
}

func fromWire(w *wireCodeBlock) (*CodeBlock, error) {
	code := &CodeBlock{
		Name:          w.Name,
		Length:        w.Length,
		Strict:        w.Strict,
		IsConstructor: w.IsConstructor,
		ThisMode:      ThisMode(w.ThisMode),
		Code:          w.Code,
		NumBindings:   w.NumBindings,

		LexicalNameArguments:    w.LexicalNameArguments,
		HasParameterExpressions: w.HasParameterExpressions,

		ArgumentsBinding: int(w.ArgumentsSlot) - 1,
	}
	for _, p := range w.Params {
		code.Params = append(code.Params, Param(p))
	}
	for i, wv := range w.Literals {
		lit, err := fromWireValue(wv)
		if err != nil {
			return nil, fmt.Errorf("vm: literal %d of '%s': %w", i, w.Name, err)
		}
		code.Literals = append(code.Literals, lit)
	}
	for _, name := range w.Bindings {
		code.Bindings = append(code.Bindings, Binding{Name: name, Locator: BindingLocator{Name: name}})
	}
	for _, nested := range w.Functions {
		fn, err := fromWire(nested)
		if err != nil {
			return nil, err
		}
		code.Functions = append(code.Functions, fn)
	}
	return code, nil
}

func toWireValue(v Value) (wireValue, error) {
	switch v.Type() {
	case TypeUndefined, TypeNull:
		return wireValue{Type: uint8(v.Type())}, nil
	case TypeBoolean:
		var n float64
		if v.AsBoolean() {
			n = 1
		}
		return wireValue{Type: uint8(TypeBoolean), Num: n}, nil
	case TypeNumber:
		return wireValue{Type: uint8(TypeNumber), Num: v.AsNumber()}, nil
	case TypeString:
		return wireValue{Type: uint8(TypeString), Str: v.AsString()}, nil
	default:
		return wireValue{}, fmt.Errorf("non-primitive value %s is not serializable", v.Inspect())
	}
}

func fromWireValue(w wireValue) (Value, error) {
	switch ValueType(w.Type) {
	case TypeUndefined:
		return Undefined, nil
	case TypeNull:
		return Null, nil
	case TypeBoolean:
		return BooleanValue(w.Num != 0), nil
	case TypeNumber:
		return NumberValue(w.Num), nil
	case TypeString:
		return NewString(w.Str), nil
	default:
		return Undefined, fmt.Errorf("unknown value tag %d", w.Type)
	}
}

func validateTree(code *CodeBlock) error {
	if err := code.Validate(); err != nil {
		return fmt.Errorf("vm: code block '%s': %w", code.Name, err)
	}
	for _, fn := range code.Functions {
		if err := validateTree(fn); err != nil {
			return err
		}
	}
	return nil
}
