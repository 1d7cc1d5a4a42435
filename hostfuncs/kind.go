package hostfuncs

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
)

type kindTag uint8

const (
	kindInvalid kindTag = iota
	kindText
	kindBytes
	kindInteger
	kindFloat
	kindBoolean
	kindRecord
	kindObject
	kindCodec
	kindTuple
	kindContext
)

// Kind is the semantic kind of a host function parameter or result. It
// decides which wire type a value occupies and how it is encoded.
type Kind struct {
	codec *codec
	elems []Kind
	tag   kindTag
}

// Semantic kinds.
var (
	// Text is UTF-8 text stored in guest memory.
	Text = Kind{tag: kindText}
	// Bytes is a binary blob stored in guest memory.
	Bytes = Kind{tag: kindBytes}
	// Integer is a signed 64-bit register value.
	Integer = Kind{tag: kindInteger}
	// Float is a 64-bit float register value.
	Float = Kind{tag: kindFloat}
	// Boolean is an i32 register holding 0 or 1.
	Boolean = Kind{tag: kindBoolean}
	// Record is JSON-shaped data (maps, slices, scalars, structs) stored as
	// JSON in guest memory.
	Record = Kind{tag: kindRecord}
	// Object is a Go value serialized with borsh (or its own
	// encoding.BinaryMarshaler) and opaque to the guest.
	Object = Kind{tag: kindObject}
	// Context marks the leading parameter that receives the live *CallContext.
	Context = Kind{tag: kindContext}
)

// codec carries a caller-supplied raw byte transform.
type codec struct {
	encode func(any) ([]byte, error)
	decode func([]byte) (any, error)
	typ    reflect.Type // nil when untyped
}

// Codec returns a kind whose values are converted to and from raw bytes by
// the given functions. Either function may be nil if the kind is only used
// in one direction.
func Codec(encode func(any) ([]byte, error), decode func([]byte) (any, error)) Kind {
	return Kind{tag: kindCodec, codec: &codec{encode: encode, decode: decode}}
}

// NewCodec returns a typed codec kind for values of type T.
func NewCodec[T any](encode func(T) ([]byte, error), decode func([]byte) (T, error)) Kind {
	c := &codec{typ: reflect.TypeOf((*T)(nil)).Elem()}
	if encode != nil {
		c.encode = func(v any) ([]byte, error) {
			t, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("codec expects %s, got %T", c.typ, v)
			}
			return encode(t)
		}
	}
	if decode != nil {
		c.decode = func(b []byte) (any, error) {
			return decode(b)
		}
	}
	return Kind{tag: kindCodec, codec: c}
}

// Tuple returns a result kind that expands into one wire result per element.
// Tuples are only legal in the result position.
func Tuple(kinds ...Kind) Kind {
	elems := make([]Kind, len(kinds))
	copy(elems, kinds)
	return Kind{tag: kindTuple, elems: elems}
}

// IsTuple reports whether k is a Tuple kind.
func (k Kind) IsTuple() bool {
	return k.tag == kindTuple
}

// Elems returns the element kinds of a Tuple, or nil.
func (k Kind) Elems() []Kind {
	if k.tag != kindTuple {
		return nil
	}
	out := make([]Kind, len(k.elems))
	copy(out, k.elems)
	return out
}

// IsZero reports whether k is the zero Kind (no kind declared).
func (k Kind) IsZero() bool {
	return k.tag == kindInvalid
}

// Is reports whether k and o are the same kind, ignoring codec functions and
// tuple elements.
func (k Kind) Is(o Kind) bool {
	return k.tag == o.tag
}

func (k Kind) String() string {
	switch k.tag {
	case kindText:
		return "Text"
	case kindBytes:
		return "Bytes"
	case kindInteger:
		return "Integer"
	case kindFloat:
		return "Float"
	case kindBoolean:
		return "Boolean"
	case kindRecord:
		return "Record"
	case kindObject:
		return "Object"
	case kindCodec:
		if k.codec != nil && k.codec.typ != nil {
			return "Codec[" + k.codec.typ.String() + "]"
		}
		return "Codec"
	case kindContext:
		return "Context"
	case kindTuple:
		names := make([]string, len(k.elems))
		for i, e := range k.elems {
			names[i] = e.String()
		}
		return "Tuple<" + strings.Join(names, ", ") + ">"
	default:
		return "Invalid"
	}
}

var (
	callContextType      = reflect.TypeOf((*CallContext)(nil))
	errorType            = reflect.TypeOf((*error)(nil)).Elem()
	binaryMarshalerType  = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerTyp = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
)

// KindOf derives the semantic kind of a Go type.
func KindOf(t reflect.Type) (Kind, error) {
	if t == nil {
		return Kind{}, &UnsupportedTypeError{Reason: "nil type"}
	}
	if t == callContextType {
		return Context, nil
	}
	if t.Implements(binaryMarshalerType) &&
		(t.Implements(binaryUnmarshalerTyp) || reflect.PointerTo(t).Implements(binaryUnmarshalerTyp)) {
		return Object, nil
	}
	switch t.Kind() {
	case reflect.String:
		return Text, nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return Bytes, nil
		}
		return Record, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Integer, nil
	case reflect.Float32, reflect.Float64:
		return Float, nil
	case reflect.Bool:
		return Boolean, nil
	case reflect.Map, reflect.Array, reflect.Struct:
		return Record, nil
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Struct {
			return Record, nil
		}
	}
	return Kind{}, &UnsupportedTypeError{Type: t, Reason: "no semantic kind for Go type"}
}
