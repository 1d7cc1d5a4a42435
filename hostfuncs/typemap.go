package hostfuncs

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/near/borsh-go"
)

// Decoder converts a wire value into a host value of the mapping's Go type.
type Decoder func(mem *Memory, v Value) (reflect.Value, error)

// Encoder converts a host value into a wire value, allocating guest memory
// when the kind does not fit in a register.
type Encoder func(mem *Memory, v reflect.Value) (Value, error)

// Mapping binds a semantic kind and Go type to a wire type and the pair of
// functions that move values across it.
type Mapping struct {
	Type   reflect.Type
	Decode Decoder
	Encode Encoder
	Kind   Kind
	Wire   ValueType
	// Allocates reports that the wire value is an offset of memory allocated
	// by Encode.
	Allocates bool
}

// mapper is one row of the type table.
type mapper struct {
	natural reflect.Type // Go type used when the caller gives none
	build   func(k Kind, t reflect.Type) (Decoder, Encoder, error)
	wire    ValueType
	offset  bool
}

var (
	stringType  = reflect.TypeOf("")
	bytesType   = reflect.TypeOf([]byte(nil))
	int64Type   = reflect.TypeOf(int64(0))
	float64Type = reflect.TypeOf(float64(0))
	boolType    = reflect.TypeOf(false)
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
)

var typeTable = map[kindTag]mapper{
	kindText:    {natural: stringType, wire: ValueTypeI64, offset: true, build: buildText},
	kindBytes:   {natural: bytesType, wire: ValueTypeI64, offset: true, build: buildBytes},
	kindInteger: {natural: int64Type, wire: ValueTypeI64, build: buildInteger},
	kindFloat:   {natural: float64Type, wire: ValueTypeF64, build: buildFloat},
	kindBoolean: {natural: boolType, wire: ValueTypeI32, build: buildBoolean},
	kindRecord:  {natural: anyType, wire: ValueTypeI64, offset: true, build: buildRecord},
	kindObject:  {wire: ValueTypeI64, offset: true, build: buildObject},
	kindCodec:   {natural: anyType, wire: ValueTypeI64, offset: true, build: buildCodec},
}

// Resolve returns the mapping for kind k when values are held in Go type t.
// A nil t selects the kind's natural Go type.
func Resolve(k Kind, t reflect.Type) (Mapping, error) {
	row, ok := typeTable[k.tag]
	if !ok {
		return Mapping{}, &UnsupportedTypeError{Kind: k, Type: t, Reason: "no wire mapping"}
	}
	if t == nil {
		t = row.natural
		if k.tag == kindCodec && k.codec != nil && k.codec.typ != nil {
			t = k.codec.typ
		}
		if t == nil {
			return Mapping{}, &UnsupportedTypeError{Kind: k, Reason: "a concrete Go type is required"}
		}
	}
	dec, enc, err := row.build(k, t)
	if err != nil {
		return Mapping{}, err
	}
	return Mapping{
		Kind:      k,
		Type:      t,
		Wire:      row.wire,
		Decode:    dec,
		Encode:    enc,
		Allocates: row.offset,
	}, nil
}

// WireTypeOf returns the wire type a non-tuple kind occupies.
func WireTypeOf(k Kind) (ValueType, error) {
	row, ok := typeTable[k.tag]
	if !ok {
		return 0, &UnsupportedTypeError{Kind: k, Reason: "no wire mapping"}
	}
	return row.wire, nil
}

func accepts(t reflect.Type, natural reflect.Type) bool {
	if t.Kind() == reflect.Interface {
		return natural.Implements(t)
	}
	return t.Kind() == natural.Kind()
}

// toType converts x, whose type already passed accepts, into t.
func toType(x reflect.Value, t reflect.Type) reflect.Value {
	if x.Type() == t {
		return x
	}
	if t.Kind() == reflect.Interface {
		out := reflect.New(t).Elem()
		out.Set(x)
		return out
	}
	return x.Convert(t)
}

// indirect unwraps interface values so encoders see the dynamic value.
func indirect(v reflect.Value) (reflect.Value, error) {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, errors.New("nil value")
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, errors.New("nil value")
	}
	return v, nil
}

// readSlot resolves an offset wire value to a view of its bytes.
func readSlot(mem *Memory, v Value) ([]byte, error) {
	off, ok := v.offset()
	if !ok {
		return nil, fmt.Errorf("wire value %s is not a memory offset", v)
	}
	h, err := mem.Resolve(off)
	if err != nil {
		return nil, err
	}
	return mem.Read(h)
}

// writeSlot allocates guest memory for data and returns its offset.
func writeSlot(mem *Memory, data []byte) (Value, error) {
	h, err := mem.AllocBytes(data)
	if err != nil {
		return Value{}, err
	}
	return ValueI64(int64(h.Offset)), nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func unsupported(k Kind, t reflect.Type, reason string) error {
	return &UnsupportedTypeError{Kind: k, Type: t, Reason: reason}
}

func buildText(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	if !accepts(t, stringType) {
		return nil, nil, unsupported(k, t, "text needs a string type")
	}
	dec := func(mem *Memory, v Value) (reflect.Value, error) {
		view, err := readSlot(mem, v)
		if err != nil {
			return reflect.Value{}, err
		}
		return toType(reflect.ValueOf(string(view)), t), nil
	}
	enc := func(mem *Memory, v reflect.Value) (Value, error) {
		v, err := indirect(v)
		if err != nil {
			return Value{}, err
		}
		if v.Kind() != reflect.String {
			return Value{}, fmt.Errorf("expected string, got %s", v.Type())
		}
		return writeSlot(mem, []byte(v.String()))
	}
	return dec, enc, nil
}

func buildBytes(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	ok := t.Kind() == reflect.Interface && bytesType.Implements(t) ||
		t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
	if !ok {
		return nil, nil, unsupported(k, t, "bytes needs a byte slice type")
	}
	dec := func(mem *Memory, v Value) (reflect.Value, error) {
		view, err := readSlot(mem, v)
		if err != nil {
			return reflect.Value{}, err
		}
		return toType(reflect.ValueOf(cloneBytes(view)), t), nil
	}
	enc := func(mem *Memory, v reflect.Value) (Value, error) {
		v, err := indirect(v)
		if err != nil {
			return Value{}, err
		}
		if v.Kind() != reflect.Slice || v.Type().Elem().Kind() != reflect.Uint8 {
			return Value{}, fmt.Errorf("expected byte slice, got %s", v.Type())
		}
		return writeSlot(mem, v.Bytes())
	}
	return dec, enc, nil
}

func buildInteger(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	case reflect.Interface:
		if !int64Type.Implements(t) {
			return nil, nil, unsupported(k, t, "integer needs an integer type")
		}
	default:
		return nil, nil, unsupported(k, t, "integer needs an integer type")
	}
	dec := func(_ *Memory, v Value) (reflect.Value, error) {
		n := v.I64()
		if v.Type == ValueTypeI32 {
			n = int64(v.I32())
		}
		if t.Kind() == reflect.Interface {
			return toType(reflect.ValueOf(n), t), nil
		}
		out := reflect.New(t).Elem()
		switch t.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n < 0 || out.OverflowUint(uint64(n)) {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", n, t)
			}
			out.SetUint(uint64(n))
		default:
			if out.OverflowInt(n) {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", n, t)
			}
			out.SetInt(n)
		}
		return out, nil
	}
	enc := func(_ *Memory, v reflect.Value) (Value, error) {
		v, err := indirect(v)
		if err != nil {
			return Value{}, err
		}
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return ValueI64(v.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := v.Uint()
			if u > math.MaxInt64 {
				return Value{}, fmt.Errorf("%d overflows int64", u)
			}
			return ValueI64(int64(u)), nil
		default:
			return Value{}, fmt.Errorf("expected integer, got %s", v.Type())
		}
	}
	return dec, enc, nil
}

func buildFloat(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	if !accepts(t, float64Type) && t.Kind() != reflect.Float32 {
		return nil, nil, unsupported(k, t, "float needs a floating point type")
	}
	dec := func(_ *Memory, v Value) (reflect.Value, error) {
		f := v.F64()
		if v.Type == ValueTypeF32 {
			f = float64(v.F32())
		}
		if t.Kind() == reflect.Interface {
			return toType(reflect.ValueOf(f), t), nil
		}
		out := reflect.New(t).Elem()
		if out.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("%g overflows %s", f, t)
		}
		out.SetFloat(f)
		return out, nil
	}
	enc := func(_ *Memory, v reflect.Value) (Value, error) {
		v, err := indirect(v)
		if err != nil {
			return Value{}, err
		}
		if v.Kind() != reflect.Float32 && v.Kind() != reflect.Float64 {
			return Value{}, fmt.Errorf("expected float, got %s", v.Type())
		}
		return ValueF64(v.Float()), nil
	}
	return dec, enc, nil
}

func buildBoolean(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	if !accepts(t, boolType) {
		return nil, nil, unsupported(k, t, "boolean needs a bool type")
	}
	dec := func(_ *Memory, v Value) (reflect.Value, error) {
		return toType(reflect.ValueOf(v.I32() != 0), t), nil
	}
	enc := func(_ *Memory, v reflect.Value) (Value, error) {
		v, err := indirect(v)
		if err != nil {
			return Value{}, err
		}
		if v.Kind() != reflect.Bool {
			return Value{}, fmt.Errorf("expected bool, got %s", v.Type())
		}
		if v.Bool() {
			return ValueI32(1), nil
		}
		return ValueI32(0), nil
	}
	return dec, enc, nil
}

func buildRecord(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, nil, unsupported(k, t, "record needs a JSON representable type")
	}
	dec := func(mem *Memory, v Value) (reflect.Value, error) {
		view, err := readSlot(mem, v)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t)
		if err := unmarshalRecord(view, ptr.Interface()); err != nil {
			return reflect.Value{}, err
		}
		restoreNumbers(ptr.Elem())
		return ptr.Elem(), nil
	}
	enc := func(mem *Memory, v reflect.Value) (Value, error) {
		var x any
		if v.IsValid() {
			x = v.Interface()
		}
		data, err := json.Marshal(x)
		if err != nil {
			return Value{}, err
		}
		return writeSlot(mem, data)
	}
	return dec, enc, nil
}

// unmarshalRecord decodes data like json.Unmarshal but keeps numbers held in
// interface values as json.Number.
func unmarshalRecord(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("invalid character after top-level value")
	}
	return nil
}

// restoreNumbers replaces the json.Number values left in interfaces by
// unmarshalRecord with int64 when integral and in range, float64 otherwise.
func restoreNumbers(v reflect.Value) {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return
		}
		elem := v.Elem()
		if n, ok := elem.Interface().(json.Number); ok {
			if v.CanSet() {
				v.Set(reflect.ValueOf(numberValue(n)))
			}
			return
		}
		restoreNumbers(elem)
	case reflect.Pointer:
		if !v.IsNil() {
			restoreNumbers(v.Elem())
		}
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			restoreNumbers(v.Index(i))
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			val := v.MapIndex(k)
			if val.Kind() != reflect.Interface || val.IsNil() {
				restoreNumbers(val)
				continue
			}
			if n, ok := val.Elem().Interface().(json.Number); ok {
				v.SetMapIndex(k, reflect.ValueOf(numberValue(n)))
				continue
			}
			restoreNumbers(val.Elem())
		}
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			if t.Field(i).IsExported() {
				restoreNumbers(v.Field(i))
			}
		}
	}
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	f, _ := n.Float64()
	return f
}

func buildObject(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	if t.Kind() == reflect.Interface {
		return nil, nil, unsupported(k, t, "object needs a concrete type")
	}
	dec := func(mem *Memory, v Value) (reflect.Value, error) {
		view, err := readSlot(mem, v)
		if err != nil {
			return reflect.Value{}, err
		}
		return unmarshalObject(cloneBytes(view), t)
	}
	enc := func(mem *Memory, v reflect.Value) (Value, error) {
		v, err := indirect(v)
		if err != nil {
			return Value{}, err
		}
		data, err := marshalObject(v)
		if err != nil {
			return Value{}, err
		}
		return writeSlot(mem, data)
	}
	return dec, enc, nil
}

func unmarshalObject(data []byte, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Pointer {
		ptr := reflect.New(t.Elem())
		if u, ok := ptr.Interface().(encoding.BinaryUnmarshaler); ok {
			return ptr, u.UnmarshalBinary(data)
		}
		return ptr, borsh.Deserialize(ptr.Interface(), data)
	}
	ptr := reflect.New(t)
	if u, ok := ptr.Interface().(encoding.BinaryUnmarshaler); ok {
		return ptr.Elem(), u.UnmarshalBinary(data)
	}
	return ptr.Elem(), borsh.Deserialize(ptr.Interface(), data)
}

func marshalObject(v reflect.Value) ([]byte, error) {
	if m, ok := v.Interface().(encoding.BinaryMarshaler); ok {
		return m.MarshalBinary()
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, errors.New("nil object")
		}
		v = v.Elem()
	}
	return borsh.Serialize(v.Interface())
}

func buildCodec(k Kind, t reflect.Type) (Decoder, Encoder, error) {
	c := k.codec
	if c == nil {
		return nil, nil, unsupported(k, t, "codec has no transforms")
	}
	if c.typ != nil && t.Kind() != reflect.Interface && !c.typ.AssignableTo(t) {
		return nil, nil, unsupported(k, t, "codec produces "+c.typ.String())
	}
	dec := func(mem *Memory, v Value) (reflect.Value, error) {
		if c.decode == nil {
			return reflect.Value{}, errors.New("codec has no decoder")
		}
		view, err := readSlot(mem, v)
		if err != nil {
			return reflect.Value{}, err
		}
		x, err := c.decode(cloneBytes(view))
		if err != nil {
			return reflect.Value{}, err
		}
		if x == nil {
			return reflect.Zero(t), nil
		}
		xv := reflect.ValueOf(x)
		switch {
		case xv.Type().AssignableTo(t):
			out := reflect.New(t).Elem()
			out.Set(xv)
			return out, nil
		case xv.Type().ConvertibleTo(t) && xv.Kind() == t.Kind():
			return xv.Convert(t), nil
		default:
			return reflect.Value{}, fmt.Errorf("codec decoded %s, want %s", xv.Type(), t)
		}
	}
	enc := func(mem *Memory, v reflect.Value) (Value, error) {
		if c.encode == nil {
			return Value{}, errors.New("codec has no encoder")
		}
		var x any
		if v.IsValid() {
			x = v.Interface()
		}
		data, err := c.encode(x)
		if err != nil {
			return Value{}, err
		}
		return writeSlot(mem, data)
	}
	return dec, enc, nil
}
