package hostfuncs

import (
	"fmt"
	"reflect"
)

// Trampoline is the fixed-shape adapter the VM boundary invokes for one host
// function. It decodes inputs, calls the host function with the decoded
// arguments followed by the bound extra data, and encodes the results into
// outputs in place. outputs is left untouched when an error is returned.
type Trampoline func(cc *CallContext, inputs, outputs []Value, extra []any) error

// RawFunc is a host function that works directly on wire values. It is used
// with WithWireSignature, which bypasses signature inference.
type RawFunc func(cc *CallContext, inputs, outputs []Value, extra ...any) error

// BuildTrampoline returns the adapter for fn, whose type must be the one sig
// was inferred from.
func BuildTrampoline(name string, sig *Signature, fn reflect.Value) Trampoline {
	return func(cc *CallContext, inputs, outputs []Value, extra []any) error {
		if len(inputs) != len(sig.params) {
			return &DecodeError{Function: name, Slot: len(inputs), Err: fmt.Errorf("got %d inputs, want %d", len(inputs), len(sig.params))}
		}
		if len(outputs) != len(sig.results) {
			return &EncodeError{Function: name, Slot: -1, Kind: sig.result, Err: fmt.Errorf("got %d output slots, want %d", len(outputs), len(sig.results))}
		}
		mem := cc.Memory()

		args := make([]reflect.Value, 0, len(sig.params)+len(extra)+1)
		if sig.UsesContext {
			args = append(args, reflect.ValueOf(cc))
		}
		for i, m := range sig.params {
			in := inputs[i]
			if in.Type != m.Wire {
				return &DecodeError{Function: name, Slot: i, Kind: m.Kind, Err: fmt.Errorf("wire type %s, want %s", in.Type, m.Wire)}
			}
			v, err := m.Decode(mem, in)
			if err != nil {
				return &DecodeError{Function: name, Slot: i, Kind: m.Kind, Err: err}
			}
			args = append(args, v)
		}
		bound, err := bindExtra(sig, extra)
		if err != nil {
			return &DecodeError{Function: name, Slot: len(sig.params), Err: err}
		}
		args = append(args, bound...)

		results, err := invoke(name, fn, args)
		if err != nil {
			return err
		}
		if sig.returnsError {
			last := results[len(results)-1]
			results = results[:len(results)-1]
			if !last.IsNil() {
				return &HostFunctionError{Function: name, Err: last.Interface().(error)}
			}
		}

		components, err := destructure(sig, results)
		if err != nil {
			return &EncodeError{Function: name, Slot: -1, Kind: sig.result, Err: err}
		}
		encoded := make([]Value, len(sig.results))
		for i, m := range sig.results {
			v, err := m.Encode(mem, components[i])
			if err != nil {
				releaseOutputs(mem, sig.results[:i], encoded[:i])
				return &EncodeError{Function: name, Slot: i, Kind: m.Kind, Err: err}
			}
			encoded[i] = v
		}
		copy(outputs, encoded)
		return nil
	}
}

// BuildRawTrampoline returns the adapter for a wire-level host function.
// Inputs and outputs pass through without decoding; outputs are staged and
// only copied back when fn succeeds.
func BuildRawTrampoline(name string, params, results []ValueType, fn RawFunc) Trampoline {
	return func(cc *CallContext, inputs, outputs []Value, extra []any) (err error) {
		if len(inputs) != len(params) {
			return &DecodeError{Function: name, Slot: len(inputs), Err: fmt.Errorf("got %d inputs, want %d", len(inputs), len(params))}
		}
		for i, in := range inputs {
			if in.Type != params[i] {
				return &DecodeError{Function: name, Slot: i, Err: fmt.Errorf("wire type %s, want %s", in.Type, params[i])}
			}
		}
		if len(outputs) != len(results) {
			return &EncodeError{Function: name, Slot: -1, Err: fmt.Errorf("got %d output slots, want %d", len(outputs), len(results))}
		}
		staged := make([]Value, len(results))
		for i, t := range results {
			staged[i] = Value{Type: t}
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					err = &HostFunctionError{Function: name, Err: panicError(r), Panic: true}
				}
			}()
			if ferr := fn(cc, inputs, staged, extra...); ferr != nil {
				err = &HostFunctionError{Function: name, Err: ferr}
			}
		}()
		if err != nil {
			return err
		}
		for i, v := range staged {
			if v.Type != results[i] {
				return &EncodeError{Function: name, Slot: i, Err: fmt.Errorf("output type %s, want %s", v.Type, results[i])}
			}
		}
		copy(outputs, staged)
		return nil
	}
}

func invoke(name string, fn reflect.Value, args []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HostFunctionError{Function: name, Err: panicError(r), Panic: true}
		}
	}()
	return fn.Call(args), nil
}

// bindExtra converts bound extra data to the trailing parameter types.
func bindExtra(sig *Signature, extra []any) ([]reflect.Value, error) {
	if sig.variadic {
		elem := sig.extra[0].Elem()
		out := make([]reflect.Value, len(extra))
		for i, x := range extra {
			v, err := extraValue(x, elem)
			if err != nil {
				return nil, fmt.Errorf("extra data %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
	if len(extra) != len(sig.extra) {
		return nil, fmt.Errorf("got %d extra data values, want %d", len(extra), len(sig.extra))
	}
	out := make([]reflect.Value, len(extra))
	for i, x := range extra {
		v, err := extraValue(x, sig.extra[i])
		if err != nil {
			return nil, fmt.Errorf("extra data %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func extraValue(x any, t reflect.Type) (reflect.Value, error) {
	if x == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not assignable to %s", t)
	}
	v := reflect.ValueOf(x)
	if !v.Type().AssignableTo(t) {
		return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), t)
	}
	out := reflect.New(t).Elem()
	out.Set(v)
	return out, nil
}

// destructure splits the host function's results into one component per
// wire result.
func destructure(sig *Signature, results []reflect.Value) ([]reflect.Value, error) {
	if !sig.destructure {
		return results, nil
	}
	seq := results[0]
	if seq.Kind() == reflect.Slice && seq.IsNil() {
		return nil, fmt.Errorf("tuple result is nil, want %d elements", len(sig.results))
	}
	if seq.Len() != len(sig.results) {
		return nil, fmt.Errorf("tuple result has %d elements, want %d", seq.Len(), len(sig.results))
	}
	out := make([]reflect.Value, seq.Len())
	for i := range out {
		out[i] = seq.Index(i)
	}
	return out, nil
}

// releaseOutputs frees guest memory allocated for already encoded results.
func releaseOutputs(mem *Memory, mappings []Mapping, encoded []Value) {
	for i, m := range mappings {
		if !m.Allocates {
			continue
		}
		if off, ok := encoded[i].offset(); ok && off != 0 {
			_ = mem.Free(Handle{Offset: off})
		}
	}
}
