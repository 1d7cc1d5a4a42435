package wazero

import (
	"fmt"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/tetratelabs/wazero/api"
)

// apiValueTypes converts wire types to wazero value types. wazero host
// functions only take numeric and externref values.
func apiValueTypes(types []hostfuncs.ValueType) ([]api.ValueType, error) {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		switch t {
		case hostfuncs.ValueTypeI32:
			out[i] = api.ValueTypeI32
		case hostfuncs.ValueTypeI64:
			out[i] = api.ValueTypeI64
		case hostfuncs.ValueTypeF32:
			out[i] = api.ValueTypeF32
		case hostfuncs.ValueTypeF64:
			out[i] = api.ValueTypeF64
		case hostfuncs.ValueTypeExternRef:
			out[i] = api.ValueTypeExternref
		default:
			return nil, fmt.Errorf("value type %s is not supported by wazero host functions", t)
		}
	}
	return out, nil
}

// fromStack reads the inputs of a host call. The stack uses the same raw
// encoding as hostfuncs.Value.
func fromStack(types []hostfuncs.ValueType, stack []uint64) []hostfuncs.Value {
	out := make([]hostfuncs.Value, len(types))
	for i, t := range types {
		out[i] = hostfuncs.ValueFromRaw(t, stack[i])
	}
	return out
}

// toStack writes results back over the stack.
func toStack(values []hostfuncs.Value, stack []uint64) {
	for i, v := range values {
		stack[i] = v.Raw()
	}
}
