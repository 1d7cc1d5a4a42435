package hostfuncs

import (
	"fmt"
	"reflect"
)

// Signature is the wire shape derived from a host function's declared types.
type Signature struct {
	// Params and Results are the wire types in declared order. A leading
	// call context parameter is not part of Params.
	Params  []ValueType
	Results []ValueType

	params  []Mapping
	results []Mapping
	extra   []reflect.Type // parameter types receiving bound extra data

	result Kind // declared result kind, zero when void

	UsesContext bool

	// returnsError is set when the Go function's last result is error.
	returnsError bool
	// destructure is set when a Tuple result is produced by a single Go
	// slice result and must be split at call time.
	destructure bool
	variadic    bool
}

// ParamKinds returns the semantic kind of each wire parameter.
func (s *Signature) ParamKinds() []Kind {
	out := make([]Kind, len(s.params))
	for i, m := range s.params {
		out[i] = m.Kind
	}
	return out
}

// ParamTypes returns the Go type each wire parameter decodes to.
func (s *Signature) ParamTypes() []reflect.Type {
	out := make([]reflect.Type, len(s.params))
	for i, m := range s.params {
		out[i] = m.Type
	}
	return out
}

// ResultKinds returns the semantic kind of each wire result.
func (s *Signature) ResultKinds() []Kind {
	out := make([]Kind, len(s.results))
	for i, m := range s.results {
		out[i] = m.Kind
	}
	return out
}

// ResultTypes returns the Go type each wire result encodes from.
func (s *Signature) ResultTypes() []reflect.Type {
	out := make([]reflect.Type, len(s.results))
	for i, m := range s.results {
		out[i] = m.Type
	}
	return out
}

// ResultKind returns the declared result kind, or the zero Kind for void.
func (s *Signature) ResultKind() Kind {
	return s.result
}

// inference is the input to Infer.
type inference struct {
	fnType     reflect.Type
	name       string
	paramKinds []Kind // nil means derive from Go types
	resultKind Kind   // zero means derive from Go types
	extra      int    // number of bound extra data values
}

// Infer derives the wire signature of a function of type fnType. Explicit
// kinds override derivation from the Go types. extra trailing parameters (or a
// trailing variadic parameter) receive bound extra data and are not wire
// parameters.
func Infer(fnType reflect.Type, paramKinds []Kind, resultKind Kind, extra int) (*Signature, error) {
	return infer(inference{fnType: fnType, paramKinds: paramKinds, resultKind: resultKind, extra: extra})
}

func infer(in inference) (*Signature, error) {
	fail := func(pos, reason string, err error) error {
		return &SignatureInferenceError{Function: in.name, Position: pos, Reason: reason, Err: err}
	}
	if in.fnType == nil || in.fnType.Kind() != reflect.Func {
		return nil, fail("", "host function must be a func", nil)
	}
	t := in.fnType
	sig := &Signature{variadic: t.IsVariadic()}

	// Split Go parameters into wire parameters and bound extra data.
	goParams := make([]reflect.Type, t.NumIn())
	for i := range goParams {
		goParams[i] = t.In(i)
	}
	wireCount := len(goParams)
	switch {
	case sig.variadic:
		wireCount--
		sig.extra = []reflect.Type{goParams[wireCount]}
	case in.extra > 0:
		if in.extra > len(goParams) {
			return nil, fail("", fmt.Sprintf("%d extra data values but only %d parameters", in.extra, len(goParams)), nil)
		}
		wireCount -= in.extra
		sig.extra = goParams[wireCount:]
	}
	goParams = goParams[:wireCount]

	kinds := in.paramKinds
	if kinds != nil && len(kinds) != len(goParams) {
		return nil, fail("params", fmt.Sprintf("%d kinds declared for %d parameters", len(kinds), len(goParams)), nil)
	}
	for i, pt := range goParams {
		pos := fmt.Sprintf("param %d", i)
		var k Kind
		if kinds != nil {
			k = kinds[i]
		} else {
			derived, err := KindOf(pt)
			if err != nil {
				return nil, fail(pos, "", err)
			}
			k = derived
		}
		switch k.tag {
		case kindContext:
			if i != 0 {
				return nil, fail(pos, "call context must be the first parameter", nil)
			}
			if pt != callContextType {
				return nil, fail(pos, "call context parameter must be *CallContext", nil)
			}
			sig.UsesContext = true
			continue
		case kindTuple:
			return nil, fail(pos, "tuple is only legal as a result", nil)
		case kindCodec:
			if k.codec != nil && k.codec.decode == nil {
				return nil, fail(pos, "codec parameter needs a decoder", nil)
			}
		}
		m, err := Resolve(k, pt)
		if err != nil {
			return nil, fail(pos, "", err)
		}
		sig.params = append(sig.params, m)
		sig.Params = append(sig.Params, m.Wire)
	}

	if err := inferResults(sig, t, in.resultKind); err != nil {
		return nil, fail("result", "", err)
	}
	return sig, nil
}

func inferResults(sig *Signature, t reflect.Type, declared Kind) error {
	goResults := make([]reflect.Type, t.NumOut())
	for i := range goResults {
		goResults[i] = t.Out(i)
	}
	if n := len(goResults); n > 0 && goResults[n-1] == errorType {
		sig.returnsError = true
		goResults = goResults[:n-1]
	}

	if declared.IsZero() {
		switch len(goResults) {
		case 0:
			return nil
		case 1:
			k, err := KindOf(goResults[0])
			if err != nil {
				return err
			}
			declared = k
		default:
			elems := make([]Kind, len(goResults))
			for i, rt := range goResults {
				k, err := KindOf(rt)
				if err != nil {
					return err
				}
				elems[i] = k
			}
			declared = Tuple(elems...)
		}
	}
	sig.result = declared

	if !declared.IsTuple() {
		if len(goResults) != 1 {
			return fmt.Errorf("result kind %s needs exactly one Go result, have %d", declared, len(goResults))
		}
		return addResult(sig, declared, goResults[0])
	}

	elems := declared.elems
	switch {
	case len(goResults) == len(elems) && len(elems) != 1:
		for i, e := range elems {
			if err := addResult(sig, e, goResults[i]); err != nil {
				return err
			}
		}
	case len(goResults) == 1 && (goResults[0].Kind() == reflect.Slice || goResults[0].Kind() == reflect.Array):
		// A single sequence result is split into the tuple at call time.
		sig.destructure = true
		for _, e := range elems {
			if err := addResult(sig, e, goResults[0].Elem()); err != nil {
				return err
			}
		}
	case len(goResults) == 1 && len(elems) == 1:
		return addResult(sig, elems[0], goResults[0])
	default:
		return fmt.Errorf("result kind %s does not match %d Go results", declared, len(goResults))
	}
	return nil
}

func addResult(sig *Signature, k Kind, t reflect.Type) error {
	switch k.tag {
	case kindTuple:
		return fmt.Errorf("nested tuple %s", k)
	case kindContext:
		return fmt.Errorf("call context cannot be a result")
	case kindCodec:
		if k.codec != nil && k.codec.encode == nil {
			return fmt.Errorf("codec result needs an encoder")
		}
	}
	m, err := Resolve(k, t)
	if err != nil {
		return err
	}
	sig.results = append(sig.results, m)
	sig.Results = append(sig.Results, m.Wire)
	return nil
}
