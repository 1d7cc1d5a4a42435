package hostfuncs

import (
	"fmt"
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// DefaultNamespace is the import module user host functions are placed in
// when no namespace is given.
const DefaultNamespace = "extism:host/user"

// Function is a declared host function: its import name, its wire signature
// and the trampoline that adapts wire calls to it. A Function is immutable.
type Function struct {
	trampoline Trampoline
	sig        *Signature
	Name       string
	Namespace  string
	Params     []ValueType
	Results    []ValueType
	extra      []any
}

// Signature returns the inferred signature, or nil for a function declared
// with an explicit wire signature.
func (f *Function) Signature() *Signature {
	return f.sig
}

// Raw reports whether f works directly on wire values.
func (f *Function) Raw() bool {
	return f.sig == nil
}

// ExtraData returns a copy of the bound extra data.
func (f *Function) ExtraData() []any {
	out := make([]any, len(f.extra))
	copy(out, f.extra)
	return out
}

// Trampoline returns the adapter that runs f for one wire call.
func (f *Function) Trampoline() Trampoline {
	return f.trampoline
}

type declareConfig struct {
	resultKind  Kind
	name        string
	namespace   string
	extra       []any
	paramKinds  []Kind
	wireParams  []ValueType
	wireResults []ValueType
	wire        bool
}

func defaultDeclareConfig() *declareConfig {
	return &declareConfig{namespace: DefaultNamespace}
}

// DeclareOption configures Declare.
type DeclareOption func(*declareConfig)

// WithName sets the import name. It is required for anonymous functions.
func WithName(name string) DeclareOption {
	return func(c *declareConfig) {
		c.name = name
	}
}

// WithNamespace sets the import module name.
func WithNamespace(ns string) DeclareOption {
	return func(c *declareConfig) {
		c.namespace = ns
	}
}

// WithExtraData binds values passed as trailing arguments on every call.
func WithExtraData(v ...any) DeclareOption {
	return func(c *declareConfig) {
		c.extra = append(c.extra, v...)
	}
}

// WithParamKinds declares the semantic kind of every wire parameter,
// overriding derivation from the Go parameter types.
func WithParamKinds(kinds ...Kind) DeclareOption {
	return func(c *declareConfig) {
		c.paramKinds = append([]Kind{}, kinds...)
	}
}

// WithResultKind declares the result kind, overriding derivation from the Go
// result types.
func WithResultKind(k Kind) DeclareOption {
	return func(c *declareConfig) {
		c.resultKind = k
	}
}

// WithWireSignature skips inference. The function must be a RawFunc and sees
// the wire values unchanged.
func WithWireSignature(params, results []ValueType) DeclareOption {
	return func(c *declareConfig) {
		c.wire = true
		c.wireParams = append([]ValueType{}, params...)
		c.wireResults = append([]ValueType{}, results...)
	}
}

// Declare turns fn into a host function ready for registration. Its wire
// signature is inferred from fn's Go type unless overridden by options.
//
// Example:
//
//	greet, err := hostfuncs.Declare(func(name string) string {
//	    return "hello " + name
//	}, hostfuncs.WithName("greet"))
func Declare(fn any, opts ...DeclareOption) (*Function, error) {
	cfg := defaultDeclareConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if fn == nil {
		return nil, &SignatureInferenceError{Function: cfg.name, Reason: "host function is nil"}
	}
	if cfg.namespace == "" {
		return nil, &SignatureInferenceError{Function: cfg.name, Reason: "namespace cannot be empty"}
	}
	if cfg.wire {
		return declareRaw(fn, cfg)
	}

	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, &SignatureInferenceError{Function: cfg.name, Reason: fmt.Sprintf("host function must be a func, got %T", fn)}
	}
	if v.IsNil() {
		return nil, &SignatureInferenceError{Function: cfg.name, Reason: "host function is nil"}
	}
	name := cfg.name
	if name == "" {
		var ok bool
		if name, ok = funcName(v); !ok {
			return nil, &SignatureInferenceError{Reason: "anonymous host function needs WithName"}
		}
	}

	sig, err := infer(inference{
		fnType:     v.Type(),
		name:       name,
		paramKinds: cfg.paramKinds,
		resultKind: cfg.resultKind,
		extra:      len(cfg.extra),
	})
	if err != nil {
		return nil, err
	}
	if _, err := bindExtra(sig, cfg.extra); err != nil {
		return nil, &SignatureInferenceError{Function: name, Position: "extra data", Err: err}
	}

	return &Function{
		Name:       name,
		Namespace:  cfg.namespace,
		Params:     sig.Params,
		Results:    sig.Results,
		sig:        sig,
		extra:      cfg.extra,
		trampoline: BuildTrampoline(name, sig, v),
	}, nil
}

// MustDeclare is like Declare but panics on error.
func MustDeclare(fn any, opts ...DeclareOption) *Function {
	f, err := Declare(fn, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

func declareRaw(fn any, cfg *declareConfig) (*Function, error) {
	var raw RawFunc
	switch f := fn.(type) {
	case RawFunc:
		raw = f
	case func(*CallContext, []Value, []Value, ...any) error:
		raw = f
	default:
		return nil, &SignatureInferenceError{
			Function: cfg.name,
			Reason:   fmt.Sprintf("explicit wire signature needs a RawFunc, got %T", fn),
		}
	}
	if raw == nil {
		return nil, &SignatureInferenceError{Function: cfg.name, Reason: "host function is nil"}
	}
	name := cfg.name
	if name == "" {
		var ok bool
		if name, ok = funcName(reflect.ValueOf(raw)); !ok {
			return nil, &SignatureInferenceError{Reason: "anonymous host function needs WithName"}
		}
	}
	return &Function{
		Name:       name,
		Namespace:  cfg.namespace,
		Params:     cfg.wireParams,
		Results:    cfg.wireResults,
		extra:      cfg.extra,
		trampoline: BuildRawTrampoline(name, cfg.wireParams, cfg.wireResults, raw),
	}, nil
}

var closureSuffix = regexp.MustCompile(`^func\d+(\.\d+)*$`)

// funcName returns the unqualified name of a named Go function or method value.
func funcName(v reflect.Value) (string, bool) {
	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return "", false
	}
	full := strings.TrimSuffix(rf.Name(), "-fm")
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	parts := strings.Split(full, ".")
	if len(parts) < 2 {
		return "", false
	}
	// Closures are named pkg.Outer.func1 or pkg.Outer.func1.2.
	for i := 1; i < len(parts); i++ {
		if closureSuffix.MatchString(strings.Join(parts[i:], ".")) {
			return "", false
		}
	}
	name := parts[len(parts)-1]
	if name == "" {
		return "", false
	}
	return name, true
}
