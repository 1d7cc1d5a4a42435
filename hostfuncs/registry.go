package hostfuncs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// EntryPoint is the single low-level callback the engine invokes for every
// registered host function. userData is the bound extra data of the function
// being called, with its dispatch index as the last element.
//
// Call failures are returned as errors. A userData without a valid dispatch
// index is a defect and panics with *DispatchIndexError.
type EntryPoint func(ctx context.Context, inst Instance, inputs, outputs []Value, userData []any) error

// NativeFunction is the engine-facing descriptor of an installed host
// function.
type NativeFunction struct {
	EntryPoint EntryPoint
	Name       string
	Namespace  string
	Params     []ValueType
	Results    []ValueType
	UserData   []any
	Index      uint32
}

// dispatchIndex is the registry index appended to a function's bound extra
// data. Its distinct type keeps it from being confused with user values.
type dispatchIndex uint32

type registration struct {
	fn   *Function
	call Trampoline
}

// Registry is an append-only table of host functions addressed by index.
// Appends are serialized; lookups read an immutable snapshot without locking.
type Registry struct {
	table      atomic.Pointer[[]registration]
	middleware []Middleware
	mu         sync.Mutex
}

type registryConfig struct {
	middleware []Middleware
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryConfig)

// WithMiddleware adds middleware applied to every function registered
// afterwards. Middleware executes in FIFO order (first added wraps outermost).
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(c *registryConfig) {
		c.middleware = append(c.middleware, mw...)
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	cfg := &registryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	r := &Registry{middleware: cfg.middleware}
	empty := []registration{}
	r.table.Store(&empty)
	return r
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register appends fn and returns its index. Indices start at zero, grow by
// one per call and are never reused.
func (r *Registry) Register(fn *Function) uint32 {
	call := fn.trampoline
	for i := len(r.middleware) - 1; i >= 0; i-- {
		call = r.middleware[i](call)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.table.Load()
	next := make([]registration, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, registration{fn: fn, call: call})
	r.table.Store(&next)
	return uint32(len(next) - 1)
}

// Install registers fn and returns the descriptor the engine registers it
// with.
func (r *Registry) Install(fn *Function) NativeFunction {
	return r.native(fn, r.Register(fn))
}

// Native returns the descriptor of the function registered at index.
func (r *Registry) Native(index uint32) (NativeFunction, bool) {
	fn, ok := r.Function(index)
	if !ok {
		return NativeFunction{}, false
	}
	return r.native(fn, index), true
}

// Natives returns the descriptors of every registered function in index
// order.
func (r *Registry) Natives() []NativeFunction {
	fns := r.Functions()
	out := make([]NativeFunction, len(fns))
	for i, fn := range fns {
		out[i] = r.native(fn, uint32(i))
	}
	return out
}

func (r *Registry) native(fn *Function, idx uint32) NativeFunction {
	userData := make([]any, 0, len(fn.extra)+1)
	userData = append(userData, fn.extra...)
	userData = append(userData, dispatchIndex(idx))
	return NativeFunction{
		Name:       fn.Name,
		Namespace:  fn.Namespace,
		Params:     fn.Params,
		Results:    fn.Results,
		EntryPoint: r.EntryPoint,
		UserData:   userData,
		Index:      idx,
	}
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return len(*r.table.Load())
}

// Function returns the function registered at index.
func (r *Registry) Function(index uint32) (*Function, bool) {
	table := *r.table.Load()
	if int64(index) >= int64(len(table)) {
		return nil, false
	}
	return table[index].fn, true
}

// Functions returns the registered functions in index order.
func (r *Registry) Functions() []*Function {
	table := *r.table.Load()
	out := make([]*Function, len(table))
	for i, reg := range table {
		out[i] = reg.fn
	}
	return out
}

// DispatchByIndex runs the function registered at index with the given call
// context and extra data. An index outside the table is a *DispatchIndexError.
func (r *Registry) DispatchByIndex(index int64, cc *CallContext, inputs, outputs []Value, extra []any) error {
	table := *r.table.Load()
	if index < 0 || index >= int64(len(table)) {
		return &DispatchIndexError{Index: index, Len: len(table)}
	}
	return table[index].call(cc, inputs, outputs, extra)
}

// EntryPoint is the shared callback for every function installed from r. It
// strips the dispatch index off userData, runs the function with a fresh
// CallContext and expires that context before returning.
func (r *Registry) EntryPoint(ctx context.Context, inst Instance, inputs, outputs []Value, userData []any) error {
	extra, index, err := splitDispatchIndex(userData)
	if err != nil {
		panic(err)
	}
	fn, ok := r.Function(index)
	if !ok {
		panic(&DispatchIndexError{Index: int64(index), Len: r.Len()})
	}

	cc := NewCallContext(ctx, fn.Name, inst)
	defer cc.Release()
	if err := r.DispatchByIndex(int64(index), cc, inputs, outputs, extra); err != nil {
		return fmt.Errorf("%s.%s: %w", fn.Namespace, fn.Name, err)
	}
	return nil
}

func splitDispatchIndex(userData []any) ([]any, uint32, error) {
	if len(userData) == 0 {
		return nil, 0, &DispatchIndexError{Reason: "user data carries no dispatch index"}
	}
	n := len(userData)
	last := userData[n-1]
	idx, ok := last.(dispatchIndex)
	if !ok {
		return nil, 0, &DispatchIndexError{Reason: fmt.Sprintf("user data ends in %T, not a dispatch index", last)}
	}
	// Capped so appends by the host function cannot overwrite the index.
	return userData[: n-1 : n-1], uint32(idx), nil
}
