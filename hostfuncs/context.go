package hostfuncs

import (
	"context"
	"sync"
	"sync/atomic"
)

// CallContext is the per-invocation handle a host function receives when its
// first parameter is *CallContext. It wraps the context of the guest call and
// gives access to the calling instance's memory.
//
// A CallContext is only valid for the boundary invocation that created it.
// Once that invocation returns, Memory operations fail with ErrContextExpired.
type CallContext struct {
	context.Context
	mem      *Memory
	values   map[any]any
	funcName string
	mu       sync.Mutex
	released atomic.Bool
}

// NewCallContext returns a CallContext for one invocation of funcName on inst.
func NewCallContext(ctx context.Context, funcName string, inst Instance) *CallContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CallContext{
		Context:  ctx,
		funcName: funcName,
		mem:      NewMemory(inst),
	}
}

// FunctionName returns the name of the host function being invoked.
func (c *CallContext) FunctionName() string {
	return c.funcName
}

// Memory returns the memory facade of the calling guest instance.
func (c *CallContext) Memory() *Memory {
	return c.mem
}

// HostContext returns the value attached with WithHostContext to the context
// of the guest call, or nil.
func (c *CallContext) HostContext() any {
	v, _ := HostContextValue(c.Context)
	return v
}

// SetValue stores a request-scoped value, typically from middleware.
func (c *CallContext) SetValue(key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = value
}

// GetValue retrieves a value stored with SetValue.
func (c *CallContext) GetValue(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Expired reports whether the invocation that owns c has returned.
func (c *CallContext) Expired() bool {
	return c.released.Load()
}

// Release ends the context's validity. It is called by the entry point when
// the invocation returns and is safe to call more than once.
func (c *CallContext) Release() {
	if c.released.Swap(true) {
		return
	}
	c.mem.expire()
}

type hostContextKey struct{}

// WithHostContext attaches a host-side value to ctx. Host functions called
// during a guest call made with the returned context see it through
// CallContext.HostContext.
func WithHostContext(ctx context.Context, v any) context.Context {
	return context.WithValue(ctx, hostContextKey{}, v)
}

// HostContextValue returns the value attached with WithHostContext.
func HostContextValue(ctx context.Context) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	v := ctx.Value(hostContextKey{})
	return v, v != nil
}
