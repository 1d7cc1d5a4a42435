package hostfuncs

import (
	"context"
	"testing"
)

func greet(name string) string {
	return "hello " + name
}

func sum(a, b int64) int64 {
	return a + b
}

type service struct {
	prefix string
}

func (s *service) Lookup(key string) string {
	return s.prefix + key
}

// callFunction runs fn's trampoline once against inst the way an entry point
// would, returning the output slots.
func callFunction(t *testing.T, fn *Function, inst Instance, inputs ...Value) ([]Value, error) {
	t.Helper()
	cc := NewCallContext(context.Background(), fn.Name, inst)
	defer cc.Release()
	out := make([]Value, len(fn.Results))
	err := fn.Trampoline()(cc, inputs, out, fn.ExtraData())
	return out, err
}

func offsetOf(v Value) uint64 {
	off, _ := v.offset()
	return off
}
