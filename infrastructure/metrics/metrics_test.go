package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/reglet-dev/hostcall/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, mw hostfuncs.Middleware, name string, fn hostfuncs.Trampoline) error {
	t.Helper()
	cc := hostfuncs.NewCallContext(context.Background(), name, testutil.NewFakeInstance())
	defer cc.Release()
	return mw(fn)(cc, nil, nil, nil)
}

func TestMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	mw := m.Middleware()

	ok := func(*hostfuncs.CallContext, []hostfuncs.Value, []hostfuncs.Value, []any) error { return nil }
	failing := func(*hostfuncs.CallContext, []hostfuncs.Value, []hostfuncs.Value, []any) error {
		return errors.New("boom")
	}
	panicking := func(cc *hostfuncs.CallContext, _ []hostfuncs.Value, _ []hostfuncs.Value, _ []any) error {
		return &hostfuncs.HostFunctionError{Function: cc.FunctionName(), Err: errors.New("boom"), Panic: true}
	}

	require.NoError(t, call(t, mw, "greet", ok))
	require.NoError(t, call(t, mw, "greet", ok))
	assert.Error(t, call(t, mw, "greet", failing))
	assert.Error(t, call(t, mw, "lookup", panicking))

	assert.Equal(t, 2.0, promtest.ToFloat64(m.calls.WithLabelValues("greet", OutcomeOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.calls.WithLabelValues("greet", OutcomeError)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.calls.WithLabelValues("lookup", OutcomePanic)))
	assert.Equal(t, 2, promtest.CollectAndCount(m.duration))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
}

func TestMiddlewareThroughRegistry(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	reg := hostfuncs.NewRegistry(hostfuncs.WithMiddleware(m.Middleware()))
	nf := reg.Install(hostfuncs.MustDeclare(func(a, b int64) int64 { return a + b }, hostfuncs.WithName("add")))

	out := make([]hostfuncs.Value, 1)
	in := []hostfuncs.Value{hostfuncs.ValueI64(2), hostfuncs.ValueI64(3)}
	require.NoError(t, nf.EntryPoint(context.Background(), testutil.NewFakeInstance(), in, out, nf.UserData))
	assert.Equal(t, int64(5), out[0].I64())
	assert.Equal(t, 1.0, promtest.ToFloat64(m.calls.WithLabelValues("add", OutcomeOK)))
}
