package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/reglet-dev/hostcall/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTracer(t *testing.T) (trace.Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp.Tracer("hostcall-test"), recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestMiddleware(t *testing.T) {
	tracer, recorder := newTracer(t)

	reg := hostfuncs.NewRegistry(hostfuncs.WithMiddleware(Middleware(tracer)))
	var inner trace.SpanContext
	nf := reg.Install(hostfuncs.MustDeclare(func(cc *hostfuncs.CallContext, a, b int64) int64 {
		inner = trace.SpanContextFromContext(cc)
		return a + b
	}, hostfuncs.WithName("add")))

	out := make([]hostfuncs.Value, 1)
	in := []hostfuncs.Value{hostfuncs.ValueI64(2), hostfuncs.ValueI64(3)}
	require.NoError(t, nf.EntryPoint(context.Background(), testutil.NewFakeInstance(), in, out, nf.UserData))
	assert.Equal(t, int64(5), out[0].I64())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "hostfuncs.add", span.Name())
	assert.Equal(t, codes.Unset, span.Status().Code)
	assert.Equal(t, "add", attrs(span)["function"].AsString())
	assert.Equal(t, int64(2), attrs(span)["inputs"].AsInt64())
	assert.Equal(t, span.SpanContext().SpanID(), inner.SpanID())
}

func TestMiddleware_Errors(t *testing.T) {
	tracer, recorder := newTracer(t)
	mw := Middleware(tracer)

	failing := func(*hostfuncs.CallContext, []hostfuncs.Value, []hostfuncs.Value, []any) error {
		return errors.New("denied")
	}
	panicking := func(cc *hostfuncs.CallContext, _ []hostfuncs.Value, _ []hostfuncs.Value, _ []any) error {
		return &hostfuncs.HostFunctionError{Function: cc.FunctionName(), Err: errors.New("boom"), Panic: true}
	}

	for name, fn := range map[string]hostfuncs.Trampoline{"fail": failing, "explode": panicking} {
		cc := hostfuncs.NewCallContext(context.Background(), name, testutil.NewFakeInstance())
		assert.Error(t, mw(fn)(cc, nil, nil, nil))
		assert.Equal(t, context.Background(), cc.Context)
		cc.Release()
	}

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	for _, span := range spans {
		assert.Equal(t, codes.Error, span.Status().Code)
		require.NotEmpty(t, span.Events())
		assert.Equal(t, "exception", span.Events()[0].Name)
		_, panicked := attrs(span)["panic"]
		assert.Equal(t, span.Name() == "hostfuncs.explode", panicked)
	}
}

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tp := NewProvider(logger)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	cc := hostfuncs.NewCallContext(context.Background(), "greet", testutil.NewFakeInstance())
	defer cc.Release()
	ok := func(*hostfuncs.CallContext, []hostfuncs.Value, []hostfuncs.Value, []any) error { return nil }
	require.NoError(t, Middleware(tp.Tracer("test"))(ok)(cc, nil, nil, nil))

	out := buf.String()
	assert.Contains(t, out, "msg=hostfuncs.greet")
	assert.Contains(t, out, "function=greet")
	assert.Contains(t, out, "status=Unset")
	assert.Contains(t, out, "trace_id=")
}
