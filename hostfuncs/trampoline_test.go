package hostfuncs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/reglet-dev/hostcall/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrampoline_Greet(t *testing.T) {
	fake := testutil.NewFakeInstance()
	fn := MustDeclare(greet)

	out, err := callFunction(t, fn, fake, ValueI64(int64(fake.PutString("world"))))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ValueTypeI64, out[0].Type)
	assert.Equal(t, "hello world", string(fake.Bytes(offsetOf(out[0]))))
}

func TestTrampoline_SumDoesNotAllocate(t *testing.T) {
	fake := testutil.NewFakeInstance()
	fn := MustDeclare(sum)
	before := fake.Allocs()

	out, err := callFunction(t, fn, fake, ValueI64(3), ValueI64(4))
	require.NoError(t, err)
	assert.Equal(t, int64(7), out[0].I64())
	assert.Equal(t, before, fake.Allocs())
}

func TestTrampoline_DecodeFailureSkipsHostFunction(t *testing.T) {
	tests := []struct {
		name   string
		input  Value
		target error
	}{
		{name: "offset outside any handle", input: ValueI64(1 << 20), target: testutil.ErrUnknownOffset},
		{name: "null offset", input: ValueI64(0), target: ErrInvalidHandle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeInstance()
			calls := 0
			fn := MustDeclare(func(s string) string {
				calls++
				return s
			}, WithName("echo"))

			out, err := callFunction(t, fn, fake, tt.input)
			decodeErr := testutil.RequireErrorAs[*DecodeError](t, err)
			assert.Equal(t, 0, decodeErr.Slot)
			assert.Equal(t, Text, decodeErr.Kind)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, 0, calls)
			assert.Equal(t, Value{}, out[0])
		})
	}
}

func TestTrampoline_WireTypeMismatch(t *testing.T) {
	fake := testutil.NewFakeInstance()
	fn := MustDeclare(sum)

	_, err := callFunction(t, fn, fake, ValueI64(1), ValueF64(2))
	decodeErr := testutil.RequireErrorAs[*DecodeError](t, err)
	assert.Equal(t, 1, decodeErr.Slot)

	_, err = callFunction(t, fn, fake, ValueI64(1))
	testutil.RequireErrorAs[*DecodeError](t, err)
}

func TestTrampoline_EncodeFailureOnShortTuple(t *testing.T) {
	fake := testutil.NewFakeInstance()
	calls := 0
	fn := MustDeclare(func() []any {
		calls++
		return []any{int64(1)}
	}, WithName("pair"), WithResultKind(Tuple(Integer, Text)))
	require.Equal(t, []ValueType{ValueTypeI64, ValueTypeI64}, fn.Results)

	out, err := callFunction(t, fn, fake)
	testutil.RequireErrorAs[*EncodeError](t, err)
	assert.Equal(t, 1, calls, "host function side effects are not rolled back")
	assert.Equal(t, []Value{{}, {}}, out)
}

func TestTrampoline_EncodeFailureReleasesEarlierResults(t *testing.T) {
	fake := testutil.NewFakeInstance()
	fn := MustDeclare(func() []any {
		return []any{"first", "not an integer"}
	}, WithName("mixed"), WithResultKind(Tuple(Text, Integer)))

	_, err := callFunction(t, fn, fake)
	encodeErr := testutil.RequireErrorAs[*EncodeError](t, err)
	assert.Equal(t, 1, encodeErr.Slot)
	assert.Equal(t, 1, fake.Allocs())
	assert.Equal(t, 1, fake.Frees())
	assert.Equal(t, 0, fake.Live())
}

func TestTrampoline_Tuples(t *testing.T) {
	t.Run("multiple go results", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func() (int64, string) { return 42, "answer" }, WithName("pair"))

		out, err := callFunction(t, fn, fake)
		require.NoError(t, err)
		assert.Equal(t, int64(42), out[0].I64())
		assert.Equal(t, "answer", string(fake.Bytes(offsetOf(out[1]))))
	})

	t.Run("destructured slice", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func() []any { return []any{int64(5), "five"} },
			WithName("pair"), WithResultKind(Tuple(Integer, Text)))

		out, err := callFunction(t, fn, fake)
		require.NoError(t, err)
		assert.Equal(t, int64(5), out[0].I64())
		assert.Equal(t, "five", string(fake.Bytes(offsetOf(out[1]))))
	})

	t.Run("nil slice", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func() []any { return nil },
			WithName("pair"), WithResultKind(Tuple(Integer, Text)))

		_, err := callFunction(t, fn, fake)
		testutil.RequireErrorAs[*EncodeError](t, err)
	})
}

func TestTrampoline_HostFunctionFailures(t *testing.T) {
	t.Run("returned error", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		boom := errors.New("boom")
		fn := MustDeclare(func(s string) (string, error) { return "", boom }, WithName("fail"))

		out, err := callFunction(t, fn, fake, ValueI64(int64(fake.PutString("x"))))
		hostErr := testutil.RequireErrorAs[*HostFunctionError](t, err)
		assert.False(t, hostErr.Panic)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, Value{}, out[0])
	})

	t.Run("nil error", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func(s string) (string, error) { return strings.ToUpper(s), nil }, WithName("upper"))

		out, err := callFunction(t, fn, fake, ValueI64(int64(fake.PutString("abc"))))
		require.NoError(t, err)
		assert.Equal(t, "ABC", string(fake.Bytes(offsetOf(out[0]))))
	})

	t.Run("panic", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func() int64 { panic("kaboom") }, WithName("explode"))

		_, err := callFunction(t, fn, fake)
		hostErr := testutil.RequireErrorAs[*HostFunctionError](t, err)
		assert.True(t, hostErr.Panic)
		assert.ErrorContains(t, err, "kaboom")
	})
}

func TestTrampoline_CallContext(t *testing.T) {
	fake := testutil.NewFakeInstance()
	var captured *CallContext
	fn := MustDeclare(func(cc *CallContext, s string) string {
		captured = cc
		tenant, _ := cc.HostContext().(string)
		return cc.FunctionName() + ":" + tenant + ":" + s
	}, WithName("whoami"))
	require.Equal(t, []ValueType{ValueTypeI64}, fn.Params)
	require.True(t, fn.Signature().UsesContext)

	ctx := WithHostContext(context.Background(), "tenant-1")
	cc := NewCallContext(ctx, fn.Name, fake)
	out := make([]Value, 1)
	err := fn.Trampoline()(cc, []Value{ValueI64(int64(fake.PutString("x")))}, out, nil)
	require.NoError(t, err)
	cc.Release()

	assert.Equal(t, "whoami:tenant-1:x", string(fake.Bytes(offsetOf(out[0]))))
	require.Same(t, cc, captured)
	_, err = captured.Memory().Alloc(1)
	assert.ErrorIs(t, err, ErrContextExpired)
}

func TestTrampoline_ScalarKinds(t *testing.T) {
	fake := testutil.NewFakeInstance()
	fn := MustDeclare(func(x float64, scale float32, enabled bool) bool {
		return enabled && x*float64(scale) > 0
	}, WithName("positive"))
	require.Equal(t, []ValueType{ValueTypeF64, ValueTypeF64, ValueTypeI32}, fn.Params)
	require.Equal(t, []ValueType{ValueTypeI32}, fn.Results)

	out, err := callFunction(t, fn, fake, ValueF64(1.5), ValueF64(2), ValueI32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(1), out[0].I32())

	out, err = callFunction(t, fn, fake, ValueF64(-1.5), ValueF64(2), ValueI32(1))
	require.NoError(t, err)
	assert.Equal(t, int32(0), out[0].I32())
}

func TestTrampoline_ExtraData(t *testing.T) {
	t.Run("only extra data", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func(secret []byte) []byte { return secret },
			WithName("secret"), WithExtraData([]byte("secret")))
		require.Empty(t, fn.Params)

		out, err := callFunction(t, fn, fake)
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), fake.Bytes(offsetOf(out[0])))
	})

	t.Run("variadic", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func(sep string, tags ...string) string {
			return strings.Join(tags, sep)
		}, WithName("join"), WithExtraData("a", "b", "c"))
		require.Equal(t, []ValueType{ValueTypeI64}, fn.Params)

		out, err := callFunction(t, fn, fake, ValueI64(int64(fake.PutString("-"))))
		require.NoError(t, err)
		assert.Equal(t, "a-b-c", string(fake.Bytes(offsetOf(out[0]))))
	})

	t.Run("wrong count at call time", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func(a int64, b int64) int64 { return a * b },
			WithName("scale"), WithExtraData(int64(3)))

		cc := NewCallContext(context.Background(), fn.Name, fake)
		defer cc.Release()
		err := fn.Trampoline()(cc, []Value{ValueI64(2)}, make([]Value, 1), nil)
		testutil.RequireErrorAs[*DecodeError](t, err)
	})
}

func TestRawTrampoline(t *testing.T) {
	params := []ValueType{ValueTypeI32, ValueTypeI32}
	results := []ValueType{ValueTypeI32}

	t.Run("passes values through", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(func(cc *CallContext, in, out []Value, extra ...any) error {
			out[0] = ValueI32(in[0].I32() * in[1].I32() * extra[0].(int32))
			return nil
		}, WithName("mul"), WithWireSignature(params, results), WithExtraData(int32(2)))
		assert.True(t, fn.Raw())
		assert.Nil(t, fn.Signature())

		out, err := callFunction(t, fn, fake, ValueI32(6), ValueI32(7))
		require.NoError(t, err)
		assert.Equal(t, int32(84), out[0].I32())
	})

	t.Run("wrong output type", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(RawFunc(func(cc *CallContext, in, out []Value, extra ...any) error {
			out[0] = ValueI64(1)
			return nil
		}), WithName("bad"), WithWireSignature(params, results))

		out, err := callFunction(t, fn, fake, ValueI32(1), ValueI32(2))
		testutil.RequireErrorAs[*EncodeError](t, err)
		assert.Equal(t, Value{}, out[0])
	})

	t.Run("error", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(RawFunc(func(cc *CallContext, in, out []Value, extra ...any) error {
			out[0] = ValueI32(1)
			return errors.New("refused")
		}), WithName("refuse"), WithWireSignature(params, results))

		out, err := callFunction(t, fn, fake, ValueI32(1), ValueI32(2))
		testutil.RequireErrorAs[*HostFunctionError](t, err)
		assert.Equal(t, Value{}, out[0])
	})

	t.Run("input type mismatch", func(t *testing.T) {
		fake := testutil.NewFakeInstance()
		fn := MustDeclare(RawFunc(func(cc *CallContext, in, out []Value, extra ...any) error {
			return nil
		}), WithName("noop"), WithWireSignature(params, results))

		_, err := callFunction(t, fn, fake, ValueI64(1), ValueI32(2))
		testutil.RequireErrorAs[*DecodeError](t, err)
	})
}

func TestRawTrampoline_AppendingToExtraDataKeepsDispatch(t *testing.T) {
	reg := NewRegistry()
	var seen [][]any
	nf := reg.Install(MustDeclare(RawFunc(func(cc *CallContext, in, out []Value, extra ...any) error {
		extra = append(extra, "tag")
		seen = append(seen, extra)
		return nil
	}), WithName("tagged"), WithWireSignature(nil, nil), WithExtraData("payload")))
	bound := append([]any(nil), nf.UserData...)

	for range 3 {
		require.NoError(t, nf.EntryPoint(context.Background(), testutil.NewFakeInstance(), nil, nil, nf.UserData))
	}
	assert.Equal(t, bound, nf.UserData)
	require.Len(t, seen, 3)
	for _, extra := range seen {
		assert.Equal(t, []any{"payload", "tag"}, extra)
	}
}
