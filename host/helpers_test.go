package host_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/reglet-dev/hostcall/host"
	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/reglet-dev/hostcall/internal/testutil"
	"github.com/stretchr/testify/require"
)

const kernel = "extism:host/env"

var (
	i32s = []byte{testutil.I32}
	i64s = []byte{testutil.I64}
	none = []byte{}
)

func greet(name string) string {
	return "Hello, " + name
}

func whoami(cc *hostfuncs.CallContext) string {
	return fmt.Sprint(cc.HostContext())
}

func reject(name string) (string, error) {
	return "", fmt.Errorf("%s is not allowed", name)
}

// pluginWasm builds a guest whose exports follow the plugin calling
// convention:
//
//	echo      output = input
//	greet     output = host greet(input)
//	whoami    output = host whoami()
//	reject    output = host reject(input)
//	config    output = config_get(input)
//	fail      error_set(input), returns 1
//	code      returns 3 without a message
//	void      no results, sets no output
//	length    kernel length, raw (i64) -> i64
func pluginWasm() []byte {
	b := testutil.NewModuleBuilder()
	inputOffset := b.Import(kernel, "input_offset", none, i64s)
	outputSet := b.Import(kernel, "output_set", i64s, none)
	errorSet := b.Import(kernel, "error_set", i64s, none)
	configGet := b.Import(kernel, "config_get", i64s, i64s)
	hostGreet := b.Import(hostfuncs.DefaultNamespace, "greet", i64s, i64s)
	hostWhoami := b.Import(hostfuncs.DefaultNamespace, "whoami", none, i64s)
	hostReject := b.Import(hostfuncs.DefaultNamespace, "reject", i64s, i64s)

	ok := testutil.I32Const(0)
	return b.
		Function("echo", none, i32s, testutil.Call(inputOffset), testutil.Call(outputSet), ok).
		Function("greet", none, i32s, testutil.Call(inputOffset), testutil.Call(hostGreet), testutil.Call(outputSet), ok).
		Function("whoami", none, i32s, testutil.Call(hostWhoami), testutil.Call(outputSet), ok).
		Function("reject", none, i32s, testutil.Call(inputOffset), testutil.Call(hostReject), testutil.Call(outputSet), ok).
		Function("config", none, i32s, testutil.Call(inputOffset), testutil.Call(configGet), testutil.Call(outputSet), ok).
		Function("fail", none, i32s, testutil.Call(inputOffset), testutil.Call(errorSet), testutil.I32Const(1)).
		Function("code", none, i32s, testutil.I32Const(3)).
		Function("void", none, none).
		Proxy(kernel, "length", i64s, i64s).
		Build()
}

func pluginFunctions() []*hostfuncs.Function {
	return []*hostfuncs.Function{
		hostfuncs.MustDeclare(greet),
		hostfuncs.MustDeclare(whoami),
		hostfuncs.MustDeclare(reject),
	}
}

func newExecutor(t *testing.T, opts ...host.Option) *host.Executor {
	t.Helper()
	ctx := context.Background()
	opts = append([]host.Option{host.WithFunctions(pluginFunctions()...)}, opts...)
	e, err := host.NewExecutor(ctx, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func loadPlugin(t *testing.T, e *host.Executor, opts ...host.PluginOption) *host.PluginInstance {
	t.Helper()
	p, err := e.LoadPlugin(context.Background(), pluginWasm(), opts...)
	require.NoError(t, err)
	return p
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
