// Package host runs wasm plugins against declared host functions.
//
// An Executor owns a wazero runtime with the kernel module and every host
// function of its registry installed. Plugins are loaded from wasm bytes or
// from a manifest and called by export name:
//
//	exec, err := host.NewExecutor(ctx,
//	    host.WithFunctions(hostfuncs.MustDeclare(lookup)),
//	    host.WithConfig(map[string]string{"region": "eu"}),
//	)
//	plugin, err := exec.LoadPlugin(ctx, wasm)
//	out, err := plugin.Call(ctx, "run", []byte("input"))
//
// The guest reads its input with the kernel's input_offset and input_length,
// sets the output with output_set and reports failure with error_set or a
// non-zero return code.
package host
