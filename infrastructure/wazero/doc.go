// Package wazero binds declared host functions to the wazero runtime.
//
// It is the engine side of the hostfuncs boundary. It handles:
//
//   - Converting between wazero's uint64 stack and hostfuncs.Value
//   - Keeping a memory arena at the end of each guest's linear memory
//   - Registering hostfuncs.NativeFunction descriptors as host modules
//   - Exposing a kernel module (alloc, free, input, output, config, log)
//
// # Arena Placement
//
// The arena grows pages at the end of the guest's linear memory, after
// whatever the guest has already claimed. Guests must not treat memory they
// did not grow themselves as heap: an allocator that sets its heap end to
// memory.size after its own memory.grow (as TinyGo's does) would take the
// arena pages. Such guests should route host allocations through the kernel
// alloc function or reserve their heap before calling host functions.
//
// # Basic Usage
//
//	reg := hostfuncs.NewRegistry()
//	fn := reg.Install(hostfuncs.MustDeclare(greet))
//
//	runtime := wazero.NewRuntime(ctx)
//	adapter := hostwazero.NewAdapter(hostwazero.WithLogger(logger))
//	err := adapter.RegisterWithRuntime(ctx, runtime, []hostfuncs.NativeFunction{fn})
//
// # Custom Handlers
//
// Functions that need wazero's raw calling convention can be added to the
// kernel module with WithCustomHandler:
//
//	hostwazero.NewAdapter(hostwazero.WithCustomHandler(hostwazero.CustomHandler{
//	    Name:        "now",
//	    Handler:     nowHandler,
//	    ParamTypes:  []api.ValueType{},
//	    ResultTypes: []api.ValueType{api.ValueTypeI64},
//	}))
package wazero
