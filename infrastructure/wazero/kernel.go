package wazero

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/tetratelabs/wazero/api"
)

var (
	i64      = []api.ValueType{api.ValueTypeI64}
	noValues = []api.ValueType{}
)

// kernelFunctions returns the functions of the kernel module. They give the
// guest access to the host arena and to the state of the current plugin call:
//
//	alloc(size i64) i64            reserve arena memory
//	free(offset i64)               release it
//	length(offset i64) i64         length of an allocation, 0 if unknown
//	input_offset() i64             offset of the call input, 0 if none
//	input_length() i64             length of the call input
//	output_set(offset i64)         set the call output
//	error_set(offset i64)          fail the call with the text at offset
//	config_get(key i64) i64        config value for key, 0 if missing
//	log_{debug,info,warn,error}(offset i64)
func (a *Adapter) kernelFunctions() []CustomHandler {
	return []CustomHandler{
		{Name: "alloc", Handler: a.kernelAlloc, ParamTypes: i64, ResultTypes: i64},
		{Name: "free", Handler: a.kernelFree, ParamTypes: i64, ResultTypes: noValues},
		{Name: "length", Handler: a.kernelLength, ParamTypes: i64, ResultTypes: i64},
		{Name: "input_offset", Handler: a.kernelInputOffset, ParamTypes: noValues, ResultTypes: i64},
		{Name: "input_length", Handler: a.kernelInputLength, ParamTypes: noValues, ResultTypes: i64},
		{Name: "output_set", Handler: a.kernelOutputSet, ParamTypes: i64, ResultTypes: noValues},
		{Name: "error_set", Handler: a.kernelErrorSet, ParamTypes: i64, ResultTypes: noValues},
		{Name: "config_get", Handler: a.kernelConfigGet, ParamTypes: i64, ResultTypes: i64},
		{Name: "log_debug", Handler: a.kernelLog(slog.LevelDebug), ParamTypes: i64, ResultTypes: noValues},
		{Name: "log_info", Handler: a.kernelLog(slog.LevelInfo), ParamTypes: i64, ResultTypes: noValues},
		{Name: "log_warn", Handler: a.kernelLog(slog.LevelWarn), ParamTypes: i64, ResultTypes: noValues},
		{Name: "log_error", Handler: a.kernelLog(slog.LevelError), ParamTypes: i64, ResultTypes: noValues},
	}
}

// kernelFail aborts the guest call with err.
func (a *Adapter) kernelFail(ctx context.Context, mod api.Module, fn string, err error) {
	err = fmt.Errorf("%s.%s: %w", a.cfg.KernelModule, fn, err)
	a.cfg.Logger.ErrorContext(ctx, "wazero: kernel call failed", "plugin", pluginName(ctx, mod), "error", err)
	panic(err)
}

func (a *Adapter) kernelAlloc(ctx context.Context, mod api.Module, stack []uint64) {
	offset, err := a.Instance(mod).MemoryAlloc(stack[0])
	if err != nil {
		a.kernelFail(ctx, mod, "alloc", err)
	}
	stack[0] = offset
}

func (a *Adapter) kernelFree(ctx context.Context, mod api.Module, stack []uint64) {
	if err := a.Instance(mod).MemoryFree(stack[0]); err != nil {
		a.kernelFail(ctx, mod, "free", err)
	}
}

func (a *Adapter) kernelLength(_ context.Context, mod api.Module, stack []uint64) {
	n, err := a.Instance(mod).MemoryLength(stack[0])
	if err != nil {
		n = 0
	}
	stack[0] = n
}

func (a *Adapter) kernelInputOffset(_ context.Context, mod api.Module, stack []uint64) {
	h, _ := a.Instance(mod).Input()
	stack[0] = h.Offset
}

func (a *Adapter) kernelInputLength(_ context.Context, mod api.Module, stack []uint64) {
	h, _ := a.Instance(mod).Input()
	stack[0] = h.Length
}

func (a *Adapter) kernelOutputSet(ctx context.Context, mod api.Module, stack []uint64) {
	if err := a.Instance(mod).setOutput(stack[0]); err != nil {
		a.kernelFail(ctx, mod, "output_set", err)
	}
}

func (a *Adapter) kernelErrorSet(ctx context.Context, mod api.Module, stack []uint64) {
	if err := a.Instance(mod).setError(stack[0]); err != nil {
		a.kernelFail(ctx, mod, "error_set", err)
	}
}

func (a *Adapter) kernelConfigGet(ctx context.Context, mod api.Module, stack []uint64) {
	inst := a.Instance(mod)
	mem := hostfuncs.NewMemory(inst)
	key, err := mem.ReadString(stack[0])
	if err != nil {
		a.kernelFail(ctx, mod, "config_get", err)
	}
	value, ok := inst.ConfigValue(key)
	if !ok {
		stack[0] = 0
		return
	}
	h, err := mem.AllocBytes([]byte(value))
	if err != nil {
		a.kernelFail(ctx, mod, "config_get", err)
	}
	stack[0] = h.Offset
}

func (a *Adapter) kernelLog(level slog.Level) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		msg, err := hostfuncs.NewMemory(a.Instance(mod)).ReadString(stack[0])
		if err != nil {
			a.kernelFail(ctx, mod, "log", err)
		}
		a.cfg.Logger.Log(ctx, level, msg, "plugin", pluginName(ctx, mod))
	}
}
