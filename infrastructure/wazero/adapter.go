package wazero

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// DefaultKernelModule is the import module of the kernel functions.
const DefaultKernelModule = "extism:host/env"

// DefaultMaxMemory is the default cap on arena bytes per guest instance (64 MiB).
const DefaultMaxMemory = 64 << 20

// AdapterConfig holds configuration for the wazero adapter.
type AdapterConfig struct {
	// Logger receives guest log output and host function failures.
	// Default is slog.Default().
	Logger *slog.Logger

	// KernelModule is the import module name of the kernel functions
	// (default: "extism:host/env").
	KernelModule string

	// CustomHandlers are additional wazero functions exported from the
	// kernel module.
	CustomHandlers []CustomHandler

	// MaxMemory limits the bytes the arena may grow each guest memory by.
	MaxMemory uint64
}

// CustomHandler is a raw wazero function added to the kernel module.
type CustomHandler struct {
	// Name is the exported function name.
	Name string

	// Handler is the wazero GoModuleFunc implementation.
	Handler api.GoModuleFunc

	// ParamTypes are the WASM parameter types.
	ParamTypes []api.ValueType

	// ResultTypes are the WASM result types.
	ResultTypes []api.ValueType
}

// AdapterOption configures the adapter.
type AdapterOption func(*AdapterConfig)

// WithKernelModule sets the kernel import module name.
func WithKernelModule(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.KernelModule = name
	}
}

// WithMaxMemory sets the arena limit per guest instance in bytes.
func WithMaxMemory(n uint64) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxMemory = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		c.Logger = l
	}
}

// WithCustomHandler adds a custom wazero handler to the kernel module.
func WithCustomHandler(h CustomHandler) AdapterOption {
	return func(c *AdapterConfig) {
		c.CustomHandlers = append(c.CustomHandlers, h)
	}
}

// defaultAdapterConfig returns the default adapter configuration.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		KernelModule: DefaultKernelModule,
		MaxMemory:    DefaultMaxMemory,
	}
}

// Adapter binds declared host functions to a wazero runtime. It keeps one
// Instance per guest module that calls into the host.
type Adapter struct {
	instances sync.Map // api.Module -> *Instance
	cfg       AdapterConfig
}

// NewAdapter creates an Adapter.
func NewAdapter(opts ...AdapterOption) *Adapter {
	cfg := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{cfg: cfg}
}

// Config returns the adapter configuration.
func (a *Adapter) Config() AdapterConfig {
	return a.cfg
}

// Instance returns the state kept for mod, creating it on first use.
func (a *Adapter) Instance(mod api.Module) *Instance {
	if v, ok := a.instances.Load(mod); ok {
		return v.(*Instance)
	}
	v, _ := a.instances.LoadOrStore(mod, newInstance(mod, a.cfg.MaxMemory))
	return v.(*Instance)
}

// Attach returns the Instance for mod with its arena capped at maxMemory
// bytes.
func (a *Adapter) Attach(mod api.Module, maxMemory uint64) *Instance {
	inst := a.Instance(mod)
	inst.arena.setLimit(maxMemory)
	return inst
}

// Release drops the state kept for mod.
func (a *Adapter) Release(mod api.Module) {
	a.instances.Delete(mod)
}

// RegisterWithRuntime instantiates the kernel module and one host module per
// namespace of functions. Each host function forwards to its descriptor's
// entry point with the calling module's Instance.
//
// Example:
//
//	reg := hostfuncs.NewRegistry()
//	greet := reg.Install(hostfuncs.MustDeclare(greet))
//	adapter := wazero.NewAdapter()
//	err := adapter.RegisterWithRuntime(ctx, runtime, []hostfuncs.NativeFunction{greet})
func (a *Adapter) RegisterWithRuntime(ctx context.Context, runtime wazero.Runtime, functions []hostfuncs.NativeFunction) error {
	builders := map[string]wazero.HostModuleBuilder{}
	exported := map[string]map[string]bool{}
	var order []string

	builderFor := func(ns string) wazero.HostModuleBuilder {
		b, ok := builders[ns]
		if !ok {
			b = runtime.NewHostModuleBuilder(ns)
			builders[ns] = b
			exported[ns] = map[string]bool{}
			order = append(order, ns)
		}
		return b
	}
	export := func(ns, name string) error {
		builderFor(ns)
		if exported[ns][name] {
			return fmt.Errorf("duplicate host function %s.%s", ns, name)
		}
		exported[ns][name] = true
		return nil
	}

	kernel := builderFor(a.cfg.KernelModule)
	for _, kf := range a.kernelFunctions() {
		if err := export(a.cfg.KernelModule, kf.Name); err != nil {
			return err
		}
		kernel.NewFunctionBuilder().
			WithGoModuleFunction(kf.Handler, kf.ParamTypes, kf.ResultTypes).
			Export(kf.Name)
	}
	for _, ch := range a.cfg.CustomHandlers {
		if err := export(a.cfg.KernelModule, ch.Name); err != nil {
			return err
		}
		kernel.NewFunctionBuilder().
			WithGoModuleFunction(ch.Handler, ch.ParamTypes, ch.ResultTypes).
			Export(ch.Name)
	}

	for _, nf := range functions {
		params, err := apiValueTypes(nf.Params)
		if err != nil {
			return fmt.Errorf("%s.%s params: %w", nf.Namespace, nf.Name, err)
		}
		results, err := apiValueTypes(nf.Results)
		if err != nil {
			return fmt.Errorf("%s.%s results: %w", nf.Namespace, nf.Name, err)
		}
		if err := export(nf.Namespace, nf.Name); err != nil {
			return err
		}
		builderFor(nf.Namespace).NewFunctionBuilder().
			WithGoModuleFunction(a.hostFunction(nf), params, results).
			Export(nf.Name)
	}

	for _, ns := range order {
		if _, err := builders[ns].Instantiate(ctx); err != nil {
			return fmt.Errorf("instantiate host module %q: %w", ns, err)
		}
	}
	return nil
}

// hostFunction adapts a native descriptor to wazero's stack calling
// convention. Results reach the stack only when the entry point succeeds;
// a failure panics, which wazero reports as the error of the guest call.
func (a *Adapter) hostFunction(nf hostfuncs.NativeFunction) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		inst := a.Instance(mod)
		inputs := fromStack(nf.Params, stack)
		outputs := make([]hostfuncs.Value, len(nf.Results))
		if err := nf.EntryPoint(ctx, inst, inputs, outputs, nf.UserData); err != nil {
			a.cfg.Logger.ErrorContext(ctx, "wazero: host function failed",
				"function", nf.Name,
				"namespace", nf.Namespace,
				"plugin", pluginName(ctx, mod),
				"error", err)
			panic(err)
		}
		toStack(outputs, stack)
	}
}
