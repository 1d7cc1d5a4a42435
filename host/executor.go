package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/reglet-dev/hostcall/hostfuncs"
	hostwazero "github.com/reglet-dev/hostcall/infrastructure/wazero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Executor owns a wazero runtime with the host functions and kernel module
// installed, and instantiates plugins into it.
type Executor struct {
	runtime  wazero.Runtime
	adapter  *hostwazero.Adapter
	registry *hostfuncs.Registry
	natives  []hostfuncs.NativeFunction
	logger   *slog.Logger
	cfg      executorConfig
	plugins  map[*PluginInstance]struct{}
	mu       sync.Mutex
	closed   bool
}

// NewExecutor validates the options, builds the runtime and registers every
// host function with it.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = hostfuncs.NewRegistry(hostfuncs.WithMiddleware(cfg.Middleware...))
	}
	for _, fn := range cfg.Functions {
		cfg.Registry.Register(fn)
	}

	rtCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rtCfg = rtCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	e := &Executor{
		runtime:  rt,
		registry: cfg.Registry,
		natives:  cfg.Registry.Natives(),
		logger:   cfg.Logger,
		cfg:      cfg,
		plugins:  make(map[*PluginInstance]struct{}),
		adapter: hostwazero.NewAdapter(
			hostwazero.WithLogger(cfg.Logger),
			hostwazero.WithKernelModule(cfg.KernelModule),
			hostwazero.WithMaxMemory(cfg.MaxArenaBytes),
		),
	}

	if cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}
	if err := e.adapter.RegisterWithRuntime(ctx, rt, e.natives); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	cfg.Logger.DebugContext(ctx, "host: executor ready",
		"functions", len(e.natives),
		"wasi", cfg.WASI,
		"memory_limit_pages", cfg.MemoryLimitPages)
	return e, nil
}

// Registry returns the registry whose functions the executor exposes.
func (e *Executor) Registry() *hostfuncs.Registry {
	return e.registry
}

// Functions returns the descriptors registered with the runtime.
func (e *Executor) Functions() []hostfuncs.NativeFunction {
	return append([]hostfuncs.NativeFunction(nil), e.natives...)
}

// Close closes every plugin and the runtime. It is safe to call twice.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	plugins := make([]*PluginInstance, 0, len(e.plugins))
	for p := range e.plugins {
		plugins = append(plugins, p)
	}
	e.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		errs = append(errs, p.Close(ctx))
	}
	errs = append(errs, e.runtime.Close(ctx))
	return errors.Join(errs...)
}

func (e *Executor) track(p *PluginInstance) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("executor is closed")
	}
	e.plugins[p] = struct{}{}
	return nil
}

func (e *Executor) untrack(p *PluginInstance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.plugins, p)
}
