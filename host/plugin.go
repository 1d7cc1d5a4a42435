package host

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/reglet-dev/hostcall/domain/entities"
	"github.com/reglet-dev/hostcall/hostfuncs"
	hostwazero "github.com/reglet-dev/hostcall/infrastructure/wazero"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const pageSize = 65536

type pluginConfig struct {
	loader   *Loader
	config   map[string]string
	name     string
	maxPages uint32
}

// PluginOption configures a plugin at load time.
type PluginOption func(*pluginConfig)

// WithPluginName names the plugin's main module. Names must be unique within
// an executor; by default the plugin ID is used.
func WithPluginName(name string) PluginOption {
	return func(c *pluginConfig) {
		c.name = name
	}
}

// WithPluginConfig adds configuration visible to the guest through
// config_get. It overrides the executor and manifest configuration.
func WithPluginConfig(config map[string]string) PluginOption {
	return func(c *pluginConfig) {
		c.config = config
	}
}

// WithLoader sets the loader LoadManifest resolves sources with.
func WithLoader(l *Loader) PluginOption {
	return func(c *pluginConfig) {
		c.loader = l
	}
}

// PluginInstance is an instantiated plugin. Calls on one instance are
// serialized.
type PluginInstance struct {
	id       uuid.UUID
	executor *Executor
	module   api.Module
	deps     []api.Module
	inst     *hostwazero.Instance
	name     string
	mu       sync.Mutex
	closed   bool
}

// LoadPlugin instantiates wasm as a plugin.
func (e *Executor) LoadPlugin(ctx context.Context, wasm []byte, opts ...PluginOption) (*PluginInstance, error) {
	return e.load(ctx, []Module{{Wasm: wasm}}, nil, opts)
}

// LoadManifest resolves the manifest's sources and instantiates them. Named
// sources other than the main module are instantiated first under their
// names so the main module can import from them.
func (e *Executor) LoadManifest(ctx context.Context, manifest *entities.Manifest, opts ...PluginOption) (*PluginInstance, error) {
	cfg := pluginConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	loader := cfg.loader
	if loader == nil {
		var err error
		if loader, err = NewLoader(); err != nil {
			return nil, err
		}
	}
	modules, err := loader.Resolve(ctx, manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest: %w", err)
	}
	return e.load(ctx, modules, manifest, opts)
}

func (e *Executor) load(ctx context.Context, modules []Module, manifest *entities.Manifest, opts []PluginOption) (*PluginInstance, error) {
	cfg := pluginConfig{}
	config := maps.Clone(e.cfg.Config)
	if manifest != nil {
		cfg.maxPages = manifest.MaxPages()
		config = merge(config, manifest.Config)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	config = merge(config, cfg.config)

	p := &PluginInstance{id: uuid.New(), executor: e, name: cfg.name}
	if p.name == "" {
		p.name = "plugin-" + p.id.String()
	}
	if err := e.track(p); err != nil {
		return nil, err
	}

	mainIdx := mainModule(modules)
	for i, m := range modules {
		if i == mainIdx {
			continue
		}
		if m.Name == "" {
			e.untrack(p)
			p.closeModules(ctx)
			return nil, fmt.Errorf("wasm[%d]: dependency modules need a name", i)
		}
		mod, err := e.instantiate(ctx, m.Wasm, m.Name)
		if err != nil {
			e.untrack(p)
			p.closeModules(ctx)
			return nil, err
		}
		p.deps = append(p.deps, mod)
	}

	mod, err := e.instantiate(ctx, modules[mainIdx].Wasm, p.name)
	if err != nil {
		e.untrack(p)
		p.closeModules(ctx)
		return nil, err
	}
	p.module = mod

	limit := e.cfg.MaxArenaBytes
	if cfg.maxPages > 0 {
		size := uint64(0)
		if mem := mod.Memory(); mem != nil {
			size = uint64(mem.Size())
		}
		ceiling := uint64(cfg.maxPages) * pageSize
		if size > ceiling {
			_ = p.Close(ctx)
			return nil, fmt.Errorf("plugin memory of %d bytes exceeds the manifest limit of %d pages", size, cfg.maxPages)
		}
		limit = min(limit, ceiling-size)
	}
	p.inst = e.adapter.Attach(mod, limit)
	p.inst.SetConfig(config)

	e.logger.DebugContext(ctx, "host: plugin loaded", "plugin", p.name, "id", p.id.String(), "modules", len(modules))
	return p, nil
}

func (e *Executor) instantiate(ctx context.Context, wasm []byte, name string) (api.Module, error) {
	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")
	if e.cfg.WASI {
		modCfg = modCfg.
			WithSysWalltime().
			WithSysNanotime().
			WithRandSource(rand.Reader)
	}
	mod, err := e.runtime.InstantiateWithConfig(ctx, wasm, modCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module %q: %w", name, err)
	}
	return mod, nil
}

func merge(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

// ID returns the plugin's unique identifier.
func (p *PluginInstance) ID() uuid.UUID {
	return p.id
}

// Name returns the name of the plugin's main module.
func (p *PluginInstance) Name() string {
	return p.name
}

// Module returns the plugin's main wazero module.
func (p *PluginInstance) Module() api.Module {
	return p.module
}

// Memory returns a facade over the plugin's arena, for use with CallRaw.
// Call frees every allocation.
func (p *PluginInstance) Memory() *hostfuncs.Memory {
	return hostfuncs.NewMemory(p.inst)
}

// SetConfig replaces the configuration visible to the guest.
func (p *PluginInstance) SetConfig(config map[string]string) {
	p.inst.SetConfig(config)
}

// FunctionExists reports whether the plugin exports a function named name.
func (p *PluginInstance) FunctionExists(name string) bool {
	return p.module.ExportedFunction(name) != nil
}

// Call runs the guest export name with input. The export takes no parameters
// and returns nothing or an i32 status where non-zero means failure. The
// guest reads the input and sets the output through the kernel module.
func (p *PluginInstance) Call(ctx context.Context, name string, input []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn, err := p.export(name)
	if err != nil {
		return nil, err
	}
	def := fn.Definition()
	results := def.ResultTypes()
	if len(def.ParamTypes()) != 0 || len(results) > 1 || (len(results) == 1 && results[0] != api.ValueTypeI32) {
		return nil, fmt.Errorf("plugin function %s has signature %v -> %v, want () -> i32", name, def.ParamTypes(), results)
	}

	p.inst.Reset()
	defer p.inst.Reset()
	if err := p.inst.SetInput(input); err != nil {
		return nil, err
	}

	out, err := fn.Call(hostwazero.WithPluginName(ctx, p.name))
	if err != nil {
		return nil, fmt.Errorf("plugin function %s: %w", name, err)
	}

	var code int32
	if len(out) == 1 {
		code = api.DecodeI32(out[0])
	}
	if guestErr := p.inst.Err(); guestErr != nil || code != 0 {
		pe := &PluginError{Function: name, Code: code}
		if guestErr != nil {
			pe.Message = guestErr.Error()
		}
		return nil, pe
	}
	return bytes.Clone(p.inst.Output()), nil
}

// CallRaw calls the guest export name with raw wasm parameters and returns
// its raw results. The arena and call state are left as they are.
func (p *PluginInstance) CallRaw(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fn, err := p.export(name)
	if err != nil {
		return nil, err
	}
	results, err := fn.Call(hostwazero.WithPluginName(ctx, p.name), params...)
	if err != nil {
		return nil, fmt.Errorf("plugin function %s: %w", name, err)
	}
	return results, nil
}

func (p *PluginInstance) export(name string) (api.Function, error) {
	if p.closed {
		return nil, ErrPluginClosed
	}
	fn := p.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	return fn, nil
}

// Close closes the plugin's modules. It is safe to call twice.
func (p *PluginInstance) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.executor.untrack(p)
	return p.closeModules(ctx)
}

func (p *PluginInstance) closeModules(ctx context.Context) error {
	var errs []error
	if p.module != nil {
		p.executor.adapter.Release(p.module)
		errs = append(errs, p.module.Close(ctx))
	}
	for _, dep := range p.deps {
		p.executor.adapter.Release(dep)
		errs = append(errs, dep.Close(ctx))
	}
	return errors.Join(errs...)
}

// WithHostContext attaches v to ctx for a plugin call. Host functions invoked
// during the call read it with CallContext.HostContext.
func WithHostContext(ctx context.Context, v any) context.Context {
	return hostfuncs.WithHostContext(ctx, v)
}
