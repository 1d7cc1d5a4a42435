package host

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/reglet-dev/hostcall/application/validation"
	"github.com/reglet-dev/hostcall/hostfuncs"
	hostwazero "github.com/reglet-dev/hostcall/infrastructure/wazero"
)

// executorConfig holds the Executor settings. Exported fields carry
// validation rules checked by NewExecutor.
type executorConfig struct {
	Logger           *slog.Logger
	Registry         *hostfuncs.Registry
	Config           map[string]string
	KernelModule     string `validate:"required"`
	Functions        []*hostfuncs.Function `validate:"dive,required"`
	Middleware       []hostfuncs.Middleware `validate:"dive,required"`
	MaxArenaBytes    uint64 `validate:"gt=0"`
	MemoryLimitPages uint32 `validate:"lte=65536"`
	WASI             bool
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		KernelModule:  hostwazero.DefaultKernelModule,
		MaxArenaBytes: hostwazero.DefaultMaxMemory,
	}
}

// Option configures an Executor.
type Option func(*executorConfig)

// WithFunctions declares host functions to expose to every plugin. They are
// registered with the executor's registry.
func WithFunctions(fns ...*hostfuncs.Function) Option {
	return func(c *executorConfig) {
		c.Functions = append(c.Functions, fns...)
	}
}

// WithRegistry makes the executor expose every function of r, including
// those added by WithFunctions. By default the executor uses a private
// registry.
func WithRegistry(r *hostfuncs.Registry) Option {
	return func(c *executorConfig) {
		c.Registry = r
	}
}

// WithMiddleware wraps the functions of the executor's private registry.
// It cannot be combined with WithRegistry.
func WithMiddleware(mw ...hostfuncs.Middleware) Option {
	return func(c *executorConfig) {
		c.Middleware = append(c.Middleware, mw...)
	}
}

// WithWASI enables WASI preview 1 for plugins.
func WithWASI(enabled bool) Option {
	return func(c *executorConfig) {
		c.WASI = enabled
	}
}

// WithConfig sets the default key/value configuration visible to plugins.
func WithConfig(config map[string]string) Option {
	return func(c *executorConfig) {
		c.Config = config
	}
}

// WithMemoryLimitPages caps every guest memory at n 64 KiB pages.
// Zero keeps wazero's default of 65536 pages.
func WithMemoryLimitPages(n uint32) Option {
	return func(c *executorConfig) {
		c.MemoryLimitPages = n
	}
}

// WithMaxArenaBytes caps the memory the host arena may add to each guest.
func WithMaxArenaBytes(n uint64) Option {
	return func(c *executorConfig) {
		c.MaxArenaBytes = n
	}
}

// WithKernelModule sets the import module name of the kernel functions.
func WithKernelModule(name string) Option {
	return func(c *executorConfig) {
		c.KernelModule = name
	}
}

// WithLogger sets the logger for guest log output and host function failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *executorConfig) {
		c.Logger = l
	}
}

var configValidator = validation.NewStructValidator()

func (c *executorConfig) validate() error {
	if c.Registry != nil && len(c.Middleware) > 0 {
		return errors.New("invalid executor config: WithMiddleware cannot be combined with WithRegistry")
	}
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid executor config: %w", err)
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = validation.FieldPath(fe) + ": " + validation.RuleMessage(fe)
	}
	return fmt.Errorf("invalid executor config: %s", strings.Join(msgs, "; "))
}
