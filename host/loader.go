package host

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apptemplate "github.com/reglet-dev/hostcall/application/template"
	"github.com/reglet-dev/hostcall/application/validation"
	"github.com/reglet-dev/hostcall/domain/entities"
	"github.com/reglet-dev/hostcall/domain/ports"
	"github.com/reglet-dev/hostcall/infrastructure/parser"
	"golang.org/x/sync/errgroup"
)

// MainModule is the source name that marks a manifest's main module.
const MainModule = "main"

// Module is a resolved wasm source.
type Module struct {
	Name string
	// Hash is the hex sha256 of Wasm.
	Hash string
	Wasm []byte
}

// loaderConfig holds configuration for the Loader.
type loaderConfig struct {
	templateEngine  ports.TemplateEngine
	parser          ports.ManifestParser
	validator       ports.ManifestValidator
	readFile        func(string) ([]byte, error)
	baseDir         string
	strictTemplates bool
}

func defaultLoaderConfig() loaderConfig {
	return loaderConfig{
		parser:          parser.NewYamlManifestParser(),
		readFile:        os.ReadFile,
		strictTemplates: true,
	}
}

// Loader turns manifest documents into validated manifests and manifests into
// wasm bytes.
type Loader struct {
	config loaderConfig
}

// LoaderOption configures the Loader.
type LoaderOption func(*loaderConfig)

// WithParser sets a custom manifest parser.
func WithParser(p ports.ManifestParser) LoaderOption {
	return func(c *loaderConfig) {
		c.parser = p
	}
}

// WithTemplateEngine sets a template engine.
func WithTemplateEngine(t ports.TemplateEngine) LoaderOption {
	return func(c *loaderConfig) {
		c.templateEngine = t
	}
}

// WithStrictTemplates enables/disables strict template mode.
// When enabled (default), template rendering fails if a referenced key is missing.
func WithStrictTemplates(enabled bool) LoaderOption {
	return func(c *loaderConfig) {
		c.strictTemplates = enabled
	}
}

// WithValidator sets the manifest validator.
func WithValidator(v ports.ManifestValidator) LoaderOption {
	return func(c *loaderConfig) {
		c.validator = v
	}
}

// WithBaseDir resolves relative wasm paths against dir.
func WithBaseDir(dir string) LoaderOption {
	return func(c *loaderConfig) {
		c.baseDir = dir
	}
}

// WithReadFile replaces os.ReadFile for path sources.
func WithReadFile(fn func(string) ([]byte, error)) LoaderOption {
	return func(c *loaderConfig) {
		c.readFile = fn
	}
}

// NewLoader creates a new Loader with defaults.
func NewLoader(opts ...LoaderOption) (*Loader, error) {
	cfg := defaultLoaderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.templateEngine == nil {
		cfg.templateEngine = apptemplate.NewGoTemplateEngine(
			apptemplate.WithStrict(cfg.strictTemplates),
		)
	}
	if cfg.validator == nil {
		v, err := validation.NewManifestValidator()
		if err != nil {
			return nil, fmt.Errorf("failed to create manifest validator: %w", err)
		}
		cfg.validator = v
	}
	return &Loader{config: cfg}, nil
}

// LoadManifest renders, schema-checks, parses and validates a manifest
// document. vars are visible to the template as {{.vars.name}}.
func (l *Loader) LoadManifest(raw []byte, vars map[string]any) (*entities.Manifest, error) {
	data, err := l.config.templateEngine.Render(raw, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to render manifest: %w", err)
	}

	res, err := l.config.validator.ValidateDocument(data)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}

	manifest, err := l.config.parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := l.Validate(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Validate checks a manifest built in code.
func (l *Loader) Validate(manifest *entities.Manifest) error {
	res, err := l.config.validator.Validate(manifest)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return res.Err()
}

// Resolve reads every wasm source of the manifest, concurrently, and checks
// the declared hashes. Modules keep the manifest order.
func (l *Loader) Resolve(ctx context.Context, manifest *entities.Manifest) ([]Module, error) {
	if err := l.Validate(manifest); err != nil {
		return nil, err
	}

	modules := make([]Module, len(manifest.Wasm))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range manifest.Wasm {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := l.resolve(src)
			if err != nil {
				return fmt.Errorf("wasm[%d]: %w", i, err)
			}
			modules[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return modules, nil
}

func (l *Loader) resolve(src entities.WasmSource) (Module, error) {
	var (
		wasm []byte
		err  error
	)
	switch {
	case src.Data != "":
		wasm, err = base64.StdEncoding.DecodeString(src.Data)
		if err != nil {
			return Module{}, fmt.Errorf("decode inline data: %w", err)
		}
	default:
		path := src.Path
		if !filepath.IsAbs(path) && l.config.baseDir != "" {
			path = filepath.Join(l.config.baseDir, path)
		}
		wasm, err = l.config.readFile(path)
		if err != nil {
			return Module{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	sum := sha256.Sum256(wasm)
	hash := hex.EncodeToString(sum[:])
	if src.Hash != "" && !strings.EqualFold(src.Hash, hash) {
		return Module{}, &HashMismatchError{Source: sourceLabel(src), Want: src.Hash, Got: hash}
	}
	return Module{Name: src.Name, Hash: hash, Wasm: wasm}, nil
}

func sourceLabel(src entities.WasmSource) string {
	switch {
	case src.Name != "":
		return src.Name
	case src.Path != "":
		return src.Path
	default:
		return "inline data"
	}
}

// mainModule returns the index of the module named "main", or of the last
// module when none is.
func mainModule(modules []Module) int {
	for i, m := range modules {
		if m.Name == MainModule {
			return i
		}
	}
	return len(modules) - 1
}
