// Package template renders manifest templates with text/template.
package template

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/reglet-dev/hostcall/domain/ports"
)

type templateConfig struct {
	lookupEnv func(string) (string, bool)
	strict    bool
}

func defaultTemplateConfig() templateConfig {
	return templateConfig{
		strict:    true,
		lookupEnv: os.LookupEnv,
	}
}

// TemplateOption configures a GoTemplateEngine.
type TemplateOption func(*templateConfig)

// WithStrict enables/disables strict mode for missing keys.
// When enabled (default), rendering fails if a referenced key or environment
// variable is missing.
func WithStrict(enabled bool) TemplateOption {
	return func(c *templateConfig) {
		c.strict = enabled
	}
}

// WithEnvLookup replaces os.LookupEnv for the env function.
func WithEnvLookup(fn func(string) (string, bool)) TemplateOption {
	return func(c *templateConfig) {
		c.lookupEnv = fn
	}
}

// GoTemplateEngine implements ports.TemplateEngine. Templates see the
// variables as {{.vars.name}} and may call {{env "NAME"}} and
// {{default "x" .vars.maybe}}.
type GoTemplateEngine struct {
	config templateConfig
}

// NewGoTemplateEngine creates a new GoTemplateEngine.
func NewGoTemplateEngine(opts ...TemplateOption) ports.TemplateEngine {
	cfg := defaultTemplateConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GoTemplateEngine{config: cfg}
}

// Render resolves the template in raw.
func (e *GoTemplateEngine) Render(raw []byte, vars map[string]any) ([]byte, error) {
	tmpl := template.New("manifest").Funcs(template.FuncMap{
		"env":     e.env,
		"default": defaultValue,
	})
	if e.config.strict {
		tmpl = tmpl.Option("missingkey=error")
	}

	tmpl, err := tmpl.Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"vars": vars}); err != nil {
		return nil, fmt.Errorf("failed to execute manifest template: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *GoTemplateEngine) env(name string) (string, error) {
	v, ok := e.config.lookupEnv(name)
	if !ok && e.config.strict {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}

func defaultValue(fallback, v any) any {
	if v == nil {
		return fallback
	}
	if s, ok := v.(string); ok && s == "" {
		return fallback
	}
	return v
}
