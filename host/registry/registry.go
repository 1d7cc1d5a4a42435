// Package registry describes declared host functions: names, wire types,
// semantic kinds and the JSON schema of record parameters.
package registry

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/reglet-dev/hostcall/application/schema"
	"github.com/reglet-dev/hostcall/hostfuncs"
)

// ValueInfo describes one wire parameter or result.
type ValueInfo struct {
	Kind   string          `json:"kind"`
	Wire   string          `json:"wire"`
	GoType string          `json:"go_type,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// FunctionInfo describes a host function.
type FunctionInfo struct {
	Name      string      `json:"name"`
	Namespace string      `json:"namespace"`
	Params    []ValueInfo `json:"params"`
	Results   []ValueInfo `json:"results"`
	Index     uint32      `json:"index"`
	Raw       bool        `json:"raw,omitempty"`
}

// catalogConfig holds configuration for the Catalog.
type catalogConfig struct {
	schemas bool
}

func defaultCatalogConfig() catalogConfig {
	return catalogConfig{
		schemas: true,
	}
}

// CatalogOption configures a Catalog.
type CatalogOption func(*catalogConfig)

// WithSchemas enables/disables JSON schemas for record values (default true).
func WithSchemas(enabled bool) CatalogOption {
	return func(c *catalogConfig) {
		c.schemas = enabled
	}
}

// Catalog builds FunctionInfo descriptions. Schemas are cached per Go type.
type Catalog struct {
	config  catalogConfig
	schemas sync.Map // reflect.Type -> []byte
}

// NewCatalog creates a Catalog with the given options.
func NewCatalog(opts ...CatalogOption) *Catalog {
	cfg := defaultCatalogConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Catalog{config: cfg}
}

// Describe describes a single function. index is reported as given.
func (c *Catalog) Describe(fn *hostfuncs.Function, index uint32) (FunctionInfo, error) {
	info := FunctionInfo{
		Name:      fn.Name,
		Namespace: fn.Namespace,
		Index:     index,
		Raw:       fn.Raw(),
	}
	sig := fn.Signature()
	if sig == nil {
		info.Params = rawValues(fn.Params)
		info.Results = rawValues(fn.Results)
		return info, nil
	}

	var err error
	if info.Params, err = c.values(sig.Params, sig.ParamKinds(), sig.ParamTypes()); err != nil {
		return FunctionInfo{}, fmt.Errorf("describe %s: %w", fn.Name, err)
	}
	if info.Results, err = c.values(sig.Results, sig.ResultKinds(), sig.ResultTypes()); err != nil {
		return FunctionInfo{}, fmt.Errorf("describe %s: %w", fn.Name, err)
	}
	return info, nil
}

// List describes every function of reg in index order.
func (c *Catalog) List(reg *hostfuncs.Registry) ([]FunctionInfo, error) {
	fns := reg.Functions()
	out := make([]FunctionInfo, 0, len(fns))
	for i, fn := range fns {
		info, err := c.Describe(fn, uint32(i))
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Namespaces returns the sorted namespaces used by reg's functions.
func Namespaces(reg *hostfuncs.Registry) []string {
	seen := map[string]bool{}
	var out []string
	for _, fn := range reg.Functions() {
		if !seen[fn.Namespace] {
			seen[fn.Namespace] = true
			out = append(out, fn.Namespace)
		}
	}
	sort.Strings(out)
	return out
}

// JSON renders List as indented JSON.
func (c *Catalog) JSON(reg *hostfuncs.Registry) ([]byte, error) {
	infos, err := c.List(reg)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(infos, "", "  ")
}

// Schema returns the JSON schema of t, generating it once.
func (c *Catalog) Schema(t reflect.Type) ([]byte, error) {
	if v, ok := c.schemas.Load(t); ok {
		return v.([]byte), nil
	}
	data, err := schema.GenerateTypeSchema(t)
	if err != nil {
		return nil, err
	}
	v, _ := c.schemas.LoadOrStore(t, data)
	return v.([]byte), nil
}

func (c *Catalog) values(wire []hostfuncs.ValueType, kinds []hostfuncs.Kind, types []reflect.Type) ([]ValueInfo, error) {
	out := make([]ValueInfo, len(wire))
	for i := range wire {
		out[i] = ValueInfo{
			Kind:   kinds[i].String(),
			Wire:   wire[i].String(),
			GoType: types[i].String(),
		}
		if c.config.schemas && kinds[i].Is(hostfuncs.Record) {
			s, err := c.Schema(types[i])
			if err != nil {
				return nil, err
			}
			out[i].Schema = s
		}
	}
	return out, nil
}

func rawValues(wire []hostfuncs.ValueType) []ValueInfo {
	out := make([]ValueInfo, len(wire))
	for i, w := range wire {
		out[i] = ValueInfo{Kind: "Raw", Wire: w.String()}
	}
	return out
}
