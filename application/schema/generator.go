// Package schema generates JSON schemas for manifests and host function
// record parameters.
package schema

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Option adjusts the reflector before a schema is generated.
type Option func(*jsonschema.Reflector)

// WithAdditionalProperties allows object keys that have no struct field.
func WithAdditionalProperties(allowed bool) Option {
	return func(r *jsonschema.Reflector) {
		r.AllowAdditionalProperties = allowed
	}
}

// WithReferences keeps named struct types under $defs instead of inlining the
// root type.
func WithReferences() Option {
	return func(r *jsonschema.Reflector) {
		r.ExpandedStruct = false
	}
}

func newReflector(opts []Option) *jsonschema.Reflector {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GenerateSchema creates a JSON schema (Draft 2020-12) from a Go value.
func GenerateSchema(v any, opts ...Option) ([]byte, error) {
	return marshal(newReflector(opts).Reflect(v))
}

// GenerateTypeSchema creates a JSON schema for t, which may be any type
// encoding/json can handle: structs, maps, slices and scalars.
func GenerateTypeSchema(t reflect.Type, opts ...Option) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("failed to generate schema: nil type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r := newReflector(opts)
	if t.Kind() != reflect.Struct {
		// Only named structs are recorded as definitions to expand.
		r.ExpandedStruct = false
	}
	return marshal(r.ReflectFromType(t))
}

func marshal(s *jsonschema.Schema) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}
