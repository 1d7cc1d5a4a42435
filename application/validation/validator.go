// Package validation checks plugin manifests: struct rules with
// go-playground/validator and whole documents against the manifest JSON
// schema.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/reglet-dev/hostcall/application/schema"
	"github.com/reglet-dev/hostcall/domain/entities"
	"github.com/reglet-dev/hostcall/domain/ports"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const manifestSchemaURL = "manifest.schema.json"

// ManifestValidator implements ports.ManifestValidator.
type ManifestValidator struct {
	validate *validator.Validate
	schema   *jsonschema.Schema
}

var _ ports.ManifestValidator = (*ManifestValidator)(nil)

// NewManifestValidator compiles the manifest JSON schema and prepares the
// struct validator.
func NewManifestValidator() (*ManifestValidator, error) {
	doc, err := schema.GenerateSchema(entities.Manifest{})
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(manifestSchemaURL, bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("failed to add manifest schema: %w", err)
	}
	sch, err := compiler.Compile(manifestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest schema: %w", err)
	}
	return &ManifestValidator{validate: NewStructValidator(), schema: sch}, nil
}

// NewStructValidator returns a validator that reports fields by their json
// names.
func NewStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the manifest's validate tags.
func (v *ManifestValidator) Validate(manifest *entities.Manifest) (*entities.ValidationResult, error) {
	if manifest == nil {
		return nil, errors.New("manifest is nil")
	}
	result := &entities.ValidationResult{Valid: true}
	err := v.validate.Struct(manifest)
	if err == nil {
		return result, nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil, err
	}
	for _, fe := range fieldErrs {
		result.Add(FieldPath(fe), RuleMessage(fe))
	}
	return result, nil
}

// ValidateDocument checks a YAML or JSON document against the manifest schema.
func (v *ManifestValidator) ValidateDocument(data []byte) (*entities.ValidationResult, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest document: %w", err)
	}
	// Round trip through JSON so numbers and maps have the shapes the schema
	// validator expects.
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare validation object: %w", err)
	}
	var obj any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("failed to prepare validation object: %w", err)
	}

	result := &entities.ValidationResult{Valid: true}
	err = v.schema.Validate(obj)
	if err == nil {
		return result, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}
	addLeaves(result, ve)
	return result, nil
}

func addLeaves(result *entities.ValidationResult, ve *jsonschema.ValidationError) {
	if len(ve.Causes) == 0 {
		field := ve.InstanceLocation
		if field == "" {
			field = "/"
		}
		result.Add(field, ve.Message)
		return
	}
	for _, c := range ve.Causes {
		addLeaves(result, c)
	}
}

// FieldPath returns the field's path without the root struct name, e.g.
// "wasm[0].hash".
func FieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// RuleMessage describes the failed rule.
func RuleMessage(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s rule", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed %s rule", fe.Tag())
}
