// Package parser decodes plugin manifests.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/reglet-dev/hostcall/domain/entities"
	"github.com/reglet-dev/hostcall/domain/ports"
	"gopkg.in/yaml.v3"
)

// YamlManifestParser implements ManifestParser for YAML. JSON documents are
// accepted too since JSON is a subset of YAML.
type YamlManifestParser struct {
	strict bool
}

// ParserOption configures a YamlManifestParser.
type ParserOption func(*YamlManifestParser)

// WithKnownFields makes unknown manifest keys an error (default true).
func WithKnownFields(enabled bool) ParserOption {
	return func(p *YamlManifestParser) {
		p.strict = enabled
	}
}

// NewYamlManifestParser creates a new YamlManifestParser.
func NewYamlManifestParser(opts ...ParserOption) ports.ManifestParser {
	p := &YamlManifestParser{strict: true}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes a single YAML or JSON document into a Manifest.
func (p *YamlManifestParser) Parse(data []byte) (*entities.Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(p.strict)

	var manifest entities.Manifest
	if err := dec.Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}
