package parser

import (
	"testing"

	"github.com/reglet-dev/hostcall/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_YAML(t *testing.T) {
	m, err := NewYamlManifestParser().Parse([]byte(`
wasm:
  - path: ./plugin.wasm
    hash: 9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08
    name: main
  - data: AGFzbQEAAAA=
config:
  greeting: hello
memory:
  max_pages: 32
`))
	require.NoError(t, err)

	require.Len(t, m.Wasm, 2)
	assert.Equal(t, entities.WasmSource{
		Path: "./plugin.wasm",
		Hash: "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Name: "main",
	}, m.Wasm[0])
	assert.Equal(t, "AGFzbQEAAAA=", m.Wasm[1].Data)
	assert.Equal(t, map[string]string{"greeting": "hello"}, m.Config)
	assert.Equal(t, uint32(32), m.MaxPages())
}

func TestParse_JSON(t *testing.T) {
	m, err := NewYamlManifestParser().Parse([]byte(`{"wasm": [{"path": "a.wasm"}], "config": {"k": "v"}}`))
	require.NoError(t, err)
	assert.Equal(t, "a.wasm", m.Wasm[0].Path)
	assert.Equal(t, "v", m.Config["k"])
	assert.Zero(t, m.MaxPages())
}

func TestParse_UnknownFields(t *testing.T) {
	doc := []byte("wasm: [{path: a.wasm}]\ntimeout: 5s\n")

	_, err := NewYamlManifestParser().Parse(doc)
	assert.ErrorContains(t, err, "timeout")

	m, err := NewYamlManifestParser(WithKnownFields(false)).Parse(doc)
	require.NoError(t, err)
	assert.Len(t, m.Wasm, 1)
}

func TestParse_Errors(t *testing.T) {
	_, err := NewYamlManifestParser().Parse(nil)
	assert.EqualError(t, err, "manifest is empty")

	_, err = NewYamlManifestParser().Parse([]byte("wasm: {path: [}"))
	assert.ErrorContains(t, err, "decode manifest")
}
