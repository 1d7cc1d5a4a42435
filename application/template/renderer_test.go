package template_test

import (
	"testing"

	"github.com/reglet-dev/hostcall/application/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vars map[string]string) template.TemplateOption {
	return template.WithEnvLookup(func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	})
}

func TestGoTemplateEngine_Render(t *testing.T) {
	engine := template.NewGoTemplateEngine(fakeEnv(map[string]string{"PLUGIN_DIR": "/opt/plugins"}))

	t.Run("Variables", func(t *testing.T) {
		raw := []byte(`config: {greeting: "{{.vars.greeting}}"}`)
		out, err := engine.Render(raw, map[string]any{"greeting": "hi"})
		require.NoError(t, err)
		assert.Equal(t, `config: {greeting: "hi"}`, string(out))
	})

	t.Run("Environment", func(t *testing.T) {
		out, err := engine.Render([]byte(`path: {{env "PLUGIN_DIR"}}/a.wasm`), nil)
		require.NoError(t, err)
		assert.Equal(t, "path: /opt/plugins/a.wasm", string(out))
	})

	t.Run("Default", func(t *testing.T) {
		out, err := engine.Render([]byte(`{{default "8" .vars.pages}}`), map[string]any{"pages": ""})
		require.NoError(t, err)
		assert.Equal(t, "8", string(out))
	})

	t.Run("Missing Key Fails", func(t *testing.T) {
		_, err := engine.Render([]byte(`{{.vars.missing}}`), map[string]any{"name": "x"})
		assert.ErrorContains(t, err, "map has no entry for key")
	})

	t.Run("Missing Env Fails", func(t *testing.T) {
		_, err := engine.Render([]byte(`{{env "HOME_DIR"}}`), nil)
		assert.ErrorContains(t, err, "environment variable HOME_DIR is not set")
	})

	t.Run("Invalid Template Syntax", func(t *testing.T) {
		_, err := engine.Render([]byte(`{{.vars.name`), nil)
		assert.Error(t, err)
	})
}

func TestGoTemplateEngine_Lenient(t *testing.T) {
	engine := template.NewGoTemplateEngine(template.WithStrict(false), fakeEnv(nil))

	out, err := engine.Render([]byte(`[{{env "NOPE"}}]`), nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}
