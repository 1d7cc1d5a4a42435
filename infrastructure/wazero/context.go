package wazero

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

type pluginNameKey struct{}

// WithPluginName tags calls made with ctx with the plugin's name. Guest log
// lines and host function failures during those calls carry it as the
// "plugin" attribute.
func WithPluginName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, pluginNameKey{}, name)
}

// PluginNameFromContext returns the name set with WithPluginName. An empty
// name counts as unset.
func PluginNameFromContext(ctx context.Context) (string, bool) {
	name, _ := ctx.Value(pluginNameKey{}).(string)
	return name, name != ""
}

func pluginName(ctx context.Context, mod api.Module) string {
	if name, ok := PluginNameFromContext(ctx); ok {
		return name
	}
	return mod.Name()
}
