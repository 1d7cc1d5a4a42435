package host

import (
	"errors"
	"fmt"
)

var (
	// ErrFunctionNotFound is returned when a plugin has no export of the
	// requested name.
	ErrFunctionNotFound = errors.New("function not found")

	// ErrPluginClosed is returned by calls on a closed plugin.
	ErrPluginClosed = errors.New("plugin is closed")
)

// PluginError is a failure reported by the guest: a non-zero return code,
// a message set with error_set, or both.
type PluginError struct {
	Function string
	Message  string
	Code     int32
}

func (e *PluginError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("plugin function %s failed: %s", e.Function, e.Message)
	}
	return fmt.Sprintf("plugin function %s failed: error code %d", e.Function, e.Code)
}

// HashMismatchError reports wasm bytes whose sha256 differs from the manifest.
type HashMismatchError struct {
	Source string
	Want   string
	Got    string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for %s: manifest has %s, module is %s", e.Source, e.Want, e.Got)
}
