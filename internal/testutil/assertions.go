// Package testutil provides test doubles, a guest module builder and common
// assertions for the host call tests.
package testutil

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RequireErrorAs asserts that err's chain contains a T and returns it.
func RequireErrorAs[T error](t *testing.T, err error, msgAndArgs ...interface{}) T {
	t.Helper()
	var target T
	require.Error(t, err, msgAndArgs...)
	require.True(t, errors.As(err, &target), "error %q (%T) does not wrap %T", err, err, target)
	return target
}

// RequirePanicsWithErrorAs asserts that f panics with an error whose chain
// contains a T and returns it.
func RequirePanicsWithErrorAs[T error](t *testing.T, f func()) T {
	t.Helper()
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		f()
	}()
	require.NotNil(t, recovered, "function did not panic")
	err, ok := recovered.(error)
	require.True(t, ok, "panic value %v is not an error", recovered)
	return RequireErrorAs[T](t, err)
}

// AssertJSONEqual compares two JSON strings for equality, ignoring formatting
func AssertJSONEqual(t *testing.T, expected, actual string, msgAndArgs ...interface{}) {
	t.Helper()

	var expectedJSON, actualJSON interface{}
	require.NoError(t, json.Unmarshal([]byte(expected), &expectedJSON), "expected JSON is invalid")
	require.NoError(t, json.Unmarshal([]byte(actual), &actualJSON), "actual JSON is invalid")

	assert.Equal(t, expectedJSON, actualJSON, msgAndArgs...)
}
