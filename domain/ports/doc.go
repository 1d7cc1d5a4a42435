// Package ports defines the interfaces the manifest loader depends on.
// Infrastructure and application packages provide the implementations.
package ports
