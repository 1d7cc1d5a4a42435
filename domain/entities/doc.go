// Package entities holds the plugin manifest model shared by the loader, the
// parser and schema generation.
package entities
