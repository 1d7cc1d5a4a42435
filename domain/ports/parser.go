package ports

import "github.com/reglet-dev/hostcall/domain/entities"

// ManifestParser parses raw YAML or JSON bytes into a Manifest.
type ManifestParser interface {
	Parse(data []byte) (*entities.Manifest, error)
}
