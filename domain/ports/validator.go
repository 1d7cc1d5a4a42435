package ports

import "github.com/reglet-dev/hostcall/domain/entities"

// ManifestValidator checks a parsed manifest and the document it came from.
type ManifestValidator interface {
	// Validate checks the manifest's field rules.
	Validate(manifest *entities.Manifest) (*entities.ValidationResult, error)

	// ValidateDocument checks a raw YAML or JSON document against the
	// manifest JSON schema.
	ValidateDocument(data []byte) (*entities.ValidationResult, error)
}
