package entities

// MaxMemoryPages is the number of 64 KiB pages addressable by a 32-bit guest.
const MaxMemoryPages = 65536

// Manifest describes a plugin: where its wasm comes from, the configuration
// visible to the guest and memory limits.
type Manifest struct {
	Memory *MemoryOptions    `json:"memory,omitempty" yaml:"memory,omitempty"`
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
	Wasm   []WasmSource      `json:"wasm" yaml:"wasm" validate:"required,min=1,dive"`
}

// WasmSource is one wasm module of a manifest, read from a file path or
// given inline as base64 data. The source named "main", or the last source
// when none is, is the plugin's main module.
type WasmSource struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" validate:"required_without=Data,excluded_with=Data"`
	Data string `json:"data,omitempty" yaml:"data,omitempty" validate:"required_without=Path,omitempty,base64"`
	// Hash is the hex sha256 of the module bytes.
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// MemoryOptions bounds guest memory.
type MemoryOptions struct {
	// MaxPages bounds the guest's memory at load time plus the pages the
	// host arena may add, in 64 KiB pages. Growth by the guest itself is
	// only capped by the executor's memory limit. Zero means no bound.
	MaxPages uint32 `json:"max_pages,omitempty" yaml:"max_pages,omitempty" validate:"lte=65536"`
}

// MaxPages returns the manifest's memory page limit, or 0 when unset.
func (m *Manifest) MaxPages() uint32 {
	if m.Memory == nil {
		return 0
	}
	return m.Memory.MaxPages
}
