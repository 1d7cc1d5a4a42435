package wazero

import (
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/tetratelabs/wazero/api"
)

// Instance is the host-side state of one guest module instance: its memory
// arena plus the input, output, error and configuration of the current plugin
// call. It implements hostfuncs.Instance.
type Instance struct {
	arena    *arena
	mod      api.Module
	config   map[string]string
	output   []byte
	errMsg   string
	input    hostfuncs.Handle
	hasInput bool
	hasError bool
	mu       sync.Mutex
}

var _ hostfuncs.Instance = (*Instance)(nil)

func newInstance(mod api.Module, limit uint64) *Instance {
	return &Instance{
		mod:   mod,
		arena: newArena(mod.Memory(), limit),
	}
}

// Module returns the guest module.
func (i *Instance) Module() api.Module {
	return i.mod
}

func (i *Instance) MemoryAlloc(size uint64) (uint64, error) {
	return i.arena.alloc(size)
}

func (i *Instance) MemoryFree(offset uint64) error {
	return i.arena.release(offset)
}

func (i *Instance) MemoryLength(offset uint64) (uint64, error) {
	return i.arena.length(offset)
}

func (i *Instance) MemoryRead(offset, length uint64) ([]byte, bool) {
	return i.arena.read(offset, length)
}

// SetConfig replaces the key/value configuration visible to the guest.
func (i *Instance) SetConfig(config map[string]string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.config = maps.Clone(config)
}

// ConfigValue returns a configuration value.
func (i *Instance) ConfigValue(key string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.config[key]
	return v, ok
}

// SetInput copies data into the arena as the input of the next call.
func (i *Instance) SetInput(data []byte) error {
	mem := hostfuncs.NewMemory(i)
	h, err := mem.AllocBytes(data)
	if err != nil {
		return fmt.Errorf("write plugin input: %w", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.input = h
	i.hasInput = true
	return nil
}

// Input returns the handle of the current input.
func (i *Instance) Input() (hostfuncs.Handle, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.input, i.hasInput
}

// setOutput records a copy of the arena bytes at offset as the call output.
func (i *Instance) setOutput(offset uint64) error {
	data, err := i.copyOut(offset)
	if err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.output = data
	return nil
}

// setError records the text at offset as the call's error message.
func (i *Instance) setError(offset uint64) error {
	data, err := i.copyOut(offset)
	if err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.errMsg = string(data)
	i.hasError = true
	return nil
}

func (i *Instance) copyOut(offset uint64) ([]byte, error) {
	mem := hostfuncs.NewMemory(i)
	h, err := mem.Resolve(offset)
	if err != nil {
		return nil, err
	}
	return mem.ReadBytes(h)
}

// Output returns the bytes the guest set with output_set, or nil.
func (i *Instance) Output() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.output
}

// Err returns the error the guest reported with error_set.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.hasError {
		return nil
	}
	return errors.New(i.errMsg)
}

// Reset clears the call state and frees every arena allocation.
func (i *Instance) Reset() {
	i.arena.reset()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.input = hostfuncs.Handle{}
	i.hasInput = false
	i.output = nil
	i.errMsg = ""
	i.hasError = false
}
