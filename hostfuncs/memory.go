package hostfuncs

import (
	"fmt"
	"sync/atomic"
)

// Instance is the set of memory primitives the guest VM engine exposes for a
// single guest instance. The engine owns the backing memory; offsets are
// allocation offsets in the guest's linear memory.
type Instance interface {
	// MemoryAlloc reserves size bytes and returns their offset.
	MemoryAlloc(size uint64) (uint64, error)

	// MemoryFree releases the allocation starting at offset.
	MemoryFree(offset uint64) error

	// MemoryLength returns the live length of the allocation starting at offset.
	MemoryLength(offset uint64) (uint64, error)

	// MemoryRead returns a view of length bytes at offset. The view aliases
	// guest memory and is only valid until the guest next runs.
	MemoryRead(offset, length uint64) ([]byte, bool)
}

// Handle is an offset+length reference into guest memory.
type Handle struct {
	Offset uint64
	Length uint64
}

// Memory is a scoped view over one guest instance's linear memory. A Memory
// is created per boundary invocation and stops working once that invocation
// returns.
type Memory struct {
	inst    Instance
	expired atomic.Bool
}

// NewMemory returns a Memory facade over inst.
func NewMemory(inst Instance) *Memory {
	return &Memory{inst: inst}
}

// Alloc reserves size bytes of guest memory. A zero size is legal and yields
// a zero-length handle.
func (m *Memory) Alloc(size uint64) (Handle, error) {
	if err := m.check("alloc", 0); err != nil {
		return Handle{}, err
	}
	offset, err := m.inst.MemoryAlloc(size)
	if err != nil {
		return Handle{}, &MemoryError{Op: "alloc", Length: size, Err: err}
	}
	return Handle{Offset: offset, Length: size}, nil
}

// Free releases h. Freeing an unknown or already freed handle is a MemoryError.
func (m *Memory) Free(h Handle) error {
	if err := m.check("free", h.Offset); err != nil {
		return err
	}
	if err := m.inst.MemoryFree(h.Offset); err != nil {
		return &MemoryError{Op: "free", Offset: h.Offset, Err: err}
	}
	return nil
}

// Resolve returns the handle for an offset produced by Alloc or by the
// guest's own allocations.
func (m *Memory) Resolve(offset uint64) (Handle, error) {
	if err := m.check("resolve", offset); err != nil {
		return Handle{}, err
	}
	if offset == 0 {
		return Handle{}, &MemoryError{Op: "resolve", Offset: offset, Err: ErrInvalidHandle}
	}
	length, err := m.inst.MemoryLength(offset)
	if err != nil {
		return Handle{}, &MemoryError{Op: "resolve", Offset: offset, Err: err}
	}
	return Handle{Offset: offset, Length: length}, nil
}

// Read returns a view of the bytes behind h. The view aliases guest memory
// and must not be retained past the current call.
func (m *Memory) Read(h Handle) ([]byte, error) {
	if err := m.check("read", h.Offset); err != nil {
		return nil, err
	}
	if h.Length == 0 {
		return []byte{}, nil
	}
	buf, ok := m.inst.MemoryRead(h.Offset, h.Length)
	if !ok {
		return nil, &MemoryError{Op: "read", Offset: h.Offset, Length: h.Length, Err: ErrOutOfBounds}
	}
	return buf, nil
}

// ReadBytes returns a copy of the bytes behind h.
func (m *Memory) ReadBytes(h Handle) ([]byte, error) {
	view, err := m.Read(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// ReadString resolves offset and returns its contents as a string.
func (m *Memory) ReadString(offset uint64) (string, error) {
	h, err := m.Resolve(offset)
	if err != nil {
		return "", err
	}
	view, err := m.Read(h)
	if err != nil {
		return "", err
	}
	return string(view), nil
}

// Write copies data into h. data must fit within the handle.
func (m *Memory) Write(h Handle, data []byte) error {
	if err := m.check("write", h.Offset); err != nil {
		return err
	}
	if uint64(len(data)) > h.Length {
		return &MemoryError{
			Op:     "write",
			Offset: h.Offset,
			Length: h.Length,
			Err:    fmt.Errorf("%w: %d bytes into %d byte handle", ErrOutOfBounds, len(data), h.Length),
		}
	}
	if len(data) == 0 {
		return nil
	}
	view, ok := m.inst.MemoryRead(h.Offset, uint64(len(data)))
	if !ok {
		return &MemoryError{Op: "write", Offset: h.Offset, Length: h.Length, Err: ErrOutOfBounds}
	}
	copy(view, data)
	return nil
}

// AllocBytes allocates len(data) bytes and writes data into them.
func (m *Memory) AllocBytes(data []byte) (Handle, error) {
	h, err := m.Alloc(uint64(len(data)))
	if err != nil {
		return Handle{}, err
	}
	if err := m.Write(h, data); err != nil {
		_ = m.Free(h)
		return Handle{}, err
	}
	return h, nil
}

func (m *Memory) check(op string, offset uint64) error {
	if m == nil || m.inst == nil {
		return &MemoryError{Op: op, Offset: offset, Err: ErrInvalidHandle}
	}
	if m.expired.Load() {
		return &MemoryError{Op: op, Offset: offset, Err: ErrContextExpired}
	}
	return nil
}

// expire invalidates m. Every later operation fails with ErrContextExpired.
func (m *Memory) expire() {
	m.expired.Store(true)
}
