package testutil

import (
	"errors"
	"sync"
)

// ErrUnknownOffset is returned by FakeInstance for offsets it never allocated.
var ErrUnknownOffset = errors.New("fake: unknown offset")

// FakeInstance is an in-process stand-in for a guest instance's memory. It
// implements hostfuncs.Instance over a growable byte slice and counts
// allocations so tests can assert that a call did or did not touch guest
// memory.
type FakeInstance struct {
	lengths map[uint64]uint64
	mem     []byte
	allocs  int
	frees   int
	mu      sync.Mutex
}

// NewFakeInstance returns an empty FakeInstance. Offset 0 is never handed out.
func NewFakeInstance() *FakeInstance {
	return &FakeInstance{
		mem:     make([]byte, 8),
		lengths: make(map[uint64]uint64),
	}
}

// MemoryAlloc reserves size bytes. Every allocation, including a zero-size
// one, gets a distinct offset.
func (f *FakeInstance) MemoryAlloc(size uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset := uint64(len(f.mem))
	reserve := (max(size, 1) + 7) &^ 7
	f.mem = append(f.mem, make([]byte, reserve)...)
	f.lengths[offset] = size
	f.allocs++
	return offset, nil
}

// MemoryFree releases the allocation at offset.
func (f *FakeInstance) MemoryFree(offset uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lengths[offset]; !ok {
		return ErrUnknownOffset
	}
	delete(f.lengths, offset)
	f.frees++
	return nil
}

// MemoryLength returns the length of the allocation at offset.
func (f *FakeInstance) MemoryLength(offset uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.lengths[offset]
	if !ok {
		return 0, ErrUnknownOffset
	}
	return n, nil
}

// MemoryRead returns a view of memory. Like real guest memory, views are
// invalidated by a later allocation.
func (f *FakeInstance) MemoryRead(offset, length uint64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	end := offset + length
	if end < offset || end > uint64(len(f.mem)) {
		return nil, false
	}
	return f.mem[offset:end:end], true
}

// Put allocates len(data) bytes, copies data in and returns the offset. It
// does not count towards Allocs.
func (f *FakeInstance) Put(data []byte) uint64 {
	offset, _ := f.MemoryAlloc(uint64(len(data)))
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.mem[offset:], data)
	f.allocs--
	return offset
}

// PutString is Put for text.
func (f *FakeInstance) PutString(s string) uint64 {
	return f.Put([]byte(s))
}

// Bytes returns a copy of the live allocation at offset, or nil.
func (f *FakeInstance) Bytes(offset uint64) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.lengths[offset]
	if !ok {
		return nil
	}
	out := make([]byte, n)
	copy(out, f.mem[offset:offset+n])
	return out
}

// Allocs returns the number of MemoryAlloc calls.
func (f *FakeInstance) Allocs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocs
}

// Frees returns the number of successful MemoryFree calls.
func (f *FakeInstance) Frees() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frees
}

// Live returns the number of allocations not yet freed.
func (f *FakeInstance) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lengths)
}
