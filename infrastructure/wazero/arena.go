package wazero

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/tetratelabs/wazero/api"
)

const (
	pageSize  = 65536
	alignment = 8
)

var errNoMemory = errors.New("guest module has no memory")

type block struct {
	length   uint64
	capacity uint64
}

type span struct {
	offset uint64
	size   uint64
}

// arena hands out allocations from pages the host grows at the end of a
// guest's linear memory. Offsets are absolute addresses in that memory and
// offset 0 is never returned.
type arena struct {
	mem      api.Memory
	live     map[uint64]block
	free     []span
	regions  []span
	next     uint64 // bump pointer in the current region
	end      uint64 // end of the current region
	reserved uint64 // bytes of memory grown for the arena
	limit    uint64
	mu       sync.Mutex
}

func newArena(mem api.Memory, limit uint64) *arena {
	return &arena{
		mem:   mem,
		limit: limit,
		live:  make(map[uint64]block),
	}
}

func alignUp(n uint64) uint64 {
	return (n + alignment - 1) &^ (alignment - 1)
}

func (a *arena) alloc(size uint64) (uint64, error) {
	if a.mem == nil {
		return 0, errNoMemory
	}
	if size > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d bytes exceeds the 32-bit address space", hostfuncs.ErrOutOfMemory, size)
	}
	need := alignUp(max(size, 1))

	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.free {
		if s.size < need {
			continue
		}
		if s.size-need >= alignment {
			a.free[i] = span{offset: s.offset + need, size: s.size - need}
		} else {
			need = s.size
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		a.live[s.offset] = block{length: size, capacity: need}
		return s.offset, nil
	}

	if a.next+need > a.end {
		if err := a.grow(need); err != nil {
			return 0, err
		}
	}
	offset := a.next
	a.next += need
	a.live[offset] = block{length: size, capacity: need}
	return offset, nil
}

// grow adds pages so that need bytes fit at the bump pointer. When the
// arena's region still ends at the end of memory it is extended; otherwise
// a new region starts at the current end of memory.
func (a *arena) grow(need uint64) error {
	size := uint64(a.mem.Size())
	extend := len(a.regions) > 0 && a.end == size

	want := need
	base := size
	switch {
	case extend:
		want = a.next + need - a.end
	case base == 0:
		want += alignment
	}
	pages := (want + pageSize - 1) / pageSize
	grown := pages * pageSize
	if a.reserved+grown > a.limit {
		return fmt.Errorf("%w: arena limit of %d bytes reached", hostfuncs.ErrOutOfMemory, a.limit)
	}
	if pages > math.MaxUint32 {
		return hostfuncs.ErrOutOfMemory
	}
	if _, ok := a.mem.Grow(uint32(pages)); !ok {
		return fmt.Errorf("%w: cannot grow guest memory by %d pages", hostfuncs.ErrOutOfMemory, pages)
	}
	a.reserved += grown

	if extend {
		a.end += grown
		a.regions[len(a.regions)-1].size += grown
		return nil
	}
	if a.next < a.end {
		a.free = append(a.free, span{offset: a.next, size: a.end - a.next})
	}
	start := base
	if base == 0 {
		start = alignment
	}
	a.next = start
	a.end = base + grown
	a.regions = append(a.regions, span{offset: start, size: a.end - start})
	return nil
}

func (a *arena) release(offset uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.live[offset]
	if !ok {
		return hostfuncs.ErrInvalidHandle
	}
	delete(a.live, offset)
	a.free = append(a.free, span{offset: offset, size: b.capacity})
	return nil
}

func (a *arena) length(offset uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.live[offset]
	if !ok {
		return 0, hostfuncs.ErrInvalidHandle
	}
	return b.length, nil
}

func (a *arena) read(offset, length uint64) ([]byte, bool) {
	if a.mem == nil || offset+length < offset || offset+length > math.MaxUint32 {
		return nil, false
	}
	return a.mem.Read(uint32(offset), uint32(length))
}

// reset frees every allocation while keeping the grown pages for reuse.
func (a *arena) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live = make(map[uint64]block)
	a.free = nil
	if n := len(a.regions); n > 0 {
		a.free = append(a.free, a.regions[:n-1]...)
		last := a.regions[n-1]
		a.next = last.offset
		a.end = last.offset + last.size
	}
}

func (a *arena) setLimit(limit uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = limit
}

func (a *arena) liveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
