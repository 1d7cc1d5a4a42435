package wazero

import (
	"context"
	"testing"

	"github.com/reglet-dev/hostcall/hostfuncs"
	"github.com/reglet-dev/hostcall/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func guestMemory(t *testing.T, pages uint32) api.Memory {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { rt.Close(ctx) })
	mod := instantiate(t, rt, "guest", testutil.NewModuleBuilder().Memory(pages).Build())
	return mod.Memory()
}

func TestArenaAllocatesPastGuestMemory(t *testing.T) {
	mem := guestMemory(t, 1)
	a := newArena(mem, DefaultMaxMemory)

	first, err := a.alloc(10)
	require.NoError(t, err)
	assert.Equal(t, uint64(pageSize), first)
	assert.Equal(t, uint32(2*pageSize), mem.Size())

	second, err := a.alloc(10)
	require.NoError(t, err)
	assert.Equal(t, first+16, second)

	n, err := a.length(first)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), n)
}

func TestArenaNeverReturnsZero(t *testing.T) {
	mem := guestMemory(t, 0)
	a := newArena(mem, DefaultMaxMemory)

	offset, err := a.alloc(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(alignment), offset)
}

func TestArenaZeroSizeAllocationsAreDistinct(t *testing.T) {
	a := newArena(guestMemory(t, 1), DefaultMaxMemory)

	x, err := a.alloc(0)
	require.NoError(t, err)
	y, err := a.alloc(0)
	require.NoError(t, err)

	assert.NotEqual(t, x, y)
	n, err := a.length(x)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArenaReusesFreedBlocks(t *testing.T) {
	a := newArena(guestMemory(t, 1), DefaultMaxMemory)

	first, err := a.alloc(16)
	require.NoError(t, err)
	_, err = a.alloc(16)
	require.NoError(t, err)

	require.NoError(t, a.release(first))
	_, err = a.length(first)
	assert.ErrorIs(t, err, hostfuncs.ErrInvalidHandle)

	reused, err := a.alloc(8)
	require.NoError(t, err)
	assert.Equal(t, first, reused)

	split, err := a.alloc(8)
	require.NoError(t, err)
	assert.Equal(t, first+8, split)
	assert.Equal(t, 3, a.liveCount())
}

func TestArenaReleaseUnknownOffset(t *testing.T) {
	a := newArena(guestMemory(t, 1), DefaultMaxMemory)
	assert.ErrorIs(t, a.release(12345), hostfuncs.ErrInvalidHandle)
}

func TestArenaGrowsAcrossPages(t *testing.T) {
	mem := guestMemory(t, 1)
	a := newArena(mem, DefaultMaxMemory)

	small, err := a.alloc(100)
	require.NoError(t, err)
	big, err := a.alloc(pageSize)
	require.NoError(t, err)

	assert.Equal(t, small+104, big)
	assert.Equal(t, uint32(3*pageSize), mem.Size())
}

func TestArenaLimit(t *testing.T) {
	a := newArena(guestMemory(t, 1), pageSize)

	_, err := a.alloc(pageSize)
	require.NoError(t, err)

	_, err = a.alloc(1)
	assert.ErrorIs(t, err, hostfuncs.ErrOutOfMemory)
}

func TestArenaWithoutMemory(t *testing.T) {
	a := newArena(nil, DefaultMaxMemory)

	_, err := a.alloc(1)
	assert.ErrorIs(t, err, errNoMemory)
	_, ok := a.read(8, 1)
	assert.False(t, ok)
}

func TestArenaRead(t *testing.T) {
	mem := guestMemory(t, 1)
	a := newArena(mem, DefaultMaxMemory)

	offset, err := a.alloc(3)
	require.NoError(t, err)
	require.True(t, mem.Write(uint32(offset), []byte("abc")))

	data, ok := a.read(offset, 3)
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), data)

	_, ok = a.read(uint64(mem.Size()), 1)
	assert.False(t, ok)
	_, ok = a.read(^uint64(0), 2)
	assert.False(t, ok)
}

func TestArenaReset(t *testing.T) {
	mem := guestMemory(t, 1)
	a := newArena(mem, DefaultMaxMemory)

	first, err := a.alloc(32)
	require.NoError(t, err)
	_, err = a.alloc(32)
	require.NoError(t, err)
	size := mem.Size()

	a.reset()
	assert.Zero(t, a.liveCount())

	again, err := a.alloc(32)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, size, mem.Size())
}
