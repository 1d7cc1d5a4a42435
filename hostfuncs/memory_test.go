package hostfuncs

import (
	"testing"

	"github.com/reglet-dev/hostcall/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AllocWriteRead(t *testing.T) {
	fake := testutil.NewFakeInstance()
	mem := NewMemory(fake)

	h, err := mem.Alloc(5)
	require.NoError(t, err)
	assert.NotZero(t, h.Offset)
	assert.Equal(t, uint64(5), h.Length)

	require.NoError(t, mem.Write(h, []byte("hello")))
	got, err := mem.ReadBytes(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	resolved, err := mem.Resolve(h.Offset)
	require.NoError(t, err)
	assert.Equal(t, h, resolved)

	s, err := mem.ReadString(h.Offset)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestMemory_ZeroSize(t *testing.T) {
	fake := testutil.NewFakeInstance()
	mem := NewMemory(fake)

	a, err := mem.Alloc(0)
	require.NoError(t, err)
	b, err := mem.Alloc(0)
	require.NoError(t, err)
	assert.NotEqual(t, a.Offset, b.Offset)
	assert.Zero(t, a.Length)

	view, err := mem.Read(a)
	require.NoError(t, err)
	assert.Empty(t, view)
	require.NoError(t, mem.Write(a, nil))
}

func TestMemory_Errors(t *testing.T) {
	fake := testutil.NewFakeInstance()
	mem := NewMemory(fake)

	t.Run("write past handle", func(t *testing.T) {
		h, err := mem.Alloc(2)
		require.NoError(t, err)
		err = mem.Write(h, []byte("abc"))
		testutil.RequireErrorAs[*MemoryError](t, err)
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})

	t.Run("read outside memory", func(t *testing.T) {
		_, err := mem.Read(Handle{Offset: 1 << 30, Length: 4})
		assert.ErrorIs(t, err, ErrOutOfBounds)
	})

	t.Run("double free", func(t *testing.T) {
		h, err := mem.AllocBytes([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, mem.Free(h))
		err = mem.Free(h)
		memErr := testutil.RequireErrorAs[*MemoryError](t, err)
		assert.Equal(t, "free", memErr.Op)
	})

	t.Run("null offset", func(t *testing.T) {
		_, err := mem.Resolve(0)
		assert.ErrorIs(t, err, ErrInvalidHandle)
	})

	t.Run("unknown offset", func(t *testing.T) {
		_, err := mem.Resolve(12345)
		assert.ErrorIs(t, err, testutil.ErrUnknownOffset)
	})

	t.Run("nil facade", func(t *testing.T) {
		var nilMem *Memory
		_, err := nilMem.Alloc(1)
		assert.ErrorIs(t, err, ErrInvalidHandle)
	})
}

func TestMemory_Expired(t *testing.T) {
	fake := testutil.NewFakeInstance()
	mem := NewMemory(fake)
	h, err := mem.AllocBytes([]byte("data"))
	require.NoError(t, err)

	mem.expire()

	_, err = mem.Alloc(1)
	assert.ErrorIs(t, err, ErrContextExpired)
	_, err = mem.Read(h)
	assert.ErrorIs(t, err, ErrContextExpired)
	assert.ErrorIs(t, mem.Write(h, []byte("x")), ErrContextExpired)
	assert.ErrorIs(t, mem.Free(h), ErrContextExpired)
	_, err = mem.Resolve(h.Offset)
	assert.ErrorIs(t, err, ErrContextExpired)
}
