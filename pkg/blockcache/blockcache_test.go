package blockcache_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tux3ce/pkg/blockcache"
	"github.com/calvinalkan/tux3ce/pkg/blockdev"
	"github.com/calvinalkan/tux3ce/pkg/fs"
)

func newMapping(t *testing.T) (*blockcache.Mapping, *blockdev.Device) {
	t.Helper()

	dir := t.TempDir()
	dev, err := blockdev.Create(fs.NewReal(), filepath.Join(dir, "vol.img"), 512, 32)
	require.NoError(t, err)

	t.Cleanup(func() { _ = dev.Close() })

	return blockcache.NewMapping(dev), dev
}

func TestGetCreatesZeroedBuffer(t *testing.T) {
	m, _ := newMapping(t)

	b, err := m.Get(3)
	require.NoError(t, err)

	for _, bb := range b.Data() {
		require.Zero(t, bb)
	}
}

func TestGetReturnsSameBufferForSameIndex(t *testing.T) {
	m, _ := newMapping(t)

	a, err := m.Get(1)
	require.NoError(t, err)

	b, err := m.Get(1)
	require.NoError(t, err)

	require.Same(t, a, b)
}

func TestMarkDirtyAndIOWriteClearsDirty(t *testing.T) {
	m, dev := newMapping(t)

	b, err := m.Get(0)
	require.NoError(t, err)

	copy(b.Data(), []byte("hello"))
	m.MarkDirty(b)
	require.True(t, m.IsDirty(b))

	addr, err := dev.Allocate(1)
	require.NoError(t, err)

	require.NoError(t, m.IO(blockcache.IOWrite, b, addr))
	require.False(t, m.IsDirty(b))

	readBack, err := m.Get(99)
	require.NoError(t, err)
	require.NoError(t, m.IO(blockcache.IORead, readBack, addr))
	require.Equal(t, "hello", string(readBack.Data()[:5]))
}

func TestDirtyBuffersReturnsOnlyDirtyInIndexOrder(t *testing.T) {
	m, _ := newMapping(t)

	b2, err := m.Get(2)
	require.NoError(t, err)
	m.MarkDirty(b2)

	_, err = m.Get(1) // not dirty
	require.NoError(t, err)

	b0, err := m.Get(0)
	require.NoError(t, err)
	m.MarkDirty(b0)

	dirty := m.DirtyBuffers()
	require.Len(t, dirty, 2)
	require.Equal(t, uint64(0), dirty[0].Index())
	require.Equal(t, uint64(2), dirty[1].Index())
}

func TestIOAfterCloseFails(t *testing.T) {
	m, _ := newMapping(t)

	b, err := m.Get(0)
	require.NoError(t, err)

	m.Close()

	err = m.IO(blockcache.IOWrite, b, 0)
	require.ErrorIs(t, err, blockcache.ErrClosed)
}
