package blockdev_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tux3ce/pkg/blockdev"
	"github.com/calvinalkan/tux3ce/pkg/fs"
)

func newDevice(t *testing.T, volblocks uint64) *blockdev.Device {
	t.Helper()

	dir := t.TempDir()
	dev, err := blockdev.Create(fs.NewReal(), filepath.Join(dir, "vol.img"), 4096, volblocks)
	require.NoError(t, err)

	t.Cleanup(func() { _ = dev.Close() })

	return dev
}

func TestReadWriteBlockRoundTrip(t *testing.T) {
	dev := newDevice(t, 64)

	want := bytes.Repeat([]byte{0xAB}, dev.BlockSize())
	require.NoError(t, dev.WriteBlock(5, want))

	got := make([]byte, dev.BlockSize())
	require.NoError(t, dev.ReadBlock(5, got))
	require.Equal(t, want, got)
}

func TestWriteBlockRejectsWrongSizeBuffer(t *testing.T) {
	dev := newDevice(t, 8)

	err := dev.WriteBlock(0, make([]byte, 10))
	require.Error(t, err)
}

func TestReadWriteBlockRejectsOutOfRange(t *testing.T) {
	dev := newDevice(t, 8)

	err := dev.WriteBlock(8, make([]byte, dev.BlockSize()))
	require.ErrorIs(t, err, blockdev.ErrBlockRange)
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	dev := newDevice(t, 16)

	before := dev.FreeBlocks()

	addr, err := dev.Allocate(3)
	require.NoError(t, err)
	require.Less(t, addr, uint64(16))
	require.Equal(t, before-3, dev.FreeBlocks())

	require.NoError(t, dev.Free(addr, 3))
	require.Equal(t, before, dev.FreeBlocks())
}

func TestAllocateExhaustion(t *testing.T) {
	dev := newDevice(t, 4)

	_, err := dev.Allocate(4)
	require.NoError(t, err)

	_, err = dev.Allocate(1)
	require.ErrorIs(t, err, blockdev.ErrOutOfSpace)
}

func TestAllocateAvoidsUsedBlocks(t *testing.T) {
	dev := newDevice(t, 8)
	dev.MarkUsed(0, 4)

	addr, err := dev.Allocate(4)
	require.NoError(t, err)
	require.Equal(t, uint64(4), addr)
}
