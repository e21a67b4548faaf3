package commit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tux3ce/pkg/commit"
)

func TestFormatThenLoadRoundTrips(t *testing.T) {
	dev := newTestDevice(t, 512, 64)

	formatted, err := commit.FormatSB(dev, 64)
	require.NoError(t, err)

	loaded, err := commit.LoadSB(dev)
	require.NoError(t, err)

	require.Equal(t, formatted.Blockbits, loaded.Blockbits)
	require.Equal(t, formatted.Volblocks, loaded.Volblocks)
	require.Equal(t, formatted.Freeblocks, loaded.Freeblocks)
	require.Equal(t, formatted.Nextalloc, loaded.Nextalloc)
	require.Equal(t, formatted.Atomdictsize, loaded.Atomdictsize)
	require.Equal(t, formatted.Atomgen, loaded.Atomgen)
	require.Equal(t, formatted.Freeatom, loaded.Freeatom)
	require.Equal(t, formatted.Iroot, loaded.Iroot)
	require.Equal(t, formatted.Oroot, loaded.Oroot)
	require.Equal(t, formatted.Logchain, loaded.Logchain)
	require.Equal(t, formatted.Logcount, loaded.Logcount)
}

func TestLoadSBRejectsBadMagic(t *testing.T) {
	dev := newTestDevice(t, 512, 8)

	garbage := make([]byte, dev.BlockSize())
	for i := range garbage {
		garbage[i] = 0xFF
	}
	require.NoError(t, dev.WriteBlock(0, garbage))

	_, err := commit.LoadSB(dev)
	require.ErrorIs(t, err, commit.ErrBadMagic)
}

func TestPackUnpackRootRoundTrips(t *testing.T) {
	for _, r := range []commit.Root{
		{Block: 0, Depth: 0},
		{Block: 1234567, Depth: 3},
		{Block: 0x00FF_FFFF_FFFF_FFFF, Depth: 255},
	} {
		word := r.Pack()
		require.Equal(t, r, commit.UnpackRoot(word))
	}
}
