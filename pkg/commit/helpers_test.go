package commit_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tux3ce/pkg/blockdev"
	"github.com/calvinalkan/tux3ce/pkg/fs"
)

func newTestDevice(t *testing.T, blockSize int, volblocks uint64) *blockdev.Device {
	t.Helper()

	dir := t.TempDir()
	dev, err := blockdev.Create(fs.NewReal(), filepath.Join(dir, "vol.img"), blockSize, volblocks)
	require.NoError(t, err)

	t.Cleanup(func() { _ = dev.Close() })

	return dev
}
