// tux3ce is an operational CLI for creating and poking at tux3ce backing
// volumes from a terminal: format a new volume file, then mount it into an
// interactive shell that drives the commit engine directly (dirty inodes,
// force deltas and rollups, inspect the superblock, walk the log chain).
//
// Usage:
//
//	tux3ce format [--block-size=4096] [--blocks=4096] <path>
//	tux3ce mount [--config=tux3ce.json] <path>
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/tux3ce/pkg/blockdev"
	"github.com/calvinalkan/tux3ce/pkg/commit"
	"github.com/calvinalkan/tux3ce/pkg/fs"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tux3ce: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: tux3ce <format|mount> [flags] <path>")
	}

	switch args[0] {
	case "format":
		return cmdFormat(args[1:])
	case "mount":
		return cmdMount(args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func cmdFormat(args []string) error {
	fset := flag.NewFlagSet("format", flag.ContinueOnError)
	blockSize := fset.Int("block-size", 4096, "device block size in bytes")
	blocks := fset.Uint64("blocks", 4096, "total number of blocks in the volume")

	if err := fset.Parse(args); err != nil {
		return err
	}

	if fset.NArg() != 1 {
		return fmt.Errorf("usage: tux3ce format [flags] <path>")
	}

	path := fset.Arg(0)
	fsys := fs.NewReal()

	dev, err := blockdev.Create(fsys, path, *blockSize, *blocks)
	if err != nil {
		return fmt.Errorf("create backing file: %w", err)
	}
	defer dev.Close()

	vol, err := commit.Format(dev, *blocks, nil, commit.NewMemOrphanTable(), noopFlusher{}, commit.Options{})
	if err != nil {
		return fmt.Errorf("format volume: %w", err)
	}
	defer vol.Close()

	if err := writeVolumeManifest(fsys, path, vol.MountID().String(), *blockSize, *blocks); err != nil {
		return fmt.Errorf("write volume manifest: %w", err)
	}

	fmt.Printf("formatted %s: %d blocks x %d bytes, mount id %s\n", path, *blocks, *blockSize, vol.MountID())

	return nil
}

// writeVolumeManifest records the geometry a later "mount" needs to pass
// back in (block size, block count) next to the backing file, so operators
// don't have to remember their own format flags. It is written with the
// same durable rename-into-place discipline the rest of the on-disk state
// uses: a reader never observes a half-written manifest.
func writeVolumeManifest(fsys fs.FS, volPath, mountID string, blockSize int, blocks uint64) error {
	manifest := fmt.Sprintf("{\n  \"blockSize\": %d,\n  \"blocks\": %d,\n  \"mountId\": %q\n}\n", blockSize, blocks, mountID)

	writer := fs.NewAtomicWriter(fsys)

	return writer.WriteWithDefaults(volPath+".manifest.json", strings.NewReader(manifest))
}

func cmdMount(args []string) error {
	fset := flag.NewFlagSet("mount", flag.ContinueOnError)
	configPath := fset.String("config", "", "path to a HuJSON config file overriding policy intervals")
	blockSize := fset.Int("block-size", 4096, "device block size in bytes; must match the volume's format")
	blocks := fset.Uint64("blocks", 4096, "total number of blocks; must match the volume's format")

	if err := fset.Parse(args); err != nil {
		return err
	}

	if fset.NArg() != 1 {
		return fmt.Errorf("usage: tux3ce mount [flags] <path>")
	}

	path := fset.Arg(0)
	fsys := fs.NewReal()

	locker := fs.NewLocker(fsys)

	lockPath := path + ".lock"

	lock, err := locker.TryLock(lockPath)
	if err != nil {
		return fmt.Errorf("acquire volume lock %s: %w (another process may have it mounted)", lockPath, err)
	}

	dev, err := blockdev.Open(fsys, path, *blockSize, *blocks)
	if err != nil {
		_ = lock.Close()

		return fmt.Errorf("open backing file: %w", err)
	}
	defer dev.Close()

	opts := commit.Options{Lock: lock}

	if *configPath != "" {
		cfg, err := commit.LoadConfig(fsys, *configPath)
		if err != nil {
			_ = lock.Close()

			return fmt.Errorf("load config %s: %w", *configPath, err)
		}

		opts.Config = cfg
	}

	vol, err := commit.Open(dev, nil, commit.NewMemOrphanTable(), noopFlusher{}, opts)
	if err != nil {
		_ = lock.Close()

		return fmt.Errorf("mount volume: %w", err)
	}
	defer vol.Close()

	fmt.Printf("mounted %s, mount id %s\n", filepath.Clean(path), vol.MountID())

	sh := newShell(vol, dev)

	return sh.run()
}

// noopFlusher is the inode-flush collaborator the CLI wires in since it
// drives the commit engine directly without a real filesystem above it:
// there are no inode writeback contents to flush, only the commit state
// machine itself is being exercised.
type noopFlusher struct{}

func (noopFlusher) WriteInode(inode uint64) error   { return nil }
func (noopFlusher) FlushBuffers(inode uint64) error { return nil }
