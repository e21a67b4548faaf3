// Package blockdev implements the narrow block-device collaborator that the
// commit engine in [github.com/calvinalkan/tux3ce/pkg/commit] consumes for
// read(block,buf), write(block,buf), allocate(count,&addr) and
// free(addr,count).
//
// The real balloc/bfree allocator and buffered block cache are out of scope
// for this module (see pkg/commit's package doc); this package is a correct,
// minimal stand-in backed by a single preallocated file, not a production
// allocator.
package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/tux3ce/pkg/fs"
)

// ErrOutOfSpace is returned by Allocate when no run of the requested length
// is free.
var ErrOutOfSpace = errors.New("blockdev: out of space")

// ErrBlockRange is returned when a block address is outside the volume.
var ErrBlockRange = errors.New("blockdev: block out of range")

// Device is a single-file-backed block device. Block 0 is the lowest
// addressable block; blocks [0, volblocks) are valid.
//
// A Device is safe for concurrent use: every read and write, and all
// allocation state, is serialized by one device-wide mutex.
// Callers needing a consistent view across multiple reads/writes (the
// commit engine, under delta_lock) must still serialize at that level.
type Device struct {
	file       fs.File
	blockSize  int
	volblocks  uint64
	mu         sync.Mutex
	bitmap     *Bitmap
	nextalloc  uint64 // allocation hint, round-robins forward
}

// Create creates a new backing file of volblocks*blockSize bytes and
// preallocates its extent with fallocate, so later writes cannot fail with
// ENOSPC on a thin-provisioned filesystem.
func Create(fsys fs.FS, path string, blockSize int, volblocks uint64) (*Device, error) {
	if blockSize <= 0 {
		return nil, errors.New("blockdev: blockSize must be positive")
	}

	file, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %q: %w", path, err)
	}

	size := int64(blockSize) * int64(volblocks)

	err = unix.Fallocate(int(file.Fd()), 0, 0, size)
	if err != nil {
		// Not all filesystems (notably tmpfs on some platforms) support
		// fallocate; fall back to a sparse truncate so tests still run.
		if trunc, ok := file.(interface{ Truncate(int64) error }); ok {
			if truncErr := trunc.Truncate(size); truncErr != nil {
				_ = file.Close()

				return nil, fmt.Errorf("blockdev: truncate %q: %w", path, truncErr)
			}
		}
	}

	return &Device{
		file:      file,
		blockSize: blockSize,
		volblocks: volblocks,
		bitmap:    NewBitmap(volblocks),
	}, nil
}

// Open opens an existing backing file. The caller must separately load the
// superblock and replay the free-block count/bitmap state; Open alone does
// not know which blocks are in use.
func Open(fsys fs.FS, path string, blockSize int, volblocks uint64) (*Device, error) {
	if blockSize <= 0 {
		return nil, errors.New("blockdev: blockSize must be positive")
	}

	file, err := fsys.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %q: %w", path, err)
	}

	return &Device{
		file:      file,
		blockSize: blockSize,
		volblocks: volblocks,
		bitmap:    NewBitmap(volblocks),
	}, nil
}

// Close closes the backing file.
func (d *Device) Close() error {
	return d.file.Close()
}

// BlockSize returns the device's fixed block size in bytes.
func (d *Device) BlockSize() int { return d.blockSize }

// Volblocks returns the total number of addressable blocks.
func (d *Device) Volblocks() uint64 { return d.volblocks }

// MarkUsed seeds the in-memory allocation bitmap for a block already
// committed to disk, e.g. while reconstructing allocator state from a
// loaded superblock and log chain at mount time.
func (d *Device) MarkUsed(block uint64, count uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.bitmap.MarkUsed(block, count)
}

// ReadBlock reads exactly one block at the given address into buf.
// len(buf) must equal BlockSize().
func (d *Device) ReadBlock(block uint64, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("blockdev: read buf len %d != block size %d", len(buf), d.blockSize)
	}

	if block >= d.volblocks {
		return fmt.Errorf("%w: block %d >= %d", ErrBlockRange, block, d.volblocks)
	}

	return d.ioAt(block, buf, false)
}

// WriteBlock writes exactly one block at the given address from buf.
// len(buf) must equal BlockSize().
func (d *Device) WriteBlock(block uint64, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("blockdev: write buf len %d != block size %d", len(buf), d.blockSize)
	}

	if block >= d.volblocks {
		return fmt.Errorf("%w: block %d >= %d", ErrBlockRange, block, d.volblocks)
	}

	return d.ioAt(block, buf, true)
}

// ReadAt/WriteAt simulation: fs.File has no ReadAt/WriteAt, so positional
// IO is a seek-then-io pair. This is safe across goroutines only because
// each call takes the device-wide mutex; the device does not issue
// pread/pwrite on the descriptor that fs.File.Fd returns.
func (d *Device) ioAt(block uint64, buf []byte, write bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	offset := int64(block) * int64(d.blockSize)

	_, err := d.file.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("blockdev: seek block %d: %w", block, err)
	}

	if write {
		_, err = d.file.Write(buf)
		if err != nil {
			return fmt.Errorf("blockdev: write block %d: %w", block, err)
		}

		return nil
	}

	_, err = io.ReadFull(d.file, buf)
	if err != nil {
		return fmt.Errorf("blockdev: read block %d: %w", block, err)
	}

	return nil
}

// Sync fsyncs the backing file.
func (d *Device) Sync() error {
	err := d.file.Sync()
	if err != nil {
		return fmt.Errorf("blockdev: sync: %w", err)
	}

	return nil
}

// Allocate finds count contiguous free blocks, marks them used, and returns
// the address of the first one. It never returns address 0 for a real
// allocation if block 0 is reserved by the caller's layout (superblock); the
// bitmap itself places no special meaning on block 0.
func (d *Device) Allocate(count uint32) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	addr, ok := d.bitmap.AllocateFrom(d.nextalloc, count)
	if !ok {
		return 0, fmt.Errorf("%w: %d blocks", ErrOutOfSpace, count)
	}

	d.nextalloc = addr + uint64(count)

	return addr, nil
}

// Free marks count blocks starting at addr free again.
func (d *Device) Free(addr uint64, count uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.bitmap.MarkFree(addr, count)
}

// FreeBlocks returns the number of currently free blocks.
func (d *Device) FreeBlocks() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.bitmap.FreeCount()
}
