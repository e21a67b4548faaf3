package commit

import (
	"fmt"
	"sync"

	"github.com/calvinalkan/tux3ce/pkg/blockcache"
	"github.com/calvinalkan/tux3ce/pkg/blockdev"
)

// CacheFlusher is the production InodeFlusher: one blockcache.Mapping per
// dirtied inode, all backed by the same underlying block device. It is the
// seam named in collaborators.go's InodeFlusher doc — a real host wires this
// in instead of a fake, while the commit engine itself stays oblivious to
// whether writeback goes through a cache or straight to disk.
//
// Buffer placement is deliberately simple: the first time a mapping-local
// index is flushed it is given a fresh block via dev.Allocate, and that
// mapping sticks for the lifetime of the CacheFlusher. A real inode-to-block
// mapping (extents, b-tree leaves addressed by the volume map) is the
// commit engine's own concern and out of scope here; this just needs a
// stable address to hand blockcache.Mapping.IO so dirty buffers actually
// round-trip through the device.
type CacheFlusher struct {
	dev *blockdev.Device

	mu       sync.Mutex
	mappings map[uint64]*blockcache.Mapping
	addrs    map[uint64]map[uint64]uint64 // inode -> buffer index -> device block
}

// NewCacheFlusher returns a CacheFlusher backed by dev.
func NewCacheFlusher(dev *blockdev.Device) *CacheFlusher {
	return &CacheFlusher{
		dev:      dev,
		mappings: make(map[uint64]*blockcache.Mapping),
		addrs:    make(map[uint64]map[uint64]uint64),
	}
}

// Buffer returns the buffer at index within inode's mapping, creating an
// empty one on first use (see blockcache.Mapping.Get).
func (f *CacheFlusher) Buffer(inode, index uint64) (*blockcache.Buffer, error) {
	return f.mapping(inode).Get(index)
}

// Put releases a reference obtained from Buffer.
func (f *CacheFlusher) Put(inode uint64, b *blockcache.Buffer) {
	f.mapping(inode).Put(b)
}

// MarkDirty marks b, owned by inode's mapping, dirty so the next
// WriteInode/FlushBuffers call persists it.
func (f *CacheFlusher) MarkDirty(inode uint64, b *blockcache.Buffer) {
	f.mapping(inode).MarkDirty(b)
}

// IsDirty reports whether b, owned by inode's mapping, is still dirty.
func (f *CacheFlusher) IsDirty(inode uint64, b *blockcache.Buffer) bool {
	return f.mapping(inode).IsDirty(b)
}

// WriteInode persists inode's dirty metadata buffers.
func (f *CacheFlusher) WriteInode(inode uint64) error {
	return f.flush(inode)
}

// FlushBuffers persists inode's dirty data/leaf buffers. The commit engine
// calls this on BitmapInode and VolmapInode directly (rollup.go, delta.go)
// and on every other dirtied inode via syncInodes.
func (f *CacheFlusher) FlushBuffers(inode uint64) error {
	return f.flush(inode)
}

// Close closes every mapping this flusher opened.
func (f *CacheFlusher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.mappings {
		m.Close()
	}
}

func (f *CacheFlusher) flush(inode uint64) error {
	m := f.mapping(inode)

	for _, b := range m.DirtyBuffers() {
		addr, err := f.addrFor(inode, b.Index())
		if err != nil {
			return fmt.Errorf("commit: cacheflusher: allocate block for inode %d buffer %d: %w", inode, b.Index(), err)
		}

		if err := m.IO(blockcache.IOWrite, b, addr); err != nil {
			return fmt.Errorf("commit: cacheflusher: flush inode %d buffer %d: %w", inode, b.Index(), err)
		}
	}

	return nil
}

func (f *CacheFlusher) mapping(inode uint64) *blockcache.Mapping {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.mappings[inode]
	if !ok {
		m = blockcache.NewMapping(f.dev)
		f.mappings[inode] = m
	}

	return m
}

func (f *CacheFlusher) addrFor(inode, index uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	perInode, ok := f.addrs[inode]
	if !ok {
		perInode = make(map[uint64]uint64)
		f.addrs[inode] = perInode
	}

	if addr, ok := perInode[index]; ok {
		return addr, nil
	}

	addr, err := f.dev.Allocate(1)
	if err != nil {
		return 0, err
	}

	perInode[index] = addr

	return addr, nil
}
