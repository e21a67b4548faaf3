// Package blockcache implements the narrow block-cache collaborator the
// commit engine consumes for get(mapping,index), data(buffer), io(rw,buffer,
// addr), and put(buffer), plus dirty tagging.
//
// The real Tux3 buffered block cache (blockget/blockio) is out of scope for
// this module (see pkg/commit's package doc) and backs every inode's pages,
// not just the two special ones the commit engine cares about. This is a
// smaller, purpose-scoped cache: one [Mapping] per inode-like owner (the
// commit engine's CacheFlusher opens one per inode it flushes), each a
// reader/writer-locked set of [Buffer] handles over a
// [github.com/calvinalkan/tux3ce/pkg/blockdev.Device].
//
// Locking architecture, reduced from the same problem solved by a richer
// mmap-backed slot cache elsewhere in this dependency's lineage: each
// Mapping guards its buffer set and dirty flags with a single RWMutex.
// IsDirty and DirtyBuffers hold RLock; Get, Put, MarkDirty, IO and Close
// hold Lock. Buffer.Data takes no lock: the bytes it returns are not
// guarded by the Mapping. There is no cross-process concern here — unlike a
// cache that maps real files shared between processes, a Mapping only ever
// backs one open [blockdev.Device] in one process — so a single in-process
// RWMutex is sufficient, without the interprocess advisory-lock layer a
// multi-process cache would need.
package blockcache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/tux3ce/pkg/blockdev"
)

// ErrClosed is returned by operations on a closed Mapping.
var ErrClosed = errors.New("blockcache: mapping closed")

// Buffer is a handle to one cached block. Buffers are refcounted: callers
// obtain one with [Mapping.Get] and must release it with [Mapping.Put].
type Buffer struct {
	index uint64
	data  []byte
	dirty bool
	refs  int
}

// Index returns the buffer's mapping-local index.
func (b *Buffer) Index() uint64 { return b.index }

// Data returns the buffer's backing bytes. Mutating the slice marks no
// dirty state by itself — callers must call [Mapping.MarkDirty] explicitly,
// mirroring mark_buffer_dirty in the commit engine's writeback coordinator.
func (b *Buffer) Data() []byte { return b.data }

// Mapping is a cache of buffers for one inode-like owner, backed by a block
// device. Index 0..n-1 are mapping-local logical indices; IO assigns them a
// physical device address only when flushed.
type Mapping struct {
	dev    *blockdev.Device
	mu     sync.RWMutex
	bufs   map[uint64]*Buffer
	closed bool
}

// NewMapping returns a Mapping backed by dev. Panics if dev is nil.
func NewMapping(dev *blockdev.Device) *Mapping {
	if dev == nil {
		panic("blockcache: NewMapping: dev is nil")
	}

	return &Mapping{dev: dev, bufs: make(map[uint64]*Buffer)}
}

// Get returns the buffer at index, creating an empty zero-filled one if it
// does not exist yet (mirrors blockget's "get-or-create" semantics — callers
// decide whether to treat a fresh buffer as uninitialized staging space or
// load it from disk via IO first).
func (m *Mapping) Get(index uint64) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if b, ok := m.bufs[index]; ok {
		b.refs++

		return b, nil
	}

	b := &Buffer{index: index, data: make([]byte, m.dev.BlockSize()), refs: 1}
	m.bufs[index] = b

	return b, nil
}

// Put releases a reference obtained from Get. It does not evict the buffer:
// eviction is not implemented, so every buffer a Mapping has created stays
// cached for as long as the Mapping exists.
func (m *Mapping) Put(b *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.refs > 0 {
		b.refs--
	}
}

// MarkDirty marks a buffer dirty. Mirrors mark_buffer_dirty.
func (m *Mapping) MarkDirty(b *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b.dirty = true
}

// IsDirty reports whether b is dirty.
func (m *Mapping) IsDirty(b *Buffer) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return b.dirty
}

// IO performs blocking IO between a buffer and a physical device address:
// rw == IORead loads addr into the buffer (clearing dirty), rw == IOWrite
// persists the buffer to addr (clearing dirty on success).
func (m *Mapping) IO(rw IODirection, b *Buffer, addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	switch rw {
	case IORead:
		err := m.dev.ReadBlock(addr, b.data)
		if err != nil {
			return fmt.Errorf("blockcache: read buffer %d from block %d: %w", b.index, addr, err)
		}

		b.dirty = false

		return nil
	case IOWrite:
		err := m.dev.WriteBlock(addr, b.data)
		if err != nil {
			return fmt.Errorf("blockcache: write buffer %d to block %d: %w", b.index, addr, err)
		}

		b.dirty = false

		return nil
	default:
		return fmt.Errorf("blockcache: unknown IO direction %d", rw)
	}
}

// DirtyBuffers returns all currently dirty buffers, in index order. Used by
// flush paths (the volume map's leaf/bnode flush, the bitmap's flush) that
// need to walk everything pending persistence.
func (m *Mapping) DirtyBuffers() []*Buffer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Buffer, 0, len(m.bufs))

	for _, b := range m.bufs {
		if b.dirty {
			out = append(out, b)
		}
	}

	sortBuffersByIndex(out)

	return out
}

// Close marks the mapping closed; subsequent Get/IO calls fail.
func (m *Mapping) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
}

// IODirection selects the direction of [Mapping.IO].
type IODirection int

const (
	// IORead loads a buffer's contents from the device.
	IORead IODirection = iota
	// IOWrite persists a buffer's contents to the device.
	IOWrite
)

func sortBuffersByIndex(bufs []*Buffer) {
	// Small-n insertion sort: dirty sets here are bounded by a delta's
	// staged block count, never large enough to warrant sort.Slice's
	// reflection overhead.
	for i := 1; i < len(bufs); i++ {
		for j := i; j > 0 && bufs[j-1].index > bufs[j].index; j-- {
			bufs[j-1], bufs[j] = bufs[j], bufs[j-1]
		}
	}
}
