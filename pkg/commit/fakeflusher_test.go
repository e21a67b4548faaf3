package commit_test

import (
	"fmt"
	"sync"
)

// fakeFlusher is a minimal InodeFlusher collaborator: it just records which
// inodes were asked to flush, optionally failing for inodes configured via
// FailWriteInode/FailFlushBuffers. Real inode writeback is an out-of-scope
// collaborator (spec §1); this exists purely to drive and observe the
// writeback coordinator's call sequence.
type fakeFlusher struct {
	mu sync.Mutex

	writeInodeCalls   []uint64
	flushBuffersCalls []uint64

	failWriteInode   map[uint64]error
	failFlushBuffers map[uint64]error
}

func newFakeFlusher() *fakeFlusher {
	return &fakeFlusher{
		failWriteInode:   make(map[uint64]error),
		failFlushBuffers: make(map[uint64]error),
	}
}

func (f *fakeFlusher) WriteInode(inode uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writeInodeCalls = append(f.writeInodeCalls, inode)

	if err, ok := f.failWriteInode[inode]; ok {
		return err
	}

	return nil
}

func (f *fakeFlusher) FlushBuffers(inode uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.flushBuffersCalls = append(f.flushBuffersCalls, inode)

	if err, ok := f.failFlushBuffers[inode]; ok {
		return err
	}

	return nil
}

func (f *fakeFlusher) FailFlushBuffers(inode uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failFlushBuffers[inode] = err
}

func (f *fakeFlusher) FailWriteInode(inode uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failWriteInode[inode] = err
}

func (f *fakeFlusher) WriteInodeCalls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]uint64, len(f.writeInodeCalls))
	copy(out, f.writeInodeCalls)

	return out
}

func (f *fakeFlusher) FlushBuffersCalls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]uint64, len(f.flushBuffersCalls))
	copy(out, f.flushBuffersCalls)

	return out
}

var errFakeFlush = fmt.Errorf("fakeflusher: injected failure")
