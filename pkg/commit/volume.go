package commit

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calvinalkan/tux3ce/pkg/fs"
)

// Options configures a Volume at Open/Format time.
type Options struct {
	// Config overrides the policy intervals. The zero value means
	// DefaultConfig. Its BlockSize field is not read here: the block size is
	// whatever the BlockDevice reports.
	Config Config
	// Lock, if non-nil, is an already-acquired advisory file lock that
	// this Volume now owns: it guards against a second process mounting
	// the same backing file for writing, and is released on Close. It is
	// orthogonal to delta_lock and is never taken or released inside a
	// commit.
	Lock *fs.Lock
	// LogWriter receives structured log events for this volume. Defaults
	// to os.Stderr.
	LogWriter io.Writer
}

// Volume is a mounted instance of the commit engine: the in-memory
// superblock plus the collaborators it drives (block device, b-tree,
// orphan table, inode flusher) and the concurrency primitive serializing
// frontend changes against the single committer.
type Volume struct {
	sb      *Superblock
	dev     BlockDevice
	btree   BTree
	orphans OrphanTable
	flusher InodeFlusher

	logger  zerolog.Logger
	mountID uuid.UUID

	lock *fs.Lock

	policyMu sync.Mutex
	closeMu  sync.Mutex
	closed   bool
}

// Format initializes a brand-new volume of volblocks blocks, writes its
// initial superblock, and returns an open Volume ready for use.
func Format(dev BlockDevice, volblocks uint64, btree BTree, orphans OrphanTable, flusher InodeFlusher, opts Options) (*Volume, error) {
	sb, err := FormatSB(dev, volblocks)
	if err != nil {
		return nil, fmt.Errorf("commit: format: %w", err)
	}

	return newVolume(sb, dev, btree, orphans, flusher, opts), nil
}

// Open mounts an existing volume by loading and validating its superblock.
func Open(dev BlockDevice, btree BTree, orphans OrphanTable, flusher InodeFlusher, opts Options) (*Volume, error) {
	sb, err := LoadSB(dev)
	if err != nil {
		return nil, fmt.Errorf("commit: open: %w", err)
	}

	return newVolume(sb, dev, btree, orphans, flusher, opts), nil
}

func newVolume(sb *Superblock, dev BlockDevice, btree BTree, orphans OrphanTable, flusher InodeFlusher, opts Options) *Volume {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}

	if cfg.DeltaInterval != 0 {
		sb.Policy.DeltaInterval = cfg.DeltaInterval
	}

	if cfg.RollupInterval != 0 {
		sb.Policy.RollupInterval = cfg.RollupInterval
	}

	logger, mountID := newVolumeLogger(opts.LogWriter)

	return &Volume{
		sb:      sb,
		dev:     dev,
		btree:   btree,
		orphans: orphans,
		flusher: flusher,
		logger:  logger,
		mountID: mountID,
		lock:    opts.Lock,
	}
}

// MountID returns the correlation id threaded through this volume's log
// lines.
func (v *Volume) MountID() uuid.UUID { return v.mountID }

// Close releases the volume's advisory file lock, if any. It does not
// flush pending state; callers should Commit(ForceRollup) first if they
// want a clean unmount.
func (v *Volume) Close() error {
	v.closeMu.Lock()
	defer v.closeMu.Unlock()

	if v.closed {
		return nil
	}

	v.closed = true

	if v.lock != nil {
		return v.lock.Close()
	}

	return nil
}

// BeginChange brackets the start of one user-visible frontend change. It
// holds delta_lock shared until the matching EndChange.
func (v *Volume) BeginChange() {
	v.sb.deltaLock.RLock()
}

// EndChange implements the promotion protocol from spec §5: under shared
// hold, it evaluates need_delta. If false, it releases and returns. If
// true, it snapshots the current delta number, releases the shared hold,
// acquires exclusive, re-checks sb.Delta == snapshot (another committer
// may have raced ahead), and if so runs do_commit(ALLOW_ROLLUP); otherwise
// it skips, since the loser's work was already folded into the winner's
// commit. This never upgrades a lock and never double-commits.
func (v *Volume) EndChange() error {
	v.policyMu.Lock()
	needDelta := v.sb.Policy.NeedDelta()
	v.policyMu.Unlock()

	if !needDelta {
		v.sb.deltaLock.RUnlock()

		return nil
	}

	snapshot := v.sb.Delta
	v.sb.deltaLock.RUnlock()

	v.sb.deltaLock.Lock()
	defer v.sb.deltaLock.Unlock()

	if v.sb.Delta != snapshot {
		return nil
	}

	return v.commitLocked(AllowRollup)
}

// Commit runs do_commit directly under exclusive hold of delta_lock,
// bypassing the need_delta policy check. Used by tests driving specific
// scenarios and by hosts that want to force a commit (e.g. on unmount).
func (v *Volume) Commit(mode RollupMode) error {
	v.sb.deltaLock.Lock()
	defer v.sb.deltaLock.Unlock()

	return v.commitLocked(mode)
}

func (v *Volume) commitLocked(mode RollupMode) error {
	v.logger.Debug().
		Uint64("delta", v.sb.Delta+1).
		Str("rollup_mode", mode.String()).
		Msg(">>>>>>>>> commit delta")

	err := doCommit(v.sb, v.dev, v.btree, v.orphans, v.flusher, mode)
	if err != nil {
		v.logger.Error().Err(err).Uint64("delta", v.sb.Delta).Msg("commit failed")

		return err
	}

	v.logger.Debug().
		Uint64("delta", v.sb.Delta).
		Uint64("rollup", v.sb.Rollup).
		Msg("commit complete")

	return nil
}

// MarkInodeDirty and MarkBufferDirty must be called while holding
// delta_lock shared (i.e. between BeginChange and EndChange).

// MarkInodeDirty ORs flags into inode's dirty state.
func (v *Volume) MarkInodeDirty(inode uint64, flags DirtyState) {
	markInodeDirty(v.sb, inode, flags)
}

// MarkBufferDirty marks inode's data-page-dirty flag.
func (v *Volume) MarkBufferDirty(inode uint64) {
	markBufferDirty(v.sb, inode)
}

// DeferFree stashes a (block,count) free intent into defree, applied right
// after this delta's superblock write succeeds.
func (v *Volume) DeferFree(block uint64, count uint16) error {
	return v.sb.Defree.Push(block, count)
}

// AddOrphan and RemoveOrphan stage an orphan-table change, reconciled at
// the next rollup (deletions before insertions).
func (v *Volume) AddOrphan(inode uint64) {
	v.sb.OrphanAdd[inode] = true
}

func (v *Volume) RemoveOrphan(inode uint64) {
	v.sb.OrphanDel[inode] = true
}

// PinBuffer adds inode to the pinned list flushed alongside the bitmap at
// the next rollup.
func (v *Volume) PinBuffer(inode uint64) {
	v.sb.pinned = append(v.sb.pinned, inode)
}

// Snapshot is a read-only copy of a superblock's on-disk-mirrored fields
// and counters, safe to pass by value (unlike Superblock itself, which
// embeds delta_lock).
type Snapshot struct {
	Blockbits    uint16
	Volblocks    uint64
	Freeblocks   uint64
	Nextalloc    uint64
	Atomdictsize uint64
	Atomgen      uint32
	Freeatom     uint32
	Iroot        uint64
	Oroot        uint64
	Logchain     uint64
	Logcount     uint32
	Delta        uint64
	Rollup       uint64
}

// Snapshot returns a read-only snapshot of the volume's current superblock
// state, for inspection by hosts and tests.
func (v *Volume) Snapshot() Snapshot {
	return Snapshot{
		Blockbits:    v.sb.Blockbits,
		Volblocks:    v.sb.Volblocks,
		Freeblocks:   v.sb.Freeblocks,
		Nextalloc:    v.sb.Nextalloc,
		Atomdictsize: v.sb.Atomdictsize,
		Atomgen:      v.sb.Atomgen,
		Freeatom:     v.sb.Freeatom,
		Iroot:        v.sb.Iroot,
		Oroot:        v.sb.Oroot,
		Logchain:     v.sb.Logchain,
		Logcount:     v.sb.Logcount,
		Delta:        v.sb.Delta,
		Rollup:       v.sb.Rollup,
	}
}
