package commit

import "fmt"

// doCommit is do_commit: executed under exclusive hold of delta_lock. It
// advances sb.Delta by one, performs the steps below in this exact order,
// and returns the first error encountered.
//
// Errors from steps 1-3 short-circuit and propagate; the delta counter has
// already advanced and the stash remains intact for the next attempt.
// Errors from steps 4-6 currently propagate without unwinding partial
// state — the same known limitation the original carries (spec §9,
// "partial failure past the superblock write").
func doCommit(sb *Superblock, dev BlockDevice, btree BTree, orphans OrphanTable, flusher InodeFlusher, mode RollupMode) error {
	sb.Delta++

	// 1. Append a DELTA log entry.
	if err := appendDeltaMarker(sb, dev.BlockSize()); err != nil {
		return fmt.Errorf("commit: delta marker: %w", err)
	}

	// 2. Stage delta: flush all non-bitmap, non-volmap dirty inodes before
	// any optional rollup, so this delta's modifications are merged with
	// the rollup's bitmap work and cursor-redirect dirty-state coherence
	// in the b-tree layer is preserved.
	if err := syncInodes(sb, flusher); err != nil {
		return fmt.Errorf("commit: stage delta: %w", err)
	}

	// 3. Conditional rollup.
	runRollupNow := mode == ForceRollup || (mode == AllowRollup && sb.Policy.NeedRollup())
	if runRollupNow {
		if err := runRollup(sb, dev, orphans, flusher); err != nil {
			return fmt.Errorf("commit: rollup: %w", err)
		}

		if err := appendDeltaMarker(sb, dev.BlockSize()); err != nil {
			return fmt.Errorf("commit: post-rollup delta marker: %w", err)
		}
	}

	// 4. Write leaves: flush the volume-map inode, persisting all dirty
	// b-tree leaf and internal-node blocks through the block cache.
	if err := flusher.FlushBuffers(VolmapInode); err != nil {
		return fmt.Errorf("commit: write leaves: %w", err)
	}

	if btree != nil {
		sb.Iroot = btree.PackRoot()
	}

	// 5. Write log: allocate disk addresses for every staged log block,
	// write them in order, and update logchain/logcount.
	if err := flushLog(sb, dev); err != nil {
		return fmt.Errorf("commit: write log: %w", err)
	}

	// Reflect the allocator's free count as of right now: the log blocks
	// just allocated above are accounted for, but defree's entries are
	// not freed until after the superblock write below, so the superblock
	// this delta commits necessarily lags the post-drain count by exactly
	// this delta's deferred frees.
	sb.Freeblocks = dev.FreeBlocks()

	// 6. Commit delta: write the superblock. This is the atomic commit
	// point. On success, drain defree by actually freeing each stashed
	// (block,count) via the allocator.
	if err := SaveSB(dev, sb); err != nil {
		return fmt.Errorf("commit: write superblock: %w", err)
	}

	err := sb.Defree.Drain(func(block uint64, count uint16) error {
		return dev.Free(block, count)
	})
	if err != nil {
		return fmt.Errorf("commit: drain defree: %w", err)
	}

	return nil
}
