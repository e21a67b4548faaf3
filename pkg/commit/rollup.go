package commit

import "fmt"

// runRollup performs the ten-step rollup sequence under the same exclusive
// hold of delta_lock as the enclosing delta. It materializes the latest
// allocation-bitmap snapshot and reconciles accumulated orphan changes,
// obsoleting every log entry written before it.
func runRollup(sb *Superblock, dev BlockDevice, orphans OrphanTable, flusher InodeFlusher) error {
	// 1. Snapshot and clear the frontend-visible orphan lists.
	orphanAdd := sb.OrphanAdd
	orphanDel := sb.OrphanDel
	sb.OrphanAdd = make(map[uint64]bool)
	sb.OrphanDel = make(map[uint64]bool)

	// 2. Start a new log cycle: old logs are about to be obsoleted by the
	// rollup marker below.
	sb.Logcount = 0

	// 3. Append a ROLLUP log entry marking the boundary.
	if err := appendRollupMarker(sb, dev.BlockSize()); err != nil {
		return fmt.Errorf("commit: rollup marker: %w", err)
	}

	// 4. Append a FREEBLOCKS entry with the current freeblocks value.
	if err := appendFreeblocksEntry(sb, dev.BlockSize(), sb.Freeblocks); err != nil {
		return fmt.Errorf("commit: freeblocks entry: %w", err)
	}

	// 5. Re-log frontend-deferred frees without draining defree; those
	// frees still apply at this delta's commit point.
	err := sb.Defree.Walk(func(block uint64, count uint16) error {
		return appendBfreeEntry(sb, dev.BlockSize(), LogBfreeRelog, block, count)
	})
	if err != nil {
		return fmt.Errorf("commit: re-log defree: %w", err)
	}

	// 6. Re-log and drain derollup: each stashed value is re-logged and
	// re-inserted into defree so it applies at this delta's commit point.
	err = sb.Derollup.Drain(func(block uint64, count uint16) error {
		if err := appendBfreeEntry(sb, dev.BlockSize(), LogBfreeRelog, block, count); err != nil {
			return err
		}

		return sb.Defree.Push(block, count)
	})
	if err != nil {
		return fmt.Errorf("commit: re-log and drain derollup: %w", err)
	}

	// 7. Flush pinned b-tree node buffers.
	for _, inode := range sb.pinned {
		if err := flusher.FlushBuffers(inode); err != nil {
			return fmt.Errorf("commit: flush pinned buffers for %d: %w", inode, err)
		}
	}
	sb.pinned = sb.pinned[:0]

	// 8. Flush the bitmap inode. This may dirty further bitmap blocks;
	// those belong to the next rollup cycle by design.
	if err := flusher.FlushBuffers(BitmapInode); err != nil {
		return fmt.Errorf("commit: flush bitmap: %w", err)
	}

	if err := flusher.WriteInode(BitmapInode); err != nil {
		return fmt.Errorf("commit: write bitmap inode: %w", err)
	}

	// 9. Apply orphan_del before orphan_add: the same inode number may
	// appear in both lists, and an insertion applied first would be
	// clobbered by the pending deletion.
	for inode := range orphanDel {
		if err := orphans.Delete(inode); err != nil {
			return fmt.Errorf("commit: orphan delete %d: %w", inode, err)
		}
	}

	for inode := range orphanAdd {
		if err := orphans.Insert(inode); err != nil {
			return fmt.Errorf("commit: orphan insert %d: %w", inode, err)
		}
	}

	// 10. Increment the rollup counter.
	sb.Rollup++

	return nil
}
