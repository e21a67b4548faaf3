package commit

import "fmt"

// markInodeDirty ORs flags into inode's dirty state and places it on the
// superblock's dirty-inode list if it was not already dirty.
func markInodeDirty(sb *Superblock, inode uint64, flags DirtyState) {
	prev, existed := sb.DirtyInodes[inode]
	sb.DirtyInodes[inode] = prev | flags

	if !existed {
		sb.inodeOrder = append(sb.inodeOrder, inode)
	}
}

// markBufferDirty marks the owning inode's page-dirty flag, mirroring
// mark_buffer_dirty.
func markBufferDirty(sb *Superblock, inode uint64) {
	markInodeDirty(sb, inode, DirtyPages)
}

// syncInodes implements the writeback coordinator's flush order:
//  1. Detach the current dirty list atomically into a local working list.
//  2. Skip the bitmap and volume-map inodes (flushed by rollup and
//     write_leaves respectively).
//  3. Flush each other inode: clear its dirty bits first (so a concurrent
//     re-dirty during the flush call is captured for the next delta), then
//     flush data pages if DirtyPages was set, then the inode record if
//     DirtySync|DirtyDatasync was set.
//  4. On error, splice the untraversed portion of the working list back
//     onto the head of dirty_inodes and return the error.
func syncInodes(sb *Superblock, flusher InodeFlusher) error {
	working := sb.inodeOrder
	workingState := sb.DirtyInodes

	sb.inodeOrder = nil
	sb.DirtyInodes = make(map[uint64]DirtyState)

	for i, inode := range working {
		if inode == BitmapInode || inode == VolmapInode {
			continue
		}

		state := workingState[inode]

		// Clearing this inode's bits happened implicitly above: its entry
		// was not copied into the fresh sb.DirtyInodes map, so any
		// re-dirty that happens during the flush calls below (via
		// markInodeDirty) lands cleanly in the next delta's dirty list.

		if state&DirtyPages != 0 {
			if err := flusher.FlushBuffers(inode); err != nil {
				spliceRemainder(sb, working[i:], workingState)

				return fmt.Errorf("commit: flush buffers for inode %d: %w", inode, err)
			}
		}

		if state&(DirtySync|DirtyDatasync) != 0 {
			if err := flusher.WriteInode(inode); err != nil {
				spliceRemainder(sb, working[i:], workingState)

				return fmt.Errorf("commit: write inode %d: %w", inode, err)
			}
		}
	}

	return nil
}

// spliceRemainder prepends the untraversed inodes (with their original
// pre-flush dirty state, preserving relative order) onto the head of the
// superblock's current dirty list, which may already hold inodes
// re-dirtied by the partial flush that just failed.
func spliceRemainder(sb *Superblock, remainder []uint64, remainderState map[uint64]DirtyState) {
	newOrder := make([]uint64, 0, len(remainder)+len(sb.inodeOrder))
	newState := make(map[uint64]DirtyState, len(remainder)+len(sb.DirtyInodes))

	for _, inode := range remainder {
		newState[inode] = remainderState[inode]
		newOrder = append(newOrder, inode)
	}

	for _, inode := range sb.inodeOrder {
		if _, already := newState[inode]; !already {
			newOrder = append(newOrder, inode)
		}

		newState[inode] |= sb.DirtyInodes[inode]
	}

	sb.inodeOrder = newOrder
	sb.DirtyInodes = newState
}
