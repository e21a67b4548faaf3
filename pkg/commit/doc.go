// Package commit implements the commit engine of a copy-on-write
// block-based filesystem: the subsystem that turns in-memory modifications
// made by frontend operations into a consistent, crash-recoverable on-disk
// state.
//
// It defines the atomic unit of durability (the delta), orchestrates two
// nested cycles of persistence (deltas and rollups), mediates concurrency
// between frontend mutators and a single backend committer, maintains a
// redo log of block-allocator intents, and guarantees that every allocated
// block is either committed or safely reclaimable after a crash.
//
// In scope: the delta/rollup state machine ([Volume.EndChange],
// [Volume.Commit]), the deferred-free stash protocol ([Stash]), log-record
// generation and chaining (flushLog, [WalkLogChain]), the ordering of
// bitmap/leaf/superblock writes, the orphan-inode reconciliation step
// (runRollup), and the reader/writer concurrency contract guarding a
// commit.
//
// Out of scope (external collaborators, consumed through the narrow
// interfaces in collaborators.go): the b-tree implementation backing the
// inode table and orphan table, the block allocator, the buffered block
// cache, inode writeback for regular files, and the on-disk directory/atom
// tables. Minimal stand-ins for these live in
// [github.com/calvinalkan/tux3ce/pkg/blockdev] and
// [github.com/calvinalkan/tux3ce/pkg/blockcache].
//
// Non-goals: generalized multi-writer transactional semantics, online
// resize, cross-volume atomicity, schema versioning (the on-disk version is
// fixed at 0).
package commit
