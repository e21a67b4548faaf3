package commit

import "sync"

// MagicLen is the length in bytes of the superblock magic field.
const MagicLen = 16

// SBLoc and SBLen fix the superblock's byte offset and length on the
// backing volume.
const (
	SBLoc = 0
	SBLen = 512
)

// magic is the fixed 16-byte superblock identifier, TUX3_MAGIC in the
// original source.
var magic = [MagicLen]byte{'t', 'u', 'x', '3', 'c', 'e', 0x5f, 'c', 'o', 'm', 'm', 'i', 't', 0, 0, 1}

// magicLog is the 16-bit log-block identifier, TUX3_MAGIC_LOG.
const magicLog uint16 = 0x7433

// RollupMode selects how do_commit decides whether to nest a rollup inside
// a delta.
type RollupMode int

const (
	// NoRollup never runs a rollup for this delta.
	NoRollup RollupMode = iota
	// AllowRollup runs a rollup only if the rollup policy fires.
	AllowRollup
	// ForceRollup always runs a rollup for this delta.
	ForceRollup
)

func (m RollupMode) String() string {
	switch m {
	case NoRollup:
		return "NO_ROLLUP"
	case AllowRollup:
		return "ALLOW_ROLLUP"
	case ForceRollup:
		return "FORCE_ROLLUP"
	default:
		return "UNKNOWN_ROLLUP_MODE"
	}
}

// LogEntryKind tags a variably sized log entry. Encoding and decoding are
// pure functions of (kind, payload); new kinds extend the set without
// touching existing ones.
type LogEntryKind byte

const (
	// LogDelta marks the start of a delta. Debug/ordering landmark only.
	LogDelta LogEntryKind = iota + 1
	// LogRollup marks the start of a new rollup cycle.
	LogRollup
	// LogFreeblocks snapshots the free-block count once per rollup, to
	// seed bitmap recovery.
	LogFreeblocks
	// LogBfree is a deferred-free intent newly recorded this delta.
	LogBfree
	// LogBfreeRelog is a deferred-free intent re-emitted across a rollup
	// boundary.
	LogBfreeRelog
)

func (k LogEntryKind) String() string {
	switch k {
	case LogDelta:
		return "DELTA"
	case LogRollup:
		return "ROLLUP"
	case LogFreeblocks:
		return "FREEBLOCKS"
	case LogBfree:
		return "BFREE"
	case LogBfreeRelog:
		return "BFREE_RELOG"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is one decoded record from a log block.
type LogEntry struct {
	Kind LogEntryKind
	// Block/Count are populated for LogBfree and LogBfreeRelog.
	Block uint64
	Count uint16
	// Freeblocks is populated for LogFreeblocks.
	Freeblocks uint64
}

// DirtyState is an inode's dirty-state bitmask.
type DirtyState uint8

const (
	// DirtySync means the inode's attributes (metadata) are dirty.
	DirtySync DirtyState = 1 << iota
	// DirtyDatasync means the inode requires a data-integrity sync.
	DirtyDatasync
	// DirtyPages means the inode's data buffers are dirty.
	DirtyPages
)

// packRoot packs a b-tree root block address and depth into a single
// 64-bit word: the low 56 bits hold the block address, the high 8 bits
// hold the depth. This is the concrete encoding behind the abstract
// pack_root/unpack_root pair named in the external-interfaces section.
func packRoot(block uint64, depth uint8) uint64 {
	return (uint64(depth) << 56) | (block & 0x00FF_FFFF_FFFF_FFFF)
}

func unpackRoot(word uint64) (block uint64, depth uint8) {
	return word & 0x00FF_FFFF_FFFF_FFFF, uint8(word >> 56)
}

// Root is the in-memory unpacked form of a packed b-tree root word.
type Root struct {
	Block uint64
	Depth uint8
}

// Pack packs r into the on-disk 64-bit word form.
func (r Root) Pack() uint64 { return packRoot(r.Block, r.Depth) }

// UnpackRoot unpacks a packed root word into a Root.
func UnpackRoot(word uint64) Root {
	block, depth := unpackRoot(word)

	return Root{Block: block, Depth: depth}
}

// Superblock is the on-disk, fixed-location super-record, plus the
// in-memory-only fields that mirror and extend it (delta/rollup counters,
// staging state, stashes, dirty lists, and the concurrency primitive
// guarding all of it).
//
// The on-disk subset is the fixed set of fields encoded by encodeSB; the
// rest exists only in memory and is never serialized directly: it starts
// out empty or zero when a volume is mounted (Open does not replay the log
// chain to rebuild it), or is per-process staging state with no on-disk
// representation at all.
type Superblock struct {
	// On-disk fields.
	Blockbits    uint16
	Volblocks    uint64
	Freeblocks   uint64
	Nextalloc    uint64
	Atomdictsize uint64
	Atomgen      uint32
	Freeatom     uint32
	Iroot        uint64 // packed Root
	Oroot        uint64 // packed Root
	Logchain     uint64
	Logcount     uint32

	// In-memory-only fields.
	Delta  uint64 // monotonic count of committed deltas
	Rollup uint64 // monotonic count of completed rollups

	Lognext uint32            // log blocks staged in the current delta
	Logmap  map[uint32][]byte // staged log blocks, keyed by staging index

	Defree   *Stash // frees generated this delta
	Derollup *Stash // frees deferred to the delta after the next rollup

	DirtyInodes map[uint64]DirtyState // inode number -> dirty bits
	inodeOrder  []uint64              // insertion order, for deterministic flush

	AllocTracked map[uint64]bool // inodes touched by this delta's allocation paths
	OrphanAdd    map[uint64]bool
	OrphanDel    map[uint64]bool

	Policy Policy

	// deltaLock is the single reader/writer lock per mounted volume:
	// frontend mutators hold it shared between begin_change/end_change,
	// the committer holds it exclusive for the duration of do_commit.
	deltaLock sync.RWMutex

	pinned []uint64 // inodes whose pinned buffers await the rollup flush

	logCur []byte // currently open log block under construction
}

// newSuperblock returns a freshly initialized in-memory superblock with
// all stashes, maps, and the default policy ready to use. It does not
// populate on-disk fields; callers get those from LoadSB, or from FormatSB
// at format time.
func newSuperblock() *Superblock {
	return &Superblock{
		Logmap:       make(map[uint32][]byte),
		Defree:       NewStash(),
		Derollup:     NewStash(),
		DirtyInodes:  make(map[uint64]DirtyState),
		AllocTracked: make(map[uint64]bool),
		OrphanAdd:    make(map[uint64]bool),
		OrphanDel:    make(map[uint64]bool),
		Policy:       NewPolicy(),
	}
}

// BitmapInode and VolmapInode are the two reserved, special inode numbers.
// They are never present in the normal dirty_inodes flush path
// (sync_inodes skips them); bitmap is flushed by the rollup controller,
// volmap by the delta controller's write_leaves step.
const (
	BitmapInode uint64 = 1
	VolmapInode uint64 = 2
)
