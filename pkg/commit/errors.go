package commit

import "errors"

// ErrBadMagic indicates a superblock or log block read back a magic value
// that does not match the expected constant. Superblock corruption is
// fatal to mount; log corruption is fatal to that one recovery walk.
var ErrBadMagic = errors.New("commit: bad magic")

// ErrVolumeClosed reports use of a Volume after [Volume.Close]. No Volume
// method checks for a closed volume or returns this error: Commit,
// EndChange and the other methods keep operating after Close.
var ErrVolumeClosed = errors.New("commit: volume closed")

// ErrCommitInFlight names a second commit started while one is already
// running. No code path in this package returns it: do_commit always runs
// under the exclusively held delta_lock, so a second committer waits for
// the lock instead of failing.
var ErrCommitInFlight = errors.New("commit: commit already in flight")

// ErrInvariant reports a violated invariant that the design treats as fatal
// in debug builds and as a bug report in release builds (spec §7,
// "Invariant violation"). This module always treats it as an error return
// rather than a panic, leaving the choice of whether to crash the process
// to the hosting filesystem.
var ErrInvariant = errors.New("commit: invariant violation")

// ErrStashCountOverflow is returned by [Stash.Push] when count exceeds the
// 16 bits available in the packed (block,count) encoding. Callers must
// split larger runs themselves.
var ErrStashCountOverflow = errors.New("commit: stash count exceeds 65535")

// ErrStashBlockOverflow is returned by [Stash.Push] when block does not fit
// in the 48 bits available in the packed encoding.
var ErrStashBlockOverflow = errors.New("commit: stash block exceeds 48 bits")

// ErrUnknownLogEntry is returned while decoding a log block whose entry tag
// is not one of the known [LogEntryKind] values.
var ErrUnknownLogEntry = errors.New("commit: unknown log entry kind")
