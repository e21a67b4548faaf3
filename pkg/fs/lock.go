package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by [Locker.TryLock] when the lock is already held.
var ErrWouldBlock = errors.New("fs: lock would block")

// Lock is a held advisory lock on a path. The zero value is not usable.
//
// Locks are released by [Lock.Close]. Close is idempotent.
type Lock struct {
	file    File
	path    string
	closeMu sync.Mutex
	closed  bool
}

// Close releases the lock. Safe to call multiple times, including
// concurrently.
//
// Close does not remove the lock file from disk — only the process's flock
// hold on it.
func (l *Lock) Close() error {
	if l == nil {
		return nil
	}

	l.closeMu.Lock()
	defer l.closeMu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()

	if err != nil {
		return fmt.Errorf("fs: unlock %q: %w", l.path, err)
	}

	if closeErr != nil {
		return fmt.Errorf("fs: close lock file %q: %w", l.path, closeErr)
	}

	return nil
}

// Locker acquires OS advisory (flock) locks on sidecar files.
//
// A Locker coordinates writers across processes; it says nothing about
// in-process concurrency, which callers must still serialize themselves.
type Locker struct {
	fs FS
}

// NewLocker returns a Locker that creates lock files through fsys.
// Panics if fsys is nil.
func NewLocker(fsys FS) *Locker {
	if fsys == nil {
		panic("fs: NewLocker: fsys is nil")
	}

	return &Locker{fs: fsys}
}

// TryLock acquires an exclusive, non-blocking advisory lock on path.
//
// The file is created if it does not exist. On contention, TryLock returns
// an error satisfying errors.Is(err, ErrWouldBlock) immediately; it never
// blocks.
func (l *Locker) TryLock(path string) (*Lock, error) {
	file, err := l.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fs: open lock file %q: %w", path, err)
	}

	err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		_ = file.Close()

		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}

		return nil, fmt.Errorf("fs: flock %q: %w", path, err)
	}

	return &Lock{file: file, path: path}, nil
}

// LockWithTimeout retries TryLock until it succeeds, ctx is done, or the
// context's deadline elapses.
//
// This is a polling fallback, not a blocking flock: blocking LOCK_EX would
// give us no way to honor ctx cancellation once the syscall has started.
func (l *Locker) LockWithTimeout(ctx context.Context, path string) (*Lock, error) {
	const pollInterval = 10 * time.Millisecond

	for {
		lock, err := l.TryLock(path)
		if err == nil {
			return lock, nil
		}

		if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fs: lock %q: %w", path, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
