// Cross-process directory locking.
//
// The atomic writer only guarantees single-record atomicity. Operations that
// need a consistent view across multiple records (batch edits, analytics
// rebuilds) serialize through an advisory flock(2) on a well-known lock file
// inside the protected directory. Kernel advisory locks work across
// independent processes and are released automatically if the holder dies.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// LockFileName is the well-known lock file scoped to a store directory.
const LockFileName = ".loom.lock"

// lockPollInterval is how often a bounded wait re-attempts a non-blocking
// flock before giving up at the deadline.
const lockPollInterval = 25 * time.Millisecond

// DirLock coordinates multi-record operations on a store directory.
//
// Exclusive mode admits one holder; shared mode admits any number of
// concurrent holders and excludes exclusive holders. A timed-out acquire
// returns ErrLockTimeout, which callers treat as an expected outcome
// ("back off and retry"), not a failure to investigate.
//
// Example:
//
//	lock := storage.NewDirLock("./loom")
//	if err := lock.AcquireExclusive(5 * time.Second); err != nil {
//		return err // ErrLockTimeout: another process holds the directory
//	}
//	defer lock.Release()
type DirLock struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewDirLock creates a lock scoped to dir. No lock is taken until an
// Acquire call succeeds.
func NewDirLock(dir string) *DirLock {
	return &DirLock{path: filepath.Join(dir, LockFileName)}
}

// AcquireExclusive takes the lock in exclusive mode, waiting up to timeout.
// Returns ErrLockTimeout if the lock could not be taken in time.
func (l *DirLock) AcquireExclusive(timeout time.Duration) error {
	return l.acquire(unix.LOCK_EX, timeout)
}

// AcquireShared takes the lock in shared mode, waiting up to timeout.
// Any number of shared holders may coexist; an exclusive holder excludes
// them all.
func (l *DirLock) AcquireShared(timeout time.Duration) error {
	return l.acquire(unix.LOCK_SH, timeout)
}

func (l *DirLock) acquire(how int, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return fmt.Errorf("lock %s: %w", l.path, ErrAlreadyExists)
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return fmt.Errorf("flock: %w", err)
		}
		if !time.Now().Add(lockPollInterval).Before(deadline) {
			f.Close()
			return ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

// Release drops the lock. Releasing an unheld lock is a no-op so cleanup
// paths can call Release unconditionally.
func (l *DirLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// Held reports whether this handle currently holds the lock.
func (l *DirLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}
