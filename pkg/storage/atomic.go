// Atomic single-record persistence.
//
// Every record write lands in a uniquely named temp file in the same
// directory as the target, is fsynced, then renamed onto the target path.
// rename(2) on a single filesystem is atomic with respect to concurrent
// readers: a reader sees the old content or the new content, never a mix.
// The temp file must share the target's directory; a cross-filesystem temp
// location would turn the final move into a copy and break the guarantee.

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Temp-file naming convention. The prefix and suffix are reserved: no
// canonical record name ever starts with ".loom-", so temp files are
// trivially distinguishable during load and sweep.
const (
	tempPrefix = ".loom-"
	tempSuffix = ".tmp"
)

// IsTempFile reports whether a base name follows the writer's temp-file
// naming convention.
func IsTempFile(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, tempSuffix)
}

// tempPath returns a unique temp path in the same directory as target.
// PID plus UUID keeps concurrent writers from the same or different
// processes from colliding.
func tempPath(target string) string {
	name := fmt.Sprintf("%s%d-%s%s", tempPrefix, os.Getpid(), uuid.NewString(), tempSuffix)
	return filepath.Join(filepath.Dir(target), name)
}

// AtomicWriteFile writes data to path such that any observer sees either the
// fully-old or fully-new content.
//
// On failure the target is untouched. Failure paths within this process also
// remove the temp file; only a process killed mid-write can leave an orphan,
// which SweepTemp reclaims later.
func AtomicWriteFile(path string, data []byte) error {
	tmp := tempPath(path)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}

	// The temp file must be durable before the rename, otherwise a crash
	// after the rename could surface a zero-length record.
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Make the rename itself durable. Best effort: some filesystems do not
	// support fsync on directories.
	syncDir(filepath.Dir(path))

	return nil
}

// AtomicWriteJSON serializes v as indented JSON and writes it atomically.
// Serialization failures happen before any filesystem I/O, so a bad value
// never produces a temp file.
func AtomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return AtomicWriteFile(path, append(data, '\n'))
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// ReadFileRetry reads path, retrying transient failures with exponential
// backoff up to maxRetries attempts.
//
// A reader can legitimately race a writer's rename; that window is not data
// corruption and must not be surfaced as such. Persistent errors (permission
// denied and the like) fail immediately.
func ReadFileRetry(path string, maxRetries int, baseDelay time.Duration) ([]byte, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 10 * time.Millisecond
	}

	var data []byte
	op := func() error {
		var err error
		data, err = os.ReadFile(path)
		if err == nil {
			return nil
		}
		if isTransientReadErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = baseDelay
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(maxRetries))); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// isTransientReadErr reports whether a read error can resolve on its own,
// i.e. is worth retrying.
func isTransientReadErr(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		// Target momentarily absent while a writer's rename lands.
		return true
	}
	return errors.Is(err, syscall.EINTR) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY)
}

// SweepTemp removes orphaned temp files under dir whose modification time is
// older than minAge, returning the number removed.
//
// A process killed between writing its temp file and renaming it leaves an
// orphan. The orphan never matches a canonical record name, so it is
// invisible to the read path and harmless beyond disk usage. Files younger
// than minAge are always left alone to avoid racing an in-flight writer.
// The sweep is idempotent and safe to run at any time.
func SweepTemp(dir string, minAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-minAge)
	removed := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A record directory can vanish mid-walk (concurrent delete).
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !IsTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep %s: %w", dir, err)
	}
	return removed, nil
}
