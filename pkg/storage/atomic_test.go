package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listTempFiles returns the temp-convention files directly under dir.
func listTempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var out []string
	for _, e := range entries {
		if IsTempFile(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

func TestAtomicWriteFile(t *testing.T) {
	t.Run("writes full content", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "record.json")

		require.NoError(t, AtomicWriteFile(path, []byte("hello")))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("overwrites atomically", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "record.json")

		require.NoError(t, AtomicWriteFile(path, []byte("old")))
		require.NoError(t, AtomicWriteFile(path, []byte("new")))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	t.Run("no temp files remain after success", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "record.json")

		require.NoError(t, AtomicWriteFile(path, []byte("content")))
		assert.Empty(t, listTempFiles(t, dir))
	})

	t.Run("failure leaves target untouched and no temp files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "record.json")
		require.NoError(t, AtomicWriteFile(path, []byte("original")))

		// A directory at the temp-create step cannot fail portably, but a
		// serialization error must fail before any I/O happens.
		err := AtomicWriteJSON(path, make(chan int))
		require.Error(t, err)

		data, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		assert.Equal(t, "original", string(data))
		assert.Empty(t, listTempFiles(t, dir))
	})

	t.Run("interrupted writer leaves target intact", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "record.json")
		require.NoError(t, AtomicWriteFile(path, []byte("original")))

		// Simulate a process killed between temp write and rename: the
		// orphan sits beside the target under the reserved naming
		// convention.
		orphan := filepath.Join(dir, tempPrefix+"1234-dead"+tempSuffix)
		require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0o644))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))

		removed, err := SweepTemp(dir, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.Empty(t, listTempFiles(t, dir))
	})
}

func TestAtomicWriteJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "node.json")

		node := NewNode(CollectionFeature, "Dark mode")
		node.Attrs.Status = "todo"
		require.NoError(t, AtomicWriteJSON(path, node))

		got, err := readNode(path)
		require.NoError(t, err)
		assert.Equal(t, node.ID, got.ID)
		assert.Equal(t, "todo", got.Attrs.Status)
	})

	t.Run("serialization failure creates no temp file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "node.json")

		err := AtomicWriteJSON(path, func() {})
		require.Error(t, err)

		assert.Empty(t, listTempFiles(t, dir))
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestReadFileRetry(t *testing.T) {
	t.Run("reads existing file immediately", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "f")
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

		data, err := ReadFileRetry(path, 3, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
	})

	t.Run("recovers when file appears during backoff", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "f")

		go func() {
			time.Sleep(25 * time.Millisecond)
			_ = AtomicWriteFile(path, []byte("late"))
		}()

		data, err := ReadFileRetry(path, 10, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "late", string(data))
	})

	t.Run("surfaces error after exhaustion", func(t *testing.T) {
		_, err := ReadFileRetry(filepath.Join(t.TempDir(), "missing"), 1, time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})
}

func TestSweepTemp(t *testing.T) {
	t.Run("never removes files younger than min age", func(t *testing.T) {
		dir := t.TempDir()
		orphan := filepath.Join(dir, tempPrefix+"99-young"+tempSuffix)
		require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))

		removed, err := SweepTemp(dir, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.FileExists(t, orphan)
	})

	t.Run("always removes files older than min age", func(t *testing.T) {
		dir := t.TempDir()
		orphan := filepath.Join(dir, tempPrefix+"99-old"+tempSuffix)
		require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))
		old := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(orphan, old, old))

		removed, err := SweepTemp(dir, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
		assert.NoFileExists(t, orphan)
	})

	t.Run("ignores canonical record files", func(t *testing.T) {
		dir := t.TempDir()
		record := filepath.Join(dir, "feat-abc123.json")
		require.NoError(t, os.WriteFile(record, []byte("{}"), 0o644))
		old := time.Now().Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(record, old, old))

		removed, err := SweepTemp(dir, 0)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.FileExists(t, record)
	})

	t.Run("walks nested collection directories", func(t *testing.T) {
		dir := t.TempDir()
		sub := filepath.Join(dir, "features")
		require.NoError(t, os.MkdirAll(sub, 0o755))
		orphan := filepath.Join(sub, tempPrefix+"7-nested"+tempSuffix)
		require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))

		removed, err := SweepTemp(dir, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})

	t.Run("idempotent", func(t *testing.T) {
		dir := t.TempDir()
		removed, err := SweepTemp(dir, 0)
		require.NoError(t, err)
		assert.Zero(t, removed)

		removed, err = SweepTemp(dir, 0)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestIsTempFile(t *testing.T) {
	assert.True(t, IsTempFile(".loom-123-abc.tmp"))
	assert.False(t, IsTempFile("feat-abc123.json"))
	assert.False(t, IsTempFile(".loom-123-abc.json"))
	assert.False(t, IsTempFile("loom-123.tmp"))
}
