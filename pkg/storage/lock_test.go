package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirLockExclusive(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		dir := t.TempDir()
		lock := NewDirLock(dir)

		require.NoError(t, lock.AcquireExclusive(time.Second))
		assert.True(t, lock.Held())

		lock.Release()
		assert.False(t, lock.Held())
	})

	t.Run("second holder times out", func(t *testing.T) {
		dir := t.TempDir()
		first := NewDirLock(dir)
		second := NewDirLock(dir)

		require.NoError(t, first.AcquireExclusive(time.Second))
		defer first.Release()

		err := second.AcquireExclusive(100 * time.Millisecond)
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.False(t, second.Held())
	})

	t.Run("succeeds after release", func(t *testing.T) {
		dir := t.TempDir()
		first := NewDirLock(dir)
		second := NewDirLock(dir)

		require.NoError(t, first.AcquireExclusive(time.Second))
		first.Release()

		require.NoError(t, second.AcquireExclusive(time.Second))
		second.Release()
	})

	t.Run("mutual exclusion under contention", func(t *testing.T) {
		dir := t.TempDir()

		var mu sync.Mutex
		holders := 0
		maxHolders := 0

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				lock := NewDirLock(dir)
				if err := lock.AcquireExclusive(5 * time.Second); err != nil {
					return
				}
				mu.Lock()
				holders++
				if holders > maxHolders {
					maxHolders = holders
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				lock.Release()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, maxHolders, "two exclusive holders overlapped")
	})
}

func TestDirLockShared(t *testing.T) {
	t.Run("shared holders coexist", func(t *testing.T) {
		dir := t.TempDir()
		a := NewDirLock(dir)
		b := NewDirLock(dir)

		require.NoError(t, a.AcquireShared(time.Second))
		require.NoError(t, b.AcquireShared(time.Second))

		a.Release()
		b.Release()
	})

	t.Run("shared blocks exclusive", func(t *testing.T) {
		dir := t.TempDir()
		reader := NewDirLock(dir)
		writer := NewDirLock(dir)

		require.NoError(t, reader.AcquireShared(time.Second))

		err := writer.AcquireExclusive(100 * time.Millisecond)
		assert.ErrorIs(t, err, ErrLockTimeout)

		reader.Release()
		require.NoError(t, writer.AcquireExclusive(time.Second))
		writer.Release()
	})

	t.Run("exclusive blocks shared", func(t *testing.T) {
		dir := t.TempDir()
		writer := NewDirLock(dir)
		reader := NewDirLock(dir)

		require.NoError(t, writer.AcquireExclusive(time.Second))

		err := reader.AcquireShared(100 * time.Millisecond)
		assert.ErrorIs(t, err, ErrLockTimeout)
		writer.Release()
	})
}

func TestDirLockRelease(t *testing.T) {
	t.Run("releasing unheld lock is a no-op", func(t *testing.T) {
		lock := NewDirLock(t.TempDir())
		lock.Release()
		lock.Release()
		assert.False(t, lock.Held())
	})

	t.Run("double acquire on same handle fails", func(t *testing.T) {
		lock := NewDirLock(t.TempDir())
		require.NoError(t, lock.AcquireExclusive(time.Second))
		defer lock.Release()

		err := lock.AcquireShared(100 * time.Millisecond)
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}
