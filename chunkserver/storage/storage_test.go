package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gfscore/apis"
	"gfscore/chunkserver/storage"
)

// backends runs every test below against both storage.Backend
// implementations, the way the teacher's MemoryStorage was meant to stand
// in for DiskStorage before the on-disk version existed.
func backends(t *testing.T) map[string]storage.Backend {
	disk, err := storage.ConfigureDiskStorage(t.TempDir())
	require.NoError(t, err)
	mem, err := storage.ConfigureMemoryStorage()
	require.NoError(t, err)
	return map[string]storage.Backend{"disk": disk, "memory": mem}
}

func TestBackendWriteThenRead(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			handle := apis.NewChunkHandle()
			require.NoError(t, b.Create(handle))
			require.NoError(t, b.Write(handle, 0, []byte("hello world")))

			got, err := b.Read(handle, 0, 11)
			require.NoError(t, err)
			assert.Equal(t, []byte("hello world"), got)
		})
	}
}

func TestBackendReadPastEndReturnsShort(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			handle := apis.NewChunkHandle()
			require.NoError(t, b.Create(handle))
			require.NoError(t, b.Write(handle, 0, []byte("abc")))

			got, err := b.Read(handle, 0, 100)
			require.NoError(t, err)
			assert.Equal(t, []byte("abc"), got)
		})
	}
}

func TestBackendSizeTracksHighestWrite(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			handle := apis.NewChunkHandle()
			require.NoError(t, b.Create(handle))
			require.NoError(t, b.Write(handle, 10, []byte("xyz")))
			assert.Equal(t, uint64(13), b.Size(handle))
		})
	}
}

func TestBackendDeleteRemovesChunk(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			handle := apis.NewChunkHandle()
			require.NoError(t, b.Create(handle))
			require.NoError(t, b.Write(handle, 0, []byte("gone soon")))
			require.NoError(t, b.Delete(handle))
			assert.Equal(t, uint64(0), b.Size(handle))
			assert.NotContains(t, b.Handles(), handle)
		})
	}
}

func TestBackendHandlesListsCreatedChunks(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h1, h2 := apis.NewChunkHandle(), apis.NewChunkHandle()
			require.NoError(t, b.Create(h1))
			require.NoError(t, b.Create(h2))
			assert.ElementsMatch(t, []apis.ChunkHandle{h1, h2}, b.Handles())
		})
	}
}

func TestBackendLockIsPerChunk(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			h1, h2 := apis.NewChunkHandle(), apis.NewChunkHandle()
			l1 := b.Lock(h1)
			l2 := b.Lock(h2)
			assert.NotSame(t, l1, l2)
			assert.Same(t, l1, b.Lock(h1))
		})
	}
}

func TestDiskStorageDetectsCorruptedBlock(t *testing.T) {
	dir := t.TempDir()
	disk, err := storage.ConfigureDiskStorage(dir)
	require.NoError(t, err)

	handle := apis.NewChunkHandle()
	require.NoError(t, disk.Create(handle))
	require.NoError(t, disk.Write(handle, 0, []byte("trustworthy bytes")))

	dataPath := filepath.Join(dir, handle.String()+".chk")
	raw, err := os.ReadFile(dataPath)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(dataPath, raw, 0o644))

	_, err = disk.Read(handle, 0, uint64(len(raw)))
	assert.ErrorIs(t, err, apis.ErrChecksumMismatch)
}

func TestConfigureDiskStorageIndexesExistingChunks(t *testing.T) {
	dir := t.TempDir()
	disk, err := storage.ConfigureDiskStorage(dir)
	require.NoError(t, err)
	handle := apis.NewChunkHandle()
	require.NoError(t, disk.Create(handle))
	require.NoError(t, disk.Write(handle, 0, []byte("persisted")))

	reopened, err := storage.ConfigureDiskStorage(dir)
	require.NoError(t, err)
	assert.Contains(t, reopened.Handles(), handle)

	data, err := reopened.Read(handle, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), data)
}
