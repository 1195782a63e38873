package master_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gfscore/addressdir"
	"gfscore/apis"
	"gfscore/config"
	"gfscore/master"
)

func newTestMaster(t *testing.T, replicationFactor int) *master.Master {
	t.Helper()
	cfg := config.DefaultMasterConfig()
	cfg.WALDir = t.TempDir()
	cfg.ReplicationFactor = replicationFactor
	m, err := master.New(cfg, addressdir.NewMemoryDirectory())
	require.NoError(t, err)
	return m
}

// registerServers brings up n chunkservers, each on its own rack, so
// selectReplicas has enough rack diversity to satisfy any replication factor
// used in these tests.
func registerServers(t *testing.T, m *master.Master, n int) []apis.ServerID {
	t.Helper()
	var ids []apis.ServerID
	for i := 0; i < n; i++ {
		id := apis.ServerID(fmt.Sprintf("cs-%d", i))
		addr := apis.ServerAddress(fmt.Sprintf("127.0.0.1:%d", 20000+i))
		_, err := m.RegisterChunkServer(id, addr, fmt.Sprintf("rack-%d", i), nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestCreateFileThenGetFileInfo(t *testing.T) {
	m := newTestMaster(t, 3)
	require.NoError(t, m.CreateFile("/a.txt"))

	info, err := m.GetFileInfo("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, apis.Path("/a.txt"), info.Path)
	assert.Empty(t, info.Chunks)
}

func TestCreateFileRejectsDuplicate(t *testing.T) {
	m := newTestMaster(t, 3)
	require.NoError(t, m.CreateFile("/a.txt"))
	err := m.CreateFile("/a.txt")
	assert.ErrorIs(t, err, apis.ErrAlreadyExists)
}

func TestCreateFileRejectsBadPath(t *testing.T) {
	m := newTestMaster(t, 3)
	assert.ErrorIs(t, m.CreateFile("relative.txt"), apis.ErrBadPath)
	assert.ErrorIs(t, m.CreateFile("/trailing/"), apis.ErrBadPath)
	assert.ErrorIs(t, m.CreateFile("/double//slash"), apis.ErrBadPath)
}

func TestGetFileInfoNotFound(t *testing.T) {
	m := newTestMaster(t, 3)
	_, err := m.GetFileInfo("/missing.txt")
	assert.ErrorIs(t, err, apis.ErrNotFound)
}

func TestAllocateChunkGrantsLeaseToAliveReplica(t *testing.T) {
	m := newTestMaster(t, 2)
	registerServers(t, m, 3)
	require.NoError(t, m.CreateFile("/big.txt"))

	loc, err := m.AllocateChunk("/big.txt", 0)
	require.NoError(t, err)
	assert.Len(t, loc.Replicas, 2)
	assert.NotEmpty(t, loc.Primary)
	assert.Contains(t, loc.Replicas, loc.Primary)
	assert.False(t, loc.LeaseExpiry.IsZero())
	assert.Equal(t, apis.ChunkVersion(1), loc.Version)
}

func TestAllocateChunkRejectsNonSequentialIndex(t *testing.T) {
	m := newTestMaster(t, 2)
	registerServers(t, m, 3)
	require.NoError(t, m.CreateFile("/big.txt"))

	_, err := m.AllocateChunk("/big.txt", 1)
	assert.Error(t, err)
}

func TestAllocateChunkFailsWithoutLiveReplicas(t *testing.T) {
	m := newTestMaster(t, 2)
	require.NoError(t, m.CreateFile("/lonely.txt"))

	_, err := m.AllocateChunk("/lonely.txt", 0)
	assert.ErrorIs(t, err, apis.ErrNoReplicas)
}

func TestGetChunkLocationsReturnsLease(t *testing.T) {
	m := newTestMaster(t, 2)
	registerServers(t, m, 3)
	require.NoError(t, m.CreateFile("/big.txt"))
	loc, err := m.AllocateChunk("/big.txt", 0)
	require.NoError(t, err)

	again, err := m.GetChunkLocations(loc.Handle, false, "", 0)
	require.NoError(t, err)
	assert.Equal(t, loc.Primary, again.Primary)
	assert.ElementsMatch(t, loc.Replicas, again.Replicas)
}

func TestGetChunkLocationsUnknownHandle(t *testing.T) {
	m := newTestMaster(t, 2)
	_, err := m.GetChunkLocations(apis.NewChunkHandle(), false, "", 0)
	assert.ErrorIs(t, err, apis.ErrNotFound)
}

func TestSnapshotFileCopiesChunkList(t *testing.T) {
	m := newTestMaster(t, 2)
	registerServers(t, m, 3)
	require.NoError(t, m.CreateFile("/src.txt"))
	_, err := m.AllocateChunk("/src.txt", 0)
	require.NoError(t, err)

	require.NoError(t, m.SnapshotFile("/src.txt", "/dst.txt"))

	dstInfo, err := m.GetFileInfo("/dst.txt")
	require.NoError(t, err)
	srcInfo, err := m.GetFileInfo("/src.txt")
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Chunks, dstInfo.Chunks)
}

func TestSnapshotFileRejectsMissingSource(t *testing.T) {
	m := newTestMaster(t, 2)
	err := m.SnapshotFile("/missing.txt", "/dst.txt")
	assert.ErrorIs(t, err, apis.ErrNotFound)
}

func TestSnapshotFileRejectsExistingDestination(t *testing.T) {
	m := newTestMaster(t, 2)
	require.NoError(t, m.CreateFile("/src.txt"))
	require.NoError(t, m.CreateFile("/dst.txt"))
	err := m.SnapshotFile("/src.txt", "/dst.txt")
	assert.ErrorIs(t, err, apis.ErrAlreadyExists)
}

func TestRenameFileMovesEntry(t *testing.T) {
	m := newTestMaster(t, 2)
	require.NoError(t, m.CreateFile("/old.txt"))
	require.NoError(t, m.RenameFile("/old.txt", "/new.txt"))

	_, err := m.GetFileInfo("/old.txt")
	assert.ErrorIs(t, err, apis.ErrNotFound)
	_, err = m.GetFileInfo("/new.txt")
	assert.NoError(t, err)
}

func TestDeleteFileThenGetFileInfoFails(t *testing.T) {
	m := newTestMaster(t, 2)
	require.NoError(t, m.CreateFile("/gone.txt"))
	require.NoError(t, m.DeleteFile("/gone.txt"))

	_, err := m.GetFileInfo("/gone.txt")
	assert.ErrorIs(t, err, apis.ErrNotFound)
}

func TestDeleteFileAllowsRecreateAtSamePath(t *testing.T) {
	m := newTestMaster(t, 2)
	require.NoError(t, m.CreateFile("/reuse.txt"))
	require.NoError(t, m.DeleteFile("/reuse.txt"))
	require.NoError(t, m.CreateFile("/reuse.txt"))

	info, err := m.GetFileInfo("/reuse.txt")
	require.NoError(t, err)
	assert.False(t, info.Deleted)
}

func TestListDirectoryReturnsOnlyLiveEntriesUnderPrefix(t *testing.T) {
	m := newTestMaster(t, 2)
	require.NoError(t, m.CreateFile("/dir/a.txt"))
	require.NoError(t, m.CreateFile("/dir/b.txt"))
	require.NoError(t, m.CreateFile("/other/c.txt"))
	require.NoError(t, m.CreateFile("/dir/deleted.txt"))
	require.NoError(t, m.DeleteFile("/dir/deleted.txt"))

	paths, err := m.ListDirectory("/dir")
	require.NoError(t, err)
	assert.ElementsMatch(t, []apis.Path{"/dir/a.txt", "/dir/b.txt"}, paths)
}
