package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gfscore/apis"
)

// fakeMaster is a hand-rolled apis.MasterService double, for the same
// reason fakeChunkServer is: no generated apis/mocks package survived the
// rewrite of apis.MasterService's signatures.
type fakeMaster struct {
	registered      apis.ServerID
	heartbeats      int
	toDelete        []apis.ChunkHandle
	toClone         []apis.CloneInstruction
	fileInfo        apis.FileInfo
	fileInfoErr     error
	locations       apis.ChunkLocations
	createFileErr   error
	badReplicaCalls []apis.ServerID
	listed          []apis.Path
}

func (f *fakeMaster) RegisterChunkServer(id apis.ServerID, address apis.ServerAddress, rackID string, chunks []apis.ReportedChunk) ([]apis.ChunkHandle, error) {
	f.registered = id
	return f.toDelete, nil
}

func (f *fakeMaster) Heartbeat(id apis.ServerID, chunks []apis.ReportedChunk, timestamp time.Time) ([]apis.ChunkHandle, []apis.CloneInstruction, error) {
	f.heartbeats++
	return f.toDelete, f.toClone, nil
}

func (f *fakeMaster) ReportBadReplica(handle apis.ChunkHandle, server apis.ServerID) error {
	f.badReplicaCalls = append(f.badReplicaCalls, server)
	return nil
}

func (f *fakeMaster) CreateFile(path apis.Path) error {
	return f.createFileErr
}

func (f *fakeMaster) GetFileInfo(path apis.Path) (apis.FileInfo, error) {
	return f.fileInfo, f.fileInfoErr
}

func (f *fakeMaster) AllocateChunk(path apis.Path, chunkIndex int) (apis.ChunkLocations, error) {
	return f.locations, nil
}

func (f *fakeMaster) GetChunkLocations(handle apis.ChunkHandle, forWrite bool, path apis.Path, chunkIndex int) (apis.ChunkLocations, error) {
	return f.locations, nil
}

func (f *fakeMaster) SnapshotFile(src, dst apis.Path) error { return nil }

func (f *fakeMaster) RenameFile(oldPath, newPath apis.Path) error { return nil }

func (f *fakeMaster) DeleteFile(path apis.Path) error { return nil }

func (f *fakeMaster) ListDirectory(prefix apis.Path) ([]apis.Path, error) {
	return f.listed, nil
}

func beginMasterTest(t *testing.T) (*fakeMaster, apis.MasterService, func()) {
	t.Helper()
	fake := &fakeMaster{}
	teardown, address, err := PublishMaster(fake, "127.0.0.1:0")
	require.NoError(t, err)
	cache := NewConnectionCache()
	client, err := cache.DialMaster(address)
	require.NoError(t, err)
	return fake, client, func() {
		cache.CloseAll()
		_ = teardown(true)
	}
}

func TestMasterRegisterChunkServer(t *testing.T) {
	fake, client, done := beginMasterTest(t)
	defer done()

	_, err := client.RegisterChunkServer("cs-1", "10.0.0.1:9100", "rack-a", nil)
	require.NoError(t, err)
	assert.Equal(t, apis.ServerID("cs-1"), fake.registered)
}

func TestMasterHeartbeatReturnsDeleteAndClone(t *testing.T) {
	fake, client, done := beginMasterTest(t)
	defer done()

	handle := apis.NewChunkHandle()
	fake.toDelete = []apis.ChunkHandle{handle}
	fake.toClone = []apis.CloneInstruction{{Handle: handle, SourceAddress: "10.0.0.2:9100", ExpectedVersion: 2}}

	toDelete, toClone, err := client.Heartbeat("cs-1", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.heartbeats)
	require.Len(t, toDelete, 1)
	assert.Equal(t, handle, toDelete[0])
	require.Len(t, toClone, 1)
	assert.Equal(t, apis.ServerAddress("10.0.0.2:9100"), toClone[0].SourceAddress)
}

func TestMasterGetFileInfoNotFound(t *testing.T) {
	fake, client, done := beginMasterTest(t)
	defer done()
	fake.fileInfoErr = apis.ErrNotFound

	_, err := client.GetFileInfo("/missing")
	assert.ErrorIs(t, err, apis.ErrNotFound)
}

func TestMasterCreateFileAlreadyExists(t *testing.T) {
	fake, client, done := beginMasterTest(t)
	defer done()
	fake.createFileErr = apis.ErrAlreadyExists

	err := client.CreateFile("/a")
	assert.ErrorIs(t, err, apis.ErrAlreadyExists)
}

func TestMasterReportBadReplica(t *testing.T) {
	fake, client, done := beginMasterTest(t)
	defer done()

	handle := apis.NewChunkHandle()
	err := client.ReportBadReplica(handle, "cs-3")
	require.NoError(t, err)
	assert.Equal(t, []apis.ServerID{"cs-3"}, fake.badReplicaCalls)
}

func TestMasterListDirectory(t *testing.T) {
	fake, client, done := beginMasterTest(t)
	defer done()
	fake.listed = []apis.Path{"/a", "/a/b"}

	paths, err := client.ListDirectory("/a")
	require.NoError(t, err)
	assert.Equal(t, []apis.Path{"/a", "/a/b"}, paths)
}
