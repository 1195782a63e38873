package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gfscore/apis"
)

// fakeChunkServer is a hand-rolled apis.ChunkServerService double. The
// teacher's equivalent test built its double from a generated apis/mocks
// package; that package was never produced here, so calls are recorded
// directly instead of through a mock expectation library.
type fakeChunkServer struct {
	pushed       []string
	committed    []string
	appendOffset uint64
	appendErr    error
	readData     []byte
	readVersion  apis.ChunkVersion
	readErr      error
	clonedFrom   apis.ServerAddress
	deleted      []apis.ChunkHandle
	copied       []apis.ChunkHandle
}

func (f *fakeChunkServer) PushData(handle apis.ChunkHandle, data []byte, fingerprint string, replicaChain []apis.ServerAddress) error {
	f.pushed = append(f.pushed, fingerprint)
	return nil
}

func (f *fakeChunkServer) CommitWrite(handle apis.ChunkHandle, fingerprint string, offset, length uint64, version apis.ChunkVersion, replicaChain []apis.ServerAddress) error {
	f.committed = append(f.committed, fingerprint)
	return nil
}

func (f *fakeChunkServer) AppendRecord(handle apis.ChunkHandle, fingerprint string, length uint64, version apis.ChunkVersion, replicaChain []apis.ServerAddress) (uint64, error) {
	return f.appendOffset, f.appendErr
}

func (f *fakeChunkServer) ApplyPad(handle apis.ChunkHandle, version apis.ChunkVersion) error {
	return nil
}

func (f *fakeChunkServer) ReadChunk(handle apis.ChunkHandle, offset, length uint64) ([]byte, apis.ChunkVersion, error) {
	return f.readData, f.readVersion, f.readErr
}

func (f *fakeChunkServer) CloneChunk(handle apis.ChunkHandle, source apis.ServerAddress, expectedVersion apis.ChunkVersion) error {
	f.clonedFrom = source
	return nil
}

func (f *fakeChunkServer) CopyChunk(newHandle, oldHandle apis.ChunkHandle, version apis.ChunkVersion) error {
	f.copied = append(f.copied, newHandle)
	return nil
}

func (f *fakeChunkServer) DeleteChunk(handle apis.ChunkHandle) error {
	f.deleted = append(f.deleted, handle)
	return nil
}

// beginChunkServerTest publishes fake over HTTP and returns a dialed stub
// plus a teardown func, mirroring the teacher's beginChunkserverTest helper.
func beginChunkServerTest(t *testing.T) (*fakeChunkServer, apis.ChunkServerService, func()) {
	t.Helper()
	fake := &fakeChunkServer{}
	teardown, address, err := PublishChunkServer(fake, "127.0.0.1:0")
	require.NoError(t, err)
	cache := NewConnectionCache()
	client, err := cache.DialChunkServer(address)
	require.NoError(t, err)
	return fake, client, func() {
		cache.CloseAll()
		_ = teardown(true)
	}
}

func TestChunkServerPushData(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()

	handle := apis.NewChunkHandle()
	err := client.PushData(handle, []byte("hello"), "fp-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1"}, fake.pushed)
}

func TestChunkServerCommitWrite(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()

	handle := apis.NewChunkHandle()
	err := client.CommitWrite(handle, "fp-2", 0, 5, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-2"}, fake.committed)
}

func TestChunkServerAppendRecordReturnsChunkFull(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()
	fake.appendErr = apis.ErrChunkFull

	handle := apis.NewChunkHandle()
	_, err := client.AppendRecord(handle, "fp-3", 10, 1, nil)
	assert.ErrorIs(t, err, apis.ErrChunkFull)
}

func TestChunkServerReadChunkRoundTripsChecksumMismatch(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()
	fake.readErr = apis.ErrChecksumMismatch

	handle := apis.NewChunkHandle()
	_, _, err := client.ReadChunk(handle, 0, 64)
	assert.ErrorIs(t, err, apis.ErrChecksumMismatch)
}

func TestChunkServerReadChunkReturnsData(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()
	fake.readData = []byte("payload")
	fake.readVersion = 3

	handle := apis.NewChunkHandle()
	data, version, err := client.ReadChunk(handle, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, apis.ChunkVersion(3), version)
}

func TestChunkServerCloneChunk(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()

	handle := apis.NewChunkHandle()
	err := client.CloneChunk(handle, "10.0.0.5:9100", 2)
	require.NoError(t, err)
	assert.Equal(t, apis.ServerAddress("10.0.0.5:9100"), fake.clonedFrom)
}

func TestChunkServerCopyChunk(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()

	oldHandle := apis.NewChunkHandle()
	newHandle := apis.NewChunkHandle()
	err := client.CopyChunk(newHandle, oldHandle, 2)
	require.NoError(t, err)
	assert.Equal(t, []apis.ChunkHandle{newHandle}, fake.copied)
}

func TestChunkServerDeleteChunk(t *testing.T) {
	fake, client, done := beginChunkServerTest(t)
	defer done()

	handle := apis.NewChunkHandle()
	err := client.DeleteChunk(handle)
	require.NoError(t, err)
	assert.Equal(t, []apis.ChunkHandle{handle}, fake.deleted)
}
