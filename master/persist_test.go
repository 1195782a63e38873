package master_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gfscore/addressdir"
	"gfscore/apis"
	"gfscore/config"
	"gfscore/master"
)

func TestRecoveryReplaysWALAfterRestart(t *testing.T) {
	walDir := t.TempDir()
	dir := addressdir.NewMemoryDirectory()
	cfg := config.DefaultMasterConfig()
	cfg.WALDir = walDir
	cfg.ReplicationFactor = 1

	m, err := master.New(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, m.CreateFile("/a.txt"))
	_, err = m.RegisterChunkServer("cs-0", "127.0.0.1:20000", "rack-0", nil)
	require.NoError(t, err)
	loc, err := m.AllocateChunk("/a.txt", 0)
	require.NoError(t, err)
	require.NoError(t, m.Stop())

	restarted, err := master.New(cfg, dir)
	require.NoError(t, err)

	info, err := restarted.GetFileInfo("/a.txt")
	require.NoError(t, err)
	require.Len(t, info.Chunks, 1)
	assert.Equal(t, loc.Handle, info.Chunks[0])

	// Leases are not durable: a restarted master re-grants on demand rather
	// than restoring the pre-restart lease.
	again, err := restarted.GetChunkLocations(loc.Handle, false, "", 0)
	require.NoError(t, err)
	assert.Empty(t, again.Primary)
}

func TestRecoveryReplaysRenameAndDeleteInOrder(t *testing.T) {
	walDir := t.TempDir()
	dir := addressdir.NewMemoryDirectory()
	cfg := config.DefaultMasterConfig()
	cfg.WALDir = walDir

	m, err := master.New(cfg, dir)
	require.NoError(t, err)
	require.NoError(t, m.CreateFile("/first.txt"))
	require.NoError(t, m.RenameFile("/first.txt", "/second.txt"))
	require.NoError(t, m.CreateFile("/to-delete.txt"))
	require.NoError(t, m.DeleteFile("/to-delete.txt"))
	require.NoError(t, m.Stop())

	restarted, err := master.New(cfg, dir)
	require.NoError(t, err)

	_, err = restarted.GetFileInfo("/first.txt")
	assert.ErrorIs(t, err, apis.ErrNotFound)
	_, err = restarted.GetFileInfo("/second.txt")
	assert.NoError(t, err)
	_, err = restarted.GetFileInfo("/to-delete.txt")
	assert.ErrorIs(t, err, apis.ErrNotFound)
}
