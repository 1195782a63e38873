package master_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gfscore/apis"
)

func TestRegisterChunkServerIsIdempotent(t *testing.T) {
	m := newTestMaster(t, 2)
	toDelete, err := m.RegisterChunkServer("cs-0", "127.0.0.1:9100", "rack-0", nil)
	require.NoError(t, err)
	assert.Empty(t, toDelete)

	toDelete, err = m.RegisterChunkServer("cs-0", "127.0.0.1:9100", "rack-0", nil)
	require.NoError(t, err)
	assert.Empty(t, toDelete)
}

func TestRegisterChunkServerFlagsUnknownChunkAsOrphan(t *testing.T) {
	m := newTestMaster(t, 2)
	unknown := apis.NewChunkHandle()
	toDelete, err := m.RegisterChunkServer("cs-0", "127.0.0.1:9100", "rack-0", []apis.ReportedChunk{
		{Handle: unknown, Version: 1, Size: 10},
	})
	require.NoError(t, err)
	assert.Contains(t, toDelete, unknown)
}

func TestHeartbeatUnknownServerFails(t *testing.T) {
	m := newTestMaster(t, 2)
	_, _, err := m.Heartbeat("cs-ghost", nil, time.Now())
	assert.ErrorIs(t, err, apis.ErrNotFound)
}

func TestHeartbeatAfterAllocateKeepsChunkServing(t *testing.T) {
	m := newTestMaster(t, 2)
	registerServers(t, m, 3)
	require.NoError(t, m.CreateFile("/f.txt"))
	loc, err := m.AllocateChunk("/f.txt", 0)
	require.NoError(t, err)

	report := []apis.ReportedChunk{{Handle: loc.Handle, Version: loc.Version, Size: 0}}
	toDelete, toClone, err := m.Heartbeat(loc.Primary, report, time.Now())
	require.NoError(t, err)
	assert.Empty(t, toDelete)
	assert.Empty(t, toClone)
}

func TestReportBadReplicaDropsReplicaAndEnqueuesReReplication(t *testing.T) {
	m := newTestMaster(t, 3)
	registerServers(t, m, 3)
	require.NoError(t, m.CreateFile("/f.txt"))
	loc, err := m.AllocateChunk("/f.txt", 0)
	require.NoError(t, err)

	require.NoError(t, m.ReportBadReplica(loc.Handle, loc.Replicas[0]))

	again, err := m.GetChunkLocations(loc.Handle, false, "", 0)
	require.NoError(t, err)
	assert.NotContains(t, again.Replicas, loc.Replicas[0])
}

func TestReportBadReplicaUnknownChunk(t *testing.T) {
	m := newTestMaster(t, 2)
	err := m.ReportBadReplica(apis.NewChunkHandle(), "cs-0")
	assert.ErrorIs(t, err, apis.ErrNotFound)
}
