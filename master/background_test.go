package master

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gfscore/addressdir"
	"gfscore/apis"
	"gfscore/config"
)

func newBackgroundTestMaster(t *testing.T, replicationFactor int) *Master {
	t.Helper()
	cfg := config.DefaultMasterConfig()
	cfg.WALDir = t.TempDir()
	cfg.ReplicationFactor = replicationFactor
	cfg.HeartbeatTimeout = 30 * time.Second
	m, err := New(cfg, addressdir.NewMemoryDirectory())
	require.NoError(t, err)
	return m
}

func TestDetectFailuresMarksServerDeadAndEnqueuesReReplication(t *testing.T) {
	m := newBackgroundTestMaster(t, 2)
	base := time.Now()
	m.now = func() time.Time { return base }

	_, err := m.RegisterChunkServer("cs-0", "127.0.0.1:20000", "rack-0", nil)
	require.NoError(t, err)
	_, err = m.RegisterChunkServer("cs-1", "127.0.0.1:20001", "rack-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.CreateFile("/f.txt"))
	loc, err := m.AllocateChunk("/f.txt", 0)
	require.NoError(t, err)

	// cs-1 keeps heartbeating; cs-0 never does again after registration.
	m.now = func() time.Time { return base.Add(20 * time.Second) }
	_, _, err = m.Heartbeat("cs-1", nil, m.now())
	require.NoError(t, err)

	// Advance the clock past the heartbeat timeout for cs-0 but not cs-1.
	m.now = func() time.Time { return base.Add(45 * time.Second) }
	m.detectFailures()

	m.mu.Lock()
	assert.False(t, m.servers["cs-0"].Alive)
	assert.True(t, m.servers["cs-1"].Alive)
	cm := m.chunks[loc.Handle]
	assert.NotContains(t, cm.Replicas, apis.ServerID("cs-0"))
	m.mu.Unlock()

	ready := m.reReplication.ready(m.now())
	assert.Contains(t, ready, loc.Handle)
}

func TestDetectFailuresRevokesLeaseHeldByDeadPrimary(t *testing.T) {
	m := newBackgroundTestMaster(t, 1)
	base := time.Now()
	m.now = func() time.Time { return base }

	_, err := m.RegisterChunkServer("cs-0", "127.0.0.1:20000", "rack-0", nil)
	require.NoError(t, err)
	require.NoError(t, m.CreateFile("/f.txt"))
	loc, err := m.AllocateChunk("/f.txt", 0)
	require.NoError(t, err)
	require.Equal(t, apis.ServerID("cs-0"), loc.Primary)

	m.now = func() time.Time { return base.Add(time.Minute) }
	m.detectFailures()

	m.mu.Lock()
	cm := m.chunks[loc.Handle]
	assert.Nil(t, cm.Lease)
	m.mu.Unlock()
}

func TestReReplicateQueuesCloneFromLiveSourceToNewDestination(t *testing.T) {
	m := newBackgroundTestMaster(t, 2)
	base := time.Now()
	m.now = func() time.Time { return base }

	for _, id := range []apis.ServerID{"cs-0", "cs-1", "cs-2"} {
		_, err := m.RegisterChunkServer(id, apis.ServerAddress("127.0.0.1:"+string(id)), string(id), nil)
		require.NoError(t, err)
	}
	require.NoError(t, m.CreateFile("/f.txt"))
	loc, err := m.AllocateChunk("/f.txt", 0)
	require.NoError(t, err)

	// Kill one replica directly (bypassing the heartbeat timeout) to drop
	// below the replication factor and enqueue re-replication.
	m.mu.Lock()
	dead := loc.Replicas[0]
	m.servers[dead].Alive = false
	delete(m.chunks[loc.Handle].Replicas, dead)
	m.reReplication.enqueue(loc.Handle)
	m.mu.Unlock()

	m.reReplicate()

	m.mu.Lock()
	defer m.mu.Unlock()
	var destinations []apis.ServerID
	for id, instrs := range m.pendingClones {
		for _, instr := range instrs {
			if instr.Handle == loc.Handle {
				destinations = append(destinations, id)
			}
		}
	}
	require.Len(t, destinations, 1)
	assert.NotEqual(t, dead, destinations[0])
}

func TestReReplicationQueueMovesToDeadLetterAfterRepeatedFailures(t *testing.T) {
	q := newReReplicationQueue()
	handle := apis.NewChunkHandle()
	now := time.Now()

	var deadLetter bool
	for i := 0; i < reReplicationMaxAttempts; i++ {
		deadLetter = q.failed(handle, now)
		now = now.Add(reReplicationMaxBackoff)
	}

	assert.True(t, deadLetter)
	assert.Contains(t, q.deadLetters(), handle)
	assert.Empty(t, q.ready(now)) // dead-lettered items never come up again
}

func TestCollectGarbagePurgesDeletedFileAfterRetention(t *testing.T) {
	m := newBackgroundTestMaster(t, 2)
	base := time.Now()
	m.now = func() time.Time { return base }

	require.NoError(t, m.CreateFile("/gone.txt"))
	require.NoError(t, m.DeleteFile("/gone.txt"))

	m.mu.Lock()
	m.files["/gone.txt"].DeletedAt = base.Add(-96 * time.Hour) // past the default 3-day retention
	m.mu.Unlock()

	m.collectGarbage()

	m.mu.Lock()
	defer m.mu.Unlock()
	_, stillThere := m.files["/gone.txt"]
	assert.False(t, stillThere)
}

func TestCollectGarbageQueuesDeleteForUnexpectedChunk(t *testing.T) {
	m := newBackgroundTestMaster(t, 2)
	base := time.Now()
	m.now = func() time.Time { return base }

	_, err := m.RegisterChunkServer("cs-0", "127.0.0.1:20000", "rack-0", nil)
	require.NoError(t, err)

	orphan := apis.NewChunkHandle()
	m.mu.Lock()
	m.servers["cs-0"].Chunks[orphan] = true // reported once, master never allocated it
	m.mu.Unlock()

	m.collectGarbage()

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Contains(t, m.pendingDeletes["cs-0"], orphan)
}
