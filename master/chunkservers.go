package master

import (
	"time"

	"gfscore/apis"
)

// RegisterChunkServer installs or updates a chunkserver record (spec §4.1).
// Idempotent: calling it again for an already-known id just reconciles state.
func (m *Master) RegisterChunkServer(id apis.ServerID, address apis.ServerAddress, rackID string, chunks []apis.ReportedChunk) ([]apis.ChunkHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.servers[id]
	if !ok {
		rec = &apis.ChunkServerRecord{ID: id, Chunks: make(map[apis.ChunkHandle]bool)}
		m.servers[id] = rec
	}
	rec.Address = address
	rec.RackID = rackID
	rec.Alive = true
	rec.LastHeartbeat = m.now()

	if m.dir != nil {
		_ = m.dir.Update(id, address)
	}

	toDelete := m.reconcileReport(id, rec, chunks)
	return toDelete, nil
}

// Heartbeat reconciles a chunkserver's reported chunk set against master
// state (detecting staleness), then delivers any pending delete/clone
// instructions queued for this server by the garbage collector and
// re-replicator (spec §4.1 Heartbeat, Re-replication, Garbage collection).
func (m *Master) Heartbeat(id apis.ServerID, chunks []apis.ReportedChunk, timestamp time.Time) ([]apis.ChunkHandle, []apis.CloneInstruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.servers[id]
	if !ok {
		return nil, nil, apis.ErrNotFound
	}
	rec.Alive = true
	rec.LastHeartbeat = m.now()

	staleDeletes := m.reconcileReport(id, rec, chunks)

	pending := m.pendingDeletes[id]
	delete(m.pendingDeletes, id)
	toDelete := append(staleDeletes, pending...)

	toClone := m.pendingClones[id]
	delete(m.pendingClones, id)

	return toDelete, toClone, nil
}

// reconcileReport updates rec.Chunks from a register/heartbeat chunk report,
// detects stale replicas (reported version strictly below the master's
// current version for that handle), immediately drops them from the serving
// replica set, and returns any chunk handles this server holds that the
// master no longer tracks at all (deleted-file GC already reclaimed them).
// Must be called with m.mu held.
func (m *Master) reconcileReport(id apis.ServerID, rec *apis.ChunkServerRecord, report []apis.ReportedChunk) []apis.ChunkHandle {
	reported := make(map[apis.ChunkHandle]bool, len(report))
	var orphans []apis.ChunkHandle

	for _, rc := range report {
		reported[rc.Handle] = true
		rec.Chunks[rc.Handle] = true

		cm, ok := m.chunks[rc.Handle]
		if !ok {
			orphans = append(orphans, rc.Handle)
			continue
		}
		if rc.Version < cm.Version {
			// Stale: drop from the serving set immediately; physical
			// deletion happens later via garbage collection.
			delete(cm.Replicas, id)
			if cm.Lease != nil && cm.Lease.Primary == id {
				cm.Lease = nil
			}
			continue
		}
		cm.Replicas[id] = true
		if rc.Version == cm.Version {
			cm.Size = rc.Size
		}
	}

	// Anything rec.Chunks remembers but this report didn't mention is gone
	// from the chunkserver's disk already (e.g. it finished a prior delete);
	// forget it so future reconciliation doesn't re-flag it as an orphan.
	for h := range rec.Chunks {
		if !reported[h] {
			delete(rec.Chunks, h)
		}
	}

	return orphans
}

// ReportBadReplica is a best-effort notification from a client that a replica
// failed a checksum check on read (spec §4.4, §7).
func (m *Master) ReportBadReplica(handle apis.ChunkHandle, server apis.ServerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cm, ok := m.chunks[handle]
	if !ok {
		return apis.ErrNotFound
	}
	delete(cm.Replicas, server)
	if cm.Lease != nil && cm.Lease.Primary == server {
		cm.Lease = nil
	}
	if len(cm.Replicas) < m.replicationFactor() {
		m.reReplication.enqueue(handle)
	}
	return nil
}
