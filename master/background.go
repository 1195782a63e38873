package master

import (
	"time"

	"gfscore/apis"
	"gfscore/walog"
)

// Start launches the master's background tasks: the failure detector (5s
// tick), the re-replicator, the garbage collector (60s tick), and the
// periodic metadata snapshot (spec §4.1, §5). Each is one goroutine
// contending for m.mu, per spec's concurrency model.
func (m *Master) Start() {
	m.wg.Add(4)
	go m.runTicker(5*time.Second, m.detectFailures)
	go m.runTicker(1*time.Second, m.reReplicate)
	go m.runTicker(60*time.Second, m.collectGarbage)
	go m.runTicker(m.snapshotInterval(), m.takeSnapshot)
}

// Stop halts background tasks, closes the WAL, and drops cached chunkserver
// connections (used for copy-on-write chunk duplication).
func (m *Master) Stop() error {
	close(m.stopCh)
	m.wg.Wait()
	m.cache.CloseAll()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wal != nil {
		return m.wal.Close()
	}
	return nil
}

func (m *Master) snapshotInterval() time.Duration {
	if m.cfg.SnapshotInterval <= 0 {
		return apis.DefaultSnapshotInterval
	}
	return m.cfg.SnapshotInterval
}

func (m *Master) runTicker(interval time.Duration, fn func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// detectFailures marks any chunkserver whose last heartbeat exceeds the
// configured timeout as dead, and enqueues re-replication for any chunk that
// falls below the replication factor as a result (spec §4.1 Failure detection).
func (m *Master) detectFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	timeout := m.heartbeatTimeout()
	var newlyDead []apis.ServerID
	for id, rec := range m.servers {
		if rec.Alive && now.Sub(rec.LastHeartbeat) > timeout {
			rec.Alive = false
			newlyDead = append(newlyDead, id)
			m.log.WithField("chunkserver", id).Warn("chunkserver marked dead: heartbeat timeout")
		}
	}
	if len(newlyDead) == 0 {
		return
	}
	dead := make(map[apis.ServerID]bool, len(newlyDead))
	for _, id := range newlyDead {
		dead[id] = true
	}
	for handle, cm := range m.chunks {
		touched := false
		for id := range cm.Replicas {
			if dead[id] {
				delete(cm.Replicas, id)
				touched = true
			}
		}
		if touched {
			if cm.Lease != nil && dead[cm.Lease.Primary] {
				cm.Lease = nil
			}
			if len(cm.Replicas) < m.replicationFactor() {
				m.reReplication.enqueue(handle)
			}
		}
	}
}

// reReplicate pops ready chunks from the re-replication queue and, for each
// still under-replicated, selects a source and destination and queues a
// clone instruction for the destination to pick up on its next heartbeat
// (spec §4.1 Re-replication). Success is detected implicitly: once the
// destination's heartbeat reports the chunk at the expected version, the
// replica count recovers and the item is dropped from the queue without a
// further clone being issued.
func (m *Master) reReplicate() {
	now := m.now()
	ready := m.reReplication.ready(now)
	if len(ready) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	factor := m.replicationFactor()
	for _, handle := range ready {
		cm, ok := m.chunks[handle]
		if !ok {
			m.reReplication.succeeded(handle)
			continue
		}
		if len(cm.Replicas) >= factor {
			m.reReplication.succeeded(handle)
			continue
		}

		var source apis.ServerID
		for _, id := range sortedServerIDs(cm.Replicas) {
			if rec, ok := m.servers[id]; ok && rec.Alive {
				source = id
				break
			}
		}
		if source == "" {
			// No live source; nothing to clone from yet.
			if dead := m.reReplication.failed(handle, now); dead {
				m.log.WithField("chunk", handle.String()).Error("re-replication moved to dead-letter: no live source replica")
			}
			continue
		}

		dest, err := m.selectReplicas(1, cm.Replicas)
		if err != nil || len(dest) == 0 {
			if dead := m.reReplication.failed(handle, now); dead {
				m.log.WithField("chunk", handle.String()).Error("re-replication moved to dead-letter: no eligible destination")
			}
			continue
		}

		sourceAddr := m.servers[source].Address
		m.pendingClones[dest[0]] = append(m.pendingClones[dest[0]], apis.CloneInstruction{
			Handle:          handle,
			SourceAddress:   sourceAddr,
			ExpectedVersion: cm.Version,
		})
		if dead := m.reReplication.failed(handle, now); dead {
			m.log.WithField("chunk", handle.String()).Error("re-replication moved to dead-letter: repeated clone attempts unconfirmed")
		}
	}
}

// collectGarbage scans deleted files past retention, zero-refcount chunks
// past retention, and for each live chunkserver computes reported_chunks
// minus expected_chunks to populate the next heartbeat's chunks_to_delete
// (spec §4.1 Garbage collection).
func (m *Master) collectGarbage() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	retention := m.garbageRetention()

	for p, fe := range m.files {
		if !fe.Deleted || now.Sub(fe.DeletedAt) < retention {
			continue
		}
		for _, h := range fe.Chunks {
			if cm, ok := m.chunks[h]; ok {
				cm.decrementRefCount(now)
			}
		}
		delete(m.files, p)
	}

	for h, cm := range m.chunks {
		if cm.RefCount > 0 {
			continue
		}
		if cm.RefCountZeroAt.IsZero() {
			cm.RefCountZeroAt = now
			continue
		}
		if now.Sub(cm.RefCountZeroAt) >= retention {
			m.destroyChunk(h)
		}
	}

	expected := make(map[apis.ServerID]map[apis.ChunkHandle]bool, len(m.servers))
	for id := range m.servers {
		expected[id] = make(map[apis.ChunkHandle]bool)
	}
	for h, cm := range m.chunks {
		for id := range cm.Replicas {
			if _, ok := expected[id]; ok {
				expected[id][h] = true
			}
		}
	}
	for id, rec := range m.servers {
		if !rec.Alive {
			continue
		}
		var toDelete []apis.ChunkHandle
		for h := range rec.Chunks {
			if !expected[id][h] {
				toDelete = append(toDelete, h)
			}
		}
		if len(toDelete) > 0 {
			m.pendingDeletes[id] = append(m.pendingDeletes[id], toDelete...)
		}
	}
}

// destroyChunk removes a chunk with refcount <= 0 from the chunk map.
// Must be called with m.mu held.
func (m *Master) destroyChunk(h apis.ChunkHandle) {
	if _, ok := m.chunks[h]; !ok {
		return
	}
	if _, err := m.wal.Append(opChunkDestroyed, payloadChunkDestroyed{Handle: h}); err != nil {
		m.log.WithError(err).Error("failed to log chunk destruction")
		return
	}
	delete(m.chunks, h)
}

// takeSnapshot checkpoints in-memory state to disk and truncates the WAL to
// only the entries written after the checkpoint (spec §5).
func (m *Master) takeSnapshot() {
	m.mu.Lock()
	snap := m.buildSnapshot()
	path := m.walPath()
	m.mu.Unlock()

	if err := m.writeSnapshot(snap); err != nil {
		m.log.WithError(err).Error("snapshot failed")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := walog.ReadAll(path)
	if err != nil {
		m.log.WithError(err).Error("WAL truncation failed: re-reading log")
		return
	}

	if err := m.wal.Close(); err != nil {
		m.log.WithError(err).Error("WAL truncation failed: closing log")
		return
	}
	newWAL, err := walog.TruncateBefore(path, entries, snap.LastSequence)
	if err != nil {
		m.log.WithError(err).Error("WAL truncation failed")
		return
	}
	m.wal = newWAL
}
