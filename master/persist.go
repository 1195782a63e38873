package master

import (
	"fmt"

	"gfscore/apis"
	"gfscore/walog"
)

// masterSnapshot is the on-disk format for periodic metadata checkpoints
// (spec §5, §9: "periodic full snapshot plus a WAL of ops since"). Chunk
// leases are intentionally excluded: they are short-lived and are
// re-granted on demand after restart rather than restored.
type masterSnapshot struct {
	LastSequence uint64                           `json:"last_sequence"`
	Files        map[apis.Path]*fileEntry         `json:"files"`
	Chunks       map[apis.ChunkHandle]*chunkMeta  `json:"chunks"`
}

func (m *Master) buildSnapshot() masterSnapshot {
	snap := masterSnapshot{
		LastSequence: m.wal.LastSequence(),
		Files:        make(map[apis.Path]*fileEntry, len(m.files)),
		Chunks:       make(map[apis.ChunkHandle]*chunkMeta, len(m.chunks)),
	}
	for p, fe := range m.files {
		cp := *fe
		snap.Files[p] = &cp
	}
	for h, cm := range m.chunks {
		cp := *cm
		cp.Lease = nil
		cp.Replicas = make(map[apis.ServerID]bool, len(cm.Replicas))
		for id := range cm.Replicas {
			cp.Replicas[id] = true
		}
		snap.Chunks[h] = &cp
	}
	return snap
}

func (m *Master) writeSnapshot(snap masterSnapshot) error {
	return walog.SaveSnapshot(m.snapshotPath(), snap)
}

// recover rebuilds master state from the last snapshot plus any WAL entries
// written after it, then reopens the WAL for further appends (spec §5
// Recovery). A corrupt WAL aborts startup with a diagnostic rather than
// silently dropping entries.
func (m *Master) recover() error {
	var snap masterSnapshot
	ok, err := walog.LoadSnapshot(m.snapshotPath(), &snap)
	if err != nil {
		return fmt.Errorf("loading snapshot: %w", err)
	}
	if ok {
		m.files = snap.Files
		m.chunks = snap.Chunks
		if m.files == nil {
			m.files = make(map[apis.Path]*fileEntry)
		}
		if m.chunks == nil {
			m.chunks = make(map[apis.ChunkHandle]*chunkMeta)
		}
	}

	entries, err := walog.ReadAll(m.walPath())
	if err != nil {
		return fmt.Errorf("replaying WAL: %w", err)
	}

	var lastSeq uint64 = snap.LastSequence
	for _, e := range entries {
		if e.Sequence <= snap.LastSequence {
			continue
		}
		if err := m.applyEntry(e); err != nil {
			return fmt.Errorf("applying WAL entry %d (%s): %w", e.Sequence, e.OpKind, err)
		}
		lastSeq = e.Sequence
	}

	wal, err := walog.Open(m.walPath(), lastSeq+1)
	if err != nil {
		return fmt.Errorf("opening WAL: %w", err)
	}
	m.wal = wal
	return nil
}

// applyEntry replays a single WAL entry against in-memory state during
// recovery. Must only be called before background tasks or RPC handlers
// are running.
func (m *Master) applyEntry(e walog.Entry) error {
	switch e.OpKind {
	case opCreateFile:
		var p payloadCreateFile
		if err := e.Decode(&p); err != nil {
			return err
		}
		m.files[p.Path] = &fileEntry{Path: p.Path, CreatedAt: p.At, ModifiedAt: p.At}

	case opDeleteFile:
		var p payloadDeleteFile
		if err := e.Decode(&p); err != nil {
			return err
		}
		if fe, ok := m.files[p.Path]; ok {
			fe.Deleted = true
			fe.DeletedAt = p.At
		}

	case opRenameFile:
		var p payloadRenameFile
		if err := e.Decode(&p); err != nil {
			return err
		}
		if fe, ok := m.files[p.OldPath]; ok {
			delete(m.files, p.OldPath)
			fe.Path = p.NewPath
			m.files[p.NewPath] = fe
		}

	case opSnapshotFile:
		var p payloadSnapshotFile
		if err := e.Decode(&p); err != nil {
			return err
		}
		src, ok := m.files[p.Src]
		if !ok {
			return fmt.Errorf("snapshot source %s not found", p.Src)
		}
		m.files[p.Dst] = &fileEntry{
			Path:       p.Dst,
			Chunks:     append([]apis.ChunkHandle(nil), p.Chunks...),
			Size:       src.Size,
			CreatedAt:  p.At,
			ModifiedAt: p.At,
		}
		for _, h := range p.Chunks {
			if cm, ok := m.chunks[h]; ok {
				cm.RefCount++
				cm.COW = true
			}
		}

	case opAllocateChunk:
		var p payloadAllocateChunk
		if err := e.Decode(&p); err != nil {
			return err
		}
		fe, ok := m.files[p.Path]
		if !ok {
			return fmt.Errorf("allocate_chunk for unknown file %s", p.Path)
		}
		for len(fe.Chunks) <= p.ChunkIndex {
			fe.Chunks = append(fe.Chunks, apis.ChunkHandle{})
		}
		fe.Chunks[p.ChunkIndex] = p.Handle
		cm := newChunkMeta(p.Handle, p.Replicas)
		m.chunks[p.Handle] = cm

	case opLeaseGrant:
		var p payloadLeaseGrant
		if err := e.Decode(&p); err != nil {
			return err
		}
		if cm, ok := m.chunks[p.Handle]; ok {
			cm.Version = p.Version
		}

	case opReplicaUpdated:
		var p payloadReplicaUpdated
		if err := e.Decode(&p); err != nil {
			return err
		}
		if cm, ok := m.chunks[p.Handle]; ok {
			cm.Version = p.Version
			cm.Replicas = make(map[apis.ServerID]bool, len(p.Replicas))
			for _, id := range p.Replicas {
				cm.Replicas[id] = true
			}
		}

	case opChunkDestroyed:
		var p payloadChunkDestroyed
		if err := e.Decode(&p); err != nil {
			return err
		}
		delete(m.chunks, p.Handle)

	case opChunkDuplicated:
		var p payloadChunkDuplicated
		if err := e.Decode(&p); err != nil {
			return err
		}
		fe, ok := m.files[p.Path]
		if !ok {
			return fmt.Errorf("chunk_duplicated for unknown file %s", p.Path)
		}
		for len(fe.Chunks) <= p.ChunkIndex {
			fe.Chunks = append(fe.Chunks, apis.ChunkHandle{})
		}
		fe.Chunks[p.ChunkIndex] = p.NewHandle
		newCM := newChunkMeta(p.NewHandle, p.Replicas)
		newCM.Version = p.Version
		m.chunks[p.NewHandle] = newCM
		if cm, ok := m.chunks[p.OldHandle]; ok {
			// RefCountZeroAt is left for collectGarbage to stamp with the
			// live clock once it next observes RefCount at zero, rather than
			// inventing a timestamp during replay.
			cm.RefCount--
			if cm.RefCount <= 1 {
				cm.COW = false
			}
		}

	default:
		return fmt.Errorf("unknown op_kind %q", e.OpKind)
	}
	return nil
}
