package master

import (
	"time"

	"gfscore/apis"
)

// fileEntry is one namespace entry. Deleted entries are tombstones kept
// until garbage_retention_days elapses (spec §3 "Lifecycles").
type fileEntry struct {
	Path       apis.Path          `json:"path"`
	Chunks     []apis.ChunkHandle `json:"chunks"`
	Size       uint64             `json:"size"`
	CreatedAt  time.Time          `json:"created_at"`
	ModifiedAt time.Time          `json:"modified_at"`
	Deleted    bool               `json:"deleted"`
	DeletedAt  time.Time          `json:"deleted_at,omitempty"`
}

func (fe *fileEntry) toInfo() apis.FileInfo {
	chunks := make([]apis.ChunkHandle, len(fe.Chunks))
	copy(chunks, fe.Chunks)
	return apis.FileInfo{
		Path:       fe.Path,
		Chunks:     chunks,
		Size:       fe.Size,
		CreatedAt:  fe.CreatedAt,
		ModifiedAt: fe.ModifiedAt,
		Deleted:    fe.Deleted,
	}
}

// chunkMeta is the master's view of one chunk (spec §3 "Chunk").
type chunkMeta struct {
	Handle   apis.ChunkHandle          `json:"handle"`
	Size     uint64                    `json:"size"`
	Version  apis.ChunkVersion         `json:"version"`
	Replicas map[apis.ServerID]bool    `json:"replicas"`
	RefCount int                       `json:"ref_count"`
	COW      bool                      `json:"cow"`

	// RefCountZeroAt is when RefCount first reached zero, so collectGarbage
	// can honor garbage_retention before physically destroying the chunk
	// (spec §3, §4.1(b)). Zero means RefCount has never hit zero.
	RefCountZeroAt time.Time `json:"ref_count_zero_at,omitempty"`

	// Lease state is not part of the persisted snapshot payload's semantic
	// meaning beyond the version bump already recorded; leases themselves do
	// not survive a restart (a restarted master holds no leases until a
	// client re-requests one), but we keep the field so in-memory behavior
	// is uniform.
	Lease *apis.Lease `json:"-"`
}

func newChunkMeta(handle apis.ChunkHandle, replicas []apis.ServerID) *chunkMeta {
	cm := &chunkMeta{
		Handle:   handle,
		Version:  0,
		Replicas: make(map[apis.ServerID]bool, len(replicas)),
		RefCount: 1,
	}
	for _, r := range replicas {
		cm.Replicas[r] = true
	}
	return cm
}

func (cm *chunkMeta) replicaList() []apis.ServerID {
	out := make([]apis.ServerID, 0, len(cm.Replicas))
	for r := range cm.Replicas {
		out = append(out, r)
	}
	return out
}

func (cm *chunkMeta) leaseValid(now time.Time) bool {
	return cm.Lease != nil && !cm.Lease.Expired(now)
}

// decrementRefCount drops cm's reference count by one, stamping the moment
// it first reaches zero.
func (cm *chunkMeta) decrementRefCount(now time.Time) {
	cm.RefCount--
	if cm.RefCount <= 0 && cm.RefCountZeroAt.IsZero() {
		cm.RefCountZeroAt = now
	}
}
