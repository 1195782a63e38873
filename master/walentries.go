package master

import (
	"time"

	"gfscore/apis"
)

// Op kind discriminators for WAL entries (spec §9: "tagged variants with an
// op_kind discriminator and a payload union").
const (
	opCreateFile       = "create_file"
	opDeleteFile       = "delete_file"
	opRenameFile       = "rename_file"
	opSnapshotFile     = "snapshot_file"
	opAllocateChunk    = "allocate_chunk"
	opLeaseGrant       = "lease_grant"
	opReplicaUpdated   = "replica_updated"
	opChunkDestroyed   = "chunk_destroyed"
	opChunkDuplicated  = "chunk_duplicated"
)

type payloadCreateFile struct {
	Path apis.Path `json:"path"`
	At   time.Time `json:"at"`
}

type payloadDeleteFile struct {
	Path apis.Path `json:"path"`
	At   time.Time `json:"at"`
}

type payloadRenameFile struct {
	OldPath apis.Path `json:"old_path"`
	NewPath apis.Path `json:"new_path"`
}

type payloadSnapshotFile struct {
	Src    apis.Path          `json:"src"`
	Dst    apis.Path          `json:"dst"`
	Chunks []apis.ChunkHandle `json:"chunks"`
	At     time.Time          `json:"at"`
}

type payloadAllocateChunk struct {
	Path       apis.Path         `json:"path"`
	ChunkIndex int               `json:"chunk_index"`
	Handle     apis.ChunkHandle  `json:"handle"`
	Replicas   []apis.ServerID   `json:"replicas"`
}

type payloadLeaseGrant struct {
	Handle     apis.ChunkHandle  `json:"handle"`
	Primary    apis.ServerID     `json:"primary"`
	Version    apis.ChunkVersion `json:"version"`
	Expiration time.Time         `json:"expiration"`
}

type payloadReplicaUpdated struct {
	Handle   apis.ChunkHandle `json:"handle"`
	Replicas []apis.ServerID  `json:"replicas"`
	Version  apis.ChunkVersion `json:"version"`
}

type payloadChunkDestroyed struct {
	Handle apis.ChunkHandle `json:"handle"`
}

type payloadChunkDuplicated struct {
	Path       apis.Path         `json:"path"`
	ChunkIndex int               `json:"chunk_index"`
	OldHandle  apis.ChunkHandle  `json:"old_handle"`
	NewHandle  apis.ChunkHandle  `json:"new_handle"`
	Replicas   []apis.ServerID   `json:"replicas"`
	Version    apis.ChunkVersion `json:"version"`
}
