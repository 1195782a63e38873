package rpc

import (
	"time"

	"gfscore/apis"
)

// Wire request/reply shapes for every endpoint in spec §6. encoding/json
// base64-encodes []byte fields automatically, satisfying "binary payloads are
// base64-encoded within JSON fields" with no extra code.

type registerChunkServerRequest struct {
	ID      apis.ServerID         `json:"id"`
	Address apis.ServerAddress    `json:"address"`
	RackID  string                `json:"rack_id"`
	Chunks  []apis.ReportedChunk  `json:"chunks"`
}

type registerChunkServerReply struct {
	KnownChunksToDelete []apis.ChunkHandle `json:"known_chunks_to_delete"`
	Error               string             `json:"error,omitempty"`
}

type heartbeatRequest struct {
	ID        apis.ServerID        `json:"id"`
	Chunks    []apis.ReportedChunk `json:"chunks"`
	Timestamp time.Time            `json:"timestamp"`
}

type heartbeatReply struct {
	Delete []apis.ChunkHandle      `json:"delete"`
	Clone  []apis.CloneInstruction `json:"clone"`
	Error  string                  `json:"error,omitempty"`
}

type reportBadReplicaRequest struct {
	Handle apis.ChunkHandle `json:"handle"`
	Server apis.ServerID    `json:"server"`
}

type okReply struct {
	Error string `json:"error,omitempty"`
}

type createFileRequest struct {
	Path apis.Path `json:"path"`
}

type getFileInfoRequest struct {
	Path apis.Path `json:"path"`
}

type getFileInfoReply struct {
	Info  apis.FileInfo `json:"info"`
	Error string        `json:"error,omitempty"`
}

type allocateChunkRequest struct {
	Path  apis.Path `json:"path"`
	Index int       `json:"index"`
}

type chunkLocationsReply struct {
	Locations apis.ChunkLocations `json:"locations"`
	Error     string              `json:"error,omitempty"`
}

type getChunkLocationsRequest struct {
	Handle     apis.ChunkHandle `json:"handle"`
	ForWrite   bool             `json:"for_write"`
	Path       apis.Path        `json:"path,omitempty"`
	ChunkIndex int              `json:"chunk_index,omitempty"`
}

type snapshotFileRequest struct {
	Src apis.Path `json:"src"`
	Dst apis.Path `json:"dst"`
}

type renameFileRequest struct {
	Old apis.Path `json:"old"`
	New apis.Path `json:"new"`
}

type deleteFileRequest struct {
	Path apis.Path `json:"path"`
}

type listDirectoryRequest struct {
	Prefix apis.Path `json:"prefix"`
}

type listDirectoryReply struct {
	Paths []apis.Path `json:"paths"`
	Error string      `json:"error,omitempty"`
}

type pushDataRequest struct {
	Handle       apis.ChunkHandle      `json:"handle"`
	Data         []byte                `json:"data"`
	Fingerprint  string                `json:"fingerprint"`
	ReplicaChain []apis.ServerAddress  `json:"replica_chain"`
}

type commitWriteRequest struct {
	Handle       apis.ChunkHandle     `json:"handle"`
	Fingerprint  string               `json:"fingerprint"`
	Offset       uint64               `json:"offset"`
	Length       uint64               `json:"length"`
	Version      apis.ChunkVersion    `json:"version"`
	ReplicaChain []apis.ServerAddress `json:"replica_chain"`
}

type appendRecordRequest struct {
	Handle       apis.ChunkHandle     `json:"handle"`
	Fingerprint  string               `json:"fingerprint"`
	Length       uint64               `json:"length"`
	Version      apis.ChunkVersion    `json:"version"`
	ReplicaChain []apis.ServerAddress `json:"replica_chain"`
}

type appendRecordReply struct {
	Offset uint64 `json:"offset"`
	Error  string `json:"error,omitempty"`
}

type applyPadRequest struct {
	Handle  apis.ChunkHandle  `json:"handle"`
	Version apis.ChunkVersion `json:"version"`
}

type readChunkRequest struct {
	Handle apis.ChunkHandle `json:"handle"`
	Offset uint64           `json:"offset"`
	Length uint64           `json:"length"`
}

type readChunkReply struct {
	Data    []byte            `json:"data"`
	Version apis.ChunkVersion `json:"version"`
	Error   string            `json:"error,omitempty"`
}

type cloneChunkRequest struct {
	Handle          apis.ChunkHandle  `json:"handle"`
	Source          apis.ServerAddress `json:"source"`
	ExpectedVersion apis.ChunkVersion `json:"expected_version"`
}

type deleteChunkRequest struct {
	Handle apis.ChunkHandle `json:"handle"`
}

type copyChunkRequest struct {
	NewHandle apis.ChunkHandle  `json:"new_handle"`
	OldHandle apis.ChunkHandle  `json:"old_handle"`
	Version   apis.ChunkVersion `json:"version"`
}
