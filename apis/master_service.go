package apis

import "time"

// MasterService is the set of operations the master exposes, both to clients
// and to chunkservers. rpc.PublishMaster/rpc.DialMaster translate this
// interface to and from the JSON/HTTP wire protocol in spec §6's endpoint
// table; master.Master implements it directly.
type MasterService interface {
	// ** chunkserver-facing **

	// RegisterChunkServer installs or updates a chunkserver record. Idempotent.
	RegisterChunkServer(id ServerID, address ServerAddress, rackID string, chunks []ReportedChunk) (knownChunksToDelete []ChunkHandle, err error)

	// Heartbeat reports a chunkserver's current chunk set and receives deletion
	// and clone instructions in reply.
	Heartbeat(id ServerID, chunks []ReportedChunk, timestamp time.Time) (toDelete []ChunkHandle, toClone []CloneInstruction, err error)

	// ReportBadReplica is a best-effort notification that a replica failed a
	// checksum check on read.
	ReportBadReplica(handle ChunkHandle, server ServerID) error

	// ** client-facing **

	CreateFile(path Path) error
	GetFileInfo(path Path) (FileInfo, error)
	AllocateChunk(path Path, chunkIndex int) (ChunkLocations, error)
	// GetChunkLocations returns the current replica set, excluding stale
	// replicas, along with lease info. When forWrite is true and no live
	// lease currently exists, the master grants one lazily (spec §4.1's
	// "Lease grant" paragraph describes granting on demand "when a write is
	// requested"; the wire table has no separate request-lease endpoint, so
	// this single operation serves both reads, which never mutate lease
	// state, and writes, which may trigger a grant — see DESIGN.md).
	//
	// path and chunkIndex identify which file's chunk-list entry handle
	// occupies; they are only consulted when forWrite is true and the chunk
	// is flagged copy-on-write (the result of a prior SnapshotFile), in
	// which case the master duplicates the chunk onto a fresh handle before
	// granting the lease and repoints that entry at it, so the file being
	// snapshotted keeps diverging from its snapshot instead of mutating data
	// the snapshot still references. Reads may pass a zero Path/0, since
	// they never trigger duplication.
	GetChunkLocations(handle ChunkHandle, forWrite bool, path Path, chunkIndex int) (ChunkLocations, error)
	SnapshotFile(src, dst Path) error
	RenameFile(oldPath, newPath Path) error
	DeleteFile(path Path) error
	ListDirectory(prefix Path) ([]Path, error)
}

// ChunkServerService is the set of operations a chunkserver exposes to
// clients, to the master, and to peer chunkservers during pipelining and
// re-replication. A write travels in two phases, per spec §4.2 "Pipelined
// writes": PushData fans raw bytes out to every replica ahead of any
// ordering decision, then CommitWrite/AppendRecord (sent only to the
// primary) assigns serial order and fans the resulting apply-at-offset
// instruction back out to the secondaries it was given as replicaChain.
type ChunkServerService interface {
	// PushData buffers data under fingerprint and forwards it unchanged to
	// every address in replicaChain (each of which buffers it the same way),
	// so all replicas hold the bytes before any of them commit it.
	PushData(handle ChunkHandle, data []byte, fingerprint string, replicaChain []ServerAddress) error

	// CommitWrite applies data previously buffered under fingerprint at the
	// given offset and version. Called by the client only on the primary,
	// which applies locally then forwards the same apply to replicaChain;
	// called by a primary on a secondary with replicaChain == nil.
	// Rejects with ErrStaleVersion if version is behind the chunk's recorded
	// version.
	CommitWrite(handle ChunkHandle, fingerprint string, offset uint64, length uint64, version ChunkVersion, replicaChain []ServerAddress) error

	// AppendRecord is called by the client only on the primary. It assigns
	// an end-of-chunk offset for data already buffered under fingerprint,
	// applies it, forwards the apply to replicaChain, and returns the
	// offset. If the record does not fit before chunk_size, it instead pads
	// the chunk to full (forwarding the same pad to replicaChain) and
	// returns ErrChunkFull so the client retries on a fresh chunk.
	AppendRecord(handle ChunkHandle, fingerprint string, length uint64, version ChunkVersion, replicaChain []ServerAddress) (offset uint64, err error)

	// ApplyPad is the secondary-facing half of a padded AppendRecord: pad
	// the chunk to full capacity at the given version, with no data to write.
	ApplyPad(handle ChunkHandle, version ChunkVersion) error

	// ReadChunk reads length bytes starting at offset, verifying block checksums.
	ReadChunk(handle ChunkHandle, offset uint64, length uint64) (data []byte, version ChunkVersion, err error)

	// CloneChunk pulls handle from a peer chunkserver, replacing any local copy.
	CloneChunk(handle ChunkHandle, source ServerAddress, expectedVersion ChunkVersion) error

	// CopyChunk duplicates oldHandle's locally-held bytes onto a brand new
	// handle at the given version, entirely locally (no peer dial). The
	// master issues this to every live replica of a copy-on-write chunk on
	// its first post-snapshot mutation.
	CopyChunk(newHandle, oldHandle ChunkHandle, version ChunkVersion) error

	// DeleteChunk removes the chunk file and its checksum sidecar.
	DeleteChunk(handle ChunkHandle) error
}
