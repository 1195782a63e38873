// Package apis defines the domain types and service interfaces shared by the
// master, the chunkserver, and the client. Nothing in this package talks to
// the network or the disk; see rpc, walog, and chunkserver/storage for that.
package apis

import (
	"time"

	"github.com/google/uuid"
)

// ChunkHandle is the opaque, globally-unique 128-bit identifier for a chunk.
type ChunkHandle uuid.UUID

// NewChunkHandle allocates a fresh chunk handle.
func NewChunkHandle() ChunkHandle {
	return ChunkHandle(uuid.New())
}

func (h ChunkHandle) String() string {
	return uuid.UUID(h).String()
}

// ParseChunkHandle parses the string form produced by String.
func ParseChunkHandle(s string) (ChunkHandle, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ChunkHandle{}, err
	}
	return ChunkHandle(u), nil
}

func (h ChunkHandle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *ChunkHandle) UnmarshalText(text []byte) error {
	parsed, err := ParseChunkHandle(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ChunkVersion is a monotonically increasing version number, bumped by the
// master on every lease grant. Versions start at 1; 0 means "no version yet".
type ChunkVersion uint64

// ServerID identifies a chunkserver for the lifetime of the cluster,
// independent of its current network address (see addressdir).
type ServerID string

// ServerAddress is a host:port (or equivalent) network location.
type ServerAddress string

// Path is an absolute, forward-slash-delimited namespace path.
type Path string

const (
	// DefaultChunkSizeMax is the default maximum number of bytes per chunk (64 MiB).
	DefaultChunkSizeMax = 64 * 1024 * 1024
	// DefaultReplicationFactor is the default target replica count.
	DefaultReplicationFactor = 3
	// DefaultHeartbeatInterval is how often chunkservers are expected to heartbeat.
	DefaultHeartbeatInterval = 10 * time.Second
	// DefaultHeartbeatTimeout is how long a chunkserver may go silent before being marked dead.
	DefaultHeartbeatTimeout = 30 * time.Second
	// DefaultLeaseDuration is how long a lease is valid once granted.
	DefaultLeaseDuration = 60 * time.Second
	// DefaultSnapshotInterval is how often the master snapshots its metadata.
	DefaultSnapshotInterval = 60 * time.Second
	// DefaultGarbageRetentionDays is how long a tombstoned file or zero-refcount
	// chunk is kept before physical deletion.
	DefaultGarbageRetentionDays = 3
	// BlockSize is the unit over which chunkserver checksums are computed.
	BlockSize = 64 * 1024
	// MaxRecordFraction bounds a record-append payload to 1/4 of chunk_size.
	MaxRecordFraction = 4
)

// FileInfo is the descriptor returned by get_file_info.
type FileInfo struct {
	Path      Path          `json:"path"`
	Chunks    []ChunkHandle `json:"chunks"`
	Size      uint64        `json:"size"`
	CreatedAt time.Time     `json:"created_at"`
	ModifiedAt time.Time    `json:"modified_at"`
	Deleted   bool          `json:"deleted"`
}

// ChunkLocations is the reply shape for get_chunk_locations / allocate_chunk.
type ChunkLocations struct {
	Handle      ChunkHandle     `json:"handle"`
	Replicas    []ServerID      `json:"replicas"`
	Primary     ServerID        `json:"primary,omitempty"`
	LeaseExpiry time.Time       `json:"lease_expiry,omitempty"`
	Version     ChunkVersion    `json:"version"`
}

// ChunkServerRecord is the master's bookkeeping for one registered chunkserver.
type ChunkServerRecord struct {
	ID            ServerID
	Address       ServerAddress
	RackID        string
	Alive         bool
	LastHeartbeat time.Time
	Chunks        map[ChunkHandle]bool
}

// ReportedChunk is what a chunkserver tells the master about one chunk it holds,
// in a register or heartbeat call.
type ReportedChunk struct {
	Handle  ChunkHandle  `json:"handle"`
	Version ChunkVersion `json:"version"`
	Size    uint64       `json:"size"`
}

// CloneInstruction tells a chunkserver to pull a chunk from a peer.
type CloneInstruction struct {
	Handle          ChunkHandle   `json:"handle"`
	SourceAddress   ServerAddress `json:"source"`
	ExpectedVersion ChunkVersion  `json:"expected_version"`
}

// Lease is a time-bounded grant of primary status for one chunk.
type Lease struct {
	Handle     ChunkHandle
	Primary    ServerID
	Expiration time.Time
}

func (l Lease) Expired(now time.Time) bool {
	return !now.Before(l.Expiration)
}
