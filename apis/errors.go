package apis

import "errors"

// Sentinel errors returned across the master/chunkserver/client boundary.
// Transports (rpc) map these to/from wire error strings with errors.Is in mind.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrBadPath         = errors.New("bad path")
	ErrStaleVersion    = errors.New("stale chunk version")
	ErrStaleLease      = errors.New("stale or missing lease")
	ErrNoLease         = errors.New("no current lease")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInsufficientReplicas = errors.New("insufficient live replicas")
	ErrNoReplicas      = errors.New("no live replicas")
	ErrRecordTooLarge  = errors.New("record exceeds maximum append size")
	ErrChunkFull       = errors.New("write does not fit in remaining chunk space")
	ErrWALFailure      = errors.New("write-ahead log failure")
	ErrCorruptWAL      = errors.New("corrupt write-ahead log entry")
	ErrTimeout         = errors.New("deadline exceeded")
	ErrShuttingDown    = errors.New("server shutting down")
)
