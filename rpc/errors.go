package rpc

import (
	"errors"

	"gfscore/apis"
)

// errorTable maps wire error strings to sentinel errors in both directions,
// so errors.Is keeps working across the RPC boundary (spec §7's error
// taxonomy is by effect, which means callers need to distinguish these).
var errorTable = []error{
	apis.ErrNotFound,
	apis.ErrAlreadyExists,
	apis.ErrBadPath,
	apis.ErrStaleVersion,
	apis.ErrStaleLease,
	apis.ErrNoLease,
	apis.ErrChecksumMismatch,
	apis.ErrInsufficientReplicas,
	apis.ErrNoReplicas,
	apis.ErrRecordTooLarge,
	apis.ErrChunkFull,
	apis.ErrWALFailure,
	apis.ErrCorruptWAL,
	apis.ErrTimeout,
	apis.ErrShuttingDown,
}

func errorToWire(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range errorTable {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func wireToError(s string) error {
	if s == "" {
		return nil
	}
	for _, sentinel := range errorTable {
		if sentinel.Error() == s {
			return sentinel
		}
	}
	return errString(s)
}

type errString string

func (e errString) Error() string { return string(e) }
