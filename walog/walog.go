// Package walog implements the master's write-ahead log: an append-only,
// newline-delimited, fsync'd sequence of self-describing JSON entries (spec
// §4.1 Persistence), plus an atomic (write-temp-then-rename) metadata
// snapshot mechanism. No third-party library in the retrieved pack targets
// this shape directly — the spec is itself prescriptive about the on-disk
// format, so this follows it with the standard library's file and json
// primitives, in the teacher's bare-error-return idiom.
package walog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gfscore/apis"
)

// Entry is one write-ahead log record: a monotonically increasing sequence
// number, a timestamp, an op-kind discriminator, and an opaque payload.
type Entry struct {
	Sequence  uint64          `json:"sequence_number"`
	Timestamp time.Time       `json:"timestamp"`
	OpKind    string          `json:"op_kind"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unmarshals the entry's payload into out.
func (e Entry) Decode(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}

// Log is an append-only WAL file open for writing.
type Log struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	w       *bufio.Writer
	nextSeq uint64
	failed  bool
}

// Open opens (creating if necessary) the WAL file at path for appending,
// with the next assigned sequence number being startSeq. Callers replay the
// existing file with ReadAll before calling Open, and pass
// lastSequence+1 (or 1 if the log was empty) as startSeq.
func Open(path string, startSeq uint64) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("walog: creating directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: opening %s: %w", path, err)
	}
	if startSeq == 0 {
		startSeq = 1
	}
	return &Log{
		path:    path,
		f:       f,
		w:       bufio.NewWriter(f),
		nextSeq: startSeq,
	}, nil
}

// Append writes one entry to the log, fsyncs it, and returns the assigned
// entry. Per spec §7, any WAL write failure is fatal for the master: once
// Append returns an error, this Log refuses further appends.
func (l *Log) Append(opKind string, payload interface{}) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failed {
		return Entry{}, apis.ErrWALFailure
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("walog: marshaling payload: %w", err)
	}
	entry := Entry{
		Sequence:  l.nextSeq,
		Timestamp: time.Now(),
		OpKind:    opKind,
		Payload:   raw,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		l.failed = true
		return Entry{}, fmt.Errorf("%w: marshaling entry: %v", apis.ErrWALFailure, err)
	}
	if _, err := l.w.Write(line); err != nil {
		l.failed = true
		return Entry{}, fmt.Errorf("%w: %v", apis.ErrWALFailure, err)
	}
	if err := l.w.WriteByte('\n'); err != nil {
		l.failed = true
		return Entry{}, fmt.Errorf("%w: %v", apis.ErrWALFailure, err)
	}
	if err := l.w.Flush(); err != nil {
		l.failed = true
		return Entry{}, fmt.Errorf("%w: %v", apis.ErrWALFailure, err)
	}
	if err := l.f.Sync(); err != nil {
		l.failed = true
		return Entry{}, fmt.Errorf("%w: fsync: %v", apis.ErrWALFailure, err)
	}
	l.nextSeq++
	return entry, nil
}

// LastSequence returns the sequence number that will be assigned to the next
// appended entry, minus one (i.e. the highest sequence written so far).
func (l *Log) LastSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.nextSeq == 0 {
		return 0
	}
	return l.nextSeq - 1
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Close()
}

// ReadAll replays every entry in the WAL file at path, in order. A missing
// file yields an empty slice, not an error. A malformed line is reported as
// apis.ErrCorruptWAL wrapped with the offending line number, per spec §7:
// "abort startup with a diagnostic pointing at the offending sequence number".
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("walog: opening %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", apis.ErrCorruptWAL, lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("walog: scanning %s: %w", path, err)
	}
	return entries, nil
}

// TruncateBefore rewrites the WAL file at path to keep only entries with
// Sequence > keepAfter, via write-temp-then-rename, and returns a Log open
// for further appends. Called after a successful snapshot (spec §4.1:
// "truncates log entries with sequence <= snapshot's last applied sequence").
func TruncateBefore(path string, entries []Entry, keepAfter uint64) (*Log, error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("walog: creating temp file: %w", err)
	}
	w := bufio.NewWriter(f)
	var lastSeq uint64
	for _, e := range entries {
		if e.Sequence <= keepAfter {
			continue
		}
		line, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return nil, err
		}
		if _, err := w.Write(line); err != nil {
			f.Close()
			return nil, err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return nil, err
		}
		lastSeq = e.Sequence
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("walog: renaming truncated log into place: %w", err)
	}
	if lastSeq < keepAfter {
		lastSeq = keepAfter
	}
	return Open(path, lastSeq+1)
}
