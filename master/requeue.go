package master

import (
	"sync"
	"time"

	"gfscore/apis"
)

const (
	reReplicationInitialBackoff = 2 * time.Second
	reReplicationMaxBackoff     = 60 * time.Second
	reReplicationMaxAttempts    = 5
)

type backoffState struct {
	attempts    int
	nextAttempt time.Time
	deadLetter  bool
}

// reReplicationQueue tracks chunks pending re-replication, with exponential
// backoff on failure and a dead-letter state after too many attempts (spec
// §4.1 Re-replication).
type reReplicationQueue struct {
	mu    sync.Mutex
	items map[apis.ChunkHandle]*backoffState
}

func newReReplicationQueue() *reReplicationQueue {
	return &reReplicationQueue{items: make(map[apis.ChunkHandle]*backoffState)}
}

// enqueue schedules handle for immediate re-replication, unless it is
// already queued or in the dead-letter state.
func (q *reReplicationQueue) enqueue(handle apis.ChunkHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.items[handle]; ok && st.deadLetter {
		return
	}
	if _, ok := q.items[handle]; ok {
		return
	}
	q.items[handle] = &backoffState{nextAttempt: time.Time{}}
}

// ready returns the handles whose next-attempt time has arrived.
func (q *reReplicationQueue) ready(now time.Time) []apis.ChunkHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []apis.ChunkHandle
	for h, st := range q.items {
		if st.deadLetter {
			continue
		}
		if st.nextAttempt.IsZero() || !now.Before(st.nextAttempt) {
			out = append(out, h)
		}
	}
	return out
}

// succeeded removes handle from the queue entirely.
func (q *reReplicationQueue) succeeded(handle apis.ChunkHandle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, handle)
}

// failed requeues handle with exponential backoff, capping attempts at
// reReplicationMaxAttempts before moving it to a dead-letter state.
// Returns true if the item was moved to dead-letter by this call.
func (q *reReplicationQueue) failed(handle apis.ChunkHandle, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.items[handle]
	if !ok {
		st = &backoffState{}
		q.items[handle] = st
	}
	st.attempts++
	if st.attempts >= reReplicationMaxAttempts {
		st.deadLetter = true
		return true
	}
	backoff := reReplicationInitialBackoff << (st.attempts - 1)
	if backoff > reReplicationMaxBackoff || backoff <= 0 {
		backoff = reReplicationMaxBackoff
	}
	st.nextAttempt = now.Add(backoff)
	return false
}

// deadLetters returns the handles currently stuck in the dead-letter state,
// for operator-facing logging.
func (q *reReplicationQueue) deadLetters() []apis.ChunkHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []apis.ChunkHandle
	for h, st := range q.items {
		if st.deadLetter {
			out = append(out, h)
		}
	}
	return out
}
