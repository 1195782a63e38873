package addressdir

import (
	"sync"

	"gfscore/apis"
)

// MemoryDirectory is an in-process Directory backed by a map. It is the
// default when no etcd endpoint is configured, and what every test in this
// repo uses, matching the teacher's own etcd.PrepareSubscribeForTesting
// test-only in-memory harness.
type MemoryDirectory struct {
	mu        sync.RWMutex
	addresses map[apis.ServerID]apis.ServerAddress
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory returns an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{addresses: make(map[apis.ServerID]apis.ServerAddress)}
}

func (d *MemoryDirectory) Update(id apis.ServerID, addr apis.ServerAddress) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addresses[id] = addr
	return nil
}

func (d *MemoryDirectory) Resolve(id apis.ServerID) (apis.ServerAddress, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.addresses[id]
	if !ok {
		return "", apis.ErrNotFound
	}
	return addr, nil
}

func (d *MemoryDirectory) Remove(id apis.ServerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.addresses, id)
	return nil
}

func (d *MemoryDirectory) Close() error {
	return nil
}
