// Package client is the stateless coordinator driving the read and write
// paths over the master and chunkserver RPC surfaces (spec §4.3).
//
// Grounded on wl4g-collect-goGFS/src/gfs/client/client.go's Client struct
// (one master address, one method per master RPC) generalized with the
// two-phase push/commit pipeline from spec §4.3, and the teacher's
// (fengpf-zircon) client/control/client_test.go integration-test shape,
// which this package's own tests follow.
package client

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"gfscore/addressdir"
	"gfscore/apis"
	"gfscore/rpc"
)

// Config holds the coordinator's tunables.
type Config struct {
	MasterAddress apis.ServerAddress
	ChunkSize     uint64
}

func (c Config) chunkSize() uint64 {
	if c.ChunkSize == 0 {
		return apis.DefaultChunkSizeMax
	}
	return c.ChunkSize
}

// Client is the entry point applications use to talk to a gfscore cluster.
// It is stateless across calls except for a short-lived chunk-location
// cache; any number of Clients may safely share a cluster concurrently.
type Client struct {
	cfg    Config
	master apis.MasterService
	cache  *rpc.ConnectionCache
	dir    addressdir.Directory
	locs   *locationCache
	log    *logrus.Entry
}

// New dials master and returns a ready Client. dir resolves the ServerIDs
// a ChunkLocations reply carries into dialable addresses; pass the same
// addressdir.Directory (or one backed by the same etcd cluster) the master
// updates on chunkserver registration.
func New(cfg Config, dir addressdir.Directory) *Client {
	cache := rpc.NewConnectionCache()
	return &Client{
		cfg:    cfg,
		master: rpc.DialMaster(cfg.MasterAddress),
		cache:  cache,
		dir:    dir,
		locs:   newLocationCache(),
		log:    logrus.WithField("component", "client"),
	}
}

// Create creates an empty file at path.
func (c *Client) Create(path apis.Path) error {
	return c.master.CreateFile(path)
}

// Delete removes path.
func (c *Client) Delete(path apis.Path) error {
	return c.master.DeleteFile(path)
}

// Rename moves oldPath to newPath.
func (c *Client) Rename(oldPath, newPath apis.Path) error {
	return c.master.RenameFile(oldPath, newPath)
}

// Snapshot copy-on-write duplicates src to dst.
func (c *Client) Snapshot(src, dst apis.Path) error {
	return c.master.SnapshotFile(src, dst)
}

// List returns every path under prefix.
func (c *Client) List(prefix apis.Path) ([]apis.Path, error) {
	return c.master.ListDirectory(prefix)
}

// Stat returns path's current metadata.
func (c *Client) Stat(path apis.Path) (apis.FileInfo, error) {
	return c.master.GetFileInfo(path)
}

// Read reads up to len(data) bytes from path starting at offset, returning
// io.EOF once it reaches the end of the file (mirrors the teacher's
// Read's offset-walking loop across chunk boundaries).
func (c *Client) Read(path apis.Path, offset uint64, data []byte) (int, error) {
	info, err := c.master.GetFileInfo(path)
	if err != nil {
		return 0, err
	}
	chunkSize := c.cfg.chunkSize()
	if offset/chunkSize >= uint64(len(info.Chunks)) {
		return 0, io.EOF
	}

	pos := 0
	for pos < len(data) {
		index := int(offset / chunkSize)
		if index >= len(info.Chunks) {
			break
		}
		chunkOffset := offset % chunkSize
		handle := info.Chunks[index]

		want := len(data) - pos
		if uint64(want) > chunkSize-chunkOffset {
			want = int(chunkSize - chunkOffset)
		}
		n, err := c.readChunk(handle, chunkOffset, data[pos:pos+want])
		pos += n
		offset += uint64(n)
		if err != nil {
			if pos == 0 {
				return 0, err
			}
			return pos, nil
		}
		if n < want {
			break
		}
	}
	if pos == 0 {
		return 0, io.EOF
	}
	return pos, nil
}

// readChunk reads from a live replica of handle, falling back to the next
// replica and reporting the fault to the master on a checksum mismatch
// (spec §4.4).
func (c *Client) readChunk(handle apis.ChunkHandle, offset uint64, data []byte) (int, error) {
	loc, ok := c.locs.get(handle, time.Now())
	if !ok {
		var err error
		loc, err = c.master.GetChunkLocations(handle, false, "", 0)
		if err != nil {
			return 0, err
		}
		c.locs.set(loc)
	}
	if len(loc.Replicas) == 0 {
		return 0, apis.ErrNoReplicas
	}

	order := shuffledIndices(len(loc.Replicas))
	var lastErr error
	for _, i := range order {
		server := loc.Replicas[i]
		addr, err := c.addressOf(server)
		if err != nil {
			lastErr = err
			continue
		}
		peer, err := c.cache.DialChunkServer(addr)
		if err != nil {
			lastErr = err
			continue
		}
		chunkData, _, err := peer.ReadChunk(handle, offset, uint64(len(data)))
		if err != nil {
			lastErr = err
			if err == apis.ErrChecksumMismatch {
				_ = c.master.ReportBadReplica(handle, server)
			}
			continue
		}
		return copy(data, chunkData), nil
	}
	return 0, lastErr
}

// addressOf resolves a ServerID to its current network address.
func (c *Client) addressOf(id apis.ServerID) (apis.ServerAddress, error) {
	return c.dir.Resolve(id)
}

// Write writes data to path at offset, splitting across chunk boundaries
// as needed (spec §4.3 "Writes"). A chunk the write reaches that does not
// exist yet is allocated at the next chunk index; AllocateChunk rejects any
// index other than one past the file's last chunk.
func (c *Client) Write(path apis.Path, offset uint64, data []byte) error {
	chunkSize := c.cfg.chunkSize()
	begin := 0
	for begin < len(data) {
		index := int((offset + uint64(begin)) / chunkSize)
		chunkOffset := (offset + uint64(begin)) % chunkSize

		loc, err := c.allocateChunkForWrite(path, index)
		if err != nil {
			return err
		}

		writeMax := chunkSize - chunkOffset
		writeLen := uint64(len(data) - begin)
		if writeLen > writeMax {
			writeLen = writeMax
		}

		if err := c.writeChunk(loc, chunkOffset, data[begin:begin+int(writeLen)]); err != nil {
			return err
		}
		begin += int(writeLen)
	}
	return nil
}

// allocateChunkForWrite returns the chunk at index, allocating a fresh one
// only when index is exactly the next chunk the file doesn't have yet. An
// index that already exists (an overwrite, or Append targeting the file's
// last chunk) instead resolves its existing handle and requests a
// write-capable lease for it, since AllocateChunk only ever accepts the
// next-sequential index (spec §4.1 "allocate_chunk").
func (c *Client) allocateChunkForWrite(path apis.Path, index int) (apis.ChunkLocations, error) {
	info, err := c.master.GetFileInfo(path)
	if err != nil {
		return apis.ChunkLocations{}, err
	}
	if index < len(info.Chunks) {
		loc, err := c.master.GetChunkLocations(info.Chunks[index], true, path, index)
		if err != nil {
			return apis.ChunkLocations{}, err
		}
		c.locs.set(loc)
		return loc, nil
	}

	loc, err := c.master.AllocateChunk(path, index)
	if err != nil {
		return apis.ChunkLocations{}, err
	}
	c.locs.set(loc)
	return loc, nil
}

// writeChunk pushes data to every replica then commits it on the primary,
// which forwards the apply to the secondaries (spec §4.3 steps 3-5). A
// stale-version or stale-lease rejection invalidates the cached location
// so the next attempt re-resolves it.
func (c *Client) writeChunk(loc apis.ChunkLocations, offset uint64, data []byte) error {
	primaryAddr, secondaries, err := c.resolveReplicaSet(loc)
	if err != nil {
		return err
	}
	primary, err := c.cache.DialChunkServer(primaryAddr)
	if err != nil {
		return err
	}
	fingerprint := fingerprintOf(data)
	if err := primary.PushData(loc.Handle, data, fingerprint, secondaries); err != nil {
		return err
	}
	err = primary.CommitWrite(loc.Handle, fingerprint, offset, uint64(len(data)), loc.Version, secondaries)
	if err == apis.ErrStaleVersion || err == apis.ErrStaleLease {
		c.locs.invalidate(loc.Handle)
	}
	return err
}

// Append appends data to path as a single atomic record, retrying on the
// next chunk when the current one doesn't have room (spec §4.3 "Record
// append", the GFS paper's at-least-once-with-possible-duplicates
// resolution of what happens when a record doesn't fit).
func (c *Client) Append(path apis.Path, data []byte) (uint64, error) {
	maxRecord := c.cfg.chunkSize() / apis.MaxRecordFraction
	if uint64(len(data)) > maxRecord {
		return 0, apis.ErrRecordTooLarge
	}

	info, err := c.master.GetFileInfo(path)
	if err != nil {
		return 0, err
	}
	index := len(info.Chunks) - 1
	if index < 0 {
		index = 0
	}

	for {
		loc, err := c.allocateChunkForWrite(path, index)
		if err != nil {
			return 0, err
		}
		offset, err := c.appendToChunk(loc, data)
		if err == apis.ErrChunkFull {
			index++
			continue
		}
		if err != nil {
			return 0, err
		}
		return uint64(index)*c.cfg.chunkSize() + offset, nil
	}
}

func (c *Client) appendToChunk(loc apis.ChunkLocations, data []byte) (uint64, error) {
	primaryAddr, secondaries, err := c.resolveReplicaSet(loc)
	if err != nil {
		return 0, err
	}
	primary, err := c.cache.DialChunkServer(primaryAddr)
	if err != nil {
		return 0, err
	}
	fingerprint := fingerprintOf(data)
	if err := primary.PushData(loc.Handle, data, fingerprint, secondaries); err != nil {
		return 0, err
	}
	offset, err := primary.AppendRecord(loc.Handle, fingerprint, uint64(len(data)), loc.Version, secondaries)
	if err == apis.ErrStaleVersion || err == apis.ErrStaleLease {
		c.locs.invalidate(loc.Handle)
	}
	return offset, err
}

func (c *Client) resolveReplicaSet(loc apis.ChunkLocations) (primary apis.ServerAddress, secondaries []apis.ServerAddress, err error) {
	if loc.Primary == "" {
		return "", nil, apis.ErrNoLease
	}
	primary, err = c.addressOf(loc.Primary)
	if err != nil {
		return "", nil, err
	}
	for _, r := range loc.Replicas {
		if r == loc.Primary {
			continue
		}
		addr, err := c.addressOf(r)
		if err != nil {
			return "", nil, err
		}
		secondaries = append(secondaries, addr)
	}
	return primary, secondaries, nil
}

// Close releases the client's cached connections.
func (c *Client) Close() {
	c.cache.CloseAll()
}

func fingerprintOf(data []byte) string {
	return fmt.Sprintf("%x-%d", xxhash.Sum64(data), time.Now().UnixNano())
}

func shuffledIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rand.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}
