// Package rpc is the JSON-over-HTTP transport binding apis.MasterService and
// apis.ChunkServerService to the wire (spec §6). Grounded on the teacher's
// rpc/metadatacache.go (Publish*/Subscribe* naming, proxy-struct-wraps-
// underlying-interface shape) and rpc/chunkserver_test.go's ConnectionCache
// usage, with twirp/protobuf swapped for gorilla/mux + encoding/json: spec §6
// mandates JSON bodies, and twirp's generated stubs need an unavailable
// protoc step.
package rpc

import (
	"net/http"
	"sync"
	"time"

	"gfscore/apis"
)

// ConnectionCache memoizes dialed clients by address, so callers that talk
// to the same master or chunkserver repeatedly (the client package, the
// chunkserver's peer-forwarding path) don't redial every call.
type ConnectionCache struct {
	httpClient *http.Client

	mu      sync.Mutex
	masters map[apis.ServerAddress]apis.MasterService
	servers map[apis.ServerAddress]apis.ChunkServerService
}

// NewConnectionCache returns an empty cache using a default HTTP client with
// a bounded per-request timeout (spec §7: "RPCs must not block forever").
func NewConnectionCache() *ConnectionCache {
	return &ConnectionCache{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		masters:    make(map[apis.ServerAddress]apis.MasterService),
		servers:    make(map[apis.ServerAddress]apis.ChunkServerService),
	}
}

// DialMaster returns a client for the master at address, dialing once and
// reusing the stub on subsequent calls.
func (c *ConnectionCache) DialMaster(address apis.ServerAddress) (apis.MasterService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.masters[address]; ok {
		return m, nil
	}
	m := dialMaster(address, c.httpClient)
	c.masters[address] = m
	return m, nil
}

// DialChunkServer returns a client for the chunkserver at address, dialing
// once and reusing the stub on subsequent calls.
func (c *ConnectionCache) DialChunkServer(address apis.ServerAddress) (apis.ChunkServerService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.servers[address]; ok {
		return s, nil
	}
	s := dialChunkServer(address, c.httpClient)
	c.servers[address] = s
	return s, nil
}

// CloseAll drops every cached client. The underlying HTTP connections are
// returned to Go's transport pool, not forcibly closed.
func (c *ConnectionCache) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masters = make(map[apis.ServerAddress]apis.MasterService)
	c.servers = make(map[apis.ServerAddress]apis.ChunkServerService)
}
