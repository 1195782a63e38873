package rpc

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gfscore/apis"
)

// PublishMaster starts serving impl's operations over HTTP/JSON at address,
// routed per spec §6's master endpoint table. It returns a teardown func and
// the address actually bound (useful when address ends in ":0").
//
// Grounded on the teacher's PublishMetadataCache(server, address) -> (func(kill
// bool) error, apis.ServerAddress, error) shape (rpc/metadatacache.go), with
// the twirp server swapped for gorilla/mux routing.
func PublishMaster(impl apis.MasterService, address string) (func(kill bool) error, apis.ServerAddress, error) {
	p := &proxyMasterAsHTTP{server: impl}
	r := mux.NewRouter()
	r.HandleFunc("/register_chunkserver", p.registerChunkServer).Methods("POST")
	r.HandleFunc("/heartbeat", p.heartbeat).Methods("POST")
	r.HandleFunc("/report_bad_replica", p.reportBadReplica).Methods("POST")
	r.HandleFunc("/create_file", p.createFile).Methods("POST")
	r.HandleFunc("/get_file_info", p.getFileInfo).Methods("POST")
	r.HandleFunc("/allocate_chunk", p.allocateChunk).Methods("POST")
	r.HandleFunc("/get_chunk_locations", p.getChunkLocations).Methods("POST")
	r.HandleFunc("/snapshot_file", p.snapshotFile).Methods("POST")
	r.HandleFunc("/rename_file", p.renameFile).Methods("POST")
	r.HandleFunc("/delete_file", p.deleteFile).Methods("POST")
	r.HandleFunc("/list_directory", p.listDirectory).Methods("POST")

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, "", err
	}
	srv := &http.Server{Handler: r}
	go srv.Serve(ln)

	teardown := func(kill bool) error {
		if kill {
			return srv.Close()
		}
		return ln.Close()
	}
	return teardown, apis.ServerAddress(ln.Addr().String()), nil
}

// DialMaster returns a client stub for the master at address.
func DialMaster(address apis.ServerAddress) apis.MasterService {
	return dialMaster(address, &http.Client{Timeout: 30 * time.Second})
}

func dialMaster(address apis.ServerAddress, client *http.Client) apis.MasterService {
	return &proxyHTTPAsMaster{address: address, client: client}
}

// proxyMasterAsHTTP adapts an apis.MasterService into gorilla/mux handlers.
type proxyMasterAsHTTP struct {
	server apis.MasterService
}

func (p *proxyMasterAsHTTP) registerChunkServer(w http.ResponseWriter, r *http.Request) {
	var req registerChunkServerRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, registerChunkServerReply{Error: err.Error()})
		return
	}
	toDelete, err := p.server.RegisterChunkServer(req.ID, req.Address, req.RackID, req.Chunks)
	writeJSON(w, registerChunkServerReply{KnownChunksToDelete: toDelete, Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, heartbeatReply{Error: err.Error()})
		return
	}
	toDelete, toClone, err := p.server.Heartbeat(req.ID, req.Chunks, req.Timestamp)
	writeJSON(w, heartbeatReply{Delete: toDelete, Clone: toClone, Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) reportBadReplica(w http.ResponseWriter, r *http.Request) {
	var req reportBadReplicaRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.ReportBadReplica(req.Handle, req.Server)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) createFile(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.CreateFile(req.Path)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) getFileInfo(w http.ResponseWriter, r *http.Request) {
	var req getFileInfoRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, getFileInfoReply{Error: err.Error()})
		return
	}
	info, err := p.server.GetFileInfo(req.Path)
	writeJSON(w, getFileInfoReply{Info: info, Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) allocateChunk(w http.ResponseWriter, r *http.Request) {
	var req allocateChunkRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, chunkLocationsReply{Error: err.Error()})
		return
	}
	loc, err := p.server.AllocateChunk(req.Path, req.Index)
	writeJSON(w, chunkLocationsReply{Locations: loc, Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) getChunkLocations(w http.ResponseWriter, r *http.Request) {
	var req getChunkLocationsRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, chunkLocationsReply{Error: err.Error()})
		return
	}
	loc, err := p.server.GetChunkLocations(req.Handle, req.ForWrite, req.Path, req.ChunkIndex)
	writeJSON(w, chunkLocationsReply{Locations: loc, Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) snapshotFile(w http.ResponseWriter, r *http.Request) {
	var req snapshotFileRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.SnapshotFile(req.Src, req.Dst)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) renameFile(w http.ResponseWriter, r *http.Request) {
	var req renameFileRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.RenameFile(req.Old, req.New)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) deleteFile(w http.ResponseWriter, r *http.Request) {
	var req deleteFileRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.DeleteFile(req.Path)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyMasterAsHTTP) listDirectory(w http.ResponseWriter, r *http.Request) {
	var req listDirectoryRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, listDirectoryReply{Error: err.Error()})
		return
	}
	paths, err := p.server.ListDirectory(req.Prefix)
	writeJSON(w, listDirectoryReply{Paths: paths, Error: errorToWire(err)})
}

// proxyHTTPAsMaster adapts the HTTP/JSON wire protocol back into an
// apis.MasterService for callers (the client package, peer chunkservers).
type proxyHTTPAsMaster struct {
	address apis.ServerAddress
	client  *http.Client
}

func (p *proxyHTTPAsMaster) RegisterChunkServer(id apis.ServerID, address apis.ServerAddress, rackID string, chunks []apis.ReportedChunk) ([]apis.ChunkHandle, error) {
	var reply registerChunkServerReply
	err := postJSON(p.client, p.address, "/register_chunkserver", registerChunkServerRequest{ID: id, Address: address, RackID: rackID, Chunks: chunks}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.KnownChunksToDelete, wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) Heartbeat(id apis.ServerID, chunks []apis.ReportedChunk, timestamp time.Time) ([]apis.ChunkHandle, []apis.CloneInstruction, error) {
	var reply heartbeatReply
	err := postJSON(p.client, p.address, "/heartbeat", heartbeatRequest{ID: id, Chunks: chunks, Timestamp: timestamp}, &reply)
	if err != nil {
		return nil, nil, err
	}
	return reply.Delete, reply.Clone, wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) ReportBadReplica(handle apis.ChunkHandle, server apis.ServerID) error {
	var reply okReply
	if err := postJSON(p.client, p.address, "/report_bad_replica", reportBadReplicaRequest{Handle: handle, Server: server}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) CreateFile(path apis.Path) error {
	var reply okReply
	if err := postJSON(p.client, p.address, "/create_file", createFileRequest{Path: path}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) GetFileInfo(path apis.Path) (apis.FileInfo, error) {
	var reply getFileInfoReply
	if err := postJSON(p.client, p.address, "/get_file_info", getFileInfoRequest{Path: path}, &reply); err != nil {
		return apis.FileInfo{}, err
	}
	return reply.Info, wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) AllocateChunk(path apis.Path, chunkIndex int) (apis.ChunkLocations, error) {
	var reply chunkLocationsReply
	if err := postJSON(p.client, p.address, "/allocate_chunk", allocateChunkRequest{Path: path, Index: chunkIndex}, &reply); err != nil {
		return apis.ChunkLocations{}, err
	}
	return reply.Locations, wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) GetChunkLocations(handle apis.ChunkHandle, forWrite bool, path apis.Path, chunkIndex int) (apis.ChunkLocations, error) {
	var reply chunkLocationsReply
	req := getChunkLocationsRequest{Handle: handle, ForWrite: forWrite, Path: path, ChunkIndex: chunkIndex}
	if err := postJSON(p.client, p.address, "/get_chunk_locations", req, &reply); err != nil {
		return apis.ChunkLocations{}, err
	}
	return reply.Locations, wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) SnapshotFile(src, dst apis.Path) error {
	var reply okReply
	if err := postJSON(p.client, p.address, "/snapshot_file", snapshotFileRequest{Src: src, Dst: dst}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) RenameFile(oldPath, newPath apis.Path) error {
	var reply okReply
	if err := postJSON(p.client, p.address, "/rename_file", renameFileRequest{Old: oldPath, New: newPath}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) DeleteFile(path apis.Path) error {
	var reply okReply
	if err := postJSON(p.client, p.address, "/delete_file", deleteFileRequest{Path: path}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsMaster) ListDirectory(prefix apis.Path) ([]apis.Path, error) {
	var reply listDirectoryReply
	if err := postJSON(p.client, p.address, "/list_directory", listDirectoryRequest{Prefix: prefix}, &reply); err != nil {
		return nil, err
	}
	return reply.Paths, wireToError(reply.Error)
}
