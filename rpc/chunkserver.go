package rpc

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"gfscore/apis"
)

// PublishChunkServer starts serving impl's operations over HTTP/JSON at
// address, routed per spec §6's chunkserver endpoint table. write_chunk and
// write_chunk_pipeline are the same handler, a PushData call with identical
// payload shape. This package's stub posts every PushData, client-initiated
// or peer-forwarded, to write_chunk; write_chunk_pipeline is served for
// callers that address it directly.
func PublishChunkServer(impl apis.ChunkServerService, address string) (func(kill bool) error, apis.ServerAddress, error) {
	p := &proxyChunkServerAsHTTP{server: impl}
	r := mux.NewRouter()
	r.HandleFunc("/write_chunk", p.pushData).Methods("POST")
	r.HandleFunc("/write_chunk_pipeline", p.pushData).Methods("POST")
	r.HandleFunc("/commit_write", p.commitWrite).Methods("POST")
	r.HandleFunc("/append_record", p.appendRecord).Methods("POST")
	r.HandleFunc("/apply_pad", p.applyPad).Methods("POST")
	r.HandleFunc("/read_chunk", p.readChunk).Methods("POST")
	r.HandleFunc("/clone_chunk", p.cloneChunk).Methods("POST")
	r.HandleFunc("/copy_chunk", p.copyChunk).Methods("POST")
	r.HandleFunc("/delete_chunk", p.deleteChunk).Methods("POST")

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

// DialChunkServer returns a client stub for the chunkserver at address.
func DialChunkServer(address apis.ServerAddress) apis.ChunkServerService {
	return dialChunkServer(address, &http.Client{Timeout: 30 * time.Second})
}

func dialChunkServer(address apis.ServerAddress, client *http.Client) apis.ChunkServerService {
	return &proxyHTTPAsChunkServer{address: address, client: client}
}

type proxyChunkServerAsHTTP struct {
	server apis.ChunkServerService
}

func (p *proxyChunkServerAsHTTP) pushData(w http.ResponseWriter, r *http.Request) {
	var req pushDataRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.PushData(req.Handle, req.Data, req.Fingerprint, req.ReplicaChain)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyChunkServerAsHTTP) commitWrite(w http.ResponseWriter, r *http.Request) {
	var req commitWriteRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.CommitWrite(req.Handle, req.Fingerprint, req.Offset, req.Length, req.Version, req.ReplicaChain)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyChunkServerAsHTTP) appendRecord(w http.ResponseWriter, r *http.Request) {
	var req appendRecordRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, appendRecordReply{Error: err.Error()})
		return
	}
	offset, err := p.server.AppendRecord(req.Handle, req.Fingerprint, req.Length, req.Version, req.ReplicaChain)
	writeJSON(w, appendRecordReply{Offset: offset, Error: errorToWire(err)})
}

func (p *proxyChunkServerAsHTTP) applyPad(w http.ResponseWriter, r *http.Request) {
	var req applyPadRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.ApplyPad(req.Handle, req.Version)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyChunkServerAsHTTP) readChunk(w http.ResponseWriter, r *http.Request) {
	var req readChunkRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, readChunkReply{Error: err.Error()})
		return
	}
	data, version, err := p.server.ReadChunk(req.Handle, req.Offset, req.Length)
	writeJSON(w, readChunkReply{Data: data, Version: version, Error: errorToWire(err)})
}

func (p *proxyChunkServerAsHTTP) cloneChunk(w http.ResponseWriter, r *http.Request) {
	var req cloneChunkRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.CloneChunk(req.Handle, req.Source, req.ExpectedVersion)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyChunkServerAsHTTP) copyChunk(w http.ResponseWriter, r *http.Request) {
	var req copyChunkRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.CopyChunk(req.NewHandle, req.OldHandle, req.Version)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

func (p *proxyChunkServerAsHTTP) deleteChunk(w http.ResponseWriter, r *http.Request) {
	var req deleteChunkRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, okReply{Error: err.Error()})
		return
	}
	err := p.server.DeleteChunk(req.Handle)
	writeJSON(w, okReply{Error: errorToWire(err)})
}

type proxyHTTPAsChunkServer struct {
	address apis.ServerAddress
	client  *http.Client
}

func (p *proxyHTTPAsChunkServer) PushData(handle apis.ChunkHandle, data []byte, fingerprint string, replicaChain []apis.ServerAddress) error {
	var reply okReply
	route := "/write_chunk"
	if err := postJSON(p.client, p.address, route, pushDataRequest{Handle: handle, Data: data, Fingerprint: fingerprint, ReplicaChain: replicaChain}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsChunkServer) CommitWrite(handle apis.ChunkHandle, fingerprint string, offset, length uint64, version apis.ChunkVersion, replicaChain []apis.ServerAddress) error {
	var reply okReply
	req := commitWriteRequest{Handle: handle, Fingerprint: fingerprint, Offset: offset, Length: length, Version: version, ReplicaChain: replicaChain}
	if err := postJSON(p.client, p.address, "/commit_write", req, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsChunkServer) AppendRecord(handle apis.ChunkHandle, fingerprint string, length uint64, version apis.ChunkVersion, replicaChain []apis.ServerAddress) (uint64, error) {
	var reply appendRecordReply
	req := appendRecordRequest{Handle: handle, Fingerprint: fingerprint, Length: length, Version: version, ReplicaChain: replicaChain}
	if err := postJSON(p.client, p.address, "/append_record", req, &reply); err != nil {
		return 0, err
	}
	return reply.Offset, wireToError(reply.Error)
}

func (p *proxyHTTPAsChunkServer) ApplyPad(handle apis.ChunkHandle, version apis.ChunkVersion) error {
	var reply okReply
	if err := postJSON(p.client, p.address, "/apply_pad", applyPadRequest{Handle: handle, Version: version}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsChunkServer) ReadChunk(handle apis.ChunkHandle, offset, length uint64) ([]byte, apis.ChunkVersion, error) {
	var reply readChunkReply
	if err := postJSON(p.client, p.address, "/read_chunk", readChunkRequest{Handle: handle, Offset: offset, Length: length}, &reply); err != nil {
		return nil, 0, err
	}
	return reply.Data, reply.Version, wireToError(reply.Error)
}

func (p *proxyHTTPAsChunkServer) CloneChunk(handle apis.ChunkHandle, source apis.ServerAddress, expectedVersion apis.ChunkVersion) error {
	var reply okReply
	req := cloneChunkRequest{Handle: handle, Source: source, ExpectedVersion: expectedVersion}
	if err := postJSON(p.client, p.address, "/clone_chunk", req, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsChunkServer) CopyChunk(newHandle, oldHandle apis.ChunkHandle, version apis.ChunkVersion) error {
	var reply okReply
	req := copyChunkRequest{NewHandle: newHandle, OldHandle: oldHandle, Version: version}
	if err := postJSON(p.client, p.address, "/copy_chunk", req, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}

func (p *proxyHTTPAsChunkServer) DeleteChunk(handle apis.ChunkHandle) error {
	var reply okReply
	if err := postJSON(p.client, p.address, "/delete_chunk", deleteChunkRequest{Handle: handle}, &reply); err != nil {
		return err
	}
	return wireToError(reply.Error)
}
