// Package rpc implements the node's JSON-RPC 2.0 surface over HTTP,
// transported by github.com/go-chi/chi/v5 exactly as the teacher's
// dexserver/xchainserver command families route their HTTP APIs, plus an
// ambient Prometheus /metrics endpoint. The envelope shape and error code
// table are grounded on
// original_source/project/src/daemon/types/rpc.rs and
// original_source/project/src/daemon/rpc_server.rs.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"synnergychain/core"
)

// JSON-RPC 2.0 error codes, fixed by the original daemon's rpc.rs.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeApplicationError is this server's range for domain rejections
	// (insufficient funds, unknown parent, bad signature, ...) that aren't
	// a protocol-level malformed request.
	CodeApplicationError = -32000
)

// Request is a single JSON-RPC 2.0 call.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Response is a single JSON-RPC 2.0 reply. Exactly one of Result/Error is
// populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// PeerCounter is satisfied by the P2P server, injected so node_status can
// report a peer count without internal/rpc importing internal/p2p
// directly (the node owns the domain state; the transport layers are
// peers of each other, not dependents).
type PeerCounter interface {
	PeerCount() int
}

// Server dispatches JSON-RPC calls against a core.Node.
type Server struct {
	node    *core.Node
	peers   PeerCounter
	log     *logrus.Logger
	metrics *metrics
}

type metrics struct {
	mempoolSize prometheus.Gauge
	chainHeight prometheus.Gauge
	peerCount   prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		mempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synnergychain_mempool_size", Help: "Number of transactions currently pending.",
		}),
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synnergychain_chain_height", Help: "Current block height.",
		}),
		peerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "synnergychain_peer_count", Help: "Number of connected P2P peers.",
		}),
	}
	prometheus.MustRegister(m.mempoolSize, m.chainHeight, m.peerCount)
	return m
}

// NewServer builds an RPC server dispatching against node. peers may be
// nil if the caller doesn't want peer-count reporting (e.g. in tests).
func NewServer(node *core.Node, peers PeerCounter, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{node: node, peers: peers, log: log, metrics: newMetrics()}
}

// Router builds the HTTP handler: POST /rpc for JSON-RPC calls, GET
// /metrics for Prometheus scraping.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Post("/rpc", s.handleRPC)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, CodeParseError, "parse error", nil)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeError(w, req.ID, CodeInvalidRequest, "invalid request", nil)
		return
	}

	s.refreshMetrics()

	result, rpcErr := s.dispatch(req.Method, req.Params)
	if rpcErr != nil {
		writeError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) refreshMetrics() {
	status := s.node.Status()
	s.metrics.mempoolSize.Set(float64(status.MempoolSize))
	s.metrics.chainHeight.Set(float64(status.Height))
	if s.peers != nil {
		s.metrics.peerCount.Set(float64(s.peers.PeerCount()))
	}
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	writeResponse(w, Response{JSONRPC: "2.0", Result: result, ID: id})
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	writeResponse(w, Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message, Data: data}, ID: id})
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// coreError translates a core error into a JSON-RPC application error,
// carrying the original typed Kind (if any) as Data so a programmatic
// client doesn't have to string-match Message.
func coreError(err error) *Error {
	if err == nil {
		return nil
	}
	kind := ""
	switch e := err.(type) {
	case *core.ValidationError:
		kind = e.Kind
	case *core.ContextError:
		kind = e.Kind
	case *core.CryptoError:
		kind = e.Kind
	case *core.StorageError:
		kind = e.Op
	}
	data := map[string]string{}
	if kind != "" {
		data["kind"] = kind
	}
	return &Error{Code: CodeApplicationError, Message: err.Error(), Data: data}
}
