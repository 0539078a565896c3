package p2p

// TCP gossip server: one goroutine per connection, newline-delimited JSON
// framing via encoding/json.Encoder/Decoder (which already frames on
// successive Encode/Decode calls without an explicit delimiter, matching
// the "one JSON object per line" wire contract). Grounded on
// original_source/project/src/network/server.rs's accept-loop-plus-
// broadcast-channel shape; peer identity uses github.com/google/uuid,
// already pulled into the teacher's go.mod transitively by the libp2p
// stack and now put to direct use instead.

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"synnergychain/core"
)

// Peer is a single established connection: an outbound queue drained by a
// dedicated writer goroutine, so a slow reader on the other end can never
// block the dispatch loop that feeds it.
type Peer struct {
	ID   string
	addr string
	conn net.Conn
	out  chan Envelope
	log  *logrus.Logger
}

func newPeer(conn net.Conn, id string, log *logrus.Logger) *Peer {
	return &Peer{ID: id, addr: conn.RemoteAddr().String(), conn: conn, out: make(chan Envelope, 64), log: log}
}

func (p *Peer) writeLoop() {
	enc := json.NewEncoder(p.conn)
	for env := range p.out {
		if err := enc.Encode(env); err != nil {
			p.log.Warnf("p2p: write to peer %s failed: %v", p.ID, err)
			return
		}
	}
}

// send enqueues env for delivery, dropping it rather than blocking if the
// peer's outbound queue is full.
func (p *Peer) send(env Envelope) {
	select {
	case p.out <- env:
	default:
		p.log.Warnf("p2p: outbound queue full for peer %s, dropping a %s message", p.ID, env.Type)
	}
}

func (p *Peer) close() {
	close(p.out)
	p.conn.Close()
}

// Server is the node's gossip endpoint: it accepts inbound connections,
// dials configured peers, and dispatches every decoded Envelope against
// the local Node.
type Server struct {
	mu     sync.RWMutex
	peers  map[string]*Peer
	node   *core.Node
	selfID string
	addr   string
	log    *logrus.Logger
	ln     net.Listener
}

// NewServer builds a server bound to addr (e.g. ":7333") that dispatches
// gossip against node.
func NewServer(node *core.Node, addr string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		peers:  make(map[string]*Peer),
		node:   node,
		selfID: uuid.NewString(),
		addr:   addr,
		log:    log,
	}
}

// ListenAndServe binds addr and accepts connections until the listener is
// closed or Accept fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Infof("p2p: listening on %s (peer id %s)", s.addr, s.selfID)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Connect dials addr and performs the same handshake an inbound
// connection would.
func (s *Server) Connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	go s.handleConn(conn)
	return nil
}

// ConnectAll dials every address in addrs, logging (not failing) on a
// per-peer connection error so one unreachable seed doesn't stop the
// others from being tried.
func (s *Server) ConnectAll(addrs []string) {
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		if err := s.Connect(addr); err != nil {
			s.log.Warnf("p2p: failed to connect to %s: %v", addr, err)
		}
	}
}

// PeerCount returns the number of currently connected peers.
func (s *Server) PeerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Server) handleConn(conn net.Conn) {
	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	local := Envelope{Type: TypeVersion, Version: &VersionPayload{PeerID: s.selfID, Height: s.node.Status().Height}}
	if err := enc.Encode(local); err != nil {
		conn.Close()
		return
	}

	var remote Envelope
	if err := dec.Decode(&remote); err != nil || remote.Type != TypeVersion || remote.Version == nil {
		s.log.Warnf("p2p: handshake with %s failed", conn.RemoteAddr())
		conn.Close()
		return
	}
	peerID := remote.Version.PeerID
	peerHeight := remote.Version.Height

	if err := enc.Encode(Envelope{Type: TypeVerAck}); err != nil {
		conn.Close()
		return
	}
	var ack Envelope
	if err := dec.Decode(&ack); err != nil || ack.Type != TypeVerAck {
		s.log.Warnf("p2p: peer %s did not complete the handshake", peerID)
		conn.Close()
		return
	}

	peer := newPeer(conn, peerID, s.log)
	s.mu.Lock()
	s.peers[peerID] = peer
	s.mu.Unlock()
	s.log.Infof("p2p: peer %s connected from %s at height %d", peerID, peer.addr, peerHeight)

	go peer.writeLoop()

	if myHeight := s.node.Status().Height; peerHeight > myHeight {
		peer.send(Envelope{Type: TypeGetBlocks, GetBlocks: &GetBlocksPayload{FromHeight: myHeight + 1}})
	}

	defer func() {
		s.mu.Lock()
		delete(s.peers, peerID)
		s.mu.Unlock()
		peer.close()
		s.log.Infof("p2p: peer %s disconnected", peerID)
	}()

	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			return
		}
		s.dispatch(peer, env)
	}
}

func (s *Server) dispatch(from *Peer, env Envelope) {
	switch env.Type {
	case TypePing:
		from.send(Envelope{Type: TypePong})

	case TypePong:
		// no-op: liveness only.

	case TypeTx:
		if env.Tx == nil {
			return
		}
		// Node.ReceiveTransaction announces to every peer itself via the
		// Broadcaster wired in NewServer's caller (main.go), so admitting a
		// gossiped transaction here already relays it onward without a
		// second explicit broadcast call.
		s.node.HandleReceivedTransaction(env.Tx)

	case TypeBlock:
		if env.Block == nil {
			return
		}
		// Same as above: Node.SubmitBlock announces on success.
		s.node.HandleReceivedBlock(env.Block)

	case TypeInv:
		var want []InvItem
		for _, item := range env.Inv {
			if item.Kind == InvTx {
				if _, ok := s.node.Mempool().Get(item.Hash); ok {
					continue
				}
			}
			want = append(want, item)
		}
		if len(want) > 0 {
			from.send(Envelope{Type: TypeGetData, GetData: want})
		}

	case TypeGetData:
		for _, item := range env.GetData {
			switch item.Kind {
			case InvTx:
				if entry, ok := s.node.Mempool().Get(item.Hash); ok {
					from.send(Envelope{Type: TypeTx, Tx: entry.Tx})
				}
			case InvBlock:
				if b := s.blockByHash(item.Hash); b != nil {
					from.send(Envelope{Type: TypeBlock, Block: b})
				}
			}
		}

	case TypeGetBlocks:
		if env.GetBlocks == nil {
			return
		}
		blocks := s.node.Ledger().Blocks()
		for h := env.GetBlocks.FromHeight; h >= 0 && h < len(blocks); h++ {
			from.send(Envelope{Type: TypeBlock, Block: blocks[h]})
		}
	}
}

func (s *Server) blockByHash(hash core.Hash) *core.Block {
	for _, b := range s.node.Ledger().Blocks() {
		if b.ID() == hash {
			return b
		}
	}
	return nil
}

// Broadcast sends env to every connected peer except excludePeer (pass ""
// to exclude none).
func (s *Server) Broadcast(env Envelope, excludePeer string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, peer := range s.peers {
		if id == excludePeer {
			continue
		}
		peer.send(env)
	}
}

// BroadcastTx announces a locally-admitted transaction to every peer.
func (s *Server) BroadcastTx(tx *core.Transaction) {
	s.Broadcast(Envelope{Type: TypeTx, Tx: tx}, "")
}

// BroadcastBlock announces a locally-mined or -applied block to every
// peer.
func (s *Server) BroadcastBlock(b *core.Block) {
	s.Broadcast(Envelope{Type: TypeBlock, Block: b}, "")
}
