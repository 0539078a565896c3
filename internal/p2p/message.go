// Package p2p implements the node's gossip transport: a raw TCP listener
// exchanging newline-delimited JSON messages, one object per line, with no
// authentication or encryption (spec.md's Non-goals exclude both). The
// message catalogue is grounded on
// original_source/project/src/network/network_message.rs's closed
// enumeration, ported to a Go tagged struct instead of a Rust enum since
// encoding/json has no native sum-type support.
package p2p

import "synnergychain/core"

// MessageType names one of the fixed variants exchanged between peers.
type MessageType string

const (
	TypeVersion   MessageType = "version"
	TypeVerAck    MessageType = "verack"
	TypePing      MessageType = "ping"
	TypePong      MessageType = "pong"
	TypeInv       MessageType = "inv"
	TypeGetData   MessageType = "getdata"
	TypeGetBlocks MessageType = "getblocks"
	TypeBlock     MessageType = "block"
	TypeTx        MessageType = "tx"
)

// InvKind distinguishes a block inventory item from a transaction one.
type InvKind string

const (
	InvBlock InvKind = "block"
	InvTx    InvKind = "tx"
)

// InvItem names one block or transaction by id.
type InvItem struct {
	Kind InvKind   `json:"kind"`
	Hash core.Hash `json:"hash"`
}

// VersionPayload is exchanged as the first message on every new
// connection: each side's protocol identity and chain height, letting the
// receiver decide whether to request blocks.
type VersionPayload struct {
	PeerID string `json:"peer_id"`
	Height int    `json:"height"`
}

// GetBlocksPayload asks a peer for every block from height onward.
type GetBlocksPayload struct {
	FromHeight int `json:"from_height"`
}

// Envelope is the single wire type every line of the stream decodes into.
// Only the field matching Type is populated; the rest are zero/omitted.
// This mirrors the original's tagged enum using a discriminant field
// instead of Go's lack of sum types.
type Envelope struct {
	Type      MessageType       `json:"type"`
	Version   *VersionPayload   `json:"version,omitempty"`
	Inv       []InvItem         `json:"inv,omitempty"`
	GetData   []InvItem         `json:"getdata,omitempty"`
	GetBlocks *GetBlocksPayload `json:"getblocks,omitempty"`
	Block     *core.Block       `json:"block,omitempty"`
	Tx        *core.Transaction `json:"tx,omitempty"`
}
