package core

// Node ties the ledger, mempool and miner together: transaction admission
// against current UTXO state, block submission and application, rollback,
// and the entry points the P2P layer calls when it receives gossip.
// Grounded on _examples/orbas1-Synnergy's core/ledger.go
// (ApplyTransaction/ApplyBlock wiring) and original_source/project's
// daemon module boundary between "receive from the wire" and "admit to
// local state", reworked to the UTXO input-resolution and economic
// soundness check spec.md §9 calls out as an open question this module
// resolves (see SPEC_FULL.md Supplemented Feature #5).

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// NodeStatus is a snapshot of the node's current state, used by the
// node_status RPC method and the CLI's "node status" command.
type NodeStatus struct {
	Height      int
	TipHash     Hash
	MempoolSize int
}

// Broadcaster is the node's view of the P2P transport: announce a
// locally-accepted block or transaction to the rest of the network. It is
// satisfied by *internal/p2p.Server without core importing that package,
// the same injected-interface decoupling rpc.PeerCounter uses to let
// internal/rpc query p2p without core or rpc depending on each other's
// concrete types.
type Broadcaster interface {
	BroadcastBlock(b *Block)
	BroadcastTx(tx *Transaction)
}

// Node coordinates the ledger, mempool and miner under a single lock so
// that admission, mining and rollback never interleave inconsistently.
type Node struct {
	mu          sync.Mutex
	ledger      *Ledger
	mempool     *Mempool
	miner       *Miner
	log         *logrus.Logger
	broadcaster Broadcaster
}

// NewNode wires together an already-open ledger, mempool and miner. The
// broadcaster is wired in later via SetBroadcaster, once the P2P server
// (which itself needs the node) has been constructed.
func NewNode(ledger *Ledger, mempool *Mempool, miner *Miner, log *logrus.Logger) *Node {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Node{ledger: ledger, mempool: mempool, miner: miner, log: log}
}

// SetBroadcaster installs the P2P transport a successful SubmitBlock or
// ReceiveTransaction announces to. Announcing is skipped entirely when no
// broadcaster has been set, so startup-time mempool rehydration and
// tests that build a bare Node never need a live P2P server.
func (n *Node) SetBroadcaster(b Broadcaster) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcaster = b
}

// Ledger exposes the underlying ledger for read-only query surfaces (RPC
// chain_show, chain_utxos, wallet balance lookups).
func (n *Node) Ledger() *Ledger { return n.ledger }

// Mempool exposes the underlying mempool for read-only query surfaces.
func (n *Node) Mempool() *Mempool { return n.mempool }

// Status reports the node's current height, tip and mempool size.
func (n *Node) Status() NodeStatus {
	var tip Hash
	if b := n.ledger.Tip(); b != nil {
		tip = b.ID()
	}
	return NodeStatus{
		Height:      n.ledger.Height(),
		TipHash:     tip,
		MempoolSize: n.mempool.Len(),
	}
}

// resolveInputs looks up every input's spent output, returning the
// resolved UTXOs (for MempoolEntry.ResolvedInputs) alongside the sum of
// their values, failing with KindUnknownInput if any input does not name a
// current UTXO.
func (n *Node) resolveInputs(tx *Transaction) ([]UTXO, uint64, error) {
	resolved := make([]UTXO, 0, len(tx.Inputs))
	var total uint64
	for _, in := range tx.Inputs {
		utxo, found, err := n.ledger.Store().GetUTXO(in.PrevTxID, in.OutputIndex)
		if err != nil {
			return nil, 0, err
		}
		if !found {
			return nil, 0, newContextError(KindUnknownInput, nil)
		}
		resolved = append(resolved, utxo)
		total += utxo.Output.Value
	}
	return resolved, total, nil
}

// ReceiveTransaction validates tx structurally, resolves its inputs
// against the current UTXO set, enforces the economic-soundness check
// (input sum must cover output sum — the declared fee is simply the
// difference), rejects duplicates already pending or confirmed, and admits
// it to the mempool.
func (n *Node) ReceiveTransaction(tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	txid := tx.ID()

	confirmed, err := n.ledger.Store().IsConfirmed(txid)
	if err != nil {
		return err
	}
	if confirmed {
		return newContextError(KindAlreadyConfirmed, nil)
	}
	if n.mempool.Has(txid) {
		return newContextError(KindDuplicate, nil)
	}

	for _, pending := range n.mempool.Entries() {
		for _, in := range tx.Inputs {
			for _, pin := range pending.Tx.Inputs {
				if in.PrevTxID == pin.PrevTxID && in.OutputIndex == pin.OutputIndex {
					return newContextError(KindDuplicateInput, nil)
				}
			}
		}
	}

	resolved, inputSum, err := n.resolveInputs(tx)
	if err != nil {
		return err
	}
	outputSum := tx.OutputSum()
	if inputSum < outputSum {
		return newContextError(KindInsufficientInputs, nil)
	}
	fee := inputSum - outputSum

	n.mempool.Add(&MempoolEntry{Tx: tx, Fee: fee, ResolvedInputs: resolved})
	if err := n.ledger.Store().InsertMempoolTx(tx); err != nil {
		n.mempool.Remove(txid)
		return err
	}
	n.log.Infof("node: admitted transaction %s (fee %d)", txid, fee)
	if n.broadcaster != nil {
		n.broadcaster.BroadcastTx(tx)
	}
	return nil
}

// HandleReceivedTransaction is the P2P entry point for a gossiped
// transaction; it is ReceiveTransaction with logging that identifies the
// source as the network rather than a local RPC call.
func (n *Node) HandleReceivedTransaction(tx *Transaction) error {
	if err := n.ReceiveTransaction(tx); err != nil {
		n.log.Warnf("node: rejected gossiped transaction %s: %v", tx.ID(), err)
		return err
	}
	return nil
}

// SubmitBlock validates block structurally and against the current tip,
// re-checks every non-coinbase input against live UTXOs (a block built
// from stale mempool state could reference an output already spent),
// applies it to the ledger and clears its transactions out of the
// mempool.
func (n *Node) SubmitBlock(block *Block) error {
	if err := block.Validate(); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var tipHash Hash
	if tip := n.ledger.Tip(); tip != nil {
		tipHash = tip.ID()
	}
	if block.Header.PrevBlockHash != tipHash {
		return newContextError(KindUnknownParent, nil)
	}

	spent := make(map[spentKey]struct{})
	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		_, inputSum, err := n.resolveInputs(tx)
		if err != nil {
			return err
		}
		if inputSum < tx.OutputSum() {
			return newContextError(KindInsufficientInputs, nil)
		}
		for _, in := range tx.Inputs {
			key := spentKey{in.PrevTxID, in.OutputIndex}
			if _, dup := spent[key]; dup {
				return newValidationError(KindDuplicateInput, nil)
			}
			spent[key] = struct{}{}
		}
	}

	if err := n.ledger.ApplyBlock(block); err != nil {
		return err
	}

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		txid := tx.ID()
		n.mempool.Remove(txid)
		if err := n.ledger.Store().RemoveMempoolTx(txid); err != nil {
			n.log.Warnf("node: failed to clear confirmed transaction %s from mempool store: %v", txid, err)
		}
	}

	n.log.Infof("node: applied block %s at height %d", block.ID(), n.ledger.Height())
	if n.broadcaster != nil {
		n.broadcaster.BroadcastBlock(block)
	}
	return nil
}

// HandleReceivedBlock is the P2P entry point for a gossiped block.
func (n *Node) HandleReceivedBlock(block *Block) error {
	if err := n.SubmitBlock(block); err != nil {
		n.log.Warnf("node: rejected gossiped block %s: %v", block.ID(), err)
		return err
	}
	return nil
}

// Mine assembles and mines a candidate block and submits it, returning the
// applied block.
func (n *Node) Mine() (*Block, error) {
	block, err := n.miner.Mine()
	if err != nil {
		return nil, err
	}
	if err := n.SubmitBlock(block); err != nil {
		return nil, err
	}
	return block, nil
}

// RollbackBlocks undoes the top n blocks, returning every non-coinbase
// transaction they contained to the mempool so in-flight transfers are not
// silently lost.
func (n *Node) RollbackBlocks(count int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if count <= 0 || count > n.ledger.Height()+1 {
		return newValidationError(KindInvalidRollbackCount, nil)
	}

	for i := 0; i < count; i++ {
		block, err := n.ledger.RollbackTip()
		if err != nil {
			return err
		}
		for _, tx := range block.Transactions {
			if tx.IsCoinbase() {
				continue
			}
			resolved, inputSum, err := n.resolveInputs(tx)
			if err != nil {
				return err
			}
			fee := inputSum - tx.OutputSum()
			n.mempool.Add(&MempoolEntry{Tx: tx, Fee: fee, ResolvedInputs: resolved})
			if err := n.ledger.Store().InsertMempoolTx(tx); err != nil {
				return err
			}
		}
	}
	n.log.Warnf("node: rolled back %d block(s), now at height %d", count, n.ledger.Height())
	return nil
}

// ValidateChain re-validates the entire chain held by the ledger.
func (n *Node) ValidateChain() error { return n.ledger.ValidateChain() }
