package core

// In-memory pending-transaction pool. The ledger index persists the same
// rows (InsertMempoolTx/RemoveMempoolTx in ledgerstore.go) so a restarted
// node can rehydrate this structure from GetMempoolTransactions; Mempool
// itself is just the fast, lock-guarded in-process view the miner and
// node read and write against. Grounded on _examples/orbas1-Synnergy's
// core/ledger.go pending-pool map pattern, reworked for UTXO transactions
// with a fee already resolved at admission time.

import "sync"

// MempoolEntry is a transaction awaiting confirmation, with its fee and
// the UTXOs its inputs resolved to already snapshotted at admission time
// (spec.md's economic-soundness check and O(1) fee replay, see
// core/node.go's ReceiveTransaction and core/wallet.go's Send).
type MempoolEntry struct {
	Tx             *Transaction
	Fee            uint64
	ResolvedInputs []UTXO
}

// Mempool holds pending entries keyed by transaction id, remembering
// insertion order so fee-rate ties resolve to first-seen-first-packed, not
// map iteration order.
type Mempool struct {
	mu      sync.RWMutex
	entries map[Hash]*MempoolEntry
	order   []Hash
}

// NewMempool returns an empty pool.
func NewMempool() *Mempool {
	return &Mempool{entries: make(map[Hash]*MempoolEntry)}
}

// Add inserts entry, replacing any existing entry for the same id without
// disturbing its position in insertion order.
func (p *Mempool) Add(entry *MempoolEntry) {
	txid := entry.Tx.ID()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[txid]; !exists {
		p.order = append(p.order, txid)
	}
	p.entries[txid] = entry
}

// Remove deletes txid from the pool, if present.
func (p *Mempool) Remove(txid Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[txid]; !ok {
		return
	}
	delete(p.entries, txid)
	for i, id := range p.order {
		if id == txid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Has reports whether txid is pending.
func (p *Mempool) Has(txid Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[txid]
	return ok
}

// Get returns the pending entry for txid, if any.
func (p *Mempool) Get(txid Hash) (*MempoolEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[txid]
	return e, ok
}

// Len returns the number of pending transactions.
func (p *Mempool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// Entries returns a copy of the pending entries in insertion order.
func (p *Mempool) Entries() []*MempoolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*MempoolEntry, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.entries[id])
	}
	return out
}

// Transactions returns the pending transactions in insertion order.
func (p *Mempool) Transactions() []*Transaction {
	entries := p.Entries()
	out := make([]*Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.Tx
	}
	return out
}
