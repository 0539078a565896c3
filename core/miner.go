package core

// Block assembly and proof-of-work search. Grounded on
// _examples/orbas1-Synnergy's core/consensus.go nonce-search loop
// (SHA-256 over a header, incrementing nonce until the target is met) and
// original_source/project/src/model/block.rs's fee-ordered mempool
// packing, reworked to spec.md's fee-per-byte ordering and fixed
// DifficultyBits/MaxBlockSizeBytes constants.

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Miner assembles a candidate block from the mempool and searches for a
// nonce satisfying the proof-of-work target. It does not apply the block
// to the ledger or clear the mempool; the node does that once the block is
// accepted.
type Miner struct {
	ledger      *Ledger
	mempool     *Mempool
	minerAddr   Address
	maxAttempts uint64
	log         *logrus.Logger
}

// NewMiner builds a miner paying coinbase rewards to minerAddr. maxAttempts
// bounds the nonce search (spec.md's MAX_MINING_ATTEMPTS); exhausting it
// without meeting the target surfaces as MiningExhausted rather than
// spinning forever.
func NewMiner(ledger *Ledger, mempool *Mempool, minerAddr Address, maxAttempts uint64, log *logrus.Logger) *Miner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Miner{ledger: ledger, mempool: mempool, minerAddr: minerAddr, maxAttempts: maxAttempts, log: log}
}

type spentKey struct {
	tx  Hash
	idx uint32
}

func feeRate(e *MempoolEntry) float64 {
	size := len(e.Tx.canonicalBytes(false))
	if size == 0 {
		return 0
	}
	return float64(e.Fee) / float64(size)
}

// packTransactions selects the legitimate, double-spend-free, size-bounded
// subset of the mempool to include after the coinbase: entries are tried
// in descending fee-per-byte order (ties keep mempool insertion order,
// since sort.SliceStable preserves the input order of entries not dictated
// to swap), skipping any entry that would conflict with an
// already-selected input or overflow MaxBlockSizeBytes.
func (m *Miner) packTransactions() ([]*Transaction, uint64) {
	entries := m.mempool.Entries()
	sort.SliceStable(entries, func(i, j int) bool { return feeRate(entries[i]) > feeRate(entries[j]) })

	placeholderHeader := BlockHeader{Timestamp: time.Now()}
	placeholderCoinbase := NewCoinbaseTx(m.minerAddr, 0, 0)
	runningSize := len(placeholderHeader.headerBytes()) + len(placeholderCoinbase.canonicalBytes(false))

	spent := make(map[spentKey]struct{})
	var selected []*Transaction
	var totalFees uint64

	for _, e := range entries {
		conflict := false
		for _, in := range e.Tx.Inputs {
			if _, dup := spent[spentKey{in.PrevTxID, in.OutputIndex}]; dup {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}

		size := len(e.Tx.canonicalBytes(false))
		if runningSize+size > MaxBlockSizeBytes {
			continue
		}

		selected = append(selected, e.Tx)
		totalFees += e.Fee
		runningSize += size
		for _, in := range e.Tx.Inputs {
			spent[spentKey{in.PrevTxID, in.OutputIndex}] = struct{}{}
		}
	}

	return selected, totalFees
}

// Mine assembles a candidate block on top of the ledger's current tip and
// searches for a nonce satisfying DifficultyBits. The header's timestamp
// is fixed once before the search starts; only the nonce varies between
// attempts.
func (m *Miner) Mine() (*Block, error) {
	txs, fees := m.packTransactions()
	coinbase := NewCoinbaseTx(m.minerAddr, BlockReward, fees)
	allTxs := append([]*Transaction{coinbase}, txs...)

	prevHash := ZeroHash
	if tip := m.ledger.Tip(); tip != nil {
		prevHash = tip.ID()
	}
	merkleRoot := MerkleRootOf(allTxs)
	timestamp := time.Now()

	for nonce := uint32(0); uint64(nonce) < m.maxAttempts; nonce++ {
		header := BlockHeader{
			PrevBlockHash: prevHash,
			MerkleRoot:    merkleRoot,
			Nonce:         nonce,
			Timestamp:     timestamp,
		}
		block := &Block{Header: header, Transactions: allTxs}
		if HashHasLeadingZeroBits(block.ID(), DifficultyBits) {
			m.log.Infof("miner: found block %s at nonce %d (%d tx, %d fees)", block.ID(), nonce, len(allTxs), fees)
			return block, nil
		}
	}
	return nil, newContextError(KindMiningExhausted, nil)
}
