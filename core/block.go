package core

// Block header and static block validation. Grounded on
// original_source/project/src/model/block.rs and
// _examples/orbas1-Synnergy's core/consensus.go (BlockHeader /
// SerializeWithoutNonce pattern), reworked to spec.md's
// prev-hash/merkle-root/nonce/timestamp header and UTXO transaction list.

import (
	"bytes"
	"encoding/binary"
	"time"
)

// DifficultyBits is the fixed consensus proof-of-work target: the number of
// leading zero bits block.ID() must carry. Difficulty retargeting is out of
// scope; this is a constant at every height.
const DifficultyBits = 8

// MaxBlockSizeBytes bounds a block's canonical size. Consensus constant.
const MaxBlockSizeBytes = 1000

// BlockReward is the fixed base-unit coinbase payout before fees.
const BlockReward = 1_000_000

// CoinUnit is the smallest-denomination count making up one whole coin.
const CoinUnit = 1_000_000

// BlockHeader is the proof-of-work-bearing part of a block.
type BlockHeader struct {
	PrevBlockHash Hash
	MerkleRoot    Hash
	Nonce         uint32
	Timestamp     time.Time
}

// headerBytes canonically serializes the header for hashing:
// prev_block_hash || merkle_root || be32(nonce) || timestamp_string.
func (h BlockHeader) headerBytes() []byte {
	var buf bytes.Buffer
	buf.Write(h.PrevBlockHash[:])
	buf.Write(h.MerkleRoot[:])
	var nb [4]byte
	binary.BigEndian.PutUint32(nb[:], h.Nonce)
	buf.Write(nb[:])
	buf.WriteString(h.Timestamp.UTC().Format(time.RFC3339Nano))
	return buf.Bytes()
}

// Block is a header plus its ordered transaction list. The first
// transaction must be the coinbase; the rest are ordered as packed by the
// miner.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// ID returns SHA-256 of the block's canonical header bytes.
func (b *Block) ID() Hash { return SHA256(b.Header.headerBytes()) }

// Size returns the byte-length of the header plus the sum of the canonical
// byte lengths of every transaction (using each transaction's fully-signed
// serialization, matching how the transaction's own ID is computed).
func (b *Block) Size() int {
	size := len(b.Header.headerBytes())
	for _, tx := range b.Transactions {
		size += len(tx.canonicalBytes(false))
	}
	return size
}

// MerkleRootOf computes the merkle root over a block's transaction ids, in
// order.
func MerkleRootOf(txs []*Transaction) Hash {
	leaves := make([]Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.ID()
	}
	return NewMerkleTree(leaves).Root()
}

// Validate performs static (ledger-independent) validation:
//  1. the transaction list is non-empty (the coinbase counts);
//  2. Size() does not exceed MaxBlockSizeBytes;
//  3. ID() carries at least DifficultyBits leading zero bits;
//  4. the merkle root recomputed from the transaction id sequence matches
//     the header;
//  5. every transaction's own Validate() passes;
//  6. no input (PrevTxID, OutputIndex) pair repeats across the block.
func (b *Block) Validate() error {
	if len(b.Transactions) == 0 {
		return newValidationError(KindEmptyBlock, nil)
	}
	if b.Size() > MaxBlockSizeBytes {
		return newValidationError(KindOversizedBlock, nil)
	}
	if !HashHasLeadingZeroBits(b.ID(), DifficultyBits) {
		return newValidationError(KindProofOfWork, nil)
	}
	if got, want := MerkleRootOf(b.Transactions), b.Header.MerkleRoot; got != want {
		return newValidationError(KindMerkleMismatch, nil)
	}
	for _, tx := range b.Transactions {
		if err := tx.Validate(); err != nil {
			return err
		}
	}

	type spentKey struct {
		tx  Hash
		idx uint32
	}
	seen := make(map[spentKey]struct{})
	for _, tx := range b.Transactions {
		for _, in := range tx.Inputs {
			key := spentKey{in.PrevTxID, in.OutputIndex}
			if _, dup := seen[key]; dup {
				return newValidationError(KindDuplicateInput, nil)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}
