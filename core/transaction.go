package core

// UTXO-model transaction: ordered inputs and outputs, a timestamp and an
// optional message. Identity is the SHA-256 of a canonical byte
// serialization, distinct from the JSON wire encoding. Grounded on
// original_source/project/src/model/transaction.rs for the canonical
// serialize-then-hash shape, reworked from that file's account-model single
// sender/receiver into spec.md's multi-input/multi-output UTXO layout; the
// sign-unsigned-then-fill-in-signature sequencing follows
// _examples/orbas1-Synnergy's core/wallet.go (SignTx).

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"
)

// TxInput references a previous transaction's output by index, carrying
// the signature and public key that prove the right to spend it.
type TxInput struct {
	PrevTxID    Hash
	OutputIndex uint32
	Signature   []byte
	PublicKey   []byte
}

// TxOutput pays value (in base units) to address.
type TxOutput struct {
	Value   uint64
	Address Address
}

// Transaction is the unit of value transfer. A coinbase transaction has no
// inputs and exactly one output paying the block reward plus collected
// fees.
type Transaction struct {
	Inputs    []TxInput
	Outputs   []TxOutput
	Timestamp time.Time
	Message   string
}

// CoinbaseMessage is the fixed message stamped on every coinbase
// transaction.
const CoinbaseMessage = "Coinbase and fees"

// NewCoinbaseTx builds the first transaction of a block: zero inputs, one
// output paying reward+fees to miner, timestamped now.
func NewCoinbaseTx(miner Address, reward, fees uint64) *Transaction {
	return &Transaction{
		Outputs: []TxOutput{{
			Value:   reward + fees,
			Address: miner,
		}},
		Timestamp: time.Now(),
		Message:   CoinbaseMessage,
	}
}

// IsCoinbase reports whether tx has no inputs.
func (tx *Transaction) IsCoinbase() bool { return len(tx.Inputs) == 0 }

// canonicalBytes serializes tx for hashing. When blankSigs is true, every
// input's Signature and PublicKey fields are treated as empty — this is
// the "unsigned" form signed by each owning key and used to compute an
// input's signature.
func (tx *Transaction) canonicalBytes(blankSigs bool) []byte {
	var buf bytes.Buffer

	for _, in := range tx.Inputs {
		buf.Write(in.PrevTxID[:])
		writeBEUint64(&buf, uint64(in.OutputIndex))
		if !blankSigs {
			buf.Write(in.Signature)
			buf.Write(in.PublicKey)
		}
	}
	for _, out := range tx.Outputs {
		writeBEUint64(&buf, out.Value)
		buf.WriteString(string(out.Address))
	}
	buf.WriteString(tx.Timestamp.UTC().Format(time.RFC3339Nano))
	buf.WriteString(tx.Message)

	return buf.Bytes()
}

func writeBEUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// UnsignedBytes returns the canonical serialization with every input's
// signature/public-key fields blanked — the message every input's
// signature actually covers.
func (tx *Transaction) UnsignedBytes() []byte { return tx.canonicalBytes(true) }

// ID returns SHA-256 of the fully-populated canonical serialization.
func (tx *Transaction) ID() Hash { return SHA256(tx.canonicalBytes(false)) }

// SignInput signs tx's unsigned bytes with priv and installs the resulting
// signature and public key into input i.
func (tx *Transaction) SignInput(i int, priv ed25519.PrivateKey, pub ed25519.PublicKey) {
	msg := tx.UnsignedBytes()
	tx.Inputs[i].Signature = Ed25519Sign(priv, msg)
	tx.Inputs[i].PublicKey = append([]byte(nil), pub...)
}

// Validate performs tx's static (context-free) checks: every input's
// signature must verify against the unsigned serialization using its
// carried public key. It does not check that inputs reference existing
// UTXOs; that is the node's job against the ledger.
func (tx *Transaction) Validate() error {
	msg := tx.UnsignedBytes()
	for i, in := range tx.Inputs {
		if !Ed25519Verify(in.PublicKey, msg, in.Signature) {
			return newValidationError(KindInvalidSignature, fmt.Errorf("input %d: signature does not verify", i))
		}
	}
	return nil
}

// OutputSum returns the sum of tx's output values.
func (tx *Transaction) OutputSum() uint64 {
	var total uint64
	for _, o := range tx.Outputs {
		total += o.Value
	}
	return total
}
