package core

import (
	"bytes"
	"testing"
	"time"
)

func testKey(seedByte byte) HDKey {
	return NewMasterHDKey(bytes.Repeat([]byte{seedByte}, 32))
}

func TestTransactionSignAndValidate(t *testing.T) {
	key := testKey(1)
	priv, pub := key.Ed25519Keys()

	tx := &Transaction{
		Inputs: []TxInput{{PrevTxID: SHA256([]byte("prev")), OutputIndex: 0}},
		Outputs: []TxOutput{{
			Value:   1000,
			Address: key.Address(),
		}},
		Timestamp: time.Now(),
	}
	tx.SignInput(0, priv, pub)

	if err := tx.Validate(); err != nil {
		t.Fatalf("valid transaction failed to validate: %v", err)
	}
}

func TestTransactionValidateRejectsTamperedOutput(t *testing.T) {
	key := testKey(2)
	priv, pub := key.Ed25519Keys()

	tx := &Transaction{
		Inputs:    []TxInput{{PrevTxID: SHA256([]byte("prev")), OutputIndex: 0}},
		Outputs:   []TxOutput{{Value: 1000, Address: key.Address()}},
		Timestamp: time.Now(),
	}
	tx.SignInput(0, priv, pub)

	tx.Outputs[0].Value = 999999 // mutate after signing
	if err := tx.Validate(); err == nil {
		t.Fatalf("expected validation to fail after tampering with a signed output")
	}
}

func TestTransactionIDStableUnderReserialization(t *testing.T) {
	key := testKey(3)
	priv, pub := key.Ed25519Keys()
	tx := &Transaction{
		Inputs:    []TxInput{{PrevTxID: SHA256([]byte("prev")), OutputIndex: 2}},
		Outputs:   []TxOutput{{Value: 50, Address: key.Address()}},
		Timestamp: time.Now(),
	}
	tx.SignInput(0, priv, pub)

	id1 := tx.ID()
	id2 := tx.ID()
	if id1 != id2 {
		t.Fatalf("transaction id is not stable across repeated calls")
	}
}

func TestCoinbaseHasNoInputs(t *testing.T) {
	tx := NewCoinbaseTx("miner-address", BlockReward, 0)
	if !tx.IsCoinbase() {
		t.Fatalf("coinbase transaction reported IsCoinbase() == false")
	}
	if err := tx.Validate(); err != nil {
		t.Fatalf("coinbase with no inputs should validate trivially: %v", err)
	}
}

func TestOutputSum(t *testing.T) {
	tx := &Transaction{Outputs: []TxOutput{{Value: 10}, {Value: 20}, {Value: 5}}}
	if got, want := tx.OutputSum(), uint64(35); got != want {
		t.Fatalf("OutputSum() = %d, want %d", got, want)
	}
}
