package core

import "testing"

func TestMempoolAddGetRemove(t *testing.T) {
	pool := NewMempool()
	tx := NewCoinbaseTx("addr", 1, 0)
	entry := &MempoolEntry{Tx: tx, Fee: 5}

	pool.Add(entry)
	if !pool.Has(tx.ID()) {
		t.Fatalf("expected mempool to contain the added transaction")
	}
	got, ok := pool.Get(tx.ID())
	if !ok || got.Fee != 5 {
		t.Fatalf("Get returned %+v, ok=%v", got, ok)
	}
	if pool.Len() != 1 {
		t.Fatalf("expected length 1, got %d", pool.Len())
	}

	pool.Remove(tx.ID())
	if pool.Has(tx.ID()) {
		t.Fatalf("expected transaction to be gone after Remove")
	}
	if pool.Len() != 0 {
		t.Fatalf("expected empty mempool after Remove, got length %d", pool.Len())
	}
}

func TestMempoolEntriesPreservesOrder(t *testing.T) {
	pool := NewMempool()
	var ids []Hash
	for i := 0; i < 3; i++ {
		tx := &Transaction{Message: string(rune('a' + i))}
		pool.Add(&MempoolEntry{Tx: tx, Fee: uint64(i)})
		ids = append(ids, tx.ID())
	}
	entries := pool.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Tx.ID() != ids[i] {
			t.Fatalf("entry %d out of order", i)
		}
	}
}
