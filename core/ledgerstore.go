package core

// Persistent ledger index: block headers, transactions, UTXOs and the
// address-usage index, backed by go.etcd.io/bbolt. bbolt is grounded in
// the example pack's illenko-crypto-experiments and moronibr-BYC manifests,
// both of which reach for it as the embedded store underneath a
// from-scratch chain — the same role it plays here. Every bbolt Update
// call is one ACID transaction, giving apply_block/rollback_block the
// single-transactional-write guarantee spec.md §4.8 requires without
// hand-rolled journaling.

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketMeta         = []byte("meta")
	bucketHeaders      = []byte("block_headers")
	bucketBlockTxs     = []byte("block_transactions")
	bucketTxs          = []byte("transactions")
	bucketUTXOs        = []byte("utxos")
	bucketUTXOByAddr   = []byte("utxos_by_address")
	bucketTxAddr       = []byte("tx_addresses")
	bucketTxAddrByAddr = []byte("tx_addresses_by_address")
)

var metaKeyTipHash = []byte("tip_hash")
var metaKeyTipHeight = []byte("tip_height")

// LedgerStore is the persistent relational index described in spec.md
// §4.8. All public methods are safe for concurrent use: bbolt serializes
// writers and lets readers run against a consistent MVCC snapshot.
type LedgerStore struct {
	db *bolt.DB
}

// OpenLedgerStore opens (creating if absent) the bbolt file at path and
// ensures every schema bucket exists.
func OpenLedgerStore(path string) (*LedgerStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, newStorageError("open ledger store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketHeaders, bucketBlockTxs, bucketTxs, bucketUTXOs, bucketUTXOByAddr, bucketTxAddr, bucketTxAddrByAddr} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, newStorageError("init ledger store schema", err)
	}
	return &LedgerStore{db: db}, nil
}

// Close releases the underlying file handle.
func (s *LedgerStore) Close() error { return s.db.Close() }

// storedHeader is block_headers' row shape: the header plus its resolved
// height.
type storedHeader struct {
	Header BlockHeader
	Height uint64
}

// storedTx is transactions' row shape. BlockHash/BlockHeight are nil for a
// mempool-persisted (unconfirmed) transaction.
type storedTx struct {
	Tx          *Transaction
	BlockHash   *Hash
	BlockHeight *uint64
}

// UTXO names an unspent output by its producing transaction and index,
// carrying the output itself.
type UTXO struct {
	TxID        Hash
	OutputIndex uint32
	Output      TxOutput
}

func utxoKey(txid Hash, index uint32) []byte {
	key := make([]byte, 32+4)
	copy(key, txid[:])
	binary.BigEndian.PutUint32(key[32:], index)
	return key
}

func utxoByAddrKey(addr Address, txid Hash, index uint32) []byte {
	key := make([]byte, 0, len(addr)+1+32+4)
	key = append(key, []byte(addr)...)
	key = append(key, 0x00)
	key = append(key, txid[:]...)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], index)
	key = append(key, idxBuf[:]...)
	return key
}

func txAddrKey(txid Hash, addr Address) []byte {
	key := make([]byte, 0, 32+len(addr))
	key = append(key, txid[:]...)
	key = append(key, []byte(addr)...)
	return key
}

func txAddrByAddrKey(addr Address, txid Hash) []byte {
	key := make([]byte, 0, len(addr)+1+32)
	key = append(key, []byte(addr)...)
	key = append(key, 0x00)
	key = append(key, txid[:]...)
	return key
}

// HeightOf returns the height of the block identified by hash.
func (s *LedgerStore) HeightOf(hash Hash) (uint64, bool, error) {
	var height uint64
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHeaders).Get(hash[:])
		if raw == nil {
			return nil
		}
		var h storedHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return err
		}
		height, found = h.Height, true
		return nil
	})
	if err != nil {
		return 0, false, newStorageError("height lookup", err)
	}
	return height, found, nil
}

// Tip returns the current tip's hash and height. ok is false for an empty
// ledger.
func (s *LedgerStore) Tip() (hash Hash, height uint64, ok bool, err error) {
	dbErr := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		h := meta.Get(metaKeyTipHash)
		if h == nil {
			return nil
		}
		copy(hash[:], h)
		height = binary.BigEndian.Uint64(meta.Get(metaKeyTipHeight))
		ok = true
		return nil
	})
	if dbErr != nil {
		return Hash{}, 0, false, newStorageError("tip lookup", dbErr)
	}
	return hash, height, ok, nil
}

// ApplyBlock resolves the block's height against its parent, writes its
// header, upserts every transaction and its UTXO/address-usage effects,
// and advances the tip — all inside a single bbolt transaction. A failure
// at any step rolls back the whole application, leaving the store
// unchanged.
func (s *LedgerStore) ApplyBlock(b *Block) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return applyBlockTx(tx, b)
	})
	return wrapStorage("apply block", err)
}

// wrapStorage wraps err as a StorageError unless it is already one of the
// package's typed errors (a ContextError raised mid-transaction, say, for
// an unknown parent), in which case it is returned unchanged so callers can
// errors.As for the specific kind without peeling back a storage layer.
func wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *ValidationError, *ContextError, *CryptoError, *StorageError:
		return err
	default:
		return newStorageError(op, err)
	}
}

func applyBlockTx(tx *bolt.Tx, b *Block) error {
	headers := tx.Bucket(bucketHeaders)
	meta := tx.Bucket(bucketMeta)
	txs := tx.Bucket(bucketTxs)
	utxos := tx.Bucket(bucketUTXOs)
	utxosByAddr := tx.Bucket(bucketUTXOByAddr)
	txAddr := tx.Bucket(bucketTxAddr)
	txAddrByAddr := tx.Bucket(bucketTxAddrByAddr)

	var height uint64
	if b.Header.PrevBlockHash.IsZero() {
		height = 0
	} else {
		raw := headers.Get(b.Header.PrevBlockHash[:])
		if raw == nil {
			return newContextError(KindUnknownParent, nil)
		}
		var parent storedHeader
		if err := json.Unmarshal(raw, &parent); err != nil {
			return err
		}
		height = parent.Height + 1
	}

	blockHash := b.ID()

	hRec := storedHeader{Header: b.Header, Height: height}
	hRaw, err := json.Marshal(hRec)
	if err != nil {
		return err
	}
	if err := headers.Put(blockHash[:], hRaw); err != nil {
		return err
	}

	txids := make([]Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		txid := t.ID()
		txids[i] = txid

		for _, in := range t.Inputs {
			key := utxoKey(in.PrevTxID, in.OutputIndex)
			raw := utxos.Get(key)
			if raw != nil {
				var out TxOutput
				if err := json.Unmarshal(raw, &out); err != nil {
					return err
				}
				if err := utxos.Delete(key); err != nil {
					return err
				}
				if err := utxosByAddr.Delete(utxoByAddrKey(out.Address, in.PrevTxID, in.OutputIndex)); err != nil {
					return err
				}
			}
		}

		for j, out := range t.Outputs {
			idx := uint32(j)
			outRaw, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if err := utxos.Put(utxoKey(txid, idx), outRaw); err != nil {
				return err
			}
			if err := utxosByAddr.Put(utxoByAddrKey(out.Address, txid, idx), []byte{1}); err != nil {
				return err
			}
			if err := txAddr.Put(txAddrKey(txid, out.Address), []byte{1}); err != nil {
				return err
			}
			if err := txAddrByAddr.Put(txAddrByAddrKey(out.Address, txid), []byte{1}); err != nil {
				return err
			}
		}

		h := height
		rec := storedTx{Tx: t, BlockHash: &blockHash, BlockHeight: &h}
		recRaw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txs.Put(txid[:], recRaw); err != nil {
			return err
		}
	}

	idsRaw, err := json.Marshal(txids)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketBlockTxs).Put(blockHash[:], idsRaw); err != nil {
		return err
	}

	if err := meta.Put(metaKeyTipHash, blockHash[:]); err != nil {
		return err
	}
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], height)
	return meta.Put(metaKeyTipHeight, heightBuf[:])
}

// RollbackBlock undoes ApplyBlock for b, which must be the current tip.
// Every previous output any input of b consumed is pre-loaded before the
// write transaction begins, per spec.md §4.8's "outside the transaction to
// avoid mid-transaction reads" guidance.
func (s *LedgerStore) RollbackBlock(b *Block) error {
	blockHash := b.ID()

	prevOutputs := make(map[Hash]*Transaction)
	for _, t := range b.Transactions {
		for _, in := range t.Inputs {
			if _, ok := prevOutputs[in.PrevTxID]; ok {
				continue
			}
			prevTx, found, err := s.GetTransaction(in.PrevTxID)
			if err != nil {
				return err
			}
			if !found {
				return newStorageError("rollback block", errMissingPrevTx)
			}
			prevOutputs[in.PrevTxID] = prevTx
		}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		tipRaw := meta.Get(metaKeyTipHash)
		var tip Hash
		if tipRaw != nil {
			copy(tip[:], tipRaw)
		}
		if tip != blockHash {
			return newContextError(KindNotTip, nil)
		}
		return rollbackBlockTx(tx, b, prevOutputs)
	})
	return wrapStorage("rollback block", err)
}

var errMissingPrevTx = addrErr("rollback: previous output's transaction is missing")

func rollbackBlockTx(tx *bolt.Tx, b *Block, prevOutputs map[Hash]*Transaction) error {
	headers := tx.Bucket(bucketHeaders)
	meta := tx.Bucket(bucketMeta)
	txs := tx.Bucket(bucketTxs)
	utxos := tx.Bucket(bucketUTXOs)
	utxosByAddr := tx.Bucket(bucketUTXOByAddr)
	txAddr := tx.Bucket(bucketTxAddr)
	txAddrByAddr := tx.Bucket(bucketTxAddrByAddr)

	blockHash := b.ID()

	for i := len(b.Transactions) - 1; i >= 0; i-- {
		t := b.Transactions[i]
		txid := t.ID()

		for _, in := range t.Inputs {
			prevTx := prevOutputs[in.PrevTxID]
			out := prevTx.Outputs[in.OutputIndex]
			outRaw, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if err := utxos.Put(utxoKey(in.PrevTxID, in.OutputIndex), outRaw); err != nil {
				return err
			}
			if err := utxosByAddr.Put(utxoByAddrKey(out.Address, in.PrevTxID, in.OutputIndex), []byte{1}); err != nil {
				return err
			}
		}

		for j, out := range t.Outputs {
			idx := uint32(j)
			if err := utxos.Delete(utxoKey(txid, idx)); err != nil {
				return err
			}
			if err := utxosByAddr.Delete(utxoByAddrKey(out.Address, txid, idx)); err != nil {
				return err
			}
			if err := txAddr.Delete(txAddrKey(txid, out.Address)); err != nil {
				return err
			}
			if err := txAddrByAddr.Delete(txAddrByAddrKey(out.Address, txid)); err != nil {
				return err
			}
		}

		if err := txs.Delete(txid[:]); err != nil {
			return err
		}
	}

	if err := headers.Delete(blockHash[:]); err != nil {
		return err
	}
	if err := tx.Bucket(bucketBlockTxs).Delete(blockHash[:]); err != nil {
		return err
	}

	if b.Header.PrevBlockHash.IsZero() {
		if err := meta.Delete(metaKeyTipHash); err != nil {
			return err
		}
		return meta.Delete(metaKeyTipHeight)
	}
	raw := headers.Get(b.Header.PrevBlockHash[:])
	if raw == nil {
		return errMissingPrevTx
	}
	var parent storedHeader
	if err := json.Unmarshal(raw, &parent); err != nil {
		return err
	}
	if err := meta.Put(metaKeyTipHash, b.Header.PrevBlockHash[:]); err != nil {
		return err
	}
	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], parent.Height)
	return meta.Put(metaKeyTipHeight, heightBuf[:])
}

// GetUTXO looks up a single UTXO by its primary key.
func (s *LedgerStore) GetUTXO(txid Hash, index uint32) (*UTXO, bool, error) {
	var out *UTXO
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUTXOs).Get(utxoKey(txid, index))
		if raw == nil {
			return nil
		}
		var o TxOutput
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out = &UTXO{TxID: txid, OutputIndex: index, Output: o}
		return nil
	})
	if err != nil {
		return nil, false, newStorageError("get utxo", err)
	}
	return out, out != nil, nil
}

// GetUTXOsFromIDs resolves a list of (txid, index) pairs into UTXOs,
// silently skipping pairs that no longer exist.
func (s *LedgerStore) GetUTXOsFromIDs(pairs []struct {
	TxID  Hash
	Index uint32
}) ([]UTXO, error) {
	var out []UTXO
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUTXOs)
		for _, p := range pairs {
			raw := b.Get(utxoKey(p.TxID, p.Index))
			if raw == nil {
				continue
			}
			var o TxOutput
			if err := json.Unmarshal(raw, &o); err != nil {
				return err
			}
			out = append(out, UTXO{TxID: p.TxID, OutputIndex: p.Index, Output: o})
		}
		return nil
	})
	if err != nil {
		return nil, newStorageError("get utxos from ids", err)
	}
	return out, nil
}

// GetUTXOsForAddresses returns every UTXO currently payable to any of
// addrs.
func (s *LedgerStore) GetUTXOsForAddresses(addrs []Address) ([]UTXO, error) {
	var out []UTXO
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketUTXOByAddr)
		utxos := tx.Bucket(bucketUTXOs)
		c := idx.Cursor()
		for _, addr := range addrs {
			prefix := append([]byte(addr), 0x00)
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				rest := k[len(prefix):]
				var txid Hash
				copy(txid[:], rest[:32])
				index := binary.BigEndian.Uint32(rest[32:36])
				raw := utxos.Get(utxoKey(txid, index))
				if raw == nil {
					continue
				}
				var o TxOutput
				if err := json.Unmarshal(raw, &o); err != nil {
					return err
				}
				out = append(out, UTXO{TxID: txid, OutputIndex: index, Output: o})
			}
		}
		return nil
	})
	if err != nil {
		return nil, newStorageError("get utxos for addresses", err)
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

// GetTransaction returns the stored transaction by id, confirmed or not.
func (s *LedgerStore) GetTransaction(txid Hash) (*Transaction, bool, error) {
	var t *Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTxs).Get(txid[:])
		if raw == nil {
			return nil
		}
		var rec storedTx
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		t = rec.Tx
		return nil
	})
	if err != nil {
		return nil, false, newStorageError("get transaction", err)
	}
	return t, t != nil, nil
}

// IsConfirmed reports whether txid names a transaction already recorded
// against a block (as opposed to only a mempool-persisted row or nothing
// at all).
func (s *LedgerStore) IsConfirmed(txid Hash) (bool, error) {
	var confirmed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTxs).Get(txid[:])
		if raw == nil {
			return nil
		}
		var rec storedTx
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		confirmed = rec.BlockHash != nil
		return nil
	})
	if err != nil {
		return false, newStorageError("is confirmed", err)
	}
	return confirmed, nil
}

// HasAnyAddressBeenUsed reports whether any address in addrs has ever
// appeared as an output destination in a confirmed transaction.
func (s *LedgerStore) HasAnyAddressBeenUsed(addrs []Address) (bool, error) {
	var used bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxAddrByAddr)
		c := b.Cursor()
		for _, addr := range addrs {
			prefix := append([]byte(addr), 0x00)
			if k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix) {
				used = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, newStorageError("has any address been used", err)
	}
	return used, nil
}

// GetTransactionsForAddress returns the ids of every transaction that pays
// addr.
func (s *LedgerStore) GetTransactionsForAddress(addr Address) ([]Hash, error) {
	var out []Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxAddrByAddr)
		c := b.Cursor()
		prefix := append([]byte(addr), 0x00)
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			var txid Hash
			copy(txid[:], k[len(prefix):])
			out = append(out, txid)
		}
		return nil
	})
	if err != nil {
		return nil, newStorageError("get transactions for address", err)
	}
	return out, nil
}

// GetAddressesInTransaction returns every output address of txid.
func (s *LedgerStore) GetAddressesInTransaction(txid Hash) ([]Address, error) {
	var out []Address
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxAddr)
		c := b.Cursor()
		for k, _ := c.Seek(txid[:]); k != nil && hasPrefix(k, txid[:]); k, _ = c.Next() {
			out = append(out, Address(k[32:]))
		}
		return nil
	})
	if err != nil {
		return nil, newStorageError("get addresses in transaction", err)
	}
	return out, nil
}

// InsertMempoolTx persists tx with a NULL block_hash, marking it as an
// unconfirmed, mempool-resident row.
func (s *LedgerStore) InsertMempoolTx(t *Transaction) error {
	txid := t.ID()
	rec := storedTx{Tx: t}
	raw, err := json.Marshal(rec)
	if err != nil {
		return newStorageError("insert mempool tx", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxs).Put(txid[:], raw)
	})
	return newStorageError("insert mempool tx", err)
}

// RemoveMempoolTx deletes txid's row only if it is still unconfirmed
// (block_hash IS NULL), so purging the mempool never undoes a
// confirmation.
func (s *LedgerStore) RemoveMempoolTx(txid Hash) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxs)
		raw := b.Get(txid[:])
		if raw == nil {
			return nil
		}
		var rec storedTx
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.BlockHash != nil {
			return nil
		}
		return b.Delete(txid[:])
	})
	return newStorageError("remove mempool tx", err)
}

// headerAt returns the stored header record for blockHash.
func (s *LedgerStore) headerAt(blockHash Hash) (storedHeader, bool, error) {
	var out storedHeader
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketHeaders).Get(blockHash[:])
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &out)
	})
	if err != nil {
		return storedHeader{}, false, newStorageError("header lookup", err)
	}
	return out, found, nil
}

// transactionsForHeader reassembles a block's ordered transaction list from
// the block_transactions id index and the transactions bucket.
func (s *LedgerStore) transactionsForHeader(h BlockHeader) ([]*Transaction, error) {
	blockHash := SHA256(h.headerBytes())
	var ids []Hash
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlockTxs).Get(blockHash[:])
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &ids)
	})
	if err != nil {
		return nil, newStorageError("block transaction ids lookup", err)
	}
	out := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		t, found, err := s.GetTransaction(id)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, newStorageError("block transactions lookup", errMissingPrevTx)
		}
		out = append(out, t)
	}
	return out, nil
}

// GetMempoolTransactions returns every transaction currently persisted
// with a NULL block_hash, letting a node rehydrate its in-memory mempool
// after a restart.
func (s *LedgerStore) GetMempoolTransactions() ([]*Transaction, error) {
	var out []*Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTxs).ForEach(func(_, raw []byte) error {
			var rec storedTx
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			if rec.BlockHash == nil {
				out = append(out, rec.Tx)
			}
			return nil
		})
	})
	if err != nil {
		return nil, newStorageError("get mempool transactions", err)
	}
	return out, nil
}

// errIsStorage reports whether err (possibly nil) wraps a StorageError,
// used by callers that need to distinguish "not found" (nil, nil) from a
// genuine storage failure.
func errIsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
