package core

import (
	"testing"

	"synnergychain/internal/testutil"
)

func newTestNode(t *testing.T, minerAddr Address) *Node {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	ledger, err := OpenLedger(sb.Path("ledger.db"), sb.Path("chain.json"), nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	mempool := NewMempool()
	miner := NewMiner(ledger, mempool, minerAddr, 10_000_000, nil)
	return NewNode(ledger, mempool, miner, nil)
}

func TestNodeMineGenesisBlock(t *testing.T) {
	minerKey := testKey(50)
	node := newTestNode(t, minerKey.Address())

	block, err := node.Mine()
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if node.Ledger().Height() != 0 {
		t.Fatalf("expected height 0 after mining genesis, got %d", node.Ledger().Height())
	}
	if node.Ledger().Tip().ID() != block.ID() {
		t.Fatalf("ledger tip does not match the mined block")
	}

	coinbase := block.Transactions[0]
	utxo, found, err := node.Ledger().Store().GetUTXO(coinbase.ID(), 0)
	if err != nil {
		t.Fatalf("get utxo: %v", err)
	}
	if !found || utxo.Output.Value != BlockReward || utxo.Output.Address != minerKey.Address() {
		t.Fatalf("expected a %d-value coinbase utxo paying the miner, got %+v (found=%v)", BlockReward, utxo, found)
	}
}

func TestNodeReceiveTransactionRejectsUnknownInput(t *testing.T) {
	minerKey := testKey(51)
	node := newTestNode(t, minerKey.Address())

	payerKey := testKey(52)
	priv, pub := payerKey.Ed25519Keys()
	tx := &Transaction{
		Inputs:  []TxInput{{PrevTxID: SHA256([]byte("nonexistent")), OutputIndex: 0}},
		Outputs: []TxOutput{{Value: 100, Address: minerKey.Address()}},
	}
	tx.SignInput(0, priv, pub)

	if err := node.ReceiveTransaction(tx); err == nil {
		t.Fatalf("expected a transaction spending a nonexistent input to be rejected")
	}
	_ = pub
}

func TestNodeSendMineAndSpend(t *testing.T) {
	minerWalletSeed := []byte("0123456789abcdef0123456789abcdef")[:32]

	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	ledger, err := OpenLedger(sb.Path("ledger.db"), sb.Path("chain.json"), nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	mempool := NewMempool()
	minerWallet := NewWallet(minerWalletSeed, ledger.Store(), nil)
	minerAddr, err := minerWallet.ReceiveAddress()
	if err != nil {
		t.Fatalf("miner receive address: %v", err)
	}
	miner := NewMiner(ledger, mempool, minerAddr, 10_000_000, nil)
	node := NewNode(ledger, mempool, miner, nil)

	if _, err := node.Mine(); err != nil {
		t.Fatalf("mine genesis: %v", err)
	}

	balance, err := minerWallet.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != BlockReward {
		t.Fatalf("expected miner balance %d after genesis, got %d", BlockReward, balance)
	}

	recipientSeed := []byte("fedcba9876543210fedcba9876543210")[:32]
	recipientWallet := NewWallet(recipientSeed, ledger.Store(), nil)
	recipientAddr, err := recipientWallet.ReceiveAddress()
	if err != nil {
		t.Fatalf("recipient receive address: %v", err)
	}

	entry, err := minerWallet.Send([]TxOutput{{Value: 1000, Address: recipientAddr}}, 1, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := node.ReceiveTransaction(entry.Tx); err != nil {
		t.Fatalf("receive transaction: %v", err)
	}
	if node.Mempool().Len() != 1 {
		t.Fatalf("expected one pending transaction, got %d", node.Mempool().Len())
	}

	if _, err := node.Mine(); err != nil {
		t.Fatalf("mine second block: %v", err)
	}
	if node.Mempool().Len() != 0 {
		t.Fatalf("expected mempool to be empty after mining the pending transaction")
	}

	recipientBalance, err := recipientWallet.Balance()
	if err != nil {
		t.Fatalf("recipient balance: %v", err)
	}
	if recipientBalance != 1000 {
		t.Fatalf("expected recipient balance 1000, got %d", recipientBalance)
	}

	if err := node.ValidateChain(); err != nil {
		t.Fatalf("validate chain: %v", err)
	}
}

func TestNodeRollbackBlocksReturnsTransactionsToMempool(t *testing.T) {
	minerSeed := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	recipientSeed := []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	ledger, err := OpenLedger(sb.Path("ledger.db"), sb.Path("chain.json"), nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	mempool := NewMempool()
	minerWallet := NewWallet(minerSeed, ledger.Store(), nil)
	minerAddr, err := minerWallet.ReceiveAddress()
	if err != nil {
		t.Fatalf("miner address: %v", err)
	}
	miner := NewMiner(ledger, mempool, minerAddr, 10_000_000, nil)
	node := NewNode(ledger, mempool, miner, nil)

	if _, err := node.Mine(); err != nil {
		t.Fatalf("mine genesis: %v", err)
	}

	recipientWallet := NewWallet(recipientSeed, ledger.Store(), nil)
	recipientAddr, err := recipientWallet.ReceiveAddress()
	if err != nil {
		t.Fatalf("recipient address: %v", err)
	}

	sent, err := minerWallet.Send([]TxOutput{{Value: 500, Address: recipientAddr}}, 1, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := node.ReceiveTransaction(sent.Tx); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, err := node.Mine(); err != nil {
		t.Fatalf("mine second block: %v", err)
	}
	if node.Ledger().Height() != 1 {
		t.Fatalf("expected height 1, got %d", node.Ledger().Height())
	}

	if err := node.RollbackBlocks(1); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if node.Ledger().Height() != 0 {
		t.Fatalf("expected height 0 after rollback, got %d", node.Ledger().Height())
	}
	if node.Mempool().Len() != 1 {
		t.Fatalf("expected the rolled-back transaction to return to the mempool, got %d entries", node.Mempool().Len())
	}
	entry, ok := node.Mempool().Get(sent.Tx.ID())
	if !ok {
		t.Fatalf("expected the rolled-back transaction's id to still be present")
	}
	if entry.Fee == 0 {
		t.Fatalf("expected a recomputed non-zero fee after rollback, got 0")
	}
	if len(entry.ResolvedInputs) == 0 {
		t.Fatalf("expected resolved inputs to be recomputed after rollback")
	}
}

// TestNodeSendMineSpecScenario reproduces spec.md's literal send_tx
// scenario end to end through the node: mine a genesis block, send
// 300_000 with a flat fee of 10_000, mine again, and check the resulting
// UTXO set matches the scenario's expected post-state exactly (recipient
// owns 300_000, the miner wallet owns a 690_000 change output plus a
// fresh 1_010_000 coinbase).
func TestNodeSendMineSpecScenario(t *testing.T) {
	minerSeed := []byte("cccccccccccccccccccccccccccccccc")[:32]
	recipientSeed := []byte("dddddddddddddddddddddddddddddddd")[:32]

	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	ledger, err := OpenLedger(sb.Path("ledger.db"), sb.Path("chain.json"), nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	mempool := NewMempool()
	minerWallet := NewWallet(minerSeed, ledger.Store(), nil)
	minerAddr, err := minerWallet.ReceiveAddress()
	if err != nil {
		t.Fatalf("miner address: %v", err)
	}
	miner := NewMiner(ledger, mempool, minerAddr, 10_000_000, nil)
	node := NewNode(ledger, mempool, miner, nil)

	if _, err := node.Mine(); err != nil {
		t.Fatalf("mine genesis: %v", err)
	}

	recipientWallet := NewWallet(recipientSeed, ledger.Store(), nil)
	recipientAddr, err := recipientWallet.ReceiveAddress()
	if err != nil {
		t.Fatalf("recipient address: %v", err)
	}

	const sendValue = 300_000
	const fee = 10_000
	entry, err := minerWallet.Send([]TxOutput{{Value: sendValue, Address: recipientAddr}}, fee, "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := node.ReceiveTransaction(entry.Tx); err != nil {
		t.Fatalf("receive transaction: %v", err)
	}

	block, err := node.Mine()
	if err != nil {
		t.Fatalf("mine second block: %v", err)
	}
	if len(block.Transactions) != 2 {
		t.Fatalf("expected the mined block to carry the coinbase plus the one pending transaction, got %d", len(block.Transactions))
	}

	recipientBalance, err := recipientWallet.Balance()
	if err != nil {
		t.Fatalf("recipient balance: %v", err)
	}
	if recipientBalance != sendValue {
		t.Fatalf("expected recipient balance %d, got %d", sendValue, recipientBalance)
	}

	minerBalance, err := minerWallet.Balance()
	if err != nil {
		t.Fatalf("miner balance: %v", err)
	}
	wantChange := uint64(BlockReward - sendValue - fee)
	wantCoinbase := uint64(BlockReward + fee)
	if want := wantChange + wantCoinbase; minerBalance != want {
		t.Fatalf("expected miner balance %d (change %d + coinbase %d), got %d", want, wantChange, wantCoinbase, minerBalance)
	}
}

func TestNodeRollbackBlocksRejectsOutOfRangeCount(t *testing.T) {
	minerKey := testKey(53)
	node := newTestNode(t, minerKey.Address())

	if err := node.RollbackBlocks(0); err == nil {
		t.Fatalf("expected rollback count 0 to be rejected")
	}
	if err := node.RollbackBlocks(5); err == nil {
		t.Fatalf("expected rollback count exceeding chain height to be rejected")
	}
}
