package p2p

import (
	"testing"
	"time"

	"synnergychain/core"
	"synnergychain/internal/testutil"
)

func newTestNode(t *testing.T, minerAddr core.Address) *core.Node {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })

	ledger, err := core.OpenLedger(sb.Path("ledger.db"), sb.Path("chain.json"), nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	mempool := core.NewMempool()
	miner := core.NewMiner(ledger, mempool, minerAddr, 10_000_000, nil)
	return core.NewNode(ledger, mempool, miner, nil)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestServerHandshakeRegistersPeer(t *testing.T) {
	nodeA := newTestNode(t, "A-placeholder-address")
	nodeB := newTestNode(t, "B-placeholder-address")

	serverA := NewServer(nodeA, "127.0.0.1:0", nil)
	go serverA.ListenAndServe()
	t.Cleanup(func() { serverA.Close() })

	waitFor(t, time.Second, func() bool { return serverA.ln != nil })
	addrA := serverA.ln.Addr().String()

	serverB := NewServer(nodeB, "127.0.0.1:0", nil)
	if err := serverB.Connect(addrA); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, time.Second, func() bool { return serverA.PeerCount() == 1 })
	waitFor(t, time.Second, func() bool { return serverB.PeerCount() == 1 })
}

func TestServerBroadcastBlockReachesConnectedPeer(t *testing.T) {
	nodeA := newTestNode(t, "A-placeholder-address")
	nodeB := newTestNode(t, "B-placeholder-address")

	serverA := NewServer(nodeA, "127.0.0.1:0", nil)
	go serverA.ListenAndServe()
	t.Cleanup(func() { serverA.Close() })
	waitFor(t, time.Second, func() bool { return serverA.ln != nil })

	serverB := NewServer(nodeB, "127.0.0.1:0", nil)
	if err := serverB.Connect(serverA.ln.Addr().String()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, time.Second, func() bool { return serverA.PeerCount() == 1 && serverB.PeerCount() == 1 })

	block, err := nodeA.Mine()
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if nodeA.Ledger().Height() != 0 {
		t.Fatalf("expected mining to apply the block on node A, got height %d", nodeA.Ledger().Height())
	}
	serverA.BroadcastBlock(block)

	waitFor(t, 2*time.Second, func() bool { return nodeB.Ledger().Height() == 0 })
	if nodeB.Ledger().Tip().ID() != block.ID() {
		t.Fatalf("expected node B to have applied the broadcast block")
	}
}

func TestServerGetBlocksSyncsNewPeerOnConnect(t *testing.T) {
	nodeA := newTestNode(t, "A-placeholder-address")
	block, err := nodeA.Mine()
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if nodeA.Ledger().Height() != 0 {
		t.Fatalf("expected mining to apply the block on node A, got height %d", nodeA.Ledger().Height())
	}

	nodeB := newTestNode(t, "B-placeholder-address")

	serverA := NewServer(nodeA, "127.0.0.1:0", nil)
	go serverA.ListenAndServe()
	t.Cleanup(func() { serverA.Close() })
	waitFor(t, time.Second, func() bool { return serverA.ln != nil })

	serverB := NewServer(nodeB, "127.0.0.1:0", nil)
	if err := serverB.Connect(serverA.ln.Addr().String()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return nodeB.Ledger().Height() == 0 })
	if nodeB.Ledger().Tip().ID() != block.ID() {
		t.Fatalf("expected the newly connected peer to catch up to height 0 via getblocks")
	}
}

func TestBroadcastWithNoPeersIsNoOp(t *testing.T) {
	nodeA := newTestNode(t, "A-placeholder-address")
	server := NewServer(nodeA, "127.0.0.1:0", nil)

	// With no registered peers, Broadcast must simply be a safe no-op.
	server.Broadcast(Envelope{Type: TypePing}, "nonexistent")
}
