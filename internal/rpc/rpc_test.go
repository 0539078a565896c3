package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"synnergychain/core"
	"synnergychain/internal/testutil"
)

func callRPC(t *testing.T, ts *httptest.Server, body string) Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/rpc", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded
}

func call(t *testing.T, ts *httptest.Server, method string, params any) Response {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":%s}`, method, raw)
	return callRPC(t, ts, body)
}

// TestRPCServer exercises the full dispatch table against a single shared
// server: Prometheus gauges are registered against the default registry in
// NewServer, so a second NewServer call in the same binary would panic on
// duplicate registration.
func TestRPCServer(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	ledger, err := core.OpenLedger(sb.Path("ledger.db"), sb.Path("chain.json"), nil)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	mempool := core.NewMempool()
	miner := core.NewMiner(ledger, mempool, "miner-placeholder-address", 10_000_000, nil)
	node := core.NewNode(ledger, mempool, miner, nil)

	server := NewServer(node, nil, nil)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	t.Run("parse error on malformed body", func(t *testing.T) {
		resp := callRPC(t, ts, `{not json`)
		if resp.Error == nil || resp.Error.Code != CodeParseError {
			t.Fatalf("expected a parse error, got %+v", resp)
		}
	})

	t.Run("invalid request on missing method", func(t *testing.T) {
		resp := callRPC(t, ts, `{"jsonrpc":"2.0","id":1}`)
		if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
			t.Fatalf("expected an invalid request error, got %+v", resp)
		}
	})

	t.Run("method not found", func(t *testing.T) {
		resp := call(t, ts, "not_a_real_method", map[string]any{})
		if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
			t.Fatalf("expected a method-not-found error, got %+v", resp)
		}
	})

	t.Run("node_status on an empty chain", func(t *testing.T) {
		resp := call(t, ts, "node_status", map[string]any{})
		if resp.Error != nil {
			t.Fatalf("node_status: %+v", resp.Error)
		}
		result, ok := resp.Result.(map[string]any)
		if !ok {
			t.Fatalf("expected a map result, got %T", resp.Result)
		}
		if result["height"].(float64) != -1 {
			t.Fatalf("expected height -1 on an empty chain, got %v", result["height"])
		}
	})

	t.Run("mine_block advances the chain", func(t *testing.T) {
		resp := call(t, ts, "mine_block", map[string]any{})
		if resp.Error != nil {
			t.Fatalf("mine_block: %+v", resp.Error)
		}
		result := resp.Result.(map[string]any)
		if result["height"].(float64) != 0 {
			t.Fatalf("expected height 0 after mining the genesis block, got %v", result["height"])
		}
	})

	t.Run("chain_status reflects the mined block", func(t *testing.T) {
		resp := call(t, ts, "chain_status", map[string]any{})
		if resp.Error != nil {
			t.Fatalf("chain_status: %+v", resp.Error)
		}
		result := resp.Result.(map[string]any)
		if result["height"].(float64) != 0 {
			t.Fatalf("expected height 0, got %v", result["height"])
		}
	})

	t.Run("chain_validate reports a healthy chain", func(t *testing.T) {
		resp := call(t, ts, "chain_validate", map[string]any{})
		if resp.Error != nil {
			t.Fatalf("chain_validate: %+v", resp.Error)
		}
		result := resp.Result.(map[string]any)
		if result["valid"] != true {
			t.Fatalf("expected valid=true, got %v", result)
		}
	})

	var walletAddr string
	t.Run("wallet_new creates a keystore and returns an address", func(t *testing.T) {
		resp := call(t, ts, "wallet_new", map[string]any{
			"path":     sb.Path("wallet.json"),
			"password": "correct horse battery staple",
		})
		if resp.Error != nil {
			t.Fatalf("wallet_new: %+v", resp.Error)
		}
		result := resp.Result.(map[string]any)
		walletAddr, _ = result["address"].(string)
		if walletAddr == "" {
			t.Fatalf("expected a non-empty address, got %+v", result)
		}
	})

	t.Run("wallet_balance on a fresh wallet is zero", func(t *testing.T) {
		resp := call(t, ts, "wallet_balance", map[string]any{
			"path":     sb.Path("wallet.json"),
			"password": "correct horse battery staple",
		})
		if resp.Error != nil {
			t.Fatalf("wallet_balance: %+v", resp.Error)
		}
		result := resp.Result.(map[string]any)
		if result["balance"].(float64) != 0 {
			t.Fatalf("expected a fresh wallet to have zero balance, got %v", result["balance"])
		}
	})

	t.Run("wallet_import with the wrong password is rejected", func(t *testing.T) {
		resp := call(t, ts, "wallet_import", map[string]any{
			"path":     sb.Path("wallet.json"),
			"password": "wrong password",
		})
		if resp.Error == nil || resp.Error.Code != CodeApplicationError {
			t.Fatalf("expected an application error for a bad keystore password, got %+v", resp)
		}
	})

	t.Run("walletGenerateKeys produces a fresh mnemonic and address", func(t *testing.T) {
		resp := call(t, ts, "wallet_generate_keys", map[string]any{"entropy_bits": 128})
		if resp.Error != nil {
			t.Fatalf("wallet_generate_keys: %+v", resp.Error)
		}
		result := resp.Result.(map[string]any)
		if result["mnemonic"] == "" || result["address"] == "" {
			t.Fatalf("expected a non-empty mnemonic and address, got %+v", result)
		}
	})

	t.Run("transaction_view rejects a malformed txid", func(t *testing.T) {
		resp := call(t, ts, "transaction_view", map[string]any{"txid": "not-hex"})
		if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
			t.Fatalf("expected an invalid-params error for a non-hex txid, got %+v", resp)
		}
	})

	t.Run("chain_utxos returns no utxos for an address with none", func(t *testing.T) {
		resp := call(t, ts, "chain_utxos", map[string]any{"address": walletAddr})
		if resp.Error != nil {
			t.Fatalf("chain_utxos: %+v", resp.Error)
		}
		result, ok := resp.Result.([]any)
		if !ok || len(result) != 0 {
			t.Fatalf("expected an empty utxo list, got %+v", resp.Result)
		}
	})
}
