package rpc

import (
	"encoding/hex"
	"encoding/json"

	"synnergychain/core"
)

// dispatch routes method against its handler, decoding params into the
// handler's expected shape. A JSON decode failure here is the caller's
// fault (invalid_params), never the server's (internal_error).
func (s *Server) dispatch(method string, params json.RawMessage) (any, *Error) {
	switch method {
	case "node_status":
		return s.nodeStatus()
	case "node_mempool":
		return s.nodeMempool()
	case "chain_show":
		return s.chainShow()
	case "chain_status":
		return s.chainStatus()
	case "chain_validate":
		return s.chainValidate()
	case "chain_utxos":
		return s.chainUTXOs(params)
	case "mine_block":
		return s.mineBlock()
	case "wallet_new":
		return s.walletNew(params)
	case "wallet_import":
		return s.walletImport(params)
	case "wallet_address":
		return s.walletAddress(params)
	case "wallet_balance":
		return s.walletBalance(params)
	case "wallet_send":
		return s.walletSend(params)
	case "wallet_generate_keys":
		return s.walletGenerateKeys(params)
	case "transaction_view":
		return s.transactionView(params)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func decodeParams(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "malformed params: " + err.Error()}
	}
	return nil
}

func (s *Server) nodeStatus() (any, *Error) {
	status := s.node.Status()
	peers := 0
	if s.peers != nil {
		peers = s.peers.PeerCount()
	}
	return map[string]any{
		"height":       status.Height,
		"tip_hash":     status.TipHash.String(),
		"mempool_size": status.MempoolSize,
		"peer_count":   peers,
	}, nil
}

func (s *Server) nodeMempool() (any, *Error) {
	entries := s.node.Mempool().Entries()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"txid": e.Tx.ID().String(),
			"fee":  e.Fee,
		})
	}
	return out, nil
}

func (s *Server) chainShow() (any, *Error) {
	return s.node.Ledger().Blocks(), nil
}

func (s *Server) chainStatus() (any, *Error) {
	status := s.node.Status()
	return map[string]any{
		"height":   status.Height,
		"tip_hash": status.TipHash.String(),
	}, nil
}

func (s *Server) chainValidate() (any, *Error) {
	if err := s.node.ValidateChain(); err != nil {
		return nil, coreError(err)
	}
	return map[string]any{"valid": true}, nil
}

type chainUTXOsParams struct {
	Address string `json:"address"`
}

func (s *Server) chainUTXOs(params json.RawMessage) (any, *Error) {
	var p chainUTXOsParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	utxos, err := s.node.Ledger().Store().GetUTXOsForAddresses([]core.Address{core.Address(p.Address)})
	if err != nil {
		return nil, coreError(err)
	}
	out := make([]map[string]any, 0, len(utxos))
	for _, u := range utxos {
		out = append(out, map[string]any{
			"txid":         u.TxID.String(),
			"output_index": u.OutputIndex,
			"value":        u.Output.Value,
			"address":      string(u.Output.Address),
		})
	}
	return out, nil
}

func (s *Server) mineBlock() (any, *Error) {
	block, err := s.node.Mine()
	if err != nil {
		return nil, coreError(err)
	}
	return map[string]any{
		"block_id": block.ID().String(),
		"height":   s.node.Status().Height,
		"tx_count": len(block.Transactions),
	}, nil
}

type walletKeystoreParams struct {
	Path     string `json:"path"`
	Password string `json:"password"`
}

func (s *Server) walletNew(params json.RawMessage) (any, *Error) {
	var p walletKeystoreParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	seed, err := core.CreateKeystore(p.Password, p.Path)
	if err != nil {
		return nil, coreError(err)
	}
	w := core.NewWallet(seed, s.node.Ledger().Store(), s.log)
	addr, err := w.ReceiveAddress()
	if err != nil {
		return nil, coreError(err)
	}
	return map[string]any{"address": string(addr)}, nil
}

func (s *Server) walletImport(params json.RawMessage) (any, *Error) {
	var p walletKeystoreParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	seed, err := core.LoadKeystore(p.Password, p.Path)
	if err != nil {
		return nil, coreError(err)
	}
	w := core.NewWallet(seed, s.node.Ledger().Store(), s.log)
	addr, err := w.ReceiveAddress()
	if err != nil {
		return nil, coreError(err)
	}
	return map[string]any{"address": string(addr)}, nil
}

func (s *Server) walletAddress(params json.RawMessage) (any, *Error) {
	var p walletKeystoreParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	seed, err := core.LoadKeystore(p.Password, p.Path)
	if err != nil {
		return nil, coreError(err)
	}
	w := core.NewWallet(seed, s.node.Ledger().Store(), s.log)
	addr, err := w.ReceiveAddress()
	if err != nil {
		return nil, coreError(err)
	}
	return map[string]any{"address": string(addr)}, nil
}

func (s *Server) walletBalance(params json.RawMessage) (any, *Error) {
	var p walletKeystoreParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	seed, err := core.LoadKeystore(p.Password, p.Path)
	if err != nil {
		return nil, coreError(err)
	}
	w := core.NewWallet(seed, s.node.Ledger().Store(), s.log)
	balance, err := w.Balance()
	if err != nil {
		return nil, coreError(err)
	}
	return map[string]any{"balance": balance}, nil
}

type walletSendOutput struct {
	Address string `json:"address"`
	Value   uint64 `json:"value"`
}

type walletSendParams struct {
	Path     string             `json:"path"`
	Password string             `json:"password"`
	Outputs  []walletSendOutput `json:"outputs"`
	Fee      uint64             `json:"fee"`
	Message  string             `json:"message"`
}

func (s *Server) walletSend(params json.RawMessage) (any, *Error) {
	var p walletSendParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	seed, err := core.LoadKeystore(p.Password, p.Path)
	if err != nil {
		return nil, coreError(err)
	}
	outputs := make([]core.TxOutput, len(p.Outputs))
	for i, o := range p.Outputs {
		outputs[i] = core.TxOutput{Value: o.Value, Address: core.Address(o.Address)}
	}
	w := core.NewWallet(seed, s.node.Ledger().Store(), s.log)
	entry, err := w.Send(outputs, p.Fee, p.Message)
	if err != nil {
		return nil, coreError(err)
	}
	if err := s.node.ReceiveTransaction(entry.Tx); err != nil {
		return nil, coreError(err)
	}
	return map[string]any{"txid": entry.Tx.ID().String()}, nil
}

type walletGenerateKeysParams struct {
	EntropyBits int `json:"entropy_bits"`
}

func (s *Server) walletGenerateKeys(params json.RawMessage) (any, *Error) {
	bits := 256
	if len(params) > 0 {
		var p walletGenerateKeysParams
		if rpcErr := decodeParams(params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		if p.EntropyBits > 0 {
			bits = p.EntropyBits
		}
	}
	mnemonic, seed, err := core.NewMnemonicSeed(bits)
	if err != nil {
		return nil, coreError(err)
	}
	key := core.NewMasterHDKey(seed)
	return map[string]any{
		"mnemonic": mnemonic,
		"address":  string(key.Address()),
	}, nil
}

type transactionViewParams struct {
	TxID string `json:"txid"`
}

func (s *Server) transactionView(params json.RawMessage) (any, *Error) {
	var p transactionViewParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	raw, hexErr := hex.DecodeString(p.TxID)
	if hexErr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "txid must be a hex string"}
	}
	id, ok := core.HashFromBytes(raw)
	if !ok {
		return nil, &Error{Code: CodeInvalidParams, Message: "txid must be a 32-byte hex string"}
	}
	tx, found, err := s.node.Ledger().Store().GetTransaction(id)
	if err != nil {
		return nil, coreError(err)
	}
	if !found {
		return nil, &Error{Code: CodeApplicationError, Message: "transaction not found"}
	}
	confirmed, err := s.node.Ledger().Store().IsConfirmed(id)
	if err != nil {
		return nil, coreError(err)
	}
	return map[string]any{
		"txid":      tx.ID().String(),
		"confirmed": confirmed,
		"tx":        tx,
	}, nil
}
