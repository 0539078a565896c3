package core

// HD wallet: gap-limit address discovery over the non-standard key tree in
// hdkey.go, UTXO enumeration and balance against a LedgerStore, and
// transaction construction with greedy-descending coin selection.
// Grounded on _examples/orbas1-Synnergy's core/wallet.go (NewRandomWallet /
// Balance / SendTx / SetWalletLogger shape) and
// original_source/project/src/model/wallet.rs (the address-discovery and
// "has this address ever received a coin" gap scan), reworked from the
// original's account-model single-address wallet into spec.md's
// gap-limited multi-address UTXO wallet.

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
)

// GapLimit is the number of consecutive unused addresses a discovery walk
// must see before it stops extending the search, per spec.md.
const GapLimit = 20

// Wallet derives every address it uses from a single master HD key and
// asks the ledger index which of those addresses have ever received a
// coin, rather than keeping its own address book.
type Wallet struct {
	master HDKey
	store  *LedgerStore
	log    *logrus.Logger
}

// NewWallet builds a wallet rooted at seed's master key, querying store for
// address usage and UTXOs.
func NewWallet(seed []byte, store *LedgerStore, log *logrus.Logger) *Wallet {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Wallet{master: NewMasterHDKey(seed), store: store, log: log}
}

// NewMnemonicSeed generates a fresh BIP-39 mnemonic of the given entropy
// size (128 bits = 12 words, 256 bits = 24 words) and its derived 64-byte
// seed truncated to the 32 bytes this package's keystore expects. This is
// additive convenience on top of the raw-seed keystore contract: nothing
// in Validate/ApplyBlock/etc. depends on a wallet having been created this
// way.
func NewMnemonicSeed(entropyBits int) (mnemonic string, seed []byte, err error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", nil, newCryptoError(KindMalformedKeyMaterial, err)
	}
	mnemonic, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, newCryptoError(KindMalformedKeyMaterial, err)
	}
	seed, err = SeedFromMnemonic(mnemonic, "")
	return mnemonic, seed, err
}

// SeedFromMnemonic reproduces the 32-byte seed for a previously generated
// mnemonic phrase and optional BIP-39 passphrase.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, newCryptoError(KindMalformedKeyMaterial, errInvalidMnemonic)
	}
	full := bip39.NewSeed(mnemonic, passphrase)
	return full[:keystoreSeedLen], nil
}

var errInvalidMnemonic = addrErr("mnemonic phrase fails checksum validation")

// indexedAddress pairs a derivation index with the address it derives.
type indexedAddress struct {
	Index   uint32
	Address Address
}

func (w *Wallet) deriveKey(change, index uint32) HDKey {
	return w.master.DerivePath(derivationPath(change, index))
}

func (w *Wallet) deriveAddress(change, index uint32) Address {
	return w.deriveKey(change, index).Address()
}

// discover walks change's address chain from index 0, stopping once
// GapLimit consecutive addresses have never received a confirmed output.
// It returns every address along the way that has.
func (w *Wallet) discover(change uint32) ([]indexedAddress, error) {
	var used []indexedAddress
	gap := 0
	for idx := uint32(0); gap < GapLimit; idx++ {
		addr := w.deriveAddress(change, idx)
		seen, err := w.store.HasAnyAddressBeenUsed([]Address{addr})
		if err != nil {
			return nil, err
		}
		if seen {
			used = append(used, indexedAddress{Index: idx, Address: addr})
			gap = 0
			continue
		}
		gap++
	}
	return used, nil
}

// nextUnused returns the first address on change's chain guaranteed not to
// have appeared in any confirmed transaction yet.
func (w *Wallet) nextUnused(change uint32) (Address, error) {
	used, err := w.discover(change)
	if err != nil {
		return "", err
	}
	next := uint32(0)
	if len(used) > 0 {
		next = used[len(used)-1].Index + 1
	}
	return w.deriveAddress(change, next), nil
}

// ReceiveAddress returns the next unused receive address.
func (w *Wallet) ReceiveAddress() (Address, error) {
	return w.nextUnused(changeReceive)
}

// ownedKeys maps every address this wallet has ever received funds at
// (receive and change chains both) to the HD key that owns it.
func (w *Wallet) ownedKeys() (map[Address]HDKey, error) {
	keys := make(map[Address]HDKey)
	for _, change := range [...]uint32{changeReceive, changeInternal} {
		used, err := w.discover(change)
		if err != nil {
			return nil, err
		}
		for _, ia := range used {
			keys[ia.Address] = w.deriveKey(change, ia.Index)
		}
	}
	return keys, nil
}

// Addresses returns every address this wallet has ever used, in discovery
// order (receive chain first, then change chain).
func (w *Wallet) Addresses() ([]Address, error) {
	var out []Address
	for _, change := range [...]uint32{changeReceive, changeInternal} {
		used, err := w.discover(change)
		if err != nil {
			return nil, err
		}
		for _, ia := range used {
			out = append(out, ia.Address)
		}
	}
	return out, nil
}

// Balance returns the sum of every UTXO payable to an address this wallet
// owns.
func (w *Wallet) Balance() (uint64, error) {
	utxos, err := w.spendable()
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, u := range utxos {
		total += u.Output.Value
	}
	return total, nil
}

func (w *Wallet) spendable() ([]UTXO, error) {
	keys, err := w.ownedKeys()
	if err != nil {
		return nil, err
	}
	addrs := make([]Address, 0, len(keys))
	for a := range keys {
		addrs = append(addrs, a)
	}
	return w.store.GetUTXOsForAddresses(addrs)
}

// Send builds and signs a transaction paying outputs and a flat fee,
// using UTXOs this wallet owns selected greedily by descending value
// (spec.md's send_tx: walk UTXOs largest-first, accumulate until the
// total covers every output value plus fee, append a change output for
// any surplus). It does not submit the transaction anywhere; the
// returned MempoolEntry carries the UTXOs selection resolved, and the
// node's ReceiveTransaction, which takes only the transaction, resolves
// its inputs against the ledger again at admission time.
func (w *Wallet) Send(outputs []TxOutput, fee uint64, message string) (*MempoolEntry, error) {
	for _, o := range outputs {
		if !ValidAddress(o.Address) {
			return nil, newValidationError(KindInvalidOutputAddress, nil)
		}
	}
	var outputTotal uint64
	for _, o := range outputs {
		outputTotal += o.Value
	}
	required := outputTotal + fee

	keys, err := w.ownedKeys()
	if err != nil {
		return nil, err
	}
	addrs := make([]Address, 0, len(keys))
	for a := range keys {
		addrs = append(addrs, a)
	}
	utxos, err := w.store.GetUTXOsForAddresses(addrs)
	if err != nil {
		return nil, err
	}
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].Output.Value > utxos[j].Output.Value })

	var selected []UTXO
	var total uint64
	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Output.Value
		if total >= required {
			break
		}
	}
	if total < required {
		return nil, newContextError(KindInsufficientFunds, nil)
	}

	finalOutputs := append([]TxOutput(nil), outputs...)
	if change := total - required; change > 0 {
		changeAddr, err := w.nextUnused(changeInternal)
		if err != nil {
			return nil, err
		}
		finalOutputs = append(finalOutputs, TxOutput{Value: change, Address: changeAddr})
	}

	tx := &Transaction{Outputs: finalOutputs, Timestamp: time.Now(), Message: message}
	for _, u := range selected {
		tx.Inputs = append(tx.Inputs, TxInput{PrevTxID: u.TxID, OutputIndex: u.OutputIndex})
	}

	for i, u := range selected {
		key, ok := keys[u.Output.Address]
		if !ok {
			return nil, newValidationError(KindAddressNotOwned, nil)
		}
		priv, pub := key.Ed25519Keys()
		tx.SignInput(i, priv, pub)
	}

	w.log.Infof("wallet: built transaction %s (fee %d, %d inputs, %d outputs)", tx.ID(), fee, len(selected), len(finalOutputs))
	return &MempoolEntry{Tx: tx, Fee: fee, ResolvedInputs: selected}, nil
}
