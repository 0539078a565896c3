package core

// Non-standard HD key tree: a master (private key, chain code) pair derived
// from a seed via SHA-512, with children derived by mixing the parent key,
// a big-endian index and the parent chain code back through SHA-512. This
// is deliberately not BIP-32 (Ed25519 has no defined unhardened-child
// scheme); the exact byte layout is load-bearing for address continuity
// and is grounded on original_source/project/src/model/hdkey.rs
// (HDKey::derive_child) and carried into Go following the derivation shape
// already sketched by _examples/orbas1-Synnergy's core/wallet.go
// (derivePrivate: HMAC-SHA512 over 0x00||parentKey||index||parentChain).

import (
	"crypto/ed25519"
	"encoding/binary"
)

// HDKey is a value type: a 32-byte private key plus its 32-byte chain code.
type HDKey struct {
	PrivateKey [32]byte
	ChainCode  [32]byte
}

// NewMasterHDKey derives the master key from a seed: split64(SHA-512(seed)).
func NewMasterHDKey(seed []byte) HDKey {
	digest := SHA512(seed)
	var k HDKey
	copy(k.PrivateKey[:], digest[:32])
	copy(k.ChainCode[:], digest[32:])
	return k
}

// DeriveChild derives the child HDKey at index:
// split64(SHA-512(0x00 || parent.PrivateKey || be32(index) || parent.ChainCode)).
func (k HDKey) DeriveChild(index uint32) HDKey {
	data := make([]byte, 0, 1+32+4+32)
	data = append(data, 0x00)
	data = append(data, k.PrivateKey[:]...)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], index)
	data = append(data, idxBuf[:]...)
	data = append(data, k.ChainCode[:]...)

	digest := SHA512(data)
	var child HDKey
	copy(child.PrivateKey[:], digest[:32])
	copy(child.ChainCode[:], digest[32:])
	return child
}

// DerivePath folds DeriveChild over an ordered list of indices, starting
// from k.
func (k HDKey) DerivePath(path []uint32) HDKey {
	cur := k
	for _, idx := range path {
		cur = cur.DeriveChild(idx)
	}
	return cur
}

// Ed25519Keys derives the Ed25519 key pair for this node: PrivateKey acts
// as the 32-byte seed for ed25519.NewKeyFromSeed.
func (k HDKey) Ed25519Keys() (ed25519.PrivateKey, ed25519.PublicKey) {
	priv := ed25519.NewKeyFromSeed(k.PrivateKey[:])
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub
}

// PublicKey returns the 32-byte Ed25519 public key for this node.
func (k HDKey) PublicKey() ed25519.PublicKey {
	_, pub := k.Ed25519Keys()
	return pub
}

// Address returns Base58Check(version || RIPEMD-160(SHA-256(pubkey))) for
// this node's public key.
func (k HDKey) Address() Address {
	return EncodeAddress(k.PublicKey())
}

// Sign signs SHA-256(msg) with this node's Ed25519 private key.
func (k HDKey) Sign(msg []byte) []byte {
	priv, _ := k.Ed25519Keys()
	digest := SHA256(msg)
	return Ed25519Sign(priv, digest[:])
}

// Derivation path layout: fixed four-level prefix [purpose, account,
// change, index]. purpose is a constant tag distinguishing this wallet's
// key space; change=0 addresses are receive addresses, change=1 are
// internal change addresses.
const (
	derivationPurpose uint32 = 111
	derivationAccount uint32 = 0

	changeReceive uint32 = 0
	changeInternal uint32 = 1
)

func derivationPath(change, index uint32) []uint32 {
	return []uint32{derivationPurpose, derivationAccount, change, index}
}
