package core

// Cryptographic primitives shared by the address codec, the HD key tree,
// the keystore and the miner's proof-of-work search. Grounded on
// _examples/orbas1-Synnergy's core/wallet.go, which already reaches for
// crypto/ed25519, crypto/sha256, crypto/hmac, crypto/sha512 and
// golang.org/x/crypto/ripemd160 for the same kind of address/key work.

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by the spec's address layout
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) Hash {
	return sha256.Sum256(data)
}

// SHA512 returns the 64-byte SHA-512 digest of data.
func SHA512(data []byte) [64]byte {
	return sha512.Sum512(data)
}

// RIPEMD160 returns the 20-byte RIPEMD-160 digest of data.
func RIPEMD160(data []byte) [20]byte {
	h := ripemd160.New()
	h.Write(data) //nolint:errcheck // hash.Hash.Write never fails
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PBKDF2 derives a 32-byte key from password and salt using HMAC-SHA-256,
// matching the keystore's key-derivation function.
func PBKDF2(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, 32, sha256.New)
}

// AESGCMEncrypt encrypts plaintext with AES-256-GCM under key and nonce,
// returning ciphertext with the authentication tag appended.
func AESGCMEncrypt(key, nonce, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newCryptoError(KindMalformedKeyMaterial, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newCryptoError(KindMalformedKeyMaterial, err)
	}
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// AESGCMDecrypt authenticates and decrypts ciphertext with AES-256-GCM.
// A tag mismatch (wrong key, wrong password, corrupted file) surfaces as a
// CryptoError distinct from any I/O error the caller may also see.
func AESGCMDecrypt(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newCryptoError(KindMalformedKeyMaterial, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, newCryptoError(KindMalformedKeyMaterial, err)
	}
	out, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, newCryptoError(KindInvalidCredentials, err)
	}
	return out, nil
}

// Ed25519Sign signs message with priv, returning a 64-byte signature.
func Ed25519Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Ed25519Verify reports whether sig is a valid Ed25519 signature of message
// under pub.
func Ed25519Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		return nil, newCryptoError(KindMalformedKeyMaterial, err)
	}
	return b, nil
}

// HashHasLeadingZeroBits reports whether the first n most-significant bits
// of hash are zero. Full bytes are checked directly; the remaining partial
// byte, if any, is checked against a 0xFF<<(8-n%8) mask.
func HashHasLeadingZeroBits(hash Hash, n int) bool {
	if n <= 0 {
		return true
	}
	if n > len(hash)*8 {
		n = len(hash) * 8
	}
	fullBytes := n / 8
	for i := 0; i < fullBytes; i++ {
		if hash[i] != 0 {
			return false
		}
	}
	remBits := n % 8
	if remBits == 0 {
		return true
	}
	mask := byte(0xFF << (8 - remBits))
	return hash[fullBytes]&mask == 0
}
