package core

// Base58Check address codec. Grounded on original_source/project's
// src/model/hdkey.rs (HDKey::get_address_impl / validate_address), carried
// into Go using github.com/mr-tron/base58 — already present transitively in
// the teacher's go.mod via the libp2p/multiformats stack, and the library
// the moronibr-BYC and illenko-crypto-experiments pack examples use for the
// same job.

import (
	"bytes"

	"github.com/mr-tron/base58"
)

// addressVersion is the fixed 2-byte version prefix spec.md lays out for
// every address: [0x00, 0x00].
var addressVersion = [2]byte{0x00, 0x00}

const (
	addressPayloadLen  = 20 // RIPEMD-160(SHA-256(pubkey))
	addressChecksumLen = 4
	// total decoded length: 2 (version) + 20 (payload) + 4 (checksum)
	addressDecodedLen = 2 + addressPayloadLen + addressChecksumLen
)

func addressChecksum(versionAndPayload []byte) [addressChecksumLen]byte {
	sum := SHA256(versionAndPayload)
	var out [addressChecksumLen]byte
	copy(out[:], sum[:addressChecksumLen])
	return out
}

// EncodeAddress derives the 20-byte RIPEMD-160(SHA-256(pubKey)) payload,
// prepends the version prefix, appends a 4-byte checksum and Base58-encodes
// the result.
func EncodeAddress(pubKey []byte) Address {
	payload := RIPEMD160(SHA256(pubKey))

	body := make([]byte, 0, 2+addressPayloadLen)
	body = append(body, addressVersion[:]...)
	body = append(body, payload[:]...)

	cksum := addressChecksum(body)
	full := append(body, cksum[:]...)
	return Address(base58.Encode(full))
}

// DecodeAddress validates and decodes addr, returning the 20-byte payload
// on success. It fails if the decoded length is wrong, the version prefix
// doesn't match, or the checksum doesn't verify.
func DecodeAddress(addr Address) ([addressPayloadLen]byte, error) {
	var payload [addressPayloadLen]byte

	raw, err := base58.Decode(string(addr))
	if err != nil {
		return payload, newValidationError(KindInvalidAddress, err)
	}
	if len(raw) != addressDecodedLen {
		return payload, newValidationError(KindInvalidAddress, errWrongAddressLength)
	}
	if raw[0] != addressVersion[0] || raw[1] != addressVersion[1] {
		return payload, newValidationError(KindInvalidAddress, errWrongAddressVersion)
	}

	body := raw[:2+addressPayloadLen]
	wantCksum := raw[2+addressPayloadLen:]
	gotCksum := addressChecksum(body)
	if !bytes.Equal(gotCksum[:], wantCksum) {
		return payload, newValidationError(KindInvalidAddress, errBadAddressChecksum)
	}

	copy(payload[:], body[2:])
	return payload, nil
}

// ValidAddress reports whether addr decodes successfully.
func ValidAddress(addr Address) bool {
	_, err := DecodeAddress(addr)
	return err == nil
}

var (
	errWrongAddressLength  = addrErr("decoded address has the wrong length")
	errWrongAddressVersion = addrErr("unexpected address version prefix")
	errBadAddressChecksum  = addrErr("address checksum mismatch")
)

type addrErr string

func (e addrErr) Error() string { return string(e) }
