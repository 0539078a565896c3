package p2p

import (
	"bytes"
	"encoding/json"
	"testing"

	"synnergychain/core"
)

func TestEnvelopeVersionRoundTrip(t *testing.T) {
	env := Envelope{Type: TypeVersion, Version: &VersionPayload{PeerID: "abc", Height: 7}}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(env); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded Envelope
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != TypeVersion || decoded.Version == nil {
		t.Fatalf("expected a decoded version envelope, got %+v", decoded)
	}
	if decoded.Version.PeerID != "abc" || decoded.Version.Height != 7 {
		t.Fatalf("unexpected version payload: %+v", decoded.Version)
	}
	if decoded.Block != nil || decoded.Tx != nil || decoded.Inv != nil {
		t.Fatalf("expected every other field to stay zero, got %+v", decoded)
	}
}

func TestEnvelopeEncoderFramesSuccessiveMessages(t *testing.T) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(Envelope{Type: TypePing}); err != nil {
		t.Fatalf("encode ping: %v", err)
	}
	if err := enc.Encode(Envelope{Type: TypePong}); err != nil {
		t.Fatalf("encode pong: %v", err)
	}

	dec := json.NewDecoder(&buf)
	var first, second Envelope
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first.Type != TypePing || second.Type != TypePong {
		t.Fatalf("expected successive Decode calls to recover ping then pong, got %s then %s", first.Type, second.Type)
	}
}

func TestInvItemCarriesCoreHash(t *testing.T) {
	h := core.SHA256([]byte("block"))
	item := InvItem{Kind: InvBlock, Hash: h}

	raw, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded InvItem
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Hash != h || decoded.Kind != InvBlock {
		t.Fatalf("expected inv item to round trip, got %+v", decoded)
	}
}
