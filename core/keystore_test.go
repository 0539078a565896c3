package core

import (
	"bytes"
	"testing"

	"synnergychain/internal/testutil"
)

func TestKeystoreRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("wallet.keystore")
	seed, err := CreateKeystore("correct horse", path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(seed) != keystoreSeedLen {
		t.Fatalf("expected a %d-byte seed, got %d", keystoreSeedLen, len(seed))
	}

	loaded, err := LoadKeystore("correct horse", path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(seed, loaded) {
		t.Fatalf("loaded seed does not match the created seed")
	}
}

func TestKeystoreWrongPasswordFails(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("wallet.keystore")
	if _, err := CreateKeystore("right-password", path); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := LoadKeystore("wrong-password", path); err == nil {
		t.Fatalf("expected wrong password to fail decryption")
	}
}

func TestCreateKeystoreRefusesToOverwrite(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("wallet.keystore")
	if _, err := CreateKeystore("pw", path); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateKeystore("pw", path); err == nil {
		t.Fatalf("expected second create at the same path to fail")
	}
}
