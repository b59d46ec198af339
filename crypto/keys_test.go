package crypto

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAddress(t *testing.T) {
	checksummed := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	addr, err := ParseAddress(checksummed)
	if err != nil {
		t.Fatalf("parse checksummed: %v", err)
	}
	if addr.Hex() != checksummed {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
	if _, err := ParseAddress(strings.ToLower(checksummed)); err != nil {
		t.Fatalf("lower-case should be accepted: %v", err)
	}
	if _, err := ParseAddress("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"); err == nil {
		t.Fatalf("expected checksum error")
	}
	if _, err := ParseAddress("nhb1qqqq"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "escrow.keystore")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("address mismatch after reload")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
