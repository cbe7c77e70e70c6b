package identity

import (
	"path/filepath"
	"testing"
)

func TestGenerateSaveLoadRoundTrip(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	dir := t.TempDir()
	privPath := filepath.Join(dir, "id_rsa")
	pubPath := filepath.Join(dir, "id_rsa.pub")
	if err := id.Save(privPath, pubPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(privPath, pubPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Fingerprint() != id.Fingerprint() {
		t.Fatal("fingerprint mismatch after round trip")
	}
}

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("OP_UPLOAD|parent-id|store-hash")

	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !id.Verify(msg, sig) {
		t.Fatal("expected signature to verify")
	}

	tampered := append([]byte{}, msg...)
	tampered[0] ^= 0x01
	if id.Verify(tampered, sig) {
		t.Fatal("expected verification to fail for tampered message")
	}

	tamperedSig := append([]byte{}, sig...)
	tamperedSig[0] ^= 0x01
	if id.Verify(msg, tamperedSig) {
		t.Fatal("expected verification to fail for tampered signature")
	}
}

func TestFingerprintStableAcrossCalls(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if id.Fingerprint() != id.Fingerprint() {
		t.Fatal("fingerprint should be deterministic")
	}
}
