package vaultconfig

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, existed, err := Load(Path(dir))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if existed {
		t.Fatal("expected existed=false for a fresh folder")
	}
	if cfg.Remote.Type != BackendBinary {
		t.Fatalf("default backend = %q, want %q", cfg.Remote.Type, BackendBinary)
	}
	if cfg.KeySize() != 32 {
		t.Fatalf("default key size = %d, want 32", cfg.KeySize())
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)

	cfg := applyDefaults()
	cfg.Vault.Ignore = []string{"^.", "*.tmp"}
	cfg.Remote.Host = "sync.example.com"
	cfg.Remote.Port = 2222
	cfg.Remote.Concurrency = 8

	if err := cfg.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, existed, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !existed {
		t.Fatal("expected existed=true after Write")
	}
	if loaded.Remote.Host != "sync.example.com" || loaded.Remote.Port != 2222 {
		t.Fatalf("got remote %+v", loaded.Remote)
	}
	if len(loaded.Vault.Ignore) != 2 || loaded.Vault.Ignore[0] != "^." {
		t.Fatalf("got ignore patterns %v", loaded.Vault.Ignore)
	}
}

func TestPathLayout(t *testing.T) {
	got := Path(filepath.FromSlash("/tmp/myvault"))
	want := filepath.FromSlash("/tmp/myvault/.vault/config")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
