package vault

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenInitializesVaultLayout(t *testing.T) {
	dir := t.TempDir()

	v, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v.Close()

	if _, err := os.Stat(filepath.Join(dir, ".vault", "config")); err != nil {
		t.Fatalf("expected config to be written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".vault", "id_rsa")); err != nil {
		t.Fatalf("expected identity to be generated: %v", err)
	}
	if v.Identity() == nil || v.Identity().PrivateKey == nil {
		t.Fatal("expected a usable identity")
	}
}

func TestOpenReopenReusesIdentity(t *testing.T) {
	dir := t.TempDir()

	v1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fp1 := v1.Identity().Fingerprint()
	v1.Close()

	v2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer v2.Close()

	if v2.Identity().Fingerprint() != fp1 {
		t.Fatal("expected identity fingerprint to survive reopen")
	}
}

func TestBundleForCachesByRelpath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	v, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v.Close()

	b1 := v.BundleFor("note.txt")
	b2 := v.BundleFor("note.txt")
	if b1 == nil || b1 != b2 {
		t.Fatal("expected BundleFor to cache and return the same Bundle")
	}
	if b1.StoreHash == "" {
		t.Fatal("expected a non-empty store_hash")
	}
}

func TestBundleForSkipsDirectoriesAndIgnoredGlobs(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scratch.tmp"), []byte("x"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	v, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v.Close()
	v.config.Vault.Ignore = append(v.config.Vault.Ignore, "*.tmp")

	if b := v.BundleFor("sub"); b != nil {
		t.Fatal("expected nil Bundle for a directory")
	}
	if b := v.BundleFor("scratch.tmp"); b != nil {
		t.Fatal("expected nil Bundle for a name matching an ignore glob")
	}
}

func TestWalkFindsTrackedFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	v, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v.Close()

	bundles, err := v.Walk("")
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	// .vault itself is not ignored by the default pattern list explicitly,
	// but it begins with '.', which the default "^." pattern does not
	// match via fnmatch semantics (glob, not regex) -- so assert on
	// presence of the two real files instead of an exact count.
	found := map[string]bool{}
	for _, b := range bundles {
		found[b.RelPath()] = true
	}
	if !found["a.txt"] || !found[filepath.Join("sub", "b.txt")] {
		t.Fatalf("expected a.txt and sub/b.txt in walk results, got %v", found)
	}
}
