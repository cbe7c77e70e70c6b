package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dsatori/syncrypt/internal/bundle"
)

func TestLocalBackendUploadStatDownloadRoundTrip(t *testing.T) {
	storeRoot := filepath.Join(t.TempDir(), "data")
	lb := NewLocalBackend(storeRoot)

	ctx := context.Background()
	if err := lb.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	srcDir := t.TempDir()
	srcBundle := newFakeBundle(t, srcDir, "notes.txt", "local backend round trip")

	if err := lb.Upload(ctx, srcBundle); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := lb.Stat(ctx, srcBundle); err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if srcBundle.RemoteCryptHash != srcBundle.CryptHash {
		t.Fatalf("remote crypt hash = %q, want %q", srcBundle.RemoteCryptHash, srcBundle.CryptHash)
	}

	dstDir := t.TempDir()
	dstOwner := &fakeOwner{
		cfg:       srcBundle.Owner.Config(),
		id:        srcBundle.Owner.Identity(),
		folder:    dstDir,
		keysPath:  filepath.Join(dstDir, ".vault", "keys"),
		updateSem: srcBundle.Owner.UpdateSemaphore(),
	}
	dstBundle := bundle.New(filepath.Join(dstDir, "notes.txt"), dstOwner)
	dstBundle.StoreHash = srcBundle.StoreHash

	ok, err := lb.Download(ctx, dstBundle, srcBundle.CryptHash)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !ok {
		t.Fatal("expected downloaded content hash to match assertHash")
	}

	got, err := os.ReadFile(dstBundle.Path)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if string(got) != "local backend round trip" {
		t.Fatalf("got %q", got)
	}
}

func TestLocalBackendStatMissingObjectIsNoop(t *testing.T) {
	storeRoot := filepath.Join(t.TempDir(), "data")
	lb := NewLocalBackend(storeRoot)
	ctx := context.Background()
	if err := lb.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	srcDir := t.TempDir()
	b := newFakeBundle(t, srcDir, "missing.txt", "never uploaded")

	if err := lb.Stat(ctx, b); err != nil {
		t.Fatalf("Stat on missing object should not error: %v", err)
	}
	if b.RemoteCryptHash != "" {
		t.Fatalf("expected empty RemoteCryptHash, got %q", b.RemoteCryptHash)
	}
}

func TestLocalBackendWipeRemovesAllObjects(t *testing.T) {
	storeRoot := filepath.Join(t.TempDir(), "data")
	lb := NewLocalBackend(storeRoot)
	ctx := context.Background()
	if err := lb.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	srcDir := t.TempDir()
	b := newFakeBundle(t, srcDir, "doomed.txt", "will be wiped")
	if err := lb.Upload(ctx, b); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := lb.Wipe(ctx); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	entries, err := os.ReadDir(storeRoot)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty store root after Wipe, got %d entries", len(entries))
	}
}
