package syncengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dsatori/syncrypt/internal/backend"
	"github.com/dsatori/syncrypt/internal/events"
	"github.com/dsatori/syncrypt/internal/revision"
	"github.com/dsatori/syncrypt/internal/vault"
)

// openVaultSharingIdentity opens a fresh vault at dir, then overwrites its
// freshly generated identity with the one from source — standing in for
// an authorized collaborator who already holds the vault's shared
// keypair out of band (original_source/syncrypt/vault.py's init_keys is
// meant to run once per vault, not once per clone).
func openVaultSharingIdentity(t *testing.T, dir string, source *vault.Vault) *vault.Vault {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, ".vault"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	srcPriv := filepath.Join(source.Folder(), ".vault", "id_rsa")
	srcPub := filepath.Join(source.Folder(), ".vault", "id_rsa.pub")
	dstPriv := filepath.Join(dir, ".vault", "id_rsa")
	dstPub := filepath.Join(dir, ".vault", "id_rsa.pub")

	privData, err := os.ReadFile(srcPriv)
	if err != nil {
		t.Fatalf("read source private key: %v", err)
	}
	pubData, err := os.ReadFile(srcPub)
	if err != nil {
		t.Fatalf("read source public key: %v", err)
	}
	if err := os.WriteFile(dstPriv, privData, 0600); err != nil {
		t.Fatalf("write dest private key: %v", err)
	}
	if err := os.WriteFile(dstPub, pubData, 0644); err != nil {
		t.Fatalf("write dest public key: %v", err)
	}

	v, err := vault.Open(dir)
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	return v
}

func TestPushThenCloneRoundTrip(t *testing.T) {
	ctx := context.Background()

	pusherDir := t.TempDir()
	pusher, err := vault.Open(pusherDir)
	if err != nil {
		t.Fatalf("vault.Open pusher: %v", err)
	}
	defer pusher.Close()

	if err := os.WriteFile(filepath.Join(pusherDir, "hello.txt"), []byte("hello, syncrypt"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	storeRoot := filepath.Join(t.TempDir(), "store")
	store := backend.NewLocalBackend(storeRoot)
	if err := store.Open(ctx); err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	serverLogDir := t.TempDir()
	serverLog, err := revision.OpenLog(filepath.Join(serverLogDir, "server.db"))
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer serverLog.Close()
	transport := NewLocalTransport(serverLog)

	pushEngine, err := NewEngine(pusher, store, transport, events.NewDispatcher())
	if err != nil {
		t.Fatalf("NewEngine pusher: %v", err)
	}
	if err := pushEngine.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}

	pullerDir := t.TempDir()
	puller := openVaultSharingIdentity(t, pullerDir, pusher)
	defer puller.Close()

	pullEngine, err := NewEngine(puller, store, transport, events.NewDispatcher())
	if err != nil {
		t.Fatalf("NewEngine puller: %v", err)
	}
	if err := pullEngine.Clone(ctx); err != nil {
		t.Fatalf("Clone: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(pullerDir, "hello.txt"))
	if err != nil {
		t.Fatalf("reading cloned file: %v", err)
	}
	if string(got) != "hello, syncrypt" {
		t.Fatalf("got %q", got)
	}
}

func TestPullIsIdempotent(t *testing.T) {
	ctx := context.Background()

	pusherDir := t.TempDir()
	pusher, err := vault.Open(pusherDir)
	if err != nil {
		t.Fatalf("vault.Open pusher: %v", err)
	}
	defer pusher.Close()

	if err := os.WriteFile(filepath.Join(pusherDir, "a.txt"), []byte("aaa"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	storeRoot := filepath.Join(t.TempDir(), "store")
	store := backend.NewLocalBackend(storeRoot)
	if err := store.Open(ctx); err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	serverLogDir := t.TempDir()
	serverLog, err := revision.OpenLog(filepath.Join(serverLogDir, "server.db"))
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer serverLog.Close()
	transport := NewLocalTransport(serverLog)

	pushEngine, err := NewEngine(pusher, store, transport, nil)
	if err != nil {
		t.Fatalf("NewEngine pusher: %v", err)
	}
	if err := pushEngine.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}

	pullerDir := t.TempDir()
	puller := openVaultSharingIdentity(t, pullerDir, pusher)
	defer puller.Close()

	pullEngine, err := NewEngine(puller, store, transport, nil)
	if err != nil {
		t.Fatalf("NewEngine puller: %v", err)
	}
	if err := pullEngine.Pull(ctx); err != nil {
		t.Fatalf("first Pull: %v", err)
	}
	if err := pullEngine.Pull(ctx); err != nil {
		t.Fatalf("second Pull should be a harmless no-op: %v", err)
	}

	revs, err := puller.Log().All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range revs {
		if seen[r.RevisionID] {
			t.Fatalf("revision %s applied more than once", r.RevisionID)
		}
		seen[r.RevisionID] = true
	}
}

func TestApplyRevisionRejectsUntrustedSigner(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	v, err := vault.Open(dir)
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	defer v.Close()

	storeRoot := filepath.Join(t.TempDir(), "store")
	store := backend.NewLocalBackend(storeRoot)
	if err := store.Open(ctx); err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	serverLogDir := t.TempDir()
	serverLog, err := revision.OpenLog(filepath.Join(serverLogDir, "server.db"))
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	defer serverLog.Close()
	transport := NewLocalTransport(serverLog)

	e, err := NewEngine(v, store, transport, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := e.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	forged := revision.New(revision.OpDeleteFile, v.Config().Vault.VaultID, "bogus-parent")
	forged.FileHash = "deadbeef"
	forged.UserFingerprint = "not-a-real-signer"
	forged.Signature = []byte("not-a-real-signature")

	if err := e.applyRevision(ctx, forged); err == nil {
		t.Fatal("expected applyRevision to reject a revision from an unknown signer")
	}
}
