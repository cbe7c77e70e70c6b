package bundle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dsatori/syncrypt/internal/identity"
	"github.com/dsatori/syncrypt/internal/semaphore"
	"github.com/dsatori/syncrypt/internal/vaultconfig"
)

type testOwner struct {
	cfg       *vaultconfig.Config
	id        *identity.Identity
	folder    string
	keysPath  string
	updateSem *semaphore.JoinableSetSemaphore[string]
}

func (o *testOwner) Config() *vaultconfig.Config                             { return o.cfg }
func (o *testOwner) Identity() *identity.Identity                            { return o.id }
func (o *testOwner) Folder() string                                          { return o.folder }
func (o *testOwner) KeysPath() string                                        { return o.keysPath }
func (o *testOwner) UpdateSemaphore() *semaphore.JoinableSetSemaphore[string] { return o.updateSem }

func newTestOwner(t *testing.T, dir string) *testOwner {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	cfg := &vaultconfig.Config{
		Vault: vaultconfig.VaultSection{
			HashAlgo:   "sha256",
			AESKeyLen:  256,
			BlockSize:  16,
			EncBufSize: 4096,
		},
	}
	return &testOwner{
		cfg:       cfg,
		id:        id,
		folder:    dir,
		keysPath:  filepath.Join(dir, ".vault", "keys"),
		updateSem: semaphore.NewJoinableSetSemaphore[string](4),
	}
}

func TestGenerateKeyThenLoadKeyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	owner := newTestOwner(t, dir)
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	b := New(path, owner)
	if err := b.GenerateKey(); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key := append([]byte(nil), b.Key...)
	if len(key) != owner.cfg.KeySize() {
		t.Fatalf("key size = %d, want %d", len(key), owner.cfg.KeySize())
	}

	b.Key = nil
	b.state = StateNew
	if err := b.LoadKey(); err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if string(b.Key) != string(key) {
		t.Fatal("LoadKey did not reproduce the key GenerateKey wrote")
	}
	if b.State() != StateKeyed {
		t.Fatalf("state = %v, want StateKeyed", b.State())
	}
}

func TestUpdateComputesCryptHashAndIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	owner := newTestOwner(t, dir)
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("the quick brown fox"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	b := New(path, owner)
	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if b.CryptHash == "" {
		t.Fatal("expected a non-empty crypt_hash after Update")
	}
	if b.State() != StateUptodate {
		t.Fatalf("state = %v, want StateUptodate", b.State())
	}
	firstHash := b.CryptHash

	if err := b.Update(); err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if b.CryptHash != firstHash {
		t.Fatalf("crypt_hash changed across Updates of unchanged content: %s != %s", b.CryptHash, firstHash)
	}
}

func TestUpdateOnMissingPlaintextTombstones(t *testing.T) {
	dir := t.TempDir()
	owner := newTestOwner(t, dir)
	path := filepath.Join(dir, "gone.txt")

	b := New(path, owner)
	if err := b.GenerateKey(); err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := b.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if b.CryptHash != "" || b.FileSizeCrypt != 0 {
		t.Fatalf("expected a cleared crypt_hash/file_size_crypt for a missing plaintext, got %q/%d", b.CryptHash, b.FileSizeCrypt)
	}
	if b.State() != StateDirty {
		t.Fatalf("state = %v, want StateDirty", b.State())
	}
}

func TestEncryptedStreamRoundTrip(t *testing.T) {
	dir := t.TempDir()
	owner := newTestOwner(t, dir)
	srcPath := filepath.Join(dir, "src.txt")
	content := []byte("round trip through encrypted streams")
	if err := os.WriteFile(srcPath, content, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src := New(srcPath, owner)
	if err := src.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	enc, err := src.ReadEncryptedStream()
	if err != nil {
		t.Fatalf("ReadEncryptedStream: %v", err)
	}

	dstPath := filepath.Join(dir, "dst.txt")
	dst := New(dstPath, owner)
	dst.Key = src.Key

	ok, err := dst.WriteEncryptedStream(enc, src.CryptHash)
	if err != nil {
		t.Fatalf("WriteEncryptedStream: %v", err)
	}
	if !ok {
		t.Fatal("expected the crypt_hash assertion to pass")
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("reading decrypted output: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestRemoteHashDiffers(t *testing.T) {
	dir := t.TempDir()
	owner := newTestOwner(t, dir)
	b := New(filepath.Join(dir, "f.txt"), owner)

	if !b.RemoteHashDiffers() {
		t.Fatal("expected RemoteHashDiffers to be true with no remote hash recorded yet")
	}
	b.CryptHash = "abc"
	b.RemoteCryptHash = "abc"
	if b.RemoteHashDiffers() {
		t.Fatal("expected RemoteHashDiffers to be false once remote and local hashes match")
	}
	b.RemoteCryptHash = "def"
	if !b.RemoteHashDiffers() {
		t.Fatal("expected RemoteHashDiffers to be true once the hashes diverge")
	}
}

func TestScheduleUpdateDebouncesToOneRun(t *testing.T) {
	dir := t.TempDir()
	owner := newTestOwner(t, dir)
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	b := New(path, owner)

	runs := 0
	done := make(chan struct{})
	stat := func(*Bundle) error { return nil }
	upload := func(*Bundle) error {
		runs++
		close(done)
		return nil
	}

	b.ScheduleUpdate(stat, upload)
	b.ScheduleUpdate(stat, upload)
	b.ScheduleUpdate(stat, upload)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the debounced update to run")
	}
	if runs != 1 {
		t.Fatalf("runs = %d, want 1", runs)
	}
}
