// Package bundle implements spec.md §3/§4.2's Bundle: the per-file state
// that links a plaintext path to its store_hash, its AES file key, and
// its encrypted-body hash. Grounded closely on
// original_source/syncrypt/bundle.py (load_key, generate_key, update,
// read_encrypted_stream, write_encrypted_stream, schedule_update).
package bundle

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dsatori/syncrypt/internal/fileinfo"
	"github.com/dsatori/syncrypt/internal/identity"
	"github.com/dsatori/syncrypt/internal/pipe"
	"github.com/dsatori/syncrypt/internal/semaphore"
	"github.com/dsatori/syncrypt/internal/syncerr"
	"github.com/dsatori/syncrypt/internal/vaultconfig"
)

// State is the Bundle lifecycle spec.md §4.2 names: New -> Keyed ->
// Measured -> {Uptodate | Dirty}.
type State int

const (
	StateNew State = iota
	StateKeyed
	StateMeasured
	StateUptodate
	StateDirty
)

// globalEncryptSemaphore/globalDecryptSemaphore are the spec.md §5 "global,
// capacity 8" CPU-bound crypto throttles, shared across every Bundle in the
// process (mirrors bundle.py's class-level asyncio.Semaphore(value=8)).
var (
	globalEncryptSemaphore = semaphore.NewJoinableSemaphore(8)
	globalDecryptSemaphore = semaphore.NewJoinableSemaphore(8)
)

// Owner is the narrow slice of Vault a Bundle needs: config, identity and
// path layout. Declared here (rather than importing internal/vault
// directly) to avoid a vault<->bundle import cycle, since Vault in turn
// owns a cache of Bundles.
type Owner interface {
	Config() *vaultconfig.Config
	Identity() *identity.Identity
	Folder() string
	KeysPath() string
	UpdateSemaphore() *semaphore.JoinableSetSemaphore[string]
}

// Bundle represents one plaintext file tracked by a Vault.
type Bundle struct {
	Path  string // absolute path to the plaintext file
	Owner Owner

	mu              sync.Mutex
	state           State
	StoreHash       string
	CryptHash       string
	RemoteCryptHash string
	FileSizeCrypt   int64
	KeySizeCrypt    int
	Key             []byte

	updateHandle *time.Timer
}

// New builds a Bundle for abspath, computing its deterministic store_hash
// from the vault-relative path (spec.md §3: "store_hash ... deterministic
// from relpath").
func New(abspath string, owner Owner) *Bundle {
	b := &Bundle{Path: abspath, Owner: owner, state: StateNew}
	algo := owner.Config().HashAlgoPipe()
	b.StoreHash = pipe.SumHex(algo, []byte(b.RelPath()))
	return b
}

// RelPath returns the path relative to the vault folder.
func (b *Bundle) RelPath() string {
	rel, err := filepath.Rel(b.Owner.Folder(), b.Path)
	if err != nil {
		return b.Path
	}
	return rel
}

// KeySize is the symmetric file key length in bytes.
func (b *Bundle) KeySize() int { return b.Owner.Config().KeySize() }

// PathKey is the on-disk location of this Bundle's wrapped FileInfo,
// sharded by the first two hex characters of store_hash (bundle.py's
// path_key).
func (b *Bundle) PathKey() string {
	return filepath.Join(b.Owner.KeysPath(), fileinfo.Path(b.StoreHash))
}

// State reports the current lifecycle state.
func (b *Bundle) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RemoteHashDiffers reports whether the remote's last-known crypt_hash is
// absent or stale relative to this Bundle's current crypt_hash.
func (b *Bundle) RemoteHashDiffers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.RemoteCryptHash == "" || b.RemoteCryptHash != b.CryptHash
}

// LoadKey reads and RSA-decrypts the wrapped file key from PathKey().
func (b *Bundle) LoadKey() error {
	raw, err := os.ReadFile(b.PathKey())
	if err != nil {
		return syncerr.New(syncerr.KindNotFound, "bundle.LoadKey", err)
	}

	fi, err := fileinfo.Unwrap(raw, b.Owner.Identity())
	if err != nil {
		return err
	}
	if len(fi.Key) != b.KeySize() {
		return syncerr.New(syncerr.KindCorruptData, "bundle.LoadKey", fmt.Errorf("key size %d != expected %d", len(fi.Key), b.KeySize()))
	}

	b.mu.Lock()
	b.Key = fi.Key
	b.KeySizeCrypt = len(raw)
	b.state = StateKeyed
	b.mu.Unlock()
	return nil
}

// GenerateKey draws a fresh random file key and persists it wrapped under
// the vault's public key.
func (b *Bundle) GenerateKey() error {
	key := make([]byte, b.KeySize())
	if _, err := rand.Read(key); err != nil {
		return syncerr.New(syncerr.KindIOError, "bundle.GenerateKey", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.PathKey()), 0755); err != nil {
		return syncerr.New(syncerr.KindIOError, "bundle.GenerateKey", err)
	}

	fi := &fileinfo.FileInfo{
		Filename: b.RelPath(),
		Key:      key,
		Hash:     make([]byte, 32),
		KeySize:  len(key),
	}
	wrapped, err := fileinfo.WrapReader(fi, b.Owner.Identity().PublicKey)
	if err != nil {
		return err
	}
	sink := pipe.NewFileWriter(wrapped, b.PathKey(), true, false, true)
	if err := pipe.ConsumeAndFinalize(sink); err != nil {
		return err
	}

	raw, err := os.ReadFile(b.PathKey())
	if err != nil {
		return syncerr.New(syncerr.KindIOError, "bundle.GenerateKey", err)
	}

	b.mu.Lock()
	b.Key = key
	b.KeySizeCrypt = len(raw)
	b.state = StateKeyed
	b.mu.Unlock()
	return nil
}

// contentDigest hashes the current plaintext file, independent of
// compression/padding/key: it is the stable input the IV is derived from,
// so re-encrypting unchanged content under an unchanged key always produces
// the same ciphertext.
func (b *Bundle) contentDigest() ([]byte, error) {
	hp := pipe.NewHash(pipe.NewFileReader(b.Path), b.Owner.Config().HashAlgoPipe())
	if err := pipe.ConsumeAndFinalize(hp); err != nil {
		return nil, err
	}
	return hp.Sum(), nil
}

// ReadEncryptedStream returns a fresh pipe producing this Bundle's
// encrypted body: compress, pad, encrypt (bundle.py's
// read_encrypted_stream).
func (b *Bundle) ReadEncryptedStream() (pipe.Pipe, error) {
	if b.Key == nil {
		return nil, syncerr.New(syncerr.KindConfigError, "bundle.ReadEncryptedStream", fmt.Errorf("no key loaded"))
	}
	cfg := b.Owner.Config()

	digest, err := b.contentDigest()
	if err != nil {
		return nil, err
	}

	body := pipe.Then(pipe.NewFileReader(b.Path),
		func(p pipe.Pipe) pipe.Pipe { return pipe.NewSnappyCompress(p) },
		func(p pipe.Pipe) pipe.Pipe { return pipe.NewBufferedAligned(p, cfg.Vault.EncBufSize, cfg.Vault.BlockSize) },
		func(p pipe.Pipe) pipe.Pipe { return pipe.NewPadAES(p, cfg.Vault.BlockSize) },
	)
	enc, err := pipe.NewEncryptAES(body, b.Key, digest)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// WriteEncryptedStream consumes src (an encrypted body pipe) into the
// plaintext file, verifying the result against assertHash when provided.
// Mismatch returns (false, nil) without promoting the temp file.
func (b *Bundle) WriteEncryptedStream(src pipe.Pipe, assertHash string) (bool, error) {
	if b.Key == nil {
		return false, syncerr.New(syncerr.KindConfigError, "bundle.WriteEncryptedStream", fmt.Errorf("no key loaded"))
	}
	globalDecryptSemaphore.Acquire()
	defer globalDecryptSemaphore.Release()
	cfg := b.Owner.Config()

	buffered := pipe.NewBufferedAligned(src, cfg.Vault.EncBufSize, cfg.Vault.BlockSize)
	hashPipe := pipe.NewHash(buffered, cfg.HashAlgoPipe())
	dec, err := pipe.NewDecryptAES(hashPipe, b.Key)
	if err != nil {
		return false, err
	}
	unpadded := pipe.NewUnpadAES(dec, cfg.Vault.BlockSize)
	decompressed := pipe.NewSnappyDecompress(unpadded)
	tmpPath := b.Path + ".download"
	sink := pipe.NewFileWriter(decompressed, tmpPath, true, false, false)

	if err := pipe.ConsumeAndFinalize(sink); err != nil {
		os.Remove(tmpPath)
		return false, err
	}

	got := pipe.MixKeyHex(cfg.HashAlgoPipe(), hashPipe.Sum(), b.Key)
	if assertHash != "" && got != assertHash {
		os.Remove(tmpPath)
		return false, nil
	}
	if _, err := os.Stat(b.Path); err == nil {
		os.Rename(b.Path, b.Path+".bak")
	}
	if err := os.Rename(tmpPath, b.Path); err != nil {
		os.Remove(tmpPath)
		return false, syncerr.New(syncerr.KindIOError, "bundle.WriteEncryptedStream", err)
	}
	return true, nil
}

// Update recomputes crypt_hash/file_size_crypt for the current plaintext
// (bundle.py's update). If the plaintext is absent, the Bundle becomes a
// tombstone candidate: crypt_hash/file_size_crypt are cleared.
func (b *Bundle) Update() error {
	globalEncryptSemaphore.Acquire()
	defer globalEncryptSemaphore.Release()

	updateSem := b.Owner.UpdateSemaphore()
	if err := updateSem.Acquire(b.StoreHash); err != nil {
		return err
	}
	defer updateSem.Release(b.StoreHash)

	if err := b.LoadKey(); err != nil {
		if err := b.GenerateKey(); err != nil {
			return err
		}
	}

	if _, statErr := os.Stat(b.Path); statErr != nil {
		b.mu.Lock()
		b.CryptHash = ""
		b.FileSizeCrypt = 0
		b.state = StateDirty
		b.mu.Unlock()
		return nil
	}

	body, err := b.ReadEncryptedStream()
	if err != nil {
		return err
	}
	counted := pipe.NewCount(body)
	hashed := pipe.NewHash(counted, b.Owner.Config().HashAlgoPipe())

	if err := pipe.ConsumeAndFinalize(hashed); err != nil {
		return err
	}

	b.mu.Lock()
	b.CryptHash = pipe.MixKeyHex(b.Owner.Config().HashAlgoPipe(), hashed.Sum(), b.Key)
	b.FileSizeCrypt = counted.N()
	b.state = StateUptodate
	b.mu.Unlock()
	return nil
}

// UploadFunc is whatever the caller's backend/sync layer does after a Stat
// finds the remote hash stale. Kept as an injected function (rather than an
// import of internal/backend) so bundle stays free of a dependency on the
// transport layer.
type UploadFunc func(b *Bundle) error

// StatFunc refreshes b.RemoteCryptHash from the remote backend (the
// caller's Backend.Stat), so RemoteHashDiffers reflects reality rather than
// whatever was last known before Update ran.
type StatFunc func(b *Bundle) error

// UpdateAndUpload runs Update, then stat, then upload iff the remote hash
// differs (bundle.py's update_and_upload), asynchronously.
func (b *Bundle) UpdateAndUpload(stat StatFunc, upload UploadFunc) {
	go func() {
		if err := b.Update(); err != nil {
			return
		}
		if err := stat(b); err != nil {
			return
		}
		if b.RemoteHashDiffers() {
			upload(b)
		}
	}()
}

// ScheduleUpdate debounces UpdateAndUpload: any pending timer is cancelled
// and a new one set for 1 second out (bundle.py's schedule_update).
func (b *Bundle) ScheduleUpdate(stat StatFunc, upload UploadFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updateHandle != nil {
		b.updateHandle.Stop()
	}
	b.updateHandle = time.AfterFunc(time.Second, func() {
		b.UpdateAndUpload(stat, upload)
	})
}

func (b *Bundle) String() string {
	return fmt.Sprintf("<Bundle: %s>", b.RelPath())
}
