package backend

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/dsatori/syncrypt/internal/bundle"
	"github.com/dsatori/syncrypt/internal/fileinfo"
	"github.com/dsatori/syncrypt/internal/pipe"
	"github.com/dsatori/syncrypt/internal/syncerr"
)

// LocalBackend resolves spec.md §9 Open Question 3: a second Backend that
// stores wrapped keys and encrypted bodies directly on disk under a vault
// folder, for same-machine testing and single-user setups without a
// server. It mirrors BinaryBackend's declared-length framing discipline —
// metadata is read from an explicit sidecar record, never inferred from
// the body file's size at read time (SPEC_FULL.md §4.3).
type LocalBackend struct {
	root string // e.g. <other-vault>/.vault/data
}

type localMeta struct {
	ContentHash string `codec:"content_hash"`
	FileSize    int64  `codec:"file_size"`
	KeySize     int    `codec:"key_size"`
}

var localCodec codec.MsgpackHandle

// NewLocalBackend targets root as the remote store's data directory.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{root: root}
}

func (l *LocalBackend) paths(storeHash string) (key, body, meta string) {
	shard := fileinfo.Path(storeHash)
	base := filepath.Join(l.root, shard)
	return base + ".key", base + ".body", base + ".meta"
}

// Open ensures the data directory exists.
func (l *LocalBackend) Open(ctx context.Context) error {
	if err := os.MkdirAll(l.root, 0755); err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Open", err)
	}
	return nil
}

func (l *LocalBackend) readMeta(storeHash string) (*localMeta, error) {
	_, _, metaPath := l.paths(storeHash)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, syncerr.New(syncerr.KindIOError, "backend.LocalBackend.readMeta", err)
	}
	var m localMeta
	dec := codec.NewDecoder(bytes.NewReader(raw), &localCodec)
	if err := dec.Decode(&m); err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "backend.LocalBackend.readMeta", err)
	}
	return &m, nil
}

func (l *LocalBackend) writeMeta(storeHash string, m *localMeta) error {
	_, _, metaPath := l.paths(storeHash)
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &localCodec)
	if err := enc.Encode(m); err != nil {
		return syncerr.New(syncerr.KindCorruptData, "backend.LocalBackend.writeMeta", err)
	}
	if err := os.MkdirAll(filepath.Dir(metaPath), 0755); err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.writeMeta", err)
	}
	if err := os.WriteFile(metaPath, buf.Bytes(), 0644); err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.writeMeta", err)
	}
	return nil
}

// Stat reads the sidecar record, if any, and updates b.RemoteCryptHash.
func (l *LocalBackend) Stat(ctx context.Context, b *bundle.Bundle) error {
	m, err := l.readMeta(b.StoreHash)
	if err != nil {
		return err
	}
	if m != nil {
		b.RemoteCryptHash = m.ContentHash
	}
	return nil
}

// Upload copies the wrapped key file and streams the encrypted body into
// this backend's store, then writes the sidecar record last (so a reader
// never sees a meta file pointing at a partially written body).
func (l *LocalBackend) Upload(ctx context.Context, b *bundle.Bundle) error {
	keyPath, bodyPath, _ := l.paths(b.StoreHash)
	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Upload", err)
	}

	keySrc, err := os.ReadFile(b.PathKey())
	if err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Upload", err)
	}
	if err := os.WriteFile(keyPath, keySrc, 0644); err != nil {
		return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Upload", err)
	}

	body, err := b.ReadEncryptedStream()
	if err != nil {
		return err
	}
	sink := pipe.NewFileWriter(body, bodyPath, true, false, true)
	if err := pipe.ConsumeAndFinalize(sink); err != nil {
		return err
	}

	return l.writeMeta(b.StoreHash, &localMeta{
		ContentHash: b.CryptHash,
		FileSize:    b.FileSizeCrypt,
		KeySize:     b.KeySizeCrypt,
	})
}

// Download reads the wrapped key and decrypts the stored body into the
// Bundle's plaintext path, by declared length from the sidecar record.
func (l *LocalBackend) Download(ctx context.Context, b *bundle.Bundle, assertHash string) (bool, error) {
	keyPath, bodyPath, _ := l.paths(b.StoreHash)

	m, err := l.readMeta(b.StoreHash)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, syncerr.New(syncerr.KindNotFound, "backend.LocalBackend.Download", nil)
	}

	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return false, syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Download", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.PathKey()), 0755); err != nil {
		return false, syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Download", err)
	}
	if err := os.WriteFile(b.PathKey(), keyData, 0644); err != nil {
		return false, syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Download", err)
	}
	if err := b.LoadKey(); err != nil {
		return false, err
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		return false, syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Download", err)
	}
	defer f.Close()

	bodyPipe := pipe.NewFromReader(io.LimitReader(f, m.FileSize))
	return b.WriteEncryptedStream(bodyPipe, assertHash)
}

// Wipe removes every stored object under root.
func (l *LocalBackend) Wipe(ctx context.Context) error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Wipe", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(l.root, e.Name())); err != nil {
			return syncerr.New(syncerr.KindIOError, "backend.LocalBackend.Wipe", err)
		}
	}
	return nil
}

// Close is a no-op for the local backend.
func (l *LocalBackend) Close() error { return nil }
