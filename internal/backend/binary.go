package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dsatori/syncrypt/internal/bundle"
	"github.com/dsatori/syncrypt/internal/semaphore"
	"github.com/dsatori/syncrypt/internal/syncerr"
)

// BinaryBackend is the Backend implementation that speaks the wire
// protocol over a Manager-pooled set of Connections, grounded directly on
// BinaryStorageBackend. Per-operation joinable semaphores (stat/upload/
// download) throttle concurrent work at the Vault level, independent of
// the Manager's own connection-count throttle (spec.md §5).
type BinaryBackend struct {
	manager *Manager

	statSem     *semaphore.JoinableSetSemaphore[string]
	uploadSem   *semaphore.JoinableSetSemaphore[string]
	downloadSem *semaphore.JoinableSetSemaphore[string]

	cache *StatCache // optional
}

// NewBinaryBackend builds a BinaryBackend with its own connection pool.
func NewBinaryBackend(concurrency int, host string, port int, username, password, auth string,
	statSem, uploadSem, downloadSem *semaphore.JoinableSetSemaphore[string]) *BinaryBackend {
	return &BinaryBackend{
		manager:     NewManager(concurrency, host, port, username, password, auth),
		statSem:     statSem,
		uploadSem:   uploadSem,
		downloadSem: downloadSem,
	}
}

// WithStatCache attaches an optional Redis-backed stat cache.
func (b *BinaryBackend) WithStatCache(c *StatCache) *BinaryBackend {
	b.cache = c
	return b
}

// Open verifies connectivity by acquiring and releasing one connection.
func (b *BinaryBackend) Open(ctx context.Context) error {
	conn, err := b.manager.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer b.manager.Release(conn)
	slog.Info("backend opened", "server_version", conn.serverVersion)
	return nil
}

// Stat fetches remote object metadata and updates b.RemoteCryptHash,
// consulting and populating the stat cache when configured.
func (bb *BinaryBackend) Stat(ctx context.Context, b *bundle.Bundle) error {
	if err := bb.statSem.Acquire(b.StoreHash); err != nil {
		return err
	}
	defer bb.statSem.Release(b.StoreHash)

	if bb.cache != nil {
		if hash, ok := bb.cache.Get(ctx, b.StoreHash); ok {
			b.RemoteCryptHash = hash
			return nil
		}
	}

	conn, err := bb.manager.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer bb.manager.Release(conn)

	info, err := conn.Stat(b)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}
	if hash, ok := info["content_hash"].(string); ok {
		b.RemoteCryptHash = hash
		if bb.cache != nil {
			bb.cache.Set(ctx, b.StoreHash, hash)
		}
	}
	return nil
}

// Upload pushes the Bundle's wrapped key and encrypted body.
func (bb *BinaryBackend) Upload(ctx context.Context, b *bundle.Bundle) error {
	if b.State() != bundle.StateUptodate {
		return syncerr.New(syncerr.KindConfigError, "backend.BinaryBackend.Upload", fmt.Errorf("bundle is not up to date"))
	}
	if err := bb.uploadSem.Acquire(b.StoreHash); err != nil {
		return err
	}
	defer bb.uploadSem.Release(b.StoreHash)

	conn, err := bb.manager.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer bb.manager.Release(conn)

	if err := conn.Upload(b); err != nil {
		conn.Disconnect()
		return err
	}
	if bb.cache != nil {
		bb.cache.Invalidate(ctx, b.StoreHash)
	}
	return nil
}

// Download pulls the Bundle's wrapped key and encrypted body, decrypting
// directly into the plaintext path.
func (bb *BinaryBackend) Download(ctx context.Context, b *bundle.Bundle, assertHash string) (bool, error) {
	if err := bb.downloadSem.Acquire(b.StoreHash); err != nil {
		return false, err
	}
	defer bb.downloadSem.Release(b.StoreHash)

	conn, err := bb.manager.AcquireConnection(ctx)
	if err != nil {
		return false, err
	}
	defer bb.manager.Release(conn)

	ok, err := conn.Download(b, assertHash)
	if err != nil {
		conn.Disconnect()
		return false, err
	}
	return ok, nil
}

// Wipe requests the server erase the entire vault.
func (bb *BinaryBackend) Wipe(ctx context.Context) error {
	conn, err := bb.manager.AcquireConnection(ctx)
	if err != nil {
		return err
	}
	defer bb.manager.Release(conn)
	return conn.Wipe()
}

// Close shuts down every pooled connection.
func (bb *BinaryBackend) Close() error {
	bb.manager.Close()
	return nil
}
