// Package syncengine implements spec.md §4.4's push/pull/clone
// orchestration: delta computation over a Vault's bundles, candidate
// Revision production and signing, submission to a remote collaborator,
// and idempotent-by-revision_id replay of a fetched log. Grounded on
// original_source/syncrypt/backends/binary.py's push/pull call shape and
// syncrypt/models/revision.py's replay contract, wired the way the
// teacher's internal/server package constructs and connects its
// collaborators.
package syncengine

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dsatori/syncrypt/internal/backend"
	"github.com/dsatori/syncrypt/internal/bundle"
	"github.com/dsatori/syncrypt/internal/events"
	"github.com/dsatori/syncrypt/internal/fileinfo"
	"github.com/dsatori/syncrypt/internal/identity"
	"github.com/dsatori/syncrypt/internal/revision"
	"github.com/dsatori/syncrypt/internal/syncerr"
	"github.com/dsatori/syncrypt/internal/vault"
)

// RevisionTransport is the remote collaborator a sync Engine submits
// candidate Revisions to and fetches a vault's log from. spec.md §4.3's
// wire protocol specifies only object STAT/UPLOAD/DOWNLOAD/WIPE framing,
// not revision exchange, so this is a separate, pluggable seam: a real
// deployment would carry it over an out-of-band channel (e.g. the HTTP
// API), while LocalTransport (below) gives same-process clone/push/pull a
// concrete, testable implementation.
type RevisionTransport interface {
	Submit(ctx context.Context, r *revision.Revision) error
	Fetch(ctx context.Context, sinceRevisionID string) ([]*revision.Revision, error)
}

// LocalTransport is a RevisionTransport backed by a second revision.Log,
// standing in for "the server's log" in tests and same-machine setups —
// mirrors backend.LocalBackend's role for object storage.
type LocalTransport struct {
	mu  sync.Mutex
	log *revision.Log
}

// NewLocalTransport wraps an already-open revision.Log.
func NewLocalTransport(log *revision.Log) *LocalTransport {
	return &LocalTransport{log: log}
}

func (t *LocalTransport) Submit(ctx context.Context, r *revision.Revision) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok, err := t.log.Has(r.RevisionID); err != nil {
		return err
	} else if ok {
		return nil
	}
	return t.log.Append(r)
}

func (t *LocalTransport) Fetch(ctx context.Context, sinceRevisionID string) ([]*revision.Revision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	all, err := t.log.All()
	if err != nil {
		return nil, err
	}
	if sinceRevisionID == "" {
		return all, nil
	}
	for i, r := range all {
		if r.RevisionID == sinceRevisionID {
			return all[i+1:], nil
		}
	}
	return all, nil
}

// Engine orchestrates one Vault's sync lifecycle against a content Backend
// and a RevisionTransport, publishing progress Events as it goes.
type Engine struct {
	vault      *vault.Vault
	store      backend.Backend
	transport  RevisionTransport
	dispatcher *events.Dispatcher

	mu             sync.Mutex
	trustedSigners map[string]*rsa.PublicKey
}

// NewEngine builds an Engine and rebuilds its trusted-signer set from the
// vault's existing local log, so a restarted process doesn't need to
// re-clone the whole history before it can verify incoming revisions.
func NewEngine(v *vault.Vault, store backend.Backend, transport RevisionTransport, dispatcher *events.Dispatcher) (*Engine, error) {
	e := &Engine{
		vault:          v,
		store:          store,
		transport:      transport,
		dispatcher:     dispatcher,
		trustedSigners: make(map[string]*rsa.PublicKey),
	}
	revs, err := v.Log().All()
	if err != nil {
		return nil, err
	}
	for _, r := range revs {
		e.learnSigner(r)
	}
	return e, nil
}

func (e *Engine) learnSigner(r *revision.Revision) {
	switch r.Operation {
	case revision.OpCreateVault, revision.OpAddUser, revision.OpAddUserKey:
		id, err := identity.FromPublicKeyBytes(r.UserPublicKey)
		if err != nil {
			return
		}
		e.mu.Lock()
		e.trustedSigners[id.Fingerprint()] = id.PublicKey
		e.mu.Unlock()
	}
}

func (e *Engine) signerFor(fingerprint string) (*rsa.PublicKey, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pub, ok := e.trustedSigners[fingerprint]
	return pub, ok
}

func (e *Engine) publish(ctx context.Context, relpath string, kind events.Kind, bytesMoved int64, err error) {
	if e.dispatcher == nil {
		return
	}
	ev := events.Event{
		VaultID:       e.vault.Config().Vault.VaultID,
		BundleRelpath: relpath,
		Kind:          kind,
		Bytes:         bytesMoved,
		At:            time.Now().UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.dispatcher.Publish(ctx, ev)
}

// Bootstrap appends and submits the vault's OP_CREATE_VAULT revision, the
// unparented root of the log, if one does not already exist. It also
// assigns a random vault_id when the config doesn't carry one yet.
func (e *Engine) Bootstrap(ctx context.Context) error {
	tail, err := e.vault.Log().Tail()
	if err != nil {
		return err
	}
	if tail != nil {
		return nil
	}

	cfg := e.vault.Config()
	if cfg.Vault.VaultID == "" {
		cfg.Vault.VaultID = uuid.NewString()
		if err := cfg.Write(configPath(e.vault)); err != nil {
			return err
		}
	}

	id := e.vault.Identity()
	pubBytes, err := id.PublicKeyBytes()
	if err != nil {
		return err
	}

	r := revision.New(revision.OpCreateVault, cfg.Vault.VaultID, "")
	r.VaultPublicKey = pubBytes
	r.UserPublicKey = pubBytes
	if err := r.Sign(id); err != nil {
		return err
	}
	if err := e.vault.Log().Append(r); err != nil {
		return err
	}
	if err := e.transport.Submit(ctx, r); err != nil {
		return err
	}
	e.learnSigner(r)
	return nil
}

func configPath(v *vault.Vault) string {
	return filepath.Join(v.Folder(), ".vault", "config")
}

// Push walks the vault, re-measures every bundle, uploads whichever ones
// are stale relative to the remote, and produces+signs+submits an
// OP_UPLOAD revision for each one that was actually uploaded (spec.md
// §4.4: "computes bundle deltas ... produces candidate Revisions, signs
// them ... submits them to the server, and appends accepted ones
// locally").
func (e *Engine) Push(ctx context.Context) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}

	bundles, err := e.vault.Walk("")
	if err != nil {
		return err
	}

	for _, b := range bundles {
		if err := b.Update(); err != nil {
			e.publish(ctx, b.RelPath(), events.KindUploadFailed, 0, err)
			slog.Error("syncengine: bundle update failed", "bundle", b.RelPath(), "error", err)
			continue
		}
		e.publish(ctx, b.RelPath(), events.KindUpdated, 0, nil)

		if err := e.store.Stat(ctx, b); err != nil {
			e.publish(ctx, b.RelPath(), events.KindUploadFailed, 0, err)
			slog.Error("syncengine: stat failed", "bundle", b.RelPath(), "error", err)
			continue
		}
		e.publish(ctx, b.RelPath(), events.KindStat, 0, nil)

		if !b.RemoteHashDiffers() {
			continue
		}

		if err := e.store.Upload(ctx, b); err != nil {
			e.publish(ctx, b.RelPath(), events.KindUploadFailed, 0, err)
			slog.Error("syncengine: upload failed", "bundle", b.RelPath(), "error", err)
			continue
		}
		e.publish(ctx, b.RelPath(), events.KindUploaded, b.FileSizeCrypt, nil)

		if err := e.submitUploadRevision(ctx, b); err != nil {
			slog.Error("syncengine: revision submission failed", "bundle", b.RelPath(), "error", err)
			return err
		}
	}
	return nil
}

func (e *Engine) submitUploadRevision(ctx context.Context, b *bundle.Bundle) error {
	metadataBlob, err := os.ReadFile(b.PathKey())
	if err != nil {
		return syncerr.New(syncerr.KindIOError, "syncengine.submitUploadRevision", err)
	}

	tail, err := e.vault.Log().Tail()
	if err != nil {
		return err
	}
	parentID := ""
	if tail != nil {
		parentID = tail.RevisionID
	}

	r := revision.New(revision.OpUpload, e.vault.Config().Vault.VaultID, parentID)
	r.FileHash = b.StoreHash
	r.CryptHash = b.CryptHash
	r.FileSizeCrypt = b.FileSizeCrypt
	r.MetadataBlob = metadataBlob

	if err := r.Sign(e.vault.Identity()); err != nil {
		return err
	}
	if err := e.vault.Log().Append(r); err != nil {
		return err
	}
	if err := e.transport.Submit(ctx, r); err != nil {
		return err
	}
	b.RemoteCryptHash = b.CryptHash
	return nil
}

// Pull fetches every revision after the local log's tail, verifies and
// applies each one in order, and downloads any bundle whose content
// changed (spec.md §4.4).
func (e *Engine) Pull(ctx context.Context) error {
	tail, err := e.vault.Log().Tail()
	if err != nil {
		return err
	}
	sinceID := ""
	if tail != nil {
		sinceID = tail.RevisionID
	}

	revs, err := e.transport.Fetch(ctx, sinceID)
	if err != nil {
		return err
	}

	for _, r := range revs {
		if err := e.applyRevision(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Clone is Pull against an empty local log — the same replay logic
// handles both, since Pull already fetches "everything after the local
// tail" and an empty vault has no tail.
func (e *Engine) Clone(ctx context.Context) error {
	return e.Pull(ctx)
}

func (e *Engine) applyRevision(ctx context.Context, r *revision.Revision) error {
	if ok, err := e.vault.Log().Has(r.RevisionID); err != nil {
		return err
	} else if ok {
		return nil // idempotent replay
	}

	var signerPub *rsa.PublicKey
	if r.Operation == revision.OpCreateVault {
		// CreateVault is self-asserting: its own embedded public key is the
		// root of trust for the vault.
		id, err := identity.FromPublicKeyBytes(r.UserPublicKey)
		if err != nil {
			return err
		}
		signerPub = id.PublicKey
	} else {
		pub, ok := e.signerFor(r.UserFingerprint)
		if !ok {
			return syncerr.New(syncerr.KindInvalidRevision, "syncengine.applyRevision",
				fmt.Errorf("unknown signer %s for revision %s", r.UserFingerprint, r.RevisionID))
		}
		signerPub = pub
	}
	if err := r.Verify(signerPub); err != nil {
		return err
	}

	switch r.Operation {
	case revision.OpCreateVault:
		if err := e.vault.Log().Append(r); err != nil {
			return err
		}
		e.learnSigner(r)
		return nil
	case revision.OpUpload:
		return e.applyUpload(ctx, r)
	case revision.OpSetMetadata:
		return e.applySetMetadata(ctx, r)
	case revision.OpDeleteFile:
		return e.applyDeleteFile(ctx, r)
	case revision.OpAddUser, revision.OpAddUserKey:
		if err := e.vault.Log().Append(r); err != nil {
			return err
		}
		e.learnSigner(r)
		return nil
	default:
		return syncerr.New(syncerr.KindInvalidRevision, "syncengine.applyRevision", fmt.Errorf("unhandled operation %q", r.Operation))
	}
}

// applyUpload installs or refreshes the Bundle's wrapped key from the
// revision's metadata blob and, if the content changed, downloads it
// before returning (spec.md §4.4).
func (e *Engine) applyUpload(ctx context.Context, r *revision.Revision) error {
	fi, err := fileinfo.Unwrap(r.MetadataBlob, e.vault.Identity())
	if err != nil {
		return err
	}

	b := e.vault.BundleFor(fi.Filename)
	if b == nil {
		// ignored locally; still record the revision so replay stays linear
		return e.vault.Log().Append(r)
	}

	if err := os.MkdirAll(filepath.Dir(b.PathKey()), 0755); err != nil {
		return syncerr.New(syncerr.KindIOError, "syncengine.applyUpload", err)
	}
	if err := os.WriteFile(b.PathKey(), r.MetadataBlob, 0644); err != nil {
		return syncerr.New(syncerr.KindIOError, "syncengine.applyUpload", err)
	}

	needsDownload := b.CryptHash != r.CryptHash
	b.RemoteCryptHash = r.CryptHash
	b.FileSizeCrypt = r.FileSizeCrypt

	if err := e.vault.Log().Append(r); err != nil {
		return err
	}

	if needsDownload {
		if err := b.LoadKey(); err != nil {
			return err
		}
		ok, err := e.store.Download(ctx, b, r.CryptHash)
		if err != nil {
			e.publish(ctx, b.RelPath(), events.KindDownloadFailed, 0, err)
			return err
		}
		if !ok {
			e.publish(ctx, b.RelPath(), events.KindDownloadFailed, 0, fmt.Errorf("content hash mismatch"))
			return syncerr.New(syncerr.KindCorruptData, "syncengine.applyUpload", fmt.Errorf("downloaded content hash mismatch for %s", b.RelPath()))
		}
		e.publish(ctx, b.RelPath(), events.KindDownloaded, r.FileSizeCrypt, nil)
	}
	return nil
}

// applySetMetadata decrypts the revision's vault metadata and logs it;
// there is no separate vault-metadata store beyond the log itself, so the
// log entry is the record of truth and the decrypted value is only
// surfaced via the event bus.
func (e *Engine) applySetMetadata(ctx context.Context, r *revision.Revision) error {
	m, err := unwrapMetadata(r.MetadataBlob, e.vault.Identity())
	if err != nil {
		return err
	}
	if err := e.vault.Log().Append(r); err != nil {
		return err
	}
	slog.Info("syncengine: vault metadata updated", "name", m.Name, "description", m.Description)
	return nil
}

// applyDeleteFile removes the matching Bundle's wrapped key and plaintext,
// if tracked locally, and records the revision.
func (e *Engine) applyDeleteFile(ctx context.Context, r *revision.Revision) error {
	keyPath := filepath.Join(e.vault.KeysPath(), fileinfo.Path(r.FileHash))
	if err := os.Remove(keyPath); err != nil && !os.IsNotExist(err) {
		return syncerr.New(syncerr.KindIOError, "syncengine.applyDeleteFile", err)
	}

	for _, b := range e.vault.Bundles() {
		if b.StoreHash != r.FileHash {
			continue
		}
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			return syncerr.New(syncerr.KindIOError, "syncengine.applyDeleteFile", err)
		}
		break
	}
	return e.vault.Log().Append(r)
}

// SetMetadata produces, signs, and submits an OP_SET_METADATA revision
// carrying the vault's name and description, encrypted to the vault's own
// identity the same way a FileInfo record is.
func (e *Engine) SetMetadata(ctx context.Context, name, description string) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	wrapped, err := wrapMetadata(&VaultMetadata{Name: name, Description: description}, e.vault.Identity().PublicKey)
	if err != nil {
		return err
	}

	tail, err := e.vault.Log().Tail()
	if err != nil {
		return err
	}
	r := revision.New(revision.OpSetMetadata, e.vault.Config().Vault.VaultID, tail.RevisionID)
	r.MetadataBlob = wrapped
	if err := r.Sign(e.vault.Identity()); err != nil {
		return err
	}
	if err := e.vault.Log().Append(r); err != nil {
		return err
	}
	return e.transport.Submit(ctx, r)
}

// AddUserKey produces, signs, and submits an OP_ADD_USER_KEY revision
// extending the set of trusted signer identities for this vault.
func (e *Engine) AddUserKey(ctx context.Context, userID string, pub *rsa.PublicKey) error {
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}
	der, err := (&identity.Identity{PublicKey: pub}).PublicKeyBytes()
	if err != nil {
		return err
	}

	tail, err := e.vault.Log().Tail()
	if err != nil {
		return err
	}
	r := revision.New(revision.OpAddUserKey, e.vault.Config().Vault.VaultID, tail.RevisionID)
	r.UserID = userID
	r.UserPublicKey = der
	if err := r.Sign(e.vault.Identity()); err != nil {
		return err
	}
	if err := e.vault.Log().Append(r); err != nil {
		return err
	}
	if err := e.transport.Submit(ctx, r); err != nil {
		return err
	}
	e.learnSigner(r)
	return nil
}

// Wipe requests the backend erase the entire remote vault content. The
// revision log itself is left untouched — wiping is a content-store
// operation, not a history rewrite.
func (e *Engine) Wipe(ctx context.Context) error {
	return e.store.Wipe(ctx)
}
