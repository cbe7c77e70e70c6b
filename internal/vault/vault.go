// Package vault implements spec.md §3/§4's Vault: the folder-rooted owner
// of a Bundle cache, an Identity, a Config, and the per-operation
// semaphores that throttle concurrent Bundle work. Grounded on
// original_source/syncrypt/vault.py (folder layout, config-or-default,
// init_keys, walk/bundle_for) and, for construct-time dependency assembly,
// the teacher's internal/server wiring style.
package vault

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dsatori/syncrypt/internal/bundle"
	"github.com/dsatori/syncrypt/internal/identity"
	"github.com/dsatori/syncrypt/internal/revision"
	"github.com/dsatori/syncrypt/internal/semaphore"
	"github.com/dsatori/syncrypt/internal/syncerr"
	"github.com/dsatori/syncrypt/internal/vaultconfig"
)

// Vault owns everything rooted at a single folder: its config, its
// identity, its Bundle cache, its revision log and the joinable
// semaphores that bound concurrent update/stat/upload/download work
// (spec.md §5).
type Vault struct {
	folder string
	config *vaultconfig.Config
	id     *identity.Identity
	log    *revision.Log

	mu          sync.Mutex
	bundleCache map[string]*bundle.Bundle

	updateSem   *semaphore.JoinableSetSemaphore[string]
	statSem     *semaphore.JoinableSetSemaphore[string]
	uploadSem   *semaphore.JoinableSetSemaphore[string]
	downloadSem *semaphore.JoinableSetSemaphore[string]
}

// Open opens an existing vault folder or initializes a new one: config is
// read or defaulted+written, an RSA identity is loaded or generated, and
// the revision log is opened (vault.py's __init__).
func Open(folder string) (*Vault, error) {
	if _, err := os.Stat(folder); err != nil {
		return nil, syncerr.New(syncerr.KindNotFound, "vault.Open", err)
	}

	cfgPath := vaultconfig.Path(folder)
	cfg, existed, err := vaultconfig.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if !existed {
		if err := cfg.Write(cfgPath); err != nil {
			return nil, err
		}
	}

	v := &Vault{
		folder:      folder,
		config:      cfg,
		bundleCache: make(map[string]*bundle.Bundle),
		updateSem:   semaphore.NewJoinableSetSemaphore[string](cfg.Remote.Concurrency),
		statSem:     semaphore.NewJoinableSetSemaphore[string](cfg.Remote.Concurrency),
		uploadSem:   semaphore.NewJoinableSetSemaphore[string](cfg.Remote.Concurrency),
		downloadSem: semaphore.NewJoinableSetSemaphore[string](cfg.Remote.Concurrency),
	}

	privPath := filepath.Join(folder, ".vault", "id_rsa")
	pubPath := filepath.Join(folder, ".vault", "id_rsa.pub")
	if _, err := os.Stat(privPath); err == nil {
		id, err := identity.Load(privPath, pubPath)
		if err != nil {
			return nil, err
		}
		v.id = id
	} else {
		id, err := identity.Generate()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(privPath), 0755); err != nil {
			return nil, syncerr.New(syncerr.KindIOError, "vault.Open", err)
		}
		if err := id.Save(privPath, pubPath); err != nil {
			return nil, err
		}
		v.id = id
	}

	revLog, err := revision.OpenLog(filepath.Join(folder, ".vault", "revisions.db"))
	if err != nil {
		return nil, err
	}
	v.log = revLog

	return v, nil
}

// Close releases the vault's on-disk resources (currently just the
// revision log).
func (v *Vault) Close() error { return v.log.Close() }

// Config returns the vault's resolved configuration.
func (v *Vault) Config() *vaultconfig.Config { return v.config }

// Identity returns the vault's RSA identity.
func (v *Vault) Identity() *identity.Identity { return v.id }

// Folder returns the absolute vault root.
func (v *Vault) Folder() string { return v.folder }

// KeysPath is where wrapped FileInfo records live, vault.py's keys_path.
func (v *Vault) KeysPath() string { return filepath.Join(v.folder, ".vault", "fileinfo") }

// CryptPath is where any local-backend encrypted bodies live, vault.py's
// crypt_path.
func (v *Vault) CryptPath() string { return filepath.Join(v.folder, ".vault", "data") }

// Log returns the vault's revision log.
func (v *Vault) Log() *revision.Log { return v.log }

func (v *Vault) UpdateSemaphore() *semaphore.JoinableSetSemaphore[string]   { return v.updateSem }
func (v *Vault) StatSemaphore() *semaphore.JoinableSetSemaphore[string]     { return v.statSem }
func (v *Vault) UploadSemaphore() *semaphore.JoinableSetSemaphore[string]   { return v.uploadSem }
func (v *Vault) DownloadSemaphore() *semaphore.JoinableSetSemaphore[string] { return v.downloadSem }

func matchesAny(name string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}

// BundleFor returns (creating and caching if necessary) the Bundle for a
// vault-relative path, or nil if that path is ignored or a directory
// (vault.py's bundle_for).
func (v *Vault) BundleFor(relpath string) *bundle.Bundle {
	for _, part := range strings.Split(filepath.ToSlash(relpath), "/") {
		if matchesAny(part, v.config.Vault.Ignore) {
			return nil
		}
	}
	abspath := filepath.Join(v.folder, relpath)
	if info, err := os.Stat(abspath); err == nil && info.IsDir() {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.bundleCache[relpath]; ok {
		return b
	}
	b := bundle.New(abspath, v)
	v.bundleCache[relpath] = b
	return b
}

// Walk returns every tracked Bundle under subfolder (or the whole vault
// when subfolder is empty), skipping ignored names (vault.py's walk).
func (v *Vault) Walk(subfolder string) ([]*bundle.Bundle, error) {
	var out []*bundle.Bundle
	root := v.folder
	if subfolder != "" {
		root = filepath.Join(v.folder, subfolder)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "vault.Walk", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if matchesAny(name, v.config.Vault.Ignore) {
			continue
		}
		abspath := filepath.Join(root, name)
		relpath, err := filepath.Rel(v.folder, abspath)
		if err != nil {
			return nil, syncerr.New(syncerr.KindIOError, "vault.Walk", err)
		}
		if entry.IsDir() {
			sub, err := v.Walk(relpath)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if b := v.BundleFor(relpath); b != nil {
			out = append(out, b)
		}
	}
	return out, nil
}

// Bundles returns a snapshot of every currently cached Bundle.
func (v *Vault) Bundles() []*bundle.Bundle {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*bundle.Bundle, 0, len(v.bundleCache))
	for _, b := range v.bundleCache {
		out = append(out, b)
	}
	return out
}
