// Package revision models spec.md §3's Revision: an operation record in a
// vault's append-only, signed log. Grounded on
// original_source/syncrypt/models/revision.py's RevisionOp/assert_valid/
// _message/sign/verify, translated from a SQLAlchemy row into a plain Go
// struct — the persistence layer itself lives in log.go, grounded on the
// teacher's internal/metadata.Store bbolt usage.
package revision

import (
	"bytes"
	"crypto/rsa"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/dsatori/syncrypt/internal/identity"
	"github.com/dsatori/syncrypt/internal/syncerr"
)

// Op identifies the kind of operation a Revision records (spec.md §3).
type Op string

const (
	OpCreateVault  Op = "OP_CREATE_VAULT"
	OpUpload       Op = "OP_UPLOAD"
	OpSetMetadata  Op = "OP_SET_METADATA"
	OpDeleteFile   Op = "OP_DELETE_FILE"
	OpRenameFile   Op = "OP_RENAME_FILE"
	OpAddUser      Op = "OP_ADD_USER"
	OpAddUserKey   Op = "OP_ADD_USER_KEY"
)

// Revision is a single entry in a vault's append-only operation log.
type Revision struct {
	RevisionID string
	ParentID   string // empty only for OpCreateVault
	VaultID    string
	Operation  Op
	CreatedAt  time.Time

	UserFingerprint string
	Signature       []byte

	// OpCreateVault
	VaultPublicKey []byte
	UserPublicKey  []byte

	// OpUpload
	FileHash       string // == store_hash
	CryptHash      string
	FileSizeCrypt  int64
	MetadataBlob   []byte

	// OpSetMetadata
	// reuses MetadataBlob

	// OpDeleteFile
	// reuses FileHash

	// OpRenameFile
	OldPath string
	NewPath string

	// OpAddUser / OpAddUserKey
	UserID string
}

// New builds an unsigned Revision with a fresh random ID and the current
// time, ready for its operation-specific fields to be filled in and then
// signed.
func New(op Op, vaultID, parentID string) *Revision {
	return &Revision{
		RevisionID: uuid.NewString(),
		ParentID:   parentID,
		VaultID:    vaultID,
		Operation:  op,
		CreatedAt:  time.Now().UTC(),
	}
}

// AssertValid checks the structural invariants spec.md §3 and
// revision.py's assert_valid enforce, independent of signature
// verification.
func (r *Revision) AssertValid() error {
	if r.VaultID == "" && r.Operation != OpCreateVault {
		return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("missing vault_id"))
	}
	if r.UserFingerprint == "" {
		return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("missing user_fingerprint"))
	}

	if r.Operation == OpCreateVault {
		if r.ParentID != "" {
			return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("CreateVault must not have a parent_id"))
		}
	} else if r.ParentID == "" {
		return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("%s requires a parent_id", r.Operation))
	}

	switch r.Operation {
	case OpCreateVault:
		if len(r.UserPublicKey) == 0 || len(r.VaultPublicKey) == 0 {
			return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("CreateVault requires vault_public_key and user_public_key"))
		}
	case OpUpload:
		if r.FileHash == "" {
			return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("Upload requires file_hash"))
		}
	case OpSetMetadata:
		// no required fields beyond the common ones
	case OpDeleteFile:
		if r.FileHash == "" {
			return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("DeleteFile requires file_hash"))
		}
	case OpRenameFile:
		if r.OldPath == "" || r.NewPath == "" {
			return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("RenameFile requires old_path and new_path"))
		}
	case OpAddUser, OpAddUserKey:
		if len(r.UserPublicKey) == 0 {
			return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("%s requires user_public_key", r.Operation))
		}
	default:
		return syncerr.New(syncerr.KindInvalidRevision, "revision.AssertValid", fmt.Errorf("unknown operation %q", r.Operation))
	}
	return nil
}

// message builds the canonical byte string that gets signed: operation tag
// | parent_id | per-op fields, pipe-separated, per spec.md §4.4 and
// revision.py's _message.
func (r *Revision) message() []byte {
	sep := []byte("|")
	var buf bytes.Buffer

	switch r.Operation {
	case OpCreateVault:
		buf.WriteString(string(r.Operation))
		buf.Write(sep)
		buf.Write(r.VaultPublicKey)
		buf.Write(sep)
		buf.Write(r.UserPublicKey)
	case OpUpload:
		buf.WriteString(string(r.Operation))
		buf.Write(sep)
		buf.WriteString(r.ParentID)
		buf.Write(sep)
		buf.WriteString(r.FileHash)
		buf.Write(sep)
		buf.WriteString(r.CryptHash)
		buf.Write(sep)
		buf.WriteString(strconv.FormatInt(r.FileSizeCrypt, 10))
		buf.Write(sep)
		buf.Write(r.MetadataBlob)
	case OpSetMetadata:
		buf.WriteString(string(r.Operation))
		buf.Write(sep)
		buf.WriteString(r.ParentID)
		buf.Write(sep)
		buf.Write(r.MetadataBlob)
	case OpDeleteFile:
		buf.WriteString(string(r.Operation))
		buf.Write(sep)
		buf.WriteString(r.ParentID)
		buf.Write(sep)
		buf.WriteString(r.FileHash)
	case OpRenameFile:
		buf.WriteString(string(r.Operation))
		buf.Write(sep)
		buf.WriteString(r.ParentID)
		buf.Write(sep)
		buf.WriteString(r.OldPath)
		buf.Write(sep)
		buf.WriteString(r.NewPath)
	case OpAddUser, OpAddUserKey:
		buf.WriteString(string(r.Operation))
		buf.Write(sep)
		buf.WriteString(r.ParentID)
		buf.Write(sep)
		buf.WriteString(r.UserID)
		buf.Write(sep)
		buf.Write(r.UserPublicKey)
	}
	return buf.Bytes()
}

// Sign fills in UserFingerprint and Signature from id, after validating
// the revision's shape.
func (r *Revision) Sign(id *identity.Identity) error {
	r.UserFingerprint = id.Fingerprint()
	if err := r.AssertValid(); err != nil {
		return err
	}
	sig, err := id.Sign(r.message())
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Verify checks r's shape and its signature against signerPub.
func (r *Revision) Verify(signerPub *rsa.PublicKey) error {
	if err := r.AssertValid(); err != nil {
		return err
	}
	if len(r.Signature) == 0 {
		return syncerr.New(syncerr.KindInvalidRevision, "revision.Verify", fmt.Errorf("revision is not signed"))
	}
	verifier := &identity.Identity{PublicKey: signerPub}
	if !verifier.Verify(r.message(), r.Signature) {
		return syncerr.New(syncerr.KindInvalidRevision, "revision.Verify", fmt.Errorf("signature verification failed for fingerprint %s", r.UserFingerprint))
	}
	return nil
}
