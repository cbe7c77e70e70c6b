// Log persists a vault's revision chain in a bbolt database, grounded on
// the teacher's internal/metadata.Store (NewStore opening a bolt.DB with
// CreateBucketIfNotExists) and internal/replication.ChangeLog's
// big-endian-sequence-key append pattern (Record/ChangesSince).
// Revisions are msgpack-encoded with the same
// github.com/hashicorp/go-msgpack/v2/codec handle fileinfo uses, keeping
// one binary-object-map codec across the whole module.
package revision

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

var (
	sequenceBucket = []byte("revisions_by_seq")
	idIndexBucket  = []byte("revisions_by_id")
)

var revisionCodec codec.MsgpackHandle

// wireRevision mirrors Revision but with plain fields a codec can encode
// directly (time.Time needs no special handling under msgpack, but keeping
// a distinct wire type avoids coupling the on-disk format to any future
// in-memory-only fields).
type wireRevision struct {
	RevisionID      string `codec:"revision_id"`
	ParentID        string `codec:"parent_id"`
	VaultID         string `codec:"vault_id"`
	Operation       string `codec:"operation"`
	CreatedAt       int64  `codec:"created_at"`
	UserFingerprint string `codec:"user_fingerprint"`
	Signature       []byte `codec:"signature"`
	VaultPublicKey  []byte `codec:"vault_public_key"`
	UserPublicKey   []byte `codec:"user_public_key"`
	FileHash        string `codec:"file_hash"`
	CryptHash       string `codec:"crypt_hash"`
	FileSizeCrypt   int64  `codec:"file_size_crypt"`
	MetadataBlob    []byte `codec:"metadata_blob"`
	OldPath         string `codec:"old_path"`
	NewPath         string `codec:"new_path"`
	UserID          string `codec:"user_id"`
}

func toWire(r *Revision) *wireRevision {
	return &wireRevision{
		RevisionID:      r.RevisionID,
		ParentID:        r.ParentID,
		VaultID:         r.VaultID,
		Operation:       string(r.Operation),
		CreatedAt:       r.CreatedAt.UnixNano(),
		UserFingerprint: r.UserFingerprint,
		Signature:       r.Signature,
		VaultPublicKey:  r.VaultPublicKey,
		UserPublicKey:   r.UserPublicKey,
		FileHash:        r.FileHash,
		CryptHash:       r.CryptHash,
		FileSizeCrypt:   r.FileSizeCrypt,
		MetadataBlob:    r.MetadataBlob,
		OldPath:         r.OldPath,
		NewPath:         r.NewPath,
		UserID:          r.UserID,
	}
}

func fromWire(w *wireRevision) *Revision {
	return &Revision{
		RevisionID:      w.RevisionID,
		ParentID:        w.ParentID,
		VaultID:         w.VaultID,
		Operation:       Op(w.Operation),
		CreatedAt:       time.Unix(0, w.CreatedAt).UTC(),
		UserFingerprint: w.UserFingerprint,
		Signature:       w.Signature,
		VaultPublicKey:  w.VaultPublicKey,
		UserPublicKey:   w.UserPublicKey,
		FileHash:        w.FileHash,
		CryptHash:       w.CryptHash,
		FileSizeCrypt:   w.FileSizeCrypt,
		MetadataBlob:    w.MetadataBlob,
		OldPath:         w.OldPath,
		NewPath:         w.NewPath,
		UserID:          w.UserID,
	}
}

// Log is the append-only, parent-linked sequence of Revisions for one
// vault (spec.md §4.4).
type Log struct {
	db *bolt.DB
}

// OpenLog opens (creating if necessary) the bbolt-backed revision log at
// path.
func OpenLog(path string) (*Log, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "revision.OpenLog", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sequenceBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(idIndexBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, syncerr.New(syncerr.KindIOError, "revision.OpenLog", err)
	}
	return &Log{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// Append writes r as the next entry in the log. Applying is expected to be
// idempotent given revision_id, so Append refuses a revision_id already
// present (the caller's job is to check before retrying a replay).
func (l *Log) Append(r *Revision) error {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &revisionCodec)
	if err := enc.Encode(toWire(r)); err != nil {
		return syncerr.New(syncerr.KindCorruptData, "revision.Append", err)
	}
	payload := buf.Bytes()

	return l.db.Update(func(tx *bolt.Tx) error {
		idIdx := tx.Bucket(idIndexBucket)
		if idIdx.Get([]byte(r.RevisionID)) != nil {
			return syncerr.New(syncerr.KindInvalidRevision, "revision.Append", fmt.Errorf("revision %s already applied", r.RevisionID))
		}

		seqBucket := tx.Bucket(sequenceBucket)
		seq, err := seqBucket.NextSequence()
		if err != nil {
			return err
		}
		key := encodeSeq(seq)
		if err := seqBucket.Put(key, payload); err != nil {
			return err
		}
		return idIdx.Put([]byte(r.RevisionID), key)
	})
}

// Has reports whether revisionID is already present in the log.
func (l *Log) Has(revisionID string) (bool, error) {
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(idIndexBucket).Get([]byte(revisionID)) != nil
		return nil
	})
	return found, err
}

// Tail returns the most recently appended Revision, or nil if the log is
// empty — the "latest known parent" spec.md §4.4's pull/clone start from.
func (l *Log) Tail() (*Revision, error) {
	var last *Revision
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(sequenceBucket).Cursor()
		_, v := c.Last()
		if v == nil {
			return nil
		}
		r, err := decodeRevision(v)
		if err != nil {
			return err
		}
		last = r
		return nil
	})
	return last, err
}

// All returns every revision in append order.
func (l *Log) All() ([]*Revision, error) {
	var out []*Revision
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(sequenceBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			r, err := decodeRevision(v)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

func decodeRevision(data []byte) (*Revision, error) {
	var w wireRevision
	dec := codec.NewDecoder(bytes.NewReader(data), &revisionCodec)
	if err := dec.Decode(&w); err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "revision.decodeRevision", err)
	}
	return fromWire(&w), nil
}
