package syncengine

import (
	"bytes"
	"crypto/rsa"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/dsatori/syncrypt/internal/identity"
	"github.com/dsatori/syncrypt/internal/pipe"
	"github.com/dsatori/syncrypt/internal/syncerr"
)

// VaultMetadata is the small record an OP_SET_METADATA revision carries,
// wrapped the same way fileinfo wraps a FileInfo (Once >> SnappyCompress >>
// EncryptRSA), so the server never sees vault names/descriptions in the
// clear. Grounded on original_source/syncrypt/models/base.py's generic
// MetadataHolder pipeline, applied here to vault-level rather than
// per-file metadata.
type VaultMetadata struct {
	Name        string `codec:"name"`
	Description string `codec:"description"`
}

var metadataCodec codec.MsgpackHandle

func marshalMetadata(m *VaultMetadata) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &metadataCodec)
	if err := enc.Encode(m); err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "syncengine.marshalMetadata", err)
	}
	return buf.Bytes(), nil
}

func unmarshalMetadata(data []byte) (*VaultMetadata, error) {
	var m VaultMetadata
	dec := codec.NewDecoder(bytes.NewReader(data), &metadataCodec)
	if err := dec.Decode(&m); err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "syncengine.unmarshalMetadata", err)
	}
	return &m, nil
}

// wrapMetadata serializes and RSA-OAEP-encrypts m under pub, reading the
// pipe to completion.
func wrapMetadata(m *VaultMetadata, pub *rsa.PublicKey) ([]byte, error) {
	raw, err := marshalMetadata(m)
	if err != nil {
		return nil, err
	}
	src := pipe.Then(pipe.NewOnce(raw),
		func(p pipe.Pipe) pipe.Pipe { return pipe.NewSnappyCompress(p) },
		func(p pipe.Pipe) pipe.Pipe { return pipe.NewEncryptRSA(p, pub) },
	)
	defer src.Finalize()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(src); err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "syncengine.wrapMetadata", err)
	}
	return buf.Bytes(), nil
}

// unwrapMetadata reverses wrapMetadata using id's private key.
func unwrapMetadata(wrapped []byte, id *identity.Identity) (*VaultMetadata, error) {
	src := pipe.Then(pipe.NewOnce(wrapped),
		func(p pipe.Pipe) pipe.Pipe { return pipe.NewDecryptRSA(p, id.PrivateKey) },
		func(p pipe.Pipe) pipe.Pipe { return pipe.NewSnappyDecompress(p) },
	)
	defer src.Finalize()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(src); err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "syncengine.unwrapMetadata", err)
	}
	return unmarshalMetadata(buf.Bytes())
}
