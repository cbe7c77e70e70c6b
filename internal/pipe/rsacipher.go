package pipe

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"io"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

// EncryptRSA wraps a whole (small) upstream message with RSA-OAEP under
// pub. It buffers the entire upstream before encrypting — spec.md §4.1:
// "whole-message wrap/unwrap used for small blobs (file key, metadata).
// Not intended for file payloads."
type EncryptRSA struct {
	upstream Pipe
	pub      *rsa.PublicKey

	out    []byte
	outOff int
	err    error
	done   bool
}

// NewEncryptRSA wraps upstream with RSA-OAEP encryption under pub.
func NewEncryptRSA(upstream Pipe, pub *rsa.PublicKey) *EncryptRSA {
	return &EncryptRSA{upstream: upstream, pub: pub}
}

func (e *EncryptRSA) Read(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if !e.done {
		plain, err := io.ReadAll(e.upstream)
		if err != nil {
			e.err = err
			return 0, err
		}
		ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, e.pub, plain, nil)
		if err != nil {
			e.err = syncerr.New(syncerr.KindIOError, "pipe.EncryptRSA.Read", err)
			return 0, e.err
		}
		e.out = ciphertext
		e.done = true
	}
	if e.outOff >= len(e.out) {
		return 0, io.EOF
	}
	n := copy(p, e.out[e.outOff:])
	e.outOff += n
	return n, nil
}

func (e *EncryptRSA) Consume() error {
	_, err := io.ReadAll(e)
	return err
}

func (e *EncryptRSA) Finalize() error { return e.upstream.Finalize() }

// DecryptRSA unwraps a whole RSA-OAEP-encrypted message with priv. Every
// decryption failure surfaces as CorruptData, including a wrong key: Go's
// rsa package does not distinguish "wrong key" from "corrupt ciphertext" at
// the API level.
type DecryptRSA struct {
	upstream Pipe
	priv     *rsa.PrivateKey

	out    []byte
	outOff int
	err    error
	done   bool
}

// NewDecryptRSA wraps upstream, decrypting an RSA-OAEP blob with priv.
func NewDecryptRSA(upstream Pipe, priv *rsa.PrivateKey) *DecryptRSA {
	return &DecryptRSA{upstream: upstream, priv: priv}
}

func (d *DecryptRSA) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if !d.done {
		ciphertext, err := io.ReadAll(d.upstream)
		if err != nil {
			d.err = err
			return 0, err
		}
		plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, d.priv, ciphertext, nil)
		if err != nil {
			d.err = syncerr.New(syncerr.KindCorruptData, "pipe.DecryptRSA.Read", err)
			return 0, d.err
		}
		d.out = plain
		d.done = true
	}
	if d.outOff >= len(d.out) {
		return 0, io.EOF
	}
	n := copy(p, d.out[d.outOff:])
	d.outOff += n
	return n, nil
}

func (d *DecryptRSA) Consume() error {
	_, err := io.ReadAll(d)
	return err
}

func (d *DecryptRSA) Finalize() error { return d.upstream.Finalize() }
