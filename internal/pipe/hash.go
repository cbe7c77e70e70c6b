package pipe

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/sha3"
)

// Algo names a configurable digest algorithm (Config.HashAlgo). sha256 is
// the default; sha3-256 and xxhash are offered as alternatives — xxhash
// trades cryptographic strength for speed on the non-secret store_hash
// (spec.md §3: "store_hash = hash(relpath bytes)", which never needs to
// resist preimage attacks, only to be stable).
type Algo string

const (
	AlgoSHA256  Algo = "sha256"
	AlgoSHA3256 Algo = "sha3-256"
	AlgoXXHash  Algo = "xxhash"
)

// newHasher resolves an Algo to a hash.Hash. Unknown algorithms fall back
// to sha256.
func newHasher(algo Algo) hash.Hash {
	switch algo {
	case AlgoSHA3256:
		return sha3.New256()
	case AlgoXXHash:
		return xxhash.New()
	default:
		return sha256.New()
	}
}

// SumHex hashes data with algo and returns the hex digest — used for
// store_hash (spec.md §3).
func SumHex(algo Algo, data []byte) string {
	h := newHasher(algo)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash is a transparent pass-through pipe that feeds every byte it
// forwards into a running digest. After Consume (or after Read returns
// io.EOF), Sum and SumHex report the final digest.
type Hash struct {
	upstream Pipe
	h        hash.Hash
}

// NewHash wraps upstream with a transparent running digest under algo.
func NewHash(upstream Pipe, algo Algo) *Hash {
	return &Hash{upstream: upstream, h: newHasher(algo)}
}

func (p *Hash) Read(buf []byte) (int, error) {
	n, err := p.upstream.Read(buf)
	if n > 0 {
		p.h.Write(buf[:n])
	}
	return n, err
}

func (p *Hash) Consume() error {
	buf := make([]byte, 32*1024)
	for {
		_, err := p.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *Hash) Finalize() error { return p.upstream.Finalize() }

// Sum returns the raw digest bytes observed so far.
func (p *Hash) Sum() []byte { return p.h.Sum(nil) }

// SumHex returns the hex-encoded digest observed so far.
func (p *Hash) SumHex() string { return hex.EncodeToString(p.Sum()) }

// MixKey folds key into the digest and returns the resulting hex digest,
// without disturbing the pipe's own running state — used to compute
// crypt_hash = hash(content) mixed with the file key (spec.md §3), so
// swapping the key while keeping content yields a different crypt_hash.
func (p *Hash) MixKey(algo Algo, key []byte) string {
	h := newHasher(algo)
	h.Write(p.Sum())
	h.Write(key)
	return hex.EncodeToString(h.Sum(nil))
}

// MixKeyHex folds key into raw digest bytes the same way MixKey does and
// returns the hex result, for callers that hold a digest rather than a Hash
// pipe (e.g. when verifying a downloaded stream's hash against an expected
// crypt_hash).
func MixKeyHex(algo Algo, digest []byte, key []byte) string {
	h := newHasher(algo)
	h.Write(digest)
	h.Write(key)
	return hex.EncodeToString(h.Sum(nil))
}
