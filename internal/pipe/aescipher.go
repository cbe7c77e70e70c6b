package pipe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

// EncryptAES is a CBC-mode encrypting pipe. It prepends a deterministic IV
// (one block) to the encrypted stream; upstream input must already be
// block-aligned (enforced upstream by PadAES + Buffered(align=blockSize)).
type EncryptAES struct {
	upstream Pipe
	block    cipher.Block
	mode     cipher.BlockMode

	ivSent bool
	iv     []byte
	err    error
}

// deriveIV computes a deterministic IV from key and contentDigest, so that
// encrypting the same plaintext under the same key always yields the same
// ciphertext (crypt_hash must change iff content or key changes). Derived
// via HMAC-SHA256(key, contentDigest) rather than crypto/rand, truncated to
// one cipher block.
func deriveIV(key, contentDigest []byte, blockSize int) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(contentDigest)
	return mac.Sum(nil)[:blockSize]
}

// NewEncryptAES wraps upstream, encrypting with key under AES-CBC. The IV is
// derived from key and contentDigest (the plaintext's content hash), so
// repeated encryptions of unchanged content under an unchanged key are
// byte-identical.
func NewEncryptAES(upstream Pipe, key, contentDigest []byte) (*EncryptAES, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "pipe.NewEncryptAES", err)
	}
	iv := deriveIV(key, contentDigest, block.BlockSize())
	return &EncryptAES{
		upstream: upstream,
		block:    block,
		mode:     cipher.NewCBCEncrypter(block, iv),
		iv:       iv,
	}, nil
}

func (e *EncryptAES) Read(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if !e.ivSent {
		n := copy(p, e.iv)
		e.iv = e.iv[n:]
		if len(e.iv) == 0 {
			e.ivSent = true
		}
		return n, nil
	}

	blockSize := e.block.BlockSize()
	readLen := len(p) - (len(p) % blockSize)
	if readLen == 0 {
		readLen = blockSize
	}
	buf := make([]byte, readLen)
	n, err := io.ReadFull(e.upstream, buf)
	if n > 0 {
		if n%blockSize != 0 {
			e.err = syncerr.New(syncerr.KindCorruptData, "pipe.EncryptAES.Read", nil)
			return 0, e.err
		}
		out := make([]byte, n)
		e.mode.CryptBlocks(out, buf[:n])
		copy(p, out)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	if err != nil {
		e.err = err
		return n, err
	}
	return n, nil
}

func (e *EncryptAES) Consume() error {
	buf := make([]byte, 32*1024)
	for {
		_, err := e.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (e *EncryptAES) Finalize() error { return e.upstream.Finalize() }

// DecryptAES is the CBC-mode decrypting counterpart: it consumes the
// leading IV block from upstream, then decrypts the remainder. Input must
// be block-aligned (enforced upstream by Buffered(enc_buf_size, blockSize)).
type DecryptAES struct {
	upstream Pipe
	block    cipher.Block
	mode     cipher.BlockMode

	ivRead bool
	err    error
}

// NewDecryptAES wraps upstream, decrypting with key under AES-CBC.
func NewDecryptAES(upstream Pipe, key []byte) (*DecryptAES, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "pipe.NewDecryptAES", err)
	}
	return &DecryptAES{upstream: upstream, block: block}, nil
}

func (d *DecryptAES) readIV() error {
	blockSize := d.block.BlockSize()
	iv := make([]byte, blockSize)
	if _, err := io.ReadFull(d.upstream, iv); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return syncerr.New(syncerr.KindCorruptData, "pipe.DecryptAES.readIV", err)
		}
		return err
	}
	d.mode = cipher.NewCBCDecrypter(d.block, iv)
	d.ivRead = true
	return nil
}

func (d *DecryptAES) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if !d.ivRead {
		if err := d.readIV(); err != nil {
			d.err = err
			return 0, err
		}
	}

	blockSize := d.block.BlockSize()
	readLen := len(p) - (len(p) % blockSize)
	if readLen == 0 {
		readLen = blockSize
	}
	buf := make([]byte, readLen)
	n, err := io.ReadFull(d.upstream, buf)
	if n > 0 {
		if n%blockSize != 0 {
			d.err = syncerr.New(syncerr.KindCorruptData, "pipe.DecryptAES.Read", nil)
			return 0, d.err
		}
		out := make([]byte, n)
		d.mode.CryptBlocks(out, buf[:n])
		copy(p, out)
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	}
	if err != nil {
		d.err = err
		return n, err
	}
	return n, nil
}

func (d *DecryptAES) Consume() error {
	buf := make([]byte, 32*1024)
	for {
		_, err := d.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (d *DecryptAES) Finalize() error { return d.upstream.Finalize() }
