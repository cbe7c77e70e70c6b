package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

// Sign signs msg with RSA-PSS/SHA-256, returning the raw signature bytes.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	if id.PrivateKey == nil {
		return nil, syncerr.New(syncerr.KindConfigError, "identity.Sign", nil)
	}
	digest := sha256.Sum256(msg)
	sig, err := rsa.SignPSS(rand.Reader, id.PrivateKey, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "identity.Sign", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid RSA-PSS/SHA-256 signature of msg
// under this Identity's public key.
func (id *Identity) Verify(msg, sig []byte) bool {
	if id.PublicKey == nil {
		return false
	}
	digest := sha256.Sum256(msg)
	return rsa.VerifyPSS(id.PublicKey, crypto.SHA256, digest[:], sig, nil) == nil
}
