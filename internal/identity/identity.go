// Package identity implements the RSA keypair every Vault and every user
// owns: PEM persistence, a stable fingerprint, and RSA-PSS signing used to
// sign and verify revisions (spec.md §3 "Identity").
//
// Grounded on original_source/syncrypt/vault.py's init_keys/RSA.importKey
// (PEM-on-disk, generate-if-absent) and named after the teacher's
// internal/iam/identity.go convention of a plain Identity struct.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

// DefaultKeyBits matches the original implementation's rsa_key_len default,
// doubled to a size still considered safe for long-lived vault keys.
const DefaultKeyBits = 2048

// Identity is an RSA keypair that can sign and verify byte messages and
// report a stable fingerprint of its public half.
type Identity struct {
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey // nil for a verify-only Identity loaded from a peer's public key
}

// Generate creates a fresh Identity with a DefaultKeyBits RSA key.
func Generate() (*Identity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, DefaultKeyBits)
	if err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "identity.Generate", err)
	}
	return &Identity{PublicKey: &priv.PublicKey, PrivateKey: priv}, nil
}

// Load reads a keypair from PEM files at privPath/pubPath, matching
// vault.py's id_rsa/id_rsa.pub layout.
func Load(privPath, pubPath string) (*Identity, error) {
	privPEM, err := os.ReadFile(privPath)
	if err != nil {
		return nil, syncerr.New(syncerr.KindNotFound, "identity.Load", err)
	}
	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, syncerr.New(syncerr.KindNotFound, "identity.Load", err)
	}

	priv, err := parsePrivateKeyPEM(privPEM)
	if err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "identity.Load", err)
	}
	pub, err := parsePublicKeyPEM(pubPEM)
	if err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "identity.Load", err)
	}
	return &Identity{PublicKey: pub, PrivateKey: priv}, nil
}

// LoadPublic reads only a public key, for representing a trusted peer
// identity known from a prior AddUserKey/CreateVault revision (spec.md
// §4.4: "signer is not a trusted key at that log prefix").
func LoadPublic(pubPath string) (*Identity, error) {
	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, syncerr.New(syncerr.KindNotFound, "identity.LoadPublic", err)
	}
	pub, err := parsePublicKeyPEM(pubPEM)
	if err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "identity.LoadPublic", err)
	}
	return &Identity{PublicKey: pub}, nil
}

// FromPublicKeyBytes builds a verify-only Identity from the DER (PKIX)
// public key bytes embedded in a revision (CreateVault/AddUserKey's
// *_public_key fields). PEM input is not accepted.
func FromPublicKeyBytes(der []byte) (*Identity, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, syncerr.New(syncerr.KindCorruptData, "identity.FromPublicKeyBytes", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, syncerr.New(syncerr.KindCorruptData, "identity.FromPublicKeyBytes", fmt.Errorf("not an RSA public key"))
	}
	return &Identity{PublicKey: rsaPub}, nil
}

// Save writes the keypair as PEM to privPath/pubPath, creating neither
// directory (callers create .vault/ up front, matching vault.py).
func (id *Identity) Save(privPath, pubPath string) error {
	if id.PrivateKey == nil {
		return syncerr.New(syncerr.KindConfigError, "identity.Save", fmt.Errorf("identity has no private key"))
	}
	privDER := x509.MarshalPKCS1PrivateKey(id.PrivateKey)
	privBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: privDER}
	if err := os.WriteFile(privPath, pem.EncodeToMemory(privBlock), 0600); err != nil {
		return syncerr.New(syncerr.KindIOError, "identity.Save", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(id.PublicKey)
	if err != nil {
		return syncerr.New(syncerr.KindIOError, "identity.Save", err)
	}
	pubBlock := &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(pubBlock), 0644); err != nil {
		return syncerr.New(syncerr.KindIOError, "identity.Save", err)
	}
	return nil
}

// PublicKeyBytes returns the DER (PKIX) encoding of the public key, as
// embedded in CreateVault/AddUserKey revisions.
func (id *Identity) PublicKeyBytes() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(id.PublicKey)
	if err != nil {
		return nil, syncerr.New(syncerr.KindIOError, "identity.PublicKeyBytes", err)
	}
	return der, nil
}

// Fingerprint returns the hex SHA-256 digest of the public key's DER
// encoding — a stable identifier independent of PEM formatting.
func (id *Identity) Fingerprint() string {
	der, err := id.PublicKeyBytes()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

func parsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaKey, nil
}
