package backend

import (
	"context"

	"github.com/dsatori/syncrypt/internal/bundle"
)

// Backend is the storage collaborator a Vault pushes to and pulls from
// (spec.md §1: "server itself ... is an external collaborator"). Both
// BinaryBackend and LocalBackend implement it, so the sync engine stays
// backend-agnostic (SPEC_FULL.md §4.3, Open Question 3).
type Backend interface {
	Open(ctx context.Context) error
	Stat(ctx context.Context, b *bundle.Bundle) error
	Upload(ctx context.Context, b *bundle.Bundle) error
	Download(ctx context.Context, b *bundle.Bundle, assertHash string) (bool, error)
	Wipe(ctx context.Context) error
	Close() error
}
