// Package syncerr defines the error taxonomy shared across the syncrypt
// core packages: pipe, bundle, vault, revision, backend, and the sync
// engine all report failures through *Error so callers can branch on Kind
// with errors.As instead of string-matching messages.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way spec.md §7 enumerates them.
type Kind int

const (
	// KindUnknown is the zero value; never constructed intentionally.
	KindUnknown Kind = iota
	KindInvalidAuth
	KindProtocolError
	KindIOError
	KindCorruptData
	KindInvalidRevision
	KindNotFound
	KindConfigError
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidAuth:
		return "InvalidAuth"
	case KindProtocolError:
		return "ProtocolError"
	case KindIOError:
		return "IOError"
	case KindCorruptData:
		return "CorruptData"
	case KindInvalidRevision:
		return "InvalidRevision"
	case KindNotFound:
		return "NotFound"
	case KindConfigError:
		return "ConfigError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is a Kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Kind-tagged error, wrapping cause if non-nil.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
