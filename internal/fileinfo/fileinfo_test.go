package fileinfo

import (
	"bytes"
	"testing"

	"github.com/dsatori/syncrypt/internal/identity"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	fi := &FileInfo{
		Filename: "notes.txt",
		Key:      []byte("0123456789abcdef0123456789abcde"),
		Hash:     make([]byte, 32),
		KeySize:  32,
	}

	data, err := Marshal(fi)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Filename != fi.Filename || !bytes.Equal(got.Key, fi.Key) || got.KeySize != fi.KeySize {
		t.Fatalf("got %+v, want %+v", got, fi)
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fi := &FileInfo{
		Filename: "secret.bin",
		Key:      []byte("abcdefghijklmnopqrstuvwxyz012345"),
		Hash:     make([]byte, 32),
		KeySize:  32,
	}

	wrapped, err := WrapReader(fi, id.PublicKey)
	if err != nil {
		t.Fatalf("WrapReader: %v", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(wrapped); err != nil {
		t.Fatalf("reading wrapped blob: %v", err)
	}
	if err := wrapped.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := Unwrap(buf.Bytes(), id)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if got.Filename != fi.Filename || !bytes.Equal(got.Key, fi.Key) {
		t.Fatalf("got %+v, want %+v", got, fi)
	}
}

func TestPathShardsByFirstTwoHexChars(t *testing.T) {
	got := Path("abcdef0123456789")
	want := "ab/cdef0123456789"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
