package pipe

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func readAll(t *testing.T, p Pipe) []byte {
	t.Helper()
	data, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := p.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return data
}

func TestPadUnpadRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("a"),
		bytes.Repeat([]byte("x"), 16),  // exactly one block
		bytes.Repeat([]byte("y"), 17),  // one block + 1
		bytes.Repeat([]byte("z"), 100), // several blocks + remainder
	}
	for _, c := range cases {
		padded := readAll(t, NewPadAES(NewOnce(c), 16))
		if len(padded)%16 != 0 {
			t.Fatalf("padded length %d not block-aligned", len(padded))
		}
		if len(padded) == len(c) {
			t.Fatalf("padding did not grow %d-byte input", len(c))
		}
		unpadded := readAll(t, NewUnpadAES(NewOnce(padded), 16))
		if !bytes.Equal(unpadded, c) {
			t.Fatalf("round trip mismatch: got %q want %q", unpadded, c)
		}
	}
}

func TestUnpadAESRejectsCorruptPadding(t *testing.T) {
	bad := bytes.Repeat([]byte{0x00}, 16)
	_, err := io.ReadAll(NewUnpadAES(NewOnce(bad), 16))
	if err == nil {
		t.Fatal("expected corrupt-padding error")
	}
}

func TestEncryptDecryptAESRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	plain := bytes.Repeat([]byte("hello syncrypt "), 200) // not block aligned pre-pad
	digest := sha256.Sum256(plain)

	enc, err := NewEncryptAES(NewBufferedAligned(NewPadAES(NewOnce(plain), 16), 4096, 16), key, digest[:])
	if err != nil {
		t.Fatalf("NewEncryptAES: %v", err)
	}
	ciphertext := readAll(t, enc)
	if len(ciphertext)%16 != 0 {
		t.Fatalf("ciphertext length %d not block aligned", len(ciphertext))
	}

	enc2, err := NewEncryptAES(NewBufferedAligned(NewPadAES(NewOnce(plain), 16), 4096, 16), key, digest[:])
	if err != nil {
		t.Fatalf("NewEncryptAES (second pass): %v", err)
	}
	ciphertext2 := readAll(t, enc2)
	if !bytes.Equal(ciphertext, ciphertext2) {
		t.Fatal("encrypting unchanged content+key twice should be byte-identical")
	}

	dec, err := NewDecryptAES(NewBufferedAligned(NewOnce(ciphertext), 4096, 16), key)
	if err != nil {
		t.Fatalf("NewDecryptAES: %v", err)
	}
	unpadded := readAll(t, NewUnpadAES(dec, 16))
	if !bytes.Equal(unpadded, plain) {
		t.Fatal("AES round trip mismatch")
	}
}

func TestSnappyRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 500)

	compressed := readAll(t, NewSnappyCompress(NewOnce(plain)))
	if len(compressed) == 0 {
		t.Fatal("expected non-empty compressed output")
	}

	decompressed := readAll(t, NewSnappyDecompress(NewOnce(compressed)))
	if !bytes.Equal(decompressed, plain) {
		t.Fatal("snappy round trip mismatch")
	}
}

func TestFileReaderFileWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "nested", "dst.txt")
	want := []byte("bundle contents\n")
	if err := os.WriteFile(src, want, 0644); err != nil {
		t.Fatal(err)
	}

	sink := NewFileWriter(NewFileReader(src), dst, true, false, true)
	if err := ConsumeAndFinalize(sink); err != nil {
		t.Fatalf("consume+finalize: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
	leftovers, _ := filepath.Glob(dst + ".tmp-*")
	if len(leftovers) != 0 {
		t.Fatalf("temp file(s) should not remain: %v", leftovers)
	}
}

func TestHashMixKeyChangesWithKey(t *testing.T) {
	h1 := NewHash(NewOnce([]byte("content")), AlgoSHA256)
	readAll(t, h1)
	k1 := h1.MixKey(AlgoSHA256, []byte("key-a"))
	k2 := h1.MixKey(AlgoSHA256, []byte("key-b"))
	if k1 == k2 {
		t.Fatal("crypt_hash must change when key changes, content held constant")
	}
}

func TestCountTracksBytes(t *testing.T) {
	c := NewCount(NewOnce([]byte("0123456789")))
	readAll(t, c)
	if c.N() != 10 {
		t.Fatalf("got %d want 10", c.N())
	}
}
