package pipe

import (
	"io"
	"os"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

// blockSize is the chunk size FileReader emits per Read when the caller
// asks for more than this; it bounds how much of a file we ever hold in a
// single underlying read, independent of the caller's buffer size.
const blockSize = 64 * 1024

// FileReader opens path lazily, on the first Read, and streams it in
// blockSize-ish chunks until exhausted.
type FileReader struct {
	base
	path string
	f    *os.File
	err  error
}

// NewFileReader returns a source Pipe reading from path.
func NewFileReader(path string) *FileReader {
	r := &FileReader{path: path}
	r.self = r
	return r
}

func (r *FileReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.f == nil {
		f, err := os.Open(r.path)
		if err != nil {
			r.err = syncerr.New(syncerr.KindIOError, "pipe.FileReader.Read", err)
			return 0, r.err
		}
		r.f = f
	}
	if len(p) > blockSize {
		p = p[:blockSize]
	}
	n, err := r.f.Read(p)
	if err != nil && err != io.EOF {
		r.err = syncerr.New(syncerr.KindIOError, "pipe.FileReader.Read", err)
		return n, r.err
	}
	return n, err
}

func (r *FileReader) Finalize() error {
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}
