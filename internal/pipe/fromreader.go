package pipe

import "io"

// FromReader adapts an arbitrary io.Reader (a network connection, a
// length-limited sub-stream of one) into a Pipe source. It has no
// resources of its own to release, so Finalize is a no-op — used at the
// binary backend's download boundary, where the wire's declared-length
// body needs to flow straight into the decrypt pipeline (spec.md §4.3's
// "reads are sized by the declared lengths, never by heuristics").
type FromReader struct {
	base
	r io.Reader
}

// NewFromReader wraps r as a Pipe source.
func NewFromReader(r io.Reader) *FromReader {
	f := &FromReader{r: r}
	f.self = f
	return f
}

func (f *FromReader) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *FromReader) Finalize() error { return nil }
