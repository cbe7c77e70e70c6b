package pipe

import (
	"io"

	"github.com/dsatori/syncrypt/internal/syncerr"
	"github.com/klauspost/compress/s2"
)

// SnappyCompress frames and compresses upstream bytes. It is implemented
// over klauspost/compress/s2, a Snappy-frame-compatible codec already
// present in the retrieval corpus (an indirect dependency of the teacher's
// go.mod via klauspost/compress) rather than pulling in a brand-new
// dependency for the same concern.
//
// s2's Writer is push-oriented (io.Writer), while Pipe is pull-oriented,
// so SnappyCompress bridges the two with an io.Pipe: a goroutine drains
// upstream into an s2 writer that feeds the synchronous io.Pipe, which
// blocks the goroutine until Read drains it — exactly the back-pressure
// spec.md §4.1 requires, since io.Pipe never buffers more than one write.
type SnappyCompress struct {
	upstream Pipe
	pr       *io.PipeReader
	started  bool
	doneCh   chan error
}

// NewSnappyCompress wraps upstream with streaming Snappy-frame compression.
func NewSnappyCompress(upstream Pipe) *SnappyCompress {
	return &SnappyCompress{upstream: upstream}
}

func (c *SnappyCompress) start() {
	pr, pw := io.Pipe()
	c.pr = pr
	c.doneCh = make(chan error, 1)
	go func() {
		w := s2.NewWriter(pw, s2.WriterSnappyCompat())
		_, copyErr := io.Copy(w, c.upstream)
		closeErr := w.Close()
		if copyErr == nil {
			copyErr = closeErr
		}
		pw.CloseWithError(copyErr)
		c.doneCh <- copyErr
	}()
	c.started = true
}

func (c *SnappyCompress) Read(p []byte) (int, error) {
	if !c.started {
		c.start()
	}
	return c.pr.Read(p)
}

func (c *SnappyCompress) Consume() error {
	_, err := io.ReadAll(c)
	return err
}

func (c *SnappyCompress) Finalize() error {
	if c.started {
		<-c.doneCh
	}
	return c.upstream.Finalize()
}

// SnappyDecompress reverses SnappyCompress. Because s2's Reader is already
// pull-oriented, it composes directly onto upstream with no bridging.
type SnappyDecompress struct {
	upstream Pipe
	r        *s2.Reader
}

// NewSnappyDecompress wraps upstream, decompressing an s2/Snappy-framed
// stream.
func NewSnappyDecompress(upstream Pipe) *SnappyDecompress {
	return &SnappyDecompress{upstream: upstream, r: s2.NewReader(upstream)}
}

func (d *SnappyDecompress) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		return n, syncerr.New(syncerr.KindCorruptData, "pipe.SnappyDecompress.Read", err)
	}
	return n, err
}

func (d *SnappyDecompress) Consume() error {
	_, err := io.ReadAll(d)
	return err
}

func (d *SnappyDecompress) Finalize() error { return d.upstream.Finalize() }
