package pipe

import "io"

// Count is a transparent pipe that exposes the total number of bytes
// observed so far — used for file_size_crypt precomputation. Bundle.Update
// places Count after EncryptAES, so the count already includes the leading
// IV block and is file_size_crypt as-is.
type Count struct {
	upstream Pipe
	n        int64
}

// NewCount wraps upstream with a running byte counter.
func NewCount(upstream Pipe) *Count {
	return &Count{upstream: upstream}
}

func (c *Count) Read(p []byte) (int, error) {
	n, err := c.upstream.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *Count) Consume() error {
	buf := make([]byte, 32*1024)
	for {
		_, err := c.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Count) Finalize() error { return c.upstream.Finalize() }

// N returns the number of bytes observed so far.
func (c *Count) N() int64 { return c.n }
