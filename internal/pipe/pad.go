package pipe

import (
	"io"

	"github.com/dsatori/syncrypt/internal/syncerr"
)

// PadAES applies PKCS#7-style padding to blockSize: it passes upstream
// bytes through unchanged and, on EOF, appends 1..blockSize pad bytes
// (value == pad length) so the total length becomes a multiple of
// blockSize — including a full extra block when the input was already
// aligned (spec.md §4.1: "Pad always adds 1..block_size bytes").
//
// Padding only depends on the total byte count mod blockSize, so PadAES
// never needs to buffer data: it just counts what it has forwarded.
type PadAES struct {
	upstream  Pipe
	blockSize int

	total   int64
	padding []byte
	padOff  int
	eof     bool
}

// NewPadAES wraps upstream with PKCS#7 padding to blockSize.
func NewPadAES(upstream Pipe, blockSize int) *PadAES {
	return &PadAES{upstream: upstream, blockSize: blockSize}
}

func (p *PadAES) Read(buf []byte) (int, error) {
	if p.padding != nil {
		n := copy(buf, p.padding[p.padOff:])
		p.padOff += n
		if p.padOff == len(p.padding) {
			p.padding = nil
		}
		return n, nil
	}
	if p.eof {
		return 0, io.EOF
	}

	n, err := p.upstream.Read(buf)
	p.total += int64(n)
	if err == io.EOF {
		p.eof = true
		padLen := p.blockSize - int(p.total%int64(p.blockSize))
		if padLen == 0 {
			padLen = p.blockSize
		}
		p.padding = make([]byte, padLen)
		for i := range p.padding {
			p.padding[i] = byte(padLen)
		}
		if n > 0 {
			return n, nil
		}
		return p.Read(buf)
	}
	return n, err
}

func (p *PadAES) Consume() error {
	buf := make([]byte, 32*1024)
	for {
		_, err := p.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *PadAES) Finalize() error { return p.upstream.Finalize() }

// UnpadAES removes and validates PKCS#7 padding added by PadAES. Because
// the final block (the padding) can't be identified until EOF, UnpadAES
// holds back up to blockSize bytes at all times, emitting only what it
// knows cannot be part of the trailing pad block.
type UnpadAES struct {
	upstream  Pipe
	blockSize int

	held      []byte
	eof       bool
	stripped  bool
	remaining []byte
	err       error
}

// NewUnpadAES wraps upstream, stripping PKCS#7 padding to blockSize.
func NewUnpadAES(upstream Pipe, blockSize int) *UnpadAES {
	return &UnpadAES{upstream: upstream, blockSize: blockSize}
}

func (u *UnpadAES) Read(buf []byte) (int, error) {
	if u.err != nil {
		return 0, u.err
	}
	if u.stripped {
		if len(u.remaining) == 0 {
			return 0, io.EOF
		}
		n := copy(buf, u.remaining)
		u.remaining = u.remaining[n:]
		return n, nil
	}
	for !u.eof && len(u.held) <= u.blockSize {
		chunk := make([]byte, 32*1024)
		n, err := u.upstream.Read(chunk)
		if n > 0 {
			u.held = append(u.held, chunk[:n]...)
		}
		if err == io.EOF {
			u.eof = true
			break
		}
		if err != nil {
			u.err = err
			return 0, err
		}
		if len(u.held) > u.blockSize {
			break
		}
	}

	if u.eof {
		if len(u.held) == 0 || len(u.held)%u.blockSize != 0 {
			u.err = syncerr.New(syncerr.KindCorruptData, "pipe.UnpadAES.Read", nil)
			return 0, u.err
		}
		padLen := int(u.held[len(u.held)-1])
		if padLen == 0 || padLen > u.blockSize || padLen > len(u.held) {
			u.err = syncerr.New(syncerr.KindCorruptData, "pipe.UnpadAES.Read", nil)
			return 0, u.err
		}
		for _, b := range u.held[len(u.held)-padLen:] {
			if int(b) != padLen {
				u.err = syncerr.New(syncerr.KindCorruptData, "pipe.UnpadAES.Read", nil)
				return 0, u.err
			}
		}
		plain := u.held[:len(u.held)-padLen]
		u.stripped = true
		u.held = nil
		if len(plain) == 0 {
			return 0, io.EOF
		}
		n := copy(buf, plain)
		u.remaining = plain[n:]
		return n, nil
	}

	// Not at EOF yet: safe to emit everything except the last blockSize
	// bytes, which might be (part of) the padding block.
	safe := len(u.held) - u.blockSize
	if safe <= 0 {
		return 0, nil
	}
	if safe > len(buf) {
		safe = len(buf)
	}
	n := copy(buf, u.held[:safe])
	u.held = u.held[n:]
	return n, nil
}

func (u *UnpadAES) Consume() error {
	buf := make([]byte, 32*1024)
	for {
		_, err := u.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (u *UnpadAES) Finalize() error { return u.upstream.Finalize() }
