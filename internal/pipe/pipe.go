// Package pipe implements the lazy, pull-driven byte-stream transformers
// described in spec.md §4.1: compression, padding, encryption, and hashing
// stages that compose into a bounded-memory streaming pipeline.
//
// Composition mirrors the decorator chain the teacher's storage.Engine
// wrappers use (FileSystem -> CompressedEngine -> EncryptedEngine, each
// wrapping an inner engine) except pipes pull via io.Reader.Read instead of
// pushing via io.Writer.Write: a pipe's Read only ever advances its
// upstream by exactly as much as the caller demands, so memory use is
// bounded by the caller's buffer size rather than by file size.
package pipe

import "io"

// Pipe is a lazy, asynchronous (here: synchronous-blocking, since Go's
// goroutines and io already give us the async-without-callbacks story the
// original coroutine-based implementation reached for) producer of bytes.
//
// Read behaves like io.Reader: it returns io.EOF exactly once, after the
// last byte has been delivered, never before.
//
// Consume drains the pipe to completion; it is what a sink calls when it
// wants all upstream bytes without holding them (e.g. FileWriter).
//
// Finalize releases any resources this pipe (and, transitively, its
// upstream) holds. Finalize must be called exactly once per pipe chain, in
// both the success and failure path; implementations are not idempotent
// (a second call may fail or, for SnappyCompress, block).
type Pipe interface {
	io.Reader
	Consume() error
	Finalize() error
}

// base provides the Consume/Finalize boilerplate most source (no-upstream)
// pipes share: Consume just reads until EOF, and Finalize forwards to
// upstream if any. Go has no virtual dispatch through embedding, so a
// concrete pipe that embeds base and overrides Read must point self at
// itself in its constructor (see NewFileReader) so base.Consume calls the
// override rather than looping on a no-op.
type base struct {
	self     io.Reader
	upstream Pipe
}

func (b *base) Consume() error {
	buf := make([]byte, 32*1024)
	for {
		_, err := b.self.Read(buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (b *base) Finalize() error {
	if b.upstream == nil {
		return nil
	}
	return b.upstream.Finalize()
}

// Chain builds a new pipe by applying stage to src. It is the explicit,
// non-syntactic-sugar equivalent of the spec's `A >> B` operator (DESIGN
// NOTES §9: "expose an explicit chain(source, stage) builder; it is purely
// syntactic sugar and not required").
func Chain(src Pipe, stage func(Pipe) Pipe) Pipe {
	return stage(src)
}

// Then is sugar for repeated Chain calls that reads left-to-right:
// Then(src, s1, s2) instead of Chain(Chain(src, s1), s2). Both exist so call
// sites can pick whichever reads better; neither changes behavior.
func Then(src Pipe, stages ...func(Pipe) Pipe) Pipe {
	p := src
	for _, stage := range stages {
		p = stage(p)
	}
	return p
}

// ConsumeAndFinalize drains p and then finalizes it, returning the first
// error encountered. Sinks should always go through this helper (rather
// than calling Consume/Finalize directly) so failure paths never skip
// Finalize — spec.md §4.1: "sinks must call finalize in both success and
// failure paths."
func ConsumeAndFinalize(p Pipe) error {
	consumeErr := p.Consume()
	finalizeErr := p.Finalize()
	if consumeErr != nil {
		return consumeErr
	}
	return finalizeErr
}
