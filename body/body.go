// Package body implements the tagged-union Body representation described in
// spec.md §3: reusable bytes, a finite streaming byte-chunk sequence, or a
// sized reader. Variant behavior (try_clone, content_length) is implemented
// as plain functions over the tag, per spec.md DESIGN NOTES ("Body
// polymorphism: implement as a tagged variant rather than inheritance").
package body

import (
	"bytes"
	"io"
)

// Kind tags which variant a Body holds.
type Kind int

const (
	// KindBytes is an owned, immutable, clonable byte buffer.
	KindBytes Kind = iota
	// KindStream is a lazy, finite, non-restartable byte-chunk sequence.
	KindStream
	// KindReader is a blocking byte source with a declared (possibly
	// unknown) length; not restartable.
	KindReader
)

// Chunk is one frame produced while consuming a Body.
type Chunk struct {
	Data []byte
	// Err, if non-nil, terminates consumption; Data is ignored.
	Err error
}

// Body is the tagged union described in spec.md §3.
type Body struct {
	kind Kind

	bytesVal []byte

	streamNext func() (Chunk, bool) // bool is false at end of stream
	streamLen  *int64               // exact or bounded length hint, nil if unknown

	reader    io.Reader
	readerLen int64 // -1 if unknown
}

// FromBytes returns a reusable Body wrapping an owned byte slice.
func FromBytes(b []byte) *Body {
	return &Body{kind: KindBytes, bytesVal: b}
}

// FromString returns a reusable Body wrapping a UTF-8 string.
func FromString(s string) *Body {
	return FromBytes([]byte(s))
}

// FromStream returns a non-restartable Body that pulls chunks from next
// until it returns ok == false. length, if non-nil, is an exact or bounded
// content-length hint.
func FromStream(next func() (Chunk, bool), length *int64) *Body {
	return &Body{kind: KindStream, streamNext: next, streamLen: length}
}

// FromReader returns a non-restartable Body backed by r. Pass length == -1
// if the length is unknown (the body will be sent chunked).
func FromReader(r io.Reader, length int64) *Body {
	return &Body{kind: KindReader, reader: r, readerLen: length}
}

// Kind reports which variant the Body holds.
func (b *Body) Kind() Kind { return b.kind }

// AsBytes returns the owned buffer and true iff the Body is KindBytes.
func (b *Body) AsBytes() ([]byte, bool) {
	if b == nil || b.kind != KindBytes {
		return nil, false
	}
	return b.bytesVal, true
}

// TryClone returns an independent copy of the Body, or nil if the Body
// cannot be cloned (streaming and reader variants are not restartable).
func (b *Body) TryClone() *Body {
	if b == nil {
		return nil
	}
	if b.kind != KindBytes {
		return nil
	}
	cp := make([]byte, len(b.bytesVal))
	copy(cp, b.bytesVal)
	return FromBytes(cp)
}

// ContentLength returns the declared or hinted length, and true if it is
// known. A streaming Body with a nil length hint, or a reader Body
// constructed with length -1, reports unknown.
func (b *Body) ContentLength() (int64, bool) {
	if b == nil {
		return 0, true
	}
	switch b.kind {
	case KindBytes:
		return int64(len(b.bytesVal)), true
	case KindStream:
		if b.streamLen != nil {
			return *b.streamLen, true
		}
		return 0, false
	case KindReader:
		if b.readerLen >= 0 {
			return b.readerLen, true
		}
		return 0, false
	}
	return 0, false
}

// IsEmpty reports whether the body is known to carry zero bytes.
func (b *Body) IsEmpty() bool {
	if b == nil {
		return true
	}
	n, ok := b.ContentLength()
	return ok && n == 0
}

// Reader returns an io.Reader that consumes the Body exactly once. For
// KindStream this adapts the pull-based chunk sequence (spec.md DESIGN
// NOTES: "model as pull-based finite sequences that yield at most one
// chunk per suspension") into io.Reader semantics for transports that want
// a plain Reader.
func (b *Body) Reader() io.Reader {
	if b == nil {
		return bytes.NewReader(nil)
	}
	switch b.kind {
	case KindBytes:
		return bytes.NewReader(b.bytesVal)
	case KindReader:
		return b.reader
	case KindStream:
		return &streamReader{next: b.streamNext}
	}
	return bytes.NewReader(nil)
}

// streamReader adapts a pull-based chunk function to io.Reader.
type streamReader struct {
	next    func() (Chunk, bool)
	pending []byte
	done    bool
}

func (s *streamReader) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if s.done {
			return 0, io.EOF
		}
		chunk, ok := s.next()
		if chunk.Err != nil {
			s.done = true
			return 0, chunk.Err
		}
		if !ok {
			s.done = true
			return 0, io.EOF
		}
		s.pending = chunk.Data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}
