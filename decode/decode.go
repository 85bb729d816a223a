// Package decode implements content-encoding sniffing and streaming
// decompression over a response body, per spec.md §4.4.
//
// Decoders are lazy: construction only inspects headers; the underlying
// compression engine (gzip/brotli/zstd/flate) is instantiated on first read,
// so an empty body never pays for engine setup (spec.md §4.4, "Decoders are
// lazy").
package decode

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/ridgeway-labs/httpcore/httperr"
)

// Encoding names a supported content-encoding token.
type Encoding string

const (
	Identity Encoding = ""
	Gzip     Encoding = "gzip"
	Brotli   Encoding = "br"
	Zstd     Encoding = "zstd"
	Deflate  Encoding = "deflate"
)

// Bitset is the set of encodings a Client is willing to advertise/decode,
// per spec.md §6 ("gzip/brotli/zstd/deflate: bool").
type Bitset struct {
	Gzip, Brotli, Zstd, Deflate bool
}

// AcceptEncodingHeader renders the bitset's canonical token list, e.g.
// "gzip, br, zstd, deflate" (spec.md §4.2 step 3). Order matches the
// enumeration order of spec.md §6.
func (b Bitset) AcceptEncodingHeader() string {
	var toks []string
	if b.Gzip {
		toks = append(toks, "gzip")
	}
	if b.Brotli {
		toks = append(toks, "br")
	}
	if b.Zstd {
		toks = append(toks, "zstd")
	}
	if b.Deflate {
		toks = append(toks, "deflate")
	}
	out := ""
	for i, t := range toks {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}

// allows reports whether the bitset permits decoding enc.
func (b Bitset) allows(enc Encoding) bool {
	switch enc {
	case Gzip:
		return b.Gzip
	case Brotli:
		return b.Brotli
	case Zstd:
		return b.Zstd
	case Deflate:
		return b.Deflate
	}
	return false
}

// Headers is the minimal header surface the decoder needs to inspect and
// mutate; httpcore's executor adapts internal/header.Map to this.
type Headers interface {
	Get(key string) string
	Del(key string)
}

// Select inspects Content-Encoding / Transfer-Encoding and, if a known
// encoding is named and Content-Length isn't "0", returns the Encoding to
// use and removes Content-Encoding/Content-Length from hdrs (their decoded
// length is unknown), per spec.md §4.4. Otherwise returns Identity and
// leaves headers untouched.
func Select(hdrs Headers, bitset Bitset) Encoding {
	enc := Encoding(hdrs.Get("Content-Encoding"))
	if enc == "" {
		enc = Encoding(hdrs.Get("Transfer-Encoding"))
	}
	if enc == "" || !bitset.allows(enc) {
		return Identity
	}
	if hdrs.Get("Content-Length") == "0" {
		return Identity
	}
	hdrs.Del("Content-Encoding")
	hdrs.Del("Content-Length")
	return enc
}

// Frame is one unit emitted by the underlying body producer. Non-data
// frames (e.g. trailers) carry Data == nil and are skipped by the decoder
// without being fed to the decompressor (spec.md §4.4).
type Frame struct {
	Data  []byte
	Err   error
	Final bool // true on the terminating (no-data) frame
}

// Source is a peekable, finite byte-frame producer: Peek inspects (without
// consuming) whether at least one frame exists, letting the decoder stay
// lazy; Next consumes the next frame.
type Source interface {
	Peek() (hasFrame bool, err error)
	Next() (Frame, error)
}

// sourceReader adapts a Source into io.Reader, skipping non-data frames.
type sourceReader struct {
	src     Source
	pending []byte
	done    bool
}

func newSourceReader(src Source) *sourceReader { return &sourceReader{src: src} }

func (r *sourceReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.done {
			return 0, io.EOF
		}
		f, err := r.src.Next()
		if err != nil {
			r.done = true
			return 0, err
		}
		if f.Final {
			r.done = true
			return 0, io.EOF
		}
		if len(f.Data) == 0 {
			continue // non-data frame (trailer): skip
		}
		r.pending = f.Data
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Decoder wraps a raw response-body Source with the content-encoding
// appropriate to enc, instantiated lazily on first Read.
type Decoder struct {
	enc    Encoding
	raw    *sourceReader
	inited bool
	rdr    io.Reader
}

// New builds a Decoder for enc over src. If the source has no frames at
// all, the decoder collapses to passthrough regardless of enc (spec.md
// §4.4, "an empty source collapses to the passthrough form").
func New(enc Encoding, src Source) (*Decoder, error) {
	has, err := src.Peek()
	if err != nil {
		return nil, httperr.Wrap(httperr.Decode, "peek response body", err)
	}
	d := &Decoder{enc: enc, raw: newSourceReader(src)}
	if !has {
		d.enc = Identity
	}
	return d, nil
}

func (d *Decoder) init() error {
	if d.inited {
		return nil
	}
	d.inited = true
	switch d.enc {
	case Gzip:
		gz, err := gzip.NewReader(bufio.NewReader(d.raw))
		if err != nil {
			return httperr.Wrap(httperr.Decode, "init gzip decoder", err)
		}
		d.rdr = gz
	case Brotli:
		d.rdr = brotli.NewReader(d.raw)
	case Zstd:
		// zstd.NewReader handles multiple concatenated frames (valid zstd)
		// as one logical stream transparently (spec.md §4.4).
		zr, err := zstd.NewReader(d.raw)
		if err != nil {
			return httperr.Wrap(httperr.Decode, "init zstd decoder", err)
		}
		d.rdr = zr
	case Deflate:
		d.rdr = flate.NewReader(d.raw)
	default:
		d.rdr = d.raw
	}
	return nil
}

// Read implements io.Reader, lazily starting the compression engine on
// first call.
func (d *Decoder) Read(p []byte) (int, error) {
	if err := d.init(); err != nil {
		return 0, err
	}
	n, err := d.rdr.Read(p)
	if err != nil && err != io.EOF {
		return n, httperr.Wrap(httperr.Decode, "decode response body", err)
	}
	return n, err
}

// Close releases any decoder-owned resources (zstd allocates a
// background-cleanup finalizer; gzip/brotli/flate readers are plain).
func (d *Decoder) Close() error {
	if zr, ok := d.rdr.(*zstd.Decoder); ok {
		zr.Close()
	}
	if c, ok := d.rdr.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
