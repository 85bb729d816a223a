// Package multipart assembles multipart/form-data bodies: boundary
// generation, per-field header encoding, and streaming assembly, per
// spec.md §4.6.
//
// The streaming-assembly strategy (chain one field's header+body into the
// next, emitting only as much as the consumer reads) is grounded on
// original_source/src/multipart.rs's RequestReader, generalized from its
// ASCII-only field-name handling to the three percent-encoding modes
// spec.md §4.6 requires.
package multipart

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/ridgeway-labs/httpcore/body"
	"github.com/ridgeway-labs/httpcore/httperr"
)

// EncodingMode selects how a field's name (and filename) are encoded into
// the Content-Disposition header, per spec.md §4.6.
type EncodingMode int

const (
	// PathSegment percent-encodes using the URL path-segment set, emitting
	// name*=utf-8''<enc> when any byte needed encoding, else name="<raw>".
	PathSegment EncodingMode = iota
	// AttrChar applies RFC 8187 attr-char encoding unconditionally.
	AttrChar
	// NoOp emits the name/filename raw, with no percent-encoding.
	NoOp
)

// Part is one field of a Form.
type Part struct {
	Name     string
	Body     *body.Body
	Mime     string
	FileName string
	// ExtraHeaders are appended, in order, after Content-Type.
	ExtraHeaders [][2]string
}

// Form is an ordered list of Parts sharing one random boundary, immutable
// after construction (spec.md §3: "boundary is a random token unlikely to
// appear in payloads").
type Form struct {
	boundary string
	fields   []Part
	mode     EncodingMode
}

// NewForm generates a fresh 64-hex-digit boundary and returns an empty Form
// using mode for field-name encoding.
//
// A 32-byte crypto/rand token, hex-encoded, is used rather than
// github.com/google/uuid (available in the retrieved pack) because a UUID
// yields only 32 hex digits once its dashes are stripped, short of the
// 64-hex-digit boundary spec.md §4.6 calls for; see DESIGN.md.
func NewForm(mode EncodingMode) (*Form, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, httperr.Wrap(httperr.Builder, "generate multipart boundary", err)
	}
	return &Form{boundary: hex.EncodeToString(buf), mode: mode}, nil
}

// WithBoundary is a test/interop hook for constructing a Form with a fixed
// boundary (spec.md §8 scenario 5 requires exact byte-for-byte output for a
// known boundary).
func WithBoundary(boundary string, mode EncodingMode) *Form {
	return &Form{boundary: boundary, mode: mode}
}

// Boundary returns the form's boundary token.
func (f *Form) Boundary() string { return f.boundary }

// AddField appends a field to the form, in order.
func (f *Form) AddField(p Part) { f.fields = append(f.fields, p) }

// Text is a convenience for AddField with a plain reusable-bytes body.
func (f *Form) Text(name, value string) {
	f.AddField(Part{Name: name, Body: body.FromString(value)})
}

// ComputeLength returns the exact serialized byte length and true, or
// (0, false) if any field's body length is unknown (spec.md §4.6, §8).
func (f *Form) ComputeLength() (int64, bool) {
	var total int64
	for _, p := range f.fields {
		n, ok := p.Body.ContentLength()
		if !ok {
			return 0, false
		}
		hdr := fieldHeader(p, f.mode)
		// "--boundary\r\n" + header + "\r\n\r\n" + value + "\r\n"
		total += int64(2+len(f.boundary)+2) + int64(len(hdr)) + 4 + n + 2
	}
	total += int64(2 + len(f.boundary) + 4) // "--boundary--\r\n"
	return total, true
}

// fieldHeader renders the Content-Disposition (+ optional Content-Type and
// extra headers) block for a field, per spec.md §4.6 steps 2-4, without the
// leading/trailing CRLFs that frame it in the body.
func fieldHeader(p Part, mode EncodingMode) string {
	var sb strings.Builder
	sb.WriteString("Content-Disposition: form-data; name")
	enc := encodeName(p.Name, mode)
	if strings.HasPrefix(enc, "utf-8''") {
		sb.WriteByte('*')
	}
	sb.WriteByte('=')
	sb.WriteString(enc)
	if p.FileName != "" {
		sb.WriteString(`; filename="`)
		sb.WriteString(escapeFilename(p.FileName))
		sb.WriteByte('"')
	}
	if p.Mime != "" {
		sb.WriteString("\r\nContent-Type: ")
		sb.WriteString(p.Mime)
	}
	for _, kv := range p.ExtraHeaders {
		sb.WriteString("\r\n")
		sb.WriteString(kv[0])
		sb.WriteString(": ")
		sb.WriteString(kv[1])
	}
	return sb.String()
}

// escapeFilename backslash-escapes \, ", \r, \n per spec.md §4.6 step 2.
func escapeFilename(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch r {
		case '\\', '"':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case '\r':
			sb.WriteString(`\r`)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// encodeName renders a field name per the configured EncodingMode.
func encodeName(name string, mode EncodingMode) string {
	switch mode {
	case NoOp:
		return `"` + name + `"`
	case AttrChar:
		return "utf-8''" + percentEncodeAttrChar(name)
	default: // PathSegment
		enc, changed := percentEncodePathSegment(name)
		if !changed {
			return `"` + name + `"`
		}
		return "utf-8''" + enc
	}
}

// isPathSegmentSafe matches RFC 3986 pchar minus '/' and a conservative set of
// delimiters that commonly appear in field names, so ordinary ASCII names
// round-trip unencoded.
func isPathSegmentSafe(b byte) bool {
	if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') {
		return true
	}
	switch b {
	case '-', '.', '_', '~', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', ':', '@':
		return true
	}
	return false
}

func percentEncodePathSegment(s string) (string, bool) {
	changed := false
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isPathSegmentSafe(c) {
			sb.WriteByte(c)
			continue
		}
		changed = true
		fmt.Fprintf(&sb, "%%%02X", c)
	}
	return sb.String(), changed
}

// isAttrChar implements RFC 8187's attr-char set (ALPHA / DIGIT / a small
// punctuation set), encoding everything else.
func isAttrChar(b byte) bool {
	if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') {
		return true
	}
	switch b {
	case '!', '#', '$', '&', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

func percentEncodeAttrChar(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			sb.WriteByte(c)
			continue
		}
		fmt.Fprintf(&sb, "%%%02X", c)
	}
	return sb.String()
}

// Reader returns an io.Reader that streams the full multipart body,
// assembling "--boundary\r\n<header>\r\n\r\n<value>\r\n" per field followed
// by the "--boundary--\r\n" terminator, without buffering the whole body
// (spec.md §4.6, §1 "streaming assembly").
func (f *Form) Reader() io.Reader {
	return &formReader{form: f}
}

// Body returns the Form as a *body.Body: sized (KindReader with an exact
// length) if ComputeLength succeeds, otherwise a KindReader with unknown
// length (sent chunked per spec.md §4.6).
func (f *Form) Body() *body.Body {
	n, ok := f.ComputeLength()
	if ok {
		return body.FromReader(f.Reader(), n)
	}
	return body.FromReader(f.Reader(), -1)
}

type formReader struct {
	form   *Form
	idx    int
	active io.Reader
	done   bool
}

func (r *formReader) nextActive() io.Reader {
	if r.idx >= len(r.form.fields) {
		if r.done {
			return nil
		}
		r.done = true
		return strings.NewReader("--" + r.form.boundary + "--\r\n")
	}
	p := r.form.fields[r.idx]
	r.idx++
	head := "--" + r.form.boundary + "\r\n" + fieldHeader(p, r.form.mode) + "\r\n\r\n"
	tail := "\r\n"
	return io.MultiReader(strings.NewReader(head), p.Body.Reader(), strings.NewReader(tail))
}

func (r *formReader) Read(buf []byte) (int, error) {
	for {
		if r.active == nil {
			r.active = r.nextActive()
			if r.active == nil {
				return 0, io.EOF
			}
		}
		n, err := r.active.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			r.active = nil
			continue
		}
		if err != nil {
			return 0, httperr.Wrap(httperr.Body, "read multipart field", err)
		}
	}
}
