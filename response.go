package httpcore

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ridgeway-labs/httpcore/decode"
	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/internal/header"
)

// Response is the value Execute returns: a decoded, already-finalized
// response whose body streams lazily through any content-decoder selected
// for it (spec.md §4.4).
type Response struct {
	StatusCode int
	URL        *url.URL
	Headers    *header.Map

	body   *decode.Decoder
	closer io.Closer
}

// newResponse wraps raw (the final hop's *http.Response, after any redirect
// chain) with a decode.Decoder selected from its headers, per spec.md §4.2
// step 8. perReadTimeout arms the rolling per-frame deadline of spec.md
// §4.2.2 ("a rolling timer reset on every received frame") around the raw
// body, ahead of decompression; <= 0 disables it.
func newResponse(raw *http.Response, u *url.URL, bitset decode.Bitset, perReadTimeout time.Duration) (*Response, error) {
	hdrs := header.FromHTTPHeader(raw.Header)
	enc := decode.Select(respHeaderAdapter{hdrs}, bitset)

	body := io.ReadCloser(raw.Body)
	if perReadTimeout > 0 {
		body = &stallGuardReader{r: raw.Body, closer: raw.Body, timeout: perReadTimeout}
	}

	src := decode.FromReader(body)
	dec, err := decode.New(enc, src)
	if err != nil {
		_ = raw.Body.Close()
		return nil, err
	}

	return &Response{
		StatusCode: raw.StatusCode,
		URL:        u,
		Headers:    hdrs,
		body:       dec,
		closer:     raw.Body,
	}, nil
}

// stallGuardReader implements spec.md §4.2.2's per-read timeout: every Read
// arms a fresh timer for `timeout`; if no frame arrives before it fires, the
// timer closes the underlying connection, which unblocks the stalled Read
// with an error that is translated to httperr.Timeout. A frame arriving in
// time just disarms the timer, so the deadline rolls forward one frame at a
// time rather than bounding the whole body.
type stallGuardReader struct {
	r       io.Reader
	closer  io.Closer
	timeout time.Duration
}

func (s *stallGuardReader) Read(p []byte) (int, error) {
	timer := time.AfterFunc(s.timeout, func() { _ = s.closer.Close() })
	n, err := s.r.Read(p)
	if !timer.Stop() && err != nil {
		return n, httperr.Wrap(httperr.Timeout, "per-read timeout exceeded", err)
	}
	return n, err
}

func (s *stallGuardReader) Close() error { return s.closer.Close() }

// respHeaderAdapter adapts a *header.Map to decode.Headers.
type respHeaderAdapter struct{ m *header.Map }

func (a respHeaderAdapter) Get(key string) string { return a.m.Get(key) }
func (a respHeaderAdapter) Del(key string)        { a.m.Del(key) }

// Bytes reads the entire (decoded) response body into memory.
func (r *Response) Bytes() ([]byte, error) {
	defer r.Close() //nolint:errcheck
	b, err := io.ReadAll(r.body)
	if err != nil {
		return nil, httperr.Wrap(httperr.Decode, "read response body", err).WithURL(r.URL)
	}
	return b, nil
}

// Text is Bytes, converted to a string.
func (r *Response) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON decodes the (decoded) response body as JSON into v.
func (r *Response) JSON(v any) error {
	defer r.Close() //nolint:errcheck
	if err := json.NewDecoder(r.body).Decode(v); err != nil {
		return httperr.Wrap(httperr.Decode, "decode response body as JSON", err).WithURL(r.URL)
	}
	return nil
}

// Body returns the decoded response body as a streaming io.ReadCloser, for
// callers that want to avoid buffering it entirely.
func (r *Response) Body() io.ReadCloser { return r }

// Read implements io.Reader over the decoded body.
func (r *Response) Read(p []byte) (int, error) { return r.body.Read(p) }

// Close releases the decoder and the underlying connection.
func (r *Response) Close() error {
	_ = r.body.Close()
	return r.closer.Close()
}

// ErrorForStatus returns an httperr.Status error if StatusCode is >= 400,
// else nil, matching the opt-in error_for_status helper spec.md §4.2
// describes.
func (r *Response) ErrorForStatus() error {
	if r.StatusCode < 400 {
		return nil
	}
	return httperr.New(httperr.Status, "http status "+http.StatusText(r.StatusCode)).WithStatus(r.StatusCode).WithURL(r.URL)
}
