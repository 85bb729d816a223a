// Package request implements the Request value and its fluent Builder, per
// spec.md §3 and §4.1. Construction errors are deferred: a Builder carries
// either a valid accumulated Request or the first error encountered, and
// surfaces it only when Build/clients call Build() (spec.md §4.1,
// "Errors during construction are deferred").
package request

import (
	"encoding/base64"
	"net/url"
	"time"

	"github.com/ridgeway-labs/httpcore/body"
	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/internal/header"
)

// Method is an HTTP method: one of the standard verbs, or an opaque
// extension value.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
	MethodConnect Method = "CONNECT"
)

// Version pins the HTTP version a request should be dispatched over.
type Version int

const (
	// VersionAuto lets the connector negotiate (ALPN h2,http/1.1).
	VersionAuto Version = iota
	VersionHTTP1
	VersionHTTP2
)

// Request is the immutable-once-dispatched value produced by Builder.
// Builder mutates it prior to dispatch; the executor treats it as logically
// consumed by Execute (spec.md §3).
type Request struct {
	Method  Method
	URL     *url.URL
	Headers *header.Map
	Body    *body.Body
	Timeout time.Duration // 0 means "use client default"
	Version Version
	// CORSFlag marks a request as subject to CORS-style origin checks by
	// callers that embed httpcore in a browser-like context; the core
	// executor does not interpret it itself (spec.md §3).
	CORSFlag bool

	// Extensions carries opaque caller metadata preserved across clone and
	// redirect (spec.md §4.8: clone_request preserves "method, URL,
	// version, headers, extensions").
	Extensions map[string]any
}

// TryClone returns an independent Request usable for retry/redirect
// re-dispatch, or nil if the body cannot be cloned (spec.md §4.1, §4.8).
func (r *Request) TryClone() *Request {
	if r == nil {
		return nil
	}
	var clonedBody *body.Body
	if r.Body != nil {
		clonedBody = r.Body.TryClone()
		if clonedBody == nil {
			return nil
		}
	}
	u := *r.URL
	ext := make(map[string]any, len(r.Extensions))
	for k, v := range r.Extensions {
		ext[k] = v
	}
	return &Request{
		Method:     r.Method,
		URL:        &u,
		Headers:    r.Headers.Clone(),
		Body:       clonedBody,
		Timeout:    r.Timeout,
		Version:    r.Version,
		CORSFlag:   r.CORSFlag,
		Extensions: ext,
	}
}

// ExtractBasicAuth pulls userinfo out of r.URL into an Authorization header
// (marked sensitive) and clears it from the URL, per spec.md §3: "On
// dispatch, basic-auth is extracted from url userinfo into an Authorization
// header (sensitive) and removed from the URL."
func (r *Request) ExtractBasicAuth() {
	if r.URL == nil || r.URL.User == nil {
		return
	}
	user := r.URL.User.Username()
	pass, _ := r.URL.User.Password()
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	r.Headers.SetSensitive("Authorization", "Basic "+token, true)
	r.URL.User = nil
}

// Builder accumulates method/url/headers/body/timeout before Build
// surfaces a Request or the first construction error encountered.
type Builder struct {
	req *Request
	err error
}

// New starts a Builder for method and rawURL. A malformed rawURL is
// recorded as a Builder error rather than returned immediately, per the
// deferred-error contract.
func New(method Method, rawURL string) *Builder {
	u, err := url.Parse(rawURL)
	b := &Builder{req: &Request{
		Method:     method,
		Headers:    header.New(),
		Extensions: map[string]any{},
	}}
	if err != nil {
		b.err = httperr.Wrap(httperr.Builder, "parse request URL", err)
		return b
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		b.err = httperr.New(httperr.Builder, "unsupported URL scheme "+u.Scheme)
		return b
	}
	b.req.URL = u
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Header sets a single header value, replacing any existing values.
func (b *Builder) Header(key, value string) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Headers.Set(key, value)
	return b
}

// HeaderSensitive is Header but flags the value for redaction/stripping.
func (b *Builder) HeaderSensitive(key, value string) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Headers.SetSensitive(key, value, true)
	return b
}

// AddHeader appends a header value without removing existing ones.
func (b *Builder) AddHeader(key, value string) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Headers.Add(key, value)
	return b
}

// BasicAuth sets an Authorization: Basic header derived from user/pass,
// marked sensitive.
func (b *Builder) BasicAuth(user, pass string) *Builder {
	if b.err != nil {
		return b
	}
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return b.HeaderSensitive("Authorization", "Basic "+token)
}

// BearerAuth sets an Authorization: Bearer header, marked sensitive.
func (b *Builder) BearerAuth(token string) *Builder {
	if b.err != nil {
		return b
	}
	return b.HeaderSensitive("Authorization", "Bearer "+token)
}

// SetBody attaches an arbitrary Body.
func (b *Builder) SetBody(bd *body.Body) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Body = bd
	return b
}

// Timeout sets a per-request timeout overriding the client default.
func (b *Builder) Timeout(d time.Duration) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Timeout = d
	return b
}

// ForceVersion pins the HTTP version used for dispatch.
func (b *Builder) ForceVersion(v Version) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Version = v
	return b
}

// Query appends key=value (URL-encoded) to the request URL's query string.
// Keys may repeat.
func (b *Builder) Query(key, value string) *Builder {
	if b.err != nil {
		return b
	}
	q := b.req.URL.Query()
	q.Add(key, value)
	b.req.URL.RawQuery = q.Encode()
	return b
}

// Form sets a application/x-www-form-urlencoded body from the given pairs,
// encoded sorted by key (url.Values.Encode); later calls overwrite any
// previously set body.
func (b *Builder) Form(values url.Values) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Body = body.FromString(values.Encode())
	b.req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
	return b
}

// JSON sets an application/json body from raw bytes (already encoded by the
// caller; JSON encoding itself is out of scope per spec.md §1). Content-Type
// is only set if the request does not already specify one.
func (b *Builder) JSON(data []byte) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Body = body.FromBytes(data)
	if !b.req.Headers.Has("Content-Type") {
		b.req.Headers.Set("Content-Type", "application/json")
	}
	return b
}

// MultipartBody attaches a pre-assembled multipart body and sets
// Content-Type (with boundary). It does not set Content-Length; that is
// derived from bd's length at dispatch when known, otherwise the request is
// left to be sent chunked.
func (b *Builder) MultipartBody(bd *body.Body, boundary string) *Builder {
	if b.err != nil {
		return b
	}
	b.req.Body = bd
	b.req.Headers.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	return b
}

// TryClone succeeds iff the accumulated body (if any) is clonable; it
// returns a new Builder wrapping an independent Request, or nil.
func (b *Builder) TryClone() *Builder {
	if b.err != nil {
		return nil
	}
	cloned := b.req.TryClone()
	if cloned == nil && b.req.Body != nil {
		return nil
	}
	if cloned == nil {
		cloned = &Request{
			Method:     b.req.Method,
			URL:        cloneURL(b.req.URL),
			Headers:    b.req.Headers.Clone(),
			Timeout:    b.req.Timeout,
			Version:    b.req.Version,
			CORSFlag:   b.req.CORSFlag,
			Extensions: map[string]any{},
		}
	}
	return &Builder{req: cloned}
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// Build surfaces the first construction error, if any, else the assembled
// Request.
func (b *Builder) Build() (*Request, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.req, nil
}
