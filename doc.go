// Package httpcore is the root package of the HTTP client execution core:
// it owns the Client/Executor described in spec.md §4.2, wiring together
// request.Builder, connector, proxy, redirect, retry, cookiejar, decode,
// and multipart into one pipeline.
//
// Grounded on the teacher's client/client.go (NewHTTPClient: custom
// Transport, per-session cookie jar, CheckRedirect left to the caller)
// generalized from a single fixed *http.Client into a pluggable pipeline:
// the connector (not http.Transport's own dialer) owns connection
// establishment so proxy/TLS-fingerprint states are exercised on every
// call, and CheckRedirect's job is done explicitly by the Execute loop so
// each hop can re-run cookie injection, sensitive-header stripping, and the
// configured redirect.Policy.
package httpcore
