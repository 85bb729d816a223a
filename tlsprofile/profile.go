// Package tlsprofile bundles the three correlated low-level wire signals a
// connector presents to a peer: the TLS ClientHello shape, the HTTP/2
// SETTINGS frame values, and a default header template (name, casing, and
// order). Bundling them keeps the signals internally consistent, the way
// spec.md §4.3's connector states describe a single coherent byte stream
// per destination.
//
// Generalized from the teacher's fingerprint.Profile (fingerprint/
// fingerprint.go), which bundled TLSConfig/UserAgent/ExtraHeaders for a
// stdlib *tls.Config; here the TLS half is replaced with a uTLS
// ClientHelloID (github.com/refraction-networking/utls) so the connector can
// reuse client/tls_dialer.go's handshake technique, and the header half is
// replaced with internal/header.Map so ordering survives past a plain
// map[string]string.
package tlsprofile

import (
	utls "github.com/refraction-networking/utls"

	"github.com/ridgeway-labs/httpcore/internal/header"
)

// H2Settings are the HTTP/2 SETTINGS-frame values a connector advertises for
// this profile, mirroring the teacher's client/h2_transport.go constants.
type H2Settings struct {
	HeaderTableSize  uint32
	InitialWindow    int32
	ConnWindow       int32
	MaxHeaderListLen uint32
}

// Profile bundles a TLS ClientHello identity, HTTP/2 tuning, and a default
// ordered-header template for one destination fingerprint.
type Profile struct {
	// HelloID selects the uTLS parrot ClientHelloSpec the connector's TLS
	// dialer applies (connector.Dialer, grounded on client/tls_dialer.go).
	HelloID utls.ClientHelloID

	H2 H2Settings

	// UserAgent is written into the template's User-Agent entry, and is
	// also the value the Client defaults a request's User-Agent to when it
	// was built with this profile (spec.md §6:
	// "user_agent ... default is <pkg>/<version>", overridden here when a
	// profile is attached).
	UserAgent string

	// Headers is the ordered default-header template applied before a
	// request's own headers, so caller overrides win (spec.md §4.2 step 1
	// semantics, matching chrome120RoundTripper.RoundTrip's
	// "defaults first, then caller headers" merge in
	// client/h2_transport.go).
	Headers *header.Map
}

// Chrome120 mirrors a Windows Chrome 120 client: uTLS's Chrome_120 parrot,
// Chrome's captured SETTINGS values (client/h2_transport.go), and the header
// order/casing of client/ordered_header.go's ChromeOrderedHeaders.
func Chrome120() *Profile {
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	h := header.New()
	h.Add("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Add("sec-ch-ua-mobile", "?0")
	h.Add("sec-ch-ua-platform", `"Windows"`)
	h.Add("Upgrade-Insecure-Requests", "1")
	h.Add("User-Agent", ua)
	h.Add("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Add("sec-fetch-site", "none")
	h.Add("sec-fetch-mode", "navigate")
	h.Add("sec-fetch-user", "?1")
	h.Add("sec-fetch-dest", "document")
	h.Add("accept-language", "en-US,en;q=0.9")

	return &Profile{
		HelloID: utls.HelloChrome_120,
		H2: H2Settings{
			HeaderTableSize:  65536,
			InitialWindow:    6291456,
			ConnWindow:       15663105,
			MaxHeaderListLen: 262144,
		},
		UserAgent: ua,
		Headers:   h,
	}
}

// Chrome131 is Chrome120 with the uTLS Chrome_131 parrot and an updated
// User-Agent/sec-ch-ua version; the H2 SETTINGS and header order are carried
// over from Chrome120 since Chrome's values have been stable across these
// releases.
func Chrome131() *Profile {
	p := Chrome120()
	p.HelloID = utls.HelloChrome_131
	p.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	p.Headers.Set("User-Agent", p.UserAgent)
	p.Headers.Set("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="131", "Google Chrome";v="131"`)
	return p
}

// Firefox121 mirrors a Windows Firefox 121 client, generalized from the
// teacher's fingerprint.FirefoxProfile headers and uTLS's Firefox parrot.
// Firefox does not negotiate HTTP/2 SETTINGS the way Chrome's captured
// values do, so H2 uses net/http2's library defaults (zero value).
func Firefox121() *Profile {
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0"
	h := header.New()
	h.Add("User-Agent", ua)
	h.Add("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Add("Accept-Language", "en-US,en;q=0.5")
	h.Add("Upgrade-Insecure-Requests", "1")
	h.Add("Sec-Fetch-Dest", "document")
	h.Add("Sec-Fetch-Mode", "navigate")
	h.Add("Sec-Fetch-Site", "none")
	h.Add("Sec-Fetch-User", "?1")

	return &Profile{
		HelloID:   utls.HelloFirefox_120,
		UserAgent: ua,
		Headers:   h,
	}
}

// ApplyHeaders returns a Map combining the profile's defaults with req,
// where entries already set in req take precedence (req's values win on a
// per-key basis), matching client/h2_transport.go's chrome120RoundTripper
// merge order ("defaults first, then caller headers").
func (p *Profile) ApplyHeaders(req *header.Map) *header.Map {
	if p == nil || p.Headers == nil {
		return req
	}
	out := header.New()
	p.Headers.Range(func(key, value string, sensitive bool) {
		if !req.Has(key) {
			out.AddSensitive(key, value, sensitive)
		}
	})
	req.Range(func(key, value string, sensitive bool) {
		out.AddSensitive(key, value, sensitive)
	})
	return out
}
