// h2.go builds the HTTP/2 dispatch path: an http.RoundTripper whose SETTINGS
// frame values and ordered headers come from a tlsprofile.Profile instead of
// a single hardcoded Chrome identity.
//
// Directly descended from client/h2_transport.go's NewChrome120H2Transport /
// chrome120RoundTripper, generalized so H2TransportConfig.HelloID and the
// SETTINGS constants are read from the Profile argument rather than being
// Chrome-120 constants, and so the header-merge step delegates to
// tlsprofile.Profile.ApplyHeaders instead of a standalone
// ChromeOrderedHeaders() call.
package connector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/ridgeway-labs/httpcore/internal/header"
	"github.com/ridgeway-labs/httpcore/tlsprofile"
)

// H2Config groups the tunables for NewH2Transport.
type H2Config struct {
	Profile            *tlsprofile.Profile
	IdleConnTimeout    time.Duration
	PingTimeout        time.Duration
	ReadIdleTimeout    time.Duration
	TCPNoDelay         bool
	InsecureSkipVerify bool
	SkipHostnameVerify bool
	RootCAs            *x509.CertPool
}

// NewH2Transport returns an http.RoundTripper that dials with cfg.Profile's
// uTLS ClientHello identity, tunes the HTTP/2 connection to cfg.Profile's
// captured SETTINGS values, and overlays cfg.Profile's default headers
// (caller headers win) on every outgoing request.
func NewH2Transport(cfg H2Config) http.RoundTripper {
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	opts := Options{
		Profile:            cfg.Profile,
		TCPNoDelay:         cfg.TCPNoDelay,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		SkipHostnameVerify: cfg.SkipHostnameVerify,
		RootCAs:            cfg.RootCAs,
	}

	h2t := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			raw, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			applyNoDelay(raw, opts.TCPNoDelay)
			conn, _, err := wrapTLS(ctx, raw, host, opts)
			if err != nil {
				_ = raw.Close()
				return nil, err
			}
			return conn, nil
		},
		DisableCompression: false,
		IdleConnTimeout:    cfg.IdleConnTimeout,
		PingTimeout:        cfg.PingTimeout,
		ReadIdleTimeout:    cfg.ReadIdleTimeout,
	}

	if cfg.Profile != nil {
		h2t.MaxDecoderHeaderTableSize = cfg.Profile.H2.HeaderTableSize
		h2t.MaxEncoderHeaderTableSize = cfg.Profile.H2.HeaderTableSize
		h2t.MaxHeaderListSize = cfg.Profile.H2.MaxHeaderListLen
	}

	return &profileRoundTripper{h2: h2t, profile: cfg.Profile}
}

// profileRoundTripper overlays the profile's default headers onto every
// request before delegating to the underlying http2.Transport, mirroring
// chrome120RoundTripper.RoundTrip's "defaults first, caller headers win"
// merge.
type profileRoundTripper struct {
	h2      *http2.Transport
	profile *tlsprofile.Profile
}

func (t *profileRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.profile == nil {
		return t.h2.RoundTrip(req)
	}

	r := req.Clone(req.Context())
	reqHeaders := header.FromHTTPHeader(r.Header)
	merged := t.profile.ApplyHeaders(reqHeaders)
	merged.ApplyToRequest(r)

	return t.h2.RoundTrip(r)
}
