// Package connector implements spec.md §4.3: turning a destination URL (plus
// an optional proxy rule) into an owned, authenticated byte stream, covering
// all five connect states (direct plain, direct TLS, HTTP-proxy to a plain
// destination, HTTP-proxy CONNECT-tunneled TLS, and SOCKS5(h)).
//
// The direct-TLS and HTTP-proxy-tunnel-TLS states reuse the teacher's
// uTLS-based handshake technique nearly verbatim (see dialer.go, grounded on
// client/tls_dialer.go); the HTTP/2 dispatch path reuses
// client/h2_transport.go's SETTINGS tuning (see h2.go) generalized from a
// hardcoded Chrome-120 profile to any tlsprofile.Profile. The CONNECT
// preamble (tunnel.go) follows spec.md §6's bit-exact wire format, and
// SOCKS5(h) (socks.go) is new, built on golang.org/x/net/proxy per spec.md
// state 5.
package connector

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/proxy"
	"github.com/ridgeway-labs/httpcore/tlsprofile"
)

// Meta describes the connection a Connect call produced, surfaced to the
// executor as response metadata (spec.md §4.3: "an owned bidirectional byte
// stream plus metadata (peer address, negotiated ALPN)").
type Meta struct {
	PeerAddr string
	ALPN     string
}

// Conn pairs a live net.Conn with its Meta.
type Conn struct {
	net.Conn
	Meta Meta
}

// Options configures one Connect call.
type Options struct {
	// Profile supplies the TLS ClientHello identity and HTTP/2 SETTINGS for
	// any TLS state. A nil Profile falls back to the stdlib crypto/tls
	// handshake with no uTLS impersonation.
	Profile *tlsprofile.Profile

	// TCPNoDelay disables Nagle's algorithm on the raw TCP connection
	// (spec.md §4.3 state 1).
	TCPNoDelay bool

	// HTTP2Only forces ALPN to offer only "h2" instead of "h2,http/1.1"
	// (spec.md §6 http2_only).
	HTTP2Only bool

	// ConnectTimeout bounds the whole Connect call; zero means no timeout
	// beyond ctx's own deadline (spec.md §4.3: "race the whole connect
	// future against a timer").
	ConnectTimeout time.Duration

	// LocalAddr, if set, is used as net.Dialer.LocalAddr (spec.md §6
	// local_address).
	LocalAddr net.Addr

	// UserAgent is sent in the CONNECT tunnel preamble (spec.md §6).
	UserAgent string

	// InsecureSkipVerify disables server certificate verification
	// (spec.md §6 danger_accept_invalid_certs).
	InsecureSkipVerify bool

	// SkipHostnameVerify disables hostname matching only, while still
	// verifying the certificate chain against RootCAs (spec.md §6
	// danger_accept_invalid_hostnames). Ignored when InsecureSkipVerify is
	// already set, since that disables chain verification too.
	SkipHostnameVerify bool

	// RootCAs is the trusted root pool for certificate verification. nil
	// means "use the platform default" (spec.md §6 use_default_tls), the
	// same as leaving tls.Config.RootCAs unset.
	RootCAs *x509.CertPool
}

// Connect produces a Conn to target, optionally via proxyScheme, per
// spec.md §4.3's five states. tlsDest selects plain (false) vs. TLS (true)
// to host:port; the presence and kind of proxyScheme selects direct vs.
// HTTP-proxy vs. SOCKS5(h).
func Connect(ctx context.Context, host string, port string, tlsDest bool, proxyScheme *proxy.Scheme, opts Options) (*Conn, error) {
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	type result struct {
		conn *Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := connect(ctx, host, port, tlsDest, proxyScheme, opts)
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return nil, httperr.Wrap(httperr.Timeout, "connect "+net.JoinHostPort(host, port), ctx.Err())
	case r := <-ch:
		return r.conn, r.err
	}
}

func connect(ctx context.Context, host, port string, tlsDest bool, proxyScheme *proxy.Scheme, opts Options) (*Conn, error) {
	if proxyScheme == nil {
		if tlsDest {
			return connectDirectTLS(ctx, host, port, opts)
		}
		return connectDirectPlain(ctx, host, port, opts)
	}

	switch proxyScheme.Kind {
	case proxy.SchemeSocks5:
		return connectSocks5(ctx, host, port, tlsDest, *proxyScheme, opts)
	case proxy.SchemeHTTP, proxy.SchemeHTTPS:
		if tlsDest {
			return connectProxyTunnelTLS(ctx, host, port, *proxyScheme, opts)
		}
		return connectProxyPlain(ctx, host, port, *proxyScheme, opts)
	default:
		return nil, httperr.New(httperr.Connect, "unsupported proxy scheme kind")
	}
}

// connectDirectPlain is spec.md §4.3 state 1.
func connectDirectPlain(ctx context.Context, host, port string, opts Options) (*Conn, error) {
	if port == "" {
		port = "80"
	}
	d := &net.Dialer{LocalAddr: opts.LocalAddr}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, httperr.Wrap(httperr.Connect, "dial "+host, err)
	}
	applyNoDelay(conn, opts.TCPNoDelay)
	return &Conn{Conn: conn, Meta: Meta{PeerAddr: conn.RemoteAddr().String()}}, nil
}

// connectDirectTLS is spec.md §4.3 state 2.
func connectDirectTLS(ctx context.Context, host, port string, opts Options) (*Conn, error) {
	if port == "" {
		port = "443"
	}
	addr := net.JoinHostPort(host, port)
	conn, err := tlsHandshake(ctx, addr, host, opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// connectProxyPlain is spec.md §4.3 state 3: a raw TCP stream to the proxy;
// the executor writes the absolute-form HTTP request over it directly.
func connectProxyPlain(ctx context.Context, host, port string, scheme proxy.Scheme, opts Options) (*Conn, error) {
	d := &net.Dialer{LocalAddr: opts.LocalAddr}
	conn, err := d.DialContext(ctx, "tcp", scheme.URL.Host)
	if err != nil {
		return nil, httperr.Wrap(httperr.Connect, "dial proxy "+scheme.URL.Host, err)
	}
	applyNoDelay(conn, opts.TCPNoDelay)
	return &Conn{Conn: conn, Meta: Meta{PeerAddr: conn.RemoteAddr().String()}}, nil
}

// connectProxyTunnelTLS is spec.md §4.3 state 4: CONNECT tunnel, then TLS
// over the tunneled stream.
func connectProxyTunnelTLS(ctx context.Context, host, port string, scheme proxy.Scheme, opts Options) (*Conn, error) {
	if port == "" {
		port = "443"
	}
	d := &net.Dialer{LocalAddr: opts.LocalAddr}
	raw, err := d.DialContext(ctx, "tcp", scheme.URL.Host)
	if err != nil {
		return nil, httperr.Wrap(httperr.Connect, "dial proxy "+scheme.URL.Host, err)
	}
	if err := tunnel(raw, host, port, scheme, opts.UserAgent); err != nil {
		_ = raw.Close()
		return nil, err
	}
	tlsConn, alpn, err := wrapTLS(ctx, raw, host, opts)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Conn{Conn: tlsConn, Meta: Meta{PeerAddr: raw.RemoteAddr().String(), ALPN: alpn}}, nil
}

// verifyChainIgnoringHostname builds a tls.Config.VerifyConnection callback
// that performs the same chain/expiry verification crypto/tls would run by
// default, skipping only the hostname match (spec.md §6
// danger_accept_invalid_hostnames). This is the documented pattern for
// partial verification under InsecureSkipVerify: true (see
// crypto/tls.Config.VerifyConnection).
func verifyChainIgnoringHostname(roots *x509.CertPool) func(tls.ConnectionState) error {
	return func(cs tls.ConnectionState) error {
		opts := x509.VerifyOptions{
			Roots:         roots,
			Intermediates: x509.NewCertPool(),
		}
		for _, cert := range cs.PeerCertificates[1:] {
			opts.Intermediates.AddCert(cert)
		}
		_, err := cs.PeerCertificates[0].Verify(opts)
		return err
	}
}

func applyNoDelay(conn net.Conn, enable bool) {
	if !enable {
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
}

// tlsHandshake dials addr and performs a TLS handshake using opts.Profile's
// uTLS identity when set, falling back to stdlib crypto/tls otherwise.
func tlsHandshake(ctx context.Context, addr, sni string, opts Options) (*Conn, error) {
	d := &net.Dialer{LocalAddr: opts.LocalAddr}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, httperr.Wrap(httperr.Connect, "dial "+addr, err)
	}
	applyNoDelay(raw, opts.TCPNoDelay)
	tlsConn, alpn, err := wrapTLS(ctx, raw, sni, opts)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Conn{Conn: tlsConn, Meta: Meta{PeerAddr: raw.RemoteAddr().String(), ALPN: alpn}}, nil
}

// alpnProtocols returns the ALPN offer list for a handshake, honoring
// spec.md §6's http2_only.
func alpnProtocols(http2Only bool) []string {
	if http2Only {
		return []string{"h2"}
	}
	return []string{"h2", "http/1.1"}
}

// wrapTLS performs the TLS handshake over an already-connected raw. When
// opts.Profile is set it uses uTLS to impersonate the profile's ClientHello
// (dialer.go's technique, grounded on client/tls_dialer.go); otherwise it
// falls back to the stdlib crypto/tls handshake. Returns the negotiated
// ALPN protocol.
func wrapTLS(ctx context.Context, raw net.Conn, sni string, opts Options) (net.Conn, string, error) {
	alpnProtos := alpnProtocols(opts.HTTP2Only)

	// skipHostname only takes effect when the chain itself is still being
	// verified; danger_accept_invalid_certs already skips everything.
	skipHostname := opts.SkipHostnameVerify && !opts.InsecureSkipVerify

	if opts.Profile == nil {
		cfg := &tls.Config{
			ServerName:         sni,
			InsecureSkipVerify: opts.InsecureSkipVerify, // #nosec G402 -- caller-controlled (spec.md §6 danger_accept_invalid_certs)
			NextProtos:         alpnProtos,
			RootCAs:            opts.RootCAs,
		}
		if skipHostname {
			cfg.InsecureSkipVerify = true
			cfg.VerifyConnection = verifyChainIgnoringHostname(opts.RootCAs)
		}
		conn := tls.Client(raw, cfg)
		if err := conn.HandshakeContext(ctx); err != nil {
			return nil, "", httperr.Wrap(httperr.Connect, fmt.Sprintf("TLS handshake with %s", sni), err)
		}
		return conn, conn.ConnectionState().NegotiatedProtocol, nil
	}

	helloID := opts.Profile.HelloID
	uCfg := &utls.Config{
		ServerName:         sni,
		InsecureSkipVerify: opts.InsecureSkipVerify, // #nosec G402 -- caller-controlled (spec.md §6 danger_accept_invalid_certs)
		NextProtos:         alpnProtos,
		RootCAs:            opts.RootCAs,
	}
	if skipHostname {
		uCfg.InsecureSkipVerify = true
		uCfg.VerifyConnection = verifyChainIgnoringHostname(opts.RootCAs)
	}
	uConn := utls.UClient(raw, uCfg, helloID)
	spec := buildClientHelloSpec(helloID, alpnProtos)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, "", httperr.Wrap(httperr.Connect, "apply TLS client hello for "+helloID.Str(), err)
	}
	if err := uConn.HandshakeContext(ctx); err != nil {
		return nil, "", httperr.Wrap(httperr.Connect, "TLS handshake with "+sni, err)
	}
	state := uConn.ConnectionState()
	return uConn, state.NegotiatedProtocol, nil
}
