// socks.go implements SOCKS5(h) connect (spec.md §4.3 state 5), built on
// golang.org/x/net/proxy — already part of the teacher's dependency graph
// transitively via golang.org/x/net/http2 (client/h2_transport.go).
package connector

import (
	"context"
	"net"

	"golang.org/x/net/proxy"

	"github.com/ridgeway-labs/httpcore/httperr"
	proxyrule "github.com/ridgeway-labs/httpcore/proxy"
)

// connectSocks5 opens a SOCKS5(h) connection to host:port through the proxy
// described by scheme, then layers TLS atop the SOCKS stream if the
// destination is TLS (spec.md §4.3 state 5: "if destination is TLS, layer
// TLS atop the SOCKS stream").
func connectSocks5(ctx context.Context, host, port string, tlsDest bool, scheme proxyrule.Scheme, opts Options) (*Conn, error) {
	if port == "" {
		if tlsDest {
			port = "443"
		} else {
			port = "80"
		}
	}

	var auth *proxy.Auth
	if scheme.Auth != nil {
		auth = &proxy.Auth{User: scheme.Auth.User, Password: scheme.Auth.Pass}
	}

	// scheme.RemoteDNS selects socks5h (resolve at the proxy, so we dial by
	// hostname) vs socks5 (resolve locally first).
	dialHost := host
	if !scheme.RemoteDNS {
		resolved, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil || len(resolved) == 0 {
			return nil, httperr.Wrap(httperr.Connect, "resolve "+host+" for socks5", err)
		}
		dialHost = resolved[0]
	}

	dialer, err := proxy.SOCKS5("tcp", scheme.Addr, auth, proxy.Direct)
	if err != nil {
		return nil, httperr.Wrap(httperr.Connect, "build socks5 dialer", err)
	}

	target := net.JoinHostPort(dialHost, port)
	var raw net.Conn
	if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
		raw, err = ctxDialer.DialContext(ctx, "tcp", target)
	} else {
		raw, err = dialer.Dial("tcp", target)
	}
	if err != nil {
		return nil, httperr.Wrap(httperr.Connect, "socks5 connect to "+target, err)
	}

	if !tlsDest {
		applyNoDelay(raw, opts.TCPNoDelay)
		return &Conn{Conn: raw, Meta: Meta{PeerAddr: target}}, nil
	}

	tlsConn, alpn, err := wrapTLS(ctx, raw, host, opts)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Conn{Conn: tlsConn, Meta: Meta{PeerAddr: target, ALPN: alpn}}, nil
}
