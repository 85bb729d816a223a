package httpcore

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"

	"github.com/ridgeway-labs/httpcore/connector"
	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/proxy"
	"github.com/ridgeway-labs/httpcore/request"
)

// dispatch performs exactly one request/response exchange (spec.md §4.2
// step 6): no redirect following, no retry. Two paths are grounded on
// different parts of the pack:
//
//   - No proxy rule matches: reuse the pooled *http.Transport / http2
//     RoundTripper built by connector.NewH1Transport / NewH2Transport at
//     Client construction, the way client/client.go hands a built
//     Transport to http.Client and lets net/http own framing and
//     connection reuse (spec.md §1: "HTTP/1 and HTTP/2 ... framing engines
//     are consumed as a request-in/response-out service").
//   - A proxy rule matches: the pooled transports don't route through
//     connector.Connect's proxy/tunnel/SOCKS5 states, so dispatch instead
//     connects once via connector.Connect directly (exercising all five
//     states in connector.go) and speaks HTTP/1.1 or HTTP/2 over that single
//     connection without pooling (see DESIGN.md, "proxied dispatch has no
//     cross-request connection reuse").
func (c *Client) dispatch(ctx context.Context, req *request.Request, deadline time.Time) (*http.Response, connector.Meta, error) {
	scheme, matched := c.resolveProxy(req)

	if !matched {
		// A pooled *http.Transport negotiates h2 over TLS only; prior
		// knowledge against a plain-HTTP destination has to bypass the pool
		// and speak the preface directly over a one-shot connection.
		if c.http2PriorKnowledge && req.URL.Scheme == "http" {
			return c.dispatchDirect(ctx, req, deadline, nil)
		}
		return c.dispatchPooled(ctx, req)
	}
	return c.dispatchDirect(ctx, req, deadline, scheme)
}

// resolveProxy walks the configured rule list (spec.md §4.2 step 4) and, for
// a plain-HTTP destination routed through an HTTP(S) proxy with
// credentials, sets Proxy-Authorization on req (sensitive; HTTPS
// destinations carry proxy auth in the CONNECT preamble instead, handled by
// connector.tunnel).
func (c *Client) resolveProxy(req *request.Request) (*proxy.Scheme, bool) {
	if c.proxyResolver == nil {
		return nil, false
	}
	scheme, ok := c.proxyResolver.Resolve(req.URL)
	if !ok {
		return nil, false
	}
	if req.URL.Scheme == "http" && scheme.Auth != nil {
		token := base64.StdEncoding.EncodeToString([]byte(scheme.Auth.User + ":" + scheme.Auth.Pass))
		req.Headers.SetSensitive("Proxy-Authorization", "Basic "+token, true)
	}
	return &scheme, true
}

func (c *Client) dispatchPooled(ctx context.Context, req *request.Request) (*http.Response, connector.Meta, error) {
	httpReq, err := toHTTPRequest(ctx, req)
	if err != nil {
		return nil, connector.Meta{}, err
	}

	var transport http.RoundTripper = c.h1Transport
	if req.Version == request.VersionHTTP2 || (req.Version == request.VersionAuto && c.http2Only) {
		transport = c.h2Transport
	}

	resp, err := transport.RoundTrip(httpReq)
	if err != nil {
		return nil, connector.Meta{}, httperr.Wrap(httperr.Connect, "round trip "+req.URL.Host, err).WithURL(req.URL)
	}
	return resp, connector.Meta{PeerAddr: req.URL.Host}, nil
}

func (c *Client) dispatchDirect(ctx context.Context, req *request.Request, deadline time.Time, scheme *proxy.Scheme) (*http.Response, connector.Meta, error) {
	host := req.URL.Hostname()
	port := req.URL.Port()
	tlsDest := req.URL.Scheme == "https"

	opts := connector.Options{
		Profile:            c.profile,
		TCPNoDelay:         c.tcpNoDelay,
		HTTP2Only:          c.http2Only || req.Version == request.VersionHTTP2,
		ConnectTimeout:     c.connectTimeout,
		LocalAddr:          c.localAddr,
		UserAgent:          c.userAgent,
		InsecureSkipVerify: c.insecureSkipVerify,
		SkipHostnameVerify: c.skipHostnameVerify,
		RootCAs:            c.rootCAs,
	}

	conn, err := c.limiter.Connect(ctx, host, port, tlsDest, scheme, opts)
	if err != nil {
		return nil, connector.Meta{}, err
	}

	var rawConn net.Conn = conn
	if !deadline.IsZero() {
		_ = rawConn.SetDeadline(deadline)
	}

	absoluteForm := scheme != nil && scheme.Kind != proxy.SchemeSocks5 && !tlsDest
	httpReq, err := toHTTPRequest(ctx, req)
	if err != nil {
		_ = rawConn.Close()
		return nil, conn.Meta, err
	}

	// A plain-HTTP destination never negotiates ALPN, so http2PriorKnowledge
	// is the only way to route it through roundTripH2 instead of roundTripH1
	// (spec.md §6 "http2_prior_knowledge").
	if conn.Meta.ALPN == "h2" || (c.http2PriorKnowledge && !tlsDest) {
		resp, err := roundTripH2(rawConn, httpReq)
		if err != nil {
			_ = rawConn.Close()
			return nil, conn.Meta, httperr.Wrap(httperr.Connect, "h2 round trip "+req.URL.Host, err).WithURL(req.URL)
		}
		return resp, conn.Meta, nil
	}

	resp, err := roundTripH1(rawConn, httpReq, absoluteForm)
	if err != nil {
		_ = rawConn.Close()
		return nil, conn.Meta, httperr.Wrap(httperr.Connect, "h1 round trip "+req.URL.Host, err).WithURL(req.URL)
	}
	return resp, conn.Meta, nil
}

// roundTripH1 writes httpReq to conn and parses the response, per spec.md
// §1's framing-engine boundary: relative-form requests delegate entirely to
// http.Request.Write/http.ReadResponse. The proxy-plain absolute-form case
// (spec.md §4.3 state 3) has no public net/http entry point (Request.Write
// always emits relative-form; the proxy-aware writer is private to
// http.Transport), so that one case is hand-written at the same level of
// detail as tunnel.go's CONNECT preamble.
func roundTripH1(conn net.Conn, httpReq *http.Request, absoluteForm bool) (*http.Response, error) {
	if absoluteForm {
		if err := writeAbsoluteFormRequest(conn, httpReq); err != nil {
			return nil, err
		}
	} else if err := httpReq.Write(conn); err != nil {
		return nil, err
	}
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, httpReq)
	if err != nil {
		return nil, err
	}
	resp.Body = &connCloseBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// writeAbsoluteFormRequest writes "METHOD http://host/path HTTP/1.1" plus
// each req.Header key in its stored casing. Keys are written in Go map
// iteration order, so their order on the wire is not defined (unlike
// http.Header.Write, which sorts them).
func writeAbsoluteFormRequest(w io.Writer, req *http.Request) error {
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", req.Method, req.URL.String()); err != nil {
		return err
	}
	if req.Header.Get("Host") == "" {
		if _, err := fmt.Fprintf(w, "Host: %s\r\n", req.Host); err != nil {
			return err
		}
	}
	for key, values := range req.Header {
		for _, v := range values {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", key, v); err != nil {
				return err
			}
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if req.Body != nil {
		if _, err := io.Copy(w, req.Body); err != nil {
			return err
		}
	}
	return nil
}

// roundTripH2 speaks HTTP/2 over an already-established, already-negotiated
// connection via x/net/http2's public NewClientConn, the pure
// collaborator-usage counterpart to h2.go's pooled transport.
func roundTripH2(conn net.Conn, httpReq *http.Request) (*http.Response, error) {
	t := &http2.Transport{}
	cc, err := t.NewClientConn(conn)
	if err != nil {
		return nil, err
	}
	return cc.RoundTrip(httpReq)
}

// connCloseBody closes the underlying connection when the response body is
// closed, since dispatchDirect's connections are not returned to any pool.
// Reading the body to EOF alone does not close the connection.
type connCloseBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *connCloseBody) Close() error {
	err := b.ReadCloser.Close()
	_ = b.conn.Close()
	return err
}

// toHTTPRequest adapts a request.Request into a stdlib *http.Request,
// preserving header key casing via internal/header.Map.ApplyToRequest.
func toHTTPRequest(ctx context.Context, req *request.Request) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), req.URL.String(), req.Body.Reader())
	if err != nil {
		return nil, httperr.Wrap(httperr.Request, "build HTTP request", err).WithURL(req.URL)
	}
	req.Headers.ApplyToRequest(httpReq)
	if n, ok := req.Body.ContentLength(); ok {
		httpReq.ContentLength = n
		httpReq.Header.Set("Content-Length", strconv.FormatInt(n, 10))
	}
	return httpReq, nil
}
