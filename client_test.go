package httpcore

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ridgeway-labs/httpcore/config"
	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/request"
	"github.com/ridgeway-labs/httpcore/retry"
)

// testRootCertPEM is a throwaway self-signed root used only to exercise
// AddRootCertificate's PEM-loading path; it is never used to terminate TLS.
const testRootCertPEM = `-----BEGIN CERTIFICATE-----
MIIBjjCCATWgAwIBAgIUCma9/Tp0UgNTK/umvL6CLmw3SLcwCgYIKoZIzj0EAwIw
HTEbMBkGA1UEAwwSaHR0cGNvcmUtdGVzdC1yb290MB4XDTI2MDcyOTEyMDIyNloX
DTM2MDcyNjEyMDIyNlowHTEbMBkGA1UEAwwSaHR0cGNvcmUtdGVzdC1yb290MFkw
EwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAENHJpp51gOLgigBeDvl97slSrq9ianPBk
ol3n8Yh9itGYJ9Xawh0cbBAUqCclTtrENuVISIzfN1dfv6+45+uXr6NTMFEwHQYD
VR0OBBYEFKFOpVQgoy3pkQUFBY3HiEKtQVOlMB8GA1UdIwQYMBaAFKFOpVQgoy3p
kQUFBY3HiEKtQVOlMA8GA1UdEwEB/wQFMAMBAf8wCgYIKoZIzj0EAwIDRwAwRAIg
EiwZQ5VTp9mxVhE2CDbCKFcSOwugI/gR2XixQSkznukCIHOuoxR1rsp8jmLK/40c
mt0Nkqw/KOLtnNiQWtEXBOQ2
-----END CERTIFICATE-----
`

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

// FromConfig's cfg.ProxyFile loads into a proxy.RotatingList attached as
// the resolver's dynamic fallback (spec.md §6 "proxy(p)", DESIGN.md's
// Open-Question decision 4).
func TestFromConfig_ProxyFileWiresDynamicFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")
	if err := os.WriteFile(path, []byte("http://p1:8080\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.Default()
	cfg.ProxyFile = path
	c := FromConfig(cfg).Build()

	scheme, ok := c.proxyResolver.Resolve(mustParseURL(t, "http://example.com"))
	if !ok {
		t.Fatal("expected the loaded proxy file to resolve a scheme")
	}
	if scheme.URL.Host != "p1:8080" {
		t.Errorf("resolved proxy host = %q, want p1:8080", scheme.URL.Host)
	}
}

// FromConfig's cfg.NoProxy installs a bypass list on the resolver ahead of
// any static/dynamic rule (spec.md §6 "no_proxy").
func TestFromConfig_NoProxyWiresBypassList(t *testing.T) {
	cfg := config.Default()
	cfg.NoProxy = []string{"example.com"}
	c := FromConfig(cfg).Build()

	if _, ok := c.proxyResolver.Resolve(mustParseURL(t, "http://example.com")); ok {
		t.Error("expected example.com to resolve direct via the NoProxy bypass list")
	}
}

// cfg.AddRootCertificate loads a PEM file and appends it to the trusted
// root pool wired into the connector (spec.md §6 "add_root_certificate").
func TestFromConfig_AddRootCertificateAppendsToPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root.pem")
	if err := os.WriteFile(path, []byte(testRootCertPEM), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := config.Default()
	cfg.AddRootCertificate = path
	c := FromConfig(cfg).Build()

	if c.rootCAs == nil {
		t.Fatal("expected a non-nil root pool once AddRootCertificate is set")
	}
	if len(c.rootCAs.Subjects()) == 0 { //nolint:staticcheck // Subjects() is deprecated but adequate for a non-empty check in a test
		t.Error("expected the loaded certificate to appear in the pool")
	}
}

// cfg.UseDefaultTLS = false with no AddRootCertificate builds an explicit
// empty pool rather than falling back to the platform default.
func TestFromConfig_UseDefaultTLSFalseBuildsEmptyPool(t *testing.T) {
	cfg := config.Default()
	cfg.UseDefaultTLS = false
	c := FromConfig(cfg).Build()

	if c.rootCAs == nil {
		t.Fatal("expected a non-nil (empty) root pool when use_default_tls is false")
	}
}

// cfg.UseDefaultTLS = true (the config.Default() value) with no
// AddRootCertificate leaves rootCAs nil, i.e. "use the platform default",
// rather than needlessly cloning the system pool.
func TestFromConfig_UseDefaultTLSTrueLeavesRootCAsNil(t *testing.T) {
	cfg := config.Default()
	c := FromConfig(cfg).Build()

	if c.rootCAs != nil {
		t.Error("expected rootCAs to stay nil when use_default_tls is true and no custom root is set")
	}
}

// cfg.HTTP2PriorKnowledge / cfg.HTTP1TitleCaseHeaders flow through to the
// Client fields FromConfig is supposed to populate (spec.md §6).
func TestFromConfig_WiresHTTP2PriorKnowledgeAndTitleCaseHeaders(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP2PriorKnowledge = true
	cfg.HTTP1TitleCaseHeaders = true
	cfg.DangerAcceptInvalidHostnames = true
	c := FromConfig(cfg).Build()

	if !c.http2PriorKnowledge {
		t.Error("expected http2PriorKnowledge to be wired from cfg.HTTP2PriorKnowledge")
	}
	if !c.http1TitleCaseHeaders {
		t.Error("expected http1TitleCaseHeaders to be wired from cfg.HTTP1TitleCaseHeaders")
	}
	if !c.skipHostnameVerify {
		t.Error("expected skipHostnameVerify to be wired from cfg.DangerAcceptInvalidHostnames")
	}
}

// HTTP1TitleCaseHeaders normalizes outgoing header casing on the wire.
// net/http's server canonicalizes incoming header names while parsing them
// into r.Header, so an httptest.Server can't observe raw wire casing; this
// reads the raw bytes off a bare net.Listener instead, the same technique
// dispatch.go's writeAbsoluteFormRequest relies on for casing fidelity.
func TestExecute_HTTP1TitleCaseHeadersNormalizesCasing(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	rawLines := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var lines []string
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
		rawLines <- lines
	}()

	c := NewBuilder().HTTP1TitleCaseHeaders(true).Build()
	req := buildReq(t, request.MethodGet, "http://"+ln.Addr().String()+"/")
	req.Headers.Add("x-custom-HEADER", "v")

	resp, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	lines := <-rawLines
	found := false
	for _, line := range lines {
		if strings.HasPrefix(line, "X-Custom-Header:") {
			found = true
		}
	}
	if !found {
		t.Errorf("raw request lines = %v, want an X-Custom-Header line on the wire", lines)
	}
}

func TestBuild_DefaultAcceptEncodingAdvertisesAllFour(t *testing.T) {
	var accept string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept-Encoding")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if accept != "gzip, br, zstd, deflate" {
		t.Errorf("Accept-Encoding = %q, want the four-way default", accept)
	}
}

func TestBuild_ExplicitAcceptEncodingNotOverwritten(t *testing.T) {
	var accept string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept-Encoding")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	req := buildReq(t, request.MethodGet, srv.URL+"/")
	req.Headers.Set("Accept-Encoding", "identity")

	resp, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if accept != "identity" {
		t.Errorf("Accept-Encoding = %q, want caller's explicit value preserved", accept)
	}
}

// A ranged request must not get Accept-Encoding defaulted in, since a
// server honoring it would decompress before honoring the byte range and
// break offset semantics (spec.md §4.2 step 3).
func TestBuild_RangeRequestSuppressesAcceptEncodingDefault(t *testing.T) {
	var accept string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept-Encoding")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	req := buildReq(t, request.MethodGet, srv.URL+"/")
	req.Headers.Set("Range", "bytes=0-99")

	resp, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if accept != "" {
		t.Errorf("Accept-Encoding = %q, want no default applied to a ranged request", accept)
	}
}

func TestBuild_DefaultHeadersFillGapsOnly(t *testing.T) {
	var gotX string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotX = r.Header.Get("X-Client")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().DefaultHeader("X-Client", "default").Build()
	req := buildReq(t, request.MethodGet, srv.URL+"/")
	req.Headers.Set("X-Client", "explicit")

	resp, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if gotX != "explicit" {
		t.Errorf("X-Client = %q, want the request's own value to win", gotX)
	}
}

// A retryable status with no retry policy attached returns immediately,
// body intact.
func TestExecute_NoRetryPolicyReturnsRetryableStatusAsIs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

// Once the per-request retry cap is reached, the last attempt's response is
// surfaced to the caller with a readable body (regression test for a body
// double-close across the retry/redirect falls-through paths).
func TestExecute_RetryCapExhaustedReturnsLastResponseReadable(t *testing.T) {
	attempts := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	policy := retry.Scoped(retry.AnyHost()).MaxPerRequest(1).NoBudget().Build()
	c := NewBuilder().Retry(policy).Build()

	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	text, err := resp.Text()
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if text != "unavailable" {
		t.Errorf("body = %q, want %q", text, "unavailable")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want exactly 1 (MaxPerRequest(1) permits no retry)", attempts)
	}
}

func TestExecute_UnsupportedSchemeRejectedAtBuild(t *testing.T) {
	_, err := request.New(request.MethodGet, "ftp://example.com/").Build()
	if err == nil {
		t.Fatal("expected a builder error for a non-http(s) scheme")
	}
	var herr *httperr.Error
	if he, ok := err.(*httperr.Error); ok {
		herr = he
	}
	if herr == nil || herr.Kind() != httperr.Builder {
		t.Fatalf("err = %v, want httperr.Builder", err)
	}
}
