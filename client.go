package httpcore

import (
	"crypto/x509"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ridgeway-labs/httpcore/config"
	"github.com/ridgeway-labs/httpcore/connector"
	"github.com/ridgeway-labs/httpcore/cookiejar"
	"github.com/ridgeway-labs/httpcore/decode"
	"github.com/ridgeway-labs/httpcore/internal/header"
	"github.com/ridgeway-labs/httpcore/metrics"
	"github.com/ridgeway-labs/httpcore/proxy"
	"github.com/ridgeway-labs/httpcore/redirect"
	"github.com/ridgeway-labs/httpcore/retry"
	"github.com/ridgeway-labs/httpcore/tlsprofile"
	"github.com/ridgeway-labs/httpcore/xlog"
)

// defaultUserAgent matches spec.md §6: "user_agent ... default is
// <pkg>/<version>".
const defaultUserAgent = "httpcore/0.1"

// Jar is the subset of cookiejar.Jar's behavior a Client depends on,
// letting callers plug in a custom store (spec.md §6: "cookie_store: bool |
// custom jar").
type Jar interface {
	CookieHeader(u *url.URL) string
	StoreResponseCookies(cookies []cookiejar.Cookie, u *url.URL)
}

// Client executes Requests per spec.md §4.2. The zero value is not usable;
// build one with NewBuilder().Build().
type Client struct {
	defaultHeaders *header.Map
	userAgent      string
	jar            Jar
	bitset         decode.Bitset
	redirectPolicy redirect.Policy
	referer        redirect.RefererPolicy
	retryPolicy    *retry.Policy
	proxyResolver  *proxy.Resolver
	profile        *tlsprofile.Profile

	timeout        time.Duration
	connectTimeout time.Duration
	perReadTimeout time.Duration

	poolMaxIdlePerHost    int
	poolIdleTimeout       time.Duration
	tcpNoDelay            bool
	http2Only             bool
	http2PriorKnowledge   bool
	http1TitleCaseHeaders bool
	insecureSkipVerify    bool
	skipHostnameVerify    bool
	rootCAs               *x509.CertPool
	localAddr             net.Addr

	limiter *connector.Limiter

	// h1Transport/h2Transport serve every request the proxy resolver sends
	// direct (no matching rule): net/http itself owns connection pooling,
	// HTTP/1.1 framing, and (for h2Transport) HTTP/2 framing, exactly as
	// client/client.go hands a built Transport to http.Client. Requests that
	// match a proxy rule bypass these pools entirely; see dispatch.go.
	h1Transport *http.Transport
	h2Transport http.RoundTripper

	log     *xlog.Logger
	metrics *metrics.Collector
}

// Builder accumulates Client options, mirroring request.Builder's fluent
// style (spec.md §4.1) applied to client-level configuration (spec.md §6).
type Builder struct {
	c *Client
}

// NewBuilder returns a Builder seeded with spec.md §6's documented
// defaults: Limit(10) redirects, Referer enabled, all four decoders
// enabled, no cookie jar, no proxy, no retry policy, unlimited connector
// concurrency.
func NewBuilder() *Builder {
	return &Builder{c: &Client{
		defaultHeaders: header.New(),
		userAgent:      defaultUserAgent,
		bitset:         decode.Bitset{Gzip: true, Brotli: true, Zstd: true, Deflate: true},
		redirectPolicy: redirect.Default(),
		referer:        redirect.RefererPolicy{Enabled: true},
		proxyResolver:  proxy.NewResolver(),
		limiter:        connector.NewLimiter(0),
		log:            xlog.Discard(),
	}}
}

// FromConfig seeds a Builder from a loaded config.Config (spec.md §6,
// SPEC_FULL.md §6: "config.Config / config.Load ... binds the Recognized
// configuration list ... to a loadable struct").
func FromConfig(cfg *config.Config) *Builder {
	b := NewBuilder()
	if cfg.UserAgent != "" {
		b.UserAgent(cfg.UserAgent)
	}
	for k, v := range cfg.DefaultHeaders {
		b.DefaultHeader(k, v)
	}
	if cfg.CookieStore {
		b.CookieJar(cookiejar.New())
	}
	b.c.bitset = decode.Bitset{Gzip: cfg.Gzip, Brotli: cfg.Brotli, Zstd: cfg.Zstd, Deflate: cfg.Deflate}
	switch {
	case cfg.RedirectLimit < 0:
		b.Redirect(redirect.None())
	case cfg.RedirectLimit > 0:
		b.Redirect(redirect.Limit(cfg.RedirectLimit))
	}
	b.Referer(cfg.Referer)
	if cfg.Timeout > 0 {
		b.Timeout(cfg.Timeout)
	}
	if cfg.ConnectTimeout > 0 {
		b.ConnectTimeout(cfg.ConnectTimeout)
	}
	b.c.poolMaxIdlePerHost = cfg.PoolMaxIdlePerHost
	b.c.poolIdleTimeout = cfg.PoolIdleTimeout
	b.c.http2Only = cfg.HTTP2Only
	b.c.http2PriorKnowledge = cfg.HTTP2PriorKnowledge
	b.c.http1TitleCaseHeaders = cfg.HTTP1TitleCaseHeaders
	b.c.tcpNoDelay = cfg.TCPNoDelay
	b.c.insecureSkipVerify = cfg.DangerAcceptInvalidCerts
	b.c.skipHostnameVerify = cfg.DangerAcceptInvalidHostnames
	if cfg.LocalAddress != "" {
		if host, err := net.ResolveTCPAddr("tcp", cfg.LocalAddress); err == nil {
			b.c.localAddr = host
		}
	}
	if cfg.MaxRetries > 0 {
		b.Retry(retry.Scoped(retry.AnyHost()).MaxPerRequest(cfg.MaxRetries).Build())
	}
	if cfg.ProxyFile != "" {
		var rl proxy.RotatingList
		if err := rl.LoadList(cfg.ProxyFile); err != nil {
			b.c.log.Errorf("config: load proxy_file %q: %v", cfg.ProxyFile, err)
		} else {
			b.c.proxyResolver.SetDynamic(proxy.Rotating(&rl))
		}
	}
	if len(cfg.NoProxy) > 0 {
		b.c.proxyResolver.SetNoProxy(cfg.NoProxy)
	}
	if !cfg.UseDefaultTLS || cfg.AddRootCertificate != "" {
		pool := x509.NewCertPool()
		if cfg.UseDefaultTLS {
			if sys, err := x509.SystemCertPool(); err == nil && sys != nil {
				pool = sys
			}
		}
		if cfg.AddRootCertificate != "" {
			pem, err := os.ReadFile(cfg.AddRootCertificate) // #nosec G304 -- operator-supplied config path
			if err != nil {
				b.c.log.Errorf("config: read add_root_certificate %q: %v", cfg.AddRootCertificate, err)
			} else if !pool.AppendCertsFromPEM(pem) {
				b.c.log.Errorf("config: no certificates found in %q", cfg.AddRootCertificate)
			}
		}
		b.c.rootCAs = pool
	}
	return b
}

// UserAgent overrides the default "<pkg>/<version>" User-Agent.
func (b *Builder) UserAgent(ua string) *Builder { b.c.userAgent = ua; return b }

// DefaultHeader merges a header into every request that doesn't already
// set it (spec.md §4.2 step 1).
func (b *Builder) DefaultHeader(key, value string) *Builder {
	b.c.defaultHeaders.Add(key, value)
	return b
}

// CookieJar enables cookie injection/capture using j (spec.md §6
// "cookie_store: bool | custom jar"). Pass cookiejar.New() for the default
// in-memory store.
func (b *Builder) CookieJar(j Jar) *Builder { b.c.jar = j; return b }

// Decoders toggles which content-encodings are offered/decoded (spec.md §6
// "gzip/brotli/zstd/deflate: bool").
func (b *Builder) Decoders(bitset decode.Bitset) *Builder { b.c.bitset = bitset; return b }

// Redirect sets the redirect policy (default Limit(10)).
func (b *Builder) Redirect(p redirect.Policy) *Builder { b.c.redirectPolicy = p; return b }

// Referer toggles automatic Referer population on redirect (default true).
func (b *Builder) Referer(enabled bool) *Builder { b.c.referer = redirect.RefererPolicy{Enabled: enabled}; return b }

// Retry attaches a retry.Policy; nil (the default) disables retries.
func (b *Builder) Retry(p *retry.Policy) *Builder { b.c.retryPolicy = p; return b }

// Proxy sets the proxy rule resolver (spec.md §6 "proxy(p)").
func (b *Builder) Proxy(resolver *proxy.Resolver) *Builder { b.c.proxyResolver = resolver; return b }

// NoProxy clears any configured proxy rules, forcing direct connections
// (spec.md §6 "no_proxy()").
func (b *Builder) NoProxy() *Builder { b.c.proxyResolver = proxy.NewResolver(); return b }

// TLSProfile attaches a tlsprofile.Profile driving the connector's
// ClientHello/H2-SETTINGS/default-header fingerprint.
func (b *Builder) TLSProfile(p *tlsprofile.Profile) *Builder {
	b.c.profile = p
	if p != nil && p.UserAgent != "" {
		b.c.userAgent = p.UserAgent
	}
	return b
}

// Timeout sets the end-to-end request deadline (spec.md §6 "timeout").
func (b *Builder) Timeout(d time.Duration) *Builder { b.c.timeout = d; return b }

// ConnectTimeout bounds connection establishment only (spec.md §6
// "connect_timeout").
func (b *Builder) ConnectTimeout(d time.Duration) *Builder { b.c.connectTimeout = d; return b }

// PerReadTimeout sets the rolling per-frame read timeout (spec.md §4.2.2).
func (b *Builder) PerReadTimeout(d time.Duration) *Builder { b.c.perReadTimeout = d; return b }

// PoolMaxIdlePerHost / PoolIdleTimeout size the pooled HTTP/1.1 transport
// Build creates (spec.md §6); they have no effect on proxied dispatch, which
// never pools connections (see DESIGN.md).
func (b *Builder) PoolMaxIdlePerHost(n int) *Builder { b.c.poolMaxIdlePerHost = n; return b }
func (b *Builder) PoolIdleTimeout(d time.Duration) *Builder { b.c.poolIdleTimeout = d; return b }

// HTTP2Only forces ALPN to offer only "h2" (spec.md §6 "http2_only").
func (b *Builder) HTTP2Only(v bool) *Builder { b.c.http2Only = v; return b }

// HTTP2PriorKnowledge skips HTTP/2 negotiation for plain-HTTP destinations,
// speaking the HTTP/2 preface directly over the raw connection instead of
// falling back to HTTP/1.1 (spec.md §6 "http2_prior_knowledge"). Has no
// effect on HTTPS destinations, where ALPN already negotiates h2.
func (b *Builder) HTTP2PriorKnowledge(v bool) *Builder { b.c.http2PriorKnowledge = v; return b }

// HTTP1TitleCaseHeaders normalizes every outgoing header name to canonical
// Title-Case, overriding the default of preserving whatever casing the
// caller used (spec.md §6 "http1_title_case_headers").
func (b *Builder) HTTP1TitleCaseHeaders(v bool) *Builder { b.c.http1TitleCaseHeaders = v; return b }

// TCPNoDelay disables Nagle's algorithm on connector-established
// connections (spec.md §6 "tcp_nodelay").
func (b *Builder) TCPNoDelay(v bool) *Builder { b.c.tcpNoDelay = v; return b }

// DangerAcceptInvalidCerts disables certificate verification. Never enable
// outside of testing (spec.md §6).
func (b *Builder) DangerAcceptInvalidCerts(v bool) *Builder { b.c.insecureSkipVerify = v; return b }

// DangerAcceptInvalidHostnames disables only hostname matching; the
// certificate chain is still verified against RootCAs. Never enable outside
// of testing (spec.md §6 "danger_accept_invalid_hostnames").
func (b *Builder) DangerAcceptInvalidHostnames(v bool) *Builder { b.c.skipHostnameVerify = v; return b }

// RootCAs sets the trusted root pool for certificate verification (spec.md
// §6 "use_default_tls" / "add_root_certificate"); nil (the default) uses the
// platform root pool.
func (b *Builder) RootCAs(pool *x509.CertPool) *Builder { b.c.rootCAs = pool; return b }

// LocalAddress binds outgoing connections to addr (spec.md §6
// "local_address").
func (b *Builder) LocalAddress(addr net.Addr) *Builder { b.c.localAddr = addr; return b }

// ConnectorConcurrency bounds the number of in-flight Connect calls
// (spec.md DESIGN NOTES, "Connector layering"); limit <= 0 means unlimited.
func (b *Builder) ConnectorConcurrency(limit int) *Builder {
	b.c.limiter = connector.NewLimiter(limit)
	return b
}

// Logger attaches an xlog.Logger for debug/redaction output (spec.md §7).
func (b *Builder) Logger(l *xlog.Logger) *Builder {
	if l != nil {
		b.c.log = l
	}
	return b
}

// Metrics attaches a metrics.Collector.
func (b *Builder) Metrics(m *metrics.Collector) *Builder { b.c.metrics = m; return b }

// Build finalizes the Client, constructing the pooled HTTP/1.1 and HTTP/2
// transports used for every request that doesn't match a proxy rule.
func (b *Builder) Build() *Client {
	c := b.c
	connOpts := connector.Options{
		Profile:            c.profile,
		TCPNoDelay:         c.tcpNoDelay,
		HTTP2Only:          c.http2Only,
		ConnectTimeout:     c.connectTimeout,
		LocalAddr:          c.localAddr,
		UserAgent:          c.userAgent,
		InsecureSkipVerify: c.insecureSkipVerify,
		SkipHostnameVerify: c.skipHostnameVerify,
		RootCAs:            c.rootCAs,
	}
	c.h1Transport = connector.NewH1Transport(connector.H1Config{
		PoolMaxIdlePerHost: c.poolMaxIdlePerHost,
		PoolIdleTimeout:    c.poolIdleTimeout,
		TCPNoDelay:         c.tcpNoDelay,
		InsecureSkipVerify: c.insecureSkipVerify,
		ConnectOptions:     connOpts,
	})
	c.h2Transport = connector.NewH2Transport(connector.H2Config{
		Profile:            c.profile,
		TCPNoDelay:         c.tcpNoDelay,
		InsecureSkipVerify: c.insecureSkipVerify,
		SkipHostnameVerify: c.skipHostnameVerify,
		RootCAs:            c.rootCAs,
	})
	return c
}
