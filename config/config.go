// Package config provides JSON-based configuration loading for a Client,
// binding the "Recognized configuration" list of spec.md §6 to a loadable,
// serializable struct the way the teacher's engine-level Config is loaded
// once at startup.
//
// Generalized from the teacher's config.go: same Load/Default shape and the
// same encoding/json + DisallowUnknownFields decoding discipline (to catch
// config-file typos early), but the field set now mirrors a Client builder's
// options instead of a session engine's.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every Client builder option that can be set from a config
// file. Empty or zero string, count and duration fields fall back to
// Client's own built-in defaults; boolean fields are applied as given, so a
// false Gzip/Brotli/Zstd/Deflate, Referer or UseDefaultTLS turns that
// feature off. Pass the result of Load to a Client builder rather than
// constructing a Client directly from Config.
type Config struct {
	// UserAgent overrides the default "<pkg>/<version>" User-Agent.
	UserAgent string `json:"user_agent"`

	// DefaultHeaders are merged into every request (request headers win on
	// a per-key conflict).
	DefaultHeaders map[string]string `json:"default_headers"`

	// CookieStore enables the built-in in-memory cookie jar when true.
	CookieStore bool `json:"cookie_store"`

	// Gzip, Brotli, Zstd, Deflate toggle that encoding's Accept-Encoding
	// offer and decoder.
	Gzip    bool `json:"gzip"`
	Brotli  bool `json:"brotli"`
	Zstd    bool `json:"zstd"`
	Deflate bool `json:"deflate"`

	// RedirectLimit is the maximum number of redirects to follow; 0 means
	// "use the default policy" (Limit(10)), negative means "follow none".
	RedirectLimit int `json:"redirect_limit"`

	// Referer enables automatic Referer header population on redirect
	// (default true).
	Referer bool `json:"referer"`

	// Timeout is the end-to-end request deadline; zero means none.
	Timeout time.Duration `json:"timeout"`

	// ConnectTimeout bounds connection establishment only.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// PoolMaxIdlePerHost and PoolIdleTimeout size the HTTP/1.1 idle
	// connection pool.
	PoolMaxIdlePerHost int           `json:"pool_max_idle_per_host"`
	PoolIdleTimeout    time.Duration `json:"pool_idle_timeout"`

	// HTTP1TitleCaseHeaders, HTTP2PriorKnowledge, HTTP2Only select wire
	// framing behavior.
	HTTP1TitleCaseHeaders bool `json:"http1_title_case_headers"`
	HTTP2PriorKnowledge   bool `json:"http2_prior_knowledge"`
	HTTP2Only             bool `json:"http2_only"`

	// ProxyFile is the path to a newline-delimited list of proxy addresses
	// (host:port or scheme://host:port); loaded into a proxy.RotatingList.
	// Leave empty to run without proxies.
	ProxyFile string `json:"proxy_file"`

	// NoProxy lists hostnames/suffixes that bypass the proxy resolver
	// regardless of any configured Rule.
	NoProxy []string `json:"no_proxy"`

	// UseDefaultTLS selects the platform root CA pool (the default); when
	// false, a caller-supplied root must be added via AddRootCertificate.
	UseDefaultTLS bool `json:"use_default_tls"`

	// AddRootCertificate is a path to a PEM file appended to the trusted
	// root pool.
	AddRootCertificate string `json:"add_root_certificate"`

	// DangerAcceptInvalidHostnames and DangerAcceptInvalidCerts disable
	// certificate hostname/chain verification. Never enable these outside
	// of testing.
	DangerAcceptInvalidHostnames bool `json:"danger_accept_invalid_hostnames"`
	DangerAcceptInvalidCerts     bool `json:"danger_accept_invalid_certs"`

	// LocalAddress binds outgoing connections to a specific local address.
	LocalAddress string `json:"local_address"`

	// TCPNoDelay disables Nagle's algorithm.
	TCPNoDelay bool `json:"tcp_nodelay"`

	// MaxRetries bounds retry attempts per request.
	MaxRetries int `json:"max_retries"`
}

// Load reads a JSON file at filename and deserializes it into a Config. It
// returns an error if the file cannot be opened or the JSON is malformed or
// contains unrecognized fields.
func Load(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 -- filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return &cfg, nil
}

// Default returns a Config pre-filled with the same sensible defaults a
// Client uses when built with no options: redirect following up to 10 hops,
// Referer enabled, the platform root CA pool, and the pool sizing the
// teacher's own transport used (MaxIdleConnsPerHost 100). It also sets a 30s
// Timeout, a 10s ConnectTimeout and MaxRetries 3, none of which a Client
// built with no options has.
func Default() *Config {
	return &Config{
		Gzip:               true,
		Brotli:             true,
		Zstd:               true,
		Deflate:            true,
		RedirectLimit:      10,
		Referer:            true,
		Timeout:            30 * time.Second,
		ConnectTimeout:     10 * time.Second,
		PoolMaxIdlePerHost: 100,
		PoolIdleTimeout:    90 * time.Second,
		UseDefaultTLS:      true,
		MaxRetries:         3,
	}
}
