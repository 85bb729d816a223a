// Package proxy resolves a destination URL against an ordered list of proxy
// rules, per spec.md §3 (Proxy Rule) and §4.2 step 4 / §4.3.
//
// RotatingList's round-robin rotation is the direct descendant of the
// teacher's ProxyManager (same mutex-guarded index, same "empty list means
// direct" contract); Resolver/Rule generalize it from "one flat rotation
// list" into the rule-matching model (Intercept predicate -> Scheme)
// spec.md requires.
package proxy

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// Intercept selects which destination URLs a Rule applies to.
type Intercept int

const (
	All Intercept = iota
	Http
	Https
	Custom
)

// SchemeKind tags the kind of upstream proxy a Rule routes through.
type SchemeKind int

const (
	SchemeHTTP SchemeKind = iota
	SchemeHTTPS
	SchemeSocks5
)

// Auth is optional proxy credential material.
type Auth struct {
	User, Pass string
}

// Scheme describes the concrete upstream proxy to use once a Rule matches.
type Scheme struct {
	Kind SchemeKind
	// URL is the proxy's own address for SchemeHTTP/SchemeHTTPS.
	URL *url.URL
	// Addr is "host:port" for SchemeSocks5.
	Addr string
	Auth *Auth
	// RemoteDNS is true for "socks5h" (resolve at the proxy) and false for
	// "socks5" (resolve locally), per spec.md §4.3 state 5.
	RemoteDNS bool
}

// Rule pairs an Intercept predicate with the Scheme to use when it matches.
// CustomFn is consulted only when Intercept == Custom.
type Rule struct {
	Intercept Intercept
	CustomFn  func(u *url.URL) bool
	Scheme    Scheme
}

func (r Rule) matches(u *url.URL) bool {
	switch r.Intercept {
	case All:
		return true
	case Http:
		return u.Scheme == "http"
	case Https:
		return u.Scheme == "https"
	case Custom:
		return r.CustomFn != nil && r.CustomFn(u)
	}
	return false
}

// Resolver holds an ordered Rule list. The first matching rule wins
// (spec.md §3: "Rules are evaluated in declaration order; the first match
// wins").
type Resolver struct {
	rules   []Rule
	dynamic ResolverFunc
	noProxy []string
}

// NewResolver builds a Resolver from rules, evaluated in the given order.
func NewResolver(rules ...Rule) *Resolver {
	return &Resolver{rules: rules}
}

// SetDynamic attaches a fallback consulted only when no static Rule
// matches, e.g. Rotating(list) over a proxy.RotatingList loaded from a
// config.Config's ProxyFile. A nil fn clears any previously set fallback.
func (r *Resolver) SetDynamic(fn ResolverFunc) { r.dynamic = fn }

// SetNoProxy installs a bypass list of hostnames/suffixes that always
// resolve direct, ahead of any static Rule or dynamic fallback (spec.md §6
// no_proxy: "list of hostnames/suffixes"). A host matches an entry either
// exactly or as a suffix following a '.' boundary, e.g. "example.com"
// matches "example.com" and "api.example.com" but not "notexample.com".
func (r *Resolver) SetNoProxy(hosts []string) { r.noProxy = hosts }

func bypassesProxy(host string, noProxy []string) bool {
	for _, entry := range noProxy {
		entry = strings.TrimPrefix(entry, ".")
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// Resolve returns the Scheme to use for destination u, or (Scheme{}, false)
// for a direct connection. host in r.noProxy (SetNoProxy) always wins;
// otherwise static rules are tried first, in order; if none match and a
// dynamic fallback is attached (SetDynamic), it is consulted next. A
// dynamic-resolution error is treated as "no match" (direct connection)
// rather than surfaced, since Resolve itself cannot fail.
func (r *Resolver) Resolve(u *url.URL) (Scheme, bool) {
	if bypassesProxy(u.Hostname(), r.noProxy) {
		return Scheme{}, false
	}
	for _, rule := range r.rules {
		if rule.matches(u) {
			return rule.Scheme, true
		}
	}
	if r.dynamic != nil {
		if scheme, ok, err := r.dynamic(u); err == nil && ok {
			return scheme, true
		}
	}
	return Scheme{}, false
}

// HTTPRule builds a Rule scoped by intercept, routing through an HTTP(S)
// proxy at rawURL, with optional "user:pass@" userinfo pulled into Auth.
func HTTPRule(intercept Intercept, rawURL string) (Rule, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Rule{}, fmt.Errorf("proxy: parse proxy URL %q: %w", rawURL, err)
	}
	var auth *Auth
	if u.User != nil {
		pass, _ := u.User.Password()
		auth = &Auth{User: u.User.Username(), Pass: pass}
		u.User = nil
	}
	kind := SchemeHTTP
	if u.Scheme == "https" {
		kind = SchemeHTTPS
	}
	return Rule{Intercept: intercept, Scheme: Scheme{Kind: kind, URL: u, Auth: auth}}, nil
}

// Socks5Rule builds a Rule routing through a SOCKS5(h) proxy at "host:port".
// remoteDNS selects socks5h (true) vs socks5 (false) semantics.
func Socks5Rule(intercept Intercept, addr string, auth *Auth, remoteDNS bool) Rule {
	return Rule{Intercept: intercept, Scheme: Scheme{Kind: SchemeSocks5, Addr: addr, Auth: auth, RemoteDNS: remoteDNS}}
}

// RotatingList is a thread-safe round-robin list of upstream HTTP proxy
// addresses, directly descended from the teacher's ProxyManager: same
// mutex-guarded index, same "empty list means direct" contract.
type RotatingList struct {
	mu      sync.Mutex
	entries []string
	index   int
}

// LoadList reads a newline-delimited list of proxy addresses from filename,
// skipping blank lines and lines starting with '#'. It replaces any
// previously loaded entries.
func (rl *RotatingList) LoadList(filename string) error {
	f, err := os.Open(filename) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("proxy: open %q: %w", filename, err)
	}
	defer f.Close()

	var loaded []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		loaded = append(loaded, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("proxy: read %q: %w", filename, err)
	}

	rl.mu.Lock()
	rl.entries = loaded
	rl.index = 0
	rl.mu.Unlock()
	return nil
}

// Next returns the next proxy address in rotation, or "" if none are
// loaded (meaning: connect directly).
func (rl *RotatingList) Next() string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.entries) == 0 {
		return ""
	}
	p := rl.entries[rl.index]
	rl.index = (rl.index + 1) % len(rl.entries)
	return p
}

// Count reports how many proxies are currently loaded.
func (rl *RotatingList) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// ResolverFunc is a Resolver-shaped function, used when the caller wants a
// fresh proxy choice per call (e.g. rotation) rather than a fixed Rule list.
type ResolverFunc func(u *url.URL) (Scheme, bool, error)

// Rotating adapts a RotatingList into a ResolverFunc that advances the
// rotation on every call.
func Rotating(rl *RotatingList) ResolverFunc {
	return func(u *url.URL) (Scheme, bool, error) {
		addr := rl.Next()
		if addr == "" {
			return Scheme{}, false, nil
		}
		rule, err := HTTPRule(All, addr)
		if err != nil {
			return Scheme{}, false, err
		}
		return rule.Scheme, true, nil
	}
}
