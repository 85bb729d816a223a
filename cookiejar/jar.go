package cookiejar

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

// key identifies a stored cookie for overwrite purposes: same
// (name, domain, path) replaces a prior entry (spec.md §3, §4.5).
type key struct {
	name, domain, path string
}

// Jar is the default in-memory domain/path-indexed cookie store (spec.md
// §4.5, DESIGN NOTES). Jar satisfies the {GetRequestCookies,
// StoreResponseCookies} interface so custom implementations can be swapped
// in via the Client's cookie_store option (spec.md §6).
type Jar struct {
	mu      sync.RWMutex
	cookies map[key]Cookie
	now     func() time.Time // overridable for tests
}

// New returns an empty Jar.
func New() *Jar {
	return &Jar{cookies: make(map[key]Cookie), now: time.Now}
}

// GetRequestCookies returns the cookies that should be sent on a request to
// u: domain matches (exact host, or a leading-dot domain attribute matching
// as a suffix), path is a prefix of u.Path, Secure is satisfied by u's
// scheme, and expiry has not passed (spec.md §4.5).
func (j *Jar) GetRequestCookies(u *url.URL) []Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()

	now := j.now()
	host := u.Hostname()
	secure := u.Scheme == "https"
	var out []Cookie
	for _, c := range j.cookies {
		if c.expired(now) {
			continue
		}
		if !domainMatches(c.Domain, host) {
			continue
		}
		if !pathMatches(c.Path, u.Path) {
			continue
		}
		if c.Secure && !secure {
			continue
		}
		out = append(out, c)
	}
	return out
}

// CookieHeader formats the cookies applicable to u as "k=v; k=v", per
// spec.md §4.2 step 2, or "" if none apply.
func (j *Jar) CookieHeader(u *url.URL) string {
	cookies := j.GetRequestCookies(u)
	if len(cookies) == 0 {
		return ""
	}
	parts := make([]string, len(cookies))
	for i, c := range cookies {
		parts[i] = c.Name + "=" + c.Value
	}
	return strings.Join(parts, "; ")
}

// StoreResponseCookies inserts/evicts cookies parsed from a response
// targeting u. Parse failures are the caller's concern (the executor
// ignores them per spec.md §4.2 step 7); StoreResponseCookies itself only
// handles already-parsed Cookie values.
func (j *Jar) StoreResponseCookies(cookies []Cookie, u *url.URL) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	for _, c := range cookies {
		c.defaultDomainPath(u)
		k := key{name: c.Name, domain: strings.ToLower(c.Domain), path: c.Path}
		if c.expired(now) {
			delete(j.cookies, k)
			continue
		}
		j.cookies[k] = c
	}
}

// domainMatches implements spec.md §4.5's domain rule: exact match, or a
// suffix match against a ".domain" attribute (the leading dot is already
// stripped by ParseSetCookie/defaultDomainPath, so suffix match here means
// host == domain or host ends with "."+domain).
func domainMatches(cookieDomain, host string) bool {
	cookieDomain = strings.ToLower(cookieDomain)
	host = strings.ToLower(host)
	if cookieDomain == host {
		return true
	}
	return strings.HasSuffix(host, "."+cookieDomain)
}

// pathMatches implements RFC 6265 path-match: cookiePath is a prefix of
// requestPath, and either they're equal, cookiePath ends in "/", or the
// next character in requestPath is "/".
func pathMatches(cookiePath, requestPath string) bool {
	if cookiePath == "" {
		cookiePath = "/"
	}
	if requestPath == "" {
		requestPath = "/"
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	if len(cookiePath) == len(requestPath) {
		return true
	}
	if strings.HasSuffix(cookiePath, "/") {
		return true
	}
	return requestPath[len(cookiePath)] == '/'
}
