// Package cookiejar implements the domain/path/secure/expires-aware cookie
// store described in spec.md §4.5, behind a reader/writer lock so dispatch
// can read concurrently while response capture briefly takes the write
// lock (spec.md §5).
//
// The teacher (client/client.go) delegates to net/http/cookiejar directly;
// per spec.md §1 ("the cookie jar" is one of the four hard parts this
// module must implement) this package reimplements jar semantics from
// scratch, reusing the teacher's sync.RWMutex read/write-split idiom seen
// in token.TokenRefreshManager and logger.Logger.
package cookiejar

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SameSite mirrors the SameSite attribute of a Set-Cookie header.
type SameSite int

const (
	SameSiteUnspecified SameSite = iota
	SameSiteNone
	SameSiteLax
	SameSiteStrict
)

// Cookie is the spec.md §3 Cookie value.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time // zero means "no Expires attribute"
	MaxAge   *int      // nil means "no Max-Age attribute"
	Secure   bool
	HTTPOnly bool
	SameSite SameSite
}

// expired reports whether c should be evicted given "now".
func (c Cookie) expired(now time.Time) bool {
	if c.MaxAge != nil && *c.MaxAge <= 0 {
		return true
	}
	if !c.Expires.IsZero() && now.After(c.Expires) {
		return true
	}
	return false
}

// ParseSetCookie parses one Set-Cookie header value into a Cookie. Unknown
// attributes are ignored; a header with no NAME=VALUE pair is an error.
func ParseSetCookie(header string) (Cookie, error) {
	parts := strings.Split(header, ";")
	nv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nv) != 2 || nv[0] == "" {
		return Cookie{}, errMalformed(header)
	}
	c := Cookie{Name: strings.TrimSpace(nv[0]), Value: strings.TrimSpace(nv[1])}
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		if attr == "" {
			continue
		}
		kv := strings.SplitN(attr, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := ""
		if len(kv) == 2 {
			val = strings.TrimSpace(kv[1])
		}
		switch key {
		case "domain":
			c.Domain = strings.TrimPrefix(val, ".")
		case "path":
			c.Path = val
		case "secure":
			c.Secure = true
		case "httponly":
			c.HTTPOnly = true
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				c.MaxAge = &n
			}
		case "expires":
			for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
				if t, err := time.Parse(layout, val); err == nil {
					c.Expires = t
					break
				}
			}
		case "samesite":
			switch strings.ToLower(val) {
			case "lax":
				c.SameSite = SameSiteLax
			case "strict":
				c.SameSite = SameSiteStrict
			case "none":
				c.SameSite = SameSiteNone
			}
		}
	}
	return c, nil
}

type malformedErr string

func (e malformedErr) Error() string { return "cookiejar: malformed Set-Cookie: " + string(e) }

func errMalformed(header string) error { return malformedErr(header) }

// defaultDomainPath fills Domain/Path from u when unset, per spec.md §4.5
// ("store_response_cookies: default domain to the URL's host and path to
// the URL's path-dir if unset").
func (c *Cookie) defaultDomainPath(u *url.URL) {
	if c.Domain == "" {
		c.Domain = u.Hostname()
	}
	if c.Path == "" {
		c.Path = pathDir(u.Path)
	}
}

// pathDir returns the directory portion of a URL path, per standard cookie
// default-path rules: strip everything after and including the last '/',
// collapsing to "/" if that yields an empty or root path.
func pathDir(p string) string {
	if p == "" {
		return "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
