// Package redirect implements the redirect-following policy described in
// spec.md §4.2.1: loop/limit detection, an escape hatch for custom policies,
// and cross-origin sensitive-header stripping.
//
// The Policy/Attempt/Action shape, the Limit(n) default (loop detection +
// max-hop error), and remove_sensitive_headers are grounded directly on
// original_source/src/redirect.rs's RedirectPolicy/RedirectAttempt/Action/
// remove_sensitive_headers, translated from a closure-holding struct into a
// small interface so custom policies are ordinary Go values instead of
// boxed trait objects.
package redirect

import (
	"net/url"

	"github.com/ridgeway-labs/httpcore/internal/header"
)

// Action is the outcome of evaluating a redirect Attempt.
type Action int

const (
	Follow Action = iota
	Stop
	LoopDetected
	TooManyRedirects
)

// Attempt carries the information a Policy needs to decide an Action: the
// status code that triggered the redirect, the next URL, and every URL
// already visited in this chain (oldest first).
type Attempt struct {
	Status   int
	Next     *url.URL
	Previous []*url.URL
}

// Policy decides how to handle one redirect Attempt.
type Policy interface {
	Redirect(a Attempt) Action
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(a Attempt) Action

func (f PolicyFunc) Redirect(a Attempt) Action { return f(a) }

// limitPolicy is the default policy: follow until max hops, detecting loops
// along the way (original_source/src/redirect.rs Policy::Limit).
type limitPolicy struct {
	max int
}

// Limit returns a Policy that follows up to max redirects, returning
// LoopDetected if Next has already been visited and TooManyRedirects once
// Previous reaches max entries.
func Limit(max int) Policy {
	return limitPolicy{max: max}
}

func (p limitPolicy) Redirect(a Attempt) Action {
	if len(a.Previous) >= p.max {
		return TooManyRedirects
	}
	for _, prev := range a.Previous {
		if prev.String() == a.Next.String() {
			return LoopDetected
		}
	}
	return Follow
}

// Default is the policy used when a Client is built without an explicit
// redirect policy: Limit(10), matching reqwest's RedirectPolicy::default.
func Default() Policy { return Limit(10) }

// None returns a Policy that never follows a redirect; the 3xx response is
// returned to the caller as-is.
func None() Policy { return PolicyFunc(func(Attempt) Action { return Stop }) }

// Custom is a convenience constructor equivalent to PolicyFunc(fn), matching
// RedirectPolicy::custom's call shape.
func Custom(fn func(a Attempt) Action) Policy { return PolicyFunc(fn) }

// sensitiveHeaders are stripped from the carried-forward request headers on
// a cross-origin hop (original_source/src/redirect.rs
// remove_sensitive_headers); internal/header.Map.StripSensitiveHeaders
// implements the same five-name list so both callers share one definition.
var sensitiveHeaders = []string{"Authorization", "Cookie", "Cookie2", "Proxy-Authorization", "WWW-Authenticate"}

// RemoveSensitiveHeaders strips sensitiveHeaders from hdrs in place if next
// crosses a host or port boundary relative to the last URL in previous.
// Same-origin redirects leave hdrs untouched.
func RemoveSensitiveHeaders(hdrs *header.Map, next *url.URL, previous []*url.URL) {
	if len(previous) == 0 {
		return
	}
	prev := previous[len(previous)-1]
	if crossOrigin(next, prev) {
		hdrs.StripSensitiveHeaders()
	}
}

// crossOrigin reports whether a and b differ in host or effective port,
// using each scheme's default port when none is explicit (mirrors
// Url::port_or_known_default).
func crossOrigin(a, b *url.URL) bool {
	if a.Hostname() != b.Hostname() {
		return true
	}
	return effectivePort(a) != effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// RefererPolicy controls whether a Referer header is attached on a redirect
// hop, per spec.md §4.2.1 ("referer: bool, default true, suppressed on a
// downgrade from https to http").
type RefererPolicy struct {
	Enabled bool
}

// RefererFor returns the Referer value to send for a hop from prev to next,
// or "" if none should be sent (downgrade guard, or policy disabled).
func (p RefererPolicy) RefererFor(prev, next *url.URL) string {
	if !p.Enabled {
		return ""
	}
	if prev.Scheme == "https" && next.Scheme == "http" {
		return ""
	}
	ref := *prev
	ref.User = nil
	ref.Fragment = ""
	return ref.String()
}
