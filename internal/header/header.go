// Package header implements HeaderMap: a case-insensitive, order-preserving
// HTTP header multimap whose values may be flagged sensitive.
//
// This generalizes the teacher's client.OrderedHeader (which preserved exact
// key casing and insertion order for TLS/HTTP2-fingerprint fidelity) with a
// per-value sensitivity bit, so the same representation can serve both the
// connector's fingerprinting needs and the executor's sensitive-header
// stripping / debug-redaction needs (spec.md §3, §4.2.1, §7).
package header

import "net/http"

// entry stores one header occurrence with its original casing and whether
// its value must be redacted in debug output / stripped on cross-origin
// redirects.
type entry struct {
	key       string
	value     string
	sensitive bool
}

// Map is a case-insensitive multimap of header name to values, in insertion
// order, with sensitivity tracked per-entry.
//
// Not safe for concurrent use; a Request owns exactly one Map and it is
// built before being handed to the executor, matching the OrderedHeader
// concurrency contract in the teacher repo.
type Map struct {
	entries []entry

	// titleCase forces ApplyToRequest/ToHTTPHeader to normalize every key to
	// net/http's canonical Title-Case form, overriding the default of
	// preserving the caller's original casing (spec.md §6
	// "http1_title_case_headers").
	titleCase bool
}

// New returns an empty Map.
func New() *Map { return &Map{} }

// Add appends key/value, preserving casing. Multiple Add calls with the same
// key (case-insensitively) produce multiple entries.
func (m *Map) Add(key, value string) { m.AddSensitive(key, value, false) }

// AddSensitive is Add but marks the value as sensitive.
func (m *Map) AddSensitive(key, value string, sensitive bool) {
	m.entries = append(m.entries, entry{key: key, value: value, sensitive: sensitive})
}

// Set replaces all entries matching key (case-insensitively) with a single
// new entry, preserving its position at the first match (or appending if
// absent).
func (m *Map) Set(key, value string) { m.SetSensitive(key, value, false) }

// SetSensitive is Set but marks the value as sensitive.
func (m *Map) SetSensitive(key, value string, sensitive bool) {
	canon := http.CanonicalHeaderKey(key)
	out := m.entries[:0]
	replaced := false
	for _, e := range m.entries {
		if http.CanonicalHeaderKey(e.key) == canon {
			if !replaced {
				out = append(out, entry{key: key, value: value, sensitive: sensitive})
				replaced = true
			}
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, entry{key: key, value: value, sensitive: sensitive})
	}
	m.entries = out
}

// Del removes every entry matching key (case-insensitively).
func (m *Map) Del(key string) {
	canon := http.CanonicalHeaderKey(key)
	out := m.entries[:0]
	for _, e := range m.entries {
		if http.CanonicalHeaderKey(e.key) != canon {
			out = append(out, e)
		}
	}
	m.entries = out
}

// Get returns the first value matching key, or "".
func (m *Map) Get(key string) string {
	canon := http.CanonicalHeaderKey(key)
	for _, e := range m.entries {
		if http.CanonicalHeaderKey(e.key) == canon {
			return e.value
		}
	}
	return ""
}

// Values returns every value matching key, in insertion order.
func (m *Map) Values(key string) []string {
	canon := http.CanonicalHeaderKey(key)
	var out []string
	for _, e := range m.entries {
		if http.CanonicalHeaderKey(e.key) == canon {
			out = append(out, e.value)
		}
	}
	return out
}

// Has reports whether any entry matches key.
func (m *Map) Has(key string) bool {
	canon := http.CanonicalHeaderKey(key)
	for _, e := range m.entries {
		if http.CanonicalHeaderKey(e.key) == canon {
			return true
		}
	}
	return false
}

// IsSensitive reports whether any entry matching key is flagged sensitive.
func (m *Map) IsSensitive(key string) bool {
	canon := http.CanonicalHeaderKey(key)
	for _, e := range m.entries {
		if http.CanonicalHeaderKey(e.key) == canon && e.sensitive {
			return true
		}
	}
	return false
}

// Len returns the number of entries, including duplicates.
func (m *Map) Len() int { return len(m.entries) }

// Clone returns a deep copy safe for independent mutation.
func (m *Map) Clone() *Map {
	c := &Map{entries: make([]entry, len(m.entries)), titleCase: m.titleCase}
	copy(c.entries, m.entries)
	return c
}

// SetTitleCase toggles whether ApplyToRequest/ToHTTPHeader normalize every
// key to canonical Title-Case instead of preserving the caller's casing
// (spec.md §6 "http1_title_case_headers"). Disabled by default.
func (m *Map) SetTitleCase(v bool) { m.titleCase = v }

// Range calls fn for every entry in insertion order.
func (m *Map) Range(fn func(key, value string, sensitive bool)) {
	for _, e := range m.entries {
		fn(e.key, e.value, e.sensitive)
	}
}

// StripSensitiveHeaders removes AUTHORIZATION/COOKIE/COOKIE2/
// PROXY-AUTHORIZATION/WWW-AUTHENTICATE (spec.md §4.2.1), regardless of
// whether they were individually flagged sensitive: these five names are
// always considered sensitive on cross-origin redirect.
func (m *Map) StripSensitiveHeaders() {
	for _, k := range []string{"Authorization", "Cookie", "Cookie2", "Proxy-Authorization", "WWW-Authenticate"} {
		m.Del(k)
	}
}

// ToHTTPHeader converts to a standard http.Header map. Insertion order is
// lost (maps are unordered) but exact key casing survives because the raw
// key, not its canonical form, is used as the map key.
func (m *Map) ToHTTPHeader() http.Header {
	out := make(http.Header, len(m.entries))
	for _, e := range m.entries {
		out[m.key(e)] = append(out[m.key(e)], e.value)
	}
	return out
}

// ApplyToRequest writes every entry into req.Header, replacing whatever was
// there, preserving each key's casing the same way
// client.OrderedHeader.ApplyToRequest does, unless titleCase is set (see
// SetTitleCase), in which case every key is normalized to canonical
// Title-Case instead. Values under one key keep their order; order across
// distinct keys is lost, since http.Header is a map.
func (m *Map) ApplyToRequest(req *http.Request) {
	req.Header = make(http.Header, len(m.entries))
	for _, e := range m.entries {
		k := m.key(e)
		req.Header[k] = append(req.Header[k], e.value)
	}
}

// key returns the wire casing for e: its raw original casing, or its
// canonical Title-Case form when titleCase is set.
func (m *Map) key(e entry) string {
	if m.titleCase {
		return http.CanonicalHeaderKey(e.key)
	}
	return e.key
}

// FromHTTPHeader builds a Map from a standard http.Header (e.g. a parsed
// response). Order within a given key's values is preserved; order across
// distinct keys is not (http.Header is a map).
func FromHTTPHeader(h http.Header) *Map {
	m := New()
	for k, vs := range h {
		for _, v := range vs {
			m.Add(k, v)
		}
	}
	return m
}

// DebugString renders the map for diagnostic output, redacting sensitive
// values per spec.md §7.
func (m *Map) DebugString() string {
	s := ""
	for _, e := range m.entries {
		v := e.value
		if e.sensitive {
			v = "<redacted>"
		}
		s += e.key + ": " + v + "\n"
	}
	return s
}
