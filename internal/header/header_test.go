package header

import (
	"net/http"
	"testing"
)

func TestAddPreservesCasingAndOrder(t *testing.T) {
	m := New()
	m.Add("X-Custom", "one")
	m.Add("x-custom", "two")
	m.Add("Accept", "*/*")

	if got := m.Values("X-CUSTOM"); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("Values(X-CUSTOM) = %v, want [one two]", got)
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3", m.Len())
	}
}

func TestSetReplacesAllMatchesAtFirstPosition(t *testing.T) {
	m := New()
	m.Add("A", "1")
	m.Add("B", "2")
	m.Add("a", "3")
	m.Set("A", "final")

	if got := m.Values("A"); len(got) != 1 || got[0] != "final" {
		t.Errorf("Values(A) after Set = %v, want [final]", got)
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (A collapsed to one entry)", m.Len())
	}
}

func TestDelIsCaseInsensitive(t *testing.T) {
	m := New()
	m.Add("Cookie", "a=b")
	m.Del("COOKIE")
	if m.Has("cookie") {
		t.Error("Del should remove case-insensitive matches")
	}
}

func TestSensitiveFlagPerEntry(t *testing.T) {
	m := New()
	m.AddSensitive("Authorization", "secret", true)
	m.Add("Accept", "*/*")

	if !m.IsSensitive("authorization") {
		t.Error("expected Authorization to be flagged sensitive")
	}
	if m.IsSensitive("Accept") {
		t.Error("Accept should not be flagged sensitive")
	}
}

func TestStripSensitiveHeadersRemovesFixedSet(t *testing.T) {
	m := New()
	m.Add("Authorization", "x")
	m.Add("Cookie", "x")
	m.Add("Cookie2", "x")
	m.Add("Proxy-Authorization", "x")
	m.Add("WWW-Authenticate", "x")
	m.Add("Accept", "*/*")

	m.StripSensitiveHeaders()

	for _, k := range []string{"Authorization", "Cookie", "Cookie2", "Proxy-Authorization", "WWW-Authenticate"} {
		if m.Has(k) {
			t.Errorf("expected %s to be stripped", k)
		}
	}
	if !m.Has("Accept") {
		t.Error("Accept should survive stripping")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := New()
	m.Add("A", "1")
	c := m.Clone()
	c.Add("B", "2")
	if m.Has("B") {
		t.Error("mutating a clone should not affect the original")
	}
}

func TestDebugStringRedactsSensitiveValues(t *testing.T) {
	m := New()
	m.AddSensitive("Authorization", "super-secret", true)
	out := m.DebugString()
	if out == "" {
		t.Fatal("DebugString returned empty output")
	}
	if contains(out, "super-secret") {
		t.Error("DebugString leaked a sensitive value")
	}
	if !contains(out, "<redacted>") {
		t.Error("DebugString should mark the sensitive entry as redacted")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestApplyToRequestAndFromHTTPHeaderRoundTrip(t *testing.T) {
	m := New()
	m.Add("X-One", "a")
	m.Add("X-One", "b")

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	m.ApplyToRequest(req)
	if len(req.Header["X-One"]) != 2 {
		t.Fatalf("ApplyToRequest lost values: %v", req.Header)
	}

	back := FromHTTPHeader(req.Header)
	if got := back.Values("X-One"); len(got) != 2 {
		t.Errorf("FromHTTPHeader round-trip = %v, want 2 values", got)
	}
}

func TestApplyToRequest_PreservesCasingByDefault(t *testing.T) {
	m := New()
	m.Add("x-custom-HEADER", "v")

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	m.ApplyToRequest(req)

	if _, ok := req.Header["x-custom-HEADER"]; !ok {
		t.Errorf("header keys = %v, want the original casing preserved as a map key", req.Header)
	}
}

func TestApplyToRequest_SetTitleCaseNormalizesKeys(t *testing.T) {
	m := New()
	m.Add("x-custom-HEADER", "v")
	m.SetTitleCase(true)

	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	m.ApplyToRequest(req)

	if _, ok := req.Header["X-Custom-Header"]; !ok {
		t.Errorf("header keys = %v, want canonical Title-Case", req.Header)
	}
}

func TestToHTTPHeader_SetTitleCaseNormalizesKeys(t *testing.T) {
	m := New()
	m.Add("content-type", "text/plain")
	m.SetTitleCase(true)

	out := m.ToHTTPHeader()
	if _, ok := out["Content-Type"]; !ok {
		t.Errorf("header keys = %v, want canonical Title-Case", out)
	}
}

func TestClone_PreservesTitleCaseSetting(t *testing.T) {
	m := New()
	m.Add("x-a", "1")
	m.SetTitleCase(true)

	clone := m.Clone()
	req, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
	clone.ApplyToRequest(req)

	if _, ok := req.Header["X-A"]; !ok {
		t.Errorf("cloned map lost its titleCase setting: header keys = %v", req.Header)
	}
}
