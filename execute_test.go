package httpcore

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/net/http2"

	"github.com/ridgeway-labs/httpcore/body"
	"github.com/ridgeway-labs/httpcore/cookiejar"
	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/redirect"
	"github.com/ridgeway-labs/httpcore/request"
)

// A plain-HTTP destination never negotiates ALPN, so HTTP2PriorKnowledge is
// the only way to speak h2 to it: this serves h2c (cleartext HTTP/2) over a
// bare net.Listener via golang.org/x/net/http2.Server.ServeConn, the same
// library dispatchDirect's roundTripH2 uses on the client side.
func TestExecute_HTTP2PriorKnowledgeSpeaksH2OverPlainHTTP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var gotProtoMajor int
	h2srv := &http2.Server{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		h2srv.ServeConn(conn, &http2.ServeConnOpts{
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotProtoMajor = r.ProtoMajor
				w.WriteHeader(http.StatusOK)
			}),
		})
	}()

	c := NewBuilder().HTTP2PriorKnowledge(true).Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, "http://"+ln.Addr().String()+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if gotProtoMajor != 2 {
		t.Errorf("server saw ProtoMajor = %d, want 2 (h2 prior knowledge)", gotProtoMajor)
	}
}

// Without HTTP2PriorKnowledge, the same plain-HTTP destination must still go
// through the ordinary pooled HTTP/1.1 path.
func TestExecute_PlainHTTPWithoutPriorKnowledgeUsesHTTP1(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor != 1 {
			t.Errorf("server saw ProtoMajor = %d, want 1", r.ProtoMajor)
		}
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
}

// streamBodyOnce returns a non-clonable streaming Body yielding data once.
func streamBodyOnce(sent *bool, data []byte) *body.Body {
	done := false
	return body.FromStream(func() (body.Chunk, bool) {
		if done {
			return body.Chunk{}, false
		}
		done = true
		*sent = true
		return body.Chunk{Data: data}, true
	}, nil)
}

func buildReq(t *testing.T, method request.Method, url string) *request.Request {
	t.Helper()
	req, err := request.New(method, url).Build()
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

// Scenario 1 (spec.md §8): 301 demotes POST to GET, drops the body, and
// sets Referer to the prior URL.
func TestExecute_301DemotesPostToGet(t *testing.T) {
	var dstMethod string
	var dstUA, dstReferer string
	mux := http.NewServeMux()
	mux.HandleFunc("/redir", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dst", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/dst", func(w http.ResponseWriter, r *http.Request) {
		dstMethod = r.Method
		dstUA = r.Header.Get("User-Agent")
		dstReferer = r.Header.Get("Referer")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().UserAgent("test-agent/1").Build()
	req := buildReq(t, request.MethodPost, srv.URL+"/redir")
	req.Body = nil

	resp, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if dstMethod != "GET" {
		t.Errorf("method = %q, want GET", dstMethod)
	}
	if dstUA != "test-agent/1" {
		t.Errorf("User-Agent = %q, want preserved", dstUA)
	}
	if dstReferer != srv.URL+"/redir" {
		t.Errorf("Referer = %q, want %q", dstReferer, srv.URL+"/redir")
	}
}

// Scenario 2 (spec.md §8): a 307 redirect with a non-clonable (streaming)
// body is returned to the caller as-is, with no re-dispatch.
func TestExecute_307NonClonableBodyStopsAtRedirect(t *testing.T) {
	var dstHit bool
	mux := http.NewServeMux()
	mux.HandleFunc("/redir", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dst", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/dst", func(w http.ResponseWriter, r *http.Request) {
		dstHit = true
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	req := buildReq(t, request.MethodPost, srv.URL+"/redir")
	sent := false
	req.Body = streamBodyOnce(&sent, []byte("streamed"))

	resp, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want 307", resp.StatusCode)
	}
	if dstHit {
		t.Error("dst was hit; expected no re-dispatch for a non-clonable 307 body")
	}
}

// Scenario 3 (spec.md §8): on a cross-origin redirect, Authorization and
// Cookie must not survive to the new origin.
func TestExecute_CrossOriginRedirectStripsSensitiveHeaders(t *testing.T) {
	var originHost string
	var gotAuth, gotCookie string
	var originHit bool

	originMux := http.NewServeMux()
	destMux := http.NewServeMux()
	destSrv := httptest.NewServer(destMux)
	defer destSrv.Close()

	originMux.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		originHit = true
		http.Redirect(w, r, destSrv.URL+"/y", http.StatusFound)
	})
	originSrv := httptest.NewServer(originMux)
	defer originSrv.Close()
	originHost = originSrv.URL

	destMux.HandleFunc("/y", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		w.WriteHeader(http.StatusOK)
	})

	c := NewBuilder().Build()
	req := buildReq(t, request.MethodGet, originHost+"/x")
	req.Headers.SetSensitive("Authorization", "Bearer t", true)
	req.Headers.SetSensitive("Cookie", "s=1", true)

	resp, err := c.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	if !originHit {
		t.Fatal("origin was never hit")
	}
	if gotAuth != "" {
		t.Errorf("Authorization leaked to cross-origin redirect: %q", gotAuth)
	}
	if gotCookie != "" {
		t.Errorf("Cookie leaked to cross-origin redirect: %q", gotCookie)
	}
}

// Scenario 6 (spec.md §8): a redirect to itself is detected as a loop on
// the second observation of the URL, under the default policy.
func TestExecute_RedirectLoopDetected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	req := buildReq(t, request.MethodGet, srv.URL+"/loop")

	_, err := c.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected a redirect-loop error")
	}
	var herr *httperr.Error
	if !errors.As(err, &herr) || herr.Kind() != httperr.RedirectLoop {
		t.Fatalf("err = %v, want httperr.RedirectLoop", err)
	}
}

// For all redirect chains longer than the policy limit, execution fails
// with TooManyRedirects (spec.md §8).
func TestExecute_TooManyRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a?x=1", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Redirect(redirect.Limit(2)).Build()
	req := buildReq(t, request.MethodGet, srv.URL+"/a")

	_, err := c.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("expected a too-many-redirects error")
	}
	var herr *httperr.Error
	if !errors.As(err, &herr) || herr.Kind() != httperr.RedirectTooMany {
		t.Fatalf("err = %v, want httperr.RedirectTooMany", err)
	}
}

// spec.md §8: after a response sets Set-Cookie, a subsequent same-origin
// request that didn't set Cookie carries it.
func TestExecute_JarRoundTrip(t *testing.T) {
	var secondCookie string
	hits := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			http.SetCookie(w, &http.Cookie{Name: "k", Value: "v"})
			w.WriteHeader(http.StatusOK)
			return
		}
		secondCookie = r.Header.Get("Cookie")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().CookieJar(cookiejar.New()).Build()

	resp1, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	resp1.Close()

	resp2, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	resp2.Close()

	if secondCookie != "k=v" {
		t.Errorf("second request Cookie = %q, want %q", secondCookie, "k=v")
	}
}

// Scenario 4 (spec.md §8): a gzip-compressed chunked body split across two
// TCP writes still decodes correctly.
func TestExecute_ChunkedGzipAcrossFragments(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("hello"))
	gz.Close()
	compressed := buf.Bytes()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		half := len(compressed) / 2
		w.Write(compressed[:half])
		if flusher != nil {
			flusher.Flush()
		}
		w.Write(compressed[half:])
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	text, err := resp.Text()
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if text != "hello" {
		t.Errorf("decoded body = %q, want %q", text, "hello")
	}
}

// Empty body with Content-Encoding: gzip on a HEAD response decodes to an
// empty string (spec.md §8 boundary behaviors).
func TestExecute_EmptyGzipHeadResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodHead, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	text, err := resp.Text()
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if text != "" {
		t.Errorf("decoded body = %q, want empty", text)
	}
}

func TestExecute_ErrorForStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()
	if err := resp.ErrorForStatus(); err == nil {
		t.Fatal("expected ErrorForStatus to report the 404")
	}
}

func TestExecute_RequestTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().Timeout(20 * time.Millisecond).Build()
	_, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	var herr *httperr.Error
	if !errors.As(err, &herr) || herr.Kind() != httperr.Timeout {
		t.Fatalf("err = %v, want httperr.Timeout", err)
	}
}

// PerReadTimeout is a rolling deadline reset on every frame (spec.md
// §4.2.2), not a total-body deadline: a handler that stalls between writes
// longer than the per-read timeout must fail, even though headers arrived
// promptly and the total elapsed time is what TestExecute_RequestTimeout's
// whole-request Timeout would otherwise tolerate.
func TestExecute_PerReadTimeoutOnStalledBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("first-chunk"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("second-chunk"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().PerReadTimeout(20 * time.Millisecond).Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	_, err = resp.Text()
	if err == nil {
		t.Fatal("expected the stalled second frame to trip the per-read timeout")
	}
	var herr *httperr.Error
	if !errors.As(err, &herr) || herr.Kind() != httperr.Timeout {
		t.Fatalf("err = %v, want httperr.Timeout", err)
	}
}

// A body delivered with no stalls longer than the per-read timeout must
// decode normally; the rolling deadline resets on each frame rather than
// accumulating.
func TestExecute_PerReadTimeoutAllowsSteadyTrickle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, chunk := range []string{"a", "b", "c"} {
			w.Write([]byte(chunk))
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewBuilder().PerReadTimeout(500 * time.Millisecond).Build()
	resp, err := c.Execute(context.Background(), buildReq(t, request.MethodGet, srv.URL+"/"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	defer resp.Close()

	text, err := resp.Text()
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if text != "abc" {
		t.Errorf("decoded body = %q, want abc", text)
	}
}
