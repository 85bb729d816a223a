package httpcore

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ridgeway-labs/httpcore/body"
	"github.com/ridgeway-labs/httpcore/cookiejar"
	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/redirect"
	"github.com/ridgeway-labs/httpcore/request"
	"github.com/ridgeway-labs/httpcore/retry"
)

// Execute runs req through the full pipeline of spec.md §4.2: header
// defaulting, cookie injection, basic-auth extraction, dispatch, cookie
// capture, redirect following, and retry, returning a decoded Response or
// the first terminal error encountered.
func (c *Client) Execute(ctx context.Context, req *request.Request) (*Response, error) {
	start := time.Now()
	req.ExtractBasicAuth()
	c.applyRequestDefaults(req)

	timeout := c.effectiveTimeout(req)
	ctx, deadline, cancel := withDeadline(ctx, timeout)
	defer cancel()

	var visited []*url.URL
	current := req
	retryAttempt := 0

	for {
		resp, _, err := c.dispatch(ctx, current, deadline)
		err = translateTimeout(err, ctx)

		inScope := c.retryPolicy != nil && c.retryPolicy.InScope(scopeRequest(current))
		outcome := retry.Success
		if inScope {
			outcome = c.retryPolicy.Classify(resp, err)
		}

		if outcome != retry.Success {
			if c.retryPolicy.ShouldRetry(retryAttempt + 1) {
				if cloned := current.TryClone(); cloned != nil {
					if resp != nil {
						_ = resp.Body.Close()
					}
					retryAttempt++
					if c.metrics != nil {
						c.metrics.ObserveRetry(current.URL.Hostname())
					}
					c.log.Debugf("retrying %s %s (attempt %d)", current.Method, current.URL, retryAttempt)
					current = cloned
					continue
				}
			}
			// Budget exhausted, cap reached, or the body isn't clonable:
			// fall through and surface whatever the last attempt produced,
			// body intact.
		} else if inScope {
			if retryAttempt > 0 {
				c.retryPolicy.ReturnToken()
			}
			c.retryPolicy.Deposit()
		}

		if err != nil {
			c.observeOutcome("failed", start)
			return nil, err
		}

		c.captureCookies(resp, current.URL)

		if !isRedirectStatus(resp.StatusCode) || c.redirectPolicy == nil {
			return c.finalize(resp, current.URL, start)
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			return c.finalize(resp, current.URL, start)
		}
		next, parseErr := current.URL.Parse(loc)
		if parseErr != nil {
			_ = resp.Body.Close()
			c.observeOutcome("failed", start)
			return nil, httperr.Wrap(httperr.Builder, "parse redirect Location", parseErr).WithURL(current.URL)
		}

		visited = append(visited, current.URL)
		action := c.redirectPolicy.Redirect(redirect.Attempt{Status: resp.StatusCode, Next: next, Previous: visited})
		if c.metrics != nil {
			c.metrics.ObserveRedirect(redirectDecisionName(action))
		}

		switch action {
		case redirect.Follow:
			nextReq := redirectRequest(current, resp.StatusCode, next)
			if nextReq == nil {
				// Body isn't clonable (spec.md §4.2 step 8, 307/308 case):
				// give up on re-dispatch and hand the redirect response back
				// to the caller as-is, body intact.
				return c.finalize(resp, current.URL, start)
			}
			_ = resp.Body.Close()
			redirect.RemoveSensitiveHeaders(nextReq.Headers, next, visited)
			if ref := c.referer.RefererFor(current.URL, next); ref != "" {
				nextReq.Headers.Set("Referer", ref)
			} else {
				nextReq.Headers.Del("Referer")
			}
			c.injectCookies(nextReq)
			current = nextReq
			retryAttempt = 0
			continue
		case redirect.LoopDetected:
			_ = resp.Body.Close()
			c.observeOutcome("failed", start)
			return nil, httperr.New(httperr.RedirectLoop, "redirect loop detected").WithURL(next)
		case redirect.TooManyRedirects:
			_ = resp.Body.Close()
			c.observeOutcome("failed", start)
			return nil, httperr.New(httperr.RedirectTooMany, "too many redirects").WithURL(next)
		default: // redirect.Stop
			return c.finalize(resp, current.URL, start)
		}
	}
}

// applyRequestDefaults merges client-level defaults into req before the
// first dispatch, per spec.md §4.2 steps 1-2: default headers and
// User-Agent only fill gaps the request didn't already set; Accept-Encoding
// reflects the configured decoder bitset unless the caller already set
// Accept-Encoding or is making a ranged request (decompression would break
// byte-offset semantics, original_source/src/async_impl/client.rs:566-569);
// cookies come from the jar.
func (c *Client) applyRequestDefaults(req *request.Request) {
	req.Headers.SetTitleCase(c.http1TitleCaseHeaders)
	c.defaultHeaders.Range(func(key, value string, sensitive bool) {
		if !req.Headers.Has(key) {
			req.Headers.AddSensitive(key, value, sensitive)
		}
	})
	if !req.Headers.Has("User-Agent") {
		req.Headers.Set("User-Agent", c.userAgent)
	}
	if !req.Headers.Has("Accept-Encoding") && !req.Headers.Has("Range") {
		if enc := c.bitset.AcceptEncodingHeader(); enc != "" {
			req.Headers.Set("Accept-Encoding", enc)
		}
	}
	c.injectCookies(req)
}

// injectCookies sets the Cookie header for req.URL from the configured jar,
// a no-op when no jar is attached (spec.md §4.2 step 2).
func (c *Client) injectCookies(req *request.Request) {
	if c.jar == nil {
		return
	}
	if ck := c.jar.CookieHeader(req.URL); ck != "" {
		req.Headers.Set("Cookie", ck)
	}
}

// captureCookies parses every Set-Cookie value off resp and stores it
// against u, per spec.md §4.2 step 7. Malformed Set-Cookie values are
// dropped silently, matching cookiejar.Jar.StoreResponseCookies's documented
// contract that parse failures are the caller's concern.
func (c *Client) captureCookies(resp *http.Response, u *url.URL) {
	if c.jar == nil {
		return
	}
	raw := resp.Header.Values("Set-Cookie")
	if len(raw) == 0 {
		return
	}
	cookies := make([]cookiejar.Cookie, 0, len(raw))
	for _, sc := range raw {
		if ck, err := cookiejar.ParseSetCookie(sc); err == nil {
			cookies = append(cookies, ck)
		}
	}
	if len(cookies) > 0 {
		c.jar.StoreResponseCookies(cookies, u)
	}
}

// finalize wraps raw into a decoded Response and records request-level
// metrics.
func (c *Client) finalize(raw *http.Response, u *url.URL, start time.Time) (*Response, error) {
	resp, err := newResponse(raw, u, c.bitset, c.perReadTimeout)
	if err != nil {
		c.observeOutcome("failed", start)
		return nil, err
	}
	c.observeOutcome("success", start)
	return resp, nil
}

func (c *Client) observeOutcome(outcome string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveRequest(outcome, time.Since(start))
	}
}

// scopeRequest builds the minimal *http.Request a retry.Scope/Classifier
// needs (URL and method only; retry decisions never inspect the body).
func scopeRequest(r *request.Request) *http.Request {
	return &http.Request{Method: string(r.Method), URL: r.URL}
}

// isRedirectStatus reports whether status is one of the redirect codes
// spec.md §4.2.1 follows.
func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func redirectDecisionName(a redirect.Action) string {
	switch a {
	case redirect.Follow:
		return "follow"
	case redirect.LoopDetected:
		return "loop_detected"
	case redirect.TooManyRedirects:
		return "too_many_redirects"
	default:
		return "stop"
	}
}

// redirectRequest builds the request for the next hop, per spec.md §4.2.1:
// 301/302/303 demote any method other than GET/HEAD to GET and drop the body
// along with its Content-*/Transfer-Encoding headers; 307/308 preserve method
// and body, requiring the body to be clonable (nil is returned, meaning
// "give up and return the redirect response as-is", if it isn't).
func redirectRequest(prev *request.Request, status int, next *url.URL) *request.Request {
	ext := make(map[string]any, len(prev.Extensions))
	for k, v := range prev.Extensions {
		ext[k] = v
	}

	method := prev.Method
	headers := prev.Headers.Clone()
	var bd *body.Body

	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		if prev.Method != request.MethodGet && prev.Method != request.MethodHead {
			method = request.MethodGet
		}
		headers.Del("Transfer-Encoding")
		headers.Del("Content-Encoding")
		headers.Del("Content-Type")
		headers.Del("Content-Length")
	default: // 307, 308: preserve method and body
		if prev.Body != nil {
			bd = prev.Body.TryClone()
			if bd == nil {
				return nil
			}
		}
	}

	return &request.Request{
		Method:     method,
		URL:        next,
		Headers:    headers,
		Body:       bd,
		Timeout:    prev.Timeout,
		Version:    prev.Version,
		CORSFlag:   prev.CORSFlag,
		Extensions: ext,
	}
}
