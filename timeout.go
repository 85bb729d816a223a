package httpcore

import (
	"context"
	"time"

	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/request"
)

// effectiveTimeout returns min(req.Timeout, c.timeout) over whichever of the
// two are set, per spec.md §4.2 step 5 ("the effective deadline is
// min(request.timeout, client.default_timeout)").
func (c *Client) effectiveTimeout(req *request.Request) time.Duration {
	if c.timeout > 0 && (req.Timeout <= 0 || c.timeout < req.Timeout) {
		return c.timeout
	}
	return req.Timeout
}

// withDeadline derives a child context (and its wall-clock deadline, used by
// dispatch to arm net.Conn.SetDeadline) bounding one attempt to d, or
// returns ctx unchanged with a zero deadline if d <= 0.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, time.Time, context.CancelFunc) {
	if d <= 0 {
		return ctx, time.Time{}, func() {}
	}
	deadline := time.Now().Add(d)
	child, cancel := context.WithDeadline(ctx, deadline)
	return child, deadline, cancel
}

// translateTimeout converts a context deadline-exceeded error (surfaced
// either directly by ctx or indirectly through a net.Conn read/write after
// SetDeadline fired) into an httperr.Timeout, per spec.md §4.2.2.
func translateTimeout(err error, ctx context.Context) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return httperr.Wrap(httperr.Timeout, "request deadline exceeded", err)
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		return httperr.Wrap(httperr.Timeout, "read/write deadline exceeded", err)
	}
	return err
}
