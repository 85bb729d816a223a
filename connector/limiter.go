// limiter.go implements the concurrency-limiting connector layer described
// in spec.md DESIGN NOTES ("Connector layering: model as a unidirectional
// stack of Service<Url>-shaped adaptors").
//
// Adapted from worker/pool.go's WorkerPool: that type drained a shared job
// queue with a fixed goroutine count, using a buffered channel as
// back-pressure. Limiter repurposes the same "buffered channel as a
// semaphore" idiom, but as an acquire/release gate in front of Connect
// rather than a job-queue-draining pool, since the connector has no queue
// of its own to drain — callers call Connect directly and Limiter only
// bounds how many may be in flight at once.
package connector

import (
	"context"

	"github.com/ridgeway-labs/httpcore/httperr"
	"github.com/ridgeway-labs/httpcore/proxy"
)

// Limiter bounds the number of concurrent Connect calls. A Limiter with
// limit <= 0 imposes no bound.
type Limiter struct {
	slots chan struct{}
}

// NewLimiter returns a Limiter permitting up to limit concurrent connects.
func NewLimiter(limit int) *Limiter {
	if limit <= 0 {
		return &Limiter{}
	}
	return &Limiter{slots: make(chan struct{}, limit)}
}

// Connect acquires a slot (blocking until one is free or ctx is canceled),
// calls Connect, and releases the slot once the connect attempt resolves.
func (l *Limiter) Connect(ctx context.Context, host, port string, tlsDest bool, proxyScheme *proxy.Scheme, opts Options) (*Conn, error) {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
			defer func() { <-l.slots }()
		case <-ctx.Done():
			return nil, httperr.Wrap(httperr.Timeout, "acquire connector concurrency slot", ctx.Err())
		}
	}
	return Connect(ctx, host, port, tlsDest, proxyScheme, opts)
}

// InUse reports the number of connects currently holding a slot (0 if
// unlimited).
func (l *Limiter) InUse() int {
	if l.slots == nil {
		return 0
	}
	return len(l.slots)
}
