// Package deadline implements the per-request global timer. Every
// suspending operation in the pipeline derives from a Context created
// here; expiry is a terminal state, never an error surfaced to the
// client.
package deadline

import (
	"context"
	"sync"
	"time"

	"docuquery/pkg/log"
)

// Context bundles a request's start time, timeout, and cancellation
// signal. It is shared read-only by every component it is passed into;
// the Controller owns its lifecycle.
type Context struct {
	ID        string
	StartTime time.Time
	Timeout   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// Ctx returns the cancellable context backing this deadline. All
// outbound I/O must use it.
func (c *Context) Ctx() context.Context { return c.ctx }

// Done exposes the edge-triggered cancellation signal.
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Expired reports whether the global timer has fired. The transition
// is monotonic false -> true.
func (c *Context) Expired() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Remaining returns the time left before expiry. Contexts without a
// timeout report a large positive duration.
func (c *Context) Remaining() time.Duration {
	dl, ok := c.ctx.Deadline()
	if !ok {
		return time.Hour * 24 * 365
	}
	return time.Until(dl)
}

// Clamp returns min(d, Remaining()), the sub-timeout contract for
// embedding calls and sidecar requests.
func (c *Context) Clamp(d time.Duration) time.Duration {
	if rem := c.Remaining(); rem < d {
		return rem
	}
	return d
}

// Controller is the process-wide registry of active deadlines, keyed
// by request id. It is the only process-wide mutable state in the
// system; all mutations are serialized.
type Controller struct {
	mu     sync.Mutex
	active map[string]*Context
	logger interface {
		Debug(msg string, args ...any)
	}
}

func NewController() *Controller {
	return &Controller{
		active: make(map[string]*Context),
		logger: log.WithModule("deadline"),
	}
}

// Start registers a new deadline for the given request id. A timeout
// of zero or less means the timer is disabled and the context never
// expires on its own.
func (c *Controller) Start(id string, timeout time.Duration) *Context {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	dctx := &Context{
		ID:        id,
		StartTime: time.Now(),
		Timeout:   timeout,
		ctx:       ctx,
		cancel:    cancel,
	}

	c.mu.Lock()
	c.active[id] = dctx
	c.mu.Unlock()

	c.logger.Debug("deadline started", "request_id", id, "timeout", timeout)
	return dctx
}

// Get returns the registered context for a request id, if any.
func (c *Controller) Get(id string) (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dctx, ok := c.active[id]
	return dctx, ok
}

// Complete removes the entry and stops its timer if still pending.
// Idempotent: completing an unknown or already-completed id is a no-op.
func (c *Controller) Complete(id string) {
	c.mu.Lock()
	dctx, ok := c.active[id]
	if ok {
		delete(c.active, id)
	}
	c.mu.Unlock()

	if ok {
		dctx.cancel()
		c.logger.Debug("deadline completed", "request_id", id, "elapsed", time.Since(dctx.StartTime))
	}
}

// ActiveCount reports how many requests currently hold a deadline.
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
