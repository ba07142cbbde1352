// Package timeout implements the adaptive generation deadline: a base budget
// that is extended once when the model starts producing real output.
package timeout

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	DefaultBase      = 30 * time.Second
	DefaultExtension = 15 * time.Second
)

// ErrTimedOut is the cancellation cause when the adaptive deadline fires.
var ErrTimedOut = errors.New("generation timed out")

var errCompleted = errors.New("generation completed")

type State int

const (
	Running State = iota
	Completed
	TimedOut
	Canceled
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type Config struct {
	Base      time.Duration
	Extension time.Duration
}

// Controller owns a context that is cancelled by whichever of timeout,
// external cancel, or Complete happens first. Only that first outcome is
// recorded.
type Controller struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	ext time.Duration

	mu           sync.Mutex
	timer        *time.Timer
	deadline     time.Time
	state        State
	extended     bool
	stopExternal func() bool
}

func New(parent context.Context, cfg Config) *Controller {
	base := cfg.Base
	if base <= 0 {
		base = DefaultBase
	}
	ext := cfg.Extension
	if ext < 0 {
		ext = 0
	}

	ctx, cancel := context.WithCancelCause(parent)
	c := &Controller{
		ctx:      ctx,
		cancel:   cancel,
		ext:      ext,
		deadline: time.Now().Add(base),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = time.AfterFunc(base, func() { c.finish(TimedOut, ErrTimedOut) })
	c.stopExternal = context.AfterFunc(parent, func() { c.finish(Canceled, context.Cause(parent)) })
	return c
}

// Context is cancelled when the controller reaches a terminal state.
func (c *Controller) Context() context.Context { return c.ctx }

// NotifyFirstModule extends the deadline by the configured extension. Only
// the first call while running has an effect.
func (c *Controller) NotifyFirstModule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running || c.extended || c.ext == 0 {
		return
	}
	if !c.timer.Stop() {
		// Already fired; finish is waiting on mu and will record the timeout.
		return
	}
	c.extended = true
	c.deadline = c.deadline.Add(c.ext)
	c.timer.Reset(time.Until(c.deadline))
}

// Complete records natural completion and releases the timer.
func (c *Controller) Complete() {
	c.finish(Completed, errCompleted)
}

func (c *Controller) finish(s State, cause error) {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.timer.Stop()
	stop := c.stopExternal
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.cancel(cause)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) TimedOut() bool { return c.State() == TimedOut }

func (c *Controller) DidExtend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extended
}

func (c *Controller) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}
