// Package timer is the per-turn countdown that drives automatic selection.
package timer

import (
	"sync"
	"time"
)

type State string

const (
	Idle    State = "idle"
	Running State = "running"
	Expired State = "expired"
)

// Ticker is the slice of *time.Ticker the controller needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickSource builds a ticker firing every d. Tests inject a manual one.
type TickSource func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func RealTicks(d time.Duration) Ticker { return realTicker{t: time.NewTicker(d)} }

// Status is a point-in-time read of the controller.
type Status struct {
	State     State
	Slot      int
	Remaining int
}

type Options struct {
	// OnTick is called after every second with the time left.
	OnTick func(slot, remaining int)
	// OnExpire is called exactly once per armed turn that runs out.
	OnExpire func(slot int)
	Ticks    TickSource
}

// Controller counts one turn down at a time. Arming a new slot replaces
// the previous countdown; stale tick goroutines notice the generation
// change and exit without firing.
type Controller struct {
	mu        sync.Mutex
	state     State
	slot      int
	remaining int
	gen       int
	ticker    Ticker
	quit      chan struct{}
	opts      Options
}

func New(opts Options) *Controller {
	if opts.Ticks == nil {
		opts.Ticks = RealTicks
	}
	return &Controller{state: Idle, slot: -1, opts: opts}
}

// Arm starts a full countdown for slot. Re-arming the slot already counting
// (or already expired) is a no-op, so callers can arm on every recompute.
func (c *Controller) Arm(slot, seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle && c.slot == slot {
		return
	}
	c.startLocked(slot, seconds)
}

func (c *Controller) startLocked(slot, seconds int) {
	c.stopLocked()
	c.gen++
	c.state = Running
	c.slot = slot
	c.remaining = seconds
	t := c.opts.Ticks(time.Second)
	c.ticker = t
	c.quit = make(chan struct{})
	go c.run(c.gen, t, c.quit)
}

// Stop cancels any countdown and returns to Idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
	c.state = Idle
	c.slot = -1
	c.remaining = 0
}

func (c *Controller) stopLocked() {
	if c.ticker != nil {
		c.ticker.Stop()
		close(c.quit)
		c.ticker = nil
	}
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Slot: c.slot, Remaining: c.remaining}
}

func (c *Controller) run(gen int, t Ticker, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case <-t.C():
		}
		c.mu.Lock()
		if gen != c.gen || c.state != Running {
			c.mu.Unlock()
			return
		}
		c.remaining--
		slot, remaining := c.slot, c.remaining
		expired := remaining <= 0
		if expired {
			c.remaining = 0
			c.state = Expired
			c.stopLocked()
		}
		c.mu.Unlock()

		if c.opts.OnTick != nil {
			c.opts.OnTick(slot, max(remaining, 0))
		}
		if expired {
			if c.opts.OnExpire != nil {
				c.opts.OnExpire(slot)
			}
			return
		}
	}
}
