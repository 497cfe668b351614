package dialer

import (
	"sync"
	"time"

	"outbound-dialer/pkg/clock"
)

// Countdown is a single-shot timer that ticks once per second and runs an action
// when it reaches zero. Starting a new countdown cancels the previous one.
//
// Cancel stops the underlying timer; a tick already in flight observes the
// cancellation and does nothing. The action runs without the countdown's lock
// held, so owners that need cancellation to be totally ordered with expiry
// re-check their own state inside the action (see Session.expire). The same
// holds for onTick: a tick may be delivered after a Cancel that raced with it.
type Countdown struct {
	clk    clock.Clock
	onTick func(remaining int)

	mu        sync.Mutex
	gen       uint64
	running   bool
	remaining int
	timer     clock.Timer
}

// NewCountdown builds an idle countdown. onTick, if set, sees every remaining
// value after a tick, ending with 0 right before the action.
func NewCountdown(clk clock.Clock, onTick func(remaining int)) *Countdown {
	if clk == nil {
		clk = clock.Real()
	}
	return &Countdown{clk: clk, onTick: onTick}
}

// Start begins a countdown of seconds (at least 1).
func (c *Countdown) Start(seconds int, action func()) {
	if seconds < 1 {
		seconds = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
	c.running = true
	c.remaining = seconds
	c.scheduleLocked(c.gen, action)
}

// Cancel stops a running countdown and reports whether one was running.
// Cancelling an idle countdown is a no-op.
func (c *Countdown) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.running
	c.stopLocked()
	return was
}

// Remaining returns the seconds left, or false when no countdown is running.
func (c *Countdown) Remaining() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return 0, false
	}
	return c.remaining, true
}

func (c *Countdown) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.running = false
	c.remaining = 0
	c.gen++
}

func (c *Countdown) scheduleLocked(gen uint64, action func()) {
	c.timer = c.clk.AfterFunc(time.Second, func() { c.tick(gen, action) })
}

func (c *Countdown) tick(gen uint64, action func()) {
	c.mu.Lock()
	if !c.running || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.remaining--
	left := c.remaining
	if left > 0 {
		c.scheduleLocked(gen, action)
	} else {
		c.running = false
		c.timer = nil
	}
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(left)
	}
	if left == 0 && action != nil {
		action()
	}
}
