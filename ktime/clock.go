// Package ktime implements the tick clock and sleep timer (spec §4.1): a
// monotonic tick counter, an ordered sleep set, and a periodic handler that
// plays the role of the timer IRQ, driving both slice-expiry preemption and
// (when active) the MLFQS per-tick/4-tick/1-second accounting.
package ktime

import (
	"time"

	"github.com/tinykernel/sched/internal/dlist"
	"github.com/tinykernel/sched/kconfig"
	"github.com/tinykernel/sched/mlfqs"
	"github.com/tinykernel/sched/thread"
)

// sleeper links a blocked thread into the sleep set, ordered by wake tick
// ascending (spec §3).
type sleeper struct {
	t        *thread.Thread
	wakeTick int64
}

// Clock owns the tick counter and sleep set, and — when MLFQS is the active
// policy — drives Engine's per-tick/4-tick/1-second recomputation. A nil
// engine means donation policy: only slice-expiry and sleep wake-ups run.
type Clock struct {
	cfg      kconfig.Config
	engine   *mlfqs.Engine
	ticks    int64
	sleepSet *dlist.List[*sleeper]
	stop     chan struct{}
	stopped  chan struct{}

	// OnTick, if set, is called once per tick after the handler's kernel-
	// internal work completes, guard released. Used by package metrics to
	// export gauges without this package importing Prometheus directly.
	OnTick func(c *Clock)
}

// NewClock returns a Clock for the given boot configuration. engine must be
// non-nil iff cfg.Policy == kconfig.MLFQS.
func NewClock(cfg kconfig.Config, engine *mlfqs.Engine) *Clock {
	return &Clock{
		cfg:      cfg,
		engine:   engine,
		sleepSet: dlist.New(func(a, b *sleeper) bool { return a.wakeTick < b.wakeTick }),
	}
}

// Ticks returns the current tick count (spec's timer_ticks).
func (c *Clock) Ticks() int64 {
	thread.Lock()
	defer thread.Unlock()
	return c.ticks
}

// Sleep blocks the calling thread for at least n ticks (spec's
// timer_sleep). n ≤ 0 returns immediately.
func (c *Clock) Sleep(n int64) {
	if n <= 0 {
		return
	}
	thread.Lock()
	me := thread.CurrentLocked()
	wake := c.ticks + n
	c.sleepSet.Insert(&sleeper{t: me, wakeTick: wake})
	thread.BlockLocked()
}

// Run starts the periodic handler on its own goroutine, firing every
// 1/cfg.TimerFreq seconds, standing in for the timer IRQ. Stop ends it.
func (c *Clock) Run() {
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})
	period := time.Second / time.Duration(c.cfg.TimerFreq)
	go func() {
		defer close(c.stopped)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.handleTick()
			}
		}
	}()
}

// Stop ends the periodic handler and waits for its goroutine to exit.
func (c *Clock) Stop() {
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.stopped
}

// TestTick runs one tick of the periodic handler synchronously, bypassing
// the real ticker. Exposed for tests that need deterministic control over
// tick timing instead of racing a real time.Ticker.
func (c *Clock) TestTick() { c.handleTick() }

// handleTick is the periodic handler (spec §4.1/§4.7). It never blocks:
// every kernel entry point it calls is a *Locked variant that only flags
// yield-on-return, per spec §5's interrupt-context rules.
func (c *Clock) handleTick() {
	thread.Lock()
	c.ticks++
	now := c.ticks

	running := thread.CurrentLocked()
	if c.engine != nil {
		c.engine.TickLocked(running)
	}
	if running.State() == thread.StateRunning {
		running.TickSliceLocked(kconfig.TimeSlice)
	}

	for {
		front := c.sleepSet.Front()
		if front == nil || front.Value.wakeTick > now {
			break
		}
		c.sleepSet.Remove(front)
		woken := front.Value.t
		thread.UnblockLocked(woken)
		if woken.EffectivePriority() > running.EffectivePriority() {
			thread.RequestYieldOnReturn()
		}
	}

	if c.engine != nil {
		if now%int64(c.cfg.TimerFreq) == 0 {
			c.engine.RecomputeLoadAndCPULocked()
		}
		if now%4 == 0 {
			c.engine.RecomputePrioritiesLocked(running)
		}
	}

	thread.Unlock()

	if c.OnTick != nil {
		c.OnTick(c)
	}
}
