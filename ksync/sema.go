// Package ksync implements the kernel's synchronization primitives: a
// counting semaphore, a mutex with priority donation, and a Mesa-style
// condition variable (spec §4.3/§4.4/§4.6). All three extend the thread
// package's critical-section guard to their own wait sets rather than
// taking a private lock, per the single interrupt-disable discipline.
package ksync

import (
	"github.com/tinykernel/sched/internal/dlist"
	"github.com/tinykernel/sched/klog"
	"github.com/tinykernel/sched/thread"
)

// Sema is a counting semaphore (spec §4.3). Its wait list is kept in
// arrival order; Up wakes the waiter with the highest current effective
// priority.
type Sema struct {
	value   int
	waiters *dlist.List[*thread.Thread]
}

// NewSema returns a semaphore with the given non-negative initial value.
func NewSema(initial int) *Sema {
	if initial < 0 {
		klog.Fatalf("ksync: negative semaphore initial value %d", initial)
	}
	return &Sema{value: initial, waiters: dlist.New[*thread.Thread](nil)}
}

// Down blocks until value > 0, then decrements it.
func (s *Sema) Down() {
	thread.Lock()
	me := thread.CurrentLocked()
	for s.value == 0 {
		s.waiters.PushBack(me)
		thread.BlockLocked() // releases guard; returns with it released
		thread.Lock()
	}
	s.value--
	thread.Unlock()
	thread.CheckPreemptionPoint()
}

// TryDown decrements and returns true if value > 0 without blocking,
// otherwise returns false immediately.
func (s *Sema) TryDown() bool {
	thread.Lock()
	if s.value == 0 {
		thread.Unlock()
		return false
	}
	s.value--
	thread.Unlock()
	return true
}

// Up increments value and, if a waiter is queued, wakes the one with the
// highest current effective priority (priorities may have drifted since
// they queued, so this is a live scan rather than a replay of insertion
// order). Yields immediately if the woken thread now outranks the caller.
func (s *Sema) Up() {
	thread.Lock()
	s.UpLocked()
	yieldNow := thread.ConsumeYieldRequestLocked()
	thread.Unlock()
	if yieldNow {
		thread.Yield()
	}
}

// UpLocked is Up without the trailing voluntary yield: it only flags
// yield-on-return (via thread.RequestYieldOnReturn). Use this from a
// context that must not itself park, such as the periodic tick handler
// (spec §5: interrupt handlers never block).
func (s *Sema) UpLocked() {
	thread.AssertHeld()
	me := thread.CurrentLocked()
	s.value++
	woken := popHighestLocked(s.waiters)
	if woken == nil {
		return
	}
	thread.UnblockLocked(woken)
	if woken.EffectivePriority() > me.EffectivePriority() {
		thread.RequestYieldOnReturn()
	}
}

// popHighestLocked removes and returns the waiter with the greatest current
// effective priority, front-to-back so ties keep FIFO order. Caller must
// hold the thread package's guard.
func popHighestLocked(l *dlist.List[*thread.Thread]) *thread.Thread {
	var best *dlist.Elem[*thread.Thread]
	l.Each(func(e *dlist.Elem[*thread.Thread]) {
		if best == nil || e.Value.EffectivePriority() > best.Value.EffectivePriority() {
			best = e
		}
	})
	if best == nil {
		return nil
	}
	l.Remove(best)
	return best.Value
}
