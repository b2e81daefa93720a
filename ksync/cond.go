package ksync

import (
	"github.com/tinykernel/sched/internal/dlist"
	"github.com/tinykernel/sched/klog"
	"github.com/tinykernel/sched/thread"
)

// condWaiter is one waiter's private binary semaphore, tagged with its
// effective priority at wait-time.
type condWaiter struct {
	sema *Sema
	tag  int
}

// CondVar is a Mesa-style condition variable (spec §4.6). Each waiter
// parks on its own private semaphore rather than a shared one, tagged by
// the priority it held when it started waiting.
//
// Open question, resolved: the tag is a snapshot taken once at Wait time
// and never refreshed, so a waiter that is donated-to while blocked on the
// condition does not move up C's wait-set ordering; Signal always wakes by
// wait-time priority, not current priority. This is the documented,
// intentional behavior — see SPEC_FULL.md's discussion — and
// TestSignalUsesWaitTimeSnapshot pins it.
type CondVar struct {
	waiters *dlist.List[*condWaiter]
}

// NewCondVar returns an empty condition variable.
func NewCondVar() *CondVar {
	return &CondVar{waiters: dlist.New(func(a, b *condWaiter) bool { return a.tag > b.tag })}
}

// Wait atomically releases l and blocks the caller, which must already
// hold l, until signaled; reacquires l before returning. The caller must
// re-check its condition after Wait returns (Mesa semantics: no guarantee
// the condition still holds).
func (c *CondVar) Wait(l *Lock) {
	thread.Lock()
	me := thread.CurrentLocked()
	if l.Holder() != me {
		thread.Unlock()
		klog.Fatalf("ksync: cond.Wait without holding its lock (by %q)", me.Name)
	}
	w := &condWaiter{sema: NewSema(0), tag: me.EffectivePriority()}
	c.waiters.Insert(w)
	thread.Unlock()

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest wait-time-priority waiter, if any. The caller
// must hold l.
func (c *CondVar) Signal(l *Lock) {
	thread.Lock()
	me := thread.CurrentLocked()
	if l.Holder() != me {
		thread.Unlock()
		klog.Fatalf("ksync: cond.Signal without holding its lock (by %q)", me.Name)
	}
	e := c.waiters.PopFront() // already sorted by tag descending at insert time
	thread.Unlock()
	if e != nil {
		e.Value.sema.Up()
	}
}

// Broadcast wakes every waiter, highest wait-time-priority first. The
// caller must hold l.
func (c *CondVar) Broadcast(l *Lock) {
	for {
		thread.Lock()
		empty := c.waiters.Empty()
		thread.Unlock()
		if empty {
			return
		}
		c.Signal(l)
	}
}
