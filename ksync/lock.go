package ksync

import (
	"github.com/tinykernel/sched/klog"
	"github.com/tinykernel/sched/thread"
)

// Lock is a non-recursive mutex implemented on top of a binary Sema, with
// priority donation on the contended path (spec §4.4). It implements
// thread.LockHandle so the donation engine can find its holder.
type Lock struct {
	sema   *Sema
	holder *thread.Thread // guarded by the thread package's critical section
}

// NewLock returns an unheld lock.
func NewLock() *Lock {
	return &Lock{sema: NewSema(1)}
}

// Holder returns the lock's current owner, or nil. Callers (the donation
// engine) must already hold the thread package's guard.
func (l *Lock) Holder() *thread.Thread { return l.holder }

// Acquire blocks until the lock is free. If it is currently held and
// donation policy is active, the caller donates its effective priority
// along the wait-for chain rooted at the holder before blocking.
func (l *Lock) Acquire() {
	thread.Lock()
	me := thread.CurrentLocked()
	if l.holder == me {
		thread.Unlock()
		klog.Fatalf("ksync: recursive Lock.Acquire by %q", me.Name)
	}
	if l.holder != nil && thread.Donates() {
		me.SetWaitingOnLocked(l)
		thread.PropagateDonationLocked(me, l)
	}
	thread.Unlock()

	l.sema.Down()

	thread.Lock()
	me.SetWaitingOnLocked(nil)
	l.holder = me
	me.AddHeldLockLocked(l)
	thread.Unlock()
	thread.CheckPreemptionPoint()
}

// TryAcquire acquires the lock without blocking, returning false if it is
// already held. No donation is needed since no waiting occurred.
func (l *Lock) TryAcquire() bool {
	if !l.sema.TryDown() {
		return false
	}
	thread.Lock()
	me := thread.CurrentLocked()
	l.holder = me
	me.AddHeldLockLocked(l)
	thread.Unlock()
	return true
}

// Release gives up ownership. Under donation policy, revokes selectively:
// only donors whose waitingOn is this lock are removed from the releaser's
// donor list (spec §4.4/§4.5 revocation), and effective priority is
// recomputed before the internal semaphore is upped.
func (l *Lock) Release() {
	thread.Lock()
	me := thread.CurrentLocked()
	if l.holder != me {
		thread.Unlock()
		klog.Fatalf("ksync: release of Lock not held by %q", me.Name)
	}
	l.holder = nil
	if thread.Donates() {
		me.RemoveHeldLockLocked(l)
		me.RemoveDonorsWaitingOnLocked(l)
		thread.RecomputeEffectiveLocked(me)
	}
	thread.Unlock()

	l.sema.Up()
}
