// Package thread implements the kernel's thread control block, ready queue,
// and dispatcher (spec §4.2), plus the donor bookkeeping and propagation
// algorithm that backs priority donation (§4.5) and the pluggable policy
// hook that MLFQS (see package mlfqs) registers into.
//
// Concurrency note: every kernel thread here is one goroutine. At most one
// is ever unparked at a time; internal/spin.Mu (guard) is the critical
// section that spec.md §5 calls "disabling interrupts," and it protects
// every field touched below. See SPEC_FULL.md §1 ADDED for the full
// rationale.
package thread

import (
	"sync/atomic"

	"github.com/tinykernel/sched/internal/dlist"
	"github.com/tinykernel/sched/kconfig"
	"github.com/tinykernel/sched/klog"
	"github.com/tinykernel/sched/kpage"
)

// ID uniquely identifies a thread, monotonically allocated.
type ID int64

// InvalidID is returned by Create when page allocation fails (spec §7).
const InvalidID ID = -1

// State is one of the four states in spec §3's Thread.state.
type State int32

const (
	StateBlocked State = iota
	StateReady
	StateRunning
	StateDying
)

func (s State) String() string {
	switch s {
	case StateBlocked:
		return "blocked"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDying:
		return "dying"
	default:
		return "unknown"
	}
}

var magicSentinel = [8]byte{0xDE, 0xAD, 0xC0, 0xDE, 0xC0, 0xFF, 0xEE, 0x42}

// LockHandle identifies a lock a thread may be blocked acquiring, so the
// donation engine can walk "thread waits on lock -> lock's holder" without
// this package importing ksync. ksync.Lock implements it.
type LockHandle interface {
	// Holder returns the thread that currently owns the lock, or nil.
	Holder() *Thread
}

// Thread is the kernel's thread control block (spec §3).
type Thread struct {
	ID   ID
	Name string

	state State

	basePriority int
	effPriority  int
	nice         int
	recentCPU    int64 // 17.14 fixed-point; meaningful only under MLFQS

	donors      *dlist.List[*Thread] // threads that have donated to me
	donorHandle *dlist.Elem[*Thread] // my node in some holder's donors list, while I'm a donor
	waitingOn   LockHandle           // the lock I'm blocked acquiring, or nil
	heldLocks   []LockHandle         // locks I currently hold

	readyPriority int   // snapshot of effPriority used as the ready-queue sort key
	readySeq      int64 // ready-queue insertion sequence, stamped fresh by every ReadyQueue.Insert

	page     *kpage.Page
	sentinel [8]byte

	resume chan struct{}
	entry  func(arg interface{})
	arg    interface{}

	sliceTicks int
}

// State returns the thread's current state. Safe to call from any goroutine;
// racy reads are expected to be used only for diagnostics/tests, as the
// authoritative value is only stable while guard is held.
func (t *Thread) State() State { return t.state }

// BasePriority returns the thread's configured (undonated) priority.
func (t *Thread) BasePriority() int { return t.basePriority }

// EffectivePriority returns the thread's current scheduling priority.
func (t *Thread) EffectivePriority() int { return t.effPriority }

// Nice returns the thread's MLFQS nice value.
func (t *Thread) Nice() int { return t.nice }

// RecentCPU returns the thread's MLFQS recent_cpu in 17.14 fixed-point.
func (t *Thread) RecentCPU() int64 { return t.recentCPU }

// SetNiceLocked sets nice and recomputes effective priority under MLFQS.
// Caller must hold guard.
func (t *Thread) SetNiceLocked(n int) {
	guard.AssertHeld()
	t.nice = n
	RecomputeEffectiveLocked(t)
	if activePolicy == kconfig.MLFQS {
		preemptIfReadyHeadBeatsLocked(t)
	}
}

// SetNiceRawLocked sets nice without recomputing effective priority or
// checking for preemption; used only by an MLFQSHook's OnCreate, before the
// new thread has an effective priority worth comparing against anything.
func (t *Thread) SetNiceRawLocked(n int) {
	guard.AssertHeld()
	t.nice = n
}

// AddRecentCPULocked adds delta (17.14 fixed-point) to recent_cpu.
func (t *Thread) AddRecentCPULocked(delta int64) {
	guard.AssertHeld()
	t.recentCPU += delta
}

// SetRecentCPULocked overwrites recent_cpu (used by the per-second MLFQS
// recomputation).
func (t *Thread) SetRecentCPULocked(v int64) {
	guard.AssertHeld()
	t.recentCPU = v
}

// Donors returns a snapshot of the threads currently donating to t, ordered
// by effective priority descending.
func (t *Thread) Donors() []*Thread {
	guard.Lock()
	defer guard.Unlock()
	return t.donors.Values()
}

// WaitingOnLocked returns the lock t is blocked acquiring, or nil. Caller
// must hold guard.
func (t *Thread) WaitingOnLocked() LockHandle { return t.waitingOn }

// SetWaitingOnLocked records the lock t is about to block acquiring (or nil
// to clear it). Caller must hold guard.
func (t *Thread) SetWaitingOnLocked(l LockHandle) { t.waitingOn = l }

// AddHeldLockLocked records l as held by t.
func (t *Thread) AddHeldLockLocked(l LockHandle) {
	t.heldLocks = append(t.heldLocks, l)
}

// RemoveHeldLockLocked drops l from t's held-lock set.
func (t *Thread) RemoveHeldLockLocked(l LockHandle) {
	for i, h := range t.heldLocks {
		if h == l {
			t.heldLocks = append(t.heldLocks[:i], t.heldLocks[i+1:]...)
			return
		}
	}
}

// HeldLocksLocked returns the locks t currently holds.
func (t *Thread) HeldLocksLocked() []LockHandle { return append([]LockHandle(nil), t.heldLocks...) }

// checkSentinel panics (via klog.Fatalf) if t's guard value has been
// corrupted, standing in for pintos's stack-overflow detection (spec §7).
func checkSentinel(t *Thread) {
	if t.sentinel != magicSentinel {
		klog.Fatalf("stack overflow likely: thread %q (id %d)", t.Name, t.ID)
	}
}

var nextSeq int64

func allocSeq() int64 { return atomic.AddInt64(&nextSeq, 1) }
