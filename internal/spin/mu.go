// Package spin implements the mutex used by the kernel as its stand-in for
// "disable interrupts for the duration of a critical section."
//
// There is no hardware interrupt line to disable in a hosted Go process, and
// every kernel thread here is backed by a real goroutine, so mutation of
// shared kernel state (ready queue, sleep set, wait sets, donor lists, tick
// counter) still needs genuine mutual exclusion against the periodic tick
// handler's goroutine. The teacher package's nsync.Mu earns its hand-rolled
// CAS-and-park design by serving as a general-purpose, low-latency,
// low-contention lock shared across a whole process; this kernel has exactly
// one critical section, entered and released constantly by whichever thread
// is currently running, so a plain sync.Mutex gives the same mutual
// exclusion with far less surface for a bug to hide in.
package spin

import (
	"sync"
	"sync/atomic"
)

// Mu is a critical-section guard. Its zero value is valid and unlocked.
type Mu struct {
	mu     sync.Mutex
	locked int32 // 1 while held; toggled under mu, read by AssertHeld
}

// TryLock attempts to acquire mu without blocking. Returns true on success.
func (mu *Mu) TryLock() bool {
	if mu.mu.TryLock() {
		atomic.StoreInt32(&mu.locked, 1)
		return true
	}
	return false
}

// Lock blocks until mu is free, then acquires it.
func (mu *Mu) Lock() {
	mu.mu.Lock()
	atomic.StoreInt32(&mu.locked, 1)
}

// Unlock releases mu. Panics if mu is not currently locked.
func (mu *Mu) Unlock() {
	if atomic.LoadInt32(&mu.locked) == 0 {
		panic("spin: unlock of unlocked Mu")
	}
	atomic.StoreInt32(&mu.locked, 0)
	mu.mu.Unlock()
}

// AssertHeld panics if mu is not currently locked. Used at the entry of
// internal *Locked helpers that assume the caller already holds the guard.
func (mu *Mu) AssertHeld() {
	if atomic.LoadInt32(&mu.locked) == 0 {
		panic("spin: Mu not held")
	}
}
