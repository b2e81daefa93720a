package thread

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/sched/kpage"
)

type fakeLock struct {
	mu     sync.Mutex
	holder *Thread
}

func (l *fakeLock) setHolder(t *Thread) {
	l.mu.Lock()
	l.holder = t
	l.mu.Unlock()
}

func (l *fakeLock) Holder() *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

// TestChainDonation exercises spec scenario 3: low holds lockA, medium
// blocks on lockA, high blocks on lockB held by medium. A single
// PropagateDonationLocked call starting from high must walk the whole
// wait-for chain, raising both medium's and low's effective priority.
func TestChainDonation(t *testing.T) {
	ResetForTest()
	Boot(kpage.NewAllocator(), false)
	idleReady := make(chan struct{})
	BootIdle(func() { close(idleReady) })
	select {
	case <-idleReady:
	case <-time.After(time.Second):
		require.Fail(t, "idle thread never reported ready")
	}

	lockA := &fakeLock{}
	lockB := &fakeLock{}

	lowReady := make(chan struct{})
	mediumDone := make(chan struct{})
	highDone := make(chan struct{})
	checked := make(chan int, 1)

	Create("low", 1, func(arg interface{}) {
		guard.Lock()
		me := current
		guard.Unlock()
		lockA.setHolder(me)
		close(lowReady)

		<-mediumDone
		<-highDone
		checked <- GetPriority()
	}, nil)

	select {
	case <-lowReady:
	case <-time.After(time.Second):
		require.Fail(t, "low never acquired lockA")
	}

	Create("medium", 2, func(arg interface{}) {
		guard.Lock()
		me := current
		me.SetWaitingOnLocked(lockA)
		PropagateDonationLocked(me, lockA)
		guard.Unlock()

		lockB.setHolder(me)
		close(mediumDone)
	}, nil)

	select {
	case <-mediumDone:
	case <-time.After(time.Second):
		require.Fail(t, "medium never finished its half of the chain")
	}

	Create("high", 3, func(arg interface{}) {
		guard.Lock()
		me := current
		me.SetWaitingOnLocked(lockB)
		PropagateDonationLocked(me, lockB)
		guard.Unlock()
		close(highDone)
	}, nil)

	select {
	case <-highDone:
	case <-time.After(time.Second):
		require.Fail(t, "high never finished propagating donation")
	}

	select {
	case eff := <-checked:
		assert.Equal(t, 3, eff, "low should run at high's donated priority across the two-hop chain")
	case <-time.After(time.Second):
		require.Fail(t, "low never reported its effective priority")
	}
}

// TestSelectiveRevocation checks that releasing one lock only removes the
// donors waiting specifically on that lock (spec §4.4's selective
// revocation), leaving donations tied to a thread's other held locks intact.
func TestSelectiveRevocation(t *testing.T) {
	ResetForTest()
	Boot(kpage.NewAllocator(), false)
	idleReady := make(chan struct{})
	BootIdle(func() { close(idleReady) })
	<-idleReady

	lockA := &fakeLock{}
	lockB := &fakeLock{}

	holderReady := make(chan struct{})
	donorADone := make(chan struct{})
	donorBDone := make(chan struct{})
	result := make(chan [2]int, 1)

	Create("holder", 1, func(arg interface{}) {
		guard.Lock()
		me := current
		guard.Unlock()
		lockA.setHolder(me)
		lockB.setHolder(me)
		close(holderReady)

		<-donorADone
		<-donorBDone

		guard.Lock()
		after := me.EffectivePriority()
		me.RemoveDonorsWaitingOnLocked(lockA)
		RecomputeEffectiveLocked(me)
		afterRevoke := me.EffectivePriority()
		guard.Unlock()
		result <- [2]int{after, afterRevoke}
	}, nil)
	<-holderReady

	Create("donorA", 2, func(arg interface{}) {
		guard.Lock()
		me := current
		me.SetWaitingOnLocked(lockA)
		PropagateDonationLocked(me, lockA)
		guard.Unlock()
		close(donorADone)
	}, nil)
	<-donorADone

	Create("donorB", 3, func(arg interface{}) {
		guard.Lock()
		me := current
		me.SetWaitingOnLocked(lockB)
		PropagateDonationLocked(me, lockB)
		guard.Unlock()
		close(donorBDone)
	}, nil)
	<-donorBDone

	select {
	case r := <-result:
		assert.Equal(t, 3, r[0], "holder runs at the higher of its two donors before any lock is released")
		assert.Equal(t, 2, r[1], "releasing lockA revokes only donorA, leaving donorB's donation")
	case <-time.After(time.Second):
		require.Fail(t, "holder never reported priorities")
	}
}
