package thread

import (
	"github.com/tinykernel/sched/internal/dlist"
	"github.com/tinykernel/sched/kconfig"
)

// AddDonorLocked registers donor as a lender in t.donors, sorted by
// effective priority descending (spec §4.5 step 1). If donor was already
// present — re-propagation after donor's own priority changed — it is
// removed and reinserted to restore order. Caller must hold guard.
func (t *Thread) AddDonorLocked(donor *Thread) {
	if donor.donorHandle != nil && t.donors.Contains(donor.donorHandle) {
		t.donors.Remove(donor.donorHandle)
	}
	donor.donorHandle = t.donors.Insert(donor)
}

// RemoveDonorsWaitingOnLocked performs selective revocation (spec §4.4/4.5):
// every donor in t.donors whose WaitingOn equals lock is removed, leaving
// donors waiting on other locks untouched. Caller must hold guard.
func (t *Thread) RemoveDonorsWaitingOnLocked(lock LockHandle) {
	t.donors.Each(func(e *dlist.Elem[*Thread]) {
		d := e.Value
		if d.waitingOn == lock {
			t.donors.Remove(e)
			d.donorHandle = nil
		}
	})
}

// PropagateDonationLocked walks the "thread waits on lock -> lock's holder"
// chain starting at donor, who has just set WaitingOn = lock, raising each
// holder's effective priority in turn (spec §4.5). The walk is bounded by
// kconfig.DonationDepthLimit both to cap worst-case latency inside the
// disabled-interrupt region and as a defensive cycle breaker. Caller must
// hold guard.
func PropagateDonationLocked(donor *Thread, lock LockHandle) {
	if !Donates() {
		return
	}
	d, l := donor, lock
	for depth := 0; depth < kconfig.DonationDepthLimit; depth++ {
		h := l.Holder()
		if h == nil || h == d {
			return
		}
		h.AddDonorLocked(d)
		RecomputeEffectiveLocked(h)
		if h.state == StateReady {
			readyQueue.Reposition(h)
		}
		if h.waitingOn == nil {
			return
		}
		d, l = h, h.waitingOn
	}
}
