package thread

import "github.com/tinykernel/sched/kconfig"

// MLFQSHook is implemented by mlfqs.Engine and registered via SetPolicy so
// that this package can compute effective priority under MLFQS without
// importing the mlfqs package (which imports thread). Keeping the two
// policies as a tagged variant selected at boot, rather than runtime
// branches scattered through thread/ksync, is the explicit design choice
// in spec §9.
type MLFQSHook interface {
	// Priority computes t's MLFQS priority from its current nice and
	// recent_cpu (spec §4.7's clamp formula).
	Priority(t *Thread) int
	// OnCreate is called once, right after a new thread's base fields are
	// set, so MLFQS can inherit nice/recent_cpu from the creator.
	OnCreate(t, creator *Thread)
}

var (
	activePolicy kconfig.Policy = kconfig.Donation
	mlfqsHook    MLFQSHook
)

// SetPolicy selects the scheduling policy. Called once at boot by
// package kernel; kind must be kconfig.Donation (hook ignored) or
// kconfig.MLFQS (hook required).
func SetPolicy(kind kconfig.Policy, hook MLFQSHook) {
	guard.Lock()
	defer guard.Unlock()
	activePolicy = kind
	mlfqsHook = hook
}

// Policy returns the currently active scheduling policy.
func Policy() kconfig.Policy {
	guard.Lock()
	defer guard.Unlock()
	return activePolicy
}

// Donates reports whether priority donation is active (spec §4.4: donation
// propagation only happens "if donation policy is active").
func Donates() bool { return activePolicy == kconfig.Donation }

// RecomputeEffectiveLocked updates t.effPriority per invariant 2 (donation)
// or the MLFQS formula (invariant 6). Caller must hold guard.
func RecomputeEffectiveLocked(t *Thread) {
	if activePolicy == kconfig.MLFQS {
		t.effPriority = mlfqsHook.Priority(t)
		return
	}
	eff := t.basePriority
	if front := t.donors.Front(); front != nil && front.Value.effPriority > eff {
		eff = front.Value.effPriority
	}
	t.effPriority = eff
}
