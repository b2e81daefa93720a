package mlfqs

import (
	"github.com/tinykernel/sched/kconfig"
	"github.com/tinykernel/sched/thread"
)

// Engine is the MLFQS policy state (spec §4.7): the system-wide load_avg
// and the per-tick/per-4-tick/per-second recomputation logic. It implements
// thread.MLFQSHook and is registered once at boot via thread.SetPolicy.
type Engine struct {
	loadAvg int64 // 17.14 fixed-point; mutated only while thread's guard is held
}

// NewEngine returns an Engine with load_avg starting at zero.
func NewEngine() *Engine { return &Engine{} }

// Priority computes thread t's MLFQS priority from its current recent_cpu
// and nice: PRI_MAX − (recent_cpu/4) − 2·nice, clamped to [PRI_MIN,
// PRI_MAX]. Caller must hold the thread package's guard.
func (e *Engine) Priority(t *thread.Thread) int {
	quarterCPU := t.RecentCPU() / 4 // still fixed-point; scale unaffected by plain-int division
	p := kconfig.PriMax - int(toIntTrunc(quarterCPU)) - 2*t.Nice()
	return clamp(p, kconfig.PriMin, kconfig.PriMax)
}

// OnCreate inherits nice and recent_cpu from creator (a nil creator gives
// nice 0 / recent_cpu 0), then computes the new thread's priority
// immediately (spec §4.7). The thread package calls it only when a running
// thread exists, so the initial thread made by thread.Boot skips it and
// keeps PriDefault until the first 4-tick recomputation. Caller must hold
// the thread package's guard.
func (e *Engine) OnCreate(t, creator *thread.Thread) {
	nice, recentCPU := 0, int64(0)
	if creator != nil {
		nice = creator.Nice()
		recentCPU = creator.RecentCPU()
	}
	t.SetNiceRawLocked(nice)
	t.SetRecentCPULocked(recentCPU)
	thread.RecomputeEffectiveLocked(t)
}

// TickLocked implements the per-tick accounting: the running thread's
// recent_cpu increases by one whole unit, unless it's the idle thread.
// Caller must hold the thread package's guard.
func (e *Engine) TickLocked(running *thread.Thread) {
	if running == thread.IdleThreadLocked() {
		return
	}
	running.AddRecentCPULocked(F)
}

// RecomputePrioritiesLocked implements the every-4-ticks rule: recompute
// every live non-idle thread's priority from the current formula, then
// request a yield-on-return if the ready head now outranks the running
// thread. Caller must hold the thread package's guard.
func (e *Engine) RecomputePrioritiesLocked(running *thread.Thread) {
	idle := thread.IdleThreadLocked()
	thread.ForEachLiveLocked(func(t *thread.Thread) {
		if t == idle {
			return
		}
		thread.RecomputeEffectiveLocked(t)
		if t.State() == thread.StateReady {
			thread.RepositionReadyLocked(t)
		}
	})
	if thread.ReadyHeadBeatsLocked(running) {
		thread.RequestYieldOnReturn()
	}
}

// RecomputeLoadAndCPULocked implements the every-second rule: refresh
// load_avg from the current ready count, then refresh every live non-idle
// thread's recent_cpu from the decay formula. Caller must hold the thread
// package's guard.
func (e *Engine) RecomputeLoadAndCPULocked() {
	readyCount := fromInt(thread.ReadyCountLocked())
	fiftyNineSixtieths := div(fromInt(59), fromInt(60))
	oneSixtieth := div(fromInt(1), fromInt(60))
	e.loadAvg = mul(fiftyNineSixtieths, e.loadAvg) + mul(oneSixtieth, readyCount)

	twoLoad := mul(fromInt(2), e.loadAvg)
	coeff := div(twoLoad, twoLoad+F)
	idle := thread.IdleThreadLocked()
	thread.ForEachLiveLocked(func(t *thread.Thread) {
		if t == idle {
			return
		}
		newCPU := mul(coeff, t.RecentCPU()) + fromInt(t.Nice())
		t.SetRecentCPULocked(newCPU)
	})
}

// GetLoadAvgLocked returns round(100 * load_avg). Caller must hold the
// thread package's guard.
func (e *Engine) GetLoadAvgLocked() int64 {
	return toIntRound(mul(fromInt(100), e.loadAvg))
}

// GetRecentCPULocked returns round(100 * t.RecentCPU()). Caller must hold
// the thread package's guard.
func (e *Engine) GetRecentCPULocked(t *thread.Thread) int64 {
	return toIntRound(mul(fromInt(100), t.RecentCPU()))
}

// GetLoadAvg is the exported observable from spec §4.7:
// round(100 * load_avg). Safe to call from outside the critical section.
func (e *Engine) GetLoadAvg() int64 {
	thread.Lock()
	defer thread.Unlock()
	return e.GetLoadAvgLocked()
}

// GetRecentCPU is the exported observable from spec §4.7:
// round(100 * t.RecentCPU()). Safe to call from outside the critical
// section.
func (e *Engine) GetRecentCPU(t *thread.Thread) int64 {
	thread.Lock()
	defer thread.Unlock()
	return e.GetRecentCPULocked(t)
}
