package mlfqs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/sched/kconfig"
	"github.com/tinykernel/sched/kpage"
	"github.com/tinykernel/sched/mlfqs"
	"github.com/tinykernel/sched/thread"
)

func bootMLFQS(t *testing.T) *mlfqs.Engine {
	t.Helper()
	thread.ResetForTest()
	engine := mlfqs.NewEngine()
	thread.SetPolicy(kconfig.MLFQS, engine)
	thread.Boot(kpage.NewAllocator(), false)
	ready := make(chan struct{})
	thread.BootIdle(func() { close(ready) })
	select {
	case <-ready:
	case <-time.After(time.Second):
		require.Fail(t, "idle thread never reported ready")
	}
	return engine
}

// TestPriorityFormula pins spec §4.7's clamp(PRI_MAX - recent_cpu/4 -
// 2*nice, PRI_MIN, PRI_MAX).
func TestPriorityFormula(t *testing.T) {
	engine := bootMLFQS(t)

	done := make(chan *thread.Thread, 1)
	thread.Create("w", kconfig.PriDefault, func(arg interface{}) {
		thread.SetNice(5)
		done <- thread.Current()
		thread.Block()
	}, nil)

	var worker *thread.Thread
	select {
	case worker = <-done:
	case <-time.After(time.Second):
		require.Fail(t, "worker never reported itself")
	}

	thread.Lock()
	worker.SetRecentCPULocked(80 * mlfqs.F) // recent_cpu = 80.0
	got := engine.Priority(worker)
	thread.Unlock()

	assert.Equal(t, 63-20-2*5, got)
}

// TestPriorityFormulaClamps checks the formula saturates at PRI_MIN rather
// than going negative under a heavy recent_cpu/nice combination.
func TestPriorityFormulaClamps(t *testing.T) {
	engine := bootMLFQS(t)

	done := make(chan *thread.Thread, 1)
	thread.Create("w", kconfig.PriDefault, func(arg interface{}) {
		thread.SetNice(kconfig.NiceMax)
		done <- thread.Current()
		thread.Block()
	}, nil)

	var worker *thread.Thread
	select {
	case worker = <-done:
	case <-time.After(time.Second):
		require.Fail(t, "worker never reported itself")
	}

	thread.Lock()
	worker.SetRecentCPULocked(1000 * mlfqs.F)
	got := engine.Priority(worker)
	thread.Unlock()

	assert.Equal(t, kconfig.PriMin, got)
}

// TestOnCreateInheritsFromParent checks that a new thread starts with its
// creator's nice and recent_cpu (spec §4.7), not zeroed defaults.
func TestOnCreateInheritsFromParent(t *testing.T) {
	bootMLFQS(t)

	type snapshot struct {
		nice      int
		recentCPU int64
	}
	result := make(chan snapshot, 1)

	thread.Create("parent", kconfig.PriDefault, func(arg interface{}) {
		thread.SetNice(7)
		thread.Lock()
		thread.CurrentLocked().SetRecentCPULocked(50 * mlfqs.F)
		thread.Unlock()

		thread.Create("child", kconfig.PriDefault, func(arg interface{}) {
			thread.Lock()
			c := thread.CurrentLocked()
			result <- snapshot{nice: c.Nice(), recentCPU: c.RecentCPU()}
			thread.Unlock()
			thread.Block()
		}, nil)

		thread.Block()
	}, nil)

	select {
	case got := <-result:
		assert.Equal(t, 7, got.nice)
		assert.Equal(t, int64(50*mlfqs.F), got.recentCPU)
	case <-time.After(time.Second):
		require.Fail(t, "child never reported its inherited state")
	}
}

// TestTickAddsOneWholeUnit checks the per-tick accounting: one tick of CPU
// use adds exactly F (one whole unit) to recent_cpu.
func TestTickAddsOneWholeUnit(t *testing.T) {
	engine := bootMLFQS(t)

	done := make(chan *thread.Thread, 1)
	thread.Create("w", kconfig.PriDefault, func(arg interface{}) {
		done <- thread.Current()
		thread.Block()
	}, nil)
	var worker *thread.Thread
	select {
	case worker = <-done:
	case <-time.After(time.Second):
		require.Fail(t, "worker never reported itself")
	}

	thread.Lock()
	for i := 0; i < 4; i++ {
		engine.TickLocked(worker)
	}
	got := worker.RecentCPU()
	thread.Unlock()

	assert.Equal(t, int64(4*mlfqs.F), got)
}

// TestTickSkipsIdle checks the idle thread never accrues recent_cpu, so it
// never self-penalizes out of being picked when nothing else is ready.
func TestTickSkipsIdle(t *testing.T) {
	engine := bootMLFQS(t)

	idle := thread.IdleThread()
	before := idle.RecentCPU()

	thread.Lock()
	engine.TickLocked(idle)
	after := idle.RecentCPU()
	thread.Unlock()

	assert.Equal(t, before, after)
}

// TestRecomputeLoadAndCPU pins the every-second decay formulas against a
// hand-computed fixed-point result: with only the calling ("main") thread
// counted as ready, ready_count = 1 and load_avg after one refresh is
// round(100 * 1/60) = 2.
func TestRecomputeLoadAndCPU(t *testing.T) {
	engine := bootMLFQS(t)

	thread.Lock()
	engine.RecomputeLoadAndCPULocked()
	load := engine.GetLoadAvgLocked()
	thread.Unlock()

	assert.Equal(t, int64(2), load)
}

// TestRecomputePrioritiesRepositionsReadyQueue checks that the every-4-tick
// recomputation re-sorts an already-Ready thread whose recent_cpu changed
// while queued (e.g. from real tick accounting), so the reordering takes
// effect immediately rather than waiting for the next insertion.
func TestRecomputePrioritiesRepositionsReadyQueue(t *testing.T) {
	engine := bootMLFQS(t)

	readyCh := make(chan *thread.Thread, 2)

	thread.Create("lazy", kconfig.PriDefault, func(arg interface{}) {
		readyCh <- thread.Current()
		thread.Block()
	}, nil)
	var lazy *thread.Thread
	select {
	case lazy = <-readyCh:
	case <-time.After(time.Second):
		require.Fail(t, "lazy never reported itself")
	}

	thread.Create("eager", kconfig.PriDefault, func(arg interface{}) {
		readyCh <- thread.Current()
		thread.Block()
	}, nil)
	var eager *thread.Thread
	select {
	case eager = <-readyCh:
	case <-time.After(time.Second):
		require.Fail(t, "eager never reported itself")
	}

	// Both start at nice 0 / recent_cpu 0 (tied, priority 63). Make both
	// Ready again, then inflate lazy's recent_cpu without recomputing its
	// effective priority -- the ready queue's current ordering is now
	// stale, the way real tick accounting would leave it between 4-tick
	// recomputations.
	thread.Unblock(lazy)
	thread.Unblock(eager)

	thread.Lock()
	lazy.SetRecentCPULocked(200 * mlfqs.F)
	running := thread.CurrentLocked()
	engine.RecomputePrioritiesLocked(running)
	front := thread.ReadyFrontLocked()
	thread.Unlock()

	assert.Same(t, eager, front, "eager should outrank lazy once recomputation catches up its inflated recent_cpu")
}
