// Package metrics exports Prometheus collectors observing the scheduler:
// context switches, ready-queue depth, MLFQS load_avg, and a bucketed view
// of recent_cpu across live threads. This is the ambient observability
// layer the distilled spec's "console/logging facility" waves away as out
// of scope; the underlying counters are in scope because they are produced
// by in-scope components (spec §1 ADDED).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinykernel/sched/ktime"
	"github.com/tinykernel/sched/mlfqs"
	"github.com/tinykernel/sched/thread"
)

var (
	ContextSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_context_switches_total",
		Help: "Total number of dispatcher context switches.",
	})
	ReadyQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kernel_ready_queue_depth",
		Help: "Number of threads currently Ready, including the running thread if not idle.",
	})
	LoadAvg = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kernel_load_avg",
		Help: "MLFQS load_avg, scaled by 100 per the spec's observable unit. Zero under donation policy.",
	})
	RecentCPUBucket = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kernel_recent_cpu_bucket",
		Help:    "Distribution of live non-idle threads' recent_cpu, scaled by 100.",
		Buckets: prometheus.LinearBuckets(0, 50, 20),
	})
)

func init() {
	prometheus.MustRegister(ContextSwitches, ReadyQueueDepth, LoadAvg, RecentCPUBucket)
}

// Install wires the dispatcher's context-switch hook and the clock's
// per-tick hook into the package-level collectors above. engine may be nil
// under donation policy, in which case LoadAvg and RecentCPUBucket stay at
// zero. Called once by kernel.Boot.
func Install(clock *ktime.Clock, engine *mlfqs.Engine) {
	thread.OnContextSwitch = func(prev, next *thread.Thread) {
		ContextSwitches.Inc()
	}
	clock.OnTick = func(c *ktime.Clock) {
		thread.Lock()
		ReadyQueueDepth.Set(float64(thread.ReadyCountLocked()))
		if engine != nil {
			LoadAvg.Set(float64(engine.GetLoadAvgLocked()))
			idle := thread.IdleThreadLocked()
			thread.ForEachLiveLocked(func(t *thread.Thread) {
				if t == idle {
					return
				}
				RecentCPUBucket.Observe(float64(engine.GetRecentCPULocked(t)))
			})
		}
		thread.Unlock()
	}
}
