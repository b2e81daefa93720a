// Package kernel assembles thread, ksync, ktime, and (depending on boot
// configuration) mlfqs into one running scheduler, mirroring the teacher
// corpus's pattern of a small top-level package that does nothing but wire
// up already-independent pieces behind a Boot/Shutdown pair.
package kernel

import (
	"fmt"

	"github.com/tinykernel/sched/kconfig"
	"github.com/tinykernel/sched/klog"
	"github.com/tinykernel/sched/kpage"
	"github.com/tinykernel/sched/ktime"
	"github.com/tinykernel/sched/metrics"
	"github.com/tinykernel/sched/mlfqs"
	"github.com/tinykernel/sched/thread"
)

// Kernel is a booted scheduler: the calling goroutine becomes the initial
// ("main") kernel thread, an idle thread is running, and the tick source
// is ticking.
type Kernel struct {
	Config kconfig.Config
	Clock  *ktime.Clock
	Engine *mlfqs.Engine // nil under donation policy

	// ActivateUserSpace is invoked with the incoming thread on every
	// context switch once user programs are enabled (spec §6). nil is a
	// no-op; tests may install a double to observe switches.
	ActivateUserSpace func(t *thread.Thread)

	alloc kpage.Allocator
}

// Boot validates cfg, wires the policy engine, page allocator, dispatcher,
// and tick source, and returns the running Kernel. The calling goroutine
// becomes the initial thread (spec §4.2's bootstrap case); call Boot from
// the goroutine you want to play that role.
func Boot(cfg kconfig.Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kernel: invalid config: %w", err)
	}

	k := &Kernel{Config: cfg, alloc: kpage.NewAllocator()}

	if cfg.Policy == kconfig.MLFQS {
		k.Engine = mlfqs.NewEngine()
		thread.SetPolicy(kconfig.MLFQS, k.Engine)
	} else {
		thread.SetPolicy(kconfig.Donation, nil)
	}

	thread.Boot(k.alloc, cfg.UserProgramsEnabled)

	idleReady := make(chan struct{})
	thread.BootIdle(func() { close(idleReady) })

	thread.ActivationHook = func(t *thread.Thread) {
		if k.ActivateUserSpace != nil {
			k.ActivateUserSpace(t)
		}
	}

	k.Clock = ktime.NewClock(cfg, k.Engine)
	metrics.Install(k.Clock, k.Engine)
	k.Clock.Run()

	<-idleReady
	klog.Infof("kernel: booted, policy=%s timer_freq=%dHz", cfg.Policy, cfg.TimerFreq)
	return k, nil
}

// Shutdown stops the tick source. It does not tear down live threads;
// callers are expected to let them run to exit before shutting down, the
// same way the original kernel never really "shuts down" so much as halts.
func (k *Kernel) Shutdown() {
	k.Clock.Stop()
	klog.Infof("kernel: shutdown")
}
