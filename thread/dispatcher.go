package thread

import (
	"github.com/tinykernel/sched/internal/dlist"
	"github.com/tinykernel/sched/internal/spin"
	"github.com/tinykernel/sched/kconfig"
	"github.com/tinykernel/sched/klog"
	"github.com/tinykernel/sched/kpage"
)

// guard is the kernel's single critical-section lock; see the package doc.
var guard spin.Mu

// Lock acquires the kernel-wide critical section that stands in for
// disabling interrupts (spec §5). ksync, ktime, and mlfqs extend the same
// section to their own state (wait sets, the tick counter, load_avg) rather
// than each taking a private lock, matching the spec's single discipline
// covering every piece of shared kernel state.
func Lock() { guard.Lock() }

// Unlock releases the critical section acquired by Lock.
func Unlock() { guard.Unlock() }

// AssertHeld panics if the critical section is not currently held. Used at
// the entry of *Locked helpers, here and in ksync/ktime/mlfqs.
func AssertHeld() { guard.AssertHeld() }

var (
	readyQueue  = NewReadyQueue()
	current     *Thread
	idleThread  *Thread
	initThread  *Thread
	allocator   kpage.Allocator
	destruction []*Thread // pages awaiting reclamation, reaped at the head of the next schedule()

	// ActivationHook is invoked with the incoming thread on every context
	// switch when user programs are enabled (spec §6). nil is a no-op.
	ActivationHook func(t *Thread)
	userProgramsOn bool

	// OnContextSwitch is invoked with the outgoing and incoming threads on
	// every genuine context switch (prev != next), regardless of whether
	// user programs are enabled. nil is a no-op; package metrics installs
	// a counter here.
	OnContextSwitch func(prev, next *Thread)
)

// Boot installs the page allocator and creates the initial thread, which
// represents the goroutine calling Boot itself (spec: "New -> Blocked during
// init, immediately -> Ready on insertion" does not apply to the initial
// thread -- it starts Running, the way pintos's thread_init bootstraps the
// currently-executing context rather than spawning it). It must be called
// exactly once, before any other thread package function.
func Boot(alloc kpage.Allocator, userPrograms bool) *Thread {
	guard.Lock()
	allocator = alloc
	userProgramsOn = userPrograms
	page := mustAlloc()
	initThread = newThreadOnPage("main", kconfig.PriDefault, page)
	initThread.state = StateRunning
	current = initThread
	guard.Unlock()
	return initThread
}

// BootIdle creates the idle thread (lowest priority) and, since nothing
// ever outranks it in the ready queue, forces it to run once by blocking
// the calling thread until idle signals back — the same handshake the
// original kernel's thread_start performs with a startup semaphore, here
// built directly from Block/Unblock since ksync (which has the Sema type)
// imports this package and can't be imported back. idle records itself in
// idleThread, invokes onReady, unblocks the caller, and only then settles
// into its permanent "block forever, run only when nothing else is ready"
// loop (spec §4.2).
func BootIdle(onReady func()) *Thread {
	guard.Lock()
	page := mustAlloc()
	t := newThreadOnPage("idle", kconfig.PriMin, page)
	t.effPriority = kconfig.PriMin // undo an MLFQS OnCreate recompute
	caller := current
	idleThread = t
	t.entry = func(interface{}) {
		if onReady != nil {
			onReady()
		}
		Unblock(caller)
		for {
			Block()
		}
	}
	t.state = StateReady
	readyQueue.Insert(t)
	guard.Unlock()

	go runThread(t)
	Block() // only Ready thread left is idle; this forces it to run once
	return t
}

func mustAlloc() *kpage.Page {
	if allocator == nil {
		klog.Fatalf("thread: Boot must install a page allocator first")
	}
	p := allocator.Alloc()
	return p
}

func newThreadOnPage(name string, priority int, page *kpage.Page) *Thread {
	t := &Thread{
		ID:           ID(allocSeq()),
		Name:         name,
		state:        StateBlocked,
		basePriority: priority,
		effPriority:  priority,
		donors:       dlist.New(func(a, b *Thread) bool { return a.effPriority > b.effPriority }),
		page:         page,
		sentinel:     magicSentinel,
		resume:       make(chan struct{}),
	}
	if mlfqsHook != nil && current != nil {
		mlfqsHook.OnCreate(t, current)
	}
	registerLiveLocked(t)
	return t
}

// Create allocates a new thread running entry(arg), named name, at the
// given base priority, and makes it Ready (spec §4.2). Returns InvalidID if
// page allocation failed.
func Create(name string, priority int, entry func(arg interface{}), arg interface{}) ID {
	guard.Lock()
	page := allocator.Alloc()
	if page == nil {
		guard.Unlock()
		return InvalidID
	}
	t := newThreadOnPage(name, priority, page)
	t.entry = entry
	t.arg = arg
	creator := current
	t.state = StateReady
	readyQueue.Insert(t)
	shouldYield := creator != nil && t.effPriority > creator.effPriority
	guard.Unlock()

	go runThread(t)

	if shouldYield {
		Yield()
	}
	return t.ID
}

// runThread is the "wrapper" spec §4.2 describes: the first resume of a new
// thread's frame lands here, which (conceptually) enables interrupts and
// invokes entry(arg), exiting on return.
func runThread(t *Thread) {
	<-t.resume
	t.entry(t.arg)
	Exit()
}

// Current returns the running thread, checking its sentinel first (spec
// §7's stack-overflow detection).
func Current() *Thread {
	guard.Lock()
	t := current
	guard.Unlock()
	checkSentinel(t)
	return t
}

// CurrentLocked returns the running thread without acquiring guard; the
// caller must already hold it (ksync and ktime extend the same critical
// section via Lock/Unlock and need the running thread inside it).
func CurrentLocked() *Thread {
	guard.AssertHeld()
	return current
}

// Yield voluntarily gives up the CPU. If the caller is not the idle thread
// it is re-enqueued at its priority position; the dispatcher then runs
// (spec §4.2).
func Yield() {
	guard.Lock()
	t := current
	if t != idleThread {
		t.state = StateReady
		readyQueue.Insert(t)
	}
	schedule()
}

// Block transitions the current thread to Blocked and invokes the
// dispatcher. The caller is responsible for having already enqueued itself
// on whatever wait set it's blocking on, under guard, before calling Block
// (use BlockLocked if guard is already held).
func Block() {
	guard.Lock()
	BlockLocked()
}

// BlockLocked is Block assuming guard is already held.
func BlockLocked() {
	guard.AssertHeld()
	current.state = StateBlocked
	schedule()
}

// Unblock moves a Blocked thread to Ready, inserting it in priority order.
// It does not itself preempt (spec §4.2); callers decide whether to yield.
func Unblock(t *Thread) {
	guard.Lock()
	UnblockLocked(t)
	guard.Unlock()
}

// UnblockLocked is Unblock assuming guard is already held.
func UnblockLocked(t *Thread) {
	guard.AssertHeld()
	if t.state != StateBlocked {
		klog.Fatalf("thread: unblock of non-blocked thread %q (state %s)", t.Name, t.state)
	}
	t.state = StateReady
	readyQueue.Insert(t)
}

// ReadyHeadBeatsLocked reports whether the ready queue's head has higher
// effective priority than t; used by callers deciding whether to yield.
// Caller must hold guard.
func ReadyHeadBeatsLocked(t *Thread) bool {
	head := readyQueue.Front()
	return head != nil && head.effPriority > t.effPriority
}

// TickSliceLocked debits one tick from t's current time slice (spec §4.1:
// "debits the running thread's slice"), requesting a yield-on-return once
// it reaches limit. Caller must hold guard.
func (t *Thread) TickSliceLocked(limit int) {
	guard.AssertHeld()
	t.sliceTicks++
	if t.sliceTicks >= limit {
		RequestYieldOnReturn()
	}
}

func preemptIfReadyHeadBeatsLocked(t *Thread) {
	if ReadyHeadBeatsLocked(t) {
		RequestYieldOnReturn()
	}
}

// yieldRequested is set by interrupt-context callers (the tick handler,
// sema_up/lock_release/cond_signal when called with guard already held on
// an interrupt path) that want a yield to happen at "interrupt return"
// rather than recursing into the dispatcher directly.
var yieldRequested bool

// RequestYieldOnReturn flags that the next opportunity (the periodic
// handler's return, or the next voluntary check) should yield. Caller must
// hold guard.
func RequestYieldOnReturn() { yieldRequested = true }

// ConsumeYieldRequestLocked reports and clears the pending yield-on-return
// flag. Caller must hold guard.
func ConsumeYieldRequestLocked() bool {
	r := yieldRequested
	yieldRequested = false
	return r
}

// CheckPreemptionPoint yields if a prior tick or priority recomputation
// flagged a pending preemption. This model has no true asynchronous
// preemption: the tick handler runs on its own goroutine and can only
// request that the running thread yield, not force it off the CPU between
// arbitrary instructions the way a real timer interrupt would. Every
// blocking primitive in ksync already calls this implicitly on its way
// back from a wait; a CPU-bound thread body that never blocks should call
// it explicitly at natural loop boundaries so slice-expiry preemption
// still takes effect.
func CheckPreemptionPoint() {
	guard.Lock()
	yieldNow := ConsumeYieldRequestLocked()
	guard.Unlock()
	if yieldNow {
		Yield()
	}
}

// Exit transitions the current thread to Dying and never returns to the
// caller; its page is reclaimed by a later dispatcher pass (spec §4.2,
// §5's deferred-reap resource discipline).
func Exit() {
	guard.Lock()
	current.state = StateDying
	schedule()
	select {} // schedule() returns without waiting when prev is Dying; park this goroutine for good
}

// SetPriority updates the current thread's base priority. A no-op under
// MLFQS (spec §4.2/§4.7).
func SetPriority(p int) {
	guard.Lock()
	if activePolicy == kconfig.MLFQS {
		guard.Unlock()
		return
	}
	if p < kconfig.PriMin || p > kconfig.PriMax {
		guard.Unlock()
		klog.Fatalf("thread: invalid priority %d", p)
	}
	t := current
	t.basePriority = p
	RecomputeEffectiveLocked(t)
	preemptIfReadyHeadBeatsLocked(t)
	yieldNow := ConsumeYieldRequestLocked()
	guard.Unlock()
	if yieldNow {
		Yield()
	}
}

// GetPriority returns the current thread's effective priority.
func GetPriority() int {
	guard.Lock()
	defer guard.Unlock()
	return current.effPriority
}

// SetNice sets the current thread's MLFQS nice value and recomputes its
// priority accordingly, yielding immediately if the ready head now
// outranks it (spec §4.7).
func SetNice(n int) {
	guard.Lock()
	t := current
	t.SetNiceLocked(n)
	yieldNow := ConsumeYieldRequestLocked()
	guard.Unlock()
	if yieldNow {
		Yield()
	}
}

// GetNice returns the current thread's MLFQS nice value.
func GetNice() int {
	guard.Lock()
	defer guard.Unlock()
	return current.Nice()
}

// schedule is the dispatcher (spec §4.2). Caller must hold guard and must
// have already transitioned current's state out of Running. It reaps any
// page on the destruction queue, picks the next thread to run, performs the
// (simulated) context switch, and releases guard.
func schedule() {
	guard.AssertHeld()
	reapDestroyedLocked()

	next := readyQueue.PopFront()
	if next == nil {
		next = idleThread
	} else if next == idleThread {
		// idle is queued only once, by BootIdle, for its first run.
	}

	prev := current
	next.state = StateRunning
	next.sliceTicks = 0
	current = next

	if prev.state == StateDying && prev != initThread {
		destruction = append(destruction, prev)
	}

	if prev != next {
		if ActivationHook != nil && userProgramsOn {
			ActivationHook(next)
		}
		if OnContextSwitch != nil {
			OnContextSwitch(prev, next)
		}
	}

	guard.Unlock()

	if prev == next {
		return
	}
	next.resume <- struct{}{}
	if prev.state != StateDying {
		<-prev.resume
	}
}

func reapDestroyedLocked() {
	if len(destruction) == 0 {
		return
	}
	for _, t := range destruction {
		allocator.Free(t.page)
		unregisterLiveLocked(t)
	}
	destruction = destruction[:0]
}

func unregisterLiveLocked(t *Thread) {
	for i, reg := range liveThreads {
		if reg == t {
			liveThreads = append(liveThreads[:i], liveThreads[i+1:]...)
			return
		}
	}
}

// ForEachLiveLocked calls fn for every live (non-Dying) thread; used by the
// MLFQS per-second recomputation (spec §4.7) and by tests. Caller must hold
// guard.
func ForEachLiveLocked(fn func(*Thread)) {
	for _, reg := range liveThreads {
		if reg.state != StateDying {
			fn(reg)
		}
	}
}

var liveThreads []*Thread

func registerLiveLocked(t *Thread) { liveThreads = append(liveThreads, t) }

// ReadyCountLocked returns the number of Ready threads plus 1 if the
// running thread is not idle (spec §4.7's ready_count for load_avg).
func ReadyCountLocked() int {
	n := readyQueue.Len()
	if current != nil && current != idleThread {
		n++
	}
	return n
}

// IdleThread returns the idle thread (nil before BootIdle).
func IdleThread() *Thread { guard.Lock(); defer guard.Unlock(); return idleThread }

// IdleThreadLocked is IdleThread without acquiring guard; caller must
// already hold it.
func IdleThreadLocked() *Thread { return idleThread }

// ReadyFrontLocked returns the ready queue's head without removing it, or
// nil if empty. Exposed for tests and diagnostics that need to observe
// scheduling order without driving a full context switch. Caller must hold
// guard.
func ReadyFrontLocked() *Thread {
	return readyQueue.Front()
}

// RepositionReadyLocked re-sorts a Ready thread in the ready queue after
// its effective priority changed while queued (used by the MLFQS every-
// 4-tick recomputation). Caller must hold guard.
func RepositionReadyLocked(t *Thread) {
	readyQueue.Reposition(t)
}

// ResetForTest discards all dispatcher state (the ready queue, the live
// thread registry, the current/idle/init pointers, the active policy, and
// any pending yield request) so each test function starts from a clean
// kernel. Boot is a singleton by design — one kernel per process, matching
// the teacher's stance that there is exactly one of these per machine — so
// tests that Boot repeatedly in the same binary must call this first.
func ResetForTest() {
	guard.Lock()
	defer guard.Unlock()
	readyQueue = NewReadyQueue()
	current = nil
	idleThread = nil
	initThread = nil
	allocator = nil
	destruction = nil
	liveThreads = nil
	userProgramsOn = false
	yieldRequested = false
	ActivationHook = nil
	OnContextSwitch = nil
	activePolicy = kconfig.Donation
	mlfqsHook = nil
}
