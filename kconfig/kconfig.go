// Package kconfig holds the kernel's boot-time configuration: the priority
// range, the preemption slice, the donation depth bound, and the tick
// frequency, plus the policy flag selecting donation or MLFQS scheduling.
//
// The shape (a validated, immutable snapshot rather than a dynamic
// key/value store) is a deliberate simplification of the teacher package's
// config.Config: that package is a live, mergeable, serializable key/value
// store meant for passing configuration between processes. A kernel boot
// configuration is fixed at boot and never serialized or merged, so the
// dynamic Config interface doesn't earn its keep here, but the validated
// snapshot pattern is preserved.
package kconfig

import "fmt"

// Policy selects the scheduling discipline. The two are mutually exclusive
// and fixed for the lifetime of a booted kernel (spec §9: "a tagged variant
// selecting the policy rather than runtime branches").
type Policy int

const (
	// Donation selects static priority with priority donation.
	Donation Policy = iota
	// MLFQS selects the multilevel feedback queue scheduler.
	MLFQS
)

func (p Policy) String() string {
	switch p {
	case Donation:
		return "donation"
	case MLFQS:
		return "mlfqs"
	default:
		return "unknown"
	}
}

// Priority bounds and defaults, per spec §3/§6.
const (
	PriMin     = 0
	PriDefault = 31
	PriMax     = 63
)

// TimeSlice is the number of ticks a thread may run before preemption.
const TimeSlice = 4

// DonationDepthLimit bounds the nested-donation walk (spec §4.5/§9). This
// is a correctness-relevant constant, not a tunable: it caps worst-case
// latency inside a disabled-interrupt region and defends against
// accidental donation cycles.
const DonationDepthLimit = 8

// NiceMin and NiceMax bound the MLFQS "nice" value.
const (
	NiceMin = -20
	NiceMax = 20
)

// Config is the validated, immutable boot configuration.
type Config struct {
	// TimerFreq is the tick source frequency in Hz. Must be in [19, 1000].
	TimerFreq int
	// Policy selects Donation or MLFQS.
	Policy Policy
	// UserProgramsEnabled gates the per-switch address-space activation
	// hook (spec §6, out of scope beyond the hook's call site existing).
	UserProgramsEnabled bool
}

// Default returns the conventional pintos-style boot configuration: 100Hz
// tick source, donation policy, no user programs.
func Default() Config {
	return Config{TimerFreq: 100, Policy: Donation}
}

// Validate checks the configuration against spec §6's constraints.
func (c Config) Validate() error {
	if c.TimerFreq < 19 || c.TimerFreq > 1000 {
		return fmt.Errorf("kconfig: TimerFreq %d out of range [19, 1000]", c.TimerFreq)
	}
	if c.Policy != Donation && c.Policy != MLFQS {
		return fmt.Errorf("kconfig: unknown policy %d", c.Policy)
	}
	return nil
}
