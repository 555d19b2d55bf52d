package instance

import (
	"runtime"
	"strings"

	"github.com/lucet-runtime/lucet/internal/trap"
)

// panicSiteRIP picks the program counter of the frame that raised a
// recovered panic: the first non-runtime frame past runtime.gopanic in
// the captured stack. For a memory fault converted by SetPanicOnFault
// the runtime frames between gopanic and the faulting function
// (sigpanic, panicmem) are skipped the same way; for an explicit guest
// panic, gopanic's caller is the panic site itself. Returns 0 when no
// such frame is found.
func panicSiteRIP(rips []uintptr) uintptr {
	frames := runtime.CallersFrames(rips)
	pastGopanic := false
	for {
		f, more := frames.Next()
		if f.Function == "runtime.gopanic" {
			pastGopanic = true
		} else if pastGopanic && !strings.HasPrefix(f.Function, "runtime.") {
			return f.PC
		}
		if !more {
			return 0
		}
	}
}

// HeapFault is the panic payload a hostcall raises for a detected
// out-of-bounds heap access. Addr lets classifyPanic
// apply the addr_in_heap_guard fatality test precisely, the way a real
// signal handler would from the OS-reported faulting address.
type HeapFault struct{ Addr uint64 }

func (HeapFault) Error() string { return "heap access out of bounds" }

// addresser is the interface the Go runtime's own memory-fault errors
// implement: since Go 1.20, a panic from dereferencing an invalid
// address on amd64/arm64 carries that address, recoverable via this
// interface instead of string-parsing the panic message. This is the
// genuine faulting address a real signal handler's siginfo_t.si_addr
// would carry, not a synthetic one.
type addresser interface{ Addr() uintptr }

// memAccess describes what kind of faulting address, if any, a
// recovered panic carried, after translation relative to the arena heap.
// The distinction drives the fatality escalation: a fault with an
// address inside the heap mapping is judged by addr_in_heap_guard, while
// one outside it entirely is a wild access and always fatal.
type memAccess int

const (
	memAccessNone memAccess = iota // no faulting address attached
	memAccessHeap                  // address inside the heap mapping; offset valid
	memAccessWild                  // address outside the heap mapping entirely
)

// addrFromCause recovers a genuine faulting address from a recovered
// panic, if the runtime attached one, translated from the absolute
// process address the runtime reports into the heap-relative offset
// HeapFault.Addr and AddrInHeapGuard already use, via toRelative
// (typically region.Arena.RelativeHeapAddr).
func addrFromCause(cause error, toRelative func(uint64) (uint64, bool)) (uint64, memAccess) {
	a, ok := cause.(addresser)
	if !ok {
		return 0, memAccessNone
	}
	rel, inHeap := toRelative(uint64(a.Addr()))
	if !inHeap {
		return 0, memAccessWild
	}
	return rel, memAccessHeap
}

// classifyPanic maps a recovered panic to a trap code and, where the
// fault carries an address, that address relative to the heap base.
// rips is the live call stack captured by Instance.invoke's recover
// (via runtime.Callers, while the panicking frames are still live).
// An explicit HeapFault payload is always CodeHeapOOB. Otherwise, when
// manifest is non-nil the manifest wins: the trapcode is whatever
// it says for whichever frame's PC it recognizes, the same lookup a
// real signal handler would perform against lucet_trap_manifest before
// falling back to anything message-based.
func classifyPanic(cause error, manifest *trap.Manifest, rips []uintptr, toRelative func(uint64) (uint64, bool)) (code trap.Code, addr uint64, access memAccess) {
	if hf, ok := cause.(HeapFault); ok {
		return trap.CodeHeapOOB, hf.Addr, memAccessHeap
	}

	addr, access = addrFromCause(cause, toRelative)

	if manifest != nil {
		for _, rip := range rips {
			if code, ok := manifest.Lookup(rip); ok {
				return code, addr, access
			}
		}
	}

	msg := cause.Error()
	switch {
	case strings.Contains(msg, "invalid memory address"):
		return trap.CodeOOB, addr, access
	case strings.Contains(msg, "index out of range"), strings.Contains(msg, "slice bounds out of range"):
		return trap.CodeTableOOB, addr, access
	case strings.Contains(msg, "integer divide by zero"):
		return trap.CodeIntegerDivByZero, addr, access
	case strings.Contains(msg, "stack overflow"):
		return trap.CodeStackOverflow, addr, access
	case strings.Contains(msg, "nil pointer"):
		return trap.CodeIndirectCallToNull, addr, access
	}

	// No manifest entry at rip (or no manifest) and no recognized
	// message: an instrumented plugin that wants manifest-backed
	// classification regardless can instead panic with a trap.Code
	// directly, handled by the type switch in Instance.invoke's recover.
	return trap.CodeUnknown, addr, access
}
