// Package instance implements the lifecycle state machine, entry
// dispatch, fault classification, and hostcall bridge.
package instance

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/lucet-runtime/lucet/internal/module"
	"github.com/lucet-runtime/lucet/internal/region"
	"github.com/lucet-runtime/lucet/internal/rterr"
	"github.com/lucet-runtime/lucet/internal/swap"
	"github.com/lucet-runtime/lucet/internal/trap"
	"github.com/lucet-runtime/lucet/internal/vmem"
	"github.com/lucet-runtime/lucet/val"
)

// SignalAction is a user signal handler's verdict; see
// Instance.SetSignalHandler's doc comment for how this Go port's
// panic/recover fault path departs from a literal resumable hardware
// signal handler.
type SignalAction int

const (
	SignalDefault SignalAction = iota
	SignalContinue
	SignalTerminate
)

// SignalHandler is consulted when a guest fault is classified, before the
// default fatal/non-fatal disposition is applied.
type SignalHandler func(inst *Instance, f Fault) SignalAction

// FatalHandler is invoked when a run escalates to fatal, immediately
// before the process aborts.
type FatalHandler func(inst *Instance)

// current tracks the instance presently executing on this goroutine,
// standing in for a thread-local current_instance:
// Go has no first-class thread-local storage, and the runtime's
// single-goroutine-per-instance cooperative model makes a single atomic
// pointer sufficient to catch the only failure mode that matters —
// reentrant or cross-thread misuse (a mismatch here is a programming
// error, treated the same as any other mismatch abort).
var current atomic.Pointer[Instance]

// Instance binds one Module to one Arena acquired from a Region and
// tracks its lifecycle state.
type Instance struct {
	mu sync.Mutex

	reg   *region.Region
	arena *region.Arena
	mod   *module.Module

	embedCtx any
	state    State

	signalHandler SignalHandler
	fatalHandler  FatalHandler
}

// Create acquires an arena from reg, allocates runtime state for mod, and
// copies its globals and data segments in.
func Create(reg *region.Region, mod *module.Module, embedCtx any) (*Instance, error) {
	arena, err := reg.Acquire()
	if err != nil {
		return nil, err
	}

	if err := arena.AllocateRuntime(mod.HeapSpec, mod.GlobalsSpec); err != nil {
		reg.Release(arena)
		return nil, err
	}

	inst := &Instance{
		reg:      reg,
		arena:    arena,
		mod:      mod,
		embedCtx: embedCtx,
		state:    Ready(),
	}
	inst.writeIdentity()

	if err := inst.copyInitialHeap(); err != nil {
		_ = arena.FreeRuntime()
		reg.Release(arena)
		return nil, err
	}
	return inst, nil
}

// copyInitialHeap zeroes and populates the heap via ResetRuntime (which
// also applies mod.DataSegments), then layers guest_sparse_page_data on
// top if the module declared it instead of data segments — Module.Load
// already rejected a module declaring both. Globals get their declared
// initial values in the same pass, since create and reset both need the
// heap and the globals region re-seeded together.
func (i *Instance) copyInitialHeap() error {
	if err := i.arena.ResetRuntime(i.mod.DataSegments); err != nil {
		return err
	}
	if i.mod.SparsePages != nil {
		i.mod.SparsePages.CopyInto(i.arena.Heap(), vmem.PageSize)
	}
	i.initGlobals()
	return nil
}

// initGlobals writes each global's declared initial value into the
// arena's globals region, one little-endian 64-bit slot per global in
// declaration order — the layout guest code indexes off the globals
// base.
func (i *Instance) initGlobals() {
	globals := i.arena.Globals()
	for idx, desc := range i.mod.GlobalsSpec.Globals {
		binary.LittleEndian.PutUint64(globals[idx*8:], uint64(desc.Initial))
	}
}

// Reset re-runs the arena's reset_runtime and re-initializes globals;
// state becomes Ready. Signal and fatal handlers and the embedder context
// survive.
func (i *Instance) Reset() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.copyInitialHeap(); err != nil {
		return err
	}
	i.state = Ready()
	return nil
}

// SetSignalHandler installs a callback consulted on every classified
// guest fault before Run applies the default disposition.
//
// A native handler runs inside a real signal handler and may choose
// `continue`, meaning "return from the handler without disturbing
// instance state, resuming the guest at the faulting instruction". Go's
// panic/recover fault path cannot resume execution mid-instruction: the Go stack
// has already unwound by the time recover() runs. SignalContinue is
// therefore interpreted as "treat the fault as handled and non-fatal,
// leaving the instance in CaseFault for the embedder to reset", the
// closest equivalent reachable without resumable execution; it does not
// resume the guest. SignalTerminate still maps to Terminated{reason:
// "signal"}, unchanged from a native signal handler's semantics.
func (i *Instance) SetSignalHandler(h SignalHandler) {
	i.mu.Lock()
	i.signalHandler = h
	i.mu.Unlock()
}

// SetFatalHandler installs the callback invoked immediately before a
// fatal escalation aborts the process.
func (i *Instance) SetFatalHandler(h FatalHandler) {
	i.mu.Lock()
	i.fatalHandler = h
	i.mu.Unlock()
}

// State returns a snapshot of the instance's current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Vmctx returns the numeric vmctx handle for this instance:
// the address of its heap base.
func (i *Instance) Vmctx() uintptr { return i.arena.HeapBase() }

// Run resolves entrypointName, marshals args, and executes the guest
// entry point, following the run lifecycle's transition sequence.
func (i *Instance) Run(entrypointName string, args []val.Value) error {
	entry, err := i.mod.GetExportFunc(entrypointName)
	if err != nil {
		return err // symbol_not_found, state unchanged
	}

	if err := validateArgs(args); err != nil {
		return fmt.Errorf("%w: %v", rterr.ErrInvalidArgument, err)
	}

	if prev := current.Swap(i); prev != nil {
		// an instance never runs on more than one thread/
		// reentrantly; catching this here mirrors the identity-mismatch
		// abort used for vmctx identity recovery.
		current.Store(prev)
		return fmt.Errorf("%w: instance already running on this goroutine", rterr.ErrInternal)
	}
	defer current.Store(nil)

	i.mu.Lock()
	if i.state.Case != CaseReady {
		state := i.state.Case
		i.mu.Unlock()
		return fmt.Errorf("%w: instance is %s, only ready instances can run", rterr.ErrInvalidArgument, state)
	}
	i.state = State{Case: CaseRunning}
	i.mu.Unlock()

	prevPanicOnFault := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(prevPanicOnFault)

	result, runErr := i.invoke(entry, args)

	switch {
	case runErr == nil:
		i.mu.Lock()
		if i.state.Case == CaseRunning {
			i.state = ReadyWithReturn(result)
		}
		i.mu.Unlock()
		return nil

	default:
		return i.postProcess(runErr)
	}
}

// invoke calls entry under recover, translating a panic into an error
// the way a native swap-then-classify sequence would: a hardware
// fault or guest-language panic becomes runtime_fault, an explicit
// Vmctx.Terminate becomes runtime_terminated.
//
// Immediately before the call, it round-trips a genuine register/stack
// switch onto the arena's guest stack and back (see swap.go): Go's
// runtime does not support running unbounded, potentially
// stack-growing Go code — the arbitrary compiled entry point — on a
// stack the scheduler does not itself track for growth, so entry is
// still dispatched as an ordinary Go call, but the switch itself, and
// the stack it lands on, are real.
func (i *Instance) invoke(entry module.EntryFunc, args []val.Value) (ret val.Value, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		rips := faultingPCs()
		switch p := r.(type) {
		case terminationSignal:
			i.mu.Lock()
			i.state = State{Case: CaseTerminated, Terminated: Terminated{Reason: "hostcall", Info: p.info}}
			i.mu.Unlock()
			err = rterr.ErrRuntimeTerminated
		case trap.Code:
			// An instrumented plugin may panic with an already-classified
			// trap.Code directly, bypassing the manifest/string path in
			// classifyPanic.
			err = i.classifyFaultCode(p, panicSiteRIP(rips), 0, memAccessNone, p.String())
		case error:
			err = i.classifyFault(p, rips)
		default:
			err = i.classifyFault(fmt.Errorf("%v", p), rips)
		}
	}()

	if swapErr := i.roundTripArenaStack(); swapErr != nil && !errors.Is(swapErr, swap.ErrUnsupported) {
		return val.Value{}, fmt.Errorf("%w: arena stack switch: %v", rterr.ErrInternal, swapErr)
	}
	return entry(i.Vmctx(), args)
}

// faultingPCs recovers the live call stack, while the panicking frames
// are still around (the same window runtime/debug.Stack uses from
// inside a recover): one of these program counters is the instruction
// that panicked. classifyPanic tries trap.Manifest.Lookup against each
// in turn rather than assuming a fixed frame depth, since the exact
// number of frames between a recover and the fault varies with how the
// panic was raised (a real memory fault vs. Go's own runtime checks vs.
// an explicit panic).
func faultingPCs() []uintptr {
	var pcs [64]uintptr
	n := runtime.Callers(0, pcs[:])
	return pcs[:n]
}

// classifyFault applies the signal-handler classification and
// escalation logic to a recovered panic, since in this Go port a guest
// hardware fault or runtime panic arrives here instead of on a real
// signal stack. A genuine faulting address, when the runtime attached
// one to cause, is translated from an absolute process address into the
// heap-relative offset classifyFaultCode's AddrInHeapGuard check
// expects via i.arena.RelativeHeapAddr.
func (i *Instance) classifyFault(cause error, rips []uintptr) error {
	code, faultAddr, access := classifyPanic(cause, i.mod.TrapManifest, rips, i.arena.RelativeHeapAddr)
	return i.classifyFaultCode(code, panicSiteRIP(rips), faultAddr, access, cause.Error())
}

// classifyFaultCode applies the fault escalation logic given an already
// -classified trap code, shared by classifyFault (string/type-heuristic
// path) and the direct trap.Code panic path in invoke. Escalation: an
// unclassifiable trap is fatal, as is a memory fault whose address is
// not inside the heap guard — including a wild access that missed the
// heap mapping altogether, since isolation may have been breached.
func (i *Instance) classifyFaultCode(code trap.Code, rip uintptr, faultAddr uint64, access memAccess, causeMsg string) error {
	fault := Fault{TrapCode: code, RIP: rip}

	fatal := code == trap.CodeUnknown
	switch access {
	case memAccessWild:
		fatal = true
	case memAccessHeap:
		if !fatal {
			fatal = !i.arena.AddrInHeapGuard(faultAddr)
		}
	}

	action := SignalDefault
	i.mu.Lock()
	handler := i.signalHandler
	i.mu.Unlock()
	if handler != nil {
		action = handler(i, fault)
	}

	switch action {
	case SignalTerminate:
		i.mu.Lock()
		i.state = State{Case: CaseTerminated, Terminated: Terminated{Reason: "signal", Info: causeMsg}}
		i.mu.Unlock()
		return rterr.ErrRuntimeTerminated
	case SignalContinue:
		fatal = false
	}

	fault.Fatal = fatal
	i.mu.Lock()
	i.state = State{Case: CaseFault, Fault: fault}
	i.mu.Unlock()

	if fatal {
		i.mu.Lock()
		handler := i.fatalHandler
		i.mu.Unlock()
		if handler != nil {
			handler(i)
		}
		os.Exit(2) // abort the process unconditionally
	}
	return rterr.ErrRuntimeFault
}

// postProcess handles the non-nil error path from invoke. The fault and
// termination paths have already rewritten state inside
// classifyFault/invoke; what remains is the work that must stay out of
// the fault path itself: symbolizing the faulting RIP (the
// dladdr-equivalent step, via runtime.FuncForPC), and rewinding a
// host-side dispatch failure — which never reached the guest — back to
// Ready so the instance is not stranded in Running.
func (i *Instance) postProcess(err error) error {
	i.mu.Lock()
	switch {
	case i.state.Case == CaseRunning:
		i.state = Ready()
	case i.state.Case == CaseFault && i.state.Fault.RIP != 0 && i.state.Fault.SymbolName == "":
		if fn := runtime.FuncForPC(i.state.Fault.RIP); fn != nil {
			i.state.Fault.SymbolName = fn.Name()
		}
	}
	i.mu.Unlock()
	return err
}

// Release frees the arena runtime and returns the arena to its region.
func (i *Instance) Release() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.arena.FreeRuntime(); err != nil {
		return err
	}
	i.reg.Release(i.arena)
	return nil
}

// validateArgs checks that every argument is representable in its
// declared type's range; it does not need the resulting bit
// pattern, only whether conversion would succeed.
func validateArgs(args []val.Value) error {
	for idx, a := range args {
		var err error
		if a.IsFloat() {
			_, err = a.ToFPRegister()
		} else {
			_, err = a.ToGPRegister()
		}
		if err != nil {
			return fmt.Errorf("arg %d: %w", idx, err)
		}
	}
	return nil
}
