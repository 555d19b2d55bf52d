package region

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/lucet-runtime/lucet/internal/vmem"
)

// WasmPageSize is the WebAssembly linear-memory granularity:
// all heap quantities exposed to the guest are denominated in these,
// translated to host-page-aligned byte ranges internally.
const WasmPageSize = 64 * 1024

// sigStackSize is the dedicated signal-stack size reserved per arena, large
// enough that the kernel can always deliver a signal even while the guest
// stack is saturating ordinary memory. Mirrors
// the historical glibc SIGSTKSZ default.
const sigStackSize = 32 * 1024

// RuntimeSpec pairs the heap and globals specs an Arena is currently
// carrying on behalf of the instance using it.
type RuntimeSpec struct {
	Heap    HeapSpec
	Globals GlobalsSpec
}

// Arena is one contiguous virtual-memory mapping owning an instance
// header, heap, stack, globals, and a dedicated signal stack. Sub-region layout, in order: instance header (one host page),
// heap (Limits.HeapAddressSpaceSize), stack (Limits.StackSize), one guard
// page, globals (Limits.GlobalsSize), one guard page, signal stack.
//
// The region/sub-offset bookkeeping style mirrors gvisor's
// pkg/sentry/platform/kvm region/userMemoryRegion records: typed,
// named byte ranges over one raw mapping rather than ad hoc pointer math
// scattered through callers.
type Arena struct {
	mu sync.Mutex

	mapping []byte
	limits  Limits

	headerOff, headerLen   int
	heapOff, heapLen       int
	stackOff, stackLen     int
	guard1Off, guard1Len   int
	globalsOff, globalsLen int
	guard2Off, guard2Len   int
	sigstackOff, sigstkLen int

	// heapAccessible is the number of heap bytes currently read/write,
	// starting from heapOff. Always a multiple of vmem.PageSize.
	heapAccessible uint64
	// current is the RuntimeSpec of the instance presently using the
	// arena, or nil if the arena is idle.
	current *RuntimeSpec
}

// NewArena allocates one PROT_NONE mapping sized per l, then turns only
// the instance header page read/write.
func NewArena(l Limits) (*Arena, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	a := &Arena{limits: l}

	ps := vmem.PageSize
	off := 0
	a.headerOff, a.headerLen = off, ps
	off += a.headerLen
	a.heapOff, a.heapLen = off, int(l.HeapAddressSpaceSize)
	off += a.heapLen
	a.stackOff, a.stackLen = off, int(l.StackSize)
	off += a.stackLen
	a.guard1Off, a.guard1Len = off, ps
	off += a.guard1Len
	a.globalsOff, a.globalsLen = off, int(l.GlobalsSize)
	off += a.globalsLen
	a.guard2Off, a.guard2Len = off, ps
	off += a.guard2Len
	a.sigstackOff, a.sigstkLen = off, vmem.RoundUpToPage(sigStackSize)
	off += a.sigstkLen

	mapping, err := vmem.Map(off)
	if err != nil {
		return nil, err
	}
	a.mapping = mapping

	if err := vmem.Protect(a.mapping, a.headerOff, a.headerLen, true); err != nil {
		_ = vmem.Unmap(a.mapping)
		return nil, err
	}
	return a, nil
}

// Close releases the arena's mapping back to the OS. The arena must not
// be in use by an instance.
func (a *Arena) Close() error {
	return vmem.Unmap(a.mapping)
}

// HeapBase returns the vmctx value for an instance using this arena: the
// address of the heap's first byte.
func (a *Arena) HeapBase() uintptr { return a.sliceAddr(a.heapOff) }

// HeaderBase returns the address of the instance header, exactly one host
// page before HeapBase.
func (a *Arena) HeaderBase() uintptr { return a.sliceAddr(a.headerOff) }

// StackTop returns the address one-past-the-end of the guest stack, the
// value Context.Init lays its frame out from.
func (a *Arena) StackTop() uintptr { return a.sliceAddr(a.stackOff + a.stackLen) }

// GlobalsBase returns the address of the globals region.
func (a *Arena) GlobalsBase() uintptr { return a.sliceAddr(a.globalsOff) }

// SigStackBase returns the address of the dedicated signal stack.
func (a *Arena) SigStackBase() uintptr { return a.sliceAddr(a.sigstackOff) }

// SigStackLen returns the length of the dedicated signal stack in bytes.
func (a *Arena) SigStackLen() int { return a.sigstkLen }

func (a *Arena) sliceAddr(off int) uintptr {
	return uintptr(unsafe.Pointer(&a.mapping[off]))
}

// Heap returns a byte view of the full heap address space, valid for as
// long as the Arena is alive. Callers must only read/write within
// [0, HeapAccessible()); bytes beyond that are PROT_NONE and accessing
// them faults, which is the whole point of the heap guard.
func (a *Arena) Heap() []byte { return a.mapping[a.heapOff : a.heapOff+a.heapLen] }

// Globals returns a byte view of the globals region, valid for as long
// as the Arena is alive. Read/write only while an instance is live
// (AllocateRuntime through FreeRuntime); PROT_NONE otherwise.
func (a *Arena) Globals() []byte {
	return a.mapping[a.globalsOff : a.globalsOff+a.globalsLen]
}

// HeapAccessible returns the number of currently read/write heap bytes.
func (a *Arena) HeapAccessible() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heapAccessible
}

// CurrentSpec returns the RuntimeSpec the arena is presently carrying, or
// nil if idle.
func (a *Arena) CurrentSpec() *RuntimeSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// AllocateRuntime validates heap/globals against the arena's Limits, then
// turns the initial heap bytes, the stack, the globals, and the signal
// stack read/write.
func (a *Arena) AllocateRuntime(heap HeapSpec, globals GlobalsSpec) error {
	if err := heap.Validate(a.limits); err != nil {
		return err
	}
	if err := globals.Validate(a.limits); err != nil {
		return err
	}

	initial := vmem.RoundUpToPage(int(heap.Initial))
	if err := vmem.Protect(a.mapping, a.heapOff, initial, true); err != nil {
		return err
	}
	if err := vmem.Protect(a.mapping, a.stackOff, a.stackLen, true); err != nil {
		return err
	}
	if err := vmem.Protect(a.mapping, a.globalsOff, a.globalsLen, true); err != nil {
		return err
	}
	if err := vmem.Protect(a.mapping, a.sigstackOff, a.sigstkLen, true); err != nil {
		return err
	}

	a.mu.Lock()
	a.heapAccessible = uint64(initial)
	spec := RuntimeSpec{Heap: heap, Globals: globals}
	a.current = &spec
	a.mu.Unlock()
	return nil
}

// ResetRuntime contracts the heap back to current spec's Initial size,
// zeroing it, and re-copies segs into it. segs
// is supplied by the caller (internal/instance, which owns the Module)
// rather than looked up here, keeping region free of a Module dependency.
func (a *Arena) ResetRuntime(segs []DataSegment) error {
	a.mu.Lock()
	spec := a.current
	accessible := a.heapAccessible
	a.mu.Unlock()
	if spec == nil {
		return fmt.Errorf("%w: ResetRuntime on idle arena", ErrModule)
	}

	initial := vmem.RoundUpToPage(int(spec.Heap.Initial))
	if accessible > uint64(initial) {
		shrinkOff := a.heapOff + initial
		shrinkLen := int(accessible) - initial
		if err := vmem.Protect(a.mapping, shrinkOff, shrinkLen, false); err != nil {
			return err
		}
		if err := vmem.Discard(a.mapping, shrinkOff, shrinkLen); err != nil {
			return err
		}
	}
	heap := a.Heap()
	for i := 0; i < initial; i++ {
		heap[i] = 0
	}
	CopyDataSegments(heap[:initial], segs)

	a.mu.Lock()
	a.heapAccessible = uint64(initial)
	a.mu.Unlock()
	return nil
}

// ExpandHeap grows the accessible heap by bytes (rounded up to a host
// page), enforcing expand_heap's guard-size, max-size, and
// limit checks. Returns the new accessible byte count on success.
// An arena whose active spec declares no heap (zero reserved size)
// reports ErrNoLinearMemory for every request, including zero-byte ones.
func (a *Arena) ExpandHeap(bytes uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return 0, fmt.Errorf("%w: ExpandHeap on idle arena", ErrModule)
	}
	if a.current.Heap.Reserved == 0 {
		// The module declared no usable heap; even a zero-byte growth
		// request is an operation on linear memory it does not have.
		return 0, fmt.Errorf("%w: module declares no heap", ErrNoLinearMemory)
	}
	if bytes == 0 {
		return a.heapAccessible, nil
	}

	grow := uint64(vmem.RoundUpToPage(int(bytes)))
	newAccessible := a.heapAccessible + grow
	if newAccessible < a.heapAccessible {
		return 0, fmt.Errorf("%w: heap growth overflows", ErrLimitsExceeded)
	}
	if newAccessible > a.limits.HeapAddressSpaceSize-a.current.Heap.Guard {
		return 0, fmt.Errorf("%w: heap growth would eat into the guard region", ErrLimitsExceeded)
	}
	if a.current.Heap.MaxValid && newAccessible > a.current.Heap.Max {
		return 0, fmt.Errorf("%w: heap growth would exceed module max %d", ErrLimitsExceeded, a.current.Heap.Max)
	}
	if newAccessible > a.limits.HeapMemorySize {
		return 0, fmt.Errorf("%w: heap growth would exceed region limit %d", ErrLimitsExceeded, a.limits.HeapMemorySize)
	}

	if err := vmem.Protect(a.mapping, a.heapOff+int(a.heapAccessible), int(grow), true); err != nil {
		return 0, err
	}
	a.heapAccessible = newAccessible
	return newAccessible, nil
}

// FreeRuntime restores every sub-region beyond the instance header to
// PROT_NONE and advises the kernel to discard the pages.
func (a *Arena) FreeRuntime() error {
	a.mu.Lock()
	accessible := a.heapAccessible
	a.mu.Unlock()

	if accessible > 0 {
		if err := vmem.Protect(a.mapping, a.heapOff, int(accessible), false); err != nil {
			return err
		}
		if err := vmem.Discard(a.mapping, a.heapOff, int(accessible)); err != nil {
			return err
		}
	}
	if err := vmem.Protect(a.mapping, a.stackOff, a.stackLen, false); err != nil {
		return err
	}
	if err := vmem.Discard(a.mapping, a.stackOff, a.stackLen); err != nil {
		return err
	}
	if err := vmem.Protect(a.mapping, a.globalsOff, a.globalsLen, false); err != nil {
		return err
	}
	if err := vmem.Discard(a.mapping, a.globalsOff, a.globalsLen); err != nil {
		return err
	}
	if err := vmem.Protect(a.mapping, a.sigstackOff, a.sigstkLen, false); err != nil {
		return err
	}
	if err := vmem.Discard(a.mapping, a.sigstackOff, a.sigstkLen); err != nil {
		return err
	}

	a.mu.Lock()
	a.heapAccessible = 0
	a.current = nil
	a.mu.Unlock()
	return nil
}

// MemInHeap reports whether [ptr, ptr+length] lies entirely inside the
// currently accessible heap, with no wraparound.
// This is the only sanctioned check a hostcall may use before
// dereferencing a guest pointer.
func (a *Arena) MemInHeap(ptr, length uint64) bool {
	end := ptr + length
	if end < ptr {
		return false // overflow
	}
	accessible := a.HeapAccessible()
	return ptr <= accessible && end <= accessible
}

// AddrInHeapGuard reports whether addr falls in [heap_accessible,
// heap_addrspace) — a legal out-of-bounds access caught by the guard, as
// opposed to a wild access. addr is relative to HeapBase, the same
// convention RelativeHeapAddr converts an absolute faulting address to.
func (a *Arena) AddrInHeapGuard(addr uint64) bool {
	accessible := a.HeapAccessible()
	return addr >= accessible && addr < uint64(a.heapLen)
}

// RelativeHeapAddr converts an absolute faulting address — the kind a
// real signal handler's siginfo_t.si_addr, or Go's runtime fault
// Addr() interface, reports — into an offset from HeapBase, the
// convention AddrInHeapGuard and MemInHeap use. ok is false if addr
// falls outside this arena's heap mapping entirely (e.g. a wild
// pointer into some other allocation), in which case the fault is
// never heap-guard-eligible regardless of the returned offset.
func (a *Arena) RelativeHeapAddr(addr uint64) (offset uint64, ok bool) {
	base := uint64(a.HeapBase())
	if addr < base {
		return 0, false
	}
	rel := addr - base
	if rel >= uint64(a.heapLen) {
		return 0, false
	}
	return rel, true
}
