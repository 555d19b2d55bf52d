package instance

import (
	"unsafe"

	"github.com/lucet-runtime/lucet/internal/region"
	"github.com/lucet-runtime/lucet/internal/vmem"
)

// instanceMagic identifies a live Instance pointer recovered from an
// arena's header page, guarding against a stale or foreign pointer being
// dereferenced.
const instanceMagic = 0x6c75636574 // "lucet" in hex digits, loosely

// writeIdentity stores a self-pointer and the magic in the arena's header
// page, exactly one host page before vmctx:
// the host recovers the instance from vmctx by walking back one page and
// reading the pointer planted there.
func (i *Instance) writeIdentity() {
	header := (*instanceHeader)(unsafe.Pointer(i.arena.HeaderBase()))
	header.magic = instanceMagic
	header.self = i
	header.globalsBase = i.arena.GlobalsBase()
}

// instanceHeader is the fixed-layout prefix of the arena's header page.
// globalsBase sits at a fixed offset from the instance start so guest
// code can find the globals by indexing off the vmctx.
type instanceHeader struct {
	magic       uint64
	self        *Instance
	globalsBase uintptr
}

// FromVmctx recovers the Instance owning vmctx: "vmctx...from
// which the host recovers the instance by subtracting the known header
// size". Guest-callable hostcall shims receive only the numeric vmctx (as
// is required) and call this to get back a usable handle.
func FromVmctx(vmctx uintptr) (*Instance, bool) {
	headerAddr := vmctx - uintptr(vmem.PageSize)
	header := (*instanceHeader)(unsafe.Pointer(headerAddr))
	if header.magic != instanceMagic || header.self == nil {
		return nil, false
	}
	return header.self, true
}

// Vmctx is the hostcall surface ("Hostcall surface (vmctx
// methods)", bound to the Instance FromVmctx recovered.
type Vmctx struct{ inst *Instance }

// VmctxFrom builds a Vmctx view over the instance owning raw.
func VmctxFrom(raw uintptr) (Vmctx, bool) {
	inst, ok := FromVmctx(raw)
	if !ok {
		return Vmctx{}, false
	}
	return Vmctx{inst: inst}, true
}

// GetHeapBase returns the instance's heap base address, numerically equal
// to the vmctx value itself.
func (v Vmctx) GetHeapBase() uintptr { return v.inst.arena.HeapBase() }

// CheckHeap reports whether [ptr, ptr+len) lies entirely within the
// currently accessible heap — the only sanctioned
// precondition check before a hostcall dereferences a guest pointer.
func (v Vmctx) CheckHeap(ptr, length uint64) bool {
	return v.inst.arena.MemInHeap(ptr, length)
}

// GetEmbedCtx returns the embedder context passed to Create.
func (v Vmctx) GetEmbedCtx() any { return v.inst.embedCtx }

// Terminate records Terminated{reason="hostcall", info} and unwinds back
// to the host; it never returns to the guest caller.
func (v Vmctx) Terminate(info string) {
	panic(terminationSignal{info: info})
}

// terminationSignal is the panic payload Run's recover distinguishes from
// a hardware-style fault.
type terminationSignal struct{ info string }

// CurrentHeapPages returns heap_accessible / 64KiB.
func (v Vmctx) CurrentHeapPages() uint64 {
	return v.inst.arena.HeapAccessible() / region.WasmPageSize
}

// GrowHeap grows the heap by the given number of 64KiB WASM pages,
// returning the previous page count, or an error on failure: a wrapped
// ErrNoLinearMemory if the module declares no heap, ErrLimitsExceeded
// otherwise. A native
// ABI-constrained call would report -1 here; the Go port reports the
// structured error instead of a sentinel value, since the hostcall
// boundary here is a normal Go call.
func (v Vmctx) GrowHeap(pages uint64) (uint64, error) {
	before := v.CurrentHeapPages()
	_, err := v.inst.arena.ExpandHeap(pages * region.WasmPageSize)
	if err != nil {
		return 0, err
	}
	return before, nil
}

// GetFuncFromTable resolves an indirect-call table entry.
func (v Vmctx) GetFuncFromTable(tableID, funcID uint32) (region.FuncTableEntry, bool) {
	return v.inst.mod.GetFuncFromTable(tableID, funcID)
}

// GetGlobalsBase returns the address of the globals region, read from
// the header slot one page below the vmctx — the same fixed-offset path
// guest code uses.
func (v Vmctx) GetGlobalsBase() uintptr {
	header := (*instanceHeader)(unsafe.Pointer(v.inst.arena.HeaderBase()))
	return header.globalsBase
}
