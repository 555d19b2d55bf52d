// Package region implements the allocation arena and the fixed-capacity
// pool of arenas: virtual-memory layout, protection
// lifecycle, and thread-safe acquire/release.
//
// The builder-with-clone pattern used for Limits mirrors the one used for
// Config (config.go in the root lucet package): immutable value, With* methods return a
// modified copy.
package region

import (
	"fmt"

	"github.com/lucet-runtime/lucet/internal/vmem"
)

// Limits are the per-region, immutable sizing parameters. All
// sizes must be host-page-aligned; StackSize must be positive.
type Limits struct {
	// HeapMemorySize is the backed heap size: the maximum number of
	// bytes allocate_runtime/expand_heap may ever turn read/write.
	HeapMemorySize uint64
	// HeapAddressSpaceSize is the reserved-plus-guard address space
	// reserved for the heap inside every arena.
	HeapAddressSpaceSize uint64
	// StackSize is the guest stack size.
	StackSize uint64
	// GlobalsSize is the guest globals region size.
	GlobalsSize uint64
}

// DefaultLimits match the values commonly used by the original Lucet
// runtime-c test suite: 4 GiB heap address space, 16 MiB backed heap,
// 8 MiB stack, 4 KiB globals.
var DefaultLimits = Limits{
	HeapMemorySize:       16 * 1024 * 1024,
	HeapAddressSpaceSize: 4 * 1024 * 1024 * 1024,
	StackSize:            8 * 1024 * 1024,
	GlobalsSize:          4096,
}

// WithHeapMemorySize returns a copy of l with HeapMemorySize set.
func (l Limits) WithHeapMemorySize(n uint64) Limits { l.HeapMemorySize = n; return l }

// WithHeapAddressSpaceSize returns a copy of l with HeapAddressSpaceSize set.
func (l Limits) WithHeapAddressSpaceSize(n uint64) Limits { l.HeapAddressSpaceSize = n; return l }

// WithStackSize returns a copy of l with StackSize set.
func (l Limits) WithStackSize(n uint64) Limits { l.StackSize = n; return l }

// WithGlobalsSize returns a copy of l with GlobalsSize set.
func (l Limits) WithGlobalsSize(n uint64) Limits { l.GlobalsSize = n; return l }

// Validate checks the page-alignment and positivity invariants.
func (l Limits) Validate() error {
	if !pageAligned(l.HeapMemorySize) {
		return fmt.Errorf("%w: HeapMemorySize %d is not page-aligned", errNotPageAligned, l.HeapMemorySize)
	}
	if !pageAligned(l.HeapAddressSpaceSize) {
		return fmt.Errorf("%w: HeapAddressSpaceSize %d is not page-aligned", errNotPageAligned, l.HeapAddressSpaceSize)
	}
	if !pageAligned(l.StackSize) {
		return fmt.Errorf("%w: StackSize %d is not page-aligned", errNotPageAligned, l.StackSize)
	}
	if l.StackSize == 0 {
		return fmt.Errorf("%w: StackSize must be positive", errNotPageAligned)
	}
	if !pageAligned(l.GlobalsSize) {
		return fmt.Errorf("%w: GlobalsSize %d is not page-aligned", errNotPageAligned, l.GlobalsSize)
	}
	return nil
}

func pageAligned(n uint64) bool {
	return n%uint64(vmem.PageSize) == 0
}
