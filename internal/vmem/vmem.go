// Package vmem provides the raw virtual-memory primitives the allocation
// arena (internal/region) is built on: one anonymous PROT_NONE mapping per
// arena, and page-granularity protection changes inside it.
//
// A thin, well-tested wrapper around golang.org/x/sys/unix so the rest
// of the module never calls into unix directly. Protection changes are
// always expressed as explicit, page-aligned byte ranges over a typed
// sub-region, never bare pointers.
package vmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PageSize is the host memory-protection granularity (4 KiB on supported
// hosts), read once from the kernel at package init.
var PageSize = unix.Getpagesize()

// RoundUpToPage rounds n up to the next multiple of PageSize.
func RoundUpToPage(n int) int {
	ps := PageSize
	return (n + ps - 1) &^ (ps - 1)
}

// IsPageAligned reports whether n is a multiple of PageSize.
func IsPageAligned(n int) bool {
	return n%PageSize == 0
}

// Map reserves size bytes of address space as an anonymous, unbacked
// PROT_NONE mapping. The returned slice aliases the mapping; it must be
// released with Unmap exactly once.
func Map(size int) ([]byte, error) {
	if size <= 0 || !IsPageAligned(size) {
		return nil, fmt.Errorf("vmem: Map size %d is not a positive page multiple", size)
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("vmem: mmap %d bytes: %w", size, err)
	}
	return b, nil
}

// Unmap releases a mapping obtained from Map.
func Unmap(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("vmem: munmap: %w", err)
	}
	return nil
}

// Protect changes the protection bits of b[off : off+length] in place. off
// and length must each be page-aligned.
func Protect(b []byte, off, length int, readWrite bool) error {
	if !IsPageAligned(off) || !IsPageAligned(length) {
		return fmt.Errorf("vmem: Protect range [%d,%d) is not page-aligned", off, off+length)
	}
	if off < 0 || length < 0 || off+length > len(b) {
		return fmt.Errorf("vmem: Protect range [%d,%d) out of bounds (len %d)", off, off+length, len(b))
	}
	prot := unix.PROT_NONE
	if readWrite {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	if length == 0 {
		return nil
	}
	if err := unix.Mprotect(b[off:off+length], prot); err != nil {
		return fmt.Errorf("vmem: mprotect [%d,%d) rw=%v: %w", off, off+length, readWrite, err)
	}
	return nil
}

// Discard advises the kernel that b[off : off+length] may be discarded
// (MADV_DONTNEED), so that a subsequent re-fault reads zeroed pages
// without the host keeping the physical backing around. Used by
// region.Arena.ResetRuntime and FreeRuntime; it is advisory only, never a
// correctness requirement.
func Discard(b []byte, off, length int) error {
	if length == 0 {
		return nil
	}
	if err := unix.Madvise(b[off:off+length], unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("vmem: madvise DONTNEED [%d,%d): %w", off, off+length, err)
	}
	return nil
}
