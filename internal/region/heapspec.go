package region

import "fmt"

// HeapSpec is the per-module heap layout declaration. MaxValid
// distinguishes "no declared max" from "max == 0".
type HeapSpec struct {
	Reserved uint64
	Guard    uint64
	Initial  uint64
	Max      uint64
	MaxValid bool
}

// Validate checks HeapSpec against the owning region's Limits, per the
// invariants:
//
//	reserved + guard <= limits.HeapAddressSpaceSize
//	initial <= limits.HeapMemorySize
//	initial <= reserved
//	reserved <= 2^32
//	guard <= 2^32
func (h HeapSpec) Validate(l Limits) error {
	const max32 = uint64(1) << 32
	if h.Reserved > max32 {
		return fmt.Errorf("%w: heap reserved %d exceeds 2^32", ErrSpecOverLimits, h.Reserved)
	}
	if h.Guard > max32 {
		return fmt.Errorf("%w: heap guard %d exceeds 2^32", ErrSpecOverLimits, h.Guard)
	}
	if h.Reserved+h.Guard > l.HeapAddressSpaceSize {
		return fmt.Errorf("%w: reserved+guard %d exceeds heap address space %d", ErrSpecOverLimits, h.Reserved+h.Guard, l.HeapAddressSpaceSize)
	}
	if h.Initial > l.HeapMemorySize {
		return fmt.Errorf("%w: initial heap %d exceeds limit %d", ErrSpecOverLimits, h.Initial, l.HeapMemorySize)
	}
	if h.Initial > h.Reserved {
		return fmt.Errorf("%w: initial heap %d exceeds reserved %d", ErrSpecOverLimits, h.Initial, h.Reserved)
	}
	return nil
}
