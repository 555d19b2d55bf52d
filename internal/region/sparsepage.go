package region

import "fmt"

// SparsePageData is the alternative, page-indexed initial heap contents
// format: one
// host-page-sized slice per page of the initial heap, or nil for a page
// that should be left zeroed.
//
// A module declares at most one of DataSegments or SparsePageData; both
// populate the same initial heap bytes, and module validation (run by
// module.Load) rejects a module declaring both: a compiled module carries
// a sparse page data pointer or a set of data segments, never both.
type SparsePageData struct {
	Pages [][]byte // each entry is nil or exactly vmem.PageSize bytes
}

// Validate checks that every non-nil page is exactly pageSize bytes and
// that the data fits within the declared initial heap size.
func (s SparsePageData) Validate(heap HeapSpec, pageSize int) error {
	need := uint64(len(s.Pages)) * uint64(pageSize)
	if need > heap.Initial {
		return fmt.Errorf("%w: sparse page data covers %d bytes, exceeds initial heap %d", ErrModule, need, heap.Initial)
	}
	for i, p := range s.Pages {
		if p != nil && len(p) != pageSize {
			return fmt.Errorf("%w: sparse page %d has length %d, want %d", ErrModule, i, len(p), pageSize)
		}
	}
	return nil
}

// CopyInto writes every non-nil page into heap at its page-aligned offset.
func (s SparsePageData) CopyInto(heap []byte, pageSize int) {
	for i, p := range s.Pages {
		if p == nil {
			continue
		}
		copy(heap[i*pageSize:], p)
	}
}
