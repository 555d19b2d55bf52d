package region

import "fmt"

// DataSegment is one initial-heap-contents record. Records
// are padded to 8-byte boundaries in the module's wire format
// (internal/region/wireformat.go handles that); in memory we keep them
// decoded.
type DataSegment struct {
	MemoryIndex uint32
	Offset      uint32
	Bytes       []byte
}

// ValidateDataSegments checks the "offset+length <= heap_spec.initial"
// invariant for every segment.
func ValidateDataSegments(segs []DataSegment, heap HeapSpec) error {
	for i, seg := range segs {
		if seg.MemoryIndex != 0 {
			return fmt.Errorf("%w: data segment %d targets memory %d, only memory 0 exists", ErrModule, i, seg.MemoryIndex)
		}
		end := uint64(seg.Offset) + uint64(len(seg.Bytes))
		if end > heap.Initial {
			return fmt.Errorf("%w: data segment %d end %d exceeds initial heap size %d", ErrModule, i, end, heap.Initial)
		}
	}
	return nil
}

// CopyDataSegments writes every segment's bytes into heap at its declared
// offset. Caller must ensure heap is at least as large as every segment's
// end offset (ValidateDataSegments having been called against the same
// HeapSpec.Initial that sized heap).
func CopyDataSegments(heap []byte, segs []DataSegment) {
	for _, seg := range segs {
		copy(heap[seg.Offset:], seg.Bytes)
	}
}
