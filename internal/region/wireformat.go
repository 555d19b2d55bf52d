package region

import (
	"encoding/binary"
	"fmt"
)

// Wire-format decoders for the packed structs a compiled module exposes,
// written in the internal/wasm/binary decoder style: a flat byte slice,
// explicit little-endian field reads, no reflection.

// DecodeHeapSpec decodes the five 64-bit little-endian fields:
// reserved, guard, initial, max, max_valid (0/1).
func DecodeHeapSpec(b []byte) (HeapSpec, error) {
	const wantLen = 5 * 8
	if len(b) != wantLen {
		return HeapSpec{}, fmt.Errorf("%w: lucet_heap_spec is %d bytes, want %d", ErrModule, len(b), wantLen)
	}
	return HeapSpec{
		Reserved: binary.LittleEndian.Uint64(b[0:8]),
		Guard:    binary.LittleEndian.Uint64(b[8:16]),
		Initial:  binary.LittleEndian.Uint64(b[16:24]),
		Max:      binary.LittleEndian.Uint64(b[24:32]),
		MaxValid: binary.LittleEndian.Uint64(b[32:40]) != 0,
	}, nil
}

// globalDescWireSize is sizeof({u64 flags; i64 initial; u64 name_ptr_or_zero}).
const globalDescWireSize = 24

// DecodeGlobalsSpec decodes a u64 count N followed by N packed
// {flags, initial, name_ptr_or_zero} descriptors. nameResolver
// is called with a non-zero name pointer to recover the optional name;
// pass nil to skip name resolution (HasName() will still report
// correctly from the valid-name flag, but Name will be empty).
func DecodeGlobalsSpec(b []byte, nameResolver func(ptr uint64) string) (GlobalsSpec, error) {
	if len(b) < 8 {
		return GlobalsSpec{}, fmt.Errorf("%w: lucet_globals_spec truncated before count", ErrModule)
	}
	n := binary.LittleEndian.Uint64(b[0:8])
	want := 8 + n*globalDescWireSize
	if uint64(len(b)) != want {
		return GlobalsSpec{}, fmt.Errorf("%w: lucet_globals_spec is %d bytes, want %d for %d globals", ErrModule, len(b), want, n)
	}
	globals := make([]GlobalDesc, n)
	for i := uint64(0); i < n; i++ {
		off := 8 + i*globalDescWireSize
		rec := b[off : off+globalDescWireSize]
		flags := binary.LittleEndian.Uint64(rec[0:8])
		initial := int64(binary.LittleEndian.Uint64(rec[8:16]))
		namePtr := binary.LittleEndian.Uint64(rec[16:24])
		desc := GlobalDesc{Flags: flags, Initial: initial}
		if desc.HasName() && namePtr != 0 && nameResolver != nil {
			desc.Name = nameResolver(namePtr)
		}
		globals[i] = desc
	}
	return GlobalsSpec{Globals: globals}, nil
}

// dataSegmentRecordHeaderSize is sizeof({u32 memory_index; u32 offset; u32 length}).
const dataSegmentRecordHeaderSize = 12

// DecodeDataSegments decodes the packed sequence of
// {memory_index, offset, length, data[length], pad to 8} records.
func DecodeDataSegments(b []byte) ([]DataSegment, error) {
	var segs []DataSegment
	off := 0
	for off < len(b) {
		if off+dataSegmentRecordHeaderSize > len(b) {
			return nil, fmt.Errorf("%w: data segment header truncated at offset %d", ErrModule, off)
		}
		memIdx := binary.LittleEndian.Uint32(b[off : off+4])
		offset := binary.LittleEndian.Uint32(b[off+4 : off+8])
		length := binary.LittleEndian.Uint32(b[off+8 : off+12])
		dataStart := off + dataSegmentRecordHeaderSize
		dataEnd := dataStart + int(length)
		if dataEnd > len(b) {
			return nil, fmt.Errorf("%w: data segment at offset %d overruns buffer", ErrModule, off)
		}
		segBytes := make([]byte, length)
		copy(segBytes, b[dataStart:dataEnd])
		segs = append(segs, DataSegment{MemoryIndex: memIdx, Offset: offset, Bytes: segBytes})

		recLen := dataSegmentRecordHeaderSize + int(length)
		off += (recLen + 7) &^ 7 // pad to 8-byte boundary between records
	}
	return segs, nil
}

// FuncTableEntry is one packed {type_tag, function_ptr} entry of
// the function table's wire layout. EmptyFuncTag marks an unused slot.
type FuncTableEntry struct {
	TypeTag uint64
	FuncPtr uintptr
}

// EmptyFuncTag is the sentinel type_tag value (0xFFFF_FFFF_FFFF_FFFF)
// marking an empty function-table slot.
const EmptyFuncTag uint64 = 0xFFFFFFFFFFFFFFFF

// DecodeFuncTable decodes a packed array of {u64 type_tag; u64 function_ptr}.
func DecodeFuncTable(b []byte) ([]FuncTableEntry, error) {
	const entrySize = 16
	if len(b)%entrySize != 0 {
		return nil, fmt.Errorf("%w: guest_table_0 length %d is not a multiple of %d", ErrModule, len(b), entrySize)
	}
	n := len(b) / entrySize
	out := make([]FuncTableEntry, n)
	for i := 0; i < n; i++ {
		off := i * entrySize
		out[i] = FuncTableEntry{
			TypeTag: binary.LittleEndian.Uint64(b[off : off+8]),
			FuncPtr: uintptr(binary.LittleEndian.Uint64(b[off+8 : off+16])),
		}
	}
	return out, nil
}
