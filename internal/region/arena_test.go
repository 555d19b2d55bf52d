package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func smallLimits() Limits {
	return Limits{
		HeapMemorySize:       4 * 1024 * 1024,
		HeapAddressSpaceSize: 8 * 1024 * 1024,
		StackSize:            64 * 1024,
		GlobalsSize:          4096,
	}
}

func TestArenaLifecycle(t *testing.T) {
	l := smallLimits()
	a, err := NewArena(l)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, uint64(0), a.HeapAccessible())
	require.Nil(t, a.CurrentSpec())

	heap := HeapSpec{Reserved: 2 * 1024 * 1024, Guard: 4 * 1024 * 1024, Initial: WasmPageSize}
	require.NoError(t, a.AllocateRuntime(heap, GlobalsSpec{}))
	require.Equal(t, uint64(WasmPageSize), a.HeapAccessible())

	// Writing within the accessible heap must succeed.
	a.Heap()[0] = 7
	require.Equal(t, byte(7), a.Heap()[0])

	require.True(t, a.MemInHeap(0, WasmPageSize))
	require.False(t, a.MemInHeap(0, WasmPageSize+1))
	// Zero-length checks are inclusive of the one-past-the-end address.
	require.True(t, a.MemInHeap(WasmPageSize, 0))
	require.False(t, a.MemInHeap(WasmPageSize+1, 0))
	require.True(t, a.AddrInHeapGuard(WasmPageSize))
	require.False(t, a.AddrInHeapGuard(0))

	require.NoError(t, a.FreeRuntime())
	require.Equal(t, uint64(0), a.HeapAccessible())
	require.Nil(t, a.CurrentSpec())
}

func TestArenaExpandHeap(t *testing.T) {
	l := smallLimits()
	a, err := NewArena(l)
	require.NoError(t, err)
	defer a.Close()

	heap := HeapSpec{Reserved: 2 * 1024 * 1024, Guard: 6 * 1024 * 1024, Initial: WasmPageSize, Max: 2 * WasmPageSize, MaxValid: true}
	require.NoError(t, a.AllocateRuntime(heap, GlobalsSpec{}))

	n, err := a.ExpandHeap(0)
	require.NoError(t, err)
	require.Equal(t, uint64(WasmPageSize), n)

	n, err = a.ExpandHeap(WasmPageSize)
	require.NoError(t, err)
	require.Equal(t, uint64(2*WasmPageSize), n)

	_, err = a.ExpandHeap(WasmPageSize)
	require.Error(t, err)
	require.Equal(t, uint64(2*WasmPageSize), a.HeapAccessible())
}

func TestArenaExpandHeapNoLinearMemory(t *testing.T) {
	l := smallLimits()
	a, err := NewArena(l)
	require.NoError(t, err)
	defer a.Close()

	// Zero reserved size is how a module declares no usable heap.
	require.NoError(t, a.AllocateRuntime(HeapSpec{}, GlobalsSpec{}))

	_, err = a.ExpandHeap(WasmPageSize)
	require.ErrorIs(t, err, ErrNoLinearMemory)

	// Even a zero-byte request is an operation on the missing heap.
	_, err = a.ExpandHeap(0)
	require.ErrorIs(t, err, ErrNoLinearMemory)
}

func TestArenaResetRuntime(t *testing.T) {
	l := smallLimits()
	a, err := NewArena(l)
	require.NoError(t, err)
	defer a.Close()

	heap := HeapSpec{Reserved: 2 * 1024 * 1024, Guard: 6 * 1024 * 1024, Initial: WasmPageSize}
	require.NoError(t, a.AllocateRuntime(heap, GlobalsSpec{}))
	segs := []DataSegment{{Offset: 0, Bytes: []byte("hi")}}
	CopyDataSegments(a.Heap(), segs)
	require.Equal(t, byte('h'), a.Heap()[0])

	_, err = a.ExpandHeap(WasmPageSize)
	require.NoError(t, err)
	a.Heap()[WasmPageSize] = 0xff

	require.NoError(t, a.ResetRuntime(segs))
	require.Equal(t, uint64(WasmPageSize), a.HeapAccessible())
	require.Equal(t, byte('h'), a.Heap()[0])

	// Idempotence: resetting twice in a row is equivalent to once.
	require.NoError(t, a.ResetRuntime(segs))
	require.Equal(t, uint64(WasmPageSize), a.HeapAccessible())
}

func TestHeapSpecValidate(t *testing.T) {
	l := smallLimits()
	require.NoError(t, HeapSpec{Reserved: 1024, Guard: 1024, Initial: 512}.Validate(l))
	require.Error(t, HeapSpec{Reserved: 1024, Initial: 2048}.Validate(l))
	require.Error(t, HeapSpec{Reserved: l.HeapAddressSpaceSize, Guard: 1}.Validate(l))
}

func TestGlobalsSpecRejectsImports(t *testing.T) {
	g := GlobalsSpec{Globals: []GlobalDesc{{Flags: globalFlagImport}}}
	require.Error(t, g.Validate(smallLimits()))
}
