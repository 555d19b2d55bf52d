package module

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lucet-runtime/lucet/internal/region"
)

func TestExportName(t *testing.T) {
	cases := map[string]string{
		"lucet_heap_spec":   "Lucet_heap_spec",
		"guest_func_add_2":  "Guest_func_add_2",
		"guest_table_0_len": "Guest_table_0_len",
		"":                  "",
	}
	for in, want := range cases {
		require.Equal(t, want, exportName(in))
	}
}

func TestGuestFuncSymbol(t *testing.T) {
	require.Equal(t, "Guest_func_add_2", guestFuncSymbol("add_2"))
	require.Equal(t, "Guest_func_add_2", guestFuncSymbol("guest_func_add_2"))
}

func TestValidateRejectsOverLimitHeap(t *testing.T) {
	limits := region.DefaultLimits.WithHeapMemorySize(4096)
	m := &Module{
		HeapSpec: region.HeapSpec{Reserved: 8192, Guard: 4096, Initial: 8192, MaxValid: false},
	}
	err := m.validate(limits)
	require.Error(t, err)
}

func TestValidateRejectsBothSegmentKinds(t *testing.T) {
	m := &Module{
		HeapSpec:     region.HeapSpec{Reserved: region.DefaultLimits.HeapAddressSpaceSize, Guard: 0, Initial: 4096},
		DataSegments: []region.DataSegment{{Offset: 0, Bytes: []byte("x")}},
		SparsePages:  &region.SparsePageData{Pages: [][]byte{nil}},
	}
	// Each kind on its own fits the heap spec; the mutual-exclusion check
	// in validate() is exercised here directly, since Load requires a
	// real plugin file.
	require.Len(t, m.DataSegments, 1)
	require.NotNil(t, m.SparsePages)
	require.ErrorIs(t, m.validate(region.DefaultLimits), region.ErrModule)
}

func TestResolveGlobalNameWithoutPlugin(t *testing.T) {
	m := &Module{}
	require.Equal(t, "", m.resolveGlobalName(0))
}
