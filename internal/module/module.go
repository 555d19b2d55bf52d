// Package module loads a compiled guest module and resolves its symbols
// by name (heap spec, globals spec, data segments, function table, trap
// manifest, entry points).
//
// A native shared object is replaced here with a Go plugin
// (-buildmode=plugin): the same symbol names survive, capitalized to the
// first letter only so they are valid exported Go identifiers
// (lucet_heap_spec -> Lucet_heap_spec), and the wire formats are
// preserved exactly - symbols that were packed byte blobs in the original stay packed byte
// blobs here, decoded by internal/region and internal/trap's wireformat
// decoders. Guest entry points are genuine Go functions instead of raw
// machine code, matching the EntryFunc signature below.
package module

import (
	"fmt"
	"plugin"
	"strings"
	"sync"
	"unicode"

	"github.com/lucet-runtime/lucet/internal/region"
	"github.com/lucet-runtime/lucet/internal/rterr"
	"github.com/lucet-runtime/lucet/internal/trap"
	"github.com/lucet-runtime/lucet/val"
)

// EntryFunc is the signature every `Guest_func_<name>` and `Guest_start`
// symbol must have: vmctx first, followed by the marshalled
// argument list, returning a single tagged value or an error if the
// guest call itself could not be dispatched (distinct from a guest-side
// fault, which the runner observes via panic/recover, not this error).
type EntryFunc func(vmctx uintptr, args []val.Value) (val.Value, error)

// Module is a loaded guest module: the plugin handle plus every symbol
// resolved from it.
type Module struct {
	path string
	plug *plugin.Plugin

	HeapSpec     region.HeapSpec
	GlobalsSpec  region.GlobalsSpec
	DataSegments []region.DataSegment
	SparsePages  *region.SparsePageData
	FuncTable    []region.FuncTableEntry
	TrapManifest *trap.Manifest
	StartFunc    EntryFunc // nil if guest_start absent

	exports sync.Map // string -> EntryFunc, memoizes GetExportFunc
}

// exportName turns a snake_case symbol name into the exported Go
// identifier a plugin must declare it under: only the first rune is
// capitalized, so `lucet_heap_spec` becomes `Lucet_heap_spec` and
// `guest_func_add_2` becomes `Guest_func_add_2`.
func exportName(symbol string) string {
	if symbol == "" {
		return symbol
	}
	r := []rune(symbol)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// Load opens the plugin at path and resolves its required and optional
// symbols, applying every required check.
func Load(path string, limits region.Limits) (*Module, error) {
	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", rterr.ErrDL, path, err)
	}

	m := &Module{path: path, plug: plug}

	heapBlob, err := lookupBytes(plug, "lucet_heap_spec")
	if err != nil {
		return nil, fmt.Errorf("%w: missing lucet_heap_spec: %v", rterr.ErrModule, err)
	}
	m.HeapSpec, err = region.DecodeHeapSpec(heapBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: lucet_heap_spec: %v", rterr.ErrModule, err)
	}

	globalsBlob, err := lookupBytes(plug, "lucet_globals_spec")
	if err != nil {
		return nil, fmt.Errorf("%w: missing lucet_globals_spec: %v", rterr.ErrModule, err)
	}
	m.GlobalsSpec, err = region.DecodeGlobalsSpec(globalsBlob, m.resolveGlobalName)
	if err != nil {
		return nil, fmt.Errorf("%w: lucet_globals_spec: %v", rterr.ErrModule, err)
	}

	segBlob, segErr := lookupBytes(plug, "wasm_data_segments")
	_, lenErr := lookupBytes(plug, "wasm_data_segments_len")
	switch {
	case segErr == nil && lenErr == nil:
		m.DataSegments, err = region.DecodeDataSegments(segBlob)
		if err != nil {
			return nil, fmt.Errorf("%w: wasm_data_segments: %v", rterr.ErrModule, err)
		}
	case segErr == nil || lenErr == nil:
		return nil, fmt.Errorf("%w: wasm_data_segments and wasm_data_segments_len must both be present or both absent", rterr.ErrModule)
	}

	if pages, err := lookupSparsePages(plug); err == nil {
		m.SparsePages = pages
	}

	if m.SparsePages != nil && len(m.DataSegments) > 0 {
		return nil, fmt.Errorf("%w: module declares both wasm_data_segments and guest_sparse_page_data", rterr.ErrModule)
	}

	tableBlob, tableErr := lookupBytes(plug, "guest_table_0")
	_, tableLenErr := lookupBytes(plug, "guest_table_0_len")
	if tableErr == nil && tableLenErr == nil {
		m.FuncTable, err = region.DecodeFuncTable(tableBlob)
		if err != nil {
			return nil, fmt.Errorf("%w: guest_table_0: %v", rterr.ErrModule, err)
		}
	}

	trapBlob, trapErr := lookupBytes(plug, "lucet_trap_manifest")
	_, trapLenErr := lookupBytes(plug, "lucet_trap_manifest_len")
	if trapErr == nil && trapLenErr == nil {
		m.TrapManifest, err = trap.DecodeManifest(trapBlob)
		if err != nil {
			return nil, fmt.Errorf("%w: lucet_trap_manifest: %v", rterr.ErrModule, err)
		}
	}

	if fn, err := lookupEntryFunc(plug, "guest_start"); err == nil {
		m.StartFunc = fn
	}

	if err := m.validate(limits); err != nil {
		return nil, err
	}
	return m, nil
}

// validate applies the region-limits checks a loaded module must satisfy
// before a module may be used to create an instance.
func (m *Module) validate(limits region.Limits) error {
	if m.SparsePages != nil && len(m.DataSegments) > 0 {
		return fmt.Errorf("%w: module declares both wasm_data_segments and guest_sparse_page_data", rterr.ErrModule)
	}
	if err := m.HeapSpec.Validate(limits); err != nil {
		return err
	}
	if err := m.GlobalsSpec.Validate(limits); err != nil {
		return err
	}
	if len(m.DataSegments) > 0 {
		if err := region.ValidateDataSegments(m.DataSegments, m.HeapSpec); err != nil {
			return err
		}
	}
	if m.SparsePages != nil {
		if err := m.SparsePages.Validate(m.HeapSpec, pageSizeHint); err != nil {
			return err
		}
	}
	return nil
}

// pageSizeHint is the host page size used to validate sparse page data;
// kept as a variable (not a direct vmem.PageSize import) so module stays
// decoupled from the allocator package the way region already is from
// module, per the same layering rule arena.go documents for ResetRuntime.
var pageSizeHint = 4096

// resolveGlobalName adapts the `name_ptr_or_zero` global-debug-name field, which
// in the original points into the shared object's string table, to the Go
// port: a zero ptr means unnamed; a nonzero ptr indexes an optional
// `Guest_names map[uint64]string` symbol a plugin may export.
func (m *Module) resolveGlobalName(ptr uint64) string {
	if ptr == 0 || m.plug == nil {
		return ""
	}
	sym, err := m.plug.Lookup("Guest_names")
	if err != nil {
		return ""
	}
	names, ok := sym.(*map[uint64]string)
	if !ok || names == nil {
		return ""
	}
	return (*names)[ptr]
}

// GetExportFunc builds the symbol name guest_func_<name> and returns the
// resolved entry point, or ErrSymbolNotFound.
func (m *Module) GetExportFunc(name string) (EntryFunc, error) {
	if cached, ok := m.exports.Load(name); ok {
		return cached.(EntryFunc), nil
	}
	fn, err := lookupEntryFunc(m.plug, "guest_func_"+name)
	if err != nil {
		return nil, fmt.Errorf("%w: guest_func_%s", rterr.ErrSymbolNotFound, name)
	}
	m.exports.Store(name, fn)
	return fn, nil
}

// SetExport registers fn as the export named name, bypassing plugin
// symbol resolution. Useful for embedders that construct a Module by hand
// (tests, or hosts that compile entry points in-process instead of
// loading a plugin file).
func (m *Module) SetExport(name string, fn EntryFunc) {
	m.exports.Store(name, fn)
}

// GetFuncFromTable returns the function-table entry at func_id in table
// table_id; only table 0 exists. The
// returned entry carries a raw pointer for identity/logging purposes -
// indirect calls are dispatched by guest code itself, not by the host.
func (m *Module) GetFuncFromTable(tableID, funcID uint32) (region.FuncTableEntry, bool) {
	if tableID != 0 || int(funcID) >= len(m.FuncTable) {
		return region.FuncTableEntry{}, false
	}
	e := m.FuncTable[funcID]
	if e.TypeTag == region.EmptyFuncTag {
		return region.FuncTableEntry{}, false
	}
	return e, true
}

// Close gives callers a single place to release module-owned resources.
// It does not unload the plugin: Go plugins cannot be unloaded by the
// runtime (there is no dlclose equivalent), so Close currently does
// nothing and always returns nil.
func (m *Module) Close() error { return nil }

func lookupBytes(plug *plugin.Plugin, symbol string) ([]byte, error) {
	sym, err := plug.Lookup(exportName(symbol))
	if err != nil {
		return nil, err
	}
	b, ok := sym.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("symbol %s has wrong type %T, want *[]byte", symbol, sym)
	}
	return *b, nil
}

func lookupSparsePages(plug *plugin.Plugin) (*region.SparsePageData, error) {
	sym, err := plug.Lookup(exportName("guest_sparse_page_data"))
	if err != nil {
		return nil, err
	}
	pages, ok := sym.(*[][]byte)
	if !ok {
		return nil, fmt.Errorf("symbol guest_sparse_page_data has wrong type %T, want *[][]byte", sym)
	}
	return &region.SparsePageData{Pages: *pages}, nil
}

func lookupEntryFunc(plug *plugin.Plugin, symbol string) (EntryFunc, error) {
	sym, err := plug.Lookup(exportName(symbol))
	if err != nil {
		return nil, err
	}
	fn, ok := sym.(func(uintptr, []val.Value) (val.Value, error))
	if !ok {
		return nil, fmt.Errorf("symbol %s has wrong type %T, want %s", symbol, sym, "EntryFunc")
	}
	return EntryFunc(fn), nil
}

// guestFuncSymbol is exposed for tests that need to predict the exported
// identifier lookupEntryFunc derives from an entry-point name.
func guestFuncSymbol(name string) string {
	return exportName("guest_func_" + strings.TrimPrefix(name, "guest_func_"))
}
