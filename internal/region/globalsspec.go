package region

import "fmt"

// globalFlagImport and globalFlagValidName are the two defined bits of a
// GlobalDesc.Flags word.
const (
	globalFlagImport    uint64 = 1 << 0
	globalFlagValidName uint64 = 1 << 1
)

// GlobalDesc is one descriptor within a GlobalsSpec.
type GlobalDesc struct {
	Flags   uint64
	Initial int64
	Name    string // valid only if Flags&globalFlagValidName != 0
}

// IsImport reports whether this global is declared as an import; a
// module with any IsImport() global fails Module loading with
// ErrUnsupported, since imports are rejected at load.
func (g GlobalDesc) IsImport() bool { return g.Flags&globalFlagImport != 0 }

// HasName reports whether Name is valid.
func (g GlobalDesc) HasName() bool { return g.Flags&globalFlagValidName != 0 }

// GlobalsSpec is the per-module globals declaration.
type GlobalsSpec struct {
	Globals []GlobalDesc
}

// Validate checks GlobalsSpec against the owning region's Limits and the
// "no imported globals" invariant.
func (g GlobalsSpec) Validate(l Limits) error {
	need := uint64(len(g.Globals)) * 8
	if need > l.GlobalsSize {
		return fmt.Errorf("%w: %d globals (%d bytes) exceed limit %d", ErrSpecOverLimits, len(g.Globals), need, l.GlobalsSize)
	}
	for i, desc := range g.Globals {
		if desc.IsImport() {
			return fmt.Errorf("%w: global %d is an import", errImportedGlobal, i)
		}
	}
	return nil
}
