package region

import (
	"fmt"

	"github.com/lucet-runtime/lucet/internal/rterr"
)

var errNotPageAligned = fmt.Errorf("%w: size", rterr.ErrInvalidArgument)

// ErrRegionFull is returned by Region.Acquire when no arena is free.
var ErrRegionFull = rterr.ErrRegionFull

// ErrSpecOverLimits is returned by AllocateRuntime when a module's heap or
// globals spec does not fit the region's Limits.
var ErrSpecOverLimits = rterr.ErrLimitsExceeded

// errImportedGlobal is returned by GlobalsSpec.Validate when a module
// declares an imported global; imported globals are rejected at load.
var errImportedGlobal = rterr.ErrUnsupported

// ErrModule is returned for module structural problems: data segments out
// of range, inconsistent symbol pairs, missing required symbols.
var ErrModule = rterr.ErrModule

// ErrLimitsExceeded is returned when a heap growth request would exceed
// the module's declared max, the region's limits, or the guard region.
var ErrLimitsExceeded = rterr.ErrLimitsExceeded

// ErrNoLinearMemory is returned for heap operations on an arena whose
// active spec declares no usable heap (zero reserved size).
var ErrNoLinearMemory = rterr.ErrNoLinearMemory
