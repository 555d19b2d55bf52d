// Package rterr defines the error taxonomy surfaced from the core API
//: one sentinel per category, wrapped with context via
// fmt.Errorf("%w: ...") at the call site and unwrapped with errors.Is/As
// by callers that need to branch on category.
package rterr

import "errors"

var (
	// ErrInvalidArgument signals API misuse: a non-finite argument, wrong
	// arity, or a val.Value outside its declared type's range.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRegionFull signals that Region.Acquire found no free arena.
	ErrRegionFull = errors.New("region full")
	// ErrModule signals a module structural problem: a missing required
	// symbol, an inconsistent symbol pair, or a data segment out of range.
	ErrModule = errors.New("module error")
	// ErrLimitsExceeded signals a module's declared sizes exceed the
	// region's limits.
	ErrLimitsExceeded = errors.New("limits exceeded")
	// ErrNoLinearMemory signals an attempt to operate on the heap of a
	// module that declares none usable.
	ErrNoLinearMemory = errors.New("no linear memory")
	// ErrSymbolNotFound signals an entry-point symbol absent at run time.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrRuntimeFault wraps a classified guest hardware fault; see
	// instance.Fault for the detailed state.
	ErrRuntimeFault = errors.New("runtime fault")
	// ErrRuntimeTerminated wraps a guest or hostcall termination; see
	// instance.Terminated for the detailed state.
	ErrRuntimeTerminated = errors.New("runtime terminated")
	// ErrDL signals a dynamic-linker error during module load.
	ErrDL = errors.New("dynamic link error")
	// ErrInternal signals an invariant violation that should not occur;
	// paired with the fatal handler.
	ErrInternal = errors.New("internal error")
	// ErrUnsupported signals a feature not implemented, e.g. imported
	// globals.
	ErrUnsupported = errors.New("unsupported")
)
