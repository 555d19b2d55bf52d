//go:build !amd64

package swap

// Init always fails on a GOARCH without a context_<arch>.s implementation
// of the swap primitives: the swap assembly only targets amd64.
func Init(ctx *Context, stackTop uintptr, parent *Context) error {
	return ErrUnsupported
}

// Swap is a no-op stand-in on unsupported architectures; Init already
// refused to produce a usable Context, so callers following the
// Init-then-Swap protocol never reach here with a real context.
func Swap(from, to *Context) {}

// Set mirrors Swap's stub behavior.
func Set(to *Context) {}

// SetFromSignal mirrors Swap's stub behavior.
func SetFromSignal(to *Context) error { return ErrUnsupported }
