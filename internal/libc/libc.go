// Package libc implements the host-side sink for guest exit/abort/stdio
// requests: lucet_libc's host half, the subset that ultimately surfaces
// as instance.Terminated rather than a return value.
//
// A compiled guest module links against a small wasm32 libc
// (lucet-libc) whose exit/abort/puts-style calls reach the host through
// declared hostcall symbols taking vmctx first, exactly like any other
// hostcall (internal/instance.Vmctx). This package gives those calls a
// concrete home. The shape follows WASI's proc_exit/fd_write handlers:
// record the exit reason where other callers can see it, then panic to
// unwind past any guest code emitted after the call, the same structure
// Vmctx.Terminate already uses for hostcall termination.
package libc

import (
	"fmt"
	"io"

	"github.com/lucet-runtime/lucet/internal/instance"
)

// Bridge wires lucet_libc's host-side entry points to a particular
// instance's Vmctx, writing stdio to the given streams. Streams are
// supplied per-instantiation by the embedder's Config.
type Bridge struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Exit is lucet_libc's exit(2) bridge: guest code calling libc's exit()
// reaches here with the process exit code. Exit never returns to the
// guest caller; it terminates the instance the same way any other
// hostcall-initiated termination does.
func (b *Bridge) Exit(vmctx uintptr, code int32) {
	v, ok := instance.VmctxFrom(vmctx)
	if !ok {
		panic("libc.Exit: vmctx does not identify a live instance")
	}
	v.Terminate(fmt.Sprintf("exit(%d)", code))
}

// Abort is lucet_libc's abort(2) bridge: guest code calling libc's
// abort() (including an assertion failure) reaches here with an optional
// message already copied out of the guest heap by the caller.
func (b *Bridge) Abort(vmctx uintptr, message string) {
	v, ok := instance.VmctxFrom(vmctx)
	if !ok {
		panic("libc.Abort: vmctx does not identify a live instance")
	}
	if message == "" {
		v.Terminate("abort")
		return
	}
	v.Terminate(fmt.Sprintf("abort: %s", message))
}

// Puts writes a NUL-free string already copied out of guest memory by the
// hostcall shim to Stdout, returning the byte count written — lucet_libc's
// puts/fd_write(1, ...) bridge. The hostcall shim is responsible for the
// CheckHeap bounds check before handing the string to Puts; Puts itself
// never touches guest memory directly.
func (b *Bridge) Puts(s string) (int, error) {
	w := b.Stdout
	if w == nil {
		w = io.Discard
	}
	return io.WriteString(w, s)
}

// Eputs is Puts' stderr counterpart, lucet_libc's fd_write(2, ...) bridge.
func (b *Bridge) Eputs(s string) (int, error) {
	w := b.Stderr
	if w == nil {
		w = io.Discard
	}
	return io.WriteString(w, s)
}
