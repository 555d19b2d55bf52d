// Package swap implements the host<->guest register-context primitive:
// a fixed-layout Context struct plus the init/swap/set/set_from_signal
// operations used to transfer control onto a dedicated stack and back.
//
// Ported from lucet-runtime-c's lucet_context.c and
// lucet_context_private.h: the GPR/FPR/retval layout, the stack-frame
// shape Init lays out, and the swap/set/set_from_signal split all come
// from that design, adapted to Go's ABI0 assembly calling convention
// instead of a variadic C function pointer (see context_amd64.s for
// what changed).
package swap

import (
	"errors"
	"unsafe"
)

// ErrUnsupported is returned by Init on a GOARCH with no assembly
// implementation of the swap primitives; only x86-64 is supported.
var ErrUnsupported = errors.New("swap: unsupported architecture")

// Gprs holds the callee-saved general-purpose registers that define a
// context, in the exact order context_amd64.s's offsets assume.
type Gprs struct {
	Rbx, Rsp, Rbp, Rdi, R12, R13, R14, R15 uint64
}

// Fprs holds the callee-saved xmm registers, 128 bits each.
type Fprs struct {
	Xmm [8][2]uint64
}

// Context is a saved register file and signal mask: the Go equivalent of
// lucet_context_private.h's `struct lucet_context`. Gpr and Fpr must stay
// first, in this order, with the retval slots immediately after — the
// offsets are hard-coded in context_amd64.s and asserted in init below,
// exactly as lucet_context_private.h's _Static_asserts do.
type Context struct {
	Gpr Gprs
	Fpr Fprs

	// RetvalsGP and RetvalFP are where a guest function's return value
	// is deposited before swapping back to its parent; unused by the
	// round-trip this port drives Init/Swap through (internal/instance's
	// roundTripArenaStack) but kept so a future resumable guest call can
	// fill them in the same layout lucet_context_get_retval_gp/_fp read.
	RetvalsGP [2]uint64
	RetvalFP  [2]uint64

	// Sigset is the signal mask to restore in SetFromSignal, captured
	// from the parent context the way lucet_context_init_v captures it
	// via sigprocmask(0, NULL, &parent->sigset).
	Sigset Sigset
}

const (
	offGpr       = 0
	offFpr       = 8 * 8
	offRetvalsGP = 8*8 + 16*8
	offRetvalFP  = 8*8 + 16*8 + 2*8
)

func init() {
	var c Context
	assertOffset("Gpr", unsafe.Offsetof(c.Gpr), offGpr)
	assertOffset("Fpr", unsafe.Offsetof(c.Fpr), offFpr)
	assertOffset("RetvalsGP", unsafe.Offsetof(c.RetvalsGP), offRetvalsGP)
	assertOffset("RetvalFP", unsafe.Offsetof(c.RetvalFP), offRetvalFP)
}

func assertOffset(name string, got, want uintptr) {
	if got != want {
		panic("swap: Context." + name + " offset " + itoa(got) + " != " + itoa(want) + ": context_amd64.s constants are stale")
	}
}

func itoa(u uintptr) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}

// ClearRetvals zeroes ctx's return-value slots, mirroring
// lucet_context_clear_retvals.
func (c *Context) ClearRetvals() {
	c.RetvalsGP[0], c.RetvalsGP[1] = 0, 0
	c.RetvalFP[0], c.RetvalFP[1] = 0, 0
}

// RetvalGP returns one of the two general-purpose return slots (idx 0 or
// 1), mirroring lucet_context_get_retval_gp.
func (c *Context) RetvalGP(idx int) uint64 { return c.RetvalsGP[idx] }

