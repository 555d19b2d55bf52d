//go:build amd64

package swap

import (
	"fmt"
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

// swap and set are implemented in context_amd64.s. Both use the plain
// stack-argument (ABI0) calling convention, the same one runtime's own
// hand-written assembly calls Go functions through, so that context_amd64.s
// can hard-code argument offsets instead of tracking the register ABI.
//
//go:noescape
func swap(from, to *Context)

//go:noescape
func set(to *Context)

// parkReturn is the fixed landing stub Init points a context's stack at.
// Implemented in context_amd64.s: it expects DI to hold a pointer to the
// parent Context (parked there by the register load in swap/set, the
// same argument-parking idiom lucet_context.c's bootstrap uses to carry
// fptr's first argument across the switch) and immediately calls set on
// it, completing a round trip onto the new stack and back.
func parkReturn()

// parkReturnAddr returns parkReturn's entry address: parkReturn is an
// ordinary Go function value, just implemented in assembly instead of
// Go source, so reflect recovers its address like any other function's.
func parkReturnAddr() uintptr {
	return reflect.ValueOf(parkReturn).Pointer()
}

// minStackFrame is the smallest stack Init will lay out: parkReturn's own
// $8 frame plus the 8-byte return-address slot it reads at entry.
const minStackFrame = 16

// Init lays out ctx so that swapping to it lands on a fresh frame on the
// stack ending at stackTop (one past its highest usable byte, per
// lucet_context_init_v's stack_top convention) and immediately calls Set
// on parent, completing a round trip through the arena's dedicated guest
// stack and back. parent's Sigset is captured via the current thread's
// signal mask the way lucet_context_init_v populates parent->sigset with
// sigprocmask(0, NULL, &parent->sigset).
func Init(ctx *Context, stackTop uintptr, parent *Context) error {
	if stackTop == 0 {
		return fmt.Errorf("swap: Init: zero stack_top")
	}
	if parent == nil {
		return fmt.Errorf("swap: Init: nil parent")
	}
	if stackTop < minStackFrame {
		return fmt.Errorf("swap: Init: stack_top too small for a frame")
	}

	*ctx = Context{}

	sp := stackTop &^ uintptr(0x0F) // round down to 16-byte alignment
	sp -= 8                         // room for the return-address slot parkReturn's RET consumes
	*(*uintptr)(unsafe.Pointer(sp)) = parkReturnAddr()

	ctx.Gpr.Rsp = uint64(sp)
	ctx.Gpr.Rbp = uint64(sp)
	ctx.Gpr.Rdi = uint64(uintptr(unsafe.Pointer(parent)))

	if err := unix.PthreadSigmask(unix.SIG_SETMASK, nil, &parent.Sigset); err != nil {
		// A no-op mask change (new == nil) with old != nil just reads the
		// current mask; still check the syscall the way
		// lucet_context_init_v treats a failing sigprocmask as fatal to
		// the setup (there it calls err(1, ...) — this port reports the
		// error to Init's caller instead of aborting the process).
		return fmt.Errorf("swap: Init: reading signal mask: %w", err)
	}
	return nil
}

// Swap saves the calling context's registers into from, then loads to's
// registers and jumps to wherever to's stack pointer says, mirroring
// lucet_context_swap.
func Swap(from, to *Context) { swap(from, to) }

// Set loads to's registers and jumps, without saving the caller's
// context, mirroring lucet_context_set.
func Set(to *Context) { set(to) }

// SetFromSignal restores to's saved signal mask before jumping, mirroring
// lucet_context_set_from_signal: used when leaving a signal handler by
// context switch instead of letting it return (and implicitly restore
// the mask via sigreturn).
func SetFromSignal(to *Context) error {
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, &to.Sigset, nil); err != nil {
		return fmt.Errorf("swap: SetFromSignal: restoring signal mask: %w", err)
	}
	set(to)
	return nil
}
