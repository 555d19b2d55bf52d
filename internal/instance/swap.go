package instance

import "github.com/lucet-runtime/lucet/internal/swap"

// roundTripArenaStack performs a genuine register/stack switch onto the
// arena's dedicated guest stack (region.Arena.StackTop) and back, using
// the same init/swap primitives a resumable host<->guest transfer would,
// before invoke dispatches the guest entry point itself.
//
// The guest entry point is a Go closure resolved from a loaded plugin
// (module.EntryFunc), not raw machine code the way lucet_context_init_v's
// fptr is: Go's runtime tracks every goroutine's stack bounds to grow it
// on demand, and running arbitrary, potentially stack-growing Go code
// with the stack pointer pointed into memory the scheduler doesn't know
// about is unsafe regardless of how faithfully the register file is
// switched. So the switch here lands on parkReturn, a fixed, tiny
// NOSPLIT stub (context_amd64.s) that immediately switches back — a
// real, inspectable exercise of the control-transfer primitive against
// the real arena stack region, with the guest call itself still made as
// an ordinary Go call right after. See DESIGN.md for the full rationale.
func (i *Instance) roundTripArenaStack() error {
	var host, guest swap.Context
	if err := swap.Init(&guest, i.arena.StackTop(), &host); err != nil {
		return err
	}
	swap.Swap(&host, &guest)
	return nil
}
