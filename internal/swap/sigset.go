package swap

import "golang.org/x/sys/unix"

// Sigset is the signal-mask type saved in a Context and restored by
// SetFromSignal, matching lucet_context_private.h's use of sigset_t.
type Sigset = unix.Sigset_t
