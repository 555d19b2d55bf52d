package instance

import (
	"fmt"

	"github.com/lucet-runtime/lucet/internal/trap"
	"github.com/lucet-runtime/lucet/val"
)

// Case discriminates the State sum type. Every transition
// rewrites State wholesale rather than mutating fields in place, so a
// stale field from a previous case is never mistaken for the current one
// avoiding the pitfalls of an ad hoc state struct with stale fields.
type Case int

const (
	CaseReady Case = iota
	CaseRunning
	CaseFault
	CaseTerminated
	CaseYielded
)

func (c Case) String() string {
	switch c {
	case CaseReady:
		return "ready"
	case CaseRunning:
		return "running"
	case CaseFault:
		return "fault"
	case CaseTerminated:
		return "terminated"
	case CaseYielded:
		return "yielded"
	default:
		return fmt.Sprintf("Case(%d)", int(c))
	}
}

// Fault is the payload of CaseFault.
type Fault struct {
	Fatal      bool
	TrapCode   trap.Code
	RIP        uintptr
	SymbolName string // filled post-handler by a dladdr-equivalent resolution
}

// Terminated is the payload of CaseTerminated.
type Terminated struct {
	Reason string // "signal" or "hostcall"
	Info   string
}

// State is the instance's current lifecycle state. Exactly
// one of the payload fields is meaningful, selected by Case.
type State struct {
	Case       Case
	Returned   val.Value
	HasReturn  bool
	Fault      Fault
	Terminated Terminated
}

// Ready builds a CaseReady state with no return value; see
// ReadyWithReturn for one that carries a run's result.
func Ready() State { return State{Case: CaseReady} }

// ReadyWithReturn builds a CaseReady state carrying v as the return value
// of the run that just completed").
func ReadyWithReturn(v val.Value) State {
	return State{Case: CaseReady, Returned: v, HasReturn: true}
}
