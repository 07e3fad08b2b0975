// Package helper implements the single-goroutine poll/dispatch loop that
// multiplexes every registered port, grounded on shim_ipc_helper in the
// original shim_ipc_helper.c: same five-state lifecycle, same
// restart-on-demand semantics, same reconfigure-on-wakeup main loop body.
package helper

// State is one of the helper's five lifecycle states.
type State int32

const (
	StateUninitialized State = iota
	StateDelayed
	StateNotAlive
	StateAlive
	StateHandedOver
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDelayed:
		return "delayed"
	case StateNotAlive:
		return "not_alive"
	case StateAlive:
		return "alive"
	case StateHandedOver:
		return "handed_over"
	default:
		return "unknown"
	}
}
