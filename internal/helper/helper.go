package helper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/metrics"
	"github.com/liboscore/shim/internal/pal"
	"github.com/liboscore/shim/internal/port"
)

type helperMarker struct{}

var helperMarkerKey = helperMarker{}

// Helper owns the single poll/dispatch loop that multiplexes every
// watched port, grounded on shim_ipc_helper's main loop body.
type Helper struct {
	registry   *port.Registry
	dispatcher *framing.Dispatcher
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu            sync.Mutex
	state         State
	updatePending bool // ipc_helper_update
	cancelRun     context.CancelFunc
	runDone       chan struct{}

	event pal.Event // ipc_helper_event
}

// New returns a Helper in StateUninitialized, matching the package-level
// statics before init_ipc_helper runs.
func New(registry *port.Registry, dispatcher *framing.Dispatcher, log *zap.Logger, m *metrics.Metrics) *Helper {
	return &Helper{
		registry:   registry,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
		event:      pal.NewEvent(),
	}
}

// State returns the current lifecycle state.
func (h *Helper) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// InitHelper transitions out of StateUninitialized, matching
// init_ipc_helper: if a restart was requested before initialization
// (StateDelayed), start the loop now.
func (h *Helper) InitHelper(ctx context.Context) error {
	h.mu.Lock()
	needHelper := h.state == StateDelayed
	h.state = StateNotAlive
	h.mu.Unlock()

	if needHelper {
		return h.Start(ctx)
	}
	return nil
}

// inHelper reports whether ctx was derived from this Helper's own run
// loop, the Go substitute for IN_HELPER()'s thread-identity comparison.
func (h *Helper) inHelper(ctx context.Context) bool {
	marker, _ := ctx.Value(helperMarkerKey).(*Helper)
	return marker == h
}

// RequestRestart asks the helper to notice a registry change, matching
// restart_ipc_helper. needCreate mirrors the original's parameter: only
// some call sites (admits) are allowed to spin up a helper that isn't
// running yet.
func (h *Helper) RequestRestart(ctx context.Context, needCreate bool) {
	h.mu.Lock()
	state := h.state
	switch state {
	case StateUninitialized:
		h.state = StateDelayed
		h.mu.Unlock()
		return
	case StateDelayed:
		h.mu.Unlock()
		return
	case StateNotAlive:
		h.mu.Unlock()
		if needCreate {
			_ = h.Start(ctx)
		}
		return
	case StateAlive:
		inHelper := h.inHelper(ctx)
		h.mu.Unlock()
		if inHelper {
			h.mu.Lock()
			h.updatePending = true
			h.mu.Unlock()
			return
		}
		h.event.Set()
		return
	case StateHandedOver:
		h.updatePending = true
		h.mu.Unlock()
		return
	default:
		h.mu.Unlock()
	}
}

// Start spins up the run loop goroutine if one is not already alive,
// matching create_ipc_helper.
func (h *Helper) Start(parent context.Context) error {
	h.mu.Lock()
	if h.state == StateAlive {
		h.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(parent)
	ctx = context.WithValue(ctx, helperMarkerKey, h)
	h.cancelRun = cancel
	h.runDone = make(chan struct{})
	h.state = StateAlive
	h.mu.Unlock()

	go h.run(ctx)
	return nil
}

// ExitWithHelper requests the loop stop, optionally handing over to it
// as the sole keepalive-bearing thread, matching exit_with_ipc_helper.
func (h *Helper) ExitWithHelper(ctx context.Context, handover bool) error {
	h.mu.Lock()
	state := h.state
	inHelper := h.inHelper(ctx)
	h.mu.Unlock()
	if inHelper || state != StateAlive {
		return nil
	}

	if handover && h.registry.KeepAliveCount() == 0 {
		handover = false
	}

	newState := StateNotAlive
	if handover {
		h.log.Debug("handing over to ipc helper")
		newState = StateHandedOver
	} else {
		h.log.Debug("exiting ipc helper")
	}

	h.mu.Lock()
	h.state = newState
	h.mu.Unlock()
	h.event.Set()

	if newState == StateNotAlive {
		return nil
	}
	return ipcerr.ErrAgain
}

// Terminate forces the loop to stop regardless of keepalive state,
// matching terminate_ipc_helper.
func (h *Helper) Terminate() error {
	h.mu.Lock()
	if h.cancelRun == nil {
		h.mu.Unlock()
		return fmt.Errorf("helper: %w: no running helper", ipcerr.ErrNoSuchProcess)
	}
	h.log.Debug("terminating ipc helper")
	h.state = StateNotAlive
	h.mu.Unlock()
	h.event.Set()
	return nil
}

// Wait blocks until the run loop has exited.
func (h *Helper) Wait() {
	h.mu.Lock()
	done := h.runDone
	h.mu.Unlock()
	if done != nil {
		<-done
	}
}

var reconfigureSeq int64

func nextReconfigureSeq() int64 { return atomic.AddInt64(&reconfigureSeq, 1) }
