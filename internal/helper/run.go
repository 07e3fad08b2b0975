package helper

import (
	"context"

	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/pal"
	"github.com/liboscore/shim/internal/port"
)

// run is the helper's main loop body, grounded on shim_ipc_helper's
// while loop: block on MultiWait, react to the signaled slot, and
// reconfigure the watch set whenever a change was signaled. It owns
// watchSet exclusively for its lifetime; nothing else touches it.
func (h *Helper) run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		h.state = StateNotAlive
		h.cancelRun = nil
		done := h.runDone
		h.runDone = nil
		h.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	var watchSet []*port.Port
	watchSet = h.reconfigure(watchSet)

	for {
		h.mu.Lock()
		state := h.state
		keepAlive := h.registry.KeepAliveCount()
		h.mu.Unlock()
		if state != StateAlive && keepAlive == 0 {
			break
		}

		waitables := make([]pal.Waitable, 0, len(watchSet)+1)
		waitables = append(waitables, h.event)
		for _, p := range watchSet {
			waitables = append(waitables, p)
		}

		result, idx, err := pal.MultiWait(ctx, waitables, 0)
		if result != pal.WaitReady {
			if ctx.Err() != nil {
				break
			}
			h.log.Debug("multiwait error", zap.Error(err))
			continue
		}

		if idx == 0 {
			h.event.Clear()
			h.mu.Lock()
			st := h.state
			h.mu.Unlock()
			if st == StateNotAlive {
				break
			}
			watchSet = h.reconfigure(watchSet)
			continue
		}

		p := watchSet[idx-1]
		h.service(ctx, p)

		h.mu.Lock()
		needsReconfigure := h.updatePending
		h.updatePending = false
		h.mu.Unlock()
		if needsReconfigure {
			watchSet = h.reconfigure(watchSet)
		}
	}

	for _, p := range watchSet {
		p.Release()
	}
}

// service handles one signaled port: accept-on-server, dispatch one
// message on readable, teardown on disconnect or query failure,
// matching the per-port branch of the original's main loop.
func (h *Helper) service(ctx context.Context, p *port.Port) {
	if p.Has(port.RoleServer) {
		h.acceptOn(ctx, p)
		return
	}

	attr, err := p.Stream.Attr()
	if err != nil {
		h.log.Debug("port removed at querying", zap.String("trace_id", p.TraceID.String()), zap.Error(err))
		h.teardown(p, "query_failed", ipcerr.Code(err))
		return
	}

	if attr.Readable {
		msg, err := framing.ReadMessage(ctx, p.Stream)
		if err != nil {
			if h.metrics != nil {
				h.metrics.RecordDispatch("error")
			}
		} else if err := h.dispatcher.Dispatch(ctx, p, msg); err != nil {
			h.log.Debug("dispatch error", zap.Error(err))
			if h.metrics != nil {
				h.metrics.RecordDispatch("error")
			}
		} else if h.metrics != nil {
			h.metrics.RecordDispatch("ok")
		}
	}

	if attr.Disconnected {
		h.log.Debug("port disconnected", zap.String("trace_id", p.TraceID.String()))
		h.teardown(p, "disconnected", ipcerr.Code(ipcerr.ErrConnReset))
	}
}

func (h *Helper) acceptOn(ctx context.Context, p *port.Port) {
	server, ok := p.Stream.(pal.ServerStream)
	if !ok {
		return
	}
	client, err := server.Accept(ctx)
	if err != nil {
		h.log.Debug("port removed at accepting", zap.String("trace_id", p.TraceID.String()), zap.Error(err))
		h.teardown(p, "accept_failed", ipcerr.Code(ipcerr.ErrNoSuchProcess))
		return
	}

	role := (p.RoleMask() &^ port.RoleServer) | port.RoleListen
	_, needRestart := h.registry.AdmitByHandle(p.PeerID(), client, role, nil)
	if h.metrics != nil {
		h.metrics.RecordAdmit()
	}
	if needRestart {
		h.RequestRestart(ctx, true)
	}
}

func (h *Helper) teardown(p *port.Port, reason string, exitCode int32) {
	h.registry.Teardown(p, exitCode)
	if h.metrics != nil {
		h.metrics.RecordTeardown(reason)
	}
}

// reconfigure releases the previous watch set, pulls a fresh one from
// the registry, and records the observability side effects the
// expansion adds on every rebuild.
func (h *Helper) reconfigure(prev []*port.Port) []*port.Port {
	for _, p := range prev {
		p.Release()
	}
	next := h.registry.WatchSet()
	keepAlive := h.registry.KeepAliveCount()

	if h.metrics != nil {
		h.metrics.RecordReconfigure(len(next), keepAlive, int32(h.State()))
	}
	h.log.Debug("helper reconfigured",
		zap.Int("watched", len(next)),
		zap.Int("keepalive", keepAlive),
		zap.Int64("seq", nextReconfigureSeq()))

	return next
}
