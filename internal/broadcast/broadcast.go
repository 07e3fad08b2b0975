// Package broadcast implements fan-out delivery to every port matching a
// role mask, grounded on broadcast_ipc in shim_ipc_helper.c: a dedicated
// broadcast-port fast path when no target role is specified, otherwise a
// walk of the registry honoring an exclusion list.
package broadcast

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/metrics"
	"github.com/liboscore/shim/internal/port"
)

// Router sends one message to many ports at once.
type Router struct {
	registry   *port.Registry
	dispatcher *framing.Dispatcher
	log        *zap.Logger
	metrics    *metrics.Metrics

	// broadcastPort is the dedicated broadcast stream, if any, matching
	// the original's file-scope `broadcast_port`.
	broadcastPort atomic.Pointer[port.Port]
}

// New returns a Router with no dedicated broadcast port set.
func New(registry *port.Registry, dispatcher *framing.Dispatcher, log *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{registry: registry, dispatcher: dispatcher, log: log, metrics: m}
}

// SetBroadcastPort installs (or clears, with nil) the dedicated
// broadcast stream used as the fast path when targetRoles == 0.
func (r *Router) SetBroadcastPort(p *port.Port) {
	if p != nil {
		p.Retain()
	}
	if old := r.broadcastPort.Swap(p); old != nil {
		old.Release()
	}
}

// Broadcast sends code/payload to every port whose role mask intersects
// targetRoles, skipping any port in exclude. targetRoles == 0 sends only
// to the dedicated broadcast port and never fans out; with no dedicated
// port set, or with it excluded, nothing is sent (matching the original's
// !target_type fast path).
func (r *Router) Broadcast(ctx context.Context, code framing.Code, targetRoles port.Role, exclude []*port.Port, payload []byte) error {
	if targetRoles == 0 {
		// Matches the original: target_type == 0 is answered solely by
		// the dedicated broadcast stream, never by a fan-out walk.
		bp := r.broadcastPort.Load()
		if bp == nil || contains(exclude, bp) {
			return nil
		}
		if err := r.dispatcher.Send(ctx, bp, code, 0, 0, payload); err != nil {
			r.record("error")
			return err
		}
		r.record("sent")
		return nil
	}

	var firstErr error
	r.registry.ForEach(func(p *port.Port) bool {
		if !p.Intersects(targetRoles) {
			return true
		}
		if contains(exclude, p) {
			r.record("excluded")
			return true
		}
		dst := p.PeerID()
		if err := r.dispatcher.Send(ctx, p, code, dst, 0, payload); err != nil {
			r.log.Debug("broadcast to port failed",
				zap.String("trace_id", p.TraceID.String()),
				zap.Uint64("peer", dst),
				zap.Error(err))
			r.record("error")
			if firstErr == nil {
				firstErr = err
			}
			return true // per-recipient errors never abort the fan-out
		}
		r.record("sent")
		return true
	})
	return firstErr
}

func (r *Router) record(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordBroadcast(outcome)
	}
}

func contains(set []*port.Port, p *port.Port) bool {
	for _, cand := range set {
		if cand == p {
			return true
		}
	}
	return false
}
