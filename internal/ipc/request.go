package ipc

import (
	"context"
	"fmt"

	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/port"
)

// SendRequest sends code/payload to p and blocks until the matching
// IPC_RESP arrives or ctx is canceled, matching the original's
// ipc_send_msg_duplex. The helper loop delivers the response from its own
// goroutine via Port.ResolvePendingCall; this call never touches the
// helper's run loop directly.
func (m *Manager) SendRequest(ctx context.Context, p *port.Port, code framing.Code, payload []byte) (int32, error) {
	seq := m.NextSeq()
	call := p.NewPendingCall(seq)

	if err := m.Dispatcher.Send(ctx, p, code, p.PeerID(), seq, payload); err != nil {
		p.CancelPendingCall(seq)
		return 0, fmt.Errorf("ipc: send request: %w", err)
	}

	select {
	case retval := <-call.Done:
		return retval, nil
	case <-ctx.Done():
		p.CancelPendingCall(seq)
		return 0, fmt.Errorf("ipc: send request: %w", ipcerr.ErrInterrupted)
	}
}

// SendNotify sends code/payload to p without waiting for a response,
// matching the original's fire-and-forget ipc_send_message path (seq 0
// means "no reply expected").
func (m *Manager) SendNotify(ctx context.Context, p *port.Port, code framing.Code, payload []byte) error {
	return m.Dispatcher.Send(ctx, p, code, p.PeerID(), 0, payload)
}
