package framing

import (
	"context"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/port"
)

// RespondCallback is the sentinel return value a CallbackFunc uses to ask
// the dispatcher to send back a zero-valued success response even though
// the callback itself returned no error, matching RESPONSE_CALLBACK.
const RespondCallback int32 = 1<<31 - 1

// CallbackFunc handles one decoded, non-CodeResp message. Its return
// value becomes the retval of an IPC_RESP sent back to msg.Header.Src
// when msg.Header.Seq is non-zero and respond is true.
type CallbackFunc func(ctx context.Context, p *port.Port, msg *Message) (retval int32, respond bool)

// Dispatcher holds the process-wide table of callbacks indexed by Code,
// mirroring the original's fixed ipc_callbacks array.
type Dispatcher struct {
	log       *zap.Logger
	selfID    uint64
	callbacks map[Code]CallbackFunc
	compress  bool
}

// NewDispatcher returns a Dispatcher that attributes selfID as the
// source of outgoing messages and suppresses delivery of messages this
// process sent to itself (the broadcast-stream echo case).
func NewDispatcher(selfID uint64, log *zap.Logger, compress bool) *Dispatcher {
	return &Dispatcher{
		log:       log,
		selfID:    selfID,
		callbacks: make(map[Code]CallbackFunc),
		compress:  compress,
	}
}

// Register installs fn as the handler for code. Registering CodeResp is
// rejected; response handling is built in.
func (d *Dispatcher) Register(code Code, fn CallbackFunc) {
	if code == CodeResp {
		return
	}
	d.callbacks[code] = fn
}

// Dispatch applies one decoded message to p: echo suppression, response
// correlation for CodeResp, callback invocation and optional response
// generation otherwise. It is safe to call from the helper goroutine or
// from a caller doing its own matched-sequence receive on a port it
// holds exclusively.
func (d *Dispatcher) Dispatch(ctx context.Context, p *port.Port, msg *Message) error {
	if msg.Header.Src == d.selfID {
		return nil
	}

	d.log.Debug("dispatching ipc message",
		zap.String("trace_id", p.TraceID.String()),
		zap.Uint64("seq", msg.Header.Seq),
		zap.Uint32("code", uint32(msg.Header.Code)),
		zap.Uint64("src", msg.Header.Src))

	if msg.Header.Code == CodeResp {
		retval := decodeRetval(msg.Payload)
		if msg.Header.Seq != 0 {
			p.ResolvePendingCall(msg.Header.Seq, retval)
		}
		return nil
	}

	cb, ok := d.callbacks[msg.Header.Code]
	if !ok {
		return nil
	}

	retval, respond := cb(ctx, p, msg)
	if !respond || msg.Header.Seq == 0 {
		return nil
	}
	if retval == RespondCallback {
		retval = 0
	}
	return d.respond(ctx, p, msg.Header.Src, retval, msg.Header.Seq)
}

// respond sends a CodeResp message carrying retval back to dst,
// correlated by seq, matching __response_ipc_message.
func (d *Dispatcher) respond(ctx context.Context, p *port.Port, dst uint64, retval int32, seq uint64) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(retval))
	msg := &Message{
		Header: Header{
			Code: CodeResp,
			Src:  d.selfID,
			Dst:  dst,
			Seq:  seq,
		},
		Payload: payload,
	}
	return WriteMessage(ctx, p.Stream, msg, false)
}

func decodeRetval(payload []byte) int32 {
	if len(payload) < 4 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(payload))
}

// Send encodes and writes a request/notification message to p, applying
// the dispatcher's configured compression policy.
func (d *Dispatcher) Send(ctx context.Context, p *port.Port, code Code, dst uint64, seq uint64, payload []byte) error {
	msg := &Message{
		Header: Header{
			Code: code,
			Src:  d.selfID,
			Dst:  dst,
			Seq:  seq,
		},
		Payload: payload,
	}
	return WriteMessage(ctx, p.Stream, msg, d.compress)
}
