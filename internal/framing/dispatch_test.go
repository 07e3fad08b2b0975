package framing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/pal/pipestream"
	"github.com/liboscore/shim/internal/port"
)

func TestDispatchInvokesRegisteredCallbackAndRespondsOnRequest(t *testing.T) {
	a, b := pipestream.Pair("pipe://dispatch")
	defer a.Close()
	defer b.Close()

	serverDispatcher := NewDispatcher(1, zap.NewNop(), false)
	var gotPayload []byte
	serverDispatcher.Register(Code(10), func(ctx context.Context, p *port.Port, msg *Message) (int32, bool) {
		gotPayload = msg.Payload
		return 5, true
	})

	clientDispatcher := NewDispatcher(2, zap.NewNop(), false)
	serverPort := port.New(a)
	clientPort := port.New(b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- clientDispatcher.Send(ctx, clientPort, Code(10), 1, 77, []byte("payload")) }()

	msg, err := ReadMessage(ctx, serverPort.Stream)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	// the response write blocks until the client side reads it
	dispatchErr := make(chan error, 1)
	go func() { dispatchErr <- serverDispatcher.Dispatch(ctx, serverPort, msg) }()

	respMsg, err := ReadMessage(ctx, clientPort.Stream)
	require.NoError(t, err)
	require.NoError(t, <-dispatchErr)

	assert.Equal(t, []byte("payload"), gotPayload)

	require.NoError(t, clientDispatcher.Dispatch(ctx, clientPort, respMsg))
}

func TestDispatchResolvesPendingCallOnResponse(t *testing.T) {
	a, b := pipestream.Pair("pipe://dispatch-resp")
	defer a.Close()
	defer b.Close()

	d := NewDispatcher(1, zap.NewNop(), false)
	peer := NewDispatcher(2, zap.NewNop(), false)
	p := port.New(a)
	other := port.New(b)

	call := p.NewPendingCall(9)

	ctx := context.Background()
	go func() { _ = peer.respond(ctx, other, 1, -3, 9) }()

	msg, err := ReadMessage(ctx, p.Stream)
	require.NoError(t, err)
	require.NoError(t, d.Dispatch(ctx, p, msg))

	select {
	case v := <-call.Done:
		assert.Equal(t, int32(-3), v)
	case <-time.After(time.Second):
		t.Fatal("pending call never resolved")
	}
}

func TestDispatchSuppressesSelfEcho(t *testing.T) {
	d := NewDispatcher(1, zap.NewNop(), false)
	a, _ := pipestream.Pair("pipe://echo")
	p := port.New(a)

	called := false
	d.Register(Code(4), func(context.Context, *port.Port, *Message) (int32, bool) {
		called = true
		return 0, false
	})

	err := d.Dispatch(context.Background(), p, &Message{Header: Header{Code: 4, Src: 1}})
	require.NoError(t, err)
	assert.False(t, called)
}
