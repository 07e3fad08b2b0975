package framing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liboscore/shim/internal/pal/pipestream"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	a, b := pipestream.Pair("pipe://framing")
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := &Message{
		Header:  Header{Code: 3, Src: 1, Dst: 2, Seq: 5},
		Payload: bytes.Repeat([]byte("hello"), 200),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- WriteMessage(ctx, a, msg, false) }()

	got, err := ReadMessage(ctx, b)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, msg.Payload, got.Payload)
	assert.Equal(t, msg.Header.Code, got.Header.Code)
	assert.Equal(t, msg.Header.Seq, got.Header.Seq)
}

func TestWriteMessageCompressesLargeRepetitivePayload(t *testing.T) {
	a, b := pipestream.Pair("pipe://framing-compressed")
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := bytes.Repeat([]byte("x"), 4096)
	msg := &Message{Header: Header{Code: 3, Src: 1, Dst: 2}, Payload: payload}

	go func() { _ = WriteMessage(ctx, a, msg, true) }()

	got, err := ReadMessage(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
}

func TestWriteMessageNeverCompressesResponses(t *testing.T) {
	a, b := pipestream.Pair("pipe://framing-resp")
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := bytes.Repeat([]byte("x"), 4096)
	msg := &Message{Header: Header{Code: CodeResp, Src: 1, Dst: 2}, Payload: payload}

	go func() { _ = WriteMessage(ctx, a, msg, true) }()

	got, err := ReadMessage(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, got.Header.Flags&FlagCompressed)
}
