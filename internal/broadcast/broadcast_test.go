package broadcast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/metrics"
	"github.com/liboscore/shim/internal/pal/pipestream"
	"github.com/liboscore/shim/internal/port"
)

// testMetrics is shared by every test: metrics.New registers its
// collectors on the default Prometheus registry, which panics on a second
// registration in the same process.
var testMetrics = metrics.New()

func newRouter() (*Router, *port.Registry) {
	reg := port.NewRegistry()
	d := framing.NewDispatcher(1, zap.NewNop(), false)
	return New(reg, d, zap.NewNop(), testMetrics), reg
}

func TestBroadcastWithoutTargetRolesUsesDedicatedPortOnly(t *testing.T) {
	r, reg := newRouter()

	bcastSide, peerSide := pipestream.Pair("pipe://bcast")
	defer peerSide.Close()
	bp, _ := reg.AdmitByHandle(50, bcastSide, port.RoleDirPrt, nil)
	r.SetBroadcastPort(bp)

	fanoutStream, fanoutPeer := pipestream.Pair("pipe://fanout")
	defer fanoutPeer.Close()
	reg.AdmitByHandle(60, fanoutStream, port.RoleDirPrt, nil)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() { errCh <- r.Broadcast(ctx, framing.Code(9), 0, nil, []byte("x")) }()

	msg, err := framing.ReadMessage(ctx, peerSide)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), msg.Payload)
	require.NoError(t, <-errCh)
}

func TestBroadcastWithoutTargetRolesSkipsFanoutFallback(t *testing.T) {
	r, reg := newRouter()

	fanoutStream, fanoutPeer := pipestream.Pair("pipe://fanout-only")
	defer fanoutStream.Close()
	defer fanoutPeer.Close()
	reg.AdmitByHandle(61, fanoutStream, port.RoleDirPrt, nil)

	// no dedicated broadcast port installed: target_type == 0 must be a
	// silent no-op, never a fan-out over every listed port.
	err := r.Broadcast(context.Background(), framing.Code(9), 0, nil, []byte("x"))
	assert.NoError(t, err)
}

func TestBroadcastFanOutHonorsRoleMaskAndExclusion(t *testing.T) {
	r, reg := newRouter()

	matchStream, matchPeer := pipestream.Pair("pipe://match")
	defer matchPeer.Close()
	matched, _ := reg.AdmitByHandle(70, matchStream, port.RoleListen, nil)

	excludedStream, excludedPeer := pipestream.Pair("pipe://excluded")
	defer excludedStream.Close()
	defer excludedPeer.Close()
	excluded, _ := reg.AdmitByHandle(71, excludedStream, port.RoleListen, nil)

	otherRoleStream, otherRolePeer := pipestream.Pair("pipe://other")
	defer otherRoleStream.Close()
	defer otherRolePeer.Close()
	reg.AdmitByHandle(72, otherRoleStream, port.RoleDirPrt, nil)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Broadcast(ctx, framing.Code(3), port.RoleListen, []*port.Port{excluded}, []byte("payload"))
	}()

	msg, err := framing.ReadMessage(ctx, matchPeer)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), msg.Payload)
	require.NoError(t, <-errCh)
	_ = matched
}

func TestBroadcastFanOutContinuesPastPerRecipientErrors(t *testing.T) {
	r, reg := newRouter()

	failingStream, failingPeer := pipestream.Pair("pipe://failing")
	failingPeer.Close() // closing the peer makes writes to failingStream fail
	reg.AdmitByHandle(80, failingStream, port.RoleListen, nil)

	okStream, okPeer := pipestream.Pair("pipe://ok")
	defer okPeer.Close()
	reg.AdmitByHandle(81, okStream, port.RoleListen, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Broadcast(context.Background(), framing.Code(3), port.RoleListen, nil, []byte("z")) }()

	msg, err := framing.ReadMessage(context.Background(), okPeer)
	require.NoError(t, err)
	assert.Equal(t, []byte("z"), msg.Payload)

	err = <-errCh
	assert.Error(t, err, "the failed delivery to the closed port must surface as firstErr")
}
