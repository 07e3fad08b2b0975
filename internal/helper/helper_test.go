package helper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/liboscore/shim/internal/framing"
	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/metrics"
	"github.com/liboscore/shim/internal/pal/pipestream"
	"github.com/liboscore/shim/internal/port"
)

// testMetrics is shared by every test: metrics.New registers its
// collectors on the default Prometheus registry, which panics on a second
// registration in the same process.
var testMetrics = metrics.New()

func newTestHelper() *Helper {
	reg := port.NewRegistry()
	d := framing.NewDispatcher(1, zap.NewNop(), false)
	return New(reg, d, zap.NewNop(), testMetrics)
}

func waitForState(t *testing.T, h *Helper, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("helper never reached state %v, stuck at %v", want, h.State())
}

func TestRequestRestartFromUninitializedBecomesDelayed(t *testing.T) {
	h := newTestHelper()
	assert.Equal(t, StateUninitialized, h.State())

	h.RequestRestart(context.Background(), true)
	assert.Equal(t, StateDelayed, h.State())
}

func TestInitHelperStartsWhenDelayed(t *testing.T) {
	h := newTestHelper()
	h.RequestRestart(context.Background(), true)
	require.Equal(t, StateDelayed, h.State())

	require.NoError(t, h.InitHelper(context.Background()))
	waitForState(t, h, StateAlive)

	require.NoError(t, h.Terminate())
	h.Wait()
	assert.Equal(t, StateNotAlive, h.State())
}

func TestInitHelperNoopWhenNotDelayed(t *testing.T) {
	h := newTestHelper()
	require.NoError(t, h.InitHelper(context.Background()))
	assert.Equal(t, StateNotAlive, h.State())
}

func TestRequestRestartFromNotAliveStartsWhenCreateAllowed(t *testing.T) {
	h := newTestHelper()
	require.NoError(t, h.InitHelper(context.Background()))
	require.Equal(t, StateNotAlive, h.State())

	h.RequestRestart(context.Background(), true)
	waitForState(t, h, StateAlive)

	require.NoError(t, h.Terminate())
	h.Wait()
}

func TestExitWithHelperWithoutKeepAliveForcesPlainExit(t *testing.T) {
	h := newTestHelper()
	require.NoError(t, h.Start(context.Background()))
	waitForState(t, h, StateAlive)

	err := h.ExitWithHelper(context.Background(), true)
	assert.NoError(t, err, "handover with no keepalive ports downgrades to a plain exit")
	h.Wait()
	assert.Equal(t, StateNotAlive, h.State())
}

func TestExitWithHelperHandsOverWhenKeepAlivePresent(t *testing.T) {
	h := newTestHelper()
	a, b := pipestream.Pair("pipe://keepalive")
	defer a.Close()
	defer b.Close()
	h.registry.AdmitByHandle(5, a, port.RoleKeepAlive, nil)

	require.NoError(t, h.Start(context.Background()))
	waitForState(t, h, StateAlive)

	err := h.ExitWithHelper(context.Background(), true)
	assert.ErrorIs(t, err, ipcerr.ErrAgain)
	assert.Equal(t, StateHandedOver, h.State())

	require.NoError(t, h.Terminate())
	h.Wait()
}

func TestExitWithHelperNoopWhenNotAlive(t *testing.T) {
	h := newTestHelper()
	err := h.ExitWithHelper(context.Background(), false)
	assert.NoError(t, err)
	assert.Equal(t, StateUninitialized, h.State())
}

func TestTerminateWithoutRunningHelperErrors(t *testing.T) {
	h := newTestHelper()
	err := h.Terminate()
	assert.ErrorIs(t, err, ipcerr.ErrNoSuchProcess)
}

func TestRequestRestartInHandedOverStateMarksUpdatePending(t *testing.T) {
	h := newTestHelper()
	h.state = StateHandedOver

	h.RequestRestart(context.Background(), false)
	assert.True(t, h.updatePending)
	assert.Equal(t, StateHandedOver, h.State())
}
