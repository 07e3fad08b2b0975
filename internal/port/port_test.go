package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liboscore/shim/internal/pal/pipestream"
)

func TestPortRoleMask(t *testing.T) {
	a, b := pipestream.Pair("pipe://test")
	defer b.Close()
	p := New(a)

	assert.False(t, p.Has(RoleServer))
	p.roleMask = RoleServer | RoleListen
	assert.True(t, p.Has(RoleServer))
	assert.True(t, p.Has(RoleServer|RoleListen))
	assert.False(t, p.Has(RoleServer|RoleDirPrt))
	assert.True(t, p.Intersects(RoleServer|RoleDirPrt))
	assert.False(t, p.Intersects(RoleDirPrt|RolePIDLdr))
}

func TestPortRetainRelease(t *testing.T) {
	a, b := pipestream.Pair("pipe://test")
	defer b.Close()
	p := New(a)

	p.Retain()
	p.Release()
	// still alive: one ref from New, one from Retain, one released
	_, err := p.Stream.Attr()
	require.NoError(t, err)

	call := p.NewPendingCall(7)
	p.Release()
	// last release closes the stream and fails any pending call
	assert.Equal(t, int32(-9), <-call.Done)
}

func TestPortFiniCallbacksCapped(t *testing.T) {
	a, _ := pipestream.Pair("pipe://test")
	p := New(a)

	noop := func(*Port, uint64, int32) {}
	for i := 0; i < MaxFiniCallbacks; i++ {
		assert.True(t, p.RegisterFini(noop))
	}
	assert.False(t, p.RegisterFini(noop))

	got := p.takeFiniCallbacks()
	assert.Len(t, got, MaxFiniCallbacks)
	assert.True(t, p.RegisterFini(noop))
}

func TestPortPendingCallResolution(t *testing.T) {
	a, _ := pipestream.Pair("pipe://test")
	p := New(a)

	call := p.NewPendingCall(42)
	assert.True(t, p.ResolvePendingCall(42, -9))
	assert.Equal(t, int32(-9), <-call.Done)

	assert.False(t, p.ResolvePendingCall(42, 0))
}

func TestPortFailAllPendingOnRelease(t *testing.T) {
	a, _ := pipestream.Pair("pipe://test")
	p := New(a)

	call := p.NewPendingCall(1)
	p.Release()
	assert.Equal(t, int32(-9), <-call.Done)
}
