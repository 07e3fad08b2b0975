package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liboscore/shim/internal/pal/pipestream"
)

func TestRegistryAdmitBindsPeerAndMergesRoles(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://one")

	p1, restart1 := r.AdmitByHandle(5, a, RoleListen, nil)
	require.NotNil(t, p1)
	assert.False(t, restart1)
	assert.Equal(t, uint64(5), p1.PeerID())
	assert.True(t, p1.Has(RoleListen))

	p2, restart2 := r.AdmitByHandle(5, a, RoleIfPoll, nil)
	assert.Same(t, p1, p2)
	assert.True(t, restart2, "turning on IfPoll for the first time must request a restart")
	assert.True(t, p2.Has(RoleListen | RoleIfPoll))
}

func TestRegistryAdmitWithoutPeerIDFallsBackToHandleScan(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://two")

	p1, _ := r.AdmitByHandle(0, a, RoleListen, nil)
	p2, _ := r.AdmitByHandle(9, a, RoleListen, nil)

	assert.Same(t, p1, p2)
	assert.Equal(t, uint64(9), p1.PeerID())
}

func TestRegistryEvictNarrowsBeforeRemoving(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://three")

	p, _ := r.AdmitByHandle(3, a, RoleListen|RoleDirPrt, nil)

	restart := r.Evict(p, RoleDirPrt)
	assert.False(t, restart)
	assert.True(t, p.Has(RoleListen))
	assert.False(t, p.Has(RoleDirPrt))

	found := r.Lookup(3, 0)
	require.NotNil(t, found)
	found.Release()

	r.Evict(p, RoleListen)
	assert.Nil(t, r.Lookup(3, 0))
}

func TestRegistryEvictRestartsOnKeepAliveChange(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://four")

	p, _ := r.AdmitByHandle(4, a, RoleKeepAlive, nil)
	assert.Equal(t, 1, r.KeepAliveCount())

	restart := r.Evict(p, RoleKeepAlive)
	assert.True(t, restart)
	assert.Equal(t, 0, r.KeepAliveCount())
}

func TestRegistryLookupFiltersByMask(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://five")
	r.AdmitByHandle(6, a, RoleListen, nil)

	assert.Nil(t, r.Lookup(6, RoleDirPrt))
	found := r.Lookup(6, RoleListen)
	require.NotNil(t, found)
	found.Release()
}

func TestRegistryTeardownRunsFiniAndFailsPending(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://six")

	var gotPeer uint64
	var gotCode int32
	fini := func(p *Port, peerID uint64, exitCode int32) {
		gotPeer = peerID
		gotCode = exitCode
	}
	p, _ := r.AdmitByHandle(11, a, RoleListen, fini)
	call := p.NewPendingCall(1)

	r.Teardown(p, -9)

	assert.Equal(t, uint64(11), gotPeer)
	assert.Equal(t, int32(-9), gotCode)
	assert.Equal(t, int32(-9), <-call.Done)
	assert.Nil(t, r.Lookup(11, 0))
}

func TestRegistryWatchSetOnlyIncludesIfPoll(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://seven")
	b, _ := pipestream.Pair("pipe://eight")

	p1, _ := r.AdmitByHandle(1, a, RoleIfPoll, nil)
	_, _ = r.AdmitByHandle(2, b, RoleListen, nil)

	set := r.WatchSet()
	require.Len(t, set, 1)
	assert.Same(t, p1, set[0])
	for _, p := range set {
		p.Release()
	}
}

func TestRegistryEvictAllMatchesMask(t *testing.T) {
	r := NewRegistry()
	a, _ := pipestream.Pair("pipe://nine")
	b, _ := pipestream.Pair("pipe://ten")

	r.AdmitByHandle(21, a, RoleListen, nil)
	r.AdmitByHandle(22, b, RoleDirPrt, nil)

	r.EvictAll(RoleListen)
	assert.Nil(t, r.Lookup(21, 0))
	found := r.Lookup(22, 0)
	require.NotNil(t, found)
	found.Release()
}
