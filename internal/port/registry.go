package port

import (
	"container/list"
	"sync"

	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/pal"
)

// hashBuckets mirrors PID_HASH_NUM: peer lookups are bucketed for the same
// reason the original kept a fixed hlist table, even though Go's map
// would do just as well with a single map[uint64][]*Port. Keeping the
// bucket count keeps the registry's shape recognizable against the
// original's PID_HASH_LEN=6 sizing.
const hashBuckets = 1 << 6

// Registry is the dual-indexed port table: a hash-by-peer-id index for
// Lookup, and an insertion-order list the helper walks when rebuilding
// its poll set. A single mutex serializes both indices, matching the
// original's single ipc_helper_lock.
type Registry struct {
	mu      sync.Mutex
	buckets [hashBuckets][]*Port
	order   *list.List // list of *Port, insertion order (pobj_list)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{order: list.New()}
}

func bucketOf(peerID uint64) int { return int(peerID & (hashBuckets - 1)) }

// AdmitByHandle finds or creates the Port wrapping stream for peerID,
// applies role/fini to it, and reports whether the helper needs to be
// restarted to notice the change. This is the Go analogue of
// add_ipc_port_by_id: lookup by (peerID, stream identity) in the peer
// bucket, falling back to a scan of the insertion-order list by stream
// identity alone (a port admitted before its peer id was known).
func (r *Registry) AdmitByHandle(peerID uint64, stream pal.Stream, role Role, fini FiniFunc) (*Port, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var p *Port
	if peerID != 0 {
		for _, cand := range r.buckets[bucketOf(peerID)] {
			if cand.PeerID() == peerID && cand.Handle() == stream.Handle() {
				p = cand
				break
			}
		}
	}
	if p == nil {
		for e := r.order.Front(); e != nil; e = e.Next() {
			cand := e.Value.(*Port)
			if cand.Handle() == stream.Handle() {
				p = cand
				break
			}
		}
	}
	if p == nil {
		p = New(stream)
	} else {
		p.Retain()
	}

	restart := r.admitLocked(p, peerID, role, fini)
	return p, restart
}

// admitLocked applies add_ipc_port's logic to an already-located port p
// while holding r.mu.
func (r *Registry) admitLocked(p *Port, peerID uint64, role Role, fini FiniFunc) bool {
	p.mu.Lock()
	needRestart := false

	if peerID != 0 && p.peerID == 0 {
		p.peerID = peerID
		p.dirty = true
	}
	bucketed := p.peerID != 0
	p.mu.Unlock()

	if bucketed {
		r.ensureBucketed(p)
	}

	p.mu.Lock()
	if p.roleMask&RoleIfPoll == 0 && role&RoleIfPoll != 0 {
		needRestart = true
	}
	if p.roleMask&role != role {
		p.roleMask |= role
		p.dirty = true
	}
	p.mu.Unlock()

	if fini != nil && role&^RoleIfPoll != 0 {
		p.RegisterFini(fini)
	}

	if needRestart {
		r.pushRecent(p)
	} else {
		r.pushTail(p)
	}
	return needRestart
}

// ensureBucketed adds p to its peer-id bucket if it is not already
// present, retaining the extra reference the bucket index holds.
func (r *Registry) ensureBucketed(p *Port) {
	peerID := p.PeerID()
	bucket := r.buckets[bucketOf(peerID)]
	for _, cand := range bucket {
		if cand == p {
			return
		}
	}
	p.Retain()
	r.buckets[bucketOf(peerID)] = append(bucket, p)
}

// pushRecent inserts or moves p to the front of the poll-order list and
// marks it recent, matching the IFPOLL branch of __add_ipc_port.
func (r *Registry) pushRecent(p *Port) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.elem == nil {
		p.Retain()
		p.elem = r.order.PushFront(p)
		p.recent = true
		return
	}
	if !p.recent {
		r.order.MoveToFront(p.elem)
		p.recent = true
	}
}

// pushTail inserts p at the back of the poll-order list if absent,
// matching the non-IFPOLL branch of __add_ipc_port.
func (r *Registry) pushTail(p *Port) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.elem == nil {
		p.Retain()
		p.elem = r.order.PushBack(p)
	}
}

// Evict applies del_ipc_port's masking/removal logic to p and reports
// whether the helper needs to notice the change.
func (r *Registry) Evict(p *Port, mask Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictLocked(p, mask)
}

func (r *Registry) evictLocked(p *Port, mask Role) bool {
	p.mu.Lock()
	effective := mask
	if effective == 0 {
		effective = p.roleMask
	} else {
		effective &= p.roleMask
	}

	// Clearing KeepAlive flips the port's keepalive status, and clearing
	// IfPoll takes it out of the helper's watch set; either needs a restart.
	needRestart := effective&(RoleKeepAlive|RoleIfPoll) != 0

	// If the port is still used for something outside the mask (plus the
	// two bits that never gate removal on their own), only narrow the
	// mask and leave the port listed.
	if p.roleMask&^(effective|RoleIfPoll|RoleKeepAlive) != 0 {
		p.roleMask &^= effective
		p.dirty = true
		p.mu.Unlock()
		return needRestart
	}

	if p.roleMask&(RoleIfPoll|RoleKeepAlive) != 0 {
		needRestart = true
	}

	elem := p.elem
	p.elem = nil
	p.roleMask &= RoleIfPoll
	p.dirty = true
	p.mu.Unlock()

	if elem != nil {
		r.order.Remove(elem)
		p.Release()
	}

	r.unbucket(p)
	return needRestart
}

func (r *Registry) unbucket(p *Port) {
	peerID := p.PeerID()
	bucket := r.buckets[bucketOf(peerID)]
	for i, cand := range bucket {
		if cand == p {
			r.buckets[bucketOf(peerID)] = append(bucket[:i], bucket[i+1:]...)
			p.Release()
			return
		}
	}
}

// EvictByPeer evicts every port registered under peerID, matching
// del_ipc_port_by_id.
func (r *Registry) EvictByPeer(peerID uint64, mask Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	needRestart := false
	bucket := append([]*Port(nil), r.buckets[bucketOf(peerID)]...)
	for _, p := range bucket {
		if p.PeerID() != peerID {
			continue
		}
		if r.evictLocked(p, mask) {
			needRestart = true
		}
	}
	return needRestart
}

// EvictAll evicts every port matching mask, matching del_all_ipc_ports.
func (r *Registry) EvictAll(mask Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	needRestart := false
	var all []*Port
	for e := r.order.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(*Port))
	}
	for _, p := range all {
		if r.evictLocked(p, mask) {
			needRestart = true
		}
	}
	return needRestart
}

// Lookup finds a port registered under peerID whose role mask intersects
// mask (mask == 0 matches any), matching __lookup_ipc_port. The returned
// port carries an extra reference the caller must Release.
func (r *Registry) Lookup(peerID uint64, mask Role) *Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.buckets[bucketOf(peerID)] {
		if p.PeerID() == peerID && (mask == 0 || p.Intersects(mask)) {
			p.Retain()
			return p
		}
	}
	return nil
}

// Teardown evicts p entirely, runs its registered fini callbacks with
// exitCode, and resets every call still awaiting a response on it to
// ECONNRESET. It matches del_ipc_port_fini, including the extra
// reference held across the callback invocations so p cannot be freed
// out from under them.
func (r *Registry) Teardown(p *Port, exitCode int32) bool {
	fini := p.takeFiniCallbacks()
	p.Retain()
	peerID := p.PeerID()

	needRestart := r.Evict(p, 0)

	for _, fn := range fini {
		fn(p, peerID, exitCode)
	}

	p.failAllPending(ipcerr.Code(ipcerr.ErrConnReset))
	p.Release()
	return needRestart
}

// ForEach calls fn for every port currently in insertion order, stopping
// early if fn returns false. fn must not call back into the registry.
func (r *Registry) ForEach(fn func(*Port) bool) {
	r.mu.Lock()
	var all []*Port
	for e := r.order.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(*Port))
	}
	r.mu.Unlock()
	for _, p := range all {
		if !fn(p) {
			return
		}
	}
}

// WatchSet returns every port the helper must currently poll (its
// RoleIfPoll bit is set), each carrying an extra reference the caller
// must Release once done with this round's watch set. Rebuilding the
// full set on every reconfigure (rather than incrementally patching a
// previously built array, as the original's array-doubling local_pobjs
// buffer did) is the Go-idiomatic simplification: a slice of *Port has
// none of the original's fixed-buffer resizing cost to amortize.
func (r *Registry) WatchSet() []*Port {
	r.mu.Lock()
	defer r.mu.Unlock()

	var set []*Port
	for e := r.order.Front(); e != nil; e = e.Next() {
		p := e.Value.(*Port)
		p.mu.Lock()
		ifpoll := p.roleMask&RoleIfPoll != 0
		p.dirty = false
		p.recent = false
		p.mu.Unlock()
		if ifpoll {
			p.Retain()
			set = append(set, p)
		}
	}
	return set
}

// KeepAliveCount reports how many currently-listed ports carry
// RoleKeepAlive, the quantity the helper loop's main condition
// (atomic_read(&ipc_helper_state) == HELPER_ALIVE || nalive) depends on.
func (r *Registry) KeepAliveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for e := r.order.Front(); e != nil; e = e.Next() {
		p := e.Value.(*Port)
		if p.Has(RoleKeepAlive) {
			n++
		}
	}
	return n
}

// Info is a point-in-time, read-only view of a Port for admin/metrics
// surfaces that must not hold a reference to the live object.
type Info struct {
	PeerID   uint64
	RoleMask Role
	TraceID  string
	URI      string
}

// Snapshot returns an Info for every currently listed port, in
// insertion order.
func (r *Registry) Snapshot() []Info {
	var out []Info
	r.ForEach(func(p *Port) bool {
		out = append(out, Info{
			PeerID:   p.PeerID(),
			RoleMask: p.RoleMask(),
			TraceID:  p.TraceID.String(),
			URI:      p.Stream.URI(),
		})
		return true
	})
	return out
}
