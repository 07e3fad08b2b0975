// Package port defines the Port object the registry and helper loop
// operate on: a reference-counted wrapper around a pal.Stream plus the
// bookkeeping (role mask, fini callbacks, pending calls) the original
// shim_ipc_port struct carried directly on the handle.
package port

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/liboscore/shim/internal/ipcerr"
	"github.com/liboscore/shim/internal/pal"
)

// Role is a bitmask describing what a port is used for, mirroring the
// IPC_PORT_* flags on shim_ipc_port.info.type.
type Role uint32

const (
	RoleServer    Role = 1 << iota // accepts inbound connections
	RoleListen                     // the helper polls this port for messages
	RoleDirPrt                     // direct-parent port
	RolePIDLdr                     // PID-namespace leader port
	RoleSYSVLdr                    // SYSV-namespace leader port
	RoleKeepAlive                  // keeps the helper alive with no other work
	RoleIfPoll                     // the helper must actively poll this port
)

// MaxFiniCallbacks bounds how many distinct teardown callbacks a single
// port can accumulate, matching MAX_IPC_PORT_FINI_CB.
const MaxFiniCallbacks = 3

// FiniFunc is invoked once per registered callback when a port is torn
// down, receiving the peer id and the exit code that caused the teardown.
type FiniFunc func(p *Port, peerID uint64, exitCode int32)

// PendingCall tracks one outstanding request awaiting an IPC_RESP,
// correlated by sequence number.
type PendingCall struct {
	Seq    uint64
	Done   chan int32 // delivers the response retval, or the ECONNRESET code when the port is torn down or released
	closed bool
}

// Port wraps one pal.Stream together with the membership and lifecycle
// state the registry and helper loop need. The zero value is not usable;
// construct with New.
type Port struct {
	Stream  pal.Stream
	TraceID uuid.UUID

	mu       sync.Mutex
	peerID   uint64
	roleMask Role   // info.type: the authoritative, caller-visible role mask
	observed Role   // private.type: not read or written; the helper takes its watch set from Registry.WatchSet
	dirty    bool   // update: roleMask changed since the helper last observed it
	recent   bool   // recent: was pushed to the front of the poll-order list this round

	finiCallbacks [MaxFiniCallbacks]FiniFunc

	refCount int32

	elem *list.Element // this port's node in the registry's insertion-order list, nil if not listed

	msgsMu  sync.Mutex
	pending map[uint64]*PendingCall
}

// New allocates a Port wrapping stream. The caller holds the single
// reference returned; Retain/Release manage further references.
func New(stream pal.Stream) *Port {
	return &Port{
		Stream:   stream,
		TraceID:  uuid.New(),
		refCount: 1,
		dirty:    true,
		pending:  make(map[uint64]*PendingCall),
	}
}

// Retain increments the reference count.
func (p *Port) Retain() { atomic.AddInt32(&p.refCount, 1) }

// Release decrements the reference count, closing the underlying stream
// and releasing all pending calls once it reaches zero.
func (p *Port) Release() {
	if atomic.AddInt32(&p.refCount, -1) > 0 {
		return
	}
	_ = p.Stream.Close()
	p.failAllPending(ipcerr.Code(ipcerr.ErrConnReset))
}

// PeerID returns the peer vmid this port is associated with, or 0 if it
// has not yet been bound to one.
func (p *Port) PeerID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerID
}

// RoleMask returns the caller-visible role mask.
func (p *Port) RoleMask() Role {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roleMask
}

// Has reports whether every bit in mask is set in the caller-visible role.
func (p *Port) Has(mask Role) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roleMask&mask == mask
}

// Intersects reports whether any bit in mask is set in the caller-visible
// role.
func (p *Port) Intersects(mask Role) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roleMask&mask != 0
}

// RegisterFini installs fn in the first free teardown-callback slot
// (mirrors __add_ipc_port's linear probe over port->fini) and reports
// false when all MaxFiniCallbacks slots are taken. A nil fn is a no-op
// that reports true. Duplicates are not detected: registering the same
// function twice uses two slots and runs it twice at teardown.
func (p *Port) RegisterFini(fn FiniFunc) bool {
	if fn == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.finiCallbacks {
		if p.finiCallbacks[i] == nil {
			p.finiCallbacks[i] = fn
			return true
		}
	}
	return false
}

func (p *Port) takeFiniCallbacks() []FiniFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []FiniFunc
	for i := range p.finiCallbacks {
		if p.finiCallbacks[i] != nil {
			out = append(out, p.finiCallbacks[i])
			p.finiCallbacks[i] = nil
		}
	}
	return out
}

// NewPendingCall registers seq as awaiting a response and returns the
// channel the caller should block on.
func (p *Port) NewPendingCall(seq uint64) *PendingCall {
	pc := &PendingCall{Seq: seq, Done: make(chan int32, 1)}
	p.msgsMu.Lock()
	p.pending[seq] = pc
	p.msgsMu.Unlock()
	return pc
}

// ResolvePendingCall delivers retval to the call registered under seq, if
// any, matching find_ipc_msg_duplex + thread_wakeup.
func (p *Port) ResolvePendingCall(seq uint64, retval int32) bool {
	p.msgsMu.Lock()
	pc, ok := p.pending[seq]
	if ok {
		delete(p.pending, seq)
	}
	p.msgsMu.Unlock()
	if !ok {
		return false
	}
	pc.Done <- retval
	return true
}

// CancelPendingCall removes seq without delivering a value, used when a
// caller abandons a call (e.g. its context was canceled).
func (p *Port) CancelPendingCall(seq uint64) {
	p.msgsMu.Lock()
	delete(p.pending, seq)
	p.msgsMu.Unlock()
}

func (p *Port) failAllPending(retval int32) {
	p.msgsMu.Lock()
	pending := p.pending
	p.pending = make(map[uint64]*PendingCall)
	p.msgsMu.Unlock()
	for _, pc := range pending {
		pc.Done <- retval
	}
}

// Handle and WaitReady satisfy pal.Waitable so the helper loop can place
// ports directly into a pal.MultiWait set alongside its wakeup event.
func (p *Port) Handle() uintptr { return p.Stream.Handle() }

func (p *Port) WaitReady(ctx context.Context) error { return p.Stream.WaitReady(ctx) }
