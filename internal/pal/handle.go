package pal

import "sync/atomic"

// handleAllocator hands out small, process-unique, monotonically
// increasing handle identities for providers that have no natural stable
// pointer or fd to use (e.g. in-memory events). Real socket-backed
// streams instead use the address of their own struct.
type handleAllocator struct {
	next_ uint64
}

func newHandleAllocator() *handleAllocator {
	return &handleAllocator{}
}

func (a *handleAllocator) next() uintptr {
	return uintptr(atomic.AddUint64(&a.next_, 1))
}
