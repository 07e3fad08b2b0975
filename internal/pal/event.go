package pal

import (
	"context"
	"sync"
)

// memEvent is the in-process Event implementation used for the helper's
// wakeup slot. It mirrors the platform's AEVENTTYPE: Set/Clear are
// idempotent and Wait may be raced by MultiWait from the helper goroutine
// while RequestRestart calls Set from any other goroutine.
type memEvent struct {
	mu   sync.Mutex
	ch   chan struct{}
	self uintptr
}

// NewEvent creates a cleared Event.
func NewEvent() Event {
	return &memEvent{ch: make(chan struct{})}
}

func (e *memEvent) Handle() uintptr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.self == 0 {
		// Clear replaces the channel, so its identity is not stable; take
		// a process-unique value from the allocator once instead.
		e.self = eventHandleSeq.next()
	}
	return e.self
}

func (e *memEvent) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		// already set
	default:
		close(e.ch)
	}
}

func (e *memEvent) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
}

func (e *memEvent) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *memEvent) WaitReady(ctx context.Context) error {
	return e.Wait(ctx)
}

// eventHandleSeq hands out process-unique handle values for memEvent
// instances, since channels have no stable numeric identity of their own.
var eventHandleSeq = newHandleAllocator()
