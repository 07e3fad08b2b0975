package pal

import (
	"context"
	"time"
)

// multiWait races WaitReady across every member of set, each in its own
// goroutine, and reports the first to return. This is the Go-idiomatic
// analogue of DkObjectsWaitAny: the platform this subsystem was modeled on
// has a real OS-level multiplexing primitive (epoll/kqueue under the
// hood); since Stream providers here are built from ordinary net.Conns
// and channels rather than raw file descriptors, racing per-handle waits
// under a shared cancellation context gives the same observable contract
// (one signaled handle, or timeout/interrupted/error) without requiring
// every provider to expose a pollable fd.
func multiWait(ctx context.Context, set []Waitable, timeout time.Duration) (WaitResult, int, error) {
	if len(set) == 0 {
		return WaitError, -1, ErrEmptySet
	}

	waitCtx := ctx
	var cancelTimeout context.CancelFunc
	if timeout > 0 {
		waitCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	raceCtx, cancelRace := context.WithCancel(waitCtx)
	defer cancelRace()

	type outcome struct {
		index int
		err   error
	}
	results := make(chan outcome, len(set))

	for i, w := range set {
		i, w := i, w
		go func() {
			err := w.WaitReady(raceCtx)
			select {
			case results <- outcome{index: i, err: err}:
			case <-raceCtx.Done():
			}
		}()
	}

	select {
	case res := <-results:
		if res.err != nil {
			if waitCtx.Err() != nil {
				return classifyCtxErr(ctx, waitCtx), -1, res.err
			}
			return WaitError, res.index, res.err
		}
		return WaitReady, res.index, nil
	case <-waitCtx.Done():
		return classifyCtxErr(ctx, waitCtx), -1, waitCtx.Err()
	}
}

func classifyCtxErr(parent, waitCtx context.Context) WaitResult {
	if parent.Err() != nil {
		return WaitInterrupted
	}
	return WaitTimeout
}
