package session

import (
	"context"
	"sync"
)

// Bridge carries the outcome of a job from the worker goroutine that
// computed it to the caller awaiting it, exactly once.
//
// The worker side fulfills through Deliver or Fail; only the first call
// wins, later calls are no-ops. The caller side blocks in Await until the
// outcome arrives or its context is cancelled. A caller that gives up does
// not disturb the worker: the outcome lands in the buffered channel and is
// discarded with the bridge.
type Bridge struct {
	once sync.Once
	ch   chan outcome
}

type outcome struct {
	result Result
	err    error
}

// NewBridge creates an unfulfilled bridge.
func NewBridge() *Bridge {
	return &Bridge{ch: make(chan outcome, 1)}
}

// Deliver fulfills the bridge with a result. No-op if already fulfilled.
func (b *Bridge) Deliver(result Result) {
	b.fulfill(outcome{result: result})
}

// Fail fulfills the bridge with an error. No-op if already fulfilled.
func (b *Bridge) Fail(err error) {
	b.fulfill(outcome{err: err})
}

// fulfill writes the outcome into the one-slot channel. The buffer
// guarantees the worker never blocks here, even if nobody awaits.
func (b *Bridge) fulfill(o outcome) {
	b.once.Do(func() {
		b.ch <- o
	})
}

// Await blocks until the outcome arrives or ctx is done. Cancellation stops
// the wait only; the job itself runs to completion on the worker.
func (b *Bridge) Await(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case o := <-b.ch:
		return o.result, o.err
	}
}
