package promise

import (
	"sync"
	"sync/atomic"

	"github.com/brindlecore/reactor/asyncerr"
)

// CancelHandler is invoked at most once, by the first Cancel call on a
// CancellablePromise, whether or not the promise has already settled. It must be idempotent-safe to
// call concurrently with settlement racing in from the producer side.
type CancelHandler func()

// CancellablePromise pairs a Promise with a cancel handler and a tombstone
// flag (spec §3/§5): cancelling sets the tombstone before any racing
// resolve/reject can apply, so a late producer write is silently dropped.
type CancellablePromise struct {
	*Promise

	mu        sync.Mutex
	cancelled bool
	onCancel  CancelHandler
	resolveFn func(Result)
	rejectFn  func(error)
}

// NewCancellable creates a pending CancellablePromise. onCancel may be nil.
func NewCancellable(sched Scheduler, onCancel CancelHandler) *CancellablePromise {
	p, resolve, reject := New(sched)
	cp := &CancellablePromise{Promise: p, onCancel: onCancel}
	cp.resolveFn = resolve
	cp.rejectFn = reject
	registerCancellable(p, cp)
	return cp
}

// Resolve fulfills the promise unless it has been cancelled.
func (cp *CancellablePromise) Resolve(value Result) {
	cp.mu.Lock()
	if cp.cancelled {
		cp.mu.Unlock()
		return
	}
	cp.mu.Unlock()
	cp.resolveFn(value)
}

// Reject rejects the promise unless it has been cancelled.
func (cp *CancellablePromise) Reject(err error) {
	cp.mu.Lock()
	if cp.cancelled {
		cp.mu.Unlock()
		return
	}
	cp.mu.Unlock()
	cp.rejectFn(err)
}

// Cancel flips the tombstone, invokes the cancel handler once, and - if
// still pending - rejects with a Cancelled error. Idempotent: subsequent
// calls are no-ops.
func (cp *CancellablePromise) Cancel() {
	cp.mu.Lock()
	if cp.cancelled {
		cp.mu.Unlock()
		return
	}
	cp.cancelled = true
	handler := cp.onCancel
	cp.mu.Unlock()

	if handler != nil {
		handler()
	}
	cp.rejectFn(asyncerr.New(asyncerr.KindCancelled, "operation cancelled"))
}

// Cancelled reports whether Cancel has been called, regardless of whether
// the underlying promise had already settled at that point.
func (cp *CancellablePromise) Cancelled() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.cancelled
}

// AbortController is the reusable cancellation-signal object used by
// callers that want to cancel an arbitrary set of
// cancellable promises together, grounded on the teacher's context-based
// cancellation helpers layered over eventloop.Promisify.
type AbortController struct {
	aborted atomic.Bool
	mu      sync.Mutex
	targets []*CancellablePromise
}

// NewAbortController returns an empty controller.
func NewAbortController() *AbortController {
	return &AbortController{}
}

// Link registers cp so that Abort also cancels it. Linking an already
// aborted controller cancels cp immediately.
func (a *AbortController) Link(cp *CancellablePromise) {
	if a.aborted.Load() {
		cp.Cancel()
		return
	}
	a.mu.Lock()
	if a.aborted.Load() {
		a.mu.Unlock()
		cp.Cancel()
		return
	}
	a.targets = append(a.targets, cp)
	a.mu.Unlock()
}

// Abort cancels every linked promise exactly once.
func (a *AbortController) Abort() {
	if !a.aborted.CompareAndSwap(false, true) {
		return
	}
	a.mu.Lock()
	targets := a.targets
	a.targets = nil
	a.mu.Unlock()
	for _, cp := range targets {
		cp.Cancel()
	}
}

// Aborted reports whether Abort has been called.
func (a *AbortController) Aborted() bool {
	return a.aborted.Load()
}
