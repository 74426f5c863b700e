// Package promise implements the Promise/A+-style state machine and
// combinators described by the runtime's cooperative scheduler: a value
// that transitions at most once from Pending to Fulfilled or Rejected, with
// ordered continuation dispatch on the owning scheduler's thread.
//
// Adapted from the teacher's eventloop/promise.go ChainedPromise. The
// teacher ties every promise to a concrete *JS adapter; this package
// instead depends only on the minimal Scheduler seam below, so that
// loop.Loop (and anything else capable of running a function later on its
// own thread) can back a promise without this package importing loop and
// creating a cycle.
package promise

import (
	"fmt"
	"sync"

	"github.com/brindlecore/reactor/asyncerr"
)

// Result is the value carried by a settled promise: the fulfillment value,
// or the rejection reason. Kept as `any`, matching the teacher's Result
// alias, since HTTP and MySQL results are heterogeneous at this layer.
type Result = any

// State is the lifecycle state of a Promise.
type State int32

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Scheduler lets a promise dispatch continuations on the thread that owns
// it, satisfying the invariant that handlers of a promise only ever run on
// the loop thread. *loop.Loop satisfies this interface via ScheduleMicrotask.
type Scheduler interface {
	ScheduleMicrotask(func())
}

// inlineScheduler runs continuations synchronously, for promises created
// without an owning loop (e.g. in unit tests of this package alone).
type inlineScheduler struct{}

func (inlineScheduler) ScheduleMicrotask(f func()) { f() }

type handler struct {
	onFulfilled func(Result) Result
	onRejected  func(Result) Result
	target      *Promise
}

// Promise is the core state machine: Pending -> Fulfilled(value) or
// Pending -> Rejected(reason), exactly once, with ordered continuations.
type Promise struct {
	mu        sync.Mutex
	state     State
	result    Result
	handlers  []handler
	sched     Scheduler
	settledCh chan struct{} // closed exactly once, on settle
}

// New creates a pending Promise plus its resolve/reject functions, mirroring
// the teacher's NewChainedPromise / the "promise with resolvers" pattern
// from §6 of the spec. A nil scheduler falls back to synchronous dispatch.
func New(sched Scheduler) (p *Promise, resolve func(Result), reject func(error)) {
	if sched == nil {
		sched = inlineScheduler{}
	}
	p = &Promise{sched: sched, settledCh: make(chan struct{})}
	return p, p.resolve, p.reject
}

// Resolved returns an already-fulfilled Promise.
func Resolved(sched Scheduler, value Result) *Promise {
	p, resolve, _ := New(sched)
	resolve(value)
	return p
}

// Rejected returns an already-rejected Promise.
func Rejected(sched Scheduler, err error) *Promise {
	p, _, reject := New(sched)
	reject(err)
	return p
}

func (p *Promise) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Value returns the fulfillment value, or nil if pending or rejected.
func (p *Promise) Value() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Fulfilled {
		return p.result
	}
	return nil
}

// Reason returns the rejection reason, or nil if pending or fulfilled.
func (p *Promise) Reason() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Rejected {
		return p.result
	}
	return nil
}

// ToChannel returns a channel that receives the settled value (or reason)
// exactly once and is then closed. Rejections arrive typed as error.
func (p *Promise) ToChannel() <-chan Result {
	ch := make(chan Result, 1)
	p.addHandler(handler{
		onFulfilled: func(v Result) Result { ch <- v; close(ch); return nil },
		onRejected:  func(v Result) Result { ch <- v; close(ch); return nil },
	})
	return ch
}

// Done returns a channel closed once the promise settles, for use in
// select statements alongside context cancellation.
func (p *Promise) Done() <-chan struct{} {
	return p.settledCh
}

func (p *Promise) resolve(value Result) {
	if inner, ok := value.(*Promise); ok {
		if inner == p {
			p.reject(&asyncerr.Error{Kind: asyncerr.KindUsage, Message: "promise resolved with itself"})
			return
		}
		// Adopt the inner promise's eventual state (spec: a handler
		// returning a promise causes adoption).
		inner.addHandler(handler{target: p})
		return
	}

	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	p.state = Fulfilled
	p.result = value
	hs := p.handlers
	p.handlers = nil
	close(p.settledCh)
	p.mu.Unlock()

	for _, h := range hs {
		p.dispatch(h, Fulfilled, value)
	}
}

func (p *Promise) reject(reason error) {
	p.mu.Lock()
	if p.state != Pending {
		p.mu.Unlock()
		return
	}
	p.state = Rejected
	p.result = reason
	hs := p.handlers
	p.handlers = nil
	close(p.settledCh)
	p.mu.Unlock()

	for _, h := range hs {
		p.dispatch(h, Rejected, reason)
	}
}

// addHandler registers h, dispatching it immediately (via the scheduler) if
// the promise has already settled, matching the teacher's zero-closure
// adoption path for target-only handlers.
func (p *Promise) addHandler(h handler) {
	p.mu.Lock()
	if p.state == Pending {
		p.handlers = append(p.handlers, h)
		p.mu.Unlock()
		return
	}
	state, result := p.state, p.result
	p.mu.Unlock()
	p.dispatch(h, state, result)
}

func (p *Promise) dispatch(h handler, state State, result Result) {
	p.sched.ScheduleMicrotask(func() {
		p.execute(h, state, result)
	})
}

func (p *Promise) execute(h handler, state State, result Result) {
	var fn func(Result) Result
	if state == Fulfilled {
		fn = h.onFulfilled
	} else {
		fn = h.onRejected
	}

	if fn == nil {
		if h.target == nil {
			return
		}
		if state == Fulfilled {
			h.target.resolve(result)
		} else {
			h.target.reject(toError(result))
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if h.target != nil {
				h.target.reject(fmt.Errorf("promise: handler panicked: %v", r))
			}
		}
	}()

	out := fn(result)
	if h.target != nil {
		h.target.resolve(out)
	}
}

func toError(v Result) error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}

// Then registers onFulfilled/onRejected and returns a new Promise
// representing the selected handler's result, per §4.2. Either handler may
// be nil to pass the corresponding state through unchanged.
func (p *Promise) Then(onFulfilled, onRejected func(Result) Result) *Promise {
	next, _, _ := New(p.sched)
	p.addHandler(handler{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		target:      next,
	})
	return next
}

// Catch is Then(nil, onRejected).
func (p *Promise) Catch(onRejected func(Result) Result) *Promise {
	return p.Then(nil, onRejected)
}

// Finally runs onFinally regardless of outcome, without altering the
// settled value or reason that flows to downstream continuations.
func (p *Promise) Finally(onFinally func()) *Promise {
	next, resolve, reject := New(p.sched)
	p.addHandler(handler{
		onFulfilled: func(v Result) Result { onFinally(); resolve(v); return nil },
		onRejected:  func(v Result) Result { onFinally(); reject(toError(v)); return nil },
	})
	return next
}
