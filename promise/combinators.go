package promise

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brindlecore/reactor/asyncerr"
)

// Settled describes one outcome record produced by AllSettled, per §4.3/§6.
type Settled struct {
	Status string // "fulfilled" or "rejected"
	Value  Result
	Reason error
}

// All resolves with ordered results once every input resolves, or rejects
// with the first rejection encountered (siblings are not cancelled unless
// the caller does so separately). Adapted from the teacher's (*JS).All.
func All(sched Scheduler, ps []*Promise) *Promise {
	result, resolve, reject := New(sched)

	if len(ps) == 0 {
		resolve(make([]Result, 0))
		return result
	}

	var mu sync.Mutex
	var completed atomic.Int32
	values := make([]Result, len(ps))
	var hasRejected atomic.Bool

	for i, p := range ps {
		idx := i
		p.Then(
			func(v Result) Result {
				mu.Lock()
				values[idx] = v
				mu.Unlock()
				if completed.Add(1) == int32(len(ps)) && !hasRejected.Load() {
					resolve(values)
				}
				return nil
			},
			func(r Result) Result {
				if hasRejected.CompareAndSwap(false, true) {
					reject(toError(r))
				}
				return nil
			},
		)
	}
	return result
}

// Race mirrors the first promise among ps to settle. An empty input never
// settles.
func Race(sched Scheduler, ps []*Promise) *Promise {
	result, resolve, reject := New(sched)
	if len(ps) == 0 {
		return result
	}

	var settled atomic.Bool
	for _, p := range ps {
		p.Then(
			func(v Result) Result {
				if settled.CompareAndSwap(false, true) {
					resolve(v)
				}
				return nil
			},
			func(r Result) Result {
				if settled.CompareAndSwap(false, true) {
					reject(toError(r))
				}
				return nil
			},
		)
	}
	return result
}

// AllSettled resolves with one Settled record per input, in order, once
// every input has settled. It never rejects.
func AllSettled(sched Scheduler, ps []*Promise) *Promise {
	if len(ps) == 0 {
		return Resolved(sched, make([]Settled, 0))
	}

	result, resolve, _ := New(sched)
	var mu sync.Mutex
	var completed atomic.Int32
	records := make([]Settled, len(ps))

	for i, p := range ps {
		idx := i
		p.Then(
			func(v Result) Result {
				mu.Lock()
				records[idx] = Settled{Status: "fulfilled", Value: v}
				mu.Unlock()
				if completed.Add(1) == int32(len(ps)) {
					resolve(records)
				}
				return nil
			},
			func(r Result) Result {
				mu.Lock()
				records[idx] = Settled{Status: "rejected", Reason: toError(r)}
				mu.Unlock()
				if completed.Add(1) == int32(len(ps)) {
					resolve(records)
				}
				return nil
			},
		)
	}
	return result
}

// Any resolves with the first fulfillment among ps, or rejects with an
// *asyncerr.AggregateError if every input rejects. An empty input rejects
// immediately.
func Any(sched Scheduler, ps []*Promise) *Promise {
	result, resolve, reject := New(sched)

	if len(ps) == 0 {
		reject(&asyncerr.AggregateError{
			Message: "no promises to resolve",
			Errors:  []error{asyncerr.New(asyncerr.KindUsage, "Any called with no promises")},
		})
		return result
	}

	var mu sync.Mutex
	var rejectedCount atomic.Int32
	reasons := make([]error, len(ps))
	var resolved atomic.Bool

	for i, p := range ps {
		idx := i
		p.Then(
			func(v Result) Result {
				if resolved.CompareAndSwap(false, true) {
					resolve(v)
				}
				return nil
			},
			func(r Result) Result {
				mu.Lock()
				reasons[idx] = toError(r)
				mu.Unlock()
				if rejectedCount.Add(1) == int32(len(ps)) && !resolved.Load() {
					reject(&asyncerr.AggregateError{
						Message: "all promises were rejected",
						Errors:  reasons,
					})
				}
				return nil
			},
		)
	}
	return result
}

// TaskFactory produces a fresh Promise each time it is called. Concurrent
// requires factories rather than pre-started promises, since a pre-started
// promise cannot be deferred to respect the concurrency limit.
type TaskFactory func() *Promise

// ConcurrentOptions configures Concurrent.
type ConcurrentOptions struct {
	// FailFast stops launching new tasks after the first rejection once
	// set. Already-running tasks still complete; later slots are not filled.
	FailFast bool
}

// Concurrent runs at most limit of the given task factories at a time,
// preserving input index in the returned ordered results. A factory's
// rejection is captured as that index's error without halting others
// unless FailFast is set. Passing anything other than factories is a
// Usage error by construction (the type system enforces it: factories,
// not *Promise, are the only accepted element type).
func Concurrent(sched Scheduler, factories []TaskFactory, limit int, opts ConcurrentOptions) *Promise {
	result, resolve, reject := New(sched)

	if len(factories) == 0 {
		resolve(make([]Settled, 0))
		return result
	}
	if limit <= 0 {
		limit = 1
	}

	records := make([]Settled, len(factories))
	var mu sync.Mutex
	var next atomic.Int64
	var completed atomic.Int32
	var failed atomic.Bool
	var rejectOnce sync.Once

	total := len(factories)
	workers := limit
	if workers > total {
		workers = total
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				if opts.FailFast && failed.Load() {
					return
				}
				idx := int(next.Add(1)) - 1
				if idx >= total {
					return
				}
				p := factories[idx]()
				v := <-p.ToChannel()
				mu.Lock()
				if p.State() == Rejected {
					records[idx] = Settled{Status: "rejected", Reason: toError(v)}
					failed.Store(true)
				} else {
					records[idx] = Settled{Status: "fulfilled", Value: v}
				}
				mu.Unlock()

				if completed.Add(1) == int32(total) {
					if opts.FailFast {
						if r, ok := firstRejection(records); ok {
							rejectOnce.Do(func() { reject(r) })
							return
						}
					}
					resolve(records)
				} else if opts.FailFast && p.State() == Rejected {
					rejectOnce.Do(func() {
						reject(toError(v))
					})
				}
			}
		}()
	}
	return result
}

func firstRejection(records []Settled) (error, bool) {
	for _, r := range records {
		if r.Status == "rejected" {
			return r.Reason, true
		}
	}
	return nil, false
}

// Timeout resolves/rejects as p does if p settles before the callback
// registered through after fires; otherwise it cancels p if p is
// cancellable and then rejects with a Timeout error. The deadline is the
// one after schedules; Timeout does not read d itself.
func Timeout(sched Scheduler, p *Promise, d time.Duration, after func(func()) func()) *Promise {
	result, resolve, reject := New(sched)
	var settled atomic.Bool

	cancelTimer := after(func() {
		if settled.CompareAndSwap(false, true) {
			if cp, ok := promiseAsCancellable(p); ok {
				cp.Cancel()
			}
			reject(asyncerr.New(asyncerr.KindTimeout, "operation timed out"))
		}
	})

	p.Then(
		func(v Result) Result {
			if settled.CompareAndSwap(false, true) {
				if cancelTimer != nil {
					cancelTimer()
				}
				resolve(v)
			}
			return nil
		},
		func(r Result) Result {
			if settled.CompareAndSwap(false, true) {
				if cancelTimer != nil {
					cancelTimer()
				}
				reject(toError(r))
			}
			return nil
		},
	)
	return result
}

// cancellableRegistry lets Timeout find the CancellablePromise behind a
// *Promise when the caller built one via NewCancellable, without promise.go
// needing to know about cancellable.go's type.
var cancellableRegistry sync.Map // map[*Promise]*CancellablePromise

func registerCancellable(p *Promise, cp *CancellablePromise) {
	cancellableRegistry.Store(p, cp)
}

func promiseAsCancellable(p *Promise) (*CancellablePromise, bool) {
	v, ok := cancellableRegistry.Load(p)
	if !ok {
		return nil, false
	}
	return v.(*CancellablePromise), true
}

// RetryOptions configures Retry.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration
	// Retryable decides whether attempt (1-based) should be retried given
	// err. A nil Retryable defaults to asyncerr.Retryable(err).
	Retryable func(err error, attempt int) bool
}

// Retry invokes factory, and on rejection evaluates Retryable; if true, it
// schedules the next attempt at BaseDelay*2^(attempt-1) +/- Jitter via the
// supplied scheduleAfter function (loop.Loop.ScheduleAfter in production).
func Retry(sched Scheduler, factory TaskFactory, opts RetryOptions, scheduleAfter func(time.Duration, func())) *Promise {
	result, resolve, reject := New(sched)
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 100 * time.Millisecond
	}
	retryable := opts.Retryable
	if retryable == nil {
		retryable = func(err error, attempt int) bool { return asyncerr.Retryable(err) }
	}

	var attempt func(n int)
	attempt = func(n int) {
		p := factory()
		p.Then(
			func(v Result) Result {
				resolve(v)
				return nil
			},
			func(r Result) Result {
				err := toError(r)
				if n >= opts.MaxAttempts || !retryable(err, n) {
					reject(err)
					return nil
				}
				backoff := opts.BaseDelay * time.Duration(1<<uint(n-1))
				if opts.Jitter > 0 {
					delta := time.Duration(rand.Int63n(int64(opts.Jitter)*2)) - opts.Jitter
					backoff += delta
					if backoff < 0 {
						backoff = 0
					}
				}
				scheduleAfter(backoff, func() { attempt(n + 1) })
				return nil
			},
		)
	}
	attempt(1)
	return result
}

// Delay resolves with nil after d, scheduled via scheduleAfter
// (loop.Loop.ScheduleAfter in production).
func Delay(sched Scheduler, d time.Duration, scheduleAfter func(time.Duration, func())) *Promise {
	result, resolve, _ := New(sched)
	scheduleAfter(d, func() { resolve(nil) })
	return result
}
