// Package coroutine maps the specification's stackful user-mode coroutine
// onto a goroutine, per the Go-native reframing in SPEC_FULL.md §0: each
// Coroutine is a goroutine spawned by Go, and Await blocks the calling
// goroutine on a promise's settlement channel instead of suspending a
// user-mode stack frame.
//
// Grounded on the teacher's eventloop/promisify.go goroutine-offload
// pattern (a goroutine reporting completion back through the loop) and its
// documented "loop goroutine vs. arbitrary producer goroutines" split.
package coroutine

import (
	"sync"
	"sync/atomic"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/promise"
)

// State is the lifecycle state of a Coroutine (spec §3).
type State int32

const (
	Runnable State = iota
	Suspended
	Done
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Suspended:
		return "suspended"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Coroutine is the handle to a running goroutine-backed coroutine: its
// current state, and the result slot populated once its entry closure
// returns.
type Coroutine struct {
	state  atomic.Int32
	mu     sync.Mutex
	result any
	err    error
	done   chan struct{}
}

// Go spawns entry on a new goroutine, wiring panics into a recovered error
// so a misbehaving coroutine never crashes the process, mirroring the
// loop's own callback panic recovery policy.
func Go(entry func(co *Coroutine)) *Coroutine {
	co := &Coroutine{done: make(chan struct{})}
	co.state.Store(int32(Runnable))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				co.mu.Lock()
				co.err = asyncerr.Wrap(asyncerr.KindUsage, "coroutine panicked", panicAsError(r))
				co.mu.Unlock()
			}
			co.state.Store(int32(Done))
			close(co.done)
		}()
		entry(co)
	}()

	return co
}

func panicAsError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{r}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if stringer, ok := v.(interface{ String() string }); ok {
		return stringer.String()
	}
	return "(unprintable panic value)"
}

// State reports the coroutine's current lifecycle state.
func (co *Coroutine) State() State { return State(co.state.Load()) }

// Done returns a channel closed once the coroutine's entry closure returns.
func (co *Coroutine) Done() <-chan struct{} { return co.done }

// Result returns the final result and error once the coroutine is Done.
func (co *Coroutine) Result() (any, error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.result, co.err
}

func (co *Coroutine) setResult(v any, err error) {
	co.mu.Lock()
	co.result, co.err = v, err
	co.mu.Unlock()
}

// Await suspends co until p settles, then resumes with its fulfilled value
// or its rejection re-raised as an error return, per spec §4.2: "await(p)
// is legal only inside a coroutine." A nil co is a Usage error, modeling
// "await outside a coroutine" since there is then no coroutine to mark
// runnable.
func Await(co *Coroutine, p *promise.Promise) (any, error) {
	if co == nil {
		return nil, asyncerr.New(asyncerr.KindUsage, "await called outside a coroutine")
	}

	co.state.Store(int32(Suspended))
	v := <-p.ToChannel()
	co.state.Store(int32(Runnable))

	if p.State() == promise.Rejected {
		err, ok := v.(error)
		if !ok {
			err = asyncerr.New(asyncerr.KindUsage, "rejection reason is not an error")
		}
		return nil, err
	}
	return v, nil
}

// Run blocks the calling goroutine until co finishes and returns its final
// result, useful for bridging a coroutine launched by Go back into
// synchronous calling code (e.g. in tests).
func Run(co *Coroutine) (any, error) {
	<-co.Done()
	return co.Result()
}

// SetResult is called by a coroutine's own entry closure just before
// returning, to publish its final outcome for Run/Result callers.
func SetResult(co *Coroutine, v any, err error) {
	co.setResult(v, err)
}
