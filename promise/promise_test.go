package promise

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncScheduler runs microtasks inline but records call order, enough to
// assert ordering invariants without needing a real loop.Loop.
type syncScheduler struct {
	mu  sync.Mutex
	ran []func()
}

func (s *syncScheduler) ScheduleMicrotask(f func()) {
	s.mu.Lock()
	s.ran = append(s.ran, f)
	s.mu.Unlock()
	f()
}

func TestPromise_ResolveIsIdempotent(t *testing.T) {
	p, resolve, reject := New(nil)
	resolve("first")
	resolve("second")
	reject(errors.New("too late"))

	assert.Equal(t, Fulfilled, p.State())
	assert.Equal(t, "first", p.Value())
}

func TestPromise_RejectIsIdempotent(t *testing.T) {
	p, resolve, reject := New(nil)
	firstErr := errors.New("first")
	reject(firstErr)
	reject(errors.New("second"))
	resolve("too late")

	assert.Equal(t, Rejected, p.State())
	assert.Equal(t, firstErr, p.Reason())
}

func TestPromise_ThenFulfilled(t *testing.T) {
	p, resolve, _ := New(nil)
	var got Result
	next := p.Then(func(v Result) Result {
		got = v
		return "transformed"
	}, nil)
	resolve("value")

	assert.Equal(t, "value", got)
	assert.Equal(t, Fulfilled, next.State())
	assert.Equal(t, "transformed", next.Value())
}

func TestPromise_ThenRejected(t *testing.T) {
	p, _, reject := New(nil)
	var got Result
	next := p.Then(nil, func(r Result) Result {
		got = r
		return "recovered"
	})
	reject(errors.New("boom"))

	assert.Equal(t, "boom", got.(error).Error())
	assert.Equal(t, Fulfilled, next.State())
	assert.Equal(t, "recovered", next.Value())
}

func TestPromise_ThenPassesThroughWithNilHandler(t *testing.T) {
	p, _, reject := New(nil)
	next := p.Then(func(v Result) Result { return "never" }, nil)
	reject(errors.New("boom"))

	assert.Equal(t, Rejected, next.State())
	require.Error(t, next.Reason().(error))
}

func TestPromise_CatchOnlyHandlesRejection(t *testing.T) {
	p, resolve, _ := New(nil)
	called := false
	next := p.Catch(func(r Result) Result { called = true; return nil })
	resolve("ok")

	assert.False(t, called)
	assert.Equal(t, "ok", next.Value())
}

func TestPromise_FinallyRunsOnBothOutcomes(t *testing.T) {
	p1, resolve, _ := New(nil)
	ran := 0
	next1 := p1.Finally(func() { ran++ })
	resolve("v")
	assert.Equal(t, 1, ran)
	assert.Equal(t, "v", next1.Value())

	p2, _, reject := New(nil)
	next2 := p2.Finally(func() { ran++ })
	reject(errors.New("e"))
	assert.Equal(t, 2, ran)
	assert.Equal(t, Rejected, next2.State())
}

func TestPromise_AdoptionOfReturnedPromise(t *testing.T) {
	inner, innerResolve, _ := New(nil)
	outer, resolve, _ := New(nil)

	chained := outer.Then(func(v Result) Result {
		return inner
	}, nil)

	resolve("start")
	// inner hasn't settled yet, so chained must still be pending.
	assert.Equal(t, Pending, chained.State())

	innerResolve("inner value")
	assert.Equal(t, Fulfilled, chained.State())
	assert.Equal(t, "inner value", chained.Value())
}

func TestPromise_ResolvingWithSelfRejects(t *testing.T) {
	p, resolve, _ := New(nil)
	resolve(p)
	assert.Equal(t, Rejected, p.State())
}

func TestPromise_HandlersRunInRegistrationOrder(t *testing.T) {
	p, resolve, _ := New(nil)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		p.Then(func(v Result) Result {
			order = append(order, i)
			return nil
		}, nil)
	}
	resolve("go")
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPromise_AddHandlerAfterSettlementDispatchesImmediately(t *testing.T) {
	p, resolve, _ := New(nil)
	resolve("already done")

	var got Result
	p.Then(func(v Result) Result { got = v; return nil }, nil)
	assert.Equal(t, "already done", got)
}

func TestPromise_ResolvedAndRejectedHelpers(t *testing.T) {
	rp := Resolved(nil, 42)
	assert.Equal(t, Fulfilled, rp.State())
	assert.Equal(t, 42, rp.Value())

	errBoom := errors.New("boom")
	jp := Rejected(nil, errBoom)
	assert.Equal(t, Rejected, jp.State())
	assert.Equal(t, errBoom, jp.Reason())
}

func TestPromise_ToChannelDeliversOnce(t *testing.T) {
	p, resolve, _ := New(nil)
	ch := p.ToChannel()
	resolve("value")

	v, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "value", v)

	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after delivering the single result")
}

func TestPromise_DoneClosesOnSettle(t *testing.T) {
	p, resolve, _ := New(nil)
	select {
	case <-p.Done():
		t.Fatal("Done channel must not be closed before settlement")
	default:
	}
	resolve(nil)
	select {
	case <-p.Done():
	default:
		t.Fatal("Done channel must be closed after settlement")
	}
}

func TestPromise_PanicInHandlerRejectsDownstream(t *testing.T) {
	sched := &syncScheduler{}
	p, resolve, _ := New(sched)
	next := p.Then(func(v Result) Result {
		panic("handler exploded")
	}, nil)
	resolve("go")

	assert.Equal(t, Rejected, next.State())
	assert.Contains(t, next.Reason().(error).Error(), "handler exploded")
}

func TestPromise_StateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "fulfilled", Fulfilled.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "unknown", State(99).String())
}
