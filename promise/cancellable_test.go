package promise

import (
	"errors"
	"testing"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancellablePromise_CancelRejectsWithCancelled(t *testing.T) {
	var cancelCalls int
	cp := NewCancellable(nil, func() { cancelCalls++ })
	cp.Cancel()

	assert.True(t, cp.Cancelled())
	assert.Equal(t, 1, cancelCalls)
	assert.Equal(t, Rejected, cp.State())
	require.True(t, errors.Is(cp.Reason().(error), asyncerr.Cancelled))
}

func TestCancellablePromise_CancelIsIdempotent(t *testing.T) {
	var cancelCalls int
	cp := NewCancellable(nil, func() { cancelCalls++ })
	cp.Cancel()
	cp.Cancel()
	cp.Cancel()

	assert.Equal(t, 1, cancelCalls, "cancel handler must fire at most once")
}

func TestCancellablePromise_ResolveAfterCancelIsDropped(t *testing.T) {
	cp := NewCancellable(nil, nil)
	cp.Cancel()
	cp.Resolve("too late")

	assert.Equal(t, Rejected, cp.State(), "a resolve racing after Cancel must be dropped")
}

func TestCancellablePromise_RejectAfterCancelIsDropped(t *testing.T) {
	cp := NewCancellable(nil, nil)
	cp.Cancel()
	cp.Reject(errors.New("also too late"))

	require.True(t, errors.Is(cp.Reason().(error), asyncerr.Cancelled))
}

func TestCancellablePromise_ResolveBeforeCancelWins(t *testing.T) {
	cp := NewCancellable(nil, nil)
	cp.Resolve("value")
	cp.Cancel()

	assert.Equal(t, Fulfilled, cp.State())
	assert.Equal(t, "value", cp.Value())
}

func TestCancellablePromise_NilCancelHandlerIsSafe(t *testing.T) {
	cp := NewCancellable(nil, nil)
	assert.NotPanics(t, func() { cp.Cancel() })
}

func TestAbortController_AbortCancelsAllLinked(t *testing.T) {
	ac := NewAbortController()
	cp1 := NewCancellable(nil, nil)
	cp2 := NewCancellable(nil, nil)
	ac.Link(cp1)
	ac.Link(cp2)

	ac.Abort()

	assert.True(t, cp1.Cancelled())
	assert.True(t, cp2.Cancelled())
	assert.True(t, ac.Aborted())
}

func TestAbortController_LinkAfterAbortCancelsImmediately(t *testing.T) {
	ac := NewAbortController()
	ac.Abort()

	cp := NewCancellable(nil, nil)
	ac.Link(cp)
	assert.True(t, cp.Cancelled())
}

func TestAbortController_AbortIsIdempotent(t *testing.T) {
	ac := NewAbortController()
	var cancelled int
	cp := NewCancellable(nil, func() { cancelled++ })
	ac.Link(cp)

	ac.Abort()
	ac.Abort()

	assert.Equal(t, 1, cancelled)
}
