package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "awake", StateAwake.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "terminating", StateTerminating.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestAtomicState_LoadStore(t *testing.T) {
	s := newAtomicState()
	assert.Equal(t, StateAwake, s.Load())
	s.Store(StateRunning)
	assert.Equal(t, StateRunning, s.Load())
}

func TestAtomicState_CompareAndSwap(t *testing.T) {
	s := newAtomicState()
	assert.True(t, s.CompareAndSwap(StateAwake, StateRunning))
	assert.False(t, s.CompareAndSwap(StateAwake, StateTerminated), "stale from-state must fail")
	assert.Equal(t, StateRunning, s.Load())
}

func TestAtomicState_CanAcceptWork(t *testing.T) {
	s := newAtomicState()
	assert.True(t, s.CanAcceptWork())
	s.Store(StateRunning)
	assert.True(t, s.CanAcceptWork())
	s.Store(StateSleeping)
	assert.True(t, s.CanAcceptWork())
	s.Store(StateTerminating)
	assert.False(t, s.CanAcceptWork())
	s.Store(StateTerminated)
	assert.False(t, s.CanAcceptWork())
}

func TestAtomicState_IsTerminal(t *testing.T) {
	s := newAtomicState()
	assert.False(t, s.IsTerminal())
	s.Store(StateTerminated)
	assert.True(t, s.IsTerminal())
}

func TestAtomicState_TransitionAny(t *testing.T) {
	s := newAtomicState()
	s.Store(StateSleeping)
	ok := s.TransitionAny([]State{StateAwake, StateRunning, StateSleeping}, StateTerminating)
	assert.True(t, ok)
	assert.Equal(t, StateTerminating, s.Load())

	// No matching from-state: no-op.
	ok = s.TransitionAny([]State{StateAwake, StateRunning}, StateTerminated)
	assert.False(t, ok)
	assert.Equal(t, StateTerminating, s.Load())
}
