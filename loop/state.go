package loop

import "sync/atomic"

// State is the run-state of a Loop.
//
// Awake -> Running -> Sleeping -> Running -> ... -> Terminating -> Terminated
//
// Adapted from the teacher's eventloop/state.go FastState machine, dropping
// the cache-line padding and weak-pointer scavenging concerns (a
// performance-benchmark artifact of the teacher, not a correctness
// requirement of this spec) in favor of a plain atomic value.
type State uint32

const (
	// StateAwake indicates the loop has been created but Run has not been called.
	StateAwake State = iota
	// StateRunning indicates the loop is actively processing a tick.
	StateRunning
	// StateSleeping indicates the loop is blocked in the readiness selector.
	StateSleeping
	// StateTerminating indicates Stop has been requested but shutdown has not completed.
	StateTerminating
	// StateTerminated indicates the loop has fully shut down.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type atomicState struct {
	v atomic.Uint32
}

func newAtomicState() *atomicState {
	s := &atomicState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *atomicState) Load() State {
	return State(s.v.Load())
}

func (s *atomicState) Store(state State) {
	s.v.Store(uint32(state))
}

func (s *atomicState) CompareAndSwap(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *atomicState) CanAcceptWork() bool {
	switch s.Load() {
	case StateAwake, StateRunning, StateSleeping:
		return true
	default:
		return false
	}
}

func (s *atomicState) IsTerminal() bool {
	return s.Load() == StateTerminated
}

// TransitionAny sets the state to to if the current state is any of from,
// used by Stop to move the loop to Terminating regardless of which of its
// active states it currently occupies.
func (s *atomicState) TransitionAny(from []State, to State) bool {
	for _, f := range from {
		if s.CompareAndSwap(f, to) {
			return true
		}
	}
	return false
}
