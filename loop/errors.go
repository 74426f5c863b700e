package loop

import "errors"

// Standard errors returned by Loop lifecycle and registration methods.
//
// Grounded on the teacher's eventloop/loop.go standard-error block; kept as
// sentinel errors (rather than *asyncerr.Error) because these are structural
// lifecycle violations checked with errors.Is, not operation failures that
// travel through a Promise.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop already running.
	ErrLoopAlreadyRunning = errors.New("loop: already running")

	// ErrLoopTerminated is returned when operations are attempted on a terminated loop.
	ErrLoopTerminated = errors.New("loop: terminated")

	// ErrLoopNotRunning is returned when operations are attempted on a loop that hasn't started.
	ErrLoopNotRunning = errors.New("loop: not running")

	// ErrReentrantRun is returned when Run is called from within the loop goroutine itself.
	ErrReentrantRun = errors.New("loop: cannot call Run from within the loop")

	// ErrFDOutOfRange is returned when a file descriptor exceeds the poller's supported range.
	ErrFDOutOfRange = errors.New("loop: fd out of range")

	// ErrFDAlreadyRegistered is returned when WatchReadable/WatchWritable targets an already-watched fd.
	ErrFDAlreadyRegistered = errors.New("loop: fd already registered")

	// ErrFDNotRegistered is returned when Unwatch targets a token that is not registered.
	ErrFDNotRegistered = errors.New("loop: fd not registered")

	// ErrPollerClosed is returned when the readiness selector has been closed.
	ErrPollerClosed = errors.New("loop: poller closed")
)
