package loop

import "time"

// options holds the resolved configuration applied to a Loop at
// construction. Adapted from the teacher's eventloop/options.go
// loopOptions/LoopOption pattern (§9 "dynamic option bags" redesign note:
// typed configuration via functional options, not a bag of keys).
type options struct {
	logger          Logger
	pollCap         time.Duration
	immediateBudget int
	onOverload      func(error)
	selector        Selector
}

// Option configures a Loop at construction time.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithLogger installs a structured logger. The zero value otherwise is a
// NoOpLogger.
func WithLogger(l Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

// WithPollCap bounds how long a single readiness-selector wait may block,
// even when no timer is sooner, so shutdown and newly submitted work are
// never starved beyond this interval (spec §4.1 step 5).
func WithPollCap(d time.Duration) Option {
	return optionFunc(func(o *options) { o.pollCap = d })
}

// WithImmediateBudget bounds how many immediate-queue entries are drained
// per tick, preventing a self-resubmitting immediate from starving I/O
// (spec §4.1 step 1). Zero means "all entries present at tick start",
// which is also the default.
func WithImmediateBudget(n int) Option {
	return optionFunc(func(o *options) { o.immediateBudget = n })
}

// WithOverloadHandler installs a sink for callback panics recovered at the
// loop boundary when no more specific promise exists to reject (spec
// §4.1 "Failure semantics").
func WithOverloadHandler(f func(error)) Option {
	return optionFunc(func(o *options) { o.onOverload = f })
}

// WithSelector overrides the platform readiness selector, mainly for tests
// that want a fake Selector instead of a real epoll/kqueue backend.
func WithSelector(s Selector) Option {
	return optionFunc(func(o *options) { o.selector = s })
}

func resolveOptions(opts []Option) *options {
	o := &options{
		logger:  NewNoOpLogger(),
		pollCap: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(o)
		}
	}
	return o
}
