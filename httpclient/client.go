// Package httpclient issues promise-based HTTP requests atop the event
// loop: a builder assembles a Request, a pipeline applies interceptors,
// the cookie jar, the cache, and a retry loop, then delivers a Response
// (spec §4.4). Transport I/O runs on an offloaded goroutine via
// loop.SubmitOp, matching mysqlclient's pattern for blocking socket work.
package httpclient

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/brindlecore/reactor/loop"
	"github.com/brindlecore/reactor/promise"
	"golang.org/x/sync/singleflight"
)

// Client issues requests built from NewRequest, honoring the policies
// attached to each Request.
type Client struct {
	loop   *loop.Loop
	logger loop.Logger

	transport http.RoundTripper
	jar       *Jar
	cache     Cache

	defaultRetryMax       int
	defaultRetryBaseDelay time.Duration

	singleFlight *singleflight.Group

	history *History

	downloadsMu sync.Mutex
	downloads   []string // paths written by download(), cleared by Reset
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithTransport overrides the underlying http.RoundTripper, e.g. with a
// Mock for testing (spec §4.4.5).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithJar attaches a cookie jar (spec §4.4.1).
func WithJar(j *Jar) Option {
	return func(c *Client) { c.jar = j }
}

// WithCache attaches a response cache (spec §4.4.3).
func WithCache(cache Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithDefaultRetry sets the retry policy new requests inherit unless
// overridden per-request (spec §4.4.2 defaults: maxAttempts=3,
// baseDelay=0.1s).
func WithDefaultRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(c *Client) { c.defaultRetryMax = maxAttempts; c.defaultRetryBaseDelay = baseDelay }
}

// WithSingleFlight coalesces concurrent cache-eligible requests sharing a
// fingerprint into one transport call, using
// golang.org/x/sync/singleflight (spec §4.4.3: "unless the caller enables
// single-flight").
func WithSingleFlight() Option {
	return func(c *Client) { c.singleFlight = new(singleflight.Group) }
}

// NewClient builds a Client bound to l.
func NewClient(l *loop.Loop, opts ...Option) *Client {
	c := &Client{
		loop:                  l,
		logger:                l.Logger(),
		transport:             http.DefaultTransport,
		defaultRetryMax:       3,
		defaultRetryBaseDelay: 100 * time.Millisecond,
		history:               newHistory(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRequest starts a chainable request builder (spec §6 "HTTP request
// builder").
func (c *Client) NewRequest() *Builder {
	return newBuilder(c)
}

// History returns the client's request history, populated for every
// request issued including cache hits (spec §4.4.5).
func (c *Client) History() *History { return c.history }

func (c *Client) trackDownload(path string) {
	c.downloadsMu.Lock()
	c.downloads = append(c.downloads, path)
	c.downloadsMu.Unlock()
}

// AssertCookieExists reports whether the client's jar currently holds a
// cookie named name (spec §4.4.5 assertCookieExists). Returns false if the
// client has no jar.
func (c *Client) AssertCookieExists(name string) bool {
	if c.jar == nil {
		return false
	}
	return c.jar.HasCookie(name)
}

// AssertCookieValue reports whether the client's jar holds a cookie named
// name with exactly the given value (spec §4.4.5 assertCookieValue).
func (c *Client) AssertCookieValue(name, value string) bool {
	if c.jar == nil {
		return false
	}
	v, ok := c.jar.CookieValue(name)
	return ok && v == value
}

// Reset clears every piece of per-test state this client can reach:
// request history, the response cache, the cookie jar, files written by
// Download, and — when the transport is a *Mock — its registered routes
// and log (spec §4.4.5 "reset() clears history, mocks, cache, cookies,
// and temporary downloaded files").
func (c *Client) Reset() {
	c.history.Reset()
	if c.cache != nil {
		c.cache.Reset()
	}
	if c.jar != nil {
		c.jar.Reset()
	}
	if m, ok := c.transport.(*Mock); ok {
		m.Reset()
	}

	c.downloadsMu.Lock()
	paths := c.downloads
	c.downloads = nil
	c.downloadsMu.Unlock()
	for _, p := range paths {
		os.Remove(p)
	}
}

func (c *Client) do(req *Request) *promise.Promise {
	for _, ic := range req.RequestInterceptors {
		req = ic(req)
	}

	if c.jar != nil && (req.UseJar || len(req.Cookies) > 0) {
		attachCookies(req, c.jar)
	}

	fp := ""
	if req.CacheTTL > 0 && c.cache != nil {
		fp = fingerprint(req)
		if resp, ok := c.cache.Get(fp); ok {
			c.history.record(req, resp, true)
			return c.finish(req, resp)
		}
	}

	var p *promise.Promise
	if fp != "" && c.singleFlight != nil {
		p = c.doSingleFlight(fp, req)
	} else {
		p = c.doRetryLoop(req)
	}

	return p.Then(func(v promise.Result) promise.Result {
		resp := v.(*Response)
		c.history.record(req, resp, false)
		if fp != "" && c.cache != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.cache.Set(fp, resp, req.CacheTTL)
		}
		if c.jar != nil {
			c.jar.storeFromResponse(req.URL, resp)
		}
		return c.finish(req, resp)
	}, nil)
}

func (c *Client) finish(req *Request, resp *Response) promise.Result {
	out := resp
	for _, ic := range req.ResponseInterceptors {
		out = ic(req, out)
	}
	return out
}

func (c *Client) doSingleFlight(fp string, req *Request) *promise.Promise {
	np, resolve, reject := promise.New(c.loop)
	ch := c.singleFlight.DoChan(fp, func() (any, error) {
		v, err := c.awaitPromise(c.doRetryLoop(req))
		return v, err
	})
	go func() {
		res := <-ch
		// resolve/reject dispatch through the scheduler's ScheduleMicrotask,
		// safe to call from any goroutine, so settling directly here (rather
		// than round-tripping through c.loop.Submit) can't drop the result
		// if the loop has since terminated.
		if res.Err != nil {
			reject(res.Err)
			return
		}
		resolve(res.Val)
	}()
	return np
}

// awaitPromise blocks the calling (non-loop) goroutine until p settles,
// used only to bridge singleflight.Group.DoChan's synchronous callback
// contract with a promise-based pipeline.
func (c *Client) awaitPromise(p *promise.Promise) (promise.Result, error) {
	v := <-p.ToChannel()
	if p.State() == promise.Rejected {
		if err, ok := v.(error); ok {
			return nil, err
		}
		return nil, promiseRejectedWithoutError
	}
	return v, nil
}

func (c *Client) doRetryLoop(req *Request) *promise.Promise {
	maxAttempts := req.RetryMax
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseDelay := req.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = c.defaultRetryBaseDelay
	}

	np, resolve, reject := promise.New(c.loop)
	var tryN func(n int)
	tryN = func(n int) {
		c.transportOnce(req).Then(func(v promise.Result) promise.Result {
			resp := v.(*Response)
			if n < maxAttempts && isRetryableStatus(resp.StatusCode) {
				delay := backoffWithJitter(baseDelay, n)
				timerID := c.loop.ScheduleAfter(delay, func() { tryN(n + 1) })
				_ = timerID
				return nil
			}
			resolve(resp)
			return nil
		}, func(err error) promise.Result {
			if n < maxAttempts {
				delay := backoffWithJitter(baseDelay, n)
				c.loop.ScheduleAfter(delay, func() { tryN(n + 1) })
				return nil
			}
			reject(err)
			return nil
		})
	}
	tryN(1)
	return np
}

func backoffWithJitter(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	jitter := time.Duration(rand.Int63n(int64(d) + 1))
	return d + jitter
}

func isRetryableStatus(status int) bool {
	return status >= 500 && status != 501
}

// transportOnce executes one transport round trip off the loop goroutine
// and resolves with the parsed Response or rejects with a KindTransport
// error.
func (c *Client) transportOnce(req *Request) *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		return executeTransport(ctx, c.transport, req)
	})
	return p
}
