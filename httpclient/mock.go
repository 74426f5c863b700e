package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"
)

// HeaderMatcher predicates a request header.
type HeaderMatcher func(values []string) bool

// Matcher selects which requests a MockResponse applies to (spec §4.4.5
// "registered matchers over (method, URI, header predicates)").
type Matcher struct {
	Method  string
	URLExpr *regexp.Regexp
	Headers map[string]HeaderMatcher
}

func (m Matcher) matches(req *http.Request) bool {
	if m.Method != "" && m.Method != req.Method {
		return false
	}
	if m.URLExpr != nil && !m.URLExpr.MatchString(req.URL.String()) {
		return false
	}
	for name, pred := range m.Headers {
		if !pred(req.Header.Values(name)) {
			return false
		}
	}
	return true
}

// MockResponse is the canned reply for a registered Matcher.
type MockResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	Uses             int // 0 means infinite
	FailUntilAttempt int // fail with FailStatus for the first N attempts on this matcher
	FailStatus       int
	// FailSequence overrides the status code of the attempt'th request (1
	// indexed) to this route: attempt i fails with FailSequence[i-1], for
	// i within range. Distinct from FailUntilAttempt/FailStatus, which fail
	// every attempt up to a count with the same status; FailSequence
	// reproduces backends that fail with different codes on different
	// tries, e.g. []int{502, 503} then success on the third attempt.
	FailSequence []int
	// Delay is injected before replying, simulating a slow backend (spec
	// §4.4.5 "Supports delay").
	Delay      time.Duration
	SetCookies []string
}

type mockRoute struct {
	matcher  Matcher
	resp     MockResponse
	uses     int
	attempts int
	mu       sync.Mutex
}

// Mock is a drop-in http.RoundTripper used in tests to avoid real network
// calls, grounded in the spec's "Testing/Mock handler" (§4.4.5): it
// matches requests against registered routes, supports failure sequences
// and delays, and keeps its own request log independent of the Client's
// History so assertions can run against exactly what this transport saw.
type Mock struct {
	mu     sync.Mutex
	routes []*mockRoute
	log    []*http.Request
}

// NewMock creates an empty Mock transport.
func NewMock() *Mock { return &Mock{} }

// On registers a matcher -> response mapping. Later registrations take
// precedence when multiple matchers match the same request.
func (m *Mock) On(matcher Matcher, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, &mockRoute{matcher: matcher, resp: resp})
}

func (m *Mock) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.log = append(m.log, req)
	var chosen *mockRoute
	for i := len(m.routes) - 1; i >= 0; i-- {
		if m.routes[i].matcher.matches(req) {
			chosen = m.routes[i]
			break
		}
	}
	m.mu.Unlock()

	if chosen == nil {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}, nil
	}

	chosen.mu.Lock()
	chosen.attempts++
	attempt := chosen.attempts
	if chosen.resp.Uses > 0 && chosen.uses >= chosen.resp.Uses {
		chosen.mu.Unlock()
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}, nil
	}
	chosen.uses++
	chosen.mu.Unlock()

	status := chosen.resp.StatusCode
	body := chosen.resp.Body
	if chosen.resp.FailUntilAttempt > 0 && attempt <= chosen.resp.FailUntilAttempt {
		status = chosen.resp.FailStatus
		body = nil
	} else if idx := attempt - 1; idx >= 0 && idx < len(chosen.resp.FailSequence) {
		status = chosen.resp.FailSequence[idx]
		body = nil
	}

	if chosen.resp.Delay > 0 {
		time.Sleep(chosen.resp.Delay)
	}

	header := make(http.Header)
	for k, vs := range chosen.resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	for _, c := range chosen.resp.SetCookies {
		header.Add("Set-Cookie", c)
	}

	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Proto:      "HTTP/1.1",
	}, nil
}

// Log returns every request this Mock has seen.
func (m *Mock) Log() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.log))
	copy(out, m.log)
	return out
}

// Reset clears registered routes and the request log. Client.Reset calls
// this automatically when the client's transport is a *Mock, alongside
// clearing history/cache/cookies/downloads (spec §4.4.5 "reset() clears
// history, mocks, cache, cookies, and temporary downloaded files").
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = nil
	m.log = nil
}
