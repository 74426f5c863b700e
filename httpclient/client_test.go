package httpclient

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/brindlecore/reactor/loop"
	"github.com/brindlecore/reactor/promise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runLoopInBackground(t *testing.T, l *loop.Loop) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	return done
}

func newTestLoop(t *testing.T) *loop.Loop {
	t.Helper()
	l, err := loop.New()
	require.NoError(t, err)
	return l
}

func TestClient_GetReturnsResponse(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "GET", URLExpr: regexp.MustCompile(`/hello$`)}, MockResponse{
		StatusCode: 200,
		Body:       []byte(`{"ok":true}`),
	})
	c := NewClient(l, WithTransport(mock))

	done := runLoopInBackground(t, l)
	p := c.NewRequest().URL("http://example.test/hello").Get()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request never settled")
	}
	l.Stop()
	<-done

	require.Equal(t, promise.Fulfilled, p.State())
	resp := p.Value().(*Response)
	assert.Equal(t, 200, resp.Status())
	assert.Equal(t, `{"ok":true}`, string(resp.RawBody()))
}

func TestClient_RetryOn503ThenSucceeds(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "GET", URLExpr: regexp.MustCompile(`/flaky$`)}, MockResponse{
		StatusCode:       200,
		Body:             []byte(`{"ok":true}`),
		FailUntilAttempt: 2,
		FailStatus:       503,
	})
	c := NewClient(l, WithTransport(mock))

	done := runLoopInBackground(t, l)
	p := c.NewRequest().URL("http://example.test/flaky").Retry(3, 10*time.Millisecond).Get()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request never settled")
	}
	l.Stop()
	<-done

	require.Equal(t, promise.Fulfilled, p.State())
	resp := p.Value().(*Response)
	assert.Equal(t, 200, resp.Status())
	assert.Len(t, mock.Log(), 3)
}

func TestClient_CacheHitAvoidsTransport(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "GET", URLExpr: regexp.MustCompile(`/profile$`)}, MockResponse{
		StatusCode: 200,
		Body:       []byte(`{"ts":1}`),
	})
	c := NewClient(l, WithTransport(mock), WithCache(NewMemoryCache(0)))

	done := runLoopInBackground(t, l)

	p1 := c.NewRequest().URL("http://example.test/profile").Cache(time.Minute).Get()
	<-p1.Done()
	p2 := c.NewRequest().URL("http://example.test/profile").Cache(time.Minute).Get()
	<-p2.Done()

	l.Stop()
	<-done

	resp1 := p1.Value().(*Response)
	resp2 := p2.Value().(*Response)
	assert.Equal(t, resp1.RawBody(), resp2.RawBody())
	assert.False(t, resp1.FromCache)
	assert.True(t, resp2.FromCache)
	assert.Len(t, mock.Log(), 1, "second request should be served from cache, not the transport")

	entries := c.History().Entries()
	require.Len(t, entries, 2)
	assert.False(t, entries[0].FromCache)
	assert.True(t, entries[1].FromCache)
}

func TestClient_CookieFlowFromLoginToProfile(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "POST", URLExpr: regexp.MustCompile(`/login$`)}, MockResponse{
		StatusCode: 200,
		SetCookies: []string{"session_id=ABC; Path=/"},
	})
	mock.On(Matcher{Method: "GET", URLExpr: regexp.MustCompile(`/profile$`)}, MockResponse{
		StatusCode: 200,
		Body:       []byte(`{"user":"me"}`),
	})
	jar := NewJar()
	c := NewClient(l, WithTransport(mock), WithJar(jar))

	done := runLoopInBackground(t, l)

	loginP := c.NewRequest().URL("http://example.test/login").UseCookieJar(true).Post()
	<-loginP.Done()

	profileP := c.NewRequest().URL("http://example.test/profile").UseCookieJar(true).Get()
	<-profileP.Done()

	l.Stop()
	<-done

	require.Equal(t, promise.Fulfilled, profileP.State())

	reqs := mock.Log()
	require.Len(t, reqs, 2)
	assert.Equal(t, "session_id=ABC", reqs[1].Header.Get("Cookie"))
}

func TestClient_CookieExpiresClearsJar(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "GET", URLExpr: regexp.MustCompile(`/logout$`)}, MockResponse{
		StatusCode: 200,
		SetCookies: []string{"session_id=ABC; Path=/; Expires=Thu, 01 Jan 1970 00:00:00 GMT"},
	})
	jar := NewJar()
	jar.Set(&Cookie{Name: "session_id", Value: "ABC", Domain: "example.test", Path: "/", Created: time.Now()})
	c := NewClient(l, WithTransport(mock), WithJar(jar))

	done := runLoopInBackground(t, l)
	p := c.NewRequest().URL("http://example.test/logout").UseCookieJar(true).Get()
	<-p.Done()
	l.Stop()
	<-done

	assert.Empty(t, jar.Matching("http://example.test/anything"))
}

func TestClient_AssertCookieExistsAndValue(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "POST", URLExpr: regexp.MustCompile(`/login$`)}, MockResponse{
		StatusCode: 200,
		SetCookies: []string{"session_id=ABC; Path=/"},
	})
	jar := NewJar()
	c := NewClient(l, WithTransport(mock), WithJar(jar))

	done := runLoopInBackground(t, l)
	p := c.NewRequest().URL("http://example.test/login").UseCookieJar(true).Post()
	<-p.Done()
	l.Stop()
	<-done

	assert.True(t, c.AssertCookieExists("session_id"))
	assert.True(t, c.AssertCookieValue("session_id", "ABC"))
	assert.False(t, c.AssertCookieValue("session_id", "wrong"))
	assert.False(t, c.AssertCookieExists("missing"))
}

func TestClient_ResetClearsHistoryCacheCookiesAndMock(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "POST", URLExpr: regexp.MustCompile(`/login$`)}, MockResponse{
		StatusCode: 200,
		SetCookies: []string{"session_id=ABC; Path=/"},
	})
	mock.On(Matcher{Method: "GET", URLExpr: regexp.MustCompile(`/profile$`)}, MockResponse{
		StatusCode: 200,
		Body:       []byte(`{"user":"me"}`),
	})
	jar := NewJar()
	c := NewClient(l, WithTransport(mock), WithJar(jar), WithCache(NewMemoryCache(0)))

	done := runLoopInBackground(t, l)
	loginP := c.NewRequest().URL("http://example.test/login").UseCookieJar(true).Post()
	<-loginP.Done()
	profileP := c.NewRequest().URL("http://example.test/profile").Cache(time.Minute).Get()
	<-profileP.Done()
	l.Stop()
	<-done

	require.Len(t, c.History().Entries(), 2)
	require.True(t, c.AssertCookieExists("session_id"))

	c.Reset()

	assert.Empty(t, c.History().Entries())
	assert.False(t, c.AssertCookieExists("session_id"))
	assert.Empty(t, mock.Log())

	_, ok := c.cache.Get(fingerprint(&Request{Method: "GET", URL: "http://example.test/profile"}))
	assert.False(t, ok, "cache should be empty after Reset")
}

func TestClient_ResetRemovesDownloadedFiles(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "GET", URLExpr: regexp.MustCompile(`/file$`)}, MockResponse{
		StatusCode: 200,
		Body:       []byte("binary payload"),
	})
	c := NewClient(l, WithTransport(mock))
	dest := filepath.Join(t.TempDir(), "downloaded.bin")

	done := runLoopInBackground(t, l)
	p := c.NewRequest().URL("http://example.test/file").Download(dest)
	<-p.Done()
	l.Stop()
	<-done

	require.Equal(t, promise.Fulfilled, p.State())
	_, statErr := os.Stat(dest)
	require.NoError(t, statErr)

	c.Reset()

	_, statErr = os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "Reset should remove files written by Download")
}

func TestClient_HTTPErrorStatusStillFulfillsPromise(t *testing.T) {
	l := newTestLoop(t)
	mock := NewMock()
	mock.On(Matcher{Method: "GET"}, MockResponse{StatusCode: http.StatusTeapot})
	c := NewClient(l, WithTransport(mock))

	done := runLoopInBackground(t, l)
	p := c.NewRequest().URL("http://example.test/anything").Get()
	<-p.Done()
	l.Stop()
	<-done

	require.Equal(t, promise.Fulfilled, p.State())
	assert.Equal(t, http.StatusTeapot, p.Value().(*Response).Status())
}
