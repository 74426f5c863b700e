package httpclient

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/brindlecore/reactor/promise"
)

// RequestInterceptor inspects or replaces a Request before it is sent
// (spec §4.4 pipeline step 2).
type RequestInterceptor func(*Request) *Request

// ResponseInterceptor inspects or replaces a Response after it is
// received (spec §4.4 pipeline step 6).
type ResponseInterceptor func(*Request, *Response) *Response

// Request is a fully assembled HTTP request plus the policies governing
// how the client issues it.
type Request struct {
	Method string
	URL    string
	Header map[string][]string
	Body   []byte

	Cookies []*Cookie
	UseJar  bool

	Timeout        time.Duration
	RetryMax       int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration
	CacheVaryBody  bool
	HTTP2          bool

	RequestInterceptors  []RequestInterceptor
	ResponseInterceptors []ResponseInterceptor
}

// Builder assembles a Request fluently (spec §6 "HTTP request builder").
type Builder struct {
	client *Client
	req    *Request
}

func newBuilder(c *Client) *Builder {
	return &Builder{client: c, req: &Request{
		Method:         "GET",
		Header:         make(map[string][]string),
		RetryMax:       c.defaultRetryMax,
		RetryBaseDelay: c.defaultRetryBaseDelay,
		UseJar:         c.jar != nil,
	}}
}

func (b *Builder) Method(m string) *Builder { b.req.Method = strings.ToUpper(m); return b }
func (b *Builder) URL(u string) *Builder    { b.req.URL = u; return b }

func (b *Builder) Header(name, value string) *Builder {
	b.req.Header[name] = append(b.req.Header[name], value)
	return b
}

func (b *Builder) Headers(h map[string]string) *Builder {
	for k, v := range h {
		b.req.Header[k] = append(b.req.Header[k], v)
	}
	return b
}

func (b *Builder) Body(body []byte) *Builder { b.req.Body = body; return b }

func (b *Builder) JSON(v any) *Builder {
	data, err := json.Marshal(v)
	if err != nil {
		b.req.Body = nil
		return b
	}
	b.req.Body = data
	b.req.Header["Content-Type"] = []string{"application/json"}
	return b
}

func (b *Builder) Form(values url.Values) *Builder {
	b.req.Body = []byte(values.Encode())
	b.req.Header["Content-Type"] = []string{"application/x-www-form-urlencoded"}
	return b
}

func (b *Builder) BearerToken(token string) *Builder {
	b.req.Header["Authorization"] = []string{"Bearer " + token}
	return b
}

func (b *Builder) Cookie(name, value string) *Builder {
	b.req.Cookies = append(b.req.Cookies, &Cookie{Name: name, Value: value})
	return b
}

func (b *Builder) Cookies(cookies []*Cookie) *Builder {
	b.req.Cookies = append(b.req.Cookies, cookies...)
	return b
}

func (b *Builder) UseCookieJar(use bool) *Builder { b.req.UseJar = use; return b }

func (b *Builder) Retry(max int, baseDelay time.Duration) *Builder {
	b.req.RetryMax = max
	b.req.RetryBaseDelay = baseDelay
	return b
}

// Cache marks the request cacheable with the given TTL (spec §4.4.3).
func (b *Builder) Cache(ttl time.Duration) *Builder { b.req.CacheTTL = ttl; return b }

func (b *Builder) Timeout(d time.Duration) *Builder { b.req.Timeout = d; return b }
func (b *Builder) HTTP2(enabled bool) *Builder       { b.req.HTTP2 = enabled; return b }

func (b *Builder) InterceptRequest(ic RequestInterceptor) *Builder {
	b.req.RequestInterceptors = append(b.req.RequestInterceptors, ic)
	return b
}

func (b *Builder) InterceptResponse(ic ResponseInterceptor) *Builder {
	b.req.ResponseInterceptors = append(b.req.ResponseInterceptors, ic)
	return b
}

// Get issues a GET request.
func (b *Builder) Get() *promise.Promise { b.req.Method = "GET"; return b.client.do(b.req) }

// Post issues a POST request.
func (b *Builder) Post() *promise.Promise { b.req.Method = "POST"; return b.client.do(b.req) }

// Put issues a PUT request.
func (b *Builder) Put() *promise.Promise { b.req.Method = "PUT"; return b.client.do(b.req) }

// Patch issues a PATCH request.
func (b *Builder) Patch() *promise.Promise { b.req.Method = "PATCH"; return b.client.do(b.req) }

// Delete issues a DELETE request.
func (b *Builder) Delete() *promise.Promise { b.req.Method = "DELETE"; return b.client.do(b.req) }

// Stream issues the request and invokes onChunk as bytes arrive, resolving
// with the final Response once the body ends (spec §4.4.4).
func (b *Builder) Stream(onChunk func([]byte)) *promise.Promise {
	return b.client.stream(b.req, onChunk)
}

// Download issues the request and writes the body to path, resolving with
// a DownloadResult (spec §4.4.4).
func (b *Builder) Download(path string) *promise.Promise {
	return b.client.download(b.req, path)
}

func bodyReader(req *Request) *bytes.Reader {
	if req.Body == nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(req.Body)
}
