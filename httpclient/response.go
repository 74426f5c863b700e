package httpclient

import "encoding/json"

// Response is an immutable view over a received HTTP response (spec §6
// "Response view"). withHeader/withBody return a modified copy, leaving
// the original untouched, so interceptors can rewrite a response without
// racing concurrent readers.
type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Proto      string
	FromCache  bool
}

func (r *Response) Status() int { return r.StatusCode }

func (r *Response) Header(name string) string {
	if vs, ok := r.Headers[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (r *Response) HeaderValues() map[string][]string { return r.Headers }

func (r *Response) RawBody() []byte { return r.Body }

func (r *Response) JSON(v any) error { return json.Unmarshal(r.Body, v) }

func (r *Response) GetProtocolVersion() string { return r.Proto }

// WithHeader returns a copy of r with name set to value.
func (r *Response) WithHeader(name, value string) *Response {
	out := *r
	out.Headers = make(map[string][]string, len(r.Headers))
	for k, v := range r.Headers {
		out.Headers[k] = v
	}
	out.Headers[name] = []string{value}
	return &out
}

// WithBody returns a copy of r with the body replaced.
func (r *Response) WithBody(body []byte) *Response {
	out := *r
	out.Body = body
	return &out
}

// DownloadResult is returned by Builder.Download.
type DownloadResult struct {
	File  string
	Bytes int
}
