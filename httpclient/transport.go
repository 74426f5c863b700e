package httpclient

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/promise"
)

func newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader(req))
	if err != nil {
		return nil, asyncerr.Wrap(asyncerr.KindUsage, "build http request", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	for _, c := range req.Cookies {
		hr.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return hr, nil
}

// executeTransport performs one blocking round trip via rt and returns a
// fully buffered Response. Runs off the loop goroutine (spec §4.4
// pipeline step 5a).
func executeTransport(ctx context.Context, rt http.RoundTripper, req *Request) (*Response, error) {
	hr, err := newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := rt.RoundTrip(hr)
	if err != nil {
		return nil, asyncerr.Wrap(asyncerr.KindTransport, "round trip", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, asyncerr.Wrap(asyncerr.KindTransport, "read response body", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    map[string][]string(resp.Header),
		Body:       body,
		Proto:      resp.Proto,
	}, nil
}

// stream executes req and invokes onChunk for each read from the body as
// it arrives, settling once the body is exhausted (spec §4.4.4).
func (c *Client) stream(req *Request, onChunk func([]byte)) *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		hr, err := newHTTPRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		resp, err := c.transport.RoundTrip(hr)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindTransport, "round trip", err)
		}
		defer resp.Body.Close()

		buf := make([]byte, 32*1024)
		var headers = map[string][]string(resp.Header)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				onChunk(chunk)
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				return nil, asyncerr.Wrap(asyncerr.KindTransport, "stream response body", readErr)
			}
		}
		return &Response{StatusCode: resp.StatusCode, Headers: headers, Proto: resp.Proto}, nil
	})
	return p
}

// download executes req and writes the body to path, creating parent
// directories as needed (spec §4.4.4).
func (c *Client) download(req *Request, path string) *promise.Promise {
	_, p := c.loop.SubmitOp(func(ctx context.Context) (any, error) {
		hr, err := newHTTPRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		resp, err := c.transport.RoundTrip(hr)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindTransport, "round trip", err)
		}
		defer resp.Body.Close()

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "create download directory", err)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "create download file", err)
		}
		defer f.Close()

		n, err := io.Copy(f, resp.Body)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "write download file", err)
		}
		c.trackDownload(path)
		return &DownloadResult{File: path, Bytes: int(n)}, nil
	})
	return p
}
