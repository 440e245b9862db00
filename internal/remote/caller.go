// Package remote performs single outbound HTTP requests for the proxy.
//
// A call is exactly one network attempt bounded by its own timeout. The
// response body is read in full before Do returns and status codes are never
// interpreted here.
package remote

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"opsbridge.org/internal/errs"
)

// DefaultTimeout applies when a Request leaves Timeout unset.
const DefaultTimeout = 30 * time.Second

// Request describes one outbound call. Path must already be escaped.
type Request struct {
	BaseURL  string
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	Timeout  time.Duration
}

// Result is whatever the remote sent back.
type Result struct {
	Status int
	Body   []byte
	Header http.Header
}

// Caller is the seam the token cache and dispatchers depend on.
type Caller interface {
	Do(ctx context.Context, req Request) (Result, error)
}

// HTTPCaller implements Caller over net/http.
type HTTPCaller struct {
	client *http.Client
}

var _ Caller = (*HTTPCaller)(nil)

// NewHTTPCaller wraps client; nil uses a dedicated client with the default
// transport. Deadlines come from each Request, not from the client.
func NewHTTPCaller(client *http.Client) *HTTPCaller {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCaller{client: client}
}

// Do issues req once. On timeout the in-flight request is aborted and the
// error matches errs.ErrTimeout; other network failures match
// errs.ErrTransport only.
func (c *HTTPCaller) Do(ctx context.Context, req Request) (Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := strings.TrimRight(req.BaseURL, "/") + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return Result{}, errs.Wrapf(err, "build %s request", req.Method)
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, classify(ctx, err, httpReq, timeout)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, classify(ctx, err, httpReq, timeout)
	}
	return Result{Status: resp.StatusCode, Body: data, Header: resp.Header}, nil
}

func classify(ctx context.Context, err error, req *http.Request, timeout time.Duration) error {
	host := req.URL.Host
	if ctx.Err() == context.DeadlineExceeded || isNetTimeout(err) {
		return errs.Timeout(err, "%s %s timed out after %s", req.Method, host, timeout)
	}
	return errs.Transport(err, "%s %s", req.Method, host)
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errs.As(err, &ne) && ne.Timeout()
}
