package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbridge.org/internal/errs"
)

func TestDoReturnsStatusAndBodyUninterpreted(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Test")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}))
	t.Cleanup(srv.Close)

	res, err := NewHTTPCaller(srv.Client()).Do(context.Background(), Request{
		BaseURL:  srv.URL + "/",
		Method:   http.MethodPost,
		Path:     "/v1.0/drives/a%2Fb/root:/Client%20Docs:/children",
		RawQuery: "$top=1",
		Header:   http.Header{"X-Test": []string{"yes"}},
		Body:     []byte("payload"),
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusTeapot, res.Status)
	assert.JSONEq(t, `{"error":{"message":"nope"}}`, string(res.Body))
	assert.Equal(t, "/v1.0/drives/a%2Fb/root:/Client%20Docs:/children", gotPath)
	assert.Equal(t, "$top=1", gotQuery)
	assert.Equal(t, "payload", gotBody)
	assert.Equal(t, "yes", gotHeader)
}

func TestDoTimeoutIsDistinguishable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	start := time.Now()
	_, err := NewHTTPCaller(srv.Client()).Do(context.Background(), Request{
		BaseURL: srv.URL,
		Method:  http.MethodGet,
		Path:    "/slow",
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, errs.Is(err, errs.ErrTimeout))
	assert.True(t, errs.Is(err, errs.ErrTransport))
}

func TestDoConnectionFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewHTTPCaller(nil).Do(context.Background(), Request{
		BaseURL: addr,
		Method:  http.MethodGet,
		Path:    "/",
		Timeout: time.Second,
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrTransport))
	assert.False(t, errs.Is(err, errs.ErrTimeout))
}

func TestDoSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	res, err := NewHTTPCaller(srv.Client()).Do(context.Background(), Request{BaseURL: srv.URL, Method: http.MethodGet, Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	assert.Equal(t, int32(1), hits.Load())
}
