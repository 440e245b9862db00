package assistant

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbridge.org/internal/config"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/remote"
)

func TestMessagesPassThrough(t *testing.T) {
	var gotKey, gotVersion, gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"id":"msg_1","content":[{"type":"text","text":"ok"}]}`)
	}))
	t.Cleanup(srv.Close)

	d := New(config.Assistant{APIKey: "sk-test", BaseURL: srv.URL, Version: "2023-06-01"}, remote.NewHTTPCaller(srv.Client()), nil)
	res, err := d.Dispatch(context.Background(), "", dispatch.Payload{
		"model":      "claude-model",
		"max_tokens": float64(64),
		"messages":   []any{map[string]any{"role": "user", "content": "Summarise job MJ-100"}},
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"id":"msg_1","content":[{"type":"text","text":"ok"}]}`, string(res.Body))
	assert.Equal(t, "sk-test", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)
	assert.Equal(t, "/v1/messages", gotPath)
	assert.JSONEq(t, `{"model":"claude-model","max_tokens":64,"messages":[{"role":"user","content":"Summarise job MJ-100"}]}`, string(gotBody))
}

func TestMessagesRequired(t *testing.T) {
	d := New(config.Assistant{APIKey: "k", BaseURL: "http://unused.invalid", Version: "2023-06-01"}, nil, nil)
	_, err := d.Dispatch(context.Background(), "", dispatch.Payload{"model": "m"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errs.HTTPStatus(err))
}

func TestMissingKey(t *testing.T) {
	d := New(config.Assistant{BaseURL: "http://unused.invalid"}, nil, nil)
	_, err := d.Dispatch(context.Background(), "", dispatch.Payload{"messages": []any{}})
	require.Error(t, err)
	assert.Equal(t, "missing configuration: assistant.api_key", err.Error())
}

func TestOverloadedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	t.Cleanup(srv.Close)

	d := New(config.Assistant{APIKey: "k", BaseURL: srv.URL, Version: "2023-06-01"}, remote.NewHTTPCaller(srv.Client()), nil)
	_, err := d.Dispatch(context.Background(), CreateMessage, dispatch.Payload{"messages": []any{}})
	require.Error(t, err)
	assert.Equal(t, 529, errs.HTTPStatus(err))
	assert.Equal(t, "Overloaded", errs.Message(err))
}
