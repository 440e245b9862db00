package tasks

import (
	"context"
	"encoding/json"
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

type hit struct {
	method string
	path   string
	query  string
	body   []byte
}

func setup(t *testing.T, status int, reply string) (*dispatch.Dispatcher, *[]hit) {
	var hits []hit
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		hits = append(hits, hit{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: b})
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	cfg := config.Tasks{IntegrationKey: "key&1", ProviderID: "42", BaseURL: srv.URL}
	return New(cfg, remote.NewHTTPCaller(srv.Client()), nil), &hits
}

func TestCreateTaskInjectsCredentials(t *testing.T) {
	d, hits := setup(t, http.StatusOK, `{"Id":"t-1"}`)

	res, err := d.Dispatch(context.Background(), CreateTask, dispatch.Payload{"Name": "Survey MJ-100"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Id":"t-1"}`, string(res.Body))

	h := (*hits)[0]
	assert.Equal(t, http.MethodPost, h.method)
	assert.Equal(t, "/api/v1/stask", h.path)
	assert.Equal(t, "format=json", h.query)
	var body map[string]any
	require.NoError(t, json.Unmarshal(h.body, &body))
	assert.Equal(t, "Survey MJ-100", body["Name"])
	assert.Equal(t, "key&1", body["IntegrationKey"])
	assert.Equal(t, float64(42), body["ProviderId"])
}

func TestGetAndDeleteUseQuery(t *testing.T) {
	d, hits := setup(t, http.StatusOK, `{}`)

	_, err := d.Dispatch(context.Background(), GetTask, dispatch.Payload{"Id": "t 1"})
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), DeleteTask, dispatch.Payload{"Id": "t-2"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, (*hits)[0].method)
	assert.Equal(t, "Id=t+1&Integrationkey=key%261&ProviderId=42&format=json", (*hits)[0].query)
	assert.Empty(t, (*hits)[0].body)
	assert.Equal(t, http.MethodDelete, (*hits)[1].method)
}

func TestPayloadRequired(t *testing.T) {
	d, hits := setup(t, http.StatusOK, `{}`)

	_, err := d.Dispatch(context.Background(), CreateTask, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrValidation))

	_, err = d.Dispatch(context.Background(), GetTask, dispatch.Payload{})
	require.Error(t, err)
	assert.Empty(t, *hits)
}

func TestUpstreamErrorEnvelope(t *testing.T) {
	d, _ := setup(t, http.StatusBadRequest, `{"ResponseStatus":{"ErrorCode":"ArgumentException","Message":"Invalid Integration Key"}}`)

	_, err := d.Dispatch(context.Background(), UpdateTask, dispatch.Payload{"Id": "t-1"})
	require.Error(t, err)
	assert.Equal(t, "Invalid Integration Key", errs.Message(err))
}

func TestProviderIDMustBeNumeric(t *testing.T) {
	d := New(config.Tasks{IntegrationKey: "k", ProviderID: "abc"}, nil, nil)
	_, err := d.Dispatch(context.Background(), CreateTask, dispatch.Payload{"Name": "x"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrConfiguration))
}
