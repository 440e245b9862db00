// Package tasks catalogues the task-tracker actions. The tracker takes its
// credentials inside the request rather than in a header: POST bodies get
// IntegrationKey and ProviderId injected, reads and deletes carry them in
// the query string.
package tasks

import (
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"opsbridge.org/internal/config"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/remote"
)

const API = "appenate"

const (
	CreateTask dispatch.Action = "createTask"
	UpdateTask dispatch.Action = "updateTask"
	GetTask    dispatch.Action = "getTask"
	DeleteTask dispatch.Action = "deleteTask"
)

const taskPath = "/api/v1/stask"

// Envelope reads the tracker's ResponseStatus error shape.
var Envelope = dispatch.FieldEnvelope("ResponseStatus.Message", "ResponseStatus.ErrorCode", "Message")

// New returns the task-tracker dispatcher.
func New(cfg config.Tasks, caller remote.Caller, log *zap.SugaredLogger) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		API:      API,
		BaseURL:  cfg.BaseURL,
		Catalog:  Catalog(cfg),
		Auth:     dispatch.NoAuth{},
		Envelope: Envelope,
		Check:    cfg.Require,
		Caller:   caller,
		Logger:   log,
	})
}

// Catalog returns the task actions.
func Catalog(cfg config.Tasks) dispatch.Catalog {
	write := dispatch.Operation{
		Method:  http.MethodPost,
		Timeout: dispatch.ReadTimeout,
		Build: func(p dispatch.Payload) (dispatch.Call, error) {
			if len(p) == 0 {
				return dispatch.Call{}, errs.Validation("missing payload")
			}
			providerID, err := strconv.Atoi(cfg.ProviderID)
			if err != nil {
				return dispatch.Call{}, errs.Mark(errs.Wrap(err, "tasks.provider_id"), errs.ErrConfiguration)
			}
			body := make(map[string]any, len(p)+2)
			for k, v := range p {
				body[k] = v
			}
			body["IntegrationKey"] = cfg.IntegrationKey
			body["ProviderId"] = providerID
			call, err := dispatch.JSONCall("", taskPath, body)
			call.RawQuery = "format=json"
			return call, err
		},
	}
	byID := func(method string) dispatch.Operation {
		return dispatch.Operation{
			Method:  method,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if err := p.Require("Id"); err != nil {
					return dispatch.Call{}, err
				}
				q := url.Values{}
				q.Set("format", "json")
				q.Set("Id", p.String("Id"))
				q.Set("ProviderId", cfg.ProviderID)
				q.Set("Integrationkey", cfg.IntegrationKey)
				return dispatch.Call{Path: taskPath, RawQuery: q.Encode()}, nil
			},
		}
	}
	return dispatch.Catalog{
		CreateTask: write,
		UpdateTask: write,
		GetTask:    byID(http.MethodGet),
		DeleteTask: byID(http.MethodDelete),
	}
}
