// Package assistant proxies message requests to the LLM API unchanged,
// adding only the API key and version headers.
package assistant

import (
	"net/http"

	"go.uber.org/zap"

	"opsbridge.org/internal/config"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/remote"
)

const API = "claude"

// CreateMessage is the only action; it is also the default.
const CreateMessage dispatch.Action = "messages"

// Envelope reads {"error":{"type","message"}}.
var Envelope = dispatch.FieldEnvelope("error.message", "error.type")

// New returns the assistant dispatcher.
func New(cfg config.Assistant, caller remote.Caller, log *zap.SugaredLogger) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		API:     API,
		BaseURL: cfg.BaseURL,
		Catalog: dispatch.Catalog{
			CreateMessage: {
				Method:  http.MethodPost,
				Timeout: dispatch.ReadTimeout,
				Build:   buildMessage,
			},
		},
		Auth: dispatch.HeaderAuth{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": cfg.Version,
		},
		DefaultAction: CreateMessage,
		Envelope:      Envelope,
		Check:         cfg.Require,
		Caller:        caller,
		Logger:        log,
	})
}

func buildMessage(p dispatch.Payload) (dispatch.Call, error) {
	if _, ok := p["messages"]; !ok {
		return dispatch.Call{}, errs.Validation("missing messages in request body")
	}
	return dispatch.JSONCall("", "/v1/messages", map[string]any(p))
}
