// Package twilio catalogues the messaging API actions: SMS, WhatsApp and
// voice calls, all sent as form posts under HTTP Basic auth.
package twilio

import (
	"html"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"opsbridge.org/internal/config"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/remote"
)

const API = "twilio"

const (
	SendSMS      dispatch.Action = "sendSms"
	SendWhatsApp dispatch.Action = "sendWhatsApp"
	MakeCall     dispatch.Action = "makeCall"
)

const (
	whatsappPrefix  = "whatsapp:"
	defaultGreeting = "Hello from Onwards Operations"
)

// Envelope reads {"message": ...} or the legacy {"error_message": ...}.
var Envelope = dispatch.FieldEnvelope("message", "error_message")

// New returns the messaging dispatcher. An empty action means sendSms.
func New(cfg config.Twilio, caller remote.Caller, log *zap.SugaredLogger) *dispatch.Dispatcher {
	return dispatch.New(dispatch.Config{
		API:           API,
		BaseURL:       cfg.BaseURL,
		Catalog:       Catalog(cfg),
		Auth:          dispatch.BasicAuth{Username: cfg.AccountSID, Password: cfg.AuthToken},
		DefaultAction: SendSMS,
		Envelope:      Envelope,
		Check:         cfg.Require,
		Caller:        caller,
		Logger:        log,
	})
}

// Catalog returns the messaging actions. Payload fields: to, body, from
// (optional sender override) and, for calls, twiml.
func Catalog(cfg config.Twilio) dispatch.Catalog {
	return dispatch.Catalog{
		SendSMS: {
			Method:  http.MethodPost,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if err := p.Require("to"); err != nil {
					return dispatch.Call{}, err
				}
				return formCall(cfg, "Messages.json", url.Values{
					"To":   {p.String("to")},
					"From": {sender(p, cfg.FromNumber)},
					"Body": {p.String("body")},
				}), nil
			},
		},
		SendWhatsApp: {
			Method:  http.MethodPost,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if err := p.Require("to"); err != nil {
					return dispatch.Call{}, err
				}
				from := cfg.WhatsAppNumber
				if from == "" {
					from = whatsappPrefix + cfg.FromNumber
				}
				return formCall(cfg, "Messages.json", url.Values{
					"To":   {whatsappPrefix + strings.TrimPrefix(p.String("to"), whatsappPrefix)},
					"From": {from},
					"Body": {p.String("body")},
				}), nil
			},
		},
		MakeCall: {
			Method:  http.MethodPost,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if err := p.Require("to"); err != nil {
					return dispatch.Call{}, err
				}
				twiml := p.String("twiml")
				if twiml == "" {
					say := p.String("body")
					if say == "" {
						say = defaultGreeting
					}
					twiml = "<Response><Say>" + html.EscapeString(say) + "</Say></Response>"
				}
				return formCall(cfg, "Calls.json", url.Values{
					"To":    {p.String("to")},
					"From":  {sender(p, cfg.FromNumber)},
					"Twiml": {twiml},
				}), nil
			},
		},
	}
}

func sender(p dispatch.Payload, fallback string) string {
	if from := p.String("from"); from != "" {
		return from
	}
	return fallback
}

func formCall(cfg config.Twilio, resource string, form url.Values) dispatch.Call {
	return dispatch.Call{
		Path:   dispatch.Segments("2010-04-01", "Accounts", cfg.AccountSID, resource),
		Header: http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
		Body:   []byte(form.Encode()),
	}
}
