package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"opsbridge.org/internal/assistant"
	"opsbridge.org/internal/auth"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/graph"
	"opsbridge.org/internal/remote"
)

// envelope is the {action, payload} request shape shared by the document,
// calendar and task proxies.
type envelope struct {
	Action  dispatch.Action  `json:"action"`
	Payload dispatch.Payload `json:"payload"`
}

func (a *API) envelopeProxy(name string, d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.proxyPreamble(w, r, name, d) {
			return
		}
		var req envelope
		if err := decodeBody(r, &req); err != nil {
			a.respondErr(w, r, err)
			return
		}
		res, err := d.Dispatch(r.Context(), req.Action, req.Payload)
		if err != nil {
			a.respondErr(w, r, err)
			return
		}
		writePassthrough(w, res)
	}
}

func (a *API) handleEmail(w http.ResponseWriter, r *http.Request) {
	d := a.deps.Email
	if !a.proxyPreamble(w, r, "email", d) {
		return
	}
	var payload dispatch.Payload
	if err := decodeBody(r, &payload); err != nil {
		a.respondErr(w, r, err)
		return
	}
	if _, err := d.Dispatch(r.Context(), graph.SendMail, payload); err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleTwilio takes a flat body: {action?, to, body, from?, mediaUrl?, twiml?}.
func (a *API) handleTwilio(w http.ResponseWriter, r *http.Request) {
	d := a.deps.Twilio
	if !a.proxyPreamble(w, r, "twilio", d) {
		return
	}
	var payload dispatch.Payload
	if err := decodeBody(r, &payload); err != nil {
		a.respondErr(w, r, err)
		return
	}
	action := dispatch.Action(payload.String("action"))
	delete(payload, "action")

	res, err := d.Dispatch(r.Context(), action, payload)
	if err != nil {
		var up *errs.UpstreamError
		if errs.As(err, &up) {
			writeErrorBody(w, r, up.Status, map[string]any{"error": up.Message, "twilioStatus": up.Status})
			return
		}
		a.respondErr(w, r, err)
		return
	}
	var parsed struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	_ = json.Unmarshal(res.Body, &parsed)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sid": parsed.SID, "status": parsed.Status})
}

// handleClaude forwards the whole body as the messages request.
func (a *API) handleClaude(w http.ResponseWriter, r *http.Request) {
	d := a.deps.Assistant
	if !a.proxyPreamble(w, r, "claude", d) {
		return
	}
	var payload dispatch.Payload
	if err := decodeBody(r, &payload); err != nil {
		a.respondErr(w, r, err)
		return
	}
	res, err := d.Dispatch(r.Context(), assistant.CreateMessage, payload)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writePassthrough(w, res)
}

// proxyPreamble enforces POST, the dispatch permission and a wired
// dispatcher. It reports whether the handler should continue.
func (a *API) proxyPreamble(w http.ResponseWriter, r *http.Request, name string, d Dispatcher) bool {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return false
	}
	if !a.permitted(w, r, auth.PermDispatch) {
		return false
	}
	if d == nil {
		writeError(w, r, http.StatusServiceUnavailable, name+" proxy is not configured")
		return false
	}
	return true
}

// decodeBody reads an optional JSON body into dst. An empty body leaves dst
// at its zero value so downstream validation reports what is missing.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errs.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errs.As(err, &tooLarge) {
			return errs.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return errs.Validation("invalid JSON body: %v", err)
	}
	return nil
}

// writePassthrough relays a successful downstream answer untouched. An empty
// body becomes {} unless the status forbids one.
func writePassthrough(w http.ResponseWriter, res remote.Result) {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	body := res.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	ct := res.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
