// Package dispatch maps symbolic actions onto concrete downstream calls.
//
// Every API the proxy fronts is a closed Catalog of Operations. Dispatch
// rejects unknown actions and bad payloads before any network traffic,
// authorises the call, issues exactly one request through a remote.Caller and
// turns a >= 400 answer into an *errs.UpstreamError.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"opsbridge.org/internal/audit"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/obs"
	"opsbridge.org/internal/remote"
)

// Default per-call timeouts.
const (
	ReadTimeout   = 30 * time.Second
	UploadTimeout = 60 * time.Second
)

const maxRawMessage = 200

// Action names one catalogued operation.
type Action string

// Call is one concrete outbound request. Empty Method and zero Timeout take
// the Operation's values.
type Call struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	Timeout  time.Duration
}

// JSONCall returns a call whose body is v encoded as JSON.
func JSONCall(method, path string, v any) (Call, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Call{}, errs.Wrap(err, "encode request body")
	}
	return Call{
		Method: method,
		Path:   path,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	}, nil
}

// BuildFunc derives the outbound call from a caller payload. Returned errors
// should be validation errors; nothing has touched the network yet.
type BuildFunc func(p Payload) (Call, error)

// CompositeFunc runs an action that needs more than one downstream call.
type CompositeFunc func(ctx context.Context, d *Dispatcher, p Payload) (remote.Result, error)

// Operation describes one action.
type Operation struct {
	Method  string
	Timeout time.Duration
	Build   BuildFunc
	// Composite replaces Build for multi-step actions.
	Composite CompositeFunc
}

// Catalog is the closed action set of one API.
type Catalog map[Action]Operation

// Actions lists the catalogued names.
func (c Catalog) Actions() []Action {
	out := make([]Action, 0, len(c))
	for a := range c {
		out = append(out, a)
	}
	return out
}

// EnvelopeFunc extracts a human-readable message from an error body. It
// returns "" when the body does not match the API's envelope.
type EnvelopeFunc func(body []byte) string

// Config wires a Dispatcher.
type Config struct {
	// API labels logs, metrics and upstream errors.
	API     string
	BaseURL string
	Catalog Catalog
	Auth    Authorizer
	// DefaultAction is used when the caller sends an empty action.
	DefaultAction Action
	Envelope      EnvelopeFunc
	// Check reports missing configuration; it runs before anything else.
	Check  func() error
	Caller remote.Caller
	Logger *zap.SugaredLogger
}

// Dispatcher executes catalogued actions against one downstream API.
type Dispatcher struct {
	api      string
	baseURL  string
	catalog  Catalog
	auth     Authorizer
	fallback Action
	envelope EnvelopeFunc
	check    func() error
	caller   remote.Caller
	log      *zap.SugaredLogger
}

// New builds a dispatcher. A nil Auth means NoAuth, a nil Caller a default
// HTTP caller.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		api:      cfg.API,
		baseURL:  cfg.BaseURL,
		catalog:  cfg.Catalog,
		auth:     cfg.Auth,
		fallback: cfg.DefaultAction,
		envelope: cfg.Envelope,
		check:    cfg.Check,
		caller:   cfg.Caller,
		log:      cfg.Logger,
	}
	if d.auth == nil {
		d.auth = NoAuth{}
	}
	if d.caller == nil {
		d.caller = remote.NewHTTPCaller(nil)
	}
	if d.log == nil {
		d.log = zap.NewNop().Sugar()
	}
	return d
}

// API returns the dispatcher's label.
func (d *Dispatcher) API() string { return d.api }

// Supports reports whether action is catalogued.
func (d *Dispatcher) Supports(action Action) bool {
	_, ok := d.catalog[action]
	return ok
}

// Dispatch runs action with payload and returns the downstream result. A
// successful body is passed through untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, action Action, payload Payload) (res remote.Result, err error) {
	if d.check != nil {
		if err := d.check(); err != nil {
			return remote.Result{}, err
		}
	}
	if action == "" {
		action = d.fallback
	}
	if action == "" {
		return remote.Result{}, errs.Validation("missing action")
	}
	op, ok := d.catalog[action]
	if !ok {
		return remote.Result{}, errs.UnknownAction(string(action))
	}
	if payload == nil {
		payload = Payload{}
	}

	start := time.Now()
	defer func() {
		d.record(ctx, action, res.Status, err, time.Since(start))
	}()

	if op.Composite != nil {
		res, err = op.Composite(ctx, d, payload)
	} else {
		var call Call
		call, err = op.Build(payload)
		if err != nil {
			return remote.Result{}, err
		}
		if call.Method == "" {
			call.Method = op.Method
		}
		if call.Timeout == 0 {
			call.Timeout = op.Timeout
		}
		res, err = d.Do(ctx, action, call)
	}
	return res, err
}

// Do authorises and sends one call, normalising >= 400 answers into
// *errs.UpstreamError. Composite actions use it for each step.
func (d *Dispatcher) Do(ctx context.Context, action Action, call Call) (remote.Result, error) {
	res, err := d.Send(ctx, call)
	if err != nil {
		return remote.Result{}, err
	}
	if res.Status >= http.StatusBadRequest {
		msg := d.message(res.Body)
		d.log.Warnw("upstream rejected request", "api", d.api, "action", action, "status", res.Status, "message", msg)
		return res, &errs.UpstreamError{API: d.api, Action: string(action), Status: res.Status, Message: msg}
	}
	return res, nil
}

// Send authorises and issues call without interpreting the status.
func (d *Dispatcher) Send(ctx context.Context, call Call) (remote.Result, error) {
	header := call.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	if err := d.auth.Authorize(ctx, header); err != nil {
		return remote.Result{}, err
	}
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = ReadTimeout
	}
	return d.caller.Do(ctx, remote.Request{
		BaseURL:  d.baseURL,
		Method:   call.Method,
		Path:     call.Path,
		RawQuery: call.RawQuery,
		Header:   header,
		Body:     call.Body,
		Timeout:  timeout,
	})
}

func (d *Dispatcher) message(body []byte) string {
	if d.envelope != nil {
		if msg := d.envelope(body); msg != "" {
			return msg
		}
	}
	return Truncate(string(body), maxRawMessage)
}

func (d *Dispatcher) record(ctx context.Context, action Action, status int, err error, took time.Duration) {
	outcome := errs.Kind(err)
	obs.ObserveUpstream(d.api, string(action), outcome, took)
	fields := map[string]any{
		"api":         d.api,
		"action":      string(action),
		"outcome":     outcome,
		"duration_ms": took.Milliseconds(),
	}
	if status != 0 {
		fields["status"] = status
	}
	if err != nil {
		fields["error"] = errs.Message(err)
	}
	if aerr := audit.LogEvent(ctx, "dispatch", fields); aerr != nil {
		d.log.Warnw("audit write failed", "error", aerr)
	}
}

// Truncate cuts s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// FieldEnvelope returns an EnvelopeFunc reading the first non-empty string
// among dotted JSON paths, e.g. "error.message".
func FieldEnvelope(paths ...string) EnvelopeFunc {
	return func(body []byte) string {
		var doc map[string]any
		if err := json.Unmarshal(body, &doc); err != nil {
			return ""
		}
		for _, p := range paths {
			if s := lookup(doc, strings.Split(p, ".")); s != "" {
				return s
			}
		}
		return ""
	}
}

func lookup(doc map[string]any, keys []string) string {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[k]
	}
	s, _ := cur.(string)
	return s
}
