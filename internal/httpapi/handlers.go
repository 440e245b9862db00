package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"opsbridge.org/internal/auth"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/obs"
	"opsbridge.org/internal/remote"
	"opsbridge.org/internal/store"
)

// ReadyProbe reports whether the dataset database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Dispatcher runs one catalogued action against a downstream API.
type Dispatcher interface {
	Dispatch(ctx context.Context, action dispatch.Action, payload dispatch.Payload) (remote.Result, error)
}

// ReminderRunner triggers a reminder run.
type ReminderRunner interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

// Deps wires the HTTP surface. Nil dispatchers answer 503.
type Deps struct {
	SharePoint Dispatcher
	Graph      Dispatcher
	Email      Dispatcher
	Twilio     Dispatcher
	Tasks      Dispatcher
	Assistant  Dispatcher

	Data      store.Store
	Reminders ReminderRunner
	Ready     ReadyProbe

	// Signer enables bearer authentication of inbound callers; nil disables it.
	Signer *auth.Signer

	Version        string
	AllowedOrigins []string
	RateBurst      int
	RatePerSecond  int
	MaxBodyBytes   int64
	Now            func() time.Time
	Logger         *zap.SugaredLogger
}

// API is the HTTP layer.
type API struct {
	mux  *http.ServeMux
	deps Deps
	log  *zap.SugaredLogger
	now  func() time.Time
}

func New(deps Deps) *API {
	if deps.RateBurst <= 0 {
		deps.RateBurst = 20
	}
	if deps.RatePerSecond <= 0 {
		deps.RatePerSecond = 10
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 10 << 20
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = obs.Named("http")
	}
	a := &API{mux: http.NewServeMux(), deps: deps, log: log, now: now}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/sharepoint", a.envelopeProxy("sharepoint", deps.SharePoint))
	a.mux.HandleFunc("/api/graph", a.envelopeProxy("graph", deps.Graph))
	a.mux.HandleFunc("/api/appenate", a.envelopeProxy("appenate", deps.Tasks))
	a.mux.HandleFunc("/api/email", a.handleEmail)
	a.mux.HandleFunc("/api/twilio", a.handleTwilio)
	a.mux.HandleFunc("/api/claude", a.handleClaude)
	a.mux.HandleFunc("/api/data", a.handleData)
	a.mux.HandleFunc("/api/reminders/run", a.handleReminderRun)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.deps.MaxBodyBytes)
	h = RateLimit(h, a.deps.RateBurst, a.deps.RatePerSecond)
	h = CORS(h, a.deps.AllowedOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsbridge",
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorBody(w, r, code, map[string]any{"error": msg})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, code int, payload map[string]any) {
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// respondErr maps err through the error taxonomy. Internal failures are
// logged and answered with a generic message.
func (a *API) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.HTTPStatus(err)
	msg := errs.Message(err)
	switch {
	case errs.Is(err, errs.ErrTransport):
		msg = "proxy error: " + err.Error()
	case code == http.StatusInternalServerError && !errs.Is(err, errs.ErrConfiguration):
		a.log.Errorw("request failed", "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		msg = "internal error"
	}
	writeError(w, r, code, msg)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
