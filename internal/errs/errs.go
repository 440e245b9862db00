// Package errs is the error vocabulary shared by every opsbridge component.
//
// It re-exports github.com/cockroachdb/errors and defines the failure
// taxonomy the proxy reports to callers:
//
//	ErrConfiguration    missing or invalid credentials, never sent upstream (500)
//	ErrValidation       bad caller input, rejected before any network call (400)
//	ErrUpstreamAuth     token exchange with the issuer failed (401)
//	*UpstreamError      downstream API answered >= 400 (status passed through)
//	ErrTransport        network failure talking to a downstream (502)
//	ErrTimeout          per-call deadline expired; also matches ErrTransport
//	ErrUnknownAction    action outside the catalog; also matches ErrValidation
//	ErrPartialRun       one reminder failed inside an otherwise healthy run
//
// Build errors with the constructors below; classification uses Is.
package errs

import (
	"fmt"
	"net/http"
	"strings"

	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetail   = crdb.WithDetail
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
	Mark         = crdb.Mark
)

var (
	Is    = crdb.Is
	IsAny = crdb.IsAny
	As    = crdb.As
)

var (
	ErrConfiguration   = New("configuration error")
	ErrValidation      = New("invalid request")
	ErrUnknownAction   = New("unknown action")
	ErrUpstreamAuth    = New("upstream authentication failed")
	ErrUpstreamRequest = New("upstream request rejected")
	ErrTransport       = New("proxy error")
	ErrTimeout         = New("timed out")
	ErrNotFound        = New("not found")
	ErrPartialRun      = New("reminder run partially failed")
)

// UpstreamError carries a downstream rejection. Message is the human readable
// text extracted from the API's error envelope, or a truncated raw body.
type UpstreamError struct {
	API     string
	Action  string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.API, e.Action, e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamRequest }

// Configuration reports missing configuration keys.
func Configuration(missing ...string) error {
	return Mark(Newf("missing configuration: %s", strings.Join(missing, ", ")), ErrConfiguration)
}

// Validation reports a caller input problem.
func Validation(format string, args ...any) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// UnknownAction reports an action outside an API's catalog.
func UnknownAction(action string) error {
	return Mark(Mark(Newf("unknown action: %s", action), ErrUnknownAction), ErrValidation)
}

// UpstreamAuth reports a failed token exchange; reason is the issuer's text.
func UpstreamAuth(reason string) error {
	return Mark(Newf("token exchange failed: %s", reason), ErrUpstreamAuth)
}

// Transport marks a network failure.
func Transport(err error, format string, args ...any) error {
	return Mark(Wrapf(err, format, args...), ErrTransport)
}

// Timeout marks an expired deadline. The result also matches ErrTransport.
func Timeout(err error, format string, args ...any) error {
	return Mark(Mark(Wrapf(err, format, args...), ErrTimeout), ErrTransport)
}

// HTTPStatus maps an error onto the status returned to inbound callers.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var up *UpstreamError
	if As(err, &up) && up.Status >= 400 {
		return up.Status
	}
	switch {
	case Is(err, ErrConfiguration):
		return http.StatusInternalServerError
	case Is(err, ErrValidation):
		return http.StatusBadRequest
	case Is(err, ErrNotFound):
		return http.StatusNotFound
	case Is(err, ErrUpstreamAuth):
		return http.StatusUnauthorized
	case Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short stable label for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case Is(err, ErrConfiguration):
		return "configuration"
	case Is(err, ErrValidation):
		return "validation"
	case Is(err, ErrUpstreamAuth):
		return "upstream_auth"
	case Is(err, ErrUpstreamRequest):
		return "upstream"
	case Is(err, ErrTimeout):
		return "timeout"
	case Is(err, ErrTransport):
		return "transport"
	case Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// Message returns the caller-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var up *UpstreamError
	if As(err, &up) {
		return up.Message
	}
	return err.Error()
}
