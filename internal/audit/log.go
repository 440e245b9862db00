// Package audit writes one structured line per externally visible side effect:
// a dispatched action, a reminder sent, a dataset write.
package audit

import (
	"context"
	"strings"
	"time"

	"opsbridge.org/internal/auth"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and caller context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errs.New("event name is required")
	}
	kv := []any{
		"type", "audit",
		"event", event,
		"at", time.Now().UTC().Format(time.RFC3339Nano),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		kv = append(kv, "request_id", rid)
	}
	if c, ok := auth.CallerFrom(ctx); ok {
		kv = append(kv, "user_id", c.Subject)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	kv = append(kv, "fields", copyFields)

	obs.Named("audit").Infow(event, kv...)
	return nil
}
