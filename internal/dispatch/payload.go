package dispatch

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"

	"opsbridge.org/internal/errs"
)

// Payload is the decoded JSON object a caller sent with an action.
type Payload map[string]any

// String returns the value at key as text. Numbers are formatted; anything
// else yields "".
func (p Payload) String(key string) string {
	switch v := p[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Object returns the nested object at key, or nil.
func (p Payload) Object(key string) map[string]any {
	m, _ := p[key].(map[string]any)
	return m
}

// Require fails with a validation error naming every missing or empty key.
func (p Payload) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(p.String(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return errs.Validation("missing payload fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireObject fails unless key holds a JSON object.
func (p Payload) RequireObject(key string) (map[string]any, error) {
	m := p.Object(key)
	if m == nil {
		return nil, errs.Validation("payload field %s must be an object", key)
	}
	return m, nil
}

// Bytes decodes base64 content at key.
func (p Payload) Bytes(key string) ([]byte, error) {
	raw := p.String(key)
	if raw == "" {
		return nil, errs.Validation("missing payload fields: %s", key)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errs.Mark(errs.Wrapf(err, "payload field %s is not valid base64", key), errs.ErrValidation)
	}
	return data, nil
}
