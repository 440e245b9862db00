package dispatch

import (
	"net/url"
	"strings"
)

// Segments joins parts into an absolute path, escaping each one on its own
// so a "/" inside an identifier cannot change the route.
func Segments(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// SplitPath escapes a caller-supplied slash path segment by segment, keeping
// "/" as the separator. Leading, trailing and repeated slashes are dropped.
func SplitPath(p string) string {
	fields := strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
	for i, f := range fields {
		fields[i] = url.PathEscape(f)
	}
	return strings.Join(fields, "/")
}
