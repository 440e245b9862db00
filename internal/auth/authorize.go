package auth

import "context"

// Allowed reports whether the caller in ctx holds perm. Anonymous contexts
// hold nothing.
func Allowed(ctx context.Context, perm string) bool {
	c, ok := CallerFrom(ctx)
	return ok && c.Can(perm)
}
