// Package ids mints request ids and the row keys of dataset items posted
// without one.
package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID. Ids minted by one process sort by creation time.
func New() string {
	return ulid.Make().String()
}
