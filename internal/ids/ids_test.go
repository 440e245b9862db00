package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableULID(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if _, err := ulid.ParseStrict(next); err != nil {
			t.Fatalf("invalid ulid %q: %v", next, err)
		}
		if next <= prev {
			t.Fatalf("expected %q > %q", next, prev)
		}
		prev = next
	}
}
