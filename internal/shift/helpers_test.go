package shift_test

import (
	"testing"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, ok := sidecar.ParseTime(s)
	if !ok {
		t.Fatalf("bad time %q", s)
	}
	return ts
}

func ptr[T any](v T) *T { return &v }
