package ops_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Moo-Marc/CtfMegBids/internal/ops"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := ops.Wrap(ops.ErrIO, "rename", "move directory", "Failed to rename session folder", cause)
	if !errors.Is(err, ops.ErrIO) {
		t.Fatalf("expected ErrIO marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "rename: move directory: Failed to rename session folder") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := ops.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, ops.ErrIO) {
		t.Fatalf("expected default marker ErrIO, got %v", err)
	}
	if !strings.Contains(err.Error(), "operation failure") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestClassifyAndExitCode(t *testing.T) {
	cases := []struct {
		err  error
		kind ops.Kind
		code int
	}{
		{nil, "", 0},
		{ops.Wrap(ops.ErrUsage, "rebuild", "", "bad name", nil), ops.KindUsage, 2},
		{ops.Wrap(ops.ErrConflict, "merge", "", "duplicate day", nil), ops.KindConflict, 3},
		{ops.Wrap(ops.ErrIO, "merge", "", "move", nil), ops.KindIO, 4},
		{ops.Wrap(ops.ErrNotFound, "rename", "", "missing", nil), ops.KindNotFound, 4},
		{errors.New("boom"), ops.KindInternal, 1},
	}
	for _, tc := range cases {
		if got := ops.Classify(tc.err); got != tc.kind {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.kind)
		}
		if got := ops.ExitCode(tc.err); got != tc.code {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}
}

func TestContextValues(t *testing.T) {
	ctx := ops.WithRunID(context.Background(), "run-1")
	ctx = ops.WithOperation(ctx, "merge")
	ctx = ops.WithSubject(ctx, "01")
	ctx = ops.WithSession(ctx, "02")
	ctx = ops.WithSession(ctx, "")

	if v, ok := ops.RunIDFromContext(ctx); !ok || v != "run-1" {
		t.Fatalf("run id = %q %v", v, ok)
	}
	if v, ok := ops.OperationFromContext(ctx); !ok || v != "merge" {
		t.Fatalf("operation = %q %v", v, ok)
	}
	if v, ok := ops.SubjectFromContext(ctx); !ok || v != "01" {
		t.Fatalf("subject = %q %v", v, ok)
	}
	if v, ok := ops.SessionFromContext(ctx); !ok || v != "02" {
		t.Fatalf("session = %q %v", v, ok)
	}
	if _, ok := ops.RunIDFromContext(context.Background()); ok {
		t.Fatal("expected no run id on empty context")
	}
}
