package report

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogCollectsAndMirrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	log := New(logger, false, false)

	log.Warn(CodeNoiseNotFound, "sub-01/ses-01/meg/a.ds", "no empty-room recording within %d hours", 24)
	log.Info(CodeBadName, "", "skipped")
	log.Record(Change{Action: ActionWrite, Path: "a.json", Applied: true})

	if got := log.Count(CodeNoiseNotFound); got != 1 {
		t.Fatalf("count = %d", got)
	}
	if got := len(log.Warnings()); got != 1 {
		t.Fatalf("warnings = %d", got)
	}
	if got := strings.Join(log.Codes(), ","); got != CodeNoiseNotFound+","+CodeBadName && got != CodeBadName+","+CodeNoiseNotFound {
		t.Fatalf("codes = %q", got)
	}
	changes := log.Changes()
	if len(changes) != 1 || !changes[0].Applied {
		t.Fatalf("changes = %+v", changes)
	}
	out := buf.String()
	if !strings.Contains(out, "no empty-room recording within 24 hours") || !strings.Contains(out, "event_type=noise_not_found") {
		t.Fatalf("warning not mirrored: %s", out)
	}
}

func TestDryRunNeverMarksApplied(t *testing.T) {
	log := New(nil, true, false)
	log.Record(Change{Action: ActionRename, Path: "a", Target: "b", Applied: true})
	if log.Changes()[0].Applied {
		t.Fatal("dry-run change marked applied")
	}
}

func TestNilLogIsSafe(t *testing.T) {
	var log *Log
	log.Warn(CodeOrphanRow, "", "ignored")
	log.Record(Change{Action: ActionWrite, Path: "x"})
}
