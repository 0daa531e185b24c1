package journal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/journal"
	"github.com/Moo-Marc/CtfMegBids/internal/testsupport"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	root := t.TempDir()

	if err := store.Begin(ctx, journal.Run{ID: "run-1", Operation: "rebuild", DatasetRoot: root, DryRun: true}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := store.RecordStep(ctx, journal.Step{RunID: "run-1", Name: "recording", Subject: "01", Session: "01", Detail: "sub-01_ses-01_task-rest_meg"}); err != nil {
		t.Fatalf("RecordStep: %v", err)
	}

	unfinished, err := store.Unfinished(ctx, root)
	if err != nil {
		t.Fatalf("Unfinished: %v", err)
	}
	if len(unfinished) != 1 || unfinished[0].ID != "run-1" || !unfinished[0].DryRun {
		t.Fatalf("unfinished = %+v", unfinished)
	}

	if err := store.Finish(ctx, "run-1", journal.Summary{Warnings: 2, Changes: 5}, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	run, err := store.Get(ctx, "run-1")
	if err != nil || run == nil {
		t.Fatalf("Get: %v %v", run, err)
	}
	if run.Status != journal.StatusCompleted || run.Warnings != 2 || run.Changes != 5 || run.FinishedAt.IsZero() {
		t.Fatalf("run = %+v", run)
	}
	if left, _ := store.Unfinished(ctx, root); len(left) != 0 {
		t.Fatalf("expected no unfinished runs, got %+v", left)
	}

	steps, err := store.Steps(ctx, "run-1")
	if err != nil || len(steps) != 1 || steps[0].Status != journal.StatusCompleted || steps[0].Subject != "01" {
		t.Fatalf("steps = %+v %v", steps, err)
	}
}

func TestFailedRunAndListing(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.Begin(ctx, journal.Run{ID: id, Operation: "merge", DatasetRoot: "/data", StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("Begin %s: %v", id, err)
		}
	}
	if err := store.Finish(ctx, "b", journal.Summary{}, errors.New("conflict")); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	runs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[1].Status != journal.StatusFailed || runs[1].ErrorMessage != "conflict" {
		t.Fatalf("failed run = %+v", runs[1])
	}
	if missing, err := store.Get(ctx, "zzz"); err != nil || missing != nil {
		t.Fatalf("missing run: %v %v", missing, err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := journal.Open(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Begin(context.Background(), journal.Run{ID: "r", Operation: "shift", DatasetRoot: "/d"}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	again, err := journal.Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	if run, _ := again.Get(context.Background(), "r"); run == nil {
		t.Fatal("history lost on reopen")
	}
}

func TestDisabledJournal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJournalDisabled())
	store, err := journal.Open(cfg)
	if err != nil || store != nil {
		t.Fatalf("disabled journal should open as nil: %v %v", store, err)
	}
	if err := store.Begin(context.Background(), journal.Run{ID: "x", Operation: "y"}); err != nil {
		t.Fatalf("nil store should be inert: %v", err)
	}
}
