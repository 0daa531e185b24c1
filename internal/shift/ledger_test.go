package shift

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

func openLedger(t *testing.T, root string, dryRun bool) *Ledger {
	t.Helper()
	writer := sidecar.NewWriter(root, report.New(nil, dryRun, false))
	l, err := Open(filepath.Join(root, "sourcedata", "date_shifts.tsv"), writer)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestLedgerSaveAndReload(t *testing.T) {
	root := t.TempDir()
	l := openLedger(t, root, false)
	acquired := time.Date(2020, 1, 31, 10, 15, 0, 0, time.UTC)
	l.Put(Entry{Subject: "02", Days: -7000, Set: true, Reference: "ses-01/meg/b.ds", Real: acquired, Shifted: acquired.AddDate(0, 0, -7000)})
	l.Put(Entry{Subject: "01", Days: -7335, Set: true, Reference: "ses-01/meg/a.ds", Real: acquired, Shifted: acquired.AddDate(0, 0, -7335)})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	want := "participant_id\tshift_days\treference_scan\treal_acq_time\tshifted_acq_time\n" +
		"sub-01\t-7335\tses-01/meg/a.ds\t2020-01-31T10:15:00\t2000-01-01T10:15:00\n" +
		"sub-02\t-7000\tses-01/meg/b.ds\t2020-01-31T10:15:00\t2000-12-01T10:15:00\n"
	if string(data) != want {
		t.Fatalf("ledger =\n%s\nwant\n%s", data, want)
	}
	if _, err := os.Stat(filepath.Join(root, "sourcedata", "date_shifts.json")); err != nil {
		t.Fatalf("description not written: %v", err)
	}

	entries, err := Read(l.Path())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 2 || entries[0].Subject != "01" || entries[0].Days != -7335 || !entries[0].Set || !entries[0].Real.Equal(acquired) {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestLedgerUnchangedIsNotSaved(t *testing.T) {
	root := t.TempDir()
	l := openLedger(t, root, false)
	l.Put(Entry{Subject: "01", Days: -10, Set: true})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	info, err := os.Stat(l.Path())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	again := openLedger(t, root, false)
	entry, ok := again.Get("01")
	if !ok {
		t.Fatal("entry lost")
	}
	again.Put(entry)
	if again.Dirty() {
		t.Fatal("identical entry marked the ledger dirty")
	}
	if err := again.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	after, _ := os.Stat(l.Path())
	if !after.ModTime().Equal(info.ModTime()) {
		t.Fatal("unchanged ledger rewritten")
	}
}

func TestLedgerZeroShiftIsUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "date_shifts.tsv")
	if err := os.WriteFile(path, []byte("participant_id\tshift_days\nsub-01\t0\nsub-02\tn/a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, e := range entries {
		if e.Set {
			t.Fatalf("%s should be unset: %+v", e.Subject, e)
		}
	}
}

func TestLedgerLockedByAnotherHolder(t *testing.T) {
	root := t.TempDir()
	first := openLedger(t, root, false)
	defer first.Close()

	writer := sidecar.NewWriter(root, report.New(nil, false, false))
	_, err := Open(first.Path(), writer)
	if !errors.Is(err, ops.ErrConflict) || !errors.Is(err, ErrLocked) {
		t.Fatalf("expected lock conflict, got %v", err)
	}
}

func TestLedgerDryRunWritesNothing(t *testing.T) {
	root := t.TempDir()
	log := report.New(nil, true, false)
	l, err := Open(filepath.Join(root, "sourcedata", "date_shifts.tsv"), sidecar.NewWriter(root, log))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Put(Entry{Subject: "01", Days: -5, Set: true})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "sourcedata")); !os.IsNotExist(err) {
		t.Fatalf("dry run created files: %v", err)
	}
	changes := log.Changes()
	if len(changes) != 2 || !strings.HasSuffix(changes[0].Path, "date_shifts.tsv") {
		t.Fatalf("changes = %+v", changes)
	}
}
