package rename_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/rename"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/testsupport"
)

func buildFixture(t *testing.T) *testsupport.Dataset {
	t.Helper()
	fx := testsupport.NewDataset(t, bids.DefaultLayout())
	fx.Recording("sub-01_ses-01_task-rest_meg.ds", "2021-03-01T10:00:00")
	fx.Recording("sub-01_ses-01_task-motor_run-1_meg.ds", "2021-03-01T10:30:00")
	fx.Recording("sub-01_ses-02_task-rest_meg.ds", "2021-04-01T09:00:00")
	fx.Recording("sub-02_ses-01_task-rest_meg.ds", "2021-03-05T09:00:00")
	fx.Write("sub-01/ses-01/meg/sub-01_ses-01_task-rest_meg.json", "{\n    \"TaskName\": \"rest\"\n}\n")
	fx.Write("sub-01/ses-01/meg/sub-01_ses-01_task-rest_channels.tsv", "name\ttype\nMLC11\tMEGGRADAXIAL\n")
	fx.Write("sub-01/ses-02/meg/sub-01_ses-02_task-rest_meg.json",
		"{\n    \"IntendedFor\": [\n        \"sub-01/ses-01/meg/sub-01_ses-01_task-rest_meg.ds\",\n        \"sub-01/ses-02/meg/sub-01_ses-02_task-rest_meg.ds\"\n    ]\n}\n")
	fx.Write("sub-02/ses-01/meg/sub-02_ses-01_task-rest_meg.json",
		"{\n    \"IntendedFor\": \"sub-02/ses-01/meg/sub-02_ses-01_task-rest_meg.ds\"\n}\n")
	fx.Write("sourcedata/sub-01/ses-01/sub-01_ses-01_scans.tsv", "filename\tacq_time\nmeg/sub-01_ses-01_task-rest_meg.ds\t2021-03-01T10:00:00\n")
	return fx
}

func newEngine(fx *testsupport.Dataset, dryRun bool) (*rename.Engine, *report.Log) {
	log := report.New(nil, dryRun, true)
	return rename.New(fx.Root, fx.Layout, rawsource.NewDSAdapter(), log), log
}

func TestRenameSessionUpdatesEverything(t *testing.T) {
	fx := buildFixture(t)
	e, log := newEngine(fx, false)

	res, err := e.RenameSession(context.Background(), "01", "01", "03", rename.ModeFull)
	if err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if !res.Matched || res.From != "01" || res.To != "03" || len(res.Trees) != 2 {
		t.Fatalf("result = %+v", res)
	}

	if fx.Has("sub-01/ses-01") {
		t.Fatal("old session directory still present")
	}
	rec := filepath.Join(fx.Root, "sub-01/ses-03/meg/sub-01_ses-03_task-rest_meg.ds")
	desc, _, err := rawsource.ReadDescriptor(rec)
	if err != nil {
		t.Fatalf("renamed recording unreadable: %v", err)
	}
	if desc.Name != "sub-01_ses-03_task-rest_meg" {
		t.Fatalf("embedded name = %q", desc.Name)
	}
	for _, rel := range []string{
		"sub-01/ses-03/meg/sub-01_ses-03_task-motor_run-1_meg.ds",
		"sub-01/ses-03/meg/sub-01_ses-03_task-rest_meg.json",
		"sub-01/ses-03/meg/sub-01_ses-03_task-rest_channels.tsv",
		"sourcedata/sub-01/ses-03/sub-01_ses-03_scans.tsv",
		"sub-02/ses-01/meg/sub-02_ses-01_task-rest_meg.ds",
	} {
		if !fx.Has(rel) {
			t.Errorf("missing %s", rel)
		}
	}

	want := []string{
		"meg/sub-01_ses-03_task-rest_meg.ds=2021-03-01T10:00:00",
		"meg/sub-01_ses-03_task-motor_run-1_meg.ds=2021-03-01T10:30:00",
	}
	if got := fx.Scans("01", "03"); !reflect.DeepEqual(got, want) {
		t.Fatalf("scans = %v", got)
	}
	if got := fx.Read("sourcedata/sub-01/ses-03/sub-01_ses-03_scans.tsv"); !strings.Contains(got, "meg/sub-01_ses-03_task-rest_meg.ds") {
		t.Fatalf("mirror scans not rewritten: %q", got)
	}

	refs := fx.Read("sub-01/ses-02/meg/sub-01_ses-02_task-rest_meg.json")
	if !strings.Contains(refs, "sub-01/ses-03/meg/sub-01_ses-03_task-rest_meg.ds") || strings.Contains(refs, "ses-01") {
		t.Fatalf("cross reference not rewritten: %s", refs)
	}
	if other := fx.Read("sub-02/ses-01/meg/sub-02_ses-01_task-rest_meg.json"); !strings.Contains(other, "sub-02/ses-01/") {
		t.Fatalf("another subject's reference was touched: %s", other)
	}
	if len(log.Warnings()) != 0 {
		t.Fatalf("unexpected warnings: %+v", log.Warnings())
	}
}

func TestRenameRoundTripIsByteIdentical(t *testing.T) {
	fx := buildFixture(t)
	before := fx.Snapshot()
	e, _ := newEngine(fx, false)
	ctx := context.Background()

	if _, err := e.RenameSession(ctx, "01", "01", "07", rename.ModeFull); err != nil {
		t.Fatalf("A->B: %v", err)
	}
	if _, err := e.RenameSession(ctx, "01", "07", "01", rename.ModeFull); err != nil {
		t.Fatalf("B->A: %v", err)
	}
	if diff := testsupport.DiffSnapshots(before, fx.Snapshot()); len(diff) != 0 {
		t.Fatalf("round trip changed %v", diff)
	}
}

func TestDryRunMatchesRealRun(t *testing.T) {
	dry := buildFixture(t)
	real := buildFixture(t)
	before := dry.Snapshot()

	de, dlog := newEngine(dry, true)
	if _, err := de.RenameSession(context.Background(), "01", "01", "03", rename.ModeFull); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if diff := testsupport.DiffSnapshots(before, dry.Snapshot()); len(diff) != 0 {
		t.Fatalf("dry run touched %v", diff)
	}

	re, rlog := newEngine(real, false)
	if _, err := re.RenameSession(context.Background(), "01", "01", "03", rename.ModeFull); err != nil {
		t.Fatalf("real run: %v", err)
	}

	dc, rc := dlog.Changes(), rlog.Changes()
	if len(dc) == 0 || len(dc) != len(rc) {
		t.Fatalf("change counts differ: dry %d real %d", len(dc), len(rc))
	}
	for i := range dc {
		if dc[i].Applied || !rc[i].Applied {
			t.Fatalf("applied flags wrong at %d", i)
		}
		dc[i].Applied, rc[i].Applied = false, false
		if dc[i] != rc[i] {
			t.Fatalf("change %d differs:\ndry  %+v\nreal %+v", i, dc[i], rc[i])
		}
	}
	if !reflect.DeepEqual(dlog.Messages(), rlog.Messages()) {
		t.Fatalf("message streams differ")
	}
}

func TestRenameNoMatchIsWarning(t *testing.T) {
	fx := buildFixture(t)
	before := fx.Snapshot()
	e, log := newEngine(fx, false)

	res, err := e.RenameSession(context.Background(), "01", "09", "10", rename.ModeFull)
	if err != nil {
		t.Fatalf("no match should not fail: %v", err)
	}
	if res.Matched || log.Count(report.CodeRenameNoMatch) != 1 {
		t.Fatalf("result %+v warnings %+v", res, log.Warnings())
	}
	if diff := testsupport.DiffSnapshots(before, fx.Snapshot()); len(diff) != 0 {
		t.Fatalf("no-op changed %v", diff)
	}
}

func TestRenameRejections(t *testing.T) {
	fx := buildFixture(t)
	fx.Recording("sub-01_ses-010_task-rest_meg.ds", "2021-05-01T09:00:00")
	e, _ := newEngine(fx, false)
	ctx := context.Background()

	cases := []struct {
		name   string
		old    string
		new    string
		mode   rename.Mode
		marker error
	}{
		{"partial new contains old", "01", "x01", rename.ModePartial, ops.ErrUsage},
		{"bad label", "01", "0-1", rename.ModeFull, ops.ErrUsage},
		{"ambiguous partial", "01", "9", rename.ModePartial, ops.ErrConflict},
		{"target exists", "01", "02", rename.ModeFull, ops.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := fx.Snapshot()
			_, err := e.RenameSession(ctx, "01", tc.old, tc.new, tc.mode)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
			if diff := testsupport.DiffSnapshots(before, fx.Snapshot()); len(diff) != 0 {
				t.Fatalf("rejected rename changed %v", diff)
			}
		})
	}
}

func TestPartialRename(t *testing.T) {
	fx := testsupport.NewDataset(t, bids.DefaultLayout())
	fx.Recording("sub-01_ses-pilot1_task-rest_meg.ds", "2021-03-01T10:00:00")
	e, _ := newEngine(fx, false)

	res, err := e.RenameSession(context.Background(), "01", "pilot", "p", rename.ModePartial)
	if err != nil {
		t.Fatalf("partial: %v", err)
	}
	if res.To != "p1" || !fx.Has("sub-01/ses-p1/meg/sub-01_ses-p1_task-rest_meg.ds") {
		t.Fatalf("result %+v", res)
	}
}

func TestRenameSessionAvoidingMovesHolderAside(t *testing.T) {
	fx := buildFixture(t)
	e, _ := newEngine(fx, false)
	ctx := context.Background()

	aside, err := e.RenameSessionAvoiding(ctx, "01", "01", "02")
	if err != nil {
		t.Fatalf("RenameSessionAvoiding: %v", err)
	}
	if aside != "02tmp1" {
		t.Fatalf("aside = %q", aside)
	}
	if got := fx.Sessions("01"); !reflect.DeepEqual(got, []string{"02", "02tmp1"}) {
		t.Fatalf("sessions = %v", got)
	}
	if !fx.Has("sub-01/ses-02tmp1/meg/sub-01_ses-02tmp1_task-rest_meg.ds") {
		t.Fatal("previous holder not renamed to scratch label")
	}
	if got := fx.Scans("01", "02"); len(got) != 2 || !strings.HasPrefix(got[0], "meg/sub-01_ses-02_task-rest_meg.ds=2021-03-01") {
		t.Fatalf("scans = %v", got)
	}
	if e.ScratchLabel("01", "02") != "02tmp2" {
		t.Fatalf("scratch label should skip used ones")
	}
}

func TestRenameSubjectUpdatesParticipantsAndLedger(t *testing.T) {
	fx := buildFixture(t)
	fx.Write(bids.ParticipantsFile, "participant_id\tage\nsub-01\t30\nsub-02\t40\n")
	fx.Write("sourcedata/date_shifts.tsv", "participant_id\tshift_days\nsub-01\t-7335\n")
	log := report.New(nil, false, false)
	trail := audit.New(filepath.Join(fx.Root, "sourcedata", "audit"), "rename", "run-1234567890", testTime())
	e := rename.New(fx.Root, fx.Layout, rawsource.NewDSAdapter(), log).
		WithTrail(trail).
		WithLedger("sourcedata/date_shifts.tsv")

	if _, err := e.RenameSubject(context.Background(), "01", "05", rename.ModeFull); err != nil {
		t.Fatalf("RenameSubject: %v", err)
	}
	if fx.Has("sub-01") || !fx.Has("sub-05/ses-01/meg/sub-05_ses-01_task-rest_meg.ds") {
		t.Fatal("subject tree not renamed")
	}
	if !fx.Has("sourcedata/sub-05/ses-01/sub-05_ses-01_scans.tsv") {
		t.Fatal("mirror not renamed")
	}
	if got := fx.Read(bids.ParticipantsFile); got != "participant_id\tage\nsub-05\t30\nsub-02\t40\n" {
		t.Fatalf("participants = %q", got)
	}
	if got := fx.Read("sourcedata/date_shifts.tsv"); !strings.Contains(got, "sub-05\t-7335") {
		t.Fatalf("ledger = %q", got)
	}
	refs := fx.Read("sub-05/ses-02/meg/sub-05_ses-02_task-rest_meg.json")
	if strings.Contains(refs, "sub-01") {
		t.Fatalf("references not renamed: %s", refs)
	}

	saved, err := audit.Load(trail.Path)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	entries := saved.Entries()
	if len(entries) != 1 || entries[0].Original != "01" || entries[0].Final != "05" || entries[0].Status != audit.StatusDone {
		t.Fatalf("audit entries = %+v", entries)
	}
}

func TestUndecomposableReferenceWarns(t *testing.T) {
	fx := buildFixture(t)
	fx.Write("sub-01/ses-01/meg/sub-01_ses-01_task-rest_coordsystem.json",
		"{\n    \"DigitizedHeadPoints\": \"sub-01_ses-01_headshape.pos\"\n}\n")
	e, log := newEngine(fx, false)

	if _, err := e.RenameSession(context.Background(), "01", "01", "03", rename.ModeFull); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if log.Count(report.CodeCrossRefAmbiguous) != 1 {
		t.Fatalf("warnings = %+v", log.Warnings())
	}
	doc := fx.Read("sub-01/ses-03/meg/sub-01_ses-03_task-rest_coordsystem.json")
	if !strings.Contains(doc, "sub-01_ses-01_headshape.pos") {
		t.Fatalf("ambiguous reference must be left for a rebuild: %s", doc)
	}
}

func TestRewriteEmbeddedDateOnly(t *testing.T) {
	fx := testsupport.NewDataset(t, bids.DefaultLayout())
	path := fx.Recording("sub-01_ses-01_task-rest_meg.ds", "2021-03-01T10:00:00")
	e, log := newEngine(fx, false)

	day := testTime()
	if err := e.RewriteEmbedded(path, filepath.Base(path), &day); err != nil {
		t.Fatalf("RewriteEmbedded: %v", err)
	}
	desc, _, err := rawsource.ReadDescriptor(path)
	if err != nil {
		t.Fatal(err)
	}
	if desc.Acquired != "2000-01-02T10:00:00" {
		t.Fatalf("acquired = %q", desc.Acquired)
	}
	if changes := log.Changes(); len(changes) != 1 || changes[0].Action != report.ActionWrite {
		t.Fatalf("changes = %+v", changes)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}
