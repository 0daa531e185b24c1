package merge_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/merge"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/shift"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
	"github.com/Moo-Marc/CtfMegBids/internal/testsupport"
)

func setup(t *testing.T) (*config.Config, *testsupport.Dataset, *testsupport.Dataset) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithJournalDisabled())
	layout := bids.LayoutFromConfig(cfg)
	return cfg, testsupport.NewDataset(t, layout), testsupport.NewDataset(t, layout)
}

func run(t *testing.T, cfg *config.Config, src, dst *testsupport.Dataset, opts merge.Options, dryRun bool) (*merge.Result, *report.Log, error) {
	t.Helper()
	log := report.New(nil, dryRun, true)
	res, err := merge.New(cfg, rawsource.NewDSAdapter(), nil).Merge(context.Background(), src.Root, dst.Root, opts, log)
	return res, log, err
}

func find(t *testing.T, res *merge.Result, side merge.Side, original string) merge.Assignment {
	t.Helper()
	for _, a := range res.Assignments {
		if a.Side == side && a.Original == original {
			return a
		}
	}
	t.Fatalf("no assignment for %s %s in %+v", side, original, res.Assignments)
	return merge.Assignment{}
}

func TestSameDayMergeKeepsDestinationLabel(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-01T10:00:00")
	src.Recording("sub-01_ses-01_task-rest_meg.ds", "2021-03-01T09:00:00")
	src.Write("sourcedata/sub-02/ses-01/notes.txt", "pilot\n")

	res, _, err := run(t, cfg, src, dst, merge.Options{}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := dst.Sessions("01"); !reflect.DeepEqual(got, []string{"01"}) {
		t.Fatalf("sessions = %v", got)
	}
	want := []string{
		"meg/sub-01_ses-01_task-rest_meg.ds=2021-03-01T09:00:00",
		"meg/sub-01_ses-01_task-motor_meg.ds=2021-03-01T10:00:00",
	}
	if got := dst.Scans("01", "01"); !reflect.DeepEqual(got, want) {
		t.Fatalf("scans = %v", got)
	}
	if !dst.Has("sub-01/ses-01/meg/sub-01_ses-01_task-rest_meg.ds") {
		t.Fatalf("source recording not moved")
	}
	if !dst.Has("sourcedata/sub-02/ses-01/notes.txt") {
		t.Fatalf("sub-dataset subject not moved")
	}
	if src.Has("sub-01") {
		t.Fatalf("source subject left behind")
	}
	a := find(t, res, merge.SideSource, "01")
	if a.Final != "01" || a.Action() != merge.ActionMerge {
		t.Fatalf("source assignment = %+v", a)
	}
}

func TestTemporaryLabelWhenBothSidesUseLabel(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-01T10:00:00")
	dst.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-05T10:00:00")
	src.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-02T10:00:00")
	src.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-03T10:00:00")

	res, _, err := run(t, cfg, src, dst, merge.Options{}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := dst.Sessions("01"); !reflect.DeepEqual(got, []string{"01", "02", "03", "04"}) {
		t.Fatalf("sessions = %v", got)
	}
	checks := []struct {
		side     merge.Side
		original string
		final    string
		day      string
	}{
		{merge.SideDestination, "01", "01", "2021-03-01"},
		{merge.SideSource, "01", "02", "2021-03-02"},
		{merge.SideSource, "02", "03", "2021-03-03"},
		{merge.SideDestination, "02", "04", "2021-03-05"},
	}
	for _, c := range checks {
		if got := dst.Scans("01", c.final); len(got) != 1 || got[0] != "meg/sub-01_ses-"+c.final+"_task-motor_meg.ds="+c.day+"T10:00:00" {
			t.Errorf("ses-%s scans = %v", c.final, got)
		}
		if a := find(t, res, c.side, c.original); a.Final != c.final {
			t.Errorf("%s %s final = %s, want %s", c.side, c.original, a.Final, c.final)
		}
	}

	trail, err := audit.Load(res.TrailPath)
	if err != nil {
		t.Fatalf("load audit: %v", err)
	}
	var moved *audit.Entry
	for _, e := range trail.Entries() {
		if e.Status != audit.StatusDone {
			t.Errorf("entry %+v not done", e)
		}
		if e.Side == string(merge.SideSource) && e.Original == "02" {
			e := e
			moved = &e
		}
	}
	if moved == nil || moved.Temporary != "02tmp1" || moved.Final != "03" || moved.Date != "2021-03-03" {
		t.Fatalf("audit entry for source 02 = %+v", moved)
	}
}

func TestDryRunLeavesTreesUntouched(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-01T10:00:00")
	dst.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-05T10:00:00")
	src.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-02T10:00:00")
	src.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-03T10:00:00")
	beforeDst, beforeSrc := dst.Snapshot(), src.Snapshot()

	res, log, err := run(t, cfg, src, dst, merge.Options{}, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if diff := testsupport.DiffSnapshots(beforeDst, dst.Snapshot()); len(diff) != 0 {
		t.Fatalf("destination changed: %v", diff)
	}
	if diff := testsupport.DiffSnapshots(beforeSrc, src.Snapshot()); len(diff) != 0 {
		t.Fatalf("source changed: %v", diff)
	}
	if res.TrailPath != "" {
		t.Fatalf("dry run saved audit %s", res.TrailPath)
	}
	if a := find(t, res, merge.SideSource, "02"); a.Temporary != "02tmp1" || a.Final != "03" {
		t.Fatalf("planned source 02 = %+v", a)
	}
	renames, moves := 0, 0
	for _, c := range log.Changes() {
		if c.Applied {
			t.Fatalf("dry run applied %+v", c)
		}
		switch c.Action {
		case report.ActionRename:
			renames++
		case report.ActionMove:
			moves++
		}
	}
	// dest 02->04, source 02->02tmp1, 01->02, 02tmp1->03; each renames the
	// recording, the scan index and the session folder. Two recordings and
	// two scan indexes move.
	if renames != 12 || moves != 4 {
		t.Fatalf("renames=%d moves=%d: %+v", renames, moves, log.Changes())
	}
}

func TestSameSideSameDayConflicts(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-01T10:00:00")
	src.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-02T09:00:00")
	src.Recording("sub-01_ses-02_task-rest_meg.ds", "2021-03-02T15:00:00")
	beforeDst, beforeSrc := dst.Snapshot(), src.Snapshot()

	_, log, err := run(t, cfg, src, dst, merge.Options{}, false)
	if !errors.Is(err, ops.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(log.Changes()) != 0 {
		t.Fatalf("changes recorded: %+v", log.Changes())
	}
	if diff := testsupport.DiffSnapshots(beforeDst, dst.Snapshot()); len(diff) != 0 {
		t.Fatalf("destination changed: %v", diff)
	}
	if diff := testsupport.DiffSnapshots(beforeSrc, src.Snapshot()); len(diff) != 0 {
		t.Fatalf("source changed: %v", diff)
	}
}

func TestNoiseLabelOnDifferentDaysConflicts(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-emptyroom_ses-01_task-noise_meg.ds", "2021-03-01T08:00:00")
	src.Recording("sub-emptyroom_ses-01_task-noise_meg.ds", "2021-03-09T08:00:00")

	if _, _, err := run(t, cfg, src, dst, merge.Options{}, false); !errors.Is(err, ops.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestNoiseSessionsKeepTheirLabels(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-emptyroom_ses-20210301_task-noise_meg.ds", "2021-03-01T08:00:00")
	src.Recording("sub-emptyroom_ses-20210309_task-noise_meg.ds", "2021-03-09T08:00:00")

	res, _, err := run(t, cfg, src, dst, merge.Options{}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := dst.Sessions("emptyroom"); !reflect.DeepEqual(got, []string{"20210301", "20210309"}) {
		t.Fatalf("noise sessions = %v", got)
	}
	if a := find(t, res, merge.SideSource, "20210309"); a.Action() != merge.ActionNoise {
		t.Fatalf("action = %s", a.Action())
	}
}

func TestKeepLabelsRenamesOnlyTakenSourceLabels(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-05T10:00:00")
	src.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-01T10:00:00")
	src.Recording("sub-01_ses-07_task-motor_meg.ds", "2021-03-02T10:00:00")

	res, _, err := run(t, cfg, src, dst, merge.Options{KeepLabels: true}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := dst.Sessions("01"); !reflect.DeepEqual(got, []string{"01", "02", "07"}) {
		t.Fatalf("sessions = %v", got)
	}
	if a := find(t, res, merge.SideDestination, "02"); a.Action() != merge.ActionKeep {
		t.Fatalf("destination 02 = %+v", a)
	}
	if a := find(t, res, merge.SideSource, "02"); a.Final != "01" || a.Action() != merge.ActionRenumber {
		t.Fatalf("source 02 = %+v", a)
	}
}

func TestParticipantsUnion(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-01T10:00:00")
	dst.Write("participants.tsv", "participant_id\nsub-01\n")
	src.Recording("sub-02_ses-01_task-motor_meg.ds", "2021-04-01T10:00:00")
	src.Write("participants.tsv", "participant_id\tage\nsub-02\t25\n")

	if _, _, err := run(t, cfg, src, dst, merge.Options{}, false); err != nil {
		t.Fatalf("merge: %v", err)
	}
	table, ok, err := sidecar.LoadTable(dst.Root + "/participants.tsv")
	if err != nil || !ok {
		t.Fatalf("participants: ok=%v err=%v", ok, err)
	}
	i := table.Lookup("participant_id", "sub-02")
	if i < 0 || table.Cell(i, "age") != "25" {
		t.Fatalf("participants = %+v", table.Rows)
	}
	if table.Lookup("participant_id", "sub-01") < 0 {
		t.Fatalf("destination participant lost")
	}
}

func TestNestedRootsRejected(t *testing.T) {
	cfg, dst, _ := setup(t)
	nested := testsupport.At(t, dst.Root+"/sourcedata", dst.Layout)
	if _, _, err := run(t, cfg, nested, dst, merge.Options{}, false); !errors.Is(err, ops.ErrUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func shiftTree(t *testing.T, cfg *config.Config, fx *testsupport.Dataset) {
	t.Helper()
	if _, err := shift.New(cfg, rawsource.NewDSAdapter(), nil).Run(context.Background(), fx.Root, shift.Options{}, report.New(nil, false, false)); err != nil {
		t.Fatalf("shift %s: %v", fx.Root, err)
	}
}

func TestShiftLedgerFollowsMergedSubjects(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-02_ses-01_task-motor_meg.ds", "1999-12-01T10:00:00")
	src.Recording("sub-02_ses-01_task-rest_meg.ds", "2020-01-31T10:15:00")
	shiftTree(t, cfg, src)

	res, _, err := run(t, cfg, src, dst, merge.Options{}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if a := find(t, res, merge.SideSource, "01"); a.Final != "02" {
		t.Fatalf("source 01 = %+v", a)
	}
	entries, err := shift.Read(cfg.LedgerPath(dst.Root))
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("destination ledger = %+v", entries)
	}
	e := entries[0]
	if e.Subject != "02" || !e.Set || e.Days != -7335 {
		t.Fatalf("merged entry = %+v", e)
	}
	if e.Reference != "ses-02/meg/sub-02_ses-02_task-rest_meg.ds" {
		t.Fatalf("reference = %s", e.Reference)
	}
	if got := dst.Scans("02", "02"); len(got) != 1 || got[0] != "meg/sub-02_ses-02_task-rest_meg.ds=2000-01-01T10:15:00" {
		t.Fatalf("ses-02 scans = %v", got)
	}
	if !dst.Has("sourcedata/sub-02/ses-02/sub-02_ses-02_scans.tsv") {
		t.Fatal("real-time backup not moved with its session")
	}
}

func TestDifferentShiftsConflict(t *testing.T) {
	cfg, dst, src := setup(t)
	dst.Recording("sub-01_ses-01_task-motor_meg.ds", "2020-01-31T10:00:00")
	src.Recording("sub-01_ses-01_task-rest_meg.ds", "2020-02-10T10:00:00")
	shiftTree(t, cfg, dst)
	shiftTree(t, cfg, src)
	beforeDst, beforeSrc := dst.Snapshot(), src.Snapshot()

	_, log, err := run(t, cfg, src, dst, merge.Options{}, false)
	if !errors.Is(err, ops.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(log.Changes()) != 0 {
		t.Fatalf("changes recorded: %+v", log.Changes())
	}
	if diff := testsupport.DiffSnapshots(beforeDst, dst.Snapshot()); len(diff) != 0 {
		t.Fatalf("destination changed: %v", diff)
	}
	if diff := testsupport.DiffSnapshots(beforeSrc, src.Snapshot()); len(diff) != 0 {
		t.Fatalf("source changed: %v", diff)
	}
}

func TestDryRunReportsRealFileStream(t *testing.T) {
	build := func() (*config.Config, *testsupport.Dataset, *testsupport.Dataset) {
		cfg, dst, src := setup(t)
		dst.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-01T10:00:00")
		dst.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-05T10:00:00")
		src.Recording("sub-01_ses-01_task-motor_meg.ds", "2021-03-02T10:00:00")
		src.Recording("sub-01_ses-02_task-motor_meg.ds", "2021-03-03T10:00:00")
		src.Write("sub-01/sub-01_notes.txt", "pilot\n")
		return cfg, dst, src
	}
	stream := func(log *report.Log) []string {
		var out []string
		for _, c := range log.Changes() {
			if c.Action != report.ActionRename && c.Action != report.ActionMove {
				continue
			}
			trim := func(p string) string {
				for _, side := range []merge.Side{merge.SideDestination, merge.SideSource} {
					p = strings.TrimPrefix(p, string(side)+":")
				}
				return p
			}
			out = append(out, string(c.Action)+" "+trim(c.Path)+" -> "+trim(c.Target))
		}
		return out
	}

	cfg, dst, src := build()
	_, dryLog, err := run(t, cfg, src, dst, merge.Options{}, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	cfg, dst, src = build()
	_, realLog, err := run(t, cfg, src, dst, merge.Options{}, false)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	dry, real := stream(dryLog), stream(realLog)
	if !reflect.DeepEqual(dry, real) {
		t.Fatalf("dry run stream differs:\ndry:  %v\nreal: %v", dry, real)
	}
	want := "move sub-01/ses-03/meg/sub-01_ses-03_task-motor_meg.ds -> sub-01/ses-03/meg/sub-01_ses-03_task-motor_meg.ds"
	found := false
	for _, line := range dry {
		found = found || line == want
	}
	if !found {
		t.Fatalf("missing %q in %v", want, dry)
	}
}
