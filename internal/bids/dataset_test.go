package bids_test

import (
	"testing"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/testsupport"
)

func TestLoadEnumeratesTree(t *testing.T) {
	layout := bids.DefaultLayout()
	ds := testsupport.NewDataset(t, layout)
	ds.Recording("sub-01_ses-01_task-rest_meg.ds", "2021-03-01T10:00:00")
	ds.Recording("sub-01_ses-01_task-noise_meg.ds", "2021-03-01T09:00:00")
	ds.Recording("sub-01_ses-02_task-motor_meg.ds", "")
	ds.Recording("sub-emptyroom_ses-20210301_task-noise_meg.ds", "2021-03-01T08:00:00")
	ds.Write("sub-01/ses-01/meg/weird.ds/x", "x")
	ds.Write("sub-01/ses-01/meg/sub-01_ses-01_task-rest_meg.json", "{}\n")

	tree, err := bids.Load(ds.Root, layout)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(tree.Subjects) != 2 || tree.Subjects[0].Label != "01" || tree.Subjects[1].Label != "emptyroom" {
		t.Fatalf("subjects = %+v", tree.Subjects)
	}
	ses := tree.Subject("01").Session("01")
	if ses == nil || len(ses.Recordings) != 2 {
		t.Fatalf("session 01 = %+v", ses)
	}
	if len(ses.Unparsed) != 1 || ses.Unparsed[0] != "weird.ds" {
		t.Fatalf("unparsed = %v", ses.Unparsed)
	}

	recs := tree.Recordings()
	if len(recs) != 4 {
		t.Fatalf("recordings = %d", len(recs))
	}
	if !recs[0].Noise || !recs[1].Noise || recs[2].Noise {
		t.Fatalf("noise recordings not first: %v %v %v", recs[0].Rel, recs[1].Rel, recs[2].Rel)
	}
	rest := tree.FindRecording("sub-01/ses-01/meg/sub-01_ses-01_task-rest_meg.ds")
	if rest == nil {
		t.Fatal("FindRecording failed")
	}
	if ts, ok := rest.Acquired(); !ok || ts.Hour() != 10 {
		t.Fatalf("acquired = %v %v", ts, ok)
	}
	motor := tree.FindRecording("sub-01/ses-02/meg/sub-01_ses-02_task-motor_meg.ds")
	if _, ok := motor.Acquired(); ok {
		t.Fatal("n/a time reported as known")
	}
	day, ok := ses.Day()
	if !ok || day.Day() != 1 || day.Hour() != 0 {
		t.Fatalf("day = %v %v", day, ok)
	}
	if !tree.Subject("emptyroom").Sessions[0].IsNoise(layout) {
		t.Fatal("empty-room session not detected")
	}
	if ses.IsNoise(layout) {
		t.Fatal("mixed session flagged as noise")
	}
}
