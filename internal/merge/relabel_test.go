package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
)

type failingRelabeler struct {
	aside string
	err   error
}

func (f failingRelabeler) RenameAvoiding(context.Context, string, string, string) (string, error) {
	return f.aside, f.err
}

func swapPlan(trail *audit.Trail) (*Plan, *Assignment, *Assignment) {
	first := &Assignment{Subject: "01", Side: SideSource, Original: "01", Final: "02", current: "01"}
	second := &Assignment{Subject: "01", Side: SideSource, Original: "02", Final: "03", current: "02"}
	for _, a := range []*Assignment{first, second} {
		a.entry = trail.Add(audit.Entry{Subject: a.Subject, Side: string(a.Side), Original: a.Original, Final: a.Final, Status: audit.StatusPlanned})
	}
	return &Plan{Assignments: []*Assignment{first, second}}, first, second
}

func TestRelabelBlamesHolderWhenAsideFails(t *testing.T) {
	trail := audit.New(t.TempDir(), operation, "run", time.Now())
	plan, _, _ := swapPlan(trail)
	boom := errors.New("boom")
	source := func(Side) relabeler { return failingRelabeler{err: boom} }

	if err := (&Engine{}).relabel(context.Background(), plan, trail, source); !errors.Is(err, boom) {
		t.Fatalf("relabel error = %v", err)
	}
	entries := trail.Entries()
	if entries[0].Status != audit.StatusPlanned || entries[1].Status != audit.StatusFailed {
		t.Fatalf("statuses = %s, %s", entries[0].Status, entries[1].Status)
	}
}

func TestRelabelKeepsScratchLabelWhenRenameFails(t *testing.T) {
	trail := audit.New(t.TempDir(), operation, "run", time.Now())
	plan, first, second := swapPlan(trail)
	boom := errors.New("boom")
	source := func(Side) relabeler { return failingRelabeler{aside: "02tmp1", err: boom} }

	if err := (&Engine{}).relabel(context.Background(), plan, trail, source); !errors.Is(err, boom) {
		t.Fatalf("relabel error = %v", err)
	}
	if second.Temporary != "02tmp1" || second.current != "02tmp1" || first.current != "01" {
		t.Fatalf("rows = %+v, %+v", first, second)
	}
	entries := trail.Entries()
	if entries[0].Status != audit.StatusFailed || entries[1].Temporary != "02tmp1" || entries[1].Status != audit.StatusPlanned {
		t.Fatalf("entries = %+v", entries)
	}
}
