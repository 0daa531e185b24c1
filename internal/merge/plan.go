package merge

import (
	"fmt"
	"sort"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Side tells which tree a session comes from.
type Side string

const (
	SideDestination Side = "destination"
	SideSource      Side = "source"
)

// Actions recorded in the audit table.
const (
	ActionKeep     = "keep"
	ActionRenumber = "renumber"
	ActionMerge    = "merge"
	ActionNoise    = "noise"
)

const dayLayout = "2006-01-02"

// Assignment is one session of the combined table and the label it ends up
// with.
type Assignment struct {
	Subject   string
	Side      Side
	Original  string
	Temporary string
	Final     string
	Day       time.Time
	Known     bool
	Noise     bool
	// Merged is set when the session shares its day with a session of the
	// other side and both end up in one folder.
	Merged bool
	// Status is the audit status of the session when the merge returned;
	// always planned in dry runs.
	Status string

	current string
	entry   int
}

// Action classifies the assignment for the audit table.
func (a *Assignment) Action() string {
	switch {
	case a.Noise:
		return ActionNoise
	case a.Merged:
		return ActionMerge
	case a.Original == a.Final:
		return ActionKeep
	}
	return ActionRenumber
}

// DayString renders the representative day, n/a when unknown.
func (a *Assignment) DayString() string {
	if !a.Known {
		return sidecar.NotAvailable
	}
	return a.Day.Format(dayLayout)
}

// Plan is the combined session table of both trees in processing order.
type Plan struct {
	Assignments []*Assignment
}

// Subjects lists subject labels in order.
func (p *Plan) Subjects() []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range p.Assignments {
		if !seen[a.Subject] {
			seen[a.Subject] = true
			out = append(out, a.Subject)
		}
	}
	return out
}

// rows returns the non-noise assignments of one subject on one side, in
// chronological order.
func (p *Plan) rows(subject string, side Side) []*Assignment {
	var out []*Assignment
	for _, a := range p.Assignments {
		if a.Subject == subject && a.Side == side && !a.Noise {
			out = append(out, a)
		}
	}
	return out
}

func collect(ds *bids.Dataset, side Side) []*Assignment {
	var out []*Assignment
	for _, subj := range ds.Subjects {
		for _, ses := range subj.Sessions {
			a := &Assignment{
				Subject:  subj.Label,
				Side:     side,
				Original: ses.Label,
				Noise:    ses.IsNoise(ds.Layout),
				current:  ses.Label,
				entry:    -1,
			}
			a.Day, a.Known = ses.Day()
			out = append(out, a)
		}
	}
	return out
}

type group struct {
	members []*Assignment
	day     time.Time
	known   bool
}

func (g *group) member(side Side) *Assignment {
	for _, m := range g.members {
		if m.Side == side {
			return m
		}
	}
	return nil
}

// buildPlan assigns final labels to every session of both trees. With
// keepLabels, destination labels are kept and source labels only change when
// taken; otherwise sessions are numbered chronologically per subject.
func buildPlan(dest, src *bids.Dataset, keepLabels bool) (*Plan, error) {
	all := append(collect(dest, SideDestination), collect(src, SideSource)...)
	bySubject := map[string][]*Assignment{}
	var subjects []string
	for _, a := range all {
		if _, ok := bySubject[a.Subject]; !ok {
			subjects = append(subjects, a.Subject)
		}
		bySubject[a.Subject] = append(bySubject[a.Subject], a)
	}
	sort.Strings(subjects)

	plan := &Plan{}
	for _, subject := range subjects {
		rows, err := planSubject(subject, bySubject[subject], keepLabels)
		if err != nil {
			return nil, err
		}
		plan.Assignments = append(plan.Assignments, rows...)
	}
	return plan, nil
}

func planSubject(subject string, rows []*Assignment, keepLabels bool) ([]*Assignment, error) {
	var noise, regular []*Assignment
	for _, a := range rows {
		if a.Noise {
			noise = append(noise, a)
		} else {
			regular = append(regular, a)
		}
	}
	if err := checkNoise(subject, noise); err != nil {
		return nil, err
	}
	used := map[string]bool{}
	for _, a := range noise {
		a.Final = a.Original
		used[a.Original] = true
	}

	sort.SliceStable(regular, func(i, j int) bool {
		a, b := regular[i], regular[j]
		if a.Known != b.Known {
			return a.Known
		}
		if a.Known && !a.Day.Equal(b.Day) {
			return a.Day.Before(b.Day)
		}
		if a.Side != b.Side {
			return a.Side == SideDestination
		}
		return a.Original < b.Original
	})

	var groups []*group
	for _, a := range regular {
		if n := len(groups); n > 0 && a.Known && groups[n-1].known && groups[n-1].day.Equal(a.Day) {
			last := groups[n-1]
			if other := last.member(a.Side); other != nil {
				return nil, ops.Wrap(ops.ErrConflict, "merge", "plan",
					fmt.Sprintf("sessions %s and %s of %s%s on the %s side share the day %s; merge them by hand first",
						bids.PrefixSession+other.Original, bids.PrefixSession+a.Original, bids.PrefixSubject, subject, a.Side, a.DayString()), nil)
			}
			last.members = append(last.members, a)
			for _, m := range last.members {
				m.Merged = true
			}
			continue
		}
		groups = append(groups, &group{members: []*Assignment{a}, day: a.Day, known: a.Known})
	}

	if keepLabels {
		if err := assignKept(subject, groups, used); err != nil {
			return nil, err
		}
	} else {
		assignChronological(groups, used)
	}
	return append(regular, noise...), nil
}

// checkNoise refuses to merge empty-room sessions that share a label but
// not a day.
func checkNoise(subject string, noise []*Assignment) error {
	for i, a := range noise {
		for _, b := range noise[i+1:] {
			if a.Side == b.Side || a.Original != b.Original {
				continue
			}
			if a.Known && b.Known && a.Day.Equal(b.Day) {
				a.Merged, b.Merged = true, true
				continue
			}
			return ops.Wrap(ops.ErrConflict, "merge", "plan",
				fmt.Sprintf("empty-room session %s of %s%s exists on both sides with different days (%s, %s); rename one first",
					bids.PrefixSession+a.Original, bids.PrefixSubject, subject, a.DayString(), b.DayString()), nil)
		}
	}
	return nil
}

func assignChronological(groups []*group, used map[string]bool) {
	n := 0
	for _, g := range groups {
		label := nextFree(&n, used)
		for _, m := range g.members {
			m.Final = label
		}
	}
}

func assignKept(subject string, groups []*group, used map[string]bool) error {
	for _, g := range groups {
		if d := g.member(SideDestination); d != nil {
			if used[d.Original] {
				return ops.Wrap(ops.ErrConflict, "merge", "plan",
					fmt.Sprintf("session label %s of %s%s is also an empty-room session", bids.PrefixSession+d.Original, bids.PrefixSubject, subject), nil)
			}
			used[d.Original] = true
			for _, m := range g.members {
				m.Final = d.Original
			}
		}
	}
	n := 0
	for _, g := range groups {
		if g.member(SideDestination) != nil {
			continue
		}
		s := g.members[0]
		label := s.Original
		if used[label] {
			label = nextFree(&n, used)
		}
		used[label] = true
		s.Final = label
	}
	return nil
}

// nextFree returns the next unused two-digit ordinal after *n.
func nextFree(n *int, used map[string]bool) string {
	for {
		*n++
		label := fmt.Sprintf("%02d", *n)
		if !used[label] {
			used[label] = true
			return label
		}
	}
}
