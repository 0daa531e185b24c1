package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/rename"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/shift"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

const operation = "merge"

// Options controls a merge.
type Options struct {
	// KeepLabels disables chronological renumbering: destination labels are
	// kept and source labels change only when already taken.
	KeepLabels bool
}

// Result describes a merge.
type Result struct {
	RunID string
	// TrailPath is the saved audit table, empty in dry runs.
	TrailPath   string
	Assignments []Assignment
}

// Engine merges a source dataset tree into a destination tree.
type Engine struct {
	cfg     *config.Config
	layout  bids.Layout
	adapter rawsource.Adapter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a merge engine.
func New(cfg *config.Config, adapter rawsource.Adapter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		layout:  bids.LayoutFromConfig(cfg),
		adapter: adapter,
		logger:  logging.NewComponentLogger(logger, "merge"),
		now:     time.Now,
	}
}

// Merge moves every subject of source into dest, relabelling sessions so
// that each subject ends up with one session per day. The audit table is
// saved under dest before the first destructive step and again at the end.
func (e *Engine) Merge(ctx context.Context, source, dest string, opts Options, log *report.Log) (*Result, error) {
	if log == nil {
		log = report.New(e.logger, false, false)
	}
	if err := checkRoots(source, dest); err != nil {
		return nil, err
	}
	runID, ok := ops.RunIDFromContext(ctx)
	if !ok {
		runID = uuid.NewString()
		ctx = ops.WithRunID(ctx, runID)
	}
	ctx = ops.WithOperation(ctx, operation)
	logger := logging.WithContext(ctx, e.logger)

	dstDS, err := bids.Load(dest, e.layout)
	if err != nil {
		return nil, ops.Wrap(ops.ErrIO, operation, "enumerate destination", dest, err)
	}
	srcDS, err := bids.Load(source, e.layout)
	if err != nil {
		return nil, ops.Wrap(ops.ErrIO, operation, "enumerate source", source, err)
	}
	plan, err := buildPlan(dstDS, srcDS, opts.KeepLabels)
	if err != nil {
		return nil, err
	}
	shifts, err := e.ledgerAdditions(source, dest)
	if err != nil {
		return nil, err
	}

	trail := audit.New(e.cfg.AuditDir(dest), operation, runID, e.now())
	for _, a := range plan.Assignments {
		a.entry = trail.Add(audit.Entry{
			Subject:  a.Subject,
			Side:     string(a.Side),
			Original: a.Original,
			Final:    a.Final,
			Date:     a.DayString(),
			Action:   a.Action(),
			Status:   audit.StatusPlanned,
		})
	}
	logger.Info("merge planned",
		logging.String("source", source),
		logging.String("destination", dest),
		logging.Int("sessions", len(plan.Assignments)),
		logging.Bool("keep_labels", opts.KeepLabels),
		logging.Bool("dry_run", log.DryRun),
	)

	res := &Result{RunID: runID}
	defer func() {
		entries := trail.Entries()
		for _, a := range plan.Assignments {
			row := *a
			row.Status = audit.StatusPlanned
			if !log.DryRun && a.entry >= 0 && a.entry < len(entries) {
				row.Status = entries[a.entry].Status
			}
			res.Assignments = append(res.Assignments, row)
		}
	}()

	if log.DryRun {
		sim, err := newSimulator(dstDS, srcDS, e.layout, log)
		if err != nil {
			return res, err
		}
		if err := e.relabel(ctx, plan, trail, sim.side); err != nil {
			return res, err
		}
		if err := e.previewMove(source, sim, log); err != nil {
			return res, err
		}
		return res, e.mergeLedger(dest, sidecar.NewWriter(dest, log), plan, shifts)
	}

	if err := saveTrail(trail); err != nil {
		return res, err
	}
	res.TrailPath = trail.Path
	runErr := e.run(ctx, plan, trail, source, dest, shifts, log)
	if runErr == nil {
		trail.MarkAll(audit.StatusPlanned, audit.StatusDone)
	}
	if err := saveTrail(trail); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		logging.ErrorWithContext(logger, "merge failed", "merge_failed", logging.Error(runErr))
		return res, runErr
	}
	logger.Info("merge finished", logging.String("audit", trail.Path))
	return res, nil
}

func (e *Engine) run(ctx context.Context, plan *Plan, trail *audit.Trail, source, dest string, shifts []shift.Entry, log *report.Log) error {
	renamers := map[Side]*rename.Engine{
		SideDestination: rename.New(dest, e.layout, e.adapter, log),
		SideSource:      rename.New(source, e.layout, e.adapter, log),
	}
	real := func(side Side) relabeler { return engineRelabeler{renamers[side]} }
	if err := e.relabel(ctx, plan, trail, real); err != nil {
		return err
	}
	if err := e.moveTrees(source, dest, log); err != nil {
		return err
	}
	return e.mergeLedger(dest, sidecar.NewWriter(dest, log), plan, shifts)
}

// relabeler is the part of the rename engine a merge drives. RenameAvoiding
// renames from to to, first moving any session holding to onto a scratch
// label, which it returns.
type relabeler interface {
	RenameAvoiding(ctx context.Context, subject, from, to string) (string, error)
}

type engineRelabeler struct{ e *rename.Engine }

func (r engineRelabeler) RenameAvoiding(ctx context.Context, subject, from, to string) (string, error) {
	return r.e.RenameSessionAvoiding(ctx, subject, from, to)
}

// relabel renames sessions side by side, subject by subject, in
// chronological order. A label still held by a session not processed yet is
// freed by moving that session to a scratch label first.
func (e *Engine) relabel(ctx context.Context, plan *Plan, trail *audit.Trail, on func(Side) relabeler) error {
	for _, side := range []Side{SideDestination, SideSource} {
		r := on(side)
		for _, subject := range plan.Subjects() {
			sctx := ops.WithSubject(ctx, subject)
			rows := plan.rows(subject, side)
			for _, a := range rows {
				if a.current == a.Final {
					continue
				}
				holder := holding(rows, a)
				aside, err := r.RenameAvoiding(sctx, subject, a.current, a.Final)
				if holder != nil && aside != "" {
					holder.Temporary, holder.current = aside, aside
					trail.Update(holder.entry, func(en *audit.Entry) { en.Temporary = aside })
				}
				if err != nil {
					failed := a
					if holder != nil && aside == "" {
						failed = holder
					}
					trail.Update(failed.entry, func(en *audit.Entry) { en.Status = audit.StatusFailed })
					return err
				}
				a.current = a.Final
				trail.Update(a.entry, func(en *audit.Entry) { en.Status = audit.StatusDone })
			}
		}
	}
	return nil
}

// holding returns the row whose session currently holds a's final label.
func holding(rows []*Assignment, a *Assignment) *Assignment {
	for _, other := range rows {
		if other != a && other.current == a.Final {
			return other
		}
	}
	return nil
}

func saveTrail(trail *audit.Trail) error {
	if err := trail.Save(); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "save audit", trail.Path, err)
	}
	return nil
}

func checkRoots(source, dest string) error {
	src, err := filepath.Abs(source)
	if err != nil {
		return ops.Wrap(ops.ErrUsage, operation, "validate", source, err)
	}
	dst, err := filepath.Abs(dest)
	if err != nil {
		return ops.Wrap(ops.ErrUsage, operation, "validate", dest, err)
	}
	if src == dst || strings.HasPrefix(dst+string(filepath.Separator), src+string(filepath.Separator)) ||
		strings.HasPrefix(src+string(filepath.Separator), dst+string(filepath.Separator)) {
		return ops.Wrap(ops.ErrUsage, operation, "validate", fmt.Sprintf("source %s and destination %s must be separate trees", source, dest), nil)
	}
	return nil
}
