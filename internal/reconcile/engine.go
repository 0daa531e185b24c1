package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/journal"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/noise"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/overrides"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/rename"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

const operation = "rebuild"

// Options controls one rebuild.
type Options struct {
	// Overrides holds curator overrides keyed by recording name. A nil
	// catalog disables override matching entirely.
	Overrides *overrides.Catalog
	// Keep lists existing sidecar fields that survive the rebuild.
	Keep sidecar.KeepSpec
	// AllowRename permits identity changes from overrides and the naming
	// policy. Without it deviations are only reported.
	AllowRename bool
	// IgnoreMismatch downgrades override/recording mismatches to warnings.
	IgnoreMismatch bool
	// OverwriteTimes replaces existing scan-index timestamps with the raw
	// acquisition time.
	OverwriteTimes bool
	// ForceNoiseSearch ignores stored empty-room associations.
	ForceNoiseSearch bool
	// Description is merged over the dataset description after the
	// catalog's dataset overrides.
	Description *sidecar.Document
}

// Summary counts what a rebuild touched.
type Summary struct {
	Recordings int `json:"recordings"`
	Renamed    int `json:"renamed"`
	Sessions   int `json:"sessions"`
}

// Engine regenerates every derived sidecar of a dataset tree.
type Engine struct {
	cfg     *config.Config
	layout  bids.Layout
	policy  Policy
	adapter rawsource.Adapter
	logger  *slog.Logger
	journal *journal.Store
}

// New creates a rebuild engine.
func New(cfg *config.Config, adapter rawsource.Adapter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		layout:  bids.LayoutFromConfig(cfg),
		policy:  PolicyFromConfig(cfg),
		adapter: adapter,
		logger:  logging.NewComponentLogger(logger, "reconcile"),
	}
}

// WithJournal records one step per processed recording in the run journal.
func (e *Engine) WithJournal(j *journal.Store) *Engine {
	e.journal = j
	return e
}

// Policy returns the naming policy in effect.
func (e *Engine) Policy() Policy { return e.policy }

// pass is the state of one Run.
type pass struct {
	e       *Engine
	ctx     context.Context
	logger  *slog.Logger
	opts    Options
	log     *report.Log
	root    string
	ds      *bids.Dataset
	renamer *rename.Engine
	writer  *sidecar.Writer
	assoc   *noise.Associator
	runID   string

	overrides map[string]overrides.Override
	// moved remembers where a renamed recording's files were before the
	// rename; dry runs keep reading from there.
	moved map[*bids.Recording]origin
	// renamedRel maps old dataset-relative recording paths to new ones.
	renamedRel map[string]string
	// claimed holds recording paths taken by renames of this run.
	claimed map[string]bool
	summary Summary
}

type origin struct {
	dir  string
	name bids.Name
}

// Run rebuilds the dataset at root. Warnings and planned changes go to log;
// in dry-run mode (log.DryRun) nothing is written.
func (e *Engine) Run(ctx context.Context, root string, opts Options, log *report.Log) (*Summary, error) {
	if log == nil {
		log = report.New(e.logger, false, false)
	}
	ctx = ops.WithOperation(ctx, operation)
	logger := logging.WithContext(ctx, e.logger)

	if err := opts.Overrides.Validate(); err != nil {
		return nil, err
	}
	ds, err := bids.Load(root, e.layout)
	if err != nil {
		return nil, ops.Wrap(ops.ErrIO, operation, "enumerate", root, err)
	}

	p := &pass{
		e:          e,
		ctx:        ctx,
		logger:     logger,
		opts:       opts,
		log:        log,
		root:       root,
		ds:         ds,
		renamer:    rename.New(root, e.layout, e.adapter, log),
		assoc:      noise.New(ds, e.cfg.NoiseMaxGap(), logger),
		overrides:  map[string]overrides.Override{},
		moved:      map[*bids.Recording]origin{},
		renamedRel: map[string]string{},
		claimed:    map[string]bool{},
	}
	p.writer = p.renamer.Writer()
	if id, ok := ops.RunIDFromContext(ctx); ok {
		p.runID = id
	}

	recordings := ds.Recordings()
	if err := p.matchOverrides(recordings); err != nil {
		return nil, err
	}
	p.reportUnparsed()

	logger.Info("rebuilding dataset",
		logging.Path(root),
		logging.Int("recordings", len(recordings)),
		logging.Bool("allow_rename", opts.AllowRename),
		logging.Bool("dry_run", log.DryRun),
	)
	for _, rec := range recordings {
		if err := p.recording(rec); err != nil {
			return &p.summary, err
		}
	}
	if err := p.sessions(); err != nil {
		return &p.summary, err
	}
	if err := p.dataset(); err != nil {
		return &p.summary, err
	}
	logger.Info("rebuild finished",
		logging.Int("recordings", p.summary.Recordings),
		logging.Int("renamed", p.summary.Renamed),
		logging.Int("sessions", p.summary.Sessions),
		logging.Int("changes", len(log.Changes())),
		logging.Int("warnings", len(log.Warnings())),
	)
	return &p.summary, nil
}

// matchOverrides indexes the catalog and checks that overrides and
// recordings cover each other exactly.
func (p *pass) matchOverrides(recordings []*bids.Recording) error {
	if p.opts.Overrides == nil {
		return nil
	}
	entries, err := p.opts.Overrides.Entries()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		p.overrides[entry.Name] = entry
	}

	present := make(map[string]bool, len(recordings))
	var uncovered []string
	for _, rec := range recordings {
		stem := rec.Name.Stem()
		present[stem] = true
		if _, ok := p.overrides[stem]; !ok {
			uncovered = append(uncovered, rec.Rel)
		}
	}
	var unmatched []string
	for _, entry := range entries {
		if !present[entry.Name] {
			unmatched = append(unmatched, entry.Name)
		}
	}
	if len(unmatched) == 0 && len(uncovered) == 0 {
		return nil
	}
	sort.Strings(unmatched)
	if !p.opts.IgnoreMismatch {
		var parts []string
		if len(unmatched) > 0 {
			parts = append(parts, fmt.Sprintf("overrides matching no recording: %s", strings.Join(unmatched, ", ")))
		}
		if len(uncovered) > 0 {
			parts = append(parts, fmt.Sprintf("recordings without override: %s", strings.Join(uncovered, ", ")))
		}
		return ops.Wrap(ops.ErrUsage, operation, "match overrides", strings.Join(parts, "; "), nil)
	}
	for _, name := range unmatched {
		p.log.Warn(report.CodeOverrideMismatch, name, "override matches no recording")
	}
	for _, rel := range uncovered {
		p.log.Warn(report.CodeOverrideMismatch, rel, "recording has no override")
	}
	return nil
}

func (p *pass) reportUnparsed() {
	for _, subj := range p.ds.Subjects {
		for _, ses := range subj.Sessions {
			for _, name := range ses.Unparsed {
				rel := p.writer.Rel(p.e.layout.DataDir(p.root, ses.Subject, ses.Label)) + "/" + name
				p.log.Warn(report.CodeBadName, rel, "name does not follow sub-<S>_ses-<T>_task-<K>[_acq-<A>][_run-<R>]_<suffix>; skipped")
			}
		}
	}
}

func (p *pass) step(rec *bids.Recording, status journal.Status) {
	if p.e.journal == nil || p.runID == "" {
		return
	}
	err := p.e.journal.RecordStep(p.ctx, journal.Step{
		RunID:   p.runID,
		Name:    "recording",
		Subject: rec.Name.Subject,
		Session: rec.Name.Session,
		Detail:  rec.Rel,
		Status:  status,
	})
	if err != nil {
		logging.WarnWithContext(p.logger, "journal step not recorded", "journal_write_failed",
			logging.Path(rec.Rel),
			logging.Error(err),
		)
	}
}
