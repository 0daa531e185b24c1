package rename

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/audit"
	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Mode selects how the old label is matched.
type Mode int

const (
	// ModeFull matches a label exactly.
	ModeFull Mode = iota
	// ModePartial matches labels containing the old text and replaces that
	// text.
	ModePartial
)

func (m Mode) String() string {
	if m == ModePartial {
		return "partial"
	}
	return "full"
}

// Result describes what a rename did in the main tree.
type Result struct {
	Matched bool   `json:"matched"`
	From    string `json:"from"`
	To      string `json:"to"`
	// Trees lists the roots (main tree first) where the label was renamed.
	Trees []string `json:"trees"`
}

// Engine renames subject and session labels across one dataset tree and
// its configured sub-dataset mirrors. The tree is assumed to be accessed
// exclusively for the duration of a call.
type Engine struct {
	root      string
	layout    bids.Layout
	adapter   rawsource.Adapter
	log       *report.Log
	writer    *sidecar.Writer
	logger    *slog.Logger
	trail     *audit.Trail
	ledgerRel string
}

// New creates an engine bound to the dataset at root.
func New(root string, layout bids.Layout, adapter rawsource.Adapter, log *report.Log) *Engine {
	if log == nil {
		log = report.New(nil, false, false)
	}
	return &Engine{
		root:    root,
		layout:  layout,
		adapter: adapter,
		log:     log,
		writer:  sidecar.NewWriter(root, log),
		logger:  logging.NewComponentLogger(log.Logger(), "rename"),
	}
}

// WithTrail records every top-level rename in an audit trail, saved before
// and after the tree is touched.
func (e *Engine) WithTrail(t *audit.Trail) *Engine {
	e.trail = t
	return e
}

// WithLedger sets the dataset-relative shift ledger path whose subject keys
// follow subject renames.
func (e *Engine) WithLedger(rel string) *Engine {
	e.ledgerRel = rel
	return e
}

// Root returns the dataset root.
func (e *Engine) Root() string { return e.root }

// Writer returns the dry-run aware writer shared with callers.
func (e *Engine) Writer() *sidecar.Writer { return e.writer }

// RenameSession renames one session label of a subject.
func (e *Engine) RenameSession(ctx context.Context, subject, oldLabel, newLabel string, mode Mode) (Result, error) {
	if !bids.IsLabel(subject) {
		return Result{}, ops.Wrap(ops.ErrUsage, "rename session", "validate", fmt.Sprintf("invalid subject label %q", subject), nil)
	}
	req := request{entity: bids.PrefixSession, subject: subject, old: oldLabel, new: newLabel, mode: mode}
	return e.run(ctx, req)
}

// RenameSubject renames a subject label dataset-wide.
func (e *Engine) RenameSubject(ctx context.Context, oldLabel, newLabel string, mode Mode) (Result, error) {
	req := request{entity: bids.PrefixSubject, old: oldLabel, new: newLabel, mode: mode}
	return e.run(ctx, req)
}

// MoveAside renames a session to the first free scratch label
// <label>tmp<N> and returns that label.
func (e *Engine) MoveAside(ctx context.Context, subject, label string) (string, error) {
	scratch := e.ScratchLabel(subject, label)
	if _, err := e.RenameSession(ctx, subject, label, scratch, ModeFull); err != nil {
		return "", err
	}
	return scratch, nil
}

// ScratchLabel returns the first <label>tmp<N> not used by the subject in
// the main tree or any sub-dataset.
func (e *Engine) ScratchLabel(subject, label string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%stmp%d", label, n)
		if !e.sessionExists(subject, candidate) {
			return candidate
		}
	}
}

// RenameSessionAvoiding renames from to to, first moving any session that
// already holds to out of the way. It returns the scratch label given to
// the previous holder, if any.
func (e *Engine) RenameSessionAvoiding(ctx context.Context, subject, from, to string) (string, error) {
	if from == to {
		return "", nil
	}
	var aside string
	if e.sessionExists(subject, to) {
		var err error
		if aside, err = e.MoveAside(ctx, subject, to); err != nil {
			return "", err
		}
	}
	if _, err := e.RenameSession(ctx, subject, from, to, ModeFull); err != nil {
		return aside, err
	}
	return aside, nil
}

// RewriteEmbedded renames a raw recording in place and rewrites the
// identifiers, and optionally the acquisition date, embedded in it.
func (e *Engine) RewriteEmbedded(path, newName string, newDate *time.Time) error {
	target := filepath.Join(filepath.Dir(path), newName)
	change := report.Change{Action: report.ActionRename, Path: e.writer.Rel(path), Target: e.writer.Rel(target), Applied: !e.writer.DryRun}
	if target == path {
		if newDate == nil {
			return nil
		}
		change = report.Change{
			Action:  report.ActionWrite,
			Path:    e.writer.Rel(path),
			Diff:    "acquisition date -> " + newDate.Format("2006-01-02"),
			Applied: !e.writer.DryRun,
		}
	}
	e.log.Record(change)
	if e.writer.DryRun {
		return nil
	}
	if err := e.adapter.RewriteIdentifierAndDate(path, newName, newDate); err != nil {
		return ops.Wrap(ops.ErrIO, "rename", "rewrite recording", e.writer.Rel(path), err)
	}
	return nil
}

func (e *Engine) sessionExists(subject, label string) bool {
	for _, root := range e.trees() {
		if exists(e.layout.SessionDir(root, subject, label)) {
			return true
		}
	}
	return false
}

// trees returns the main root followed by the existing sub-dataset roots.
func (e *Engine) trees() []string {
	out := []string{e.root}
	for _, name := range e.layout.SubDatasets {
		dir := filepath.Join(e.root, name)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			out = append(out, dir)
		}
	}
	return out
}

type request struct {
	entity  string
	subject string
	old     string
	new     string
	mode    Mode
}

func (r request) operation() string {
	if r.entity == bids.PrefixSubject {
		return "rename subject"
	}
	return "rename session"
}

func (r request) validate() error {
	if !bids.IsLabel(r.old) || !bids.IsLabel(r.new) {
		return ops.Wrap(ops.ErrUsage, r.operation(), "validate", fmt.Sprintf("labels must be alphanumeric: %q -> %q", r.old, r.new), nil)
	}
	if r.mode == ModePartial && strings.Contains(r.new, r.old) {
		return ops.Wrap(ops.ErrUsage, r.operation(), "validate", fmt.Sprintf("new label %q must not contain the old text %q in partial mode", r.new, r.old), nil)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, req request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	logger := logging.WithContext(ops.WithSubject(ctx, req.subject), e.logger)

	var plans []*treePlan
	for i, root := range e.trees() {
		p, err := e.plan(root, req, i == 0)
		if err != nil {
			return Result{}, err
		}
		if p != nil {
			plans = append(plans, p)
		}
	}

	res := Result{}
	if len(plans) == 0 || !plans[0].main {
		where := "dataset"
		if req.subject != "" {
			where = bids.PrefixSubject + req.subject
		}
		e.log.Warn(report.CodeRenameNoMatch, where, "no %s label matches %q (%s mode); nothing renamed in the main tree",
			strings.TrimSuffix(req.entity, "-"), req.old, req.mode)
	} else {
		res.Matched = true
		res.From, res.To = plans[0].from, plans[0].to
	}
	if len(plans) == 0 {
		return res, nil
	}

	entry := -1
	if e.trail != nil {
		entry = e.trail.Add(audit.Entry{
			Subject:  firstNonEmpty(req.subject, plans[0].from),
			Original: plans[0].from,
			Final:    plans[0].to,
			Action:   strings.ReplaceAll(req.operation(), " ", "_"),
			Status:   audit.StatusPlanned,
		})
		if err := e.saveTrail(); err != nil {
			return res, err
		}
	}

	var applyErr error
	for _, p := range plans {
		logger.Info("renaming label",
			logging.String("tree", e.writer.Rel(p.root)),
			logging.String("from", req.entity+p.from),
			logging.String("to", req.entity+p.to),
			logging.Int("recordings", len(p.recordings)),
			logging.Int("files", len(p.files)),
			logging.Int("dirs", len(p.dirs)),
		)
		if applyErr = e.apply(p); applyErr != nil {
			break
		}
		res.Trees = append(res.Trees, p.root)
	}
	if applyErr == nil && req.entity == bids.PrefixSubject && res.Matched {
		applyErr = e.renameParticipant(plans[0].from, plans[0].to)
	}

	if entry >= 0 {
		status := audit.StatusDone
		if applyErr != nil {
			status = audit.StatusFailed
		}
		e.trail.Update(entry, func(en *audit.Entry) { en.Status = status })
		if err := e.saveTrail(); err != nil && applyErr == nil {
			applyErr = err
		}
	}
	return res, applyErr
}

func (e *Engine) saveTrail() error {
	if e.trail == nil || e.writer.DryRun {
		return nil
	}
	if err := e.trail.Save(); err != nil {
		return ops.Wrap(ops.ErrIO, "audit", "save", e.trail.Path, err)
	}
	return nil
}

// renameParticipant updates the subject key in participants.tsv and in the
// shift ledger.
func (e *Engine) renameParticipant(from, to string) error {
	paths := []string{filepath.Join(e.root, bids.ParticipantsFile)}
	if e.ledgerRel != "" {
		paths = append(paths, filepath.Join(e.root, filepath.FromSlash(e.ledgerRel)))
	}
	for _, path := range paths {
		table, ok, err := sidecar.LoadTable(path)
		if err != nil {
			return ops.Wrap(ops.ErrIO, "rename subject", "load table", path, err)
		}
		if !ok {
			continue
		}
		col := table.Column(bids.ParticipantColumn)
		if col < 0 {
			continue
		}
		for _, row := range table.Rows {
			if row[col] == bids.PrefixSubject+from {
				row[col] = bids.PrefixSubject + to
			}
		}
		if _, err := e.writer.WriteTable(path, table); err != nil {
			return ops.Wrap(ops.ErrIO, "rename subject", "write table", path, err)
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
