package shift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/journal"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/rename"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

const (
	operation = "shift"
	// backupTree holds the scan indexes with real acquisition times.
	backupTree  = "sourcedata"
	stampLayout = "20060102"
)

var dateStamp = regexp.MustCompile(`^[0-9]{8}$`)

// Options controls a shifting pass.
type Options struct {
	// Subjects limits the pass to these labels; empty means every subject.
	Subjects []string
}

// Summary counts what a shifting pass touched.
type Summary struct {
	Subjects   int `json:"subjects"`
	Rows       int `json:"rows"`
	Recordings int `json:"recordings"`
	Relabelled int `json:"relabelled"`
}

// Shifter anonymizes acquisition dates by a constant per-subject number of
// days recorded in the ledger.
type Shifter struct {
	cfg     *config.Config
	layout  bids.Layout
	adapter rawsource.Adapter
	logger  *slog.Logger
	journal *journal.Store
}

// New creates a shifter.
func New(cfg *config.Config, adapter rawsource.Adapter, logger *slog.Logger) *Shifter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Shifter{
		cfg:     cfg,
		layout:  bids.LayoutFromConfig(cfg),
		adapter: adapter,
		logger:  logging.NewComponentLogger(logger, "shift"),
	}
}

// WithJournal records one step per shifted subject in the run journal.
func (s *Shifter) WithJournal(j *journal.Store) *Shifter {
	s.journal = j
	return s
}

type pass struct {
	s       *Shifter
	base    context.Context
	ctx     context.Context
	logger  *slog.Logger
	log     *report.Log
	root    string
	epoch   time.Time
	ledger  *Ledger
	renamer *rename.Engine
	writer  *sidecar.Writer
	runID   string
	summary Summary
}

// Run shifts the selected subjects of the dataset at root. The ledger is
// saved on return whenever it changed, including after a failure.
func (s *Shifter) Run(ctx context.Context, root string, opts Options, log *report.Log) (_ *Summary, err error) {
	if log == nil {
		log = report.New(s.logger, false, false)
	}
	ctx = ops.WithOperation(ctx, operation)
	logger := logging.WithContext(ctx, s.logger)

	epoch, err := s.cfg.ShiftEpoch()
	if err != nil {
		return nil, ops.Wrap(ops.ErrUsage, operation, "validate", "target epoch", err)
	}
	ds, err := bids.Load(root, s.layout)
	if err != nil {
		return nil, ops.Wrap(ops.ErrIO, operation, "enumerate", root, err)
	}
	subjects, err := selectSubjects(ds, opts.Subjects)
	if err != nil {
		return nil, err
	}

	renamer := rename.New(root, s.layout, s.adapter, log)
	ledger, err := Open(s.cfg.LedgerPath(root), renamer.Writer())
	if err != nil {
		return nil, err
	}
	p := &pass{
		s:       s,
		base:    ctx,
		ctx:     ctx,
		logger:  logger,
		log:     log,
		root:    root,
		epoch:   epoch,
		ledger:  ledger,
		renamer: renamer,
		writer:  renamer.Writer(),
	}
	if id, ok := ops.RunIDFromContext(ctx); ok {
		p.runID = id
	}
	defer func() {
		if cerr := ledger.Close(); cerr != nil {
			err = errors.Join(err, ops.Wrap(ops.ErrIO, operation, "save ledger", p.writer.Rel(ledger.Path()), cerr))
		}
	}()

	logger.Info("shifting dataset",
		logging.Path(root),
		logging.Int("subjects", len(subjects)),
		logging.String("epoch", epoch.Format("2006-01-02")),
		logging.Bool("dry_run", log.DryRun),
	)
	for _, subj := range subjects {
		if err := p.subject(subj); err != nil {
			p.step(subj, journal.StatusFailed)
			logging.ErrorWithContext(logger, "shift failed", "shift_failed",
				logging.String("subject", subj.Label),
				logging.Error(err),
			)
			return &p.summary, err
		}
		p.step(subj, journal.StatusCompleted)
	}
	logger.Info("shift finished",
		logging.Int("subjects", p.summary.Subjects),
		logging.Int("rows", p.summary.Rows),
		logging.Int("recordings", p.summary.Recordings),
		logging.Int("relabelled", p.summary.Relabelled),
	)
	return &p.summary, nil
}

func selectSubjects(ds *bids.Dataset, labels []string) ([]*bids.Subject, error) {
	if len(labels) == 0 {
		return ds.Subjects, nil
	}
	out := make([]*bids.Subject, 0, len(labels))
	for _, label := range labels {
		subj := ds.Subject(label)
		if subj == nil {
			return nil, ops.Wrap(ops.ErrNotFound, operation, "select", bids.PrefixSubject+label, nil)
		}
		out = append(out, subj)
	}
	return out, nil
}

func (p *pass) subject(subj *bids.Subject) error {
	p.ctx = ops.WithSubject(p.base, subj.Label)
	backups := make(map[*bids.Session]*sidecar.ScanIndex, len(subj.Sessions))
	var missing []*bids.Session
	for _, ses := range subj.Sessions {
		backup, ok, err := p.backup(ses)
		if err != nil {
			return err
		}
		backups[ses] = backup
		if !ok {
			missing = append(missing, ses)
		}
	}

	entry, ok := p.ledger.Get(subj.Label)
	if ok && entry.Set {
		p.checkReference(subj, entry, backups)
	} else {
		first, found := p.firstShift(subj, backups)
		if !found {
			p.log.Warn(report.CodeImplausibleDate, bids.PrefixSubject+subj.Label, "no plausible acquisition time; subject not shifted")
			return nil
		}
		entry = first
		p.ledger.Put(entry)
		p.logger.Info("subject shift recorded",
			logging.String("subject", subj.Label),
			logging.Int("days", entry.Days),
			logging.String("reference", entry.Reference),
		)
	}

	for _, ses := range missing {
		if err := p.saveBackup(ses, backups[ses]); err != nil {
			return err
		}
	}
	for _, ses := range subj.Sessions {
		if err := p.session(ses, backups[ses], entry.Days); err != nil {
			return err
		}
	}
	for _, ses := range subj.Sessions {
		if err := p.relabel(ses, backups[ses]); err != nil {
			return err
		}
	}
	p.summary.Subjects++
	return nil
}

func (p *pass) backupPath(ses *bids.Session) string {
	return p.s.layout.ScansPath(filepath.Join(p.root, backupTree), ses.Subject, ses.Label)
}

// backup returns the real-time scan index of a session. Without a saved
// copy the current index is returned with ok false: every shifted session
// has a backup, so a session without one still carries real times.
func (p *pass) backup(ses *bids.Session) (*sidecar.ScanIndex, bool, error) {
	target := p.backupPath(ses)
	idx, ok, err := sidecar.LoadScanIndex(target)
	if err != nil {
		return nil, false, ops.Wrap(ops.ErrIO, operation, "load backup", p.writer.Rel(target), err)
	}
	if ok {
		return idx, true, nil
	}
	return ses.Scans.Clone(), false, nil
}

// saveBackup stores the real times of a session before it is first shifted.
func (p *pass) saveBackup(ses *bids.Session, idx *sidecar.ScanIndex) error {
	if len(idx.Rows) == 0 {
		return nil
	}
	target := p.backupPath(ses)
	if _, err := p.writer.WriteScanIndex(target, idx); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "write backup", p.writer.Rel(target), err)
	}
	return nil
}

// firstShift picks the earliest plausible real scan time of the subject and
// derives the shift that moves it onto the target epoch.
func (p *pass) firstShift(subj *bids.Subject, backups map[*bids.Session]*sidecar.ScanIndex) (Entry, bool) {
	minYear := p.s.cfg.Shift.MinPlausibleYear
	var (
		ref      string
		earliest time.Time
		found    bool
	)
	for _, ses := range subj.Sessions {
		backup := backups[ses]
		row, t, ok := backup.Earliest(func(r sidecar.ScanRow, t time.Time) bool {
			if t.Year() >= minYear {
				return true
			}
			p.log.Warn(report.CodeImplausibleDate, p.writer.Rel(ses.ScansPath), "%s has implausible time %s; not used as reference", r.Filename, r.AcqTime)
			return false
		})
		if !ok {
			continue
		}
		if !found || t.Before(earliest) {
			ref, earliest, found = path.Join(bids.PrefixSession+ses.Label, row.Filename), t, true
		}
	}
	if !found {
		return Entry{}, false
	}
	days := int(math.Round(calendarDay(p.epoch).Sub(calendarDay(earliest)).Hours() / 24))
	return Entry{
		Subject:   subj.Label,
		Days:      days,
		Set:       true,
		Reference: ref,
		Real:      earliest,
		Shifted:   earliest.AddDate(0, 0, days),
	}, true
}

// checkReference warns when the backed-up reference time no longer matches
// the ledger. The recorded shift is kept either way.
func (p *pass) checkReference(subj *bids.Subject, entry Entry, backups map[*bids.Session]*sidecar.ScanIndex) {
	for _, ses := range subj.Sessions {
		for _, row := range backups[ses].Rows {
			if path.Join(bids.PrefixSession+ses.Label, row.Filename) != entry.Reference {
				continue
			}
			if t, ok := row.Time(); ok && !entry.Real.IsZero() && !t.Equal(entry.Real) {
				p.log.Warn(report.CodeLedgerShiftChanged, bids.PrefixSubject+subj.Label,
					"reference %s real time %s differs from ledger %s; keeping shift %d",
					entry.Reference, row.AcqTime, sidecar.FormatScanTime(entry.Real, true), entry.Days)
			}
			return
		}
	}
}

// session sets every scan-index row to its real time plus the shift and
// moves embedded recording dates that disagree by more than the tolerance.
func (p *pass) session(ses *bids.Session, backup *sidecar.ScanIndex, days int) error {
	scansRel := p.writer.Rel(ses.ScansPath)
	for i := range ses.Scans.Rows {
		row := &ses.Scans.Rows[i]
		j := backup.Find(row.Filename)
		if j < 0 {
			p.log.Warn(report.CodeOrphanRow, scansRel, "row %s has no backed-up real time; left unshifted", row.Filename)
			continue
		}
		want := shifted(backup.Rows[j].AcqTime, days)
		if row.AcqTime != want {
			row.AcqTime = want
			p.summary.Rows++
		}
	}
	if ses.ScansExists || len(ses.Scans.Rows) > 0 {
		if _, err := p.writer.WriteScanIndex(ses.ScansPath, ses.Scans); err != nil {
			return ops.Wrap(ops.ErrIO, operation, "write scans", scansRel, err)
		}
	}

	tolerance := p.s.cfg.TimestampTolerance()
	for _, rec := range ses.Recordings {
		i := ses.Scans.Find(rec.Entry)
		if i < 0 {
			continue
		}
		want, ok := ses.Scans.Rows[i].Time()
		if !ok {
			continue
		}
		embedded, err := p.s.adapter.ReadTimestamp(rec.Path)
		if errors.Is(err, rawsource.ErrNoTimestamp) {
			p.log.Warn(report.CodeTimestampMismatch, rec.Rel, "recording has no embedded acquisition time")
			continue
		}
		if err != nil {
			return ops.Wrap(ops.ErrIO, operation, "read timestamp", rec.Rel, err)
		}
		if diff := embedded.Sub(want); diff <= tolerance && diff >= -tolerance {
			continue
		}
		if err := p.renamer.RewriteEmbedded(rec.Path, filepath.Base(rec.Path), &want); err != nil {
			return err
		}
		p.summary.Recordings++
	}
	return nil
}

// relabel renames a session labelled with its real acquisition date to the
// shifted date. A ledger reference inside the session follows the new label.
func (p *pass) relabel(ses *bids.Session, backup *sidecar.ScanIndex) error {
	if !dateStamp.MatchString(ses.Label) {
		return nil
	}
	_, first, ok := backup.Earliest(nil)
	if !ok || first.Format(stampLayout) != ses.Label {
		return nil
	}
	day, ok := ses.Day()
	if !ok {
		return nil
	}
	label := day.Format(stampLayout)
	if label == ses.Label {
		return nil
	}
	if _, err := p.renamer.RenameSession(p.ctx, ses.Subject, ses.Label, label, rename.ModeFull); err != nil {
		return err
	}
	p.summary.Relabelled++

	oldToken := bids.PrefixSession + ses.Label
	if entry, ok := p.ledger.Get(ses.Subject); ok && strings.HasPrefix(entry.Reference, oldToken+"/") {
		entry.Reference = strings.ReplaceAll(entry.Reference, oldToken, bids.PrefixSession+label)
		p.ledger.Put(entry)
	}
	return nil
}

// calendarDay drops the time of day so the shift counts whole dates: the
// reference scan lands on the epoch day whatever its hour.
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func shifted(acqTime string, days int) string {
	t, ok := sidecar.ParseTime(acqTime)
	if !ok {
		return acqTime
	}
	return t.AddDate(0, 0, days).Format(sidecar.TimeLayout)
}

func (p *pass) step(subj *bids.Subject, status journal.Status) {
	if p.s.journal == nil || p.runID == "" {
		return
	}
	err := p.s.journal.RecordStep(p.ctx, journal.Step{
		RunID:   p.runID,
		Name:    "subject",
		Subject: subj.Label,
		Detail:  fmt.Sprintf("%d sessions", len(subj.Sessions)),
		Status:  status,
	})
	if err != nil {
		logging.WarnWithContext(p.logger, "journal step not recorded", "journal_write_failed",
			logging.String("subject", subj.Label),
			logging.Error(err),
		)
	}
}
