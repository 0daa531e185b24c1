package reconcile

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/journal"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/overrides"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Recording-document fields written by the rebuild.
const (
	FieldTaskName            = "TaskName"
	FieldAssociatedEmptyRoom = "AssociatedEmptyRoom"
	FieldDigitizedHeadPoints = "DigitizedHeadPoints"
)

const channelNameColumn = "name"

func (p *pass) recording(rec *bids.Recording) error {
	logger := p.logger.With(logging.Path(rec.Rel))
	override, hasOverride := p.overrides[rec.Name.Stem()]

	target := rec.Name
	if hasOverride {
		target = override.Apply(target)
	}
	target, findings := p.e.policy.Normalize(target)
	for _, f := range findings {
		if p.opts.AllowRename {
			p.log.Info(f.Code, rec.Rel, "%s", f.Text)
		} else {
			p.log.Warn(f.Code, rec.Rel, "%s", f.Text)
		}
	}
	if !target.SameIdentity(rec.Name) {
		if err := target.Validate(); err != nil {
			return ops.Wrap(ops.ErrUsage, operation, "resolve identity", rec.Rel, err)
		}
		if p.opts.AllowRename {
			if err := p.renameRecording(rec, target); err != nil {
				p.step(rec, journal.StatusFailed)
				return err
			}
		} else {
			p.log.Warn(report.CodeIdentityKept, rec.Rel, "identity kept as %s; %s requires renaming", rec.Name.Stem(), target.Stem())
		}
	}

	ex, err := p.e.adapter.Extract(p.diskPath(rec))
	if err != nil {
		p.step(rec, journal.StatusFailed)
		return ops.Wrap(ops.ErrIO, operation, "extract", rec.Rel, err)
	}
	scanTime, scanKnown := rec.Acquired()
	if ex.Known {
		rec.SetAcquired(ex.Acquired, true)
	}

	if err := p.recordingDocument(rec, override, ex); err != nil {
		p.step(rec, journal.StatusFailed)
		return err
	}
	if err := p.channels(rec, ex); err != nil {
		p.step(rec, journal.StatusFailed)
		return err
	}
	if err := p.coordsystem(rec, ex); err != nil {
		p.step(rec, journal.StatusFailed)
		return err
	}
	if from, _ := p.locate(rec, "events", ".tsv"); !exists(from) {
		p.log.Info(report.CodeMissingSidecar, rec.Rel, "no events table")
	}
	p.scanRow(rec, ex, scanTime, scanKnown)

	p.summary.Recordings++
	p.step(rec, journal.StatusCompleted)
	logger.Debug("recording reconciled", logging.Bool("raw_time_known", ex.Known))
	return nil
}

func (p *pass) recordingDocument(rec *bids.Recording, override overrides.Override, ex *rawsource.Extraction) error {
	from, to := p.locate(rec, rec.Name.Suffix, ".json")
	existing, _, err := sidecar.LoadDocument(from)
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load document", p.writer.Rel(from), err)
	}
	extracted := ex.Recording.Clone()
	if extracted == nil {
		extracted = sidecar.NewDocument()
	}
	extracted.SetString(FieldTaskName, rec.Name.Task)

	doc := sidecar.Resolve(sidecar.KindRecording, extracted, existing, override.Fields, p.opts.Keep)
	if _, pinned := override.Fields.Get(FieldAssociatedEmptyRoom); !pinned && !rec.Noise {
		prior := existing.GetString(FieldAssociatedEmptyRoom)
		if renamed, ok := p.renamedRel[prior]; ok {
			prior = renamed
		}
		res := p.assoc.Associate(rec, prior, p.opts.ForceNoiseSearch)
		if res.Found() {
			doc.SetString(FieldAssociatedEmptyRoom, res.Path)
		} else {
			doc.Delete(FieldAssociatedEmptyRoom)
			p.log.Warn(report.CodeNoiseNotFound, rec.Rel, "no empty-room recording within %s", p.e.cfg.NoiseMaxGap())
		}
	}
	return p.write(from, to, doc)
}

// channels rebuilds the channel table, carrying kept columns over per
// channel name.
func (p *pass) channels(rec *bids.Recording, ex *rawsource.Extraction) error {
	if ex.Channels == nil {
		return nil
	}
	from, to := p.locate(rec, "channels", ".tsv")
	existing, ok, err := sidecar.LoadTable(from)
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load channels", p.writer.Rel(from), err)
	}
	table := &sidecar.Table{Header: append([]string(nil), ex.Channels.Header...)}
	for _, row := range ex.Channels.Rows {
		table.Rows = append(table.Rows, append([]string(nil), row...))
	}
	nameCol := table.Column(channelNameColumn)
	if ok && nameCol >= 0 && existing.Column(channelNameColumn) >= 0 {
		for _, column := range existing.Header {
			if column == channelNameColumn || !p.opts.Keep.Keeps(sidecar.KindChannels, column) {
				continue
			}
			c := table.EnsureColumn(column)
			for _, row := range table.Rows {
				if i := existing.Lookup(channelNameColumn, row[nameCol]); i >= 0 {
					row[c] = existing.Cell(i, column)
				}
			}
		}
	}
	data := table.Encode()
	if _, err := p.writer.Rewrite(from, to, data); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "write channels", p.writer.Rel(to), err)
	}
	return nil
}

func (p *pass) coordsystem(rec *bids.Recording, ex *rawsource.Extraction) error {
	extracted := ex.Coordsystem.Clone()
	if extracted == nil && ex.HeadShape == "" {
		return nil
	}
	if extracted == nil {
		extracted = sidecar.NewDocument()
	}
	if ex.HeadShape != "" {
		extracted.SetString(FieldDigitizedHeadPoints, ex.HeadShape)
	}
	from, to := p.locate(rec, "coordsystem", ".json")
	existing, _, err := sidecar.LoadDocument(from)
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load coordsystem", p.writer.Rel(from), err)
	}
	return p.write(from, to, sidecar.Resolve(sidecar.KindCoordsystem, extracted, existing, nil, p.opts.Keep))
}

// scanRow appends a missing row, or updates the time of an existing one when
// overwriting is requested. Otherwise a row whose time disagrees with the raw
// recording is reported.
func (p *pass) scanRow(rec *bids.Recording, ex *rawsource.Extraction, scanTime time.Time, scanKnown bool) {
	scans := rec.Session.Scans
	if scans.Find(rec.Entry) < 0 {
		scans.Upsert(rec.Entry, sidecar.FormatScanTime(ex.Acquired, ex.Known), false)
		return
	}
	if !ex.Known {
		return
	}
	if p.opts.OverwriteTimes {
		scans.Upsert(rec.Entry, sidecar.FormatScanTime(ex.Acquired, true), true)
		return
	}
	if !scanKnown {
		return
	}
	delta := scanTime.Sub(ex.Acquired)
	if delta < 0 {
		delta = -delta
	}
	if delta > p.e.cfg.TimestampTolerance() {
		p.log.Warn(report.CodeTimestampMismatch, rec.Rel, "scan time %s differs from recording time %s by %s",
			scanTime.Format(sidecar.TimeLayout), ex.Acquired.Format(sidecar.TimeLayout), delta)
	}
}

// locate returns where a sidecar of rec is read from and where it is written.
// They differ only in dry runs after a rename.
func (p *pass) locate(rec *bids.Recording, suffix, ext string) (string, string) {
	to := filepath.Join(p.e.layout.DataDir(p.root, rec.Name.Subject, rec.Name.Session), rec.Name.Sidecar(suffix, ext))
	if o, ok := p.moved[rec]; ok && p.log.DryRun {
		return filepath.Join(o.dir, o.name.Sidecar(suffix, ext)), to
	}
	return to, to
}

// diskPath is where the raw recording currently lives.
func (p *pass) diskPath(rec *bids.Recording) string {
	if o, ok := p.moved[rec]; ok && p.log.DryRun {
		return filepath.Join(o.dir, o.name.String())
	}
	return rec.Path
}

func (p *pass) write(from, to string, doc *sidecar.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "encode", p.writer.Rel(to), err)
	}
	if _, err := p.writer.Rewrite(from, to, data); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "write", p.writer.Rel(to), err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
