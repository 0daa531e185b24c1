package reconcile

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

const datasetTypeRaw = "raw"

// sessions checks every scan index against the recordings present, writes
// it back sorted and reports subjects with two sessions on one day.
func (p *pass) sessions() error {
	layout := p.e.layout
	for _, subj := range p.ds.Subjects {
		days := map[string][]string{}
		for _, ses := range subj.Sessions {
			present := make(map[string]bool, len(ses.Recordings))
			for _, rec := range ses.Recordings {
				present[rec.Entry] = true
			}
			for _, row := range ses.Scans.Rows {
				if present[row.Filename] || exists(filepath.Join(ses.Dir, filepath.FromSlash(row.Filename))) {
					continue
				}
				p.log.Warn(report.CodeOrphanRow, p.writer.Rel(ses.ScansPath), "row %s references no file", row.Filename)
			}

			if ses.ScansExists || len(ses.Scans.Rows) > 0 {
				changed, err := p.writer.WriteScanIndex(ses.ScansPath, ses.Scans)
				if err != nil {
					return ops.Wrap(ops.ErrIO, operation, "write scans", p.writer.Rel(ses.ScansPath), err)
				}
				if changed {
					p.summary.Sessions++
				}
			}

			if ses.IsNoise(layout) {
				continue
			}
			if day, ok := ses.Day(); ok {
				key := day.Format("2006-01-02")
				days[key] = append(days[key], bids.PrefixSession+ses.Label)
			}
		}

		keys := make([]string, 0, len(days))
		for day := range days {
			keys = append(keys, day)
		}
		sort.Strings(keys)
		for _, day := range keys {
			if labels := days[day]; len(labels) > 1 {
				p.log.Warn(report.CodeDuplicateDay, bids.PrefixSubject+subj.Label, "sessions %s share the day %s",
					strings.Join(labels, ", "), day)
			}
		}
	}
	return nil
}

// dataset regenerates the dataset-level files.
func (p *pass) dataset() error {
	if err := p.description(); err != nil {
		return err
	}
	if err := p.ignoreList(); err != nil {
		return err
	}
	return p.participants()
}

// description keeps existing fields in order, fills the required ones and
// applies curator overrides on top.
func (p *pass) description() error {
	path := filepath.Join(p.root, bids.DescriptionFile)
	existing, _, err := sidecar.LoadDocument(path)
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load description", bids.DescriptionFile, err)
	}
	doc := existing.Clone()
	if doc == nil {
		doc = sidecar.NewDocument()
	}
	name := p.root
	if abs, err := filepath.Abs(p.root); err == nil {
		name = abs
	}
	defaults := sidecar.NewDocument()
	defaults.SetString("Name", filepath.Base(name))
	defaults.SetString("BIDSVersion", p.e.cfg.Dataset.BIDSVersion)
	defaults.SetString("DatasetType", datasetTypeRaw)
	for _, key := range defaults.Keys() {
		if _, ok := doc.Get(key); !ok {
			v, _ := defaults.Get(key)
			doc.Set(key, v)
		}
	}

	fromCatalog, err := p.opts.Overrides.Dataset()
	if err != nil {
		return err
	}
	for _, over := range []*sidecar.Document{fromCatalog, p.opts.Description} {
		for _, key := range over.Keys() {
			v, _ := over.Get(key)
			doc.Set(key, v)
		}
	}
	return p.write(path, path, doc)
}

func (p *pass) ignoreList() error {
	path := filepath.Join(p.root, bids.IgnoreFile)
	list, err := sidecar.LoadIgnoreList(path)
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load ignore list", bids.IgnoreFile, err)
	}
	list.Ensure(p.e.cfg.Dataset.BIDSIgnore...)
	if len(list.Patterns()) == 0 {
		return nil
	}
	if _, err := p.writer.WriteFile(path, list.Encode()); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "write ignore list", bids.IgnoreFile, err)
	}
	return nil
}

// participants makes sure every subject except the empty-room one has a
// participants.tsv row.
func (p *pass) participants() error {
	path := filepath.Join(p.root, bids.ParticipantsFile)
	table, ok, err := sidecar.LoadTable(path)
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load participants", bids.ParticipantsFile, err)
	}
	if !ok {
		table = sidecar.NewTable(bids.ParticipantColumn)
	}
	table.EnsureColumn(bids.ParticipantColumn)
	for _, subj := range p.ds.Subjects {
		if subj.Label == p.e.layout.NoiseSubject || len(subj.Sessions) == 0 {
			continue
		}
		id := bids.PrefixSubject + subj.Label
		if table.Lookup(bids.ParticipantColumn, id) < 0 {
			table.AppendRow(map[string]string{bids.ParticipantColumn: id})
		}
	}
	if !ok && len(table.Rows) == 0 {
		return nil
	}
	if _, err := p.writer.WriteTable(path, table); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "write participants", bids.ParticipantsFile, err)
	}
	return nil
}
