package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// renameRecording moves one recording to a new identity: the raw folder
// (rewriting the identifiers embedded in it), its sidecars, and its
// scan-index row, across sessions when Subject or Session change.
func (p *pass) renameRecording(rec *bids.Recording, target bids.Name) error {
	layout := p.e.layout
	targetRel := layout.RecordingRel(target)
	dst := layout.RecordingPath(p.root, target)
	// A target vacated earlier in this run still exists during a dry run.
	if p.claimed[targetRel] || (exists(dst) && p.renamedRel[targetRel] == "") {
		return ops.Wrap(ops.ErrConflict, operation, "rename recording",
			fmt.Sprintf("%s -> %s: target already exists", rec.Rel, targetRel), nil)
	}

	src := p.diskPath(rec)
	srcDir := filepath.Dir(src)
	dstDir := filepath.Dir(dst)
	from := rec.Name
	sidecars, err := p.sidecarsOf(srcDir, from)
	if err != nil {
		return err
	}

	p.logger.Info("renaming recording",
		logging.String("from", rec.Rel),
		logging.String("to", targetRel),
		logging.Int("sidecars", len(sidecars)),
	)
	if err := p.renamer.RewriteEmbedded(src, target.String(), nil); err != nil {
		return err
	}
	if dstDir != srcDir {
		if err := p.writer.Move(filepath.Join(srcDir, target.String()), dst); err != nil {
			return ops.Wrap(ops.ErrIO, operation, "move recording", rec.Rel, err)
		}
	}
	for _, name := range sidecars {
		n, _ := bids.ParseName(name)
		moved := filepath.Join(dstDir, target.Sidecar(n.Suffix, n.Extension))
		if err := p.writer.Move(filepath.Join(srcDir, name), moved); err != nil {
			return ops.Wrap(ops.ErrIO, operation, "move sidecar", p.writer.Rel(moved), err)
		}
	}

	oldEntry := rec.Entry
	oldSession := rec.Session
	newEntry := layout.ScansEntry(target)
	newSession := oldSession
	if target.Subject != from.Subject || target.Session != from.Session {
		newSession = p.session(target.Subject, target.Session)
		detach(oldSession, rec)
		newSession.Recordings = append(newSession.Recordings, rec)
		if row, ok := oldSession.Scans.Remove(oldEntry); ok {
			row.Filename = newEntry
			newSession.Scans.Insert(row, oldSession.Scans)
		}
	} else {
		oldSession.Scans.Rename(oldEntry, newEntry)
	}

	p.moved[rec] = origin{dir: srcDir, name: from}
	p.renamedRel[rec.Rel] = targetRel
	p.claimed[targetRel] = true
	rec.Name = target
	rec.Rel = targetRel
	rec.Entry = newEntry
	rec.Noise = layout.IsNoise(target)
	rec.Session = newSession
	if !p.log.DryRun {
		rec.Path = dst
	}
	p.summary.Renamed++
	return nil
}

// sidecarsOf lists the non-recording files in dir that belong to name.
func (p *pass) sidecarsOf(dir string, name bids.Name) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ops.Wrap(ops.ErrIO, operation, "list sidecars", p.writer.Rel(dir), err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || p.e.layout.IsRecordingFile(entry.Name()) {
			continue
		}
		n, err := bids.ParseName(entry.Name())
		if err != nil || !n.SameIdentity(name) {
			continue
		}
		out = append(out, entry.Name())
	}
	sort.Strings(out)
	return out, nil
}

// session returns the in-memory session, creating it (and its subject) when
// a rename targets a session that does not exist yet.
func (p *pass) session(subject, label string) *bids.Session {
	layout := p.e.layout
	subj := p.ds.Subject(subject)
	if subj == nil {
		subj = &bids.Subject{Label: subject, Dir: layout.SubjectDir(p.root, subject)}
		p.ds.Subjects = append(p.ds.Subjects, subj)
		sort.Slice(p.ds.Subjects, func(i, j int) bool { return p.ds.Subjects[i].Label < p.ds.Subjects[j].Label })
	}
	if ses := subj.Session(label); ses != nil {
		return ses
	}
	ses := &bids.Session{
		Subject:   subject,
		Label:     label,
		Dir:       layout.SessionDir(p.root, subject, label),
		ScansPath: layout.ScansPath(p.root, subject, label),
		Scans:     sidecar.NewScanIndex(),
	}
	if scans, ok, err := sidecar.LoadScanIndex(ses.ScansPath); err == nil && ok {
		ses.Scans, ses.ScansExists = scans, true
	}
	subj.Sessions = append(subj.Sessions, ses)
	sort.Slice(subj.Sessions, func(i, j int) bool { return subj.Sessions[i].Label < subj.Sessions[j].Label })
	return ses
}

func detach(ses *bids.Session, rec *bids.Recording) {
	for i, r := range ses.Recordings {
		if r == rec {
			ses.Recordings = append(ses.Recordings[:i], ses.Recordings[i+1:]...)
			return
		}
	}
}
