package merge

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/fileutil"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

const scansSuffix = "_scans.tsv"

// subtrees lists the source subject folders to move: every subject of the
// main tree and of each configured sub-dataset, as slash paths relative to
// the tree roots.
func (e *Engine) subtrees(source string) ([]string, error) {
	var out []string
	for _, tree := range append([]string{""}, e.layout.SubDatasets...) {
		labels, err := bids.ListLabels(filepath.Join(source, tree), bids.PrefixSubject)
		if err != nil {
			return nil, ops.Wrap(ops.ErrIO, operation, "list subjects", tree, err)
		}
		for _, label := range labels {
			out = append(out, path.Join(tree, bids.PrefixSubject+label))
		}
	}
	return out, nil
}

// moveTrees merges each source subject folder into the destination. Scan
// indexes present on both sides are unioned; any other differing file is a
// conflict.
func (e *Engine) moveTrees(source, dest string, log *report.Log) error {
	rels, err := e.subtrees(source)
	if err != nil {
		return err
	}
	writer := sidecar.NewWriter(dest, log)
	for _, rel := range rels {
		from := filepath.Join(source, filepath.FromSlash(rel))
		to := filepath.Join(dest, filepath.FromSlash(rel))
		files, err := e.movedFiles(source, rel)
		if err != nil {
			return ops.Wrap(ops.ErrIO, operation, "list", rel, err)
		}
		for _, f := range files {
			log.Record(report.Change{Action: report.ActionMove, Path: f, Target: f, Applied: true})
		}
		err = fileutil.MergeDirs(from, to, func(src, dst string) (bool, error) {
			return unionScans(writer, src, dst)
		})
		if errors.Is(err, fileutil.ErrCollision) {
			return ops.Wrap(ops.ErrConflict, operation, "move", rel, err)
		}
		if err != nil {
			return ops.Wrap(ops.ErrIO, operation, "move", rel, err)
		}
	}
	return e.mergeParticipants(source, dest, writer)
}

// previewMove reports the file moves of moveTrees under the labels the
// simulated relabel left the source sessions with.
func (e *Engine) previewMove(source string, sim *simulator, log *report.Log) error {
	rels, err := e.subtrees(source)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		files, err := e.movedFiles(source, rel)
		if err != nil {
			return ops.Wrap(ops.ErrIO, operation, "list", rel, err)
		}
		for _, f := range files {
			f = sim.future(SideSource, f)
			log.Record(report.Change{Action: report.ActionMove, Path: f, Target: f})
		}
	}
	return nil
}

// movedFiles lists the files of a subject subtree as slash paths relative
// to root. Recordings count as one file.
func (e *Engine) movedFiles(root, rel string) ([]string, error) {
	var out []string
	base := filepath.Join(root, filepath.FromSlash(rel))
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		recording := d.IsDir() && p != base && e.layout.IsRecordingFile(d.Name())
		if d.IsDir() && !recording {
			return nil
		}
		r, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(r))
		if recording {
			return fs.SkipDir
		}
		return nil
	})
	return out, err
}

// unionScans resolves a scan-index collision by adding the source rows the
// destination lacks. Other files are left to the caller.
func unionScans(writer *sidecar.Writer, src, dst string) (bool, error) {
	if !strings.HasSuffix(dst, scansSuffix) {
		return false, nil
	}
	into, _, err := sidecar.LoadScanIndex(dst)
	if err != nil {
		return false, err
	}
	from, _, err := sidecar.LoadScanIndex(src)
	if err != nil {
		return false, err
	}
	for _, row := range from.Rows {
		if into.Find(row.Filename) < 0 {
			into.Insert(row, from)
		}
	}
	if _, err := writer.WriteScanIndex(dst, into); err != nil {
		return false, err
	}
	return true, os.Remove(src)
}

// mergeParticipants adds source participants missing from the destination,
// matching columns by name.
func (e *Engine) mergeParticipants(source, dest string, writer *sidecar.Writer) error {
	from, ok, err := sidecar.LoadTable(filepath.Join(source, bids.ParticipantsFile))
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load participants", source, err)
	}
	if !ok || from.Column(bids.ParticipantColumn) < 0 {
		return nil
	}
	target := filepath.Join(dest, bids.ParticipantsFile)
	into, ok, err := sidecar.LoadTable(target)
	if err != nil {
		return ops.Wrap(ops.ErrIO, operation, "load participants", dest, err)
	}
	if !ok {
		into = sidecar.NewTable(bids.ParticipantColumn)
	}
	into.EnsureColumn(bids.ParticipantColumn)
	for _, column := range from.Header {
		into.EnsureColumn(column)
	}
	for i := range from.Rows {
		id := from.Cell(i, bids.ParticipantColumn)
		if into.Lookup(bids.ParticipantColumn, id) >= 0 {
			continue
		}
		values := map[string]string{}
		for _, column := range from.Header {
			values[column] = from.Cell(i, column)
		}
		into.AppendRow(values)
	}
	if _, err := writer.WriteTable(target, into); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "write participants", bids.ParticipantsFile, err)
	}
	return nil
}
