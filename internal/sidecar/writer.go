package sidecar

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/Moo-Marc/CtfMegBids/internal/fileutil"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
)

// Writer funnels every dataset mutation through one place so that dry runs
// and verbose runs see the same diff stream as real runs. Content writes
// that would not change a file are skipped.
type Writer struct {
	Root   string
	DryRun bool
	Log    *report.Log
}

// NewWriter creates a writer rooted at a dataset directory.
func NewWriter(root string, log *report.Log) *Writer {
	w := &Writer{Root: root, Log: log}
	if log != nil {
		w.DryRun = log.DryRun
	}
	return w
}

// Rel renders path relative to the dataset root for reports.
func (w *Writer) Rel(path string) string {
	if w.Root == "" {
		return filepath.ToSlash(path)
	}
	if rel, err := filepath.Rel(w.Root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

// WriteFile replaces path with data when the content differs.
func (w *Writer) WriteFile(path string, data []byte) (bool, error) {
	return w.Rewrite(path, path, data)
}

// Rewrite writes data to path, diffing against the file currently at from.
// The two differ in dry runs, where an earlier planned rename has not moved
// the file yet.
func (w *Writer) Rewrite(from, path string, data []byte) (bool, error) {
	old, err := os.ReadFile(from)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("read %s: %w", from, err)
	}
	if err == nil && bytes.Equal(old, data) {
		return false, nil
	}
	rel := w.Rel(path)
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(old)),
		B:        difflib.SplitLines(string(data)),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	w.Log.Record(report.Change{Action: report.ActionWrite, Path: rel, Diff: diff, Applied: !w.DryRun})
	if w.DryRun {
		return true, nil
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// WriteDocument encodes and writes a document.
func (w *Writer) WriteDocument(path string, doc *Document) (bool, error) {
	data, err := doc.Encode()
	if err != nil {
		return false, err
	}
	return w.WriteFile(path, data)
}

// WriteTable encodes and writes a table.
func (w *Writer) WriteTable(path string, t *Table) (bool, error) {
	return w.WriteFile(path, t.Encode())
}

// WriteScanIndex sorts, encodes and writes a scan index.
func (w *Writer) WriteScanIndex(path string, idx *ScanIndex) (bool, error) {
	return w.WriteFile(path, idx.Encode())
}

// Move renames src to dst, creating parents.
func (w *Writer) Move(src, dst string) error {
	w.Log.Record(report.Change{Action: report.ActionRename, Path: w.Rel(src), Target: w.Rel(dst), Applied: !w.DryRun})
	if w.DryRun {
		return nil
	}
	if err := fileutil.Move(src, dst); err != nil {
		return fmt.Errorf("rename %s: %w", src, err)
	}
	return nil
}

// Copy copies a regular file with verification.
func (w *Writer) Copy(src, dst string) error {
	w.Log.Record(report.Change{Action: report.ActionWrite, Path: w.Rel(dst), Target: w.Rel(src), Applied: !w.DryRun})
	if w.DryRun {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return fileutil.CopyFileVerified(src, dst)
}

// Remove deletes a file or empty directory.
func (w *Writer) Remove(path string) error {
	w.Log.Record(report.Change{Action: report.ActionRemove, Path: w.Rel(path), Applied: !w.DryRun})
	if w.DryRun {
		return nil
	}
	return os.Remove(path)
}
