package rename

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Sidecar fields holding paths or file names of other recordings.
var crossReferenceFields = []string{"AssociatedEmptyRoom", "DigitizedHeadPoints", "IntendedFor"}

// apply runs the steps of one tree in dependency order: raw recordings
// (which rewrites their embedded names), loose files, directories deepest
// first, scan-index contents, then cross references.
func (e *Engine) apply(p *treePlan) error {
	for _, m := range p.recordings {
		if err := e.RewriteEmbedded(m.from, filepath.Base(m.to), nil); err != nil {
			return err
		}
	}
	for _, group := range [][]move{p.files, p.dirs} {
		for _, m := range group {
			if err := e.writer.Move(m.from, m.to); err != nil {
				return ops.Wrap(ops.ErrIO, "rename", "move", e.writer.Rel(m.from), err)
			}
		}
	}
	for _, m := range p.scans {
		if err := e.rewriteScans(p, m); err != nil {
			return err
		}
	}
	for _, m := range p.documents {
		if err := e.rewriteDocument(p, m); err != nil {
			return err
		}
	}
	return nil
}

// current is where the content of m lives at this point of the run.
func (e *Engine) current(m move) string {
	if e.writer.DryRun {
		return m.from
	}
	return m.to
}

func (e *Engine) rewriteScans(p *treePlan, m move) error {
	src := e.current(m)
	idx, ok, err := sidecar.LoadScanIndex(src)
	if err != nil {
		return ops.Wrap(ops.ErrIO, "rename", "load scans", e.writer.Rel(src), err)
	}
	if !ok {
		return nil
	}
	for i := range idx.Rows {
		idx.Rows[i].Filename = p.rewrite(idx.Rows[i].Filename)
	}
	if _, err := e.writer.Rewrite(src, m.to, idx.Encode()); err != nil {
		return ops.Wrap(ops.ErrIO, "rename", "write scans", e.writer.Rel(m.to), err)
	}
	return nil
}

func (e *Engine) rewriteDocument(p *treePlan, m move) error {
	src := e.current(m)
	doc, ok, err := sidecar.LoadDocument(src)
	if err != nil || !ok {
		// Sidecars that are not JSON objects are not ours to rewrite.
		return nil
	}
	changed := false
	for _, field := range crossReferenceFields {
		v, ok := doc.Get(field)
		if !ok {
			continue
		}
		if s, isStr := v.Str(); isStr {
			updated, did := e.rewriteReference(p, m, field, s)
			if did {
				doc.SetString(field, updated)
				changed = true
			}
			continue
		}
		items, isList := v.Items()
		if !isList {
			continue
		}
		listChanged := false
		out := make([]sidecar.Value, len(items))
		for i, item := range items {
			out[i] = item
			s, isStr := item.Str()
			if !isStr {
				continue
			}
			if updated, did := e.rewriteReference(p, m, field, s); did {
				out[i] = sidecar.String(updated)
				listChanged = true
			}
		}
		if listChanged {
			doc.Set(field, sidecar.List(out...))
			changed = true
		}
	}
	if !changed {
		return nil
	}
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	if _, err := e.writer.Rewrite(src, m.to, data); err != nil {
		return ops.Wrap(ops.ErrIO, "rename", "write sidecar", e.writer.Rel(m.to), err)
	}
	return nil
}

// rewriteReference renames the label inside one reference when the
// referenced file name decomposes into canonical entities. A reference that
// mentions the label but does not decompose is reported for a rebuild.
func (e *Engine) rewriteReference(p *treePlan, m move, field, value string) (string, bool) {
	if !p.entity.MatchString(value) {
		return value, false
	}
	if p.guard != nil && !p.guard.MatchString(value) {
		// Bare file names belong to the subject holding the document.
		if strings.Contains(value, bids.PrefixSubject) || !p.guard.MatchString(p.rel(m.from)) {
			return value, false
		}
	}
	base := path.Base(strings.TrimPrefix(filepath.ToSlash(value), "bids::"))
	if _, err := bids.ParseName(base); err != nil {
		e.log.Warn(report.CodeCrossRefAmbiguous, e.writer.Rel(m.to),
			"%s %q mentions %s but cannot be decomposed; run a rebuild to regenerate it", field, value, p.token)
		return value, false
	}
	return p.rewrite(value), true
}
