package rename

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
)

// move is a planned rename from one absolute path to another. For content
// rewrites, from is where the file lives now and to where it will live once
// the earlier steps ran.
type move struct {
	from string
	to   string
}

// treePlan is the full set of steps for one tree, computed before anything
// is touched so dry runs report exactly what a real run does.
type treePlan struct {
	root     string
	main     bool
	from, to string
	token    string
	scopeRel string

	// entity matches <prefix><from> as a whole name token.
	entity *regexp.Regexp
	repl   string
	// guard must also match cross references (the owning subject for
	// session renames).
	guard *regexp.Regexp

	recordings []move
	files      []move
	dirs       []move
	scans      []move
	documents  []move
}

func tokenPattern(token string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[_/])` + regexp.QuoteMeta(token) + `([_./]|$)`)
}

func (p *treePlan) rewrite(s string) string {
	return p.entity.ReplaceAllString(s, p.repl)
}

// future maps a tree-relative slash path to where it lives after the rename.
func (p *treePlan) future(rel string) string {
	if rel == p.scopeRel || strings.HasPrefix(rel, p.scopeRel+"/") {
		return p.rewrite(rel)
	}
	return rel
}

func (p *treePlan) abs(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func (p *treePlan) rel(path string) string {
	rel, err := filepath.Rel(p.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// matchLabels returns the labels of parent matching the request.
func matchLabels(parent string, req request) ([]string, error) {
	labels, err := bids.ListLabels(parent, req.entity)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, label := range labels {
		switch req.mode {
		case ModePartial:
			if strings.Contains(label, req.old) {
				out = append(out, label)
			}
		default:
			if label == req.old {
				out = append(out, label)
			}
		}
	}
	return out, nil
}

func (e *Engine) plan(root string, req request, main bool) (*treePlan, error) {
	parent := root
	parentRel := ""
	if req.entity == bids.PrefixSession {
		parentRel = bids.PrefixSubject + req.subject
		parent = filepath.Join(root, parentRel)
	}
	matches, err := matchLabels(parent, req)
	if err != nil {
		return nil, ops.Wrap(ops.ErrIO, req.operation(), "list labels", parent, err)
	}
	switch {
	case len(matches) == 0:
		return nil, nil
	case len(matches) > 1:
		return nil, ops.Wrap(ops.ErrConflict, req.operation(), "match",
			fmt.Sprintf("%q matches several labels under %s: %s", req.old, e.writer.Rel(parent), strings.Join(matches, ", ")), nil)
	}

	from := matches[0]
	to := req.new
	if req.mode == ModePartial {
		to = strings.ReplaceAll(from, req.old, req.new)
	}
	if from == to {
		return nil, nil
	}
	targetDir := filepath.Join(parent, req.entity+to)
	if exists(targetDir) {
		return nil, ops.Wrap(ops.ErrConflict, req.operation(), "target",
			fmt.Sprintf("%s already exists", e.writer.Rel(targetDir)), nil)
	}

	p := &treePlan{
		root:   root,
		main:   main,
		from:   from,
		to:     to,
		token:  req.entity + from,
		entity: tokenPattern(req.entity + from),
		repl:   "${1}" + req.entity + to + "${2}",
	}
	p.scopeRel = req.entity + from
	if parentRel != "" {
		p.scopeRel = parentRel + "/" + p.scopeRel
		p.guard = tokenPattern(parentRel)
	}
	if err := e.walkScope(p); err != nil {
		return nil, ops.Wrap(ops.ErrIO, req.operation(), "plan", e.writer.Rel(p.abs(p.scopeRel)), err)
	}
	if err := e.collectDocuments(p); err != nil {
		return nil, ops.Wrap(ops.ErrIO, req.operation(), "plan", e.writer.Rel(root), err)
	}
	if taken, ok := p.takenTarget(); ok {
		return nil, ops.Wrap(ops.ErrConflict, req.operation(), "target", e.writer.Rel(taken)+" already exists", nil)
	}
	return p, nil
}

// walkScope lists recordings, loose files, directories and scan indexes
// under the renamed label.
func (e *Engine) walkScope(p *treePlan) error {
	scope := p.abs(p.scopeRel)
	err := filepath.WalkDir(scope, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != scope && e.layout.IsRecordingFile(name) {
				if p.entity.MatchString(name) {
					p.recordings = append(p.recordings, move{from: path, to: filepath.Join(filepath.Dir(path), p.rewrite(name))})
				}
				return fs.SkipDir
			}
			if p.entity.MatchString(name) {
				p.dirs = append(p.dirs, move{from: path, to: filepath.Join(filepath.Dir(path), p.rewrite(name))})
			}
			return nil
		}
		if strings.HasSuffix(name, "_scans.tsv") {
			p.scans = append(p.scans, move{from: path, to: p.abs(p.future(p.rel(path)))})
		}
		if p.entity.MatchString(name) {
			p.files = append(p.files, move{from: path, to: filepath.Join(filepath.Dir(path), p.rewrite(name))})
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Children before parents so no path is invalidated mid-way.
	sort.SliceStable(p.dirs, func(i, j int) bool {
		di := strings.Count(p.dirs[i].from, string(filepath.Separator))
		dj := strings.Count(p.dirs[j].from, string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return p.dirs[i].from > p.dirs[j].from
	})
	return nil
}

// collectDocuments lists every JSON sidecar of the tree; any of them may
// cross-reference the renamed label.
func (e *Engine) collectDocuments(p *treePlan) error {
	subjects, err := bids.ListLabels(p.root, bids.PrefixSubject)
	if err != nil {
		return err
	}
	for _, subject := range subjects {
		dir := filepath.Join(p.root, bids.PrefixSubject+subject)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir && e.layout.IsRecordingFile(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(d.Name(), ".json") {
				p.documents = append(p.documents, move{from: path, to: p.abs(p.future(p.rel(path)))})
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// takenTarget returns the first planned destination that already exists.
func (p *treePlan) takenTarget() (string, bool) {
	for _, group := range [][]move{p.recordings, p.files, p.dirs} {
		for _, m := range group {
			if m.to == m.from {
				continue
			}
			if _, err := os.Lstat(m.to); err == nil {
				return m.to, true
			}
		}
	}
	return "", false
}
