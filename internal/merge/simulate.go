package merge

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
)

type pathKind int

const (
	kindRecording pathKind = iota
	kindFile
	kindDir
)

// sessionPath is one entry of a session folder, relative to the dataset
// root of its side.
type sessionPath struct {
	rel  string
	kind pathKind
}

// simulator tracks session labels and folder contents in memory so a dry
// run can walk the same relabel sequence, scratch labels included, and
// report the same renames without touching either tree.
type simulator struct {
	labels map[Side]map[string]map[string]bool
	// current maps each original session label to the label it holds now.
	current map[Side]map[string]map[string]string
	paths   map[Side]map[string]map[string][]sessionPath
	layout  bids.Layout
	log     *report.Log
}

func newSimulator(dest, src *bids.Dataset, layout bids.Layout, log *report.Log) (*simulator, error) {
	s := &simulator{
		labels:  map[Side]map[string]map[string]bool{},
		current: map[Side]map[string]map[string]string{},
		paths:   map[Side]map[string]map[string][]sessionPath{},
		layout:  layout,
		log:     log,
	}
	for side, ds := range map[Side]*bids.Dataset{SideDestination: dest, SideSource: src} {
		s.labels[side] = map[string]map[string]bool{}
		s.current[side] = map[string]map[string]string{}
		s.paths[side] = map[string]map[string][]sessionPath{}
		for _, subj := range ds.Subjects {
			set := map[string]bool{}
			current := map[string]string{}
			paths := map[string][]sessionPath{}
			for _, tree := range append([]string{""}, layout.SubDatasets...) {
				dir := layout.SubjectDir(filepath.Join(ds.Root, tree), subj.Label)
				labels, err := bids.ListLabels(dir, bids.PrefixSession)
				if err != nil {
					return nil, ops.Wrap(ops.ErrIO, operation, "list sessions", dir, err)
				}
				for _, label := range labels {
					rel := path.Join(tree, bids.PrefixSubject+subj.Label, bids.PrefixSession+label)
					found, err := s.listSession(ds.Root, rel)
					if err != nil {
						return nil, ops.Wrap(ops.ErrIO, operation, "list session", rel, err)
					}
					set[label] = true
					current[label] = label
					paths[label] = append(paths[label], found...)
				}
			}
			s.labels[side][subj.Label] = set
			s.current[side][subj.Label] = current
			s.paths[side][subj.Label] = paths
		}
	}
	return s, nil
}

func (s *simulator) listSession(root, rel string) ([]sessionPath, error) {
	var out []sessionPath
	base := filepath.Join(root, filepath.FromSlash(rel))
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		r, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		entry := sessionPath{rel: filepath.ToSlash(r), kind: kindFile}
		if d.IsDir() {
			entry.kind = kindDir
			if p != base && s.layout.IsRecordingFile(d.Name()) {
				entry.kind = kindRecording
			}
		}
		out = append(out, entry)
		if entry.kind == kindRecording {
			return fs.SkipDir
		}
		return nil
	})
	return out, err
}

// future maps a dataset-relative path of one side to where it lives once
// the simulated relabels ran.
func (s *simulator) future(side Side, rel string) string {
	parts := strings.Split(rel, "/")
	for i := 0; i+1 < len(parts); i++ {
		subject, ok := strings.CutPrefix(parts[i], bids.PrefixSubject)
		if !ok {
			continue
		}
		label, ok := strings.CutPrefix(parts[i+1], bids.PrefixSession)
		if !ok {
			return rel
		}
		cur, ok := s.current[side][subject][label]
		if !ok || cur == label {
			return rel
		}
		return sessionToken(label).ReplaceAllString(rel, "${1}"+bids.PrefixSession+cur+"${2}")
	}
	return rel
}

// sessionToken matches ses-<label> as a whole name token.
func sessionToken(label string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[_/])` + regexp.QuoteMeta(bids.PrefixSession+label) + `([_./]|$)`)
}

func (s *simulator) side(side Side) relabeler { return simulated{s: s, side: side} }

type simulated struct {
	s    *simulator
	side Side
}

func (r simulated) RenameAvoiding(_ context.Context, subject, from, to string) (string, error) {
	if from == to {
		return "", nil
	}
	set := r.s.labels[r.side][subject]
	var aside string
	if set[to] {
		for n := 1; ; n++ {
			if scratch := fmt.Sprintf("%stmp%d", to, n); !set[scratch] {
				aside = scratch
				break
			}
		}
		if err := r.rename(subject, to, aside); err != nil {
			return "", err
		}
	}
	return aside, r.rename(subject, from, to)
}

// rename records the renames a real session rename performs: recordings,
// loose files, then directories deepest first, followed by the scan-index
// rewrite.
func (r simulated) rename(subject, from, to string) error {
	set := r.s.labels[r.side][subject]
	if set[to] {
		return ops.Wrap(ops.ErrConflict, operation, "relabel", fmt.Sprintf("%s%s already holds %s%s", bids.PrefixSubject, subject, bids.PrefixSession, to), nil)
	}
	delete(set, from)
	set[to] = true
	for orig, cur := range r.s.current[r.side][subject] {
		if cur == from {
			r.s.current[r.side][subject][orig] = to
		}
	}

	token := sessionToken(from)
	repl := "${1}" + bids.PrefixSession + to + "${2}"
	paths := r.s.paths[r.side][subject]
	entries := paths[from]
	for _, kind := range []pathKind{kindRecording, kindFile, kindDir} {
		var group []sessionPath
		for _, p := range entries {
			if p.kind == kind && token.MatchString(path.Base(p.rel)) {
				group = append(group, p)
			}
		}
		if kind == kindDir {
			sort.SliceStable(group, func(i, j int) bool {
				di, dj := strings.Count(group[i].rel, "/"), strings.Count(group[j].rel, "/")
				if di != dj {
					return di > dj
				}
				return group[i].rel > group[j].rel
			})
		}
		for _, p := range group {
			name := token.ReplaceAllString(path.Base(p.rel), repl)
			r.s.log.Record(report.Change{
				Action: report.ActionRename,
				Path:   r.qualify(p.rel),
				Target: r.qualify(path.Join(path.Dir(p.rel), name)),
			})
		}
	}

	moved := make([]sessionPath, 0, len(entries))
	for _, p := range entries {
		next := sessionPath{rel: token.ReplaceAllString(p.rel, repl), kind: p.kind}
		if next.kind == kindFile && strings.HasSuffix(next.rel, scansSuffix) {
			r.s.log.Record(report.Change{Action: report.ActionWrite, Path: r.qualify(next.rel)})
		}
		moved = append(moved, next)
	}
	delete(paths, from)
	if paths != nil {
		paths[to] = moved
	}
	return nil
}

// qualify prefixes a path with its side; both trees share relative paths.
func (r simulated) qualify(rel string) string {
	return string(r.side) + ":" + rel
}
