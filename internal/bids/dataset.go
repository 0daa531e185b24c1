package bids

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Dataset-level file names.
const (
	DescriptionFile  = "dataset_description.json"
	IgnoreFile       = ".bidsignore"
	ParticipantsFile = "participants.tsv"

	// ParticipantColumn keys participants.tsv and the shift ledger.
	ParticipantColumn = "participant_id"
)

// Dataset is the in-memory view of one tree, rebuilt at the start of each
// operation.
type Dataset struct {
	Root     string
	Layout   Layout
	Subjects []*Subject
}

// Subject groups sessions under sub-<Label>.
type Subject struct {
	Label    string
	Dir      string
	Sessions []*Session
}

// Session is one ses-<Label> folder with its scan index.
type Session struct {
	Subject     string
	Label       string
	Dir         string
	ScansPath   string
	Scans       *sidecar.ScanIndex
	ScansExists bool
	Recordings  []*Recording
	// Unparsed lists recording-like entries whose names are not canonical.
	Unparsed []string
}

// Recording is one raw-source artifact.
type Recording struct {
	Name    Name
	Path    string
	Rel     string
	Entry   string
	Noise   bool
	Session *Session

	acquired time.Time
	known    bool
}

// Acquired returns the scan-index acquisition time.
func (r *Recording) Acquired() (time.Time, bool) { return r.acquired, r.known }

// SetAcquired overrides the acquisition time, e.g. from the raw source.
func (r *Recording) SetAcquired(t time.Time, known bool) { r.acquired, r.known = t, known }

// Load enumerates subjects, sessions and recordings under root.
func Load(root string, layout Layout) (*Dataset, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	ds := &Dataset{Root: root, Layout: layout}
	subjects, err := ListLabels(root, PrefixSubject)
	if err != nil {
		return nil, err
	}
	for _, label := range subjects {
		subj := &Subject{Label: label, Dir: layout.SubjectDir(root, label)}
		sessions, err := ListLabels(subj.Dir, PrefixSession)
		if err != nil {
			return nil, err
		}
		for _, sesLabel := range sessions {
			ses, err := loadSession(root, layout, label, sesLabel)
			if err != nil {
				return nil, err
			}
			subj.Sessions = append(subj.Sessions, ses)
		}
		ds.Subjects = append(ds.Subjects, subj)
	}
	return ds, nil
}

func loadSession(root string, layout Layout, subject, label string) (*Session, error) {
	ses := &Session{
		Subject:   subject,
		Label:     label,
		Dir:       layout.SessionDir(root, subject, label),
		ScansPath: layout.ScansPath(root, subject, label),
	}
	scans, exists, err := sidecar.LoadScanIndex(ses.ScansPath)
	if err != nil {
		return nil, fmt.Errorf("load scans %s: %w", ses.ScansPath, err)
	}
	ses.Scans, ses.ScansExists = scans, exists

	dataDir := layout.DataDir(root, subject, label)
	entries, err := os.ReadDir(dataDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, entry := range entries {
		if !layout.IsRecordingFile(entry.Name()) {
			continue
		}
		name, err := ParseName(entry.Name())
		if err != nil {
			ses.Unparsed = append(ses.Unparsed, entry.Name())
			continue
		}
		rec := &Recording{
			Name:    name,
			Path:    filepath.Join(dataDir, entry.Name()),
			Rel:     layout.RecordingRel(name),
			Entry:   layout.ScansEntry(name),
			Noise:   layout.IsNoise(name),
			Session: ses,
		}
		if i := scans.Find(rec.Entry); i >= 0 {
			rec.acquired, rec.known = scans.Rows[i].Time()
		}
		ses.Recordings = append(ses.Recordings, rec)
	}
	return ses, nil
}

// ListLabels returns the labels of child directories named <prefix><label>.
func ListLabels(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if label, ok := strings.CutPrefix(entry.Name(), prefix); ok && IsLabel(label) {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Subject looks up a subject by label.
func (d *Dataset) Subject(label string) *Subject {
	for _, s := range d.Subjects {
		if s.Label == label {
			return s
		}
	}
	return nil
}

// Recordings lists every recording, empty-room recordings first, each group
// in path order.
func (d *Dataset) Recordings() []*Recording {
	var noise, other []*Recording
	for _, subj := range d.Subjects {
		for _, ses := range subj.Sessions {
			for _, rec := range ses.Recordings {
				if rec.Noise {
					noise = append(noise, rec)
				} else {
					other = append(other, rec)
				}
			}
		}
	}
	sort.SliceStable(noise, func(i, j int) bool { return noise[i].Rel < noise[j].Rel })
	sort.SliceStable(other, func(i, j int) bool { return other[i].Rel < other[j].Rel })
	return append(noise, other...)
}

// NoiseRecordings lists empty-room recordings in path order.
func (d *Dataset) NoiseRecordings() []*Recording {
	var out []*Recording
	for _, rec := range d.Recordings() {
		if rec.Noise {
			out = append(out, rec)
		}
	}
	return out
}

// FindRecording resolves a dataset-relative path.
func (d *Dataset) FindRecording(rel string) *Recording {
	rel = path.Clean(filepath.ToSlash(rel))
	for _, rec := range d.Recordings() {
		if rec.Rel == rel {
			return rec
		}
	}
	return nil
}

// Session looks up a session by label.
func (s *Subject) Session(label string) *Session {
	for _, ses := range s.Sessions {
		if ses.Label == label {
			return ses
		}
	}
	return nil
}

// Day returns the calendar day of the earliest known scan time.
func (s *Session) Day() (time.Time, bool) {
	_, t, ok := s.Scans.Earliest(nil)
	if !ok {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

// IsNoise reports whether the session holds only empty-room recordings.
func (s *Session) IsNoise(layout Layout) bool {
	if s.Subject == layout.NoiseSubject {
		return true
	}
	if len(s.Recordings) == 0 {
		return false
	}
	for _, rec := range s.Recordings {
		if !rec.Noise {
			return false
		}
	}
	return true
}
