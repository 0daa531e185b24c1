package bids

import (
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"

	"github.com/Moo-Marc/CtfMegBids/internal/config"
)

// Layout captures the directory conventions of a dataset tree.
type Layout struct {
	Datatype      string
	RecordingExt  string
	NoiseSubject  string
	NoiseTask     string
	NoiseSynonyms []string
	SubDatasets   []string
}

// LayoutFromConfig derives the layout from configuration.
func LayoutFromConfig(cfg *config.Config) Layout {
	return Layout{
		Datatype:      cfg.Dataset.Datatype,
		RecordingExt:  cfg.Dataset.RecordingExtension,
		NoiseSubject:  cfg.Dataset.NoiseSubject,
		NoiseTask:     cfg.Dataset.NoiseTask,
		NoiseSynonyms: append([]string(nil), cfg.Dataset.NoiseSynonyms...),
		SubDatasets:   append([]string(nil), cfg.Dataset.SubDatasets...),
	}
}

// DefaultLayout is the layout of the default configuration.
func DefaultLayout() Layout {
	cfg := config.Default()
	return LayoutFromConfig(&cfg)
}

func (l Layout) SubjectDir(root, subject string) string {
	return filepath.Join(root, PrefixSubject+subject)
}

func (l Layout) SessionDir(root, subject, session string) string {
	return filepath.Join(l.SubjectDir(root, subject), PrefixSession+session)
}

func (l Layout) DataDir(root, subject, session string) string {
	return filepath.Join(l.SessionDir(root, subject, session), l.Datatype)
}

// ScansName is the scan-index file name of a session.
func (l Layout) ScansName(subject, session string) string {
	return PrefixSubject + subject + "_" + PrefixSession + session + "_scans.tsv"
}

func (l Layout) ScansPath(root, subject, session string) string {
	return filepath.Join(l.SessionDir(root, subject, session), l.ScansName(subject, session))
}

// RecordingPath is the absolute location of a recording or its sidecar.
func (l Layout) RecordingPath(root string, n Name) string {
	return filepath.Join(l.DataDir(root, n.Subject, n.Session), n.String())
}

// RecordingRel is the dataset-relative, slash-separated path of a file.
func (l Layout) RecordingRel(n Name) string {
	return path.Join(PrefixSubject+n.Subject, PrefixSession+n.Session, l.Datatype, n.String())
}

// ScansEntry is the session-relative path used in scan-index rows.
func (l Layout) ScansEntry(n Name) string {
	return path.Join(l.Datatype, n.String())
}

// IsRecordingFile reports whether a data-directory entry is a recording.
func (l Layout) IsRecordingFile(name string) bool {
	return strings.HasSuffix(name, l.RecordingExt) && !strings.HasPrefix(name, ".")
}

// Fold returns the case-folded form used to compare task labels.
func Fold(s string) string { return cases.Fold().String(s) }

// IsNoise reports whether a name marks an empty-room recording.
func (l Layout) IsNoise(n Name) bool {
	if n.Subject == l.NoiseSubject {
		return true
	}
	task := Fold(n.Task)
	if task == Fold(l.NoiseTask) {
		return true
	}
	for _, syn := range l.NoiseSynonyms {
		if task == Fold(syn) {
			return true
		}
	}
	return false
}
