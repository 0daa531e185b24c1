package testsupport

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/rawsource"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Dataset builds fixture trees of folder recordings and scan indexes.
type Dataset struct {
	t      testing.TB
	Root   string
	Layout bids.Layout
}

// NewDataset creates an empty dataset under a fresh temp directory.
func NewDataset(t testing.TB, layout bids.Layout) *Dataset {
	t.Helper()
	root := filepath.Join(t.TempDir(), "study")
	WriteText(t, filepath.Join(root, bids.DescriptionFile), "{\n    \"Name\": \"fixture\",\n    \"BIDSVersion\": \"1.8.0\"\n}\n")
	return &Dataset{t: t, Root: root, Layout: layout}
}

// At wraps an existing directory.
func At(t testing.TB, root string, layout bids.Layout) *Dataset {
	return &Dataset{t: t, Root: root, Layout: layout}
}

// RecordingOption customizes a fixture recording.
type RecordingOption func(*rawsource.Descriptor)

// WithHeadShape sets the digitized head points file name.
func WithHeadShape(name string) RecordingOption {
	return func(d *rawsource.Descriptor) { d.HeadShape = name }
}

// WithRawTime sets the embedded acquisition time independently of the scan
// index.
func WithRawTime(ts string) RecordingOption {
	return func(d *rawsource.Descriptor) { d.Acquired = ts }
}

// Recording writes a folder recording named filename (canonical name with
// extension) acquired at ts and records it in its session scan index. An
// empty ts writes n/a in the index and no embedded time.
func (d *Dataset) Recording(filename, ts string, opts ...RecordingOption) string {
	d.t.Helper()
	name, err := bids.ParseName(filename)
	if err != nil {
		d.t.Fatalf("fixture name: %v", err)
	}
	desc := rawsource.Descriptor{
		Name:     name.Stem(),
		Acquired: ts,
		Fields: map[string]any{
			"SamplingFrequency":  1200.0,
			"PowerLineFrequency": int64(60),
			"DewarPosition":      "upright",
			"Manufacturer":       "CTF",
		},
		Coordsystem: map[string]any{
			"MEGCoordinateSystem": "CTF",
			"MEGCoordinateUnits":  "cm",
		},
		Channels: []rawsource.Channel{
			{Name: "MLC11", Type: "MEGGRADAXIAL", Units: "T", SamplingFrequency: 1200},
			{Name: "UPPT001", Type: "TRIG", Units: "V", SamplingFrequency: 1200},
		},
	}
	for _, opt := range opts {
		opt(&desc)
	}
	path := d.Layout.RecordingPath(d.Root, name)
	if err := rawsource.WriteDescriptor(path, desc); err != nil {
		d.t.Fatalf("write recording %s: %v", path, err)
	}
	d.ScansRow(name.Subject, name.Session, d.Layout.ScansEntry(name), ts)
	return path
}

// ScansRow adds or replaces a scan-index row.
func (d *Dataset) ScansRow(subject, session, entry, ts string) {
	d.t.Helper()
	path := d.Layout.ScansPath(d.Root, subject, session)
	idx, _, err := sidecar.LoadScanIndex(path)
	if err != nil {
		d.t.Fatalf("load scans: %v", err)
	}
	if ts == "" {
		ts = sidecar.NotAvailable
	}
	idx.Upsert(entry, ts, true)
	WriteText(d.t, path, string(idx.Encode()))
}

// Write creates a dataset-relative file.
func (d *Dataset) Write(rel, content string) string {
	d.t.Helper()
	path := filepath.Join(d.Root, filepath.FromSlash(rel))
	WriteText(d.t, path, content)
	return path
}

// Read returns a dataset-relative file.
func (d *Dataset) Read(rel string) string {
	d.t.Helper()
	return ReadText(d.t, filepath.Join(d.Root, filepath.FromSlash(rel)))
}

// Has reports whether a dataset-relative path exists.
func (d *Dataset) Has(rel string) bool {
	return Exists(filepath.Join(d.Root, filepath.FromSlash(rel)))
}

// Scans returns the rows of a session index as "entry=time" strings in file
// order.
func (d *Dataset) Scans(subject, session string) []string {
	d.t.Helper()
	idx, _, err := sidecar.LoadScanIndex(d.Layout.ScansPath(d.Root, subject, session))
	if err != nil {
		d.t.Fatalf("load scans: %v", err)
	}
	out := make([]string, 0, len(idx.Rows))
	for _, r := range idx.Rows {
		out = append(out, r.Filename+"="+r.AcqTime)
	}
	return out
}

// Sessions lists session labels of a subject.
func (d *Dataset) Sessions(subject string) []string {
	d.t.Helper()
	labels, err := bids.ListLabels(d.Layout.SubjectDir(d.Root, subject), bids.PrefixSession)
	if err != nil {
		d.t.Fatalf("list sessions: %v", err)
	}
	sort.Strings(labels)
	return labels
}

// Snapshot captures every file of the dataset, excluding paths under any of
// the given prefixes.
func (d *Dataset) Snapshot(excludePrefixes ...string) map[string]string {
	d.t.Helper()
	return Snapshot(d.t, d.Root, func(rel string) bool {
		for _, p := range excludePrefixes {
			if strings.HasPrefix(rel, p) {
				return true
			}
		}
		return false
	})
}
