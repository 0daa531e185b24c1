package rawsource

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// DescriptorExt is the extension of the acquisition descriptor kept inside
// each recording folder.
const DescriptorExt = ".acq.toml"

// Descriptor is the acquisition header of a recording folder.
type Descriptor struct {
	Name        string         `toml:"name"`
	Acquired    string         `toml:"acquired"`
	HeadShape   string         `toml:"head_shape,omitempty"`
	Fields      map[string]any `toml:"fields,omitempty"`
	Coordsystem map[string]any `toml:"coordsystem,omitempty"`
	Channels    []Channel      `toml:"channels,omitempty"`
}

// Channel describes one acquisition channel.
type Channel struct {
	Name              string  `toml:"name"`
	Type              string  `toml:"type"`
	Units             string  `toml:"units"`
	SamplingFrequency float64 `toml:"sampling_frequency,omitempty"`
	LowCutoff         float64 `toml:"low_cutoff,omitempty"`
	HighCutoff        float64 `toml:"high_cutoff,omitempty"`
}

// DSAdapter reads and rewrites folder recordings whose members share the
// folder stem (<stem>.meg4, <stem>.res4, <stem>.acq.toml, ...).
type DSAdapter struct{}

// NewDSAdapter returns the folder-recording adapter.
func NewDSAdapter() *DSAdapter { return &DSAdapter{} }

func stemOf(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

func descriptorPath(path string) string {
	return filepath.Join(path, stemOf(path)+DescriptorExt)
}

// ReadDescriptor loads the descriptor of a recording folder.
func ReadDescriptor(path string) (*Descriptor, []byte, error) {
	data, err := os.ReadFile(descriptorPath(path))
	if err != nil {
		return nil, nil, fmt.Errorf("read descriptor: %w", err)
	}
	var d Descriptor
	if err := toml.Unmarshal(data, &d); err != nil {
		return nil, nil, fmt.Errorf("parse descriptor %s: %w", descriptorPath(path), err)
	}
	return &d, data, nil
}

// WriteDescriptor creates a recording folder holding a descriptor and an
// empty data member. It is used to author fixtures and imports.
func WriteDescriptor(path string, d Descriptor) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}
	if d.Name == "" {
		d.Name = stemOf(path)
	}
	data, err := toml.Marshal(d)
	if err != nil {
		return err
	}
	if err := os.WriteFile(descriptorPath(path), data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(path, stemOf(path)+".meg4"), []byte("MEG41CP\x00"), 0o644)
}

func parseAcquired(s string) (time.Time, bool) {
	return sidecar.ParseTime(s)
}

func (a *DSAdapter) ReadTimestamp(path string) (time.Time, error) {
	d, _, err := ReadDescriptor(path)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := parseAcquired(d.Acquired)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrNoTimestamp, path)
	}
	return t, nil
}

var (
	nameLine     = regexp.MustCompile(`(?m)^(\s*name\s*=\s*)(['"])[^'"\n]*(['"])`)
	acquiredLine = regexp.MustCompile(`(?m)^(\s*acquired\s*=\s*)(['"])[^'"\n]*(['"])`)
	tableHeader  = regexp.MustCompile(`(?m)^\s*\[`)
)

// replaceValue swaps a quoted top-level value, keeping the quote style so a
// rename followed by its inverse restores the original bytes.
func replaceValue(re *regexp.Regexp, data []byte, value string) []byte {
	head := data
	if loc := tableHeader.FindIndex(data); loc != nil {
		head = data[:loc[0]]
	}
	m := re.FindSubmatchIndex(head)
	if m == nil {
		return data
	}
	var out bytes.Buffer
	out.Write(data[:m[0]])
	out.Write(re.Expand(nil, []byte("${1}${2}"+value+"${3}"), data, m))
	out.Write(data[m[1]:])
	return out.Bytes()
}

func (a *DSAdapter) RewriteIdentifierAndDate(path, newName string, newDate *time.Time) error {
	if strings.ContainsAny(newName, `/\`) {
		return fmt.Errorf("new name %q must not contain a path separator", newName)
	}
	d, data, err := ReadDescriptor(path)
	if err != nil {
		return err
	}
	oldStem := stemOf(path)
	newStem := stemOf(newName)
	target := filepath.Join(filepath.Dir(path), newName)
	if target != path {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("target %s already exists", target)
		}
	}

	updated := data
	if d.Name != newStem {
		updated = replaceValue(nameLine, updated, newStem)
	}
	if newDate != nil {
		current, ok := parseAcquired(d.Acquired)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoTimestamp, path)
		}
		shifted := time.Date(newDate.Year(), newDate.Month(), newDate.Day(),
			current.Hour(), current.Minute(), current.Second(), current.Nanosecond(), current.Location())
		value := shifted.Format(sidecar.TimeLayout)
		if !shifted.Equal(current) {
			updated = replaceValue(acquiredLine, updated, value)
		}
	}
	if !bytes.Equal(updated, data) {
		if err := os.WriteFile(descriptorPath(path), updated, 0o644); err != nil {
			return fmt.Errorf("write descriptor: %w", err)
		}
	}

	if oldStem != newStem {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			rest, ok := strings.CutPrefix(entry.Name(), oldStem)
			if !ok {
				continue
			}
			if err := os.Rename(filepath.Join(path, entry.Name()), filepath.Join(path, newStem+rest)); err != nil {
				return fmt.Errorf("rename member %s: %w", entry.Name(), err)
			}
		}
	}
	if target != path {
		if err := os.Rename(path, target); err != nil {
			return fmt.Errorf("rename recording: %w", err)
		}
	}
	return nil
}

func (a *DSAdapter) Extract(path string) (*Extraction, error) {
	d, _, err := ReadDescriptor(path)
	if err != nil {
		return nil, err
	}
	ex := &Extraction{HeadShape: d.HeadShape}
	ex.Acquired, ex.Known = parseAcquired(d.Acquired)

	ex.Recording = documentFromMap(d.Fields)
	ex.Coordsystem = documentFromMap(d.Coordsystem)

	ex.Channels = sidecar.NewTable("name", "type", "units", "low_cutoff", "high_cutoff", "sampling_frequency", "status")
	for _, ch := range d.Channels {
		ex.Channels.AppendRow(map[string]string{
			"name":               ch.Name,
			"type":               ch.Type,
			"units":              ch.Units,
			"low_cutoff":         formatCutoff(ch.LowCutoff),
			"high_cutoff":        formatCutoff(ch.HighCutoff),
			"sampling_frequency": formatCutoff(ch.SamplingFrequency),
			"status":             "good",
		})
	}
	return ex, nil
}

func formatCutoff(f float64) string {
	if f == 0 {
		return sidecar.NotAvailable
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func documentFromMap(m map[string]any) *sidecar.Document {
	doc := sidecar.NewDocument()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.Set(k, valueOf(m[k]))
	}
	return doc
}

func valueOf(v any) sidecar.Value {
	switch t := v.(type) {
	case nil:
		return sidecar.Null()
	case string:
		return sidecar.String(t)
	case bool:
		return sidecar.Bool(t)
	case int64:
		return sidecar.Int(t)
	case float64:
		return sidecar.Float(t)
	case time.Time:
		return sidecar.Time(t)
	case toml.LocalDateTime:
		return sidecar.Time(t.AsTime(time.UTC))
	case toml.LocalDate:
		return sidecar.String(t.String())
	case []any:
		items := make([]sidecar.Value, len(t))
		for i := range t {
			items[i] = valueOf(t[i])
		}
		return sidecar.List(items...)
	case map[string]any:
		return sidecar.Doc(documentFromMap(t))
	}
	return sidecar.String(fmt.Sprint(v))
}

// IsRecording reports whether path looks like a folder recording.
func IsRecording(path string) bool {
	info, err := os.Stat(descriptorPath(path))
	return err == nil && !info.IsDir()
}
