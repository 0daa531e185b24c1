package overrides

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Identifying fields an override may change.
const (
	FieldName        = "Name"
	FieldSubject     = "Subject"
	FieldSession     = "Session"
	FieldTask        = "Task"
	FieldAcquisition = "Acquisition"
	FieldRun         = "Run"
)

var identityFields = []string{FieldSubject, FieldSession, FieldTask, FieldAcquisition, FieldRun}

// Catalog loads curator-authored overrides keyed by canonical recording
// name. JSON, YAML and tab-separated files are accepted; the format follows
// the file extension.
type Catalog struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	loaded  time.Time
	entries []Override
	dataset *sidecar.Document
}

// Override pins identifying entities and recording-document fields of one
// recording.
type Override struct {
	// Name is the canonical recording name without extension. Matching is
	// exact and case-sensitive.
	Name     string
	Identity map[string]string
	Fields   *sidecar.Document
}

// NewCatalog constructs a catalog backed by the provided file.
func NewCatalog(path string, logger *slog.Logger) *Catalog {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{path: trimmed, logger: logger}
}

// FromEntries builds an in-memory catalog.
func FromEntries(entries []Override, dataset *sidecar.Document) *Catalog {
	c := &Catalog{logger: slog.Default(), dataset: dataset}
	for _, e := range entries {
		e.normalize()
		c.entries = append(c.entries, e)
	}
	return c
}

// Entries returns the overrides in file order.
func (c *Catalog) Entries() ([]Override, error) {
	if c == nil {
		return nil, nil
	}
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Override, len(c.entries))
	copy(out, c.entries)
	return out, nil
}

// Lookup returns the override for a canonical name.
func (c *Catalog) Lookup(name string) (Override, bool, error) {
	entries, err := c.Entries()
	if err != nil {
		return Override{}, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, true, nil
		}
	}
	return Override{}, false, nil
}

// Dataset returns dataset-description overrides, if any.
func (c *Catalog) Dataset() (*sidecar.Document, error) {
	if c == nil {
		return nil, nil
	}
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataset, nil
}

// Validate rejects names that embed a path separator and duplicate names.
// Both are usage errors reported once for the whole catalog.
func (c *Catalog) Validate() error {
	entries, err := c.Entries()
	if err != nil {
		return err
	}
	seen := map[string]struct{}{}
	var bad []string
	for _, e := range entries {
		if e.Name == "" {
			return ops.Wrap(ops.ErrUsage, "overrides", "validate", "override without Name", nil)
		}
		if strings.ContainsAny(e.Name, `/\`) {
			bad = append(bad, e.Name)
			continue
		}
		if _, ok := seen[e.Name]; ok {
			return ops.Wrap(ops.ErrUsage, "overrides", "validate", fmt.Sprintf("duplicate override name %q", e.Name), nil)
		}
		seen[e.Name] = struct{}{}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return ops.Wrap(ops.ErrUsage, "overrides", "validate",
			fmt.Sprintf("override names must be bare recording names without a path: %s", strings.Join(bad, ", ")), nil)
	}
	return nil
}

// Apply returns name with the override's identifying entities applied.
func (o Override) Apply(name bids.Name) bids.Name {
	for field, value := range o.Identity {
		switch field {
		case FieldSubject:
			name.Subject = value
		case FieldSession:
			name.Session = value
		case FieldTask:
			name.Task = value
		case FieldAcquisition:
			name.Acquisition = value
		case FieldRun:
			name.Run = value
		}
	}
	return name
}

func (c *Catalog) ensureLoaded() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ops.Wrap(ops.ErrUsage, "overrides", "load", "overrides file not found: "+path, err)
		}
		return err
	}

	c.mu.RLock()
	alreadyLoaded := !c.loaded.IsZero() && c.loaded.Equal(info.ModTime())
	c.mu.RUnlock()
	if alreadyLoaded {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	entries, dataset, err := parse(filepath.Ext(path), data)
	if err != nil {
		return ops.Wrap(ops.ErrUsage, "overrides", "parse", path, err)
	}

	c.mu.Lock()
	c.entries = entries
	c.dataset = dataset
	c.loaded = info.ModTime()
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.Info("loaded curator overrides", slog.String("path", path), slog.Int("count", len(entries)))
	}
	return nil
}

func parse(ext string, data []byte) ([]Override, *sidecar.Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}
	var (
		entries []Override
		dataset *sidecar.Document
		err     error
	)
	switch strings.ToLower(ext) {
	case ".json":
		entries, dataset, err = parseJSON(data)
	case ".yaml", ".yml":
		entries, dataset, err = parseYAML(data)
	case ".tsv":
		entries, err = parseTSV(data)
	default:
		return nil, nil, fmt.Errorf("unsupported overrides format %q", ext)
	}
	if err != nil {
		return nil, nil, err
	}
	for i := range entries {
		entries[i].normalize()
	}
	return entries, dataset, nil
}

// fromDocument splits one record into name, identity and document fields.
func fromDocument(doc *sidecar.Document) (Override, error) {
	o := Override{Identity: map[string]string{}, Fields: sidecar.NewDocument()}
	for _, key := range doc.Keys() {
		v, _ := doc.Get(key)
		switch {
		case key == FieldName:
			s, ok := v.Str()
			if !ok {
				return Override{}, errors.New("Name must be a string")
			}
			o.Name = s
		case isIdentityField(key):
			s, ok := v.Str()
			if !ok {
				if f, isNum := v.Float(); isNum {
					s = fmt.Sprint(f)
				} else {
					return Override{}, fmt.Errorf("%s must be a string", key)
				}
			}
			o.Identity[key] = s
		default:
			o.Fields.Set(key, v)
		}
	}
	return o, nil
}

func isIdentityField(key string) bool {
	for _, f := range identityFields {
		if f == key {
			return true
		}
	}
	return false
}

func (o *Override) normalize() {
	o.Name = strings.TrimSpace(o.Name)
	for k, v := range o.Identity {
		o.Identity[k] = strings.TrimSpace(v)
	}
	if o.Fields == nil {
		o.Fields = sidecar.NewDocument()
	}
}
