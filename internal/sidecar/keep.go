package sidecar

import (
	"fmt"
	"strings"
)

// Sidecar kinds addressed by keep specs.
const (
	KindRecording   = "meg"
	KindChannels    = "channels"
	KindEvents      = "events"
	KindCoordsystem = "coordsystem"
	KindScans       = "scans"
	KindDataset     = "dataset"
)

// KeepSpec lists existing sidecar fields that survive a rebuild. Entries are
// "kind:field", "kind:*" or "*".
type KeepSpec struct {
	all    bool
	kinds  map[string]bool
	fields map[string]map[string]bool
}

// ParseKeepSpec parses a comma separated keep list.
func ParseKeepSpec(spec string) (KeepSpec, error) {
	var items []string
	for _, part := range strings.Split(spec, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return NewKeepSpec(items...)
}

// NewKeepSpec builds a spec from individual entries.
func NewKeepSpec(items ...string) (KeepSpec, error) {
	k := KeepSpec{kinds: map[string]bool{}, fields: map[string]map[string]bool{}}
	for _, item := range items {
		if item == "*" {
			k.all = true
			continue
		}
		kind, field, ok := strings.Cut(item, ":")
		if !ok || kind == "" || field == "" {
			return KeepSpec{}, fmt.Errorf("keep entry %q must be kind:field", item)
		}
		if field == "*" {
			k.kinds[kind] = true
			continue
		}
		if k.fields[kind] == nil {
			k.fields[kind] = map[string]bool{}
		}
		k.fields[kind][field] = true
	}
	return k, nil
}

// Keeps reports whether the existing value of field in kind is preserved.
func (k KeepSpec) Keeps(kind, field string) bool {
	return k.all || k.kinds[kind] || k.fields[kind][field]
}

// Fields lists the explicit fields kept for a kind.
func (k KeepSpec) Fields(kind string) []string {
	var out []string
	for f := range k.fields[kind] {
		out = append(out, f)
	}
	return out
}

// Resolve applies the three-tier precedence: curator overrides over kept
// existing fields over extracted values. Key order follows extracted, then
// existing, then overrides. Fields in always are kept from existing even
// when the keep spec does not name them.
func Resolve(kind string, extracted, existing, overrides *Document, keep KeepSpec, always ...string) *Document {
	out := extracted.Clone()
	if out == nil {
		out = NewDocument()
	}
	for _, key := range existing.Keys() {
		if keep.Keeps(kind, key) || containsString(always, key) {
			v, _ := existing.Get(key)
			out.Set(key, v)
		}
	}
	for _, key := range overrides.Keys() {
		v, _ := overrides.Get(key)
		out.Set(key, v)
	}
	return out
}
