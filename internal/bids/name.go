package bids

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadName marks a file name that does not follow the canonical grammar.
var ErrBadName = errors.New("not a canonical recording name")

// Entity prefixes.
const (
	PrefixSubject     = "sub-"
	PrefixSession     = "ses-"
	PrefixTask        = "task-"
	PrefixAcquisition = "acq-"
	PrefixRun         = "run-"
)

// Name is the composite key of a recording or sidecar file:
// sub-<S>_ses-<T>_task-<K>[_acq-<A>][_run-<R>]_<suffix><ext>.
type Name struct {
	Subject     string
	Session     string
	Task        string
	Acquisition string
	Run         string
	Suffix      string
	Extension   string
}

// ParseName decomposes a canonical file name.
func ParseName(filename string) (Name, error) {
	var n Name
	stem := filename
	if i := strings.IndexByte(filename, '.'); i >= 0 {
		stem, n.Extension = filename[:i], filename[i:]
	}
	parts := strings.Split(stem, "_")
	if len(parts) < 4 {
		return Name{}, fmt.Errorf("%w: %q", ErrBadName, filename)
	}
	expect := func(part, prefix string) (string, bool) {
		label, ok := strings.CutPrefix(part, prefix)
		return label, ok && IsLabel(label)
	}
	var ok bool
	if n.Subject, ok = expect(parts[0], PrefixSubject); !ok {
		return Name{}, fmt.Errorf("%w: %q: bad subject entity", ErrBadName, filename)
	}
	if n.Session, ok = expect(parts[1], PrefixSession); !ok {
		return Name{}, fmt.Errorf("%w: %q: bad session entity", ErrBadName, filename)
	}
	if n.Task, ok = expect(parts[2], PrefixTask); !ok {
		return Name{}, fmt.Errorf("%w: %q: bad task entity", ErrBadName, filename)
	}
	rest := parts[3 : len(parts)-1]
	if len(rest) > 0 {
		if label, ok := expect(rest[0], PrefixAcquisition); ok {
			n.Acquisition = label
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		if label, ok := expect(rest[0], PrefixRun); ok {
			n.Run = label
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		return Name{}, fmt.Errorf("%w: %q: unexpected entity %q", ErrBadName, filename, rest[0])
	}
	n.Suffix = parts[len(parts)-1]
	if !IsLabel(n.Suffix) {
		return Name{}, fmt.Errorf("%w: %q: bad suffix", ErrBadName, filename)
	}
	return n, nil
}

// Base is the entity part of the name without suffix and extension.
func (n Name) Base() string {
	var b strings.Builder
	b.WriteString(PrefixSubject + n.Subject)
	b.WriteString("_" + PrefixSession + n.Session)
	b.WriteString("_" + PrefixTask + n.Task)
	if n.Acquisition != "" {
		b.WriteString("_" + PrefixAcquisition + n.Acquisition)
	}
	if n.Run != "" {
		b.WriteString("_" + PrefixRun + n.Run)
	}
	return b.String()
}

// Stem is the name without extension.
func (n Name) Stem() string { return n.Base() + "_" + n.Suffix }

// String renders the full file name.
func (n Name) String() string { return n.Stem() + n.Extension }

// Sidecar names a companion file of the same recording.
func (n Name) Sidecar(suffix, ext string) string { return n.Base() + "_" + suffix + ext }

// SameIdentity compares the identifying entities.
func (n Name) SameIdentity(o Name) bool {
	return n.Subject == o.Subject && n.Session == o.Session && n.Task == o.Task &&
		n.Acquisition == o.Acquisition && n.Run == o.Run
}

// Validate checks every present entity label.
func (n Name) Validate() error {
	for entity, label := range map[string]string{"subject": n.Subject, "session": n.Session, "task": n.Task, "suffix": n.Suffix} {
		if !IsLabel(label) {
			return fmt.Errorf("%w: %s label %q", ErrBadName, entity, label)
		}
	}
	for entity, label := range map[string]string{"acquisition": n.Acquisition, "run": n.Run} {
		if label != "" && !IsLabel(label) {
			return fmt.Errorf("%w: %s label %q", ErrBadName, entity, label)
		}
	}
	return nil
}

// IsLabel reports whether s is a non-empty ASCII alphanumeric label.
func IsLabel(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
