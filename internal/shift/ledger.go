package shift

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Ledger columns.
const (
	ColumnShift     = "shift_days"
	ColumnReference = "reference_scan"
	ColumnReal      = "real_acq_time"
	ColumnShifted   = "shifted_acq_time"
)

// ErrLocked reports a ledger held by another process.
var ErrLocked = errors.New("shift ledger is locked by another process")

// Entry is one subject's ledger row.
type Entry struct {
	Subject string
	// Days is the constant shift applied to every timestamp of the subject.
	// Unset (or zero) means the subject has not been shifted yet.
	Days      int
	Set       bool
	Reference string
	Real      time.Time
	Shifted   time.Time
}

func (e Entry) row() []string {
	days := sidecar.NotAvailable
	if e.Set {
		days = strconv.Itoa(e.Days)
	}
	return []string{
		bids.PrefixSubject + e.Subject,
		days,
		orNA(e.Reference),
		sidecar.FormatScanTime(e.Real, !e.Real.IsZero()),
		sidecar.FormatScanTime(e.Shifted, !e.Shifted.IsZero()),
	}
}

// Ledger is the persistent per-subject shift record. It is bound to one
// invocation: Open takes an advisory lock and Close saves pending changes
// and releases it.
type Ledger struct {
	path    string
	writer  *sidecar.Writer
	lock    *flock.Flock
	entries []Entry
	dirty   bool
}

// Open loads the ledger at path. Outside dry runs the sibling <path>.lock is
// locked until Close.
func Open(path string, writer *sidecar.Writer) (*Ledger, error) {
	l := &Ledger{path: path, writer: writer}
	if !writer.DryRun {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ops.Wrap(ops.ErrIO, operation, "open ledger", path, err)
		}
		l.lock = flock.New(path + ".lock")
		ok, err := l.lock.TryLock()
		if err != nil {
			return nil, ops.Wrap(ops.ErrIO, operation, "lock ledger", path, err)
		}
		if !ok {
			return nil, ops.Wrap(ops.ErrConflict, operation, "lock ledger", path, ErrLocked)
		}
	}
	entries, err := Read(path)
	if err != nil {
		_ = l.unlock()
		return nil, ops.Wrap(ops.ErrIO, operation, "load ledger", path, err)
	}
	l.entries = entries
	return l, nil
}

// Read parses a ledger file without locking it. A missing file is an empty
// ledger.
func Read(path string) ([]Entry, error) {
	table, ok, err := sidecar.LoadTable(path)
	if err != nil || !ok {
		return nil, err
	}
	if table.Column(bids.ParticipantColumn) < 0 {
		return nil, fmt.Errorf("%s: missing %s column", path, bids.ParticipantColumn)
	}
	var out []Entry
	for i := range table.Rows {
		subject, ok := strings.CutPrefix(table.Cell(i, bids.ParticipantColumn), bids.PrefixSubject)
		if !ok || subject == "" {
			continue
		}
		e := Entry{Subject: subject, Reference: table.Cell(i, ColumnReference)}
		if e.Reference == sidecar.NotAvailable {
			e.Reference = ""
		}
		if days, err := strconv.Atoi(strings.TrimSpace(table.Cell(i, ColumnShift))); err == nil && days != 0 {
			e.Days, e.Set = days, true
		}
		e.Real, _ = sidecar.ParseTime(table.Cell(i, ColumnReal))
		e.Shifted, _ = sidecar.ParseTime(table.Cell(i, ColumnShifted))
		out = append(out, e)
	}
	return out, nil
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Get returns the entry of a subject.
func (l *Ledger) Get(subject string) (Entry, bool) {
	for _, e := range l.entries {
		if e.Subject == subject {
			return e, true
		}
	}
	return Entry{}, false
}

// Put adds or replaces a subject's entry.
func (l *Ledger) Put(e Entry) {
	for i, cur := range l.entries {
		if cur.Subject != e.Subject {
			continue
		}
		if !equalEntries(cur, e) {
			l.entries[i] = e
			l.dirty = true
		}
		return
	}
	l.entries = append(l.entries, e)
	l.dirty = true
}

// Entries returns a copy of the entries sorted by subject.
func (l *Ledger) Entries() []Entry {
	out := append([]Entry(nil), l.entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

// Dirty reports unsaved changes.
func (l *Ledger) Dirty() bool { return l.dirty }

// Close saves the ledger when modified and releases the lock. It is safe to
// call more than once.
func (l *Ledger) Close() error {
	var errs []error
	if l.dirty {
		if err := l.save(); err != nil {
			errs = append(errs, err)
		} else {
			l.dirty = false
		}
	}
	if err := l.unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock ledger: %w", err))
	}
	return errors.Join(errs...)
}

func (l *Ledger) save() error {
	table := sidecar.NewTable(bids.ParticipantColumn, ColumnShift, ColumnReference, ColumnReal, ColumnShifted)
	for _, e := range l.Entries() {
		table.Rows = append(table.Rows, e.row())
	}
	if _, err := l.writer.WriteTable(l.path, table); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	desc := descriptionPath(l.path)
	if _, err := os.Stat(desc); err == nil {
		return nil
	}
	if _, err := l.writer.WriteDocument(desc, columnDescriptions()); err != nil {
		return fmt.Errorf("write ledger description: %w", err)
	}
	return nil
}

func (l *Ledger) unlock() error {
	if l.lock == nil {
		return nil
	}
	err := l.lock.Unlock()
	l.lock = nil
	return err
}

func descriptionPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
}

func columnDescriptions() *sidecar.Document {
	doc := sidecar.NewDocument()
	for _, c := range [][2]string{
		{bids.ParticipantColumn, "Subject whose timestamps are shifted."},
		{ColumnShift, "Whole days added to every real acquisition time of the subject."},
		{ColumnReference, "Scan, relative to the subject folder, whose real time set the shift."},
		{ColumnReal, "Real acquisition time of the reference scan."},
		{ColumnShifted, "Acquisition time of the reference scan after shifting."},
	} {
		col := sidecar.NewDocument()
		col.SetString("Description", c[1])
		doc.Set(c[0], sidecar.Doc(col))
	}
	return doc
}

func equalEntries(a, b Entry) bool {
	return a.Subject == b.Subject && a.Days == b.Days && a.Set == b.Set &&
		a.Reference == b.Reference && a.Real.Equal(b.Real) && a.Shifted.Equal(b.Shifted)
}

func orNA(s string) string {
	if s == "" {
		return sidecar.NotAvailable
	}
	return s
}
