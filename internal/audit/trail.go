package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/fileutil"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// Columns of an audit table, in file order.
var Columns = []string{"run_id", "operation", "subject", "side", "original", "temporary", "final", "date", "action", "status"}

// Statuses recorded per entry.
const (
	StatusPlanned = "planned"
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Entry is one label change of a merge or rename run.
type Entry struct {
	Subject   string `json:"subject"`
	Side      string `json:"side,omitempty"`
	Original  string `json:"original"`
	Temporary string `json:"temporary,omitempty"`
	Final     string `json:"final"`
	Date      string `json:"date,omitempty"`
	Action    string `json:"action"`
	Status    string `json:"status"`
}

// Trail is the audit table of one run. It is saved before and after the
// destructive phase so an interrupted run can be reviewed and resumed.
type Trail struct {
	RunID     string
	Operation string
	Path      string

	mu      sync.Mutex
	entries []Entry
}

// timeLayout is filesystem safe and sorts chronologically.
const timeLayout = "20060102T150405"

// New creates a trail whose file lives in dir.
func New(dir, operation, runID string, now time.Time) *Trail {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s_%s_%s.tsv", operation, now.UTC().Format(timeLayout), short)
	return &Trail{RunID: runID, Operation: operation, Path: filepath.Join(dir, name)}
}

// Add appends an entry and returns its index.
func (t *Trail) Add(e Entry) int {
	if t == nil {
		return -1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	return len(t.entries) - 1
}

// Update mutates the entry at i.
func (t *Trail) Update(i int, fn func(*Entry)) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= 0 && i < len(t.entries) {
		fn(&t.entries[i])
	}
}

// MarkAll sets the status of every entry still in from.
func (t *Trail) MarkAll(from, to string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].Status == from {
			t.entries[i].Status = to
		}
	}
}

// Entries returns a copy of the entries.
func (t *Trail) Entries() []Entry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Table renders the trail.
func (t *Trail) Table() *sidecar.Table {
	table := sidecar.NewTable(Columns...)
	for _, e := range t.Entries() {
		table.Rows = append(table.Rows, []string{
			t.RunID, t.Operation, e.Subject, na(e.Side), na(e.Original), na(e.Temporary),
			na(e.Final), na(e.Date), e.Action, e.Status,
		})
	}
	return table
}

// Save writes the trail atomically.
func (t *Trail) Save() error {
	if t == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.Path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	if err := fileutil.WriteFileAtomic(t.Path, t.Table().Encode(), 0o644); err != nil {
		return fmt.Errorf("write audit trail: %w", err)
	}
	return nil
}

// Load reads a saved trail.
func Load(path string) (*Trail, error) {
	table, ok, err := sidecar.LoadTable(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("audit trail %s: %w", path, os.ErrNotExist)
	}
	t := &Trail{Path: path}
	for i := range table.Rows {
		if t.RunID == "" {
			t.RunID = table.Cell(i, "run_id")
			t.Operation = table.Cell(i, "operation")
		}
		t.entries = append(t.entries, Entry{
			Subject:   table.Cell(i, "subject"),
			Side:      unset(table.Cell(i, "side")),
			Original:  unset(table.Cell(i, "original")),
			Temporary: unset(table.Cell(i, "temporary")),
			Final:     unset(table.Cell(i, "final")),
			Date:      unset(table.Cell(i, "date")),
			Action:    table.Cell(i, "action"),
			Status:    table.Cell(i, "status"),
		})
	}
	return t, nil
}

// List returns the trail files in dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".tsv") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return trailTime(out[i]) < trailTime(out[j])
	})
	return out, nil
}

func trailTime(path string) string {
	parts := strings.Split(strings.TrimSuffix(filepath.Base(path), ".tsv"), "_")
	if len(parts) < 3 {
		return filepath.Base(path)
	}
	return parts[len(parts)-2] + filepath.Base(path)
}

func na(s string) string {
	if s == "" {
		return sidecar.NotAvailable
	}
	return s
}

func unset(s string) string {
	if s == sidecar.NotAvailable {
		return ""
	}
	return s
}
