package report

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Moo-Marc/CtfMegBids/internal/logging"
)

// Level grades a message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Message codes shared across the engines.
const (
	CodeNonStandardTask    = "non_standard_task"
	CodeAcquisition        = "acquisition_qualifier"
	CodeIdentityKept       = "identity_kept"
	CodeOverrideMismatch   = "override_mismatch"
	CodeNoiseNotFound      = "noise_not_found"
	CodeOrphanRow          = "scans_orphan_row"
	CodeTimestampMismatch  = "scans_timestamp_mismatch"
	CodeDuplicateDay       = "duplicate_session_day"
	CodeMissingSidecar     = "missing_sidecar"
	CodeBadName            = "unparsable_name"
	CodeRenameNoMatch      = "rename_no_match"
	CodeCrossRefAmbiguous  = "cross_reference_needs_rebuild"
	CodeImplausibleDate    = "implausible_date"
	CodeUnfinishedRun      = "unfinished_run"
	CodeLedgerShiftChanged = "ledger_shift_changed"
)

// Message is one entry of the structured message log.
type Message struct {
	Level Level  `json:"level"`
	Code  string `json:"code"`
	Path  string `json:"path,omitempty"`
	Text  string `json:"text"`
}

// Action names a filesystem change.
type Action string

const (
	ActionWrite  Action = "write"
	ActionRename Action = "rename"
	ActionMove   Action = "move"
	ActionRemove Action = "remove"
)

// Change is one planned or performed mutation. Diff carries a unified diff
// for document rewrites.
type Change struct {
	Action  Action `json:"action"`
	Path    string `json:"path"`
	Target  string `json:"target,omitempty"`
	Diff    string `json:"diff,omitempty"`
	Applied bool   `json:"applied"`
}

// Log collects messages and changes for one invocation and mirrors them to
// the structured logger. The stream is identical in dry-run mode; only the
// Applied flag of changes differs.
type Log struct {
	DryRun  bool
	Verbose bool

	mu       sync.Mutex
	logger   *slog.Logger
	messages []Message
	changes  []Change
}

// New creates a message log.
func New(logger *slog.Logger, dryRun, verbose bool) *Log {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Log{DryRun: dryRun, Verbose: verbose, logger: logger}
}

// Logger returns the mirror logger.
func (l *Log) Logger() *slog.Logger {
	if l == nil || l.logger == nil {
		return logging.NewNop()
	}
	return l.logger
}

// Info records an informational message.
func (l *Log) Info(code, path, format string, args ...any) {
	l.add(Message{Level: LevelInfo, Code: code, Path: path, Text: fmt.Sprintf(format, args...)})
}

// Warn records a missing-data or policy warning. Processing continues.
func (l *Log) Warn(code, path, format string, args ...any) {
	l.add(Message{Level: LevelWarning, Code: code, Path: path, Text: fmt.Sprintf(format, args...)})
}

func (l *Log) add(msg Message) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	attrs := []logging.Attr{logging.String("code", msg.Code)}
	if msg.Path != "" {
		attrs = append(attrs, logging.Path(msg.Path))
	}
	if msg.Level == LevelWarning {
		logging.WarnWithContext(l.Logger(), msg.Text, msg.Code, attrs...)
		return
	}
	l.Logger().Info(msg.Text, logging.Args(attrs...)...)
}

// Record appends a change. Applied is forced to false in dry-run mode.
func (l *Log) Record(change Change) {
	if l == nil {
		return
	}
	if l.DryRun {
		change.Applied = false
	}
	l.mu.Lock()
	l.changes = append(l.changes, change)
	l.mu.Unlock()

	attrs := []logging.Attr{
		logging.String("action", string(change.Action)),
		logging.Path(change.Path),
		logging.Bool("dry_run", l.DryRun),
	}
	if change.Target != "" {
		attrs = append(attrs, logging.String("target", change.Target))
	}
	if l.Verbose || l.DryRun {
		l.Logger().Info("planned change", logging.Args(attrs...)...)
		if change.Diff != "" && l.Verbose {
			l.Logger().Info("diff\n" + strings.TrimRight(change.Diff, "\n"))
		}
		return
	}
	l.Logger().Debug("change", logging.Args(attrs...)...)
}

// Messages returns a copy of the recorded messages.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Changes returns a copy of the recorded changes.
func (l *Log) Changes() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Change, len(l.changes))
	copy(out, l.changes)
	return out
}

// Warnings returns only warning messages.
func (l *Log) Warnings() []Message {
	var out []Message
	for _, msg := range l.Messages() {
		if msg.Level == LevelWarning {
			out = append(out, msg)
		}
	}
	return out
}

// Count returns how many messages carry code.
func (l *Log) Count(code string) int {
	n := 0
	for _, msg := range l.Messages() {
		if msg.Code == code {
			n++
		}
	}
	return n
}

// Codes lists the distinct message codes in sorted order.
func (l *Log) Codes() []string {
	seen := map[string]struct{}{}
	for _, msg := range l.Messages() {
		seen[msg.Code] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for code := range seen {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
