package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Status is the lifecycle state of a run or step.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusPlanned marks a step a run planned but never carried out.
	StatusPlanned Status = "planned"
)

// Run is one invocation of a dataset operation.
type Run struct {
	ID           string    `json:"id"`
	Operation    string    `json:"operation"`
	DatasetRoot  string    `json:"dataset_root"`
	Arguments    string    `json:"arguments"`
	DryRun       bool      `json:"dry_run"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Warnings     int       `json:"warnings"`
	Changes      int       `json:"changes"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Step is a completed unit of a run (one recording, one session).
type Step struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject,omitempty"`
	Session   string    `json:"session,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary carries the counters stored when a run finishes.
type Summary struct {
	Warnings int
	Changes  int
}

// storedTime is fixed width so that ORDER BY on the text columns is
// chronological.
const storedTime = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = "id, operation, dataset_root, arguments, dry_run, status, error_message, warnings, changes, started_at, finished_at"

// Begin records the start of a run.
func (s *Store) Begin(ctx context.Context, run Run) error {
	if s == nil {
		return nil
	}
	if run.ID == "" || run.Operation == "" {
		return errors.New("run id and operation are required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	err := s.exec(ctx,
		`INSERT INTO runs (id, operation, dataset_root, arguments, dry_run, status, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Operation,
		canonicalRoot(run.DatasetRoot),
		nullableString(run.Arguments),
		boolToInt(run.DryRun),
		StatusRunning,
		run.StartedAt.UTC().Format(storedTime),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStep appends a step to a run.
func (s *Store) RecordStep(ctx context.Context, step Step) error {
	if s == nil {
		return nil
	}
	if step.Status == "" {
		step.Status = StatusCompleted
	}
	err := s.exec(ctx,
		`INSERT INTO steps (run_id, name, subject, session, detail, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.RunID,
		step.Name,
		nullableString(step.Subject),
		nullableString(step.Session),
		nullableString(step.Detail),
		step.Status,
		time.Now().UTC().Format(storedTime),
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// Finish closes a run as completed, or failed when runErr is set.
func (s *Store) Finish(ctx context.Context, id string, summary Summary, runErr error) error {
	if s == nil {
		return nil
	}
	status := StatusCompleted
	var message any
	if runErr != nil {
		status = StatusFailed
		message = runErr.Error()
	}
	err := s.exec(ctx,
		`UPDATE runs SET status = ?, error_message = ?, warnings = ?, changes = ?, finished_at = ?
         WHERE id = ?`,
		status,
		message,
		summary.Warnings,
		summary.Changes,
		time.Now().UTC().Format(storedTime),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Get fetches a run by id; nil when unknown.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(orBackground(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first. A limit of zero lists all.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if s == nil {
		return nil, nil
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRuns(ctx, query, args...)
}

// Unfinished returns runs against root that never finished, oldest first.
// These are interrupted invocations that should be re-run.
func (s *Store) Unfinished(ctx context.Context, root string) ([]Run, error) {
	if s == nil {
		return nil, nil
	}
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs WHERE dataset_root = ? AND status = ? ORDER BY started_at`,
		canonicalRoot(root), StatusRunning)
}

// Steps returns the steps of a run in insertion order.
func (s *Store) Steps(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(orBackground(ctx),
		`SELECT id, run_id, name, subject, session, detail, status, created_at
         FROM steps WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var (
			step                     Step
			subject, session, detail sql.NullString
			status, created          string
		)
		if err := rows.Scan(&step.ID, &step.RunID, &step.Name, &subject, &session, &detail, &status, &created); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Subject, step.Session, step.Detail = subject.String, session.String, detail.String
		step.Status = Status(status)
		step.CreatedAt = parseTime(created)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(orBackground(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run                         Run
		arguments, errMsg, finished sql.NullString
		dryRun, warnings, changes   int64
		status, started             string
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Operation,
		&run.DatasetRoot,
		&arguments,
		&dryRun,
		&status,
		&errMsg,
		&warnings,
		&changes,
		&started,
		&finished,
	); err != nil {
		return nil, err
	}
	run.Arguments = arguments.String
	run.DryRun = dryRun != 0
	run.Status = Status(status)
	run.ErrorMessage = errMsg.String
	run.Warnings = int(warnings)
	run.Changes = int(changes)
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}
	return &run, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func canonicalRoot(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		return filepath.Clean(abs)
	}
	return filepath.Clean(root)
}
