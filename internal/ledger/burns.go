package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/listburn/internal/burn"
	"github.com/shopspring/decimal"
)

// Entry is the persisted record of a detected target.
type Entry struct {
	Slug              string          `json:"slug"`
	Name              string          `json:"name"`
	AllocationPercent decimal.Decimal `json:"allocation_percent"`
	Status            burn.Status     `json:"status"`
	Stage             burn.Stage      `json:"stage"`
	DetectedAt        time.Time       `json:"detected_at"`
	ScheduledFor      time.Time       `json:"scheduled_for"`
	ExecutedAt        *time.Time      `json:"executed_at,omitempty"`
	TxRef             string          `json:"tx_ref,omitempty"`
	Amount            uint64          `json:"amount,omitempty"`
	Attempts          int             `json:"attempts"`
	LastError         string          `json:"last_error,omitempty"`
	// AttemptRef identifies a submitted burn whose outcome is not known
	// yet. It must be resolved before the burn is submitted again.
	AttemptRef string `json:"attempt_ref,omitempty"`
}

// Meta is what RecordDetected stores alongside the slug.
// A zero ScheduledFor means "as soon as possible".
type Meta struct {
	Name              string
	AllocationPercent decimal.Decimal
	Stage             burn.Stage
	ScheduledFor      time.Time
}

// Stats summarizes the ledger.
type Stats struct {
	Total            int        `json:"total"`
	Pending          int        `json:"pending"`
	Executed         int        `json:"executed"`
	AwaitingApproval int        `json:"awaiting_approval"`
	Rejected         int        `json:"rejected"`
	LastCheck        *time.Time `json:"last_check,omitempty"`
}

const burnColumns = `slug, name, allocation_percent, status, stage, detected_at,
	scheduled_for, executed_at, tx_ref, amount, attempts, last_error, attempt_ref`

// RecordDetected marks slug as detected. It is idempotent: a second call for
// the same slug leaves the original entry untouched and reports inserted=false.
func (s *Store) RecordDetected(ctx context.Context, slug string, meta Meta) (Entry, bool, error) {
	if slug == "" {
		return Entry{}, false, fmt.Errorf("record detected: empty slug")
	}
	stage := meta.Stage
	if stage == "" {
		stage = burn.StageScheduled
	}
	if stage != burn.StageAwaitingApproval && stage != burn.StageScheduled {
		return Entry{}, false, fmt.Errorf("record detected %s: %w: entry stage %q", slug, burn.ErrInvalidTransition, stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	scheduledFor := meta.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("record detected %s: begin: %w", slug, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO burns (slug, name, allocation_percent, status, stage, detected_at, scheduled_for)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO NOTHING
	`, slug, meta.Name, meta.AllocationPercent.String(), string(burn.StatusConfirmed), string(stage),
		formatTime(now), formatTime(scheduledFor))
	if err != nil {
		return Entry{}, false, fmt.Errorf("record detected %s: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, false, fmt.Errorf("record detected %s: %w", slug, err)
	}

	entry, _, err := getEntry(ctx, tx, slug)
	if err != nil {
		return Entry{}, false, fmt.Errorf("record detected %s: %w", slug, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, false, fmt.Errorf("record detected %s: commit: %w", slug, err)
	}
	return entry, n > 0, nil
}

// RecordExecuted marks slug executed with the chain reference and the
// amount burned. The entry must have been detected and be scheduled;
// recording an already executed slug again returns the stored entry unchanged.
func (s *Store) RecordExecuted(ctx context.Context, slug, txRef string, amount uint64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("record executed %s: begin: %w", slug, err)
	}
	defer tx.Rollback()

	entry, ok, err := getEntry(ctx, tx, slug)
	if err != nil {
		return Entry{}, fmt.Errorf("record executed %s: %w", slug, err)
	}
	if !ok {
		return Entry{}, fmt.Errorf("record executed %s: %w", slug, burn.ErrNotDetected)
	}
	if entry.Stage == burn.StageExecuted {
		return entry, nil
	}
	if _, err := burn.NextStage(entry.Stage, burn.EventExecute); err != nil {
		return Entry{}, fmt.Errorf("record executed %s: %w", slug, err)
	}

	executedAt := s.now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE burns
		SET status = ?, stage = ?, executed_at = ?, tx_ref = ?, amount = ?, last_error = NULL, attempt_ref = NULL
		WHERE slug = ?
	`, string(burn.StatusExecuted), string(burn.StageExecuted), formatTime(executedAt), txRef,
		strconv.FormatUint(amount, 10), slug)
	if err != nil {
		return Entry{}, fmt.Errorf("record executed %s: %w", slug, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("record executed %s: commit: %w", slug, err)
	}

	entry.Status = burn.StatusExecuted
	entry.Stage = burn.StageExecuted
	entry.ExecutedAt = &executedAt
	entry.TxRef = txRef
	entry.Amount = amount
	entry.LastError = ""
	entry.AttemptRef = ""
	return entry, nil
}

// Transition applies an approve or reject event to a detected slug.
func (s *Store) Transition(ctx context.Context, slug string, ev burn.StageEvent) (Entry, error) {
	if ev == burn.EventExecute {
		return Entry{}, fmt.Errorf("transition %s: %w: use RecordExecuted", slug, burn.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("transition %s: begin: %w", slug, err)
	}
	defer tx.Rollback()

	entry, ok, err := getEntry(ctx, tx, slug)
	if err != nil {
		return Entry{}, fmt.Errorf("transition %s: %w", slug, err)
	}
	if !ok {
		return Entry{}, fmt.Errorf("transition %s: %w", slug, burn.ErrNotDetected)
	}
	next, err := burn.NextStage(entry.Stage, ev)
	if err != nil {
		return Entry{}, fmt.Errorf("transition %s: %w", slug, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE burns SET stage = ? WHERE slug = ?`, string(next), slug); err != nil {
		return Entry{}, fmt.Errorf("transition %s: %w", slug, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("transition %s: commit: %w", slug, err)
	}

	entry.Stage = next
	return entry, nil
}

// RecordAttemptFailure counts a failed execution attempt. The entry keeps
// its stage so the next tick retries it. attemptRef replaces the stored
// in-flight reference; "" clears it.
func (s *Store) RecordAttemptFailure(ctx context.Context, slug, reason, attemptRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE burns SET attempts = attempts + 1, last_error = ?, attempt_ref = NULLIF(?, '')
		WHERE slug = ? AND stage != 'executed'
	`, reason, attemptRef, slug)
	if err != nil {
		return fmt.Errorf("record attempt failure %s: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record attempt failure %s: %w", slug, err)
	}
	if n == 0 {
		return fmt.Errorf("record attempt failure %s: %w", slug, burn.ErrNotDetected)
	}
	return nil
}

// Get returns the entry for slug.
func (s *Store) Get(ctx context.Context, slug string) (Entry, bool, error) {
	entry, ok, err := getEntry(ctx, s.db, slug)
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %s: %w", slug, err)
	}
	return entry, ok, nil
}

// IsDetected reports whether slug has a ledger entry.
func (s *Store) IsDetected(ctx context.Context, slug string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM burns WHERE slug = ?`, slug).Scan(&n); err != nil {
		return false, fmt.Errorf("is detected %s: %w", slug, err)
	}
	return n > 0, nil
}

// IsExecuted reports whether slug has been burned.
func (s *Store) IsExecuted(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM burns WHERE slug = ? AND status = 'executed'`, slug).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is executed %s: %w", slug, err)
	}
	return n > 0, nil
}

// List returns entries in detection order, optionally filtered by stage.
func (s *Store) List(ctx context.Context, stages ...burn.Stage) ([]Entry, error) {
	query := `SELECT ` + burnColumns + ` FROM burns`
	args := make([]any, 0, len(stages))
	if len(stages) > 0 {
		marks := make([]string, len(stages))
		for i, st := range stages {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE stage IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY detected_at ASC, slug ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list burns: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("list burns: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list burns: %w", err)
	}
	return out, nil
}

// Stats counts entries. Pending means detected and not yet executed,
// rejected entries included.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'executed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN stage = 'awaiting_approval' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN stage = 'rejected' THEN 1 ELSE 0 END), 0)
		FROM burns
	`).Scan(&st.Total, &st.Executed, &st.AwaitingApproval, &st.Rejected)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	st.Pending = st.Total - st.Executed

	raw, err := s.getMeta(ctx, metaLastCheck)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	if raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return Stats{}, fmt.Errorf("stats: parse last check: %w", err)
		}
		st.LastCheck = &t
	}
	return st, nil
}

// TouchLastCheck records that a resolution poll completed.
func (s *Store) TouchLastCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setMeta(ctx, s.db, metaLastCheck, formatTime(s.now()))
}

const metaLastCheck = "last_check"

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func getEntry(ctx context.Context, q queryRower, slug string) (Entry, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+burnColumns+` FROM burns WHERE slug = ?`, slug)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e            Entry
		percent      string
		status       string
		stage        string
		detectedAt   string
		scheduledFor sql.NullString
		executedAt   sql.NullString
		txRef        sql.NullString
		amount       sql.NullString
		lastError    sql.NullString
		attemptRef   sql.NullString
	)
	err := sc.Scan(&e.Slug, &e.Name, &percent, &status, &stage, &detectedAt,
		&scheduledFor, &executedAt, &txRef, &amount, &e.Attempts, &lastError, &attemptRef)
	if err != nil {
		return Entry{}, err
	}

	if e.AllocationPercent, err = decimal.NewFromString(percent); err != nil {
		return Entry{}, fmt.Errorf("parse allocation percent %q: %w", percent, err)
	}
	e.Status = burn.Status(status)
	e.Stage = burn.Stage(stage)
	if e.DetectedAt, err = parseTime(detectedAt); err != nil {
		return Entry{}, fmt.Errorf("parse detected_at: %w", err)
	}
	e.ScheduledFor = e.DetectedAt
	if scheduledFor.Valid && scheduledFor.String != "" {
		if e.ScheduledFor, err = parseTime(scheduledFor.String); err != nil {
			return Entry{}, fmt.Errorf("parse scheduled_for: %w", err)
		}
	}
	if e.ExecutedAt, err = parseNullTime(executedAt); err != nil {
		return Entry{}, fmt.Errorf("parse executed_at: %w", err)
	}
	e.TxRef = txRef.String
	if amount.Valid && amount.String != "" {
		if e.Amount, err = strconv.ParseUint(amount.String, 10, 64); err != nil {
			return Entry{}, fmt.Errorf("parse amount: %w", err)
		}
	}
	e.LastError = lastError.String
	e.AttemptRef = attemptRef.String
	return e, nil
}
