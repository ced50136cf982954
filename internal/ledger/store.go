package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty file
// 1 - burns + meta only
// 2 - burns gains stage, scheduled_for, amount, attempts, last_error
// 3 - burns gains attempt_ref
const currentSchemaVersion = 3

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides durable storage for the burn ledger and reward records.
// A single connection serializes statements; mu serializes the
// read-modify-write operations on top of it.
type Store struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger
	mu     sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithNow sets the time source used for timestamps the store assigns.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for recovery warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open creates or opens the ledger at path.
//
// The parent directory is created when missing. A file that SQLite rejects
// as not-a-database or corrupt is renamed to <path>.corrupt-<unix> and a
// fresh store is created in its place.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := openDB(path)
	if err != nil && isCorrupt(err) {
		aside := fmt.Sprintf("%s.corrupt-%d", path, s.now().Unix())
		s.logger.Warn("ledger file unreadable, starting fresh",
			"path", path,
			"moved_to", aside,
			"error", err)
		if rerr := moveAside(path, aside); rerr != nil {
			return nil, fmt.Errorf("move corrupt ledger aside: %w", rerr)
		}
		db, err = openDB(path)
	}
	if err != nil {
		return nil, err
	}

	s.db = db
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

func isCorrupt(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrNotADB || serr.Code == sqlite3.ErrCorrupt
	}
	return false
}

func moveAside(path, aside string) error {
	if err := os.Rename(path, aside); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the file the store was opened from.
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion reports the persisted schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return v, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return runMigrations(db, version)
}

// runMigrations applies incremental schema migrations based on user_version
// and persists the new version immediately.
func runMigrations(db *sql.DB, version int) error {
	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
	}
	if version < 3 {
		if err := migrateToV3(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV2 adds the approval-workflow columns to burns. v1 ledgers had no
// approval gate, so every unexecuted row becomes scheduled.
func migrateToV2(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	defer tx.Rollback()

	existing, err := columns(tx, "burns")
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}

	added := []struct{ name, ddl string }{
		{"stage", "ALTER TABLE burns ADD COLUMN stage TEXT NOT NULL DEFAULT 'scheduled'"},
		{"scheduled_for", "ALTER TABLE burns ADD COLUMN scheduled_for TEXT"},
		{"amount", "ALTER TABLE burns ADD COLUMN amount TEXT"},
		{"attempts", "ALTER TABLE burns ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0"},
		{"last_error", "ALTER TABLE burns ADD COLUMN last_error TEXT"},
	}
	for _, col := range added {
		if existing[col.name] {
			continue
		}
		if _, err := tx.Exec(col.ddl); err != nil {
			return fmt.Errorf("migrate to v2: add %s: %w", col.name, err)
		}
	}

	stmts := []string{
		`UPDATE burns SET stage = 'executed' WHERE status = 'executed' AND stage != 'executed'`,
		`UPDATE burns SET scheduled_for = detected_at WHERE scheduled_for IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_burns_stage ON burns(stage, detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	return tx.Commit()
}

// migrateToV3 adds attempt_ref: the chain reference of a burn that was
// submitted but never confirmed.
func migrateToV3(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate to v3: %w", err)
	}
	defer tx.Rollback()

	existing, err := columns(tx, "burns")
	if err != nil {
		return fmt.Errorf("migrate to v3: %w", err)
	}
	if !existing["attempt_ref"] {
		if _, err := tx.Exec("ALTER TABLE burns ADD COLUMN attempt_ref TEXT"); err != nil {
			return fmt.Errorf("migrate to v3: add attempt_ref: %w", err)
		}
	}
	return tx.Commit()
}

func columns(tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// getMeta returns the value for key, or "" when unset.
func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, nil
}

func setMeta(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
