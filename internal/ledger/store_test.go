package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")

	s, _ := openTestStoreAt(t, path)

	_, err := os.Stat(path)
	require.NoError(t, err, "database file was not created")

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s, _ := openTestStoreAt(t, path)
	_, _, err := s.RecordDetected(ctx, "alpha", Meta{Name: "Alpha"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s2, _ := openTestStoreAt(t, path)
	ok, err := s2.IsDetected(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := openTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	// 2 = FULL
	var sync int
	require.NoError(t, s.db.QueryRow("PRAGMA synchronous").Scan(&sync))
	assert.Equal(t, 2, sync)
}

func TestOpen_UnwritablePathFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Open(filepath.Join(blocker, "ledger.db"))
	assert.Error(t, err)
}

func TestOpen_CorruptFileMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	garbage := []byte(strings.Repeat("this is not a sqlite database ", 200))
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	s, _ := openTestStoreAt(t, path)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Total)

	aside := path + ".corrupt-" + "1772366400"
	data, err := os.ReadFile(aside)
	require.NoError(t, err, "corrupt file should be preserved")
	assert.Equal(t, garbage, data)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, _ := openTestStoreAt(t, path)
	_, err := s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestOpen_MigratesV1Ledger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	// Build a v1 file by hand: burns without the workflow columns.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL);
		CREATE TABLE burns (
			slug TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			allocation_percent TEXT NOT NULL,
			status TEXT NOT NULL,
			detected_at TEXT NOT NULL,
			executed_at TEXT,
			tx_ref TEXT
		);
		INSERT INTO burns VALUES
			('done', 'Done', '5', 'executed', '2026-01-01T00:00:00.000000000Z', '2026-01-02T00:00:00.000000000Z', 'sig-1'),
			('owed', 'Owed', '2.5', 'confirmed', '2026-01-03T00:00:00.000000000Z', NULL, NULL);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, _ := openTestStoreAt(t, path)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v, "migrated version must be persisted")

	done, ok, err := s.Get(ctx, "done")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "executed", string(done.Stage))
	assert.Equal(t, "sig-1", done.TxRef)

	owed, ok, err := s.Get(ctx, "owed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "scheduled", string(owed.Stage))
	assert.Equal(t, owed.DetectedAt, owed.ScheduledFor)
	assert.Equal(t, "2.5", owed.AllocationPercent.String())

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Executed)
	assert.Equal(t, 1, st.Pending)
}
