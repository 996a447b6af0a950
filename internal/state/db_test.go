package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

const insertSession = `INSERT INTO sessions (id, workdir, pid, started_at, status) VALUES (?, ?, ?, ?, ?)`

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory not created: %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var versions int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&versions); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if versions != 3 {
		t.Errorf("schema versions = %d, want 3", versions)
	}

	for _, table := range []string{"sessions", "subgraph_status", "compositions"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)

	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(insertSession, "tx-fail", "/tmp/w", 1, "2024-01-01T00:00:00Z", "active"); err != nil {
			return err
		}
		return fmt.Errorf("simulated error")
	})
	if err == nil {
		t.Error("expected error from Transaction")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", "tx-fail").Scan(&count); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if count != 0 {
		t.Error("transaction was not rolled back")
	}
}

func TestTransaction_Success(t *testing.T) {
	db := setupTestDB(t)

	err := db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(insertSession, "tx-1", "/tmp/w", 1, "2024-01-01T00:00:00Z", "active")
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", "tx-1").Scan(&count); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
	if count != 1 {
		t.Error("transaction was not committed")
	}
}

func TestDefaultDBPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DefaultDBPath(), "/custom/data/graphdev/sessions.db"; got != want {
		t.Errorf("DefaultDBPath() = %q, want %q", got, want)
	}

	t.Setenv("XDG_DATA_HOME", "")
	home, _ := os.UserHomeDir()
	if got, want := DefaultDBPath(), filepath.Join(home, ".local", "share", "graphdev", "sessions.db"); got != want {
		t.Errorf("DefaultDBPath() = %q, want %q", got, want)
	}
}

func TestPurgeOldSessions(t *testing.T) {
	db := setupTestDB(t)

	old := time.Now().Add(-48 * time.Hour)
	for _, s := range []*Session{
		{ID: "old-done", Workdir: "/w", PID: 1, Status: SessionCompleted, StartedAt: old},
		{ID: "old-active", Workdir: "/w", PID: 2, Status: SessionActive, StartedAt: old},
		{ID: "new-done", Workdir: "/w", PID: 3, Status: SessionCompleted, StartedAt: time.Now()},
	} {
		if err := db.CreateSession(s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	n, err := db.PurgeOldSessions(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d sessions, want 1", n)
	}
	if s, _ := db.GetSession("old-active"); s == nil {
		t.Error("active session must not be purged")
	}
}

func TestFormatAndParseTime(t *testing.T) {
	now := time.Now()
	parsed, err := parseTime(formatTime(now))
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !now.UTC().Truncate(time.Second).Equal(parsed.Truncate(time.Second)) {
		t.Errorf("time round-trip failed: got %v, want %v", parsed, now.UTC())
	}
}

func TestParseNullableTime(t *testing.T) {
	if parseNullableTime(sql.NullString{String: "2024-01-01T12:00:00Z", Valid: true}) == nil {
		t.Error("expected non-nil time for valid input")
	}
	if parseNullableTime(sql.NullString{Valid: false}) != nil {
		t.Error("expected nil time for invalid input")
	}
	if parseNullableTime(sql.NullString{String: "not a time", Valid: true}) != nil {
		t.Error("expected nil time for invalid format")
	}
}
