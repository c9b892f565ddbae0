package db_test

import (
	"testing"

	"github.com/prathamssaraf/mouse-video-compressor/internal/testutil"
)

func TestMigrationsCreateAppState(t *testing.T) {
	// Setup test database with migrations already applied
	db := testutil.SetupTestDB(t)

	// The app_state table must exist and be usable as a key/value store.
	_, err := db.Exec("INSERT INTO app_state (key, value) VALUES (?, ?)", "notifications", "[]")
	if err != nil {
		t.Fatalf("Failed to insert into app_state: %v", err)
	}

	var value string
	err = db.QueryRow("SELECT value FROM app_state WHERE key = ?", "notifications").Scan(&value)
	if err != nil {
		t.Fatalf("Failed to read back app_state row: %v", err)
	}
	if value != "[]" {
		t.Errorf("Expected value '[]', got '%s'", value)
	}

	// Upserting the same key must replace, not duplicate.
	_, err = db.Exec("INSERT INTO app_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", "notifications", `[{"id":"n1"}]`)
	if err != nil {
		t.Fatalf("Failed to upsert app_state: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM app_state WHERE key = ?", "notifications").Scan(&count); err != nil {
		t.Fatalf("Failed to count app_state rows: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row for key, got %d", count)
	}
}
