package store

import (
	"path/filepath"
	"testing"

	"github.com/websmartco/smartchat/internal/log"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "test.db"), log.NewNop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer conn.Close()

	for _, table := range []string{"chat_events", "handoff_sessions", "handoff_messages"} {
		var name string
		err := conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing after migration: %v", table, err)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening applies no new migrations and must not fail.
	second, err := Open(path, log.NewNop())
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()

	if _, err := second.Exec(
		"INSERT INTO chat_events (event_type, session_id) VALUES ('message_sent', 's1')",
	); err != nil {
		t.Errorf("insert after reopen failed: %v", err)
	}
}
