// Package store opens the embedded SQLite database backing analytics and
// handoff persistence.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/websmartco/smartchat/db"
	"github.com/websmartco/smartchat/internal/log"
)

// InMemory is the path for a throwaway in-process database, used by tests.
const InMemory = ":memory:"

// Open opens (creating if needed) the SQLite database at path and applies
// pending migrations. The handle is safe for concurrent use.
func Open(path string, logger log.Logger) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// WAL lets analytics writes proceed alongside dashboard reads. The
	// in-memory database used in tests does not support WAL; journal mode
	// falls back silently there.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := db.Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	logger.Info("database ready", "path", path)
	return conn, nil
}
