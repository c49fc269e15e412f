package local

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS command_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    command_id TEXT NOT NULL,
    command TEXT NOT NULL,
    cwd TEXT,
    exit_code INTEGER,
    duration_ms INTEGER,
    stdout_len INTEGER,
    stderr_len INTEGER,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// History is the client's local SQLite log of executed commands, kept so a
// user can audit what the agent ran on their machine after the fact.
type History struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the history database under the user's
// config directory.
func OpenHistory() (*History, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, ".config", "pentagent")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	return OpenHistoryAt(filepath.Join(dir, "history.db"))
}

// OpenHistoryAt opens (or creates) a history database at an explicit path.
func OpenHistoryAt(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply history schema: %w", err)
	}

	return &History{db: db}, nil
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.db.Close()
}

// Record logs one executed command. Output bodies are not stored, only
// their sizes; the backend keeps the full result.
func (h *History) Record(commandID, command, cwd string, exitCode, durationMs, stdoutLen, stderrLen int) error {
	_, err := h.db.Exec(
		`INSERT INTO command_history (command_id, command, cwd, exit_code, duration_ms, stdout_len, stderr_len)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		commandID, command, cwd, exitCode, durationMs, stdoutLen, stderrLen)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	return nil
}
