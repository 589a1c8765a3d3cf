package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mkelaidis/agora/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			message_id      TEXT NOT NULL UNIQUE,
			timestamp       DATETIME NOT NULL,
			sender          TEXT NOT NULL,
			recipient       TEXT NOT NULL,
			type            TEXT NOT NULL,
			content         TEXT,
			correlation_id  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_time ON conversations(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_sender ON conversations(sender, timestamp)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			proposal_id TEXT NOT NULL,
			agent       TEXT NOT NULL,
			decision    TEXT NOT NULL,
			weight      REAL NOT NULL,
			confidence  REAL NOT NULL,
			timestamp   DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_proposal ON votes(proposal_id)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id      TEXT NOT NULL UNIQUE,
			agent        TEXT,
			type         TEXT NOT NULL,
			status       TEXT NOT NULL,
			success      BOOLEAN,
			result       TEXT,
			started_at   DATETIME,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_agent ON tasks(agent, started_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id    TEXT NOT NULL UNIQUE,
			timestamp   DATETIME NOT NULL,
			severity    TEXT NOT NULL,
			type        TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT,
			agent_name  TEXT,
			resolved    BOOLEAN DEFAULT FALSE,
			resolved_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(timestamp)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			schedule     TEXT NOT NULL,
			description  TEXT NOT NULL,
			task_context TEXT,
			status       TEXT DEFAULT 'active',
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_status  TEXT,
			last_error   TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_next_run ON scheduled_tasks(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			nonce      BLOB NOT NULL,
			ciphertext BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
