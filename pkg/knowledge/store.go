package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists exchange turns in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS knowledge_turns (
		run_id     TEXT    NOT NULL,
		seq        INTEGER NOT NULL,
		speaker    TEXT    NOT NULL,
		text       TEXT    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record stores one turn. Re-recording the same sequence number replaces it.
func (s *SQLiteStore) Record(ctx context.Context, runID string, seq int, turn Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO knowledge_turns (run_id, seq, speaker, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, seq, string(turn.Speaker), turn.Text, turn.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// Turns returns the turns of a run in order.
func (s *SQLiteStore) Turns(ctx context.Context, runID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker, text, created_at FROM knowledge_turns WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var speaker, text string
		var at int64
		if err := rows.Scan(&speaker, &text, &at); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		sp := Speaker(speaker)
		if !sp.Valid() {
			return nil, fmt.Errorf("invalid speaker %q in store", speaker)
		}
		turns = append(turns, Turn{Speaker: sp, Text: text, At: time.UnixMilli(at).UTC()})
	}
	return turns, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
