package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore keeps the blob in a single row of a SQLite table
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at path
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS network_tree (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		body BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("cache: init schema: %w", err)
	}
	return nil
}

// Save replaces the stored blob
func (s *SQLiteStore) Save(ctx context.Context, b Blob) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}

	query := `INSERT INTO network_tree (id, body, updated_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("cache: save: %w", err)
	}
	return nil
}

// Load returns the stored blob, or an empty one when there is none
func (s *SQLiteStore) Load(ctx context.Context) (Blob, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM network_tree WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, nil
	}
	if err != nil {
		return Blob{}, fmt.Errorf("cache: load: %w", err)
	}
	return decodeBlob(data, s.logger, s.path), nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
