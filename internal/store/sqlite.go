package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/boardsync/internal/ids"
	"github.com/eldtechnologies/boardsync/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/boardsync.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/boardsync.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		preview_image TEXT NOT NULL DEFAULT '',
		snapshot TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_boards_updated_at ON boards(updated_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateBoard creates a new board record.
func (s *SQLiteStore) CreateBoard(ctx context.Context, name string) (*models.Board, error) {
	id := ids.NewBoardID()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, id, name, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetBoard(ctx, id)
}

// GetBoard retrieves a board by ID, snapshot included.
func (s *SQLiteStore) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	board := &models.Board{}
	var snapshot sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, preview_image, snapshot, created_at, updated_at
		FROM boards WHERE id = ?
	`, id).Scan(
		&board.ID,
		&board.Name,
		&board.PreviewImage,
		&snapshot,
		&board.CreatedAt,
		&board.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if snapshot.Valid {
		board.Snapshot = json.RawMessage(snapshot.String)
	}
	return board, nil
}

// ListBoards retrieves boards by most recent activity, optionally filtered by
// a case-insensitive name match.
func (s *SQLiteStore) ListBoards(ctx context.Context, query string, limit, offset int) ([]models.Board, int, error) {
	pattern := "%" + escapeLike(query) + "%"

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM boards WHERE name LIKE ? ESCAPE '\'
	`, pattern).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, preview_image, created_at, updated_at
		FROM boards
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	boards := []models.Board{}
	for rows.Next() {
		var b models.Board
		if err := rows.Scan(&b.ID, &b.Name, &b.PreviewImage, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, err
		}
		boards = append(boards, b)
	}

	return boards, total, rows.Err()
}

// DeleteBoard removes a board. It reports whether a row was deleted.
func (s *SQLiteStore) DeleteBoard(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountBoards returns the total number of boards.
func (s *SQLiteStore) CountBoards(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards`).Scan(&count)
	return count, err
}

// SaveSnapshot stores the latest snapshot of a board.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, id string, snapshot json.RawMessage, preview *string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, name, preview_image, snapshot, created_at, updated_at)
		VALUES (?, ?, COALESCE(?, ''), ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot = excluded.snapshot,
			preview_image = COALESCE(?, boards.preview_image),
			updated_at = excluded.updated_at
	`, id, id, preview, string(snapshot), now, now, preview)
	return err
}

// LoadSnapshot returns the stored snapshot of a board, or nil.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, id string) (json.RawMessage, error) {
	var snapshot sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM boards WHERE id = ?`, id).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !snapshot.Valid || snapshot.String == "" {
		return nil, nil
	}
	return json.RawMessage(snapshot.String), nil
}
