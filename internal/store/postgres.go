package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/boardsync/internal/ids"
	"github.com/eldtechnologies/boardsync/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// RunMigrations applies the embedded schema files in name order. Every file
// is idempotent, so running them on each start is safe.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrationFiles.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateBoard creates a new board record.
func (s *PostgresStore) CreateBoard(ctx context.Context, name string) (*models.Board, error) {
	board := &models.Board{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO boards (id, name)
		VALUES ($1, $2)
		RETURNING id, name, preview_image, created_at, updated_at
	`, ids.NewBoardID(), name).Scan(
		&board.ID,
		&board.Name,
		&board.PreviewImage,
		&board.CreatedAt,
		&board.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return board, nil
}

// GetBoard retrieves a board by ID, snapshot included.
func (s *PostgresStore) GetBoard(ctx context.Context, id string) (*models.Board, error) {
	board := &models.Board{}
	var snapshot *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, preview_image, snapshot, created_at, updated_at
		FROM boards WHERE id = $1
	`, id).Scan(
		&board.ID,
		&board.Name,
		&board.PreviewImage,
		&snapshot,
		&board.CreatedAt,
		&board.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if snapshot != nil {
		board.Snapshot = json.RawMessage(*snapshot)
	}
	return board, nil
}

// ListBoards retrieves boards by most recent activity with pagination.
func (s *PostgresStore) ListBoards(ctx context.Context, query string, limit, offset int) ([]models.Board, int, error) {
	pattern := "%" + escapeLike(query) + "%"

	// Get total count
	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM boards WHERE name ILIKE $1`, pattern).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, preview_image, created_at, updated_at
		FROM boards
		WHERE name ILIKE $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	boards := []models.Board{}
	for rows.Next() {
		var b models.Board
		err := rows.Scan(
			&b.ID,
			&b.Name,
			&b.PreviewImage,
			&b.CreatedAt,
			&b.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		boards = append(boards, b)
	}

	return boards, total, rows.Err()
}

// DeleteBoard removes a board. It reports whether a row was deleted.
func (s *PostgresStore) DeleteBoard(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM boards WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CountBoards returns the total number of boards.
func (s *PostgresStore) CountBoards(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM boards`).Scan(&count)
	return count, err
}

// SaveSnapshot stores the latest snapshot of a board.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, id string, snapshot json.RawMessage, preview *string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO boards (id, name, preview_image, snapshot)
		VALUES ($1, $1, COALESCE($3, ''), $2)
		ON CONFLICT (id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			preview_image = COALESCE($3, boards.preview_image),
			updated_at = NOW()
	`, id, string(snapshot), preview)
	return err
}

// LoadSnapshot returns the stored snapshot of a board, or nil.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, id string) (json.RawMessage, error) {
	var snapshot *string
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM boards WHERE id = $1`, id).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if snapshot == nil || *snapshot == "" {
		return nil, nil
	}
	return json.RawMessage(*snapshot), nil
}
