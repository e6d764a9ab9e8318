package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/eldtechnologies/boardsync/internal/models"
)

// DataStore defines the interface for durable storage of boards.
// PostgresStore, MongoStore and SQLiteStore implement this interface.
//
// Lookups return (nil, nil) when the board does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Board operations
	CreateBoard(ctx context.Context, name string) (*models.Board, error)
	GetBoard(ctx context.Context, id string) (*models.Board, error)
	ListBoards(ctx context.Context, query string, limit, offset int) ([]models.Board, int, error)
	DeleteBoard(ctx context.Context, id string) (bool, error)
	CountBoards(ctx context.Context) (int64, error)

	// Snapshot operations. SaveSnapshot upserts: a session that was never
	// created through the REST API gets a board named after its id. A nil
	// preview leaves the stored preview untouched.
	SaveSnapshot(ctx context.Context, id string, snapshot json.RawMessage, preview *string) error
	LoadSnapshot(ctx context.Context, id string) (json.RawMessage, error)
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
