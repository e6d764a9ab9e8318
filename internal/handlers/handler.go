package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/events"
	"github.com/eldtechnologies/boardsync/internal/realtime"
	"github.com/eldtechnologies/boardsync/internal/store"
)

// LiveSessions answers questions about sessions that currently have
// participants. *realtime.Hub implements it.
type LiveSessions interface {
	Stats(ctx context.Context, sessionID string) (realtime.SessionStats, error)
	Overview(ctx context.Context) (realtime.Overview, error)
}

// PendingWrites lets a deleted board drop snapshots not yet flushed.
// *persist.Writer implements it.
type PendingWrites interface {
	Discard(boardID string)
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store     store.DataStore
	redis     *store.RedisStore
	live      LiveSessions
	pending   PendingWrites
	publisher events.Publisher
	logger    zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRedis enables the snapshot cache and recent-activity index.
func WithRedis(r *store.RedisStore) Option {
	return func(h *Handler) { h.redis = r }
}

// WithLiveSessions enables the session endpoints and live stats.
func WithLiveSessions(l LiveSessions) Option {
	return func(h *Handler) { h.live = l }
}

// WithPendingWrites lets deletes discard unflushed snapshots.
func WithPendingWrites(p PendingWrites) Option {
	return func(h *Handler) { h.pending = p }
}

// WithPublisher publishes board deletions.
func WithPublisher(p events.Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// WithLogger sets the logger for failures that do not change the response.
func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a new Handler backed by ds.
func NewHandler(ds store.DataStore, opts ...Option) *Handler {
	h := &Handler{store: ds, publisher: events.Nop{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// maxNameLen is the maximum board name length in characters.
const maxNameLen = 100

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	// Remove control characters
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}

	return name
}
