package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/boardsync/internal/events"
	"github.com/eldtechnologies/boardsync/internal/metrics"
	"github.com/eldtechnologies/boardsync/internal/models"
	"github.com/eldtechnologies/boardsync/internal/protocol"
)

// CreateBoardRequest represents the board creation request.
type CreateBoardRequest struct {
	Name string `json:"name"`
}

// BoardInfo is a board in list responses.
type BoardInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PreviewImage string `json:"previewImage"`
	UpdatedAt    string `json:"updatedAt"`
}

// BoardListResponse represents the boards list response.
type BoardListResponse struct {
	Boards []BoardInfo `json:"boards"`
	Total  int         `json:"total"`
}

// CreateBoard handles board creation.
func (h *Handler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	var req CreateBoardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	start := time.Now()
	board, err := h.store.CreateBoard(r.Context(), req.Name)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create board")
		return
	}
	metrics.BoardsCreated.Inc()

	h.JSON(w, http.StatusCreated, board.Summary())
}

// ListBoards handles listing boards, most recently active first.
func (h *Handler) ListBoards(w http.ResponseWriter, r *http.Request) {
	// Parse query params
	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")
	query := sanitizeName(r.URL.Query().Get("q"))

	limit := 20
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	start := time.Now()
	boards, total, err := h.store.ListBoards(r.Context(), query, limit, offset)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	infos := make([]BoardInfo, len(boards))
	for i, b := range boards {
		infos[i] = boardInfo(b)
	}

	h.JSON(w, http.StatusOK, BoardListResponse{
		Boards: infos,
		Total:  total,
	})
}

// GetBoard returns a board with its latest persisted snapshot.
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := protocol.ValidateSessionID(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid board ID format")
		return
	}

	start := time.Now()
	board, err := h.store.GetBoard(r.Context(), id)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if board == nil {
		h.Error(w, http.StatusNotFound, "board not found")
		return
	}

	h.JSON(w, http.StatusOK, board)
}

// DeleteBoard removes a board and its cached snapshot.
func (h *Handler) DeleteBoard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := protocol.ValidateSessionID(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid board ID format")
		return
	}

	if h.pending != nil {
		h.pending.Discard(id)
	}

	deleted, err := h.store.DeleteBoard(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete board")
		return
	}
	if !deleted {
		h.Error(w, http.StatusNotFound, "board not found")
		return
	}

	if h.redis != nil {
		// A stale cache entry expires on its own.
		if err := h.redis.InvalidateSnapshot(r.Context(), id); err != nil {
			h.logger.Warn().Err(err).Str("board_id", id).Msg("snapshot cache invalidation failed")
		}
	}
	if err := h.publisher.Publish(r.Context(), events.BoardEvent{
		Type:      events.TypeBoardDeleted,
		BoardID:   id,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		h.logger.Warn().Err(err).Str("board_id", id).Msg("board deleted event not published")
	}

	w.WriteHeader(http.StatusNoContent)
}

func boardInfo(b models.Board) BoardInfo {
	return BoardInfo{
		ID:           b.ID,
		Name:         b.Name,
		PreviewImage: b.PreviewImage,
		UpdatedAt:    b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
