package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/boardsync/internal/protocol"
)

// GetSession reports the live participants of a session. A session nobody
// has joined is reported as not live rather than missing, since any board id
// can be joined.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := protocol.ValidateSessionID(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid session ID format")
		return
	}
	if h.live == nil {
		h.Error(w, http.StatusServiceUnavailable, "realtime gateway not running")
		return
	}

	stats, err := h.live.Stats(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusServiceUnavailable, "realtime gateway unavailable")
		return
	}

	h.JSON(w, http.StatusOK, stats)
}
