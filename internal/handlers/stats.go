package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// ActiveBoard is a recently edited board.
type ActiveBoard struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalBoards      int64         `json:"totalBoards"`
	LiveSessions     int           `json:"liveSessions"`
	LiveParticipants int           `json:"liveParticipants"`
	OpenConnections  int           `json:"openConnections"`
	LastActivity     string        `json:"lastActivity"`
	RecentlyActive   []ActiveBoard `json:"recentlyActive"`
}

// Stats returns platform statistics for the landing page.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalBoards, err := h.store.CountBoards(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count boards")
		return
	}

	resp := StatsResponse{
		TotalBoards:    totalBoards,
		LastActivity:   "no activity yet",
		RecentlyActive: []ActiveBoard{},
	}

	if h.live != nil {
		if ov, err := h.live.Overview(ctx); err == nil {
			resp.LiveSessions = ov.Sessions
			resp.LiveParticipants = ov.Participants
			resp.OpenConnections = ov.Connections
		}
	}

	// Most recently updated board
	latest, _, err := h.store.ListBoards(ctx, "", 1, 0)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get last activity")
		return
	}
	if len(latest) > 0 {
		resp.LastActivity = formatTimeAgo(latest[0].UpdatedAt)
	}

	// Recently active boards from the Redis index. Non-fatal.
	if h.redis != nil {
		ids, err := h.redis.RecentBoards(ctx, 5)
		if err == nil {
			for _, id := range ids {
				b, err := h.store.GetBoard(ctx, id)
				if err != nil || b == nil {
					continue
				}
				resp.RecentlyActive = append(resp.RecentlyActive, ActiveBoard{ID: b.ID, Name: b.Name})
			}
		}
	}

	h.JSON(w, http.StatusOK, resp)
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return strconv.Itoa(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return strconv.Itoa(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return strconv.Itoa(days) + " days ago"
	}
}
