package realtime

import (
	"context"
	"time"

	"github.com/eldtechnologies/boardsync/internal/protocol"
)

// SessionStats describes a live session.
type SessionStats struct {
	SessionID         string                     `json:"sessionId"`
	Live              bool                       `json:"live"`
	ParticipantsCount int                        `json:"participantsCount"`
	Participants      []protocol.ParticipantInfo `json:"participants"`
	CanUndo           bool                       `json:"canUndo"`
	CanRedo           bool                       `json:"canRedo"`
	UpdatedAt         *time.Time                 `json:"updatedAt,omitempty"`
}

// Overview summarizes the hub.
type Overview struct {
	Sessions     int      `json:"sessions"`
	Participants int      `json:"participants"`
	Connections  int      `json:"connections"`
	SessionIDs   []string `json:"sessionIds"`
}

// Stats reports the live state of one session. A session with no participants
// is reported with Live false.
func (h *Hub) Stats(ctx context.Context, sessionID string) (SessionStats, error) {
	var out SessionStats
	err := h.query(ctx, func() {
		out = SessionStats{SessionID: sessionID, Participants: []protocol.ParticipantInfo{}}
		v, ok := h.registry.Get(sessionID)
		if !ok {
			return
		}
		updated := v.UpdatedAt
		out.Live = true
		out.ParticipantsCount = v.Count()
		out.Participants = participantInfos(v.Roster)
		out.CanUndo = v.CanUndo
		out.CanRedo = v.CanRedo
		out.UpdatedAt = &updated
	})
	if err != nil {
		return SessionStats{}, err
	}
	return out, nil
}

// Overview reports hub-wide counts.
func (h *Hub) Overview(ctx context.Context) (Overview, error) {
	var out Overview
	err := h.query(ctx, func() {
		out = Overview{
			Sessions:     h.registry.Len(),
			Participants: h.registry.Participants(),
			Connections:  len(h.clients),
			SessionIDs:   h.registry.IDs(),
		}
	})
	if err != nil {
		return Overview{}, err
	}
	return out, nil
}

// query runs fn on the hub goroutine and waits for it.
func (h *Hub) query(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(done) }:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
