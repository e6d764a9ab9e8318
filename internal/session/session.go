// Package session holds the live state of every board that has at least one
// connected participant: who is in the room, the current snapshot of the
// drawing surface and a bounded undo/redo history.
//
// A Registry is owned by a single goroutine (the realtime hub) and is not safe
// for concurrent use. Serializing every mutation through that goroutine is what
// makes "last write wins" well defined.
package session

import (
	"bytes"
	"encoding/json"
	"time"
)

// EmptySnapshot is the canonical state of a blank board.
var EmptySnapshot = json.RawMessage(`{"objects":[]}`)

// DefaultHistoryDepth bounds the undo stack when the registry is built with a
// non-positive depth.
const DefaultHistoryDepth = 50

// Participant is one live connection bound to a session.
type Participant struct {
	ConnID   string    `json:"connectionId"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Session is the in-memory record of a board that currently has participants.
type Session struct {
	ID        string
	Snapshot  json.RawMessage
	Preview   string
	UpdatedAt time.Time

	participants []Participant
	history      *history
}

func newSession(id string, seed json.RawMessage, depth int, now time.Time) *Session {
	snap := cloneRaw(EmptySnapshot)
	if len(bytes.TrimSpace(seed)) > 0 {
		snap = cloneRaw(seed)
	}
	return &Session{
		ID:        id,
		Snapshot:  snap,
		UpdatedAt: now,
		history:   newHistory(depth),
	}
}

// indexOf returns the roster position of connID or -1.
func (s *Session) indexOf(connID string) int {
	for i, p := range s.participants {
		if p.ConnID == connID {
			return i
		}
	}
	return -1
}

// Roster returns a copy of the participants in join order.
func (s *Session) Roster() []Participant {
	out := make([]Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// Count is the number of participants.
func (s *Session) Count() int {
	return len(s.participants)
}

// IsEmpty reports whether the snapshot equals the canonical empty state.
func (s *Session) IsEmpty() bool {
	return bytes.Equal(s.Snapshot, EmptySnapshot)
}

// View is a detached copy of a session, safe to hand to other goroutines.
type View struct {
	ID        string
	Snapshot  json.RawMessage
	Preview   string
	Roster    []Participant
	CanUndo   bool
	CanRedo   bool
	UpdatedAt time.Time
}

// Count is the roster size.
func (v View) Count() int {
	return len(v.Roster)
}

func (s *Session) view() View {
	return View{
		ID:        s.ID,
		Snapshot:  cloneRaw(s.Snapshot),
		Preview:   s.Preview,
		Roster:    s.Roster(),
		CanUndo:   s.history.canUndo(),
		CanRedo:   s.history.canRedo(),
		UpdatedAt: s.UpdatedAt,
	}
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
