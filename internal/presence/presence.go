// Package presence turns registry membership changes into join/leave events.
// It keeps no state of its own; everything is derived from registry results.
package presence

import (
	"fmt"

	"github.com/eldtechnologies/boardsync/internal/session"
)

// Kind distinguishes join and leave events.
type Kind string

const (
	KindJoined Kind = "joined"
	KindLeft   Kind = "left"
)

// Event is a roster change and the resulting membership.
type Event struct {
	Kind      Kind
	SessionID string
	Subject   session.Participant
	Roster    []session.Participant
	Count     int
}

// Joined derives the event for a join. It returns false for a rejoin by the
// same connection, which does not change membership.
func Joined(res session.JoinResult) (Event, bool) {
	if res.Rejoined {
		return Event{}, false
	}
	return Event{
		Kind:      KindJoined,
		SessionID: res.Session.ID,
		Subject:   res.Participant,
		Roster:    res.Session.Roster,
		Count:     len(res.Session.Roster),
	}, true
}

// Left derives the event for a leave. It returns false when nobody was
// removed, or when the session was evicted and there is nobody to tell.
func Left(res session.LeaveResult) (Event, bool) {
	if !res.Removed || res.Evicted {
		return Event{}, false
	}
	return Event{
		Kind:      KindLeft,
		SessionID: res.SessionID,
		Subject:   res.Participant,
		Roster:    res.Roster,
		Count:     len(res.Roster),
	}, true
}

// Names returns the display names of the roster in join order.
func (e Event) Names() []string {
	return Names(e.Roster)
}

// Recipients returns the connections that must receive the event: every
// member for a join (the joiner included), the remaining members for a leave.
func (e Event) Recipients() []string {
	out := make([]string, 0, len(e.Roster))
	for _, p := range e.Roster {
		out = append(out, p.ConnID)
	}
	return out
}

// IsSelf reports whether viewer is the subject of the event. Identity is the
// connection, not the display name: two tabs named "Ann" are different people
// as far as the room is concerned.
func (e Event) IsSelf(viewerConnID string) bool {
	return e.Subject.ConnID == viewerConnID
}

// Notice renders the human-readable action-log line for viewer.
func (e Event) Notice(viewerConnID string) string {
	switch e.Kind {
	case KindJoined:
		if e.IsSelf(viewerConnID) {
			return "You have joined the room."
		}
		return fmt.Sprintf("%s joined the room.", e.Subject.Name)
	case KindLeft:
		return fmt.Sprintf("%s left the room.", e.Subject.Name)
	}
	return ""
}

// Names returns the display names of roster in order.
func Names(roster []session.Participant) []string {
	out := make([]string, len(roster))
	for i, p := range roster {
		out[i] = p.Name
	}
	return out
}
