package session

import (
	"encoding/json"
	"sort"
	"time"
)

// Registry maps session identifiers to their live state.
type Registry struct {
	sessions map[string]*Session
	conns    map[string]string // connection ID -> session ID
	depth    int
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithHistoryDepth bounds the per-session undo/redo stacks.
func WithHistoryDepth(depth int) Option {
	return func(r *Registry) { r.depth = depth }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		conns:    make(map[string]string),
		depth:    DefaultHistoryDepth,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JoinResult describes the registry state after a join.
type JoinResult struct {
	Session     View
	Participant Participant
	Created     bool         // the session did not exist before this join
	Rejoined    bool         // the connection was already in this session
	Moved       *LeaveResult // departure from the previously joined session, if any
}

// LeaveResult describes the registry state after a leave.
type LeaveResult struct {
	SessionID   string
	Removed     bool
	Remaining   int
	Participant Participant
	Roster      []Participant

	// Evicted is set when the roster became empty and the session was dropped
	// from memory. Snapshot and Preview then hold its final state.
	Evicted  bool
	Snapshot json.RawMessage
	Preview  string
}

// Join adds p to sessionID, creating the session when absent. seed is used as
// the initial snapshot of a newly created session (typically the persisted
// state of the board); it is ignored when the session is already live.
//
// A connection belongs to one session at a time: joining a second session
// first removes it from the previous one.
func (r *Registry) Join(sessionID string, p Participant, seed json.RawMessage) JoinResult {
	var res JoinResult

	if prev, ok := r.conns[p.ConnID]; ok && prev != sessionID {
		left := r.Leave(prev, p.ConnID)
		res.Moved = &left
	}

	s, ok := r.sessions[sessionID]
	if !ok {
		s = newSession(sessionID, seed, r.depth, r.now())
		r.sessions[sessionID] = s
		res.Created = true
	}

	if i := s.indexOf(p.ConnID); i >= 0 {
		// Same connection: refresh the display name, keep roster position.
		s.participants[i].Name = p.Name
		p = s.participants[i]
		res.Rejoined = true
	} else {
		if p.JoinedAt.IsZero() {
			p.JoinedAt = r.now()
		}
		s.participants = append(s.participants, p)
	}
	r.conns[p.ConnID] = sessionID

	res.Participant = p
	res.Session = s.view()
	return res
}

// Leave removes connID from sessionID. Removing the last participant evicts
// the session.
func (r *Registry) Leave(sessionID, connID string) LeaveResult {
	res := LeaveResult{SessionID: sessionID}

	s, ok := r.sessions[sessionID]
	if !ok {
		return res
	}
	i := s.indexOf(connID)
	if i < 0 {
		res.Remaining = s.Count()
		res.Roster = s.Roster()
		return res
	}

	res.Participant = s.participants[i]
	s.participants = append(s.participants[:i], s.participants[i+1:]...)
	delete(r.conns, connID)

	res.Removed = true
	res.Remaining = s.Count()
	res.Roster = s.Roster()

	if s.Count() == 0 {
		delete(r.sessions, sessionID)
		res.Evicted = true
		res.Snapshot = s.Snapshot
		res.Preview = s.Preview
	}
	return res
}

// ApplyState replaces the session snapshot unconditionally. There is no
// version check: the last call wins. An empty preview keeps the cached one.
// It returns false when the session is not live.
func (r *Registry) ApplyState(sessionID string, snapshot json.RawMessage, preview string) bool {
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.history.record(s.Snapshot)
	s.Snapshot = cloneRaw(snapshot)
	if preview != "" {
		s.Preview = preview
	}
	s.UpdatedAt = r.now()
	return true
}

// Clear resets the snapshot to EmptySnapshot and forgets the history.
func (r *Registry) Clear(sessionID string) bool {
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	s.Snapshot = cloneRaw(EmptySnapshot)
	s.Preview = ""
	s.history.reset()
	s.UpdatedAt = r.now()
	return true
}

// Undo restores the snapshot that the most recent edit replaced.
func (r *Registry) Undo(sessionID string) (json.RawMessage, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	prev, ok := s.history.stepBack(s.Snapshot)
	if !ok {
		return nil, false
	}
	s.Snapshot = prev
	s.UpdatedAt = r.now()
	return cloneRaw(prev), true
}

// Redo re-applies the snapshot most recently undone.
func (r *Registry) Redo(sessionID string) (json.RawMessage, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	next, ok := s.history.stepForward(s.Snapshot)
	if !ok {
		return nil, false
	}
	s.Snapshot = next
	s.UpdatedAt = r.now()
	return cloneRaw(next), true
}

// Get returns a copy of the session state.
func (r *Registry) Get(sessionID string) (View, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// Roster returns the participants of sessionID in join order.
func (r *Registry) Roster(sessionID string) []Participant {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	return s.Roster()
}

// Count returns the number of participants in sessionID.
func (r *Registry) Count(sessionID string) int {
	s, ok := r.sessions[sessionID]
	if !ok {
		return 0
	}
	return s.Count()
}

// SessionOf returns the session a connection is currently in.
func (r *Registry) SessionOf(connID string) (string, bool) {
	id, ok := r.conns[connID]
	return id, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Participants returns the number of participants across all sessions.
func (r *Registry) Participants() int {
	return len(r.conns)
}

// IDs returns the live session identifiers, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
