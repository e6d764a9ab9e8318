// Package realtime is the WebSocket gateway. A single Hub goroutine owns the
// session registry; connections feed it through channels and receive frames on
// their own buffered send queue.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/boardsync/internal/metrics"
	"github.com/eldtechnologies/boardsync/internal/presence"
	"github.com/eldtechnologies/boardsync/internal/protocol"
	"github.com/eldtechnologies/boardsync/internal/session"
)

var (
	ErrNotJoined     = errors.New("not joined to this session")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrHubClosed     = errors.New("hub closed")
)

// Loader returns the persisted snapshot of a board, or nil when it has none.
type Loader interface {
	Load(ctx context.Context, boardID string) (json.RawMessage, error)
}

// Persister accepts snapshots for background persistence. Calls must not
// block on I/O.
type Persister interface {
	Enqueue(boardID string, snapshot json.RawMessage, preview *string)
	EnqueueClear(boardID string, snapshot json.RawMessage)
}

// Options tunes the hub and its connections.
type Options struct {
	MaxSnapshotBytes int
	HistoryDepth     int
	MessageRate      float64 // inbound messages per second per connection
	MessageBurst     int
	LoadTimeout      time.Duration
	SendBuffer       int
	AllowedOrigins   []string
}

func (o *Options) defaults() {
	if o.MaxSnapshotBytes <= 0 {
		o.MaxSnapshotBytes = protocol.DefaultMaxSnapshotBytes
	}
	if o.HistoryDepth <= 0 {
		o.HistoryDepth = session.DefaultHistoryDepth
	}
	if o.MessageRate <= 0 {
		o.MessageRate = 30
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 60
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 3 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
}

// inbound is one decoded frame, the reason it was rejected before it reached
// the hub, or the end of the connection. Closing travels on the same queue as
// frames so it is handled after everything the connection sent before it.
type inbound struct {
	client *Client
	env    protocol.Envelope
	seed   json.RawMessage // preloaded snapshot for join-room
	err    error
	closed bool
}

// Hub serializes every session mutation.
type Hub struct {
	opts      Options
	registry  *session.Registry
	clients   map[string]*Client
	loader    Loader
	persister Persister
	logger    zerolog.Logger

	register chan *Client
	inbound  chan inbound
	queries  chan func()
	done     chan struct{}

	// slow holds clients whose send buffer overflowed during the current
	// event; they are disconnected once the event is fully handled.
	slow []*Client
}

// NewHub creates a hub. loader and persister may be nil.
func NewHub(opts Options, loader Loader, persister Persister, logger zerolog.Logger) *Hub {
	opts.defaults()
	return &Hub{
		opts:      opts,
		registry:  session.NewRegistry(session.WithHistoryDepth(opts.HistoryDepth)),
		clients:   make(map[string]*Client),
		loader:    loader,
		persister: persister,
		logger:    logger,
		register:  make(chan *Client),
		inbound:   make(chan inbound, 256),
		queries:   make(chan func()),
		done:      make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled. All open connections are
// closed on return.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for id, c := range h.clients {
			close(c.send)
			delete(h.clients, id)
		}
		metrics.OpenConnections.Set(0)
	}()

	for {
		select {
		case c := <-h.register:
			h.clients[c.id] = c
			metrics.OpenConnections.Inc()
			h.logger.Debug().Str("conn_id", c.id).Str("remote_addr", c.remoteAddr).Msg("connection registered")
		case in := <-h.inbound:
			h.handle(in)
		case q := <-h.queries:
			q()
		case <-ctx.Done():
			return
		}
		h.reap()
	}
}

// handle dispatches one inbound message.
func (h *Hub) handle(in inbound) {
	c := in.client
	if in.closed {
		h.disconnect(c)
		return
	}
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	if in.err != nil {
		h.reject(c, in.env.Type, in.err)
		return
	}
	metrics.MessagesReceived.WithLabelValues(in.env.Type).Inc()

	var err error
	switch in.env.Type {
	case protocol.TypePing:
		h.sendTo(c, protocol.TypePong, nil)
	case protocol.TypeJoinRoom:
		err = h.handleJoin(c, in.env, in.seed)
	case protocol.TypeClientReady:
		err = h.handleClientReady(c, in.env)
	case protocol.TypeLeaveRoom:
		err = h.handleLeave(c, in.env)
	case protocol.TypeCanvasState:
		err = h.handleCanvasState(c, in.env)
	case protocol.TypeClear:
		err = h.handleClear(c, in.env)
	case protocol.TypeUndo, protocol.TypeRedo:
		err = h.handleHistory(c, in.env)
	default:
		err = protocol.ErrUnknownType
	}
	if err != nil {
		h.reject(c, in.env.Type, err)
	}
}

func (h *Hub) handleJoin(c *Client, env protocol.Envelope, seed json.RawMessage) error {
	var req protocol.JoinRoom
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	if err := protocol.ValidateSessionID(req.SessionID); err != nil {
		return err
	}

	res := h.registry.Join(req.SessionID, session.Participant{
		ConnID: c.id,
		Name:   protocol.SanitizeDisplayName(req.DisplayName),
	}, seed)
	if res.Moved != nil {
		h.announceLeave(*res.Moved)
	}

	h.sendTo(c, protocol.TypeRoomJoined, protocol.RoomJoined{
		SessionID:    res.Session.ID,
		ConnectionID: c.id,
		Participants: participantInfos(res.Session.Roster),
		Snapshot:     res.Session.Snapshot,
		CanUndo:      res.Session.CanUndo,
		CanRedo:      res.Session.CanRedo,
	})

	if ev, ok := presence.Joined(res); ok {
		h.announce(ev)
	} else {
		// Same connection joined again, possibly under a new name.
		h.sendRoster(res.Session.ID, res.Session.Roster)
	}

	h.logger.Info().
		Str("session_id", res.Session.ID).
		Str("conn_id", c.id).
		Str("name", res.Participant.Name).
		Bool("created", res.Created).
		Int("participants", res.Session.Count()).
		Msg("participant joined")
	h.updateGauges()
	return nil
}

func (h *Hub) handleClientReady(c *Client, env protocol.Envelope) error {
	var req protocol.SessionRef
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	if err := h.requireJoined(c, req.SessionID); err != nil {
		return err
	}
	v, _ := h.registry.Get(req.SessionID)
	h.sendTo(c, protocol.TypeCanvasStateFromServer, protocol.CanvasStateFromServer{
		SessionID: v.ID,
		Snapshot:  v.Snapshot,
	})
	return nil
}

func (h *Hub) handleLeave(c *Client, env protocol.Envelope) error {
	var req protocol.LeaveRoom
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	if err := h.requireJoined(c, req.SessionID); err != nil {
		return err
	}
	h.announceLeave(h.registry.Leave(req.SessionID, c.id))
	h.updateGauges()
	return nil
}

func (h *Hub) handleCanvasState(c *Client, env protocol.Envelope) error {
	var req protocol.CanvasState
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	if err := h.requireJoined(c, req.SessionID); err != nil {
		return err
	}
	if err := protocol.ValidateSnapshot(req.Snapshot, h.opts.MaxSnapshotBytes); err != nil {
		return err
	}

	preview := req.PreviewImage
	if err := protocol.ValidatePreview(preview, h.opts.MaxSnapshotBytes); err != nil {
		h.logger.Debug().Err(err).Str("session_id", req.SessionID).Msg("dropping preview")
		preview = ""
	}

	h.registry.ApplyState(req.SessionID, req.Snapshot, preview)
	h.broadcast(req.SessionID, c.id, protocol.TypeCanvasStateFromServer, protocol.CanvasStateFromServer{
		SessionID: req.SessionID,
		Snapshot:  req.Snapshot,
	})

	if h.persister != nil {
		var p *string
		if preview != "" {
			p = &preview
		}
		h.persister.Enqueue(req.SessionID, req.Snapshot, p)
	}
	return nil
}

func (h *Hub) handleClear(c *Client, env protocol.Envelope) error {
	var req protocol.SessionRef
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	if err := h.requireJoined(c, req.SessionID); err != nil {
		return err
	}

	h.registry.Clear(req.SessionID)
	h.broadcast(req.SessionID, "", protocol.TypeClear, protocol.SessionRef{SessionID: req.SessionID})

	if h.persister != nil {
		h.persister.EnqueueClear(req.SessionID, session.EmptySnapshot)
	}
	h.logger.Info().Str("session_id", req.SessionID).Str("conn_id", c.id).Msg("board cleared")
	return nil
}

func (h *Hub) handleHistory(c *Client, env protocol.Envelope) error {
	var req protocol.SessionRef
	if err := protocol.DecodeData(env, &req); err != nil {
		return err
	}
	if err := h.requireJoined(c, req.SessionID); err != nil {
		return err
	}

	var (
		snap json.RawMessage
		ok   bool
	)
	if env.Type == protocol.TypeUndo {
		if snap, ok = h.registry.Undo(req.SessionID); !ok {
			return ErrNothingToUndo
		}
	} else {
		if snap, ok = h.registry.Redo(req.SessionID); !ok {
			return ErrNothingToRedo
		}
	}

	// The sender does not hold the restored state either, so everyone gets it.
	h.broadcast(req.SessionID, "", protocol.TypeCanvasStateFromServer, protocol.CanvasStateFromServer{
		SessionID: req.SessionID,
		Snapshot:  snap,
	})
	if h.persister != nil {
		h.persister.Enqueue(req.SessionID, snap, nil)
	}
	return nil
}

// disconnect drops a connection and synthesizes its leave. It is a no-op for
// a connection that is already gone, so a leave is emitted at most once.
func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	metrics.OpenConnections.Dec()

	if sid, ok := h.registry.SessionOf(c.id); ok {
		h.announceLeave(h.registry.Leave(sid, c.id))
		h.updateGauges()
	}
	h.logger.Debug().Str("conn_id", c.id).Msg("connection closed")
}

// announceLeave tells the remaining participants about a departure, or hands
// the final snapshot of an evicted session to the persister.
func (h *Hub) announceLeave(res session.LeaveResult) {
	if !res.Removed {
		return
	}
	h.logger.Info().
		Str("session_id", res.SessionID).
		Str("conn_id", res.Participant.ConnID).
		Str("name", res.Participant.Name).
		Int("participants", res.Remaining).
		Bool("evicted", res.Evicted).
		Msg("participant left")

	if res.Evicted {
		if h.persister != nil && !bytes.Equal(res.Snapshot, session.EmptySnapshot) {
			var p *string
			if res.Preview != "" {
				p = &res.Preview
			}
			h.persister.Enqueue(res.SessionID, res.Snapshot, p)
		}
		return
	}
	if ev, ok := presence.Left(res); ok {
		h.announce(ev)
	}
}

// announce delivers a presence event and the refreshed roster.
func (h *Hub) announce(ev presence.Event) {
	typ := protocol.TypeUserJoined
	if ev.Kind == presence.KindLeft {
		typ = protocol.TypeUserLeft
	}
	for _, id := range ev.Recipients() {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		h.sendTo(c, typ, protocol.Presence{
			SessionID:    ev.SessionID,
			UserName:     ev.Subject.Name,
			ConnectionID: ev.Subject.ConnID,
			Self:         ev.IsSelf(id),
			Message:      ev.Notice(id),
			Count:        ev.Count,
		})
	}
	metrics.Broadcasts.WithLabelValues(typ).Inc()
	h.sendRoster(ev.SessionID, ev.Roster)
}

// sendRoster pushes participantsList and participantsCount to every member.
func (h *Hub) sendRoster(sessionID string, roster []session.Participant) {
	h.broadcast(sessionID, "", protocol.TypeParticipantsList, presence.Names(roster))
	h.broadcast(sessionID, "", protocol.TypeParticipantsCount, len(roster))
}

// broadcast encodes payload once and queues it for every participant of
// sessionID except the connection named by exclude.
func (h *Hub) broadcast(sessionID, exclude, typ string, payload interface{}) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", typ).Msg("failed to encode message")
		return
	}
	for _, p := range h.registry.Roster(sessionID) {
		if p.ConnID == exclude {
			continue
		}
		if c, ok := h.clients[p.ConnID]; ok {
			h.queue(c, frame)
		}
	}
	metrics.Broadcasts.WithLabelValues(typ).Inc()
}

// sendTo queues a single message for c.
func (h *Hub) sendTo(c *Client, typ string, payload interface{}) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", typ).Msg("failed to encode message")
		return
	}
	h.queue(c, frame)
}

// queue never blocks: a client that cannot keep up is marked for
// disconnection.
func (h *Hub) queue(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.slow = append(h.slow, c)
	}
}

// reap disconnects clients that overflowed their send buffer. Disconnecting
// one may overflow another, so it loops until none are left.
func (h *Hub) reap() {
	for len(h.slow) > 0 {
		c := h.slow[0]
		h.slow = h.slow[1:]
		if _, ok := h.clients[c.id]; !ok {
			continue
		}
		metrics.SlowConsumersDropped.Inc()
		h.logger.Warn().Str("conn_id", c.id).Msg("dropping slow consumer")
		h.disconnect(c)
	}
}

func (h *Hub) reject(c *Client, ref string, err error) {
	metrics.MessagesRejected.WithLabelValues(rejectReason(err)).Inc()
	h.logger.Debug().Err(err).Str("conn_id", c.id).Str("type", ref).Msg("message rejected")
	h.sendTo(c, protocol.TypeError, protocol.ErrorPayload{
		Message: err.Error(),
		Ref:     ref,
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotJoined):
		return "not_joined"
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrMalformedEnvelope):
		return "malformed"
	case errors.Is(err, ErrNothingToUndo), errors.Is(err, ErrNothingToRedo):
		return "history"
	}
	return "invalid"
}

func (h *Hub) requireJoined(c *Client, sessionID string) error {
	if sid, ok := h.registry.SessionOf(c.id); !ok || sid != sessionID {
		return ErrNotJoined
	}
	return nil
}

func (h *Hub) updateGauges() {
	metrics.ActiveSessions.Set(float64(h.registry.Len()))
	metrics.ConnectedParticipants.Set(float64(h.registry.Participants()))
}

func participantInfos(roster []session.Participant) []protocol.ParticipantInfo {
	out := make([]protocol.ParticipantInfo, len(roster))
	for i, p := range roster {
		out[i] = protocol.ParticipantInfo{
			ConnectionID: p.ConnID,
			Name:         p.Name,
			JoinedAt:     p.JoinedAt.UnixMilli(),
		}
	}
	return out
}
