package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/eldtechnologies/boardsync/internal/ids"
	"github.com/eldtechnologies/boardsync/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Room for the envelope and a preview image next to the snapshot.
	frameOverhead = 64 << 10
)

// Client is one WebSocket connection.
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	limiter    *rate.Limiter
	remoteAddr string
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		id:         ids.NewConnID(),
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.opts.SendBuffer),
		limiter:    rate.NewLimiter(rate.Limit(h.opts.MessageRate), h.opts.MessageBurst),
		remoteAddr: r.RemoteAddr,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// checkOrigin allows requests without an Origin header (non-browser clients)
// and browser requests from the configured origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// readPump decodes frames and forwards them to the hub. It is the only reader
// of the connection, which keeps each sender's messages in order.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.inbound <- inbound{client: c, closed: true}:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(2*c.hub.opts.MaxSnapshotBytes + frameOverhead))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("conn_id", c.id).Msg("websocket read error")
			}
			return
		}

		in := c.decode(frame)
		select {
		case c.hub.inbound <- in:
		case <-c.hub.done:
			return
		}
	}
}

// decode turns a frame into a hub message. Loading the persisted snapshot for
// join-room happens here, on the connection's goroutine, so the hub never
// waits on storage.
func (c *Client) decode(frame []byte) inbound {
	in := inbound{client: c}

	env, err := protocol.Decode(frame)
	if err != nil {
		in.err = err
		return in
	}
	in.env = env

	if !c.limiter.Allow() {
		in.err = ErrRateLimited
		return in
	}
	if !protocol.IsInbound(env.Type) {
		in.err = protocol.ErrUnknownType
		return in
	}

	if env.Type == protocol.TypeJoinRoom && c.hub.loader != nil {
		var req protocol.JoinRoom
		if protocol.DecodeData(env, &req) == nil && protocol.ValidateSessionID(req.SessionID) == nil {
			in.seed = c.loadSeed(req.SessionID)
		}
	}
	return in
}

func (c *Client) loadSeed(sessionID string) json.RawMessage {
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.LoadTimeout)
	defer cancel()

	snap, err := c.hub.loader.Load(ctx, sessionID)
	if err != nil {
		c.hub.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load snapshot, starting empty")
		return nil
	}
	if snap != nil && protocol.ValidateSnapshot(snap, c.hub.opts.MaxSnapshotBytes) != nil {
		c.hub.logger.Warn().Str("session_id", sessionID).Msg("ignoring invalid persisted snapshot")
		return nil
	}
	return snap
}

// writePump is the only writer of the connection. It exits when the hub
// closes the send channel.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
