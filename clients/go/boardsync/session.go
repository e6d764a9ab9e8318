package boardsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/boardsync/internal/protocol"
)

const writeWait = 10 * time.Second

// ErrSessionClosed is returned when writing to a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session is a joined realtime board session.
type Session struct {
	ID     string
	Joined protocol.RoomJoined

	conn   *websocket.Conn
	events chan protocol.Envelope

	writeMu sync.Mutex
	once    sync.Once
	closed  chan struct{}
	err     error
}

// websocketURL maps the API base URL onto the gateway endpoint.
func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Join connects to the gateway and joins sessionID under displayName. It
// returns once the server acknowledged the join with the current snapshot.
func (c *Client) Join(ctx context.Context, sessionID, displayName string) (*Session, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	s := &Session{
		ID:     sessionID,
		conn:   conn,
		events: make(chan protocol.Envelope, 64),
		closed: make(chan struct{}),
	}
	if err := s.send(protocol.TypeJoinRoom, protocol.JoinRoom{SessionID: sessionID, DisplayName: displayName}); err != nil {
		conn.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	for {
		env, err := s.read()
		if err != nil {
			conn.Close()
			return nil, err
		}
		if env.Type == protocol.TypeError {
			conn.Close()
			return nil, remoteError(env)
		}
		if env.Type == protocol.TypeRoomJoined {
			if err := json.Unmarshal(env.Data, &s.Joined); err != nil {
				conn.Close()
				return nil, err
			}
			break
		}
	}
	conn.SetReadDeadline(time.Time{})

	go s.readLoop()
	return s, nil
}

// Events delivers every frame the server sends after the join
// acknowledgement. It is closed when the connection ends. Callers must drain
// it; the reader blocks while it is full.
func (s *Session) Events() <-chan protocol.Envelope {
	return s.events
}

// Err reports why the event stream ended.
func (s *Session) Err() error {
	select {
	case <-s.closed:
		return s.err
	default:
		return nil
	}
}

// SendState replaces the board with snapshot. An empty preview keeps the
// stored thumbnail.
func (s *Session) SendState(snapshot json.RawMessage, preview string) error {
	return s.send(protocol.TypeCanvasState, protocol.CanvasState{
		SessionID:    s.ID,
		Snapshot:     snapshot,
		PreviewImage: preview,
	})
}

// Ready asks the server to resend the current snapshot.
func (s *Session) Ready() error {
	return s.send(protocol.TypeClientReady, protocol.SessionRef{SessionID: s.ID})
}

// Clear empties the board for everyone.
func (s *Session) Clear() error {
	return s.send(protocol.TypeClear, protocol.SessionRef{SessionID: s.ID})
}

func (s *Session) Undo() error {
	return s.send(protocol.TypeUndo, protocol.SessionRef{SessionID: s.ID})
}

func (s *Session) Redo() error {
	return s.send(protocol.TypeRedo, protocol.SessionRef{SessionID: s.ID})
}

func (s *Session) Ping() error {
	return s.send(protocol.TypePing, nil)
}

// Leave leaves the session without closing the connection.
func (s *Session) Leave() error {
	return s.send(protocol.TypeLeaveRoom, protocol.LeaveRoom{SessionID: s.ID})
}

// Close sends a close frame and tears down the connection.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *Session) send(typ string, payload interface{}) error {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Session) read() (protocol.Envelope, error) {
	_, frame, err := s.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(frame)
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		env, err := s.read()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			s.finish(err)
			return
		}
		s.events <- env
	}
}

func (s *Session) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.closed)
	})
}

// remoteError turns an error frame into a Go error.
func remoteError(env protocol.Envelope) error {
	var ep protocol.ErrorPayload
	if err := protocol.DecodeData(env, &ep); err != nil {
		return err
	}
	return fmt.Errorf("server rejected %s: %s", ep.Ref, ep.Message)
}
