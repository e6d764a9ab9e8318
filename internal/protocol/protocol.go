// Package protocol defines the messages exchanged over the board WebSocket.
//
// Every frame is a JSON envelope {"type": "...", "data": {...}}. Edits are
// replicated as whole snapshots: the server never diffs or merges, it replaces
// the session state and fans the new snapshot out.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types (client -> server).
const (
	TypeJoinRoom    = "join-room"
	TypeClientReady = "client-ready"
	TypeLeaveRoom   = "leave-room"
	TypeCanvasState = "canvas-state"
	TypeClear       = "clear"
	TypeUndo        = "undo"
	TypeRedo        = "redo"
	TypePing        = "ping"
)

// Outbound message types (server -> client). TypeClear is shared.
const (
	TypeRoomJoined            = "room-joined"
	TypeCanvasStateFromServer = "canvas-state-from-server"
	TypeParticipantsList      = "participantsList"
	TypeParticipantsCount     = "participantsCount"
	TypeUserJoined            = "userJoined"
	TypeUserLeft              = "userLeft"
	TypeError                 = "error"
	TypePong                  = "pong"
)

var (
	ErrMalformedEnvelope = errors.New("malformed message")
	ErrUnknownType       = errors.New("unknown message type")
)

// Envelope is the outer frame of every message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinRoom asks to enter a session.
type JoinRoom struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName"`
}

// LeaveRoom asks to leave a session.
type LeaveRoom struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName,omitempty"`
}

// SessionRef carries only a session identifier (client-ready, clear, undo, redo).
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

// CanvasState carries a full replacement snapshot.
type CanvasState struct {
	SessionID    string          `json:"sessionId"`
	Snapshot     json.RawMessage `json:"snapshot"`
	PreviewImage string          `json:"previewImage,omitempty"`
}

// ParticipantInfo is a roster entry.
type ParticipantInfo struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	JoinedAt     int64  `json:"joinedAt"` // Unix ms
}

// RoomJoined acknowledges a join and rehydrates the joiner.
type RoomJoined struct {
	SessionID    string            `json:"sessionId"`
	ConnectionID string            `json:"connectionId"`
	Participants []ParticipantInfo `json:"participants"`
	Snapshot     json.RawMessage   `json:"snapshot"`
	CanUndo      bool              `json:"canUndo"`
	CanRedo      bool              `json:"canRedo"`
}

// CanvasStateFromServer replaces the receiver's local surface.
type CanvasStateFromServer struct {
	SessionID string          `json:"sessionId"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// Presence is the payload of userJoined and userLeft.
type Presence struct {
	SessionID    string `json:"sessionId"`
	UserName     string `json:"userName"`
	ConnectionID string `json:"connectionId"`
	Self         bool   `json:"self"`
	Message      string `json:"message"`
	Count        int    `json:"count"`
}

// ErrorPayload reports a rejected inbound message.
type ErrorPayload struct {
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"` // type of the offending message
}

// Decode parses a frame into its envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func DecodeData(env Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformedEnvelope, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, env.Type, err)
	}
	return nil
}

// Encode builds a frame of the given type.
func Encode(typ string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// IsInbound reports whether typ is a message clients may send.
func IsInbound(typ string) bool {
	switch typ {
	case TypeJoinRoom, TypeClientReady, TypeLeaveRoom, TypeCanvasState,
		TypeClear, TypeUndo, TypeRedo, TypePing:
		return true
	}
	return false
}
