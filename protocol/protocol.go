package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"presenced/models"
)

// MessageType values match the dashboard client's enum.
type MessageType string

const (
	TypeJoin         MessageType = "JOIN"
	TypeLeave        MessageType = "LEAVE"
	TypePing         MessageType = "PING"
	TypeSystem       MessageType = "SYSTEM"
	TypeRoomPresence MessageType = "ROOM_PRESENCE"
	TypeOnlineUsers  MessageType = "ONLINE_USERS"
)

var (
	// ErrUnknownType marks a frame whose type is not in the enum. Unknown
	// types are ignored rather than treated as a violation so that newer
	// clients can talk to older servers.
	ErrUnknownType = errors.New("protocol: unknown message type")

	// ErrMalformed marks a frame that names a known type but carries a
	// payload that does not match its required shape.
	ErrMalformed = errors.New("protocol: malformed payload")
)

// Envelope is the wire frame: every message in either direction is one of
// these, with the payload shape keyed by Type.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

type JoinPayload struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

type LeavePayload struct {
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
}

type PingPayload struct {
	Username string `json:"username"`
}

// RoomPresenceRequest is the client->server form of ROOM_PRESENCE, asking
// for a snapshot of one room.
type RoomPresenceRequest struct {
	RoomID string `json:"roomId"`
}

type SystemPayload struct {
	Message   string           `json:"message"`
	EventType models.EventType `json:"eventType"`
	RoomID    string           `json:"roomId,omitempty"`
}

type RoomPresencePayload struct {
	RoomID string        `json:"roomId"`
	Users  []models.User `json:"users"`
}

type OnlineUsersPayload struct {
	Users      []models.User `json:"users"`
	TotalCount int           `json:"totalCount"`
}

// Inbound is a decoded, validated client frame. Exactly one payload field is
// set, matching Type. ONLINE_USERS requests carry no payload at all.
type Inbound struct {
	Type         MessageType
	Join         *JoinPayload
	Leave        *LeavePayload
	Ping         *PingPayload
	RoomPresence *RoomPresenceRequest
}

// DecodeInbound parses and validates one client frame. It returns
// ErrUnknownType for forward-compatible types the server should skip, and
// ErrMalformed (wrapped with detail) for anything that must close the
// connection.
func DecodeInbound(data []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: bad envelope: %v", ErrMalformed, err)
	}

	in := &Inbound{Type: env.Type}
	switch env.Type {
	case TypeJoin:
		var p JoinPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: JOIN: %v", ErrMalformed, err)
		}
		if p.Username == "" || p.RoomID == "" {
			return nil, fmt.Errorf("%w: JOIN requires username and roomId", ErrMalformed)
		}
		in.Join = &p

	case TypeLeave:
		var p LeavePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: LEAVE: %v", ErrMalformed, err)
		}
		if p.Username == "" {
			return nil, fmt.Errorf("%w: LEAVE requires username", ErrMalformed)
		}
		in.Leave = &p

	case TypePing:
		var p PingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: PING: %v", ErrMalformed, err)
		}
		if p.Username == "" {
			return nil, fmt.Errorf("%w: PING requires username", ErrMalformed)
		}
		in.Ping = &p

	case TypeRoomPresence:
		var p RoomPresenceRequest
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: ROOM_PRESENCE: %v", ErrMalformed, err)
		}
		if p.RoomID == "" {
			return nil, fmt.Errorf("%w: ROOM_PRESENCE requires roomId", ErrMalformed)
		}
		in.RoomPresence = &p

	case TypeOnlineUsers:
		// Request form carries an empty payload; nothing to validate.

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(env.Type))
	}
	return in, nil
}

// Encode wraps a payload in the envelope with the current timestamp.
func Encode(t MessageType, payload any) ([]byte, error) {
	return EncodeAt(t, payload, time.Now())
}

// EncodeAt is Encode with an explicit timestamp, used when the frame
// describes an event that happened at a known instant.
func EncodeAt(t MessageType, payload any, ts time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      t,
		Payload:   raw,
		Timestamp: ts.UTC().Format(time.RFC3339),
	})
}
