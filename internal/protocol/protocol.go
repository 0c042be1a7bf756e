package protocol

import (
	"encoding/json"
	"errors"
)

// Client -> server events.
const (
	TypeJoinQueue    = "joinQueue"
	TypeLeaveQueue   = "leaveQueue"
	TypeJoinGame     = "joinGame"
	TypePlayerAction = "playerAction"
)

// Server -> client events.
const (
	TypeQueueUpdate     = "queueUpdate"
	TypeQueueError      = "queueError"
	TypeGameStarting    = "gameStarting"
	TypeJoinSuccess     = "joinSuccess"
	TypeJoinError       = "joinError"
	TypeGameStateUpdate = "gameStateUpdate"
	TypeChatMessage     = "chatMessage"
	TypeError           = "error"
)

var ErrMissingType = errors.New("message missing type")

// Envelope carries one named event. Data is the event payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return e, err
	}
	if e.Type == "" {
		return e, ErrMissingType
	}
	return e, nil
}

// Encode wraps payload in an envelope of the given event type.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = b
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads that always marshal.
func MustEncode(eventType string, payload any) []byte {
	b, err := Encode(eventType, payload)
	if err != nil {
		panic(err)
	}
	return b
}
