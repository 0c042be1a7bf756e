package session

import (
	"encoding/json"
	"time"
)

// Optional sinks (may be nil). Implemented in internal/persistence/*. Neither
// is ever read back into a session.
type EventLogger interface {
	WriteEvent(e MatchEvent) error
}

type MatchIndex interface {
	RecordMatchStart(m MatchRecord)
	RecordSeat(matchID string, seat Seat)
	RecordAction(matchID string, playerID int, action string)
	RecordMatchEnd(matchID string, endedAt time.Time, reason string)
}

// Event kinds written to the match log.
const (
	EventStart  = "start"
	EventJoin   = "join"
	EventAction = "action"
	EventLeave  = "leave"
	EventEnd    = "end"
)

type MatchEvent struct {
	Time     time.Time       `json:"ts"`
	MatchID  string          `json:"match_id"`
	Kind     string          `json:"kind"`
	Tick     uint64          `json:"tick"`
	PlayerID int             `json:"player_id,omitempty"`
	Team     int             `json:"team,omitempty"`
	Action   string          `json:"action,omitempty"`
	Removed  int             `json:"removed,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Seats    []Seat          `json:"seats,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

type MatchRecord struct {
	ID        string
	Mode      string
	StartedAt time.Time
	Seats     []Seat
}

type Seat struct {
	PlayerID int    `json:"player_id"`
	Team     int    `json:"team"`
	ConnID   string `json:"conn_id,omitempty"`
}

// Match start modes.
const (
	ModeQueue  = "queue"
	ModeDirect = "direct"
)
