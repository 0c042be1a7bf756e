package protocol

import "farmersfright.gg/internal/game"

// joinGame (client -> server)
type JoinGameMsg struct {
	PlayerID int `json:"playerId"`
}

// queueUpdate (server -> client)
type QueueUpdateMsg struct {
	Players []QueueEntry `json:"players"`
}

type QueueEntry struct {
	SocketID string `json:"socketId"`
	PlayerID int    `json:"playerId"`
}

type QueueErrorMsg struct {
	Message string `json:"message"`
}

type GameStartingMsg struct {
	PlayerID int `json:"playerId"`
	Team     int `json:"team"`
}

type JoinSuccessMsg struct {
	PlayerID int `json:"playerId"`
}

type JoinErrorMsg struct {
	Message string `json:"message"`
}

// gameStateUpdate (server -> client). GameTime is milliseconds since match start.
type GameStateMsg struct {
	GameObjects []*game.Object       `json:"gameObjects"`
	Players     map[int]*game.Player `json:"players"`
	GameTime    int64                `json:"gameTime"`
}

type ChatMsg struct {
	PlayerID   int    `json:"playerId"`
	Message    string `json:"message"`
	IsTeamChat bool   `json:"isTeamChat"`
}

type ErrorMsg struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
