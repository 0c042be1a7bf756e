package session

import (
	"time"

	"farmersfright.gg/internal/game"
)

// Assignment seats one player on a team.
type Assignment struct {
	PlayerID int `json:"playerId"`
	Team     int `json:"team"`
}

type spawnSlot struct {
	TileX, TileY int
	Corner       game.Corner
	WorkerDX     float64
	WorkerDY     float64
}

// spawnTable places team 1 top-left, 2 top-right, 3 bottom-left, 4
// bottom-right. Index is the player's position within the team.
var spawnTable = map[int][2]spawnSlot{
	1: {{1, 0, game.TopLeft, 113, 0}, {0, 1, game.TopLeft, 113, 0}},
	2: {{6, 0, game.TopRight, -113, 0}, {7, 1, game.TopRight, -113, 0}},
	3: {{1, 7, game.BottomLeft, 113, 0}, {0, 6, game.BottomLeft, 113, 0}},
	4: {{6, 7, game.BottomRight, -113, 0}, {7, 6, game.BottomRight, -113, 0}},
}

func spawnFor(team, indexInTeam int) spawnSlot {
	slots, ok := spawnTable[team]
	if !ok || indexInTeam < 0 || indexInTeam >= len(slots) {
		return spawnTable[1][0]
	}
	return slots[indexInTeam]
}

// LegacyAssignments is the full eight-seat layout used when a player joins a
// seat directly while no match is running.
func LegacyAssignments() []Assignment {
	return []Assignment{
		{PlayerID: 1, Team: 1}, {PlayerID: 2, Team: 1},
		{PlayerID: 3, Team: 2}, {PlayerID: 4, Team: 2},
		{PlayerID: 5, Team: 3}, {PlayerID: 6, Team: 3},
		{PlayerID: 7, Team: 4}, {PlayerID: 8, Team: 4},
	}
}

// Bootstrap builds a fresh match: one player record, one bunker and one
// worker per assignment. The layout depends only on the assignment order.
func Bootstrap(assignments []Assignment, rules Rules, now time.Time) *State {
	s := NewState(rules, now)

	seen := map[int]int{}
	for _, a := range assignments {
		idx := seen[a.Team]
		seen[a.Team] = idx + 1

		s.players[a.PlayerID] = &game.Player{
			Team:      a.Team,
			Resources: rules.StartResources,
			SupplyCap: rules.SupplyCap,
			Color:     game.TeamColor(a.Team, a.PlayerID),
			Upgrades:  map[string]int{},
		}

		slot := spawnFor(a.Team, idx)
		pos := game.CornerPosition(slot.TileX, slot.TileY, slot.Corner)

		bunker, _ := game.NewObject(game.Bunker, s.newID(game.Bunker, a.PlayerID, now), a.PlayerID, pos.X, pos.Y)
		s.AddObject(bunker)

		worker, _ := game.NewObject(game.Worker, s.newID(game.Worker, a.PlayerID, now), a.PlayerID, pos.X+slot.WorkerDX, pos.Y+slot.WorkerDY)
		s.AddObject(worker)
	}
	return s
}
