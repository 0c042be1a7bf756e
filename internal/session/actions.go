package session

import (
	"encoding/json"
	"time"

	"farmersfright.gg/internal/game"
	"farmersfright.gg/internal/protocol"
)

// Outcome tells the caller what to publish after Apply.
type Outcome struct {
	// Rebroadcast is set for every recognized non-chat action.
	Rebroadcast bool
	// Chat is set for chatMessage; TeamOnly limits delivery to Team.
	Chat *Chat
}

type Chat struct {
	Msg      protocol.ChatMsg
	TeamOnly bool
	Team     int
}

// Apply validates a against the acting player's ownership and resources and
// mutates the state. Commands that fail validation are dropped silently,
// per object where the action lists several.
func (s *State) Apply(playerID int, a protocol.Action, now time.Time) Outcome {
	if !a.Type.Known() {
		return Outcome{}
	}
	s.applied[a.Type]++

	switch a.Type {
	case protocol.ActMoveUnits:
		for _, u := range s.ownedUnits(playerID, a.UnitIDs) {
			u.TargetX, u.TargetY = game.Ptr(a.X), game.Ptr(a.Y)
			u.CommandState = game.Moving
		}
	case protocol.ActAttackMove:
		for _, u := range s.ownedUnits(playerID, a.UnitIDs) {
			u.AMoveTargetX, u.AMoveTargetY = game.Ptr(a.X), game.Ptr(a.Y)
			u.CommandState = game.AttackMoving
		}
	case protocol.ActAttackUnit:
		if _, ok := s.Object(a.TargetID); ok {
			for _, u := range s.ownedUnits(playerID, a.UnitIDs) {
				u.TargetUnit = game.RefTo(a.TargetID)
				u.CommandState = game.Attacking
			}
		}
	case protocol.ActSetRallyPoint:
		for _, id := range a.BunkerIDs {
			if b, ok := s.Object(id); ok && b.Owner == playerID && b.Type == game.Bunker {
				b.RallyPoint = &game.Point{X: a.X, Y: a.Y}
			}
		}
	case protocol.ActBuildBuilding:
		s.debitBuilding(playerID, a.BuildingType)
	case protocol.ActBuildingCreated:
		s.addSubmitted(playerID, a.Building, now, false)
	case protocol.ActUpgrade:
		s.upgrade(playerID, a.UpgradeType)
	case protocol.ActUnitSpawned:
		s.addSubmitted(playerID, a.Unit, now, true)
	case protocol.ActChatMessage:
		return Outcome{Chat: s.chat(playerID, a)}
	}
	return Outcome{Rebroadcast: true}
}

func (s *State) ownedUnits(playerID int, ids []string) []*game.Object {
	var out []*game.Object
	for _, id := range ids {
		o, ok := s.Object(id)
		if !ok || o.Owner != playerID {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *State) debitBuilding(playerID int, buildingType string) {
	t, err := game.ParseObjectType(buildingType)
	if err != nil {
		return
	}
	cost, ok := game.BuildingCost(t)
	if !ok {
		return
	}
	p, ok := s.players[playerID]
	if !ok || p.Resources < cost {
		return
	}
	p.Resources -= cost
}

func (s *State) upgrade(playerID int, upgradeType string) {
	p, ok := s.players[playerID]
	if !ok || upgradeType == "" {
		return
	}
	level := p.Upgrades[upgradeType]
	price := game.UpgradePrice(s.rules.UpgradeBasePrice, level)
	if p.Resources < price {
		return
	}
	p.Resources -= price
	if p.Upgrades == nil {
		p.Upgrades = map[string]int{}
	}
	p.Upgrades[upgradeType] = level + 1
}

// addSubmitted appends a client-built object. The object is trusted as sent
// apart from id uniqueness and the defaults filled in here.
func (s *State) addSubmitted(playerID int, raw json.RawMessage, now time.Time, spawned bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	var o game.Object
	if err := json.Unmarshal(raw, &o); err != nil {
		return
	}
	if o.Owner == 0 {
		o.Owner = playerID
	}
	if o.ID == "" {
		o.ID = s.newID(o.Type, o.Owner, now)
	}
	if o.Type == game.Bunker && o.RallyPoint == nil {
		o.RallyPoint = game.Ptr(game.MapCenter())
	}
	if spawned {
		if o.MovementSpeed == nil || *o.MovementSpeed == 0 {
			o.MovementSpeed = game.Ptr(game.DefaultMovementSpeed)
		}
		if o.Speed == nil || *o.Speed == 0 {
			o.Speed = game.Ptr(*o.MovementSpeed)
		}
		if o.Size == nil || *o.Size == 0 {
			o.Size = game.Ptr(game.DefaultSize(o.Type))
		}
	}
	if !s.AddObject(&o) {
		return
	}
	if spawned && o.SupplyCost != nil {
		if p, ok := s.players[playerID]; ok {
			p.CurrentSupply += *o.SupplyCost
		}
	}
}

func (s *State) chat(playerID int, a protocol.Action) *Chat {
	c := &Chat{Msg: protocol.ChatMsg{PlayerID: playerID, Message: a.Message, IsTeamChat: a.IsTeamChat}}
	if a.IsTeamChat {
		c.TeamOnly = true
		if p, ok := s.players[playerID]; ok {
			c.Team = p.Team
		}
	}
	return c
}

// TeamOf is the team of playerID, or 0 without a player record.
func (s *State) TeamOf(playerID int) int {
	if p, ok := s.players[playerID]; ok {
		return p.Team
	}
	return 0
}
