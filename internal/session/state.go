package session

import (
	"sort"
	"strconv"
	"time"

	"farmersfright.gg/internal/game"
	"farmersfright.gg/internal/protocol"
	"farmersfright.gg/internal/tuning"
)

// Rules are the economy numbers a State applies.
type Rules struct {
	StartResources   int
	SupplyCap        int
	IncomeAmount     int
	IncomeInterval   time.Duration
	UpgradeBasePrice int
}

func DefaultRules() Rules {
	return RulesFromTuning(tuning.Defaults())
}

func RulesFromTuning(t tuning.Tuning) Rules {
	return Rules{
		StartResources:   t.Economy.StartResources,
		SupplyCap:        t.Economy.SupplyCap,
		IncomeAmount:     t.Economy.IncomeAmount,
		IncomeInterval:   t.Economy.IncomeInterval(),
		UpgradeBasePrice: t.Economy.UpgradeBasePrice,
	}
}

// State is the authoritative world of one match. It is not safe for
// concurrent use.
type State struct {
	rules Rules

	objects []*game.Object
	index   map[string]int
	players map[int]*game.Player

	startedAt time.Time
	running   bool

	applied map[protocol.ActionType]uint64
}

func NewState(rules Rules, now time.Time) *State {
	return &State{
		rules:     rules,
		index:     map[string]int{},
		players:   map[int]*game.Player{},
		startedAt: now,
		running:   true,
		applied:   map[protocol.ActionType]uint64{},
	}
}

func (s *State) Running() bool        { return s.running }
func (s *State) StartedAt() time.Time { return s.startedAt }
func (s *State) Rules() Rules         { return s.rules }
func (s *State) ObjectCount() int     { return len(s.objects) }
func (s *State) PlayerCount() int     { return len(s.players) }

// GameTime is milliseconds since the match started.
func (s *State) GameTime(now time.Time) int64 {
	return now.Sub(s.startedAt).Milliseconds()
}

func (s *State) Object(id string) (*game.Object, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.objects[i], true
}

func (s *State) Objects() []*game.Object { return s.objects }

func (s *State) Player(id int) (*game.Player, bool) {
	p, ok := s.players[id]
	return p, ok
}

// PlayerIDs returns the ids with a live player record, ascending.
func (s *State) PlayerIDs() []int {
	ids := make([]int, 0, len(s.players))
	for id := range s.players {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AddObject inserts o unless its id is already used.
func (s *State) AddObject(o *game.Object) bool {
	if o == nil || o.ID == "" {
		return false
	}
	if _, dup := s.index[o.ID]; dup {
		return false
	}
	s.index[o.ID] = len(s.objects)
	s.objects = append(s.objects, o)
	return true
}

// newID returns the server id form for t, suffixed when the millisecond
// already produced one.
func (s *State) newID(t game.ObjectType, owner int, now time.Time) string {
	id := game.ObjectID(t, owner, now)
	if _, dup := s.index[id]; !dup {
		return id
	}
	for n := 2; ; n++ {
		cand := id + "_" + strconv.Itoa(n)
		if _, dup := s.index[cand]; !dup {
			return cand
		}
	}
}

// RemovePlayer drops every object owned by playerID and the player record.
func (s *State) RemovePlayer(playerID int) (removed int, hadRecord bool) {
	kept := s.objects[:0]
	for _, o := range s.objects {
		if o.Owner == playerID {
			removed++
			continue
		}
		kept = append(kept, o)
	}
	for i := len(kept); i < len(s.objects); i++ {
		s.objects[i] = nil
	}
	s.objects = kept
	s.reindex()

	_, hadRecord = s.players[playerID]
	delete(s.players, playerID)
	return removed, hadRecord
}

func (s *State) reindex() {
	s.index = make(map[string]int, len(s.objects))
	for i, o := range s.objects {
		s.index[o.ID] = i
	}
}

// ActionCounts copies the per-type counters of applied actions.
func (s *State) ActionCounts() map[protocol.ActionType]uint64 {
	out := make(map[protocol.ActionType]uint64, len(s.applied))
	for k, v := range s.applied {
		out[k] = v
	}
	return out
}

// Snapshot builds the gameStateUpdate payload. The result aliases live state
// and must be encoded before the state changes again.
func (s *State) Snapshot(now time.Time) protocol.GameStateMsg {
	objs := s.objects
	if objs == nil {
		objs = []*game.Object{}
	}
	return protocol.GameStateMsg{
		GameObjects: objs,
		Players:     s.players,
		GameTime:    s.GameTime(now),
	}
}
