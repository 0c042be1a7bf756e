package client

import (
	"encoding/json"
	"fmt"
	"time"

	"farmersfright.gg/internal/game"
	"farmersfright.gg/internal/protocol"
)

const (
	// Remote units further than this from the server position are smoothed
	// instead of snapped.
	snapDistance = 5.0
	// Fraction of the remaining error closed per distinct snapshot.
	smoothing = 0.15

	frame = time.Second / 60
)

// Entity is the local mirror of one server object. Target is resolved from
// TargetUnit on every merge and is nil when the target is gone or dead.
type Entity struct {
	game.Object
	Target *Entity
}

// Snapshot is a decoded gameStateUpdate. Objects stay raw so one bad object
// does not reject the whole update.
type Snapshot struct {
	Objects  []json.RawMessage    `json:"gameObjects"`
	Players  map[int]*game.Player `json:"players"`
	GameTime int64                `json:"gameTime"`
}

func DecodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// wireObject decodes rallyPoint on its own so a malformed pair does not
// reject the whole object.
type wireObject struct {
	game.Object
	Rally json.RawMessage `json:"rallyPoint"`
}

type wirePoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// decodeObject decodes one snapshot object. A rallyPoint that is not a pair
// of numbers becomes map center on bunkers and is dropped elsewhere.
func decodeObject(raw []byte) (game.Object, error) {
	var in wireObject
	if err := json.Unmarshal(raw, &in); err != nil {
		return game.Object{}, err
	}
	o := in.Object
	o.RallyPoint = nil
	if len(in.Rally) == 0 {
		return o, nil
	}
	var p wirePoint
	if err := json.Unmarshal(in.Rally, &p); err == nil && p.X != nil && p.Y != nil {
		o.RallyPoint = &game.Point{X: *p.X, Y: *p.Y}
	} else if o.Type == game.Bunker {
		o.RallyPoint = game.Ptr(game.MapCenter())
	}
	return o, nil
}

type MergeResult struct {
	Created  int
	Updated  int
	Deleted  int
	Rejected int
	First    bool
}

// World mirrors the authoritative state for one client. It is not safe for
// concurrent use; Client serializes access.
type World struct {
	Self     int
	Players  map[int]*game.Player
	GameTime int64

	entities []*Entity
	index    map[string]int

	merges     int
	lastSmooth int64
	carry      time.Duration
	inited     bool

	// OnInit runs once, as soon as the mirror holds a snapshot and knows
	// which player it belongs to.
	OnInit func(w *World)
	// OnPlayers runs after every merge.
	OnPlayers func(players map[int]*game.Player)
}

func NewWorld(self int) *World {
	return &World{
		Self:       self,
		Players:    map[int]*game.Player{},
		index:      map[string]int{},
		lastSmooth: -1,
	}
}

func (w *World) Len() int            { return len(w.entities) }
func (w *World) Entities() []*Entity { return w.entities }
func (w *World) Merges() int         { return w.merges }

func (w *World) Entity(id string) (*Entity, bool) {
	i, ok := w.index[id]
	if !ok {
		return nil, false
	}
	return w.entities[i], true
}

// OwnUnits returns the units owned by Self, in arena order.
func (w *World) OwnUnits() []*Entity {
	var out []*Entity
	for _, e := range w.entities {
		if e.Owner == w.Self && e.Type.IsUnit() {
			out = append(out, e)
		}
	}
	return out
}

func (w *World) insert(e *Entity) {
	w.index[e.ID] = len(w.entities)
	w.entities = append(w.entities, e)
}

// Merge folds one snapshot into the mirror.
func (w *World) Merge(s Snapshot) MergeResult {
	var res MergeResult
	smooth := s.GameTime != w.lastSmooth
	seen := make(map[string]struct{}, len(s.Objects))
	refs := make(map[*Entity]game.Ref, len(s.Objects))

	// Pass 1: create or update.
	for _, raw := range s.Objects {
		in, err := decodeObject(raw)
		if err != nil || in.ID == "" {
			res.Rejected++
			continue
		}
		seen[in.ID] = struct{}{}

		e, ok := w.Entity(in.ID)
		if !ok {
			obj, err := game.NewObject(in.Type, in.ID, in.Owner, in.X, in.Y)
			if err != nil {
				res.Rejected++
				continue
			}
			e = &Entity{Object: *obj}
			w.insert(e)
			res.Created++
			w.copyFields(e, &in)
			e.CommandState = commandOr(in.CommandState, e.CommandState)
		} else {
			res.Updated++
			w.updatePosition(e, &in, smooth)
			w.copyFields(e, &in)
		}

		if in.TargetUnit.Set {
			refs[e] = in.TargetUnit
		} else if e.Target != nil {
			refs[e] = game.RefTo(e.Target.ID)
		} else {
			refs[e] = e.TargetUnit
		}
	}

	// Pass 2: drop what the server no longer has.
	kept := w.entities[:0]
	for _, e := range w.entities {
		if _, ok := seen[e.ID]; ok {
			kept = append(kept, e)
			continue
		}
		res.Deleted++
	}
	for i := len(kept); i < len(w.entities); i++ {
		w.entities[i] = nil
	}
	w.entities = kept
	w.index = make(map[string]int, len(kept))
	for i, e := range kept {
		w.index[e.ID] = i
	}

	// Pass 3: resolve weak target references against the surviving set.
	for _, e := range w.entities {
		ref := refs[e]
		e.Target = nil
		e.TargetUnit = ref
		if ref.Set && ref.ID != "" {
			if t, ok := w.Entity(ref.ID); ok && t.Alive() {
				e.Target = t
			}
		}
		if e.Target == nil {
			e.TargetUnit = game.Ref{Set: true}
			if e.CommandState == game.Attacking {
				e.CommandState = game.Idle
			}
		}
	}

	w.mergePlayers(s.Players)
	w.GameTime = s.GameTime
	if smooth {
		w.lastSmooth = s.GameTime
	}

	w.merges++
	res.First = w.merges == 1
	w.maybeInit()
	if w.OnPlayers != nil {
		w.OnPlayers(w.Players)
	}
	return res
}

// SetSelf gives the mirror its player identity. If a snapshot already
// arrived, OnInit runs now.
func (w *World) SetSelf(playerID int) {
	w.Self = playerID
	w.maybeInit()
}

func (w *World) maybeInit() {
	if w.inited || w.Self == 0 || w.merges == 0 {
		return
	}
	w.inited = true
	if w.OnInit != nil {
		w.OnInit(w)
	}
}

func (w *World) updatePosition(e *Entity, in *game.Object, smooth bool) {
	e.Owner = in.Owner
	switch {
	case e.Type.IsBuilding():
		e.X, e.Y = in.X, in.Y
		e.CommandState = commandOr(in.CommandState, e.CommandState)
	case e.Owner == w.Self:
		// Local prediction owns the position and any freshly issued order.
		if in.CommandState != game.Moving && in.CommandState != game.AttackMoving && in.CommandState != "" {
			e.CommandState = in.CommandState
		}
	default:
		e.CommandState = commandOr(in.CommandState, e.CommandState)
		target := in.Pos()
		if game.Distance(e.Pos(), target) > snapDistance {
			if smooth {
				e.X += (target.X - e.X) * smoothing
				e.Y += (target.Y - e.Y) * smoothing
			}
			return
		}
		e.X, e.Y = target.X, target.Y
	}
}

func (w *World) copyFields(e *Entity, in *game.Object) {
	if in.Health != nil {
		e.Health = game.Ptr(*in.Health)
	}
	if in.MaxHealth != nil {
		e.MaxHealth = game.Ptr(*in.MaxHealth)
	}
	if in.TargetX != nil {
		e.TargetX = game.Ptr(*in.TargetX)
	}
	if in.TargetY != nil {
		e.TargetY = game.Ptr(*in.TargetY)
	}
	if in.AMoveTargetX != nil {
		e.AMoveTargetX = game.Ptr(*in.AMoveTargetX)
	}
	if in.AMoveTargetY != nil {
		e.AMoveTargetY = game.Ptr(*in.AMoveTargetY)
	}
	if in.Speed != nil {
		e.Speed = game.Ptr(*in.Speed)
	}
	if in.MovementSpeed != nil {
		e.MovementSpeed = game.Ptr(*in.MovementSpeed)
	}
	if in.Size != nil {
		e.Size = game.Ptr(*in.Size)
	}
	if in.SupplyCost != nil {
		e.SupplyCost = game.Ptr(*in.SupplyCost)
	}
	if in.RallyPoint != nil {
		e.RallyPoint = game.Ptr(*in.RallyPoint)
	}
	if e.Type == game.Bunker && e.RallyPoint == nil {
		e.RallyPoint = game.Ptr(game.MapCenter())
	}
	if in.GridX != nil {
		e.GridX = game.Ptr(*in.GridX)
	}
	if in.GridY != nil {
		e.GridY = game.Ptr(*in.GridY)
	}
	if in.GridWidth != nil {
		e.GridWidth = game.Ptr(*in.GridWidth)
	}
	if in.GridHeight != nil {
		e.GridHeight = game.Ptr(*in.GridHeight)
	}
	if in.IsUnderConstruction != nil {
		e.IsUnderConstruction = game.Ptr(*in.IsUnderConstruction)
	}
	if in.ConstructionProgress != nil {
		e.ConstructionProgress = game.Ptr(*in.ConstructionProgress)
	}
}

func (w *World) mergePlayers(in map[int]*game.Player) {
	for id, p := range in {
		if p == nil {
			continue
		}
		cur, ok := w.Players[id]
		if !ok {
			w.Players[id] = p.Clone()
			continue
		}
		cur.Team = p.Team
		cur.Resources = p.Resources
		cur.CurrentSupply = p.CurrentSupply
		cur.SupplyCap = p.SupplyCap
		cur.KillResourceScore = p.KillResourceScore
		cur.Color = p.Color
		cur.Upgrades = make(map[string]int, len(p.Upgrades))
		for k, v := range p.Upgrades {
			cur.Upgrades[k] = v
		}
	}
}

func commandOr(in, cur game.CommandState) game.CommandState {
	if in == "" {
		return cur
	}
	return in
}

// Predict advances own units by the number of whole 60 Hz frames in dt,
// carrying the remainder to the next call. It returns the frames stepped.
func (w *World) Predict(dt time.Duration) int {
	w.carry += dt
	n := int(w.carry / frame)
	w.carry -= time.Duration(n) * frame
	for i := 0; i < n; i++ {
		for _, e := range w.entities {
			if e.Owner != w.Self || !e.Type.IsUnit() {
				continue
			}
			speed := e.EffectiveSpeed()
			switch e.CommandState {
			case game.Moving:
				if e.TargetX == nil || e.TargetY == nil {
					continue
				}
				next, arrived := game.Step(e.Pos(), game.Point{X: *e.TargetX, Y: *e.TargetY}, speed)
				e.SetPos(next)
				if arrived {
					e.CommandState = game.Idle
				}
			case game.AttackMoving:
				if e.AMoveTargetX == nil || e.AMoveTargetY == nil {
					continue
				}
				next, _ := game.Step(e.Pos(), game.Point{X: *e.AMoveTargetX, Y: *e.AMoveTargetY}, speed)
				e.SetPos(next)
			}
		}
	}
	return n
}

// Issue applies a local command to own units ahead of the server, the same
// way the server will, and returns the unit ids it touched.
func (w *World) Issue(a protocol.Action) []string {
	var ids []string
	for _, id := range a.UnitIDs {
		e, ok := w.Entity(id)
		if !ok || e.Owner != w.Self || !e.Type.IsUnit() {
			continue
		}
		switch a.Type {
		case protocol.ActMoveUnits:
			e.TargetX, e.TargetY = game.Ptr(a.X), game.Ptr(a.Y)
			e.CommandState = game.Moving
		case protocol.ActAttackMove:
			e.AMoveTargetX, e.AMoveTargetY = game.Ptr(a.X), game.Ptr(a.Y)
			e.CommandState = game.AttackMoving
		case protocol.ActAttackUnit:
			t, ok := w.Entity(a.TargetID)
			if !ok {
				continue
			}
			e.Target = t
			e.TargetUnit = game.RefTo(t.ID)
			e.CommandState = game.Attacking
		default:
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
