package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrUnknownObjectType = errors.New("unknown object type")

type ObjectType string

const (
	Bunker      ObjectType = "bunker"
	Worker      ObjectType = "worker"
	Marine      ObjectType = "marine"
	Reaper      ObjectType = "reaper"
	Marauder    ObjectType = "marauder"
	Ghost       ObjectType = "ghost"
	SupplyDepot ObjectType = "supplyDepot"
	ShieldTower ObjectType = "shieldTower"
	SensorTower ObjectType = "sensorTower"
)

// AllObjectTypes lists every known tag in catalog order.
var AllObjectTypes = []ObjectType{
	Bunker, Worker, Marine, Reaper, Marauder, Ghost, SupplyDepot, ShieldTower, SensorTower,
}

func ParseObjectType(s string) (ObjectType, error) {
	switch t := ObjectType(s); t {
	case Bunker, Worker, Marine, Reaper, Marauder, Ghost, SupplyDepot, ShieldTower, SensorTower:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownObjectType, s)
}

func (t ObjectType) IsUnit() bool {
	switch t {
	case Worker, Marine, Reaper, Marauder, Ghost:
		return true
	case Bunker, SupplyDepot, ShieldTower, SensorTower:
		return false
	}
	return false
}

func (t ObjectType) IsBuilding() bool {
	switch t {
	case Bunker, SupplyDepot, ShieldTower, SensorTower:
		return true
	case Worker, Marine, Reaper, Marauder, Ghost:
		return false
	}
	return false
}

func (t *ObjectType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseObjectType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

type CommandState string

const (
	Idle         CommandState = "idle"
	Moving       CommandState = "moving"
	AttackMoving CommandState = "attackMoving"
	Attacking    CommandState = "attacking"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Ref is a nullable object id that remembers whether the field was on the wire,
// so "targetUnit": null can be told apart from an omitted field.
type Ref struct {
	ID  string
	Set bool
}

func RefTo(id string) Ref { return Ref{ID: id, Set: true} }

func (r Ref) IsZero() bool { return !r.Set }

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	r.Set = true
	if string(b) == "null" {
		r.ID = ""
		return nil
	}
	return json.Unmarshal(b, &r.ID)
}

// Object is one world entity. Optional fields are pointers so a decoder can
// tell a field that was sent from one that was left out.
type Object struct {
	ID    string     `json:"id"`
	Type  ObjectType `json:"type"`
	Owner int        `json:"playerId"`
	X     float64    `json:"x"`
	Y     float64    `json:"y"`

	Health    *float64 `json:"health,omitempty"`
	MaxHealth *float64 `json:"maxHealth,omitempty"`

	Speed         *float64     `json:"speed,omitempty"`
	MovementSpeed *float64     `json:"movementSpeed,omitempty"`
	Size          *float64     `json:"size,omitempty"`
	TargetX       *float64     `json:"targetX,omitempty"`
	TargetY       *float64     `json:"targetY,omitempty"`
	AMoveTargetX  *float64     `json:"aMoveTargetX,omitempty"`
	AMoveTargetY  *float64     `json:"aMoveTargetY,omitempty"`
	TargetUnit    Ref          `json:"targetUnit,omitzero"`
	CommandState  CommandState `json:"commandState,omitempty"`
	SupplyCost    *int         `json:"supplyCost,omitempty"`

	RallyPoint           *Point   `json:"rallyPoint,omitempty"`
	GridX                *int     `json:"gridX,omitempty"`
	GridY                *int     `json:"gridY,omitempty"`
	GridWidth            *int     `json:"gridWidth,omitempty"`
	GridHeight           *int     `json:"gridHeight,omitempty"`
	IsUnderConstruction  *bool    `json:"isUnderConstruction,omitempty"`
	ConstructionProgress *float64 `json:"constructionProgress,omitempty"`
}

func (o *Object) Pos() Point { return Point{X: o.X, Y: o.Y} }

func (o *Object) SetPos(p Point) {
	o.X = p.X
	o.Y = p.Y
}

// Alive reports positive health. An object without health is not alive.
func (o *Object) Alive() bool { return o.Health != nil && *o.Health > 0 }

// EffectiveSpeed is speed, else movementSpeed, else the default.
func (o *Object) EffectiveSpeed() float64 {
	if o.Speed != nil && *o.Speed > 0 {
		return *o.Speed
	}
	if o.MovementSpeed != nil && *o.MovementSpeed > 0 {
		return *o.MovementSpeed
	}
	return DefaultMovementSpeed
}

// Clone returns a deep copy; pointer fields are not shared with o.
func (o *Object) Clone() *Object {
	c := *o
	c.Health = clonePtr(o.Health)
	c.MaxHealth = clonePtr(o.MaxHealth)
	c.Speed = clonePtr(o.Speed)
	c.MovementSpeed = clonePtr(o.MovementSpeed)
	c.Size = clonePtr(o.Size)
	c.TargetX = clonePtr(o.TargetX)
	c.TargetY = clonePtr(o.TargetY)
	c.AMoveTargetX = clonePtr(o.AMoveTargetX)
	c.AMoveTargetY = clonePtr(o.AMoveTargetY)
	c.SupplyCost = clonePtr(o.SupplyCost)
	c.RallyPoint = clonePtr(o.RallyPoint)
	c.GridX = clonePtr(o.GridX)
	c.GridY = clonePtr(o.GridY)
	c.GridWidth = clonePtr(o.GridWidth)
	c.GridHeight = clonePtr(o.GridHeight)
	c.IsUnderConstruction = clonePtr(o.IsUnderConstruction)
	c.ConstructionProgress = clonePtr(o.ConstructionProgress)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }

// ObjectID builds the server-side id form "<type>_<owner>_<unixMillis>".
func ObjectID(t ObjectType, owner int, now time.Time) string {
	return fmt.Sprintf("%s_%d_%d", t, owner, now.UnixMilli())
}

// NewObject constructs an object of type t with its catalog defaults applied.
func NewObject(t ObjectType, id string, owner int, x, y float64) (*Object, error) {
	o := &Object{ID: id, Type: t, Owner: owner, X: x, Y: y}
	switch t {
	case Bunker:
		o.RallyPoint = Ptr(MapCenter())
	case SupplyDepot, ShieldTower, SensorTower:
	case Worker, Marine, Reaper, Marauder, Ghost:
		applyUnitDefaults(o)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjectType, string(t))
	}
	hp := DefaultHealth(t)
	o.Health, o.MaxHealth = Ptr(hp), Ptr(hp)
	return o, nil
}

func applyUnitDefaults(o *Object) {
	o.Speed = Ptr(DefaultMovementSpeed)
	o.MovementSpeed = Ptr(DefaultMovementSpeed)
	o.Size = Ptr(DefaultSize(o.Type))
	o.TargetX = Ptr(o.X)
	o.TargetY = Ptr(o.Y)
	o.CommandState = Idle
}

type Player struct {
	Team              int            `json:"team"`
	Resources         int            `json:"resources"`
	CurrentSupply     int            `json:"currentSupply"`
	SupplyCap         int            `json:"supplyCap"`
	KillResourceScore int            `json:"killResourceScore"`
	Color             string         `json:"color"`
	Upgrades          map[string]int `json:"upgrades,omitempty"`

	// LastIncome is the last passive income credit; zero means "since match start".
	LastIncome time.Time `json:"-"`
}

func (p *Player) Clone() *Player {
	c := *p
	if p.Upgrades != nil {
		c.Upgrades = make(map[string]int, len(p.Upgrades))
		for k, v := range p.Upgrades {
			c.Upgrades[k] = v
		}
	}
	return &c
}
