package game

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseObjectType(t *testing.T) {
	for _, tt := range AllObjectTypes {
		got, err := ParseObjectType(string(tt))
		if err != nil || got != tt {
			t.Fatalf("ParseObjectType(%q)=%q,%v", tt, got, err)
		}
		if tt.IsUnit() == tt.IsBuilding() {
			t.Fatalf("%s: unit=%v building=%v", tt, tt.IsUnit(), tt.IsBuilding())
		}
	}
	if _, err := ParseObjectType("dragon"); !errors.Is(err, ErrUnknownObjectType) {
		t.Fatalf("expected ErrUnknownObjectType, got %v", err)
	}
}

func TestObject_UnmarshalRejectsUnknownType(t *testing.T) {
	var o Object
	err := json.Unmarshal([]byte(`{"id":"x","type":"dragon","playerId":1,"x":0,"y":0}`), &o)
	if !errors.Is(err, ErrUnknownObjectType) {
		t.Fatalf("expected ErrUnknownObjectType, got %v", err)
	}
}

func TestRef_NullVsMissing(t *testing.T) {
	var withNull, without, withID Object
	_ = json.Unmarshal([]byte(`{"id":"a","type":"marine","targetUnit":null}`), &withNull)
	_ = json.Unmarshal([]byte(`{"id":"a","type":"marine"}`), &without)
	_ = json.Unmarshal([]byte(`{"id":"a","type":"marine","targetUnit":"b"}`), &withID)

	if !withNull.TargetUnit.Set || withNull.TargetUnit.ID != "" {
		t.Fatalf("null ref: %+v", withNull.TargetUnit)
	}
	if without.TargetUnit.Set {
		t.Fatalf("missing ref should be unset: %+v", without.TargetUnit)
	}
	if !withID.TargetUnit.Set || withID.TargetUnit.ID != "b" {
		t.Fatalf("id ref: %+v", withID.TargetUnit)
	}

	b, _ := json.Marshal(without)
	if strings.Contains(string(b), "targetUnit") {
		t.Fatalf("unset ref should be omitted: %s", b)
	}
	b, _ = json.Marshal(withID)
	if !strings.Contains(string(b), `"targetUnit":"b"`) {
		t.Fatalf("ref not encoded: %s", b)
	}
}

func TestNewObject_Defaults(t *testing.T) {
	b, err := NewObject(Bunker, "b1", 1, 10, 20)
	if err != nil {
		t.Fatalf("bunker: %v", err)
	}
	if *b.Health != 500 || *b.MaxHealth != 500 {
		t.Fatalf("bunker health=%v/%v", *b.Health, *b.MaxHealth)
	}
	if b.RallyPoint == nil || *b.RallyPoint != MapCenter() {
		t.Fatalf("bunker rally=%v", b.RallyPoint)
	}

	w, err := NewObject(Worker, "w1", 1, 10, 20)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	if *w.Health != 100 || *w.Speed != 1.125 || *w.Size != 30 || w.CommandState != Idle {
		t.Fatalf("worker defaults: %+v", w)
	}
	if *w.TargetX != 10 || *w.TargetY != 20 {
		t.Fatalf("worker target should be own position")
	}

	m, _ := NewObject(Marine, "m1", 2, 0, 0)
	if *m.Size != 27 {
		t.Fatalf("marine size=%v", *m.Size)
	}

	for _, typ := range AllObjectTypes {
		o, err := NewObject(typ, "x", 1, 0, 0)
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if !o.Alive() || *o.Health != *o.MaxHealth {
			t.Fatalf("%s starts without full health: %v/%v", typ, o.Health, o.MaxHealth)
		}
	}

	if _, err := NewObject(ObjectType("dragon"), "d", 1, 0, 0); !errors.Is(err, ErrUnknownObjectType) {
		t.Fatalf("expected ErrUnknownObjectType, got %v", err)
	}
}

func TestObjectID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	if got := ObjectID(Bunker, 3, now); got != "bunker_3_1700000000123" {
		t.Fatalf("ObjectID=%q", got)
	}
}

func TestCatalog(t *testing.T) {
	cases := map[ObjectType]int{Bunker: 500, SupplyDepot: 150, ShieldTower: 60, SensorTower: 50}
	for typ, want := range cases {
		if got, ok := BuildingCost(typ); !ok || got != want {
			t.Fatalf("BuildingCost(%s)=%d,%v", typ, got, ok)
		}
	}
	if _, ok := BuildingCost(Marine); ok {
		t.Fatalf("marine is not a building")
	}
	if DefaultSize(Ghost) != 25 || DefaultSize(ObjectType("x")) != 30 {
		t.Fatalf("default sizes wrong")
	}
	if UpgradePrice(25, 0) != 25 || UpgradePrice(25, 2) != 75 {
		t.Fatalf("upgrade price wrong")
	}
	if TeamColor(1, 2) != "hsl(0, 75%, 65%)" || TeamColor(1, 1) != "hsl(0, 75%, 40%)" {
		t.Fatalf("team 1 shades wrong")
	}
	if TeamColor(9, 1) != TeamColor(1, 1) {
		t.Fatalf("unknown team should fall back to team 1")
	}
}

func TestGeometry(t *testing.T) {
	if InnerTileWidth != 270 || InnerOffsetX != 165 || CellWidth != 67 {
		t.Fatalf("inner=%v offset=%v cell=%v", InnerTileWidth, InnerOffsetX, CellWidth)
	}
	p := CornerPosition(1, 0, TopLeft)
	if p.X != 865.5 || p.Y != 265.5 {
		t.Fatalf("CornerPosition(1,0,TL)=%+v", p)
	}
	q := CornerPosition(7, 6, BottomRight)
	if q.X != 4200+165+2*67+33.5 || q.Y != 3600+165+2*67+33.5 {
		t.Fatalf("CornerPosition(7,6,BR)=%+v", q)
	}
}

func TestStep(t *testing.T) {
	pos := Point{X: 0, Y: 0}
	target := Point{X: 3, Y: 4}

	next, arrived := Step(pos, target, 1)
	if arrived {
		t.Fatalf("should not arrive in one step")
	}
	if d := Distance(next, Point{X: 0.6, Y: 0.8}); d > 1e-9 {
		t.Fatalf("next=%+v", next)
	}

	next, arrived = Step(Point{X: 2.5, Y: 3.5}, target, 1)
	if !arrived || next != target {
		t.Fatalf("expected snap to target, got %+v arrived=%v", next, arrived)
	}
}

func TestObject_EffectiveSpeed(t *testing.T) {
	o := Object{Type: Marine}
	if o.EffectiveSpeed() != DefaultMovementSpeed {
		t.Fatalf("default speed")
	}
	o.MovementSpeed = Ptr(2.0)
	if o.EffectiveSpeed() != 2 {
		t.Fatalf("movementSpeed fallback")
	}
	o.Speed = Ptr(3.0)
	if o.EffectiveSpeed() != 3 {
		t.Fatalf("speed wins")
	}
}
