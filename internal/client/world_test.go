package client

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmersfright.gg/internal/game"
	"farmersfright.gg/internal/protocol"
)

func snap(t *testing.T, gameTime int64, objs ...string) Snapshot {
	t.Helper()
	s := Snapshot{GameTime: gameTime, Players: map[int]*game.Player{}}
	for _, o := range objs {
		require.True(t, json.Valid([]byte(o)), o)
		s.Objects = append(s.Objects, json.RawMessage(o))
	}
	return s
}

func TestMerge_CreatesWithFactoryDefaults(t *testing.T) {
	w := NewWorld(1)
	var inits int
	w.OnInit = func(*World) { inits++ }

	res := w.Merge(snap(t, 10,
		`{"id":"bunker_1_1","type":"bunker","playerId":1,"x":865.5,"y":265.5,"health":500,"maxHealth":500}`,
		`{"id":"worker_1_1","type":"worker","playerId":1,"x":978.5,"y":265.5,"health":100,"maxHealth":100}`,
		`{"id":"x","type":"dragon","playerId":1,"x":0,"y":0}`,
	))
	assert.Equal(t, MergeResult{Created: 2, Rejected: 1, First: true}, res)
	assert.Equal(t, 1, inits)

	b, ok := w.Entity("bunker_1_1")
	require.True(t, ok)
	require.NotNil(t, b.RallyPoint)
	assert.Equal(t, game.MapCenter(), *b.RallyPoint)

	wk, ok := w.Entity("worker_1_1")
	require.True(t, ok)
	assert.Equal(t, game.Idle, wk.CommandState)
	assert.Equal(t, game.DefaultMovementSpeed, wk.EffectiveSpeed())

	w.Merge(snap(t, 20, `{"id":"bunker_1_1","type":"bunker","playerId":1,"x":865.5,"y":265.5,"health":500,"maxHealth":500}`))
	assert.Equal(t, 1, inits)
	assert.Equal(t, 2, w.Merges())
}

func TestMerge_InitWaitsForIdentity(t *testing.T) {
	w := NewWorld(0)
	var seen []int
	w.OnInit = func(w *World) { seen = append(seen, w.Self) }

	res := w.Merge(snap(t, 1, `{"id":"bunker_2_1","type":"bunker","playerId":2,"x":100,"y":100}`))
	assert.True(t, res.First)
	assert.Empty(t, seen, "no identity yet")

	w.SetSelf(2)
	assert.Equal(t, []int{2}, seen)

	w.Merge(snap(t, 2, `{"id":"bunker_2_1","type":"bunker","playerId":2,"x":100,"y":100}`))
	w.SetSelf(2)
	assert.Equal(t, []int{2}, seen, "runs once")

	// Identity first, snapshot second.
	w2 := NewWorld(0)
	var n int
	w2.OnInit = func(*World) { n++ }
	w2.SetSelf(5)
	assert.Equal(t, 0, n)
	w2.Merge(snap(t, 1))
	assert.Equal(t, 1, n)
}

func TestMerge_RallyPoint(t *testing.T) {
	w := NewWorld(1)
	w.Merge(snap(t, 1,
		`{"id":"b","type":"bunker","playerId":1,"x":100,"y":100,"rallyPoint":{"x":5000,"y":-20}}`,
		`{"id":"c","type":"bunker","playerId":2,"x":200,"y":100}`,
	))
	b, _ := w.Entity("b")
	require.NotNil(t, b.RallyPoint)
	assert.Equal(t, game.Point{X: 5000, Y: -20}, *b.RallyPoint, "off-map pairs are kept as sent")

	c, _ := w.Entity("c")
	require.NotNil(t, c.RallyPoint)
	assert.Equal(t, game.MapCenter(), *c.RallyPoint)

	// A malformed pair falls back to map center without rejecting the object.
	res := w.Merge(snap(t, 2,
		`{"id":"b","type":"bunker","playerId":1,"x":100,"y":100,"rallyPoint":{"x":"east","y":1}}`,
		`{"id":"c","type":"bunker","playerId":2,"x":200,"y":100,"rallyPoint":{"x":10,"y":20}}`,
	))
	assert.Equal(t, 0, res.Rejected)
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, game.MapCenter(), *b.RallyPoint)
	assert.Equal(t, game.Point{X: 10, Y: 20}, *c.RallyPoint)

	w.Merge(snap(t, 3, `{"id":"b","type":"bunker","playerId":1,"x":100,"y":100,"rallyPoint":{"x":7}}`))
	assert.Equal(t, game.MapCenter(), *b.RallyPoint, "x without y is not a pair")
}

func TestMerge_AttackOnBuildingWithoutHealth(t *testing.T) {
	w := NewWorld(1)
	objs := []string{
		`{"id":"u","type":"marine","playerId":1,"x":0,"y":0,"health":45,"commandState":"attacking","targetUnit":"depot"}`,
		`{"id":"depot","type":"supplyDepot","playerId":2,"x":50,"y":0}`,
	}
	w.Merge(snap(t, 1, objs...))
	w.Merge(snap(t, 2, objs...))

	d, _ := w.Entity("depot")
	require.NotNil(t, d.Health)
	assert.Equal(t, game.DefaultHealth(game.SupplyDepot), *d.Health, "missing health keeps the factory value")

	u, _ := w.Entity("u")
	require.NotNil(t, u.Target)
	assert.Equal(t, "depot", u.Target.ID)
	assert.Equal(t, game.Attacking, u.CommandState)

	// Health that is sent is copied, even when it drops to zero.
	w.Merge(snap(t, 3,
		objs[0],
		`{"id":"depot","type":"supplyDepot","playerId":2,"x":50,"y":0,"health":0}`,
	))
	assert.Equal(t, 0.0, *d.Health)
	assert.Nil(t, u.Target)
	assert.Equal(t, game.Idle, u.CommandState)
}

func TestMerge_DeletesMissing(t *testing.T) {
	w := NewWorld(1)
	w.Merge(snap(t, 1,
		`{"id":"a","type":"marine","playerId":2,"x":10,"y":10,"health":45}`,
		`{"id":"b","type":"marine","playerId":2,"x":20,"y":20,"health":45}`,
	))
	res := w.Merge(snap(t, 2, `{"id":"b","type":"marine","playerId":2,"x":20,"y":20,"health":45}`))
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, w.Len())
	_, ok := w.Entity("a")
	assert.False(t, ok)
	e, ok := w.Entity("b")
	require.True(t, ok)
	assert.Equal(t, "b", e.ID)
}

func TestMerge_BuildingsSnap(t *testing.T) {
	w := NewWorld(1)
	w.Merge(snap(t, 1, `{"id":"d","type":"supplyDepot","playerId":1,"x":100,"y":100,"health":400}`))
	w.Merge(snap(t, 2, `{"id":"d","type":"supplyDepot","playerId":1,"x":300,"y":100,"health":390,"isUnderConstruction":true,"constructionProgress":0.5}`))
	d, _ := w.Entity("d")
	assert.Equal(t, 300.0, d.X)
	require.NotNil(t, d.Health)
	assert.Equal(t, 390.0, *d.Health)
	require.NotNil(t, d.ConstructionProgress)
	assert.Equal(t, 0.5, *d.ConstructionProgress)
}

func TestMerge_OwnUnitsKeepPredictedPosition(t *testing.T) {
	w := NewWorld(1)
	w.Merge(snap(t, 1, `{"id":"u","type":"marine","playerId":1,"x":100,"y":100,"health":45,"commandState":"idle"}`))

	ids := w.Issue(protocol.Action{Type: protocol.ActMoveUnits, UnitIDs: []string{"u"}, X: 200, Y: 100})
	assert.Equal(t, []string{"u"}, ids)
	w.Predict(10 * frame)
	u, _ := w.Entity("u")
	assert.InDelta(t, 100+10*game.DefaultMovementSpeed, u.X, 1e-9)

	// A lagging snapshot still at the old position and idle does not
	// interrupt the fresh order.
	w.Merge(snap(t, 2, `{"id":"u","type":"marine","playerId":1,"x":100,"y":100,"health":45,"commandState":"moving","targetX":200,"targetY":100}`))
	assert.InDelta(t, 100+10*game.DefaultMovementSpeed, u.X, 1e-9)
	assert.Equal(t, game.Moving, u.CommandState)

	w.Merge(snap(t, 3, `{"id":"u","type":"marine","playerId":1,"x":100,"y":100,"health":45,"commandState":"idle"}`))
	assert.Equal(t, game.Idle, u.CommandState)
	assert.InDelta(t, 100+10*game.DefaultMovementSpeed, u.X, 1e-9)
}

func TestMerge_RemoteUnitsSmoothOncePerSnapshot(t *testing.T) {
	w := NewWorld(1)
	w.Merge(snap(t, 1, `{"id":"r","type":"ghost","playerId":2,"x":0,"y":0,"health":60}`))

	far := snap(t, 2, `{"id":"r","type":"ghost","playerId":2,"x":100,"y":0,"health":60}`)
	w.Merge(far)
	r, _ := w.Entity("r")
	assert.InDelta(t, 15, r.X, 1e-9)

	// Same gameTime again: no further smoothing.
	w.Merge(far)
	assert.InDelta(t, 15, r.X, 1e-9)

	w.Merge(snap(t, 3, `{"id":"r","type":"ghost","playerId":2,"x":100,"y":0,"health":60}`))
	assert.InDelta(t, 15+85*0.15, r.X, 1e-9)

	// Within the snap distance.
	w.Merge(snap(t, 4, `{"id":"r","type":"ghost","playerId":2,"x":30,"y":1,"health":60}`))
	w.Merge(snap(t, 5, `{"id":"r","type":"ghost","playerId":2,"x":31,"y":1,"health":60}`))
	assert.Equal(t, game.Point{X: 31, Y: 1}, r.Pos())
}

func TestMerge_TargetResolution(t *testing.T) {
	w := NewWorld(1)
	w.Merge(snap(t, 1,
		`{"id":"u","type":"marine","playerId":1,"x":0,"y":0,"health":45,"commandState":"attacking","targetUnit":"e"}`,
		`{"id":"e","type":"marine","playerId":2,"x":10,"y":0,"health":45}`,
	))
	u, _ := w.Entity("u")
	require.NotNil(t, u.Target)
	assert.Equal(t, "e", u.Target.ID)
	assert.Equal(t, game.Attacking, u.CommandState)

	// Target removed in the same snapshot: reference clears and the unit idles.
	w.Merge(snap(t, 2, `{"id":"u","type":"marine","playerId":1,"x":0,"y":0,"health":45,"commandState":"attacking","targetUnit":"e"}`))
	assert.Nil(t, u.Target)
	assert.Equal(t, game.Idle, u.CommandState)

	// Dead targets do not resolve.
	w.Merge(snap(t, 3,
		`{"id":"u","type":"marine","playerId":1,"x":0,"y":0,"health":45,"commandState":"attacking","targetUnit":"z"}`,
		`{"id":"z","type":"marine","playerId":2,"x":10,"y":0,"health":0}`,
	))
	assert.Nil(t, u.Target)
	assert.Equal(t, game.Idle, u.CommandState)

	// Explicit null.
	w.Merge(snap(t, 4,
		`{"id":"u","type":"marine","playerId":1,"x":0,"y":0,"health":45,"targetUnit":null}`,
		`{"id":"z","type":"marine","playerId":2,"x":10,"y":0,"health":10}`,
	))
	assert.Nil(t, u.Target)
}

func TestMerge_IdempotentOnRepeat(t *testing.T) {
	w := NewWorld(1)
	s := snap(t, 7,
		`{"id":"r","type":"reaper","playerId":2,"x":500,"y":500,"health":60,"commandState":"moving","targetX":900,"targetY":500}`,
		`{"id":"u","type":"marine","playerId":1,"x":0,"y":0,"health":45}`,
	)
	w.Merge(snap(t, 6, `{"id":"r","type":"reaper","playerId":2,"x":0,"y":0,"health":60}`))
	w.Merge(s)
	r, _ := w.Entity("r")
	before := r.Object
	w.Merge(s)
	assert.Equal(t, before.X, r.X)
	assert.Equal(t, before.CommandState, r.CommandState)
	assert.Equal(t, *before.TargetX, *r.TargetX)
	assert.Equal(t, 2, w.Len())
}

func TestMerge_Players(t *testing.T) {
	w := NewWorld(2)
	var seen map[int]*game.Player
	w.OnPlayers = func(p map[int]*game.Player) { seen = p }

	s := Snapshot{GameTime: 1, Players: map[int]*game.Player{
		2: {Team: 3, Resources: 50, SupplyCap: 45, Color: game.TeamColor(3, 2), Upgrades: map[string]int{}},
	}}
	w.Merge(s)
	p := w.Players[2]
	require.NotNil(t, p)

	s.Players = map[int]*game.Player{
		2: {Team: 3, Resources: 75, CurrentSupply: 2, SupplyCap: 45, KillResourceScore: 9, Color: "c", Upgrades: map[string]int{"armor": 1}},
		5: {Team: 1},
	}
	s.GameTime = 2
	w.Merge(s)
	assert.Same(t, p, w.Players[2])
	assert.Equal(t, 75, p.Resources)
	assert.Equal(t, 9, p.KillResourceScore)
	assert.Equal(t, map[string]int{"armor": 1}, p.Upgrades)
	assert.Contains(t, w.Players, 5)
	assert.Len(t, seen, 2)
}

func TestPredict(t *testing.T) {
	w := NewWorld(1)
	w.Merge(snap(t, 1,
		`{"id":"m","type":"marine","playerId":1,"x":0,"y":0,"health":45}`,
		`{"id":"a","type":"marine","playerId":1,"x":0,"y":100,"health":45}`,
		`{"id":"o","type":"marine","playerId":2,"x":0,"y":200,"health":45,"commandState":"moving","targetX":100,"targetY":200}`,
	))
	w.Issue(protocol.Action{Type: protocol.ActMoveUnits, UnitIDs: []string{"m", "o"}, X: 2, Y: 0})
	w.Issue(protocol.Action{Type: protocol.ActAttackMove, UnitIDs: []string{"a"}, X: 1, Y: 100})

	assert.Equal(t, 0, w.Predict(frame/2))
	assert.Equal(t, 1, w.Predict(frame/2))
	assert.Equal(t, 1, w.Predict(frame))

	m, _ := w.Entity("m")
	assert.Equal(t, game.Point{X: 2, Y: 0}, m.Pos())
	assert.Equal(t, game.Idle, m.CommandState)

	a, _ := w.Entity("a")
	assert.Equal(t, game.Point{X: 1, Y: 100}, a.Pos())
	assert.Equal(t, game.AttackMoving, a.CommandState)

	o, _ := w.Entity("o")
	assert.Equal(t, 0.0, o.X, "remote units are not predicted")

	assert.Equal(t, 3, w.Predict(50*time.Millisecond))
}
