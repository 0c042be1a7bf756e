package game

const (
	DefaultMovementSpeed = 1.125
	DefaultUnitSize      = 30.0

	BunkerHealth = 500.0
	WorkerHealth = 100.0

	DefaultUpgradeBasePrice = 25
)

var buildingCosts = map[ObjectType]int{
	Bunker:      500,
	SupplyDepot: 150,
	ShieldTower: 60,
	SensorTower: 50,
}

var maxHealth = map[ObjectType]float64{
	Bunker:      BunkerHealth,
	Worker:      WorkerHealth,
	Marine:      55,
	Reaper:      60,
	Marauder:    125,
	Ghost:       100,
	SupplyDepot: 400,
	ShieldTower: 300,
	SensorTower: 200,
}

var unitSizes = map[ObjectType]float64{
	Marine:   27,
	Reaper:   28,
	Marauder: 32,
	Ghost:    25,
	Worker:   30,
}

// BuildingCost reports the resource cost of a building type.
func BuildingCost(t ObjectType) (int, bool) {
	c, ok := buildingCosts[t]
	return c, ok
}

// DefaultHealth is the full health a new object of type t starts with.
func DefaultHealth(t ObjectType) float64 { return maxHealth[t] }

func DefaultSize(t ObjectType) float64 {
	if s, ok := unitSizes[t]; ok {
		return s
	}
	return DefaultUnitSize
}

// UpgradePrice is the cost of moving an upgrade from level to level+1.
func UpgradePrice(basePrice, level int) int {
	return basePrice * (level + 1)
}

var teamColors = map[int][2]string{
	1: {"hsl(0, 75%, 65%)", "hsl(0, 75%, 40%)"},
	2: {"hsl(210, 75%, 65%)", "hsl(210, 75%, 40%)"},
	3: {"hsl(120, 75%, 60%)", "hsl(120, 75%, 35%)"},
	4: {"hsl(30, 70%, 60%)", "hsl(30, 70%, 35%)"},
}

// TeamColor picks the team's shade by player id parity. Unknown teams use team 1.
func TeamColor(team, playerID int) string {
	c, ok := teamColors[team]
	if !ok {
		c = teamColors[1]
	}
	i := playerID % 2
	if i < 0 {
		i = -i
	}
	return c[i]
}
